package worker_test

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/morningbrief/api/internal/client"
	"github.com/morningbrief/api/internal/model"
	"github.com/morningbrief/api/internal/service"
	"github.com/morningbrief/api/internal/store"
	"github.com/morningbrief/api/internal/worker"
)

func openStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "jobs.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func createJob(t *testing.T, st *store.Store, userID string, priority int, now time.Time) *model.Job {
	t.Helper()
	return upsertJob(t, st, jobParams(userID, priority, now), now)
}

func upsertJob(t *testing.T, st *store.Store, p store.UpsertParams, now time.Time) *model.Job {
	t.Helper()
	res, err := st.UpsertJob(context.Background(), p, now)
	if err != nil {
		t.Fatalf("UpsertJob: %v", err)
	}
	return res.Job
}

func jobParams(userID string, priority int, now time.Time) store.UpsertParams {
	playback := now.Add(2 * time.Hour)
	return store.UpsertParams{
		UserID:             userID,
		LocalDate:          playback.Format("2006-01-02"),
		PlaybackAt:         playback,
		EarliestProcessAt:  now,
		LatestCompletionAt: playback.Add(30 * time.Minute),
		Priority:           priority,
		Preferences: model.Preferences{
			Timezone:              "UTC",
			Locale:                "en-US",
			Region:                "us",
			Voice:                 "alloy",
			TargetDurationSeconds: 60,
			Categories:            model.Categories{News: true, Quotes: true},
		},
	}
}

type recorder struct {
	mu       sync.Mutex
	complete []string
	errors   []string
}

func (r *recorder) BroadcastStatus(*model.Job)             {}
func (r *recorder) BroadcastSegment(string, int, int, int) {}

func (r *recorder) BroadcastComplete(job *model.Job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.complete = append(r.complete, job.ID)
}

func (r *recorder) BroadcastError(job *model.Job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errors = append(r.errors, job.ID)
}

type scriptFunc func(ctx context.Context, job *model.Job) (*service.ScriptResult, error)

func (f scriptFunc) Generate(ctx context.Context, job *model.Job) (*service.ScriptResult, error) {
	return f(ctx, job)
}

type downSpeech struct {
	name string
}

func (d downSpeech) Name() string { return d.name }

func (d downSpeech) Synthesize(ctx context.Context, text, voice string) (*client.Audio, error) {
	return nil, errors.New(d.name + " unavailable")
}

type harness struct {
	st        *store.Store
	storage   *client.MemoryStorage
	notify    *recorder
	scheduler *worker.Scheduler
	clock     time.Time
}

func newHarness(t *testing.T, scripts worker.ScriptGenerator, cfg worker.Config) *harness {
	t.Helper()
	return newHarnessWithSpeech(t, scripts, cfg, client.NewMockSpeechProvider("mock"))
}

func newHarnessWithSpeech(t *testing.T, scripts worker.ScriptGenerator, cfg worker.Config, providers ...service.SpeechProvider) *harness {
	t.Helper()
	h := &harness{
		st:      openStore(t),
		storage: client.NewMemoryStorage(""),
		notify:  &recorder{},
		clock:   time.Date(2026, 3, 2, 5, 0, 0, 0, time.UTC),
	}
	if scripts == nil {
		scripts = service.NewScriptService(nil, nil, service.ScriptConfig{}, nil)
	}
	synth := service.NewSynthesizer(providers, time.Second, nil)
	artifacts := service.NewArtifactStore(h.storage)
	single := service.NewSingleStrategy(synth, artifacts)
	segmented := service.NewSegmentedStrategy(single, synth, artifacts, h.st, service.SegmentConfig{}, nil)

	if cfg.LeaseDuration == 0 {
		cfg.LeaseDuration = 15 * time.Minute
	}
	if cfg.BackoffBase == 0 {
		cfg.BackoffBase = 30 * time.Second
		cfg.BackoffMax = 10 * time.Minute
	}
	h.scheduler = worker.NewScheduler(h.st, scripts, single, segmented, h.notify, cfg, nil).
		WithClock(func() time.Time { return h.clock })
	return h
}

func (h *harness) tick(t *testing.T) *model.TickResponse {
	t.Helper()
	resp, err := h.scheduler.Tick(context.Background())
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	return resp
}

func TestTickRunsJobToReady(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil, worker.Config{})
	job := createJob(t, h.st, "user-1", model.PriorityRegular, h.clock)

	first := h.tick(t)
	if first.ScriptLeased != 1 || first.AudioLeased != 0 || first.Completed != 1 {
		t.Fatalf("first tick = %+v", first)
	}
	got, _ := h.st.GetJob(ctx, job.ID)
	if got.Status != model.JobStatusScriptReady || len(got.Script) < 800 {
		t.Fatalf("after script stage: status=%s script=%d chars", got.Status, len(got.Script))
	}

	h.clock = h.clock.Add(time.Minute)
	second := h.tick(t)
	if second.AudioLeased != 1 || second.Completed != 1 {
		t.Fatalf("second tick = %+v", second)
	}
	got, _ = h.st.GetJob(ctx, job.ID)
	if got.Status != model.JobStatusReady || got.AudioProvider != "mock" {
		t.Fatalf("after audio stage: %+v", got)
	}
	if _, ok := h.storage.Get(got.AudioKey); !ok {
		t.Fatalf("artifact %q not stored", got.AudioKey)
	}
	if len(h.notify.complete) != 1 || h.notify.complete[0] != job.ID {
		t.Fatalf("complete events = %v", h.notify.complete)
	}
}

func TestTickHonoursPriorityWithLimitedCapacity(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil, worker.Config{BatchSize: 1, Workers: 1})
	regular := createJob(t, h.st, "user-regular", model.PriorityRegular, h.clock)
	h.clock = h.clock.Add(time.Second)
	welcome := createJob(t, h.st, "user-welcome", model.PriorityImmediate, h.clock)

	resp := h.tick(t)
	if resp.ScriptLeased != 1 {
		t.Fatalf("tick = %+v", resp)
	}
	w, _ := h.st.GetJob(ctx, welcome.ID)
	r, _ := h.st.GetJob(ctx, regular.ID)
	if w.Status != model.JobStatusScriptReady || r.Status != model.JobStatusQueued {
		t.Fatalf("welcome=%s regular=%s", w.Status, r.Status)
	}
}

func TestFailedScriptRetriesWithBackoffThenFails(t *testing.T) {
	ctx := context.Background()
	failing := scriptFunc(func(ctx context.Context, job *model.Job) (*service.ScriptResult, error) {
		return &service.ScriptResult{BilledChars: 100}, errors.New("llm unavailable")
	})
	h := newHarness(t, failing, worker.Config{MaxAttempts: 3})
	job := createJob(t, h.st, "user-1", model.PriorityRegular, h.clock)
	start := h.clock

	resp := h.tick(t)
	if resp.Retried != 1 {
		t.Fatalf("tick 1 = %+v", resp)
	}
	got, _ := h.st.GetJob(ctx, job.ID)
	if got.Status != model.JobStatusQueued || !got.NextAttemptAt.Equal(start.Add(30*time.Second)) {
		t.Fatalf("after tick 1: status=%s next=%v", got.Status, got.NextAttemptAt)
	}
	if got.ScriptBilledChars != 100 || got.FailureReason == "" {
		t.Fatalf("failed attempt not recorded: %+v", got)
	}

	// Inside the backoff window nothing is leased.
	h.clock = start.Add(10 * time.Second)
	if resp := h.tick(t); resp.ScriptLeased != 0 {
		t.Fatalf("leased during backoff: %+v", resp)
	}

	h.clock = start.Add(30 * time.Second)
	if resp := h.tick(t); resp.Retried != 1 {
		t.Fatalf("tick 2 = %+v", resp)
	}
	got, _ = h.st.GetJob(ctx, job.ID)
	if !got.NextAttemptAt.Equal(h.clock.Add(time.Minute)) {
		t.Fatalf("second backoff: next=%v", got.NextAttemptAt)
	}

	h.clock = h.clock.Add(time.Minute)
	if resp := h.tick(t); resp.Failed != 1 {
		t.Fatalf("tick 3 = %+v", resp)
	}
	got, _ = h.st.GetJob(ctx, job.ID)
	if got.Status != model.JobStatusFailed || got.FailureStage != model.StageScript || got.ScriptAttempts != 3 {
		t.Fatalf("final job: status=%s stage=%s attempts=%d", got.Status, got.FailureStage, got.ScriptAttempts)
	}
	if len(h.notify.errors) != 1 {
		t.Fatalf("error events = %v", h.notify.errors)
	}
}

func TestFailedAudioRetriesWithBackoffThenFails(t *testing.T) {
	ctx := context.Background()
	h := newHarnessWithSpeech(t, nil, worker.Config{MaxAttempts: 3}, downSpeech{"primary"}, downSpeech{"secondary"})
	job := createJob(t, h.st, "user-1", model.PriorityRegular, h.clock)

	if resp := h.tick(t); resp.ScriptLeased != 1 || resp.Completed != 1 {
		t.Fatalf("script tick = %+v", resp)
	}

	h.clock = h.clock.Add(time.Minute)
	start := h.clock
	if resp := h.tick(t); resp.AudioLeased != 1 || resp.Retried != 1 {
		t.Fatalf("audio tick 1 = %+v", resp)
	}
	got, _ := h.st.GetJob(ctx, job.ID)
	if got.Status != model.JobStatusScriptReady || !got.NextAttemptAt.Equal(start.Add(30*time.Second)) {
		t.Fatalf("after audio tick 1: status=%s next=%v", got.Status, got.NextAttemptAt)
	}
	if got.Script == "" || got.FailureStage != model.StageAudio || got.FailureReason == "" {
		t.Fatalf("failed audio attempt not recorded: %+v", got)
	}

	h.clock = start.Add(10 * time.Second)
	if resp := h.tick(t); resp.AudioLeased != 0 {
		t.Fatalf("leased during backoff: %+v", resp)
	}

	h.clock = start.Add(30 * time.Second)
	if resp := h.tick(t); resp.Retried != 1 {
		t.Fatalf("audio tick 2 = %+v", resp)
	}
	got, _ = h.st.GetJob(ctx, job.ID)
	if !got.NextAttemptAt.Equal(h.clock.Add(time.Minute)) {
		t.Fatalf("second backoff: next=%v", got.NextAttemptAt)
	}

	h.clock = h.clock.Add(time.Minute)
	if resp := h.tick(t); resp.Failed != 1 {
		t.Fatalf("audio tick 3 = %+v", resp)
	}
	got, _ = h.st.GetJob(ctx, job.ID)
	if got.Status != model.JobStatusFailed || got.FailureStage != model.StageAudio || got.AudioAttempts != 3 {
		t.Fatalf("final job: status=%s stage=%s attempts=%d", got.Status, got.FailureStage, got.AudioAttempts)
	}
	if got.ScriptAttempts != 1 || got.AudioKey != "" {
		t.Fatalf("script redone or audio stored: %+v", got)
	}
	if len(h.notify.errors) != 1 || h.notify.errors[0] != job.ID || len(h.notify.complete) != 0 {
		t.Fatalf("events: errors=%v complete=%v", h.notify.errors, h.notify.complete)
	}
	if keys, _ := h.storage.List(ctx, ""); len(keys) != 0 {
		t.Fatalf("stored objects for a failed job: %v", keys)
	}
}

func TestSegmentedJobFailsWhenFallbackFails(t *testing.T) {
	ctx := context.Background()
	h := newHarnessWithSpeech(t, nil, worker.Config{MaxAttempts: 2}, downSpeech{"primary"})
	p := jobParams("user-1", model.PriorityRegular, h.clock)
	p.Segmented = true
	p.SegmentCount = 2
	job := upsertJob(t, h.st, p, h.clock)

	h.tick(t)
	h.clock = h.clock.Add(time.Minute)
	if resp := h.tick(t); resp.AudioLeased != 1 || resp.Retried != 1 {
		t.Fatalf("audio tick 1 = %+v", resp)
	}
	got, _ := h.st.GetJob(ctx, job.ID)
	if got.Status != model.JobStatusScriptReady || !strings.Contains(got.FailureReason, "segment fallback") {
		t.Fatalf("after audio tick 1: status=%s reason=%q", got.Status, got.FailureReason)
	}

	h.clock = h.clock.Add(30 * time.Second)
	if resp := h.tick(t); resp.Failed != 1 {
		t.Fatalf("audio tick 2 = %+v", resp)
	}
	got, _ = h.st.GetJob(ctx, job.ID)
	if got.Status != model.JobStatusFailed || got.FailureStage != model.StageAudio {
		t.Fatalf("final job: status=%s stage=%s", got.Status, got.FailureStage)
	}
	if got.SegmentsReady != 0 || got.AudioKey != "" {
		t.Fatalf("failed job has audio: ready=%d key=%q", got.SegmentsReady, got.AudioKey)
	}

	segs, err := h.st.ListSegments(ctx, job.ID)
	if err != nil {
		t.Fatalf("ListSegments: %v", err)
	}
	if len(segs) != got.SegmentCount || len(segs) == 0 {
		t.Fatalf("segments = %d, job count = %d", len(segs), got.SegmentCount)
	}
	for _, seg := range segs {
		if seg.Status != model.SegmentStatusFailed || seg.Error == "" {
			t.Fatalf("segment %d: status=%s error=%q", seg.Index, seg.Status, seg.Error)
		}
	}
	if len(h.notify.errors) != 1 {
		t.Fatalf("error events = %v", h.notify.errors)
	}
}

func TestPastDeadlineJobIsMissed(t *testing.T) {
	ctx := context.Background()
	calls := 0
	counting := scriptFunc(func(ctx context.Context, job *model.Job) (*service.ScriptResult, error) {
		calls++
		return &service.ScriptResult{Script: "Good morning."}, nil
	})
	h := newHarness(t, counting, worker.Config{})
	job := createJob(t, h.st, "user-1", model.PriorityRegular, h.clock)

	h.clock = job.LatestCompletionAt.Add(time.Minute)
	resp := h.tick(t)
	if resp.Missed != 1 || resp.ScriptLeased != 0 {
		t.Fatalf("tick = %+v", resp)
	}
	got, _ := h.st.GetJob(ctx, job.ID)
	if got.Status != model.JobStatusFailedMissed || got.FailureStage != model.StageScript {
		t.Fatalf("job = %s/%s", got.Status, got.FailureStage)
	}

	h.clock = h.clock.Add(time.Hour)
	if resp := h.tick(t); resp.Missed != 0 || resp.ScriptLeased != 0 {
		t.Fatalf("missed job was picked up again: %+v", resp)
	}
	if calls != 0 {
		t.Fatalf("generator called %d times", calls)
	}
}

func TestRescheduleDuringProcessingLosesLease(t *testing.T) {
	ctx := context.Background()
	var st *store.Store
	rescheduling := scriptFunc(func(ctx context.Context, job *model.Job) (*service.ScriptResult, error) {
		p := store.UpsertParams{
			UserID:             job.UserID,
			LocalDate:          job.LocalDate,
			PlaybackAt:         job.PlaybackAt,
			EarliestProcessAt:  job.EarliestProcessAt,
			LatestCompletionAt: job.LatestCompletionAt,
			Priority:           job.Priority,
			Preferences:        job.Preferences,
		}
		p.Preferences.Voice = "nova"
		if _, err := st.UpsertJob(ctx, p, time.Now().UTC()); err != nil {
			return nil, err
		}
		return &service.ScriptResult{Script: "Good morning."}, nil
	})
	h := newHarness(t, rescheduling, worker.Config{})
	st = h.st
	job := createJob(t, h.st, "user-1", model.PriorityRegular, h.clock)

	resp := h.tick(t)
	if resp.LeaseLost != 1 || resp.Completed != 0 {
		t.Fatalf("tick = %+v", resp)
	}
	got, _ := h.st.GetJob(ctx, job.ID)
	if got.Status != model.JobStatusQueued || got.Script != "" || got.Preferences.Voice != "nova" {
		t.Fatalf("rescheduled job was overwritten: %+v", got)
	}
}

func TestBackoff(t *testing.T) {
	base, max := 30*time.Second, 10*time.Minute
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 30 * time.Second},
		{1, 30 * time.Second},
		{2, time.Minute},
		{3, 2 * time.Minute},
		{5, 8 * time.Minute},
		{6, 10 * time.Minute},
		{20, 10 * time.Minute},
	}
	for _, tt := range tests {
		if got := worker.Backoff(tt.attempt, base, max); got != tt.want {
			t.Errorf("Backoff(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}
