package service_test

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
	"github.com/morningbrief/api/internal/store"
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

func upsertParams(userID string, now time.Time) store.UpsertParams {
	playback := now.Add(2 * time.Hour)
	return store.UpsertParams{
		UserID:             userID,
		LocalDate:          playback.Format("2006-01-02"),
		PlaybackAt:         playback,
		EarliestProcessAt:  now,
		LatestCompletionAt: playback.Add(30 * time.Minute),
		Priority:           model.PriorityRegular,
		Preferences: model.Preferences{
			Timezone:              "UTC",
			Region:                "us",
			Voice:                 "alloy",
			TargetDurationSeconds: 120,
			Categories:            model.Categories{News: true},
		},
	}
}

// leasedAudioJob creates a job, completes its script and leases its audio stage.
func leasedAudioJob(t *testing.T, st *store.Store, script string, segments int, now time.Time) (*model.Job, string) {
	t.Helper()
	ctx := context.Background()
	p := upsertParams("user-audio", now)
	if segments > 0 {
		p.Segmented = true
		p.SegmentCount = segments
	}
	res, err := st.UpsertJob(ctx, p, now)
	if err != nil {
		t.Fatalf("UpsertJob: %v", err)
	}

	if _, err := st.LeaseJobs(ctx, store.LeaseParams{
		Stage: model.StageScript, Owner: "script-worker", Limit: 1, Duration: 15 * time.Minute, MaxAttempts: 3,
	}, now); err != nil {
		t.Fatalf("lease script: %v", err)
	}
	if _, err := st.CompleteScript(ctx, res.Job.ID, "script-worker", store.ScriptOutput{Script: script}, now); err != nil {
		t.Fatalf("CompleteScript: %v", err)
	}

	jobs, err := st.LeaseJobs(ctx, store.LeaseParams{
		Stage: model.StageAudio, Owner: "audio-worker", Limit: 1, Duration: 15 * time.Minute, MaxAttempts: 3,
	}, now)
	if err != nil || len(jobs) != 1 {
		t.Fatalf("lease audio: %v (%d jobs)", err, len(jobs))
	}
	return jobs[0], "audio-worker"
}

// finishJob runs a freshly created job through both stages and stores its audio.
func finishJob(t *testing.T, st *store.Store, storage *client.MemoryStorage, jobID string, now time.Time) *model.Job {
	t.Helper()
	ctx := context.Background()
	owner := "finisher-" + jobID

	jobs, err := st.LeaseJobs(ctx, store.LeaseParams{
		Stage: model.StageScript, Owner: owner, Limit: 1, Duration: 15 * time.Minute, MaxAttempts: 3,
	}, now)
	if err != nil || len(jobs) != 1 || jobs[0].ID != jobID {
		t.Fatalf("lease script: %v (%d jobs)", err, len(jobs))
	}
	if _, err := st.CompleteScript(ctx, jobID, owner, store.ScriptOutput{Script: "Good morning."}, now); err != nil {
		t.Fatalf("CompleteScript: %v", err)
	}
	jobs, err = st.LeaseJobs(ctx, store.LeaseParams{
		Stage: model.StageAudio, Owner: owner, Limit: 1, Duration: 15 * time.Minute, MaxAttempts: 3,
	}, now)
	if err != nil || len(jobs) != 1 || jobs[0].ID != jobID {
		t.Fatalf("lease audio: %v (%d jobs)", err, len(jobs))
	}

	key := "briefings/" + jobID + "/full.mp3"
	if _, err := storage.Upload(ctx, key, strings.NewReader("audio"), "audio/mpeg"); err != nil {
		t.Fatalf("Upload: %v", err)
	}
	job, err := st.CompleteAudio(ctx, jobID, owner, store.AudioOutput{AudioKey: key, Provider: "mock"}, now)
	if err != nil {
		t.Fatalf("CompleteAudio: %v", err)
	}
	return job
}

// fakeProvider renders WAV audio unless failIf rejects the text.
type fakeProvider struct {
	name   string
	failIf func(text string) bool

	mu    sync.Mutex
	calls []string
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Synthesize(ctx context.Context, text, voice string) (*client.Audio, error) {
	f.mu.Lock()
	f.calls = append(f.calls, text)
	f.mu.Unlock()
	if f.failIf != nil && f.failIf(text) {
		return nil, errors.New(f.name + " unavailable")
	}
	return client.NewMockSpeechProvider(f.name).Synthesize(ctx, text, voice)
}

func (f *fakeProvider) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func always(string) bool { return true }
