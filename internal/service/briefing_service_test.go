package service_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/morningbrief/api/internal/client"
	"github.com/morningbrief/api/internal/model"
	"github.com/morningbrief/api/internal/service"
	"github.com/morningbrief/api/internal/store"
)

func briefingConfig() service.BriefingConfig {
	return service.BriefingConfig{
		LeadTime:          2 * time.Hour,
		GracePeriod:       30 * time.Minute,
		UrgentWindow:      45 * time.Minute,
		EstimatedDuration: 3 * time.Minute,
		SignedURLTTL:      time.Hour,
	}
}

func createRequest(playback time.Time) *model.CreateBriefingRequest {
	return &model.CreateBriefingRequest{
		LocalDate:             playback.Format("2006-01-02"),
		PlaybackAt:            playback,
		Timezone:              "UTC",
		Voice:                 "alloy",
		TargetDurationSeconds: 120,
		Categories:            model.Categories{News: true, Quotes: true},
	}
}

func TestCreateAssignsPriorityBands(t *testing.T) {
	now := time.Date(2026, 3, 2, 5, 0, 0, 0, time.UTC)
	st := openStore(t)
	svc := service.NewBriefingService(st, client.NewMemoryStorage(""), briefingConfig(), nil).WithClock(func() time.Time { return now })

	tests := []struct {
		name     string
		user     string
		req      *model.CreateBriefingRequest
		priority int
	}{
		{"welcome", "u-welcome", func() *model.CreateBriefingRequest {
			r := createRequest(now.Add(3 * time.Hour))
			r.Welcome = true
			return r
		}(), model.PriorityImmediate},
		{"within urgent window", "u-urgent", createRequest(now.Add(30 * time.Minute)), model.PriorityUrgent},
		{"regular", "u-regular", createRequest(now.Add(3 * time.Hour)), model.PriorityRegular},
		{"days ahead", "u-later", createRequest(now.Add(72 * time.Hour)), model.PriorityBackground},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := svc.Create(context.Background(), tt.user, tt.req)
			if err != nil {
				t.Fatalf("Create: %v", err)
			}
			if resp.Priority != tt.priority || resp.PriorityBand != model.PriorityBand(tt.priority) {
				t.Fatalf("priority = %d (%s), want %d", resp.Priority, resp.PriorityBand, tt.priority)
			}
			if !resp.Created || resp.Status != model.JobStatusQueued {
				t.Fatalf("unexpected response: %+v", resp)
			}
		})
	}
}

func TestCreateWindowsAndEstimate(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 2, 5, 0, 0, 0, time.UTC)
	st := openStore(t)
	svc := service.NewBriefingService(st, client.NewMemoryStorage(""), briefingConfig(), nil).WithClock(func() time.Time { return now })

	playback := now.Add(3 * time.Hour)
	resp, err := svc.Create(ctx, "user-1", createRequest(playback))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	job, _ := st.GetJob(ctx, resp.JobID)
	if !job.EarliestProcessAt.Equal(playback.Add(-2 * time.Hour)) {
		t.Errorf("earliest = %v", job.EarliestProcessAt)
	}
	if !job.LatestCompletionAt.Equal(playback.Add(30 * time.Minute)) {
		t.Errorf("latest = %v", job.LatestCompletionAt)
	}
	if !resp.EstimatedReadyAt.Equal(playback.Add(-2*time.Hour + 3*time.Minute)) {
		t.Errorf("estimatedReadyAt = %v", resp.EstimatedReadyAt)
	}
	if job.Preferences.Locale != "en-US" || job.Preferences.Region != "us" {
		t.Errorf("defaults not applied: %+v", job.Preferences)
	}
}

func TestCreateIsIdempotentAndReschedules(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 2, 5, 0, 0, 0, time.UTC)
	st := openStore(t)
	svc := service.NewBriefingService(st, client.NewMemoryStorage(""), briefingConfig(), nil).WithClock(func() time.Time { return now })

	req := createRequest(now.Add(3 * time.Hour))
	first, err := svc.Create(ctx, "user-1", req)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	again, err := svc.Create(ctx, "user-1", req)
	if err != nil {
		t.Fatalf("Create again: %v", err)
	}
	if again.Created || again.JobID != first.JobID {
		t.Fatalf("identical request should return the same job: %+v", again)
	}

	changed := createRequest(now.Add(3 * time.Hour))
	changed.Voice = "nova"
	moved, err := svc.Create(ctx, "user-1", changed)
	if err != nil {
		t.Fatalf("Create changed: %v", err)
	}
	if moved.JobID != first.JobID || moved.Created {
		t.Fatalf("reschedule should keep the job id: %+v", moved)
	}
	job, _ := st.GetJob(ctx, first.JobID)
	if job.Preferences.Voice != "nova" {
		t.Fatalf("inputs not recaptured: %+v", job.Preferences)
	}
}

func TestCreateRejectsPassedPlayback(t *testing.T) {
	now := time.Date(2026, 3, 2, 5, 0, 0, 0, time.UTC)
	svc := service.NewBriefingService(openStore(t), client.NewMemoryStorage(""), briefingConfig(), nil).WithClock(func() time.Time { return now })
	_, err := svc.Create(context.Background(), "user-1", createRequest(now.Add(-time.Hour)))
	if !errors.Is(err, service.ErrPlaybackTooLate) {
		t.Fatalf("err = %v", err)
	}
}

func TestStatusOwnershipAndURLs(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()
	st := openStore(t)
	storage := client.NewMemoryStorage("https://cdn.test")
	svc := service.NewBriefingService(st, storage, briefingConfig(), nil)

	job, owner := leasedAudioJob(t, st, "Good morning.", 0, now)

	if _, err := svc.Status(ctx, "intruder", job.ID); !errors.Is(err, service.ErrForbidden) {
		t.Fatalf("err = %v, want ErrForbidden", err)
	}
	if _, err := svc.Status(ctx, job.UserID, "missing"); !errors.Is(err, service.ErrJobNotFound) {
		t.Fatalf("err = %v, want ErrJobNotFound", err)
	}

	resp, err := svc.Status(ctx, job.UserID, job.ID)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if resp.AudioURL != "" || resp.FailureReason != "" {
		t.Fatalf("processing job must not expose a URL or reason: %+v", resp)
	}

	key := "briefings/" + job.ID + "/full.mp3"
	_, _ = storage.Upload(ctx, key, strings.NewReader("audio"), "audio/mpeg")
	if _, err := st.CompleteAudio(ctx, job.ID, owner, store.AudioOutput{AudioKey: key, Provider: "primary"}, now); err != nil {
		t.Fatalf("CompleteAudio: %v", err)
	}

	resp, err = svc.Status(ctx, job.UserID, job.ID)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if resp.Status != model.JobStatusReady || !strings.HasPrefix(resp.AudioURL, "https://cdn.test/briefings/") || resp.AudioExpiresAt == nil {
		t.Fatalf("ready status = %+v", resp)
	}

	if _, err := svc.Segment(ctx, job.UserID, job.ID, 0); !errors.Is(err, service.ErrNotSegmented) {
		t.Fatalf("err = %v, want ErrNotSegmented", err)
	}
}

func TestSegmentStatus(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()
	st := openStore(t)
	storage := client.NewMemoryStorage("")
	svc := service.NewBriefingService(st, storage, briefingConfig(), nil)

	job, owner := leasedAudioJob(t, st, fourSentences, 2, now)

	// Rows do not exist until the audio stage creates them.
	seg, err := svc.Segment(ctx, job.UserID, job.ID, 1)
	if err != nil || seg.Status != model.SegmentStatusQueued {
		t.Fatalf("Segment before start: %+v %v", seg, err)
	}

	if _, err := st.EnsureSegments(ctx, job.ID, owner, service.SplitScript(fourSentences, 2), now); err != nil {
		t.Fatalf("EnsureSegments: %v", err)
	}
	_ = st.StartSegment(ctx, job.ID, owner, 0, now)
	key := "briefings/" + job.ID + "/segment-0.mp3"
	_, _ = storage.Upload(ctx, key, strings.NewReader("audio"), "audio/mpeg")
	if _, err := st.CompleteSegment(ctx, job.ID, owner, 0, key, 10, now); err != nil {
		t.Fatalf("CompleteSegment: %v", err)
	}

	ready, err := svc.Segment(ctx, job.UserID, job.ID, 0)
	if err != nil || ready.AudioURL == "" {
		t.Fatalf("ready segment: %+v %v", ready, err)
	}
	pending, err := svc.Segment(ctx, job.UserID, job.ID, 1)
	if err != nil || pending.AudioURL != "" || pending.Status != model.SegmentStatusQueued {
		t.Fatalf("pending segment: %+v %v", pending, err)
	}
	if _, err := svc.Segment(ctx, job.UserID, job.ID, 7); !errors.Is(err, service.ErrSegmentNotFound) {
		t.Fatalf("err = %v, want ErrSegmentNotFound", err)
	}

	status, err := svc.Status(ctx, job.UserID, job.ID)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if len(status.Segments) != 2 || status.Segments[0].AudioURL == "" || status.Segments[1].AudioURL != "" {
		t.Fatalf("segments = %+v", status.Segments)
	}
}
