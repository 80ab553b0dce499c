package worker_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/hibiken/asynq"

	"github.com/morningbrief/api/internal/content"
	"github.com/morningbrief/api/internal/model"
	"github.com/morningbrief/api/internal/worker"
)

type fakeRefresher struct {
	err   error
	calls int
}

func (f *fakeRefresher) Trigger(ctx context.Context) (*model.RefreshResponse, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &model.RefreshResponse{Summary: map[model.Freshness]int{}}, nil
}

type fakeCleaner struct {
	retention time.Duration
	mode      model.CleanupMode
}

func (f *fakeCleaner) Run(ctx context.Context, retention time.Duration, mode model.CleanupMode) (*model.CleanupResponse, error) {
	f.retention, f.mode = retention, mode
	return &model.CleanupResponse{Mode: mode}, nil
}

func TestProcessTickRunsScheduler(t *testing.T) {
	h := newHarness(t, nil, worker.Config{})
	job := createJob(t, h.st, "user-1", model.PriorityRegular, h.clock)

	handlers := worker.NewTaskHandlers(h.scheduler, nil, nil, 7, nil)
	if err := handlers.ProcessTick(context.Background(), worker.NewTickTask()); err != nil {
		t.Fatalf("ProcessTick: %v", err)
	}

	got, err := h.st.GetJob(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Status != model.JobStatusScriptReady {
		t.Fatalf("status = %s, want script_ready", got.Status)
	}
}

func TestProcessRefreshIgnoresCooldown(t *testing.T) {
	h := newHarness(t, nil, worker.Config{})

	ref := &fakeRefresher{err: content.ErrCooldown}
	handlers := worker.NewTaskHandlers(h.scheduler, ref, nil, 7, nil)
	if err := handlers.ProcessRefresh(context.Background(), worker.NewRefreshTask()); err != nil {
		t.Fatalf("cooldown should be skipped, got %v", err)
	}

	ref.err = errors.New("redis down")
	if err := handlers.ProcessRefresh(context.Background(), worker.NewRefreshTask()); err == nil {
		t.Fatal("expected refresh failure to surface")
	}
	if ref.calls != 2 {
		t.Fatalf("calls = %d", ref.calls)
	}
}

func TestProcessCleanupPayload(t *testing.T) {
	h := newHarness(t, nil, worker.Config{})
	cl := &fakeCleaner{}
	handlers := worker.NewTaskHandlers(h.scheduler, nil, cl, 7, nil)

	task, err := worker.NewCleanupTask(model.CleanupFast, 3)
	if err != nil {
		t.Fatalf("NewCleanupTask: %v", err)
	}
	if err := handlers.ProcessCleanup(context.Background(), task); err != nil {
		t.Fatalf("ProcessCleanup: %v", err)
	}
	if cl.mode != model.CleanupFast || cl.retention != 72*time.Hour {
		t.Fatalf("cleaner got mode=%s retention=%s", cl.mode, cl.retention)
	}

	// Empty payload falls back to both passes and the configured retention
	if err := handlers.ProcessCleanup(context.Background(), asynq.NewTask(worker.TaskTypeCleanup, nil)); err != nil {
		t.Fatalf("ProcessCleanup: %v", err)
	}
	if cl.mode != model.CleanupBoth || cl.retention != 7*24*time.Hour {
		t.Fatalf("cleaner got mode=%s retention=%s", cl.mode, cl.retention)
	}

	bad, _ := json.Marshal(worker.CleanupPayload{Mode: "everything"})
	err = handlers.ProcessCleanup(context.Background(), asynq.NewTask(worker.TaskTypeCleanup, bad))
	if !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("unknown mode: err = %v, want SkipRetry", err)
	}

	err = handlers.ProcessCleanup(context.Background(), asynq.NewTask(worker.TaskTypeCleanup, []byte("{")))
	if !errors.Is(err, asynq.SkipRetry) {
		t.Fatalf("bad payload: err = %v, want SkipRetry", err)
	}
}
