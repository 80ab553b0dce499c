package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/morningbrief/api/internal/content"
	"github.com/morningbrief/api/internal/model"
)

// Task types
const (
	TaskTypeTick    = "pipeline:tick"
	TaskTypeRefresh = "content:refresh"
	TaskTypeCleanup = "storage:cleanup"
)

// QueueMaintenance carries every periodic task.
const QueueMaintenance = "maintenance"

// Refresher is the content refresh trigger
type Refresher interface {
	Trigger(ctx context.Context) (*model.RefreshResponse, error)
}

// Cleaner is the storage cleanup trigger
type Cleaner interface {
	Run(ctx context.Context, retention time.Duration, mode model.CleanupMode) (*model.CleanupResponse, error)
}

// CleanupPayload is the payload of a cleanup task
type CleanupPayload struct {
	Mode          model.CleanupMode `json:"mode"`
	RetentionDays int               `json:"retentionDays"`
}

// NewTickTask creates a scheduler tick task.
func NewTickTask() *asynq.Task {
	return asynq.NewTask(TaskTypeTick, nil, asynq.Queue(QueueMaintenance), asynq.MaxRetry(0))
}

// NewRefreshTask creates a content refresh task.
func NewRefreshTask() *asynq.Task {
	return asynq.NewTask(TaskTypeRefresh, nil, asynq.Queue(QueueMaintenance), asynq.MaxRetry(0))
}

// NewCleanupTask creates a cleanup task.
func NewCleanupTask(mode model.CleanupMode, retentionDays int) (*asynq.Task, error) {
	payload, err := json.Marshal(CleanupPayload{Mode: mode, RetentionDays: retentionDays})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal cleanup payload: %w", err)
	}
	return asynq.NewTask(TaskTypeCleanup, payload, asynq.Queue(QueueMaintenance), asynq.MaxRetry(0)), nil
}

// TaskHandlers runs periodic tasks delivered by asynq
type TaskHandlers struct {
	scheduler     *Scheduler
	refresher     Refresher
	cleaner       Cleaner
	retentionDays int
	tickTimeout   time.Duration
	logger        *slog.Logger
}

// NewTaskHandlers wires the task handlers. A nil refresher or cleaner
// leaves that task unregistered.
func NewTaskHandlers(scheduler *Scheduler, refresher Refresher, cleaner Cleaner, retentionDays int, logger *slog.Logger) *TaskHandlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &TaskHandlers{
		scheduler:     scheduler,
		refresher:     refresher,
		cleaner:       cleaner,
		retentionDays: retentionDays,
		tickTimeout:   scheduler.cfg.LeaseDuration,
		logger:        logger.With("component", "tasks"),
	}
}

// Register adds every handler to the mux.
func (h *TaskHandlers) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(TaskTypeTick, h.ProcessTick)
	if h.refresher != nil {
		mux.HandleFunc(TaskTypeRefresh, h.ProcessRefresh)
	}
	if h.cleaner != nil {
		mux.HandleFunc(TaskTypeCleanup, h.ProcessCleanup)
	}
}

// ProcessTick runs one scheduler tick
func (h *TaskHandlers) ProcessTick(ctx context.Context, t *asynq.Task) error {
	ctx, cancel := context.WithTimeout(ctx, h.tickTimeout)
	defer cancel()
	if _, err := h.scheduler.Tick(ctx); err != nil {
		return fmt.Errorf("scheduler tick: %w", err)
	}
	return nil
}

// ProcessRefresh refreshes the content cache. A refresh inside the cooldown
// is skipped without error.
func (h *TaskHandlers) ProcessRefresh(ctx context.Context, t *asynq.Task) error {
	resp, err := h.refresher.Trigger(ctx)
	if errors.Is(err, content.ErrCooldown) {
		h.logger.Debug("content refresh skipped", "reason", "cooldown")
		return nil
	}
	if err != nil {
		return fmt.Errorf("content refresh: %w", err)
	}
	if len(resp.Errors) > 0 {
		h.logger.Warn("content refresh finished with errors", "errors", len(resp.Errors))
	}
	return nil
}

// ProcessCleanup sweeps expired and orphaned artifacts
func (h *TaskHandlers) ProcessCleanup(ctx context.Context, t *asynq.Task) error {
	payload := CleanupPayload{Mode: model.CleanupBoth, RetentionDays: h.retentionDays}
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return fmt.Errorf("failed to unmarshal cleanup payload: %w: %w", err, asynq.SkipRetry)
		}
	}
	if payload.Mode == "" {
		payload.Mode = model.CleanupBoth
	}
	if !payload.Mode.Valid() {
		return fmt.Errorf("unknown cleanup mode %q: %w", payload.Mode, asynq.SkipRetry)
	}
	if payload.RetentionDays < 1 {
		payload.RetentionDays = h.retentionDays
	}

	resp, err := h.cleaner.Run(ctx, time.Duration(payload.RetentionDays)*24*time.Hour, payload.Mode)
	if err != nil {
		return fmt.Errorf("cleanup: %w", err)
	}
	for name, report := range map[string]*model.CleanupReport{"fast": resp.FastPass, "deep": resp.DeepPass} {
		if report != nil && report.Errors > 0 {
			h.logger.Warn("cleanup pass finished with errors", "pass", name, "errors", report.Errors)
		}
	}
	return nil
}

// PeriodicSpecs lists cron specs keyed by the task they enqueue.
type PeriodicSpecs struct {
	Tick    string
	Refresh string
	Cleanup string
}

// RegisterPeriodic schedules the periodic tasks. Empty specs are skipped.
func RegisterPeriodic(s *asynq.Scheduler, specs PeriodicSpecs, retentionDays int) error {
	if specs.Tick != "" {
		if _, err := s.Register(specs.Tick, NewTickTask(), asynq.Unique(time.Minute)); err != nil {
			return fmt.Errorf("register tick: %w", err)
		}
	}
	if specs.Refresh != "" {
		if _, err := s.Register(specs.Refresh, NewRefreshTask()); err != nil {
			return fmt.Errorf("register refresh: %w", err)
		}
	}
	if specs.Cleanup != "" {
		task, err := NewCleanupTask(model.CleanupBoth, retentionDays)
		if err != nil {
			return err
		}
		if _, err := s.Register(specs.Cleanup, task); err != nil {
			return fmt.Errorf("register cleanup: %w", err)
		}
	}
	return nil
}
