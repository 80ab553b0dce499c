package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/morningbrief/api/internal/model"
	"github.com/morningbrief/api/internal/service"
	"github.com/morningbrief/api/internal/store"
)

// ScriptGenerator writes the script for a leased job
type ScriptGenerator interface {
	Generate(ctx context.Context, job *model.Job) (*service.ScriptResult, error)
}

// Notifier receives job progress events
type Notifier interface {
	BroadcastStatus(job *model.Job)
	BroadcastSegment(jobID string, index, ready, total int)
	BroadcastComplete(job *model.Job)
	BroadcastError(job *model.Job)
}

// Config bounds one scheduler tick
type Config struct {
	BatchSize     int
	Workers       int
	LeaseDuration time.Duration
	MaxAttempts   int
	BackoffBase   time.Duration
	BackoffMax    time.Duration
	UrgentWindow  time.Duration
}

// Scheduler advances briefing jobs through the pipeline one tick at a time
type Scheduler struct {
	store     *store.Store
	scripts   ScriptGenerator
	single    service.AudioStrategy
	segmented service.AudioStrategy
	notify    Notifier
	cfg       Config
	logger    *slog.Logger
	now       func() time.Time
}

// NewScheduler creates a scheduler. A nil notifier disables progress events.
func NewScheduler(st *store.Store, scripts ScriptGenerator, single, segmented service.AudioStrategy, notify Notifier, cfg Config, logger *slog.Logger) *Scheduler {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.LeaseDuration <= 0 {
		cfg.LeaseDuration = 15 * time.Minute
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if segmented == nil {
		segmented = single
	}
	if notify == nil {
		notify = nopNotifier{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		store:     st,
		scripts:   scripts,
		single:    single,
		segmented: segmented,
		notify:    notify,
		cfg:       cfg,
		logger:    logger.With("component", "scheduler"),
		now:       time.Now,
	}
}

// WithClock overrides the time source.
func (s *Scheduler) WithClock(now func() time.Time) *Scheduler {
	s.now = now
	return s
}

// Tick runs one scheduling round: expire missed jobs, fail exhausted ones,
// promote urgent ones, then lease and process a batch of each stage.
func (s *Scheduler) Tick(ctx context.Context) (*model.TickResponse, error) {
	resp := &model.TickResponse{}
	now := s.now().UTC()

	missed, err := s.store.ExpireMissed(ctx, now)
	if err != nil {
		return nil, err
	}
	resp.Missed = len(missed)
	for _, job := range missed {
		s.notify.BroadcastError(job)
	}

	exhausted, err := s.store.FailExhausted(ctx, s.cfg.MaxAttempts, now)
	if err != nil {
		return nil, err
	}
	resp.Exhausted = len(exhausted)
	for _, job := range exhausted {
		s.notify.BroadcastError(job)
	}

	if s.cfg.UrgentWindow > 0 {
		if resp.Promoted, err = s.store.PromoteUrgent(ctx, s.cfg.UrgentWindow, now); err != nil {
			return nil, err
		}
	}

	owner := "worker-" + uuid.NewString()
	scriptJobs, err := s.lease(ctx, model.StageScript, owner, now)
	if err != nil {
		return nil, err
	}
	audioJobs, err := s.lease(ctx, model.StageAudio, owner, now)
	if err != nil {
		return nil, err
	}
	resp.ScriptLeased = len(scriptJobs)
	resp.AudioLeased = len(audioJobs)

	jobs := append(scriptJobs, audioJobs...)
	sort.SliceStable(jobs, func(i, j int) bool {
		if jobs[i].Priority != jobs[j].Priority {
			return jobs[i].Priority > jobs[j].Priority
		}
		return jobs[i].CreatedAt.Before(jobs[j].CreatedAt)
	})

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Workers)
	for _, job := range jobs {
		job := job
		g.Go(func() error {
			result := s.process(gctx, job, owner)
			mu.Lock()
			tally(resp, result)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	if resp.Missed+resp.Exhausted+len(jobs) > 0 {
		s.logger.Info("tick finished",
			"missed", resp.Missed,
			"exhausted", resp.Exhausted,
			"promoted", resp.Promoted,
			"script_leased", resp.ScriptLeased,
			"audio_leased", resp.AudioLeased,
			"completed", resp.Completed,
			"retried", resp.Retried,
			"failed", resp.Failed,
			"lease_lost", resp.LeaseLost,
		)
	}
	return resp, nil
}

func (s *Scheduler) lease(ctx context.Context, stage model.Stage, owner string, now time.Time) ([]*model.Job, error) {
	jobs, err := s.store.LeaseJobs(ctx, store.LeaseParams{
		Stage:       stage,
		Owner:       owner,
		Limit:       s.cfg.BatchSize,
		Duration:    s.cfg.LeaseDuration,
		MaxAttempts: s.cfg.MaxAttempts,
	}, now)
	if err != nil {
		return nil, fmt.Errorf("lease %s batch: %w", stage, err)
	}
	for _, job := range jobs {
		s.notify.BroadcastStatus(job)
	}
	return jobs, nil
}

// Backoff returns the delay before retry number attempt (1-based):
// base doubled per earlier attempt, capped at max.
func Backoff(attempt int, base, max time.Duration) time.Duration {
	if base <= 0 {
		return 0
	}
	if attempt < 1 {
		attempt = 1
	}
	d := base
	for i := 1; i < attempt; i++ {
		d *= 2
		if max > 0 && d >= max {
			return max
		}
	}
	if max > 0 && d > max {
		return max
	}
	return d
}

type result int

const (
	resultCompleted result = iota
	resultRetried
	resultFailed
	resultLeaseLost
)

func tally(resp *model.TickResponse, res result) {
	switch res {
	case resultCompleted:
		resp.Completed++
	case resultRetried:
		resp.Retried++
	case resultFailed:
		resp.Failed++
	case resultLeaseLost:
		resp.LeaseLost++
	}
}

type nopNotifier struct{}

func (nopNotifier) BroadcastStatus(*model.Job)             {}
func (nopNotifier) BroadcastSegment(string, int, int, int) {}
func (nopNotifier) BroadcastComplete(*model.Job)           {}
func (nopNotifier) BroadcastError(*model.Job)              {}
