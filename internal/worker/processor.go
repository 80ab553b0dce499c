package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/morningbrief/api/internal/model"
	"github.com/morningbrief/api/internal/store"
)

// process runs the leased stage of one job and records the outcome.
func (s *Scheduler) process(ctx context.Context, job *model.Job, owner string) result {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := s.heartbeat(ctx, cancel, job.ID, owner)
	defer stop()

	log := s.logger.With("job_id", job.ID, "status", job.Status, "priority", job.Priority)

	switch job.Status {
	case model.JobStatusScriptProcessing:
		return s.processScript(ctx, job, owner, log)
	case model.JobStatusAudioProcessing:
		return s.processAudio(ctx, job, owner, log)
	}
	log.Error("leased job in unexpected status")
	return resultLeaseLost
}

func (s *Scheduler) processScript(ctx context.Context, job *model.Job, owner string, log *slog.Logger) result {
	started := s.now()
	res, err := s.scripts.Generate(ctx, job)
	if err != nil {
		billed := 0
		if res != nil {
			billed = res.BilledChars
		}
		return s.handleFailure(ctx, job, owner, model.StageScript, err, billed, log)
	}

	updated, err := s.store.CompleteScript(context.WithoutCancel(ctx), job.ID, owner, store.ScriptOutput{
		Script:      res.Script,
		BilledChars: res.BilledChars,
	}, s.now().UTC())
	if err != nil {
		return s.recordError(job, err, log)
	}

	log.Info("script ready",
		"word_budget", res.WordBudget,
		"sections", len(res.Sections),
		"padded", res.Padded,
		"billed_chars", res.BilledChars,
		"duration", s.now().Sub(started),
	)
	return s.finish(updated)
}

func (s *Scheduler) processAudio(ctx context.Context, job *model.Job, owner string, log *slog.Logger) result {
	started := s.now()
	strategy := s.single
	if job.Segmented {
		strategy = s.segmented
	}

	outcome, err := strategy.Produce(ctx, job, owner)
	if err != nil {
		billed := 0
		if outcome != nil {
			billed = outcome.BilledChars
		}
		return s.handleFailure(ctx, job, owner, model.StageAudio, err, billed, log)
	}

	updated, err := s.store.CompleteAudio(context.WithoutCancel(ctx), job.ID, owner, store.AudioOutput{
		AudioKey:        outcome.AudioKey,
		Provider:        outcome.Provider,
		BilledChars:     outcome.BilledChars,
		SegmentFallback: outcome.SegmentFallback,
	}, s.now().UTC())
	if err != nil {
		return s.recordError(job, err, log)
	}

	log.Info("audio ready",
		"provider", outcome.Provider,
		"segment_fallback", outcome.SegmentFallback,
		"duration", s.now().Sub(started),
	)
	return s.finish(updated)
}

// handleFailure sends the job back for another attempt with backoff, or
// fails it once the stage has used all of its attempts.
func (s *Scheduler) handleFailure(ctx context.Context, job *model.Job, owner string, stage model.Stage, cause error, billed int, log *slog.Logger) result {
	if errors.Is(cause, store.ErrLeaseLost) {
		log.Warn("lease lost during stage", "stage", stage)
		return resultLeaseLost
	}

	now := s.now().UTC()
	attempts := job.Attempts(stage)
	failure := store.StageFailure{
		Stage:       stage,
		Reason:      cause.Error(),
		BilledChars: billed,
	}
	// Persist the outcome even when the tick context was cancelled.
	ctx = context.WithoutCancel(ctx)

	if attempts >= s.cfg.MaxAttempts {
		updated, err := s.store.FailStage(ctx, job.ID, owner, failure, now)
		if err != nil {
			return s.recordError(job, err, log)
		}
		log.Error("stage failed permanently", "stage", stage, "attempts", attempts, "error", cause)
		s.notify.BroadcastError(updated)
		return resultFailed
	}

	failure.NextAttemptAt = now.Add(Backoff(attempts, s.cfg.BackoffBase, s.cfg.BackoffMax))
	updated, err := s.store.RetryStage(ctx, job.ID, owner, failure, now)
	if err != nil {
		return s.recordError(job, err, log)
	}
	log.Warn("stage failed, retrying",
		"stage", stage,
		"attempts", attempts,
		"next_attempt_at", failure.NextAttemptAt,
		"error", cause,
	)
	s.notify.BroadcastStatus(updated)
	return resultRetried
}

// finish reports a completed stage. A completion recorded after the
// deadline lands in failed_missed and counts as a failure.
func (s *Scheduler) finish(job *model.Job) result {
	switch job.Status {
	case model.JobStatusReady:
		s.notify.BroadcastComplete(job)
		return resultCompleted
	case model.JobStatusFailedMissed:
		s.notify.BroadcastError(job)
		return resultFailed
	}
	s.notify.BroadcastStatus(job)
	return resultCompleted
}

func (s *Scheduler) recordError(job *model.Job, err error, log *slog.Logger) result {
	if errors.Is(err, store.ErrLeaseLost) {
		log.Warn("lease lost before the outcome was recorded")
		return resultLeaseLost
	}
	log.Error("failed to record job outcome", "error", err)
	return resultLeaseLost
}

// heartbeat extends the lease while the job is processed and cancels the
// work when another owner has taken the job over.
func (s *Scheduler) heartbeat(ctx context.Context, cancel context.CancelFunc, jobID, owner string) func() {
	interval := s.cfg.LeaseDuration / 3
	if interval <= 0 {
		return func() {}
	}

	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				err := s.store.ExtendLease(ctx, jobID, owner, s.now().UTC().Add(s.cfg.LeaseDuration))
				if errors.Is(err, store.ErrLeaseLost) {
					s.logger.Warn("lease taken over, abandoning job", "job_id", jobID)
					cancel()
					return
				}
				if err != nil {
					s.logger.Warn("lease heartbeat failed", "job_id", jobID, "error", err)
				}
			}
		}
	}()
	return func() { close(done) }
}
