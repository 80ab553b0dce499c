package store

import (
	"context"
	"fmt"
	"time"

	"github.com/morningbrief/api/internal/model"
)

// MissedReason is recorded on jobs that could not finish before their deadline.
const MissedReason = "briefing was not ready before its completion deadline"

// ScriptOutput is the result of a successful script stage.
type ScriptOutput struct {
	Script      string
	BilledChars int
}

// AudioOutput is the result of a successful audio stage.
type AudioOutput struct {
	AudioKey        string
	Provider        string
	BilledChars     int
	SegmentFallback bool
}

// StageFailure describes a failed stage attempt.
type StageFailure struct {
	Stage       model.Stage
	Reason      string
	BilledChars int
	// NextAttemptAt is only used when the job goes back for another attempt.
	NextAttemptAt time.Time
}

// CompleteScript stores the script and moves the job to script_ready. A job
// that is already past its completion deadline becomes failed_missed instead.
func (s *Store) CompleteScript(ctx context.Context, id, owner string, out ScriptOutput, now time.Time) (*model.Job, error) {
	ts := formatTime(now)
	jobs, err := s.queryJobsWithRetry(ctx, `UPDATE jobs SET
            status = CASE WHEN latest_completion_at < ? THEN ? ELSE ? END,
            failure_stage = CASE WHEN latest_completion_at < ? THEN ? ELSE NULL END,
            failure_reason = CASE WHEN latest_completion_at < ? THEN ? ELSE NULL END,
            script = ?, script_ready_at = ?,
            script_billed_chars = script_billed_chars + ?,
            next_attempt_at = ?,
            lease_owner = NULL, lease_expires_at = NULL,
            updated_at = ?
        WHERE id = ? AND status = ? AND lease_owner = ?
        RETURNING `+jobColumns,
		ts, model.JobStatusFailedMissed, model.JobStatusScriptReady,
		ts, model.StageScript,
		ts, MissedReason,
		out.Script, ts,
		out.BilledChars,
		ts,
		ts,
		id, model.JobStatusScriptProcessing, owner,
	)
	if err != nil {
		return nil, fmt.Errorf("complete script: %w", err)
	}
	if len(jobs) == 0 {
		return nil, ErrLeaseLost
	}
	return jobs[0], nil
}

// CompleteAudio records the artifact and marks the job ready, or
// failed_missed when the deadline already passed.
func (s *Store) CompleteAudio(ctx context.Context, id, owner string, out AudioOutput, now time.Time) (*model.Job, error) {
	ts := formatTime(now)
	jobs, err := s.queryJobsWithRetry(ctx, `UPDATE jobs SET
            status = CASE WHEN latest_completion_at < ? THEN ? ELSE ? END,
            failure_stage = CASE WHEN latest_completion_at < ? THEN ? ELSE NULL END,
            failure_reason = CASE WHEN latest_completion_at < ? THEN ? ELSE NULL END,
            audio_key = ?, audio_ready_at = ?, audio_provider = ?,
            audio_billed_chars = audio_billed_chars + ?,
            segment_fallback = ?,
            lease_owner = NULL, lease_expires_at = NULL,
            updated_at = ?
        WHERE id = ? AND status = ? AND lease_owner = ?
        RETURNING `+jobColumns,
		ts, model.JobStatusFailedMissed, model.JobStatusReady,
		ts, model.StageAudio,
		ts, MissedReason,
		nullableString(out.AudioKey), ts, nullableString(out.Provider),
		out.BilledChars,
		boolToInt(out.SegmentFallback),
		ts,
		id, model.JobStatusAudioProcessing, owner,
	)
	if err != nil {
		return nil, fmt.Errorf("complete audio: %w", err)
	}
	if len(jobs) == 0 {
		return nil, ErrLeaseLost
	}
	return jobs[0], nil
}

// RetryStage returns a job to the stage's entry status so it can be leased
// again once NextAttemptAt has passed. The reason is kept for diagnostics.
func (s *Store) RetryStage(ctx context.Context, id, owner string, f StageFailure, now time.Time) (*model.Job, error) {
	return s.finishAttempt(ctx, id, owner, f.Stage, f.Stage.EligibleStatus(), f, f.NextAttemptAt, now)
}

// FailStage moves a job to the terminal failed status with stage and cause.
func (s *Store) FailStage(ctx context.Context, id, owner string, f StageFailure, now time.Time) (*model.Job, error) {
	return s.finishAttempt(ctx, id, owner, f.Stage, model.JobStatusFailed, f, now, now)
}

func (s *Store) finishAttempt(ctx context.Context, id, owner string, stage model.Stage, to model.JobStatus, f StageFailure, next, now time.Time) (*model.Job, error) {
	from := stage.ProcessingStatus()
	if !model.CanTransition(from, to) {
		return nil, fmt.Errorf("invalid transition %s -> %s", from, to)
	}

	billedCol := billedColumn(stage)
	jobs, err := s.queryJobsWithRetry(ctx, `UPDATE jobs SET
            status = ?,
            failure_stage = ?, failure_reason = ?,
            `+billedCol+` = `+billedCol+` + ?,
            next_attempt_at = ?,
            lease_owner = NULL, lease_expires_at = NULL,
            updated_at = ?
        WHERE id = ? AND status = ? AND lease_owner = ?
        RETURNING `+jobColumns,
		to,
		stage, nullableString(f.Reason),
		f.BilledChars,
		formatTime(next),
		formatTime(now),
		id, from, owner,
	)
	if err != nil {
		return nil, fmt.Errorf("record %s failure: %w", stage, err)
	}
	if len(jobs) == 0 {
		return nil, ErrLeaseLost
	}
	return jobs[0], nil
}

// AddBilledChars charges characters to a stage while the owner still holds the lease.
func (s *Store) AddBilledChars(ctx context.Context, id, owner string, stage model.Stage, chars int) error {
	if chars <= 0 {
		return nil
	}
	col := billedColumn(stage)
	res, err := s.execWithRetry(ctx,
		"UPDATE jobs SET "+col+" = "+col+" + ? WHERE id = ? AND lease_owner = ?",
		chars, id, owner,
	)
	if err != nil {
		return fmt.Errorf("add billed chars: %w", err)
	}
	if rowsAffected(res) == 0 {
		return ErrLeaseLost
	}
	return nil
}
