package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/morningbrief/api/internal/model"
)

// ExhaustedReason is recorded when a crashed worker held the final attempt.
const ExhaustedReason = "lease expired on the final attempt"

// ExpireMissed moves every non-terminal job whose completion deadline has
// passed, and which no worker actively holds, to failed_missed.
func (s *Store) ExpireMissed(ctx context.Context, now time.Time) ([]*model.Job, error) {
	ts := formatTime(now)
	jobs, err := s.queryJobsWithRetry(ctx, `UPDATE jobs SET
            status = ?,
            failure_stage = CASE WHEN status IN (?, ?) THEN ? ELSE ? END,
            failure_reason = ?,
            lease_owner = NULL, lease_expires_at = NULL,
            updated_at = ?
        WHERE status IN (`+statusList(model.NonTerminalStatuses...)+`)
          AND latest_completion_at < ?
          AND (lease_expires_at IS NULL OR lease_expires_at <= ?)
        RETURNING `+jobColumns,
		model.JobStatusFailedMissed,
		model.JobStatusQueued, model.JobStatusScriptProcessing, model.StageScript, model.StageAudio,
		MissedReason,
		ts,
		ts, ts,
	)
	if err != nil {
		return nil, fmt.Errorf("expire missed jobs: %w", err)
	}
	return jobs, nil
}

// FailExhausted fails processing jobs whose lease expired while the final
// permitted attempt was in flight.
func (s *Store) FailExhausted(ctx context.Context, maxAttempts int, now time.Time) ([]*model.Job, error) {
	ts := formatTime(now)
	jobs, err := s.queryJobsWithRetry(ctx, `UPDATE jobs SET
            status = ?,
            failure_stage = CASE WHEN status = ? THEN ? ELSE ? END,
            failure_reason = ?,
            lease_owner = NULL, lease_expires_at = NULL,
            updated_at = ?
        WHERE ((status = ? AND script_attempts >= ?) OR (status = ? AND audio_attempts >= ?))
          AND (lease_expires_at IS NULL OR lease_expires_at <= ?)
        RETURNING `+jobColumns,
		model.JobStatusFailed,
		model.JobStatusScriptProcessing, model.StageScript, model.StageAudio,
		ExhaustedReason,
		ts,
		model.JobStatusScriptProcessing, maxAttempts, model.JobStatusAudioProcessing, maxAttempts,
		ts,
	)
	if err != nil {
		return nil, fmt.Errorf("fail exhausted jobs: %w", err)
	}
	return jobs, nil
}

// PromoteUrgent raises regular-band jobs whose playback is within window to urgent.
func (s *Store) PromoteUrgent(ctx context.Context, window time.Duration, now time.Time) (int, error) {
	res, err := s.execWithRetry(ctx, `UPDATE jobs SET priority = ?, updated_at = ?
        WHERE priority >= ? AND priority < ?
          AND status IN (`+statusList(model.NonTerminalStatuses...)+`)
          AND playback_at <= ?`,
		model.PriorityUrgent, formatTime(now),
		model.PriorityRegular, model.PriorityUrgent,
		formatTime(now.Add(window)),
	)
	if err != nil {
		return 0, fmt.Errorf("promote urgent jobs: %w", err)
	}
	return int(rowsAffected(res)), nil
}

// PurgeCandidates returns terminal jobs created before cutoff whose artifacts
// were not purged yet. Jobs still in the pipeline are left alone until they
// finish.
func (s *Store) PurgeCandidates(ctx context.Context, cutoff time.Time, limit int) ([]*model.Job, error) {
	jobs, err := s.queryJobsWithRetry(ctx,
		"SELECT "+jobColumns+` FROM jobs
        WHERE created_at < ? AND artifacts_purged_at IS NULL
          AND status IN (?, ?, ?)
        ORDER BY created_at ASC
        LIMIT ?`,
		formatTime(cutoff),
		model.JobStatusReady, model.JobStatusFailed, model.JobStatusFailedMissed,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list purge candidates: %w", err)
	}
	return jobs, nil
}

// MarkArtifactsPurged records that a job's objects were deleted and clears its keys.
func (s *Store) MarkArtifactsPurged(ctx context.Context, id string, now time.Time) error {
	ts := formatTime(now)
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			"UPDATE jobs SET artifacts_purged_at = ?, audio_key = NULL, updated_at = ? WHERE id = ?",
			ts, ts, id,
		)
		if err != nil {
			return fmt.Errorf("mark purged: %w", err)
		}
		if rowsAffected(res) == 0 {
			return ErrNotFound
		}
		if _, err := tx.ExecContext(ctx,
			"UPDATE audio_segments SET audio_key = NULL, updated_at = ? WHERE job_id = ?",
			ts, id,
		); err != nil {
			return fmt.Errorf("clear segment keys: %w", err)
		}
		return nil
	})
}
