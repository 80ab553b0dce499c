package store

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/morningbrief/api/internal/model"
)

// LeaseParams bounds one lease batch.
type LeaseParams struct {
	Stage       model.Stage
	Owner       string
	Limit       int
	Duration    time.Duration
	MaxAttempts int
}

// LeaseJobs atomically claims up to Limit jobs eligible for the stage and
// returns them ordered by priority (highest first) then creation time.
//
// Eligible jobs wait in the stage's entry status, or sit in its processing
// status with an expired lease left behind by a crashed worker. The stage
// attempt counter is incremented as part of the claim.
func (s *Store) LeaseJobs(ctx context.Context, p LeaseParams, now time.Time) ([]*model.Job, error) {
	if p.Limit <= 0 {
		return nil, nil
	}
	if p.Owner == "" {
		return nil, fmt.Errorf("lease owner is required")
	}

	attemptsCol := attemptsColumn(p.Stage)
	ts := formatTime(now)

	query := `UPDATE jobs SET
            status = ?,
            lease_owner = ?,
            lease_expires_at = ?,
            ` + attemptsCol + ` = ` + attemptsCol + ` + 1,
            updated_at = ?
        WHERE id IN (
            SELECT id FROM jobs
            WHERE (status = ? OR (status = ? AND (lease_expires_at IS NULL OR lease_expires_at <= ?)))
              AND earliest_process_at <= ?
              AND next_attempt_at <= ?
              AND latest_completion_at >= ?
              AND ` + attemptsCol + ` < ?
            ORDER BY priority DESC, created_at ASC
            LIMIT ?
        )
        RETURNING ` + jobColumns

	jobs, err := s.queryJobsWithRetry(ctx, query,
		p.Stage.ProcessingStatus(), p.Owner, formatTime(now.Add(p.Duration)), ts,
		p.Stage.EligibleStatus(), p.Stage.ProcessingStatus(), ts,
		ts, ts, ts, p.MaxAttempts, p.Limit,
	)
	if err != nil {
		return nil, fmt.Errorf("lease %s jobs: %w", p.Stage, err)
	}

	sort.SliceStable(jobs, func(i, j int) bool {
		if jobs[i].Priority != jobs[j].Priority {
			return jobs[i].Priority > jobs[j].Priority
		}
		return jobs[i].CreatedAt.Before(jobs[j].CreatedAt)
	})
	return jobs, nil
}

// ExtendLease pushes the lease expiry of a job the owner still holds.
func (s *Store) ExtendLease(ctx context.Context, id, owner string, until time.Time) error {
	res, err := s.execWithRetry(ctx,
		"UPDATE jobs SET lease_expires_at = ?, updated_at = ? WHERE id = ? AND lease_owner = ?",
		formatTime(until), formatTime(time.Now()), id, owner,
	)
	if err != nil {
		return fmt.Errorf("extend lease: %w", err)
	}
	if rowsAffected(res) == 0 {
		return ErrLeaseLost
	}
	return nil
}

func attemptsColumn(stage model.Stage) string {
	if stage == model.StageAudio {
		return "audio_attempts"
	}
	return "script_attempts"
}

func billedColumn(stage model.Stage) string {
	if stage == model.StageAudio {
		return "audio_billed_chars"
	}
	return "script_billed_chars"
}
