package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/morningbrief/api/internal/model"
)

// UpsertParams carries the generation inputs captured for one (user, local date).
type UpsertParams struct {
	UserID             string
	LocalDate          string
	PlaybackAt         time.Time
	EarliestProcessAt  time.Time
	LatestCompletionAt time.Time
	Priority           int
	Preferences        model.Preferences
	Segmented          bool
	SegmentCount       int
}

// UpsertResult reports what UpsertJob did.
type UpsertResult struct {
	Job         *model.Job
	Created     bool
	Rescheduled bool
}

// UpsertJob creates the job for (user, local date) or reschedules the existing
// one. Rescheduling with changed inputs resets the job to queued and clears its
// lease, outputs and segment rows; identical inputs leave it untouched apart from
// a priority raise.
func (s *Store) UpsertJob(ctx context.Context, p UpsertParams, now time.Time) (*UpsertResult, error) {
	prefsJSON, err := json.Marshal(p.Preferences)
	if err != nil {
		return nil, fmt.Errorf("marshal preferences: %w", err)
	}
	if !p.Segmented {
		p.SegmentCount = 0
	}

	ts := formatTime(now)
	result := &UpsertResult{}

	err = s.withTx(ctx, func(tx *sql.Tx) error {
		result.Created, result.Rescheduled = false, false

		existing, err := scanJob(tx.QueryRowContext(ctx,
			"SELECT "+jobColumns+" FROM jobs WHERE user_id = ? AND local_date = ?",
			p.UserID, p.LocalDate,
		))
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("lookup job: %w", err)
		}

		var id string
		switch {
		case existing == nil:
			id = uuid.NewString()
			_, err = tx.ExecContext(ctx, `INSERT INTO jobs (
                id, user_id, local_date, status, priority,
                playback_at, earliest_process_at, latest_completion_at, next_attempt_at,
                preferences_json, segmented, segment_count, created_at, updated_at
            ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				id, p.UserID, p.LocalDate, model.JobStatusQueued, p.Priority,
				formatTime(p.PlaybackAt), formatTime(p.EarliestProcessAt), formatTime(p.LatestCompletionAt), ts,
				string(prefsJSON), boolToInt(p.Segmented), p.SegmentCount, ts, ts,
			)
			if err != nil {
				return fmt.Errorf("insert job: %w", err)
			}
			result.Created = true

		case sameInputs(existing, p, prefsJSON):
			id = existing.ID
			if p.Priority > existing.Priority && !existing.Status.IsTerminal() {
				if _, err := tx.ExecContext(ctx,
					"UPDATE jobs SET priority = ?, updated_at = ? WHERE id = ?",
					p.Priority, ts, id,
				); err != nil {
					return fmt.Errorf("raise priority: %w", err)
				}
			}

		default:
			id = existing.ID
			_, err = tx.ExecContext(ctx, `UPDATE jobs SET
                status = ?, priority = ?,
                playback_at = ?, earliest_process_at = ?, latest_completion_at = ?,
                script_attempts = 0, audio_attempts = 0, next_attempt_at = ?,
                lease_owner = NULL, lease_expires_at = NULL,
                failure_stage = NULL, failure_reason = NULL,
                preferences_json = ?,
                script = NULL, script_ready_at = NULL,
                audio_key = NULL, audio_ready_at = NULL, audio_provider = NULL,
                segmented = ?, segment_count = ?, segments_ready = 0, segment_fallback = 0,
                artifacts_purged_at = NULL, updated_at = ?
            WHERE id = ?`,
				model.JobStatusQueued, p.Priority,
				formatTime(p.PlaybackAt), formatTime(p.EarliestProcessAt), formatTime(p.LatestCompletionAt),
				ts, string(prefsJSON), boolToInt(p.Segmented), p.SegmentCount, ts, id,
			)
			if err != nil {
				return fmt.Errorf("reschedule job: %w", err)
			}
			if _, err := tx.ExecContext(ctx, "DELETE FROM audio_segments WHERE job_id = ?", id); err != nil {
				return fmt.Errorf("clear segments: %w", err)
			}
			result.Rescheduled = true
		}

		job, err := scanJob(tx.QueryRowContext(ctx, "SELECT "+jobColumns+" FROM jobs WHERE id = ?", id))
		if err != nil {
			return fmt.Errorf("reload job: %w", err)
		}
		result.Job = job
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func sameInputs(existing *model.Job, p UpsertParams, prefsJSON []byte) bool {
	current, err := json.Marshal(existing.Preferences)
	if err != nil {
		return false
	}
	return string(current) == string(prefsJSON) &&
		existing.PlaybackAt.Equal(p.PlaybackAt.UTC().Truncate(time.Nanosecond)) &&
		existing.Segmented == p.Segmented &&
		existing.SegmentCount == p.SegmentCount
}

// GetJob fetches a job by identifier.
func (s *Store) GetJob(ctx context.Context, id string) (*model.Job, error) {
	jobs, err := s.queryJobsWithRetry(ctx, "SELECT "+jobColumns+" FROM jobs WHERE id = ?", id)
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	if len(jobs) == 0 {
		return nil, ErrNotFound
	}
	return jobs[0], nil
}

// GetJobByUserDate fetches the job for a user and local date.
func (s *Store) GetJobByUserDate(ctx context.Context, userID, localDate string) (*model.Job, error) {
	jobs, err := s.queryJobsWithRetry(ctx,
		"SELECT "+jobColumns+" FROM jobs WHERE user_id = ? AND local_date = ?",
		userID, localDate,
	)
	if err != nil {
		return nil, fmt.Errorf("get job by date: %w", err)
	}
	if len(jobs) == 0 {
		return nil, ErrNotFound
	}
	return jobs[0], nil
}

// PendingPreferences returns the preferences of every non-terminal job.
// The content refresher uses it to discover selectors worth refreshing.
func (s *Store) PendingPreferences(ctx context.Context) ([]model.Preferences, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT preferences_json FROM jobs WHERE status IN ("+statusList(model.NonTerminalStatuses...)+")",
	)
	if err != nil {
		return nil, fmt.Errorf("query pending preferences: %w", err)
	}
	defer rows.Close()

	var prefs []model.Preferences
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("scan preferences: %w", err)
		}
		var p model.Preferences
		if err := json.Unmarshal([]byte(raw), &p); err != nil {
			continue
		}
		prefs = append(prefs, p)
	}
	return prefs, rows.Err()
}

// CountByStatus returns the number of jobs per status.
func (s *Store) CountByStatus(ctx context.Context) (map[model.JobStatus]int, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT status, COUNT(*) FROM jobs GROUP BY status")
	if err != nil {
		return nil, fmt.Errorf("count jobs: %w", err)
	}
	defer rows.Close()

	counts := make(map[model.JobStatus]int, len(model.AllJobStatuses))
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan count: %w", err)
		}
		counts[model.JobStatus(status)] = n
	}
	return counts, rows.Err()
}

// ExistingJobIDs returns the subset of ids that have a job record.
func (s *Store) ExistingJobIDs(ctx context.Context, ids []string) (map[string]bool, error) {
	found := make(map[string]bool, len(ids))
	if len(ids) == 0 {
		return found, nil
	}

	const chunk = 500
	for start := 0; start < len(ids); start += chunk {
		end := start + chunk
		if end > len(ids) {
			end = len(ids)
		}
		batch := ids[start:end]
		placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(batch)), ", ")
		args := make([]any, len(batch))
		for i, id := range batch {
			args[i] = id
		}

		rows, err := s.db.QueryContext(ctx, "SELECT id FROM jobs WHERE id IN ("+placeholders+")", args...)
		if err != nil {
			return nil, fmt.Errorf("query job ids: %w", err)
		}
		for rows.Next() {
			var id string
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return nil, fmt.Errorf("scan job id: %w", err)
			}
			found[id] = true
		}
		err = rows.Err()
		rows.Close()
		if err != nil {
			return nil, err
		}
	}
	return found, nil
}
