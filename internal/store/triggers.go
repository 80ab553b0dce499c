package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/morningbrief/api/internal/model"
)

// Trigger names with persisted cooldowns.
const (
	TriggerContentRefresh = "content:refresh"
	TriggerCleanupFast    = "cleanup:fast"
	TriggerCleanupDeep    = "cleanup:deep"
)

// TryStartTrigger claims a run of the named trigger if at least minInterval
// has passed since the previous start. It returns false while the trigger is
// cooling down. The check and the claim are a single statement, so concurrent
// callers across processes cannot both start.
func (s *Store) TryStartTrigger(ctx context.Context, name string, minInterval time.Duration, now time.Time) (bool, error) {
	var claimed string
	err := retryOnBusy(ctx, func() error {
		claimed = ""
		err := s.db.QueryRowContext(ctx, `INSERT INTO trigger_runs (name, last_started_at)
            VALUES (?, ?)
            ON CONFLICT (name) DO UPDATE SET last_started_at = excluded.last_started_at
            WHERE trigger_runs.last_started_at IS NULL OR trigger_runs.last_started_at <= ?
            RETURNING name`,
			name, formatTime(now), formatTime(now.Add(-minInterval)),
		).Scan(&claimed)
		if err == sql.ErrNoRows {
			return nil
		}
		return err
	})
	if err != nil {
		return false, fmt.Errorf("start trigger %s: %w", name, err)
	}
	return claimed != "", nil
}

// FinishTrigger records the outcome of a trigger run.
func (s *Store) FinishTrigger(ctx context.Context, name string, runErr error, now time.Time) error {
	var err error
	if runErr == nil {
		_, err = s.execWithRetry(ctx,
			"UPDATE trigger_runs SET last_success_at = ?, last_error = NULL WHERE name = ?",
			formatTime(now), name,
		)
	} else {
		_, err = s.execWithRetry(ctx,
			"UPDATE trigger_runs SET last_error = ? WHERE name = ?",
			runErr.Error(), name,
		)
	}
	if err != nil {
		return fmt.Errorf("finish trigger %s: %w", name, err)
	}
	return nil
}

// GetTrigger returns the bookkeeping row for a trigger.
func (s *Store) GetTrigger(ctx context.Context, name string) (*model.TriggerRun, error) {
	var (
		run       model.TriggerRun
		started   sql.NullString
		succeeded sql.NullString
		lastErr   sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		"SELECT name, last_started_at, last_success_at, last_error FROM trigger_runs WHERE name = ?",
		name,
	).Scan(&run.Name, &started, &succeeded, &lastErr)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get trigger %s: %w", name, err)
	}
	run.LastStartedAt = parseNullTime(started)
	run.LastSuccessAt = parseNullTime(succeeded)
	run.LastError = lastErr.String
	return &run, nil
}
