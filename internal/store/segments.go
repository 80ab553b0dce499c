package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/morningbrief/api/internal/model"
)

const leaseHeld = "EXISTS (SELECT 1 FROM jobs WHERE jobs.id = audio_segments.job_id AND jobs.lease_owner = ?)"

// EnsureSegments creates segment rows for a job the owner holds. Existing rows
// are kept so segments finished on an earlier attempt are reused.
func (s *Store) EnsureSegments(ctx context.Context, jobID, owner string, slices []string, now time.Time) ([]*model.AudioSegment, error) {
	ts := formatTime(now)
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var held int
		if err := tx.QueryRowContext(ctx,
			"SELECT COUNT(1) FROM jobs WHERE id = ? AND lease_owner = ?", jobID, owner,
		).Scan(&held); err != nil {
			return fmt.Errorf("check lease: %w", err)
		}
		if held == 0 {
			return ErrLeaseLost
		}

		for i, slice := range slices {
			if _, err := tx.ExecContext(ctx, `INSERT INTO audio_segments (
                    job_id, segment_index, status, script_slice, updated_at
                ) VALUES (?, ?, ?, ?, ?)
                ON CONFLICT (job_id, segment_index) DO NOTHING`,
				jobID, i, model.SegmentStatusQueued, slice, ts,
			); err != nil {
				return fmt.Errorf("insert segment %d: %w", i, err)
			}
		}
		// A short script may yield fewer slices than requested
		if _, err := tx.ExecContext(ctx, `UPDATE jobs SET
                segment_count = (SELECT COUNT(1) FROM audio_segments WHERE job_id = ?),
                updated_at = ?
            WHERE id = ? AND EXISTS (SELECT 1 FROM audio_segments WHERE job_id = ?)`,
			jobID, ts, jobID, jobID,
		); err != nil {
			return fmt.Errorf("update segment count: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.ListSegments(ctx, jobID)
}

// ListSegments returns a job's segments ordered by index.
func (s *Store) ListSegments(ctx context.Context, jobID string) ([]*model.AudioSegment, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+segmentColumns+" FROM audio_segments WHERE job_id = ? ORDER BY segment_index ASC",
		jobID,
	)
	if err != nil {
		return nil, fmt.Errorf("list segments: %w", err)
	}
	defer rows.Close()

	var segments []*model.AudioSegment
	for rows.Next() {
		seg, err := scanSegment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan segment: %w", err)
		}
		segments = append(segments, seg)
	}
	return segments, rows.Err()
}

// GetSegment fetches one segment.
func (s *Store) GetSegment(ctx context.Context, jobID string, index int) (*model.AudioSegment, error) {
	seg, err := scanSegment(s.db.QueryRowContext(ctx,
		"SELECT "+segmentColumns+" FROM audio_segments WHERE job_id = ? AND segment_index = ?",
		jobID, index,
	))
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get segment: %w", err)
	}
	return seg, nil
}

// StartSegment marks a segment processing and counts the attempt.
func (s *Store) StartSegment(ctx context.Context, jobID, owner string, index int, now time.Time) error {
	res, err := s.execWithRetry(ctx, `UPDATE audio_segments SET
            status = ?, attempts = attempts + 1, updated_at = ?
        WHERE job_id = ? AND segment_index = ? AND `+leaseHeld,
		model.SegmentStatusProcessing, formatTime(now), jobID, index, owner,
	)
	if err != nil {
		return fmt.Errorf("start segment: %w", err)
	}
	if rowsAffected(res) == 0 {
		return ErrLeaseLost
	}
	return nil
}

// CompleteSegment stores a segment artifact and bumps the job's ready counter.
// It returns the number of ready segments after the update.
func (s *Store) CompleteSegment(ctx context.Context, jobID, owner string, index int, audioKey string, billed int, now time.Time) (int, error) {
	ts := formatTime(now)
	var ready int
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE audio_segments SET
                status = ?, audio_key = ?, error = NULL,
                billed_chars = billed_chars + ?, updated_at = ?
            WHERE job_id = ? AND segment_index = ? AND status != ? AND `+leaseHeld,
			model.SegmentStatusReady, audioKey, billed, ts,
			jobID, index, model.SegmentStatusReady, owner,
		)
		if err != nil {
			return fmt.Errorf("complete segment: %w", err)
		}
		if rowsAffected(res) == 0 {
			return ErrLeaseLost
		}
		return tx.QueryRowContext(ctx, `UPDATE jobs SET
                segments_ready = (SELECT COUNT(1) FROM audio_segments WHERE job_id = ? AND status = ?),
                audio_billed_chars = audio_billed_chars + ?,
                updated_at = ?
            WHERE id = ?
            RETURNING segments_ready`,
			jobID, model.SegmentStatusReady, billed, ts, jobID,
		).Scan(&ready)
	})
	if err != nil {
		return 0, err
	}
	return ready, nil
}

// FailSegment records a segment attempt failure.
func (s *Store) FailSegment(ctx context.Context, jobID, owner string, index int, reason string, billed int, now time.Time) error {
	ts := formatTime(now)
	return s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE audio_segments SET
                status = ?, error = ?, billed_chars = billed_chars + ?, updated_at = ?
            WHERE job_id = ? AND segment_index = ? AND `+leaseHeld,
			model.SegmentStatusFailed, reason, billed, ts, jobID, index, owner,
		)
		if err != nil {
			return fmt.Errorf("fail segment: %w", err)
		}
		if rowsAffected(res) == 0 {
			return ErrLeaseLost
		}
		if billed > 0 {
			if _, err := tx.ExecContext(ctx,
				"UPDATE jobs SET audio_billed_chars = audio_billed_chars + ?, updated_at = ? WHERE id = ?",
				billed, ts, jobID,
			); err != nil {
				return fmt.Errorf("bill segment: %w", err)
			}
		}
		return nil
	})
}
