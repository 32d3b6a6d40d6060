package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ClaimNext leases the next dispatchable job to owner. Paid jobs, and free jobs
// created at or before agingCutoff, come first; ties go to the oldest job.
// A zero agingCutoff disables aging. Returns nil when nothing is dispatchable.
func (s *Store) ClaimNext(ctx context.Context, owner string, leaseUntil, agingCutoff time.Time) (*Job, error) {
	if owner == "" {
		return nil, errors.New("lease owner is required")
	}
	ctx = ensureContext(ctx)
	cutoff := ""
	if !agingCutoff.IsZero() {
		cutoff = formatTime(agingCutoff)
	}

	var job *Job
	err := retryOnBusy(ctx, func() error {
		row := s.db.QueryRowContext(
			ctx,
			`UPDATE jobs
             SET status = ?, lease_owner = ?, lease_expires_at = ?, attempts = attempts + 1, updated_at = ?
             WHERE id = (
                 SELECT id FROM jobs
                 WHERE cancel_requested = 0 AND deleted_at IS NULL
                   AND (status = ? OR (status = ? AND lease_owner IS NULL))
                 ORDER BY CASE WHEN tier = ? OR (? <> '' AND created_at <= ?) THEN 0 ELSE 1 END, created_at, id
                 LIMIT 1
             )
             RETURNING `+jobColumns,
			StatusProcessing,
			owner,
			formatTime(leaseUntil),
			formatTime(time.Now()),
			StatusQueued,
			StatusProcessing,
			PlanPaid,
			cutoff,
			cutoff,
		)
		claimed, err := scanJob(row)
		if errors.Is(err, sql.ErrNoRows) {
			job = nil
			return nil
		}
		if err != nil {
			return err
		}
		job = claimed
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("claim job: %w", err)
	}
	return job, nil
}

// Heartbeat extends the lease held by owner and reports whether cancellation
// has been requested. ErrLeaseLost means another worker or the reclaimer owns
// the job now.
func (s *Store) Heartbeat(ctx context.Context, id int64, owner string, leaseUntil time.Time) (bool, error) {
	ctx = ensureContext(ctx)
	var cancelRequested int
	err := retryOnBusy(ctx, func() error {
		return s.db.QueryRowContext(
			ctx,
			`UPDATE jobs SET lease_expires_at = ?, updated_at = ?
             WHERE id = ? AND status = ? AND lease_owner = ?
             RETURNING cancel_requested`,
			formatTime(leaseUntil),
			formatTime(time.Now()),
			id,
			StatusProcessing,
			owner,
		).Scan(&cancelRequested)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return false, ErrLeaseLost
	}
	if err != nil {
		return false, fmt.Errorf("update heartbeat: %w", err)
	}
	return cancelRequested != 0, nil
}

// UpdateProgress records the current stage and a coarse percentage.
func (s *Store) UpdateProgress(ctx context.Context, id int64, owner, stage string, percent float64) error {
	return s.leaseGuardedUpdate(ctx, id, owner, StatusProcessing,
		`progress_stage = ?, progress_percent = ?`,
		nullableString(stage), clampPercent(percent))
}

// RecordDetectedLanguage stores the language reported by detection.
func (s *Store) RecordDetectedLanguage(ctx context.Context, id int64, owner, language string) error {
	return s.leaseGuardedUpdate(ctx, id, owner, StatusProcessing,
		`detected_language = ?`, nullableString(language))
}

// Complete persists the transcript and moves the job to completed in one
// transaction. It refuses when the lease is gone or cancellation is pending.
func (s *Store) Complete(ctx context.Context, id int64, owner string, segments []Segment) error {
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		if err := s.checkLease(ctx, tx, id, owner, StatusCompleted, true); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM segments WHERE job_id = ?`, id); err != nil {
			return fmt.Errorf("clear segments: %w", err)
		}
		stmt, err := tx.PrepareContext(ctx, `INSERT INTO segments (job_id, idx, speaker, start_ms, end_ms, text) VALUES (?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("prepare segment insert: %w", err)
		}
		defer stmt.Close()
		for _, seg := range segments {
			text, err := s.sealer.Seal(seg.Text, segmentAAD(id, seg.Index))
			if err != nil {
				return fmt.Errorf("seal segment %d: %w", seg.Index, err)
			}
			if _, err := stmt.ExecContext(ctx, id, seg.Index, nullableString(seg.Speaker), seg.StartMS, seg.EndMS, text); err != nil {
				return fmt.Errorf("insert segment %d: %w", seg.Index, err)
			}
		}
		_, err = tx.ExecContext(
			ctx,
			`UPDATE jobs
             SET status = ?, progress_stage = NULL, progress_percent = 100,
                 lease_owner = NULL, lease_expires_at = NULL, updated_at = ?
             WHERE id = ?`,
			StatusCompleted,
			formatTime(time.Now()),
			id,
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("complete job %d: %w", id, err)
	}
	return nil
}

// Fail moves a leased job to failed, recording the stage and cause.
func (s *Store) Fail(ctx context.Context, id int64, owner, stage, message string) error {
	if message == "" {
		message = "job failed"
	}
	return s.leaseGuardedUpdate(ctx, id, owner, StatusFailed,
		`status = ?, failed_stage = ?, error_message = ?, lease_owner = NULL, lease_expires_at = NULL`,
		StatusFailed, nullableString(stage), message)
}

// Cancel moves a leased job to cancelled and releases the lease.
func (s *Store) Cancel(ctx context.Context, id int64, owner string) error {
	return s.leaseGuardedUpdate(ctx, id, owner, StatusCancelled,
		`status = ?, progress_stage = NULL, lease_owner = NULL, lease_expires_at = NULL`,
		StatusCancelled)
}

// ReclaimExpired sweeps processing jobs whose lease lapsed before now. Jobs
// awaiting cancellation are cancelled; the rest lose their lease owner so any
// worker can claim them again. Status never moves backward.
func (s *Store) ReclaimExpired(ctx context.Context, now time.Time) (ReclaimResult, error) {
	var result ReclaimResult
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		result = ReclaimResult{}
		timestamp := formatTime(now)
		rows, err := tx.QueryContext(
			ctx,
			`UPDATE jobs
             SET status = ?, progress_stage = NULL, lease_owner = NULL, lease_expires_at = NULL, updated_at = ?
             WHERE status = ? AND cancel_requested = 1
               AND (lease_owner IS NULL OR lease_expires_at < ?)
             RETURNING id`,
			StatusCancelled,
			timestamp,
			StatusProcessing,
			timestamp,
		)
		if err != nil {
			return err
		}
		for rows.Next() {
			var id int64
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return err
			}
			result.Cancelled = append(result.Cancelled, id)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		res, err := tx.ExecContext(
			ctx,
			`UPDATE jobs
             SET lease_owner = NULL, lease_expires_at = NULL,
                 progress_stage = 'reclaimed', progress_percent = 0, updated_at = ?
             WHERE status = ? AND lease_owner IS NOT NULL AND lease_expires_at < ?`,
			timestamp,
			StatusProcessing,
			timestamp,
		)
		if err != nil {
			return err
		}
		result.Released, err = res.RowsAffected()
		return err
	})
	if err != nil {
		return ReclaimResult{}, fmt.Errorf("reclaim expired leases: %w", err)
	}
	return result, nil
}

// ResetStuckProcessing releases every lease. It runs at daemon start, when no
// worker from a previous process can still be alive.
func (s *Store) ResetStuckProcessing(ctx context.Context) (int64, error) {
	res, err := s.execWithRetry(
		ctx,
		`UPDATE jobs
         SET lease_owner = NULL, lease_expires_at = NULL,
             progress_stage = 'reset after restart', progress_percent = 0, updated_at = ?
         WHERE status = ? AND lease_owner IS NOT NULL`,
		formatTime(time.Now()),
		StatusProcessing,
	)
	if err != nil {
		return 0, fmt.Errorf("reset stuck jobs: %w", err)
	}
	return res.RowsAffected()
}

func (s *Store) leaseGuardedUpdate(ctx context.Context, id int64, owner string, target Status, set string, args ...any) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := s.checkLease(ctx, tx, id, owner, target, false); err != nil {
			return err
		}
		query := `UPDATE jobs SET ` + set + `, updated_at = ? WHERE id = ?`
		params := append(append([]any{}, args...), formatTime(time.Now()), id)
		_, err := tx.ExecContext(ctx, query, params...)
		return err
	})
}

// checkLease verifies owner holds a processing lease on the job and that
// moving to target is legal.
func (s *Store) checkLease(ctx context.Context, tx *sql.Tx, id int64, owner string, target Status, refuseCancelled bool) error {
	var (
		status          string
		leaseOwner      sql.NullString
		cancelRequested int
	)
	err := tx.QueryRowContext(ctx, `SELECT status, lease_owner, cancel_requested FROM jobs WHERE id = ?`, id).
		Scan(&status, &leaseOwner, &cancelRequested)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrLeaseLost
	}
	if err != nil {
		return err
	}
	current := Status(status)
	if target != StatusProcessing && !CanTransition(current, target) {
		return &TransitionError{JobID: id, From: current, To: target}
	}
	if current != StatusProcessing || leaseOwner.String != owner {
		return ErrLeaseLost
	}
	if refuseCancelled && cancelRequested != 0 {
		return ErrCancelRequested
	}
	return nil
}

func clampPercent(value float64) float64 {
	switch {
	case value < 0:
		return 0
	case value > 100:
		return 100
	default:
		return value
	}
}
