package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// CreateJob inserts a queued job.
func (s *Store) CreateJob(ctx context.Context, spec NewJob) (*Job, error) {
	if spec.OwnerID == 0 {
		return nil, errors.New("job owner is required")
	}
	if strings.TrimSpace(spec.SourceKey) == "" {
		return nil, errors.New("job source key is required")
	}
	if _, ok := ParseMode(string(spec.Mode)); !ok {
		return nil, fmt.Errorf("unknown mode %q", spec.Mode)
	}
	if spec.Tier == "" {
		spec.Tier = PlanFree
	}
	sourceLanguage := strings.TrimSpace(spec.SourceLanguage)
	if sourceLanguage == "" {
		sourceLanguage = AutoLanguage
	}
	timestamp := formatTime(time.Now())

	res, err := s.execWithRetry(
		ctx,
		`INSERT INTO jobs (
            owner_id, filename, source_key, size_bytes, duration_ms, mode,
            source_language, target_language, restore_audio, speaker_recognition,
            tier, status, progress_percent, attempts, cancel_requested, created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, 0, 0, ?, ?)`,
		spec.OwnerID,
		spec.Filename,
		spec.SourceKey,
		spec.SizeBytes,
		spec.DurationMS,
		spec.Mode,
		sourceLanguage,
		nullableString(spec.TargetLanguage),
		boolToInt(spec.RestoreAudio),
		boolToInt(spec.SpeakerRecognition),
		spec.Tier,
		StatusQueued,
		timestamp,
		timestamp,
	)
	if err != nil {
		return nil, fmt.Errorf("insert job: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetJob(ctx, id)
}

// GetJob fetches a job by identifier regardless of owner; nil when absent.
func (s *Store) GetJob(ctx context.Context, id int64) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// JobForOwner fetches a visible job owned by ownerID. Foreign and deleted
// jobs are reported as absent.
func (s *Store) JobForOwner(ctx context.Context, id, ownerID int64) (*Job, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE id = ? AND owner_id = ? AND deleted_at IS NULL`,
		id,
		ownerID,
	)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get owned job: %w", err)
	}
	return job, nil
}

// ListJobs returns jobs matching the filter, newest first.
func (s *Store) ListJobs(ctx context.Context, filter JobFilter) ([]*Job, error) {
	var (
		clauses []string
		args    []any
	)
	if filter.OwnerID != 0 {
		clauses = append(clauses, "owner_id = ?")
		args = append(args, filter.OwnerID)
	}
	if !filter.IncludeDeleted {
		clauses = append(clauses, "deleted_at IS NULL")
	}
	if len(filter.Statuses) > 0 {
		clauses = append(clauses, "status IN ("+makePlaceholders(len(filter.Statuses))+")")
		args = append(args, statusArgs(filter.Statuses)...)
	}

	query := `SELECT ` + jobColumns + ` FROM jobs`
	if len(clauses) > 0 {
		query += ` WHERE ` + strings.Join(clauses, " AND ")
	}
	query += ` ORDER BY created_at DESC, id DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// RequestCancel hides a job from its owner and asks any worker to stop.
// A queued job is cancelled immediately; a processing job keeps its status
// until the worker releases it. The returned job reflects the new state; nil
// means the job is absent, foreign, or already deleted.
func (s *Store) RequestCancel(ctx context.Context, id, ownerID int64, now time.Time) (*Job, error) {
	var job *Job
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		job = nil
		timestamp := formatTime(now)
		res, err := tx.ExecContext(
			ctx,
			`UPDATE jobs
             SET deleted_at = ?, cancel_requested = 1, updated_at = ?,
                 status = CASE status WHEN ? THEN ? ELSE status END
             WHERE id = ? AND owner_id = ? AND deleted_at IS NULL`,
			timestamp,
			timestamp,
			StatusQueued, StatusCancelled,
			id,
			ownerID,
		)
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			return nil
		}
		job, err = scanJob(tx.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("request cancel: %w", err)
	}
	return job, nil
}

// CancelRequested reports whether cancellation has been requested for a job.
func (s *Store) CancelRequested(ctx context.Context, id int64) (bool, error) {
	var flag int
	err := s.db.QueryRowContext(ctx, `SELECT cancel_requested FROM jobs WHERE id = ?`, id).Scan(&flag)
	if errors.Is(err, sql.ErrNoRows) {
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("read cancel flag: %w", err)
	}
	return flag != 0, nil
}
