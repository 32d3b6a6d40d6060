package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

// Stats returns a count of items grouped by status.
func (s *Store) Stats(ctx context.Context) (map[Status]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("job stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[Status]int)
	for rows.Next() {
		var status Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

// Health aggregates job state for diagnostic output. Queued jobs are split by
// dispatch tier as of agingCutoff (zero disables aging).
func (s *Store) Health(ctx context.Context, agingCutoff time.Time) (HealthSummary, error) {
	stats, err := s.Stats(ctx)
	if err != nil {
		return HealthSummary{}, err
	}
	health := HealthSummary{}
	for status, count := range stats {
		health.Total += count
		switch status {
		case StatusQueued:
			health.Queued += count
		case StatusProcessing:
			health.Processing += count
		case StatusCompleted:
			health.Completed += count
		case StatusFailed:
			health.Failed += count
		case StatusCancelled:
			health.Cancelled += count
		}
	}

	cutoff := ""
	if !agingCutoff.IsZero() {
		cutoff = formatTime(agingCutoff)
	}
	err = s.db.QueryRowContext(
		ctx,
		`SELECT
             COALESCE(SUM(CASE WHEN tier = ? OR (? <> '' AND created_at <= ?) THEN 1 ELSE 0 END), 0),
             COALESCE(SUM(CASE WHEN tier = ? OR (? <> '' AND created_at <= ?) THEN 0 ELSE 1 END), 0)
         FROM jobs
         WHERE deleted_at IS NULL AND cancel_requested = 0
           AND (status = ? OR (status = ? AND lease_owner IS NULL))`,
		PlanPaid, cutoff, cutoff,
		PlanPaid, cutoff, cutoff,
		StatusQueued, StatusProcessing,
	).Scan(&health.QueuedPaid, &health.QueuedFree)
	if err != nil {
		return HealthSummary{}, fmt.Errorf("queue depth: %w", err)
	}
	return health, nil
}

// CheckHealth returns diagnostic information about the job database.
func (s *Store) CheckHealth(ctx context.Context) (DatabaseHealth, error) {
	health := DatabaseHealth{
		DBPath:        s.path,
		SchemaVersion: schemaVersion,
	}

	if s.path == "" {
		return health, errors.New("job database path is unknown")
	}

	info, err := os.Stat(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			health.DatabaseExists = false
			return health, nil
		}
		return health, fmt.Errorf("stat job database: %w", err)
	}
	if info.IsDir() {
		return health, fmt.Errorf("job database path %q is a directory", s.path)
	}
	health.DatabaseExists = true

	if s.db == nil {
		return health, errors.New("job database connection unavailable")
	}

	connCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := s.db.PingContext(connCtx); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("ping job database: %w", err)
	}
	health.DatabaseReadable = true

	var tableName string
	row := s.db.QueryRowContext(connCtx, "SELECT name FROM sqlite_master WHERE type = 'table' AND name = 'jobs'")
	if err := row.Scan(&tableName); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			health.TableExists = false
		} else {
			health.Error = err.Error()
			return health, fmt.Errorf("query table info: %w", err)
		}
	} else {
		health.TableExists = true
	}

	if health.TableExists {
		colsRows, err := s.db.QueryContext(connCtx, "PRAGMA table_info(jobs)")
		if err != nil {
			health.Error = err.Error()
			return health, fmt.Errorf("table info: %w", err)
		}
		defer colsRows.Close()

		var columns []string
		for colsRows.Next() {
			var (
				cid     int
				name    string
				typeStr string
				notNull int
				dflt    any
				pk      int
			)
			if err := colsRows.Scan(&cid, &name, &typeStr, &notNull, &dflt, &pk); err != nil {
				health.Error = err.Error()
				return health, fmt.Errorf("scan table info: %w", err)
			}
			columns = append(columns, name)
		}
		if err := colsRows.Err(); err != nil {
			health.Error = err.Error()
			return health, fmt.Errorf("iterate table info: %w", err)
		}
		health.ColumnsPresent = append(health.ColumnsPresent, columns...)

		expected := strings.Split(jobColumns, ", ")
		missingMap := make(map[string]struct{}, len(expected))
		for _, col := range expected {
			missingMap[col] = struct{}{}
		}
		for _, col := range columns {
			delete(missingMap, col)
		}
		for col := range missingMap {
			health.MissingColumns = append(health.MissingColumns, col)
		}

		row = s.db.QueryRowContext(connCtx, "SELECT COUNT(*) FROM jobs")
		if err := row.Scan(&health.TotalJobs); err != nil {
			health.Error = err.Error()
			return health, fmt.Errorf("count jobs: %w", err)
		}
	}

	row = s.db.QueryRowContext(connCtx, "PRAGMA integrity_check")
	var integrityResult string
	if err := row.Scan(&integrityResult); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("integrity check: %w", err)
	}
	health.IntegrityCheck = strings.EqualFold(integrityResult, "ok")

	return health, nil
}

// PurgeJobData removes the transcript and cached renderings of a terminal job
// and returns the blob keys the caller should delete from object storage,
// including the uploaded source.
func (s *Store) PurgeJobData(ctx context.Context, id int64) ([]string, error) {
	var keys []string
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		keys = nil
		var (
			status    string
			sourceKey string
		)
		err := tx.QueryRowContext(ctx, `SELECT status, source_key FROM jobs WHERE id = ?`, id).Scan(&status, &sourceKey)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		if !Status(status).IsTerminal() {
			return &TransitionError{JobID: id, From: Status(status), To: StatusCancelled}
		}
		rows, err := tx.QueryContext(ctx, `DELETE FROM artifacts WHERE job_id = ? RETURNING blob_key`, id)
		if err != nil {
			return err
		}
		for rows.Next() {
			var key string
			if err := rows.Scan(&key); err != nil {
				rows.Close()
				return err
			}
			keys = append(keys, key)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM segments WHERE job_id = ?`, id); err != nil {
			return err
		}
		if sourceKey != "" {
			keys = append(keys, sourceKey)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("purge job %d data: %w", id, err)
	}
	return keys, nil
}

// PurgeDeleted removes tombstoned terminal jobs deleted before cutoff.
func (s *Store) PurgeDeleted(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.execWithRetry(
		ctx,
		`DELETE FROM jobs WHERE deleted_at IS NOT NULL AND deleted_at < ? AND status IN (?, ?, ?)`,
		formatTime(cutoff),
		StatusCompleted,
		StatusFailed,
		StatusCancelled,
	)
	if err != nil {
		return 0, fmt.Errorf("purge deleted jobs: %w", err)
	}
	return res.RowsAffected()
}
