package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Artifact returns the cached rendering for (jobID, format); nil on a miss.
func (s *Store) Artifact(ctx context.Context, jobID int64, format string) (*Artifact, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+artifactColumns+` FROM artifacts WHERE job_id = ? AND format = ?`,
		jobID,
		format,
	)
	artifact, err := scanArtifact(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get artifact: %w", err)
	}
	return artifact, nil
}

// PutArtifact records a rendering. Entries are immutable: when one already
// exists it is kept and returned, and inserted reports false.
func (s *Store) PutArtifact(ctx context.Context, artifact Artifact) (stored *Artifact, inserted bool, err error) {
	if artifact.CreatedAt.IsZero() {
		artifact.CreatedAt = time.Now()
	}
	res, err := s.execWithRetry(
		ctx,
		`INSERT INTO artifacts (`+artifactColumns+`)
         SELECT ?, ?, ?, ?, ?, ?, ?
         WHERE EXISTS (SELECT 1 FROM jobs WHERE id = ? AND status = ? AND deleted_at IS NULL)
         ON CONFLICT (job_id, format) DO NOTHING`,
		artifact.JobID,
		artifact.Format,
		artifact.BlobKey,
		artifact.ContentType,
		artifact.SizeBytes,
		artifact.SHA256,
		formatTime(artifact.CreatedAt),
		artifact.JobID,
		StatusCompleted,
	)
	if err != nil {
		return nil, false, fmt.Errorf("insert artifact: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("rows affected: %w", err)
	}
	stored, err = s.Artifact(ctx, artifact.JobID, artifact.Format)
	if err != nil {
		return nil, false, err
	}
	return stored, affected == 1, nil
}
