package queue

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
)

// Segments returns a job's transcript in index order.
func (s *Store) Segments(ctx context.Context, jobID int64) ([]Segment, error) {
	rows, err := s.db.QueryContext(
		ctx,
		`SELECT idx, speaker, start_ms, end_ms, text FROM segments WHERE job_id = ? ORDER BY idx`,
		jobID,
	)
	if err != nil {
		return nil, fmt.Errorf("query segments: %w", err)
	}
	defer rows.Close()

	var segments []Segment
	for rows.Next() {
		var (
			seg     Segment
			speaker sql.NullString
			stored  string
		)
		if err := rows.Scan(&seg.Index, &speaker, &seg.StartMS, &seg.EndMS, &stored); err != nil {
			return nil, fmt.Errorf("scan segment: %w", err)
		}
		seg.Speaker = speaker.String
		seg.Text, err = s.sealer.Open(stored, segmentAAD(jobID, seg.Index))
		if err != nil {
			return nil, fmt.Errorf("open segment %d of job %d: %w", seg.Index, jobID, err)
		}
		segments = append(segments, seg)
	}
	return segments, rows.Err()
}

// SegmentCount returns how many segments a job has.
func (s *Store) SegmentCount(ctx context.Context, jobID int64) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM segments WHERE job_id = ?`, jobID).Scan(&count); err != nil {
		return 0, fmt.Errorf("count segments: %w", err)
	}
	return count, nil
}

// segmentAAD binds sealed text to its row so ciphertext cannot be moved
// between segments or jobs.
func segmentAAD(jobID int64, index int) []byte {
	return []byte("job:" + strconv.FormatInt(jobID, 10) + ":segment:" + strconv.Itoa(index))
}
