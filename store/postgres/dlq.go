package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/conductor"
	"github.com/xraph/conductor/dlq"
	"github.com/xraph/conductor/id"
	"github.com/xraph/conductor/job"
)

const dlqColumns = `
	id, job_id, type, queue, priority, parent_job_id, payload, error,
	attempts, max_attempts, failed_at, replayed_at, created_at`

// PushDLQ adds a failed job entry to the dead letter queue.
func (s *Store) PushDLQ(ctx context.Context, entry *dlq.Entry) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO conductor_dlq (`+dlqColumns+`
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		entry.ID.String(), entry.JobID, string(entry.Type), entry.Queue, entry.Priority,
		entry.ParentJobID, entry.Payload, entry.Error,
		entry.Attempts, entry.MaxAttempts, entry.FailedAt, entry.ReplayedAt, entry.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("conductor/postgres: push dlq: %w", err)
	}
	return nil
}

// ListDLQ returns DLQ entries matching the given options, newest first.
func (s *Store) ListDLQ(ctx context.Context, opts dlq.ListOpts) ([]*dlq.Entry, error) {
	query := `SELECT ` + dlqColumns + ` FROM conductor_dlq WHERE 1=1`
	args := []any{}
	argIdx := 1

	if opts.Queue != "" {
		query += fmt.Sprintf(" AND queue = $%d", argIdx)
		args = append(args, opts.Queue)
		argIdx++
	}

	query += " ORDER BY failed_at DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("conductor/postgres: list dlq: %w", err)
	}
	defer rows.Close()

	entries := make([]*dlq.Entry, 0)
	for rows.Next() {
		e, scanErr := scanDLQ(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("conductor/postgres: scan dlq row: %w", scanErr)
		}
		entries = append(entries, e)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("conductor/postgres: iterate dlq rows: %w", err)
	}
	return entries, nil
}

// GetDLQ retrieves a DLQ entry by ID.
func (s *Store) GetDLQ(ctx context.Context, entryID id.DLQID) (*dlq.Entry, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+dlqColumns+` FROM conductor_dlq WHERE id = $1`, entryID.String())

	e, err := scanDLQ(row)
	if err != nil {
		if isNoRows(err) {
			return nil, conductor.ErrDLQNotFound
		}
		return nil, fmt.Errorf("conductor/postgres: get dlq: %w", err)
	}
	return e, nil
}

// ReplayDLQ marks a DLQ entry as replayed.
func (s *Store) ReplayDLQ(ctx context.Context, entryID id.DLQID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE conductor_dlq SET replayed_at = NOW() WHERE id = $1`,
		entryID.String(),
	)
	if err != nil {
		return fmt.Errorf("conductor/postgres: replay dlq: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return conductor.ErrDLQNotFound
	}
	return nil
}

// PurgeDLQ removes DLQ entries with FailedAt before the given time.
// Returns the number of entries removed.
func (s *Store) PurgeDLQ(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM conductor_dlq WHERE failed_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("conductor/postgres: purge dlq: %w", err)
	}
	return tag.RowsAffected(), nil
}

// CountDLQ returns the total number of entries in the dead letter queue.
func (s *Store) CountDLQ(ctx context.Context) (int64, error) {
	var count int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM conductor_dlq`).Scan(&count); err != nil {
		return 0, fmt.Errorf("conductor/postgres: count dlq: %w", err)
	}
	return count, nil
}

// scanDLQ scans a single DLQ entry row.
func scanDLQ(row pgx.Row) (*dlq.Entry, error) {
	var (
		e       dlq.Entry
		idStr   string
		typeStr string
	)
	err := row.Scan(
		&idStr, &e.JobID, &typeStr, &e.Queue, &e.Priority, &e.ParentJobID, &e.Payload, &e.Error,
		&e.Attempts, &e.MaxAttempts, &e.FailedAt, &e.ReplayedAt, &e.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	parsedID, parseErr := id.ParseDLQID(idStr)
	if parseErr != nil {
		return nil, fmt.Errorf("conductor/postgres: parse dlq id %q: %w", idStr, parseErr)
	}
	e.ID = parsedID
	e.Type = job.Type(typeStr)

	return &e, nil
}
