package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/conductor"
	"github.com/xraph/conductor/id"
	"github.com/xraph/conductor/job"
)

const jobColumns = `
	id, type, queue, priority, payload, parent_job_id, metadata,
	state, attempts, max_attempts, last_error, result, spawned_child_ids,
	processing_time, worker_id, run_at, started_at, completed_at,
	heartbeat_at, timeout, created_at, updated_at`

// EnqueueJob persists a new job in waiting state.
func (s *Store) EnqueueJob(ctx context.Context, j *job.Job) error {
	meta, err := json.Marshal(j.Metadata)
	if err != nil {
		return fmt.Errorf("conductor/postgres: encode metadata: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO conductor_jobs (`+jobColumns+`
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7,
			$8, $9, $10, $11, $12, $13,
			$14, $15, $16, $17, $18,
			$19, $20, $21, $22
		)`,
		j.ID, string(j.Type), j.Queue, j.Priority, j.Payload, j.ParentJobID, meta,
		string(j.State), j.Attempts, j.MaxAttempts, j.LastError, j.Result, j.SpawnedChildIDs,
		j.ProcessingTime.Nanoseconds(), j.WorkerID.String(), j.RunAt, j.StartedAt, j.CompletedAt,
		j.HeartbeatAt, j.Timeout.Nanoseconds(), j.CreatedAt, j.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return conductor.ErrJobAlreadyExists
		}
		return fmt.Errorf("conductor/postgres: enqueue job: %w", err)
	}
	return nil
}

// DequeueJobs atomically claims up to limit due jobs from the given
// queues, sets them active, and returns them. Uses SELECT FOR UPDATE
// SKIP LOCKED for concurrent-safe dequeue.
func (s *Store) DequeueJobs(ctx context.Context, queues []string, limit int) ([]*job.Job, error) {
	if limit <= 0 {
		limit = 1
	}
	rows, err := s.pool.Query(ctx, `
		WITH dequeued AS (
			UPDATE conductor_jobs
			SET state = 'active', started_at = NOW(), heartbeat_at = NOW(), updated_at = NOW()
			WHERE id IN (
				SELECT id FROM conductor_jobs
				WHERE state = 'waiting'
				  AND queue = ANY($1)
				  AND run_at <= NOW()
				ORDER BY priority ASC, run_at ASC, created_at ASC
				FOR UPDATE SKIP LOCKED
				LIMIT $2
			)
			RETURNING `+jobColumns+`
		)
		SELECT * FROM dequeued ORDER BY priority ASC, run_at ASC, created_at ASC`,
		queues, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("conductor/postgres: dequeue jobs: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID string) (*job.Job, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM conductor_jobs WHERE id = $1`, jobID)

	j, err := scanJob(row)
	if err != nil {
		if isNoRows(err) {
			return nil, conductor.ErrJobNotFound
		}
		return nil, fmt.Errorf("conductor/postgres: get job: %w", err)
	}
	return j, nil
}

// UpdateJob persists changes to an existing job.
func (s *Store) UpdateJob(ctx context.Context, j *job.Job) error {
	meta, err := json.Marshal(j.Metadata)
	if err != nil {
		return fmt.Errorf("conductor/postgres: encode metadata: %w", err)
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE conductor_jobs SET
			type = $2, queue = $3, priority = $4, payload = $5,
			parent_job_id = $6, metadata = $7, state = $8,
			attempts = $9, max_attempts = $10, last_error = $11,
			result = $12, spawned_child_ids = $13, processing_time = $14,
			worker_id = $15, run_at = $16, started_at = $17,
			completed_at = $18, heartbeat_at = $19, timeout = $20,
			updated_at = NOW()
		WHERE id = $1`,
		j.ID, string(j.Type), j.Queue, j.Priority, j.Payload,
		j.ParentJobID, meta, string(j.State),
		j.Attempts, j.MaxAttempts, j.LastError,
		j.Result, j.SpawnedChildIDs, j.ProcessingTime.Nanoseconds(),
		j.WorkerID.String(), j.RunAt, j.StartedAt,
		j.CompletedAt, j.HeartbeatAt, j.Timeout.Nanoseconds(),
	)
	if err != nil {
		return fmt.Errorf("conductor/postgres: update job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return conductor.ErrJobNotFound
	}
	return nil
}

// DeleteJob removes a job by ID.
func (s *Store) DeleteJob(ctx context.Context, jobID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM conductor_jobs WHERE id = $1`, jobID)
	if err != nil {
		return fmt.Errorf("conductor/postgres: delete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return conductor.ErrJobNotFound
	}
	return nil
}

// ListJobsByState returns jobs matching the given state.
func (s *Store) ListJobsByState(ctx context.Context, state job.State, opts job.ListOpts) ([]*job.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM conductor_jobs WHERE state = $1`
	args := []any{string(state)}
	argIdx := 2

	if opts.Queue != "" {
		query += fmt.Sprintf(" AND queue = $%d", argIdx)
		args = append(args, opts.Queue)
		argIdx++
	}

	query += " ORDER BY created_at ASC"

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
		return nil, fmt.Errorf("conductor/postgres: list jobs by state: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

// HeartbeatJob updates the heartbeat timestamp for an active job.
func (s *Store) HeartbeatJob(ctx context.Context, jobID string, workerID id.WorkerID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE conductor_jobs SET heartbeat_at = NOW(), worker_id = $2, updated_at = NOW() WHERE id = $1`,
		jobID, workerID.String(),
	)
	if err != nil {
		return fmt.Errorf("conductor/postgres: heartbeat job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return conductor.ErrJobNotFound
	}
	return nil
}

// ReapStaleJobs returns active jobs whose last heartbeat is older than
// the given threshold.
func (s *Store) ReapStaleJobs(ctx context.Context, threshold time.Duration) ([]*job.Job, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+jobColumns+`
		FROM conductor_jobs
		WHERE state = 'active'
		  AND heartbeat_at IS NOT NULL
		  AND heartbeat_at < $1`,
		time.Now().UTC().Add(-threshold),
	)
	if err != nil {
		return nil, fmt.Errorf("conductor/postgres: reap stale jobs: %w", err)
	}
	defer rows.Close()

	return collectJobs(rows)
}

// CountJobs returns the number of jobs matching the given options.
func (s *Store) CountJobs(ctx context.Context, opts job.CountOpts) (int64, error) {
	query := `SELECT COUNT(*) FROM conductor_jobs WHERE 1=1`
	args := []any{}
	argIdx := 1

	if opts.Queue != "" {
		query += fmt.Sprintf(" AND queue = $%d", argIdx)
		args = append(args, opts.Queue)
		argIdx++
	}
	if opts.State != "" {
		query += fmt.Sprintf(" AND state = $%d", argIdx)
		args = append(args, string(opts.State))
		argIdx++
	}
	if !opts.RunAfter.IsZero() {
		query += fmt.Sprintf(" AND run_at > $%d", argIdx)
		args = append(args, opts.RunAfter)
	}

	var count int64
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("conductor/postgres: count jobs: %w", err)
	}
	return count, nil
}

// PurgeJobs deletes terminal jobs last updated before cutoff.
func (s *Store) PurgeJobs(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM conductor_jobs WHERE state IN ('completed', 'failed') AND updated_at < $1`,
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("conductor/postgres: purge jobs: %w", err)
	}
	return tag.RowsAffected(), nil
}

// scanJob scans a single job row.
func scanJob(row pgx.Row) (*job.Job, error) {
	var (
		j          job.Job
		typeStr    string
		stateStr   string
		meta       []byte
		workerStr  string
		processing int64
		timeoutNs  int64
	)
	err := row.Scan(
		&j.ID, &typeStr, &j.Queue, &j.Priority, &j.Payload, &j.ParentJobID, &meta,
		&stateStr, &j.Attempts, &j.MaxAttempts, &j.LastError, &j.Result, &j.SpawnedChildIDs,
		&processing, &workerStr, &j.RunAt, &j.StartedAt, &j.CompletedAt,
		&j.HeartbeatAt, &timeoutNs, &j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	j.Type = job.Type(typeStr)
	j.State = job.State(stateStr)
	j.ProcessingTime = time.Duration(processing)
	j.Timeout = time.Duration(timeoutNs)

	if len(meta) > 0 {
		if metaErr := json.Unmarshal(meta, &j.Metadata); metaErr != nil {
			return nil, fmt.Errorf("conductor/postgres: decode metadata of %q: %w", j.ID, metaErr)
		}
	}

	if workerStr != "" {
		if parsed, workerErr := id.ParseWorkerID(workerStr); workerErr == nil {
			j.WorkerID = parsed
		}
	}

	return &j, nil
}

// collectJobs collects all jobs from query rows.
func collectJobs(rows pgx.Rows) ([]*job.Job, error) {
	jobs := make([]*job.Job, 0)
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("conductor/postgres: scan job row: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("conductor/postgres: iterate job rows: %w", err)
	}
	return jobs, nil
}
