package job

import (
	"context"
	"time"

	"github.com/xraph/conductor/id"
)

// ListOpts controls pagination and filtering for job list queries.
type ListOpts struct {
	// Limit is the maximum number of jobs to return. Zero means no limit.
	Limit int
	// Offset is the number of jobs to skip.
	Offset int
	// Queue filters by queue name. Empty means all queues.
	Queue string
}

// CountOpts controls filtering for job count queries.
type CountOpts struct {
	// Queue filters by queue name. Empty means all queues.
	Queue string
	// State filters by job state. Empty means all states.
	State State
	// RunAfter, when non-zero, counts only jobs whose RunAt is later. With
	// State set to StateWaiting this counts delayed jobs.
	RunAfter time.Time
}

// Store defines the persistence contract for jobs.
type Store interface {
	// EnqueueJob persists a new job in waiting state. It returns
	// conductor.ErrJobAlreadyExists if the ID is taken.
	EnqueueJob(ctx context.Context, j *Job) error

	// DequeueJobs atomically claims up to limit due jobs from the given
	// queues, marks them active, and returns them ordered by Less.
	DequeueJobs(ctx context.Context, queues []string, limit int) ([]*Job, error)

	// GetJob retrieves a job by ID.
	GetJob(ctx context.Context, jobID string) (*Job, error)

	// UpdateJob persists changes to an existing job, moving it between
	// the waiting and active indexes as its state requires.
	UpdateJob(ctx context.Context, j *Job) error

	// DeleteJob removes a job by ID.
	DeleteJob(ctx context.Context, jobID string) error

	// ListJobsByState returns jobs matching the given state.
	ListJobsByState(ctx context.Context, state State, opts ListOpts) ([]*Job, error)

	// HeartbeatJob records that workerID still holds an active job.
	HeartbeatJob(ctx context.Context, jobID string, workerID id.WorkerID) error

	// ReapStaleJobs returns active jobs whose last heartbeat is older
	// than threshold.
	ReapStaleJobs(ctx context.Context, threshold time.Duration) ([]*Job, error)

	// CountJobs returns the number of jobs matching the given options.
	CountJobs(ctx context.Context, opts CountOpts) (int64, error)

	// PurgeJobs deletes terminal jobs last updated before cutoff and
	// returns how many were removed.
	PurgeJobs(ctx context.Context, cutoff time.Time) (int64, error)
}
