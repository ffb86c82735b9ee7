package ext

import (
	"context"
	"time"

	"github.com/xraph/conductor/job"
)

// Extension is the base interface all extensions must implement.
type Extension interface {
	// Name returns a unique human-readable name for the extension.
	Name() string
}

// ──────────────────────────────────────────────────
// Job lifecycle hooks
// ──────────────────────────────────────────────────

// JobEnqueued is called after a job is stored in its queue.
type JobEnqueued interface {
	OnJobEnqueued(ctx context.Context, j *job.Job) error
}

// JobStarted is called when a worker begins executing a job.
type JobStarted interface {
	OnJobStarted(ctx context.Context, j *job.Job) error
}

// JobCompleted is called after a job finishes successfully. j.Result
// holds the encoded result.
type JobCompleted interface {
	OnJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) error
}

// JobFailed is called when a job fails terminally.
type JobFailed interface {
	OnJobFailed(ctx context.Context, j *job.Job, err error) error
}

// JobRetrying is called when an attempt fails and the job is rescheduled.
type JobRetrying interface {
	OnJobRetrying(ctx context.Context, j *job.Job, attempt int, nextRunAt time.Time) error
}

// JobDLQ is called when a failed job is copied to the dead-letter queue.
type JobDLQ interface {
	OnJobDLQ(ctx context.Context, j *job.Job, err error) error
}

// ──────────────────────────────────────────────────
// Fan-out hooks
// ──────────────────────────────────────────────────

// ChildSpawned is called after a handler's child job is registered with
// the dependency tracker and enqueued.
type ChildSpawned interface {
	OnChildSpawned(ctx context.Context, parentJobID string, child *job.Job) error
}

// WorkflowCompleted is called once per parent when its last outstanding
// child finishes. failedChildren counts children that ended in failure.
type WorkflowCompleted interface {
	OnWorkflowCompleted(ctx context.Context, parentJobID string, failedChildren int) error
}

// ──────────────────────────────────────────────────
// Other lifecycle hooks
// ──────────────────────────────────────────────────

// ScheduleFired is called when a scheduled submission enqueues a job.
type ScheduleFired interface {
	OnScheduleFired(ctx context.Context, scheduleName, jobID string) error
}

// Shutdown is called during graceful shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
