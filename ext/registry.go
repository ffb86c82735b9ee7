package ext

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/conductor/job"
)

// entry pairs a hook implementation with the extension name captured at
// registration time.
type entry[H any] struct {
	name string
	hook H
}

// Registry holds registered extensions and dispatches lifecycle events to
// them. Hook implementations are cached per interface at registration so
// each emit iterates only over interested extensions.
//
// Register must not be called concurrently with the Emit methods; the
// engine registers everything before Start.
type Registry struct {
	extensions []Extension
	logger     *slog.Logger

	jobEnqueued       []entry[JobEnqueued]
	jobStarted        []entry[JobStarted]
	jobCompleted      []entry[JobCompleted]
	jobFailed         []entry[JobFailed]
	jobRetrying       []entry[JobRetrying]
	jobDLQ            []entry[JobDLQ]
	childSpawned      []entry[ChildSpawned]
	workflowCompleted []entry[WorkflowCompleted]
	scheduleFired     []entry[ScheduleFired]
	shutdown          []entry[Shutdown]
}

// NewRegistry creates an extension registry with the given logger.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{logger: logger}
}

// Register adds an extension and caches every hook it implements.
// Extensions are notified in registration order.
func (r *Registry) Register(e Extension) {
	r.extensions = append(r.extensions, e)
	name := e.Name()

	r.jobEnqueued = collect(r.jobEnqueued, name, e)
	r.jobStarted = collect(r.jobStarted, name, e)
	r.jobCompleted = collect(r.jobCompleted, name, e)
	r.jobFailed = collect(r.jobFailed, name, e)
	r.jobRetrying = collect(r.jobRetrying, name, e)
	r.jobDLQ = collect(r.jobDLQ, name, e)
	r.childSpawned = collect(r.childSpawned, name, e)
	r.workflowCompleted = collect(r.workflowCompleted, name, e)
	r.scheduleFired = collect(r.scheduleFired, name, e)
	r.shutdown = collect(r.shutdown, name, e)
}

func collect[H any](list []entry[H], name string, e Extension) []entry[H] {
	if h, ok := e.(H); ok {
		return append(list, entry[H]{name: name, hook: h})
	}
	return list
}

// Extensions returns all registered extensions.
func (r *Registry) Extensions() []Extension { return r.extensions }

// ──────────────────────────────────────────────────
// Job event emitters
// ──────────────────────────────────────────────────

// EmitJobEnqueued notifies all extensions that implement JobEnqueued.
func (r *Registry) EmitJobEnqueued(ctx context.Context, j *job.Job) {
	for _, e := range r.jobEnqueued {
		r.check("OnJobEnqueued", e.name, e.hook.OnJobEnqueued(ctx, j))
	}
}

// EmitJobStarted notifies all extensions that implement JobStarted.
func (r *Registry) EmitJobStarted(ctx context.Context, j *job.Job) {
	for _, e := range r.jobStarted {
		r.check("OnJobStarted", e.name, e.hook.OnJobStarted(ctx, j))
	}
}

// EmitJobCompleted notifies all extensions that implement JobCompleted.
func (r *Registry) EmitJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) {
	for _, e := range r.jobCompleted {
		r.check("OnJobCompleted", e.name, e.hook.OnJobCompleted(ctx, j, elapsed))
	}
}

// EmitJobFailed notifies all extensions that implement JobFailed.
func (r *Registry) EmitJobFailed(ctx context.Context, j *job.Job, jobErr error) {
	for _, e := range r.jobFailed {
		r.check("OnJobFailed", e.name, e.hook.OnJobFailed(ctx, j, jobErr))
	}
}

// EmitJobRetrying notifies all extensions that implement JobRetrying.
func (r *Registry) EmitJobRetrying(ctx context.Context, j *job.Job, attempt int, nextRunAt time.Time) {
	for _, e := range r.jobRetrying {
		r.check("OnJobRetrying", e.name, e.hook.OnJobRetrying(ctx, j, attempt, nextRunAt))
	}
}

// EmitJobDLQ notifies all extensions that implement JobDLQ.
func (r *Registry) EmitJobDLQ(ctx context.Context, j *job.Job, jobErr error) {
	for _, e := range r.jobDLQ {
		r.check("OnJobDLQ", e.name, e.hook.OnJobDLQ(ctx, j, jobErr))
	}
}

// ──────────────────────────────────────────────────
// Fan-out emitters
// ──────────────────────────────────────────────────

// EmitChildSpawned notifies all extensions that implement ChildSpawned.
func (r *Registry) EmitChildSpawned(ctx context.Context, parentJobID string, child *job.Job) {
	for _, e := range r.childSpawned {
		r.check("OnChildSpawned", e.name, e.hook.OnChildSpawned(ctx, parentJobID, child))
	}
}

// EmitWorkflowCompleted notifies all extensions that implement
// WorkflowCompleted.
func (r *Registry) EmitWorkflowCompleted(ctx context.Context, parentJobID string, failedChildren int) {
	for _, e := range r.workflowCompleted {
		r.check("OnWorkflowCompleted", e.name, e.hook.OnWorkflowCompleted(ctx, parentJobID, failedChildren))
	}
}

// ──────────────────────────────────────────────────
// Other event emitters
// ──────────────────────────────────────────────────

// EmitScheduleFired notifies all extensions that implement ScheduleFired.
func (r *Registry) EmitScheduleFired(ctx context.Context, scheduleName, jobID string) {
	for _, e := range r.scheduleFired {
		r.check("OnScheduleFired", e.name, e.hook.OnScheduleFired(ctx, scheduleName, jobID))
	}
}

// EmitShutdown notifies all extensions that implement Shutdown.
func (r *Registry) EmitShutdown(ctx context.Context) {
	for _, e := range r.shutdown {
		r.check("OnShutdown", e.name, e.hook.OnShutdown(ctx))
	}
}

// check logs a hook error. Hook errors never block the pipeline.
func (r *Registry) check(hook, extName string, err error) {
	if err == nil {
		return
	}
	r.logger.Warn("extension hook error",
		slog.String("hook", hook),
		slog.String("extension", extName),
		slog.String("error", err.Error()),
	)
}
