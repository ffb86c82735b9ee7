package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/conductor"
	"github.com/xraph/conductor/backoff"
	"github.com/xraph/conductor/codec"
	"github.com/xraph/conductor/dlq"
	"github.com/xraph/conductor/ext"
	"github.com/xraph/conductor/job"
	"github.com/xraph/conductor/middleware"
)

// Runner executes the business logic of a job. payload is the decoded
// job payload; the returned value becomes the job result.
type Runner interface {
	Run(ctx context.Context, j *job.Job, payload any) (any, error)
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, j *job.Job, payload any) (any, error)

// Run calls f.
func (f RunnerFunc) Run(ctx context.Context, j *job.Job, payload any) (any, error) {
	return f(ctx, j, payload)
}

// ChildTracker is notified when a job with a parent reaches a terminal
// state. *dependency.Tracker satisfies it.
type ChildTracker interface {
	OnChildCompleted(ctx context.Context, childID string) error
	OnChildFailed(ctx context.Context, childID string) error
}

// Executor runs a single job through middleware and the runner, then
// handles retry logic, DLQ push, state updates, and lifecycle events.
type Executor struct {
	runner     Runner
	extensions *ext.Registry
	store      job.Store
	dlqService *dlq.Service
	tracker    ChildTracker
	mw         middleware.Middleware
	copyDepth  int
	logger     *slog.Logger
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithDLQ sets the service terminally failed jobs are pushed to.
func WithDLQ(s *dlq.Service) ExecutorOption {
	return func(e *Executor) { e.dlqService = s }
}

// WithTracker sets the dependency tracker notified about child outcomes.
func WithTracker(t ChildTracker) ExecutorOption {
	return func(e *Executor) { e.tracker = t }
}

// WithMiddleware sets the middleware chain, outermost first.
func WithMiddleware(mws ...middleware.Middleware) ExecutorOption {
	return func(e *Executor) { e.mw = middleware.Chain(mws...) }
}

// WithCopyDepth bounds the deep copy taken of results before encoding.
func WithCopyDepth(depth int) ExecutorOption {
	return func(e *Executor) { e.copyDepth = depth }
}

// NewExecutor creates an Executor with the given dependencies.
func NewExecutor(
	runner Runner,
	store job.Store,
	extensions *ext.Registry,
	logger *slog.Logger,
	opts ...ExecutorOption,
) *Executor {
	e := &Executor{
		runner:     runner,
		extensions: extensions,
		store:      store,
		mw:         middleware.Chain(),
		copyDepth:  codec.DefaultMaxDepth,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs j and records its outcome.
// On success: marks completed, emits JobCompleted, notifies the tracker.
// On a transient failure with attempts remaining: marks waiting with a
// backoff delay from bo and emits JobRetrying.
// Otherwise: marks failed, pushes to the DLQ, emits JobFailed and JobDLQ,
// and notifies the tracker.
//
// The returned error is the handler's error, if any.
func (e *Executor) Execute(ctx context.Context, j *job.Job, bo backoff.Strategy) error {
	// Bookkeeping must survive cancellation of the job context.
	bookCtx := context.WithoutCancel(ctx)

	var (
		result any
		start  = time.Now()
	)
	err := e.mw(ctx, j, func(ctx context.Context) error {
		payload, decodeErr := decodePayload(j.Payload)
		if decodeErr != nil {
			return conductor.Terminal(decodeErr)
		}
		out, runErr := e.runner.Run(ctx, j, payload)
		result = out
		return runErr
	})
	elapsed := time.Since(start)

	now := time.Now().UTC()
	j.Attempts++
	j.ProcessingTime = elapsed
	j.UpdatedAt = now

	if err == nil {
		encoded, encErr := codec.Encode(codec.SafeCopy(result, e.copyDepth))
		if encErr == nil {
			j.Result = encoded
			return e.handleSuccess(bookCtx, j, now, elapsed)
		}
		err = conductor.Terminal(fmt.Errorf("encode result: %w", encErr))
	}

	j.LastError = err.Error()
	if conductor.IsTerminal(err) || j.Attempts >= j.MaxAttempts {
		return e.handleFailure(bookCtx, j, err, now)
	}
	return e.scheduleRetry(bookCtx, j, err, bo, now)
}

func decodePayload(text string) (any, error) {
	if text == "" {
		return nil, nil
	}
	v, err := codec.Decode(text)
	if err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	return v, nil
}

// handleSuccess marks the job as completed and emits the lifecycle event.
func (e *Executor) handleSuccess(ctx context.Context, j *job.Job, now time.Time, elapsed time.Duration) error {
	j.State = job.StateCompleted
	j.CompletedAt = &now
	j.LastError = ""

	if updateErr := e.store.UpdateJob(ctx, j); updateErr != nil {
		e.logger.Error("failed to update job after success",
			slog.String("job_id", j.ID),
			slog.String("job_type", string(j.Type)),
			slog.String("error", updateErr.Error()),
		)
		return updateErr
	}

	e.extensions.EmitJobCompleted(ctx, j, elapsed)
	e.notifyParent(ctx, j, false)
	return nil
}

// scheduleRetry moves the job back to waiting with a backoff delay. No
// worker slot is held while it waits.
func (e *Executor) scheduleRetry(ctx context.Context, j *job.Job, handlerErr error, bo backoff.Strategy, now time.Time) error {
	delay := bo.Delay(j.Attempts)
	nextRunAt := now.Add(delay)
	j.State = job.StateWaiting
	j.RunAt = nextRunAt
	j.StartedAt = nil
	j.HeartbeatAt = nil

	if updateErr := e.store.UpdateJob(ctx, j); updateErr != nil {
		e.logger.Error("failed to update job for retry",
			slog.String("job_id", j.ID),
			slog.String("error", updateErr.Error()),
		)
		return errors.Join(handlerErr, updateErr)
	}

	e.extensions.EmitJobRetrying(ctx, j, j.Attempts, nextRunAt)

	e.logger.Info("job scheduled for retry",
		slog.String("job_id", j.ID),
		slog.String("job_type", string(j.Type)),
		slog.Int("attempt", j.Attempts),
		slog.Int("max_attempts", j.MaxAttempts),
		slog.Duration("delay", delay),
	)

	return fmt.Errorf("job %s attempt %d/%d: %w", j.ID, j.Attempts, j.MaxAttempts, handlerErr)
}

// handleFailure marks the job as failed, pushes it to the DLQ, and emits
// events.
func (e *Executor) handleFailure(ctx context.Context, j *job.Job, handlerErr error, now time.Time) error {
	j.State = job.StateFailed
	j.CompletedAt = &now

	if updateErr := e.store.UpdateJob(ctx, j); updateErr != nil {
		e.logger.Error("failed to update job as failed",
			slog.String("job_id", j.ID),
			slog.String("error", updateErr.Error()),
		)
		return errors.Join(handlerErr, updateErr)
	}

	if e.dlqService != nil {
		if dlqErr := e.dlqService.Push(ctx, j, handlerErr); dlqErr != nil {
			e.logger.Error("failed to push job to DLQ",
				slog.String("job_id", j.ID),
				slog.String("error", dlqErr.Error()),
			)
		}
	}

	e.extensions.EmitJobFailed(ctx, j, handlerErr)
	e.extensions.EmitJobDLQ(ctx, j, handlerErr)
	e.notifyParent(ctx, j, true)

	e.logger.Warn("job failed",
		slog.String("job_id", j.ID),
		slog.String("job_type", string(j.Type)),
		slog.Int("attempts", j.Attempts),
		slog.Bool("terminal", conductor.IsTerminal(handlerErr)),
		slog.String("error", handlerErr.Error()),
	)

	return handlerErr
}

func (e *Executor) notifyParent(ctx context.Context, j *job.Job, failed bool) {
	if e.tracker == nil || j.ParentJobID == "" {
		return
	}
	var err error
	if failed {
		err = e.tracker.OnChildFailed(ctx, j.ID)
	} else {
		err = e.tracker.OnChildCompleted(ctx, j.ID)
	}
	if err != nil {
		e.logger.Error("dependency tracker update failed",
			slog.String("job_id", j.ID),
			slog.String("parent_job_id", j.ParentJobID),
			slog.String("error", err.Error()),
		)
	}
}
