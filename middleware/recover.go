package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/xraph/conductor/job"
)

// Recover returns middleware that recovers from panics in the handler chain.
// A panic becomes an ordinary transient error, so it is retried like any
// other failure and never takes the worker down.
func Recover(logger *slog.Logger) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) (retErr error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("job handler panicked",
					slog.String("job_type", string(j.Type)),
					slog.String("job_id", j.ID),
					slog.Any("panic", r),
					slog.String("stack", string(debug.Stack())),
				)
				retErr = fmt.Errorf("panic in %s job %s: %v", j.Type, j.ID, r)
			}
		}()
		return next(ctx)
	}
}
