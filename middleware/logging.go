package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/conductor/job"
)

// Logging returns middleware that logs job start and completion. Jobs
// submitted with Metadata.Track log at info level, everything else at
// debug. Failures always log at warn.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		level := slog.LevelDebug
		if j.Metadata.Track {
			level = slog.LevelInfo
		}

		logger.Log(ctx, level, "job started",
			slog.String("job_type", string(j.Type)),
			slog.String("job_id", j.ID),
			slog.String("queue", j.Queue),
			slog.Int("attempt", j.Attempts+1),
		)

		start := time.Now()
		err := next(ctx)
		elapsed := time.Since(start)

		if err != nil {
			logger.Warn("job attempt failed",
				slog.String("job_type", string(j.Type)),
				slog.String("job_id", j.ID),
				slog.Duration("elapsed", elapsed),
				slog.String("error", err.Error()),
			)
		} else {
			logger.Log(ctx, level, "job completed",
				slog.String("job_type", string(j.Type)),
				slog.String("job_id", j.ID),
				slog.Duration("elapsed", elapsed),
			)
		}

		return err
	}
}
