package conductor

import "time"

// Config holds process-wide settings. Per-queue concurrency and retry
// policy live in queue.Config.
type Config struct {
	// PollInterval is how long an idle worker waits before polling again
	// when it has not been woken by a submission.
	PollInterval time.Duration `yaml:"poll_interval"`

	// ShutdownTimeout bounds the drain performed by Stop.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// HeartbeatInterval is how often active jobs send heartbeats.
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`

	// StaleJobThreshold is how long an active job may go without a
	// heartbeat before it is handed back to its queue.
	StaleJobThreshold time.Duration `yaml:"stale_job_threshold"`

	// Retention is how long terminal jobs are kept before the janitor
	// purges them. Zero disables purging.
	Retention time.Duration `yaml:"retention"`

	// CopyDepth is the maximum depth kept when payloads and results are
	// deep-copied before encoding.
	CopyDepth int `yaml:"copy_depth"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		PollInterval:      500 * time.Millisecond,
		ShutdownTimeout:   30 * time.Second,
		HeartbeatInterval: 10 * time.Second,
		StaleJobThreshold: 30 * time.Second,
		Retention:         7 * 24 * time.Hour,
		CopyDepth:         10,
	}
}
