package dlq

import (
	"time"

	"github.com/xraph/conductor/id"
	"github.com/xraph/conductor/job"
)

// Entry is a terminally failed job held for inspection or replay.
type Entry struct {
	ID          id.DLQID   `json:"id"`
	JobID       string     `json:"job_id"`
	Type        job.Type   `json:"type"`
	Queue       string     `json:"queue"`
	Priority    int        `json:"priority"`
	ParentJobID string     `json:"parent_job_id,omitempty"`
	Payload     string     `json:"payload"`
	Error       string     `json:"error"`
	Attempts    int        `json:"attempts"`
	MaxAttempts int        `json:"max_attempts"`
	FailedAt    time.Time  `json:"failed_at"`
	ReplayedAt  *time.Time `json:"replayed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}
