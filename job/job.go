package job

import (
	"time"

	"github.com/xraph/conductor"
	"github.com/xraph/conductor/id"
)

// State represents the lifecycle state of a job.
type State string

const (
	// StateSubmitted is the transient state before the job is stored.
	StateSubmitted State = "submitted"
	// StateWaiting means the job sits in its queue, possibly delayed.
	StateWaiting State = "waiting"
	// StateActive means a worker holds the job.
	StateActive State = "active"
	// StateCompleted means the handler returned successfully.
	StateCompleted State = "completed"
	// StateFailed means the job failed and will not be retried.
	StateFailed State = "failed"
)

// Terminal reports whether s is an end state.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// CanTransition reports whether a job may move from s to next.
func (s State) CanTransition(next State) bool {
	switch s {
	case StateSubmitted:
		return next == StateWaiting
	case StateWaiting:
		return next == StateActive
	case StateActive:
		return next == StateCompleted || next == StateWaiting || next == StateFailed
	case StateFailed:
		return next == StateWaiting
	case StateCompleted:
		return false
	}
	return false
}

// Job is the stored form of a Record plus its execution bookkeeping.
type Job struct {
	conductor.Entity

	ID          string   `json:"id"`
	Type        Type     `json:"type"`
	Queue       string   `json:"queue"`
	Priority    int      `json:"priority"`
	Payload     string   `json:"payload"`
	ParentJobID string   `json:"parent_job_id,omitempty"`
	Metadata    Metadata `json:"metadata"`

	State       State  `json:"state"`
	Attempts    int    `json:"attempts"`
	MaxAttempts int    `json:"max_attempts"`
	LastError   string `json:"last_error,omitempty"`
	// Result is the encoded handler result of a completed job.
	Result          string        `json:"result,omitempty"`
	SpawnedChildIDs []string      `json:"spawned_child_ids,omitempty"`
	ProcessingTime  time.Duration `json:"processing_time,omitempty"`

	WorkerID    id.WorkerID   `json:"worker_id,omitempty"`
	RunAt       time.Time     `json:"run_at"`
	StartedAt   *time.Time    `json:"started_at,omitempty"`
	CompletedAt *time.Time    `json:"completed_at,omitempty"`
	HeartbeatAt *time.Time    `json:"heartbeat_at,omitempty"`
	Timeout     time.Duration `json:"timeout,omitempty"`
}

// Delayed reports whether a waiting job is not yet due at now.
func (j *Job) Delayed(now time.Time) bool {
	return j.State == StateWaiting && j.RunAt.After(now)
}

// Due reports whether the job may be dequeued at now.
func (j *Job) Due(now time.Time) bool {
	return j.State == StateWaiting && !j.RunAt.After(now)
}

// Less orders jobs for dequeue: priority ascending, then RunAt, then
// creation time.
func Less(a, b *Job) bool {
	if a.Priority != b.Priority {
		return a.Priority < b.Priority
	}
	if !a.RunAt.Equal(b.RunAt) {
		return a.RunAt.Before(b.RunAt)
	}
	return a.CreatedAt.Before(b.CreatedAt)
}

// Clone returns a copy that shares no mutable state with j.
func (j *Job) Clone() *Job {
	cp := *j
	cp.SpawnedChildIDs = append([]string(nil), j.SpawnedChildIDs...)
	if j.Metadata.Tags != nil {
		cp.Metadata.Tags = make(map[string]string, len(j.Metadata.Tags))
		for k, v := range j.Metadata.Tags {
			cp.Metadata.Tags[k] = v
		}
	}
	return &cp
}
