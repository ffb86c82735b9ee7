package event

import (
	"time"

	"github.com/xraph/conductor/job"
)

// Kind names an event variant. The values match the channel suffixes used
// when events are relayed to Redis.
type Kind string

const (
	KindJobEnqueued       Kind = "job:enqueued"
	KindJobStarted        Kind = "job:started"
	KindJobCompleted      Kind = "job:completed"
	KindJobRetrying       Kind = "job:retrying"
	KindJobFailed         Kind = "job:failed"
	KindWorkflowCompleted Kind = "workflow:completed"
)

// Kinds lists every event kind.
var Kinds = []Kind{
	KindJobEnqueued,
	KindJobStarted,
	KindJobCompleted,
	KindJobRetrying,
	KindJobFailed,
	KindWorkflowCompleted,
}

// Event is implemented only by the variants in this package.
type Event interface {
	Kind() Kind
	// Subject is the job the event is about. For WorkflowCompleted it is
	// the parent job.
	Subject() string
	At() time.Time
	sealed()
}

// Header is the common part of job events.
type Header struct {
	JobID     string    `json:"job_id"`
	Type      job.Type  `json:"type"`
	Queue     string    `json:"queue"`
	Timestamp time.Time `json:"timestamp"`
}

func headerOf(j *job.Job) Header {
	return Header{
		JobID:     j.ID,
		Type:      j.Type,
		Queue:     j.Queue,
		Timestamp: time.Now().UTC(),
	}
}

func (h Header) Subject() string { return h.JobID }
func (h Header) At() time.Time    { return h.Timestamp }
func (Header) sealed()            {}

// JobEnqueued is published once a job is durably stored.
type JobEnqueued struct {
	Header
	ParentJobID string `json:"parent_job_id,omitempty"`
}

// JobStarted is published when a worker claims a job.
type JobStarted struct {
	Header
	Attempt int `json:"attempt"`
}

// JobCompleted carries the decoded handler result.
type JobCompleted struct {
	Header
	Result  any           `json:"result"`
	Elapsed time.Duration `json:"elapsed"`
}

// JobRetrying is published when an attempt failed and the job went back
// to waiting.
type JobRetrying struct {
	Header
	Attempt   int       `json:"attempt"`
	NextRunAt time.Time `json:"next_run_at"`
	Error     string    `json:"error"`
}

// JobFailed is published when a job fails terminally.
type JobFailed struct {
	Header
	Attempts int    `json:"attempts"`
	Error    string `json:"error"`
}

// WorkflowCompleted is published once when the last outstanding child of
// a parent job finishes. It reports fan-in timing; FailedChildren is
// informational.
type WorkflowCompleted struct {
	ParentJobID    string    `json:"parent_job_id"`
	FailedChildren int       `json:"failed_children"`
	Timestamp      time.Time `json:"timestamp"`
}

func (JobEnqueued) Kind() Kind  { return KindJobEnqueued }
func (JobStarted) Kind() Kind   { return KindJobStarted }
func (JobCompleted) Kind() Kind { return KindJobCompleted }
func (JobRetrying) Kind() Kind  { return KindJobRetrying }
func (JobFailed) Kind() Kind    { return KindJobFailed }

func (WorkflowCompleted) Kind() Kind        { return KindWorkflowCompleted }
func (e WorkflowCompleted) Subject() string { return e.ParentJobID }
func (e WorkflowCompleted) At() time.Time   { return e.Timestamp }
func (WorkflowCompleted) sealed()           {}

// Terminal reports whether evt ends its job's lifecycle.
func Terminal(evt Event) bool {
	switch evt.(type) {
	case JobCompleted, JobFailed:
		return true
	case JobEnqueued, JobStarted, JobRetrying, WorkflowCompleted:
		return false
	default:
		return false
	}
}
