package job

import (
	"strconv"
	"strings"
	"time"

	"github.com/xraph/conductor"
)

// MaxPriority is the largest priority a job may carry. Every store
// orders priorities up to this value exactly.
const MaxPriority = 899

// Metadata carries optional scheduling hints and labels.
type Metadata struct {
	// Deadline delays the job until this instant; a past deadline means
	// no delay.
	Deadline *time.Time `json:"deadline,omitempty"`
	// Track requests lifecycle logging at info level for this job.
	Track bool `json:"track,omitempty"`
	// Tags are free-form labels carried to the stored job.
	Tags map[string]string `json:"tags,omitempty"`
}

// Record is a unit of work as submitted by a caller or a parent handler.
type Record struct {
	// ID identifies the job. An empty ID is replaced by a generated one.
	ID string `json:"id,omitempty"`
	// Type selects the queue and handler.
	Type Type `json:"type"`
	// Priority orders jobs within a queue; lower runs sooner. Zero means
	// the queue's own priority tier.
	Priority int `json:"priority,omitempty"`
	// Payload is an arbitrary value graph; it is deep-copied and encoded
	// at submission.
	Payload any `json:"payload,omitempty"`
	// ParentJobID links a child to the job that spawned it.
	ParentJobID string   `json:"parent_job_id,omitempty"`
	Metadata    Metadata `json:"metadata"`
}

// Validate checks the record's shape. It does not consult any store.
func (r *Record) Validate() error {
	if r.Type == "" {
		return &conductor.ValidationError{Field: "type", Reason: "must not be empty"}
	}
	if !r.Type.WellFormed() {
		return &conductor.ValidationError{Field: "type", Reason: "malformed type name " + quote(string(r.Type))}
	}
	if r.Priority < 0 || r.Priority > MaxPriority {
		return &conductor.ValidationError{Field: "priority", Reason: "must be between 0 and " + strconv.Itoa(MaxPriority)}
	}
	if r.ID != "" && (len(r.ID) > 255 || strings.ContainsAny(r.ID, " \t\r\n")) {
		return &conductor.ValidationError{Field: "id", Reason: "must be at most 255 characters without whitespace"}
	}
	if r.ParentJobID != "" && r.ParentJobID == r.ID {
		return &conductor.ValidationError{Field: "parent_job_id", Reason: "a job cannot be its own parent"}
	}
	return nil
}

// Delay returns how long after now the job should wait before running.
func (r *Record) Delay(now time.Time) time.Duration {
	if r.Metadata.Deadline == nil {
		return 0
	}
	return max(0, r.Metadata.Deadline.Sub(now))
}

func quote(s string) string { return `"` + s + `"` }
