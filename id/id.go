// Package id generates and parses the TypeID identifiers Conductor assigns
// to jobs, worker pools, dead-letter entries and scheduled submissions.
//
// Identifiers are K-sortable (UUIDv7-based) strings of the form
// "prefix_suffix". Callers may still supply their own job identifiers; a
// TypeID is only minted when a submission arrives without one.
package id

import (
	"database/sql/driver"
	"fmt"

	"go.jetify.com/typeid/v2"
)

// Prefix identifies the entity type encoded in a TypeID.
type Prefix string

// Prefix constants for generated identifiers.
const (
	PrefixJob      Prefix = "job"
	PrefixWorker   Prefix = "wkr"
	PrefixDLQ      Prefix = "dlq"
	PrefixSchedule Prefix = "sched"
)

// ID wraps a TypeID.
//
//nolint:recvcheck // Value receivers for read-only methods, pointer receivers for UnmarshalText/Scan.
type ID struct {
	inner typeid.TypeID
	valid bool
}

// Nil is the zero-value ID.
var Nil ID

// New generates an ID with the given prefix. It panics on an invalid
// prefix, which is a programming error.
func New(prefix Prefix) ID {
	tid, err := typeid.Generate(string(prefix))
	if err != nil {
		panic(fmt.Sprintf("id: invalid prefix %q: %v", prefix, err))
	}
	return ID{inner: tid, valid: true}
}

// Parse parses a TypeID string such as "job_01h2xcejqtf2nbrexx3vqjhp41".
func Parse(s string) (ID, error) {
	if s == "" {
		return Nil, fmt.Errorf("id: parse %q: empty string", s)
	}
	tid, err := typeid.Parse(s)
	if err != nil {
		return Nil, fmt.Errorf("id: parse %q: %w", s, err)
	}
	return ID{inner: tid, valid: true}, nil
}

// ParseWithPrefix parses s and checks its prefix.
func ParseWithPrefix(s string, expected Prefix) (ID, error) {
	parsed, err := Parse(s)
	if err != nil {
		return Nil, err
	}
	if parsed.Prefix() != expected {
		return Nil, fmt.Errorf("id: expected prefix %q, got %q", expected, parsed.Prefix())
	}
	return parsed, nil
}

// MustParse is like Parse but panics on error.
func MustParse(s string) ID {
	parsed, err := Parse(s)
	if err != nil {
		panic(fmt.Sprintf("id: must parse %q: %v", s, err))
	}
	return parsed
}

// ──────────────────────────────────────────────────
// Aliases and constructors
// ──────────────────────────────────────────────────

// WorkerID identifies a worker pool instance (prefix: "wkr").
type WorkerID = ID

// DLQID identifies a dead-letter entry (prefix: "dlq").
type DLQID = ID

// ScheduleID identifies a scheduled submission (prefix: "sched").
type ScheduleID = ID

// NewJobID generates a job ID. Job identifiers are carried as plain
// strings elsewhere, so callers usually want NewJobID().String().
func NewJobID() ID { return New(PrefixJob) }

// NewWorkerID generates a worker ID.
func NewWorkerID() ID { return New(PrefixWorker) }

// NewDLQID generates a dead-letter entry ID.
func NewDLQID() ID { return New(PrefixDLQ) }

// NewScheduleID generates a schedule ID.
func NewScheduleID() ID { return New(PrefixSchedule) }

// ParseWorkerID parses s and validates the "wkr" prefix.
func ParseWorkerID(s string) (ID, error) { return ParseWithPrefix(s, PrefixWorker) }

// ParseDLQID parses s and validates the "dlq" prefix.
func ParseDLQID(s string) (ID, error) { return ParseWithPrefix(s, PrefixDLQ) }

// ParseScheduleID parses s and validates the "sched" prefix.
func ParseScheduleID(s string) (ID, error) { return ParseWithPrefix(s, PrefixSchedule) }

// ──────────────────────────────────────────────────
// ID methods
// ──────────────────────────────────────────────────

// String returns "prefix_suffix", or "" for Nil.
func (i ID) String() string {
	if !i.valid {
		return ""
	}
	return i.inner.String()
}

// Prefix returns the prefix component.
func (i ID) Prefix() Prefix {
	if !i.valid {
		return ""
	}
	return Prefix(i.inner.Prefix())
}

// IsNil reports whether this ID is the zero value.
func (i ID) IsNil() bool { return !i.valid }

// MarshalText implements encoding.TextMarshaler.
func (i ID) MarshalText() ([]byte, error) {
	if !i.valid {
		return []byte{}, nil
	}
	return []byte(i.inner.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (i *ID) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*i = Nil
		return nil
	}
	parsed, err := Parse(string(data))
	if err != nil {
		return err
	}
	*i = parsed
	return nil
}

// Value implements driver.Valuer. Nil stores as NULL.
func (i ID) Value() (driver.Value, error) {
	if !i.valid {
		return nil, nil //nolint:nilnil // nil is the canonical NULL for driver.Valuer
	}
	return i.inner.String(), nil
}

// Scan implements sql.Scanner.
func (i *ID) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*i = Nil
		return nil
	case string:
		return i.UnmarshalText([]byte(v))
	case []byte:
		return i.UnmarshalText(v)
	default:
		return fmt.Errorf("id: cannot scan %T into ID", src)
	}
}
