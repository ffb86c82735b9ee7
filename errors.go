package conductor

import (
	"errors"
	"fmt"
)

var (
	// Store errors.
	ErrNoStore              = errors.New("conductor: no store configured")
	ErrStoreClosed          = errors.New("conductor: store closed")
	ErrMigrationFailed      = errors.New("conductor: migration failed")
	ErrTransportUnavailable = errors.New("conductor: queue transport unavailable")

	// Not found errors.
	ErrJobNotFound = errors.New("conductor: job not found")
	ErrDLQNotFound = errors.New("conductor: dlq entry not found")

	// Conflict errors.
	ErrJobAlreadyExists = errors.New("conductor: job already exists")

	// State errors.
	ErrInvalidState = errors.New("conductor: invalid state transition")
	ErrNotTerminal  = errors.New("conductor: job has not finished")
)

// ValidationError reports a submission rejected before anything was
// enqueued.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("conductor: invalid %s: %s", e.Field, e.Reason)
}

// TerminalError marks a handler failure that must not be retried.
type TerminalError struct {
	Err error
}

func (e *TerminalError) Error() string { return e.Err.Error() }

func (e *TerminalError) Unwrap() error { return e.Err }

// Terminal wraps err so the worker fails the job without further attempts.
// Terminal(nil) returns nil.
func Terminal(err error) error {
	if err == nil {
		return nil
	}
	return &TerminalError{Err: err}
}

// IsTerminal reports whether err, or anything it wraps, is a TerminalError.
func IsTerminal(err error) bool {
	var te *TerminalError
	return errors.As(err, &te)
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
