package dlq

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/xraph/conductor"
	"github.com/xraph/conductor/id"
	"github.com/xraph/conductor/job"
)

// Service provides high-level DLQ operations over a Store.
type Service struct {
	store    Store
	jobStore job.Store
}

// NewService creates a DLQ service.
func NewService(store Store, jobStore job.Store) *Service {
	return &Service{store: store, jobStore: jobStore}
}

// Push builds an Entry from a failed job and persists it.
func (s *Service) Push(ctx context.Context, j *job.Job, jobErr error) error {
	msg := j.LastError
	if jobErr != nil {
		msg = jobErr.Error()
	}
	now := time.Now().UTC()
	return s.store.PushDLQ(ctx, &Entry{
		ID:          id.NewDLQID(),
		JobID:       j.ID,
		Type:        j.Type,
		Queue:       j.Queue,
		Priority:    j.Priority,
		ParentJobID: j.ParentJobID,
		Payload:     j.Payload,
		Error:       msg,
		Attempts:    j.Attempts,
		MaxAttempts: j.MaxAttempts,
		FailedAt:    now,
		CreatedAt:   now,
	})
}

// List returns entries matching opts.
func (s *Service) List(ctx context.Context, opts ListOpts) ([]*Entry, error) {
	return s.store.ListDLQ(ctx, opts)
}

// Get returns one entry.
func (s *Service) Get(ctx context.Context, entryID id.DLQID) (*Entry, error) {
	return s.store.GetDLQ(ctx, entryID)
}

// Count returns the number of entries.
func (s *Service) Count(ctx context.Context) (int64, error) {
	return s.store.CountDLQ(ctx)
}

// Purge removes entries that failed before the given time.
func (s *Service) Purge(ctx context.Context, before time.Time) (int64, error) {
	return s.store.PurgeDLQ(ctx, before)
}

// Replay makes the entry's job runnable again with a fresh attempt budget
// and marks the entry replayed. A job that is no longer stored is
// recreated from the entry.
func (s *Service) Replay(ctx context.Context, entryID id.DLQID) (*job.Job, error) {
	entry, err := s.store.GetDLQ(ctx, entryID)
	if err != nil {
		return nil, err
	}
	if entry.ReplayedAt != nil {
		return nil, fmt.Errorf("%w: entry %s already replayed", conductor.ErrInvalidState, entryID)
	}

	now := time.Now().UTC()
	j, err := s.jobStore.GetJob(ctx, entry.JobID)
	switch {
	case errors.Is(err, conductor.ErrJobNotFound):
		j = &job.Job{
			Entity:      conductor.NewEntity(),
			ID:          entry.JobID,
			Type:        entry.Type,
			Queue:       entry.Queue,
			Priority:    entry.Priority,
			ParentJobID: entry.ParentJobID,
			Payload:     entry.Payload,
			State:       job.StateWaiting,
			MaxAttempts: entry.MaxAttempts,
			RunAt:       now,
		}
		if err := s.jobStore.EnqueueJob(ctx, j); err != nil {
			return nil, err
		}
	case err != nil:
		return nil, err
	default:
		if !j.State.CanTransition(job.StateWaiting) {
			return nil, fmt.Errorf("%w: job %s is %s", conductor.ErrInvalidState, j.ID, j.State)
		}
		j.State = job.StateWaiting
		j.Attempts = 0
		j.LastError = ""
		j.Result = ""
		j.RunAt = now
		j.StartedAt = nil
		j.CompletedAt = nil
		j.HeartbeatAt = nil
		j.WorkerID = id.Nil
		j.Touch()
		if err := s.jobStore.UpdateJob(ctx, j); err != nil {
			return nil, err
		}
	}

	if err := s.store.ReplayDLQ(ctx, entryID); err != nil {
		// The job is already runnable again.
		return j, err
	}
	return j, nil
}
