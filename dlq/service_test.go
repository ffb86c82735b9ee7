package dlq_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/xraph/conductor"
	"github.com/xraph/conductor/dlq"
	"github.com/xraph/conductor/id"
	"github.com/xraph/conductor/job"
	"github.com/xraph/conductor/store/memory"
)

func failedJob(jobID string) *job.Job {
	return &job.Job{
		Entity:      conductor.NewEntity(),
		ID:          jobID,
		Type:        job.TypeComplianceCheck,
		Queue:       "compliance",
		Priority:    2,
		ParentJobID: "parent-1",
		Payload:     `{"clause":"7.2"}`,
		State:       job.StateFailed,
		Attempts:    3,
		MaxAttempts: 3,
		LastError:   "upstream timeout",
		RunAt:       time.Now().UTC(),
	}
}

func pushOne(t *testing.T, s *memory.Store, svc *dlq.Service, j *job.Job) *dlq.Entry {
	t.Helper()
	ctx := context.Background()
	if err := s.EnqueueJob(ctx, j); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}
	if err := svc.Push(ctx, j, errors.New("upstream timeout")); err != nil {
		t.Fatalf("Push: %v", err)
	}
	entries, err := svc.List(ctx, dlq.ListOpts{Limit: 1})
	if err != nil || len(entries) != 1 {
		t.Fatalf("List = %v, %v", entries, err)
	}
	return entries[0]
}

func TestService_Push_BuildsEntryFromJob(t *testing.T) {
	s := memory.New()
	svc := dlq.NewService(s, s)

	entry := pushOne(t, s, svc, failedJob("j1"))

	if entry.JobID != "j1" {
		t.Errorf("JobID = %q, want %q", entry.JobID, "j1")
	}
	if entry.Type != job.TypeComplianceCheck || entry.Queue != "compliance" {
		t.Errorf("Type/Queue = %q/%q", entry.Type, entry.Queue)
	}
	if entry.Payload != `{"clause":"7.2"}` {
		t.Errorf("Payload = %q", entry.Payload)
	}
	if entry.Error != "upstream timeout" {
		t.Errorf("Error = %q, want %q", entry.Error, "upstream timeout")
	}
	if entry.Attempts != 3 || entry.MaxAttempts != 3 {
		t.Errorf("Attempts = %d/%d, want 3/3", entry.Attempts, entry.MaxAttempts)
	}
	if entry.ParentJobID != "parent-1" {
		t.Errorf("ParentJobID = %q", entry.ParentJobID)
	}
	if entry.FailedAt.IsZero() || entry.CreatedAt.IsZero() {
		t.Error("expected FailedAt and CreatedAt to be set")
	}
	if n, _ := svc.Count(context.Background()); n != 1 {
		t.Errorf("Count = %d, want 1", n)
	}
}

func TestService_Replay_ResetsStoredJob(t *testing.T) {
	s := memory.New()
	svc := dlq.NewService(s, s)
	ctx := context.Background()

	entry := pushOne(t, s, svc, failedJob("j2"))

	replayed, err := svc.Replay(ctx, entry.ID)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if replayed.ID != "j2" {
		t.Errorf("replayed ID = %q, want j2", replayed.ID)
	}

	got, err := s.GetJob(ctx, "j2")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.State != job.StateWaiting {
		t.Errorf("State = %q, want %q", got.State, job.StateWaiting)
	}
	if got.Attempts != 0 || got.LastError != "" {
		t.Errorf("Attempts = %d LastError = %q, want fresh budget", got.Attempts, got.LastError)
	}

	marked, err := svc.Get(ctx, entry.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if marked.ReplayedAt == nil {
		t.Error("expected ReplayedAt to be set after replay")
	}

	if _, err := svc.Replay(ctx, entry.ID); !errors.Is(err, conductor.ErrInvalidState) {
		t.Errorf("second Replay = %v, want ErrInvalidState", err)
	}
}

func TestService_Replay_RecreatesPurgedJob(t *testing.T) {
	s := memory.New()
	svc := dlq.NewService(s, s)
	ctx := context.Background()

	entry := pushOne(t, s, svc, failedJob("j3"))
	if err := s.DeleteJob(ctx, "j3"); err != nil {
		t.Fatalf("DeleteJob: %v", err)
	}

	replayed, err := svc.Replay(ctx, entry.ID)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if replayed.State != job.StateWaiting || replayed.Payload != `{"clause":"7.2"}` {
		t.Errorf("replayed = %+v", replayed)
	}
	if _, err := s.GetJob(ctx, "j3"); err != nil {
		t.Fatalf("GetJob: %v", err)
	}
}

func TestService_Replay_NotFoundReturnsError(t *testing.T) {
	s := memory.New()
	svc := dlq.NewService(s, s)

	_, err := svc.Replay(context.Background(), id.NewDLQID())
	if !errors.Is(err, conductor.ErrDLQNotFound) {
		t.Fatalf("Replay = %v, want ErrDLQNotFound", err)
	}
}

func TestService_Purge(t *testing.T) {
	s := memory.New()
	svc := dlq.NewService(s, s)
	pushOne(t, s, svc, failedJob("j4"))

	n, err := svc.Purge(context.Background(), time.Now().UTC().Add(time.Minute))
	if err != nil {
		t.Fatalf("Purge: %v", err)
	}
	if n != 1 {
		t.Errorf("Purge removed %d, want 1", n)
	}
}
