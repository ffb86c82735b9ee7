package memory_test

import (
	"context"
	"errors"
	"testing"

	"github.com/xraph/conductor"
	"github.com/xraph/conductor/job"
	"github.com/xraph/conductor/store"
	"github.com/xraph/conductor/store/memory"
	"github.com/xraph/conductor/store/storetest"
)

var _ store.Store = (*memory.Store)(nil)

func TestConformance(t *testing.T) {
	storetest.Run(t, func(*testing.T) store.Store { return memory.New() })
}

func TestClosedStoreRejectsWrites(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if err := s.Ping(ctx); !errors.Is(err, conductor.ErrStoreClosed) {
		t.Errorf("Ping = %v, want ErrStoreClosed", err)
	}
	if err := s.EnqueueJob(ctx, storetest.NewJob("j", "default", 1)); !errors.Is(err, conductor.ErrStoreClosed) {
		t.Errorf("EnqueueJob = %v, want ErrStoreClosed", err)
	}
	if _, err := s.CountJobs(ctx, job.CountOpts{}); !errors.Is(err, conductor.ErrStoreClosed) {
		t.Errorf("CountJobs = %v, want ErrStoreClosed", err)
	}
}

func TestReturnedJobsAreCopies(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	j := storetest.NewJob("copy", "default", 1)
	if err := s.EnqueueJob(ctx, j); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}
	j.Metadata.Tags["source"] = "mutated"

	got, err := s.GetJob(ctx, "copy")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Metadata.Tags["source"] != "test" {
		t.Errorf("stored tags changed through caller's copy: %v", got.Metadata.Tags)
	}
}
