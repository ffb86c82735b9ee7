package schedule_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/xraph/conductor/job"
	"github.com/xraph/conductor/schedule"
	"github.com/xraph/conductor/store/memory"
	"github.com/xraph/conductor/store/storetest"
)

type submitted struct {
	mu   sync.Mutex
	recs []job.Record
}

func (s *submitted) submit(_ context.Context, rec job.Record) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.recs = append(s.recs, rec)
	return "job-" + string(rec.Type), nil
}

func (s *submitted) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.recs)
}

type firedRecorder struct {
	mu    sync.Mutex
	fired []string
}

func (f *firedRecorder) EmitScheduleFired(_ context.Context, name, jobID string) {
	f.mu.Lock()
	f.fired = append(f.fired, name+"="+jobID)
	f.mu.Unlock()
}

func TestFireSubmitsAndEmits(t *testing.T) {
	sub := &submitted{}
	em := &firedRecorder{}
	s, err := schedule.New(sub.submit, em, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Add(schedule.Entry{Name: "nightly", Spec: "@daily", Type: job.TypeDeadlineCalculation, Priority: 4}); err != nil {
		t.Fatalf("Add: %v", err)
	}

	if err := s.Fire(context.Background(), "nightly"); err != nil {
		t.Fatalf("Fire: %v", err)
	}
	if sub.count() != 1 {
		t.Fatalf("submissions = %d, want 1", sub.count())
	}
	rec := sub.recs[0]
	if rec.Type != job.TypeDeadlineCalculation || rec.Priority != 4 || rec.Metadata.Tags["schedule"] != "nightly" {
		t.Errorf("record = %+v", rec)
	}
	if len(em.fired) != 1 || em.fired[0] != "nightly=job-deadline-calculation" {
		t.Errorf("fired = %v", em.fired)
	}
}

func TestAddRejectsBadEntries(t *testing.T) {
	sub := &submitted{}
	s, _ := schedule.New(sub.submit, nil, nil)

	if err := s.Add(schedule.Entry{Name: "bad", Spec: "not a cron", Type: job.TypeLegalResearch}); err == nil {
		t.Error("expected parse error")
	}
	if err := s.Add(schedule.Entry{Name: "a", Spec: "@hourly", Type: job.TypeLegalResearch}); err != nil {
		t.Fatal(err)
	}
	err := s.Add(schedule.Entry{Name: "a", Spec: "@hourly", Type: job.TypeLegalResearch})
	if !errors.Is(err, schedule.ErrDuplicateEntry) {
		t.Errorf("err = %v, want ErrDuplicateEntry", err)
	}
	if err := s.Fire(context.Background(), "missing"); !errors.Is(err, schedule.ErrUnknownEntry) {
		t.Errorf("err = %v, want ErrUnknownEntry", err)
	}
}

func TestEntriesAndRemove(t *testing.T) {
	sub := &submitted{}
	s, _ := schedule.New(sub.submit, nil, nil)
	_ = s.Add(schedule.Entry{Name: "a", Spec: "@hourly", Type: job.TypeLegalResearch})
	_ = s.Add(schedule.Entry{Name: "b", Spec: "*/5 * * * *", Type: job.TypeLegalResearch})

	if n := len(s.Entries()); n != 2 {
		t.Fatalf("entries = %d, want 2", n)
	}
	s.Remove("a")
	entries := s.Entries()
	if len(entries) != 1 || entries[0].Name != "b" {
		t.Errorf("entries = %+v", entries)
	}
}

func TestRunsOnSchedule(t *testing.T) {
	sub := &submitted{}
	s, _ := schedule.New(sub.submit, nil, nil)
	if err := s.Add(schedule.Entry{Name: "tick", Spec: "@every 1s", Type: job.TypeLegalResearch}); err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	_ = s.Start(ctx)
	defer func() { _ = s.Stop(ctx) }()

	deadline := time.Now().Add(3 * time.Second)
	for sub.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	if sub.count() == 0 {
		t.Fatal("scheduled entry never fired")
	}
}

func TestRetentionPurgesOldTerminalJobs(t *testing.T) {
	ctx := context.Background()
	store := memory.New()

	old := storetest.NewJob("job-old", "research", 1)
	old.State = job.StateCompleted
	old.UpdatedAt = time.Now().Add(-48 * time.Hour)
	fresh := storetest.NewJob("job-fresh", "research", 1)
	fresh.State = job.StateCompleted
	waiting := storetest.NewJob("job-waiting", "research", 1)
	waiting.UpdatedAt = time.Now().Add(-48 * time.Hour)
	for _, j := range []*job.Job{old, fresh, waiting} {
		if err := store.EnqueueJob(ctx, j); err != nil {
			t.Fatal(err)
		}
	}

	em := &firedRecorder{}
	sub := &submitted{}
	s, err := schedule.New(sub.submit, em, nil, schedule.WithRetention(24*time.Hour, "@hourly", store, nil))
	if err != nil {
		t.Fatal(err)
	}

	if err := s.Fire(ctx, schedule.RetentionEntryName); err != nil {
		t.Fatalf("Fire retention: %v", err)
	}
	if _, err := store.GetJob(ctx, "job-old"); err == nil {
		t.Error("old completed job should be purged")
	}
	for _, keep := range []string{"job-fresh", "job-waiting"} {
		if _, err := store.GetJob(ctx, keep); err != nil {
			t.Errorf("%s should survive: %v", keep, err)
		}
	}
	if len(em.fired) != 1 || em.fired[0] != "retention=" {
		t.Errorf("fired = %v", em.fired)
	}
}
