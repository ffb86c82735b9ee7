// Package storetest is a conformance suite run against every store.Store
// backend. Backends call Run from their own tests with a factory that
// returns a fresh, empty store.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/xraph/conductor"
	"github.com/xraph/conductor/dependency"
	"github.com/xraph/conductor/dlq"
	"github.com/xraph/conductor/id"
	"github.com/xraph/conductor/job"
	"github.com/xraph/conductor/store"
)

// Factory returns an empty store. It registers its own cleanup.
type Factory func(t *testing.T) store.Store

// Run executes the whole suite.
func Run(t *testing.T, newStore Factory) {
	t.Helper()

	t.Run("Lifecycle", func(t *testing.T) { testLifecycle(t, newStore(t)) })
	t.Run("EnqueueAndGet", func(t *testing.T) { testEnqueueAndGet(t, newStore(t)) })
	t.Run("DequeueOrder", func(t *testing.T) { testDequeueOrder(t, newStore(t)) })
	t.Run("DequeueSkipsDelayed", func(t *testing.T) { testDequeueSkipsDelayed(t, newStore(t)) })
	t.Run("DequeueClaimsOnce", func(t *testing.T) { testDequeueClaimsOnce(t, newStore(t)) })
	t.Run("RequeueAfterFailure", func(t *testing.T) { testRequeue(t, newStore(t)) })
	t.Run("UpdateAndDelete", func(t *testing.T) { testUpdateAndDelete(t, newStore(t)) })
	t.Run("ListByState", func(t *testing.T) { testListByState(t, newStore(t)) })
	t.Run("HeartbeatAndReap", func(t *testing.T) { testHeartbeatAndReap(t, newStore(t)) })
	t.Run("Count", func(t *testing.T) { testCount(t, newStore(t)) })
	t.Run("Purge", func(t *testing.T) { testPurge(t, newStore(t)) })
	t.Run("Dependencies", func(t *testing.T) { testDependencies(t, newStore(t)) })
	t.Run("DependenciesConcurrent", func(t *testing.T) { testDependenciesConcurrent(t, newStore(t)) })
	t.Run("DLQ", func(t *testing.T) { testDLQ(t, newStore(t)) })
}

// NewJob returns a waiting job that is due immediately.
func NewJob(jobID, queue string, priority int) *job.Job {
	return &job.Job{
		Entity:      conductor.NewEntity(),
		ID:          jobID,
		Type:        job.TypeLegalResearch,
		Queue:       queue,
		Priority:    priority,
		Payload:     `{"matter":"m-1"}`,
		State:       job.StateWaiting,
		MaxAttempts: 3,
		RunAt:       time.Now().UTC().Add(-time.Second),
		Metadata:    job.Metadata{Tags: map[string]string{"source": "test"}},
	}
}

func enqueue(t *testing.T, s store.Store, jobs ...*job.Job) {
	t.Helper()
	for _, j := range jobs {
		if err := s.EnqueueJob(context.Background(), j); err != nil {
			t.Fatalf("EnqueueJob(%s): %v", j.ID, err)
		}
	}
}

func ids(jobs []*job.Job) []string {
	out := make([]string, len(jobs))
	for i, j := range jobs {
		out[i] = j.ID
	}
	return out
}

func testLifecycle(t *testing.T, s store.Store) {
	ctx := context.Background()
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	if err := s.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}

func testEnqueueAndGet(t *testing.T, s store.Store) {
	ctx := context.Background()
	j := NewJob("j-get", "research", 2)
	j.ParentJobID = "p-1"
	deadline := time.Now().UTC().Add(time.Hour).Truncate(time.Millisecond)
	j.Metadata.Deadline = &deadline
	j.Timeout = 5 * time.Second
	enqueue(t, s, j)

	if err := s.EnqueueJob(ctx, NewJob("j-get", "research", 2)); !errors.Is(err, conductor.ErrJobAlreadyExists) {
		t.Fatalf("duplicate EnqueueJob = %v, want ErrJobAlreadyExists", err)
	}

	got, err := s.GetJob(ctx, "j-get")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Type != job.TypeLegalResearch || got.Queue != "research" || got.Priority != 2 {
		t.Errorf("got %+v", got)
	}
	if got.Payload != j.Payload {
		t.Errorf("Payload = %q, want %q", got.Payload, j.Payload)
	}
	if got.ParentJobID != "p-1" {
		t.Errorf("ParentJobID = %q, want %q", got.ParentJobID, "p-1")
	}
	if got.State != job.StateWaiting || got.MaxAttempts != 3 {
		t.Errorf("State = %q MaxAttempts = %d", got.State, got.MaxAttempts)
	}
	if got.Metadata.Deadline == nil || !got.Metadata.Deadline.Equal(deadline) {
		t.Errorf("Deadline = %v, want %v", got.Metadata.Deadline, deadline)
	}
	if got.Metadata.Tags["source"] != "test" {
		t.Errorf("Tags = %v", got.Metadata.Tags)
	}
	if got.Timeout != 5*time.Second {
		t.Errorf("Timeout = %v, want 5s", got.Timeout)
	}

	if _, err := s.GetJob(ctx, "missing"); !errors.Is(err, conductor.ErrJobNotFound) {
		t.Fatalf("GetJob(missing) = %v, want ErrJobNotFound", err)
	}
}

func testDequeueOrder(t *testing.T, s store.Store) {
	ctx := context.Background()
	early := NewJob("early", "research", 3)
	early.RunAt = early.RunAt.Add(-time.Minute)
	enqueue(t, s,
		NewJob("low", "research", 5),
		NewJob("late", "research", 3),
		early,
		NewJob("urgent", "research", 1),
		NewJob("elsewhere", "documents", 1),
	)

	jobs, err := s.DequeueJobs(ctx, []string{"research"}, 3)
	if err != nil {
		t.Fatalf("DequeueJobs: %v", err)
	}
	want := []string{"urgent", "early", "late"}
	got := ids(jobs)
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("dequeued %v, want %v", got, want)
	}
	for _, j := range jobs {
		if j.State != job.StateActive {
			t.Errorf("%s state = %q, want %q", j.ID, j.State, job.StateActive)
		}
		if j.StartedAt == nil {
			t.Errorf("%s StartedAt not set", j.ID)
		}
	}

	stored, err := s.GetJob(ctx, "urgent")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if stored.State != job.StateActive {
		t.Errorf("stored state = %q, want active", stored.State)
	}

	other, err := s.DequeueJobs(ctx, []string{"documents"}, 10)
	if err != nil {
		t.Fatalf("DequeueJobs(documents): %v", err)
	}
	if len(other) != 1 || other[0].ID != "elsewhere" {
		t.Errorf("documents dequeue = %v", ids(other))
	}
}

func testDequeueSkipsDelayed(t *testing.T, s store.Store) {
	ctx := context.Background()
	future := NewJob("future", "research", 1)
	future.RunAt = time.Now().UTC().Add(time.Hour)
	enqueue(t, s, future, NewJob("ready", "research", 9))

	jobs, err := s.DequeueJobs(ctx, []string{"research"}, 10)
	if err != nil {
		t.Fatalf("DequeueJobs: %v", err)
	}
	if len(jobs) != 1 || jobs[0].ID != "ready" {
		t.Fatalf("dequeued %v, want [ready]", ids(jobs))
	}
}

func testDequeueClaimsOnce(t *testing.T, s store.Store) {
	ctx := context.Background()
	const total = 20
	for i := range total {
		enqueue(t, s, NewJob(fmt.Sprintf("c%02d", i), "research", 1))
	}

	var (
		mu      sync.Mutex
		claimed = make(map[string]int)
		wg      sync.WaitGroup
	)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				jobs, err := s.DequeueJobs(ctx, []string{"research"}, 1)
				if err != nil {
					t.Errorf("DequeueJobs: %v", err)
					return
				}
				if len(jobs) == 0 {
					return
				}
				mu.Lock()
				for _, j := range jobs {
					claimed[j.ID]++
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(claimed) != total {
		t.Fatalf("claimed %d distinct jobs, want %d", len(claimed), total)
	}
	for jobID, n := range claimed {
		if n != 1 {
			t.Errorf("%s claimed %d times", jobID, n)
		}
	}
}

func testRequeue(t *testing.T, s store.Store) {
	ctx := context.Background()
	enqueue(t, s, NewJob("retry-me", "research", 1))

	jobs, err := s.DequeueJobs(ctx, []string{"research"}, 1)
	if err != nil || len(jobs) != 1 {
		t.Fatalf("DequeueJobs = %v, %v", ids(jobs), err)
	}
	j := jobs[0]
	j.State = job.StateWaiting
	j.Attempts = 1
	j.LastError = "transient"
	j.RunAt = time.Now().UTC().Add(time.Hour)
	if err := s.UpdateJob(ctx, j); err != nil {
		t.Fatalf("UpdateJob: %v", err)
	}

	again, err := s.DequeueJobs(ctx, []string{"research"}, 1)
	if err != nil {
		t.Fatalf("DequeueJobs: %v", err)
	}
	if len(again) != 0 {
		t.Fatalf("backed-off job dequeued early: %v", ids(again))
	}

	j.RunAt = time.Now().UTC().Add(-time.Millisecond)
	if err := s.UpdateJob(ctx, j); err != nil {
		t.Fatalf("UpdateJob: %v", err)
	}
	again, err = s.DequeueJobs(ctx, []string{"research"}, 1)
	if err != nil {
		t.Fatalf("DequeueJobs: %v", err)
	}
	if len(again) != 1 || again[0].Attempts != 1 || again[0].LastError != "transient" {
		t.Fatalf("requeued job = %+v", again)
	}
}

func testUpdateAndDelete(t *testing.T, s store.Store) {
	ctx := context.Background()
	j := NewJob("upd", "research", 1)
	enqueue(t, s, j)

	now := time.Now().UTC()
	j.State = job.StateCompleted
	j.Result = `{"ok":true}`
	j.SpawnedChildIDs = []string{"k1", "k2"}
	j.ProcessingTime = 1500 * time.Millisecond
	j.CompletedAt = &now
	j.WorkerID = id.NewWorkerID()
	if err := s.UpdateJob(ctx, j); err != nil {
		t.Fatalf("UpdateJob: %v", err)
	}

	got, err := s.GetJob(ctx, "upd")
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.State != job.StateCompleted || got.Result != `{"ok":true}` {
		t.Errorf("got state %q result %q", got.State, got.Result)
	}
	if fmt.Sprint(got.SpawnedChildIDs) != "[k1 k2]" {
		t.Errorf("SpawnedChildIDs = %v", got.SpawnedChildIDs)
	}
	if got.ProcessingTime != 1500*time.Millisecond {
		t.Errorf("ProcessingTime = %v", got.ProcessingTime)
	}
	if got.WorkerID.String() != j.WorkerID.String() {
		t.Errorf("WorkerID = %q, want %q", got.WorkerID, j.WorkerID)
	}
	if got.CompletedAt == nil {
		t.Error("CompletedAt not persisted")
	}

	if err := s.UpdateJob(ctx, NewJob("ghost", "research", 1)); !errors.Is(err, conductor.ErrJobNotFound) {
		t.Fatalf("UpdateJob(ghost) = %v, want ErrJobNotFound", err)
	}

	if err := s.DeleteJob(ctx, "upd"); err != nil {
		t.Fatalf("DeleteJob: %v", err)
	}
	if _, err := s.GetJob(ctx, "upd"); !errors.Is(err, conductor.ErrJobNotFound) {
		t.Fatalf("GetJob after delete = %v", err)
	}
	if err := s.DeleteJob(ctx, "upd"); !errors.Is(err, conductor.ErrJobNotFound) {
		t.Fatalf("second DeleteJob = %v, want ErrJobNotFound", err)
	}
}

func testListByState(t *testing.T, s store.Store) {
	ctx := context.Background()
	enqueue(t, s,
		NewJob("w1", "research", 1),
		NewJob("w2", "research", 1),
		NewJob("w3", "documents", 1),
	)
	if _, err := s.DequeueJobs(ctx, []string{"documents"}, 1); err != nil {
		t.Fatalf("DequeueJobs: %v", err)
	}

	tests := []struct {
		name  string
		state job.State
		opts  job.ListOpts
		want  int
	}{
		{"all waiting", job.StateWaiting, job.ListOpts{}, 2},
		{"active", job.StateActive, job.ListOpts{}, 1},
		{"waiting in research", job.StateWaiting, job.ListOpts{Queue: "research"}, 2},
		{"limit", job.StateWaiting, job.ListOpts{Limit: 1}, 1},
		{"offset", job.StateWaiting, job.ListOpts{Offset: 1}, 1},
		{"completed", job.StateCompleted, job.ListOpts{}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			jobs, err := s.ListJobsByState(ctx, tt.state, tt.opts)
			if err != nil {
				t.Fatalf("ListJobsByState: %v", err)
			}
			if len(jobs) != tt.want {
				t.Fatalf("got %d, want %d", len(jobs), tt.want)
			}
		})
	}
}

func testHeartbeatAndReap(t *testing.T, s store.Store) {
	ctx := context.Background()
	enqueue(t, s, NewJob("hb", "research", 1))
	jobs, err := s.DequeueJobs(ctx, []string{"research"}, 1)
	if err != nil || len(jobs) != 1 {
		t.Fatalf("DequeueJobs = %v, %v", ids(jobs), err)
	}

	j := jobs[0]
	old := time.Now().UTC().Add(-time.Minute)
	j.HeartbeatAt = &old
	if err := s.UpdateJob(ctx, j); err != nil {
		t.Fatalf("UpdateJob: %v", err)
	}

	stale, err := s.ReapStaleJobs(ctx, 30*time.Second)
	if err != nil {
		t.Fatalf("ReapStaleJobs: %v", err)
	}
	if len(stale) != 1 || stale[0].ID != "hb" {
		t.Fatalf("stale = %v, want [hb]", ids(stale))
	}

	if err := s.HeartbeatJob(ctx, "hb", id.NewWorkerID()); err != nil {
		t.Fatalf("HeartbeatJob: %v", err)
	}
	stale, err = s.ReapStaleJobs(ctx, 30*time.Second)
	if err != nil {
		t.Fatalf("ReapStaleJobs: %v", err)
	}
	if len(stale) != 0 {
		t.Fatalf("stale after heartbeat = %v", ids(stale))
	}
}

func testCount(t *testing.T, s store.Store) {
	ctx := context.Background()
	delayed := NewJob("delayed", "research", 1)
	delayed.RunAt = time.Now().UTC().Add(time.Hour)
	enqueue(t, s,
		NewJob("n1", "research", 1),
		delayed,
		NewJob("n3", "documents", 1),
	)
	if _, err := s.DequeueJobs(ctx, []string{"documents"}, 1); err != nil {
		t.Fatalf("DequeueJobs: %v", err)
	}

	now := time.Now().UTC()
	tests := []struct {
		name string
		opts job.CountOpts
		want int64
	}{
		{"all", job.CountOpts{}, 3},
		{"research", job.CountOpts{Queue: "research"}, 2},
		{"waiting", job.CountOpts{State: job.StateWaiting}, 2},
		{"active documents", job.CountOpts{Queue: "documents", State: job.StateActive}, 1},
		{"delayed", job.CountOpts{State: job.StateWaiting, RunAfter: now}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, err := s.CountJobs(ctx, tt.opts)
			if err != nil {
				t.Fatalf("CountJobs: %v", err)
			}
			if n != tt.want {
				t.Fatalf("count = %d, want %d", n, tt.want)
			}
		})
	}
}

func testPurge(t *testing.T, s store.Store) {
	ctx := context.Background()
	done := NewJob("done", "research", 1)
	failed := NewJob("failed", "research", 1)
	enqueue(t, s, done, failed, NewJob("live", "research", 1))

	done.State = job.StateCompleted
	failed.State = job.StateFailed
	for _, j := range []*job.Job{done, failed} {
		if err := s.UpdateJob(ctx, j); err != nil {
			t.Fatalf("UpdateJob: %v", err)
		}
	}

	n, err := s.PurgeJobs(ctx, time.Now().UTC().Add(-time.Hour))
	if err != nil {
		t.Fatalf("PurgeJobs: %v", err)
	}
	if n != 0 {
		t.Fatalf("purged %d recent jobs, want 0", n)
	}

	n, err = s.PurgeJobs(ctx, time.Now().UTC().Add(time.Minute))
	if err != nil {
		t.Fatalf("PurgeJobs: %v", err)
	}
	if n != 2 {
		t.Fatalf("purged %d, want 2", n)
	}
	if _, err := s.GetJob(ctx, "live"); err != nil {
		t.Fatalf("waiting job purged: %v", err)
	}
	if _, err := s.GetJob(ctx, "done"); !errors.Is(err, conductor.ErrJobNotFound) {
		t.Fatalf("GetJob(done) = %v, want ErrJobNotFound", err)
	}
}

func testDependencies(t *testing.T, s store.Store) {
	ctx := context.Background()
	for _, c := range []string{"c2", "c1", "c3"} {
		if err := s.AddDependency(ctx, "p", c); err != nil {
			t.Fatalf("AddDependency: %v", err)
		}
	}
	if err := s.AddDependency(ctx, "p", "c1"); err != nil {
		t.Fatalf("duplicate AddDependency: %v", err)
	}

	pending, err := s.PendingChildren(ctx, "p")
	if err != nil {
		t.Fatalf("PendingChildren: %v", err)
	}
	if fmt.Sprint(pending) != "[c1 c2 c3]" {
		t.Fatalf("PendingChildren = %v, want [c1 c2 c3]", pending)
	}
	if n, _ := s.CountParents(ctx); n != 1 {
		t.Fatalf("CountParents = %d, want 1", n)
	}

	r, err := s.RemoveDependency(ctx, "c1", true)
	if err != nil {
		t.Fatalf("RemoveDependency: %v", err)
	}
	if r.ParentID != "p" || r.Drained {
		t.Fatalf("first removal = %+v", r)
	}
	if r, _ = s.RemoveDependency(ctx, "c1", false); r.Drained {
		t.Fatalf("repeat removal drained: %+v", r)
	}
	if r, _ = s.RemoveDependency(ctx, "c2", false); r.Drained {
		t.Fatalf("second removal drained: %+v", r)
	}
	r, err = s.RemoveDependency(ctx, "c3", false)
	if err != nil {
		t.Fatalf("RemoveDependency: %v", err)
	}
	if !r.Drained || r.ParentID != "p" || r.FailedChildren != 1 {
		t.Fatalf("last removal = %+v, want drained with 1 failed", r)
	}

	if pending, _ = s.PendingChildren(ctx, "p"); len(pending) != 0 {
		t.Errorf("PendingChildren after drain = %v", pending)
	}
	if n, _ := s.CountParents(ctx); n != 0 {
		t.Errorf("CountParents after drain = %d", n)
	}
	if r, _ = s.RemoveDependency(ctx, "unknown", false); r != (dependency.Removal{}) {
		t.Errorf("unknown child removal = %+v", r)
	}
}

func testDependenciesConcurrent(t *testing.T, s store.Store) {
	ctx := context.Background()
	const n = 30
	for i := range n {
		if err := s.AddDependency(ctx, "fan", fmt.Sprintf("k%d", i)); err != nil {
			t.Fatalf("AddDependency: %v", err)
		}
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		drained int
	)
	for i := range n {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r, err := s.RemoveDependency(ctx, fmt.Sprintf("k%d", i), false)
			if err != nil {
				t.Errorf("RemoveDependency: %v", err)
				return
			}
			if r.Drained {
				mu.Lock()
				drained++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	if drained != 1 {
		t.Fatalf("drained %d times, want exactly 1", drained)
	}
}

func testDLQ(t *testing.T, s store.Store) {
	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Hour)
	var entries []*dlq.Entry
	for i, q := range []string{"research", "research", "documents"} {
		e := &dlq.Entry{
			ID:          id.NewDLQID(),
			JobID:       fmt.Sprintf("dead-%d", i),
			Type:        job.TypeLegalResearch,
			Queue:       q,
			Payload:     `{"n":1}`,
			Error:       "boom",
			Attempts:    3,
			MaxAttempts: 3,
			FailedAt:    base.Add(time.Duration(i) * time.Minute),
			CreatedAt:   base,
		}
		if err := s.PushDLQ(ctx, e); err != nil {
			t.Fatalf("PushDLQ: %v", err)
		}
		entries = append(entries, e)
	}

	got, err := s.GetDLQ(ctx, entries[0].ID)
	if err != nil {
		t.Fatalf("GetDLQ: %v", err)
	}
	if got.JobID != "dead-0" || got.Error != "boom" || got.Attempts != 3 || got.Payload != `{"n":1}` {
		t.Errorf("GetDLQ = %+v", got)
	}
	if _, err := s.GetDLQ(ctx, id.NewDLQID()); !errors.Is(err, conductor.ErrDLQNotFound) {
		t.Fatalf("GetDLQ(missing) = %v, want ErrDLQNotFound", err)
	}

	list, err := s.ListDLQ(ctx, dlq.ListOpts{})
	if err != nil {
		t.Fatalf("ListDLQ: %v", err)
	}
	if len(list) != 3 || list[0].JobID != "dead-2" {
		t.Fatalf("ListDLQ newest first = %v", list)
	}
	research, _ := s.ListDLQ(ctx, dlq.ListOpts{Queue: "research", Limit: 1})
	if len(research) != 1 || research[0].JobID != "dead-1" {
		t.Fatalf("ListDLQ(research, 1) = %v", research)
	}

	if err := s.ReplayDLQ(ctx, entries[1].ID); err != nil {
		t.Fatalf("ReplayDLQ: %v", err)
	}
	replayed, _ := s.GetDLQ(ctx, entries[1].ID)
	if replayed.ReplayedAt == nil {
		t.Error("ReplayedAt not set")
	}
	if err := s.ReplayDLQ(ctx, id.NewDLQID()); !errors.Is(err, conductor.ErrDLQNotFound) {
		t.Fatalf("ReplayDLQ(missing) = %v, want ErrDLQNotFound", err)
	}

	n, err := s.PurgeDLQ(ctx, base.Add(90*time.Second))
	if err != nil {
		t.Fatalf("PurgeDLQ: %v", err)
	}
	if n != 2 {
		t.Fatalf("PurgeDLQ removed %d, want 2", n)
	}
	if count, _ := s.CountDLQ(ctx); count != 1 {
		t.Fatalf("CountDLQ = %d, want 1", count)
	}
}
