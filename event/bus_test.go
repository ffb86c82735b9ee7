package event

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/xraph/conductor/codec"
	"github.com/xraph/conductor/job"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func receive(t *testing.T, sub *Subscription) Event {
	t.Helper()
	select {
	case evt := <-sub.C():
		return evt
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func TestBus_SubscribeByKind(t *testing.T) {
	t.Parallel()

	b := NewBus(testLogger())
	completed := b.Subscribe(KindJobCompleted)
	all := b.Subscribe()

	ctx := context.Background()
	j := &job.Job{ID: "j1", Type: job.TypeLegalResearch, Queue: "research"}
	_ = b.OnJobStarted(ctx, j)

	enc, err := codec.Encode(map[string]any{"summary": "ok"})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	j.Result = enc
	_ = b.OnJobCompleted(ctx, j, 5*time.Millisecond)

	evt := receive(t, completed)
	done, ok := evt.(JobCompleted)
	if !ok {
		t.Fatalf("got %T, want JobCompleted", evt)
	}
	if done.JobID != "j1" {
		t.Errorf("JobID = %q, want %q", done.JobID, "j1")
	}
	res, ok := done.Result.(map[string]any)
	if !ok || res["summary"] != "ok" {
		t.Errorf("Result = %#v, want summary=ok", done.Result)
	}

	if k := receive(t, all).Kind(); k != KindJobStarted {
		t.Errorf("first event = %q, want %q", k, KindJobStarted)
	}
	if k := receive(t, all).Kind(); k != KindJobCompleted {
		t.Errorf("second event = %q, want %q", k, KindJobCompleted)
	}

	select {
	case evt := <-completed.C():
		t.Fatalf("unexpected extra event %T", evt)
	case <-time.After(20 * time.Millisecond):
	}
}

func TestBus_WorkflowCompletedSubject(t *testing.T) {
	t.Parallel()

	b := NewBus(testLogger())
	sub := b.Subscribe(KindWorkflowCompleted)

	_ = b.OnWorkflowCompleted(context.Background(), "parent-1", 1)

	evt := receive(t, sub)
	wf, ok := evt.(WorkflowCompleted)
	if !ok {
		t.Fatalf("got %T, want WorkflowCompleted", evt)
	}
	if wf.Subject() != "parent-1" || wf.FailedChildren != 1 {
		t.Errorf("got %+v", wf)
	}
	if Terminal(wf) {
		t.Error("WorkflowCompleted must not be terminal for its parent")
	}
}

func TestBus_FullBufferDrops(t *testing.T) {
	t.Parallel()

	b := NewBus(testLogger(), WithBufferSize(1))
	sub := b.Subscribe()

	j := &job.Job{ID: "j1"}
	for range 3 {
		_ = b.OnJobEnqueued(context.Background(), j)
	}

	stats := b.Stats()
	if stats.TotalPublished != 1 {
		t.Errorf("TotalPublished = %d, want 1", stats.TotalPublished)
	}
	if stats.TotalDropped != 2 {
		t.Errorf("TotalDropped = %d, want 2", stats.TotalDropped)
	}
	receive(t, sub)
}

func TestBus_WaitResolvesOnTerminalEvent(t *testing.T) {
	t.Parallel()

	b := NewBus(testLogger())
	j := &job.Job{ID: "j9", Attempts: 3, LastError: "boom"}

	got := make(chan Event, 1)
	go func() {
		evt, err := b.Wait(context.Background(), "j9")
		if err != nil {
			t.Errorf("Wait: %v", err)
		}
		got <- evt
	}()

	// Non-terminal events must not resolve the future.
	deadline := time.Now().Add(time.Second)
	for b.Stats().WatchedJobs == 0 && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	_ = b.OnJobRetrying(context.Background(), j, 1, time.Now())
	_ = b.OnJobFailed(context.Background(), j, errors.New("boom"))

	select {
	case evt := <-got:
		failed, ok := evt.(JobFailed)
		if !ok {
			t.Fatalf("got %T, want JobFailed", evt)
		}
		if failed.Error != "boom" || failed.Attempts != 3 {
			t.Errorf("got %+v", failed)
		}
	case <-time.After(time.Second):
		t.Fatal("Wait did not resolve")
	}

	if n := b.Stats().WatchedJobs; n != 0 {
		t.Errorf("WatchedJobs = %d, want 0", n)
	}
}

func TestBus_WaitContextCancel(t *testing.T) {
	t.Parallel()

	b := NewBus(testLogger())
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	if _, err := b.Wait(ctx, "missing"); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want DeadlineExceeded", err)
	}
	if n := b.Stats().WatchedJobs; n != 0 {
		t.Errorf("WatchedJobs = %d, want 0 after cancel", n)
	}
}

func TestBus_ShutdownClosesEverything(t *testing.T) {
	t.Parallel()

	b := NewBus(testLogger())
	sub := b.Subscribe()
	ch, cancel := b.Watch("j1")
	defer cancel()

	if err := b.OnShutdown(context.Background()); err != nil {
		t.Fatalf("OnShutdown: %v", err)
	}

	if _, ok := <-sub.C(); ok {
		t.Error("subscription channel should be closed")
	}
	if _, ok := <-ch; ok {
		t.Error("watch channel should be closed")
	}
	if _, err := b.Wait(context.Background(), "j2"); !errors.Is(err, ErrClosed) {
		t.Errorf("Wait after shutdown = %v, want ErrClosed", err)
	}

	// Publishing after shutdown is a no-op.
	_ = b.OnJobEnqueued(context.Background(), &job.Job{ID: "late"})
}

func TestBus_Unsubscribe(t *testing.T) {
	t.Parallel()

	b := NewBus(testLogger())
	sub := b.Subscribe()
	b.Unsubscribe(sub)
	b.Unsubscribe(sub)

	if _, ok := <-sub.C(); ok {
		t.Error("channel should be closed after Unsubscribe")
	}
	if n := b.Stats().Subscriptions; n != 0 {
		t.Errorf("Subscriptions = %d, want 0", n)
	}
}
