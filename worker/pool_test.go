package worker_test

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/xraph/conductor"
	"github.com/xraph/conductor/backoff"
	"github.com/xraph/conductor/codec"
	"github.com/xraph/conductor/dlq"
	"github.com/xraph/conductor/ext"
	"github.com/xraph/conductor/job"
	"github.com/xraph/conductor/middleware"
	"github.com/xraph/conductor/queue"
	"github.com/xraph/conductor/store/memory"
	"github.com/xraph/conductor/store/storetest"
	"github.com/xraph/conductor/worker"
)

type harness struct {
	store      *memory.Store
	extensions *ext.Registry
	dlq        *dlq.Service
	tracker    *fakeTracker
	group      *worker.Group
}

func newHarness(t *testing.T, runner worker.Runner, configs ...queue.Config) *harness {
	t.Helper()
	logger := slog.Default()
	s := memory.New()
	h := &harness{
		store:      s,
		extensions: ext.NewRegistry(logger),
		dlq:        dlq.NewService(s, s),
		tracker:    &fakeTracker{},
	}

	executor := worker.NewExecutor(runner, s, h.extensions, logger,
		worker.WithDLQ(h.dlq),
		worker.WithTracker(h.tracker),
		worker.WithMiddleware(middleware.Recover(logger), middleware.Timeout(logger)),
	)

	h.group = worker.NewGroup(s, logger, worker.WithStaleJobThreshold(time.Minute))
	for _, cfg := range configs {
		h.group.Add(worker.NewPool(cfg, s, executor, h.extensions, logger,
			worker.WithPollInterval(10*time.Millisecond),
			worker.WithBackoff(backoff.NewConstant(5*time.Millisecond)),
		))
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = h.group.Stop(ctx)
	})
	return h
}

func queueConfig(name string, concurrency int) queue.Config {
	return queue.Config{Name: name, Concurrency: concurrency, Retry: queue.DefaultRetryPolicy()}
}

func (h *harness) enqueue(t *testing.T, jobs ...*job.Job) {
	t.Helper()
	for _, j := range jobs {
		if err := h.store.EnqueueJob(context.Background(), j); err != nil {
			t.Fatalf("EnqueueJob(%s): %v", j.ID, err)
		}
	}
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	if err := h.group.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
}

// waitState polls until the job reaches state.
func (h *harness) waitState(t *testing.T, jobID string, state job.State) *job.Job {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		j, err := h.store.GetJob(context.Background(), jobID)
		if err == nil && j.State == state {
			return j
		}
		time.Sleep(5 * time.Millisecond)
	}
	j, _ := h.store.GetJob(context.Background(), jobID)
	t.Fatalf("job %s did not reach %s (last: %+v)", jobID, state, j)
	return nil
}

type fakeTracker struct {
	mu        sync.Mutex
	completed []string
	failed    []string
}

func (f *fakeTracker) OnChildCompleted(_ context.Context, childID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.completed = append(f.completed, childID)
	return nil
}

func (f *fakeTracker) OnChildFailed(_ context.Context, childID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed = append(f.failed, childID)
	return nil
}

func (f *fakeTracker) snapshot() (completed, failed []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.completed...), append([]string(nil), f.failed...)
}

func TestPool_StartStop(t *testing.T) {
	h := newHarness(t, worker.RunnerFunc(func(context.Context, *job.Job, any) (any, error) {
		return nil, nil
	}), queueConfig("research", 2))

	h.start(t)
	if err := h.group.Start(context.Background()); err != nil {
		t.Fatalf("double start: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := h.group.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := h.group.Stop(ctx); err != nil {
		t.Fatalf("double stop: %v", err)
	}

	p, _ := h.group.Pool("research")
	if p.Running() {
		t.Fatal("pool still running after Stop")
	}
}

func TestPool_ProcessesJob(t *testing.T) {
	h := newHarness(t, worker.RunnerFunc(func(_ context.Context, _ *job.Job, payload any) (any, error) {
		m, ok := payload.(map[string]any)
		if !ok || m["name"] != "Alice" {
			return nil, conductor.Terminal(errors.New("unexpected payload"))
		}
		return map[string]any{"greeting": "hello " + m["name"].(string)}, nil
	}), queueConfig("research", 1))

	j := storetest.NewJob("greet", "research", 1)
	j.Payload, _ = codec.Encode(map[string]any{"name": "Alice"})
	h.enqueue(t, j)
	h.start(t)

	done := h.waitState(t, "greet", job.StateCompleted)
	res, err := job.ResultOf(done)
	if err != nil {
		t.Fatalf("ResultOf: %v", err)
	}
	if !res.Success || res.Attempts != 1 {
		t.Fatalf("result = %+v", res)
	}
	if got := res.Result.(map[string]any)["greeting"]; got != "hello Alice" {
		t.Fatalf("greeting = %v", got)
	}
	if done.WorkerID.IsNil() {
		t.Fatal("worker id not recorded")
	}
}

func TestPool_RetriesThenFails(t *testing.T) {
	var calls atomic.Int32
	h := newHarness(t, worker.RunnerFunc(func(context.Context, *job.Job, any) (any, error) {
		calls.Add(1)
		return nil, errors.New("model unavailable")
	}), queueConfig("research", 1))

	h.enqueue(t, storetest.NewJob("flaky", "research", 1))
	h.start(t)

	failed := h.waitState(t, "flaky", job.StateFailed)
	if failed.Attempts != 3 || calls.Load() != 3 {
		t.Fatalf("attempts = %d, calls = %d, want 3", failed.Attempts, calls.Load())
	}
	if failed.LastError != "model unavailable" {
		t.Fatalf("last error = %q", failed.LastError)
	}
	if n, _ := h.dlq.Count(context.Background()); n != 1 {
		t.Fatalf("dlq count = %d, want 1", n)
	}
}

func TestPool_TerminalErrorSkipsRetry(t *testing.T) {
	var calls atomic.Int32
	h := newHarness(t, worker.RunnerFunc(func(context.Context, *job.Job, any) (any, error) {
		calls.Add(1)
		return nil, conductor.Terminal(errors.New("bad input"))
	}), queueConfig("research", 1))

	h.enqueue(t, storetest.NewJob("doomed", "research", 1))
	h.start(t)

	failed := h.waitState(t, "doomed", job.StateFailed)
	if failed.Attempts != 1 || calls.Load() != 1 {
		t.Fatalf("attempts = %d, calls = %d, want 1", failed.Attempts, calls.Load())
	}
}

func TestPool_PanicIsRetried(t *testing.T) {
	var calls atomic.Int32
	h := newHarness(t, worker.RunnerFunc(func(context.Context, *job.Job, any) (any, error) {
		if calls.Add(1) == 1 {
			panic("first attempt explodes")
		}
		return "ok", nil
	}), queueConfig("research", 1))

	h.enqueue(t, storetest.NewJob("panicky", "research", 1))
	h.start(t)

	done := h.waitState(t, "panicky", job.StateCompleted)
	if done.Attempts != 2 {
		t.Fatalf("attempts = %d, want 2", done.Attempts)
	}
}

func TestPool_MalformedPayloadFailsAtOnce(t *testing.T) {
	h := newHarness(t, worker.RunnerFunc(func(context.Context, *job.Job, any) (any, error) {
		t.Error("runner called with malformed payload")
		return nil, nil
	}), queueConfig("research", 1))

	j := storetest.NewJob("garbled", "research", 1)
	j.Payload = "{not json"
	h.enqueue(t, j)
	h.start(t)

	failed := h.waitState(t, "garbled", job.StateFailed)
	if failed.Attempts != 1 {
		t.Fatalf("attempts = %d, want 1", failed.Attempts)
	}
}

func TestPool_NotifiesTracker(t *testing.T) {
	h := newHarness(t, worker.RunnerFunc(func(_ context.Context, j *job.Job, _ any) (any, error) {
		if j.ID == "child-bad" {
			return nil, conductor.Terminal(errors.New("no"))
		}
		return nil, nil
	}), queueConfig("research", 2))

	good := storetest.NewJob("child-good", "research", 1)
	good.ParentJobID = "parent"
	bad := storetest.NewJob("child-bad", "research", 1)
	bad.ParentJobID = "parent"
	orphan := storetest.NewJob("orphan", "research", 1)
	h.enqueue(t, good, bad, orphan)
	h.start(t)

	h.waitState(t, "child-good", job.StateCompleted)
	h.waitState(t, "child-bad", job.StateFailed)
	h.waitState(t, "orphan", job.StateCompleted)

	completed, failed := h.tracker.snapshot()
	if len(completed) != 1 || completed[0] != "child-good" {
		t.Fatalf("completed = %v", completed)
	}
	if len(failed) != 1 || failed[0] != "child-bad" {
		t.Fatalf("failed = %v", failed)
	}
}

func TestPool_ConcurrencyIsolation(t *testing.T) {
	var (
		mu      sync.Mutex
		current = map[string]int{}
		peak    = map[string]int{}
	)
	h := newHarness(t, worker.RunnerFunc(func(_ context.Context, j *job.Job, _ any) (any, error) {
		mu.Lock()
		current[j.Queue]++
		if current[j.Queue] > peak[j.Queue] {
			peak[j.Queue] = current[j.Queue]
		}
		mu.Unlock()

		time.Sleep(100 * time.Millisecond)

		mu.Lock()
		current[j.Queue]--
		mu.Unlock()
		return nil, nil
	}), queueConfig("reasoning", 1), queueConfig("embeddings", 5))

	var ids []string
	for i := range 10 {
		r := storetest.NewJob("r"+string(rune('0'+i)), "reasoning", 1)
		e := storetest.NewJob("e"+string(rune('0'+i)), "embeddings", 1)
		h.enqueue(t, r, e)
		ids = append(ids, r.ID, e.ID)
	}
	h.start(t)
	for _, jobID := range ids {
		h.waitState(t, jobID, job.StateCompleted)
	}

	mu.Lock()
	defer mu.Unlock()
	if peak["reasoning"] != 1 {
		t.Fatalf("reasoning peak = %d, want 1", peak["reasoning"])
	}
	if peak["embeddings"] != 5 {
		t.Fatalf("embeddings peak = %d, want 5", peak["embeddings"])
	}
}

func TestPool_GracefulShutdownWaitsForJob(t *testing.T) {
	started := make(chan struct{})
	var finished atomic.Bool
	h := newHarness(t, worker.RunnerFunc(func(context.Context, *job.Job, any) (any, error) {
		close(started)
		time.Sleep(50 * time.Millisecond)
		finished.Store(true)
		return nil, nil
	}), queueConfig("research", 1))

	h.enqueue(t, storetest.NewJob("slow", "research", 1))
	h.start(t)
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := h.group.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if !finished.Load() {
		t.Fatal("Stop returned before the in-flight job finished")
	}
	h.waitState(t, "slow", job.StateCompleted)
}

func TestPool_ShutdownTimeoutCancelsJob(t *testing.T) {
	started := make(chan struct{})
	h := newHarness(t, worker.RunnerFunc(func(ctx context.Context, _ *job.Job, _ any) (any, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	}), queueConfig("research", 1))

	h.enqueue(t, storetest.NewJob("stuck", "research", 1))
	h.start(t)
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if err := h.group.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}

	j := h.waitState(t, "stuck", job.StateWaiting)
	if j.Attempts != 1 || j.LastError != context.Canceled.Error() {
		t.Fatalf("cancelled job = %+v", j)
	}
}

func TestGroup_ReapsStaleJobs(t *testing.T) {
	h := newHarness(t, worker.RunnerFunc(func(context.Context, *job.Job, any) (any, error) {
		return nil, nil
	}), queueConfig("research", 1))
	ctx := context.Background()

	h.enqueue(t, storetest.NewJob("abandoned", "research", 1))
	claimed, err := h.store.DequeueJobs(ctx, []string{"research"}, 1)
	if err != nil || len(claimed) != 1 {
		t.Fatalf("dequeue: %v %v", claimed, err)
	}
	old := time.Now().UTC().Add(-time.Hour)
	claimed[0].HeartbeatAt = &old
	if err := h.store.UpdateJob(ctx, claimed[0]); err != nil {
		t.Fatalf("UpdateJob: %v", err)
	}

	if n := h.group.ReapStaleJobs(ctx); n != 1 {
		t.Fatalf("reaped %d, want 1", n)
	}
	j, _ := h.store.GetJob(ctx, "abandoned")
	if j.State != job.StateWaiting || j.HeartbeatAt != nil {
		t.Fatalf("reaped job = %+v", j)
	}
}

func TestPool_ExtensionFires(t *testing.T) {
	h := newHarness(t, worker.RunnerFunc(func(_ context.Context, j *job.Job, _ any) (any, error) {
		if j.ID == "bad" {
			return nil, conductor.Terminal(errors.New("no"))
		}
		return nil, nil
	}), queueConfig("research", 1))

	te := &trackingExt{}
	h.extensions.Register(te)

	h.enqueue(t, storetest.NewJob("good", "research", 1), storetest.NewJob("bad", "research", 2))
	h.start(t)
	h.waitState(t, "good", job.StateCompleted)
	h.waitState(t, "bad", job.StateFailed)

	if te.started.Load() != 2 || te.completed.Load() != 1 || te.failed.Load() != 1 {
		t.Fatalf("started=%d completed=%d failed=%d",
			te.started.Load(), te.completed.Load(), te.failed.Load())
	}
}

func TestPool_Stats(t *testing.T) {
	h := newHarness(t, worker.RunnerFunc(func(context.Context, *job.Job, any) (any, error) {
		return nil, nil
	}), queueConfig("research", 3), queueConfig("documents", 2))

	stats := h.group.Stats()
	if len(stats) != 2 || stats[0].Queue != "research" || stats[1].Concurrency != 2 {
		t.Fatalf("stats = %+v", stats)
	}
	if stats[0].Running {
		t.Fatal("pool reported running before Start")
	}
}

type trackingExt struct {
	started   atomic.Int32
	completed atomic.Int32
	failed    atomic.Int32
}

func (e *trackingExt) Name() string { return "tracking" }

func (e *trackingExt) OnJobStarted(_ context.Context, _ *job.Job) error {
	e.started.Add(1)
	return nil
}

func (e *trackingExt) OnJobCompleted(_ context.Context, _ *job.Job, _ time.Duration) error {
	e.completed.Add(1)
	return nil
}

func (e *trackingExt) OnJobFailed(_ context.Context, _ *job.Job, _ error) error {
	e.failed.Add(1)
	return nil
}
