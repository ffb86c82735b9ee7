package observability_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/xraph/conductor/ext"
	"github.com/xraph/conductor/job"
	"github.com/xraph/conductor/observability"
)

func newTestExtension() (*observability.MetricsExtension, *prometheus.Registry) {
	reg := prometheus.NewRegistry()
	return observability.NewMetricsExtensionWithRegisterer(reg), reg
}

func newTestJob() *job.Job {
	return &job.Job{
		ID:    "job-obs",
		Type:  job.TypeDocumentEmbedding,
		Queue: "embeddings",
	}
}

func TestMetricsExtension_Name(t *testing.T) {
	e, _ := newTestExtension()
	if e.Name() != "observability-metrics" {
		t.Errorf("expected name %q, got %q", "observability-metrics", e.Name())
	}
}

func TestMetricsExtension_JobLifecycle(t *testing.T) {
	e, _ := newTestExtension()
	ctx := context.Background()
	j := newTestJob()

	_ = e.OnJobEnqueued(ctx, j)
	_ = e.OnJobStarted(ctx, j)
	if got := testutil.ToFloat64(e.JobsActive.WithLabelValues("embeddings")); got != 1 {
		t.Fatalf("active after start = %v, want 1", got)
	}

	_ = e.OnJobRetrying(ctx, j, 1, time.Now())
	_ = e.OnJobStarted(ctx, j)
	_ = e.OnJobCompleted(ctx, j, 250*time.Millisecond)

	if got := testutil.ToFloat64(e.JobsActive.WithLabelValues("embeddings")); got != 0 {
		t.Errorf("active after completion = %v, want 0", got)
	}
	if got := testutil.ToFloat64(e.JobsEnqueued.WithLabelValues("embeddings", "document-embedding")); got != 1 {
		t.Errorf("enqueued = %v, want 1", got)
	}
	if got := testutil.ToFloat64(e.JobsRetried.WithLabelValues("embeddings", "document-embedding")); got != 1 {
		t.Errorf("retried = %v, want 1", got)
	}
	if got := testutil.ToFloat64(e.JobsCompleted.WithLabelValues("embeddings", "document-embedding")); got != 1 {
		t.Errorf("completed = %v, want 1", got)
	}
}

func TestMetricsExtension_FailureAndDLQ(t *testing.T) {
	e, _ := newTestExtension()
	ctx := context.Background()
	j := newTestJob()

	_ = e.OnJobStarted(ctx, j)
	_ = e.OnJobFailed(ctx, j, errors.New("boom"))
	_ = e.OnJobDLQ(ctx, j, errors.New("boom"))

	if got := testutil.ToFloat64(e.JobsFailed.WithLabelValues("embeddings", "document-embedding")); got != 1 {
		t.Errorf("failed = %v, want 1", got)
	}
	if got := testutil.ToFloat64(e.JobsDLQ.WithLabelValues("embeddings")); got != 1 {
		t.Errorf("dlq = %v, want 1", got)
	}
	if got := testutil.ToFloat64(e.JobsActive.WithLabelValues("embeddings")); got != 0 {
		t.Errorf("active = %v, want 0", got)
	}
}

func TestMetricsExtension_FanOutFanIn(t *testing.T) {
	e, _ := newTestExtension()
	ctx := context.Background()

	for range 3 {
		_ = e.OnChildSpawned(ctx, "parent", newTestJob())
	}
	_ = e.OnWorkflowCompleted(ctx, "parent", 0)
	_ = e.OnWorkflowCompleted(ctx, "other", 2)

	if got := testutil.ToFloat64(e.ChildrenSpawned); got != 3 {
		t.Errorf("spawned = %v, want 3", got)
	}
	if got := testutil.ToFloat64(e.WorkflowsCompleted.WithLabelValues("succeeded")); got != 1 {
		t.Errorf("succeeded = %v, want 1", got)
	}
	if got := testutil.ToFloat64(e.WorkflowsCompleted.WithLabelValues("partial")); got != 1 {
		t.Errorf("partial = %v, want 1", got)
	}
}

func TestMetricsExtension_ScheduleFired(t *testing.T) {
	e, _ := newTestExtension()
	_ = e.OnScheduleFired(context.Background(), "nightly-compliance", "job-1")
	if got := testutil.ToFloat64(e.SchedulesFired.WithLabelValues("nightly-compliance")); got != 1 {
		t.Errorf("fired = %v, want 1", got)
	}
}

func TestMetricsExtension_ThroughRegistry(t *testing.T) {
	e, reg := newTestExtension()
	r := ext.NewRegistry(slog.Default())
	r.Register(e)

	ctx := context.Background()
	j := newTestJob()
	r.EmitJobEnqueued(ctx, j)
	r.EmitJobStarted(ctx, j)
	r.EmitJobCompleted(ctx, j, time.Second)

	n, err := testutil.GatherAndCount(reg, "conductor_jobs_completed_total", "conductor_job_duration_seconds")
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if n != 2 {
		t.Fatalf("series = %d, want 2", n)
	}
}
