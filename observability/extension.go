package observability

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/xraph/conductor/ext"
	"github.com/xraph/conductor/job"
)

// Compile-time interface checks.
var (
	_ ext.Extension         = (*MetricsExtension)(nil)
	_ ext.JobEnqueued       = (*MetricsExtension)(nil)
	_ ext.JobStarted        = (*MetricsExtension)(nil)
	_ ext.JobCompleted      = (*MetricsExtension)(nil)
	_ ext.JobFailed         = (*MetricsExtension)(nil)
	_ ext.JobRetrying       = (*MetricsExtension)(nil)
	_ ext.JobDLQ            = (*MetricsExtension)(nil)
	_ ext.ChildSpawned      = (*MetricsExtension)(nil)
	_ ext.WorkflowCompleted = (*MetricsExtension)(nil)
	_ ext.ScheduleFired     = (*MetricsExtension)(nil)
)

// MetricsExtension records system-wide lifecycle metrics. Register it as
// a conductor extension and expose its registry with promhttp.
type MetricsExtension struct {
	JobsEnqueued       *prometheus.CounterVec
	JobsCompleted      *prometheus.CounterVec
	JobsFailed         *prometheus.CounterVec
	JobsRetried        *prometheus.CounterVec
	JobsDLQ            *prometheus.CounterVec
	JobsActive         *prometheus.GaugeVec
	JobDuration        *prometheus.HistogramVec
	ChildrenSpawned    prometheus.Counter
	WorkflowsCompleted *prometheus.CounterVec
	SchedulesFired     *prometheus.CounterVec
}

// NewMetricsExtension creates a MetricsExtension registered with the
// default Prometheus registerer.
func NewMetricsExtension() *MetricsExtension {
	return NewMetricsExtensionWithRegisterer(prometheus.DefaultRegisterer)
}

// NewMetricsExtensionWithRegisterer creates a MetricsExtension whose
// collectors are registered with reg. Tests pass a fresh
// prometheus.NewRegistry() so repeated construction does not collide.
func NewMetricsExtensionWithRegisterer(reg prometheus.Registerer) *MetricsExtension {
	f := promauto.With(reg)
	return &MetricsExtension{
		JobsEnqueued: f.NewCounterVec(prometheus.CounterOpts{
			Name: "conductor_jobs_enqueued_total",
			Help: "Total number of jobs submitted to queues",
		}, []string{"queue", "type"}),
		JobsCompleted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "conductor_jobs_completed_total",
			Help: "Total number of jobs that completed successfully",
		}, []string{"queue", "type"}),
		JobsFailed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "conductor_jobs_failed_total",
			Help: "Total number of jobs that failed terminally",
		}, []string{"queue", "type"}),
		JobsRetried: f.NewCounterVec(prometheus.CounterOpts{
			Name: "conductor_jobs_retried_total",
			Help: "Total number of failed attempts scheduled for retry",
		}, []string{"queue", "type"}),
		JobsDLQ: f.NewCounterVec(prometheus.CounterOpts{
			Name: "conductor_jobs_dlq_total",
			Help: "Total number of jobs moved to the dead letter queue",
		}, []string{"queue"}),
		JobsActive: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "conductor_jobs_active",
			Help: "Current number of jobs being executed",
		}, []string{"queue"}),
		// 10ms to ~163s
		JobDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "conductor_job_duration_seconds",
			Help:    "Job execution duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 15),
		}, []string{"queue", "type"}),
		ChildrenSpawned: f.NewCounter(prometheus.CounterOpts{
			Name: "conductor_children_spawned_total",
			Help: "Total number of child jobs spawned by orchestrator handlers",
		}),
		WorkflowsCompleted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "conductor_workflows_completed_total",
			Help: "Total number of parents whose children all finished",
		}, []string{"outcome"}),
		SchedulesFired: f.NewCounterVec(prometheus.CounterOpts{
			Name: "conductor_schedules_fired_total",
			Help: "Total number of scheduled submissions",
		}, []string{"schedule"}),
	}
}

// Name implements ext.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// ── Job lifecycle hooks ─────────────────────────────

// OnJobEnqueued implements ext.JobEnqueued.
func (m *MetricsExtension) OnJobEnqueued(_ context.Context, j *job.Job) error {
	m.JobsEnqueued.WithLabelValues(j.Queue, string(j.Type)).Inc()
	return nil
}

// OnJobStarted implements ext.JobStarted.
func (m *MetricsExtension) OnJobStarted(_ context.Context, j *job.Job) error {
	m.JobsActive.WithLabelValues(j.Queue).Inc()
	return nil
}

// OnJobCompleted implements ext.JobCompleted.
func (m *MetricsExtension) OnJobCompleted(_ context.Context, j *job.Job, elapsed time.Duration) error {
	m.JobsActive.WithLabelValues(j.Queue).Dec()
	m.JobsCompleted.WithLabelValues(j.Queue, string(j.Type)).Inc()
	m.JobDuration.WithLabelValues(j.Queue, string(j.Type)).Observe(elapsed.Seconds())
	return nil
}

// OnJobFailed implements ext.JobFailed.
func (m *MetricsExtension) OnJobFailed(_ context.Context, j *job.Job, _ error) error {
	m.JobsActive.WithLabelValues(j.Queue).Dec()
	m.JobsFailed.WithLabelValues(j.Queue, string(j.Type)).Inc()
	m.JobDuration.WithLabelValues(j.Queue, string(j.Type)).Observe(j.ProcessingTime.Seconds())
	return nil
}

// OnJobRetrying implements ext.JobRetrying.
func (m *MetricsExtension) OnJobRetrying(_ context.Context, j *job.Job, _ int, _ time.Time) error {
	m.JobsActive.WithLabelValues(j.Queue).Dec()
	m.JobsRetried.WithLabelValues(j.Queue, string(j.Type)).Inc()
	return nil
}

// OnJobDLQ implements ext.JobDLQ.
func (m *MetricsExtension) OnJobDLQ(_ context.Context, j *job.Job, _ error) error {
	m.JobsDLQ.WithLabelValues(j.Queue).Inc()
	return nil
}

// ── Fan-out / fan-in hooks ──────────────────────────

// OnChildSpawned implements ext.ChildSpawned.
func (m *MetricsExtension) OnChildSpawned(_ context.Context, _ string, _ *job.Job) error {
	m.ChildrenSpawned.Inc()
	return nil
}

// OnWorkflowCompleted implements ext.WorkflowCompleted.
func (m *MetricsExtension) OnWorkflowCompleted(_ context.Context, _ string, failedChildren int) error {
	outcome := "succeeded"
	if failedChildren > 0 {
		outcome = "partial"
	}
	m.WorkflowsCompleted.WithLabelValues(outcome).Inc()
	return nil
}

// ── Schedule hooks ──────────────────────────────────

// OnScheduleFired implements ext.ScheduleFired.
func (m *MetricsExtension) OnScheduleFired(_ context.Context, scheduleName, _ string) error {
	m.SchedulesFired.WithLabelValues(scheduleName).Inc()
	return nil
}
