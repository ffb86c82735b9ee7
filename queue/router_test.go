package queue_test

import (
	"strings"
	"testing"

	"github.com/xraph/conductor/job"
	"github.com/xraph/conductor/queue"
)

func TestRouter_DefaultTable(t *testing.T) {
	r := queue.NewRouter(queue.DefaultConfigs())

	tests := []struct {
		typ  job.Type
		want string
	}{
		{job.TypeCaseAnalysis, queue.Reasoning},
		{job.TypeStrategyPlanning, queue.Reasoning},
		{job.TypeLegalResearch, queue.Research},
		{job.TypeEntityLookup, queue.Research},
		{job.TypeComplianceCheck, queue.Compliance},
		{job.TypeDeadlineCalculation, queue.Compliance},
		{job.TypeDocumentGeneration, queue.Documents},
		{job.TypeDocumentAnalysis, queue.Documents},
		{job.TypeDocumentEmbedding, queue.Embeddings},
		{"translation", queue.Default},
		{"", queue.Default},
	}
	for _, tt := range tests {
		if got := r.Route(tt.typ); got != tt.want {
			t.Errorf("Route(%q) = %q, want %q", tt.typ, got, tt.want)
		}
	}
}

func TestRouter_TotalOverKnownTypes(t *testing.T) {
	configs := queue.DefaultConfigs()
	r := queue.NewRouter(configs)

	names := make(map[string]bool)
	for _, c := range configs {
		names[c.Name] = true
	}
	for _, typ := range job.KnownTypes() {
		q := r.Route(typ)
		if !names[q] {
			t.Errorf("Route(%q) = %q, which is not a configured queue", typ, q)
		}
		if q == queue.Default {
			t.Errorf("known type %q fell through to the default queue", typ)
		}
	}
}

func TestValidate(t *testing.T) {
	if err := queue.Validate(queue.DefaultConfigs()); err != nil {
		t.Fatalf("Validate(DefaultConfigs()) = %v", err)
	}

	bad := []queue.Config{
		{Name: "a", Concurrency: 0, Retry: queue.DefaultRetryPolicy(), Types: []job.Type{"x"}},
		{Name: "a", Concurrency: 1, Retry: queue.RetryPolicy{MaxAttempts: 0}, Types: []job.Type{"x"}},
		{Name: "", Concurrency: 1},
		{Name: "b", Concurrency: 1, PriorityTier: 900, Retry: queue.DefaultRetryPolicy()},
	}
	err := queue.Validate(bad)
	if err == nil {
		t.Fatal("Validate(bad) = nil, want error")
	}
	for _, want := range []string{"concurrency", "defined twice", "max_attempts", "already routed", "empty name", "priority tier", `no "default"`} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %q", err, want)
		}
	}
}

func TestRetryPolicy_Strategy(t *testing.T) {
	s, err := queue.DefaultRetryPolicy().Strategy()
	if err != nil {
		t.Fatalf("Strategy: %v", err)
	}
	if got := s.Delay(1); got.Seconds() != 2 {
		t.Errorf("first retry delay = %v, want 2s", got)
	}
}
