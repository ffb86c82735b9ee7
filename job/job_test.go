package job_test

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/xraph/conductor"
	"github.com/xraph/conductor/codec"
	"github.com/xraph/conductor/job"
)

func TestRecordValidate(t *testing.T) {
	tests := []struct {
		name    string
		rec     job.Record
		wantErr string
	}{
		{"known type", job.Record{Type: job.TypeCaseAnalysis}, ""},
		{"unknown well-formed type", job.Record{Type: "translation"}, ""},
		{"empty type", job.Record{}, "type"},
		{"malformed type", job.Record{Type: "Case Analysis!"}, "type"},
		{"negative priority", job.Record{Type: job.TypeLegalResearch, Priority: -1}, "priority"},
		{"highest priority", job.Record{Type: job.TypeLegalResearch, Priority: job.MaxPriority}, ""},
		{"priority above maximum", job.Record{Type: job.TypeLegalResearch, Priority: job.MaxPriority + 1}, "priority"},
		{"id with whitespace", job.Record{ID: "a b", Type: job.TypeLegalResearch}, "id"},
		{"own parent", job.Record{ID: "j1", ParentJobID: "j1", Type: job.TypeLegalResearch}, "parent_job_id"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.rec.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			var ve *conductor.ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("Validate() = %v, want *ValidationError", err)
			}
			if ve.Field != tt.wantErr {
				t.Errorf("Field = %q, want %q", ve.Field, tt.wantErr)
			}
		})
	}
}

func TestRecordDelay(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	future := now.Add(90 * time.Second)
	past := now.Add(-time.Hour)

	if d := (&job.Record{}).Delay(now); d != 0 {
		t.Errorf("no deadline: delay = %v, want 0", d)
	}
	if d := (&job.Record{Metadata: job.Metadata{Deadline: &future}}).Delay(now); d != 90*time.Second {
		t.Errorf("future deadline: delay = %v, want 90s", d)
	}
	if d := (&job.Record{Metadata: job.Metadata{Deadline: &past}}).Delay(now); d != 0 {
		t.Errorf("past deadline: delay = %v, want 0", d)
	}
}

func TestStateTransitions(t *testing.T) {
	allowed := map[[2]job.State]bool{
		{job.StateSubmitted, job.StateWaiting}: true,
		{job.StateWaiting, job.StateActive}:    true,
		{job.StateActive, job.StateCompleted}:  true,
		{job.StateActive, job.StateWaiting}:    true,
		{job.StateActive, job.StateFailed}:     true,
		{job.StateFailed, job.StateWaiting}:    true,
	}
	states := []job.State{job.StateSubmitted, job.StateWaiting, job.StateActive, job.StateCompleted, job.StateFailed}
	for _, from := range states {
		for _, to := range states {
			want := allowed[[2]job.State{from, to}]
			if got := from.CanTransition(to); got != want {
				t.Errorf("%s → %s = %v, want %v", from, to, got, want)
			}
		}
	}
}

func TestLess(t *testing.T) {
	now := time.Now()
	urgent := &job.Job{ID: "a", Priority: 1, RunAt: now.Add(time.Minute)}
	routine := &job.Job{ID: "b", Priority: 5, RunAt: now}
	earlier := &job.Job{ID: "c", Priority: 5, RunAt: now.Add(-time.Minute)}

	if !job.Less(urgent, routine) {
		t.Error("lower priority value should sort first")
	}
	if !job.Less(earlier, routine) {
		t.Error("equal priority should sort by RunAt")
	}
}

func TestDelayedAndDue(t *testing.T) {
	now := time.Now()
	j := &job.Job{State: job.StateWaiting, RunAt: now.Add(time.Second)}
	if !j.Delayed(now) || j.Due(now) {
		t.Error("future RunAt should be delayed and not due")
	}
	j.RunAt = now
	if j.Delayed(now) || !j.Due(now) {
		t.Error("RunAt == now should be due")
	}
}

func TestResultOf(t *testing.T) {
	text, err := codec.Encode(map[string]any{"answer": 42})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	j := &job.Job{
		ID:             "j1",
		Type:           job.TypeLegalResearch,
		State:          job.StateCompleted,
		Attempts:       1,
		Result:         text,
		ProcessingTime: 1500 * time.Millisecond,
	}

	res, err := job.ResultOf(j)
	if err != nil {
		t.Fatalf("ResultOf: %v", err)
	}
	if !res.Success {
		t.Error("Success = false, want true")
	}
	m, ok := res.Result.(map[string]any)
	if !ok || m["answer"] != 42.0 {
		t.Errorf("Result = %#v, want answer 42", res.Result)
	}

	data, err := json.Marshal(res)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if !strings.Contains(string(data), `"processingTimeMs":1500`) {
		t.Errorf("marshalled result %s lacks processingTimeMs", data)
	}

	j.State = job.StateActive
	if _, err := job.ResultOf(j); !errors.Is(err, conductor.ErrNotTerminal) {
		t.Errorf("ResultOf(active) = %v, want ErrNotTerminal", err)
	}
}

func TestClone(t *testing.T) {
	j := &job.Job{ID: "j1", SpawnedChildIDs: []string{"c1"}, Metadata: job.Metadata{Tags: map[string]string{"k": "v"}}}
	cp := j.Clone()
	cp.SpawnedChildIDs[0] = "changed"
	cp.Metadata.Tags["k"] = "changed"
	if j.SpawnedChildIDs[0] != "c1" || j.Metadata.Tags["k"] != "v" {
		t.Error("Clone shares mutable state with the original")
	}
}
