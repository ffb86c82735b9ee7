package id_test

import (
	"strings"
	"testing"

	"github.com/xraph/conductor/id"
)

func TestConstructors(t *testing.T) {
	tests := []struct {
		name   string
		newFn  func() id.ID
		prefix string
	}{
		{"JobID", id.NewJobID, "job_"},
		{"WorkerID", id.NewWorkerID, "wkr_"},
		{"DLQID", id.NewDLQID, "dlq_"},
		{"ScheduleID", id.NewScheduleID, "sched_"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.newFn().String()
			if !strings.HasPrefix(got, tt.prefix) {
				t.Errorf("expected prefix %q, got %q", tt.prefix, got)
			}
		})
	}
}

func TestParseRoundTrip(t *testing.T) {
	tests := []struct {
		name    string
		newFn   func() id.ID
		parseFn func(string) (id.ID, error)
	}{
		{"WorkerID", id.NewWorkerID, id.ParseWorkerID},
		{"DLQID", id.NewDLQID, id.ParseDLQID},
		{"ScheduleID", id.NewScheduleID, id.ParseScheduleID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			original := tt.newFn()
			parsed, err := tt.parseFn(original.String())
			if err != nil {
				t.Fatalf("parse failed: %v", err)
			}
			if parsed.String() != original.String() {
				t.Errorf("round-trip mismatch: %q != %q", parsed.String(), original.String())
			}
		})
	}
}

func TestCrossPrefixRejection(t *testing.T) {
	if _, err := id.ParseWorkerID(id.NewDLQID().String()); err == nil {
		t.Error("ParseWorkerID accepted a dlq_ id")
	}
	if _, err := id.ParseDLQID(id.NewJobID().String()); err == nil {
		t.Error("ParseDLQID accepted a job_ id")
	}
}

func TestParseInvalid(t *testing.T) {
	for _, s := range []string{"", "not-a-typeid", "job_"} {
		if _, err := id.Parse(s); err == nil {
			t.Errorf("Parse(%q) returned nil error", s)
		}
	}
}

func TestNilID(t *testing.T) {
	var i id.ID
	if !i.IsNil() {
		t.Error("zero ID should be nil")
	}
	if i.String() != "" {
		t.Errorf("Nil.String() = %q, want empty", i.String())
	}
	v, err := i.Value()
	if err != nil || v != nil {
		t.Errorf("Nil.Value() = %v, %v; want nil, nil", v, err)
	}
}

func TestScan(t *testing.T) {
	orig := id.NewDLQID()

	var fromString id.ID
	if err := fromString.Scan(orig.String()); err != nil {
		t.Fatalf("Scan(string): %v", err)
	}
	if fromString.String() != orig.String() {
		t.Errorf("Scan(string) = %q, want %q", fromString, orig)
	}

	var fromNil id.ID
	if err := fromNil.Scan(nil); err != nil || !fromNil.IsNil() {
		t.Errorf("Scan(nil) = %v, nil=%v", err, fromNil.IsNil())
	}

	var bad id.ID
	if err := bad.Scan(42); err == nil {
		t.Error("Scan(int) should fail")
	}
}
