package codec_test

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/xraph/conductor/codec"
)

var patternComparer = cmp.Comparer(func(a, b *regexp.Regexp) bool {
	return a.String() == b.String()
})

func roundTrip(t *testing.T, in any) any {
	t.Helper()
	text, err := codec.Encode(in)
	if err != nil {
		t.Fatalf("Encode(%T): %v", in, err)
	}
	out, err := codec.Decode(text)
	if err != nil {
		t.Fatalf("Decode(%s): %v", text, err)
	}
	return out
}

func TestRoundTrip(t *testing.T) {
	vec := make([]float64, 128)
	for i := range vec {
		vec[i] = float64(i) * 0.25
	}
	vec32 := make([]float32, 101)
	for i := range vec32 {
		vec32[i] = float32(i) / 3
	}
	ids := make([]int64, 101)
	for i := range ids {
		ids[i] = 1<<60 + int64(i) + 1
	}
	hashes := make([]uint64, 101)
	for i := range hashes {
		hashes[i] = math.MaxUint64 - uint64(i)
	}

	tests := []struct {
		name string
		in   any
		want any
	}{
		{
			name: "plain json",
			in:   map[string]any{"a": 1.5, "b": "x", "c": []any{true, nil}},
			want: map[string]any{"a": 1.5, "b": "x", "c": []any{true, nil}},
		},
		{
			name: "bytes",
			in:   []byte("hello"),
			want: []byte("hello"),
		},
		{
			name: "byte array",
			in:   [4]byte{1, 2, 3, 4},
			want: [4]byte{1, 2, 3, 4},
		},
		{
			name: "time",
			in:   time.Date(2024, 1, 2, 3, 4, 5, 6, time.UTC),
			want: time.Date(2024, 1, 2, 3, 4, 5, 6, time.UTC),
		},
		{
			name: "float64 vector",
			in:   vec,
			want: vec,
		},
		{
			name: "float32 vector",
			in:   vec32,
			want: vec32,
		},
		{
			name: "int64 vector beyond float precision",
			in:   ids,
			want: ids,
		},
		{
			name: "uint64 vector",
			in:   hashes,
			want: hashes,
		},
		{
			name: "set",
			in:   codec.NewSet("a", "b", 3.0),
			want: codec.NewSet("a", "b", 3.0),
		},
		{
			name: "map with non-string keys",
			in:   map[any]any{1.0: "one", "two": 2.0},
			want: map[any]any{1.0: "one", "two": 2.0},
		},
		{
			name: "int keyed map",
			in:   map[int]string{7: "seven"},
			want: map[any]any{7.0: "seven"},
		},
		{
			name: "pattern",
			in:   regexp.MustCompile(`^case-\d+$`),
			want: regexp.MustCompile(`^case-\d+$`),
		},
		{
			name: "nested tagged values",
			in: map[string]any{
				"filedAt": time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC),
				"blob":    []byte{0xff, 0x00},
				"tags":    codec.NewSet("urgent"),
			},
			want: map[string]any{
				"filedAt": time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC),
				"blob":    []byte{0xff, 0x00},
				"tags":    codec.NewSet("urgent"),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := roundTrip(t, tt.in)
			if diff := cmp.Diff(tt.want, got, patternComparer); diff != "" {
				t.Errorf("round trip mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestShortNumericSliceIsNotVector(t *testing.T) {
	in := make([]float64, codec.VectorThreshold)
	text, err := codec.Encode(in)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if strings.Contains(text, `"vector"`) {
		t.Errorf("slice of length %d encoded as vector", len(in))
	}
	got, err := codec.Decode(text)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if _, ok := got.([]any); !ok {
		t.Errorf("Decode returned %T, want []any", got)
	}
}

func TestErrorRecord(t *testing.T) {
	in := fmt.Errorf("lookup failed: %w", errors.New("timeout"))
	got := roundTrip(t, in)

	want := &codec.ErrorRecord{
		Name:    "*fmt.wrapError",
		Message: "lookup failed: timeout",
		Cause: &codec.ErrorRecord{
			Name:    "*errors.errorString",
			Message: "timeout",
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("error record mismatch (-want +got):\n%s", diff)
	}
}

func TestStruct(t *testing.T) {
	type filing struct {
		Court   string    `json:"court"`
		FiledAt time.Time `json:"filedAt"`
		Notify  func()    `json:"notify"`
		Secret  string    `json:"-"`
		Note    string    `json:"note,omitempty"`
		hidden  int
	}
	in := filing{
		Court:   "EAT",
		FiledAt: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC),
		Notify:  func() {},
		Secret:  "x",
		hidden:  1,
	}
	got := roundTrip(t, in)

	want := map[string]any{
		"court":   "EAT",
		"filedAt": time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC),
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("struct mismatch (-want +got):\n%s", diff)
	}
	_ = in.hidden
}

func TestSelfReference(t *testing.T) {
	obj := map[string]any{"name": "a"}
	obj["self"] = obj

	got := roundTrip(t, obj)

	want := map[string]any{"name": "a", "self": codec.Circular{}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("cycle mismatch (-want +got):\n%s", diff)
	}
}

func TestPointerCycle(t *testing.T) {
	type node struct {
		Name string `json:"name"`
		Next *node  `json:"next"`
	}
	a := &node{Name: "a"}
	b := &node{Name: "b", Next: a}
	a.Next = b

	got := roundTrip(t, a)

	want := map[string]any{
		"name": "a",
		"next": map[string]any{
			"name": "b",
			"next": codec.Circular{},
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("pointer cycle mismatch (-want +got):\n%s", diff)
	}
}

func TestUnknownTagPassesThrough(t *testing.T) {
	got, err := codec.Decode(`{"__tag":"mystery","__value":[1,{"__tag":"time","__value":"2024-01-01T00:00:00Z"}]}`)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	want := map[string]any{
		"__tag":   "mystery",
		"__value": []any{1.0, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("unknown tag mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodeMalformed(t *testing.T) {
	inputs := []string{
		`{`,
		`{"__tag":"time","__value":"not a time"}`,
		`{"__tag":"bytes","__value":"%%%"}`,
		`{"__tag":"set","__value":[{"a":1}]}`,
		`{"__tag":"map","__value":[[[1],2]]}`,
		`{"__tag":"map","__value":[[1]]}`,
		`{"__tag":"pattern","__value":"("}`,
		`{"__tag":"vector","__value":{"dtype":"complex","data":[]}}`,
	}
	for _, in := range inputs {
		_, err := codec.Decode(in)
		var se *codec.SerializationError
		if !errors.As(err, &se) {
			t.Errorf("Decode(%s) error = %v, want *SerializationError", in, err)
		}
	}
}

func TestEncodeRejectsNaN(t *testing.T) {
	_, err := codec.Encode(map[string]any{"x": math.NaN()})
	var se *codec.SerializationError
	if !errors.As(err, &se) {
		t.Errorf("Encode(NaN) error = %v, want *SerializationError", err)
	}
}

func TestEncodeDeterministicMapOrder(t *testing.T) {
	in := map[int]string{3: "c", 1: "a", 2: "b"}
	first, err := codec.Encode(in)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	for range 20 {
		again, _ := codec.Encode(in)
		if again != first {
			t.Fatalf("Encode not deterministic: %s vs %s", first, again)
		}
	}
}

func TestEncodeSharedValueMarkedAtSameKey(t *testing.T) {
	shared := map[string]any{"v": 1}
	in := map[string]any{"b": shared, "a": shared, "c": shared}

	first, err := codec.Encode(in)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	for range 200 {
		again, _ := codec.Encode(in)
		if again != first {
			t.Fatalf("Encode not deterministic: %s vs %s", first, again)
		}
	}

	got, err := codec.Decode(first)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	want := map[string]any{
		"a": map[string]any{"v": 1.0},
		"b": codec.Circular{},
		"c": codec.Circular{},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("shared value mismatch (-want +got):\n%s", diff)
	}
}

func TestEnvelopeShapedObjectIsEscaped(t *testing.T) {
	in := map[string]any{"__tag": "time", "__value": "2024-01-01T00:00:00Z"}
	got := roundTrip(t, in)

	want := map[any]any{"__tag": "time", "__value": "2024-01-01T00:00:00Z"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("escaped object mismatch (-want +got):\n%s", diff)
	}
}

func TestDecodeRejectsTrailingData(t *testing.T) {
	_, err := codec.Decode(`{"a":1} {"b":2}`)
	var se *codec.SerializationError
	if !errors.As(err, &se) {
		t.Errorf("Decode error = %v, want *SerializationError", err)
	}
}

func TestDecodeIntegerVectorRejectsFraction(t *testing.T) {
	_, err := codec.Decode(`{"__tag":"vector","__value":{"dtype":"int64","data":[1.5]}}`)
	var se *codec.SerializationError
	if !errors.As(err, &se) {
		t.Errorf("Decode error = %v, want *SerializationError", err)
	}
}
