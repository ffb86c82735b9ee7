package codec

import (
	"fmt"
	"reflect"
	"regexp"
	"time"
)

// Tag names the kind of value a tagged envelope carries.
type Tag string

// The closed set of envelope tags.
const (
	TagBytes     Tag = "bytes"
	TagByteArray Tag = "byte_array"
	TagTime      Tag = "time"
	TagVector    Tag = "vector"
	TagSet       Tag = "set"
	TagMap       Tag = "map"
	TagPattern   Tag = "pattern"
	TagError     Tag = "error"
	TagCircular  Tag = "circular"
)

const (
	// TagKey and ValueKey are the two members of an envelope object.
	TagKey   = "__tag"
	ValueKey = "__value"

	// VectorThreshold is the length a numeric slice must exceed to be
	// carried as a vector.
	VectorThreshold = 100

	// DefaultMaxDepth bounds SafeCopy when no depth is given.
	DefaultMaxDepth = 10

	circularText  = "[Circular]"
	maxCauseDepth = 16
)

// Set is an unordered collection of unique, hashable values.
type Set map[any]struct{}

// NewSet returns a Set holding items.
func NewSet(items ...any) Set {
	s := make(Set, len(items))
	for _, it := range items {
		s[it] = struct{}{}
	}
	return s
}

// Has reports whether item is in the set.
func (s Set) Has(item any) bool {
	_, ok := s[item]
	return ok
}

// Circular stands in for a container that was already visited.
type Circular struct{}

func (Circular) String() string { return circularText }

// ErrorRecord is the portable form of an error value.
type ErrorRecord struct {
	Name    string       `json:"name"`
	Message string       `json:"message"`
	Cause   *ErrorRecord `json:"cause,omitempty"`
}

func (e *ErrorRecord) Error() string { return e.Message }

// Unwrap returns the recorded cause, if any.
func (e *ErrorRecord) Unwrap() error {
	if e.Cause == nil {
		return nil
	}
	return e.Cause
}

// SerializationError reports malformed input to Decode, or a value the
// JSON encoder itself rejects.
type SerializationError struct {
	Op  string
	Tag Tag
	Err error
}

func (e *SerializationError) Error() string {
	if e.Tag != "" {
		return fmt.Sprintf("codec: %s %s: %v", e.Op, e.Tag, e.Err)
	}
	return fmt.Sprintf("codec: %s: %v", e.Op, e.Err)
}

func (e *SerializationError) Unwrap() error { return e.Err }

var (
	timeType     = reflect.TypeFor[time.Time]()
	regexpType   = reflect.TypeFor[*regexp.Regexp]()
	setType      = reflect.TypeFor[Set]()
	circularType = reflect.TypeFor[Circular]()
	errorType    = reflect.TypeFor[error]()
)

func envelope(tag Tag, value any) map[string]any {
	return map[string]any{TagKey: string(tag), ValueKey: value}
}

// classify reports which envelope, if any, v must travel in. The order of
// the checks is significant: a []byte is bytes before it is a vector, a
// Set is a set before it is a map.
func classify(v reflect.Value) (Tag, bool) {
	t := v.Type()
	switch {
	case t == circularType:
		return TagCircular, true
	case v.Kind() == reflect.Slice && t.Elem().Kind() == reflect.Uint8:
		return TagBytes, true
	case v.Kind() == reflect.Array && t.Elem().Kind() == reflect.Uint8:
		return TagByteArray, true
	case t == timeType:
		return TagTime, true
	case isVector(v):
		return TagVector, true
	case t == setType:
		return TagSet, true
	case v.Kind() == reflect.Map && t.Key().Kind() != reflect.String:
		return TagMap, true
	case t == regexpType:
		return TagPattern, true
	case t.Implements(errorType):
		return TagError, true
	}
	return "", false
}

func isNumericKind(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	default:
		return false
	}
}

func isVector(v reflect.Value) bool {
	if v.Kind() != reflect.Slice && v.Kind() != reflect.Array {
		return false
	}
	return isNumericKind(v.Type().Elem().Kind()) && v.Len() > VectorThreshold
}

// vectorTypes maps a dtype name back to its element type.
var vectorTypes = map[string]reflect.Type{
	"int":     reflect.TypeFor[int](),
	"int8":    reflect.TypeFor[int8](),
	"int16":   reflect.TypeFor[int16](),
	"int32":   reflect.TypeFor[int32](),
	"int64":   reflect.TypeFor[int64](),
	"uint":    reflect.TypeFor[uint](),
	"uint16":  reflect.TypeFor[uint16](),
	"uint32":  reflect.TypeFor[uint32](),
	"uint64":  reflect.TypeFor[uint64](),
	"float32": reflect.TypeFor[float32](),
	"float64": reflect.TypeFor[float64](),
}

func isDropped(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Func, reflect.Chan, reflect.UnsafePointer:
		return true
	default:
		return false
	}
}

// isNilRef reports whether v is a nil reference of a kind that can be nil.
func isNilRef(v reflect.Value) bool {
	switch v.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan, reflect.Interface:
		return v.IsNil()
	default:
		return false
	}
}

func unwrapInterface(v reflect.Value) reflect.Value {
	for v.IsValid() && v.Kind() == reflect.Interface {
		if v.IsNil() {
			return reflect.Value{}
		}
		v = v.Elem()
	}
	return v
}
