package codec

import (
	"reflect"
)

// SafeCopy returns a detached copy of v for storage or transport.
//
// Function, channel and unsafe pointer members are removed from maps and
// structs (and become nil inside sequences). Containers nested deeper than
// maxDepth are replaced with nil; a container reached a second time is
// replaced with Circular{}. Byte buffers, timestamps, patterns and errors
// are kept as opaque leaves, and numeric slices keep their element type.
// Structs become map[string]any keyed by their JSON field names.
//
// A negative maxDepth selects DefaultMaxDepth.
func SafeCopy(v any, maxDepth int) any {
	if maxDepth < 0 {
		maxDepth = DefaultMaxDepth
	}
	c := &copier{seen: make(visited), maxDepth: maxDepth}
	return c.copy(reflect.ValueOf(v), 0)
}

type copier struct {
	seen     visited
	maxDepth int
}

func (c *copier) copy(v reflect.Value, depth int) any {
	v = unwrapInterface(v)
	if !v.IsValid() || isNilRef(v) || isDropped(v) {
		return nil
	}
	if depth > c.maxDepth {
		return nil
	}

	if tag, ok := classify(v); ok {
		return c.leaf(tag, v, depth)
	}
	if v.Kind() == reflect.Pointer {
		if c.seen.seen(v) {
			return Circular{}
		}
		return c.copy(v.Elem(), depth)
	}
	if marshals(v) {
		return v.Interface()
	}

	switch v.Kind() {
	case reflect.Map:
		if c.seen.seen(v) {
			return Circular{}
		}
		out := make(map[string]any, v.Len())
		for _, k := range sortedKeys(v) {
			mv := unwrapInterface(v.MapIndex(k))
			if mv.IsValid() && isDropped(mv) {
				continue
			}
			out[k.String()] = c.copy(mv, depth+1)
		}
		return out

	case reflect.Slice:
		if c.seen.seen(v) {
			return Circular{}
		}
		if isNumericKind(v.Type().Elem().Kind()) {
			return copyNumeric(v)
		}
		return c.sequence(v, depth)

	case reflect.Array:
		if isNumericKind(v.Type().Elem().Kind()) {
			return copyNumeric(v)
		}
		return c.sequence(v, depth)

	case reflect.Struct:
		out := make(map[string]any)
		walkFields(v, func(name string, fv reflect.Value) {
			if inner := unwrapInterface(fv); inner.IsValid() && isDropped(inner) {
				return
			}
			out[name] = c.copy(fv, depth+1)
		})
		return out

	case reflect.Complex64, reflect.Complex128:
		return nil

	default:
		return v.Interface()
	}
}

func (c *copier) sequence(v reflect.Value, depth int) []any {
	out := make([]any, v.Len())
	for i := range out {
		out[i] = c.copy(v.Index(i), depth+1)
	}
	return out
}

// leaf handles the values Encode would put in an envelope.
func (c *copier) leaf(tag Tag, v reflect.Value, depth int) any {
	switch tag {
	case TagBytes:
		return append([]byte(nil), v.Bytes()...)
	case TagVector:
		if v.Kind() == reflect.Slice && c.seen.seen(v) {
			return Circular{}
		}
		return copyNumeric(v)
	case TagSet:
		if c.seen.seen(v) {
			return Circular{}
		}
		out := make(Set, v.Len())
		for _, k := range v.MapKeys() {
			out[k.Interface()] = struct{}{}
		}
		return out
	case TagMap:
		if c.seen.seen(v) {
			return Circular{}
		}
		out := make(map[any]any, v.Len())
		for _, k := range sortedKeys(v) {
			mv := unwrapInterface(v.MapIndex(k))
			if mv.IsValid() && isDropped(mv) {
				continue
			}
			out[k.Interface()] = c.copy(mv, depth+1)
		}
		return out
	case TagCircular, TagByteArray, TagTime, TagPattern, TagError:
		return v.Interface()
	}
	return nil
}

// copyNumeric copies a numeric slice or array into a fresh slice of the
// same element type.
func copyNumeric(v reflect.Value) any {
	out := reflect.MakeSlice(reflect.SliceOf(v.Type().Elem()), v.Len(), v.Len())
	reflect.Copy(out, v)
	return out.Interface()
}
