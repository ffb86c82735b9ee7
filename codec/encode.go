package codec

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"reflect"
	"regexp"
	"sort"
	"time"
)

// Encode renders v as JSON text, wrapping every value plain JSON would
// lose in a tagged envelope. It fails only when the JSON encoder rejects
// a leaf, such as a NaN float.
func Encode(v any) (string, error) {
	e := &encoder{seen: make(visited)}
	tree, err := e.value(reflect.ValueOf(v))
	if err != nil {
		return "", err
	}
	data, err := json.Marshal(tree)
	if err != nil {
		return "", &SerializationError{Op: "encode", Err: err}
	}
	return string(data), nil
}

type encoder struct {
	seen visited
}

func (e *encoder) value(v reflect.Value) (any, error) {
	v = unwrapInterface(v)
	if !v.IsValid() || isNilRef(v) || isDropped(v) {
		return nil, nil
	}

	if tag, ok := classify(v); ok {
		return e.tagged(tag, v)
	}
	if v.Kind() == reflect.Pointer {
		if e.seen.seen(v) {
			return envelope(TagCircular, circularText), nil
		}
		return e.value(v.Elem())
	}
	if marshals(v) {
		return marshaled(v)
	}

	switch v.Kind() {
	case reflect.Map:
		if e.seen.seen(v) {
			return envelope(TagCircular, circularText), nil
		}
		out := make(map[string]any, v.Len())
		for _, k := range sortedKeys(v) {
			mv := unwrapInterface(v.MapIndex(k))
			if mv.IsValid() && isDropped(mv) {
				continue
			}
			ev, err := e.value(mv)
			if err != nil {
				return nil, err
			}
			out[k.String()] = ev
		}
		return escaped(out), nil

	case reflect.Slice:
		if e.seen.seen(v) {
			return envelope(TagCircular, circularText), nil
		}
		return e.sequence(v)

	case reflect.Array:
		return e.sequence(v)

	case reflect.Struct:
		out := make(map[string]any)
		var walkErr error
		walkFields(v, func(name string, fv reflect.Value) {
			if walkErr != nil {
				return
			}
			if inner := unwrapInterface(fv); inner.IsValid() && isDropped(inner) {
				return
			}
			ev, err := e.value(fv)
			if err != nil {
				walkErr = err
				return
			}
			out[name] = ev
		})
		if walkErr != nil {
			return nil, walkErr
		}
		return escaped(out), nil

	case reflect.Bool:
		return v.Bool(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int(), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return v.Uint(), nil
	case reflect.Float32:
		return float32(v.Float()), nil
	case reflect.Float64:
		return v.Float(), nil
	case reflect.String:
		return v.String(), nil
	default:
		// Complex numbers have no JSON form.
		return nil, nil
	}
}

func (e *encoder) sequence(v reflect.Value) (any, error) {
	out := make([]any, v.Len())
	for i := range v.Len() {
		ev, err := e.value(v.Index(i))
		if err != nil {
			return nil, err
		}
		out[i] = ev
	}
	return out, nil
}

func (e *encoder) tagged(tag Tag, v reflect.Value) (any, error) {
	switch tag {
	case TagCircular:
		return envelope(TagCircular, circularText), nil

	case TagBytes:
		return envelope(TagBytes, base64.StdEncoding.EncodeToString(v.Bytes())), nil

	case TagByteArray:
		buf := make([]byte, v.Len())
		for i := range buf {
			buf[i] = byte(v.Index(i).Uint())
		}
		return envelope(TagByteArray, base64.StdEncoding.EncodeToString(buf)), nil

	case TagTime:
		t := v.Interface().(time.Time) //nolint:forcetypeassert // classify matched the exact type
		return envelope(TagTime, t.Format(time.RFC3339Nano)), nil

	case TagVector:
		data := make([]any, v.Len())
		for i := range data {
			el := v.Index(i)
			switch el.Kind() {
			case reflect.Float32:
				data[i] = float32(el.Float())
			case reflect.Float64:
				data[i] = el.Float()
			case reflect.Uint, reflect.Uint16, reflect.Uint32, reflect.Uint64:
				data[i] = el.Uint()
			default:
				data[i] = el.Int()
			}
		}
		return envelope(TagVector, map[string]any{
			"dtype": v.Type().Elem().Kind().String(),
			"data":  data,
		}), nil

	case TagSet:
		if e.seen.seen(v) {
			return envelope(TagCircular, circularText), nil
		}
		items := make([]any, 0, v.Len())
		for _, k := range sortedKeys(v) {
			ev, err := e.value(k)
			if err != nil {
				return nil, err
			}
			items = append(items, ev)
		}
		sortByJSON(items, func(i int) any { return items[i] })
		return envelope(TagSet, items), nil

	case TagMap:
		if e.seen.seen(v) {
			return envelope(TagCircular, circularText), nil
		}
		entries := make([]any, 0, v.Len())
		for _, k := range sortedKeys(v) {
			mv := unwrapInterface(v.MapIndex(k))
			if mv.IsValid() && isDropped(mv) {
				continue
			}
			kv, err := e.value(k)
			if err != nil {
				return nil, err
			}
			vv, err := e.value(mv)
			if err != nil {
				return nil, err
			}
			entries = append(entries, []any{kv, vv})
		}
		sortByJSON(entries, func(i int) any { return entries[i].([]any)[0] })
		return envelope(TagMap, entries), nil

	case TagPattern:
		re := v.Interface().(*regexp.Regexp) //nolint:forcetypeassert // classify matched the exact type
		return envelope(TagPattern, re.String()), nil

	case TagError:
		err := v.Interface().(error) //nolint:forcetypeassert // classify checked Implements(error)
		return envelope(TagError, recordOf(err, 0)), nil
	}
	return nil, &SerializationError{Op: "encode", Tag: tag, Err: errors.New("unhandled tag")}
}

// recordOf converts err and its unwrap chain into an ErrorRecord.
func recordOf(err error, depth int) *ErrorRecord {
	if err == nil {
		return nil
	}
	if rec, ok := err.(*ErrorRecord); ok {
		return rec
	}
	rec := &ErrorRecord{
		Name:    reflect.TypeOf(err).String(),
		Message: err.Error(),
	}
	if depth < maxCauseDepth {
		rec.Cause = recordOf(errors.Unwrap(err), depth+1)
	}
	return rec
}

func marshaled(v reflect.Value) (any, error) {
	data, err := json.Marshal(v.Interface())
	if err != nil {
		return nil, &SerializationError{Op: "encode", Err: err}
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, &SerializationError{Op: "encode", Err: err}
	}
	return out, nil
}

// escaped moves an object whose keys are exactly TagKey and ValueKey into
// a map envelope so Decode does not mistake it for an envelope.
func escaped(out map[string]any) any {
	if len(out) != 2 {
		return out
	}
	tag, hasTag := out[TagKey]
	val, hasValue := out[ValueKey]
	if !hasTag || !hasValue {
		return out
	}
	return envelope(TagMap, []any{
		[]any{TagKey, tag},
		[]any{ValueKey, val},
	})
}

// sortByJSON orders items by the JSON text of key(i) so sets and maps
// encode deterministically.
func sortByJSON(items []any, key func(int) any) {
	keys := make([][]byte, len(items))
	for i := range items {
		keys[i], _ = json.Marshal(key(i))
	}
	idx := make([]int, len(items))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return bytes.Compare(keys[idx[a]], keys[idx[b]]) < 0 })
	sorted := make([]any, len(items))
	for i, j := range idx {
		sorted[i] = items[j]
	}
	copy(items, sorted)
}
