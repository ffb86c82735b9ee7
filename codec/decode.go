package codec

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Decode parses text produced by Encode. Objects decode as map[string]any,
// arrays as []any and numbers as float64; envelopes are restored to the
// values they carry. Malformed input yields a *SerializationError.
func Decode(text string) (any, error) {
	dec := json.NewDecoder(strings.NewReader(text))
	// Numbers stay as text until their target type is known, so integer
	// vectors keep every bit.
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, &SerializationError{Op: "decode", Err: err}
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, &SerializationError{Op: "decode", Err: errors.New("trailing data after top-level value")}
	}
	return restore(raw)
}

func restore(node any) (any, error) {
	switch n := node.(type) {
	case map[string]any:
		if tag, val, ok := envelopeOf(n); ok {
			return restoreTagged(tag, val, n)
		}
		for k, v := range n {
			r, err := restore(v)
			if err != nil {
				return nil, err
			}
			n[k] = r
		}
		return n, nil
	case []any:
		for i, v := range n {
			r, err := restore(v)
			if err != nil {
				return nil, err
			}
			n[i] = r
		}
		return n, nil
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return nil, &SerializationError{Op: "decode", Err: err}
		}
		return f, nil
	default:
		return node, nil
	}
}

func envelopeOf(n map[string]any) (Tag, any, bool) {
	if len(n) != 2 {
		return "", nil, false
	}
	tag, ok := n[TagKey].(string)
	if !ok {
		return "", nil, false
	}
	val, ok := n[ValueKey]
	if !ok {
		return "", nil, false
	}
	return Tag(tag), val, true
}

func restoreTagged(tag Tag, val any, raw map[string]any) (any, error) {
	fail := func(err error) (any, error) {
		return nil, &SerializationError{Op: "decode", Tag: tag, Err: err}
	}

	switch tag {
	case TagCircular:
		return Circular{}, nil

	case TagBytes, TagByteArray:
		s, ok := val.(string)
		if !ok {
			return fail(fmt.Errorf("want base64 string, got %T", val))
		}
		buf, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return fail(err)
		}
		if tag == TagBytes {
			return buf, nil
		}
		arr := reflect.New(reflect.ArrayOf(len(buf), reflect.TypeFor[byte]())).Elem()
		reflect.Copy(arr, reflect.ValueOf(buf))
		return arr.Interface(), nil

	case TagTime:
		s, ok := val.(string)
		if !ok {
			return fail(fmt.Errorf("want timestamp string, got %T", val))
		}
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return fail(err)
		}
		return t, nil

	case TagVector:
		return restoreVector(val, fail)

	case TagSet:
		items, ok := val.([]any)
		if !ok {
			return fail(fmt.Errorf("want array, got %T", val))
		}
		out := make(Set, len(items))
		for _, it := range items {
			r, err := restore(it)
			if err != nil {
				return nil, err
			}
			if !hashable(r) {
				return fail(fmt.Errorf("set member of type %T is not hashable", r))
			}
			out[r] = struct{}{}
		}
		return out, nil

	case TagMap:
		entries, ok := val.([]any)
		if !ok {
			return fail(fmt.Errorf("want array of entries, got %T", val))
		}
		out := make(map[any]any, len(entries))
		for _, ent := range entries {
			pair, ok := ent.([]any)
			if !ok || len(pair) != 2 {
				return fail(errors.New("map entry is not a [key, value] pair"))
			}
			k, err := restore(pair[0])
			if err != nil {
				return nil, err
			}
			if !hashable(k) {
				return fail(fmt.Errorf("map key of type %T is not hashable", k))
			}
			v, err := restore(pair[1])
			if err != nil {
				return nil, err
			}
			out[k] = v
		}
		return out, nil

	case TagPattern:
		s, ok := val.(string)
		if !ok {
			return fail(fmt.Errorf("want pattern source, got %T", val))
		}
		re, err := regexp.Compile(s)
		if err != nil {
			return fail(err)
		}
		return re, nil

	case TagError:
		rec, err := restoreRecord(val, 0)
		if err != nil {
			return fail(err)
		}
		return rec, nil
	}

	// Unknown tags pass through with their contents restored.
	r, err := restore(val)
	if err != nil {
		return nil, err
	}
	raw[ValueKey] = r
	return raw, nil
}

func restoreVector(val any, fail func(error) (any, error)) (any, error) {
	body, ok := val.(map[string]any)
	if !ok {
		return fail(fmt.Errorf("want vector object, got %T", val))
	}
	dtype, _ := body["dtype"].(string)
	elem, ok := vectorTypes[dtype]
	if !ok {
		return fail(fmt.Errorf("unknown dtype %q", dtype))
	}
	data, ok := body["data"].([]any)
	if !ok {
		return fail(fmt.Errorf("want numeric array, got %T", body["data"]))
	}
	out := reflect.MakeSlice(reflect.SliceOf(elem), len(data), len(data))
	for i, d := range data {
		num, ok := d.(json.Number)
		if !ok {
			return fail(fmt.Errorf("element %d is %T, not a number", i, d))
		}
		if err := setNumber(out.Index(i), num); err != nil {
			return fail(fmt.Errorf("element %d: %w", i, err))
		}
	}
	return out.Interface(), nil
}

// setNumber parses num at the width of dst's kind.
func setNumber(dst reflect.Value, num json.Number) error {
	bits := dst.Type().Bits()
	switch dst.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		x, err := strconv.ParseInt(num.String(), 10, bits)
		if err != nil {
			return err
		}
		dst.SetInt(x)
	case reflect.Uint, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		x, err := strconv.ParseUint(num.String(), 10, bits)
		if err != nil {
			return err
		}
		dst.SetUint(x)
	default:
		x, err := strconv.ParseFloat(num.String(), bits)
		if err != nil {
			return err
		}
		dst.SetFloat(x)
	}
	return nil
}

func restoreRecord(val any, depth int) (*ErrorRecord, error) {
	if val == nil {
		return nil, nil //nolint:nilnil // absent cause
	}
	m, ok := val.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("want error object, got %T", val)
	}
	rec := &ErrorRecord{}
	rec.Name, _ = m["name"].(string)
	rec.Message, _ = m["message"].(string)
	if cause, ok := m["cause"]; ok && depth < maxCauseDepth {
		c, err := restoreRecord(cause, depth+1)
		if err != nil {
			return nil, err
		}
		rec.Cause = c
	}
	return rec, nil
}

func hashable(v any) bool {
	if v == nil {
		return true
	}
	return reflect.TypeOf(v).Comparable()
}
