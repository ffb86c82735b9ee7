package codec

import (
	"bytes"
	"encoding"
	"encoding/json"
	"reflect"
	"sort"
	"strings"
)

// identity distinguishes containers by type, address and, for slices,
// length, so a sub-slice sharing a backing array is not mistaken for its
// parent.
type identity struct {
	typ reflect.Type
	ptr uintptr
	len int
}

// visited records every container reached during one Encode or SafeCopy
// call. Entries are never removed, so a value reachable twice is marked
// circular on its second appearance even when no true cycle exists.
type visited map[identity]struct{}

// seen marks v and reports whether it had been marked before.
func (s visited) seen(v reflect.Value) bool {
	var key identity
	switch v.Kind() {
	case reflect.Map, reflect.Pointer:
		if v.IsNil() {
			return false
		}
		key = identity{typ: v.Type(), ptr: v.Pointer()}
	case reflect.Slice:
		if v.Len() == 0 || v.Pointer() == 0 {
			return false
		}
		key = identity{typ: v.Type(), ptr: v.Pointer(), len: v.Len()}
	default:
		return false
	}
	if _, ok := s[key]; ok {
		return true
	}
	s[key] = struct{}{}
	return false
}

// sortedKeys returns the keys of map v in a stable order: string keys
// ascending, any other key type by its JSON text. A value shared between
// entries is therefore marked circular at the same entry on every call.
func sortedKeys(v reflect.Value) []reflect.Value {
	keys := v.MapKeys()
	if v.Type().Key().Kind() == reflect.String {
		sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
		return keys
	}
	text := make(map[int][]byte, len(keys))
	idx := make([]int, len(keys))
	for i, k := range keys {
		idx[i] = i
		text[i], _ = json.Marshal(k.Interface())
	}
	sort.SliceStable(idx, func(a, b int) bool { return bytes.Compare(text[idx[a]], text[idx[b]]) < 0 })
	out := make([]reflect.Value, len(keys))
	for i, j := range idx {
		out[i] = keys[j]
	}
	return out
}

var (
	jsonMarshalerType = reflect.TypeFor[json.Marshaler]()
	textMarshalerType = reflect.TypeFor[encoding.TextMarshaler]()
)

// marshals reports whether v's type controls its own JSON form.
func marshals(v reflect.Value) bool {
	t := v.Type()
	return t.Implements(jsonMarshalerType) || t.Implements(textMarshalerType)
}

// walkFields calls fn for every exported field of struct v using
// encoding/json naming rules. Exported embedded structs without a json
// name are flattened into the parent.
func walkFields(v reflect.Value, fn func(name string, fv reflect.Value)) {
	t := v.Type()
	for i := range t.NumField() {
		f := t.Field(i)
		if !f.IsExported() {
			continue
		}
		name, omitEmpty, skip := parseTag(f)
		if skip {
			continue
		}
		fv := v.Field(i)

		if f.Anonymous && name == "" {
			inner := fv
			if inner.Kind() == reflect.Pointer {
				if inner.IsNil() {
					continue
				}
				inner = inner.Elem()
			}
			if inner.Kind() == reflect.Struct && !marshals(inner) && inner.Type() != timeType {
				walkFields(inner, fn)
				continue
			}
		}
		if name == "" {
			name = f.Name
		}
		if omitEmpty && fv.IsZero() {
			continue
		}
		fn(name, fv)
	}
}

func parseTag(f reflect.StructField) (name string, omitEmpty, skip bool) {
	tag := f.Tag.Get("json")
	if tag == "-" {
		return "", false, true
	}
	parts := strings.Split(tag, ",")
	for _, opt := range parts[1:] {
		if opt == "omitempty" || opt == "omitzero" {
			omitEmpty = true
		}
	}
	return parts[0], omitEmpty, false
}
