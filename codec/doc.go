// Package codec moves arbitrary in-memory values across a plain JSON text
// boundary without losing their shape.
//
// Values JSON cannot represent directly are wrapped in a tagged envelope:
//
//	{"__tag": "time", "__value": "2024-01-02T03:04:05Z"}
//
// The tag set is closed: bytes, byte_array, time, vector (numeric slices
// longer than [VectorThreshold]), set, map (non-string keys), pattern,
// error and circular. [Encode] classifies each node in that order and
// never fails because of reference cycles: a container already visited
// earlier in the same call is replaced by a circular marker. [Decode]
// inverts the transformation; envelopes carrying an unknown tag pass
// through untouched.
//
// An object whose only keys are "__tag" and "__value" is encoded as a map
// envelope so it cannot be read back as an envelope; it decodes as
// map[any]any. Map entries are walked in key order, so a value shared
// between siblings is marked circular at the same place on every call.
//
// [SafeCopy] produces a detached, depth-bounded copy with function and
// channel members removed, suitable for storing as a job payload or result.
//
// Event frames use a separate [WireCodec] (JSON or MessagePack) selected
// by name.
package codec
