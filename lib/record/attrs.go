package record

import (
	"bytes"
	"encoding/json"
	"reflect"
)

// Attrs is a string keyed attribute map. Values must be JSON representable.
type Attrs map[string]any

// Clone returns a deep copy of the map. Values are copied through their JSON
// representation so nested maps and slices are not shared with the original.
func (a Attrs) Clone() Attrs {
	out := make(Attrs, len(a))
	for k, v := range a {
		out[k] = CloneValue(v)
	}
	return out
}

// CloneValue deep copies a JSON representable value.
// Scalars are returned as they are.
func CloneValue(v any) any {
	switch v.(type) {
	case nil, bool, string, float64, float32, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return v
	}
	b, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return v
	}
	return out
}

// ValueEqual reports whether two JSON representable values are equal.
// The values are compared by their canonical JSON encoding (encoding/json
// sorts map keys), so 1 and 1.0 are equal while "1" and 1 are not.
func ValueEqual(a, b any) bool {
	ab, errA := json.Marshal(a)
	bb, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return reflect.DeepEqual(a, b)
	}
	return bytes.Equal(ab, bb)
}

// AttrsEqual reports whether both maps have the same keys with equal values.
// A nil map equals an empty map.
func AttrsEqual(a, b Attrs) bool {
	if len(a) != len(b) {
		return false
	}
	for k, va := range a {
		vb, ok := b[k]
		if !ok || !ValueEqual(va, vb) {
			return false
		}
	}
	return true
}

// EncodeValue returns the canonical JSON encoding of a value.
// Stores use it to persist attribute values.
func EncodeValue(v any) ([]byte, error) {
	return json.Marshal(v)
}

// DecodeValue decodes a value previously encoded with EncodeValue.
func DecodeValue(b []byte) (any, error) {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return nil, err
	}
	return v, nil
}
