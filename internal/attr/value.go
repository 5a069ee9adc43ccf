package attr

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"slices"
	"unicode/utf16"
)

// IDKey is the attribute every record carries as its identity.
const IDKey = "id"

// PriorityKey is the pseudo-attribute holding a node's ordering priority.
// It cannot be written through a partial update.
const PriorityKey = ".priority"

// Attributes is a record's attribute mapping.
type Attributes map[string]any

// ID returns the record identity stored under IDKey, or "" if unset.
func (a Attributes) ID() string {
	if id, ok := a[IDKey].(string); ok {
		return id
	}
	return ""
}

// Has reports whether key is present, even if mapped to nil.
func (a Attributes) Has(key string) bool {
	_, ok := a[key]
	return ok
}

// Clone returns a deep copy of the attributes.
func (a Attributes) Clone() Attributes {
	if a == nil {
		return nil
	}
	out := make(Attributes, len(a))
	for k, v := range a {
		out[k] = Clone(v)
	}
	return out
}

// Map returns the attributes as a plain map for serialization.
func (a Attributes) Map() map[string]any {
	return map[string]any(a.Clone())
}

// SortedKeys returns keys in RFC 8785 canonical order (UTF-16 code units).
func (a Attributes) SortedKeys() []string {
	return SortedKeys(a)
}

// SortedKeys returns the keys of m in RFC 8785 canonical order.
func SortedKeys[M ~map[string]V, V any](m M) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, CompareKeys)
	return keys
}

// CompareKeys compares strings by UTF-16 code units as required by RFC 8785.
// Go's native string comparison uses UTF-8 bytes, which orders supplementary
// characters differently.
func CompareKeys(a, b string) int {
	a16 := utf16.Encode([]rune(a))
	b16 := utf16.Encode([]rune(b))

	for i := 0; i < len(a16) && i < len(b16); i++ {
		if a16[i] != b16[i] {
			if a16[i] < b16[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(a16) < len(b16):
		return -1
	case len(a16) > len(b16):
		return 1
	}
	return 0
}

// IsPrimitive reports whether v is neither an object, an array, nor nil.
// Primitives cannot carry an id and are never synced as records.
func IsPrimitive(v any) bool {
	switch v.(type) {
	case nil, map[string]any, Attributes, []any:
		return false
	}
	return true
}

// IsObject reports whether v is a mapping.
func IsObject(v any) bool {
	switch v.(type) {
	case map[string]any, Attributes:
		return true
	}
	return false
}

// AsMap returns v as a map if it is an object.
func AsMap(v any) (map[string]any, bool) {
	switch val := v.(type) {
	case map[string]any:
		return val, true
	case Attributes:
		return map[string]any(val), true
	}
	return nil, false
}

// Clone deep-copies a normalized value.
func Clone(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, elem := range val {
			out[k] = Clone(elem)
		}
		return out
	case Attributes:
		return val.Clone()
	case []any:
		out := make([]any, len(val))
		for i, elem := range val {
			out[i] = Clone(elem)
		}
		return out
	default:
		return v
	}
}

// Normalize converts a Go value into the JSON data model.
// Integers become int64, floats become float64 (or int64 when integral),
// typed maps and slices are converted recursively, and anything else is
// round-tripped through encoding/json.
func Normalize(v any) (any, error) {
	switch val := v.(type) {
	case nil:
		return nil, nil
	case bool, string:
		return val, nil
	case int:
		return int64(val), nil
	case int8:
		return int64(val), nil
	case int16:
		return int64(val), nil
	case int32:
		return int64(val), nil
	case int64:
		return val, nil
	case uint:
		return normalizeUint(uint64(val))
	case uint8:
		return int64(val), nil
	case uint16:
		return int64(val), nil
	case uint32:
		return int64(val), nil
	case uint64:
		return normalizeUint(val)
	case float32:
		return normalizeFloat(float64(val))
	case float64:
		return normalizeFloat(val)
	case json.Number:
		return normalizeNumber(val)
	case Attributes:
		return normalizeMap(val)
	case map[string]any:
		return normalizeMap(val)
	case []any:
		out := make([]any, len(val))
		for i, elem := range val {
			n, err := Normalize(elem)
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			out[i] = n
		}
		return out, nil
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Map:
		if rv.Type().Key().Kind() == reflect.String {
			out := make(map[string]any, rv.Len())
			iter := rv.MapRange()
			for iter.Next() {
				n, err := Normalize(iter.Value().Interface())
				if err != nil {
					return nil, fmt.Errorf("[%q]: %w", iter.Key().String(), err)
				}
				out[iter.Key().String()] = n
			}
			return out, nil
		}
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return nil, nil
		}
		out := make([]any, rv.Len())
		for i := range out {
			n, err := Normalize(rv.Index(i).Interface())
			if err != nil {
				return nil, fmt.Errorf("[%d]: %w", i, err)
			}
			out[i] = n
		}
		return out, nil
	}

	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("normalize %T: %w", v, err)
	}
	return Decode(data)
}

// NormalizeAttributes normalizes every value of m.
func NormalizeAttributes(m map[string]any) (Attributes, error) {
	n, err := normalizeMap(m)
	if err != nil {
		return nil, err
	}
	return Attributes(n), nil
}

func normalizeMap(m map[string]any) (map[string]any, error) {
	out := make(map[string]any, len(m))
	for k, elem := range m {
		n, err := Normalize(elem)
		if err != nil {
			return nil, fmt.Errorf("[%q]: %w", k, err)
		}
		out[k] = n
	}
	return out, nil
}

func normalizeUint(u uint64) (any, error) {
	if u > math.MaxInt64 {
		return float64(u), nil
	}
	return int64(u), nil
}

func normalizeFloat(f float64) (any, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, fmt.Errorf("non-finite number %v", f)
	}
	if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
		return int64(f), nil
	}
	return f, nil
}

func normalizeNumber(n json.Number) (any, error) {
	if i, err := n.Int64(); err == nil {
		return i, nil
	}
	f, err := n.Float64()
	if err != nil {
		return nil, fmt.Errorf("invalid number %q: %w", n, err)
	}
	return normalizeFloat(f)
}

// Decode parses JSON into a normalized value.
func Decode(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}
	return Normalize(raw)
}
