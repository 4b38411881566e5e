// Package canon provides the canonical value model used as the exclusive
// input to document hashing, plus the canonicalizer and hash engine.
package canon

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"time"
)

// Value is a canonical value. The set of implementations is closed:
// String, Number, Bool, Null, List and Map.
type Value interface {
	canonical()
}

// String is a scalar string.
type String string

// Number is a scalar number. NaN and infinities cannot be encoded.
type Number float64

// Bool is a scalar boolean.
type Bool bool

// Null is the absent value.
type Null struct{}

// List is an ordered sequence. A list made only of String elements is
// treated as a set and sorted on canonicalization.
type List []Value

// Map is a key-value mapping. Keys are emitted in lexicographic order.
type Map map[string]Value

func (String) canonical() {}
func (Number) canonical() {}
func (Bool) canonical()   {}
func (Null) canonical()   {}
func (List) canonical()   {}
func (Map) canonical()    {}

// MarshalJSON encodes Null as JSON null.
func (Null) MarshalJSON() ([]byte, error) {
	return []byte("null"), nil
}

// Strings converts a string slice to a List of String values.
func Strings(ss []string) List {
	out := make(List, len(ss))
	for i, s := range ss {
		out[i] = String(s)
	}
	return out
}

// Time renders t as an RFC 3339 UTC string. The zero time renders as "".
func Time(t time.Time) String {
	if t.IsZero() {
		return ""
	}
	return String(t.UTC().Format(time.RFC3339Nano))
}

// OrNull returns Null for a nil map so optional blocks hash as null.
func OrNull(m Map) Value {
	if m == nil {
		return Null{}
	}
	return m
}

// FromAny converts plain Go values into a Value. It accepts nil, Value,
// strings, booleans, integer and float kinds, time.Time, slices and arrays,
// and maps with string keys. Unsupported types and cyclic structures are
// programmer errors and panic.
func FromAny(v any) Value {
	return fromAny(v, make(map[uintptr]struct{}))
}

func fromAny(v any, path map[uintptr]struct{}) Value {
	switch val := v.(type) {
	case nil:
		return Null{}
	case Value:
		return val
	case string:
		return String(val)
	case bool:
		return Bool(val)
	case float64:
		return Number(val)
	case int:
		return Number(float64(val))
	case int64:
		return Number(float64(val))
	case time.Time:
		return Time(val)
	case []string:
		return Strings(val)
	case json.Number:
		f, err := val.Float64()
		if err != nil {
			panic(fmt.Sprintf("canon: invalid json.Number %q", val))
		}
		return Number(f)
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer:
		if rv.IsNil() {
			return Null{}
		}
		return fromAny(rv.Elem().Interface(), path)
	case reflect.String:
		return String(rv.String())
	case reflect.Bool:
		return Bool(rv.Bool())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return Number(float64(rv.Int()))
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return Number(float64(rv.Uint()))
	case reflect.Float32, reflect.Float64:
		return Number(rv.Float())
	case reflect.Slice, reflect.Array:
		if rv.Kind() == reflect.Slice && rv.IsNil() {
			return List{}
		}
		if rv.Kind() == reflect.Slice && rv.Len() > 0 {
			defer enter(path, rv.Pointer())()
		}
		out := make(List, rv.Len())
		for i := range out {
			out[i] = fromAny(rv.Index(i).Interface(), path)
		}
		return out
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			panic(fmt.Sprintf("canon: unsupported map key type %s", rv.Type().Key()))
		}
		if rv.IsNil() {
			return Map{}
		}
		defer enter(path, rv.Pointer())()
		out := make(Map, rv.Len())
		iter := rv.MapRange()
		for iter.Next() {
			out[iter.Key().String()] = fromAny(iter.Value().Interface(), path)
		}
		return out
	}

	panic(fmt.Sprintf("canon: unsupported type %T", v))
}

// sortedKeys returns the keys of m in lexicographic order.
func sortedKeys(m Map) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
