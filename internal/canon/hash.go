package canon

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"sort"

	"github.com/gowebpki/jcs"
)

// Algorithm is the digest tag carried in every document payload.
const Algorithm = "SHA-256"

// ErrCycle is the panic value (wrapped) raised when a cyclic structure is
// passed to the canonicalizer.
var ErrCycle = errors.New("cyclic structure cannot be canonicalized")

// Canonicalize returns the reorder-normalized form of v. Lists made only of
// strings are sorted; every other list keeps its order. Map values are
// canonicalized recursively. The input is never modified.
func Canonicalize(v Value) Value {
	return canonicalize(v, make(map[uintptr]struct{}))
}

func canonicalize(v Value, path map[uintptr]struct{}) Value {
	switch val := v.(type) {
	case nil:
		return Null{}
	case Map:
		if len(val) == 0 {
			return Map{}
		}
		defer enter(path, reflect.ValueOf(val).Pointer())()
		out := make(Map, len(val))
		for k, item := range val {
			out[k] = canonicalize(item, path)
		}
		return out
	case List:
		if len(val) == 0 {
			return List{}
		}
		defer enter(path, reflect.ValueOf(val).Pointer())()
		if allStrings(val) {
			out := make(List, len(val))
			copy(out, val)
			sort.SliceStable(out, func(i, j int) bool {
				return out[i].(String) < out[j].(String)
			})
			return out
		}
		out := make(List, len(val))
		for i, item := range val {
			out[i] = canonicalize(item, path)
		}
		return out
	default:
		return v
	}
}

// enter records ptr on the current descent path and returns the function
// that removes it again. Seeing ptr twice on one path means a cycle.
func enter(path map[uintptr]struct{}, ptr uintptr) func() {
	if _, seen := path[ptr]; seen {
		panic(fmt.Errorf("canon: %w", ErrCycle))
	}
	path[ptr] = struct{}{}
	return func() { delete(path, ptr) }
}

func allStrings(l List) bool {
	for _, item := range l {
		if _, ok := item.(String); !ok {
			return false
		}
	}
	return true
}

// Encode canonicalizes v and serializes it to RFC 8785 canonical JSON.
func Encode(v Value) ([]byte, error) {
	var buf bytes.Buffer
	if err := encode(&buf, Canonicalize(v)); err != nil {
		return nil, err
	}
	out, err := jcs.Transform(buf.Bytes())
	if err != nil {
		return nil, fmt.Errorf("canonical transform failed: %w", err)
	}
	return out, nil
}

func encode(buf *bytes.Buffer, v Value) error {
	switch val := v.(type) {
	case Map:
		buf.WriteByte('{')
		for i, k := range sortedKeys(val) {
			if i > 0 {
				buf.WriteByte(',')
			}
			keyBytes, _ := json.Marshal(k)
			buf.Write(keyBytes)
			buf.WriteByte(':')
			if err := encode(buf, val[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	case List:
		buf.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := encode(buf, item); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	case Number:
		f := float64(val)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("cannot encode non-finite number %v", f)
		}
		b, _ := json.Marshal(f)
		buf.Write(b)
	case String:
		b, _ := json.Marshal(string(val))
		buf.Write(b)
	case Bool:
		if val {
			buf.WriteString("true")
		} else {
			buf.WriteString("false")
		}
	case Null, nil:
		buf.WriteString("null")
	default:
		return fmt.Errorf("unsupported canonical value %T", v)
	}
	return nil
}

// Sum returns the lowercase hex SHA-256 digest of the canonical encoding of v.
func Sum(v Value) (string, error) {
	data, err := Encode(v)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// Hash is Sum for values known to be encodable. An encoding failure means
// a non-finite number reached the hash engine, which is a programmer error.
func Hash(v Value) string {
	h, err := Sum(v)
	if err != nil {
		panic(fmt.Sprintf("canon: %v", err))
	}
	return h
}
