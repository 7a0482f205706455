package dvm

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/cespare/xxhash/v2"
)

// BackendInput is the concrete per-transaction assignment of keys to values.
// It is immutable; With and Without return modified copies. At most one value
// is held per key.
type BackendInput struct {
	values      [keyCount + 1]Value
	present     KeySet
	fingerprint uint64
}

// NewInput builds an input from values. Supplying two different values for
// the same key is ErrConflictInput; repeating an identical value is allowed.
func NewInput(values ...Value) (*BackendInput, error) {
	in := &BackendInput{}
	for _, v := range values {
		if err := Validate(v); err != nil {
			return nil, err
		}
		if in.present.Has(v.Key) {
			if in.values[v.Key] != v {
				return nil, fmt.Errorf("%w: %s has %s and %s", ErrConflictInput, v.Key, in.values[v.Key].Display(), v.Display())
			}
			continue
		}
		in.values[v.Key] = v
		in.present = in.present.Add(v.Key)
	}
	in.fingerprint = in.computeFingerprint()
	return in, nil
}

// MustInput is NewInput for fixtures; it panics on error.
func MustInput(values ...Valuer) *BackendInput {
	vs := make([]Value, len(values))
	for i, v := range values {
		vs[i] = v.Value()
	}
	in, err := NewInput(vs...)
	if err != nil {
		panic(err)
	}
	return in
}

// Get returns the value held for key.
func (in *BackendInput) Get(key Key) (Value, bool) {
	if in == nil || !key.Valid() || !in.present.Has(key) {
		return Value{}, false
	}
	return in.values[key], true
}

// Keys returns the set of keys with a value.
func (in *BackendInput) Keys() KeySet {
	if in == nil {
		return 0
	}
	return in.present
}

// Len is the number of assigned keys.
func (in *BackendInput) Len() int {
	return len(in.Keys().Keys())
}

// Values lists the assigned values in key order.
func (in *BackendInput) Values() []Value {
	keys := in.Keys().Keys()
	out := make([]Value, len(keys))
	for i, k := range keys {
		out[i] = in.values[k]
	}
	return out
}

// With returns a copy with v assigned, replacing any previous value of v.Key.
func (in *BackendInput) With(v Value) (*BackendInput, error) {
	if err := Validate(v); err != nil {
		return nil, err
	}
	out := &BackendInput{}
	if in != nil {
		*out = *in
	}
	out.values[v.Key] = v
	out.present = out.present.Add(v.Key)
	out.fingerprint = out.computeFingerprint()
	return out, nil
}

// Without returns a copy with key unassigned.
func (in *BackendInput) Without(key Key) *BackendInput {
	out := &BackendInput{}
	if in != nil {
		*out = *in
	}
	if key.Valid() {
		out.values[key] = Value{}
		out.present = out.present.Minus(NewKeySet(key))
	}
	out.fingerprint = out.computeFingerprint()
	return out
}

// Fingerprint identifies the assignment. Equal assignments have equal
// fingerprints regardless of construction order.
func (in *BackendInput) Fingerprint() uint64 {
	if in == nil {
		return 0
	}
	return in.fingerprint
}

func (in *BackendInput) computeFingerprint() uint64 {
	d := xxhash.New()
	var buf [8]byte
	for k := Key(1); k <= keyCount; k++ {
		if !in.present.Has(k) {
			continue
		}
		v := in.values[k]
		_, _ = d.Write([]byte{byte(k)})
		if k.Kind() == KindNumber {
			binary.LittleEndian.PutUint64(buf[:], uint64(v.Number))
			_, _ = d.Write(buf[:])
		} else {
			_, _ = d.WriteString(v.Text)
		}
		_, _ = d.Write([]byte{0})
	}
	return d.Sum64()
}

func (in *BackendInput) String() string {
	vals := in.Values()
	s := "{"
	for i, v := range vals {
		if i > 0 {
			s += ", "
		}
		s += v.String()
	}
	return s + "}"
}

// MarshalJSON encodes the input as an object of wire key to raw value.
func (in *BackendInput) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, in.Len())
	for _, v := range in.Values() {
		m[v.Key.String()] = v.Raw()
	}
	return json.Marshal(m)
}

func (in *BackendInput) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("dvm: input must be an object: %w", err)
	}
	names := make([]string, 0, len(raw))
	for name := range raw {
		names = append(names, name)
	}
	sort.Strings(names)

	values := make([]Value, 0, len(raw))
	for _, name := range names {
		key, err := ParseKey(name)
		if err != nil {
			return err
		}
		v, err := DecodeRaw(key, raw[name])
		if err != nil {
			return err
		}
		values = append(values, v)
	}
	parsed, err := NewInput(values...)
	if err != nil {
		return err
	}
	*in = *parsed
	return nil
}
