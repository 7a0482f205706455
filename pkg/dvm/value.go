package dvm

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Value is a concrete value of a key. Enum keys carry Text, number keys carry
// Number. Values are comparable and may be used as map keys.
type Value struct {
	Key    Key
	Text   string
	Number int64
}

// Valuer is implemented by the typed enums of this package and by Value
// itself.
type Valuer interface {
	Value() Value
}

func (v Value) Value() Value { return v }

// ParseValue parses raw as a value of key. Enum variants are matched without
// regard to case and returned in canonical spelling; number keys accept
// base-10 integers.
func ParseValue(key Key, raw string) (Value, error) {
	switch key.Kind() {
	case KindEnum:
		text, err := canonicalVariant(key, raw)
		if err != nil {
			return Value{}, err
		}
		return Value{Key: key, Text: text}, nil
	case KindNumber:
		n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			return Value{}, fmt.Errorf("%w: %s expects an integer, got %q", ErrKindMismatch, key, raw)
		}
		return Value{Key: key, Number: n}, nil
	default:
		return Value{}, fmt.Errorf("%w: %d", ErrUnknownKey, uint8(key))
	}
}

// MustParse is ParseValue for static values; it panics on error.
func MustParse(key Key, raw string) Value {
	v, err := ParseValue(key, raw)
	if err != nil {
		panic(err)
	}
	return v
}

// NumberValue builds a value for a number key.
func NumberValue(key Key, n int64) (Value, error) {
	if key.Kind() != KindNumber {
		return Value{}, fmt.Errorf("%w: %s is not a number key", ErrKindMismatch, key)
	}
	return Value{Key: key, Number: n}, nil
}

// Validate checks a value built by hand rather than through ParseValue.
func Validate(v Value) error {
	switch v.Key.Kind() {
	case KindEnum:
		if v.Number != 0 {
			return fmt.Errorf("%w: %s carries a number", ErrKindMismatch, v.Key)
		}
		canon, err := canonicalVariant(v.Key, v.Text)
		if err != nil {
			return err
		}
		if canon != v.Text {
			return fmt.Errorf("%w: %s=%q is not canonical (want %q)", ErrUnknownValue, v.Key, v.Text, canon)
		}
		return nil
	case KindNumber:
		if v.Text != "" {
			return fmt.Errorf("%w: %s carries text", ErrKindMismatch, v.Key)
		}
		return nil
	default:
		return fmt.Errorf("%w: %d", ErrUnknownKey, uint8(v.Key))
	}
}

// Raw returns the JSON-native payload: a string for enum keys, an int64 for
// number keys.
func (v Value) Raw() any {
	if v.Key.Kind() == KindNumber {
		return v.Number
	}
	return v.Text
}

// Display renders the payload only.
func (v Value) Display() string {
	if v.Key.Kind() == KindNumber {
		return strconv.FormatInt(v.Number, 10)
	}
	return v.Text
}

func (v Value) String() string {
	return v.Key.String() + "=" + v.Display()
}

// Less orders values by key then payload.
func (v Value) Less(o Value) bool {
	if v.Key != o.Key {
		return v.Key < o.Key
	}
	if v.Key.Kind() == KindNumber {
		return v.Number < o.Number
	}
	return v.Text < o.Text
}

// SortValues sorts in place using Less.
func SortValues(vs []Value) {
	sort.Slice(vs, func(i, j int) bool { return vs[i].Less(vs[j]) })
}

// DecodeRaw parses a JSON scalar as a value of key.
func DecodeRaw(key Key, data json.RawMessage) (Value, error) {
	switch key.Kind() {
	case KindEnum:
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return Value{}, fmt.Errorf("%w: %s expects a string, got %s", ErrKindMismatch, key, string(data))
		}
		return ParseValue(key, s)
	case KindNumber:
		var n int64
		if err := json.Unmarshal(data, &n); err != nil {
			return Value{}, fmt.Errorf("%w: %s expects an integer, got %s", ErrKindMismatch, key, string(data))
		}
		return Value{Key: key, Number: n}, nil
	default:
		return Value{}, fmt.Errorf("%w: %d", ErrUnknownKey, uint8(key))
	}
}

type valueJSON struct {
	Key   Key             `json:"key"`
	Value json.RawMessage `json:"value"`
}

func (v Value) MarshalJSON() ([]byte, error) {
	raw, err := json.Marshal(v.Raw())
	if err != nil {
		return nil, err
	}
	return json.Marshal(valueJSON{Key: v.Key, Value: raw})
}

func (v *Value) UnmarshalJSON(data []byte) error {
	var w valueJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	parsed, err := DecodeRaw(w.Key, w.Value)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}
