// Package dvm is the domain value model shared by the routing core: the closed
// set of attribute keys a rule or eligibility constraint may reference, and the
// legal values of each key.
//
// Values are validated when they are constructed (rule load, graph build),
// never while a transaction is being evaluated.
package dvm

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Key identifies a routing attribute.
type Key uint8

const (
	KeyPaymentMethod Key = iota + 1
	KeyPaymentMethodType
	KeyCardNetwork
	KeyCurrency
	KeyBillingCountry
	KeyBusinessCountry
	KeyConnector
	KeyCaptureMethod
	KeyAuthenticationType
	KeySetupFutureUsage
	KeyPaymentType
	KeyAmount

	keyCount = iota
)

// KeyKind describes the shape of a key's values.
type KeyKind uint8

const (
	KindEnum KeyKind = iota + 1
	KindNumber
)

func (k KeyKind) String() string {
	switch k {
	case KindEnum:
		return "enum"
	case KindNumber:
		return "number"
	default:
		return "unknown"
	}
}

type keyInfo struct {
	name string
	kind KeyKind
}

var keyTable = [keyCount + 1]keyInfo{
	KeyPaymentMethod:      {"payment_method", KindEnum},
	KeyPaymentMethodType:  {"payment_method_type", KindEnum},
	KeyCardNetwork:        {"card_network", KindEnum},
	KeyCurrency:           {"currency", KindEnum},
	KeyBillingCountry:     {"billing_country", KindEnum},
	KeyBusinessCountry:    {"business_country", KindEnum},
	KeyConnector:          {"connector", KindEnum},
	KeyCaptureMethod:      {"capture_method", KindEnum},
	KeyAuthenticationType: {"authentication_type", KindEnum},
	KeySetupFutureUsage:   {"setup_future_usage", KindEnum},
	KeyPaymentType:        {"payment_type", KindEnum},
	KeyAmount:             {"amount", KindNumber},
}

var keysByName = func() map[string]Key {
	m := make(map[string]Key, keyCount)
	for k := Key(1); k <= keyCount; k++ {
		m[keyTable[k].name] = k
	}
	return m
}()

// AllKeys returns every key in declaration order.
func AllKeys() []Key {
	out := make([]Key, 0, keyCount)
	for k := Key(1); k <= keyCount; k++ {
		out = append(out, k)
	}
	return out
}

// ParseKey resolves a wire name such as "payment_method".
func ParseKey(name string) (Key, error) {
	k, ok := keysByName[strings.TrimSpace(name)]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownKey, name)
	}
	return k, nil
}

// Valid reports whether k is a declared key.
func (k Key) Valid() bool {
	return k >= 1 && k <= keyCount
}

// Kind returns the value kind of the key, or 0 for an invalid key.
func (k Key) Kind() KeyKind {
	if !k.Valid() {
		return 0
	}
	return keyTable[k].kind
}

// Closed reports whether Enumerate(k) lists every legal value of k. Country
// and currency keys accept ISO codes beyond the enumerated set; number keys
// enumerate nothing.
func (k Key) Closed() bool {
	return k.Kind() == KindEnum && !isISOKey(k)
}

func (k Key) String() string {
	if !k.Valid() {
		return fmt.Sprintf("key(%d)", uint8(k))
	}
	return keyTable[k].name
}

func (k Key) MarshalJSON() ([]byte, error) {
	if !k.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownKey, uint8(k))
	}
	return json.Marshal(k.String())
}

func (k *Key) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return fmt.Errorf("dvm: key must be a string: %w", err)
	}
	parsed, err := ParseKey(name)
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

func (k Key) MarshalText() ([]byte, error) {
	if !k.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownKey, uint8(k))
	}
	return []byte(k.String()), nil
}

func (k *Key) UnmarshalText(text []byte) error {
	parsed, err := ParseKey(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// KeySet is a set of keys stored as a bitmask. The zero value is empty.
type KeySet uint64

// NewKeySet builds a set from keys.
func NewKeySet(keys ...Key) KeySet {
	var s KeySet
	for _, k := range keys {
		s = s.Add(k)
	}
	return s
}

func (s KeySet) Add(k Key) KeySet { return s | 1<<k }

func (s KeySet) Has(k Key) bool { return s&(1<<k) != 0 }

func (s KeySet) Union(o KeySet) KeySet { return s | o }

// Minus returns the keys of s that are not in o.
func (s KeySet) Minus(o KeySet) KeySet { return s &^ o }

func (s KeySet) Empty() bool { return s == 0 }

// Keys lists the members in declaration order.
func (s KeySet) Keys() []Key {
	var out []Key
	for k := Key(1); k <= keyCount; k++ {
		if s.Has(k) {
			out = append(out, k)
		}
	}
	return out
}

func (s KeySet) String() string {
	keys := s.Keys()
	names := make([]string, len(keys))
	for i, k := range keys {
		names[i] = k.String()
	}
	return "{" + strings.Join(names, ",") + "}"
}
