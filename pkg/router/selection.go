package router

import (
	"encoding/json"
	"fmt"

	"github.com/cespare/xxhash/v2"

	"github.com/Mindburn-Labs/routecore/pkg/dvm"
)

// Kind is the shape of a connector selection.
type Kind string

const (
	KindPriority    Kind = "priority"
	KindVolumeSplit Kind = "volume_split"
)

// Split is one share of a volume split, in percent.
type Split struct {
	Connector dvm.Connector `json:"connector" yaml:"connector"`
	Split     uint8         `json:"split" yaml:"split"`
}

// Selection is the output type of routing programs: an ordered priority
// list, or a percentage split resolved per payment.
type Selection struct {
	Kind        Kind
	Priority    []dvm.Connector
	VolumeSplit []Split
}

// Priority builds a priority selection.
func Priority(cs ...dvm.Connector) Selection {
	return Selection{Kind: KindPriority, Priority: cs}
}

// VolumeSplit builds a volume split selection.
func VolumeSplit(splits ...Split) Selection {
	return Selection{Kind: KindVolumeSplit, VolumeSplit: splits}
}

// Validate checks connector names, that a priority list is non-empty and
// that split shares are positive and sum to 100.
func (s Selection) Validate() error {
	switch s.Kind {
	case KindPriority:
		if len(s.Priority) == 0 {
			return fmt.Errorf("%w: empty priority list", ErrInvalidSelection)
		}
		for _, c := range s.Priority {
			if _, err := dvm.ParseConnector(string(c)); err != nil {
				return fmt.Errorf("%w: %v", ErrInvalidSelection, err)
			}
		}
	case KindVolumeSplit:
		if len(s.VolumeSplit) == 0 {
			return fmt.Errorf("%w: empty volume split", ErrInvalidSelection)
		}
		total := 0
		for _, sp := range s.VolumeSplit {
			if _, err := dvm.ParseConnector(string(sp.Connector)); err != nil {
				return fmt.Errorf("%w: %v", ErrInvalidSelection, err)
			}
			if sp.Split == 0 {
				return fmt.Errorf("%w: %s has a zero split", ErrInvalidSelection, sp.Connector)
			}
			total += int(sp.Split)
		}
		if total != 100 {
			return fmt.Errorf("%w: volume split sums to %d, want 100", ErrInvalidSelection, total)
		}
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidSelection, s.Kind)
	}
	return nil
}

// Connectors lists every connector the selection may return, in declared
// order.
func (s Selection) Connectors() []dvm.Connector {
	if s.Kind == KindVolumeSplit {
		out := make([]dvm.Connector, len(s.VolumeSplit))
		for i, sp := range s.VolumeSplit {
			out[i] = sp.Connector
		}
		return out
	}
	return s.Priority
}

// Resolve orders the connectors for one payment. A volume split picks a
// primary from a hash of paymentID, so retries of the same payment land on
// the same connector; the remaining connectors follow in declared order.
// An empty volume split is an ErrInvalidSelection.
func (s Selection) Resolve(paymentID string) ([]dvm.Connector, error) {
	if s.Kind != KindVolumeSplit {
		return append([]dvm.Connector(nil), s.Priority...), nil
	}
	if len(s.VolumeSplit) == 0 {
		return nil, fmt.Errorf("%w: empty volume split", ErrInvalidSelection)
	}
	bucket := int(xxhash.Sum64String(paymentID) % 100)
	primary := len(s.VolumeSplit) - 1
	acc := 0
	for i, sp := range s.VolumeSplit {
		acc += int(sp.Split)
		if bucket < acc {
			primary = i
			break
		}
	}
	out := make([]dvm.Connector, 0, len(s.VolumeSplit))
	out = append(out, s.VolumeSplit[primary].Connector)
	for i, sp := range s.VolumeSplit {
		if i != primary {
			out = append(out, sp.Connector)
		}
	}
	return out, nil
}

type selectionJSON struct {
	Type Kind            `json:"type"`
	Data json.RawMessage `json:"data"`
}

func (s Selection) MarshalJSON() ([]byte, error) {
	var data any = s.Priority
	if s.Kind == KindVolumeSplit {
		data = s.VolumeSplit
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(selectionJSON{Type: s.Kind, Data: raw})
}

func (s *Selection) UnmarshalJSON(data []byte) error {
	var w selectionJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	out := Selection{Kind: w.Type}
	switch w.Type {
	case KindPriority:
		if err := json.Unmarshal(w.Data, &out.Priority); err != nil {
			return fmt.Errorf("%w: priority data: %v", ErrInvalidSelection, err)
		}
	case KindVolumeSplit:
		if err := json.Unmarshal(w.Data, &out.VolumeSplit); err != nil {
			return fmt.Errorf("%w: volume split data: %v", ErrInvalidSelection, err)
		}
	}
	if err := out.Validate(); err != nil {
		return err
	}
	*s = out
	return nil
}
