package activation

import (
	"errors"
	"fmt"
	"strings"

	"github.com/Mindburn-Labs/routecore/pkg/dssa"
)

var (
	ErrDeadRules          = errors.New("activation: program has dead rules")
	ErrStaleVersion       = errors.New("activation: version is not newer than the active snapshot")
	ErrIncompatibleEngine = errors.New("activation: program requires a different engine version")
	ErrNoGraph            = errors.New("activation: no knowledge graph available")
	ErrInvalidCandidate   = errors.New("activation: invalid candidate")
)

const (
	CodeDeadRules          = "ERR_ACTIVATION_DEAD_RULES"
	CodeStaleVersion       = "ERR_ACTIVATION_STALE_VERSION"
	CodeIncompatibleEngine = "ERR_ACTIVATION_INCOMPATIBLE_ENGINE"
)

// RejectedError explains why a candidate was not activated. The previously
// active snapshot stays in place.
type RejectedError struct {
	Code    string       `json:"code"`
	Message string       `json:"message"`
	Version string       `json:"version"`
	Rules   []string     `json:"rules,omitempty"`
	Report  *dssa.Report `json:"report,omitempty"`
}

func (e *RejectedError) Error() string {
	if len(e.Rules) > 0 {
		return fmt.Sprintf("%s: %s (version %s; rules: %s)", e.Code, e.Message, e.Version, strings.Join(e.Rules, ", "))
	}
	return fmt.Sprintf("%s: %s (version %s)", e.Code, e.Message, e.Version)
}

func (e *RejectedError) Unwrap() error {
	switch e.Code {
	case CodeDeadRules:
		return ErrDeadRules
	case CodeStaleVersion:
		return ErrStaleVersion
	case CodeIncompatibleEngine:
		return ErrIncompatibleEngine
	default:
		return nil
	}
}
