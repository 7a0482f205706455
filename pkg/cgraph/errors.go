package cgraph

import (
	"errors"
	"fmt"
)

var (
	ErrDuplicateNode          = errors.New("cgraph: duplicate node")
	ErrUnknownNodeReference   = errors.New("cgraph: unknown node reference")
	ErrRecursionLimitExceeded = errors.New("cgraph: recursion limit exceeded")
	ErrMissingContextValue    = errors.New("cgraph: missing context value")
	ErrUnknownDomain          = errors.New("cgraph: unknown domain")
	ErrInvalidNodeValue       = errors.New("cgraph: invalid node value")
	ErrBuilderFrozen          = errors.New("cgraph: builder already built")
)

// Deterministic error codes carried by GraphError.
const (
	CodeDuplicateNode          = "ERR_GRAPH_DUPLICATE_NODE"
	CodeUnknownNodeReference   = "ERR_GRAPH_UNKNOWN_NODE_REFERENCE"
	CodeRecursionLimitExceeded = "ERR_GRAPH_RECURSION_LIMIT_EXCEEDED"
	CodeMissingContextValue    = "ERR_GRAPH_MISSING_CONTEXT_VALUE"
	CodeUnknownDomain          = "ERR_GRAPH_UNKNOWN_DOMAIN"
	CodeInvalidNodeValue       = "ERR_GRAPH_INVALID_NODE_VALUE"
	CodeBuilderFrozen          = "ERR_GRAPH_BUILDER_FROZEN"
)

var codeSentinels = map[string]error{
	CodeDuplicateNode:          ErrDuplicateNode,
	CodeUnknownNodeReference:   ErrUnknownNodeReference,
	CodeRecursionLimitExceeded: ErrRecursionLimitExceeded,
	CodeMissingContextValue:    ErrMissingContextValue,
	CodeUnknownDomain:          ErrUnknownDomain,
	CodeInvalidNodeValue:       ErrInvalidNodeValue,
	CodeBuilderFrozen:          ErrBuilderFrozen,
}

// GraphError is a typed construction or evaluation error. It serialises to
// JSON and unwraps to the matching Err* sentinel.
type GraphError struct {
	Code    string  `json:"code"`
	Message string  `json:"message"`
	Node    *NodeID `json:"node,omitempty"`
	Edge    *EdgeID `json:"edge,omitempty"`
	Limit   int     `json:"limit,omitempty"`
}

func (e *GraphError) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Node != nil {
		msg += fmt.Sprintf(" (node=%d)", *e.Node)
	}
	if e.Edge != nil {
		msg += fmt.Sprintf(" (edge=%d)", *e.Edge)
	}
	return msg
}

func (e *GraphError) Unwrap() error {
	return codeSentinels[e.Code]
}

func newGraphError(code string, format string, args ...any) *GraphError {
	return &GraphError{Code: code, Message: fmt.Sprintf(format, args...)}
}

func (e *GraphError) atNode(id NodeID) *GraphError {
	e.Node = &id
	return e
}

func (e *GraphError) atEdge(id EdgeID) *GraphError {
	e.Edge = &id
	return e
}
