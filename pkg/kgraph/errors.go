package kgraph

import (
	"errors"
	"fmt"

	"github.com/Mindburn-Labs/routecore/pkg/cgraph"
)

var (
	ErrInvalidConnectorName = errors.New("kgraph: invalid connector name")
	ErrInvalidFilterKey     = errors.New("kgraph: invalid filter key")
	ErrInvalidFilterValue   = errors.New("kgraph: invalid filter value")
	ErrInvalidTable         = errors.New("kgraph: invalid eligibility table")
	ErrGraphConstruction    = errors.New("kgraph: graph construction failed")
)

const (
	CodeInvalidConnectorName = "ERR_KGRAPH_INVALID_CONNECTOR_NAME"
	CodeInvalidFilterKey     = "ERR_KGRAPH_INVALID_FILTER_KEY"
	CodeInvalidFilterValue   = "ERR_KGRAPH_INVALID_FILTER_VALUE"
	CodeInvalidTable         = "ERR_KGRAPH_INVALID_TABLE"
	CodeGraphConstruction    = "ERR_KGRAPH_GRAPH_CONSTRUCTION"
)

var kgraphSentinels = map[string]error{
	CodeInvalidConnectorName: ErrInvalidConnectorName,
	CodeInvalidFilterKey:     ErrInvalidFilterKey,
	CodeInvalidFilterValue:   ErrInvalidFilterValue,
	CodeInvalidTable:         ErrInvalidTable,
	CodeGraphConstruction:    ErrGraphConstruction,
}

// KgraphError reports why a table could not be compiled. It serialises to
// JSON so activation tooling can return it verbatim.
type KgraphError struct {
	Code      string             `json:"code"`
	Message   string             `json:"message"`
	Connector string             `json:"connector,omitempty"`
	FilterKey string             `json:"filter_key,omitempty"`
	Field     string             `json:"field,omitempty"`
	Value     string             `json:"value,omitempty"`
	Graph     *cgraph.GraphError `json:"graph_error,omitempty"`
}

func (e *KgraphError) Error() string {
	msg := e.Code + ": " + e.Message
	if e.Connector != "" {
		msg += fmt.Sprintf(" (connector=%s", e.Connector)
		if e.FilterKey != "" {
			msg += " filter=" + e.FilterKey
		}
		if e.Field != "" {
			msg += " field=" + e.Field
		}
		msg += ")"
	}
	if e.Graph != nil {
		msg += ": " + e.Graph.Error()
	}
	return msg
}

func (e *KgraphError) Unwrap() []error {
	errs := []error{kgraphSentinels[e.Code]}
	if e.Graph != nil {
		errs = append(errs, e.Graph)
	}
	return errs
}

func graphConstruction(connector, filterKey string, err error) error {
	kerr := &KgraphError{Code: CodeGraphConstruction, Message: "could not add eligibility constraint", Connector: connector, FilterKey: filterKey}
	var gerr *cgraph.GraphError
	if errors.As(err, &gerr) {
		kerr.Graph = gerr
	} else {
		kerr.Message = err.Error()
	}
	return kerr
}
