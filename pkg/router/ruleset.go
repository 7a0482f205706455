package router

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/Mindburn-Labs/routecore/pkg/activation"
	"github.com/Mindburn-Labs/routecore/pkg/ast"
	"github.com/Mindburn-Labs/routecore/pkg/celrule"
	"github.com/Mindburn-Labs/routecore/pkg/dvm"
	"github.com/Mindburn-Labs/routecore/pkg/interp"
)

// ErrInvalidRuleSet is returned for rule set documents that cannot be
// turned into a program.
var ErrInvalidRuleSet = errors.New("router: invalid rule set")

// RuleSet is the authoring format for routing programs: rules in YAML with
// conditions written as CEL expressions.
//
//	version: 1.2.0
//	engine: ">=1.0.0"
//	default:
//	  priority: [stripe, adyen]
//	rules:
//	  - name: eu_cards
//	    select:
//	      volume_split:
//	        - {connector: adyen, split: 70}
//	        - {connector: checkout, split: 30}
//	    when:
//	      - payment_method == "card"
//	      - if: currency == "EUR"
//	        then:
//	          - amount >= 1000
type RuleSet struct {
	Version string        `yaml:"version"`
	Engine  string        `yaml:"engine"`
	Default selectionYAML `yaml:"default"`
	Rules   []ruleYAML    `yaml:"rules"`
}

type ruleYAML struct {
	Name   string          `yaml:"name"`
	Select selectionYAML   `yaml:"select"`
	When   []statementYAML `yaml:"when"`
}

type selectionYAML struct {
	Priority    []string    `yaml:"priority"`
	VolumeSplit []splitYAML `yaml:"volume_split"`
}

type splitYAML struct {
	Connector string `yaml:"connector"`
	Split     uint8  `yaml:"split"`
}

// statementYAML is either a bare expression or an if/then block whose
// nested statements all must hold as well.
type statementYAML struct {
	If   string
	Then []statementYAML
}

func (s *statementYAML) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind == yaml.ScalarNode {
		s.If = n.Value
		return nil
	}
	var block struct {
		If   string          `yaml:"if"`
		Then []statementYAML `yaml:"then"`
	}
	if err := n.Decode(&block); err != nil {
		return err
	}
	if block.If == "" {
		return fmt.Errorf("line %d: statement block needs an if expression", n.Line)
	}
	s.If, s.Then = block.If, block.Then
	return nil
}

func (s selectionYAML) selection() (Selection, error) {
	switch {
	case len(s.Priority) > 0 && len(s.VolumeSplit) > 0:
		return Selection{}, fmt.Errorf("%w: priority and volume_split are exclusive", ErrInvalidSelection)
	case len(s.VolumeSplit) > 0:
		splits := make([]Split, len(s.VolumeSplit))
		for i, sp := range s.VolumeSplit {
			c, err := dvm.ParseConnector(sp.Connector)
			if err != nil {
				return Selection{}, fmt.Errorf("%w: %v", ErrInvalidSelection, err)
			}
			splits[i] = Split{Connector: c, Split: sp.Split}
		}
		sel := VolumeSplit(splits...)
		return sel, sel.Validate()
	default:
		cs := make([]dvm.Connector, len(s.Priority))
		for i, name := range s.Priority {
			c, err := dvm.ParseConnector(name)
			if err != nil {
				return Selection{}, fmt.Errorf("%w: %v", ErrInvalidSelection, err)
			}
			cs[i] = c
		}
		sel := Priority(cs...)
		return sel, sel.Validate()
	}
}

func lowerStatements(c *celrule.Compiler, in []statementYAML) ([]ast.IfStatement, error) {
	out := make([]ast.IfStatement, 0, len(in))
	for _, s := range in {
		st, err := c.Lower(s.If)
		if err != nil {
			return nil, err
		}
		if len(s.Then) > 0 {
			if st.Nested, err = lowerStatements(c, s.Then); err != nil {
				return nil, err
			}
		}
		out = append(out, st)
	}
	return out, nil
}

// ParseRuleSet decodes a rule set document and compiles it to a validated
// program. The document's version and engine constraint are carried in the
// program metadata for activation.
func ParseRuleSet(data []byte, c *celrule.Compiler) (*ast.Program[Selection], error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var rs RuleSet
	if err := dec.Decode(&rs); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRuleSet, err)
	}

	def, err := rs.Default.selection()
	if err != nil {
		return nil, fmt.Errorf("%w: default: %w", ErrInvalidRuleSet, err)
	}
	p := &ast.Program[Selection]{
		DefaultSelection: def,
		Rules:            make([]ast.Rule[Selection], 0, len(rs.Rules)),
		Metadata:         ast.Metadata{},
	}
	if rs.Version != "" {
		p.Metadata[activation.MetaVersion] = rs.Version
	}
	if rs.Engine != "" {
		p.Metadata[activation.MetaEngine] = rs.Engine
	}

	for i, r := range rs.Rules {
		sel, err := r.Select.selection()
		if err != nil {
			return nil, fmt.Errorf("%w: rule %d (%s): %w", ErrInvalidRuleSet, i, r.Name, err)
		}
		statements, err := lowerStatements(c, r.When)
		if err != nil {
			return nil, fmt.Errorf("%w: rule %d (%s): %w", ErrInvalidRuleSet, i, r.Name, err)
		}
		p.Rules = append(p.Rules, ast.Rule[Selection]{
			Name:               r.Name,
			ConnectorSelection: sel,
			Statements:         statements,
		})
	}
	if err := interp.Validate(p); err != nil {
		return nil, err
	}
	return p, nil
}

// LoadRuleSet reads and parses a rule set file.
func LoadRuleSet(path string, c *celrule.Compiler) (*ast.Program[Selection], error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseRuleSet(data, c)
}
