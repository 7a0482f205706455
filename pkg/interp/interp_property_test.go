//go:build property
// +build property

package interp

import (
	"encoding/json"
	"math/rand"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/Mindburn-Labs/routecore/pkg/ast"
)

// TestBackendProperties checks the invariants every backend must keep on
// generated programs.
func TestBackendProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 300
	properties := gopter.NewProperties(parameters)

	properties.Property("tree and compiled backends agree", prop.ForAll(
		func(seed int64) bool {
			r := rand.New(rand.NewSource(seed))
			p := randomProgram(r)
			tree, err := NewTreeWalker(p)
			if err != nil {
				return false
			}
			compiled, err := Compile(p)
			if err != nil {
				return false
			}
			for range 10 {
				in := randomBackendInput(r)
				a, errA := tree.Execute(in)
				b, errB := compiled.Execute(in)
				if errA != nil || errB != nil {
					return false
				}
				if a.ConnectorSelection != b.ConnectorSelection || a.Matched() != b.Matched() {
					return false
				}
			}
			return true
		},
		gen.Int64(),
	))

	properties.Property("a matched rule is the first rule that matches", prop.ForAll(
		func(seed int64) bool {
			r := rand.New(rand.NewSource(seed))
			p := randomProgram(r)
			b, err := Compile(p)
			if err != nil {
				return false
			}
			in := randomBackendInput(r)
			out, err := b.Execute(in)
			if err != nil {
				return false
			}
			if !out.Matched() {
				return out.ConnectorSelection == p.DefaultSelection
			}
			idx := out.ConnectorSelection
			if p.Rules[idx].Name != *out.RuleName {
				return false
			}
			for i := range idx {
				if referenceMatch(&p.Rules[i], in) {
					return false
				}
			}
			return referenceMatch(&p.Rules[idx], in)
		},
		gen.Int64(),
	))

	properties.Property("decoded programs decide identically", prop.ForAll(
		func(seed int64) bool {
			r := rand.New(rand.NewSource(seed))
			p := randomProgram(r)
			data, err := ast.EncodeProgram(p)
			if err != nil {
				return false
			}
			decoded, err := ast.DecodeProgram[int](data)
			if err != nil {
				return false
			}
			before, err := Compile(p)
			if err != nil {
				return false
			}
			after, err := Compile(decoded)
			if err != nil {
				return false
			}
			in := randomBackendInput(r)
			a, _ := before.Execute(in)
			b, _ := after.Execute(in)
			ja, _ := json.Marshal(a)
			jb, _ := json.Marshal(b)
			return string(ja) == string(jb)
		},
		gen.Int64(),
	))

	properties.TestingRun(t)
}
