package cgraph

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
)

// WriteDOT renders the graph in Graphviz DOT syntax. Any edges are dashed and
// negative edges are red.
func (g *Graph) WriteDOT(w io.Writer) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintln(bw, "digraph cgraph {")
	fmt.Fprintln(bw, "  rankdir=LR;")
	for _, n := range g.nodes {
		shape := "ellipse"
		switch n.Value.Kind {
		case KindAggregator:
			shape = "box"
		case KindValueSet:
			shape = "note"
		case KindKey:
			shape = "diamond"
		}
		fmt.Fprintf(bw, "  n%d [label=%s shape=%s];\n", n.ID, strconv.Quote(n.Value.String()), shape)
	}
	for _, e := range g.edges {
		style := "solid"
		if e.Strength == Any {
			style = "dashed"
		}
		color := "black"
		if e.Relation == Negative {
			color = "red"
		}
		fmt.Fprintf(bw, "  n%d -> n%d [label=%s style=%s color=%s];\n",
			e.Source, e.Target, strconv.Quote(fmt.Sprintf("e%d %s", e.ID, e.Domain)), style, color)
	}
	fmt.Fprintln(bw, "}")
	return bw.Flush()
}
