package dssa

import (
	"github.com/Mindburn-Labs/routecore/pkg/dvm"
	"github.com/Mindburn-Labs/routecore/pkg/kgraph"
)

// option is one candidate for a key inside a world. An unset option leaves
// the key unassigned, standing for any value the graph does not mention.
type option struct {
	value dvm.Value
	set   bool
}

// dimension is one enumerated key of the world space.
type dimension struct {
	key     dvm.Key
	options []option
}

// dimensions lists, per key the graph knows about, the candidate values a
// rule leaves open. Keys the graph never mentions cannot affect a check and
// stay unassigned.
func dimensions(c *constraints, kg *kgraph.KnowledgeGraph) []dimension {
	var dims []dimension
	for _, k := range c.keys() {
		e, ok := c.enums[k]
		if !ok {
			continue
		}
		known := kg.Graph.ValuesFor(k)
		if len(known) == 0 {
			continue
		}
		d := dimension{key: k}
		if e.allowed != nil {
			values, _ := e.finite(k)
			for _, v := range values {
				d.options = append(d.options, option{value: v, set: true})
			}
			dims = append(dims, d)
			continue
		}
		mentioned := make(map[dvm.Value]struct{}, len(known))
		for _, v := range known {
			mentioned[v] = struct{}{}
			if e.permits(v) {
				d.options = append(d.options, option{value: v, set: true})
			}
		}
		if hasUnmentioned(k, e, mentioned) {
			d.options = append(d.options, option{})
		}
		dims = append(dims, d)
	}
	return dims
}

// hasUnmentioned reports whether some value permitted by e is absent from
// the graph.
func hasUnmentioned(k dvm.Key, e *enumConstraint, mentioned map[dvm.Value]struct{}) bool {
	if !k.Closed() {
		return true
	}
	for _, v := range dvm.Enumerate(k) {
		if _, ok := mentioned[v]; ok {
			continue
		}
		if e.permits(v) {
			return true
		}
	}
	return false
}

// worldCount is the size of the cartesian product, saturating at limit+1.
func worldCount(dims []dimension, limit int) int {
	n := 1
	for _, d := range dims {
		n *= len(d.options)
		if n > limit {
			return limit + 1
		}
	}
	return n
}

// eachWorld calls fn with every assignment of the product in odometer order,
// last dimension fastest. fn returning false stops the enumeration.
func eachWorld(dims []dimension, fn func([]dvm.Value) bool) {
	for _, d := range dims {
		if len(d.options) == 0 {
			return
		}
	}
	idx := make([]int, len(dims))
	for {
		values := make([]dvm.Value, 0, len(dims))
		for i, d := range dims {
			if o := d.options[idx[i]]; o.set {
				values = append(values, o.value)
			}
		}
		if !fn(values) {
			return
		}
		i := len(dims) - 1
		for ; i >= 0; i-- {
			idx[i]++
			if idx[i] < len(dims[i].options) {
				break
			}
			idx[i] = 0
		}
		if i < 0 {
			return
		}
	}
}
