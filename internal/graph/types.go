package graph

// Node is a module identifier: a normalized, slash-separated path relative to
// the repository root.
type Node = string

// Edge records that From depends on To.
type Edge struct {
	From Node `json:"from" yaml:"from"`
	To   Node `json:"to" yaml:"to"`
}

// DependencyGraph is a directed graph of modules. Nodes live in an arena and
// are addressed by stable integer indices; adjacency lists hold indices.
type DependencyGraph struct {
	index map[Node]int
	nodes []Node
	deps  [][]int // node -> nodes it depends on
	rdeps [][]int // node -> nodes that depend on it
	edges map[[2]int]struct{}
}

// Layering is the result of CalculateLayers plus cycle membership.
type Layering struct {
	Layer  map[Node]int
	Cyclic map[Node]bool
}

// MaxLayer returns the highest layer index, or -1 for an empty graph.
func (l *Layering) MaxLayer() int {
	top := -1
	for _, v := range l.Layer {
		if v > top {
			top = v
		}
	}
	return top
}
