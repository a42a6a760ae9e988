package graph

import (
	"sort"
	"strings"
)

// New returns an empty DependencyGraph.
func New() *DependencyGraph {
	return &DependencyGraph{
		index: make(map[Node]int),
		edges: make(map[[2]int]struct{}),
	}
}

// AddNode inserts n if absent and returns its arena index.
func (g *DependencyGraph) AddNode(n Node) int {
	if i, ok := g.index[n]; ok {
		return i
	}
	i := len(g.nodes)
	g.index[n] = i
	g.nodes = append(g.nodes, n)
	g.deps = append(g.deps, nil)
	g.rdeps = append(g.rdeps, nil)
	return i
}

// AddEdge records that from depends on to. It is idempotent and creates
// both nodes if needed. Self edges are ignored.
func (g *DependencyGraph) AddEdge(from, to Node) {
	f := g.AddNode(from)
	t := g.AddNode(to)
	if f == t {
		return
	}
	key := [2]int{f, t}
	if _, ok := g.edges[key]; ok {
		return
	}
	g.edges[key] = struct{}{}
	g.deps[f] = append(g.deps[f], t)
	g.rdeps[t] = append(g.rdeps[t], f)
}

// Has reports whether n is a node of the graph.
func (g *DependencyGraph) Has(n Node) bool {
	_, ok := g.index[n]
	return ok
}

// Len returns the number of nodes.
func (g *DependencyGraph) Len() int {
	return len(g.nodes)
}

// EdgeCount returns the number of distinct edges.
func (g *DependencyGraph) EdgeCount() int {
	return len(g.edges)
}

// Nodes returns all nodes sorted by path.
func (g *DependencyGraph) Nodes() []Node {
	out := make([]Node, len(g.nodes))
	copy(out, g.nodes)
	sort.Strings(out)
	return out
}

// Edges returns all edges sorted by (From, To).
func (g *DependencyGraph) Edges() []Edge {
	out := make([]Edge, 0, len(g.edges))
	for key := range g.edges {
		out = append(out, Edge{From: g.nodes[key[0]], To: g.nodes[key[1]]})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].From != out[j].From {
			return out[i].From < out[j].From
		}
		return out[i].To < out[j].To
	})
	return out
}

// Dependencies returns the nodes n depends on, sorted.
func (g *DependencyGraph) Dependencies(n Node) []Node {
	i, ok := g.index[n]
	if !ok {
		return nil
	}
	return g.names(g.deps[i])
}

// Dependents returns the nodes with a direct edge pointing at n, sorted.
func (g *DependencyGraph) Dependents(n Node) []Node {
	i, ok := g.index[n]
	if !ok {
		return nil
	}
	return g.names(g.rdeps[i])
}

func (g *DependencyGraph) names(idx []int) []Node {
	if len(idx) == 0 {
		return nil
	}
	out := make([]Node, len(idx))
	for k, i := range idx {
		out[k] = g.nodes[i]
	}
	sort.Strings(out)
	return out
}

// sortedIndices returns arena indices ordered by node path.
func (g *DependencyGraph) sortedIndices(idx []int) []int {
	out := make([]int, len(idx))
	copy(out, idx)
	sort.Slice(out, func(a, b int) bool { return g.nodes[out[a]] < g.nodes[out[b]] })
	return out
}

func (g *DependencyGraph) allSorted() []int {
	idx := make([]int, len(g.nodes))
	for i := range idx {
		idx[i] = i
	}
	return g.sortedIndices(idx)
}

// DetectCycles returns every cycle found by a depth-first search, each as
// the path from the node closing the cycle back to itself (without repeating
// it). Nodes and neighbours are visited in path order, so the result is
// deterministic. A cycle reachable through several back edges is reported
// once.
func (g *DependencyGraph) DetectCycles() [][]Node {
	const (
		white = 0
		gray  = 1
		black = 2
	)

	color := make([]int, len(g.nodes))
	var path []int
	var cycles [][]Node
	seen := make(map[string]bool)

	var dfs func(node int)
	dfs = func(node int) {
		color[node] = gray
		path = append(path, node)

		for _, next := range g.sortedIndices(g.deps[node]) {
			switch color[next] {
			case white:
				dfs(next)
			case gray:
				// Back edge: the cycle is the stack suffix starting at next.
				start := len(path) - 1
				for start >= 0 && path[start] != next {
					start--
				}
				cycle := make([]Node, 0, len(path)-start)
				for _, i := range path[start:] {
					cycle = append(cycle, g.nodes[i])
				}
				if key := cycleKey(cycle); !seen[key] {
					seen[key] = true
					cycles = append(cycles, cycle)
				}
			}
		}

		path = path[:len(path)-1]
		color[node] = black
	}

	for _, i := range g.allSorted() {
		if color[i] == white {
			dfs(i)
		}
	}
	return cycles
}

// cycleKey normalizes a cycle by rotating its smallest node to the front.
func cycleKey(cycle []Node) string {
	first := 0
	for i := range cycle {
		if cycle[i] < cycle[first] {
			first = i
		}
	}
	rotated := append(append([]Node{}, cycle[first:]...), cycle[:first]...)
	return strings.Join(rotated, "\x00")
}

// Mermaid renders the graph as a Mermaid "graph TD" diagram.
func (g *DependencyGraph) Mermaid() string {
	var b strings.Builder
	b.WriteString("graph TD")
	edges := g.Edges()
	if len(edges) == 0 {
		b.WriteString("\n    NoDependencies[No Dependencies Detected]")
		return b.String()
	}
	for _, e := range edges {
		b.WriteString("\n    ")
		b.WriteString(mermaidID(e.From) + "[" + e.From + "] --> " + mermaidID(e.To) + "[" + e.To + "]")
	}
	return b.String()
}

var mermaidReplacer = strings.NewReplacer(".", "_", "/", "_", "-", "_", " ", "_")

func mermaidID(n Node) string {
	return mermaidReplacer.Replace(n)
}
