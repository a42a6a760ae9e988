package graph

import "sort"

// CalculateLayers assigns every node a layer: 0 when it has no
// dependencies, otherwise 1 + the highest layer among its dependencies.
func (g *DependencyGraph) CalculateLayers() map[Node]int {
	return g.Layers().Layer
}

// Layers computes layers with Kahn's algorithm on the condensation graph.
// Members of a strongly connected component share one layer:
// 1 + the highest layer of their dependencies outside the component, with
// dependencies inside the component counted as layer 0. Such nodes are
// flagged in Cyclic. The result is total and deterministic.
func (g *DependencyGraph) Layers() *Layering {
	comp, members := g.components()

	// Component-level dependency sets (external edges only).
	compDeps := make([]map[int]struct{}, len(members))
	compRdeps := make([]map[int]struct{}, len(members))
	for c := range members {
		compDeps[c] = make(map[int]struct{})
		compRdeps[c] = make(map[int]struct{})
	}
	for key := range g.edges {
		from, to := comp[key[0]], comp[key[1]]
		if from == to {
			continue
		}
		compDeps[from][to] = struct{}{}
		compRdeps[to][from] = struct{}{}
	}

	// Kahn: a component is ready when all of its dependencies have a layer.
	remaining := make([]int, len(members))
	var queue []int
	for c := range members {
		remaining[c] = len(compDeps[c])
		if remaining[c] == 0 {
			queue = append(queue, c)
		}
	}
	sort.Ints(queue)

	compLayer := make([]int, len(members))
	for len(queue) > 0 {
		c := queue[0]
		queue = queue[1:]

		layer := 0
		for d := range compDeps[c] {
			if compLayer[d]+1 > layer {
				layer = compLayer[d] + 1
			}
		}
		if len(members[c]) > 1 && layer == 0 {
			// Intra-cycle dependencies count as layer 0.
			layer = 1
		}
		compLayer[c] = layer

		var ready []int
		for up := range compRdeps[c] {
			remaining[up]--
			if remaining[up] == 0 {
				ready = append(ready, up)
			}
		}
		sort.Ints(ready)
		queue = append(queue, ready...)
	}

	out := &Layering{
		Layer:  make(map[Node]int, len(g.nodes)),
		Cyclic: make(map[Node]bool),
	}
	for c, ms := range members {
		for _, i := range ms {
			out.Layer[g.nodes[i]] = compLayer[c]
			if len(ms) > 1 {
				out.Cyclic[g.nodes[i]] = true
			}
		}
	}
	return out
}

// components runs Tarjan's algorithm over nodes in path order. It returns
// the component of every node and the members of every component. Component
// numbers follow discovery order, so they are stable for a given graph.
func (g *DependencyGraph) components() (comp []int, members [][]int) {
	n := len(g.nodes)
	comp = make([]int, n)
	index := make([]int, n)
	low := make([]int, n)
	onStack := make([]bool, n)
	for i := range index {
		index[i] = -1
	}

	var stack []int
	next := 0

	var strong func(v int)
	strong = func(v int) {
		index[v] = next
		low[v] = next
		next++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range g.sortedIndices(g.deps[v]) {
			if index[w] == -1 {
				strong(w)
				if low[w] < low[v] {
					low[v] = low[w]
				}
			} else if onStack[w] && index[w] < low[v] {
				low[v] = index[w]
			}
		}

		if low[v] == index[v] {
			c := len(members)
			var ms []int
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				comp[w] = c
				ms = append(ms, w)
				if w == v {
					break
				}
			}
			members = append(members, g.sortedIndices(ms))
		}
	}

	for _, v := range g.allSorted() {
		if index[v] == -1 {
			strong(v)
		}
	}
	return comp, members
}
