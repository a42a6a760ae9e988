package graph

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildGraph(edges ...[2]string) *DependencyGraph {
	g := New()
	for _, e := range edges {
		g.AddEdge(e[0], e[1])
	}
	return g
}

func TestAddEdge_Idempotent(t *testing.T) {
	g := New()
	g.AddEdge("a", "b")
	g.AddEdge("a", "b")
	g.AddEdge("a", "a")

	assert.Equal(t, 2, g.Len())
	assert.Equal(t, 1, g.EdgeCount())
	assert.Equal(t, []Node{"b"}, g.Dependencies("a"))
	assert.Equal(t, []Node{"a"}, g.Dependents("b"))
	assert.Nil(t, g.Dependencies("missing"))
}

func TestCalculateLayers_LinearChain(t *testing.T) {
	// A depends on B, B depends on C.
	g := buildGraph([2]string{"A", "B"}, [2]string{"B", "C"})

	layers := g.CalculateLayers()
	assert.Equal(t, map[Node]int{"C": 0, "B": 1, "A": 2}, layers)
}

func TestCalculateLayers_Diamond(t *testing.T) {
	g := buildGraph(
		[2]string{"A", "B"},
		[2]string{"A", "C"},
		[2]string{"B", "D"},
		[2]string{"C", "D"},
	)

	layers := g.CalculateLayers()
	assert.Equal(t, map[Node]int{"D": 0, "B": 1, "C": 1, "A": 2}, layers)
}

func TestCalculateLayers_DAGProperty(t *testing.T) {
	g := buildGraph(
		[2]string{"app/main.py", "app/service.py"},
		[2]string{"app/main.py", "app/util.py"},
		[2]string{"app/service.py", "app/model.py"},
		[2]string{"app/service.py", "app/util.py"},
		[2]string{"app/model.py", "app/util.py"},
		[2]string{"app/cli.py", "app/main.py"},
	)
	g.AddNode("README.py")

	layers := g.CalculateLayers()
	for _, n := range g.Nodes() {
		deps := g.Dependencies(n)
		if len(deps) == 0 {
			assert.Equal(t, 0, layers[n], "leaf %s", n)
			continue
		}
		want := 0
		for _, d := range deps {
			if layers[d] > want {
				want = layers[d]
			}
		}
		assert.Equal(t, want+1, layers[n], "node %s", n)
	}
}

func TestLayers_CycleIsTotalAndFlagged(t *testing.T) {
	// A <-> B, both depend on C; D depends on A.
	g := buildGraph(
		[2]string{"A", "B"},
		[2]string{"B", "A"},
		[2]string{"A", "C"},
		[2]string{"D", "A"},
	)

	l := g.Layers()
	require.Len(t, l.Layer, 4)
	assert.Equal(t, 0, l.Layer["C"])
	assert.Equal(t, 1, l.Layer["A"])
	assert.Equal(t, 1, l.Layer["B"])
	assert.Equal(t, 2, l.Layer["D"])
	assert.True(t, l.Cyclic["A"])
	assert.True(t, l.Cyclic["B"])
	assert.False(t, l.Cyclic["C"])
	assert.False(t, l.Cyclic["D"])
}

func TestLayers_PureCycle(t *testing.T) {
	g := buildGraph([2]string{"A", "B"}, [2]string{"B", "A"})

	l := g.Layers()
	assert.Equal(t, map[Node]int{"A": 1, "B": 1}, l.Layer)
	assert.Equal(t, 1, l.MaxLayer())
}

func TestDetectCycles_NoCycle(t *testing.T) {
	g := buildGraph([2]string{"a", "b"}, [2]string{"b", "c"}, [2]string{"a", "c"})
	assert.Empty(t, g.DetectCycles())
}

func TestDetectCycles_TwoNodeCycle(t *testing.T) {
	g := buildGraph([2]string{"A", "B"}, [2]string{"B", "A"})

	cycles := g.DetectCycles()
	require.Len(t, cycles, 1)
	assert.ElementsMatch(t, []Node{"A", "B"}, cycles[0])
}

func TestDetectCycles_IndependentCycles(t *testing.T) {
	g := buildGraph(
		[2]string{"a", "b"},
		[2]string{"b", "a"},
		[2]string{"x", "y"},
		[2]string{"y", "z"},
		[2]string{"z", "x"},
		[2]string{"m", "x"},
	)

	cycles := g.DetectCycles()
	require.Len(t, cycles, 2)
	assert.Equal(t, []Node{"a", "b"}, cycles[0])
	assert.Equal(t, []Node{"x", "y", "z"}, cycles[1])
}

func TestDetectCycles_Deterministic(t *testing.T) {
	edges := [][2]string{
		{"c", "a"}, {"a", "b"}, {"b", "c"}, {"d", "e"}, {"e", "d"}, {"b", "d"},
	}
	first := buildGraph(edges...).DetectCycles()

	// Insert the same edges in reverse order.
	g := New()
	for i := len(edges) - 1; i >= 0; i-- {
		g.AddEdge(edges[i][0], edges[i][1])
	}
	assert.Equal(t, first, g.DetectCycles())
}

func TestMermaid(t *testing.T) {
	g := buildGraph([2]string{"src/a.py", "src/b-c.py"})
	assert.Equal(t, "graph TD\n    src_a_py[src/a.py] --> src_b_c_py[src/b-c.py]", g.Mermaid())

	assert.Contains(t, New().Mermaid(), "NoDependencies")
}

type fakeSource map[Node][]Node

func (f fakeSource) Dependencies(_ context.Context, file Node) ([]Node, error) {
	if file == "broken.py" {
		return nil, errors.New("syntax error")
	}
	return f[file], nil
}

func TestBuild_SkipsUnparseableFiles(t *testing.T) {
	src := fakeSource{
		"a.py": {"b.py", "os", "a.py"},
		"b.py": nil,
	}

	g, err := Build(context.Background(), []Node{"a.py", "b.py", "broken.py"}, src, nil)
	require.NoError(t, err)

	assert.Equal(t, 3, g.Len())
	assert.Equal(t, []Node{"b.py"}, g.Dependencies("a.py"))
	assert.Nil(t, g.Dependencies("broken.py"))
	assert.Equal(t, 1, g.EdgeCount())
}

func TestBuild_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Build(ctx, []Node{"a.py"}, fakeSource{}, nil)
	assert.ErrorIs(t, err, context.Canceled)
}
