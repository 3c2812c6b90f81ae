package topology

import (
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func edge(from, to string) Edge {
	return Edge{
		From: Hop{Node: from, Component: "outputs", CName: "out"},
		To:   Hop{Node: to, Component: "inputs", CName: "in"},
	}
}

func build(t *testing.T, vertices []string, edges ...Edge) *Graph {
	t.Helper()
	g := New()
	for _, v := range vertices {
		g.AddVertex(v)
	}
	for _, e := range edges {
		require.NoError(t, g.AddEdge(e))
	}
	return g
}

func TestNew(t *testing.T) {
	g := New()
	require.NotNil(t, g)
	assert.Empty(t, g.Vertices())
	assert.Empty(t, g.Edges())
}

func TestAddVertex(t *testing.T) {
	g := New()
	g.AddVertex("a")
	g.AddVertex("a", AlwaysActive())
	assert.Equal(t, []string{"a"}, g.Vertices())
	assert.True(t, g.vertices["a"].alwaysActive)
	assert.True(t, g.HasVertex("a"))
	assert.False(t, g.HasVertex("b"))
}

func TestAddEdge(t *testing.T) {
	t.Run("success case", func(t *testing.T) {
		g := build(t, []string{"a", "b"}, edge("a", "b"), edge("a", "b"))

		deps, err := g.Dependencies("b")
		require.NoError(t, err)
		assert.Equal(t, []string{"a"}, deps)

		dependents, err := g.Dependents("a")
		require.NoError(t, err)
		assert.Equal(t, []string{"b"}, dependents)
		assert.Len(t, g.Edges(), 2)
	})

	t.Run("error cases", func(t *testing.T) {
		g := build(t, []string{"a"})
		assert.ErrorContains(t, g.AddEdge(edge("dne", "a")), "source vertex not found")
		assert.ErrorContains(t, g.AddEdge(edge("a", "dne")), "destination vertex not found")
		_, err := g.Dependencies("dne")
		assert.Error(t, err)
		_, err = g.Dependents("dne")
		assert.Error(t, err)
	})
}

func TestCycles(t *testing.T) {
	t.Run("empty graph has no cycles", func(t *testing.T) {
		assert.Empty(t, New().Cycles())
	})

	t.Run("chain has no cycles", func(t *testing.T) {
		g := build(t, []string{"a", "b", "c"}, edge("a", "b"), edge("b", "c"))
		assert.Empty(t, g.Cycles())
	})

	t.Run("self loop is a cycle", func(t *testing.T) {
		g := build(t, []string{"a"}, edge("a", "a"))
		cycles := g.Cycles()
		require.Len(t, cycles, 1)
		assert.Equal(t, []Hop{edge("a", "a").From, edge("a", "a").To}, cycles[0])
	})

	t.Run("three node loop reports ordered hops", func(t *testing.T) {
		g := build(t, []string{"a", "b", "c", "d"}, edge("d", "a"), edge("a", "b"), edge("b", "c"), edge("c", "a"))
		cycles := g.Cycles()
		require.Len(t, cycles, 1)
		hops := cycles[0]
		require.Len(t, hops, 6)
		assert.Equal(t, "a", hops[0].Node)
		assert.Equal(t, "a", hops[len(hops)-1].Node)
		for i := 1; i+1 < len(hops); i += 2 {
			assert.Equal(t, hops[i].Node, hops[i+1].Node)
		}
	})

	t.Run("filtered edge breaks the loop", func(t *testing.T) {
		back := edge("b", "a")
		back.StartWithMsg = true
		g := build(t, []string{"a", "b"}, edge("a", "b"), back)
		require.Len(t, g.Cycles(), 1)

		episode := g.Filter(func(e Edge) bool { return !e.StartWithMsg })
		assert.Empty(t, episode.Cycles())
		assert.Len(t, episode.Edges(), 1)
		assert.Equal(t, g.Vertices(), episode.Vertices())
	})
}

func TestStale(t *testing.T) {
	testCases := []struct {
		name     string
		build    func(g *Graph)
		expected []string
	}{
		{
			name: "chain from always active source",
			build: func(g *Graph) {
				g.AddVertex("s", AlwaysActive())
				g.AddVertex("a")
				g.AddVertex("b")
				_ = g.AddEdge(edge("s", "a"))
				_ = g.AddEdge(edge("a", "b"))
			},
		},
		{
			name: "vertex without inputs is stale and so are its dependents",
			build: func(g *Graph) {
				g.AddVertex("s", AlwaysActive())
				g.AddVertex("orphan")
				g.AddVertex("b")
				_ = g.AddEdge(edge("s", "b"))
				_ = g.AddEdge(edge("orphan", "b"))
			},
			expected: []string{"b", "orphan"},
		},
		{
			name: "loop broken by initial message sustains itself",
			build: func(g *Graph) {
				g.AddVertex("s", AlwaysActive())
				g.AddVertex("a")
				g.AddVertex("b")
				_ = g.AddEdge(edge("a", "b"))
				back := edge("b", "a")
				back.StartWithMsg = true
				_ = g.AddEdge(back)
			},
		},
		{
			name: "loop broken by initial message and fed externally is active",
			build: func(g *Graph) {
				g.AddVertex("s", AlwaysActive())
				g.AddVertex("a")
				g.AddVertex("b")
				_ = g.AddEdge(edge("s", "a"))
				_ = g.AddEdge(edge("a", "b"))
				back := edge("b", "a")
				back.StartWithMsg = true
				_ = g.AddEdge(back)
			},
		},
		{
			name: "always active vertex with stale input stays active",
			build: func(g *Graph) {
				g.AddVertex("s", AlwaysActive())
				g.AddVertex("orphan")
				_ = g.AddEdge(edge("orphan", "s"))
			},
			expected: []string{"orphan"},
		},
		{
			name: "remain active vertex survives a stale source",
			build: func(g *Graph) {
				g.AddVertex("env/actions", AlwaysActive())
				g.AddVertex("obj/actuators", RemainActive())
				g.AddVertex("S")
				_ = g.AddEdge(edge("env/actions", "obj/actuators"))
				_ = g.AddEdge(edge("S", "obj/actuators"))
			},
			expected: []string{"S"},
		},
		{
			name: "remain active vertex without inputs is stale",
			build: func(g *Graph) {
				g.AddVertex("s", AlwaysActive())
				g.AddVertex("obj/actuators", RemainActive())
			},
			expected: []string{"obj/actuators"},
		},
		{
			name: "staleness flows through plain vertices",
			build: func(g *Graph) {
				g.AddVertex("s", AlwaysActive())
				g.AddVertex("orphan")
				g.AddVertex("a")
				g.AddVertex("b")
				_ = g.AddEdge(edge("s", "a"))
				_ = g.AddEdge(edge("orphan", "a"))
				_ = g.AddEdge(edge("a", "b"))
			},
			expected: []string{"a", "b", "orphan"},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			g := New()
			tc.build(g)
			assert.Equal(t, tc.expected, g.Stale())
		})
	}
}

func TestCycles_Properties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	chain := func(n int) *Graph {
		g := New()
		for i := 0; i < n; i++ {
			g.AddVertex(fmt.Sprintf("v%02d", i))
		}
		for i := 0; i+1 < n; i++ {
			_ = g.AddEdge(edge(fmt.Sprintf("v%02d", i), fmt.Sprintf("v%02d", i+1)))
		}
		return g
	}

	properties.Property("forward chains are acyclic", prop.ForAll(
		func(n int) bool {
			return len(chain(n).Cycles()) == 0
		},
		gen.IntRange(1, 30),
	))

	properties.Property("a back edge yields a closed hop list", prop.ForAll(
		func(n, from, to int) bool {
			if to > from {
				from, to = to, from
			}
			g := chain(n)
			_ = g.AddEdge(edge(fmt.Sprintf("v%02d", from%n), fmt.Sprintf("v%02d", to%n)))
			if to%n > from%n {
				return true
			}
			cycles := g.Cycles()
			if len(cycles) != 1 {
				return false
			}
			hops := cycles[0]
			return hops[0].Node == hops[len(hops)-1].Node
		},
		gen.IntRange(1, 30), gen.IntRange(0, 29), gen.IntRange(0, 29),
	))

	properties.Property("a start_with_msg back edge is not a loop once filtered", prop.ForAll(
		func(n int) bool {
			g := chain(n)
			back := edge(fmt.Sprintf("v%02d", n-1), "v00")
			back.StartWithMsg = true
			_ = g.AddEdge(back)
			episode := g.Filter(func(e Edge) bool { return !e.StartWithMsg })
			return len(episode.Cycles()) == 0 && len(g.Cycles()) == 1
		},
		gen.IntRange(1, 30),
	))

	properties.TestingRun(t)
}

func TestFilter_KeepsVertexOptions(t *testing.T) {
	g := New()
	g.AddVertex("s", AlwaysActive())
	g.AddVertex("orphan")
	g.AddVertex("obj/actuators", RemainActive())
	require.NoError(t, g.AddEdge(edge("s", "obj/actuators")))
	require.NoError(t, g.AddEdge(edge("orphan", "obj/actuators")))

	filtered := g.Filter(func(Edge) bool { return true })
	assert.Equal(t, []string{"orphan"}, filtered.Stale())
}
