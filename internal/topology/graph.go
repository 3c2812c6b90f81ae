package topology

import (
	"fmt"
	"sort"
)

// New creates and returns an initialized, empty Graph.
func New() *Graph {
	return &Graph{
		vertices: make(map[string]*vertex),
	}
}

// AddVertex adds a vertex with the given ID. Adding an existing vertex only
// applies the options.
func (g *Graph) AddVertex(id string, opts ...VertexOption) {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	v, ok := g.vertices[id]
	if !ok {
		v = &vertex{id: id}
		g.vertices[id] = v
	}
	for _, opt := range opts {
		opt(v)
	}
}

// HasVertex reports whether id is a vertex.
func (g *Graph) HasVertex(id string) bool {
	g.mutex.RLock()
	defer g.mutex.RUnlock()
	_, ok := g.vertices[id]
	return ok
}

// AddEdge adds a directed edge from e.From.Node to e.To.Node. Parallel edges
// and self-loops are kept; a self-loop is an algebraic loop like any other.
func (g *Graph) AddEdge(e Edge) error {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	from, ok := g.vertices[e.From.Node]
	if !ok {
		return fmt.Errorf("source vertex not found: %s", e.From.Node)
	}
	to, ok := g.vertices[e.To.Node]
	if !ok {
		return fmt.Errorf("destination vertex not found: %s", e.To.Node)
	}

	idx := len(g.edges)
	g.edges = append(g.edges, e)
	from.out = append(from.out, idx)
	to.in = append(to.in, idx)
	return nil
}

// Edges returns a copy of all edges in insertion order.
func (g *Graph) Edges() []Edge {
	g.mutex.RLock()
	defer g.mutex.RUnlock()
	return append([]Edge(nil), g.edges...)
}

// Vertices returns all vertex ids in sorted order.
func (g *Graph) Vertices() []string {
	g.mutex.RLock()
	defer g.mutex.RUnlock()
	return g.sortedIDs()
}

// Dependencies returns the distinct vertices that id receives edges from.
func (g *Graph) Dependencies(id string) ([]string, error) {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	v, ok := g.vertices[id]
	if !ok {
		return nil, fmt.Errorf("vertex not found: %s", id)
	}
	return g.distinct(v.in, func(e Edge) string { return e.From.Node }), nil
}

// Dependents returns the distinct vertices that receive edges from id.
func (g *Graph) Dependents(id string) ([]string, error) {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	v, ok := g.vertices[id]
	if !ok {
		return nil, fmt.Errorf("vertex not found: %s", id)
	}
	return g.distinct(v.out, func(e Edge) string { return e.To.Node }), nil
}

// HasEdge reports whether any edge satisfies match.
func (g *Graph) HasEdge(match func(Edge) bool) bool {
	g.mutex.RLock()
	defer g.mutex.RUnlock()
	for _, e := range g.edges {
		if match(e) {
			return true
		}
	}
	return false
}

// Filter returns a new graph with the same vertices and only the edges for
// which keep returns true.
func (g *Graph) Filter(keep func(Edge) bool) *Graph {
	g.mutex.RLock()
	defer g.mutex.RUnlock()

	out := New()
	for _, id := range g.sortedIDs() {
		v := g.vertices[id]
		out.vertices[id] = &vertex{id: id, alwaysActive: v.alwaysActive, remainActive: v.remainActive}
	}
	for _, e := range g.edges {
		if !keep(e) {
			continue
		}
		idx := len(out.edges)
		out.edges = append(out.edges, e)
		out.vertices[e.From.Node].out = append(out.vertices[e.From.Node].out, idx)
		out.vertices[e.To.Node].in = append(out.vertices[e.To.Node].in, idx)
	}
	return out
}

func (g *Graph) sortedIDs() []string {
	ids := make([]string, 0, len(g.vertices))
	for id := range g.vertices {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (g *Graph) distinct(idxs []int, end func(Edge) string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, idx := range idxs {
		id := end(g.edges[idx])
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}
