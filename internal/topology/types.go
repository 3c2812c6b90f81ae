package topology

import (
	"fmt"
	"sync"
)

// Hop locates one end of an edge.
type Hop struct {
	Node      string
	Component string
	CName     string
}

// String implements fmt.Stringer.
func (h Hop) String() string {
	return fmt.Sprintf("%s/%s/%s", h.Node, h.Component, h.CName)
}

// Edge is one connection between two vertices.
type Edge struct {
	From         Hop
	To           Hop
	Feedthrough  bool
	StartWithMsg bool
}

// VertexOption configures a vertex when it is added.
type VertexOption func(v *vertex)

// AlwaysActive marks a vertex that fires every tick regardless of inputs,
// such as a bridge-driven sensor group.
func AlwaysActive() VertexOption {
	return func(v *vertex) { v.alwaysActive = true }
}

// RemainActive marks a vertex that a stale source cannot silence, such as
// an actuator group. It still needs at least one input of its own.
func RemainActive() VertexOption {
	return func(v *vertex) { v.remainActive = true }
}

type vertex struct {
	id           string
	alwaysActive bool
	remainActive bool
	in           []int
	out          []int
}

// Graph is a directed multigraph of vertices and connection edges.
type Graph struct {
	mutex    sync.RWMutex
	vertices map[string]*vertex
	edges    []Edge
}
