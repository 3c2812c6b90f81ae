package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/vk/lockstepgrid/internal/node"
)

// Module is the interface that all node modules must implement to be registered.
type Module interface {
	Register(r *Registry)
}

// Declaration lists the endpoints of a node kind with their message types.
type Declaration struct {
	Inputs  map[string]string
	Outputs map[string]string
	States  map[string]string
	Targets map[string]string
}

// NodeFactory creates a node instance.
type NodeFactory func(ctx context.Context, p node.Params) (node.Node, error)

// RegisteredNode holds the compiled Go parts of a node kind.
type RegisteredNode struct {
	Declaration Declaration
	New         NodeFactory
}

// BridgeFactory creates the simulator shared by all nodes of a bridge.
type BridgeFactory func(ctx context.Context, rate float64) (node.Simulator, error)

// Registry holds all the registered node kinds and bridges for a single
// application instance.
type Registry struct {
	nodes   map[string]*RegisteredNode
	bridges map[string]BridgeFactory
}

// New creates and initializes a new Registry instance.
func New(modules ...Module) *Registry {
	r := &Registry{
		nodes:   make(map[string]*RegisteredNode),
		bridges: make(map[string]BridgeFactory),
	}
	for _, m := range modules {
		m.Register(r)
	}
	return r
}

// RegisterNode registers a node kind.
func (r *Registry) RegisterNode(kind string, n *RegisteredNode) {
	if _, exists := r.nodes[kind]; exists {
		panic(fmt.Sprintf("node kind '%s' already registered", kind))
	}
	slog.Debug("Registering node kind.", "kind", kind)
	r.nodes[kind] = n
}

// RegisterBridge registers a bridge.
func (r *Registry) RegisterBridge(name string, f BridgeFactory) {
	if _, exists := r.bridges[name]; exists {
		panic(fmt.Sprintf("bridge '%s' already registered", name))
	}
	slog.Debug("Registering bridge.", "bridge", name)
	r.bridges[name] = f
}

// Node looks up a node kind.
func (r *Registry) Node(kind string) (*RegisteredNode, bool) {
	n, ok := r.nodes[kind]
	return n, ok
}

// Bridge looks up a bridge factory.
func (r *Registry) Bridge(name string) (BridgeFactory, bool) {
	f, ok := r.bridges[name]
	return f, ok
}

// NodeKinds returns the registered node kinds in sorted order.
func (r *Registry) NodeKinds() []string {
	kinds := make([]string, 0, len(r.nodes))
	for k := range r.nodes {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// Bridges returns the registered bridge names in sorted order.
func (r *Registry) Bridges() []string {
	names := make([]string, 0, len(r.bridges))
	for k := range r.bridges {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
