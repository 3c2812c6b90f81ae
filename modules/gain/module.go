// Package gain provides a node multiplying its input by a configured gain.
package gain

import (
	"context"

	"github.com/vk/lockstepgrid/internal/msgtype"
	"github.com/vk/lockstepgrid/internal/node"
	"github.com/vk/lockstepgrid/internal/registry"
	"github.com/vk/lockstepgrid/internal/spec"
	"github.com/zclconf/go-cty/cty"
)

// Kind is the node kind registered by this module.
const Kind = "gain"

// Module implements the registry.Module interface for this package.
type Module struct{}

// Spec declares a gain node.
func Spec(name string, gain float64) *spec.Builder {
	identity := spec.WithSpaceConverter(&msgtype.Ref{ID: msgtype.IdentityID})
	return spec.NewNode(name, Kind).
		Config("gain", gain).
		Input("in", "number", identity).
		Output("out", "number", identity)
}

// Node scales its input.
type Node struct {
	gain cty.Value
}

// New reads the gain from the node config, defaulting to 1.
func New(_ context.Context, p node.Params) (node.Node, error) {
	g, err := p.Float("gain", 1)
	if err != nil {
		return nil, err
	}
	return &Node{gain: cty.NumberFloatVal(g)}, nil
}

func (n *Node) Reset(context.Context, map[string]node.State) error { return nil }

func (n *Node) Step(_ context.Context, _ uint64, in node.Inputs) (node.Outputs, error) {
	v := in.Latest("in")
	if v.IsNull() {
		return node.Outputs{"out": cty.Zero}, nil
	}
	return node.Outputs{"out": v.Multiply(n.gain)}, nil
}

// Register registers the node kind.
func (m *Module) Register(r *registry.Registry) {
	r.RegisterNode(Kind, &registry.RegisteredNode{
		Declaration: registry.Declaration{
			Inputs:  map[string]string{"in": "number"},
			Outputs: map[string]string{"out": "number"},
		},
		New: New,
	})
}
