package relay

import (
	"context"

	"github.com/vk/lockstepgrid/internal/msgtype"
	"github.com/vk/lockstepgrid/internal/node"
	"github.com/vk/lockstepgrid/internal/registry"
	"github.com/vk/lockstepgrid/internal/spec"
)

// Kind is the node kind registered by this module.
const Kind = "relay"

// Module implements the registry.Module interface for this package.
type Module struct{}

// Spec declares a relay node whose endpoints can face the environment.
func Spec(name string) *spec.Builder {
	identity := spec.WithSpaceConverter(&msgtype.Ref{ID: msgtype.IdentityID})
	return spec.NewNode(name, Kind).
		Input("in", "number", identity).
		Output("out", "number", identity)
}

// Step forwards the latest input.
func Step(_ context.Context, _ uint64, in node.Inputs) (node.Outputs, error) {
	return node.Outputs{"out": in.Latest("in")}, nil
}

// Register registers the node kind.
func (m *Module) Register(r *registry.Registry) {
	r.RegisterNode(Kind, &registry.RegisteredNode{
		Declaration: registry.Declaration{
			Inputs:  map[string]string{"in": "number"},
			Outputs: map[string]string{"out": "number"},
		},
		New: func(context.Context, node.Params) (node.Node, error) {
			return node.StepFunc(Step), nil
		},
	})
}
