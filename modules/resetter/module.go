// Package resetter provides a node that drives a state to a target during
// reset. While the environment resets, its output is fed from the action
// connected to its feedthrough.
package resetter

import (
	"context"
	"fmt"

	"github.com/vk/lockstepgrid/internal/ctxlog"
	"github.com/vk/lockstepgrid/internal/msgtype"
	"github.com/vk/lockstepgrid/internal/node"
	"github.com/vk/lockstepgrid/internal/registry"
	"github.com/vk/lockstepgrid/internal/spec"
	"github.com/zclconf/go-cty/cty"
)

// Kind is the node kind registered by this module.
const Kind = "resetter"

// Module implements the registry.Module interface for this package.
type Module struct{}

// Spec declares a resetter with a feedthrough on its output.
func Spec(name string) *spec.Builder {
	identity := spec.WithSpaceConverter(&msgtype.Ref{ID: msgtype.IdentityID})
	return spec.NewNode(name, Kind).
		Input("in", "number", identity).
		Output("out", "number", identity).
		Target("goal", "number")
}

// Node passes its input through and remembers the last goal it was reset to.
type Node struct {
	name string
	goal cty.Value
}

// New creates a resetter.
func New(_ context.Context, p node.Params) (node.Node, error) {
	return &Node{name: p.Name, goal: cty.NullVal(cty.Number)}, nil
}

func (n *Node) Reset(context.Context, map[string]node.State) error { return nil }

// ResetTo accepts the goal at once. A done goal keeps the previous one.
func (n *Node) ResetTo(ctx context.Context, targets map[string]node.State) error {
	t, ok := targets["goal"]
	if !ok {
		return fmt.Errorf("resetter %q: no goal target", n.name)
	}
	if !t.Done {
		n.goal = t.Value
	}
	ctxlog.FromContext(ctx).Debug("Reset to goal.", "node", n.name, "goal", n.goal.GoString(), "done", t.Done)
	return nil
}

func (n *Node) Step(_ context.Context, _ uint64, in node.Inputs) (node.Outputs, error) {
	v := in.Latest("in")
	if v.IsNull() {
		v = cty.Zero
	}
	return node.Outputs{"out": v}, nil
}

// Goal returns the last goal.
func (n *Node) Goal() cty.Value { return n.goal }

// Declaration lists the endpoints of the resetter kind.
var Declaration = registry.Declaration{
	Inputs:  map[string]string{"in": "number"},
	Outputs: map[string]string{"out": "number"},
	Targets: map[string]string{"goal": "number"},
}

// Register registers the node kind.
func (m *Module) Register(r *registry.Registry) {
	r.RegisterNode(Kind, &registry.RegisteredNode{Declaration: Declaration, New: New})
}
