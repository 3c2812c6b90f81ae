// Package pointmass provides the "toy" bridge: a one-dimensional world of
// point masses pushed by a force actuator, observed through a position
// sensor and reset through a position state.
package pointmass

import (
	"context"
	"fmt"

	"github.com/vk/lockstepgrid/internal/msgtype"
	"github.com/vk/lockstepgrid/internal/node"
	"github.com/vk/lockstepgrid/internal/registry"
	"github.com/vk/lockstepgrid/internal/spec"
	"github.com/zclconf/go-cty/cty"
)

// Names registered by this module.
const (
	Bridge         = "toy"
	ObjectType     = "pointmass"
	SensorKind     = "pos_sensor"
	ActuatorKind   = "force_actuator"
	StateKind      = "pos_state"
	VelocitySensor = "vel_sensor"
)

// Module implements the registry.Module interface for this package.
type Module struct{}

// Spec declares a point mass implemented by the toy bridge.
func Spec(name string) *spec.Builder {
	identity := spec.WithSpaceConverter(&msgtype.Ref{ID: msgtype.IdentityID})
	return spec.NewObject(name, ObjectType).
		Config("mass", 1.0).
		Sensor("pos", "number", identity).
		Sensor("vel", "number", identity, spec.Unselected()).
		Actuator("force", "number", identity).
		State("pos", "number").
		Bridge(Bridge, spec.Implementation{
			Sensors:   map[string]string{"pos": SensorKind, "vel": VelocitySensor},
			Actuators: map[string]string{"force": ActuatorKind},
			States:    map[string]string{"pos": StateKind},
		})
}

type component struct {
	world  *World
	object string
}

func newComponent(p node.Params) (*component, error) {
	w, ok := p.Simulator.(*World)
	if !ok {
		return nil, fmt.Errorf("%s: bridge %q is required, got %T", p.Name, Bridge, p.Simulator)
	}
	mass, err := p.Float("mass", 1)
	if err != nil {
		return nil, err
	}
	if mass <= 0 {
		return nil, fmt.Errorf("%s: mass must be positive, got %v", p.Name, mass)
	}
	c := &component{world: w, object: objectOf(p.Name)}
	w.body(c.object, mass)
	return c, nil
}

func (c *component) Reset(context.Context, map[string]node.State) error { return nil }

type sensor struct {
	*component
	read func(Body) float64
	out  string
}

func (s *sensor) Step(context.Context, uint64, node.Inputs) (node.Outputs, error) {
	b, _ := s.world.Get(s.object)
	return node.Outputs{s.out: cty.NumberFloatVal(s.read(b))}, nil
}

type actuator struct{ *component }

func (a *actuator) Step(_ context.Context, _ uint64, in node.Inputs) (node.Outputs, error) {
	v := in.Latest("force")
	if v.IsNull() {
		return nil, nil
	}
	f, _ := v.AsBigFloat().Float64()
	a.world.update(a.object, func(b *Body) { b.Force = f })
	return nil, nil
}

type state struct{ *component }

// Reset places the body at rest, at the requested position if one was set.
func (s *state) Reset(_ context.Context, states map[string]node.State) error {
	st, ok := states["pos"]
	s.world.update(s.object, func(b *Body) {
		b.Velocity, b.Force = 0, 0
		if ok && !st.Done && !st.Value.IsNull() {
			b.Position, _ = st.Value.AsBigFloat().Float64()
		}
	})
	return nil
}

func (s *state) Step(context.Context, uint64, node.Inputs) (node.Outputs, error) { return nil, nil }

// Register registers the bridge and its node kinds.
func (m *Module) Register(r *registry.Registry) {
	r.RegisterBridge(Bridge, func(_ context.Context, rate float64) (node.Simulator, error) {
		return NewWorld(rate)
	})
	sensorKind := func(out string, read func(Body) float64) *registry.RegisteredNode {
		return &registry.RegisteredNode{
			Declaration: registry.Declaration{Outputs: map[string]string{out: "number"}},
			New: func(_ context.Context, p node.Params) (node.Node, error) {
				c, err := newComponent(p)
				if err != nil {
					return nil, err
				}
				return &sensor{component: c, read: read, out: out}, nil
			},
		}
	}
	r.RegisterNode(SensorKind, sensorKind("pos", func(b Body) float64 { return b.Position }))
	r.RegisterNode(VelocitySensor, sensorKind("vel", func(b Body) float64 { return b.Velocity }))
	r.RegisterNode(ActuatorKind, &registry.RegisteredNode{
		Declaration: registry.Declaration{Inputs: map[string]string{"force": "number"}},
		New: func(_ context.Context, p node.Params) (node.Node, error) {
			c, err := newComponent(p)
			if err != nil {
				return nil, err
			}
			return &actuator{c}, nil
		},
	})
	r.RegisterNode(StateKind, &registry.RegisteredNode{
		Declaration: registry.Declaration{States: map[string]string{"pos": "number"}},
		New: func(_ context.Context, p node.Params) (node.Node, error) {
			c, err := newComponent(p)
			if err != nil {
				return nil, err
			}
			return &state{c}, nil
		},
	})
}
