package graph

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vk/lockstepgrid/internal/address"
	"github.com/vk/lockstepgrid/internal/msgtype"
	"github.com/vk/lockstepgrid/internal/node"
	"github.com/vk/lockstepgrid/internal/registry"
	"github.com/vk/lockstepgrid/internal/spec"
)

var identity = &msgtype.Ref{ID: msgtype.IdentityID}

func ref(name string, kind address.Kind, cname string) *Ref {
	return &Ref{Name: name, Component: kind, CName: cname}
}

func intp(n int) *int { return &n }

// relay declares a number relay whose endpoints can face the environment.
func relay(name string) *spec.Entity {
	return spec.NewNode(name, "relay").
		Input("in", "number", spec.WithSpaceConverter(identity)).
		Output("out", "number", spec.WithSpaceConverter(identity)).
		MustBuild()
}

// chain builds the canonical action -> A -> B -> observation graph.
func chain(t *testing.T, opts ...Option) *Graph {
	t.Helper()
	g, err := Create([]*spec.Entity{relay("A"), relay("B")}, opts...)
	require.NoError(t, err)
	require.NoError(t, g.Connect(Connection{Action: "act", Target: ref("A", address.Inputs, "in")}))
	require.NoError(t, g.Connect(Connection{Source: ref("A", address.Outputs, "out"), Target: ref("B", address.Inputs, "in")}))
	require.NoError(t, g.Connect(Connection{Source: ref("B", address.Outputs, "out"), Observation: "obs"}))
	return g
}

func captureLogger() (*slog.Logger, *bytes.Buffer) {
	var buf bytes.Buffer
	return slog.New(slog.NewTextHandler(&buf, nil)), &buf
}

type testModule struct{}

func (testModule) Register(r *registry.Registry) {
	newNil := func(context.Context, node.Params) (node.Node, error) { return nil, nil }
	r.RegisterNode("relay", &registry.RegisteredNode{
		Declaration: registry.Declaration{
			Inputs:  map[string]string{"in": "number"},
			Outputs: map[string]string{"out": "number"},
		},
		New: newNil,
	})
	r.RegisterNode("pos_sensor", &registry.RegisteredNode{
		Declaration: registry.Declaration{Outputs: map[string]string{"pos": "number"}},
		New:         newNil,
	})
	r.RegisterNode("force_actuator", &registry.RegisteredNode{
		Declaration: registry.Declaration{Inputs: map[string]string{"force": "number"}},
		New:         newNil,
	})
	r.RegisterBridge("toy", func(context.Context, float64) (node.Simulator, error) { return nil, nil })
}

// mass declares an object implemented by the given bridges.
func mass(name string, bridges ...string) *spec.Entity {
	b := spec.NewObject(name, "pointmass").
		Sensor("pos", "number", spec.WithSpaceConverter(identity)).
		Actuator("force", "number", spec.WithSpaceConverter(identity))
	for _, br := range bridges {
		b = b.Bridge(br, spec.Implementation{
			Sensors:   map[string]string{"pos": "pos_sensor"},
			Actuators: map[string]string{"force": "force_actuator"},
		})
	}
	return b.MustBuild()
}
