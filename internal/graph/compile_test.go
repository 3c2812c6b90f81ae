package graph

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/lockstepgrid/internal/address"
	"github.com/vk/lockstepgrid/internal/registry"
	"github.com/vk/lockstepgrid/internal/spec"
)

func TestRegister_Addresses(t *testing.T) {
	g := chain(t)

	compiled, err := g.Register(context.Background(), registry.New(testModule{}), RegisterOptions{Namespace: "exp"})
	require.NoError(t, err)
	assert.Equal(t, "exp", compiled.Namespace)
	assert.Empty(t, compiled.Bridge)
	require.Len(t, compiled.Bundles, 4)
	require.Len(t, compiled.Nodes(), 2)
	assert.Empty(t, compiled.Objects())

	a, ok := compiled.Bundle("A")
	require.True(t, ok)
	in, ok := a.Port(address.Inputs, "in")
	require.True(t, ok)
	assert.Equal(t, "exp/env/actions/outputs/act", in.Address)
	assert.Equal(t, 1, in.Window)
	out, ok := a.Port(address.Outputs, "out")
	require.True(t, ok)
	assert.Equal(t, "exp/A/outputs/out", out.Address)

	b, _ := compiled.Bundle("B")
	in, _ = b.Port(address.Inputs, "in")
	assert.Equal(t, "exp/A/outputs/out", in.Address)

	obs, _ := compiled.Bundle(address.Observations)
	port, ok := obs.Port(address.Inputs, "obs")
	require.True(t, ok)
	assert.Equal(t, "exp/B/outputs/out", port.Address)
	assert.Equal(t, "number", port.MsgType)

	acts, _ := compiled.Bundle(address.Actions)
	port, ok = acts.Port(address.Outputs, "act")
	require.True(t, ok)
	assert.Equal(t, "exp/env/actions/outputs/act", port.Address)
}

func TestRegister_EveryInputResolved(t *testing.T) {
	r := spec.NewNode("R", "resetter").
		Input("in", "number", spec.WithSpaceConverter(identity)).
		Output("out", "number", spec.WithSpaceConverter(identity)).
		Target("goal", "number").
		MustBuild()
	m := mass("m1", "toy")
	m.SetEndpoint(address.States, "pos", &spec.Endpoint{MsgType: "number"})
	m.Select(address.States, "pos")
	m.Bridges["toy"].States = map[string]string{"pos": "pos_sensor"}

	g, err := Create([]*spec.Entity{r, m})
	require.NoError(t, err)
	require.NoError(t, g.Connect(Connection{Action: "a", Target: ref("R", address.Feedthroughs, "out")}))
	require.NoError(t, g.Connect(Connection{Action: "b", Target: ref("R", address.Inputs, "in")}))
	require.NoError(t, g.Connect(Connection{Source: ref("m1", address.States, "pos"), Target: ref("R", address.Targets, "goal")}))
	require.NoError(t, g.Connect(Connection{Source: ref("R", address.Outputs, "out"), Target: ref("m1", address.Actuators, "force")}))
	require.NoError(t, g.Connect(Connection{Source: ref("m1", address.Sensors, "pos"), Observation: "pos"}))

	compiled, err := g.Register(context.Background(), nil, RegisterOptions{Namespace: "ns"})
	require.NoError(t, err)
	assert.Equal(t, "toy", compiled.Bridge)

	for _, bundle := range compiled.Bundles {
		for _, kind := range []address.Kind{address.Inputs, address.Targets, address.Feedthroughs, address.Actuators} {
			for _, p := range bundle.Ports[kind] {
				_, err := address.Parse(p.Address)
				assert.NoError(t, err, "%s %s/%s", bundle.Name, kind, p.CName)
			}
		}
	}

	rb, _ := compiled.Bundle("R")
	goal, ok := rb.Port(address.Targets, "goal")
	require.True(t, ok)
	assert.Equal(t, "ns/m1/states/pos", goal.Address)
	ft, ok := rb.Port(address.Feedthroughs, "out")
	require.True(t, ok)
	assert.Equal(t, "ns/env/actions/outputs/a", ft.Address)

	mb, _ := compiled.Bundle("m1")
	require.NotNil(t, mb.Implementation)
	assert.Equal(t, "pos_sensor", mb.Implementation.Sensors["pos"])
	force, _ := mb.Port(address.Actuators, "force")
	assert.Equal(t, "ns/R/outputs/out", force.Address)
}

func TestRegister_Failures(t *testing.T) {
	g := chain(t)

	_, err := g.Register(context.Background(), nil, RegisterOptions{})
	assert.ErrorIs(t, err, ErrConfig)

	require.NoError(t, g.Add(relay("C")))
	compiled, err := g.Register(context.Background(), nil, RegisterOptions{Namespace: "exp"})
	assert.Nil(t, compiled)
	assert.ErrorContains(t, err, "graph registration aborted")

	g2, err := Create([]*spec.Entity{mass("m1", "toy", "fancy")})
	require.NoError(t, err)
	require.NoError(t, g2.Connect(Connection{Action: "push", Target: ref("m1", address.Actuators, "force")}))
	require.NoError(t, g2.Connect(Connection{Source: ref("m1", address.Sensors, "pos"), Observation: "pos"}))

	compiled, err = g2.Register(context.Background(), nil, RegisterOptions{Namespace: "exp"})
	require.NoError(t, err)
	assert.Equal(t, "fancy", compiled.Bridge, "first compatible bridge in name order")

	// Only toy is registered, so the registry narrows the choice.
	compiled, err = g2.Register(context.Background(), registry.New(testModule{}), RegisterOptions{Namespace: "exp"})
	require.NoError(t, err)
	assert.Equal(t, "toy", compiled.Bridge)

	_, err = g2.Register(context.Background(), nil, RegisterOptions{Namespace: "exp", Bridge: "other"})
	assert.ErrorContains(t, err, `bridge "other" cannot run every object`)
}
