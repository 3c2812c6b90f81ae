package pointmass

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/lockstepgrid/internal/node"
	"github.com/vk/lockstepgrid/internal/registry"
	"github.com/zclconf/go-cty/cty"
)

func TestWorld_Step(t *testing.T) {
	w, err := NewWorld(2)
	require.NoError(t, err)
	w.body("m1", 2)
	w.update("m1", func(b *Body) { b.Force = 4 })

	require.NoError(t, w.Step(context.Background(), 1))
	b, ok := w.Get("m1")
	require.True(t, ok)
	assert.Equal(t, 1.0, b.Velocity)
	assert.Equal(t, 0.5, b.Position)

	_, ok = w.Get("m2")
	assert.False(t, ok)

	_, err = NewWorld(0)
	assert.ErrorContains(t, err, "rate must be positive")
}

func TestObjectOf(t *testing.T) {
	testCases := map[string]string{
		"m1/sensors/pos":     "m1",
		"arm/m1/actuators/f": "arm/m1",
		"m1":                 "m1",
		"m1/unknown/pos":     "m1/unknown/pos",
	}
	for in, want := range testCases {
		assert.Equal(t, want, objectOf(in), in)
	}
}

func TestComponents(t *testing.T) {
	ctx := context.Background()
	r := registry.New(&Module{})
	factory, ok := r.Bridge(Bridge)
	require.True(t, ok)
	sim, err := factory(ctx, 1)
	require.NoError(t, err)

	build := func(kind, name string) node.Node {
		t.Helper()
		rn, ok := r.Node(kind)
		require.True(t, ok, kind)
		n, err := rn.New(ctx, node.Params{Name: name, Kind: kind, Rate: 1, Config: map[string]any{"mass": 1.0}, Simulator: sim})
		require.NoError(t, err)
		return n
	}
	st := build(StateKind, "m1/states/pos")
	act := build(ActuatorKind, "m1/actuators/force")
	pos := build(SensorKind, "m1/sensors/pos")
	vel := build(VelocitySensor, "m1/sensors/vel")

	require.NoError(t, st.Reset(ctx, map[string]node.State{"pos": {Value: cty.NumberIntVal(3)}}))
	_, err = act.Step(ctx, 1, node.Inputs{"force": {cty.NumberIntVal(2)}})
	require.NoError(t, err)
	require.NoError(t, sim.Step(ctx, 1))

	out, err := pos.Step(ctx, 1, nil)
	require.NoError(t, err)
	assert.True(t, out["pos"].Equals(cty.NumberIntVal(5)).True())
	out, err = vel.Step(ctx, 1, nil)
	require.NoError(t, err)
	assert.True(t, out["vel"].Equals(cty.NumberIntVal(2)).True())

	// A done state keeps the position and stops the body.
	require.NoError(t, st.Reset(ctx, map[string]node.State{"pos": {Value: cty.NullVal(cty.Number), Done: true}}))
	b, _ := sim.(*World).Get("m1")
	assert.Equal(t, Body{Mass: 1, Position: 5}, b)

	t.Run("wrong simulator", func(t *testing.T) {
		rn, _ := r.Node(SensorKind)
		_, err := rn.New(ctx, node.Params{Name: "m1/sensors/pos", Kind: SensorKind, Rate: 1})
		assert.ErrorContains(t, err, `bridge "toy" is required`)
	})
	t.Run("bad mass", func(t *testing.T) {
		rn, _ := r.Node(SensorKind)
		_, err := rn.New(ctx, node.Params{Name: "m1/sensors/pos", Kind: SensorKind, Rate: 1, Config: map[string]any{"mass": -1.0}, Simulator: sim})
		assert.ErrorContains(t, err, "mass must be positive")
	})
}
