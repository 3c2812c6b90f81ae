package graph

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/lockstepgrid/internal/address"
	"github.com/vk/lockstepgrid/internal/registry"
	"github.com/vk/lockstepgrid/internal/spec"
)

func TestValidate_Chain(t *testing.T) {
	g := chain(t)
	require.NoError(t, g.Validate(context.Background(), nil))
	require.NoError(t, g.Validate(context.Background(), registry.New(testModule{})))
}

func TestValidate_MissingAddress(t *testing.T) {
	g := chain(t)
	require.NoError(t, g.Add(relay("C")))
	require.NoError(t, g.Connect(Connection{Source: ref("C", address.Outputs, "out"), Observation: "c"}))

	err := g.Validate(context.Background(), nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConfig)
	assert.Contains(t, err.Error(), `"in" was selected in inputs of "C", but no address was specified`)

	// Deselecting the input makes the graph valid again, as far as
	// addresses are concerned; C is then stale because nothing drives it.
	require.NoError(t, g.RemoveComponent(Ref{"C", address.Inputs, "in"}))
	var stale *StaleError
	require.ErrorAs(t, g.Validate(context.Background(), nil), &stale)
	assert.False(t, stale.Reset)
	assert.Contains(t, stale.Stale, "C")
}

func TestValidate_UnconnectedAction(t *testing.T) {
	g := chain(t)
	require.NoError(t, g.AddComponent(ActionRef("idle")))
	assert.ErrorContains(t, g.Validate(context.Background(), nil), `action "idle" is not connected`)
}

// loop builds action -> A -> B -> A with B also feeding an observation.
func loop(t *testing.T) *Graph {
	t.Helper()
	a := spec.NewNode("A", "mixer").
		Input("in", "number", spec.WithSpaceConverter(identity)).
		Input("fb", "number").
		Output("out", "number").
		MustBuild()
	g, err := Create([]*spec.Entity{a, relay("B")})
	require.NoError(t, err)
	require.NoError(t, g.Connect(Connection{Action: "act", Target: ref("A", address.Inputs, "in")}))
	require.NoError(t, g.Connect(Connection{Source: ref("A", address.Outputs, "out"), Target: ref("B", address.Inputs, "in")}))
	require.NoError(t, g.Connect(Connection{Source: ref("B", address.Outputs, "out"), Target: ref("A", address.Inputs, "fb")}))
	require.NoError(t, g.Connect(Connection{Source: ref("B", address.Outputs, "out"), Observation: "obs"}))
	return g
}

func TestValidate_Cycle(t *testing.T) {
	g := loop(t)

	err := g.Validate(context.Background(), nil)
	var cycle *CycleError
	require.ErrorAs(t, err, &cycle)
	assert.ErrorIs(t, err, ErrTopology)
	require.Len(t, cycle.Cycles, 1)
	hops := cycle.Cycles[0]
	require.Len(t, hops, 4)
	assert.Equal(t, "A", hops[0].Node)
	assert.Equal(t, hops[0].Node, hops[len(hops)-1].Node)
	assert.Equal(t, "A/outputs/out", hops[0].String())
	assert.Equal(t, "A/inputs/fb", hops[3].String())
	assert.Contains(t, err.Error(), "algebraic loops detected")

	// An initial message on the feedback edge breaks the loop.
	require.NoError(t, g.SetEndpointParameter(Ref{"B", address.Outputs, "out"}, ParamStartWithMsg, true))
	require.NoError(t, g.Validate(context.Background(), nil))
}

func TestValidate_StaleResetGraph(t *testing.T) {
	r := spec.NewNode("R", "resetter").
		Output("out", "number", spec.WithSpaceConverter(identity)).
		Target("goal", "number", spec.Unselected()).
		MustBuild()
	g, err := Create([]*spec.Entity{r})
	require.NoError(t, err)
	require.NoError(t, g.Connect(Connection{Action: "a", Target: ref("R", address.Feedthroughs, "out")}))
	require.NoError(t, g.Connect(Connection{Source: ref("R", address.Outputs, "out"), Observation: "o"}))

	err = g.Validate(context.Background(), nil)
	var stale *StaleError
	require.ErrorAs(t, err, &stale)
	assert.True(t, stale.Reset)
	assert.Equal(t, []string{"R", address.Observations}, stale.Stale)
	assert.Contains(t, err.Error(), "stale reset graph")
}

func TestValidate_ResetGraphWithDrivenNode(t *testing.T) {
	r := spec.NewNode("R", "resetter").
		Input("in", "number", spec.WithSpaceConverter(identity)).
		Output("out", "number", spec.WithSpaceConverter(identity)).
		Target("goal", "number", spec.Unselected()).
		MustBuild()
	g, err := Create([]*spec.Entity{r})
	require.NoError(t, err)
	require.NoError(t, g.Connect(Connection{Action: "a", Target: ref("R", address.Feedthroughs, "out")}))
	require.NoError(t, g.Connect(Connection{Action: "b", Target: ref("R", address.Inputs, "in")}))
	require.NoError(t, g.Connect(Connection{Source: ref("R", address.Outputs, "out"), Observation: "o"}))

	require.NoError(t, g.Validate(context.Background(), nil))
}

func TestValidate_Objects(t *testing.T) {
	g, err := Create([]*spec.Entity{mass("m1", "toy")})
	require.NoError(t, err)
	require.NoError(t, g.Connect(Connection{Action: "push", Target: ref("m1", address.Actuators, "force")}))
	require.NoError(t, g.Connect(Connection{Source: ref("m1", address.Sensors, "pos"), Observation: "pos"}))
	require.NoError(t, g.Validate(context.Background(), registry.New(testModule{})))

	require.NoError(t, g.Add(mass("m2", "fancy")))
	require.NoError(t, g.Connect(Connection{Action: "push", Target: ref("m2", address.Actuators, "force")}))

	err = g.Validate(context.Background(), nil)
	var compat *CompatibilityError
	require.ErrorAs(t, err, &compat)
	assert.ErrorIs(t, err, ErrTopology)
	for _, want := range []string{"m1", "m2", "toy", "fancy", "pointmass"} {
		assert.Contains(t, compat.Table, want)
	}
}

func TestValidate_ActuatorsRemainActive(t *testing.T) {
	g, err := Create([]*spec.Entity{mass("m1", "toy"), relay("X")})
	require.NoError(t, err)
	require.NoError(t, g.RemoveComponent(Ref{"X", address.Inputs, "in"}))
	require.NoError(t, g.Connect(Connection{Source: ref("X", address.Outputs, "out"), Target: ref("m1", address.Actuators, "force")}))
	require.NoError(t, g.Connect(Connection{Source: ref("m1", address.Sensors, "pos"), Observation: "pos"}))

	var stale *StaleError
	require.ErrorAs(t, g.Validate(context.Background(), nil), &stale)
	assert.Equal(t, []string{"X"}, stale.Stale, "the actuator group is not silenced by its stale source")
}

func TestValidate_RegistryParity(t *testing.T) {
	g := chain(t)
	require.NoError(t, g.Add(spec.NewNode("X", "unknown").Input("in", "number").MustBuild()))
	require.NoError(t, g.Connect(Connection{Source: ref("B", address.Outputs, "out"), Target: ref("X", address.Inputs, "in")}))

	err := g.Validate(context.Background(), registry.New(testModule{}))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConfig)
	assert.Contains(t, err.Error(), "registry validation failed")
	assert.Contains(t, err.Error(), "kind 'unknown' is not registered")
}

// Relay chains of any length validate, and closing the chain without an
// initial message is always reported as a loop starting and ending on the
// same node.
func TestValidate_ChainProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 30
	properties := gopter.NewProperties(parameters)

	build := func(n int) *Graph {
		g := New()
		for i := 0; i < n; i++ {
			e := spec.NewNode(fmt.Sprintf("n%02d", i), "mixer").
				Input("in", "number", spec.WithSpaceConverter(identity)).
				Input("fb", "number", spec.Unselected()).
				Output("out", "number", spec.WithSpaceConverter(identity)).
				MustBuild()
			if err := g.Add(e); err != nil {
				panic(err)
			}
		}
		must := func(err error) {
			if err != nil {
				panic(err)
			}
		}
		must(g.Connect(Connection{Action: "act", Target: ref("n00", address.Inputs, "in")}))
		for i := 1; i < n; i++ {
			must(g.Connect(Connection{
				Source: ref(fmt.Sprintf("n%02d", i-1), address.Outputs, "out"),
				Target: ref(fmt.Sprintf("n%02d", i), address.Inputs, "in"),
			}))
		}
		must(g.Connect(Connection{Source: ref(fmt.Sprintf("n%02d", n-1), address.Outputs, "out"), Observation: "obs"}))
		return g
	}

	properties.Property("acyclic chains validate", prop.ForAll(
		func(n int) bool {
			return build(n).Validate(context.Background(), nil) == nil
		},
		gen.IntRange(1, 12),
	))

	properties.Property("closing a chain reports a loop", prop.ForAll(
		func(n, back int) bool {
			g := build(n)
			from := fmt.Sprintf("n%02d", n-1)
			to := fmt.Sprintf("n%02d", back%n)
			if err := g.AddComponent(Ref{to, address.Inputs, "fb"}); err != nil {
				return false
			}
			if err := g.Connect(Connection{Source: ref(from, address.Outputs, "out"), Target: ref(to, address.Inputs, "fb")}); err != nil {
				return false
			}
			var cycle *CycleError
			if !errors.As(g.Validate(context.Background(), nil), &cycle) || len(cycle.Cycles) != 1 {
				return false
			}
			hops := cycle.Cycles[0]
			return hops[0].Node == hops[len(hops)-1].Node && len(hops) == 2*(n-back%n)
		},
		gen.IntRange(1, 12),
		gen.IntRange(0, 11),
	))

	properties.TestingRun(t)
}
