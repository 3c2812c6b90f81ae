package lockstep

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/lockstepgrid/internal/address"
	"github.com/vk/lockstepgrid/internal/broker"
	"github.com/vk/lockstepgrid/internal/ctxlog"
	"github.com/vk/lockstepgrid/internal/graph"
	"github.com/vk/lockstepgrid/internal/metrics"
	"github.com/vk/lockstepgrid/internal/paramstore"
	"github.com/vk/lockstepgrid/internal/spec"
	"github.com/vk/lockstepgrid/internal/transport"
	"github.com/vk/lockstepgrid/modules/gain"
	"github.com/vk/lockstepgrid/modules/pointmass"
	"github.com/vk/lockstepgrid/modules/relay"
	"github.com/vk/lockstepgrid/modules/resetter"
	"github.com/zclconf/go-cty/cty"
)

// chain is act -> A (relay) -> B (gain 2) -> obs.
func chain(t *testing.T) *graph.Graph {
	t.Helper()
	g, err := graph.Create([]*spec.Entity{relay.Spec("A").MustBuild(), gain.Spec("B", 2).MustBuild()})
	require.NoError(t, err)
	require.NoError(t, g.Connect(graph.Connection{Action: "act", Target: ref("A", address.Inputs, "in")}))
	require.NoError(t, g.Connect(graph.Connection{Source: ref("A", address.Outputs, "out"), Target: ref("B", address.Inputs, "in")}))
	require.NoError(t, g.Connect(graph.Connection{Source: ref("B", address.Outputs, "out"), Observation: "obs"}))
	return g
}

func TestSupervisor_Chain(t *testing.T) {
	reg, _ := newRegistry()
	e := start(t, chain(t), reg)
	assert.Equal(t, 2, e.Registered())

	err := e.Step(context.Background())
	assert.ErrorIs(t, err, ErrNotReset)

	require.NoError(t, e.SetActions(map[string]cty.Value{"act": cty.NumberIntVal(3)}))
	e.reset(t)
	assert.Equal(t, uint64(1), e.Episode())
	assert.Equal(t, uint64(0), e.Tick())
	assert.Equal(t, 6.0, num(e.Observations()["obs"]))

	obs := e.step(t, map[string]cty.Value{"act": cty.NumberIntVal(5)})
	assert.Equal(t, 10.0, num(obs["obs"]))
	obs = e.step(t, nil)
	assert.Equal(t, 10.0, num(obs["obs"]), "actions keep their value")
	assert.Equal(t, uint64(2), e.Tick())

	// A second episode starts over at tick 0.
	require.NoError(t, e.SetActions(map[string]cty.Value{"act": cty.NumberIntVal(1)}))
	e.reset(t)
	assert.Equal(t, uint64(2), e.Episode())
	assert.Equal(t, uint64(0), e.Tick())
	assert.Equal(t, 2.0, num(e.Observations()["obs"]))
	obs = e.step(t, nil)
	assert.Equal(t, 2.0, num(obs["obs"]))
}

func TestSupervisor_InputErrors(t *testing.T) {
	reg, _ := newRegistry()
	e := start(t, chain(t), reg)

	assert.ErrorContains(t, e.SetActions(map[string]cty.Value{"nope": cty.Zero}), `no action "nope"`)
	assert.Error(t, e.SetActions(map[string]cty.Value{"act": cty.ListValEmpty(cty.Number)}))
	assert.ErrorContains(t, e.SetState("A", "x", cty.Zero), `no state "A/x"`)

	a, _ := e.compiled.Bundle("A")
	assert.ErrorContains(t, e.RegisterNode(context.Background(), a), "already registered")
	assert.ErrorContains(t, e.RegisterObject(context.Background(), a), "is not an object")
}

func TestSupervisor_StartWithMsgBreaksCycle(t *testing.T) {
	reg, _ := newRegistry()
	g, err := graph.Create([]*spec.Entity{
		numberNode("A", "inc", spec.StartWithMsg()),
		relay.Spec("B").MustBuild(),
	})
	require.NoError(t, err)
	require.NoError(t, g.Connect(graph.Connection{Source: ref("A", address.Outputs, "out"), Target: ref("B", address.Inputs, "in")}))
	require.NoError(t, g.Connect(graph.Connection{Source: ref("B", address.Outputs, "out"), Target: ref("A", address.Inputs, "in")}))
	require.NoError(t, g.Connect(graph.Connection{Source: ref("B", address.Outputs, "out"), Observation: "count"}))

	e := start(t, g, reg)
	e.reset(t)
	assert.Equal(t, 0.0, num(e.Observations()["count"]))
	for k := 1; k <= 4; k++ {
		obs := e.step(t, nil)
		assert.Equal(t, float64(k), num(obs["count"]), "tick %d", k)
	}
}

func TestSupervisor_WindowAndDelay(t *testing.T) {
	testCases := []struct {
		name   string
		window int
		delay  float64
		want   []float64
	}{
		{name: "window", window: 3, want: []float64{1, 3, 6, 9, 12}},
		{name: "delay", window: 1, delay: 2, want: []float64{0, 0, 1, 2, 3}},
		{name: "both", window: 2, delay: 1, want: []float64{0, 1, 3, 5, 7}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			reg, _ := newRegistry()
			g, err := graph.Create([]*spec.Entity{numberNode("S", "sum")})
			require.NoError(t, err)
			require.NoError(t, g.Connect(graph.Connection{
				Action: "act", Target: ref("S", address.Inputs, "in"),
				Window: intp(tc.window), Delay: floatp(tc.delay),
			}))
			require.NoError(t, g.Connect(graph.Connection{Source: ref("S", address.Outputs, "out"), Observation: "total"}))

			e := start(t, g, reg)
			require.NoError(t, e.SetActions(map[string]cty.Value{"act": cty.NumberIntVal(1)}))
			e.reset(t)
			got := []float64{num(e.Observations()["total"])}
			for k := 2; k <= len(tc.want); k++ {
				obs := e.step(t, map[string]cty.Value{"act": cty.NumberIntVal(int64(k))})
				got = append(got, num(obs["total"]))
			}
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestSupervisor_PointMass(t *testing.T) {
	reg, _ := newRegistry()
	g, err := graph.Create([]*spec.Entity{pointmass.Spec("m1").MustBuild()})
	require.NoError(t, err)
	require.NoError(t, g.Connect(graph.Connection{Action: "force", Target: ref("m1", address.Actuators, "force")}))
	require.NoError(t, g.Connect(graph.Connection{Source: ref("m1", address.Sensors, "pos"), Observation: "pos"}))

	e := start(t, g, reg)
	require.NoError(t, e.SetState("m1", "pos", cty.NumberIntVal(2)))
	require.NoError(t, e.SetActions(map[string]cty.Value{"force": cty.NumberIntVal(1)}))
	e.reset(t)
	assert.Equal(t, 2.0, num(e.Observations()["pos"]), "the state is applied before the first sensor reading")

	// Unit mass, one second per tick.
	assert.Equal(t, 3.0, num(e.step(t, nil)["pos"]))
	assert.Equal(t, 5.0, num(e.step(t, nil)["pos"]))

	// Without a new desired state the position is kept, at rest.
	e.reset(t)
	assert.Equal(t, 5.0, num(e.Observations()["pos"]))
	assert.Equal(t, 6.0, num(e.step(t, nil)["pos"]))

	err = e.RegisterObject(context.Background(), &graph.Bundle{Name: "m2", Kind: spec.ObjectKind})
	assert.ErrorContains(t, err, "after the bridge was launched")
}

func TestSupervisor_ResetterFeedthrough(t *testing.T) {
	reg, tm := newRegistry()
	g, err := graph.Create([]*spec.Entity{
		resetter.Spec("R").MustBuild(),
		pointmass.Spec("m1").MustBuild(),
	})
	require.NoError(t, err)
	for _, c := range []graph.Connection{
		{Action: "a", Target: ref("R", address.Feedthroughs, "out")},
		{Action: "b", Target: ref("R", address.Inputs, "in")},
		{Source: ref("m1", address.States, "pos"), Target: ref("R", address.Targets, "goal")},
		{Source: ref("R", address.Outputs, "out"), Target: ref("m1", address.Actuators, "force")},
		{Source: ref("R", address.Outputs, "out"), Observation: "out"},
		{Source: ref("m1", address.Sensors, "pos"), Observation: "pos"},
	} {
		require.NoError(t, g.Connect(c), "%+v", c)
	}

	e := start(t, g, reg)
	require.NoError(t, e.SetState("m1", "pos", cty.NumberIntVal(4)))
	require.NoError(t, e.SetActions(map[string]cty.Value{"a": cty.NumberIntVal(7), "b": cty.NumberIntVal(1)}))
	e.reset(t)

	obs := e.Observations()
	assert.Equal(t, 7.0, num(obs["out"]), "the reset tick publishes the fed-through action")
	assert.Equal(t, 4.0, num(obs["pos"]))
	require.NotNil(t, tm.resetter("R"))
	assert.Equal(t, 4.0, num(tm.resetter("R").Goal()), "the target carries the desired state")

	obs = e.step(t, nil)
	assert.Equal(t, 1.0, num(obs["out"]), "after reset the output is computed")
	assert.Equal(t, 11.0, num(obs["pos"]), "the actuator applied the reset-tick force")

	// A reset without desired state marks the target done.
	e.reset(t)
	assert.Equal(t, 4.0, num(tm.resetter("R").Goal()))
}

func TestSupervisor_ProtocolViolation(t *testing.T) {
	reg, _ := newRegistry()
	g, err := graph.Create([]*spec.Entity{numberNode("M", "mute")})
	require.NoError(t, err)
	require.NoError(t, g.Connect(graph.Connection{Action: "act", Target: ref("M", address.Inputs, "in")}))
	require.NoError(t, g.Connect(graph.Connection{Source: ref("M", address.Outputs, "out"), Observation: "obs"}))

	e := start(t, g, reg)
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	err = e.Reset(ctx)
	require.ErrorIs(t, err, ErrProtocolViolation)
	assert.ErrorContains(t, err, `"M" published no value for ["out"] at tick 0`)
	assert.ErrorIs(t, e.Err(), ErrProtocolViolation)

	err = e.Reset(ctx)
	assert.ErrorIs(t, err, ErrProtocolViolation, "a failed supervisor stays failed")
}

func TestSupervisor_Render(t *testing.T) {
	reg, _ := newRegistry()
	g := chain(t)
	require.NoError(t, g.Render(graph.Ref{Name: "A", Component: address.Outputs, CName: "out"}, 1, nil))

	e := start(t, g, reg)
	_, ok := e.LastImage()
	assert.False(t, ok)

	require.NoError(t, e.SetActions(map[string]cty.Value{"act": cty.NumberIntVal(3)}))
	e.reset(t)
	require.Eventually(t, func() bool {
		img, ok := e.LastImage()
		return ok && num(img) == 3
	}, timeout, time.Millisecond)
}

func TestSupervisor_DiagnosticsAndStore(t *testing.T) {
	logger, logs := captureLogger()
	ctx := ctxlog.WithLogger(context.Background(), logger)
	reg, _ := newRegistry()
	compiled, err := chain(t).Register(ctx, reg, graph.RegisterOptions{Namespace: "exp"})
	require.NoError(t, err)

	hub := transport.NewHub()
	defer hub.Close()
	store := paramstore.NewMemory()
	m := metrics.NewRegistry()

	// No launcher: the runtimes are expected elsewhere and never show up.
	sup, err := NewSupervisor(ctx, compiled, Options{Broker: broker.New("test", hub), Store: store, Metrics: m})
	require.NoError(t, err)
	sup.WithDiagnostics(5 * time.Millisecond)
	require.NoError(t, sup.RegisterGraph(ctx))
	defer sup.Close()

	var bundle graph.Bundle
	require.NoError(t, paramstore.Decode(ctx, store, paramstore.Key("exp", "B"), &bundle))
	assert.Equal(t, "gain", bundle.Type)
	assert.Equal(t, "exp/A/outputs/out", bundle.Ports[address.Inputs][0].Address)

	waitCtx, cancel := context.WithTimeout(ctx, 60*time.Millisecond)
	defer cancel()
	err = sup.Reset(waitCtx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.ErrorContains(t, err, "initialization")
	assert.Contains(t, logs.String(), "Still waiting")
	assert.Contains(t, logs.String(), "uninitialized=\"[A B]\"")
	assert.Zero(t, testutil.ToFloat64(m.ResetsTotal))
}

func TestLocal_BundlesFromStore(t *testing.T) {
	ctx := context.Background()
	reg, _ := newRegistry()
	compiled, err := chain(t).Register(ctx, reg, graph.RegisterOptions{Namespace: "exp"})
	require.NoError(t, err)

	hub := transport.NewHub()
	defer hub.Close()
	b := broker.New("test", hub)
	store := paramstore.NewMemory()
	launcher := NewLocal(ctx, LocalOptions{
		Namespace: "exp", Broker: b, Registry: reg,
		Store: store, StoreTimeout: 50 * time.Millisecond,
	})
	sup, err := NewSupervisor(ctx, compiled, Options{Broker: b, Launcher: launcher, Store: store})
	require.NoError(t, err)
	defer sup.Close()
	require.NoError(t, sup.RegisterGraph(ctx))

	e := &env{Supervisor: sup, broker: b}
	require.NoError(t, e.SetActions(map[string]cty.Value{"act": cty.NumberIntVal(2)}))
	e.reset(t)
	assert.Equal(t, 4.0, num(e.Observations()["obs"]))

	// A bundle that was never uploaded does not show up.
	err = launcher.LaunchNode(ctx, &graph.Bundle{Name: "ghost", Type: relay.Kind}, sup.Fail)
	assert.ErrorIs(t, err, paramstore.ErrBootstrap)
}
