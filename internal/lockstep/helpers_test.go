package lockstep

import (
	"bytes"
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/vk/lockstepgrid/internal/address"
	"github.com/vk/lockstepgrid/internal/broker"
	"github.com/vk/lockstepgrid/internal/graph"
	"github.com/vk/lockstepgrid/internal/msgtype"
	"github.com/vk/lockstepgrid/internal/node"
	"github.com/vk/lockstepgrid/internal/registry"
	"github.com/vk/lockstepgrid/internal/spec"
	"github.com/vk/lockstepgrid/internal/transport"
	"github.com/vk/lockstepgrid/modules/gain"
	"github.com/vk/lockstepgrid/modules/pointmass"
	"github.com/vk/lockstepgrid/modules/relay"
	"github.com/vk/lockstepgrid/modules/resetter"
	"github.com/zclconf/go-cty/cty"
)

const timeout = 5 * time.Second

var identity = spec.WithSpaceConverter(&msgtype.Ref{ID: msgtype.IdentityID})

func ref(name string, kind address.Kind, cname string) *graph.Ref {
	return &graph.Ref{Name: name, Component: kind, CName: cname}
}

func intp(n int) *int           { return &n }
func floatp(f float64) *float64 { return &f }

func num(v cty.Value) float64 {
	if v.IsNull() {
		return -1
	}
	f, _ := v.AsBigFloat().Float64()
	return f
}

// testModule registers the node kinds the tests need next to the bundled
// ones, and keeps the resetters it creates.
type testModule struct {
	mu        sync.Mutex
	resetters map[string]*resetter.Node
}

func (m *testModule) resetter(name string) *resetter.Node {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.resetters[name]
}

func (m *testModule) Register(r *registry.Registry) {
	numberIO := registry.Declaration{
		Inputs:  map[string]string{"in": "number"},
		Outputs: map[string]string{"out": "number"},
	}
	r.RegisterNode(resetter.Kind, &registry.RegisteredNode{
		Declaration: resetter.Declaration,
		New: func(ctx context.Context, p node.Params) (node.Node, error) {
			n, err := resetter.New(ctx, p)
			if err != nil {
				return nil, err
			}
			m.mu.Lock()
			defer m.mu.Unlock()
			if m.resetters == nil {
				m.resetters = make(map[string]*resetter.Node)
			}
			m.resetters[p.Name] = n.(*resetter.Node)
			return n, nil
		},
	})
	// mute never publishes anything.
	r.RegisterNode("mute", &registry.RegisteredNode{
		Declaration: numberIO,
		New: func(context.Context, node.Params) (node.Node, error) {
			return node.StepFunc(func(context.Context, uint64, node.Inputs) (node.Outputs, error) {
				return node.Outputs{}, nil
			}), nil
		},
	})
	// inc adds one to its input.
	r.RegisterNode("inc", &registry.RegisteredNode{
		Declaration: numberIO,
		New: func(context.Context, node.Params) (node.Node, error) {
			return node.StepFunc(func(_ context.Context, _ uint64, in node.Inputs) (node.Outputs, error) {
				return node.Outputs{"out": in.Latest("in").Add(cty.NumberIntVal(1))}, nil
			}), nil
		},
	})
	// sum adds up the window of its input.
	r.RegisterNode("sum", &registry.RegisteredNode{
		Declaration: numberIO,
		New: func(context.Context, node.Params) (node.Node, error) {
			return node.StepFunc(func(_ context.Context, _ uint64, in node.Inputs) (node.Outputs, error) {
				total := cty.Zero
				for _, v := range in["in"] {
					total = total.Add(v)
				}
				return node.Outputs{"out": total}, nil
			}), nil
		},
	})
}

func newRegistry() (*registry.Registry, *testModule) {
	tm := &testModule{}
	return registry.New(&relay.Module{}, &gain.Module{}, &pointmass.Module{}, tm), tm
}

func numberNode(name, kind string, outOpts ...spec.EndpointOption) *spec.Entity {
	return spec.NewNode(name, kind).
		Input("in", "number", identity).
		Output("out", "number", append([]spec.EndpointOption{identity}, outOpts...)...).
		MustBuild()
}

type env struct {
	*Supervisor
	broker *broker.Broker
}

// start registers g under the "exp" namespace and launches every runtime
// in this process.
func start(t *testing.T, g *graph.Graph, reg *registry.Registry) *env {
	t.Helper()
	ctx := context.Background()
	compiled, err := g.Register(ctx, reg, graph.RegisterOptions{Namespace: "exp"})
	require.NoError(t, err)

	hub := transport.NewHub()
	b := broker.New("test", hub)
	launcher := NewLocal(ctx, LocalOptions{Namespace: compiled.Namespace, Broker: b, Registry: reg})
	sup, err := NewSupervisor(ctx, compiled, Options{Broker: b, Launcher: launcher})
	require.NoError(t, err)
	require.NoError(t, sup.RegisterGraph(ctx))
	t.Cleanup(func() {
		_ = sup.Close()
		_ = hub.Close()
	})
	return &env{Supervisor: sup, broker: b}
}

func (e *env) reset(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	require.NoError(t, e.Reset(ctx))
}

func (e *env) step(t *testing.T, actions map[string]cty.Value) map[string]cty.Value {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if actions != nil {
		require.NoError(t, e.SetActions(actions))
	}
	require.NoError(t, e.Step(ctx))
	return e.Observations()
}

func captureLogger() (*slog.Logger, *safeBuffer) {
	buf := &safeBuffer{}
	return slog.New(slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug})), buf
}

// safeBuffer is written by runtimes while the test reads it.
type safeBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (s *safeBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Write(p)
}

func (s *safeBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.String()
}
