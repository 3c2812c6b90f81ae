package lockstep

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/vk/lockstepgrid/internal/broker"
	"github.com/vk/lockstepgrid/internal/ctxlog"
	"github.com/vk/lockstepgrid/internal/graph"
	"github.com/vk/lockstepgrid/internal/msgtype"
	"github.com/vk/lockstepgrid/internal/node"
	"github.com/vk/lockstepgrid/internal/paramstore"
	"github.com/vk/lockstepgrid/internal/registry"
	"golang.org/x/sync/errgroup"
)

// Launcher starts the runtimes of registered units.
type Launcher interface {
	LaunchNode(ctx context.Context, b *graph.Bundle, fail func(error)) error
	LaunchBridge(ctx context.Context, bridge string, objects []*graph.Bundle, fail func(error)) error
	Close() error
}

// LocalOptions configures a Local launcher.
type LocalOptions struct {
	Namespace  string
	Broker     *broker.Broker
	Registry   *registry.Registry
	Converters *msgtype.Registry
	// Store, when set, is where node runtimes read their bundle from
	// instead of using the one passed to LaunchNode.
	Store        paramstore.Store
	StoreTimeout time.Duration
}

type stopper interface{ Stop() }

// Local runs every runtime as a goroutine of this process, sharing one
// broker with the supervisor.
type Local struct {
	opts   LocalOptions
	ctx    context.Context
	cancel context.CancelFunc
	group  *errgroup.Group

	mu       sync.Mutex
	runtimes []stopper
}

// NewLocal creates a launcher whose runtimes live until Close or until ctx
// is done.
func NewLocal(ctx context.Context, opts LocalOptions) *Local {
	ctx, cancel := context.WithCancel(ctx)
	group, gctx := errgroup.WithContext(ctx)
	return &Local{opts: opts, ctx: gctx, cancel: cancel, group: group}
}

func (l *Local) runtimeOptions(fail func(error)) RuntimeOptions {
	return RuntimeOptions{Broker: l.opts.Broker, Converters: l.opts.Converters, Fail: fail}
}

// LaunchNode builds the node of b and starts its runtime.
func (l *Local) LaunchNode(ctx context.Context, b *graph.Bundle, fail func(error)) error {
	if l.opts.Store != nil {
		raw, err := paramstore.GetWithBlocking(ctx, l.opts.Store, paramstore.Key(l.opts.Namespace, b.Name),
			paramstore.BlockingOptions{Timeout: l.opts.StoreTimeout})
		if err != nil {
			return err
		}
		fetched := new(graph.Bundle)
		if err := json.Unmarshal(raw, fetched); err != nil {
			return fmt.Errorf("failed to decode the bundle of %q: %w", b.Name, err)
		}
		b = fetched
	}

	rt, err := StartNode(ctx, l.opts.Namespace, b, l.opts.Registry, l.runtimeOptions(fail))
	if err != nil {
		return err
	}
	l.start(ctx, rt, rt.Run)
	return nil
}

// LaunchBridge starts the bridge runtime of objects.
func (l *Local) LaunchBridge(ctx context.Context, bridge string, objects []*graph.Bundle, fail func(error)) error {
	br, err := NewBridge(ctx, l.opts.Namespace, bridge, objects, l.opts.Registry, l.runtimeOptions(fail))
	if err != nil {
		return err
	}
	l.start(ctx, br, br.Run)
	return nil
}

// start runs s on the launcher context, keeping the logger of the launch.
func (l *Local) start(ctx context.Context, s stopper, run func(context.Context) error) {
	l.mu.Lock()
	l.runtimes = append(l.runtimes, s)
	l.mu.Unlock()
	runCtx := ctxlog.WithLogger(l.ctx, ctxlog.FromContext(ctx))
	l.group.Go(func() error { return run(runCtx) })
}

// Close stops every runtime and returns the first error one of them
// failed with.
func (l *Local) Close() error {
	l.mu.Lock()
	for _, s := range l.runtimes {
		s.Stop()
	}
	l.mu.Unlock()
	l.cancel()
	return l.group.Wait()
}

// StartNode creates the node of b from the registry and wires its runtime.
func StartNode(ctx context.Context, ns string, b *graph.Bundle, reg *registry.Registry, opts RuntimeOptions) (*Runtime, error) {
	rn, ok := reg.Node(b.Type)
	if !ok {
		return nil, fmt.Errorf("node kind %q of %q is not registered", b.Type, b.Name)
	}
	n, err := rn.New(ctx, node.Params{Name: b.Name, Kind: b.Type, Rate: b.Rate, Config: b.Config})
	if err != nil {
		return nil, fmt.Errorf("failed to create node %q: %w", b.Name, err)
	}
	return NewRuntime(ctx, ns, b, n, opts)
}
