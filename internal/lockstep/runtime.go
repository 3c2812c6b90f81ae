package lockstep

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/vk/lockstepgrid/internal/address"
	"github.com/vk/lockstepgrid/internal/broker"
	"github.com/vk/lockstepgrid/internal/ctxlog"
	"github.com/vk/lockstepgrid/internal/graph"
	"github.com/vk/lockstepgrid/internal/msgtype"
	"github.com/vk/lockstepgrid/internal/node"
	"github.com/zclconf/go-cty/cty"
)

// RuntimeOptions configures a node or bridge runtime.
type RuntimeOptions struct {
	Broker *broker.Broker
	// Converters resolves the converters of the ports. Defaults to
	// msgtype.Default.
	Converters *msgtype.Registry
	// Fail is told about the error that stopped the runtime.
	Fail func(error)
}

func (o RuntimeOptions) converters() *msgtype.Registry {
	if o.Converters != nil {
		return o.Converters
	}
	return msgtype.Default
}

// Runtime executes one node on the lock-step clock.
type Runtime struct {
	ns     string
	name   string
	node   node.Node
	broker *broker.Broker
	fail   func(error)
	logger *slog.Logger
	in     *inbox

	inputs  []*stream
	feeds   map[string]*stream
	outputs []*port
	states  []*port
	targets []*port
}

// NewRuntime resolves the ports of b, registers them with the broker and
// wires them. The node does not run until Run is called.
func NewRuntime(ctx context.Context, ns string, b *graph.Bundle, n node.Node, opts RuntimeOptions) (*Runtime, error) {
	if opts.Broker == nil {
		return nil, fmt.Errorf("runtime %q: a broker is required", b.Name)
	}
	r := &Runtime{
		ns:     ns,
		name:   b.Name,
		node:   n,
		broker: opts.Broker,
		fail:   opts.Fail,
		logger: ctxlog.FromContext(ctx).With("component", "runtime", "node", b.Name),
		in:     newInbox(),
		feeds:  make(map[string]*stream),
	}

	conv := opts.converters()
	ports := make(map[address.Kind][]*port)
	for _, kind := range []address.Kind{address.Inputs, address.Outputs, address.States, address.Targets, address.Feedthroughs} {
		ps, err := resolvePorts(conv, b, kind)
		if err != nil {
			return nil, err
		}
		ports[kind] = ps
	}
	r.outputs, r.states, r.targets = ports[address.Outputs], ports[address.States], ports[address.Targets]

	var inputs, feeds, resets []binding
	for _, p := range ports[address.Inputs] {
		s := newStream(p, "in/"+p.CName)
		r.inputs = append(r.inputs, s)
		inputs = append(inputs, p.bind(s.key))
	}
	for _, p := range ports[address.Feedthroughs] {
		s := newStream(p, "ft/"+p.CName)
		r.feeds[p.CName] = s
		bnd := p.bind(s.key)
		bnd.first = true
		feeds = append(feeds, bnd)
	}
	var targets []binding
	for _, p := range r.targets {
		targets = append(targets, p.bindReset("target")...)
	}
	for _, p := range r.states {
		resets = append(resets, p.bindReset("state")...)
	}
	if len(r.targets) > 0 {
		if _, ok := n.(node.TargetResetter); !ok {
			return nil, fmt.Errorf("runtime %q: node declares targets but cannot reset to them", b.Name)
		}
	}

	io := broker.IO{
		Outputs: []broker.Output{
			{Role: broker.RoleNodeOutputs, Address: InitializedAddress(ns, b.Name), Type: cty.Bool},
			{Role: broker.RoleNodeOutputs, Address: AckAddress(ns, b.Name), Type: cty.Bool},
		},
		Inputs: []broker.Input{
			{Role: broker.RoleNodeInputs, Address: ResetAddress(ns), Type: cty.Number, Deliver: r.in.requestReset},
			{Role: broker.RoleNodeInputs, Address: TickAddress(ns), Type: cty.Number, Deliver: r.in.deliver("tick")},
		},
	}
	for _, p := range r.outputs {
		io.Outputs = append(io.Outputs, broker.Output{Role: broker.RoleOutputs, Address: p.Address, Type: p.wireType, Converter: p.conv})
	}
	io.Inputs = append(io.Inputs, fanIn(broker.RoleInputs, inputs, r.in.put, r.in.fail)...)
	io.Inputs = append(io.Inputs, fanIn(broker.RoleFeedthroughs, feeds, r.in.put, r.in.fail)...)
	io.Inputs = append(io.Inputs, fanIn(broker.RoleTargets, targets, r.in.put, r.in.fail)...)
	io.Inputs = append(io.Inputs, fanIn(broker.RoleStateInputs, resets, r.in.put, r.in.fail)...)

	if err := r.broker.Register(b.Name, io); err != nil {
		return nil, fmt.Errorf("runtime %q: %w", b.Name, err)
	}
	if _, err := r.broker.Connect(ctx); err != nil {
		return nil, fmt.Errorf("runtime %q: %w", b.Name, err)
	}
	r.logger.Debug("Runtime wired.", "inputs", len(r.inputs), "outputs", len(r.outputs), "feedthroughs", len(r.feeds))
	return r, nil
}

// Name returns the name of the node.
func (r *Runtime) Name() string { return r.name }

// Stop makes Run return.
func (r *Runtime) Stop() { r.in.stop() }

// Run reports the runtime initialized and serves episodes until ctx is done
// or Stop is called. Any other error is passed to the Fail hook.
func (r *Runtime) Run(ctx context.Context) error {
	err := r.run(ctx)
	if err == nil || errors.Is(err, ErrStopped) || ctx.Err() != nil {
		r.logger.Debug("Runtime stopped.")
		return nil
	}
	r.logger.Error("❌ Runtime failed.", "error", err)
	if r.fail != nil {
		r.fail(err)
	}
	return err
}

func (r *Runtime) run(ctx context.Context) error {
	if err := r.broker.Publish(ctx, InitializedAddress(r.ns, r.name), node.Message{Value: cty.True}); err != nil {
		return err
	}

	var episode uint64
	for {
		next, err := r.in.waitReset(ctx, episode)
		if err != nil {
			return err
		}
		episode = next
		err = r.serve(ctx, episode)
		var ie errInterrupted
		if errors.As(err, &ie) {
			continue
		}
		if err != nil {
			return err
		}
	}
}

// serve runs one episode until a newer reset interrupts it.
func (r *Runtime) serve(ctx context.Context, episode uint64) error {
	r.in.begin(episode)
	for _, s := range r.inputs {
		s.clear()
	}
	logger := r.logger.With("episode", episode)

	states, err := collectStates(ctx, r.in, "state", r.states, episode)
	if err != nil {
		return err
	}
	if err := r.node.Reset(ctx, states); err != nil {
		return fmt.Errorf("node %q reset: %w", r.name, err)
	}
	if len(r.targets) > 0 {
		targets, err := collectStates(ctx, r.in, "target", r.targets, episode)
		if err != nil {
			return err
		}
		if err := r.node.(node.TargetResetter).ResetTo(ctx, targets); err != nil {
			return fmt.Errorf("node %q reset to targets: %w", r.name, err)
		}
	}
	if err := r.broker.Publish(ctx, AckAddress(r.ns, r.name), node.Message{Episode: episode, Value: cty.True}); err != nil {
		return err
	}
	logger.Debug("Reset acknowledged.")

	for _, p := range r.outputs {
		if !p.StartWithMsg {
			continue
		}
		msg := node.Message{Episode: episode, Value: msgtype.Zero(p.nodeType)}
		if err := r.broker.Publish(ctx, p.Address, msg); err != nil {
			return err
		}
	}

	for tick := uint64(0); ; tick++ {
		if _, err := r.in.take(ctx, "tick", episode, tick); err != nil {
			return err
		}
		if err := r.step(ctx, episode, tick); err != nil {
			return err
		}
	}
}

func (r *Runtime) step(ctx context.Context, episode, tick uint64) error {
	in := make(node.Inputs, len(r.inputs))
	for _, s := range r.inputs {
		window, err := s.read(ctx, r.in, episode, tick)
		if err != nil {
			return err
		}
		in[s.CName] = window
	}

	var fed map[string]cty.Value
	if tick == 0 && len(r.feeds) > 0 {
		fed = make(map[string]cty.Value, len(r.feeds))
		for cname, s := range r.feeds {
			v, err := r.in.take(ctx, s.key, episode, 0)
			if err != nil {
				return err
			}
			fed[cname] = v
		}
	}

	out, err := r.node.Step(ctx, tick, in)
	if err != nil {
		return fmt.Errorf("node %q tick %d: %w", r.name, tick, err)
	}
	if len(fed) > 0 {
		if out == nil {
			out = make(node.Outputs, len(fed))
		}
		for cname, v := range fed {
			out[cname] = v
		}
	}
	if err := checkOutputs(r.name, tick, r.outputs, out); err != nil {
		return err
	}

	for _, p := range r.outputs {
		v, err := msgtype.Conform(out[p.CName], p.nodeType)
		if err != nil {
			return fmt.Errorf("node %q output %q: %w", r.name, p.CName, err)
		}
		seq := tick
		if p.StartWithMsg {
			seq++
		}
		if err := r.broker.Publish(ctx, p.Address, node.Message{Episode: episode, Seq: seq, Value: v}); err != nil {
			return err
		}
	}
	return nil
}

// checkOutputs enforces exactly one value per declared output.
func checkOutputs(name string, tick uint64, declared []*port, out node.Outputs) error {
	var missing []string
	for _, p := range declared {
		if _, ok := out[p.CName]; !ok {
			missing = append(missing, p.CName)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %q published no value for %q at tick %d", ErrProtocolViolation, name, missing, tick)
	}
	if len(out) > len(declared) {
		var extra []string
		for cname := range out {
			if !hasPort(declared, cname) {
				extra = append(extra, cname)
			}
		}
		sort.Strings(extra)
		return fmt.Errorf("%w: %q published undeclared outputs %q at tick %d", ErrProtocolViolation, name, extra, tick)
	}
	return nil
}

func hasPort(ps []*port, cname string) bool {
	for _, p := range ps {
		if p.CName == cname {
			return true
		}
	}
	return false
}
