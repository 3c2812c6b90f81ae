package lockstep

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/vk/lockstepgrid/internal/address"
	"github.com/vk/lockstepgrid/internal/broker"
	"github.com/vk/lockstepgrid/internal/ctxlog"
	"github.com/vk/lockstepgrid/internal/graph"
	"github.com/vk/lockstepgrid/internal/msgtype"
	"github.com/vk/lockstepgrid/internal/node"
	"github.com/vk/lockstepgrid/internal/registry"
	"github.com/zclconf/go-cty/cty"
)

// component is one object component implemented by a node of the bridge.
type component struct {
	*port
	node node.Node
	// cname is the endpoint of the implementing node kind.
	cname string
}

type object struct {
	name      string
	sensors   []*component
	actuators []*component
	streams   []*stream
	states    []*component
}

// Bridge runs the simulator and every object attached to it.
type Bridge struct {
	ns      string
	name    string
	sim     node.Simulator
	objects []*object
	broker  *broker.Broker
	fail    func(error)
	logger  *slog.Logger
	in      *inbox
}

// NewBridge creates the simulator of bridge, the nodes implementing the
// components of every object, and wires them.
func NewBridge(ctx context.Context, ns, bridge string, objects []*graph.Bundle, reg *registry.Registry, opts RuntimeOptions) (*Bridge, error) {
	if opts.Broker == nil {
		return nil, fmt.Errorf("bridge %q: a broker is required", bridge)
	}
	factory, ok := reg.Bridge(bridge)
	if !ok {
		return nil, fmt.Errorf("bridge %q is not registered", bridge)
	}
	rate := 0.0
	for _, o := range objects {
		rate = max(rate, o.Rate)
	}
	sim, err := factory(ctx, rate)
	if err != nil {
		return nil, fmt.Errorf("failed to create bridge %q: %w", bridge, err)
	}

	br := &Bridge{
		ns:     ns,
		name:   bridge,
		sim:    sim,
		broker: opts.Broker,
		fail:   opts.Fail,
		logger: ctxlog.FromContext(ctx).With("component", "bridge", "bridge", bridge),
		in:     newInbox(),
	}

	io := broker.IO{Inputs: []broker.Input{
		{Role: broker.RoleNodeInputs, Address: ResetAddress(ns), Type: cty.Number, Deliver: br.in.requestReset},
		{Role: broker.RoleNodeInputs, Address: TickAddress(ns), Type: cty.Number, Deliver: br.in.deliver("tick")},
	}}
	var actuators, states []binding
	for _, b := range objects {
		o, err := br.attach(ctx, reg, sim, b, opts)
		if err != nil {
			return nil, err
		}
		br.objects = append(br.objects, o)

		io.Outputs = append(io.Outputs,
			broker.Output{Role: broker.RoleNodeOutputs, Address: InitializedAddress(ns, o.name), Type: cty.Bool},
			broker.Output{Role: broker.RoleNodeOutputs, Address: AckAddress(ns, o.name), Type: cty.Bool},
		)
		for _, c := range o.sensors {
			io.Outputs = append(io.Outputs, broker.Output{Role: broker.RoleOutputs, Address: c.Address, Type: c.wireType, Converter: c.conv})
		}
		for _, s := range o.streams {
			actuators = append(actuators, s.bind(s.key))
		}
		for _, c := range o.states {
			states = append(states, c.bindReset("state/"+o.name)...)
		}
	}
	io.Inputs = append(io.Inputs, fanIn(broker.RoleInputs, actuators, br.in.put, br.in.fail)...)
	io.Inputs = append(io.Inputs, fanIn(broker.RoleStateInputs, states, br.in.put, br.in.fail)...)

	if err := br.broker.Register(address.Bridge, io); err != nil {
		return nil, fmt.Errorf("bridge %q: %w", bridge, err)
	}
	if _, err := br.broker.Connect(ctx); err != nil {
		return nil, fmt.Errorf("bridge %q: %w", bridge, err)
	}
	br.logger.Debug("Bridge wired.", "objects", len(br.objects))
	return br, nil
}

func (br *Bridge) attach(ctx context.Context, reg *registry.Registry, sim node.Simulator, b *graph.Bundle, opts RuntimeOptions) (*object, error) {
	o := &object{name: b.Name}
	conv := opts.converters()
	for _, kind := range []address.Kind{address.Sensors, address.Actuators, address.States} {
		ports, err := resolvePorts(conv, b, kind)
		if err != nil {
			return nil, err
		}
		for _, p := range ports {
			kindName, ok := b.Implementation.For(kind)[p.CName]
			if !ok {
				return nil, fmt.Errorf("object %q: bridge %q does not implement %s %q", b.Name, br.name, kind, p.CName)
			}
			rn, ok := reg.Node(kindName)
			if !ok {
				return nil, fmt.Errorf("object %q: node kind %q is not registered", b.Name, kindName)
			}
			cname, _, err := rn.Declaration.Single(registry.ObjectRole(kind))
			if err != nil {
				return nil, fmt.Errorf("object %q, %s %q: %w", b.Name, kind, p.CName, err)
			}
			n, err := rn.New(ctx, node.Params{
				Name:      b.Name + "/" + string(kind) + "/" + p.CName,
				Kind:      kindName,
				Rate:      b.Rate,
				Config:    b.Config,
				Simulator: sim,
			})
			if err != nil {
				return nil, fmt.Errorf("object %q, %s %q: %w", b.Name, kind, p.CName, err)
			}

			c := &component{port: p, node: n, cname: cname}
			switch kind {
			case address.Sensors:
				o.sensors = append(o.sensors, c)
			case address.Actuators:
				o.actuators = append(o.actuators, c)
				o.streams = append(o.streams, newStream(p, "act/"+b.Name+"/"+p.CName))
			case address.States:
				o.states = append(o.states, c)
			}
		}
	}
	return o, nil
}

// Stop makes Run return.
func (br *Bridge) Stop() { br.in.stop() }

// Run serves episodes until ctx is done or Stop is called.
func (br *Bridge) Run(ctx context.Context) error {
	err := br.run(ctx)
	if err == nil || errors.Is(err, ErrStopped) || ctx.Err() != nil {
		br.logger.Debug("Bridge stopped.")
		return nil
	}
	br.logger.Error("❌ Bridge failed.", "error", err)
	if br.fail != nil {
		br.fail(err)
	}
	return err
}

func (br *Bridge) run(ctx context.Context) error {
	for _, o := range br.objects {
		if err := br.broker.Publish(ctx, InitializedAddress(br.ns, o.name), node.Message{Value: cty.True}); err != nil {
			return err
		}
	}

	var episode uint64
	for {
		next, err := br.in.waitReset(ctx, episode)
		if err != nil {
			return err
		}
		episode = next
		err = br.serve(ctx, episode)
		var ie errInterrupted
		if errors.As(err, &ie) {
			continue
		}
		if err != nil {
			return err
		}
	}
}

func (br *Bridge) serve(ctx context.Context, episode uint64) error {
	br.in.begin(episode)
	for _, o := range br.objects {
		if err := br.reset(ctx, o, episode); err != nil {
			return err
		}
	}

	for tick := uint64(0); ; tick++ {
		if _, err := br.in.take(ctx, "tick", episode, tick); err != nil {
			return err
		}
		if tick > 0 {
			if err := br.actuate(ctx, episode, tick); err != nil {
				return err
			}
			if err := br.sim.Step(ctx, tick); err != nil {
				return fmt.Errorf("bridge %q tick %d: %w", br.name, tick, err)
			}
		}
		if err := br.sense(ctx, episode, tick); err != nil {
			return err
		}
	}
}

// reset applies the states of o and acknowledges the episode for it.
func (br *Bridge) reset(ctx context.Context, o *object, episode uint64) error {
	ports := make([]*port, len(o.states))
	for i, c := range o.states {
		ports[i] = c.port
	}
	states, err := collectStates(ctx, br.in, "state/"+o.name, ports, episode)
	if err != nil {
		return err
	}
	for _, c := range o.states {
		if err := c.node.Reset(ctx, map[string]node.State{c.cname: states[c.CName]}); err != nil {
			return fmt.Errorf("object %q state %q: %w", o.name, c.CName, err)
		}
	}
	for _, c := range append(append([]*component(nil), o.sensors...), o.actuators...) {
		if err := c.node.Reset(ctx, nil); err != nil {
			return fmt.Errorf("object %q %q: %w", o.name, c.CName, err)
		}
	}
	for _, s := range o.streams {
		s.clear()
	}
	return br.broker.Publish(ctx, AckAddress(br.ns, o.name), node.Message{Episode: episode, Value: cty.True})
}

// actuate applies the actuator commands published during the previous tick.
func (br *Bridge) actuate(ctx context.Context, episode, tick uint64) error {
	for _, o := range br.objects {
		for i, c := range o.actuators {
			window, err := o.streams[i].read(ctx, br.in, episode, tick-1)
			if err != nil {
				return err
			}
			if _, err := c.node.Step(ctx, tick, node.Inputs{c.cname: window}); err != nil {
				return fmt.Errorf("object %q actuator %q: %w", o.name, c.CName, err)
			}
		}
	}
	return nil
}

func (br *Bridge) sense(ctx context.Context, episode, tick uint64) error {
	for _, o := range br.objects {
		for _, c := range o.sensors {
			out, err := c.node.Step(ctx, tick, nil)
			if err != nil {
				return fmt.Errorf("object %q sensor %q: %w", o.name, c.CName, err)
			}
			v, ok := out[c.cname]
			if !ok || len(out) != 1 {
				return fmt.Errorf("%w: sensor %q of %q must publish exactly %q at tick %d", ErrProtocolViolation, c.CName, o.name, c.cname, tick)
			}
			if v, err = msgtype.Conform(v, c.nodeType); err != nil {
				return fmt.Errorf("object %q sensor %q: %w", o.name, c.CName, err)
			}
			if err := br.broker.Publish(ctx, c.Address, node.Message{Episode: episode, Seq: tick, Value: v}); err != nil {
				return err
			}
		}
	}
	return nil
}
