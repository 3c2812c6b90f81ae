package broker

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/vk/lockstepgrid/internal/metrics"
	"github.com/vk/lockstepgrid/internal/msgtype"
	"github.com/vk/lockstepgrid/internal/node"
	"github.com/vk/lockstepgrid/internal/transport"
	"github.com/zclconf/go-cty/cty"
)

type inputKey struct {
	role Role
	addr string
}

type input struct {
	Input
	owner  string
	status Status
	source string
	sub    transport.Subscription
}

type output struct {
	Output
	owner  string
	locals []*input
}

type ownerIO struct {
	inputs  map[inputKey]*input
	order   []inputKey
	outputs []string
}

// Broker wires the addresses of the owners running in one process.
type Broker struct {
	name      string
	transport transport.Transport
	logger    *slog.Logger
	metrics   *metrics.Registry

	mu      sync.Mutex
	cond    *sync.Cond
	outputs map[string]*output
	owners  map[string]*ownerIO
}

// Option configures a Broker.
type Option func(*Broker)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Broker) { b.logger = l }
}

// WithMetrics publishes bucket sizes.
func WithMetrics(m *metrics.Registry) Option {
	return func(b *Broker) { b.metrics = m }
}

// New creates a broker named after the process that owns it.
func New(name string, t transport.Transport, opts ...Option) *Broker {
	b := &Broker{
		name:      name,
		transport: t,
		logger:    slog.Default(),
		outputs:   make(map[string]*output),
		owners:    make(map[string]*ownerIO),
	}
	b.cond = sync.NewCond(&b.mu)
	for _, opt := range opts {
		opt(b)
	}
	b.logger = b.logger.With("component", "broker", "broker", name)
	return b
}

// Name returns the broker name.
func (b *Broker) Name() string { return b.name }

// Register adds the addresses of owner. Every input starts disconnected
// and every output is advertised on the transport. Nothing is registered
// when any address is a duplicate or cannot be advertised.
func (b *Broker) Register(owner string, io IO) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	oio := b.owners[owner]
	seenOut := make(map[string]bool, len(io.Outputs))
	for _, o := range io.Outputs {
		if _, exists := b.outputs[o.Address]; exists || seenOut[o.Address] {
			return fmt.Errorf("%w: output %s of %q must be unique", ErrDuplicateAddress, o.Address, owner)
		}
		seenOut[o.Address] = true
	}
	seenIn := make(map[inputKey]bool, len(io.Inputs))
	for _, in := range io.Inputs {
		k := inputKey{in.Role, in.Address}
		if in.Deliver == nil {
			return fmt.Errorf("input %s of %q has no receiver", in.Address, owner)
		}
		if (oio != nil && oio.inputs[k] != nil) || seenIn[k] {
			return fmt.Errorf("%w: cannot register %s twice as %s of %q", ErrDuplicateAddress, in.Address, in.Role, owner)
		}
		seenIn[k] = true
	}

	for _, o := range io.Outputs {
		if err := transport.Advertise(context.Background(), b.transport, o.Address, o.Type); err != nil {
			return fmt.Errorf("advertise output %s of %q: %w", o.Address, owner, err)
		}
	}

	if oio == nil {
		oio = &ownerIO{inputs: make(map[inputKey]*input)}
		b.owners[owner] = oio
	}
	for _, o := range io.Outputs {
		b.outputs[o.Address] = &output{Output: o, owner: owner}
		oio.outputs = append(oio.outputs, o.Address)
	}
	for _, in := range io.Inputs {
		k := inputKey{in.Role, in.Address}
		oio.inputs[k] = &input{Input: in, owner: owner, status: Disconnected}
		oio.order = append(oio.order, k)
	}

	b.logger.Debug("Registered addresses.", "owner", owner, "inputs", len(io.Inputs), "outputs", len(io.Outputs))
	b.changed()
	return nil
}

// Connect wires every disconnected input: to a local output of the same
// address when there is one, otherwise through the transport. It returns
// the number of inputs it wired; a second call without new registrations
// wires nothing.
func (b *Broker) Connect(ctx context.Context) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	wired := 0
	defer func() {
		if wired > 0 {
			b.changed()
		}
	}()

	for _, owner := range b.ownerNames() {
		oio := b.owners[owner]
		for _, k := range oio.order {
			in := oio.inputs[k]
			if in.status != Disconnected {
				continue
			}
			if in.sub != nil || in.source != "" {
				return wired, fmt.Errorf("%w: %s of %q", ErrAlreadyConnected, in.Address, owner)
			}

			if out, ok := b.outputs[in.Address]; ok {
				if !out.Type.Equals(in.Type) {
					return wired, fmt.Errorf("%s carries %s but %q expects %s",
						in.Address, msgtype.String(out.Type), owner, msgtype.String(in.Type))
				}
				out.locals = append(out.locals, in)
				in.status, in.source = ConnectedLocal, out.owner
			} else {
				sub, err := b.transport.Subscribe(ctx, in.Address, in.Type, b.receiver(in))
				if err != nil {
					return wired, fmt.Errorf("failed to subscribe %s for %q: %w", in.Address, owner, err)
				}
				in.status, in.sub = ConnectedTransport, sub
			}
			wired++
			b.logger.Debug("Connected.", "owner", owner, "role", in.Role, "address", in.Address, "status", in.status)
		}
	}
	return wired, nil
}

func (b *Broker) receiver(in *input) transport.Handler {
	return func(msg node.Message) {
		if err := deliver(in, msg); err != nil {
			b.logger.Error("Dropping message.", "owner", in.owner, "address", in.Address, "error", err)
		}
	}
}

func deliver(in *input, msg node.Message) error {
	if in.Converter != nil {
		v, err := in.Converter.Convert(msg.Value)
		if err != nil {
			return fmt.Errorf("converting %s for %q: %w", in.Address, in.owner, err)
		}
		msg.Value = v
	}
	in.Deliver(msg)
	return nil
}

// Publish sends msg on an output address: directly to the local inputs
// wired to it and to the transport for everyone else.
func (b *Broker) Publish(ctx context.Context, addr string, msg node.Message) error {
	b.mu.Lock()
	out, ok := b.outputs[addr]
	var locals []*input
	if ok {
		locals = append(locals, out.locals...)
	}
	b.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAddress, addr)
	}

	v := msg.Value
	if out.Converter != nil {
		var err error
		if v, err = out.Converter.Convert(v); err != nil {
			return fmt.Errorf("converting %s: %w", addr, err)
		}
	}
	v, err := msgtype.Conform(v, out.Type)
	if err != nil {
		return fmt.Errorf("publish %s: %w", addr, err)
	}
	msg.Value = v

	for _, in := range locals {
		if err := deliver(in, msg); err != nil {
			return err
		}
	}
	return b.transport.Publish(ctx, addr, out.Type, msg)
}

// Unregister drops every address of owner. Local inputs of other owners
// wired to its outputs fall back to disconnected.
func (b *Broker) Unregister(owner string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	oio, ok := b.owners[owner]
	if !ok {
		return nil
	}
	var firstErr error
	for _, k := range oio.order {
		in := oio.inputs[k]
		switch in.status {
		case ConnectedTransport:
			if err := in.sub.Unsubscribe(); err != nil && firstErr == nil {
				firstErr = err
			}
		case ConnectedLocal:
			if out, ok := b.outputs[in.Address]; ok {
				out.locals = removeInput(out.locals, in)
			}
		}
	}
	for _, addr := range oio.outputs {
		for _, in := range b.outputs[addr].locals {
			in.status, in.source = Disconnected, ""
		}
		delete(b.outputs, addr)
	}
	delete(b.owners, owner)

	b.logger.Debug("Unregistered.", "owner", owner)
	b.changed()
	return firstErr
}

func removeInput(list []*input, in *input) []*input {
	out := list[:0]
	for _, x := range list {
		if x != in {
			out = append(out, x)
		}
	}
	return out
}

// Status returns the input addresses of every owner grouped by bucket.
func (b *Broker) Status() map[string]map[Status][]string {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make(map[string]map[Status][]string, len(b.owners))
	for owner, oio := range b.owners {
		buckets := map[Status][]string{}
		for _, k := range oio.order {
			in := oio.inputs[k]
			buckets[in.status] = append(buckets[in.status], in.Address)
		}
		for _, addrs := range buckets {
			sort.Strings(addrs)
		}
		out[owner] = buckets
	}
	return out
}

// Disconnected returns the addresses of owner still waiting to be wired,
// or of every owner when owner is empty.
func (b *Broker) Disconnected(owner string) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.disconnected(owner)
}

func (b *Broker) disconnected(owner string) []string {
	var out []string
	for _, name := range b.ownerNames() {
		if owner != "" && name != owner {
			continue
		}
		oio := b.owners[name]
		for _, k := range oio.order {
			if oio.inputs[k].status == Disconnected {
				out = append(out, oio.inputs[k].Address)
			}
		}
	}
	return out
}

// Entries lists every registered address, outputs first, by owner.
func (b *Broker) Entries() []Entry {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []Entry
	for _, owner := range b.ownerNames() {
		oio := b.owners[owner]
		for _, addr := range oio.outputs {
			o := b.outputs[addr]
			out = append(out, Entry{Owner: owner, Role: o.Role, Address: addr, MsgType: typeName(o.Type)})
		}
		for _, k := range oio.order {
			in := oio.inputs[k]
			out = append(out, Entry{
				Owner: owner, Role: in.Role, Address: in.Address, MsgType: typeName(in.Type),
				Status: in.status, Source: in.source,
			})
		}
	}
	return out
}

// WaitConnected blocks until owner (every owner when empty) has no
// disconnected input.
func (b *Broker) WaitConnected(ctx context.Context, owner string) error {
	stop := context.AfterFunc(ctx, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.cond.Broadcast()
	})
	defer stop()

	b.mu.Lock()
	defer b.mu.Unlock()
	for len(b.disconnected(owner)) > 0 {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("still disconnected %q: %w", b.disconnected(owner), err)
		}
		b.cond.Wait()
	}
	return nil
}

// changed must be called with the lock held.
func (b *Broker) changed() {
	counts := make(map[string]int, len(Statuses))
	for _, s := range Statuses {
		counts[string(s)] = 0
	}
	for _, oio := range b.owners {
		for _, in := range oio.inputs {
			counts[string(in.status)]++
		}
	}
	b.metrics.SetBrokerAddresses(b.name, counts)
	b.cond.Broadcast()
}

func (b *Broker) ownerNames() []string {
	names := make([]string, 0, len(b.owners))
	for name := range b.owners {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func typeName(ty cty.Type) string {
	if ty == cty.NilType {
		return ""
	}
	return msgtype.String(ty)
}
