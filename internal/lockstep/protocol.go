package lockstep

import (
	"context"
	"fmt"
	"math"

	"github.com/vk/lockstepgrid/internal/address"
	"github.com/vk/lockstepgrid/internal/broker"
	"github.com/vk/lockstepgrid/internal/graph"
	"github.com/vk/lockstepgrid/internal/msgtype"
	"github.com/vk/lockstepgrid/internal/node"
	"github.com/zclconf/go-cty/cty"
)

// TickCName is the output of the supervisor carrying the tick counter.
const TickCName = "tick"

// ResetAddress is where the supervisor announces a new episode.
func ResetAddress(ns string) string {
	return address.Signal(ns, address.Supervisor, address.Reset).String()
}

// TickAddress is where the supervisor publishes the tick counter.
func TickAddress(ns string) string {
	return address.New(ns, address.Supervisor, address.Outputs, TickCName).String()
}

// InitializedAddress is where a unit reports that it is wired up.
func InitializedAddress(ns, unit string) string {
	return address.Signal(ns, unit, address.Initialized).String()
}

// AckAddress is where a unit acknowledges a reset.
func AckAddress(ns, unit string) string {
	return address.Signal(ns, unit, address.Reset).String()
}

func setAddress(state string) string  { return state + "/" + string(address.Set) }
func doneAddress(state string) string { return state + "/" + string(address.Done) }

// port is a graph port with its types and converter resolved.
type port struct {
	graph.Port
	// nodeType is the type the owning node reads or writes, wireType the
	// type on the address.
	nodeType cty.Type
	wireType cty.Type
	conv     msgtype.Converter
	delay    uint64
}

func resolvePort(reg *msgtype.Registry, p graph.Port, rate float64) (*port, error) {
	nt, err := msgtype.Parse(p.MsgType)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", p.CName, err)
	}
	out := &port{Port: p, nodeType: nt, wireType: nt}
	if p.Converter != nil {
		if out.conv, err = reg.Resolve(p.Converter); err != nil {
			return nil, fmt.Errorf("%s: %w", p.CName, err)
		}
		if out.wireType, err = out.conv.Opposite(nt); err != nil {
			return nil, fmt.Errorf("%s: converter %s: %w", p.CName, p.Converter, err)
		}
	}
	if p.Delay > 0 {
		out.delay = uint64(math.Round(p.Delay * rate))
	}
	return out, nil
}

func resolvePorts(reg *msgtype.Registry, b *graph.Bundle, kind address.Kind) ([]*port, error) {
	var out []*port
	for _, p := range b.Ports[kind] {
		rp, err := resolvePort(reg, p, b.Rate)
		if err != nil {
			return nil, fmt.Errorf("%s of %q: %w", kind, b.Name, err)
		}
		out = append(out, rp)
	}
	return out, nil
}

// binding routes the messages of one address to one inbox key.
type binding struct {
	key  string
	addr string
	ty   cty.Type
	conv msgtype.Converter
	// first drops every message but the one of tick 0.
	first bool
}

func (p *port) bind(key string) binding {
	return binding{key: key, addr: p.Address, ty: p.wireType, conv: p.conv}
}

// bindReset binds the set and done signals of the state behind p.
func (p *port) bindReset(prefix string) []binding {
	return []binding{
		{key: prefix + "/set/" + p.CName, addr: setAddress(p.Address), ty: p.wireType, conv: p.conv},
		{key: prefix + "/done/" + p.CName, addr: doneAddress(p.Address), ty: cty.Bool},
	}
}

// fanIn turns bindings into broker inputs. Bindings sharing an address
// share one broker input, each applying its own converter.
func fanIn(role broker.Role, bs []binding, put func(string, node.Message), fail func(error)) []broker.Input {
	groups := make(map[string][]binding)
	var order []string
	for _, b := range bs {
		if _, ok := groups[b.addr]; !ok {
			order = append(order, b.addr)
		}
		groups[b.addr] = append(groups[b.addr], b)
	}

	inputs := make([]broker.Input, 0, len(order))
	for _, addr := range order {
		group := groups[addr]
		inputs = append(inputs, broker.Input{
			Role:    role,
			Address: addr,
			Type:    group[0].ty,
			Deliver: func(msg node.Message) {
				for _, b := range group {
					if b.first && msg.Seq != 0 {
						continue
					}
					m := msg
					if b.conv != nil {
						v, err := b.conv.Convert(m.Value)
						if err != nil {
							fail(fmt.Errorf("converting %s for %s: %w", addr, b.key, err))
							return
						}
						m.Value = v
					}
					put(b.key, m)
				}
			},
		})
	}
	return inputs
}

// stream reads one windowed, delayed input tick after tick.
type stream struct {
	*port
	key     string
	history []cty.Value
}

func newStream(p *port, key string) *stream {
	return &stream{port: p, key: key}
}

func (s *stream) clear() { s.history = nil }

// read returns the window of s at tick. Before the delay has elapsed the
// input reads as the zero value of its type.
func (s *stream) read(ctx context.Context, in *inbox, episode, tick uint64) ([]cty.Value, error) {
	v := msgtype.Zero(s.nodeType)
	if tick >= s.delay {
		var err error
		if v, err = in.take(ctx, s.key, episode, tick-s.delay); err != nil {
			return nil, err
		}
	}

	w := s.Window
	if w <= 0 {
		w = 1
	}
	s.history = append(s.history, v)
	if len(s.history) > w {
		s.history = s.history[len(s.history)-w:]
	}
	return append([]cty.Value(nil), s.history...), nil
}

// collectStates waits for the set and done signals of every port bound
// with bindReset under prefix.
func collectStates(ctx context.Context, in *inbox, prefix string, ports []*port, episode uint64) (map[string]node.State, error) {
	out := make(map[string]node.State, len(ports))
	for _, p := range ports {
		done, err := in.take(ctx, prefix+"/done/"+p.CName, episode, 0)
		if err != nil {
			return nil, err
		}
		if done.Equals(cty.True).True() {
			out[p.CName] = node.State{Value: cty.NullVal(p.nodeType), Done: true}
			continue
		}
		v, err := in.take(ctx, prefix+"/set/"+p.CName, episode, 0)
		if err != nil {
			return nil, err
		}
		out[p.CName] = node.State{Value: v}
	}
	return out, nil
}
