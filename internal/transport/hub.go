package transport

import (
	"context"
	"fmt"
	"sync"

	"github.com/vk/lockstepgrid/internal/ctxlog"
	"github.com/vk/lockstepgrid/internal/metrics"
	"github.com/vk/lockstepgrid/internal/msgtype"
	"github.com/vk/lockstepgrid/internal/node"
	"github.com/zclconf/go-cty/cty"
)

// Hub is an in-process Transport. It also serves as the local fan-out of
// the network transports.
type Hub struct {
	mu      sync.Mutex
	subs    map[string]map[*hubSub]struct{}
	latched map[string]node.Message
	closed  bool

	name    string
	metrics *metrics.Registry
}

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithMetrics counts published and delivered messages under the given
// transport label.
func WithMetrics(name string, m *metrics.Registry) HubOption {
	return func(h *Hub) {
		h.name = name
		h.metrics = m
	}
}

// NewHub creates an empty hub.
func NewHub(opts ...HubOption) *Hub {
	h := &Hub{
		subs:    make(map[string]map[*hubSub]struct{}),
		latched: make(map[string]node.Message),
		name:    "inproc",
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

type hubSub struct {
	hub  *Hub
	addr string
	q    *queue
	once sync.Once
}

// Publish delivers msg to every current subscriber of addr.
func (h *Hub) Publish(ctx context.Context, addr string, ty cty.Type, msg node.Message) error {
	if msg.Value.Type() == cty.NilType {
		return fmt.Errorf("publish %s: message carries no value", addr)
	}
	if ty != cty.NilType && !msg.Value.Type().Equals(ty) {
		return fmt.Errorf("publish %s: value of type %s, address carries %s",
			addr, msgtype.String(msg.Value.Type()), msgtype.String(ty))
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrClosed
	}
	if IsLatched(addr) {
		h.latched[addr] = msg
	}
	for s := range h.subs[addr] {
		s.q.push(msg)
	}
	h.metrics.RecordTransport(h.name, "publish")
	return nil
}

// Subscribe registers h for addr. Latched addresses replay their last value
// first.
func (h *Hub) Subscribe(ctx context.Context, addr string, ty cty.Type, handler Handler) (Subscription, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrClosed
	}

	s := &hubSub{hub: h, addr: addr, q: newQueue()}
	if h.subs[addr] == nil {
		h.subs[addr] = make(map[*hubSub]struct{})
	}
	h.subs[addr][s] = struct{}{}
	if last, ok := h.latched[addr]; ok {
		s.q.push(last)
	}

	name, m := h.name, h.metrics
	go s.q.run(func(msg node.Message) {
		m.RecordTransport(name, "receive")
		handler(msg)
	})
	ctxlog.FromContext(ctx).Debug("Subscribed.", "transport", h.name, "address", addr)
	return s, nil
}

// Subscribers returns the number of subscriptions on addr.
func (h *Hub) Subscribers(addr string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[addr])
}

// Close drops every subscription. Pending messages are discarded.
func (h *Hub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	for addr, set := range h.subs {
		for s := range set {
			s.q.close()
		}
		delete(h.subs, addr)
	}
	return nil
}

func (s *hubSub) Unsubscribe() error {
	s.once.Do(func() {
		s.hub.mu.Lock()
		if set := s.hub.subs[s.addr]; set != nil {
			delete(set, s)
			if len(set) == 0 {
				delete(s.hub.subs, s.addr)
			}
		}
		s.hub.mu.Unlock()
		s.q.close()
	})
	return nil
}
