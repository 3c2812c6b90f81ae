// Package transport defines the publish/subscribe collaborator the broker
// falls back on for addresses that no in-process output provides.
//
// Delivery is at-least-once and ordered per address. Addresses that carry a
// signalling suffix (`/reset`, `/set`, `/done`, `/initialized`) are latched:
// a new subscriber first receives the most recent value.
package transport

import (
	"context"
	"errors"

	"github.com/vk/lockstepgrid/internal/address"
	"github.com/vk/lockstepgrid/internal/node"
	"github.com/zclconf/go-cty/cty"
)

// ErrClosed is returned by operations on a closed transport.
var ErrClosed = errors.New("transport closed")

// Handler receives the messages of one subscription, one at a time and in
// publication order.
type Handler func(msg node.Message)

// Subscription is an active subscription.
type Subscription interface {
	Unsubscribe() error
}

// Transport moves typed messages between processes.
type Transport interface {
	Publish(ctx context.Context, addr string, ty cty.Type, msg node.Message) error
	Subscribe(ctx context.Context, addr string, ty cty.Type, h Handler) (Subscription, error)
	Close() error
}

// Readier is implemented by transports that need time to reach their peers
// before messages published by others can be received.
type Readier interface {
	Ready(ctx context.Context) error
}

// Advertiser is implemented by transports that open a publish sink per
// address ahead of the first message.
type Advertiser interface {
	Advertise(ctx context.Context, addr string, ty cty.Type) error
}

// Advertise opens the publish sink of addr when t needs one.
func Advertise(ctx context.Context, t Transport, addr string, ty cty.Type) error {
	if a, ok := t.(Advertiser); ok {
		return a.Advertise(ctx, addr, ty)
	}
	return nil
}

// IsLatched reports whether the last value published on addr is replayed to
// late subscribers.
func IsLatched(addr string) bool {
	a, err := address.Parse(addr)
	if err != nil {
		return false
	}
	return a.Suffix != address.NoSuffix
}

// Ready waits for t to reach its peers when it needs to.
func Ready(ctx context.Context, t Transport) error {
	if r, ok := t.(Readier); ok {
		return r.Ready(ctx)
	}
	return nil
}
