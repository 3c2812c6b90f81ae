// Package socketio is a Transport that relays frames through a socket.io
// server.
//
// The client joins one room per subscribed address by emitting `subscribe`,
// leaves it with `unsubscribe`, and emits `publish` with an envelope holding
// the address and the base64 frame. The relay forwards the envelope to the
// room as a `message` event and keeps the last envelope of latched
// addresses for late joiners.
package socketio

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vk/lockstepgrid/internal/ctxlog"
	"github.com/vk/lockstepgrid/internal/metrics"
	"github.com/vk/lockstepgrid/internal/node"
	"github.com/vk/lockstepgrid/internal/transport"
	"github.com/zclconf/go-cty/cty"
	"github.com/zishang520/engine.io-client-go/transports"
	"github.com/zishang520/engine.io/v2/types"
	"github.com/zishang520/socket.io-client-go/socket"
)

// Event names of the relay protocol.
const (
	EventPublish     = "publish"
	EventSubscribe   = "subscribe"
	EventUnsubscribe = "unsubscribe"
	EventMessage     = "message"
)

// Options configures the client.
type Options struct {
	URL                string
	Namespace          string
	InsecureSkipVerify bool
	Compress           bool
	// ConnectTimeout bounds Dial. Zero means 15s.
	ConnectTimeout time.Duration
	Metrics        *metrics.Registry
}

// emitter is the part of *socket.Socket the transport uses.
type emitter interface {
	Emit(string, ...any) error
}

type socketEmitter struct {
	io *socket.Socket
}

func (s socketEmitter) Emit(ev string, args ...any) error {
	if !s.io.Connected() {
		return errors.New("not connected to relay")
	}
	s.io.Emit(ev, args...)
	return nil
}

// Transport implements transport.Transport.
type Transport struct {
	id      string
	io      emitter
	close   func()
	codec   transport.Codec
	local   *transport.Hub
	logger  *slog.Logger
	metrics *metrics.Registry

	mu    sync.Mutex
	types map[string]cty.Type
	refs  map[string]int
	dedup *transport.Dedup
}

var _ transport.Transport = (*Transport)(nil)

// Dial connects to the relay and returns once the connection is up.
func Dial(ctx context.Context, opts Options) (*Transport, error) {
	id := uuid.NewString()
	logger := ctxlog.FromContext(ctx).With("transport", "socketio", "url", opts.URL, "client", id)
	logger.Info("Connecting to relay...")

	parsedURL, err := url.Parse(opts.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse URL: %w", err)
	}

	sopts := socket.DefaultOptions()
	sopts.SetPath(parsedURL.Path)
	if opts.InsecureSkipVerify {
		logger.Warn("Skipping TLS certificate verification")
		sopts.SetTLSClientConfig(&tls.Config{InsecureSkipVerify: true})
	}
	sopts.SetTransports(types.NewSet(transports.WebSocket))

	baseURL := fmt.Sprintf("%s://%s", parsedURL.Scheme, parsedURL.Host)
	manager := socket.NewManager(baseURL, sopts)
	io := manager.Socket(opts.Namespace, sopts)

	t := newTransport(id, socketEmitter{io}, logger, opts)
	t.close = func() { io.Disconnect() }

	connectChan := make(chan error, 1)
	io.Once(types.EventName("connect"), func(...any) {
		logger.Info("Connected to relay.", "sid", io.Id())
		connectChan <- nil
	})
	io.Once(types.EventName("connect_error"), func(errs ...any) {
		err, _ := errs[0].(error)
		if err == nil {
			err = fmt.Errorf("%v", errs[0])
		}
		connectChan <- err
	})
	io.On(types.EventName(EventMessage), t.onMessage)
	// Rooms are server state, join them again after a reconnect.
	io.On(types.EventName("connect"), func(...any) { t.resubscribe() })

	io.Connect()

	timeout := opts.ConnectTimeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	select {
	case err := <-connectChan:
		if err != nil {
			io.Disconnect()
			return nil, fmt.Errorf("socket.io connection failed: %w", err)
		}
		return t, nil
	case <-ctx.Done():
		io.Disconnect()
		return nil, fmt.Errorf("context cancelled while waiting for socket.io connection")
	case <-time.After(timeout):
		io.Disconnect()
		return nil, fmt.Errorf("timed out after %s waiting for socket.io connection", timeout)
	}
}

func newTransport(id string, io emitter, logger *slog.Logger, opts Options) *Transport {
	return &Transport{
		id:      id,
		io:      io,
		close:   func() {},
		codec:   transport.Codec{Compress: opts.Compress},
		local:   transport.NewHub(transport.WithMetrics("socketio", opts.Metrics)),
		logger:  logger,
		metrics: opts.Metrics,
		types:   make(map[string]cty.Type),
		refs:    make(map[string]int),
		dedup:   transport.NewDedup(),
	}
}

// Publish emits msg to the room of addr.
func (t *Transport) Publish(ctx context.Context, addr string, ty cty.Type, msg node.Message) error {
	frame, err := t.codec.Encode(addr, ty, msg)
	if err != nil {
		return err
	}
	if err := t.io.Emit(EventPublish, envelope(t.id, addr, frame, transport.IsLatched(addr))); err != nil {
		return fmt.Errorf("publish %s: %w", addr, err)
	}
	t.metrics.RecordTransport("socketio", "publish")
	return nil
}

// Subscribe joins the room of addr.
func (t *Transport) Subscribe(ctx context.Context, addr string, ty cty.Type, h transport.Handler) (transport.Subscription, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if known, ok := t.types[addr]; ok && !known.Equals(ty) {
		return nil, fmt.Errorf("socketio: %s is already subscribed with another type", addr)
	}
	s, err := t.local.Subscribe(ctx, addr, ty, h)
	if err != nil {
		return nil, err
	}
	if t.refs[addr] == 0 {
		if err := t.io.Emit(EventSubscribe, addr); err != nil {
			s.Unsubscribe()
			return nil, fmt.Errorf("subscribe %s: %w", addr, err)
		}
		t.types[addr] = ty
	}
	t.refs[addr]++
	return &subscription{t: t, addr: addr, inner: s}, nil
}

type subscription struct {
	t     *Transport
	addr  string
	inner transport.Subscription
	once  sync.Once
}

func (s *subscription) Unsubscribe() error {
	var err error
	s.once.Do(func() {
		err = s.inner.Unsubscribe()
		s.t.mu.Lock()
		defer s.t.mu.Unlock()
		s.t.refs[s.addr]--
		if s.t.refs[s.addr] > 0 {
			return
		}
		delete(s.t.refs, s.addr)
		delete(s.t.types, s.addr)
		if eerr := s.t.io.Emit(EventUnsubscribe, s.addr); eerr != nil && err == nil {
			err = eerr
		}
	})
	return err
}

func (t *Transport) resubscribe() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for addr := range t.types {
		if err := t.io.Emit(EventSubscribe, addr); err != nil {
			t.logger.Warn("Failed to rejoin room.", "address", addr, "error", err)
		}
	}
}

func (t *Transport) onMessage(args ...any) {
	addr, frame, err := openEnvelope(args...)
	if err != nil {
		t.logger.Warn("Dropping relay message.", "error", err)
		return
	}

	t.mu.Lock()
	ty, ok := t.types[addr]
	t.mu.Unlock()
	if !ok {
		return
	}

	_, msg, err := transport.Decode(frame, ty)
	if err != nil {
		t.logger.Warn("Dropping relay message.", "address", addr, "error", err)
		return
	}

	t.mu.Lock()
	fresh := t.dedup.Fresh(addr, msg)
	t.mu.Unlock()
	if !fresh {
		return
	}
	t.metrics.RecordTransport("socketio", "receive")
	if err := t.local.Publish(context.Background(), addr, ty, msg); err != nil && !errors.Is(err, transport.ErrClosed) {
		t.logger.Warn("Local delivery failed.", "address", addr, "error", err)
	}
}

// Close disconnects from the relay.
func (t *Transport) Close() error {
	t.logger.Info("Disconnecting from relay.")
	t.close()
	return t.local.Close()
}

func envelope(origin, addr string, frame []byte, latched bool) map[string]any {
	return map[string]any{
		"origin":  origin,
		"address": addr,
		"frame":   base64.StdEncoding.EncodeToString(frame),
		"latched": latched,
	}
}

func openEnvelope(args ...any) (string, []byte, error) {
	if len(args) == 0 {
		return "", nil, errors.New("empty message event")
	}
	m, ok := args[0].(map[string]any)
	if !ok {
		return "", nil, fmt.Errorf("unexpected message payload %T", args[0])
	}
	addr, _ := m["address"].(string)
	raw, _ := m["frame"].(string)
	if addr == "" || raw == "" {
		return "", nil, errors.New("message without address or frame")
	}
	frame, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return "", nil, fmt.Errorf("message for %s: %w", addr, err)
	}
	return addr, frame, nil
}
