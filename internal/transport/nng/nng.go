// Package nng is a Transport over mangos (the pure Go nanomsg/NNG
// implementation) pub/sub sockets.
//
// Every process listens with one pub socket and dials the pub sockets of its
// peers, its own included, with one sub socket. Frames carry their address
// as topic prefix. Latched values are re-sent periodically so that peers
// joining late still see them; receivers drop the duplicates.
package nng

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/vk/lockstepgrid/internal/metrics"
	"github.com/vk/lockstepgrid/internal/node"
	"github.com/vk/lockstepgrid/internal/transport"
	"github.com/zclconf/go-cty/cty"
	"go.nanomsg.org/mangos/v3"
	"go.nanomsg.org/mangos/v3/protocol/pub"
	"go.nanomsg.org/mangos/v3/protocol/sub"

	// Register all transports (tcp, ipc, inproc, ws).
	_ "go.nanomsg.org/mangos/v3/transport/all"
)

// DefaultLatchInterval is the default re-send period of latched values.
const DefaultLatchInterval = 250 * time.Millisecond

// Options configures a Transport.
type Options struct {
	// Listen is the URL of the local pub socket, e.g. tcp://127.0.0.1:7070.
	Listen string
	// Peers are the pub URLs to receive from. Listen is added when missing.
	Peers []string
	// Compress snappy-compresses frame payloads.
	Compress bool
	// LatchInterval is the re-send period of latched values. Zero selects
	// DefaultLatchInterval, a negative value disables re-sending.
	LatchInterval time.Duration
	Metrics       *metrics.Registry
	Logger        *slog.Logger
}

// Transport implements transport.Transport.
type Transport struct {
	pubSock mangos.Socket
	subSock mangos.Socket
	codec   transport.Codec
	local   *transport.Hub
	logger  *slog.Logger
	metrics *metrics.Registry

	mu      sync.Mutex
	types   map[string]cty.Type
	refs    map[string]int
	latched map[string][]byte
	dedup   *transport.Dedup
	peers   int
	pipes   map[mangos.Pipe]struct{}
	changed chan struct{}

	closeOnce sync.Once
	done      chan struct{}
	wg        sync.WaitGroup
}

var _ transport.Transport = (*Transport)(nil)
var _ transport.Readier = (*Transport)(nil)

// New opens the sockets and starts receiving.
func New(opts Options) (*Transport, error) {
	if opts.Listen == "" {
		return nil, errors.New("nng: a listen URL is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	peers := append([]string(nil), opts.Peers...)
	if !slices.Contains(peers, opts.Listen) {
		peers = append(peers, opts.Listen)
	}

	t := &Transport{
		codec:   transport.Codec{Compress: opts.Compress},
		local:   transport.NewHub(transport.WithMetrics("nng", opts.Metrics)),
		logger:  logger.With("transport", "nng", "listen", opts.Listen),
		metrics: opts.Metrics,
		types:   make(map[string]cty.Type),
		refs:    make(map[string]int),
		latched: make(map[string][]byte),
		dedup:   transport.NewDedup(),
		peers:   len(peers),
		pipes:   make(map[mangos.Pipe]struct{}),
		changed: make(chan struct{}),
		done:    make(chan struct{}),
	}

	var err error
	if t.pubSock, err = pub.NewSocket(); err != nil {
		return nil, fmt.Errorf("failed to create pub socket: %w", err)
	}
	if err = t.pubSock.Listen(opts.Listen); err != nil {
		t.pubSock.Close()
		return nil, fmt.Errorf("failed to listen on %s: %w", opts.Listen, err)
	}
	if t.subSock, err = sub.NewSocket(); err != nil {
		t.pubSock.Close()
		return nil, fmt.Errorf("failed to create sub socket: %w", err)
	}
	t.subSock.SetPipeEventHook(t.pipeEvent)
	for _, peer := range peers {
		err = t.subSock.DialOptions(peer, map[string]interface{}{mangos.OptionDialAsynch: true})
		if err != nil {
			t.pubSock.Close()
			t.subSock.Close()
			return nil, fmt.Errorf("failed to dial %s: %w", peer, err)
		}
	}

	t.wg.Add(1)
	go t.receive()

	interval := opts.LatchInterval
	if interval == 0 {
		interval = DefaultLatchInterval
	}
	if interval > 0 {
		t.wg.Add(1)
		go t.resendLatched(interval)
	}

	t.logger.Debug("Transport started.", "peers", peers)
	return t, nil
}

func (t *Transport) pipeEvent(ev mangos.PipeEvent, p mangos.Pipe) {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch ev {
	case mangos.PipeEventAttached:
		t.pipes[p] = struct{}{}
	case mangos.PipeEventDetached:
		delete(t.pipes, p)
	default:
		return
	}
	close(t.changed)
	t.changed = make(chan struct{})
}

// Ready blocks until the sub socket is attached to every peer.
func (t *Transport) Ready(ctx context.Context) error {
	for {
		t.mu.Lock()
		attached, changed := len(t.pipes), t.changed
		t.mu.Unlock()
		if attached >= t.peers {
			return nil
		}
		select {
		case <-changed:
		case <-t.done:
			return transport.ErrClosed
		case <-ctx.Done():
			return fmt.Errorf("nng: %d of %d peers attached: %w", attached, t.peers, ctx.Err())
		}
	}
}

// Publish sends msg to every peer subscribed to addr.
func (t *Transport) Publish(ctx context.Context, addr string, ty cty.Type, msg node.Message) error {
	frame, err := t.codec.Encode(addr, ty, msg)
	if err != nil {
		return err
	}
	if transport.IsLatched(addr) {
		t.mu.Lock()
		t.latched[addr] = frame
		t.mu.Unlock()
	}
	if err := t.pubSock.Send(frame); err != nil {
		if errors.Is(err, mangos.ErrClosed) {
			return transport.ErrClosed
		}
		return fmt.Errorf("publish %s: %w", addr, err)
	}
	t.metrics.RecordTransport("nng", "publish")
	return nil
}

// Subscribe registers h for addr.
func (t *Transport) Subscribe(ctx context.Context, addr string, ty cty.Type, h transport.Handler) (transport.Subscription, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if known, ok := t.types[addr]; ok && !known.Equals(ty) {
		return nil, fmt.Errorf("nng: %s is already subscribed with another type", addr)
	}
	s, err := t.local.Subscribe(ctx, addr, ty, h)
	if err != nil {
		return nil, err
	}
	if t.refs[addr] == 0 {
		if err := t.subSock.SetOption(mangos.OptionSubscribe, transport.Topic(addr)); err != nil {
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
		if uerr := s.t.subSock.SetOption(mangos.OptionUnsubscribe, transport.Topic(s.addr)); uerr != nil && err == nil {
			err = uerr
		}
	})
	return err
}

func (t *Transport) receive() {
	defer t.wg.Done()
	for {
		frame, err := t.subSock.Recv()
		if err != nil {
			if errors.Is(err, mangos.ErrClosed) {
				return
			}
			t.logger.Warn("Receive failed.", "error", err)
			continue
		}
		t.dispatch(frame)
	}
}

func (t *Transport) dispatch(frame []byte) {
	addr, _, err := transport.SplitFrame(frame)
	if err != nil {
		t.logger.Warn("Dropping frame.", "error", err)
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
		t.logger.Warn("Dropping frame.", "address", addr, "error", err)
		return
	}

	t.mu.Lock()
	fresh := t.dedup.Fresh(addr, msg)
	t.mu.Unlock()
	if !fresh {
		return
	}
	t.metrics.RecordTransport("nng", "receive")
	if err := t.local.Publish(context.Background(), addr, ty, msg); err != nil && !errors.Is(err, transport.ErrClosed) {
		t.logger.Warn("Local delivery failed.", "address", addr, "error", err)
	}
}

func (t *Transport) resendLatched(interval time.Duration) {
	defer t.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
		}
		t.mu.Lock()
		frames := make([][]byte, 0, len(t.latched))
		for _, f := range t.latched {
			frames = append(frames, f)
		}
		t.mu.Unlock()
		for _, f := range frames {
			if err := t.pubSock.Send(f); err != nil {
				return
			}
		}
	}
}

// Close shuts both sockets and waits for the background loops.
func (t *Transport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.done)
		err = errors.Join(t.subSock.Close(), t.pubSock.Close(), t.local.Close())
		t.wg.Wait()
	})
	return err
}
