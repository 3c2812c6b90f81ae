package socketio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/vk/lockstepgrid/internal/ctxlog"
	"github.com/vk/lockstepgrid/internal/metrics"
	sio "github.com/zishang520/socket.io/v2/socket"
)

// RelayPath is where the relay serves the socket.io protocol.
const RelayPath = "/socket.io/"

// RelayOptions configures a Relay.
type RelayOptions struct {
	Metrics *metrics.Registry
}

// Relay is the socket.io server the transport dials. Every address is a
// room. The last envelope published on a latched address is kept and sent
// to each client that joins its room afterwards.
type Relay struct {
	io      *sio.Server
	logger  *slog.Logger
	metrics *metrics.Registry

	// mu orders joins against publishes so a joining client sees the
	// latched value either replayed or broadcast, never older after newer.
	mu      sync.Mutex
	latched map[string]map[string]any
}

// NewRelay creates a relay. Serve it with Handler or ListenAndServe.
func NewRelay(ctx context.Context, opts RelayOptions) *Relay {
	r := &Relay{
		io:      sio.NewServer(nil, nil),
		logger:  ctxlog.FromContext(ctx).With("component", "relay"),
		metrics: opts.Metrics,
		latched: make(map[string]map[string]any),
	}
	r.io.On("connection", r.onConnection)
	return r
}

// Handler returns the HTTP handler of the relay, mounted at RelayPath.
func (r *Relay) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(RelayPath, r.io.ServeHandler(nil))
	return mux
}

// ListenAndServe serves the relay on addr until ctx is done.
func (r *Relay) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("relay: %w", err)
	}
	srv := &http.Server{Handler: r.Handler(), ReadHeaderTimeout: 5 * time.Second}
	r.logger.Info("📡 Relay listening", "address", fmt.Sprintf("http://%s%s", ln.Addr(), RelayPath))

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()

	select {
	case err := <-errCh:
		r.Close()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("relay failed: %w", err)
	case <-ctx.Done():
	}

	r.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	r.logger.Info("📡 Shutting down relay...")
	return srv.Shutdown(shutdownCtx)
}

// Close disconnects every client.
func (r *Relay) Close() {
	r.io.Close(nil)
}

func (r *Relay) onConnection(args ...any) {
	if len(args) == 0 {
		return
	}
	client, ok := args[0].(*sio.Socket)
	if !ok {
		return
	}
	logger := r.logger.With("sid", client.Id())
	logger.Debug("Client connected.")

	client.On(EventSubscribe, func(args ...any) {
		addr, ok := roomOf(args...)
		if !ok {
			logger.Warn("Ignoring subscribe without an address.")
			return
		}
		r.join(logger, client, addr)
	})
	client.On(EventUnsubscribe, func(args ...any) {
		if addr, ok := roomOf(args...); ok {
			client.Leave(sio.Room(addr))
			logger.Debug("Left room.", "address", addr)
		}
	})
	client.On(EventPublish, func(args ...any) {
		r.forward(logger, args...)
	})
	client.On("disconnect", func(reason ...any) {
		logger.Debug("Client disconnected.", "reason", reason)
	})
}

func (r *Relay) join(logger *slog.Logger, client *sio.Socket, addr string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	client.Join(sio.Room(addr))
	logger.Debug("Joined room.", "address", addr)
	if env, ok := r.latched[addr]; ok {
		client.Emit(EventMessage, env)
		r.metrics.RecordTransport("relay", "replay")
	}
}

func (r *Relay) forward(logger *slog.Logger, args ...any) {
	if _, _, err := openEnvelope(args...); err != nil {
		logger.Warn("Dropping publish.", "error", err)
		return
	}
	env := args[0].(map[string]any)
	addr := env["address"].(string)

	r.mu.Lock()
	defer r.mu.Unlock()
	if latched, _ := env["latched"].(bool); latched {
		r.latched[addr] = env
	}
	if err := r.io.To(sio.Room(addr)).Emit(EventMessage, env); err != nil {
		logger.Warn("Failed to forward message.", "address", addr, "error", err)
		return
	}
	r.metrics.RecordTransport("relay", "forward")
}

func roomOf(args ...any) (string, bool) {
	if len(args) == 0 {
		return "", false
	}
	addr, ok := args[0].(string)
	return addr, ok && addr != ""
}
