package app

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/vk/lockstepgrid/internal/ctxlog"
	"github.com/vk/lockstepgrid/internal/graph"
	"github.com/vk/lockstepgrid/internal/hclgraph"
	"github.com/vk/lockstepgrid/internal/paramstore"
	"github.com/vk/lockstepgrid/internal/transport"
	"github.com/vk/lockstepgrid/internal/transport/nng"
	"github.com/vk/lockstepgrid/internal/transport/socketio"
)

// storePrefix namespaces the keys this application writes to Redis.
const storePrefix = "lockstepgrid"

// readyTimeout bounds the wait for a network transport to reach its peers.
const readyTimeout = 10 * time.Second

// loadGraph reads the graph definition. Saved graphs are recognised by
// their .yaml or .yml extension, everything else is read as HCL.
func (a *App) loadGraph(ctx context.Context) (*hclgraph.Definition, error) {
	path := a.config.GraphPath
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		g, err := graph.Open(path, graph.WithLogger(ctxlog.FromContext(ctx)))
		if err != nil {
			return nil, fmt.Errorf("failed to load graph: %w", err)
		}
		return &hclgraph.Definition{Graph: g, Files: []string{path}}, nil
	}
	def, err := hclgraph.LoadPath(ctx, path, a.registry)
	if err != nil {
		return nil, fmt.Errorf("failed to load graph: %w", err)
	}
	return def, nil
}

// namespace picks the namespace of a run: the configured one, the one of
// the graph definition, or one derived from the run id.
func (a *App) namespace(def *hclgraph.Definition) string {
	switch {
	case a.config.Namespace != "":
		return a.config.Namespace
	case def != nil && def.Namespace != "":
		return def.Namespace
	}
	return "run-" + a.runID[:8]
}

func (a *App) openStore(ctx context.Context) (paramstore.Store, error) {
	if a.config.RedisURL == "" {
		ctxlog.FromContext(ctx).Debug("Using the in-memory parameter store.")
		return paramstore.NewMemory(), nil
	}
	return paramstore.NewRedis(ctx, a.config.RedisURL, storePrefix)
}

// openTransport connects the configured transport and waits until it
// reaches its peers.
func (a *App) openTransport(ctx context.Context) (transport.Transport, error) {
	logger := ctxlog.FromContext(ctx)
	var (
		t   transport.Transport
		err error
	)
	switch a.config.Transport {
	case TransportNNG:
		t, err = nng.New(nng.Options{
			Listen:   a.config.Listen,
			Peers:    a.config.Peers,
			Compress: a.config.Compress,
			Metrics:  a.metrics,
			Logger:   logger,
		})
	case TransportSocketIO:
		t, err = socketio.Dial(ctx, socketio.Options{
			URL:       a.config.RelayURL,
			Namespace: "/",
			Compress:  a.config.Compress,
			Metrics:   a.metrics,
		})
	default:
		t = transport.NewHub(transport.WithMetrics(TransportInproc, a.metrics))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s transport: %w", a.config.Transport, err)
	}

	readyCtx, cancel := context.WithTimeout(ctx, readyTimeout)
	defer cancel()
	if err := transport.Ready(readyCtx, t); err != nil {
		t.Close()
		return nil, fmt.Errorf("%s transport not ready: %w", a.config.Transport, err)
	}
	logger.Debug("Transport ready.", "transport", a.config.Transport)
	return t, nil
}

// runRelay serves the socket.io relay that socketio transports dial.
func (a *App) runRelay(ctx context.Context) error {
	r := socketio.NewRelay(ctx, socketio.RelayOptions{Metrics: a.metrics})
	return r.ListenAndServe(ctx, a.config.Listen)
}

// waitContext bounds one blocking supervisor call by the configured
// timeout. Zero waits forever.
func (a *App) waitContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if a.config.Timeout > 0 {
		return context.WithTimeout(ctx, a.config.Timeout)
	}
	return context.WithCancel(ctx)
}
