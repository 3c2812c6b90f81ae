package app

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/vk/lockstepgrid/internal/broker"
	"github.com/vk/lockstepgrid/internal/ctxlog"
	"github.com/vk/lockstepgrid/internal/graph"
	"github.com/vk/lockstepgrid/internal/lockstep"
	"github.com/zclconf/go-cty/cty"
	ctyjson "github.com/zclconf/go-cty/cty/json"
	"golang.org/x/sync/errgroup"
)

// Run executes the configured command. The health check server, when
// enabled, runs next to it and stops with it.
func (a *App) Run(ctx context.Context) error {
	ctx = a.context(ctx)
	a.logger.Debug("App.Run method started.")

	if a.config.Command == CommandValidate {
		return a.validate(ctx)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.serveHealthCheck(gctx, nil) })
	g.Go(func() error {
		defer cancel()
		switch a.config.Command {
		case CommandNode:
			return a.runNode(gctx)
		case CommandRelay:
			return a.runRelay(gctx)
		}
		return a.runGraph(gctx)
	})

	err := g.Wait()
	a.logger.Debug("App.Run method finished.", "error", err)
	return err
}

func (a *App) runGraph(ctx context.Context) error {
	logger := ctxlog.FromContext(ctx)
	def, err := a.loadGraph(ctx)
	if err != nil {
		return err
	}
	ns := a.namespace(def)
	bridge := a.config.Bridge
	if bridge == "" {
		bridge = def.Bridge
	}
	compiled, err := def.Graph.Register(ctx, a.registry, graph.RegisterOptions{Namespace: ns, Bridge: bridge})
	if err != nil {
		return fmt.Errorf("failed to register graph: %w", err)
	}

	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()
	t, err := a.openTransport(ctx)
	if err != nil {
		return err
	}
	defer t.Close()

	b := broker.New("supervisor", t, broker.WithLogger(logger), broker.WithMetrics(a.metrics))
	a.setBroker(b)
	opts := lockstep.Options{Broker: b, Store: store, Metrics: a.metrics}
	if !a.config.Remote {
		opts.Launcher = lockstep.NewLocal(ctx, lockstep.LocalOptions{
			Namespace: ns,
			Broker:    b,
			Registry:  a.registry,
		})
	}
	sup, err := lockstep.NewSupervisor(ctx, compiled, opts)
	if err != nil {
		return err
	}
	defer sup.Close()
	if a.config.Diagnostics > 0 {
		sup.WithDiagnostics(a.config.Diagnostics)
	}
	if err := sup.RegisterGraph(ctx); err != nil {
		return err
	}
	logger.Info("🚀 Graph registered.", "namespace", ns, "bridge", compiled.Bridge,
		"units", sup.Registered(), "remote", a.config.Remote)

	for ep := 1; ep <= a.config.Episodes; ep++ {
		if err := a.runEpisode(ctx, sup); err != nil {
			return fmt.Errorf("episode %d: %w", ep, err)
		}
	}
	logger.Info("🏁 Run finished.", "episodes", a.config.Episodes, "steps", a.config.Steps)
	return nil
}

// runEpisode resets the environment with the configured states and steps
// it with the configured actions.
func (a *App) runEpisode(ctx context.Context, sup *lockstep.Supervisor) error {
	for _, key := range slices.Sorted(maps.Keys(a.config.States)) {
		i := strings.LastIndex(key, "/")
		if i <= 0 {
			return fmt.Errorf("state %q must be written as <owner>/<state>", key)
		}
		if err := sup.SetState(key[:i], key[i+1:], cty.NumberFloatVal(a.config.States[key])); err != nil {
			return err
		}
	}
	actions := make(map[string]cty.Value, len(a.config.Actions))
	for name, v := range a.config.Actions {
		actions[name] = cty.NumberFloatVal(v)
	}
	if err := sup.SetActions(actions); err != nil {
		return err
	}

	start := time.Now()
	waitCtx, cancel := a.waitContext(ctx)
	err := sup.Reset(waitCtx)
	cancel()
	if err != nil {
		return err
	}
	logger := ctxlog.FromContext(ctx).With("episode", sup.Episode())
	logger.Info("🔄 Reset.", "observations", formatValues(sup.Observations()))

	for step := 0; step < a.config.Steps; step++ {
		waitCtx, cancel := a.waitContext(ctx)
		err := sup.Step(waitCtx)
		cancel()
		if err != nil {
			return err
		}
		logger.Info("Step.", "tick", sup.Tick(), "observations", formatValues(sup.Observations()))
	}
	if img, ok := sup.LastImage(); ok {
		logger.Debug("Last rendered frame.", "image", formatValue(img))
	}
	logger.Info("✅ Episode finished.", "ticks", sup.Tick(), "duration", time.Since(start))
	return nil
}

// formatValues renders values as compact JSON for the logs.
func formatValues(vs map[string]cty.Value) string {
	parts := make([]string, 0, len(vs))
	for _, name := range slices.Sorted(maps.Keys(vs)) {
		parts = append(parts, name+"="+formatValue(vs[name]))
	}
	return strings.Join(parts, " ")
}

func formatValue(v cty.Value) string {
	raw, err := ctyjson.Marshal(v, v.Type())
	if err != nil {
		return v.GoString()
	}
	return string(raw)
}
