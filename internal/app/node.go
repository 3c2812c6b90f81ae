package app

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/vk/lockstepgrid/internal/address"
	"github.com/vk/lockstepgrid/internal/broker"
	"github.com/vk/lockstepgrid/internal/ctxlog"
	"github.com/vk/lockstepgrid/internal/graph"
	"github.com/vk/lockstepgrid/internal/lockstep"
	"github.com/vk/lockstepgrid/internal/paramstore"
)

// runNode serves one unit of a graph whose supervisor runs elsewhere. The
// unit is a node name, or env/bridge for the bridge and its objects. Its
// parameters are read from the store the supervisor uploaded them to.
func (a *App) runNode(ctx context.Context) error {
	ns := a.config.Namespace
	if ns == "" {
		return fmt.Errorf("the node command needs a namespace")
	}
	unit := a.config.Unit
	ctx, logger := ctxlog.With(ctx, "unit", unit, "namespace", ns)

	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()
	blocking := paramstore.BlockingOptions{Timeout: a.config.Timeout, Metrics: a.metrics}
	raw, err := paramstore.GetWithBlocking(ctx, store, paramstore.Key(ns, unit), blocking)
	if err != nil {
		return err
	}

	t, err := a.openTransport(ctx)
	if err != nil {
		return err
	}
	defer t.Close()
	b := broker.New(unit, t, broker.WithLogger(logger), broker.WithMetrics(a.metrics))
	a.setBroker(b)

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	opts := lockstep.RuntimeOptions{Broker: b, Fail: cancel}

	var run func(context.Context) error
	if unit == address.Bridge {
		var rec lockstep.BridgeRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return fmt.Errorf("failed to decode the bridge record: %w", err)
		}
		objects := make([]*graph.Bundle, 0, len(rec.Objects))
		for _, name := range rec.Objects {
			o := new(graph.Bundle)
			if err := paramstore.Decode(ctx, store, paramstore.Key(ns, name), o); err != nil {
				return err
			}
			objects = append(objects, o)
		}
		br, err := lockstep.NewBridge(ctx, ns, rec.Bridge, objects, a.registry, opts)
		if err != nil {
			return err
		}
		run = br.Run
	} else {
		bundle := new(graph.Bundle)
		if err := json.Unmarshal(raw, bundle); err != nil {
			return fmt.Errorf("failed to decode the bundle of %q: %w", unit, err)
		}
		rt, err := lockstep.StartNode(ctx, ns, bundle, a.registry, opts)
		if err != nil {
			return err
		}
		run = rt.Run
	}

	logger.Info("🚀 Unit started.")
	err = run(ctx)
	if cause := context.Cause(ctx); err == nil && cause != nil && cause != context.Canceled {
		err = cause
	}
	logger.Info("🏁 Unit stopped.", "error", err)
	return err
}
