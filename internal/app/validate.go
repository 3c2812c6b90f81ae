package app

import (
	"context"
	"fmt"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/vk/lockstepgrid/internal/address"
	"github.com/vk/lockstepgrid/internal/graph"
)

// validate registers the graph without running it and prints the addresses
// it would use. The graph is saved when SaveGraph is set.
func (a *App) validate(ctx context.Context) error {
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
		return fmt.Errorf("graph is invalid: %w", err)
	}

	fmt.Fprintf(a.outW, "Graph is valid: %d entities, namespace %q", len(compiled.Bundles), compiled.Namespace)
	if compiled.Bridge != "" {
		fmt.Fprintf(a.outW, ", bridge %q", compiled.Bridge)
	}
	fmt.Fprintln(a.outW)

	var rows [][]string
	for _, b := range compiled.Bundles {
		for _, kind := range address.Kinds {
			for _, p := range b.Ports[kind] {
				rows = append(rows, []string{b.Name, b.Type, string(kind) + "/" + p.CName, p.MsgType, p.Address})
			}
		}
	}
	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("entity", "type", "component", "msg_type", "address").
		Rows(rows...)
	fmt.Fprintln(a.outW, t.String())

	if a.config.SaveGraph != "" {
		if err := def.Graph.SaveFile(a.config.SaveGraph); err != nil {
			return fmt.Errorf("failed to save graph: %w", err)
		}
		a.logger.Info("💾 Graph saved.", "path", a.config.SaveGraph)
	}
	return nil
}
