package graph

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/vk/lockstepgrid/internal/address"
	"github.com/vk/lockstepgrid/internal/ctxlog"
	"github.com/vk/lockstepgrid/internal/registry"
	"github.com/vk/lockstepgrid/internal/spec"
	"github.com/vk/lockstepgrid/internal/topology"
)

// Validate checks that the graph can be registered. reg may be nil, in which
// case the parity checks against registered node kinds and bridges are
// skipped.
func (g *Graph) Validate(ctx context.Context, reg *registry.Registry) error {
	return g.view(func(t *tx) error {
		_, err := t.validate(ctx, reg)
		return err
	})
}

// validate runs every check in order and returns the bridges able to run
// all objects of the graph.
func (t *tx) validate(ctx context.Context, reg *registry.Registry) ([]string, error) {
	logger := ctxlog.FromContext(ctx)

	if err := t.checkSchemas(); err != nil {
		return nil, err
	}
	for _, l := range t.Connects {
		if err := t.checkChain(l); err != nil {
			return nil, err
		}
	}
	logger.Debug("Type chains are consistent.", "connections", len(t.Connects))

	if err := t.checkAddresses(); err != nil {
		return nil, err
	}
	logger.Debug("Every selected input has an address.")

	deps, err := t.dependencyGraph()
	if err != nil {
		return nil, err
	}
	episode := deps.Filter(func(e topology.Edge) bool { return !e.StartWithMsg })
	if cycles := episode.Cycles(); len(cycles) > 0 {
		return nil, &CycleError{Cycles: cycles}
	}
	if stale := deps.Stale(); len(stale) > 0 {
		return nil, &StaleError{Stale: stale}
	}
	if deps.HasEdge(func(e topology.Edge) bool { return e.Feedthrough }) {
		resetGraph := deps.Filter(func(e topology.Edge) bool { return !e.Feedthrough })
		if stale := resetGraph.Stale(); len(stale) > 0 {
			return nil, &StaleError{Stale: stale, Reset: true}
		}
	}
	logger.Debug("Dependency graph is acyclic and fully active.", "vertices", len(deps.Vertices()))

	compatible, err := t.checkCompatibility()
	if err != nil {
		return nil, err
	}
	if reg != nil {
		if compatible, err = t.checkRegistry(reg, compatible); err != nil {
			return nil, err
		}
	}
	logger.Debug("Graph is valid.", "bridges", compatible)
	return compatible, nil
}

func (t *tx) checkSchemas() error {
	for _, name := range t.names() {
		if address.IsFixed(name) {
			continue
		}
		if err := spec.Validate(t.Nodes[name].Params); err != nil {
			return fmt.Errorf("%w: %w", ErrConfig, err)
		}
	}
	return nil
}

func (t *tx) isConnectedTarget(r Ref) bool {
	for _, l := range t.Connects {
		if l.Target == r {
			return true
		}
	}
	return false
}

func (t *tx) checkAddresses() error {
	var errs []string
	for _, name := range t.names() {
		e := t.Nodes[name].Params
		if name == address.Actions {
			for _, cname := range e.SelectedNames(address.Outputs) {
				if !t.hasSource(ActionRef(cname)) {
					errs = append(errs, fmt.Sprintf("action %q is not connected to any target", cname))
				}
			}
			continue
		}

		kinds := []address.Kind{address.Inputs, address.Targets, address.Feedthroughs}
		if e.Kind == spec.ObjectKind {
			kinds = []address.Kind{address.Actuators}
		}
		for _, kind := range kinds {
			for _, cname := range e.SelectedNames(kind) {
				if !t.isConnectedTarget(Ref{Name: name, Component: kind, CName: cname}) {
					errs = append(errs, fmt.Sprintf("%q was selected in %s of %q, but no address was specified. Either deselect it, or connect it", cname, kind, name))
				}
			}
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: address resolution failed:\n- %s", ErrConfig, strings.Join(errs, "\n- "))
	}
	return nil
}

func (t *tx) vertexOf(r Ref) string {
	if t.Nodes[r.Name].Params.Kind == spec.ObjectKind {
		return r.Name + "/" + string(r.Component)
	}
	return r.Name
}

// dependencyGraph builds the multigraph over nodes and object sensor and
// actuator groups. Only connections from outputs or sensors into inputs,
// actuators or feedthroughs are edges.
func (t *tx) dependencyGraph() (*topology.Graph, error) {
	g := topology.New()
	for _, name := range t.names() {
		e := t.Nodes[name].Params
		switch {
		case e.Kind == spec.ObjectKind:
			if len(e.SelectedNames(address.Sensors)) > 0 {
				g.AddVertex(name+"/"+string(address.Sensors), topology.AlwaysActive())
			}
			if len(e.SelectedNames(address.Actuators)) > 0 {
				g.AddVertex(name+"/"+string(address.Actuators), topology.RemainActive())
			}
		case name == address.Actions:
			g.AddVertex(name, topology.AlwaysActive())
		default:
			g.AddVertex(name)
		}
	}

	// The environment only sets new actions once the observations of the
	// previous step are in.
	err := g.AddEdge(topology.Edge{
		From:         topology.Hop{Node: address.Observations, Component: string(address.Outputs), CName: "set"},
		To:           topology.Hop{Node: address.Actions, Component: string(address.Inputs), CName: reservedObservation},
		StartWithMsg: true,
	})
	if err != nil {
		return nil, err
	}

	for _, l := range t.Connects {
		switch l.Source.Component {
		case address.Outputs, address.Sensors:
		default:
			continue
		}
		switch l.Target.Component {
		case address.Inputs, address.Actuators, address.Feedthroughs:
		default:
			continue
		}
		sep, err := t.endpoint(l.Source)
		if err != nil {
			return nil, err
		}
		err = g.AddEdge(topology.Edge{
			From:         topology.Hop{Node: t.vertexOf(l.Source), Component: string(l.Source.Component), CName: l.Source.CName},
			To:           topology.Hop{Node: t.vertexOf(l.Target), Component: string(l.Target.Component), CName: l.Target.CName},
			Feedthrough:  l.Target.Component == address.Feedthroughs,
			StartWithMsg: sep.StartWithMsg,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrConfig, l, err)
		}
	}
	return g, nil
}

func (t *tx) objects() []*spec.Entity {
	var out []*spec.Entity
	for _, name := range t.names() {
		if e := t.Nodes[name].Params; e.Kind == spec.ObjectKind {
			out = append(out, e)
		}
	}
	return out
}

func supports(e *spec.Entity, bridge string) bool {
	impl, ok := e.Bridges[bridge]
	if !ok {
		return false
	}
	for _, kind := range spec.AllowedKinds(spec.ObjectKind) {
		for _, cname := range e.SelectedNames(kind) {
			if _, ok := impl.For(kind)[cname]; !ok {
				return false
			}
		}
	}
	return true
}

// checkCompatibility returns the bridges that implement every selected
// component of every object. Without objects there is nothing to check.
func (t *tx) checkCompatibility() ([]string, error) {
	objects := t.objects()
	if len(objects) == 0 {
		return nil, nil
	}

	seen := make(map[string]bool)
	var bridges []string
	for _, o := range objects {
		for b := range o.Bridges {
			if !seen[b] {
				seen[b] = true
				bridges = append(bridges, b)
			}
		}
	}
	sort.Strings(bridges)

	var compatible []string
	rows := make([][]string, len(objects))
	for i, o := range objects {
		rows[i] = []string{o.Name, o.Type}
	}
	for _, b := range bridges {
		all := true
		for i, o := range objects {
			mark := " "
			if supports(o, b) {
				mark = "x"
			} else {
				all = false
			}
			rows[i] = append(rows[i], mark)
		}
		if all {
			compatible = append(compatible, b)
		}
	}
	if len(compatible) == 0 {
		return nil, &CompatibilityError{Table: renderSupport(bridges, rows)}
	}
	return compatible, nil
}

func renderSupport(bridges []string, rows [][]string) string {
	headers := append([]string{"name", "object"}, bridges...)
	return table.New().
		Border(lipgloss.NormalBorder()).
		Headers(headers...).
		Rows(rows...).
		String()
}

// checkRegistry matches node entities against their registered kinds and
// narrows the compatible bridges to the registered ones that implement every
// object with matching node kinds.
func (t *tx) checkRegistry(reg *registry.Registry, compatible []string) ([]string, error) {
	var errs []string
	for _, name := range t.names() {
		e := t.Nodes[name].Params
		if address.IsFixed(name) || e.Kind != spec.NodeKind {
			continue
		}
		errs = append(errs, reg.CheckEntity(e)...)
	}

	objects := t.objects()
	var usable []string
	var bridgeErrs []string
	for _, b := range compatible {
		var errsForBridge []string
		for _, o := range objects {
			errsForBridge = append(errsForBridge, reg.CheckObject(o, b)...)
		}
		if len(errsForBridge) == 0 {
			usable = append(usable, b)
		}
		bridgeErrs = append(bridgeErrs, errsForBridge...)
	}
	if len(objects) > 0 && len(usable) == 0 {
		errs = append(errs, bridgeErrs...)
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("%w: registry validation failed:\n- %s", ErrConfig, strings.Join(errs, "\n- "))
	}
	return usable, nil
}
