package graph

import (
	"fmt"

	"github.com/vk/lockstepgrid/internal/address"
	"github.com/vk/lockstepgrid/internal/msgtype"
	"github.com/vk/lockstepgrid/internal/spec"
)

// Add inserts entities into the graph. Names must be unique and cannot be
// one of the synthetic names.
func (g *Graph) Add(entities ...*spec.Entity) error {
	return g.mutate(func(t *tx) error {
		for _, e := range entities {
			if err := t.add(e); err != nil {
				return err
			}
		}
		return nil
	})
}

func (t *tx) add(e *spec.Entity) error {
	if e == nil {
		return configErr("cannot add a nil entity")
	}
	if address.IsFixed(e.Name) {
		return configErr("name %q is reserved", e.Name)
	}
	if _, exists := t.Nodes[e.Name]; exists {
		return configErr("there is already a node or object registered in this graph with name %q", e.Name)
	}
	if err := spec.Validate(e); err != nil {
		return fmt.Errorf("%w: %w", ErrConfig, err)
	}
	params, def := e.Clone(), e.Clone()
	spec.NormalizeConfig(params.Config)
	spec.NormalizeConfig(def.Config)
	t.Nodes[e.Name] = &entry{Params: params, Default: def}
	return nil
}

// Remove disconnects every connection touching the named entities and then
// removes them. Actions and observations left without a connection are
// removed as well.
func (g *Graph) Remove(names ...string) error {
	return g.mutate(func(t *tx) error {
		for _, name := range names {
			if err := t.remove(name); err != nil {
				return err
			}
		}
		return nil
	})
}

func (t *tx) remove(name string) error {
	if _, err := t.entity(name); err != nil {
		return err
	}
	if name == address.Actions || name == address.Observations {
		return configErr("%q cannot be removed", name)
	}
	for _, l := range append([]Link(nil), t.Connects...) {
		if l.Source.Name != name && l.Target.Name != name {
			continue
		}
		if err := t.disconnect(l); err != nil {
			return err
		}
		if err := t.prune(l); err != nil {
			return err
		}
	}
	delete(t.Nodes, name)
	return nil
}

// Connect adds a connection. Action and Observation stand in for a source
// on env/actions and a target on env/observations; both are created on
// first use.
func (g *Graph) Connect(c Connection) error {
	return g.mutate(func(t *tx) error { return t.connect(c) })
}

func (c Connection) check() error {
	if c.Source != nil && c.Action != "" {
		return configErr("cannot specify a source when connecting action %q, the action acts as the source", c.Action)
	}
	if c.Target != nil && c.Observation != "" {
		return configErr("cannot specify a target when connecting observation %q, the observation acts as the target", c.Observation)
	}
	if c.Action != "" && c.Observation != "" {
		return configErr("cannot connect an action directly to an observation")
	}
	if c.Source == nil && c.Action == "" {
		return configErr("either a source or an action is required")
	}
	if c.Target == nil && c.Observation == "" {
		return configErr("either a target or an observation is required")
	}
	return nil
}

func (c Connection) link() Link {
	var l Link
	if c.Source != nil {
		l.Source = *c.Source
	} else {
		l.Source = ActionRef(c.Action)
	}
	if c.Target != nil {
		l.Target = *c.Target
	} else {
		l.Target = ObservationRef(c.Observation)
	}
	return l
}

func (t *tx) connect(c Connection) error {
	if err := c.check(); err != nil {
		return err
	}
	l := c.link()
	converter := c.Converter

	switch {
	case c.Action != "":
		if err := t.addAction(c.Action); err != nil {
			return err
		}
		if err := t.connectAction(c.Action, l.Target, converter); err != nil {
			return err
		}
	case c.Observation != "":
		if err := t.addObservation(c.Observation); err != nil {
			return err
		}
		var err error
		if converter, err = t.connectObservation(l.Source, c.Observation, converter); err != nil {
			return err
		}
	}
	return t.link(l, converter, c.Window, c.Delay)
}

func (t *tx) link(l Link, converter *msgtype.Ref, window *int, delay *float64) error {
	src, tgt := l.Source, l.Target
	switch src.Component {
	case address.Outputs, address.Sensors, address.States:
	default:
		return configErr("%s cannot act as a source", src)
	}
	switch tgt.Component {
	case address.Inputs, address.Feedthroughs, address.Actuators, address.Targets:
	default:
		return configErr("%s cannot act as a target", tgt)
	}
	if (src.Component == address.States) != (tgt.Component == address.Targets) {
		return configErr("targets can only be connected to states, got %s", l)
	}

	if err := t.isSelected(src); err != nil {
		return err
	}
	if tgt.Component == address.Feedthroughs {
		if window != nil && *window <= 0 {
			return configErr("feedthroughs must have a window > 0, else no action can be fed through (%s)", tgt)
		}
	} else if window != nil && *window < 0 {
		return configErr("window of %s cannot be negative", tgt)
	}
	if delay != nil && *delay < 0 {
		return configErr("delay of %s cannot be negative", tgt)
	}
	if err := t.isSelected(tgt); err != nil {
		return err
	}
	for _, existing := range t.Connects {
		if existing.Target == tgt {
			return configErr("%s is already connected to %s", tgt, existing.Source)
		}
	}

	ep, err := t.endpoint(tgt)
	if err != nil {
		return err
	}
	if converter != nil {
		ep.Converter = converter.Clone()
	}
	if window != nil {
		ep.Window = *window
	}
	if delay != nil {
		ep.Delay = *delay
	}

	if err := t.checkChain(l); err != nil {
		return err
	}
	t.Connects = append(t.Connects, l)
	return nil
}

// connectAction infers the wire type of an action from the first target it
// is connected to. Later targets must agree on that wire type.
func (t *tx) connectAction(action string, target Ref, converter *msgtype.Ref) error {
	act, err := t.endpoint(ActionRef(action))
	if err != nil {
		return err
	}
	kind := target.Component
	if kind == address.Feedthroughs {
		kind = address.Outputs
	}
	tep, err := t.endpoint(Ref{Name: target.Name, Component: kind, CName: target.CName})
	if err != nil {
		return err
	}
	if tep.SpaceConverter == nil {
		return configErr("%q does not have a space_converter defined under %s of %q", target.CName, kind, target.Name)
	}

	declared, err := msgtype.Parse(tep.MsgType)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConfig, err)
	}
	wire := declared
	if converter != nil {
		if wire, err = t.converters.Opposite(declared, converter); err != nil {
			return fmt.Errorf("%w: %w", ErrConfig, err)
		}
	}

	if act.MsgType != "" {
		current, err := msgtype.Parse(act.MsgType)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrConfig, err)
		}
		currentWire, err := t.converters.Opposite(current, act.Converter)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrConfig, err)
		}
		if !wire.Equals(currentWire) {
			return configErr("conflicting msg_types for action %q that is already used in another connection: %s versus %s (connection to %s)",
				action, msgtype.String(currentWire), msgtype.String(wire), target)
		}
		if !tep.SpaceConverter.Equal(act.Converter) {
			t.logger.Warn("Conflicting space_converter for action, keeping the first one.",
				"action", action, "target", target.String(), "kept", act.Converter.String(), "ignored", tep.SpaceConverter.String())
		}
		return nil
	}

	if !wire.Equals(declared) {
		return configErr("cannot connect action %q through a converter that changes the msg_type of %s, it would not be compatible with its space_converter", action, target)
	}
	space, err := t.converters.Opposite(wire, tep.SpaceConverter)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConfig, err)
	}
	act.MsgType = msgtype.String(space)
	act.Converter = tep.SpaceConverter.Clone()
	return nil
}

// connectObservation derives the observation type from its source and
// returns the converter the observation input must apply.
func (t *tx) connectObservation(source Ref, observation string, converter *msgtype.Ref) (*msgtype.Ref, error) {
	obs, err := t.endpoint(ObservationRef(observation))
	if err != nil {
		return nil, err
	}
	sep, err := t.endpoint(source)
	if err != nil {
		return nil, err
	}
	if converter == nil && sep.SpaceConverter == nil {
		return nil, configErr("%q does not have a space_converter defined under %s of %q. Either declare it there, or add an input converter to this connection", source.CName, source.Component, source.Name)
	}
	if obs.MsgType != "" {
		return nil, configErr("observation %q is already connected", observation)
	}

	declared, err := msgtype.Parse(sep.MsgType)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfig, err)
	}
	wire, err := t.converters.Opposite(declared, sep.Converter)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfig, err)
	}
	if converter == nil {
		converter = sep.SpaceConverter
	}
	space, err := t.converters.Opposite(wire, converter)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfig, err)
	}
	obs.MsgType = msgtype.String(space)
	obs.Window = 1
	return converter.Clone(), nil
}

func (t *tx) checkChain(l Link) error {
	sep, err := t.endpoint(l.Source)
	if err != nil {
		return err
	}
	tep, err := t.endpoint(l.Target)
	if err != nil {
		return err
	}
	declared, err := t.declaredType(l.Target)
	if err != nil {
		return err
	}

	chain := &ChainError{
		Source:          l.Source,
		Target:          l.Target,
		SourceType:      sep.MsgType,
		OutputConverter: sep.Converter.String(),
		InputConverter:  tep.Converter.String(),
		TargetType:      declared,
	}
	src, err := msgtype.Parse(sep.MsgType)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrConfig, l.Source, err)
	}
	want, err := msgtype.Parse(declared)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrConfig, l.Target, err)
	}
	wire, err := t.converters.Opposite(src, sep.Converter)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrConfig, l.Source, err)
	}
	chain.WireType = msgtype.String(wire)
	inferred, err := t.converters.Opposite(wire, tep.Converter)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", ErrConfig, l.Target, err)
	}
	chain.InferredType = msgtype.String(inferred)
	if !inferred.Equals(want) {
		return chain
	}
	return nil
}

// Disconnect removes a connection and restores the target's declared
// parameters. With remove set, an observation is deleted and an action is
// deleted once no connection uses it anymore.
func (g *Graph) Disconnect(c Connection, remove bool) error {
	return g.mutate(func(t *tx) error {
		if err := c.check(); err != nil {
			return err
		}
		l := c.link()
		if err := t.disconnect(l); err != nil {
			return err
		}
		if remove {
			return t.prune(l)
		}
		return nil
	})
}

func (t *tx) disconnect(l Link) error {
	if err := t.isSelected(l.Source); err != nil {
		return err
	}
	if err := t.isSelected(l.Target); err != nil {
		return err
	}
	idx := -1
	for i, existing := range t.Connects {
		if existing == l {
			idx = i
			break
		}
	}
	if idx < 0 {
		return configErr("the connection %s cannot be removed, because it does not exist", l)
	}
	t.Connects = append(t.Connects[:idx:idx], t.Connects[idx+1:]...)

	if l.Source.Name == address.Actions && !t.hasSource(l.Source) {
		t.Nodes[address.Actions].Params.SetEndpoint(address.Outputs, l.Source.CName, &spec.Endpoint{})
	}

	target := t.Nodes[l.Target.Name]
	if l.Target.Name == address.Observations {
		target.Params.SetEndpoint(address.Inputs, l.Target.CName, &spec.Endpoint{})
		return nil
	}
	if def, ok := target.Default.Endpoint(l.Target.Component, l.Target.CName); ok {
		target.Params.SetEndpoint(l.Target.Component, l.Target.CName, def.Clone())
	}
	return nil
}

// prune drops the boundary endpoints of a removed connection that nothing
// references anymore.
func (t *tx) prune(l Link) error {
	if l.Source.Name == address.Actions && !t.hasSource(l.Source) {
		if err := t.removeAction(l.Source.CName); err != nil {
			return err
		}
	}
	if l.Target.Name == address.Observations {
		return t.removeObservation(l.Target.CName)
	}
	return nil
}

func (t *tx) disconnectComponent(r Ref) error {
	for _, l := range append([]Link(nil), t.Connects...) {
		if l.Source == r || l.Target == r {
			if err := t.disconnect(l); err != nil {
				return err
			}
		}
	}
	return nil
}
