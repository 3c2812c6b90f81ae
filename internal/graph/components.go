package graph

import (
	"github.com/vk/lockstepgrid/internal/address"
	"github.com/vk/lockstepgrid/internal/spec"
)

const (
	reservedAction      = "set"
	reservedObservation = "actions_set"
)

// AddComponent selects a declared component. On env/actions and
// env/observations it creates a disconnected action or observation.
func (g *Graph) AddComponent(r Ref) error {
	return g.mutate(func(t *tx) error {
		switch r.Name {
		case address.Actions:
			if r.Component != address.Outputs {
				return configErr("actions are outputs, got %s", r)
			}
			return t.addAction(r.CName)
		case address.Observations:
			if r.Component != address.Inputs {
				return configErr("observations are inputs, got %s", r)
			}
			return t.addObservation(r.CName)
		}

		kind := r.Component
		if kind == address.Feedthroughs {
			kind = address.Outputs
		}
		e, err := t.entity(r.Name)
		if err != nil {
			return err
		}
		if _, ok := e.Params.Endpoint(kind, r.CName); !ok {
			return configErr("%q is not defined in %q under %s", r.CName, r.Name, kind)
		}
		if e.Params.IsSelected(kind, r.CName) {
			return configErr("%q already selected in %q under %s", r.CName, r.Name, kind)
		}
		e.Params.Select(kind, r.CName)
		if _, ok := e.Params.Endpoint(address.Feedthroughs, r.CName); ok && kind == address.Outputs {
			e.Params.Select(address.Feedthroughs, r.CName)
		}
		return nil
	})
}

// RemoveComponent disconnects a component and removes it from the active
// component list. Actions and observations must already be disconnected.
func (g *Graph) RemoveComponent(r Ref) error {
	return g.mutate(func(t *tx) error {
		switch r.Name {
		case address.Actions:
			return t.removeAction(r.CName)
		case address.Observations:
			return t.removeObservation(r.CName)
		}

		kind := r.Component
		if kind == address.Feedthroughs {
			kind = address.Outputs
		}
		ref := Ref{Name: r.Name, Component: kind, CName: r.CName}
		if err := t.isSelected(ref); err != nil {
			return err
		}
		if err := t.disconnectComponent(ref); err != nil {
			return err
		}
		e := t.Nodes[r.Name].Params
		if kind == address.Outputs {
			if _, ok := e.Endpoint(address.Feedthroughs, r.CName); ok {
				if err := t.disconnectComponent(Ref{Name: r.Name, Component: address.Feedthroughs, CName: r.CName}); err != nil {
					return err
				}
				e.Deselect(address.Feedthroughs, r.CName)
			}
		}
		e.Deselect(kind, r.CName)
		return nil
	})
}

func (t *tx) addAction(action string) error {
	if action == reservedAction {
		return configErr("cannot define an action with the reserved name %q", action)
	}
	if err := address.ValidCName(action); err != nil {
		return configErr("action: %v", err)
	}
	acts := t.Nodes[address.Actions].Params
	if _, exists := acts.Endpoint(address.Outputs, action); exists {
		return nil
	}
	acts.SetEndpoint(address.Outputs, action, &spec.Endpoint{})
	acts.Select(address.Outputs, action)
	return nil
}

func (t *tx) addObservation(observation string) error {
	if observation == reservedObservation {
		return configErr("cannot define an observation with the reserved name %q", observation)
	}
	if err := address.ValidCName(observation); err != nil {
		return configErr("observation: %v", err)
	}
	obs := t.Nodes[address.Observations].Params
	if ep, exists := obs.Endpoint(address.Inputs, observation); exists {
		if ep.MsgType != "" {
			return configErr("observation %q already exists and is connected", observation)
		}
		return nil
	}
	obs.SetEndpoint(address.Inputs, observation, &spec.Endpoint{})
	obs.Select(address.Inputs, observation)
	return nil
}

func (t *tx) removeAction(action string) error {
	ref := ActionRef(action)
	for _, l := range t.Connects {
		if l.Source == ref {
			return configErr("action %q cannot be removed, because it is not disconnected. Connection with target %s still exists", action, l.Target)
		}
	}
	acts := t.Nodes[address.Actions].Params
	if _, ok := acts.Endpoint(address.Outputs, action); !ok {
		return configErr("action %q cannot be removed, because it does not exist", action)
	}
	acts.DeleteEndpoint(address.Outputs, action)
	return nil
}

func (t *tx) removeObservation(observation string) error {
	ref := ObservationRef(observation)
	for _, l := range t.Connects {
		if l.Target == ref {
			return configErr("observation %q cannot be removed, because it is not disconnected. Connection with source %s still exists", observation, l.Source)
		}
	}
	obs := t.Nodes[address.Observations].Params
	if _, ok := obs.Endpoint(address.Inputs, observation); !ok {
		return configErr("observation %q cannot be removed, because it does not exist", observation)
	}
	obs.DeleteEndpoint(address.Inputs, observation)
	return nil
}

// Rename renames a node or object and every connection referring to it.
// The synthetic entities keep their names.
func (g *Graph) Rename(oldName, newName string) error {
	return g.mutate(func(t *tx) error {
		e, err := t.entity(oldName)
		if err != nil {
			return err
		}
		if address.IsFixed(oldName) {
			return configErr("node name %q is fixed and cannot be changed", oldName)
		}
		if address.IsFixed(newName) {
			return configErr("name %q is reserved", newName)
		}
		if _, exists := t.Nodes[newName]; exists {
			return configErr("there is already a node or object registered in this graph with name %q", newName)
		}
		if err := address.ValidOwner(newName); err != nil {
			return configErr("%v", err)
		}

		delete(t.Nodes, oldName)
		e.Params.Name = newName
		e.Default.Name = newName
		t.Nodes[newName] = e

		for i := range t.Connects {
			if t.Connects[i].Source.Name == oldName {
				t.Connects[i].Source.Name = newName
			}
			if t.Connects[i].Target.Name == oldName {
				t.Connects[i].Target.Name = newName
			}
		}
		return nil
	})
}

// RenameComponent renames an action or an observation. Components of nodes
// and objects keep the names their implementation relies on.
func (g *Graph) RenameComponent(r Ref, newCName string) error {
	return g.mutate(func(t *tx) error {
		if r.Name != address.Actions && r.Name != address.Observations {
			return configErr("cannot change %q of %q. Only actions and observations can be renamed", r.CName, r.Name)
		}
		if _, err := t.endpoint(r); err != nil {
			return err
		}
		if (r.Name == address.Actions && newCName == reservedAction) || (r.Name == address.Observations && newCName == reservedObservation) {
			return configErr("%q is a reserved name", newCName)
		}
		if err := address.ValidCName(newCName); err != nil {
			return configErr("%v", err)
		}
		e := t.Nodes[r.Name].Params
		if _, exists := e.Endpoint(r.Component, newCName); exists {
			return configErr("%q already defined in %q under %s", newCName, r.Name, r.Component)
		}

		ep, _ := e.Endpoint(r.Component, r.CName)
		selected := e.SelectedNames(r.Component)
		e.DeleteEndpoint(r.Component, r.CName)
		e.SetEndpoint(r.Component, newCName, ep)
		for i, name := range selected {
			if name == r.CName {
				selected[i] = newCName
			}
		}
		if len(selected) > 0 {
			e.Selected[r.Component] = selected
		}

		renamed := Ref{Name: r.Name, Component: r.Component, CName: newCName}
		for i := range t.Connects {
			if t.Connects[i].Source == r {
				t.Connects[i].Source = renamed
			}
			if t.Connects[i].Target == r {
				t.Connects[i].Target = renamed
			}
		}
		return nil
	})
}
