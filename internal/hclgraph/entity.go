package hclgraph

import (
	"fmt"
	"sort"
	"strings"

	"github.com/vk/lockstepgrid/internal/address"
	"github.com/vk/lockstepgrid/internal/msgtype"
	"github.com/vk/lockstepgrid/internal/registry"
	"github.com/vk/lockstepgrid/internal/spec"
)

type entityDecl struct {
	*hclEntity
	object bool
}

// blocks returns the endpoint blocks in declaration order. Outputs come
// before feedthroughs, which refer to them.
func (e *entityDecl) blocks() []struct {
	kind address.Kind
	eps  []*hclEndpoint
} {
	return []struct {
		kind address.Kind
		eps  []*hclEndpoint
	}{
		{address.Inputs, e.Inputs},
		{address.Outputs, e.Outputs},
		{address.States, e.States},
		{address.Targets, e.Targets},
		{address.Feedthroughs, e.Feedthroughs},
		{address.Sensors, e.Sensors},
		{address.Actuators, e.Actuators},
	}
}

func (e *entityDecl) build(reg *registry.Registry) (*spec.Entity, error) {
	label := fmt.Sprintf("node %q", e.Name)
	b := spec.NewNode(e.Name, e.Type)
	if e.object {
		label = fmt.Sprintf("object %q", e.Name)
		b = spec.NewObject(e.Name, e.Type)
	}
	if e.Rate != nil {
		b.Rate(*e.Rate)
	}

	config, err := configValue(e.Config)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", label, err)
	}
	for _, k := range sortedKeys(config) {
		b.Config(k, config[k])
	}

	declared := 0
	for _, group := range e.blocks() {
		if len(group.eps) == 0 {
			continue
		}
		if !allows(e.object, group.kind) {
			return nil, fmt.Errorf("%s: %s cannot be declared here", label, group.kind)
		}
		for _, ep := range group.eps {
			if err := addEndpoint(b, group.kind, ep); err != nil {
				return nil, fmt.Errorf("%s, %s %q: %w", label, group.kind, ep.Name, err)
			}
			declared++
		}
	}

	if len(e.Bridges) > 0 && !e.object {
		return nil, fmt.Errorf("%s: only objects have bridge implementations", label)
	}
	for _, br := range e.Bridges {
		b.Bridge(br.Name, spec.Implementation{Sensors: br.Sensors, Actuators: br.Actuators, States: br.States})
	}

	if declared == 0 && !e.object && reg != nil {
		if err := fromDeclaration(b, reg, e.Type); err != nil {
			return nil, fmt.Errorf("%s: %w", label, err)
		}
	}
	return b.Build()
}

func allows(object bool, kind address.Kind) bool {
	k := spec.NodeKind
	if object {
		k = spec.ObjectKind
	}
	for _, a := range spec.AllowedKinds(k) {
		if a == kind {
			return true
		}
	}
	return false
}

func addEndpoint(b *spec.Builder, kind address.Kind, ep *hclEndpoint) error {
	var opts []spec.EndpointOption
	if ep.Window != nil {
		opts = append(opts, spec.WithWindow(*ep.Window))
	}
	if ep.Delay != nil {
		opts = append(opts, spec.WithDelay(*ep.Delay))
	}
	if ep.StartWithMsg {
		opts = append(opts, spec.StartWithMsg())
	}
	if ep.Selected != nil && !*ep.Selected {
		opts = append(opts, spec.Unselected())
	}
	conv, err := ep.Converter.ref()
	if err != nil {
		return err
	}
	if conv != nil {
		opts = append(opts, spec.WithConverter(conv))
	}
	space, err := ep.SpaceConverter.ref()
	if err != nil {
		return err
	}
	if space != nil {
		opts = append(opts, spec.WithSpaceConverter(space))
	}

	ty, err := msgType(ep.Type)
	if err != nil {
		return err
	}
	if kind == address.Feedthroughs {
		if ty != "" {
			return fmt.Errorf("a feedthrough takes the type of its output")
		}
		b.Feedthrough(ep.Name, opts...)
		return nil
	}
	if ty == "" {
		return fmt.Errorf("type is required")
	}

	switch kind {
	case address.Inputs:
		b.Input(ep.Name, ty, opts...)
	case address.Outputs:
		b.Output(ep.Name, ty, opts...)
	case address.States:
		b.State(ep.Name, ty, opts...)
	case address.Targets:
		b.Target(ep.Name, ty, opts...)
	case address.Sensors:
		b.Sensor(ep.Name, ty, opts...)
	case address.Actuators:
		b.Actuator(ep.Name, ty, opts...)
	}
	return nil
}

// fromDeclaration declares the endpoints of a registered node kind. They
// may face the environment directly.
func fromDeclaration(b *spec.Builder, reg *registry.Registry, kind string) error {
	rn, ok := reg.Node(kind)
	if !ok {
		return fmt.Errorf("declares no endpoints and node kind %q is not registered", kind)
	}
	identity := spec.WithSpaceConverter(&msgtype.Ref{ID: msgtype.IdentityID})
	d := rn.Declaration
	for _, k := range sortedKeys(d.Inputs) {
		b.Input(k, d.Inputs[k], identity)
	}
	for _, k := range sortedKeys(d.Outputs) {
		b.Output(k, d.Outputs[k], identity)
	}
	for _, k := range sortedKeys(d.States) {
		b.State(k, d.States[k])
	}
	for _, k := range sortedKeys(d.Targets) {
		b.Target(k, d.Targets[k])
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func aggregate(summary string, errs []string) error {
	return fmt.Errorf("%s:\n- %s", summary, strings.Join(errs, "\n- "))
}
