package graph

import (
	"context"
	"fmt"
	"slices"

	"github.com/vk/lockstepgrid/internal/address"
	"github.com/vk/lockstepgrid/internal/ctxlog"
	"github.com/vk/lockstepgrid/internal/msgtype"
	"github.com/vk/lockstepgrid/internal/registry"
	"github.com/vk/lockstepgrid/internal/spec"
)

// Port is one resolved endpoint of a registered entity. For inputs,
// targets, feedthroughs and actuators, Address is the address of the
// connected source; for everything else it is the endpoint's own address.
type Port struct {
	CName          string       `json:"cname" yaml:"cname"`
	Address        string       `json:"address" yaml:"address"`
	MsgType        string       `json:"msg_type" yaml:"msg_type"`
	Converter      *msgtype.Ref `json:"converter,omitempty" yaml:"converter,omitempty"`
	SpaceConverter *msgtype.Ref `json:"space_converter,omitempty" yaml:"space_converter,omitempty"`
	Window         int          `json:"window,omitempty" yaml:"window,omitempty"`
	Delay          float64      `json:"delay,omitempty" yaml:"delay,omitempty"`
	StartWithMsg   bool         `json:"start_with_msg,omitempty" yaml:"start_with_msg,omitempty"`
}

// Bundle is the parameter set a runtime needs to run one entity.
type Bundle struct {
	Name           string                  `json:"name" yaml:"name"`
	Kind           spec.Kind               `json:"kind" yaml:"kind"`
	Type           string                  `json:"type" yaml:"type"`
	Rate           float64                 `json:"rate" yaml:"rate"`
	Config         map[string]any          `json:"config,omitempty" yaml:"config,omitempty"`
	Ports          map[address.Kind][]Port `json:"ports,omitempty" yaml:"ports,omitempty"`
	Implementation *spec.Implementation    `json:"implementation,omitempty" yaml:"implementation,omitempty"`
}

// Port looks up a resolved endpoint.
func (b *Bundle) Port(kind address.Kind, cname string) (Port, bool) {
	for _, p := range b.Ports[kind] {
		if p.CName == cname {
			return p, true
		}
	}
	return Port{}, false
}

// Compiled is the frozen result of Register.
type Compiled struct {
	Namespace string
	Bridge    string
	Bundles   []*Bundle
}

// Bundle returns the bundle of an entity.
func (c *Compiled) Bundle(name string) (*Bundle, bool) {
	for _, b := range c.Bundles {
		if b.Name == name {
			return b, true
		}
	}
	return nil, false
}

// Nodes returns the bundles of the user nodes, without the synthetic ones.
func (c *Compiled) Nodes() []*Bundle {
	var out []*Bundle
	for _, b := range c.Bundles {
		if b.Kind == spec.NodeKind && !address.IsFixed(b.Name) {
			out = append(out, b)
		}
	}
	return out
}

// Objects returns the bundles of the objects.
func (c *Compiled) Objects() []*Bundle {
	var out []*Bundle
	for _, b := range c.Bundles {
		if b.Kind == spec.ObjectKind {
			out = append(out, b)
		}
	}
	return out
}

// RegisterOptions controls Register.
type RegisterOptions struct {
	// Namespace prefixes every address. Required.
	Namespace string
	// Bridge selects the bridge for the objects. When empty, the first
	// compatible bridge in name order is used.
	Bridge string
}

// Register validates the graph and freezes it into per-entity bundles with
// resolved addresses. Nothing is returned when validation fails.
func (g *Graph) Register(ctx context.Context, reg *registry.Registry, opts RegisterOptions) (*Compiled, error) {
	if err := address.ValidName(opts.Namespace); err != nil {
		return nil, configErr("namespace: %v", err)
	}

	var compiled *Compiled
	err := g.view(func(t *tx) error {
		compatible, err := t.validate(ctx, reg)
		if err != nil {
			return err
		}

		bridge := opts.Bridge
		switch {
		case len(t.objects()) == 0:
		case bridge == "":
			bridge = compatible[0]
		case !slices.Contains(compatible, bridge):
			return configErr("bridge %q cannot run every object, compatible bridges are %q", bridge, compatible)
		}

		compiled = &Compiled{Namespace: opts.Namespace, Bridge: bridge}
		for _, name := range t.names() {
			compiled.Bundles = append(compiled.Bundles, t.bundle(opts.Namespace, bridge, name))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("graph registration aborted: %w", err)
	}

	ctxlog.FromContext(ctx).Info("✅ Graph registered.",
		"namespace", compiled.Namespace, "bridge", compiled.Bridge, "entities", len(compiled.Bundles))
	return compiled, nil
}

func (t *tx) bundle(ns, bridge, name string) *Bundle {
	e := t.Nodes[name].Params.Clone()
	b := &Bundle{
		Name:   e.Name,
		Kind:   e.Kind,
		Type:   e.Type,
		Rate:   e.Rate,
		Config: e.Config,
		Ports:  make(map[address.Kind][]Port),
	}
	if e.Kind == spec.ObjectKind {
		b.Implementation = e.Bridges[bridge]
	}

	sources := make(map[Ref]Ref, len(t.Connects))
	for _, l := range t.Connects {
		sources[l.Target] = l.Source
	}

	for _, kind := range spec.AllowedKinds(e.Kind) {
		for _, cname := range e.SelectedNames(kind) {
			ep, _ := e.Endpoint(kind, cname)
			own := Ref{Name: name, Component: kind, CName: cname}
			addr := address.New(ns, name, kind, cname)
			if src, ok := sources[own]; ok {
				addr = address.New(ns, src.Name, src.Component, src.CName)
			}
			b.Ports[kind] = append(b.Ports[kind], Port{
				CName:          cname,
				Address:        addr.String(),
				MsgType:        ep.MsgType,
				Converter:      ep.Converter,
				SpaceConverter: ep.SpaceConverter,
				Window:         ep.Window,
				Delay:          ep.Delay,
				StartWithMsg:   ep.StartWithMsg,
			})
		}
	}
	return b
}
