package spec

import (
	"fmt"

	"github.com/vk/lockstepgrid/internal/address"
	"github.com/vk/lockstepgrid/internal/msgtype"
)

// EndpointOption tweaks an endpoint while it is declared.
type EndpointOption func(ep *Endpoint, selected *bool)

// WithConverter sets the endpoint converter.
func WithConverter(ref *msgtype.Ref) EndpointOption {
	return func(ep *Endpoint, _ *bool) { ep.Converter = ref }
}

// WithSpaceConverter sets the converter used when the endpoint is connected
// to an action or observation.
func WithSpaceConverter(ref *msgtype.Ref) EndpointOption {
	return func(ep *Endpoint, _ *bool) { ep.SpaceConverter = ref }
}

// WithWindow sets the number of messages handed to the node per input.
func WithWindow(n int) EndpointOption {
	return func(ep *Endpoint, _ *bool) { ep.Window = n }
}

// WithDelay sets the simulated input delay in seconds.
func WithDelay(d float64) EndpointOption {
	return func(ep *Endpoint, _ *bool) { ep.Delay = d }
}

// StartWithMsg makes an output emit a buffered initial message at reset.
func StartWithMsg() EndpointOption {
	return func(ep *Endpoint, _ *bool) { ep.StartWithMsg = true }
}

// Unselected declares the endpoint without activating it.
func Unselected() EndpointOption {
	return func(_ *Endpoint, selected *bool) { *selected = false }
}

// Builder assembles an Entity step by step.
type Builder struct {
	e            *Entity
	feedthroughs bool
	err          error
}

// NewNode starts building a node entity.
func NewNode(name, nodeType string) *Builder {
	return &Builder{e: &Entity{Kind: NodeKind, Name: name, Type: nodeType, Rate: 1}}
}

// NewObject starts building an object entity.
func NewObject(name, objectType string) *Builder {
	return &Builder{e: &Entity{Kind: ObjectKind, Name: name, Type: objectType, Rate: 1}}
}

// Rate sets the entity rate in ticks per second.
func (b *Builder) Rate(rate float64) *Builder {
	b.e.Rate = rate
	return b
}

// Config sets a free-form configuration value passed to the node logic.
func (b *Builder) Config(key string, value any) *Builder {
	if b.e.Config == nil {
		b.e.Config = make(map[string]any)
	}
	b.e.Config[key] = value
	return b
}

// Input declares an input.
func (b *Builder) Input(cname, msgType string, opts ...EndpointOption) *Builder {
	return b.endpoint(address.Inputs, cname, &Endpoint{MsgType: msgType, Window: 1}, opts)
}

// Output declares an output.
func (b *Builder) Output(cname, msgType string, opts ...EndpointOption) *Builder {
	return b.endpoint(address.Outputs, cname, &Endpoint{MsgType: msgType}, opts)
}

// State declares a resettable state.
func (b *Builder) State(cname, msgType string, opts ...EndpointOption) *Builder {
	return b.endpoint(address.States, cname, &Endpoint{MsgType: msgType}, opts)
}

// Target declares a reset target. Nodes with targets get a feedthrough for
// every output unless feedthroughs are declared explicitly.
func (b *Builder) Target(cname, msgType string, opts ...EndpointOption) *Builder {
	return b.endpoint(address.Targets, cname, &Endpoint{MsgType: msgType}, opts)
}

// Feedthrough declares the feedthrough of an already declared output.
func (b *Builder) Feedthrough(cname string, opts ...EndpointOption) *Builder {
	out, ok := b.e.Endpoint(address.Outputs, cname)
	if !ok {
		b.fail(fmt.Errorf("feedthrough %q declared before its output", cname))
		return b
	}
	b.feedthroughs = true
	return b.endpoint(address.Feedthroughs, cname, &Endpoint{MsgType: out.MsgType, Window: 1}, opts)
}

// Sensor declares an object sensor.
func (b *Builder) Sensor(cname, msgType string, opts ...EndpointOption) *Builder {
	return b.endpoint(address.Sensors, cname, &Endpoint{MsgType: msgType}, opts)
}

// Actuator declares an object actuator.
func (b *Builder) Actuator(cname, msgType string, opts ...EndpointOption) *Builder {
	return b.endpoint(address.Actuators, cname, &Endpoint{MsgType: msgType, Window: 1}, opts)
}

// Bridge adds the implementation of this object for one bridge.
func (b *Builder) Bridge(name string, impl Implementation) *Builder {
	if b.e.Bridges == nil {
		b.e.Bridges = make(map[string]*Implementation)
	}
	b.e.Bridges[name] = impl.Clone()
	return b
}

func (b *Builder) endpoint(kind address.Kind, cname string, ep *Endpoint, opts []EndpointOption) *Builder {
	if _, exists := b.e.Endpoint(kind, cname); exists {
		b.fail(fmt.Errorf("%s/%s declared twice", kind, cname))
		return b
	}
	selected := true
	for _, opt := range opts {
		opt(ep, &selected)
	}
	b.e.SetEndpoint(kind, cname, ep)
	if selected {
		b.e.Select(kind, cname)
	}
	return b
}

func (b *Builder) fail(err error) {
	if b.err == nil {
		b.err = err
	}
}

// Build finalizes and validates the entity.
func (b *Builder) Build() (*Entity, error) {
	if b.err != nil {
		return nil, fmt.Errorf("entity %q: %w", b.e.Name, b.err)
	}
	e := b.e.Clone()
	if e.Kind == NodeKind && len(e.Components[address.Targets]) > 0 && !b.feedthroughs {
		for _, cname := range e.Names(address.Outputs) {
			out, _ := e.Endpoint(address.Outputs, cname)
			e.SetEndpoint(address.Feedthroughs, cname, &Endpoint{MsgType: out.MsgType, Window: 1})
			if e.IsSelected(address.Outputs, cname) {
				e.Select(address.Feedthroughs, cname)
			}
		}
	}
	if err := Validate(e); err != nil {
		return nil, err
	}
	return e, nil
}

// MustBuild is like Build but panics on error.
func (b *Builder) MustBuild() *Entity {
	e, err := b.Build()
	if err != nil {
		panic(err)
	}
	return e
}
