package spec

import (
	"sort"

	"github.com/vk/lockstepgrid/internal/address"
	"github.com/vk/lockstepgrid/internal/msgtype"
)

// Kind distinguishes the two entity kinds.
type Kind string

const (
	NodeKind   Kind = "node"
	ObjectKind Kind = "object"
)

// Endpoint is the parameter set of one component of an entity.
type Endpoint struct {
	MsgType        string       `yaml:"msg_type" json:"msg_type" validate:"required"`
	Converter      *msgtype.Ref `yaml:"converter,omitempty" json:"converter,omitempty"`
	SpaceConverter *msgtype.Ref `yaml:"space_converter,omitempty" json:"space_converter,omitempty"`
	Window         int          `yaml:"window,omitempty" json:"window,omitempty" validate:"gte=0"`
	Delay          float64      `yaml:"delay,omitempty" json:"delay,omitempty" validate:"gte=0"`
	StartWithMsg   bool         `yaml:"start_with_msg,omitempty" json:"start_with_msg,omitempty"`
	Address        string       `yaml:"address,omitempty" json:"address,omitempty"`
}

// Clone returns a deep copy.
func (e *Endpoint) Clone() *Endpoint {
	if e == nil {
		return nil
	}
	out := *e
	out.Converter = e.Converter.Clone()
	out.SpaceConverter = e.SpaceConverter.Clone()
	return &out
}

// Implementation maps the components of an object onto node kinds provided
// by one bridge.
type Implementation struct {
	Sensors   map[string]string `yaml:"sensors,omitempty" json:"sensors,omitempty"`
	Actuators map[string]string `yaml:"actuators,omitempty" json:"actuators,omitempty"`
	States    map[string]string `yaml:"states,omitempty" json:"states,omitempty"`
}

// For returns the kind table for one component kind.
func (i *Implementation) For(kind address.Kind) map[string]string {
	if i == nil {
		return nil
	}
	switch kind {
	case address.Sensors:
		return i.Sensors
	case address.Actuators:
		return i.Actuators
	case address.States:
		return i.States
	}
	return nil
}

// Clone returns a deep copy.
func (i *Implementation) Clone() *Implementation {
	if i == nil {
		return nil
	}
	return &Implementation{
		Sensors:   cloneStrings(i.Sensors),
		Actuators: cloneStrings(i.Actuators),
		States:    cloneStrings(i.States),
	}
}

// Entity is the full parameter tree of a node or object.
type Entity struct {
	Kind       Kind                                  `yaml:"kind" json:"kind" validate:"oneof=node object"`
	Name       string                                `yaml:"name" json:"name" validate:"required"`
	Type       string                                `yaml:"type" json:"type" validate:"required"`
	Rate       float64                               `yaml:"rate" json:"rate" validate:"gt=0"`
	Components map[address.Kind]map[string]*Endpoint `yaml:"components,omitempty" json:"components,omitempty" validate:"dive,dive,required"`
	Selected   map[address.Kind][]string             `yaml:"selected,omitempty" json:"selected,omitempty"`
	Bridges    map[string]*Implementation            `yaml:"bridges,omitempty" json:"bridges,omitempty"`
	Config     map[string]any                        `yaml:"config,omitempty" json:"config,omitempty"`
}

// AllowedKinds returns the component kinds an entity of kind k may declare.
func AllowedKinds(k Kind) []address.Kind {
	if k == ObjectKind {
		return []address.Kind{address.Sensors, address.Actuators, address.States}
	}
	return []address.Kind{address.Inputs, address.Outputs, address.States, address.Targets, address.Feedthroughs}
}

// Allows reports whether the entity may hold components of the given kind.
func (e *Entity) Allows(kind address.Kind) bool {
	for _, k := range AllowedKinds(e.Kind) {
		if k == kind {
			return true
		}
	}
	return false
}

// Endpoint looks up a declared component.
func (e *Entity) Endpoint(kind address.Kind, cname string) (*Endpoint, bool) {
	ep, ok := e.Components[kind][cname]
	return ep, ok
}

// SetEndpoint declares (or replaces) a component.
func (e *Entity) SetEndpoint(kind address.Kind, cname string, ep *Endpoint) {
	if e.Components == nil {
		e.Components = make(map[address.Kind]map[string]*Endpoint)
	}
	if e.Components[kind] == nil {
		e.Components[kind] = make(map[string]*Endpoint)
	}
	e.Components[kind][cname] = ep
}

// DeleteEndpoint removes a declared component and its selection.
func (e *Entity) DeleteEndpoint(kind address.Kind, cname string) {
	e.Deselect(kind, cname)
	delete(e.Components[kind], cname)
	if len(e.Components[kind]) == 0 {
		delete(e.Components, kind)
	}
}

// Names returns the declared cnames of a kind in sorted order.
func (e *Entity) Names(kind address.Kind) []string {
	names := make([]string, 0, len(e.Components[kind]))
	for name := range e.Components[kind] {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsSelected reports whether cname is part of the active component list.
func (e *Entity) IsSelected(kind address.Kind, cname string) bool {
	for _, s := range e.Selected[kind] {
		if s == cname {
			return true
		}
	}
	return false
}

// Select adds cname to the active component list. Selecting twice is a no-op.
func (e *Entity) Select(kind address.Kind, cname string) {
	if e.IsSelected(kind, cname) {
		return
	}
	if e.Selected == nil {
		e.Selected = make(map[address.Kind][]string)
	}
	e.Selected[kind] = append(e.Selected[kind], cname)
}

// Deselect removes cname from the active component list.
func (e *Entity) Deselect(kind address.Kind, cname string) {
	sel := e.Selected[kind]
	for i, s := range sel {
		if s == cname {
			e.Selected[kind] = append(sel[:i:i], sel[i+1:]...)
			break
		}
	}
	if len(e.Selected[kind]) == 0 {
		delete(e.Selected, kind)
	}
}

// SelectedNames returns the selected cnames of a kind in selection order.
func (e *Entity) SelectedNames(kind address.Kind) []string {
	return append([]string(nil), e.Selected[kind]...)
}

// Clone returns a deep copy of the entity.
func (e *Entity) Clone() *Entity {
	if e == nil {
		return nil
	}
	out := &Entity{
		Kind: e.Kind,
		Name: e.Name,
		Type: e.Type,
		Rate: e.Rate,
	}
	if e.Components != nil {
		out.Components = make(map[address.Kind]map[string]*Endpoint, len(e.Components))
		for kind, eps := range e.Components {
			m := make(map[string]*Endpoint, len(eps))
			for cname, ep := range eps {
				m[cname] = ep.Clone()
			}
			out.Components[kind] = m
		}
	}
	if e.Selected != nil {
		out.Selected = make(map[address.Kind][]string, len(e.Selected))
		for kind, names := range e.Selected {
			out.Selected[kind] = append([]string(nil), names...)
		}
	}
	if e.Bridges != nil {
		out.Bridges = make(map[string]*Implementation, len(e.Bridges))
		for name, impl := range e.Bridges {
			out.Bridges[name] = impl.Clone()
		}
	}
	if e.Config != nil {
		out.Config = cloneValue(e.Config).(map[string]any)
	}
	return out
}

func cloneStrings(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = cloneValue(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = cloneValue(val)
		}
		return out
	default:
		return v
	}
}

// NormalizeConfig converts every number in a config tree to float64, in
// place. Config values decoded from YAML or set from Go code then compare
// equal to the ones decoded from HCL or JSON.
func NormalizeConfig(cfg map[string]any) {
	for k, v := range cfg {
		cfg[k] = normalizeNumbers(v)
	}
}

// NormalizeValue returns a copy of v with every number converted to float64.
func NormalizeValue(v any) any {
	return normalizeNumbers(cloneValue(v))
}

func normalizeNumbers(v any) any {
	switch t := v.(type) {
	case map[string]any:
		NormalizeConfig(t)
		return t
	case []any:
		for i, val := range t {
			t[i] = normalizeNumbers(val)
		}
		return t
	case int:
		return float64(t)
	case int8:
		return float64(t)
	case int16:
		return float64(t)
	case int32:
		return float64(t)
	case int64:
		return float64(t)
	case uint:
		return float64(t)
	case uint8:
		return float64(t)
	case uint16:
		return float64(t)
	case uint32:
		return float64(t)
	case uint64:
		return float64(t)
	case float32:
		return float64(t)
	default:
		return v
	}
}
