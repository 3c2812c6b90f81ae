package graph

import (
	"fmt"
	"sort"

	"github.com/vk/lockstepgrid/internal/address"
	"github.com/vk/lockstepgrid/internal/msgtype"
	"github.com/vk/lockstepgrid/internal/spec"
)

// Endpoint parameter keys.
const (
	ParamConverter      = "converter"
	ParamSpaceConverter = "space_converter"
	ParamWindow         = "window"
	ParamDelay          = "delay"
	ParamStartWithMsg   = "start_with_msg"
	ParamMsgType        = "msg_type"
)

// Entity parameter keys that are not free configuration.
const (
	ParamName = "name"
	ParamType = "type"
	ParamKind = "kind"
	ParamRate = "rate"
)

// SetParameter sets one entity-level parameter. See SetParameters.
func (g *Graph) SetParameter(name, key string, value any) error {
	return g.SetParameters(name, map[string]any{key: value})
}

// SetParameters sets entity-level parameters: the rate, or configuration
// keys the entity already declares.
func (g *Graph) SetParameters(name string, kv map[string]any) error {
	return g.mutate(func(t *tx) error {
		e, err := t.entity(name)
		if err != nil {
			return err
		}
		for _, key := range sortedKeys(kv) {
			value := kv[key]
			switch {
			case key == ParamRate:
				rate, ok := toFloat(value)
				if !ok || rate <= 0 {
					return configErr("rate of %q must be a positive number, got %v", name, value)
				}
				e.Params.Rate = rate
			case key == ParamName:
				return configErr("cannot rename with SetParameters, use Rename instead")
			case key == ParamType || key == ParamKind:
				return configErr("cannot change the %s of %q", key, name)
			case address.IsKind(key):
				return configErr("cannot modify component parameters with this function, use AddComponent or RemoveComponent instead")
			default:
				if _, ok := e.Params.Config[key]; !ok {
					return configErr("cannot set parameter %q, it does not exist in %q", key, name)
				}
				e.Params.Config[key] = spec.NormalizeValue(value)
			}
		}
		return nil
	})
}

// SetEndpointParameter sets one parameter of a component. See
// SetEndpointParameters.
func (g *Graph) SetEndpointParameter(r Ref, key string, value any) error {
	return g.SetEndpointParameters(r, map[string]any{key: value})
}

// SetEndpointParameters sets parameters of a component. Replacing the
// converter with one that changes the wire type disconnects every
// connection through the component.
func (g *Graph) SetEndpointParameters(r Ref, kv map[string]any) error {
	return g.mutate(func(t *tx) error {
		if _, err := t.endpoint(r); err != nil {
			return err
		}
		for _, key := range sortedKeys(kv) {
			value := kv[key]
			if key == ParamConverter {
				ref, err := toConverterRef(value)
				if err != nil {
					return err
				}
				if err := t.setConverter(r, ref); err != nil {
					return err
				}
				continue
			}

			ep, _ := t.endpoint(r)
			switch key {
			case ParamSpaceConverter:
				ref, err := toConverterRef(value)
				if err != nil {
					return err
				}
				ep.SpaceConverter = ref
			case ParamWindow:
				n, ok := toInt(value)
				if !ok || n < 0 || (n == 0 && r.Component == address.Feedthroughs) {
					return configErr("invalid window %v for %s", value, r)
				}
				ep.Window = n
			case ParamDelay:
				d, ok := toFloat(value)
				if !ok || d < 0 {
					return configErr("invalid delay %v for %s", value, r)
				}
				ep.Delay = d
			case ParamStartWithMsg:
				b, ok := value.(bool)
				if !ok {
					return configErr("start_with_msg of %s must be a bool, got %T", r, value)
				}
				ep.StartWithMsg = b
			case ParamMsgType:
				return configErr("the msg_type of %s is declared by its entity and cannot be changed", r)
			default:
				return configErr("cannot set parameter %q, it does not exist in %s", key, r)
			}
		}
		return nil
	})
}

func (t *tx) setConverter(r Ref, converter *msgtype.Ref) error {
	ep, err := t.endpoint(r)
	if err != nil {
		return err
	}
	if ep.MsgType == "" {
		return configErr("%s is not connected yet, so it has no msg_type to convert", r)
	}
	declared, err := msgtype.Parse(ep.MsgType)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConfig, err)
	}
	before, err := t.converters.Opposite(declared, ep.Converter)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConfig, err)
	}
	after, err := t.converters.Opposite(declared, converter)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrConfig, err)
	}
	if !before.Equals(after) {
		t.logger.Info("Converter changes the wire type, disconnecting.",
			"component", r.String(), "before", msgtype.String(before), "after", msgtype.String(after))
		if err := t.disconnectComponent(r); err != nil {
			return err
		}
	}
	ep, _ = t.endpoint(r)
	ep.Converter = converter.Clone()
	return nil
}

// GetParameter returns an entity-level parameter. When the key does not
// exist, def is returned if it is not nil.
func (g *Graph) GetParameter(name, key string, def any) (any, error) {
	params, err := g.GetParameters(name)
	if err != nil {
		return nil, err
	}
	if v, ok := params[key]; ok {
		return v, nil
	}
	if def != nil {
		return def, nil
	}
	return nil, configErr("parameter %q does not exist in %q", key, name)
}

// GetParameters returns the entity-level parameters, configuration keys
// included.
func (g *Graph) GetParameters(name string) (map[string]any, error) {
	var out map[string]any
	err := g.view(func(t *tx) error {
		e, err := t.entity(name)
		if err != nil {
			return err
		}
		p := e.Params.Clone()
		out = make(map[string]any, len(p.Config)+4)
		for k, v := range p.Config {
			out[k] = v
		}
		out[ParamName] = p.Name
		out[ParamType] = p.Type
		out[ParamKind] = string(p.Kind)
		out[ParamRate] = p.Rate
		return nil
	})
	return out, err
}

// GetEndpointParameter returns one parameter of a component.
func (g *Graph) GetEndpointParameter(r Ref, key string) (any, error) {
	ep, err := g.GetEndpointParameters(r)
	if err != nil {
		return nil, err
	}
	switch key {
	case ParamMsgType:
		return ep.MsgType, nil
	case ParamConverter:
		return ep.Converter, nil
	case ParamSpaceConverter:
		return ep.SpaceConverter, nil
	case ParamWindow:
		return ep.Window, nil
	case ParamDelay:
		return ep.Delay, nil
	case ParamStartWithMsg:
		return ep.StartWithMsg, nil
	}
	return nil, configErr("parameter %q does not exist in %s", key, r)
}

// GetEndpointParameters returns a copy of a component's parameters.
func (g *Graph) GetEndpointParameters(r Ref) (*spec.Endpoint, error) {
	var out *spec.Endpoint
	err := g.view(func(t *tx) error {
		ep, err := t.endpoint(r)
		if err != nil {
			return err
		}
		out = ep.Clone()
		return nil
	})
	return out, err
}

// Render replaces the env/render entity with one running at rate and
// connects source to its image input.
func (g *Graph) Render(source Ref, rate float64, converter *msgtype.Ref) error {
	return g.mutate(func(t *tx) error {
		if rate <= 0 {
			return configErr("render rate must be positive, got %v", rate)
		}
		if _, exists := t.Nodes[address.Render]; exists {
			if err := t.remove(address.Render); err != nil {
				return err
			}
		}

		sep, err := t.endpoint(source)
		if err != nil {
			return err
		}
		declared, err := msgtype.Parse(sep.MsgType)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrConfig, err)
		}
		image, err := t.converters.Opposite(declared, sep.Converter)
		if err != nil {
			return fmt.Errorf("%w: %w", ErrConfig, err)
		}
		if converter != nil {
			if image, err = t.converters.Opposite(image, converter); err != nil {
				return fmt.Errorf("%w: %w", ErrConfig, err)
			}
		}

		e := boundaryEntity(address.Render)
		e.Rate = rate
		e.SetEndpoint(address.Inputs, "image", &spec.Endpoint{MsgType: msgtype.String(image), Window: 1})
		e.Select(address.Inputs, "image")
		t.Nodes[address.Render] = &entry{Params: e, Default: e.Clone()}

		target := Ref{Name: address.Render, Component: address.Inputs, CName: "image"}
		return t.link(Link{Source: source, Target: target}, converter, nil, nil)
	})
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		if n == float64(int(n)) {
			return int(n), true
		}
	}
	return 0, false
}

// toConverterRef accepts a *msgtype.Ref, a msgtype.Ref, a bare converter id
// or an `{id, args}` map as loaded from a document.
func toConverterRef(v any) (*msgtype.Ref, error) {
	switch c := v.(type) {
	case nil:
		return nil, nil
	case *msgtype.Ref:
		return c.Clone(), nil
	case msgtype.Ref:
		return c.Clone(), nil
	case string:
		return &msgtype.Ref{ID: c}, nil
	case map[string]any:
		id, _ := c["id"].(string)
		if id == "" {
			return nil, configErr("converter definition needs an id")
		}
		ref := &msgtype.Ref{ID: id}
		if raw, ok := c["args"].(map[string]any); ok {
			ref.Args = make(map[string]string, len(raw))
			for k, a := range raw {
				ref.Args[k] = fmt.Sprint(a)
			}
		}
		return ref, nil
	}
	return nil, configErr("unsupported converter definition %T", v)
}
