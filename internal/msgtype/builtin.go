package msgtype

import (
	"fmt"
	"strconv"

	"github.com/zclconf/go-cty/cty"
)

const (
	IdentityID   = "identity"
	ScaleID      = "scale"
	NumberListID = "number_list"
	BoolNumberID = "bool_number"
)

func registerBuiltins(r *Registry) {
	r.Register(IdentityID, func(map[string]string) (Converter, error) {
		return identity{}, nil
	})
	r.Register(ScaleID, newScale)
	r.Register(NumberListID, func(map[string]string) (Converter, error) {
		return &pair{
			a: cty.Number,
			b: cty.List(cty.Number),
			ab: func(v cty.Value) (cty.Value, error) {
				return cty.ListVal([]cty.Value{v}), nil
			},
			ba: func(v cty.Value) (cty.Value, error) {
				if v.LengthInt() == 0 {
					return cty.NilVal, fmt.Errorf("cannot convert an empty list to a number")
				}
				return v.Index(cty.NumberIntVal(0)), nil
			},
		}, nil
	})
	r.Register(BoolNumberID, func(map[string]string) (Converter, error) {
		return &pair{
			a: cty.Bool,
			b: cty.Number,
			ab: func(v cty.Value) (cty.Value, error) {
				if v.True() {
					return cty.NumberIntVal(1), nil
				}
				return cty.Zero, nil
			},
			ba: func(v cty.Value) (cty.Value, error) {
				return v.Equals(cty.Zero).Not(), nil
			},
		}, nil
	})
}

type identity struct{}

func (identity) Opposite(t cty.Type) (cty.Type, error)  { return t, nil }
func (identity) Convert(v cty.Value) (cty.Value, error) { return v, nil }

// scale multiplies numbers by a constant factor. It is a processor: both
// sides have the same type.
type scale struct {
	factor float64
}

func newScale(args map[string]string) (Converter, error) {
	raw, ok := args["factor"]
	if !ok {
		return nil, fmt.Errorf("missing argument %q", "factor")
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, fmt.Errorf("argument factor: %w", err)
	}
	return &scale{factor: f}, nil
}

func (s *scale) Opposite(t cty.Type) (cty.Type, error) {
	if !t.Equals(cty.Number) {
		return cty.NilType, fmt.Errorf("%w: %s", ErrUnsupported, String(t))
	}
	return t, nil
}

func (s *scale) Convert(v cty.Value) (cty.Value, error) {
	if !v.Type().Equals(cty.Number) {
		return cty.NilVal, fmt.Errorf("%w: %s", ErrUnsupported, String(v.Type()))
	}
	if v.IsNull() || !v.IsKnown() {
		return v, nil
	}
	return v.Multiply(cty.NumberFloatVal(s.factor)), nil
}

// pair converts between two fixed types in both directions.
type pair struct {
	a, b   cty.Type
	ab, ba func(cty.Value) (cty.Value, error)
}

func (p *pair) Opposite(t cty.Type) (cty.Type, error) {
	switch {
	case t.Equals(p.a):
		return p.b, nil
	case t.Equals(p.b):
		return p.a, nil
	}
	return cty.NilType, fmt.Errorf("%w: %s", ErrUnsupported, String(t))
}

func (p *pair) Convert(v cty.Value) (cty.Value, error) {
	ty := v.Type()
	switch {
	case ty.Equals(p.a):
		if v.IsNull() {
			return cty.NullVal(p.b), nil
		}
		return p.ab(v)
	case ty.Equals(p.b):
		if v.IsNull() {
			return cty.NullVal(p.a), nil
		}
		return p.ba(v)
	}
	return cty.NilVal, fmt.Errorf("%w: %s", ErrUnsupported, String(ty))
}
