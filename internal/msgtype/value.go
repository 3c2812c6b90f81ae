package msgtype

import (
	"fmt"

	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
)

// Zero returns the zero value of ty. It is the value carried by initial
// messages and by actions that were never set.
func Zero(ty cty.Type) cty.Value {
	switch {
	case ty.Equals(cty.Number):
		return cty.Zero
	case ty.Equals(cty.String):
		return cty.StringVal("")
	case ty.Equals(cty.Bool):
		return cty.False
	case ty.IsListType():
		return cty.ListValEmpty(ty.ElementType())
	case ty.IsSetType():
		return cty.SetValEmpty(ty.ElementType())
	case ty.IsMapType():
		return cty.MapValEmpty(ty.ElementType())
	case ty.IsObjectType():
		attrs := make(map[string]cty.Value, len(ty.AttributeTypes()))
		for name, at := range ty.AttributeTypes() {
			attrs[name] = Zero(at)
		}
		if len(attrs) == 0 {
			return cty.EmptyObjectVal
		}
		return cty.ObjectVal(attrs)
	case ty.IsTupleType():
		elems := ty.TupleElementTypes()
		if len(elems) == 0 {
			return cty.EmptyTupleVal
		}
		vals := make([]cty.Value, len(elems))
		for i, et := range elems {
			vals[i] = Zero(et)
		}
		return cty.TupleVal(vals)
	default:
		return cty.NullVal(ty)
	}
}

// Conform converts v to ty, failing when the conversion is not safe.
func Conform(v cty.Value, ty cty.Type) (cty.Value, error) {
	if v.Type().Equals(ty) {
		return v, nil
	}
	out, err := convert.Convert(v, ty)
	if err != nil {
		return cty.NilVal, fmt.Errorf("value of type %s does not conform to %s: %w", String(v.Type()), String(ty), err)
	}
	return out, nil
}
