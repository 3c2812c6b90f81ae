package msgtype

import (
	"fmt"
	"sync"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/ext/typeexpr"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/zclconf/go-cty/cty"
)

var parsed sync.Map // string -> cty.Type

// Parse converts a type expression such as `list(number)` into a cty.Type.
// Dynamic types (`any`) are refused: every endpoint must carry a concrete
// type so that transports can encode it.
func Parse(src string) (cty.Type, error) {
	if cached, ok := parsed.Load(src); ok {
		return cached.(cty.Type), nil
	}

	expr, diags := hclsyntax.ParseExpression([]byte(src), "msg_type", hcl.Pos{Line: 1, Column: 1})
	if diags.HasErrors() {
		return cty.NilType, fmt.Errorf("invalid message type %q: %w", src, diags)
	}

	ty, diags := FromExpr(expr)
	if diags.HasErrors() {
		return cty.NilType, fmt.Errorf("invalid message type %q: %w", src, diags)
	}

	parsed.Store(src, ty)
	return ty, nil
}

// MustParse is like Parse but panics on error. Intended for package-level
// declarations of built-in node kinds.
func MustParse(src string) cty.Type {
	ty, err := Parse(src)
	if err != nil {
		panic(err)
	}
	return ty
}

// FromExpr converts an HCL expression that represents a type into its
// corresponding cty.Type.
func FromExpr(expr hcl.Expression) (cty.Type, hcl.Diagnostics) {
	ty, diags := typeexpr.TypeConstraint(expr)
	if diags.HasErrors() {
		return cty.NilType, diags
	}
	if ty.HasDynamicTypes() {
		diags = append(diags, &hcl.Diagnostic{
			Severity: hcl.DiagError,
			Summary:  "Unsupported message type",
			Detail:   "Message types must be concrete; 'any' cannot be sent between nodes.",
			Subject:  expr.Range().Ptr(),
		})
		return cty.NilType, diags
	}
	return ty, diags
}

// String formats a type back into the expression syntax accepted by Parse.
func String(ty cty.Type) string {
	if ty == cty.NilType {
		return "<nil>"
	}
	return typeexpr.TypeString(ty)
}
