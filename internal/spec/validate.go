package spec

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/vk/lockstepgrid/internal/address"
	"github.com/vk/lockstepgrid/internal/msgtype"
)

// validate is a singleton validator instance
var validate *validator.Validate

func init() {
	validate = validator.New(validator.WithRequiredStructEnabled())
}

// Struct exposes the shared validator for other packages' tagged structs.
func Struct(s any) error {
	return formatValidationError(validate.Struct(s))
}

// Validate checks an entity against the schema of its kind.
func Validate(e *Entity) error {
	if e == nil {
		return errors.New("entity cannot be nil")
	}
	if err := Struct(e); err != nil {
		return fmt.Errorf("entity %q: %w", e.Name, err)
	}
	if err := address.ValidOwner(e.Name); err != nil {
		return fmt.Errorf("entity %q: %w", e.Name, err)
	}

	var errs []string
	for kind, eps := range e.Components {
		if !e.Allows(kind) {
			errs = append(errs, fmt.Sprintf("%s entity cannot declare %s", e.Kind, kind))
			continue
		}
		for cname, ep := range eps {
			if err := address.ValidCName(cname); err != nil {
				errs = append(errs, fmt.Sprintf("%s/%s: %v", kind, cname, err))
			}
			if _, err := msgtype.Parse(ep.MsgType); err != nil {
				errs = append(errs, fmt.Sprintf("%s/%s: %v", kind, cname, err))
			}
		}
	}

	for kind, names := range e.Selected {
		seen := make(map[string]bool, len(names))
		for _, cname := range names {
			if seen[cname] {
				errs = append(errs, fmt.Sprintf("%s/%s selected twice", kind, cname))
			}
			seen[cname] = true
			if _, ok := e.Endpoint(kind, cname); !ok {
				errs = append(errs, fmt.Sprintf("%s/%s is selected but not declared", kind, cname))
			}
		}
	}

	for cname, ft := range e.Components[address.Feedthroughs] {
		out, ok := e.Endpoint(address.Outputs, cname)
		if !ok {
			errs = append(errs, fmt.Sprintf("feedthroughs/%s has no matching output", cname))
			continue
		}
		if out.MsgType != ft.MsgType {
			errs = append(errs, fmt.Sprintf("feedthroughs/%s type %s differs from output type %s", cname, ft.MsgType, out.MsgType))
		}
	}

	if e.Kind == NodeKind && len(e.Bridges) > 0 {
		errs = append(errs, "only objects can declare bridge implementations")
	}
	for bridge, impl := range e.Bridges {
		for _, kind := range AllowedKinds(ObjectKind) {
			for cname, nodeType := range impl.For(kind) {
				if _, ok := e.Endpoint(kind, cname); !ok {
					errs = append(errs, fmt.Sprintf("bridge %q implements undeclared %s/%s", bridge, kind, cname))
				}
				if nodeType == "" {
					errs = append(errs, fmt.Sprintf("bridge %q: %s/%s has no node type", bridge, kind, cname))
				}
			}
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("entity %q is invalid:\n- %s", e.Name, strings.Join(errs, "\n- "))
	}
	return nil
}

func formatValidationError(err error) error {
	if err == nil {
		return nil
	}

	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) {
		return err
	}

	msgs := make([]string, 0, len(validationErrs))
	for _, e := range validationErrs {
		field := e.Namespace()
		switch e.Tag() {
		case "required":
			msgs = append(msgs, fmt.Sprintf("%s: field is required", field))
		case "gt", "gte":
			msgs = append(msgs, fmt.Sprintf("%s: must be %s %s", field, map[string]string{"gt": ">", "gte": ">="}[e.Tag()], e.Param()))
		case "oneof":
			msgs = append(msgs, fmt.Sprintf("%s: must be one of [%s]", field, e.Param()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s: failed on '%s' validation", field, e.Tag()))
		}
	}
	return errors.New(strings.Join(msgs, "; "))
}
