package registry

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/vk/lockstepgrid/internal/address"
	"github.com/vk/lockstepgrid/internal/ctxlog"
	"github.com/vk/lockstepgrid/internal/msgtype"
	"github.com/vk/lockstepgrid/internal/spec"
)

// For returns the declared endpoints of one component kind.
func (d Declaration) For(kind address.Kind) map[string]string {
	switch kind {
	case address.Inputs:
		return d.Inputs
	case address.Outputs:
		return d.Outputs
	case address.States:
		return d.States
	case address.Targets:
		return d.Targets
	}
	return nil
}

// ValidateRegistry checks that every registered declaration is well formed.
func (r *Registry) ValidateRegistry(ctx context.Context) error {
	var errs []string
	logger := ctxlog.FromContext(ctx)

	for _, kind := range r.NodeKinds() {
		n := r.nodes[kind]
		if n.New == nil {
			errs = append(errs, fmt.Sprintf("node kind '%s': no factory", kind))
		}
		for _, ck := range []address.Kind{address.Inputs, address.Outputs, address.States, address.Targets} {
			for cname, src := range n.Declaration.For(ck) {
				if _, err := msgtype.Parse(src); err != nil {
					errs = append(errs, fmt.Sprintf("node kind '%s', %s '%s': %v", kind, ck, cname, err))
				}
			}
		}
		logger.Debug("Node kind declaration checked.", "kind", kind)
	}

	if len(errs) > 0 {
		return fmt.Errorf("registry validation failed:\n- %s", strings.Join(errs, "\n- "))
	}
	return nil
}

// CheckEntity performs a strict parity check between a node entity's
// declared endpoints and the registered Go declaration of its kind.
func (r *Registry) CheckEntity(e *spec.Entity) []string {
	n, ok := r.nodes[e.Type]
	if !ok {
		return []string{fmt.Sprintf("node '%s': kind '%s' is not registered", e.Name, e.Type)}
	}

	var errs []string
	for _, ck := range []address.Kind{address.Inputs, address.Outputs, address.States, address.Targets} {
		goSide := n.Declaration.For(ck)
		for _, cname := range e.Names(ck) {
			ep, _ := e.Endpoint(ck, cname)
			declared, ok := goSide[cname]
			if !ok {
				errs = append(errs, fmt.Sprintf("node '%s': graph declares %s '%s' which kind '%s' does not implement", e.Name, ck, cname, e.Type))
				continue
			}
			if msg := typeMismatch(ep.MsgType, declared); msg != "" {
				errs = append(errs, fmt.Sprintf("node '%s', %s '%s': %s", e.Name, ck, cname, msg))
			}
		}
		for _, cname := range sortedKeys(goSide) {
			if _, ok := e.Endpoint(ck, cname); !ok {
				errs = append(errs, fmt.Sprintf("node '%s': kind '%s' implements %s '%s' which the graph does not declare", e.Name, e.Type, ck, cname))
			}
		}
	}
	return errs
}

// CheckObject verifies that the chosen bridge implements every selected
// component of an object with a registered node kind of matching type.
// Sensor kinds must declare exactly one output, actuator kinds exactly one
// input and state kinds exactly one state.
func (r *Registry) CheckObject(e *spec.Entity, bridge string) []string {
	if _, ok := r.bridges[bridge]; !ok {
		return []string{fmt.Sprintf("object '%s': bridge '%s' is not registered", e.Name, bridge)}
	}
	impl := e.Bridges[bridge]

	var errs []string
	for _, ck := range spec.AllowedKinds(spec.ObjectKind) {
		for _, cname := range e.SelectedNames(ck) {
			kind, ok := impl.For(ck)[cname]
			if !ok {
				errs = append(errs, fmt.Sprintf("object '%s': bridge '%s' does not implement %s '%s'", e.Name, bridge, ck, cname))
				continue
			}
			n, ok := r.nodes[kind]
			if !ok {
				errs = append(errs, fmt.Sprintf("object '%s', %s '%s': kind '%s' is not registered", e.Name, ck, cname, kind))
				continue
			}
			_, declared, err := n.Declaration.Single(ObjectRole(ck))
			if err != nil {
				errs = append(errs, fmt.Sprintf("object '%s', %s '%s': kind '%s': %v", e.Name, ck, cname, kind, err))
				continue
			}
			ep, _ := e.Endpoint(ck, cname)
			if msg := typeMismatch(ep.MsgType, declared); msg != "" {
				errs = append(errs, fmt.Sprintf("object '%s', %s '%s': %s", e.Name, ck, cname, msg))
			}
		}
	}
	return errs
}

// ObjectRole maps an object component kind onto the node endpoint kind that
// implements it.
func ObjectRole(kind address.Kind) address.Kind {
	switch kind {
	case address.Sensors:
		return address.Outputs
	case address.Actuators:
		return address.Inputs
	}
	return kind
}

// Single returns the only endpoint declared for a kind.
func (d Declaration) Single(kind address.Kind) (string, string, error) {
	eps := d.For(kind)
	if len(eps) != 1 {
		return "", "", fmt.Errorf("expected exactly one %s, found %d", kind, len(eps))
	}
	for cname, ty := range eps {
		return cname, ty, nil
	}
	return "", "", nil
}

func typeMismatch(graphSide, goSide string) string {
	gt, err := msgtype.Parse(graphSide)
	if err != nil {
		return err.Error()
	}
	ct, err := msgtype.Parse(goSide)
	if err != nil {
		return err.Error()
	}
	if !gt.Equals(ct) {
		return fmt.Sprintf("type mismatch. Graph requires '%s' but Go implementation provides '%s'", msgtype.String(gt), msgtype.String(ct))
	}
	return ""
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
