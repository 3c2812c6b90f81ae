// Package node defines the contract between the lock-step runtime and the
// business logic of a node kind.
package node

import (
	"context"
	"fmt"
	"strconv"

	"github.com/zclconf/go-cty/cty"
)

// Message is one value travelling on an address. Episode and Seq place it
// on the lock-step clock: Seq is the tick at which consumers read it.
type Message struct {
	Episode uint64
	Seq     uint64
	Value   cty.Value
}

// State is a reset value for a state or target endpoint. Done is set when
// no desired value was supplied for this reset.
type State struct {
	Value cty.Value
	Done  bool
}

// Inputs holds the windowed values of every input, oldest first.
type Inputs map[string][]cty.Value

// Latest returns the most recent value of cname, or a null value.
func (in Inputs) Latest(cname string) cty.Value {
	w := in[cname]
	if len(w) == 0 {
		return cty.NullVal(cty.DynamicPseudoType)
	}
	return w[len(w)-1]
}

// Outputs maps output names to the value produced for the current tick.
type Outputs map[string]cty.Value

// Node is implemented by every node kind. Step must return exactly one value
// for every declared output.
type Node interface {
	Reset(ctx context.Context, states map[string]State) error
	Step(ctx context.Context, tick uint64, in Inputs) (Outputs, error)
}

// TargetResetter is implemented by nodes that declare targets. ResetTo runs
// during the reset tick and returns once the targets are reached.
type TargetResetter interface {
	ResetTo(ctx context.Context, targets map[string]State) error
}

// Simulator is the shared world a bridge steps once per tick.
type Simulator interface {
	Step(ctx context.Context, tick uint64) error
}

// Params is what a node factory receives.
type Params struct {
	Name      string
	Kind      string
	Rate      float64
	Config    map[string]any
	Simulator Simulator
}

// Float reads a numeric config value.
func (p Params) Float(key string, def float64) (float64, error) {
	raw, ok := p.Config[key]
	if !ok {
		return def, nil
	}
	switch v := raw.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case uint64:
		return float64(v), nil
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, fmt.Errorf("config %q: %w", key, err)
		}
		return f, nil
	}
	return 0, fmt.Errorf("config %q: unsupported value %T", key, raw)
}

// StepFunc adapts a function to a stateless Node.
type StepFunc func(ctx context.Context, tick uint64, in Inputs) (Outputs, error)

// Reset implements Node.
func (f StepFunc) Reset(context.Context, map[string]State) error { return nil }

// Step implements Node.
func (f StepFunc) Step(ctx context.Context, tick uint64, in Inputs) (Outputs, error) {
	return f(ctx, tick, in)
}
