package graph

import (
	"errors"
	"fmt"
	"strings"

	"github.com/vk/lockstepgrid/internal/topology"
)

var (
	// ErrConfig marks errors introduced by an invalid edit or parameter.
	ErrConfig = errors.New("configuration error")
	// ErrTopology marks graphs whose shape cannot run in lock-step.
	ErrTopology = errors.New("topology error")
)

func configErr(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfig, fmt.Sprintf(format, args...))
}

// ChainError reports a connection whose converter chain does not deliver
// the type declared by its target.
type ChainError struct {
	Source          Ref
	Target          Ref
	SourceType      string
	OutputConverter string
	WireType        string
	InputConverter  string
	InferredType    string
	TargetType      string
}

func (e *ChainError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "conversion of msg_type from source=%q to target=%q does not match:\n", e.Source, e.Target)
	fmt.Fprintf(&b, ">> msg_type_source:  %s (as specified in source)\n", e.SourceType)
	fmt.Fprintf(&b, ">> output_converter: %s\n", e.OutputConverter)
	fmt.Fprintf(&b, ">> msg_type_wire:    %s\n", e.WireType)
	fmt.Fprintf(&b, ">> input_converter:  %s\n", e.InputConverter)
	fmt.Fprintf(&b, ">> msg_type_target:  %s (inferred from converters)\n", e.InferredType)
	fmt.Fprintf(&b, ">> msg_type_target:  %s (as specified in target)", e.TargetType)
	return b.String()
}

func (e *ChainError) Unwrap() error { return ErrConfig }

// CycleError lists the algebraic loops of the episode graph. Each loop is a
// hop list [from0, to0, from1, to1, ...] ending on the node it started from.
type CycleError struct {
	Cycles [][]topology.Hop
}

func (e *CycleError) Error() string {
	var b strings.Builder
	b.WriteString("algebraic loops detected:")
	for i, hops := range e.Cycles {
		fmt.Fprintf(&b, "\n loop %d: ...-->", i)
		for j := 0; j+1 < len(hops); j += 2 {
			fmt.Fprintf(&b, "[%s][%s]-->", hops[j], hops[j+1])
		}
		b.WriteString("...")
	}
	return b.String()
}

func (e *CycleError) Unwrap() error { return ErrTopology }

// StaleError lists vertices that would never fire. Reset is set when the
// check failed on the reset graph rather than the episode graph.
type StaleError struct {
	Stale []string
	Reset bool
}

func (e *StaleError) Error() string {
	phase := "episode"
	if e.Reset {
		phase = "reset"
	}
	return fmt.Sprintf("stale %s graph detected. Nodes %q will be stale, while they must be active (i.e. connected) in order for the graph to resolve", phase, e.Stale)
}

func (e *StaleError) Unwrap() error { return ErrTopology }

// CompatibilityError is returned when no single bridge implements every
// selected component of every object.
type CompatibilityError struct {
	Table string
}

func (e *CompatibilityError) Error() string {
	return "no compatible bridge for the selected objects. Ensure that all components selected in each object are supported by a common bridge.\n" + e.Table
}

func (e *CompatibilityError) Unwrap() error { return ErrTopology }
