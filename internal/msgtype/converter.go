package msgtype

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/zclconf/go-cty/cty"
)

// ErrUnresolved is returned when a converter reference names no registered
// converter.
var ErrUnresolved = errors.New("unresolved converter")

// ErrUnsupported is returned when a converter is asked about a type it does
// not handle.
var ErrUnsupported = errors.New("converter does not support type")

// Ref references a converter by its registered id plus construction
// arguments. It is the persisted form of a converter.
type Ref struct {
	ID   string            `yaml:"id" json:"id" validate:"required"`
	Args map[string]string `yaml:"args,omitempty" json:"args,omitempty"`
}

// String renders the reference for diagnostics, e.g. `scale(factor=2)`.
func (r *Ref) String() string {
	if r == nil {
		return "none"
	}
	if len(r.Args) == 0 {
		return r.ID
	}
	keys := make([]string, 0, len(r.Args))
	for k := range r.Args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + r.Args[k]
	}
	return fmt.Sprintf("%s(%s)", r.ID, strings.Join(parts, ","))
}

// Equal compares two references, treating nil as the identity converter.
func (r *Ref) Equal(other *Ref) bool {
	a, b := r.orIdentity(), other.orIdentity()
	if a.ID != b.ID || len(a.Args) != len(b.Args) {
		return false
	}
	for k, v := range a.Args {
		if b.Args[k] != v {
			return false
		}
	}
	return true
}

// Clone returns a deep copy.
func (r *Ref) Clone() *Ref {
	if r == nil {
		return nil
	}
	out := &Ref{ID: r.ID}
	if r.Args != nil {
		out.Args = make(map[string]string, len(r.Args))
		for k, v := range r.Args {
			out.Args[k] = v
		}
	}
	return out
}

func (r *Ref) orIdentity() *Ref {
	if r == nil {
		return &Ref{ID: IdentityID}
	}
	return r
}

// Converter maps values between two message types.
type Converter interface {
	// Opposite returns the type on the other side of the converter.
	Opposite(t cty.Type) (cty.Type, error)
	// Convert maps v to the opposite side, selected by v's type.
	Convert(v cty.Value) (cty.Value, error)
}

// Factory builds a converter from its reference arguments.
type Factory func(args map[string]string) (Converter, error)

// Registry maps converter ids to factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates a registry pre-populated with the built-in converters.
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[string]Factory)}
	registerBuiltins(r)
	return r
}

// Default is the process-wide converter registry.
var Default = NewRegistry()

// Register adds a converter factory. Registering the same id twice is a
// programming error.
func (r *Registry) Register(id string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[id]; exists {
		panic(fmt.Sprintf("msgtype: converter %q registered twice", id))
	}
	r.factories[id] = f
}

// Resolve instantiates the converter behind ref. A nil ref resolves to the
// identity converter.
func (r *Registry) Resolve(ref *Ref) (Converter, error) {
	ref = ref.orIdentity()
	r.mu.RLock()
	f, ok := r.factories[ref.ID]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnresolved, ref.ID)
	}
	c, err := f(ref.Args)
	if err != nil {
		return nil, fmt.Errorf("converter %s: %w", ref, err)
	}
	return c, nil
}

// Opposite resolves ref and returns the opposite of t.
func (r *Registry) Opposite(t cty.Type, ref *Ref) (cty.Type, error) {
	c, err := r.Resolve(ref)
	if err != nil {
		return cty.NilType, err
	}
	out, err := c.Opposite(t)
	if err != nil {
		return cty.NilType, fmt.Errorf("converter %s: %w", ref, err)
	}
	return out, nil
}
