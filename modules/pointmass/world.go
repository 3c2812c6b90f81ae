package pointmass

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/vk/lockstepgrid/internal/address"
)

// Body is the state of one point mass.
type Body struct {
	Mass     float64
	Position float64
	Velocity float64
	Force    float64
}

// World integrates every body with explicit Euler steps of 1/rate seconds.
type World struct {
	dt float64

	mu     sync.Mutex
	bodies map[string]*Body
}

// NewWorld creates an empty world stepped at rate.
func NewWorld(rate float64) (*World, error) {
	if rate <= 0 {
		return nil, fmt.Errorf("pointmass: rate must be positive, got %v", rate)
	}
	return &World{dt: 1 / rate, bodies: make(map[string]*Body)}, nil
}

// body returns the body of object, creating it with the given mass.
func (w *World) body(object string, mass float64) *Body {
	w.mu.Lock()
	defer w.mu.Unlock()
	b, ok := w.bodies[object]
	if !ok {
		b = &Body{Mass: mass}
		w.bodies[object] = b
	}
	return b
}

// Get returns a copy of a body.
func (w *World) Get(object string) (Body, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	b, ok := w.bodies[object]
	if !ok {
		return Body{}, false
	}
	return *b, true
}

func (w *World) update(object string, f func(*Body)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if b, ok := w.bodies[object]; ok {
		f(b)
	}
}

// Step applies the current forces for one time step.
func (w *World) Step(_ context.Context, _ uint64) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, b := range w.bodies {
		b.Velocity += b.Force / b.Mass * w.dt
		b.Position += b.Velocity * w.dt
	}
	return nil
}

// objectOf extracts the object from a component node name such as
// "m1/sensors/pos".
func objectOf(name string) string {
	parts := strings.Split(name, "/")
	if n := len(parts); n >= 3 && address.IsKind(parts[n-2]) {
		return strings.Join(parts[:n-2], "/")
	}
	return name
}
