package testutil

import (
	"bytes"
	"context"
	"slices"
	"sync"

	"github.com/vk/lockstepgrid/internal/node"
	"github.com/vk/lockstepgrid/internal/registry"
)

// SafeBuffer is a thread-safe buffer for capturing log output in tests.
type SafeBuffer struct {
	b  bytes.Buffer
	mu sync.Mutex
}

// Write implements the io.Writer interface for SafeBuffer.
func (b *SafeBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.b.Write(p)
}

// String implements the fmt.Stringer interface for SafeBuffer.
func (b *SafeBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.b.String()
}

// RecorderKind is the node kind registered by Recorder.
const RecorderKind = "recorder"

// Recorder is a test module registering a relay node kind that remembers
// the ticks each of its nodes stepped and the resets they went through.
type Recorder struct {
	mu     sync.Mutex
	ticks  map[string][]uint64
	resets map[string]int
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{ticks: make(map[string][]uint64), resets: make(map[string]int)}
}

type recorderNode struct {
	r    *Recorder
	name string
}

func (n *recorderNode) Reset(context.Context, map[string]node.State) error {
	n.r.mu.Lock()
	defer n.r.mu.Unlock()
	n.r.resets[n.name]++
	return nil
}

func (n *recorderNode) Step(_ context.Context, tick uint64, in node.Inputs) (node.Outputs, error) {
	n.r.mu.Lock()
	n.r.ticks[n.name] = append(n.r.ticks[n.name], tick)
	n.r.mu.Unlock()
	return node.Outputs{"out": in.Latest("in")}, nil
}

// Register registers the recorder node kind.
func (r *Recorder) Register(reg *registry.Registry) {
	reg.RegisterNode(RecorderKind, &registry.RegisteredNode{
		Declaration: registry.Declaration{
			Inputs:  map[string]string{"in": "number"},
			Outputs: map[string]string{"out": "number"},
		},
		New: func(_ context.Context, p node.Params) (node.Node, error) {
			return &recorderNode{r: r, name: p.Name}, nil
		},
	})
}

// Ticks returns the ticks stepped by the named node, in order.
func (r *Recorder) Ticks(name string) []uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.ticks[name])
}

// Resets returns how often the named node was reset.
func (r *Recorder) Resets(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.resets[name]
}
