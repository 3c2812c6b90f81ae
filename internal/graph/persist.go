package graph

import (
	"bytes"
	"fmt"
	"io"
	"os"

	"github.com/vk/lockstepgrid/internal/address"
	"github.com/vk/lockstepgrid/internal/spec"
	"gopkg.in/yaml.v3"
)

// Save writes the graph state as a YAML document: `nodes` keyed by name,
// each with its `params` and `default` trees, and `connects` as a list of
// `[source, target]` pairs of `[name, component, cname]` triples.
func (g *Graph) Save(w io.Writer) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(g.st); err != nil {
		return fmt.Errorf("failed to encode graph: %w", err)
	}
	return enc.Close()
}

// SaveFile writes the graph state to path.
func (g *Graph) SaveFile(path string) error {
	var buf bytes.Buffer
	if err := g.Save(&buf); err != nil {
		return err
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("failed to write graph file %s: %w", path, err)
	}
	return nil
}

// Load replaces the graph state with the document read from r. The current
// state is kept when the document is invalid.
func (g *Graph) Load(r io.Reader) error {
	var st state
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&st); err != nil {
		return fmt.Errorf("%w: failed to decode graph: %w", ErrConfig, err)
	}
	if err := st.check(); err != nil {
		return err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.st = &st
	return nil
}

// LoadFile replaces the graph state with the document stored at path.
func (g *Graph) LoadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open graph file: %w", err)
	}
	defer f.Close()
	return g.Load(f)
}

// Open creates a graph from a saved document.
func Open(path string, opts ...Option) (*Graph, error) {
	g := New(opts...)
	if err := g.LoadFile(path); err != nil {
		return nil, err
	}
	return g, nil
}

// check verifies that a decoded state is internally consistent.
func (s *state) check() error {
	if s.Nodes == nil {
		return configErr("graph document has no nodes")
	}
	for _, name := range []string{address.Actions, address.Observations} {
		if _, ok := s.Nodes[name]; !ok {
			return configErr("graph document lacks the %q entity", name)
		}
	}
	for name, e := range s.Nodes {
		if e == nil || e.Params == nil || e.Default == nil {
			return configErr("entity %q needs both params and default", name)
		}
		if e.Params.Name != name || e.Default.Name != name {
			return configErr("entity stored under %q is named %q", name, e.Params.Name)
		}
		spec.NormalizeConfig(e.Params.Config)
		spec.NormalizeConfig(e.Default.Config)
	}
	t := &tx{state: s}
	for _, l := range s.Connects {
		if err := t.isSelected(l.Source); err != nil {
			return fmt.Errorf("connection %s: %w", l, err)
		}
		if err := t.isSelected(l.Target); err != nil {
			return fmt.Errorf("connection %s: %w", l, err)
		}
	}
	return nil
}
