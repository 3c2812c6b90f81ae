package graph

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/vk/lockstepgrid/internal/address"
	"github.com/vk/lockstepgrid/internal/msgtype"
	"github.com/vk/lockstepgrid/internal/spec"
	"gopkg.in/yaml.v3"
)

// Ref points at one component of one entity.
type Ref struct {
	Name      string
	Component address.Kind
	CName     string
}

// ActionRef returns the reference of an action output.
func ActionRef(action string) Ref {
	return Ref{Name: address.Actions, Component: address.Outputs, CName: action}
}

// ObservationRef returns the reference of an observation input.
func ObservationRef(observation string) Ref {
	return Ref{Name: address.Observations, Component: address.Inputs, CName: observation}
}

// ParseRef parses `<name>/<component>/<cname>`.
func ParseRef(raw string) (Ref, error) {
	owner, kind, cname, err := address.ParseRef(raw)
	if err != nil {
		return Ref{}, err
	}
	return Ref{Name: owner, Component: kind, CName: cname}, nil
}

// String implements fmt.Stringer.
func (r Ref) String() string {
	return fmt.Sprintf("%s/%s/%s", r.Name, r.Component, r.CName)
}

// MarshalYAML stores a reference as a `[name, component, cname]` triple.
func (r Ref) MarshalYAML() (any, error) {
	return []string{r.Name, string(r.Component), r.CName}, nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (r *Ref) UnmarshalYAML(node *yaml.Node) error {
	var triple []string
	if err := node.Decode(&triple); err != nil {
		return err
	}
	if len(triple) != 3 {
		return fmt.Errorf("line %d: a reference needs 3 elements, got %d", node.Line, len(triple))
	}
	if !address.IsKind(triple[1]) {
		return fmt.Errorf("line %d: unknown component %q", node.Line, triple[1])
	}
	*r = Ref{Name: triple[0], Component: address.Kind(triple[1]), CName: triple[2]}
	return nil
}

// Link is one stored connection.
type Link struct {
	Source Ref
	Target Ref
}

// MarshalYAML stores a link as a `[source, target]` pair.
func (l Link) MarshalYAML() (any, error) {
	return []Ref{l.Source, l.Target}, nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (l *Link) UnmarshalYAML(node *yaml.Node) error {
	var pair []Ref
	if err := node.Decode(&pair); err != nil {
		return err
	}
	if len(pair) != 2 {
		return fmt.Errorf("line %d: a connection needs a source and a target", node.Line)
	}
	*l = Link{Source: pair[0], Target: pair[1]}
	return nil
}

func (l Link) String() string {
	return fmt.Sprintf("%s -> %s", l.Source, l.Target)
}

// Connection describes one Connect or Disconnect call. Exactly one of Source
// and Action, and exactly one of Target and Observation, must be set.
type Connection struct {
	Source      *Ref
	Target      *Ref
	Action      string
	Observation string
	Converter   *msgtype.Ref
	Window      *int
	Delay       *float64
}

// entry is the stored form of one entity.
type entry struct {
	Params  *spec.Entity `yaml:"params"`
	Default *spec.Entity `yaml:"default"`
}

type state struct {
	Nodes    map[string]*entry `yaml:"nodes"`
	Connects []Link            `yaml:"connects"`
}

func newState() *state {
	s := &state{Nodes: make(map[string]*entry)}
	for _, name := range []string{address.Actions, address.Observations} {
		e := boundaryEntity(name)
		s.Nodes[name] = &entry{Params: e, Default: e.Clone()}
	}
	return s
}

func boundaryEntity(name string) *spec.Entity {
	types := map[string]string{
		address.Actions:      "actions",
		address.Observations: "observations",
		address.Render:       "render",
	}
	return &spec.Entity{Kind: spec.NodeKind, Name: name, Type: types[name], Rate: 1}
}

func (s *state) clone() *state {
	out := &state{
		Nodes:    make(map[string]*entry, len(s.Nodes)),
		Connects: append([]Link(nil), s.Connects...),
	}
	for name, e := range s.Nodes {
		out.Nodes[name] = &entry{Params: e.Params.Clone(), Default: e.Default.Clone()}
	}
	return out
}

func (s *state) names() []string {
	names := make([]string, 0, len(s.Nodes))
	for name := range s.Nodes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Option configures a Graph.
type Option func(g *Graph)

// WithLogger sets the logger used for warnings raised while editing.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Graph) { g.logger = logger }
}

// WithConverters sets the converter registry used to derive wire types.
func WithConverters(r *msgtype.Registry) Option {
	return func(g *Graph) { g.converters = r }
}

// Graph is the editable specification of an environment. It is safe for
// concurrent use.
type Graph struct {
	mu         sync.Mutex
	st         *state
	logger     *slog.Logger
	converters *msgtype.Registry
}

// New creates a graph holding only the synthetic action and observation
// entities.
func New(opts ...Option) *Graph {
	g := &Graph{
		st:         newState(),
		logger:     slog.Default(),
		converters: msgtype.Default,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Create is New followed by Add.
func Create(entities []*spec.Entity, opts ...Option) (*Graph, error) {
	g := New(opts...)
	if err := g.Add(entities...); err != nil {
		return nil, err
	}
	return g, nil
}

// tx is one in-flight edit against a private copy of the state.
type tx struct {
	*state
	converters *msgtype.Registry
	logger     *slog.Logger
}

func (g *Graph) mutate(fn func(t *tx) error) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	t := &tx{state: g.st.clone(), converters: g.converters, logger: g.logger}
	if err := fn(t); err != nil {
		return err
	}
	g.st = t.state
	return nil
}

func (g *Graph) view(fn func(t *tx) error) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return fn(&tx{state: g.st, converters: g.converters, logger: g.logger})
}

// Names returns the names of all entities, synthetic ones included.
func (g *Graph) Names() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.st.names()
}

// Entity returns a copy of the current parameters of an entity.
func (g *Graph) Entity(name string) (*spec.Entity, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	e, ok := g.st.Nodes[name]
	if !ok {
		return nil, false
	}
	return e.Params.Clone(), true
}

// Connections returns the stored connections in insertion order.
func (g *Graph) Connections() []Link {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]Link(nil), g.st.Connects...)
}

func (t *tx) entity(name string) (*entry, error) {
	e, ok := t.Nodes[name]
	if !ok {
		return nil, configErr("there is no node or object named %q", name)
	}
	return e, nil
}

// endpoint returns the live endpoint behind r.
func (t *tx) endpoint(r Ref) (*spec.Endpoint, error) {
	e, err := t.entity(r.Name)
	if err != nil {
		return nil, err
	}
	ep, ok := e.Params.Endpoint(r.Component, r.CName)
	if !ok {
		return nil, configErr("%q is not defined in %q under %s", r.CName, r.Name, r.Component)
	}
	return ep, nil
}

// isSelected checks that r exists and is part of the active component list.
// Feedthroughs follow the selection of their output.
func (t *tx) isSelected(r Ref) error {
	if _, err := t.endpoint(r); err != nil {
		return err
	}
	kind := r.Component
	if kind == address.Feedthroughs {
		kind = address.Outputs
	}
	if !t.Nodes[r.Name].Params.IsSelected(kind, r.CName) {
		return configErr("%q is not selected in %q under %s", r.CName, r.Name, kind)
	}
	return nil
}

// declaredType returns the message type a connection into r must deliver.
func (t *tx) declaredType(r Ref) (string, error) {
	kind := r.Component
	if kind == address.Feedthroughs {
		kind = address.Outputs
	}
	ep, err := t.endpoint(Ref{Name: r.Name, Component: kind, CName: r.CName})
	if err != nil {
		return "", err
	}
	return ep.MsgType, nil
}

func (t *tx) hasSource(r Ref) bool {
	for _, l := range t.Connects {
		if l.Source == r {
			return true
		}
	}
	return false
}
