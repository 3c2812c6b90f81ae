package lockstep

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/vk/lockstepgrid/internal/address"
	"github.com/vk/lockstepgrid/internal/broker"
	"github.com/vk/lockstepgrid/internal/ctxlog"
	"github.com/vk/lockstepgrid/internal/graph"
	"github.com/vk/lockstepgrid/internal/metrics"
	"github.com/vk/lockstepgrid/internal/msgtype"
	"github.com/vk/lockstepgrid/internal/node"
	"github.com/vk/lockstepgrid/internal/paramstore"
	"github.com/vk/lockstepgrid/internal/spec"
	"github.com/zclconf/go-cty/cty"
)

// Options configures a Supervisor.
type Options struct {
	Broker *broker.Broker
	// Launcher starts the runtimes of registered units. Without one the
	// runtimes are expected to be started elsewhere.
	Launcher Launcher
	// Store receives the bundle of every registered unit.
	Store      paramstore.Store
	Converters *msgtype.Registry
	Metrics    *metrics.Registry
}

type unit struct {
	initialized bool
	acked       uint64
}

// BridgeRecord is what the parameter store holds for the bridge.
type BridgeRecord struct {
	Bridge  string   `json:"bridge"`
	Objects []string `json:"objects"`
}

// Supervisor drives a registered graph: it resets it, steps it and is the
// boundary through which actions go in and observations come out.
type Supervisor struct {
	ns       string
	compiled *graph.Compiled
	broker   *broker.Broker
	launcher Launcher
	store    paramstore.Store
	metrics  *metrics.Registry
	logger   *slog.Logger
	diag     time.Duration

	actions      []*port
	observations []*port
	states       map[string]*port
	render       *port

	initialized *Signal
	resetDone   *Signal
	obsReady    *Signal
	faulted     *Signal

	mu        sync.Mutex
	units     map[string]*unit
	order     []string
	objects   []*graph.Bundle
	launched  bool
	episode   uint64
	tick      uint64
	started   bool
	actionBuf map[string]cty.Value
	stateBuf  map[string]cty.Value
	obs       map[uint64]map[string]cty.Value
	image     cty.Value
	hasImage  bool
	fault     error
}

// NewSupervisor prepares the supervisor of a registered graph and wires
// its addresses.
func NewSupervisor(ctx context.Context, compiled *graph.Compiled, opts Options) (*Supervisor, error) {
	if opts.Broker == nil {
		return nil, fmt.Errorf("supervisor: a broker is required")
	}
	conv := opts.Converters
	if conv == nil {
		conv = msgtype.Default
	}

	s := &Supervisor{
		ns:          compiled.Namespace,
		compiled:    compiled,
		broker:      opts.Broker,
		launcher:    opts.Launcher,
		store:       opts.Store,
		metrics:     opts.Metrics,
		logger:      ctxlog.FromContext(ctx).With("component", "supervisor", "namespace", compiled.Namespace),
		states:      make(map[string]*port),
		initialized: NewSignal(),
		resetDone:   NewSignal(),
		obsReady:    NewSignal(),
		faulted:     NewSignal(),
		units:       make(map[string]*unit),
		actionBuf:   make(map[string]cty.Value),
		stateBuf:    make(map[string]cty.Value),
		obs:         make(map[uint64]map[string]cty.Value),
	}
	s.initialized.Set()

	var err error
	if b, ok := compiled.Bundle(address.Actions); ok {
		if s.actions, err = resolvePorts(conv, b, address.Outputs); err != nil {
			return nil, err
		}
	}
	if b, ok := compiled.Bundle(address.Observations); ok {
		if s.observations, err = resolvePorts(conv, b, address.Inputs); err != nil {
			return nil, err
		}
	}
	if b, ok := compiled.Bundle(address.Render); ok {
		ports, err := resolvePorts(conv, b, address.Inputs)
		if err != nil {
			return nil, err
		}
		if len(ports) > 0 {
			s.render = ports[0]
		}
	}
	for _, b := range compiled.Bundles {
		if address.IsFixed(b.Name) {
			continue
		}
		ports, err := resolvePorts(conv, b, address.States)
		if err != nil {
			return nil, err
		}
		for _, p := range ports {
			s.states[b.Name+"/"+p.CName] = p
		}
	}

	io := broker.IO{Outputs: []broker.Output{
		{Role: broker.RoleNodeOutputs, Address: ResetAddress(s.ns), Type: cty.Number},
		{Role: broker.RoleOutputs, Address: TickAddress(s.ns), Type: cty.Number},
	}}
	for _, p := range s.actions {
		io.Outputs = append(io.Outputs, broker.Output{Role: broker.RoleOutputs, Address: p.Address, Type: p.wireType, Converter: p.conv})
	}
	for _, key := range slices.Sorted(maps.Keys(s.states)) {
		p := s.states[key]
		io.Outputs = append(io.Outputs,
			broker.Output{Role: broker.RoleStateOutputs, Address: setAddress(p.Address), Type: p.wireType, Converter: p.conv},
			broker.Output{Role: broker.RoleStateOutputs, Address: doneAddress(p.Address), Type: cty.Bool},
		)
	}
	var bindings []binding
	for _, p := range s.observations {
		bindings = append(bindings, p.bind("obs/"+p.CName))
	}
	if s.render != nil {
		bindings = append(bindings, s.render.bind("render"))
	}
	io.Inputs = fanIn(broker.RoleInputs, bindings, s.receive, s.Fail)

	if err := s.broker.Register(address.Supervisor, io); err != nil {
		return nil, fmt.Errorf("supervisor: %w", err)
	}
	if _, err := s.broker.Connect(ctx); err != nil {
		return nil, fmt.Errorf("supervisor: %w", err)
	}
	return s, nil
}

// WithDiagnostics logs the broker dump and the units still awaited every
// interval while a wait blocks. Waits never time out.
func (s *Supervisor) WithDiagnostics(interval time.Duration) *Supervisor {
	s.diag = interval
	return s
}

// RegisterGraph registers every node and object of the compiled graph.
func (s *Supervisor) RegisterGraph(ctx context.Context) error {
	for _, b := range s.compiled.Nodes() {
		if err := s.RegisterNode(ctx, b); err != nil {
			return err
		}
	}
	for _, b := range s.compiled.Objects() {
		if err := s.RegisterObject(ctx, b); err != nil {
			return err
		}
	}
	return nil
}

// RegisterNode adds a node to the set of units a reset waits for and
// launches its runtime. It does not wait for the runtime to initialize.
func (s *Supervisor) RegisterNode(ctx context.Context, b *graph.Bundle) error {
	if b.Kind != spec.NodeKind {
		return fmt.Errorf("%q is not a node", b.Name)
	}
	if err := s.registerUnit(ctx, b); err != nil {
		return err
	}
	if s.launcher != nil {
		if err := s.launcher.LaunchNode(ctx, b, s.Fail); err != nil {
			return fmt.Errorf("failed to launch %q: %w", b.Name, err)
		}
	}
	return nil
}

// RegisterObject adds an object. The bridge running the objects is
// launched by the first Reset, so objects must be registered before it.
func (s *Supervisor) RegisterObject(ctx context.Context, b *graph.Bundle) error {
	if b.Kind != spec.ObjectKind {
		return fmt.Errorf("%q is not an object", b.Name)
	}
	s.mu.Lock()
	launched := s.launched
	s.mu.Unlock()
	if launched {
		return fmt.Errorf("cannot register object %q after the bridge was launched", b.Name)
	}
	if err := s.registerUnit(ctx, b); err != nil {
		return err
	}
	s.mu.Lock()
	s.objects = append(s.objects, b)
	s.mu.Unlock()
	return nil
}

func (s *Supervisor) registerUnit(ctx context.Context, b *graph.Bundle) error {
	s.mu.Lock()
	if _, exists := s.units[b.Name]; exists {
		s.mu.Unlock()
		return fmt.Errorf("%q is already registered", b.Name)
	}
	s.units[b.Name] = &unit{}
	s.order = append(s.order, b.Name)
	s.initialized.Clear()
	s.mu.Unlock()

	name := b.Name
	err := s.broker.Register(address.Supervisor, broker.IO{Inputs: []broker.Input{
		{Role: broker.RoleNodeInputs, Address: InitializedAddress(s.ns, name), Type: cty.Bool,
			Deliver: func(node.Message) { s.onInitialized(name) }},
		{Role: broker.RoleNodeInputs, Address: AckAddress(s.ns, name), Type: cty.Bool,
			Deliver: func(msg node.Message) { s.onAck(name, msg.Episode) }},
	}})
	if err != nil {
		return fmt.Errorf("failed to register %q: %w", name, err)
	}
	if _, err := s.broker.Connect(ctx); err != nil {
		return fmt.Errorf("failed to register %q: %w", name, err)
	}
	if s.store != nil {
		if err := paramstore.Upload(ctx, s.store, s.ns, map[string]any{name: b}); err != nil {
			return err
		}
	}
	s.logger.Debug("Unit registered.", "unit", name, "kind", b.Kind)
	return nil
}

func (s *Supervisor) launchBridge(ctx context.Context) error {
	s.mu.Lock()
	if s.launched || len(s.objects) == 0 {
		s.mu.Unlock()
		return nil
	}
	s.launched = true
	objects := append([]*graph.Bundle(nil), s.objects...)
	s.mu.Unlock()

	if s.store != nil {
		rec := BridgeRecord{Bridge: s.compiled.Bridge}
		for _, o := range objects {
			rec.Objects = append(rec.Objects, o.Name)
		}
		if err := paramstore.Upload(ctx, s.store, s.ns, map[string]any{address.Bridge: rec}); err != nil {
			return err
		}
	}
	if s.launcher == nil {
		return nil
	}
	if err := s.launcher.LaunchBridge(ctx, s.compiled.Bridge, objects, s.Fail); err != nil {
		return fmt.Errorf("failed to launch bridge %q: %w", s.compiled.Bridge, err)
	}
	return nil
}

func (s *Supervisor) onInitialized(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u := s.units[name]; u != nil && !u.initialized {
		u.initialized = true
		s.logger.Debug("Unit initialized.", "unit", name)
	}
	for _, u := range s.units {
		if !u.initialized {
			return
		}
	}
	s.initialized.Set()
}

func (s *Supervisor) onAck(name string, episode uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := s.units[name]
	if u == nil || episode != s.episode {
		return
	}
	u.acked = episode
	if len(s.pending()) == 0 {
		s.resetDone.Set()
	}
}

// pending lists the units that did not acknowledge the current episode.
// It must be called with the lock held.
func (s *Supervisor) pending() []string {
	var out []string
	for _, name := range s.order {
		if s.units[name].acked != s.episode {
			out = append(out, name)
		}
	}
	return out
}

func (s *Supervisor) receive(key string, msg node.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if msg.Episode != s.episode {
		return
	}
	if key == "render" {
		s.image, s.hasImage = msg.Value, true
		return
	}
	cname := strings.TrimPrefix(key, "obs/")
	if msg.Seq < s.tick {
		return
	}
	if s.obs[msg.Seq] == nil {
		s.obs[msg.Seq] = make(map[string]cty.Value, len(s.observations))
	}
	s.obs[msg.Seq][cname] = msg.Value
	s.checkObservations()
}

// checkObservations sets obsReady once every observation of the current
// tick is in. It must be called with the lock held.
func (s *Supervisor) checkObservations() {
	if len(s.obs[s.tick]) == len(s.observations) {
		s.obsReady.Set()
	}
}

// Fail aborts every current and future wait with err. Runtimes report
// their errors here.
func (s *Supervisor) Fail(err error) {
	s.mu.Lock()
	first := s.fault == nil
	if first {
		s.fault = err
	}
	s.mu.Unlock()
	if first {
		if errors.Is(err, ErrProtocolViolation) {
			s.metrics.RecordViolation()
		}
		s.logger.Error("❌ Lock-step aborted.", "error", err)
	}
	s.faulted.Set()
}

// Err returns the error passed to Fail, if any.
func (s *Supervisor) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fault
}

// Reset starts a new episode. It blocks until every registered unit has
// acknowledged it and the observations of tick 0 are complete.
func (s *Supervisor) Reset(ctx context.Context) error {
	start := time.Now()
	if err := s.launchBridge(ctx); err != nil {
		return err
	}
	if err := s.wait(ctx, "initialization", s.initialized); err != nil {
		return err
	}

	s.mu.Lock()
	s.resetDone.Clear()
	s.obsReady.Clear()
	s.episode++
	s.tick = 0
	s.obs = make(map[uint64]map[string]cty.Value)
	s.image, s.hasImage = cty.NilVal, false
	episode, registered := s.episode, len(s.units)
	states := s.stateBuf
	s.stateBuf = make(map[string]cty.Value)
	actions := maps.Clone(s.actionBuf)
	if registered == 0 {
		s.resetDone.Set()
	}
	s.checkObservations()
	s.mu.Unlock()

	logger := s.logger.With("episode", episode)
	logger.Debug("Resetting.", "units", registered, "states", len(states))

	for _, key := range slices.Sorted(maps.Keys(s.states)) {
		p := s.states[key]
		v, ok := states[key]
		if ok {
			if err := s.broker.Publish(ctx, setAddress(p.Address), node.Message{Episode: episode, Value: v}); err != nil {
				return err
			}
		}
		if err := s.broker.Publish(ctx, doneAddress(p.Address), node.Message{Episode: episode, Value: cty.BoolVal(!ok)}); err != nil {
			return err
		}
	}
	msg := node.Message{Episode: episode, Value: cty.NumberIntVal(int64(registered))}
	if err := s.broker.Publish(ctx, ResetAddress(s.ns), msg); err != nil {
		return err
	}
	if err := s.publishTick(ctx, episode, 0, actions); err != nil {
		return err
	}

	if err := s.wait(ctx, "reset", s.resetDone); err != nil {
		return err
	}
	if err := s.wait(ctx, "observations", s.obsReady); err != nil {
		return err
	}

	s.mu.Lock()
	s.started = true
	s.mu.Unlock()
	s.metrics.RecordReset(time.Since(start))
	logger.Info("🔄 Environment reset.", "duration", time.Since(start))
	return nil
}

// Step advances the tick and blocks until its observations are complete.
func (s *Supervisor) Step(ctx context.Context) error {
	start := time.Now()
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return ErrNotReset
	}
	s.obsReady.Clear()
	delete(s.obs, s.tick)
	s.tick++
	episode, tick := s.episode, s.tick
	actions := maps.Clone(s.actionBuf)
	s.checkObservations()
	s.mu.Unlock()

	if err := s.publishTick(ctx, episode, tick, actions); err != nil {
		return err
	}
	if err := s.wait(ctx, "observations", s.obsReady); err != nil {
		return err
	}
	s.metrics.RecordTick(time.Since(start))
	return nil
}

func (s *Supervisor) publishTick(ctx context.Context, episode, tick uint64, actions map[string]cty.Value) error {
	msg := node.Message{Episode: episode, Seq: tick, Value: cty.NumberUIntVal(tick)}
	if err := s.broker.Publish(ctx, TickAddress(s.ns), msg); err != nil {
		return err
	}
	for _, p := range s.actions {
		v, ok := actions[p.CName]
		if !ok {
			v = msgtype.Zero(p.nodeType)
		}
		if err := s.broker.Publish(ctx, p.Address, node.Message{Episode: episode, Seq: tick, Value: v}); err != nil {
			return fmt.Errorf("action %q: %w", p.CName, err)
		}
	}
	return nil
}

func (s *Supervisor) wait(ctx context.Context, what string, sig *Signal) error {
	var diag <-chan time.Time
	if s.diag > 0 {
		t := time.NewTicker(s.diag)
		defer t.Stop()
		diag = t.C
	}
	for {
		select {
		case <-sig.Done():
			return nil
		case <-s.faulted.Done():
			return fmt.Errorf("waiting for %s: %w", what, s.Err())
		case <-ctx.Done():
			return fmt.Errorf("waiting for %s: %w", what, ctx.Err())
		case <-diag:
			s.diagnose(what)
		}
	}
}

func (s *Supervisor) diagnose(what string) {
	s.mu.Lock()
	var uninitialized []string
	for _, name := range s.order {
		if !s.units[name].initialized {
			uninitialized = append(uninitialized, name)
		}
	}
	pending := s.pending()
	var missing []string
	for _, p := range s.observations {
		if _, ok := s.obs[s.tick][p.CName]; !ok {
			missing = append(missing, p.CName)
		}
	}
	episode, tick := s.episode, s.tick
	s.mu.Unlock()

	var dump strings.Builder
	if err := s.broker.Dump(&dump); err != nil {
		dump.WriteString(err.Error())
	}
	s.logger.Warn("⏳ Still waiting.", "for", what, "episode", episode, "tick", tick,
		"uninitialized", uninitialized, "unacknowledged", pending, "observations_missing", missing)
	s.logger.Debug("Broker status.\n" + dump.String())
}

// SetState buffers the desired value of a state for the next reset. owner
// is the node or object declaring the state.
func (s *Supervisor) SetState(owner, cname string, v cty.Value) error {
	key := owner + "/" + cname
	p, ok := s.states[key]
	if !ok {
		return fmt.Errorf("no state %q is registered", key)
	}
	v, err := msgtype.Conform(v, p.nodeType)
	if err != nil {
		return fmt.Errorf("state %q: %w", key, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stateBuf[key] = v
	return nil
}

// SetActions buffers the actions published from the next tick on. Actions
// keep their value until they are set again.
func (s *Supervisor) SetActions(actions map[string]cty.Value) error {
	conformed := make(map[string]cty.Value, len(actions))
	for cname, v := range actions {
		i := slices.IndexFunc(s.actions, func(p *port) bool { return p.CName == cname })
		if i < 0 {
			return fmt.Errorf("no action %q is registered", cname)
		}
		cv, err := msgtype.Conform(v, s.actions[i].nodeType)
		if err != nil {
			return fmt.Errorf("action %q: %w", cname, err)
		}
		conformed[cname] = cv
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	maps.Copy(s.actionBuf, conformed)
	return nil
}

// Observations returns the observations of the current tick.
func (s *Supervisor) Observations() map[string]cty.Value {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Clone(s.obs[s.tick])
}

// LastImage returns the most recent frame received by the render node in
// the current episode.
func (s *Supervisor) LastImage() (cty.Value, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.image, s.hasImage
}

// Tick returns the current tick.
func (s *Supervisor) Tick() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tick
}

// Episode returns the current episode, 0 before the first reset.
func (s *Supervisor) Episode() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.episode
}

// Registered returns the number of units ever registered.
func (s *Supervisor) Registered() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.units)
}

// Close stops the launched runtimes and drops the supervisor addresses.
func (s *Supervisor) Close() error {
	var errs []error
	if s.launcher != nil {
		errs = append(errs, s.launcher.Close())
	}
	errs = append(errs, s.broker.Unregister(address.Supervisor))
	return errors.Join(errs...)
}
