package hclgraph

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/vk/lockstepgrid/internal/ctxlog"
	"github.com/vk/lockstepgrid/internal/fsutil"
	"github.com/vk/lockstepgrid/internal/graph"
	"github.com/vk/lockstepgrid/internal/msgtype"
	"github.com/vk/lockstepgrid/internal/registry"
	"github.com/vk/lockstepgrid/internal/spec"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
	ctyjson "github.com/zclconf/go-cty/cty/json"
)

// Definition is a graph loaded from HCL together with the environment
// settings found next to it.
type Definition struct {
	Graph     *graph.Graph
	Namespace string
	Bridge    string
	Files     []string
}

// LoadPath parses every .hcl file below path, or path itself when it is a
// file, and builds the graph they describe. reg supplies the endpoints of
// nodes that declare none and may be nil.
func LoadPath(ctx context.Context, path string, reg *registry.Registry) (*Definition, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Loading graph definition.", "path", path)

	files, err := fsutil.FindFilesByExtension(path, ".hcl")
	if err != nil {
		return nil, fmt.Errorf("failed to find graph files in %s: %w", path, err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no .hcl graph files found in %s", path)
	}

	parser := hclparse.NewParser()
	var merged hclFile
	for _, file := range files {
		f, diags := parser.ParseHCLFile(file)
		if diags.HasErrors() {
			return nil, fmt.Errorf("failed to parse HCL file %s: %w", file, diags)
		}
		var parsed hclFile
		if diags := gohcl.DecodeBody(f.Body, nil, &parsed); diags.HasErrors() {
			return nil, fmt.Errorf("failed to decode HCL file %s: %w", file, diags)
		}
		merged.Environment = append(merged.Environment, parsed.Environment...)
		merged.Nodes = append(merged.Nodes, parsed.Nodes...)
		merged.Objects = append(merged.Objects, parsed.Objects...)
		merged.Connects = append(merged.Connects, parsed.Connects...)
		merged.Renders = append(merged.Renders, parsed.Renders...)
	}

	def, err := build(ctx, &merged, reg)
	if err != nil {
		return nil, err
	}
	def.Files = files
	logger.Debug("Graph definition loaded.", "files", len(files), "entities", len(def.Graph.Names()))
	return def, nil
}

// Parse builds a definition from the source of a single file.
func Parse(ctx context.Context, filename string, src []byte, reg *registry.Registry) (*Definition, error) {
	f, diags := hclparse.NewParser().ParseHCL(src, filename)
	if diags.HasErrors() {
		return nil, fmt.Errorf("failed to parse HCL file %s: %w", filename, diags)
	}
	var parsed hclFile
	if diags := gohcl.DecodeBody(f.Body, nil, &parsed); diags.HasErrors() {
		return nil, fmt.Errorf("failed to decode HCL file %s: %w", filename, diags)
	}
	def, err := build(ctx, &parsed, reg)
	if err != nil {
		return nil, err
	}
	def.Files = []string{filename}
	return def, nil
}

func build(ctx context.Context, f *hclFile, reg *registry.Registry) (*Definition, error) {
	def := &Definition{}
	if len(f.Environment) > 1 {
		return nil, fmt.Errorf("only one environment block is allowed, found %d", len(f.Environment))
	}
	if len(f.Environment) == 1 {
		def.Namespace = f.Environment[0].Namespace
		def.Bridge = f.Environment[0].Bridge
	}

	var errs []string
	entities := make([]*entityDecl, 0, len(f.Nodes)+len(f.Objects))
	for _, n := range f.Nodes {
		entities = append(entities, &entityDecl{hclEntity: n})
	}
	for _, o := range f.Objects {
		entities = append(entities, &entityDecl{hclEntity: o, object: true})
	}
	built := make([]*spec.Entity, 0, len(entities))
	for _, e := range entities {
		se, err := e.build(reg)
		if err != nil {
			errs = append(errs, err.Error())
			continue
		}
		built = append(built, se)
	}
	if len(errs) > 0 {
		return nil, aggregate("entity decoding failed", errs)
	}

	g, err := graph.Create(built, graph.WithLogger(ctxlog.FromContext(ctx)))
	if err != nil {
		return nil, err
	}

	for i, c := range f.Connects {
		conn, err := c.connection()
		if err != nil {
			return nil, fmt.Errorf("connect block %d: %w", i+1, err)
		}
		if err := g.Connect(conn); err != nil {
			return nil, fmt.Errorf("connect block %d: %w", i+1, err)
		}
	}

	if len(f.Renders) > 1 {
		return nil, fmt.Errorf("only one render block is allowed, found %d", len(f.Renders))
	}
	for _, r := range f.Renders {
		source, err := graph.ParseRef(r.Source)
		if err != nil {
			return nil, fmt.Errorf("render: %w", err)
		}
		conv, err := r.Converter.ref()
		if err != nil {
			return nil, fmt.Errorf("render: %w", err)
		}
		rate := r.Rate
		if rate == 0 {
			rate = 1
		}
		if err := g.Render(source, rate, conv); err != nil {
			return nil, fmt.Errorf("render: %w", err)
		}
	}

	def.Graph = g
	return def, nil
}

func (c *hclConnect) connection() (graph.Connection, error) {
	conn := graph.Connection{
		Action:      c.Action,
		Observation: c.Observation,
		Window:      c.Window,
		Delay:       c.Delay,
	}
	if c.Source != "" {
		ref, err := graph.ParseRef(c.Source)
		if err != nil {
			return conn, err
		}
		conn.Source = &ref
	}
	if c.Target != "" {
		ref, err := graph.ParseRef(c.Target)
		if err != nil {
			return conn, err
		}
		conn.Target = &ref
	}
	var err error
	conn.Converter, err = c.Converter.ref()
	return conn, err
}

// ref turns a converter block into a converter reference. Arguments are
// kept as strings, the form converters are constructed from.
func (c *hclConverter) ref() (*msgtype.Ref, error) {
	if c == nil {
		return nil, nil
	}
	ref := &msgtype.Ref{ID: c.ID}
	attrs, diags := c.Args.JustAttributes()
	if diags.HasErrors() {
		return nil, fmt.Errorf("converter %q: %w", c.ID, diags)
	}
	names := make([]string, 0, len(attrs))
	for name := range attrs {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		v, diags := attrs[name].Expr.Value(nil)
		if diags.HasErrors() {
			return nil, fmt.Errorf("converter %q argument %q: %w", c.ID, name, diags)
		}
		s, err := convert.Convert(v, cty.String)
		if err != nil || s.IsNull() {
			return nil, fmt.Errorf("converter %q argument %q must be a primitive value", c.ID, name)
		}
		if ref.Args == nil {
			ref.Args = make(map[string]string, len(names))
		}
		ref.Args[name] = s.AsString()
	}
	return ref, nil
}

// msgType evaluates a type attribute. It returns "" when the attribute is
// absent.
func msgType(expr hcl.Expression) (string, error) {
	if expr == nil {
		return "", nil
	}
	v, diags := expr.Value(nil)
	if !diags.HasErrors() {
		if v.IsNull() {
			return "", nil
		}
		if v.Type() == cty.String {
			ty, err := msgtype.Parse(v.AsString())
			if err != nil {
				return "", err
			}
			return msgtype.String(ty), nil
		}
	}
	ty, diags := msgtype.FromExpr(expr)
	if diags.HasErrors() {
		return "", diags
	}
	return msgtype.String(ty), nil
}

// configValue turns the config attribute into plain Go values. Numbers
// become float64, the way encoding/json decodes them.
func configValue(expr hcl.Expression) (map[string]any, error) {
	if expr == nil {
		return nil, nil
	}
	v, diags := expr.Value(nil)
	if diags.HasErrors() {
		return nil, diags
	}
	if v.IsNull() {
		return nil, nil
	}
	if !v.Type().IsObjectType() && !v.Type().IsMapType() {
		return nil, fmt.Errorf("config must be an object, got %s", v.Type().FriendlyName())
	}
	raw, err := ctyjson.Marshal(v, v.Type())
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}
