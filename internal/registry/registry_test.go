package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/lockstepgrid/internal/node"
	"github.com/vk/lockstepgrid/internal/spec"
)

type testModule struct{}

func (testModule) Register(r *Registry) {
	r.RegisterNode("relay", &RegisteredNode{
		Declaration: Declaration{
			Inputs:  map[string]string{"in": "number"},
			Outputs: map[string]string{"out": "number"},
		},
		New: func(context.Context, node.Params) (node.Node, error) { return nil, nil },
	})
	r.RegisterNode("pos_sensor", &RegisteredNode{
		Declaration: Declaration{Outputs: map[string]string{"obs": "list(number)"}},
		New:         func(context.Context, node.Params) (node.Node, error) { return nil, nil },
	})
	r.RegisterNode("force_actuator", &RegisteredNode{
		Declaration: Declaration{Inputs: map[string]string{"action": "number"}},
		New:         func(context.Context, node.Params) (node.Node, error) { return nil, nil },
	})
	r.RegisterBridge("toy", func(context.Context, float64) (node.Simulator, error) { return nil, nil })
}

func TestRegistry_Lookup(t *testing.T) {
	r := New(testModule{})

	assert.Equal(t, []string{"force_actuator", "pos_sensor", "relay"}, r.NodeKinds())
	assert.Equal(t, []string{"toy"}, r.Bridges())

	_, ok := r.Node("relay")
	assert.True(t, ok)
	_, ok = r.Node("missing")
	assert.False(t, ok)
	_, ok = r.Bridge("toy")
	assert.True(t, ok)

	assert.Panics(t, func() { testModule{}.Register(r) })
	require.NoError(t, r.ValidateRegistry(context.Background()))
}

func TestValidateRegistry_BadDeclaration(t *testing.T) {
	r := New()
	r.RegisterNode("broken", &RegisteredNode{
		Declaration: Declaration{Outputs: map[string]string{"out": "nonsense("}},
	})

	err := r.ValidateRegistry(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "registry validation failed")
	assert.Contains(t, err.Error(), "no factory")
	assert.Contains(t, err.Error(), "outputs 'out'")
}

func TestCheckEntity(t *testing.T) {
	r := New(testModule{})

	testCases := []struct {
		name    string
		entity  *spec.Entity
		wantErr []string
	}{
		{
			name:   "matching declaration",
			entity: spec.NewNode("A", "relay").Input("in", "number").Output("out", "number").MustBuild(),
		},
		{
			name:    "unknown kind",
			entity:  spec.NewNode("A", "nope").MustBuild(),
			wantErr: []string{"kind 'nope' is not registered"},
		},
		{
			name:    "type mismatch",
			entity:  spec.NewNode("A", "relay").Input("in", "string").Output("out", "number").MustBuild(),
			wantErr: []string{"Graph requires 'string' but Go implementation provides 'number'"},
		},
		{
			name:   "missing and extra endpoints",
			entity: spec.NewNode("A", "relay").Input("other", "number").Output("out", "number").MustBuild(),
			wantErr: []string{
				"graph declares inputs 'other'",
				"implements inputs 'in' which the graph does not declare",
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			errs := r.CheckEntity(tc.entity)
			if len(tc.wantErr) == 0 {
				assert.Empty(t, errs)
				return
			}
			require.Len(t, errs, len(tc.wantErr))
			for i, want := range tc.wantErr {
				assert.Contains(t, errs[i], want)
			}
		})
	}
}

func TestCheckObject(t *testing.T) {
	r := New(testModule{})

	good := spec.NewObject("mass", "pointmass").
		Sensor("pos", "list(number)").
		Actuator("force", "number").
		Bridge("toy", spec.Implementation{
			Sensors:   map[string]string{"pos": "pos_sensor"},
			Actuators: map[string]string{"force": "force_actuator"},
		}).
		MustBuild()
	assert.Empty(t, r.CheckObject(good, "toy"))
	assert.Equal(t, []string{"object 'mass': bridge 'other' is not registered"}, r.CheckObject(good, "other"))

	wrongKind := spec.NewObject("mass", "pointmass").
		Sensor("pos", "list(number)").
		Bridge("toy", spec.Implementation{Sensors: map[string]string{"pos": "relay"}}).
		MustBuild()
	errs := r.CheckObject(wrongKind, "toy")
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], "Graph requires 'list(number)' but Go implementation provides 'number'")

	unimplemented := spec.NewObject("mass", "pointmass").
		Sensor("pos", "list(number)").
		Bridge("toy", spec.Implementation{}).
		MustBuild()
	errs = r.CheckObject(unimplemented, "toy")
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0], "does not implement sensors 'pos'")
}
