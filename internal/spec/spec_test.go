package spec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/lockstepgrid/internal/address"
	"github.com/vk/lockstepgrid/internal/msgtype"
)

func TestBuilder_Node(t *testing.T) {
	e, err := NewNode("A", "relay").
		Rate(20).
		Input("in", "number", WithWindow(3)).
		Output("out", "number", StartWithMsg()).
		Output("debug", "string", Unselected()).
		Config("gain", 2.0).
		Build()
	require.NoError(t, err)

	assert.Equal(t, NodeKind, e.Kind)
	assert.Equal(t, 20.0, e.Rate)
	in, ok := e.Endpoint(address.Inputs, "in")
	require.True(t, ok)
	assert.Equal(t, 3, in.Window)
	out, _ := e.Endpoint(address.Outputs, "out")
	assert.True(t, out.StartWithMsg)
	assert.True(t, e.IsSelected(address.Outputs, "out"))
	assert.False(t, e.IsSelected(address.Outputs, "debug"))
	assert.Equal(t, []string{"debug", "out"}, e.Names(address.Outputs))
}

func TestBuilder_TargetsDeriveFeedthroughs(t *testing.T) {
	e := NewNode("R", "resetter").
		Input("in", "number").
		Output("out", "number").
		Output("aux", "number", Unselected()).
		Target("goal", "number").
		MustBuild()

	_, ok := e.Endpoint(address.Feedthroughs, "out")
	assert.True(t, ok)
	_, ok = e.Endpoint(address.Feedthroughs, "aux")
	assert.True(t, ok)
	assert.Equal(t, []string{"out"}, e.SelectedNames(address.Feedthroughs))
}

func TestBuilder_Errors(t *testing.T) {
	testCases := []struct {
		name    string
		builder *Builder
		errText string
	}{
		{
			name:    "duplicate endpoint",
			builder: NewNode("A", "relay").Input("in", "number").Input("in", "number"),
			errText: "declared twice",
		},
		{
			name:    "feedthrough before output",
			builder: NewNode("A", "relay").Feedthrough("out"),
			errText: "before its output",
		},
		{
			name:    "bad message type",
			builder: NewNode("A", "relay").Input("in", "any"),
			errText: "invalid message type",
		},
		{
			name:    "reserved cname",
			builder: NewNode("A", "relay").Input("set", "number"),
			errText: "reserved",
		},
		{
			name:    "zero rate",
			builder: NewNode("A", "relay").Rate(0),
			errText: "Rate",
		},
		{
			name:    "missing type",
			builder: NewNode("A", ""),
			errText: "Type: field is required",
		},
		{
			name:    "object with inputs",
			builder: &Builder{e: &Entity{Kind: ObjectKind, Name: "o", Type: "t", Rate: 1, Components: map[address.Kind]map[string]*Endpoint{address.Inputs: {"x": {MsgType: "number"}}}}},
			errText: "object entity cannot declare inputs",
		},
		{
			name: "bridge implements undeclared sensor",
			builder: NewObject("cart", "pointmass").Sensor("pos", "number").
				Bridge("sim", Implementation{Sensors: map[string]string{"vel": "sim/vel"}}),
			errText: "undeclared sensors/vel",
		},
		{
			name:    "invalid name",
			builder: NewNode("inputs", "relay"),
			errText: "reserved",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := tc.builder.Build()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.errText)
		})
	}
}

func TestEntity_CloneIsDeep(t *testing.T) {
	e := NewObject("cart", "pointmass").
		Sensor("pos", "number", WithSpaceConverter(&msgtype.Ref{ID: msgtype.ScaleID, Args: map[string]string{"factor": "1"}})).
		Actuator("force", "number").
		Bridge("sim", Implementation{Sensors: map[string]string{"pos": "sim/pos"}}).
		Config("nested", map[string]any{"list": []any{1, 2}}).
		MustBuild()

	c := e.Clone()
	require.Equal(t, e, c)

	c.Components[address.Sensors]["pos"].SpaceConverter.Args["factor"] = "9"
	c.Bridges["sim"].Sensors["pos"] = "other"
	c.Config["nested"].(map[string]any)["list"].([]any)[0] = 42
	c.Deselect(address.Actuators, "force")

	assert.Equal(t, "1", e.Components[address.Sensors]["pos"].SpaceConverter.Args["factor"])
	assert.Equal(t, "sim/pos", e.Bridges["sim"].Sensors["pos"])
	assert.Equal(t, 1, e.Config["nested"].(map[string]any)["list"].([]any)[0])
	assert.True(t, e.IsSelected(address.Actuators, "force"))
}

func TestEntity_SelectDeselect(t *testing.T) {
	e := &Entity{}
	e.Select(address.Inputs, "a")
	e.Select(address.Inputs, "b")
	e.Select(address.Inputs, "a")
	assert.Equal(t, []string{"a", "b"}, e.SelectedNames(address.Inputs))

	e.Deselect(address.Inputs, "a")
	assert.Equal(t, []string{"b"}, e.SelectedNames(address.Inputs))
	e.Deselect(address.Inputs, "b")
	assert.NotContains(t, e.Selected, address.Inputs)
}
