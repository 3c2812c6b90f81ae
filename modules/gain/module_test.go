package gain

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/lockstepgrid/internal/node"
	"github.com/zclconf/go-cty/cty"
)

func TestNode_Step(t *testing.T) {
	testCases := []struct {
		name   string
		config map[string]any
		in     node.Inputs
		want   cty.Value
	}{
		{name: "configured", config: map[string]any{"gain": 2.5}, in: node.Inputs{"in": {cty.NumberIntVal(2)}}, want: cty.NumberIntVal(5)},
		{name: "default gain", in: node.Inputs{"in": {cty.NumberIntVal(7)}}, want: cty.NumberIntVal(7)},
		{name: "latest of window", config: map[string]any{"gain": 2.0}, in: node.Inputs{"in": {cty.NumberIntVal(1), cty.NumberIntVal(3)}}, want: cty.NumberIntVal(6)},
		{name: "no input", config: map[string]any{"gain": 2.0}, in: node.Inputs{}, want: cty.Zero},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			n, err := New(context.Background(), node.Params{Name: "g", Kind: Kind, Rate: 1, Config: tc.config})
			require.NoError(t, err)
			out, err := n.Step(context.Background(), 0, tc.in)
			require.NoError(t, err)
			assert.True(t, out["out"].Equals(tc.want).True(), "got %#v", out["out"])
		})
	}
}

func TestNew_BadGain(t *testing.T) {
	_, err := New(context.Background(), node.Params{Name: "g", Kind: Kind, Rate: 1, Config: map[string]any{"gain": "loud"}})
	assert.Error(t, err)
}
