package integration_tests

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/lockstepgrid/internal/testutil"
)

// TestHCLFeatures_Delay validates that a connection delay holds the value
// back by whole ticks, reading zero until the delay has elapsed.
func TestHCLFeatures_Delay(t *testing.T) {
	t.Parallel()
	// --- Arrange ---
	graphHCL := `
        node "recorder" "A" {}

        connect {
            action = "act"
            target = "A/inputs/in"
            delay  = 1
        }
        connect {
            source      = "A/outputs/out"
            observation = "obs"
        }
    `

	// --- Act ---
	result := testutil.RunGraphTest(t, map[string]string{"main.hcl": graphHCL}, testutil.Options{
		Steps:   1,
		Actions: map[string]float64{"act": 2},
	}, testutil.NewRecorder())

	// --- Assert ---
	require.NoError(t, result.Err)
	testutil.AssertObservations(t, result, "obs=0")
	testutil.AssertObservations(t, result, "obs=2")
}

// TestHCLFeatures_StartWithMsg validates that an output declared with
// start_with_msg breaks a feedback loop.
func TestHCLFeatures_StartWithMsg(t *testing.T) {
	t.Parallel()
	// --- Arrange ---
	graphHCL := `
        node "recorder" "A" {
            input "in" { type = number }
            output "out" {
                type           = number
                start_with_msg = true
            }
        }
        node "recorder" "B" {}

        connect {
            source = "A/outputs/out"
            target = "B/inputs/in"
        }
        connect {
            source = "B/outputs/out"
            target = "A/inputs/in"
        }
        connect {
            source      = "B/outputs/out"
            observation = "obs"
        }
    `
	recorder := testutil.NewRecorder()

	// --- Act ---
	result := testutil.RunGraphTest(t, map[string]string{"main.hcl": graphHCL}, testutil.Options{
		Steps: 3,
	}, recorder)

	// --- Assert ---
	require.NoError(t, result.Err)
	testutil.AssertObservations(t, result, "obs=0")
	assert.Equal(t, []uint64{0, 1, 2, 3}, recorder.Ticks("B"))
}

// TestHCLFeatures_Converter validates that a connection converter is applied
// on the way into the target.
func TestHCLFeatures_Converter(t *testing.T) {
	t.Parallel()
	// --- Arrange ---
	graphHCL := `
        node "recorder" "A" {}

        connect {
            action = "act"
            target = "A/inputs/in"
            converter "scale" { factor = 10 }
        }
        connect {
            source      = "A/outputs/out"
            observation = "obs"
        }
    `

	// --- Act ---
	result := testutil.RunGraphTest(t, map[string]string{"main.hcl": graphHCL}, testutil.Options{
		Actions: map[string]float64{"act": 0.5},
	}, testutil.NewRecorder())

	// --- Assert ---
	require.NoError(t, result.Err)
	testutil.AssertObservations(t, result, "obs=5")
}
