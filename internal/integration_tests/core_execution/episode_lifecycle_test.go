package integration_tests

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/lockstepgrid/internal/testutil"
	"github.com/vk/lockstepgrid/modules/gain"
)

// TestCoreExecution_EpisodeLifecycle validates that every node is reset once
// per episode and steps every tick of it, starting over at tick 0.
func TestCoreExecution_EpisodeLifecycle(t *testing.T) {
	t.Parallel()
	// --- Arrange ---
	graphHCL := `
        node "recorder" "A" {}
        node "gain" "B" {
            config = { gain = 2 }
        }

        connect {
            action = "act"
            target = "A/inputs/in"
        }
        connect {
            source = "A/outputs/out"
            target = "B/inputs/in"
        }
        connect {
            source      = "B/outputs/out"
            observation = "obs"
        }
    `
	files := map[string]string{"main.hcl": graphHCL}
	recorder := testutil.NewRecorder()

	// --- Act ---
	result := testutil.RunGraphTest(t, files, testutil.Options{
		Episodes: 2,
		Steps:    3,
		Actions:  map[string]float64{"act": 4},
	}, recorder, &gain.Module{})

	// --- Assert ---
	require.NoError(t, result.Err)
	testutil.AssertEpisodes(t, result, 2)
	testutil.AssertObservations(t, result, "obs=8")
	assert.Equal(t, 2, recorder.Resets("A"))
	assert.Equal(t, []uint64{0, 1, 2, 3, 0, 1, 2, 3}, recorder.Ticks("A"))
}

// TestCoreExecution_ResetOnly validates that a run without steps still
// resets the environment and reports the reset observations.
func TestCoreExecution_ResetOnly(t *testing.T) {
	t.Parallel()
	// --- Arrange ---
	graphHCL := `
        node "recorder" "A" {}

        connect {
            action = "act"
            target = "A/inputs/in"
        }
        connect {
            source      = "A/outputs/out"
            observation = "obs"
        }
    `
	recorder := testutil.NewRecorder()

	// --- Act ---
	result := testutil.RunGraphTest(t, map[string]string{"main.hcl": graphHCL}, testutil.Options{
		Actions: map[string]float64{"act": 1.5},
	}, recorder)

	// --- Assert ---
	require.NoError(t, result.Err)
	testutil.AssertEpisodes(t, result, 1)
	testutil.AssertObservations(t, result, "obs=1.5")
	assert.Equal(t, []uint64{0}, recorder.Ticks("A"))
}
