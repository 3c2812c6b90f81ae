package integration_tests

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vk/lockstepgrid/internal/app"
	"github.com/vk/lockstepgrid/internal/testutil"
)

// TestErrorHandling_InvalidGraphIsRejected validates that graphs which
// cannot run in lock-step are rejected before any runtime starts.
func TestErrorHandling_InvalidGraphIsRejected(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name    string
		graph   string
		errText string
	}{
		{
			name:    "syntax error",
			graph:   `node "recorder" "A" {`,
			errText: "failed to parse",
		},
		{
			name: "algebraic loop",
			graph: `
                node "recorder" "A" {}
                node "recorder" "B" {}
                connect {
                    source = "A/outputs/out"
                    target = "B/inputs/in"
                }
                connect {
                    source = "B/outputs/out"
                    target = "A/inputs/in"
                }
            `,
			errText: "algebraic loops detected",
		},
		{
			name:    "unconnected input",
			graph:   `node "recorder" "A" {}`,
			errText: `"in" was selected in inputs of "A", but no address was specified`,
		},
		{
			name:    "unregistered kind",
			graph:   `node "sleeper" "A" {}`,
			errText: `node kind "sleeper" is not registered`,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			// --- Act ---
			result := testutil.RunGraphTest(t, map[string]string{"main.hcl": tc.graph},
				testutil.Options{Command: app.CommandValidate}, testutil.NewRecorder())

			// --- Assert ---
			require.Error(t, result.Err)
			require.Contains(t, result.Err.Error(), tc.errText)
		})
	}
}

// TestErrorHandling_DuplicateModule validates that registering the same node
// kind twice is reported as a startup failure.
func TestErrorHandling_DuplicateModule(t *testing.T) {
	t.Parallel()

	result := testutil.RunGraphTest(t, map[string]string{"main.hcl": `node "recorder" "A" {}`},
		testutil.Options{Command: app.CommandValidate}, testutil.NewRecorder(), testutil.NewRecorder())

	require.Error(t, result.Err)
	require.Contains(t, result.Err.Error(), "application startup panicked")
	require.Contains(t, result.Err.Error(), "node kind 'recorder' already registered")
}
