package testutil

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// AssertObservations checks that some reset or step logged exactly the given
// observations, written as "name=value" pairs sorted by name.
func AssertObservations(t *testing.T, result *HarnessResult, observations string) {
	t.Helper()

	expectedLogSubstring := fmt.Sprintf("observations=%q", observations)
	require.True(t,
		strings.Contains(result.LogOutput, expectedLogSubstring),
		"expected observations %s to be logged, but they were not.\nLogs:\n%s",
		observations, result.LogOutput,
	)
}

// AssertEpisodes checks that the run finished the given number of episodes.
func AssertEpisodes(t *testing.T, result *HarnessResult, episodes int) {
	t.Helper()

	require.Equal(t, episodes, strings.Count(result.LogOutput, "Episode finished."),
		"unexpected number of finished episodes.\nLogs:\n%s", result.LogOutput)
}
