package testutil

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/vk/lockstepgrid/internal/app"
	"github.com/vk/lockstepgrid/internal/registry"
)

// Options are the run settings of a harness run. Zero values take the
// application defaults, except Timeout which defaults to five seconds.
type Options struct {
	Command  app.Command
	Episodes int
	Steps    int
	Actions  map[string]float64
	States   map[string]float64
	Timeout  time.Duration
}

// HarnessResult holds the outcomes of an integration test run.
type HarnessResult struct {
	LogOutput string
	Err       error
	App       *app.App
}

// RunGraphTest provides a standardized harness for running integration tests
// using a default background context.
func RunGraphTest(t *testing.T, files map[string]string, opts Options, modules ...registry.Module) *HarnessResult {
	t.Helper()
	return RunGraphTestWithContext(context.Background(), t, files, opts, modules...)
}

// RunGraphTestWithContext writes files into a temporary graph directory and
// runs the application on it in-process.
func RunGraphTestWithContext(ctx context.Context, t *testing.T, files map[string]string, opts Options, modules ...registry.Module) *HarnessResult {
	t.Helper()

	graphDir := t.TempDir()
	for name, content := range files {
		filePath := filepath.Join(graphDir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(filePath), 0o755))
		require.NoError(t, os.WriteFile(filePath, []byte(content), 0o644))
	}

	if opts.Timeout == 0 {
		opts.Timeout = 5 * time.Second
	}
	cfg, err := app.NewConfig(app.Config{
		Command:   opts.Command,
		GraphPath: graphDir,
		Episodes:  opts.Episodes,
		Steps:     opts.Steps,
		Actions:   opts.Actions,
		States:    opts.States,
		Timeout:   opts.Timeout,
		LogLevel:  "debug",
		LogFormat: "text",
	})
	require.NoError(t, err)

	logBuffer := &SafeBuffer{}
	result := &HarnessResult{}
	func() {
		defer func() {
			if r := recover(); r != nil {
				result.Err = fmt.Errorf("application startup panicked | %v", r)
			}
		}()
		result.App = app.NewApp(logBuffer, cfg, modules...)
	}()
	if result.Err == nil {
		result.Err = result.App.Run(ctx)
	}

	result.LogOutput = logBuffer.String()
	if os.Getenv("LOCKSTEP_TEST_LOGS") == "true" {
		t.Logf("--- Full Log Output for %s ---\n%s", t.Name(), result.LogOutput)
	}
	return result
}
