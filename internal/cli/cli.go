package cli

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/vk/lockstepgrid/internal/app"
)

// Environment variables read for flag defaults.
const (
	EnvTransport = "LOCKSTEP_TRANSPORT"
	EnvNamespace = "LOCKSTEP_NAMESPACE"
	EnvRedisURL  = "REDIS_URL"
)

// ExitError is a custom error type that includes a specific exit code.
type ExitError struct {
	Code    int
	Message string
}

// Error implements the error interface for ExitError.
func (e *ExitError) Error() string {
	return e.Message
}

func usageError(format string, args ...any) error {
	return &ExitError{Code: 2, Message: fmt.Sprintf(format, args...)}
}

// listFlag collects a repeatable string flag.
type listFlag []string

func (l *listFlag) String() string { return strings.Join(*l, ",") }

func (l *listFlag) Set(v string) error {
	*l = append(*l, v)
	return nil
}

// valuesFlag collects repeatable name=value pairs with numeric values.
type valuesFlag map[string]float64

func (f valuesFlag) String() string {
	parts := make([]string, 0, len(f))
	for k, v := range f {
		parts = append(parts, k+"="+strconv.FormatFloat(v, 'g', -1, 64))
	}
	return strings.Join(parts, ",")
}

func (f valuesFlag) Set(v string) error {
	name, raw, ok := strings.Cut(v, "=")
	if !ok || name == "" {
		return fmt.Errorf("%q is not name=value", v)
	}
	n, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return fmt.Errorf("%q: value must be a number", v)
	}
	f[name] = n
	return nil
}

// Parse processes command-line arguments. The first argument may name a
// command (run, validate, node or relay); run is assumed otherwise. It returns a
// populated Config, a boolean indicating if the program should exit
// cleanly, or an ExitError.
func Parse(args []string, output io.Writer) (*app.Config, bool, error) {
	slog.Debug("CLI parser started.")

	command := app.CommandRun
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		switch c := app.Command(args[0]); c {
		case app.CommandRun, app.CommandValidate, app.CommandNode, app.CommandRelay:
			command = c
			args = args[1:]
		}
	}

	flagSet := flag.NewFlagSet("lockstepgrid "+string(command), flag.ContinueOnError)
	flagSet.SetOutput(output)

	flagSet.Usage = func() {
		fmt.Fprint(output, `
LockstepGrid - A lock-step coordinator for simulated and real environments.

Usage:
  lockstepgrid [run] [options] [GRAPH_PATH]
  lockstepgrid validate [options] [GRAPH_PATH]
  lockstepgrid node -unit NAME -namespace NS -redis-url URL [options]
  lockstepgrid relay -listen HOST:PORT [options]

Arguments:
  GRAPH_PATH
    Path to a .hcl file, a directory containing .hcl files or a saved
    .yaml graph.

Options:
`)
		flagSet.PrintDefaults()
	}

	var (
		peers   listFlag
		actions = valuesFlag{}
		states  = valuesFlag{}
	)
	graphFlag := flagSet.String("graph", "", "Path to the graph file or directory.")
	gFlag := flagSet.String("g", "", "Path to the graph file or directory (shorthand).")
	namespaceFlag := flagSet.String("namespace", os.Getenv(EnvNamespace), "Namespace of every address. Defaults to the graph's, then to one derived from the run id.")
	bridgeFlag := flagSet.String("bridge", "", "Bridge running the objects. Defaults to the first compatible one.")
	saveFlag := flagSet.String("save", "", "Write the validated graph to this .yaml file.")
	transportFlag := flagSet.String("transport", envOr(EnvTransport, app.TransportInproc), "Transport between processes. Options: 'inproc', 'nng' or 'socketio'.")
	listenFlag := flagSet.String("listen", "", "nng address to publish on, e.g. tcp://127.0.0.1:40899. The relay command serves on this host:port.")
	flagSet.Var(&peers, "peer", "nng address of a peer to subscribe to. Repeatable.")
	relayFlag := flagSet.String("relay-url", "", "URL of the socket.io relay.")
	compressFlag := flagSet.Bool("compress", false, "Compress messages on the wire.")
	redisFlag := flagSet.String("redis-url", os.Getenv(EnvRedisURL), "Redis URL of the parameter store. In-memory when empty.")
	remoteFlag := flagSet.Bool("remote", false, "Leave the runtimes to separate 'node' processes.")
	unitFlag := flagSet.String("unit", "", "Entity name (or env/bridge) run by the 'node' command.")
	episodesFlag := flagSet.Int("episodes", 1, "Number of episodes to run.")
	stepsFlag := flagSet.Int("steps", 0, "Number of steps per episode.")
	flagSet.Var(actions, "action", "Action value as name=value. Repeatable.")
	flagSet.Var(states, "state", "State value applied at every reset as owner/state=value. Repeatable.")
	timeoutFlag := flagSet.Duration("timeout", 0, "Bound on every reset and step. 0 waits forever.")
	diagnosticsFlag := flagSet.Duration("diagnostics", 0, "Log what a stuck reset is waiting for at this interval. 0 is disabled.")
	healthPortFlag := flagSet.Int("healthcheck-port", 0, "Port for the HTTP health check server. 0 is disabled.")
	logFormatFlag := flagSet.String("log-format", "text", "Log output format. Options: 'text' or 'json'.")
	logLevelFlag := flagSet.String("log-level", "info", "Set the logging level. Options: 'debug', 'info', 'warn', 'error'.")

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil, true, nil
		}
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}
	slog.Debug("Arguments parsed successfully.", "command", command)

	path := ""
	if *graphFlag != "" {
		path = *graphFlag
	} else if *gFlag != "" {
		path = *gFlag
	} else if flagSet.NArg() > 0 {
		path = flagSet.Arg(0)
	}
	if flagSet.NArg() > 1 {
		return nil, false, usageError("unexpected arguments: %q", flagSet.Args()[1:])
	}
	slog.Debug("Graph path determined.", "path", path)

	if path == "" && command != app.CommandNode && command != app.CommandRelay {
		slog.Debug("No graph path provided, printing usage and exiting.")
		flagSet.Usage()
		return nil, true, nil
	}

	logFormat := strings.ToLower(*logFormatFlag)
	if logFormat != "text" && logFormat != "json" {
		return nil, false, usageError("invalid log-format: must be 'text' or 'json'")
	}

	logLevel := strings.ToLower(*logLevelFlag)
	switch logLevel {
	case "debug", "info", "warn", "error":
		// valid
	default:
		return nil, false, usageError("invalid log-level: must be 'debug', 'info', 'warn', or 'error'")
	}
	slog.Debug("CLI parameter validation complete.")

	config, err := app.NewConfig(app.Config{
		Command:         command,
		GraphPath:       path,
		Namespace:       *namespaceFlag,
		Bridge:          *bridgeFlag,
		SaveGraph:       *saveFlag,
		Transport:       strings.ToLower(*transportFlag),
		Listen:          *listenFlag,
		Peers:           peers,
		RelayURL:        *relayFlag,
		Compress:        *compressFlag,
		RedisURL:        *redisFlag,
		Remote:          *remoteFlag,
		Unit:            *unitFlag,
		Episodes:        *episodesFlag,
		Steps:           *stepsFlag,
		Actions:         actions,
		States:          states,
		Timeout:         *timeoutFlag,
		Diagnostics:     *diagnosticsFlag,
		LogFormat:       logFormat,
		LogLevel:        logLevel,
		HealthcheckPort: *healthPortFlag,
	})
	if err != nil {
		return nil, false, &ExitError{Code: 2, Message: err.Error()}
	}

	slog.Debug("CLI parser finished successfully.", "config", config)
	return config, false, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
