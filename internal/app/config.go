package app

import (
	"fmt"
	"time"

	"github.com/vk/lockstepgrid/internal/spec"
)

// Command selects what the application does.
type Command string

const (
	CommandRun      Command = "run"
	CommandValidate Command = "validate"
	CommandNode     Command = "node"
	CommandRelay    Command = "relay"
)

// Transports accepted by Config.Transport.
const (
	TransportInproc   = "inproc"
	TransportNNG      = "nng"
	TransportSocketIO = "socketio"
)

// Config holds all the necessary configuration for an App instance to run.
type Config struct {
	Command Command `validate:"oneof=run validate node relay"`

	// GraphPath is an .hcl file, a directory of .hcl files or a saved
	// .yaml graph. The node and relay commands run without one.
	GraphPath string
	Namespace string
	Bridge    string
	SaveGraph string

	Transport string   `validate:"oneof=inproc nng socketio"`
	Listen    string   `validate:"required_if=Transport nng"`
	Peers     []string `validate:"dive,required"`
	RelayURL  string   `validate:"required_if=Transport socketio,omitempty,url"`
	Compress  bool
	RedisURL  string `validate:"required_if=Command node,omitempty,url"`

	// Remote leaves the runtimes to `node` processes instead of running
	// them in this one.
	Remote bool
	Unit   string `validate:"required_if=Command node"`

	Episodes int `validate:"gte=1"`
	Steps    int `validate:"gte=0"`
	Actions  map[string]float64
	// States are keyed by "<owner>/<state>".
	States map[string]float64

	Timeout     time.Duration `validate:"gte=0"`
	Diagnostics time.Duration `validate:"gte=0"`

	LogFormat       string `validate:"oneof=text json"`
	LogLevel        string `validate:"oneof=debug info warn error"`
	HealthcheckPort int    `validate:"gte=0,lte=65535"`
}

// NewConfig fills in defaults and validates cfg.
func NewConfig(cfg Config) (*Config, error) {
	if cfg.Command == "" {
		cfg.Command = CommandRun
	}
	if cfg.Transport == "" {
		cfg.Transport = TransportInproc
	}
	if cfg.Episodes == 0 {
		cfg.Episodes = 1
	}
	if cfg.LogFormat == "" {
		cfg.LogFormat = "text"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}

	if err := spec.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if cfg.GraphPath == "" && (cfg.Command == CommandRun || cfg.Command == CommandValidate) {
		return nil, fmt.Errorf("invalid configuration: GraphPath is required by the %s command", cfg.Command)
	}
	if cfg.Command == CommandRelay && cfg.Listen == "" {
		return nil, fmt.Errorf("invalid configuration: the relay command needs a Listen address")
	}
	if cfg.Command == CommandRun && cfg.Remote && cfg.Transport == TransportInproc {
		return nil, fmt.Errorf("invalid configuration: remote runtimes need the nng or socketio transport")
	}
	if cfg.Command == CommandNode && cfg.Transport == TransportInproc {
		return nil, fmt.Errorf("invalid configuration: the node command needs the nng or socketio transport")
	}
	return &cfg, nil
}
