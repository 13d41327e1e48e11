// ABOUTME: Environment-driven configuration for scenario runs.
// ABOUTME: VIGIL_* variables override defaults; the data root comes from the user scope.

package scenario

import (
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/caarlos0/env/v6"
	gap "github.com/muesli/go-app-paths"
)

// Config holds scenario orchestration settings pulled from the environment.
type Config struct {
	// DataRoot is where scenario data directories are created when the
	// caller does not supply one.
	DataRoot string `env:"VIGIL_DATA_ROOT"`

	// ResultsPath is the scenario results archive location.
	ResultsPath string `env:"VIGIL_RESULTS_PATH"`

	// OpenTimeout bounds the verification open.
	OpenTimeout time.Duration `env:"VIGIL_OPEN_TIMEOUT" envDefault:"30s"`

	// SafetyTimeout is the harness's last-resort worker lifetime bound.
	SafetyTimeout time.Duration `env:"VIGIL_SAFETY_TIMEOUT" envDefault:"60s"`

	// KillSignal is the termination signal scenarios send, by name.
	KillSignal string `env:"VIGIL_KILL_SIGNAL" envDefault:"SIGKILL"`

	// WorkerProgram is the worker executable. Defaults to re-executing
	// the current binary with the worker subcommand.
	WorkerProgram string `env:"VIGIL_WORKER_PROGRAM"`

	// WorkerArgs are passed to the worker program before its environment
	// takes over.
	WorkerArgs []string `env:"VIGIL_WORKER_ARGS" envSeparator:","`
}

// ConfigFromEnv loads the configuration from environment variables,
// filling defaults from the user's data scope.
func ConfigFromEnv() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	if cfg.DataRoot == "" {
		scope := gap.NewScope(gap.User, "vigil")
		dd, err := scope.DataPath("")
		if err != nil {
			return nil, fmt.Errorf("failed to resolve data path: %w", err)
		}
		cfg.DataRoot = dd
	}
	if cfg.ResultsPath == "" {
		cfg.ResultsPath = filepath.Join(cfg.DataRoot, "results")
	}

	if cfg.WorkerProgram == "" {
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("failed to locate own executable for worker spawning: %w", err)
		}
		cfg.WorkerProgram = exe
		cfg.WorkerArgs = []string{"worker"}
	}

	if _, err := cfg.Signal(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Signal resolves the configured kill signal name.
func (c *Config) Signal() (os.Signal, error) {
	switch c.KillSignal {
	case "", "SIGKILL":
		return syscall.SIGKILL, nil
	case "SIGTERM":
		return syscall.SIGTERM, nil
	case "SIGINT":
		return syscall.SIGINT, nil
	case "SIGQUIT":
		return syscall.SIGQUIT, nil
	case "SIGHUP":
		return syscall.SIGHUP, nil
	default:
		return nil, fmt.Errorf("unsupported kill signal %q", c.KillSignal)
	}
}
