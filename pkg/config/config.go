package config

import (
	"net"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/jwoglom/fakecadence/pkg/bluetooth"
	"github.com/jwoglom/fakecadence/pkg/catalog"
)

// UI modes
const (
	UINone    = "none"
	UIConsole = "console"
	UITUI     = "tui"
)

// Config holds the emulator configuration
type Config struct {
	// Bluetooth configuration
	Backend string
	Adapter string
	Name    string
	Kinds   []catalog.ServiceKind

	// Interfaces
	APIAddr string
	UI      string

	// SimulateInterval toggles the case on a timer when non-zero
	SimulateInterval time.Duration

	// ScriptsPath is an optional JSON file of value scripts
	ScriptsPath string

	// Logging configuration
	LogLevel log.Level
}

// Options are the raw values from the command line.
type Options struct {
	Backend          string
	Adapter          string
	Name             string
	Services         []string
	APIAddr          string
	UI               string
	SimulateInterval time.Duration
	ScriptsPath      string
	LogLevel         string
}

// New validates opts and creates a configuration
func New(opts Options) (*Config, error) {
	// Check for environment variable if adapter not provided
	if opts.Adapter == "" {
		opts.Adapter = os.Getenv("CADENCE_ADAPTER")
	}

	switch opts.Backend {
	case bluetooth.BackendHCI, bluetooth.BackendBlueZ, bluetooth.BackendLoopback:
	default:
		return nil, errors.Errorf("invalid backend: %s (must be 'hci', 'bluez' or 'loopback')", opts.Backend)
	}

	if strings.TrimSpace(opts.Name) == "" {
		return nil, errors.New("device name is required")
	}

	if len(opts.Services) == 0 {
		return nil, errors.New("at least one service is required")
	}
	kinds := make([]catalog.ServiceKind, 0, len(opts.Services))
	seen := make(map[catalog.ServiceKind]bool)
	for _, s := range opts.Services {
		k, err := catalog.ParseKind(s)
		if err != nil {
			return nil, err
		}
		if seen[k] {
			return nil, errors.Errorf("service %s listed twice", k)
		}
		seen[k] = true
		kinds = append(kinds, k)
	}

	if opts.APIAddr != "" {
		if _, _, err := net.SplitHostPort(opts.APIAddr); err != nil {
			return nil, errors.Wrapf(err, "invalid api address %q", opts.APIAddr)
		}
	}

	switch opts.UI {
	case UINone, UIConsole, UITUI:
	default:
		return nil, errors.Errorf("invalid ui: %s (must be 'none', 'console' or 'tui')", opts.UI)
	}

	if opts.SimulateInterval < 0 {
		return nil, errors.Errorf("simulate interval must not be negative: %s", opts.SimulateInterval)
	}

	// Validate that the scripts file exists
	if opts.ScriptsPath != "" {
		if _, err := os.Stat(opts.ScriptsPath); os.IsNotExist(err) {
			return nil, errors.Errorf("scripts file does not exist: %s", opts.ScriptsPath)
		}
	}

	level, err := log.ParseLevel(opts.LogLevel)
	if err != nil {
		return nil, errors.Wrap(err, "invalid log level")
	}

	return &Config{
		Backend:          opts.Backend,
		Adapter:          opts.Adapter,
		Name:             opts.Name,
		Kinds:            kinds,
		APIAddr:          opts.APIAddr,
		UI:               opts.UI,
		SimulateInterval: opts.SimulateInterval,
		ScriptsPath:      opts.ScriptsPath,
		LogLevel:         level,
	}, nil
}
