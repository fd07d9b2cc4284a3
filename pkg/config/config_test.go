package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/jwoglom/fakecadence/pkg/catalog"
)

func validOptions() Options {
	return Options{
		Backend:  "loopback",
		Name:     "Cadence",
		Services: []string{"cadenceCase", "cadenceBlisterPack"},
		APIAddr:  "localhost:8080",
		UI:       UINone,
		LogLevel: "info",
	}
}

func TestNew_Valid(t *testing.T) {
	cfg, err := New(validOptions())
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(cfg.Kinds) != 2 || cfg.Kinds[0] != catalog.CadenceCase || cfg.Kinds[1] != catalog.CadenceBlisterPack {
		t.Errorf("Unexpected kinds %v", cfg.Kinds)
	}
	if cfg.LogLevel != log.InfoLevel {
		t.Errorf("Expected info level, got %v", cfg.LogLevel)
	}
}

func TestNew_AdapterFromEnvironment(t *testing.T) {
	t.Setenv("CADENCE_ADAPTER", "hci1")

	cfg, err := New(validOptions())
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Adapter != "hci1" {
		t.Errorf("Expected adapter from environment, got %q", cfg.Adapter)
	}
}

func TestNew_ScriptsPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scripts.json")
	if err := os.WriteFile(path, []byte("{}"), 0o600); err != nil {
		t.Fatal(err)
	}

	opts := validOptions()
	opts.ScriptsPath = path
	if _, err := New(opts); err != nil {
		t.Errorf("Unexpected error: %v", err)
	}
}

func TestNew_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Options)
	}{
		{"backend", func(o *Options) { o.Backend = "usb" }},
		{"empty name", func(o *Options) { o.Name = "  " }},
		{"no services", func(o *Options) { o.Services = nil }},
		{"unknown service", func(o *Options) { o.Services = []string{"heartRate"} }},
		{"duplicate service", func(o *Options) { o.Services = []string{"cadenceCase", "CadenceCase"} }},
		{"api address", func(o *Options) { o.APIAddr = "8080" }},
		{"ui", func(o *Options) { o.UI = "gui" }},
		{"simulate interval", func(o *Options) { o.SimulateInterval = -time.Second }},
		{"scripts path", func(o *Options) { o.ScriptsPath = filepath.Join(t.TempDir(), "missing.json") }},
		{"log level", func(o *Options) { o.LogLevel = "chatty" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := validOptions()
			tt.modify(&opts)
			if _, err := New(opts); err == nil {
				t.Error("Expected error")
			}
		})
	}
}
