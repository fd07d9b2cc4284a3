package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/jwoglom/fakecadence/pkg/advertising"
	"github.com/jwoglom/fakecadence/pkg/api"
	"github.com/jwoglom/fakecadence/pkg/bluetooth"
	"github.com/jwoglom/fakecadence/pkg/catalog"
	"github.com/jwoglom/fakecadence/pkg/config"
	"github.com/jwoglom/fakecadence/pkg/console"
	"github.com/jwoglom/fakecadence/pkg/peripheral"
	"github.com/jwoglom/fakecadence/pkg/settings"
	"github.com/jwoglom/fakecadence/pkg/state"
	"github.com/jwoglom/fakecadence/pkg/tui"
)

const requestTimeout = 5 * time.Second

// CLI is the command line of the emulator.
type CLI struct {
	// if both verbose and quiet are chosen, e.g., -v -q, the verbose dominates
	Verbose bool `short:"v" help:"Verbose logging (trace level)."`
	Quiet   bool `short:"q" help:"Quiet logging (info level)."`

	LogLevel string `name:"log-level" default:"debug" help:"Log level when neither -v nor -q is given."`

	Backend  string        `default:"hci" enum:"hci,bluez,loopback" help:"BLE stack: hci, bluez or loopback."`
	Adapter  string        `env:"CADENCE_ADAPTER" help:"HCI adapter, e.g. hci0. Empty picks the first."`
	Name     string        `default:"Cadence" help:"Advertised local name."`
	Services []string      `default:"cadenceCase,cadenceBlisterPack,currentTime" help:"Services to publish, in order."`
	API      string        `name:"api" default:"localhost:8080" help:"Web API listen address. Empty disables it."`
	UI       string        `default:"none" enum:"none,console,tui" help:"Interactive front end."`
	Simulate time.Duration `help:"Toggle the case on this interval. Zero disables it."`
	Scripts  string        `type:"path" help:"JSON file of characteristic value scripts."`
	Demo     bool          `help:"Install the demo value scripts."`
}

func (c *CLI) level() string {
	switch {
	case c.Verbose:
		return log.TraceLevel.String()
	case c.Quiet:
		return log.InfoLevel.String()
	default:
		return c.LogLevel
	}
}

func main() {
	var cli CLI
	kong.Parse(&cli,
		kong.Name("fakecadence"),
		kong.Description("Cadence pill case BLE peripheral emulator."),
	)

	log.SetFormatter(&log.TextFormatter{
		DisableQuote: true,
		ForceColors:  true,
	})

	cfg, err := config.New(config.Options{
		Backend:          cli.Backend,
		Adapter:          cli.Adapter,
		Name:             cli.Name,
		Services:         cli.Services,
		APIAddr:          cli.API,
		UI:               cli.UI,
		SimulateInterval: cli.Simulate,
		ScriptsPath:      cli.Scripts,
		LogLevel:         cli.level(),
	})
	if err != nil {
		log.Fatalf("Invalid configuration: %s", err)
	}
	log.SetLevel(cfg.LogLevel)

	if err := run(cfg, cli.Demo); err != nil {
		log.Fatalf("%s", err)
	}
}

func run(cfg *config.Config, demo bool) error {
	log.Info("Starting Cadence Emulator")
	for _, k := range cfg.Kinds {
		def, err := catalog.Define(k)
		if err != nil {
			return err
		}
		log.Infof("Service %s: %s", k, catalog.FormatUUID(def.ID))
		for _, c := range def.Characteristics {
			log.Infof("  %-26s %s", c.Name, catalog.FormatUUID(c.ID))
		}
	}

	settingsManager := settings.NewManager()
	if cfg.ScriptsPath != "" {
		if err := settingsManager.LoadFile(cfg.ScriptsPath); err != nil {
			return err
		}
	} else if demo {
		settings.RegisterDefaults(settingsManager)
	}

	backend, err := bluetooth.Open(bluetooth.Options{
		Backend:        cfg.Backend,
		Adapter:        cfg.Adapter,
		RequestTimeout: requestTimeout,
	})
	if err != nil {
		return errors.Wrap(err, "could not start BLE")
	}

	caseState := state.NewCaseState()
	p, err := peripheral.New(peripheral.Config{
		Name:     cfg.Name,
		Kinds:    cfg.Kinds,
		Source:   caseState,
		Override: settingsManager,
		Radio:    backend,
		Link:     backend,
	})
	if err != nil {
		return err
	}

	backend.SetHandler(p)
	notifier := peripheral.NewStateNotifier(p, requestTimeout)
	caseState.SetEventNotifier(notifier)
	p.AddObserver(peripheral.StateObserver{State: caseState})

	var server *api.Server
	if cfg.APIAddr != "" {
		server = api.New(p, caseState)
		server.SetSettingsManager(settingsManager)
		p.AddObserver(server)
		defer server.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := p.Run(ctx); err != nil {
			log.Errorf("peripheral: %v", err)
		}
	}()
	go func() {
		defer wg.Done()
		if err := backend.Run(ctx); err != nil {
			log.Errorf("bluetooth backend stopped: %v", err)
			stop()
		}
	}()

	startCtx, cancel := context.WithTimeout(ctx, requestTimeout)
	err = p.StartAdvertising(startCtx)
	cancel()
	switch {
	case errors.Is(err, advertising.ErrRadioOff):
		log.Info("Bluetooth is powered off, advertising will start when it powers on")
	case err != nil:
		stop()
		wg.Wait()
		return errors.Wrap(err, "start advertising")
	}

	if server != nil {
		go func() {
			if err := server.Start(ctx, cfg.APIAddr); err != nil {
				log.Errorf("%v", err)
				stop()
			}
		}()
	}

	if cfg.SimulateInterval > 0 {
		sim := state.NewSimulator(caseState, cfg.SimulateInterval)
		sim.SetEventNotifier(notifier)
		go sim.Run(ctx)
	}

	switch cfg.UI {
	case config.UIConsole:
		if err := console.New(p, caseState, os.Stdin, os.Stdout).Run(ctx); err != nil {
			log.Errorf("console: %v", err)
		}
	case config.UITUI:
		// The TUI owns the terminal
		log.SetOutput(io.Discard)
		err := tui.Run(ctx, p, caseState)
		log.SetOutput(os.Stderr)
		if err != nil {
			log.Errorf("%v", err)
		}
	default:
		log.Info("Bluetooth device initialized, waiting for connections...")
		<-ctx.Done()
	}

	log.Info("Shutting down")
	stop()
	wg.Wait()
	return nil
}
