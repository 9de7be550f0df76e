package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"mavcam-bridge/internal/ble"
	"mavcam-bridge/internal/bridge"
	"mavcam-bridge/internal/control"
	"mavcam-bridge/internal/hardware"
	"mavcam-bridge/internal/indicator"
	"mavcam-bridge/internal/infra/config"
	"mavcam-bridge/internal/infra/logger"
	"mavcam-bridge/internal/infra/tracer"
	"mavcam-bridge/internal/mavlink"
	"mavcam-bridge/internal/store"
	"mavcam-bridge/internal/wifi"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "mavcam",
	Short: "MAVLink bridge for GoPro cameras",
	Long: `mavcam connects to a GoPro camera over Bluetooth LE or Wi-Fi and exposes it
to an autopilot as a MAVLink camera component.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, log, closeLog, err := setup()
		if err != nil {
			return err
		}
		defer closeLog()

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return run(ctx, cfg, log)
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "mavcam.yaml", "config file")
}

// setup loads the config and installs the process logger.
func setup() (*config.Config, *slog.Logger, func(), error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, nil, nil, err
	}
	log, closeLog, err := logger.New(cfg.Logger)
	if err != nil {
		return nil, nil, nil, err
	}
	slog.SetDefault(log)
	return cfg, log, func() { _ = closeLog() }, nil
}

func bridgeConfig(cfg *config.Config) bridge.Config {
	return bridge.Config{
		TickInterval:          cfg.Bridge.Tick,
		PairingTimeout:        cfg.Bridge.PairingTimeout,
		CommandTimeout:        cfg.Bridge.CommandTimeout,
		CommandRetries:        cfg.Bridge.CommandRetries,
		KeepAliveInterval:     cfg.Bridge.KeepAlive,
		CameraTimeoutMultiple: cfg.Bridge.CameraTimeoutMultiple,
		PeerTimeout:           cfg.MAVLink.PeerTimeout,
		RestartDelay:          cfg.Bridge.RestartDelay,
		NamePrefix:            cfg.Camera.NamePrefix,
	}
}

func newTransport(cfg *config.Config, log *slog.Logger) (bridge.Transport, error) {
	switch cfg.Camera.Transport {
	case "ble":
		return ble.NewCentral(cfg.BLE, log), nil
	case "wifi":
		return wifi.New(cfg.WiFi, log), nil
	case "sim":
		return hardware.NewSimCamera(cfg.Sim, log), nil
	default:
		return nil, fmt.Errorf("unknown camera transport %q", cfg.Camera.Transport)
	}
}

func run(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	log.Info("mavcam starting",
		slog.String("version", version),
		slog.String("transport", cfg.Camera.Transport))

	shutdownTracer, err := tracer.Setup(ctx, cfg.Tracer)
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			log.Warn("tracer shutdown", slog.Any("error", err))
		}
	}()

	transport, err := newTransport(cfg, log)
	if err != nil {
		return err
	}

	opts := bridge.Options{Logger: log}

	if cfg.Store.Path != "" {
		st, err := store.NewSQLitePairingStore(cfg.Store.Path)
		if err != nil {
			return err
		}
		defer st.Close()
		opts.Store = st
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	errs := make(chan error, 4)
	spawn := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errs <- fmt.Errorf("%s: %w", name, err)
				cancel()
			}
		}()
	}

	if cfg.Indicator.Enabled {
		led := indicator.New(cfg.Indicator, indicator.NewLogPin(log), log)
		opts.Indicator = led
		wg.Add(1)
		go func() {
			defer wg.Done()
			led.Run(ctx)
		}()
	}

	endpoint := mavlink.New(cfg.MAVLink, log)
	publishers := bridge.Publishers{endpoint}

	var srv *control.Server
	if cfg.Control.Enabled {
		srv = control.NewServer(cfg.Control, log)
		publishers = append(publishers, srv.Hub())
	}
	opts.Publisher = publishers

	ctl := bridge.New(bridgeConfig(cfg), transport, opts)
	endpoint.Bind(ctl)
	spawn("mavlink", endpoint.Run)
	if srv != nil {
		srv.Bind(ctl)
		spawn("control", srv.Start)
	}
	spawn("bridge", ctl.Run)

	log.Info("mavcam ready")
	<-ctx.Done()
	log.Info("shutting down")
	wg.Wait()

	select {
	case err := <-errs:
		return err
	default:
		return nil
	}
}
