package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	internalhttp "github.com/omarafosh/NFC-Card-Germany/internal/api/http"
	"github.com/omarafosh/NFC-Card-Germany/internal/bridge"
	"github.com/omarafosh/NFC-Card-Germany/internal/cloud"
	"github.com/omarafosh/NFC-Card-Germany/internal/db"
	"github.com/omarafosh/NFC-Card-Germany/internal/hardware"
	"github.com/omarafosh/NFC-Card-Germany/internal/notify"
	"github.com/omarafosh/NFC-Card-Germany/internal/signature"
	"github.com/omarafosh/NFC-Card-Germany/internal/store"
	"github.com/omarafosh/NFC-Card-Germany/internal/store/memory"
	"github.com/omarafosh/NFC-Card-Germany/internal/store/postgres"
	"github.com/omarafosh/NFC-Card-Germany/internal/terminal"
)

func newRunCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the bridge (default)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCommand(cmd.Context(), opts)
		},
	}
}

func runCommand(ctx context.Context, opts *rootOptions) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	return runBridge(ctx, cfg)
}

func runBridge(ctx context.Context, cfg Config) error {
	codec, err := signature.New(cfg.Signature.Secret)
	if err != nil {
		return &ConfigurationError{Field: "signature.secret", Err: err}
	}

	term, err := terminal.Resolve(cfg.Terminal.Dir, os.Stdin, os.Stdout)
	if err != nil {
		return &ConfigurationError{Field: "terminal", Err: err}
	}
	printBanner(os.Stdout, term, cfg.Hardware.Transport)

	st, err := openStore(ctx, cfg.Remote)
	if err != nil {
		return err
	}
	defer st.Close()

	sync := cloud.NewSync(st, syncConfig(term.ID, cfg.Sync))
	if created, err := sync.EnsureTerminal(ctx, term.Name); err != nil {
		slog.Warn("Could not register terminal", "terminal_id", term.ID, "error", err)
	} else if created {
		slog.Info("Registered terminal", "terminal_id", term.ID, "terminal_name", term.Name)
	}

	notifier := notify.NewDesktop(bridge.DefaultDeviceName)
	bridgeCfg := bridgeConfig(cfg.Hardware)

	b := bridge.New(bridgeCfg, newTransport(cfg.Hardware), sync, codec, notifier)
	emitter := bridge.NewEmitter(bridge.HeartbeatConfig{
		Interval:        cfg.Heartbeat.Interval,
		ShutdownTimeout: cfg.Heartbeat.ShutdownTimeout,
	}, sync, b)
	b.OnDeviceChange(emitter.Trigger)
	listener := bridge.NewListener(bridge.ListenerConfig{TerminalID: term.ID}, st, b, sync, notifier)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return b.Run(gctx) })
	g.Go(func() error { return emitter.Run(gctx) })
	g.Go(func() error { return listener.Run(gctx) })
	if cfg.Http.Enabled {
		server := internalhttp.NewServer(cfg.Http, &internalhttp.Services{
			Devices:     b,
			Status:      b,
			TerminalID:  term.ID,
			Name:        term.Name,
			TokenSecret: cfg.Http.Auth.Secret,
		})
		g.Go(func() error { return server.Run(gctx) })
	}

	slog.Info("Bridge running", "terminal_id", term.ID)
	err = g.Wait()

	if serr := emitter.Shutdown(); serr != nil {
		slog.Warn("Terminal may still appear online", "error", serr)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	slog.Info("Shutdown complete")
	return nil
}

func openStore(ctx context.Context, cfg RemoteConfig) (store.Store, error) {
	if strings.ToLower(cfg.Driver) == DRIVER_MEMORY {
		slog.Warn("Using in-memory store, nothing is persisted")
		return memory.New(), nil
	}

	if cfg.RunMigrations {
		if err := db.RunMigrations(ctx, cfg.URL, cfg.Schema); err != nil {
			return nil, fmt.Errorf("run migrations: %w", err)
		}
	}
	pool, err := db.InitDB(ctx, db.Config{
		URL:      cfg.URL,
		Schema:   cfg.Schema,
		MaxConns: cfg.MaxConns,
		MinConns: cfg.MinConns,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to remote store: %w", err)
	}
	return postgres.New(pool), nil
}

func newTransport(cfg HardwareConfig) hardware.Transport {
	if strings.ToLower(cfg.Transport) == TRANSPORT_HID {
		hidCfg := hardware.DefaultHIDConfig()
		if cfg.VendorID != 0 {
			hidCfg.VendorID = cfg.VendorID
		}
		if cfg.ProductID != 0 {
			hidCfg.ProductID = cfg.ProductID
		}
		if cfg.PollInterval > 0 {
			hidCfg.PollInterval = cfg.PollInterval
		}
		return hardware.NewHIDTransport(hidCfg)
	}

	pcscCfg := hardware.DefaultPCSCConfig()
	if cfg.PollInterval > 0 {
		pcscCfg.PollTimeout = cfg.PollInterval
	}
	return hardware.NewPCSCTransport(pcscCfg)
}

func accessFor(cfg HardwareConfig) bridge.CardAccess {
	access := bridge.DefaultCardAccess()
	if cfg.AccessBlock > 0 {
		access.Block = cfg.AccessBlock
	}
	return access
}

func bridgeConfig(cfg HardwareConfig) bridge.Config {
	out := bridge.DefaultConfig()
	out.Access = accessFor(cfg)
	if cfg.NewCardWindow > 0 {
		out.NewCardWindow = cfg.NewCardWindow
	}
	if cfg.VerifyTimeout > 0 {
		out.VerifyTimeout = cfg.VerifyTimeout
	}
	if cfg.WriteTimeout > 0 {
		out.WriteTimeout = cfg.WriteTimeout
	}
	return out
}

func syncConfig(terminalID int64, cfg SyncConfig) cloud.Config {
	out := cloud.DefaultConfig(terminalID)
	if cfg.ScanAttempts > 0 {
		out.ScanPolicy.Attempts = cfg.ScanAttempts
	}
	if cfg.ScanBaseDelay > 0 {
		out.ScanPolicy.BaseDelay = cfg.ScanBaseDelay
	}
	if cfg.UpdateAttempts > 0 {
		out.UpdatePolicy.Attempts = cfg.UpdateAttempts
	}
	if cfg.UpdateBaseDelay > 0 {
		out.UpdatePolicy.BaseDelay = cfg.UpdateBaseDelay
	}
	if cfg.CallTimeout > 0 {
		out.CallTimeout = cfg.CallTimeout
	}
	return out
}
