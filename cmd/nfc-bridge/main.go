package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/omarafosh/NFC-Card-Germany/internal/terminal"
)

var AppVersion string

const (
	exitOK     = 0
	exitFatal  = 1
	exitConfig = 2
)

type rootOptions struct {
	configPath string
	logLevel   string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := newRootCmd().ExecuteContext(ctx)
	stop()
	os.Exit(exitCode(err))
}

func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	slog.Error("Bridge exited", "error", err)
	var cfgErr *ConfigurationError
	if errors.As(err, &cfgErr) {
		return exitConfig
	}
	return exitFatal
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "nfc-bridge",
		Short:         "Bridge NFC card readers to the loyalty dashboard",
		Version:       AppVersion,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCommand(cmd.Context(), opts)
		},
	}
	addRootFlags(root.PersistentFlags(), opts)

	root.AddCommand(
		newRunCmd(opts),
		newInjectCmd(opts),
		newMigrateCmd(opts),
		newTokenCmd(opts),
	)
	return root
}

func addRootFlags(flags *pflag.FlagSet, opts *rootOptions) {
	flags.StringVarP(&opts.configPath, "config", "c", "", "path to application.yaml")
	flags.StringVar(&opts.logLevel, "log-level", "", "override log.level (ERROR, WARNING, INFO, DEBUG)")
}

// loadConfig reads and validates configuration and installs the logger.
func loadConfig(opts *rootOptions) (Config, error) {
	cfg, err := LoadConfig(opts.configPath)
	if err != nil {
		initLogger(opts.logLevel)
		return Config{}, err
	}
	if opts.logLevel != "" {
		cfg.Log.Level = opts.logLevel
	}
	initLogger(cfg.Log.Level)
	logConfig(cfg)
	return cfg, nil
}

func printBanner(w io.Writer, term terminal.Config, transport string) {
	fmt.Fprintln(w, "==============================================")
	fmt.Fprintf(w, " NFC Bridge %s\n", versionString())
	fmt.Fprintf(w, " Terminal #%d (%s)\n", term.ID, term.Name)
	fmt.Fprintf(w, " Reader transport: %s\n", transport)
	fmt.Fprintln(w, "==============================================")
}

func versionString() string {
	if AppVersion == "" {
		return "dev"
	}
	return AppVersion
}
