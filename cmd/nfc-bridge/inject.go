package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/omarafosh/NFC-Card-Germany/internal/bridge"
	"github.com/omarafosh/NFC-Card-Germany/internal/hardware"
	"github.com/omarafosh/NFC-Card-Germany/internal/signature"
	"github.com/omarafosh/NFC-Card-Germany/internal/terminal"
)

func newInjectCmd(opts *rootOptions) *cobra.Command {
	var once bool

	cmd := &cobra.Command{
		Use:   "inject",
		Short: "Write the signature to every presented card",
		Long: "Write the signature to every card presented on the reader, without\n" +
			"contacting the remote store. Cards are verified after writing.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			codec, err := signature.New(cfg.Signature.Secret)
			if err != nil {
				return &ConfigurationError{Field: "signature.secret", Err: err}
			}
			if err := cfg.Validate(); err != nil {
				// The remote store is not used here, only the reader settings matter.
				var cfgErr *ConfigurationError
				if !errors.As(err, &cfgErr) || cfgErr.Field != "remote.url" {
					return err
				}
			}
			printBanner(cmd.OutOrStdout(), terminal.Config{Name: "injector"}, cfg.Hardware.Transport)
			return runInjector(cmd.Context(), cmd.OutOrStdout(), codec, accessFor(cfg.Hardware), cfg.Hardware.WriteTimeout, newTransport(cfg.Hardware), once)
		},
	}
	cmd.Flags().BoolVar(&once, "once", false, "exit after the first verified card")
	return cmd
}

func runInjector(ctx context.Context, out io.Writer, codec *signature.Codec, access bridge.CardAccess, writeTimeout time.Duration, transport hardware.Transport, once bool) error {
	inj := bridge.NewInjector(bridge.InjectorConfig{Access: access, WriteTimeout: writeTimeout, Once: once}, codec, func(res bridge.InjectionResult) {
		switch {
		case res.Err != nil:
			fmt.Fprintf(out, "FAILED   %s: %s\n", res.UID, hardware.FriendlyError(res.Err))
		case res.Verified:
			fmt.Fprintf(out, "OK       %s\n", res.UID)
		default:
			fmt.Fprintf(out, "WRITTEN  %s (not verified)\n", res.UID)
		}
	})

	fmt.Fprintln(out, "Present a card to inject. Ctrl+C to stop.")
	count, err := inj.Run(ctx, transport)
	fmt.Fprintf(out, "%d card(s) injected\n", count)
	if err != nil && ctx.Err() == nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("injector: %w", err)
	}
	return nil
}
