package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/omarafosh/NFC-Card-Germany/internal/auth"
)

func newTokenCmd(opts *rootOptions) *cobra.Command {
	var (
		subject string
		role    string
		expiry  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for the local status API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			authCfg := cfg.Http.Auth
			if cmd.Flags().Changed("expiry") {
				authCfg.Expiry = expiry
			}
			token, err := auth.GenerateToken(authCfg, subject, role)
			if err != nil {
				if errors.Is(err, auth.ErrMissingSecret) {
					return &ConfigurationError{Field: "http.token_secret", Err: err}
				}
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "device-monitor", "token subject")
	cmd.Flags().StringVar(&role, "role", "monitor", "token role")
	cmd.Flags().DurationVar(&expiry, "expiry", 0, "token lifetime, overrides http.token_expiry (0 never expires)")
	return cmd
}
