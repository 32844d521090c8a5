package main

import (
	"github.com/spf13/cobra"

	"github.com/omarafosh/NFC-Card-Germany/internal/db"
)

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the bridge tables and notification trigger",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			if cfg.Remote.URL == "" {
				return &ConfigurationError{Field: "remote.url", Err: errMissingURL}
			}
			return db.RunMigrations(cmd.Context(), cfg.Remote.URL, cfg.Remote.Schema)
		},
	}
}
