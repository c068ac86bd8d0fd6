package main

import (
	"github.com/spf13/cobra"

	"github.com/Shivanand-hulikatti/event-registration/internal/config"
	"github.com/Shivanand-hulikatti/event-registration/internal/database"
)

func newMigrateCmd() *cobra.Command {
	var status bool

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Parse()
			if err != nil {
				return err
			}
			newLogger(cfg, cmd.ErrOrStderr())
			if status {
				return database.MigrationStatus(cmd.Context(), cfg.DatabaseURL)
			}
			return database.Migrate(cmd.Context(), cfg.DatabaseURL)
		},
	}
	cmd.Flags().BoolVar(&status, "status", false, "print migration status instead of migrating")
	return cmd
}
