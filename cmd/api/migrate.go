package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"rtcore/internal/config"
	"rtcore/internal/database"
)

func newMigrateCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the messages and call_records tables",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := config.FromViper(v)
			if cfg.DBDSN == "" {
				return fmt.Errorf("%s is required", config.KeyDBDSN)
			}

			db, err := database.Connect(cfg.DBDriver, cfg.DBDSN)
			if err != nil {
				return fmt.Errorf("connect db: %w", err)
			}
			defer database.Close(db)

			if err := database.Migrate(db); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
			return nil
		},
	}
}
