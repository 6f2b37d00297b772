package main

import (
	"github.com/spf13/cobra"

	"rtcore/internal/config"
)

func newRootCmd() *cobra.Command {
	v, err := config.NewViper()

	rootCmd := &cobra.Command{
		Use:           "rtcore",
		Short:         "Real-time messaging, presence and call signaling server",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	if err != nil {
		rootCmd.RunE = func(_ *cobra.Command, _ []string) error {
			return err
		}
		return rootCmd
	}

	flags := rootCmd.PersistentFlags()
	flags.Int("port", 0, "HTTP port (APP_PORT)")
	flags.String("db-driver", "", "mysql or sqlite (DB_DRIVER)")
	flags.String("db-dsn", "", "database DSN (DB_DSN)")
	flags.String("log-level", "", "log level (LOG_LEVEL)")
	flags.Bool("log-pretty", false, "human readable logs (LOG_PRETTY)")
	_ = v.BindPFlag(config.KeyPort, flags.Lookup("port"))
	_ = v.BindPFlag(config.KeyDBDriver, flags.Lookup("db-driver"))
	_ = v.BindPFlag(config.KeyDBDSN, flags.Lookup("db-dsn"))
	_ = v.BindPFlag(config.KeyLogLevel, flags.Lookup("log-level"))
	_ = v.BindPFlag(config.KeyLogPretty, flags.Lookup("log-pretty"))

	serve := newServeCmd(v)
	rootCmd.RunE = serve.RunE
	rootCmd.AddCommand(serve, newMigrateCmd(v))
	return rootCmd
}
