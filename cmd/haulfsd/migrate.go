package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/haulfs/haulfs/internal/config"
	"github.com/haulfs/haulfs/internal/logger"
	"github.com/haulfs/haulfs/pkg/metastore/postgres"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		if err := logger.Init(logger.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format, Output: cfg.Logging.Output}); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}
		if cfg.Database.Driver != "postgres" {
			return fmt.Errorf("migrate requires database.driver=postgres, got %q", cfg.Database.Driver)
		}

		ctx, cancel := appContext()
		defer cancel()

		pgCfg := &postgres.Config{
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			Database: cfg.Database.Database,
			User:     cfg.Database.User,
			Password: cfg.Database.Password,
			SSLMode:  cfg.Database.SSLMode,
		}
		return postgres.RunMigrations(ctx, pgCfg, logger.With("component", "migrate"))
	},
}
