package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gallery/service/internal/config"
	"github.com/gallery/service/internal/db"
	"github.com/gallery/service/internal/logger"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending Postgres migrations",
	Args:  cobra.NoArgs,
	RunE:  runMigrate,
}

func runMigrate(cmd *cobra.Command, _ []string) error {
	cfg := config.Load()
	if cfg.MetadataDriver == "sqlite" {
		return fmt.Errorf("migrate applies to postgres only; the sqlite schema is created on open")
	}
	log := logger.New(cmd.ErrOrStderr(), cfg.LogLevel, cfg.LogFormat)
	return db.Migrate(cfg.DatabaseURL, log)
}
