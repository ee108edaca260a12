package main

import (
	"context"
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/gallery/service/internal/app"
	"github.com/gallery/service/internal/config"
	"github.com/gallery/service/internal/logger"
	"github.com/gallery/service/internal/media"
)

var (
	private bool

	rootCmd = &cobra.Command{
		Use:          "galleryctl",
		Short:        "Administer the gallery",
		Long:         "galleryctl runs migrations, ingests files and reconciles albums using the same configuration as the API server.",
		SilenceUsage: true,
	}
)

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&private, "private", false, "Operate on the private space")

	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(albumsCmd)
	rootCmd.AddCommand(assetsCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(registerCmd)
	rootCmd.AddCommand(tokenCmd)
}

func visibility() media.Visibility {
	if private {
		return media.Private
	}
	return media.Public
}

// withApp builds the service graph for the duration of one command.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	cfg := config.Load()
	log := logger.New(cmd.ErrOrStderr(), cfg.LogLevel, cfg.LogFormat)

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := app.Build(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
