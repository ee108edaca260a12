package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/gallery/service/internal/app"
)

var albumsCmd = &cobra.Command{
	Use:   "albums",
	Short: "List albums as JSON",
	Args:  cobra.NoArgs,
	RunE:  runAlbums,
}

var assetsCmd = &cobra.Command{
	Use:   "assets ALBUM",
	Short: "List the assets of an album as JSON, newest first",
	Args:  cobra.ExactArgs(1),
	RunE:  runAssets,
}

func runAlbums(cmd *cobra.Command, _ []string) error {
	return withApp(cmd, func(ctx context.Context, a *app.App) error {
		albums, err := a.Aggregator.ListAlbums(ctx, visibility())
		if err != nil {
			return err
		}
		return printJSON(cmd, albums)
	})
}

func runAssets(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *app.App) error {
		assets, err := a.Aggregator.ListAssets(ctx, args[0], visibility())
		if err != nil {
			return err
		}
		return printJSON(cmd, assets)
	})
}
