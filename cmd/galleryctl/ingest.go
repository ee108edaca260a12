package main

import (
	"context"
	"fmt"
	"mime"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/gallery/service/internal/app"
	"github.com/gallery/service/internal/gallery"
)

var (
	ingestAlbum    string
	ingestBackends []string
)

var ingestCmd = &cobra.Command{
	Use:   "ingest --album NAME FILE...",
	Short: "Upload files into an album",
	Long: `Upload local files into an album through the same normalize and
fallback pipeline the API uses. Each file is reported on its own line;
the command fails if no file was stored.

Examples:
  galleryctl ingest --album "Summer Trip" ~/Pictures/trip/*.jpg
  galleryctl ingest --album drafts --private --backend local scan.png`,
	Args: cobra.MinimumNArgs(1),
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().StringVar(&ingestAlbum, "album", "", "Album name (required)")
	ingestCmd.Flags().StringSliceVar(&ingestBackends, "backend", nil, "Backend order for this run, e.g. local,object_store")
	_ = ingestCmd.MarkFlagRequired("album")
}

func runIngest(cmd *cobra.Command, args []string) error {
	files := make([]gallery.File, 0, len(args))
	for _, p := range args {
		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		files = append(files, gallery.File{
			Name:        filepath.Base(p),
			Data:        data,
			ContentType: mime.TypeByExtension(filepath.Ext(p)),
		})
	}

	var opts []gallery.IngestOption
	if len(ingestBackends) > 0 {
		kinds, err := app.ParseKinds(ingestBackends)
		if err != nil {
			return err
		}
		opts = append(opts, gallery.WithBackendOrder(kinds...))
	}

	return withApp(cmd, func(ctx context.Context, a *app.App) error {
		results, err := a.Ingester.Ingest(ctx, ingestAlbum, visibility(), files, opts...)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		for _, r := range results {
			if r.Err != nil {
				fmt.Fprintf(out, "FAIL %s: %v\n", r.FileName, r.Err)
				continue
			}
			fmt.Fprintf(out, "OK   %s %s (%s)\n", r.FileName, r.Locator, r.Backend)
		}
		n := gallery.Uploaded(results)
		fmt.Fprintf(out, "uploaded %d of %d\n", n, len(results))
		if n == 0 {
			return fmt.Errorf("no file was stored")
		}
		return nil
	})
}
