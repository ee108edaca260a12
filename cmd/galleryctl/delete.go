package main

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/gallery/service/internal/app"
	"github.com/gallery/service/internal/gallery"
)

var deleteAll bool

var deleteCmd = &cobra.Command{
	Use:   "delete ALBUM (--all | ID_OR_URL...)",
	Short: "Delete assets and their stored objects",
	Long: `Delete assets of an album by id or URL, or the whole album with --all.
Identifiers that are already gone are counted as missing, not as failures.

Examples:
  galleryctl delete beach 0b8f5a51-2a0c-4d4a-9d6e-4d8c0f7d6a11
  galleryctl delete drafts --private --all`,
	Args: cobra.MinimumNArgs(1),
	RunE: runDelete,
}

func init() {
	deleteCmd.Flags().BoolVar(&deleteAll, "all", false, "Delete every asset of the album")
}

func runDelete(cmd *cobra.Command, args []string) error {
	album, ids := args[0], args[1:]
	if deleteAll == (len(ids) > 0) {
		return errors.New("pass either --all or at least one identifier")
	}

	return withApp(cmd, func(ctx context.Context, a *app.App) error {
		var (
			report gallery.DeleteReport
			err    error
		)
		if deleteAll {
			report, err = a.Reconciler.DeleteAlbum(ctx, album, visibility())
		} else {
			report, err = a.Reconciler.Delete(ctx, ids, album, visibility())
		}
		if err != nil {
			return err
		}
		if err := printJSON(cmd, report); err != nil {
			return err
		}
		if len(report.Failures) > 0 {
			return errors.New("some assets could not be deleted")
		}
		return nil
	})
}
