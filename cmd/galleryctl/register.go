package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gallery/service/internal/app"
)

var registerCmd = &cobra.Command{
	Use:   "register ALBUM URL",
	Short: "Record a photo hosted elsewhere",
	Args:  cobra.ExactArgs(2),
	RunE:  runRegister,
}

func runRegister(cmd *cobra.Command, args []string) error {
	return withApp(cmd, func(ctx context.Context, a *app.App) error {
		asset, created, err := a.Ingester.Register(ctx, args[0], visibility(), args[1])
		if err != nil {
			return err
		}
		if !created {
			fmt.Fprintln(cmd.ErrOrStderr(), "already recorded")
		}
		return printJSON(cmd, asset)
	})
}
