// File: cmd/snapshot.go
package cmd

import (
	"github.com/spf13/cobra"

	"github.com/xkilldash9x/pagegrounder/internal/observability"
)

func newSnapshotCmd() *cobra.Command {
	var (
		withScreenshot bool
		settle         bool
		withMask       bool
	)

	cmd := &cobra.Command{
		Use:   "snapshot <url>",
		Short: "Detect, mark and describe the interactive elements of a page",
		Long: `Loads the page, marks every interactive element with a numbered overlay and
prints the element records as JSON. With --screenshot the page is captured
first so marker colours contrast with its brightness.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := getConfigFromContext(ctx)
			if err != nil {
				return err
			}
			logger := observability.GetLogger().Named("snapshot_cmd")

			tgt, coord, cleanup, err := open(ctx, cfg, logger, args[0], settle)
			if err != nil {
				return err
			}
			defer cleanup()

			var shot string
			if withScreenshot {
				if shot, err = tgt.Screenshot(ctx); err != nil {
					return err
				}
			}
			snap, err := coord.Snapshot(ctx, shot)
			if err != nil {
				return err
			}
			if withMask {
				if err := coord.AddMask(ctx); err != nil {
					return err
				}
			}
			return writeJSON(cmd.OutOrStdout(), snap.Response())
		},
	}

	cmd.Flags().BoolVar(&withScreenshot, "screenshot", false, "sample page brightness from a screenshot before marking")
	cmd.Flags().BoolVar(&settle, "settle", false, "wait for the page to stop changing before the snapshot")
	cmd.Flags().BoolVar(&withMask, "mask", false, "black out everything except the detected elements")
	return cmd
}
