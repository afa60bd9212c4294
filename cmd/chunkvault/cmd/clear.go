package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kenneth/chunkvault/internal/crypto"
	"github.com/kenneth/chunkvault/internal/pipeline"
)

func newClearCmd(root *rootOptions) *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete the keystore document and every object under a location",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return root.withApp(cmd, func(ctx context.Context, a *app) error {
				if err := pipeline.NewDecryptor(a.backend, a.pipelineOptions()...).Clear(ctx, dir); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "cleared: %s\n", crypto.NormalizeLocation(dir))
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&dir, "dir", "d", "", "storage location to clear")
	_ = cmd.MarkFlagRequired("dir")

	return cmd
}
