package cmd

import (
	"context"
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"github.com/kenneth/chunkvault/internal/crypto"
	"github.com/kenneth/chunkvault/internal/vaulterr"
)

func newListCmd(root *rootOptions) *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the objects stored under a location",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return root.withApp(cmd, func(ctx context.Context, a *app) error {
				loc := crypto.NormalizeLocation(dir)
				if loc == "" {
					return vaulterr.Config("list", "storage location must not be empty")
				}
				keys, err := a.backend.List(ctx, crypto.ChunkPrefix(loc))
				if err != nil {
					return vaulterr.Storage("list", crypto.ChunkPrefix(loc), err)
				}
				slices.SortFunc(keys, crypto.CompareNatural)

				out := cmd.OutOrStdout()
				for _, k := range keys {
					fmt.Fprintln(out, k)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&dir, "dir", "d", "", "storage location to list")
	_ = cmd.MarkFlagRequired("dir")

	return cmd
}
