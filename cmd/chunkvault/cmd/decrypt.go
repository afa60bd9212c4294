package cmd

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/kenneth/chunkvault/internal/crypto"
	"github.com/kenneth/chunkvault/internal/pipeline"
	"github.com/kenneth/chunkvault/internal/vaulterr"
)

type decryptOptions struct {
	keystore    string
	location    string
	output      string
	deleteAfter bool
}

func newDecryptCmd(root *rootOptions) *cobra.Command {
	o := &decryptOptions{}
	cmd := &cobra.Command{
		Use:   "decrypt",
		Short: "Restore a file from its keystore document and stored chunks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return root.withApp(cmd, func(ctx context.Context, a *app) error {
				return o.run(ctx, cmd, a)
			})
		},
	}

	cmd.Flags().StringVarP(&o.keystore, "keystore", "k", "", "local keystore document")
	cmd.Flags().StringVarP(&o.location, "location", "l", "", "storage location holding the keystore document")
	cmd.Flags().StringVarP(&o.output, "output", "o", "", "output file (default the base name of the source file)")
	cmd.Flags().BoolVarP(&o.deleteAfter, "delete", "d", false, "delete the stored chunks and keystore after decryption")
	cmd.MarkFlagsOneRequired("keystore", "location")
	cmd.MarkFlagsMutuallyExclusive("keystore", "location")

	return cmd
}

func (o *decryptOptions) run(ctx context.Context, cmd *cobra.Command, a *app) error {
	dec := pipeline.NewDecryptor(a.backend, a.pipelineOptions()...)

	var doc []byte
	var err error
	if o.keystore != "" {
		doc, err = os.ReadFile(o.keystore)
		if err != nil {
			return vaulterr.IO("read keystore", o.keystore, err)
		}
	} else {
		doc, err = dec.LoadDocument(ctx, o.location)
		if err != nil {
			return err
		}
	}

	output := o.output
	if output == "" {
		ks, err := crypto.ParseDocument(doc)
		if err != nil {
			return err
		}
		output = filepath.Base(ks.SourceIdentity)
	}

	err = dec.Decrypt(ctx, doc, output, pipeline.DecryptOptions{DeleteAfter: o.deleteAfter})
	var cleanupErr *pipeline.CleanupError
	if err != nil && !errors.As(err, &cleanupErr) {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "output: %s\n", output)
	if cleanupErr != nil {
		return err
	}

	if o.deleteAfter && o.keystore != "" {
		if rmErr := os.Remove(o.keystore); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) {
			a.logger.WithError(rmErr).WithField("keystore", o.keystore).Warn("Failed to remove local keystore")
		}
	}
	return nil
}
