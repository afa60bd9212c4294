package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/kenneth/chunkvault/internal/config"
	"github.com/kenneth/chunkvault/internal/crypto"
	"github.com/kenneth/chunkvault/internal/pipeline"
	"github.com/kenneth/chunkvault/internal/vaulterr"
)

type encryptOptions struct {
	file        string
	chunkSize   string
	location    string
	keystoreOut string
}

func newEncryptCmd(root *rootOptions) *cobra.Command {
	o := &encryptOptions{}
	cmd := &cobra.Command{
		Use:   "encrypt",
		Short: "Encrypt a file into chunks and store its keystore document",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return root.withApp(cmd, func(ctx context.Context, a *app) error {
				return o.run(ctx, cmd, a)
			})
		},
	}

	cmd.Flags().StringVarP(&o.file, "file", "f", "", "file to encrypt")
	cmd.Flags().StringVarP(&o.chunkSize, "chunk-size", "c", "", "chunk size in bytes or as a size like 64KiB (default from config)")
	cmd.Flags().StringVarP(&o.location, "location", "o", "", "storage location (default a random UUID)")
	cmd.Flags().StringVar(&o.keystoreOut, "keystore-out", "", "also write the keystore document to this local path")
	_ = cmd.MarkFlagRequired("file")

	return cmd
}

func (o *encryptOptions) run(ctx context.Context, cmd *cobra.Command, a *app) error {
	size := o.chunkSize
	if size == "" {
		size = a.cfg.Encryption.ChunkSize
	}
	chunkSize, err := config.ParseChunkSize(size)
	if err != nil {
		return vaulterr.Config("encrypt", "%v", err)
	}

	plaintext, err := os.ReadFile(o.file)
	if err != nil {
		return vaulterr.IO("read input", o.file, err)
	}

	location := o.location
	if location == "" {
		location = uuid.NewString()
	}

	ks, err := pipeline.NewEncryptor(a.backend, a.pipelineOptions()...).Encrypt(ctx, plaintext, chunkSize, o.file, location)
	if err != nil {
		return err
	}

	if o.keystoreOut != "" {
		doc, err := ks.MarshalDocument()
		if err != nil {
			return err
		}
		if err := os.WriteFile(o.keystoreOut, doc, 0o600); err != nil {
			return vaulterr.IO("write keystore", o.keystoreOut, err)
		}
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "location: %s\n", ks.StorageLocation)
	fmt.Fprintf(out, "keystore: %s\n", crypto.DocumentKey(ks.StorageLocation))
	fmt.Fprintf(out, "chunks:   %d\n", ks.Len())
	return nil
}
