// File: cmd/sign.go
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/qwerwsz/apeaksoft-watermark-remover/internal/signing"
)

func newSignCmd() *cobra.Command {
	var ts int64

	signCmd := &cobra.Command{
		Use:   "sign <image-file>",
		Short: "Compute the vendor upload signature for an image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			img, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read image: %w", err)
			}

			var tsPtr *int64
			if cmd.Flags().Changed("ts") {
				tsPtr = &ts
			}
			sig, err := signing.Sign(img, tsPtr)
			if err != nil {
				return err
			}

			return printJSON(cmd.OutOrStdout(), sig)
		},
	}

	signCmd.Flags().Int64Var(&ts, "ts", 0, "timestamp in milliseconds (default now)")
	return signCmd
}

func newDeviceIDCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "device-id [seed]",
		Short: "Derive a vendor device id (e_id)",
		Long:  `Hashes the seed into a 32 character device id. Without a seed a random one is used, so every run prints a new id.`,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			seed := ""
			if len(args) == 1 {
				seed = args[0]
			}
			_, err := fmt.Fprintln(cmd.OutOrStdout(), signing.DeriveDeviceID(seed))
			return err
		},
	}
}
