package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/lhdbsbz/analystdesk/internal/preview"
)

func previewCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "preview",
		Short: "Fetch the document preview SDK",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			loader := &preview.Loader{URL: cfg.Backend.PreviewSDKURL}
			sdk, err := loader.Load(cmd.Context())
			if err != nil {
				return err
			}
			if out == "" {
				fmt.Printf("preview sdk: %d bytes from %s\n", len(sdk), cfg.Backend.PreviewSDKURL)
				return nil
			}
			if err := os.WriteFile(out, sdk, 0644); err != nil {
				return fmt.Errorf("write preview sdk: %w", err)
			}
			fmt.Printf("preview sdk written to %s\n", out)
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "write the SDK to this file")
	return cmd
}
