package main

import (
	"fmt"
	"os"
	"path"

	"github.com/spf13/cobra"

	"analyzer/pkg/zip"
)

func newExportCmd() *cobra.Command {
	var owner, id, out string
	cmd := &cobra.Command{
		Use:     "export",
		Short:   "Write the screenshots of one request to a zip file",
		Example: `  analyzerctl export --owner 5b7c0d1e --id 0b0e... --out shots.zip`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireOwner(owner); err != nil {
				return err
			}
			if id == "" {
				return fmt.Errorf("--id is required")
			}
			if out == "" {
				out = id + ".zip"
			}
			rt, err := openRuntime(cmd.Context())
			if err != nil {
				return err
			}
			defer rt.Close()

			req, images, err := rt.Service.Images(cmd.Context(), owner, id)
			if err != nil {
				return err
			}
			assets := make([]zip.Asset, len(images))
			for i, img := range images {
				assets[i] = zip.Asset{
					Filename: fmt.Sprintf("%02d-%s", i+1, path.Base(img.Key)),
					Data:     img.Data,
					Modified: req.CreatedAt,
				}
			}

			f, err := os.Create(out)
			if err != nil {
				return err
			}
			if err := zip.Write(f, assets); err != nil {
				f.Close()
				return err
			}
			if err := f.Close(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %d image(s) to %s\n", len(assets), out)
			return nil
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "owner id (JWT subject)")
	cmd.Flags().StringVar(&id, "id", "", "request id")
	cmd.Flags().StringVarP(&out, "out", "o", "", "output path, defaults to <id>.zip")
	return cmd
}
