package main

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/wudi/pdfredact/pipeline"
)

var (
	restoreOutDir   string
	restoreManifest string
)

var restoreCmd = &cobra.Command{
	Use:   "restore <redacted.pdf>",
	Short: "Restore the regions a manifest lists",
	Long: `Restore replaces every overlay whose id appears in the manifest by its stored
snapshot and writes <name>_restored.pdf. The manifest defaults to the .json file
written next to the redacted PDF.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		in := args[0]
		manifest := restoreManifest
		if manifest == "" {
			manifest = strings.TrimSuffix(in, ".pdf") + ".json"
		}
		if restoreOutDir != "" {
			cfg.OutputDir = restoreOutDir
		}
		svc, closeStore, err := pipeline.FromConfig(ctx, cfg, logger, metrics)
		if err != nil {
			return err
		}
		defer closeStore()

		res, err := svc.RestoreFile(ctx, in, manifest)
		if err != nil {
			return err
		}
		printf(cmd, "%s -> %s (%d restored, %d untouched)\n", in, res.Output, len(res.Restored), len(res.Untouched))
		return nil
	},
}

func init() {
	restoreCmd.Flags().StringVarP(&restoreManifest, "manifest", "m", "", "manifest JSON")
	restoreCmd.Flags().StringVarP(&restoreOutDir, "out", "o", "", "output directory (default: next to the input)")
	rootCmd.AddCommand(restoreCmd)
}
