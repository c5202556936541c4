package main

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/wudi/pdfredact/ir/semantic"
	"github.com/wudi/pdfredact/parser"
	"github.com/wudi/pdfredact/redact"
)

var (
	inspectManifest string
	inspectFormat   string
	inspectOpen     bool
)

var inspectCmd = &cobra.Command{
	Use:   "inspect <redacted.pdf>",
	Short: "List the overlays of a redacted PDF",
	Long: `inspect prints a Markdown (or HTML) report of every overlay in a redacted PDF.
With --manifest it marks which overlays the manifest can restore; with --open-audit
and a configured audit secret it shows sealed audit text.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		doc, err := openDocument(ctx, args[0])
		if err != nil {
			return err
		}
		found, err := redact.FindOverlays(ctx, doc)
		if err != nil {
			return err
		}
		var m *redact.Manifest
		if inspectManifest != "" {
			f, err := os.Open(inspectManifest)
			if err != nil {
				return err
			}
			m, err = redact.ReadManifest(f, 0)
			f.Close()
			if err != nil {
				return err
			}
		}
		var sealer *redact.Sealer
		if inspectOpen {
			if sealer, err = redact.NewSealer([]byte(cfg.Audit.Secret)); err != nil {
				return err
			}
		}
		out, err := renderReport(buildReport(args[0], found, m, sealer), inspectFormat)
		if err != nil {
			return err
		}
		printf(cmd, "%s", out)
		return nil
	},
}

func openDocument(ctx context.Context, path string) (*semantic.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	rawDoc, err := parser.NewDocumentParser(parser.Config{}).ParseBytes(ctx, data)
	if err != nil {
		return nil, err
	}
	return semantic.NewDocument(rawDoc)
}

func init() {
	inspectCmd.Flags().StringVarP(&inspectManifest, "manifest", "m", "", "manifest JSON to check restorability against")
	inspectCmd.Flags().StringVarP(&inspectFormat, "format", "f", "markdown", "markdown or html")
	inspectCmd.Flags().BoolVar(&inspectOpen, "open-audit", false, "open sealed audit text with audit.secret")
	rootCmd.AddCommand(inspectCmd)
}
