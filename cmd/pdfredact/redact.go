package main

import (
	"fmt"
	"path/filepath"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/spf13/cobra"

	"github.com/wudi/pdfredact/observability"
	"github.com/wudi/pdfredact/pipeline"
)

var redactOutDir string

var redactCmd = &cobra.Command{
	Use:   "redact <file|glob>...",
	Short: "Redact sensitive text in PDF files",
	Long: `Redact writes <name>_redacted.pdf and the restoration manifest <name>_redacted.json
for every input. Arguments may be doublestar globs such as "inbox/**/*.pdf".`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := signalContext()
		defer cancel()

		files, err := expandInputs(args)
		if err != nil {
			return err
		}
		if len(files) == 0 {
			return fmt.Errorf("no files match %v", args)
		}
		if redactOutDir != "" {
			cfg.OutputDir = redactOutDir
		}
		if err := serveMetrics(ctx, cfg.MetricsAddr); err != nil {
			return err
		}
		svc, closeStore, err := pipeline.FromConfig(ctx, cfg, logger, metrics)
		if err != nil {
			return err
		}
		defer closeStore()

		failed := 0
		for _, f := range files {
			res, err := svc.RedactFile(ctx, f)
			if err != nil {
				failed++
				logger.Error("redaction failed", observability.String("input", f), observability.Error("error", err))
				continue
			}
			printf(cmd, "%s -> %s (%d regions, manifest %s)\n", f, res.Output, len(res.Manifest.Records), res.ManifestPath)
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d files failed", failed, len(files))
		}
		return nil
	},
}

// expandInputs resolves globs and drops duplicates and our own outputs.
func expandInputs(args []string) ([]string, error) {
	seen := make(map[string]bool)
	var out []string
	for _, arg := range args {
		matches, err := doublestar.FilepathGlob(arg)
		if err != nil {
			return nil, fmt.Errorf("bad pattern %q: %w", arg, err)
		}
		if len(matches) == 0 && !hasMeta(arg) {
			matches = []string{arg}
		}
		for _, m := range matches {
			m = filepath.Clean(m)
			if seen[m] || isOutput(m) {
				continue
			}
			seen[m] = true
			out = append(out, m)
		}
	}
	sort.Strings(out)
	return out, nil
}

func hasMeta(s string) bool {
	for _, c := range s {
		switch c {
		case '*', '?', '[', '{':
			return true
		}
	}
	return false
}

func isOutput(path string) bool {
	base := filepath.Base(path)
	ext := filepath.Ext(base)
	stem := base[:len(base)-len(ext)]
	for _, suffix := range []string{pipeline.RedactedSuffix, pipeline.RestoredSuffix} {
		if len(stem) > len(suffix) && stem[len(stem)-len(suffix):] == suffix {
			return true
		}
	}
	return false
}

func init() {
	redactCmd.Flags().StringVarP(&redactOutDir, "out", "o", "", "output directory (default: next to each input)")
	rootCmd.AddCommand(redactCmd)
}
