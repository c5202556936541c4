package main

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/wudi/pdfredact/redact"
)

// buildReport describes the overlays of one document as Markdown. m and sealer
// are optional.
func buildReport(name string, found []redact.FoundOverlay, m *redact.Manifest, sealer *redact.Sealer) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Redaction report: %s\n\n", cell(name))
	if len(found) == 0 {
		b.WriteString("No overlays found.\n")
		return b.String()
	}
	restorable := 0
	b.WriteString("| Page | ID | Kind | Box | Label | Restorable | Audit |\n")
	b.WriteString("|---:|---|---|---|---|---|---|\n")
	for _, o := range found {
		if o.Err != nil {
			fmt.Fprintf(&b, "| %d | - | %s | - | - | no | invalid: %s |\n", o.Page, o.Kind, cell(o.Err.Error()))
			continue
		}
		label, canRestore := "-", "-"
		if m != nil {
			canRestore = "no"
			if rec, ok := m.Lookup(o.Ext.ID); ok && rec.Page == o.Page {
				label = cell(rec.Label)
				canRestore = "yes"
				restorable++
			}
		}
		fmt.Fprintf(&b, "| %d | `%s` | %s | %s | %s | %s | %s |\n",
			o.Page, o.Ext.ID, o.Kind, formatBox(o.Ext), label, canRestore, auditCell(o.Ext, sealer))
	}
	fmt.Fprintf(&b, "\n%d overlays", len(found))
	if m != nil {
		fmt.Fprintf(&b, ", %d restorable with the manifest", restorable)
	}
	b.WriteString(".\n")
	return b.String()
}

func formatBox(ext redact.Extension) string {
	r := ext.BBox
	return fmt.Sprintf("%.1f, %.1f, %.1f, %.1f", r.X0, r.Y0, r.X1, r.Y1)
}

func auditCell(ext redact.Extension, sealer *redact.Sealer) string {
	switch {
	case len(ext.Audit) == 0:
		return "-"
	case sealer == nil:
		return "sealed"
	}
	text, err := sealer.Open(ext.ID, ext.Audit)
	if err != nil {
		return "sealed (wrong key)"
	}
	return cell(text)
}

func cell(s string) string {
	s = strings.ReplaceAll(s, "|", `\|`)
	return strings.ReplaceAll(s, "\n", " ")
}

// renderReport converts Markdown to the requested format: markdown or html.
func renderReport(md, format string) (string, error) {
	switch format {
	case "", "markdown", "md":
		return md, nil
	case "html":
		var buf bytes.Buffer
		gm := goldmark.New(goldmark.WithExtensions(extension.Table))
		if err := gm.Convert([]byte(md), &buf); err != nil {
			return "", err
		}
		return buf.String(), nil
	}
	return "", fmt.Errorf("unknown report format %q", format)
}
