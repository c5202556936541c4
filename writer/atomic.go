package writer

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/wudi/pdfredact/ir/raw"
)

// WriteFile serialises doc to path. Nothing is visible at path until the whole
// document has been written and synced.
func WriteFile(ctx context.Context, w Writer, doc *raw.Document, path string, cfg Config) error {
	return Publish(ctx, path, func(out io.Writer) error {
		return w.Write(ctx, doc, out, cfg)
	})
}

// Publish runs fill against a temporary file next to path and renames it into place on
// success. On any failure, including cancellation, the temporary file is removed.
func Publish(ctx context.Context, path string, fill func(io.Writer) error) (err error) {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()
	if err = fill(tmp); err != nil {
		return err
	}
	if err = ctx.Err(); err != nil {
		return err
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("sync %s: %w", tmp.Name(), err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmp.Name(), err)
	}
	if err = os.Chmod(tmp.Name(), 0o644); err != nil {
		return err
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("publish %s: %w", path, err)
	}
	return nil
}

// Bytes serialises doc in memory.
func Bytes(ctx context.Context, w Writer, doc *raw.Document, cfg Config) ([]byte, error) {
	var buf bytes.Buffer
	if err := w.Write(ctx, doc, &buf, cfg); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
