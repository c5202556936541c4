// Package snapshot stores PNG crops of redacted regions keyed by redaction id.
//
// A store never overwrites an id: Put on an existing id fails with ErrExists.
// Handles are opaque strings recorded in the manifest; every store resolves a
// handle back to its id, so a handle can never address anything outside the store.
package snapshot

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/png"
	"path"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
)

// DefaultTTL is the retention applied when none is configured.
const DefaultTTL = 30 * 24 * time.Hour

var (
	ErrExists    = errors.New("snapshot already exists")
	ErrNotFound  = errors.New("snapshot not found")
	ErrInvalidID = errors.New("invalid snapshot id")
)

// Handle locates a stored snapshot.
type Handle string

// Store is the snapshot persistence contract.
type Store interface {
	Put(ctx context.Context, id string, img image.Image) (Handle, error)
	Get(ctx context.Context, h Handle) (image.Image, error)
	Delete(ctx context.Context, id string) error
}

// Sweeper is implemented by stores that expire snapshots themselves.
type Sweeper interface {
	Sweep(ctx context.Context, olderThan time.Time) (int, error)
}

// ValidID reports whether id is 32 lowercase hex characters.
func ValidID(id string) bool {
	if len(id) != 32 {
		return false
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f') {
			return false
		}
	}
	return true
}

// FileName is the on-disk name of a snapshot.
func FileName(id string) string { return id + ".png" }

// IDFromHandle extracts the id a handle refers to.
func IDFromHandle(h Handle) (string, error) {
	s := strings.TrimSuffix(path.Base(strings.ReplaceAll(string(h), `\`, "/")), ".png")
	if i := strings.LastIndexAny(s, ":/"); i >= 0 {
		s = s[i+1:]
	}
	if !ValidID(s) {
		return "", fmt.Errorf("%w: handle %q", ErrInvalidID, h)
	}
	return s, nil
}

// Encode writes img as PNG.
func Encode(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.BestSpeed}
	if err := enc.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return buf.Bytes(), nil
}

func Decode(data []byte) (image.Image, error) {
	img, err := png.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return img, nil
}

// Release deletes the snapshots behind handles. Missing snapshots are not an error.
func Release(ctx context.Context, store Store, handles []Handle) error {
	var result *multierror.Error
	for _, h := range handles {
		if err := ctx.Err(); err != nil {
			return multierror.Append(result, err).ErrorOrNil()
		}
		id, err := IDFromHandle(h)
		if err != nil {
			result = multierror.Append(result, err)
			continue
		}
		if err := store.Delete(ctx, id); err != nil && !errors.Is(err, ErrNotFound) {
			result = multierror.Append(result, fmt.Errorf("release %s: %w", id, err))
		}
	}
	return result.ErrorOrNil()
}
