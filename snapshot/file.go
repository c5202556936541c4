package snapshot

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
)

// FileStore keeps one <id>.png per snapshot in a directory. Files are written to a
// temporary name and hard-linked into place, so a reader never sees a partial PNG
// and an existing id is never replaced.
type FileStore struct {
	dir string
}

func NewFileStore(dir string) (*FileStore, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0o750); err != nil {
		return nil, fmt.Errorf("create snapshot dir: %w", err)
	}
	return &FileStore{dir: abs}, nil
}

func (s *FileStore) Dir() string { return s.dir }

func (s *FileStore) path(id string) string { return filepath.Join(s.dir, FileName(id)) }

func (s *FileStore) Put(ctx context.Context, id string, img image.Image) (Handle, error) {
	if !ValidID(id) {
		return "", fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	data, err := Encode(img)
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	final := s.path(id)
	if _, err := os.Lstat(final); err == nil {
		return "", fmt.Errorf("%w: %s", ErrExists, id)
	}
	tmp, err := os.CreateTemp(s.dir, "."+id+".*.tmp")
	if err != nil {
		return "", fmt.Errorf("create snapshot: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("write snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return "", fmt.Errorf("sync snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}
	if err := os.Link(tmp.Name(), final); err != nil {
		if errors.Is(err, fs.ErrExist) {
			return "", fmt.Errorf("%w: %s", ErrExists, id)
		}
		return "", fmt.Errorf("publish snapshot: %w", err)
	}
	return Handle(final), nil
}

// Get resolves h by id inside the store directory.
func (s *FileStore) Get(ctx context.Context, h Handle) (image.Image, error) {
	id, err := IDFromHandle(h)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.path(id))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return Decode(data)
}

// Has reports whether a snapshot file exists for id.
func (s *FileStore) Has(id string) bool {
	if !ValidID(id) {
		return false
	}
	_, err := os.Lstat(s.path(id))
	return err == nil
}

func (s *FileStore) Delete(_ context.Context, id string) error {
	if !ValidID(id) {
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	err := os.Remove(s.path(id))
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return err
}

// Sweep removes snapshots and stale temporary files modified before olderThan.
func (s *FileStore) Sweep(ctx context.Context, olderThan time.Time) (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, err
	}
	var result *multierror.Error
	removed := 0
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return removed, multierror.Append(result, err).ErrorOrNil()
		}
		name := e.Name()
		isSnapshot := strings.HasSuffix(name, ".png") && ValidID(strings.TrimSuffix(name, ".png"))
		isTemp := strings.HasPrefix(name, ".") && strings.HasSuffix(name, ".tmp")
		if e.IsDir() || !(isSnapshot || isTemp) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				result = multierror.Append(result, err)
			}
			continue
		}
		if !info.ModTime().Before(olderThan) {
			continue
		}
		if err := os.Remove(filepath.Join(s.dir, name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			result = multierror.Append(result, err)
			continue
		}
		if isSnapshot {
			removed++
		}
	}
	return removed, result.ErrorOrNil()
}
