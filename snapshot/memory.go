package snapshot

import (
	"context"
	"fmt"
	"image"
	"sync"
	"time"
)

type memEntry struct {
	data    []byte
	created time.Time
}

// MemoryStore keeps PNG bytes in memory. Handles have the form "mem:<id>.png".
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]memEntry
	now     func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]memEntry), now: time.Now}
}

func (s *MemoryStore) Put(ctx context.Context, id string, img image.Image) (Handle, error) {
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
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[id]; ok {
		return "", fmt.Errorf("%w: %s", ErrExists, id)
	}
	s.entries[id] = memEntry{data: data, created: s.now()}
	return Handle("mem:" + FileName(id)), nil
}

func (s *MemoryStore) Get(_ context.Context, h Handle) (image.Image, error) {
	id, err := IDFromHandle(h)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	e, ok := s.entries[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return Decode(e.data)
}

// Has reports whether id is stored.
func (s *MemoryStore) Has(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.entries[id]
	return ok
}

func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[id]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	delete(s.entries, id)
	return nil
}

func (s *MemoryStore) Sweep(ctx context.Context, olderThan time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, e := range s.entries {
		if err := ctx.Err(); err != nil {
			return removed, err
		}
		if e.created.Before(olderThan) {
			delete(s.entries, id)
			removed++
		}
	}
	return removed, nil
}

// Len reports the number of stored snapshots.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}
