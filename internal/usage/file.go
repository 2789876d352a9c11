package usage

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/lamosty/aharadar-sub003/internal/domain"
)

type fileEntry struct {
	Value     int64     `json:"value"`
	ExpiresAt time.Time `json:"expires_at"`
}

// FileBackend shares counters between processes on one host through a JSON
// file guarded by an advisory lock on a sidecar file.
type FileBackend struct {
	path string
	now  func() time.Time
	mu   sync.Mutex
}

func NewFileBackend(path string) (*FileBackend, error) {
	if strings.TrimSpace(path) == "" {
		return nil, domain.InvalidArgument("USAGE_FILE is required when USAGE_STORE_DRIVER=file")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, domain.Internal("failed to create usage data directory", err)
	}
	return &FileBackend{path: path, now: time.Now}, nil
}

func (b *FileBackend) IncrBy(ctx context.Context, key string, delta int64, ttl time.Duration) (int64, error) {
	var value int64
	err := b.withLock(ctx, func(entries map[string]fileEntry) (bool, error) {
		now := b.now()
		for name, entry := range entries {
			if !entry.ExpiresAt.After(now) {
				delete(entries, name)
			}
		}
		entry, ok := entries[key]
		if !ok {
			entry = fileEntry{ExpiresAt: now.Add(ttl).UTC()}
		}
		entry.Value += delta
		entries[key] = entry
		value = entry.Value
		return true, nil
	})
	return value, err
}

func (b *FileBackend) Get(ctx context.Context, key string) (int64, bool, error) {
	var (
		value int64
		found bool
	)
	err := b.withLock(ctx, func(entries map[string]fileEntry) (bool, error) {
		entry, ok := entries[key]
		if ok && entry.ExpiresAt.After(b.now()) {
			value, found = entry.Value, true
		}
		return false, nil
	})
	return value, found, err
}

func (b *FileBackend) Close() error {
	return nil
}

// withLock holds the in-process mutex and the cross-process file lock while
// mutate runs; the file is rewritten when mutate reports a change.
func (b *FileBackend) withLock(ctx context.Context, mutate func(map[string]fileEntry) (bool, error)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	unlock, err := lockFile(b.path + ".lock")
	if err != nil {
		return domain.Internal("failed to lock usage file", err)
	}
	defer unlock()

	entries, err := b.readLocked()
	if err != nil {
		return err
	}
	changed, err := mutate(entries)
	if err != nil || !changed {
		return err
	}
	return b.persistLocked(entries)
}

func (b *FileBackend) readLocked() (map[string]fileEntry, error) {
	entries := map[string]fileEntry{}
	raw, err := os.ReadFile(b.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return entries, nil
		}
		return nil, domain.Internal("failed to read usage file", err)
	}
	if len(strings.TrimSpace(string(raw))) == 0 {
		return entries, nil
	}
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, domain.Internal("failed to parse usage file", err)
	}
	return entries, nil
}

func (b *FileBackend) persistLocked(entries map[string]fileEntry) error {
	serialized, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return domain.Internal("failed to serialize usage counters", err)
	}

	tempPath := b.path + ".tmp"
	if err := os.WriteFile(tempPath, append(serialized, '\n'), 0o600); err != nil {
		return domain.Internal("failed to write temporary usage file", err)
	}
	if err := os.Rename(tempPath, b.path); err != nil {
		return domain.Internal("failed to atomically persist usage file", err)
	}
	return nil
}
