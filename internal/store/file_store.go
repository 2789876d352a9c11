package store

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sync"

	"github.com/lamosty/aharadar-sub003/internal/domain"
)

// DefaultMaxRecords bounds how many call records a FileStore keeps.
const DefaultMaxRecords = 5000

type ledgerState struct {
	Records []domain.CallRecord `json:"records"`
}

// FileStore keeps call records in memory and, when path is set, mirrors them
// to a JSON file. An empty path gives a memory-only ledger.
type FileStore struct {
	path       string
	maxRecords int
	mu         sync.RWMutex
	state      ledgerState
}

func NewFileStore(path string) *FileStore {
	return &FileStore{
		path:       path,
		maxRecords: DefaultMaxRecords,
		state:      ledgerState{Records: []domain.CallRecord{}},
	}
}

func NewMemoryStore() *FileStore {
	return NewFileStore("")
}

func (s *FileStore) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return domain.Internal("failed to create ledger directory", err)
	}

	raw, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.state = ledgerState{Records: []domain.CallRecord{}}
			return s.persistLocked()
		}
		return domain.Internal("failed to read ledger file", err)
	}

	var parsed ledgerState
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return domain.Internal("failed to parse ledger file", err)
	}
	if parsed.Records == nil {
		parsed.Records = []domain.CallRecord{}
	}
	s.state = parsed
	return nil
}

func (s *FileStore) Close() error {
	return nil
}

func (s *FileStore) Append(_ context.Context, record domain.CallRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state.Records = append(s.state.Records, record)
	if overflow := len(s.state.Records) - s.maxRecords; overflow > 0 {
		s.state.Records = append([]domain.CallRecord{}, s.state.Records[overflow:]...)
	}
	if s.path == "" {
		return nil
	}
	return s.persistLocked()
}

func (s *FileStore) Recent(_ context.Context, limit int) ([]domain.CallRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return newestFirst(s.state.Records, limit), nil
}

func (s *FileStore) Summary(_ context.Context) (domain.Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Summarize(s.state.Records), nil
}

func (s *FileStore) persistLocked() error {
	serialized, err := json.MarshalIndent(s.state, "", "  ")
	if err != nil {
		return domain.Internal("failed to serialize ledger", err)
	}

	tempPath := s.path + ".tmp"
	if err := os.WriteFile(tempPath, append(serialized, '\n'), 0o600); err != nil {
		return domain.Internal("failed to write temporary ledger file", err)
	}
	if err := os.Rename(tempPath, s.path); err != nil {
		return domain.Internal("failed to atomically persist ledger file", err)
	}
	return nil
}
