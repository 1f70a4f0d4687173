package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"coin-trader/internal/model"
)

// FileStateStore keeps the live trader state in a JSON file, one entry per market.
type FileStateStore struct {
	path string
	mu   sync.Mutex
}

func NewFileStateStore(path string) *FileStateStore {
	return &FileStateStore{path: path}
}

// Load returns nil when no state was saved for market yet.
func (s *FileStateStore) Load(_ context.Context, market string) (*model.LiveState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.readAll()
	if err != nil {
		return nil, err
	}
	st, ok := all[market]
	if !ok {
		return nil, nil
	}
	return &st, nil
}

func (s *FileStateStore) Save(_ context.Context, st model.LiveState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	all, err := s.readAll()
	if err != nil {
		return err
	}
	all[st.Market] = st

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("failed to create state dir: %w", err)
	}
	data, err := json.MarshalIndent(all, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode state: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write state: %w", err)
	}
	return os.Rename(tmp, s.path)
}

func (s *FileStateStore) readAll() (map[string]model.LiveState, error) {
	all := make(map[string]model.LiveState)
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return all, nil
		}
		return nil, fmt.Errorf("failed to read state: %w", err)
	}
	if len(data) == 0 {
		return all, nil
	}
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, fmt.Errorf("failed to decode state: %w", err)
	}
	return all, nil
}
