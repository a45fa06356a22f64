// Package store provides the autopilot's keyed persistent map: idempotency
// markers, retry state, and the settlement cursor all live behind this one
// contract. Two drivers are provided — a single-file driver and a sqlite
// driver (internal/store/sqlite.go) — presenting identical semantics. The
// file driver writes to a sibling .tmp and renames, so corruption from a
// partial write is not possible.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"nearautopilot/internal/errs"
)

// Store is the keyed persistent map every autopilot component reads and
// writes through. Get reports absence via the bool return rather than a
// sentinel error. Keys returns all keys sharing the given prefix.
type Store interface {
	Get(key string) (value string, ok bool, err error)
	Set(key, value string) error
	Del(key string) error
	Keys(prefix string) ([]string, error)
	Close() error
}

// FileStore persists the whole key/value map as one JSON file, rewritten
// in full on every Set/Del. Acceptable given the expected marker-set
// sizes; writes are atomic via write-to-temp-then-rename so a crash
// mid-write never leaves a truncated file.
type FileStore struct {
	path string
	mu   sync.Mutex
	data map[string]string
}

// OpenFile opens (creating if absent) a FileStore backed by the JSON file
// at path.
func OpenFile(path string) (*FileStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errs.New(errs.StateStoreError, "store.OpenFile", fmt.Errorf("create store dir: %w", err))
		}
	}

	data := map[string]string{}
	raw, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := json.Unmarshal(raw, &data); err != nil {
			return nil, errs.New(errs.StateStoreError, "store.OpenFile", fmt.Errorf("corrupt store file: %w", err))
		}
	case os.IsNotExist(err):
		// fresh store
	default:
		return nil, errs.New(errs.StateStoreError, "store.OpenFile", fmt.Errorf("read store file: %w", err))
	}

	return &FileStore{path: path, data: data}, nil
}

// Get returns the value for key, or ok=false if absent.
func (s *FileStore) Get(key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.data[key]
	return v, ok, nil
}

// Set stores value under key and atomically persists the whole map.
func (s *FileStore) Set(key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, hadPrev := s.data[key]
	s.data[key] = value
	if err := s.flushLocked(); err != nil {
		if hadPrev {
			s.data[key] = prev
		} else {
			delete(s.data, key)
		}
		return err
	}
	return nil
}

// Del removes key and atomically persists the whole map.
func (s *FileStore) Del(key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, hadPrev := s.data[key]
	if !hadPrev {
		return nil
	}
	delete(s.data, key)
	if err := s.flushLocked(); err != nil {
		s.data[key] = prev
		return err
	}
	return nil
}

// Keys returns every key sharing the given prefix, sorted for determinism.
func (s *FileStore) Keys(prefix string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var keys []string
	for k := range s.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Close is a no-op for the file driver; every write is already durable.
func (s *FileStore) Close() error { return nil }

// flushLocked writes the whole map to a sibling temp file and renames it
// over the target, so a crash between the two never leaves a partially
// written store file — the prior file (or the full new one) is always
// what a subsequent read observes.
func (s *FileStore) flushLocked() error {
	data, err := json.Marshal(s.data)
	if err != nil {
		return errs.New(errs.StateStoreError, "store.flush", fmt.Errorf("marshal store: %w", err))
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return errs.New(errs.StateStoreError, "store.flush", fmt.Errorf("write store: %w", err))
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return errs.New(errs.StateStoreError, "store.flush", fmt.Errorf("rename store: %w", err))
	}
	return nil
}
