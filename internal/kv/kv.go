// Package kv provides the wallet's persistent key-value store: a flat
// namespace of string keys to JSON values, with an in-memory cache
// layered over a durable JSON snapshot on disk.
//
// The store never fails its callers. If the data directory cannot be
// used (read-only filesystem, quota, sandbox) it degrades to memory-only
// operation for the lifetime of the process and logs a warning.
package kv

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Entry is a single key-value pair returned by prefix scans.
type Entry struct {
	Key   string
	Value json.RawMessage
}

// Store is the persistence contract used by the wallet. Set overwrites
// silently; Get returns ok=false (never an error) on miss or parse
// failure; Remove is idempotent; GetByPrefix returns entries sorted
// by key.
type Store interface {
	Set(key string, value any)
	Get(key string) (json.RawMessage, bool)
	GetInto(key string, v any) bool
	Remove(key string)
	GetByPrefix(prefix string) []Entry
	Close() error
}

// FileStore implements Store with an in-memory map snapshotted to a
// JSON file. Writes are debounced: rapid mutations coalesce into one
// disk flush.
type FileStore struct {
	mu   sync.RWMutex
	data map[string]json.RawMessage

	snapshotPath string        // empty = memory-only
	saveMu       sync.Mutex    // guards file writes
	saveCh       chan struct{} // debounce channel
	doneCh       chan struct{} // signals the save goroutine to stop
	closeOnce    sync.Once
}

// NewFileStore opens (or creates) a store backed by data.json inside
// dir. An unusable dir is not an error: the store comes up memory-only.
func NewFileStore(dir string) *FileStore {
	s := &FileStore{
		data:   make(map[string]json.RawMessage),
		saveCh: make(chan struct{}, 1),
		doneCh: make(chan struct{}),
	}

	if dir != "" {
		if err := os.MkdirAll(dir, 0700); err != nil {
			log.Warn().Err(err).Str("dir", dir).Msg("Cannot create data dir, store is memory-only")
		} else {
			s.snapshotPath = filepath.Join(dir, "data.json")
		}
	}

	if s.snapshotPath != "" {
		s.loadSnapshot()
		go s.saveLoop()
	}

	return s
}

// NewMemory returns a store with no backing file. Used by tests and as
// the forced-degraded mode.
func NewMemory() *FileStore {
	return &FileStore{
		data:   make(map[string]json.RawMessage),
		saveCh: make(chan struct{}, 1),
		doneCh: make(chan struct{}),
	}
}

// Set stores value under key, overwriting any previous entry. Values
// that fail to marshal are dropped with a warning; callers always
// continue.
func (s *FileStore) Set(key string, value any) {
	raw, err := json.Marshal(value)
	if err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Value not JSON-serializable, dropped")
		return
	}
	s.mu.Lock()
	s.data[key] = raw
	s.mu.Unlock()
	s.requestSave()
}

// Get returns the raw JSON stored under key.
func (s *FileStore) Get(key string) (json.RawMessage, bool) {
	s.mu.RLock()
	raw, ok := s.data[key]
	s.mu.RUnlock()
	return raw, ok
}

// GetInto unmarshals the value under key into v. A miss or a value that
// does not fit v reports false.
func (s *FileStore) GetInto(key string, v any) bool {
	raw, ok := s.Get(key)
	if !ok {
		return false
	}
	if err := json.Unmarshal(raw, v); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Stored value failed to parse")
		return false
	}
	return true
}

// Remove deletes key. Removing an absent key is a no-op.
func (s *FileStore) Remove(key string) {
	s.mu.Lock()
	_, existed := s.data[key]
	delete(s.data, key)
	s.mu.Unlock()
	if existed {
		s.requestSave()
	}
}

// GetByPrefix returns every entry whose key starts with prefix, sorted
// by key for stable iteration. Callers must not depend on the order of
// same-prefix families across snapshots.
func (s *FileStore) GetByPrefix(prefix string) []Entry {
	s.mu.RLock()
	var out []Entry
	for k, v := range s.data {
		if strings.HasPrefix(k, prefix) {
			out = append(out, Entry{Key: k, Value: v})
		}
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

// requestSave signals the background goroutine to persist data.
// Non-blocking: coalesces multiple rapid writes into one disk flush.
func (s *FileStore) requestSave() {
	if s.snapshotPath == "" {
		return
	}
	select {
	case s.saveCh <- struct{}{}:
	default:
		// Already pending
	}
}

// saveLoop debounces save requests (max 1 write per 500ms).
func (s *FileStore) saveLoop() {
	for {
		select {
		case <-s.doneCh:
			return
		case <-s.saveCh:
			time.Sleep(500 * time.Millisecond) // debounce
			s.saveSnapshot()
		}
	}
}

func (s *FileStore) saveSnapshot() {
	s.mu.RLock()
	data, err := json.MarshalIndent(s.data, "", "  ")
	s.mu.RUnlock()
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal snapshot")
		return
	}

	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	// Write to temp file then rename for atomicity
	tmp := s.snapshotPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		log.Warn().Err(err).Str("path", tmp).Msg("Failed to write snapshot, store is memory-only for now")
		return
	}
	if err := os.Rename(tmp, s.snapshotPath); err != nil {
		log.Warn().Err(err).Str("path", s.snapshotPath).Msg("Failed to rename snapshot")
		return
	}

	log.Debug().Str("path", s.snapshotPath).Msg("Snapshot saved")
}

func (s *FileStore) loadSnapshot() {
	data, err := os.ReadFile(s.snapshotPath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Info().Str("path", s.snapshotPath).Msg("No snapshot file found, starting fresh")
			return
		}
		log.Warn().Err(err).Str("path", s.snapshotPath).Msg("Failed to read snapshot")
		return
	}

	var snap map[string]json.RawMessage
	if err := json.Unmarshal(data, &snap); err != nil {
		log.Error().Err(err).Str("path", s.snapshotPath).Msg("Failed to parse snapshot, starting fresh")
		return
	}

	s.mu.Lock()
	s.data = snap
	s.mu.Unlock()

	log.Info().Int("keys", len(snap)).Str("path", s.snapshotPath).Msg("Snapshot loaded")
}

// Close stops the save goroutine and forces a final snapshot write.
// Safe to call multiple times.
func (s *FileStore) Close() error {
	s.closeOnce.Do(func() {
		close(s.doneCh)
		if s.snapshotPath != "" {
			s.saveSnapshot()
		}
	})
	return nil
}

// Compile-time check that FileStore implements Store.
var _ Store = (*FileStore)(nil)
