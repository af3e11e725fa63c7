package rag

import (
	"bytes"
	"errors"
	"fmt"
	"os"

	"github.com/goccy/go-json"
	"github.com/lazypower/parley/internal/fsutil"
	"github.com/rs/zerolog/log"
)

// Open creates a store for path and loads whatever image is on disk. Load
// failures are logged and leave the store empty; Open never fails.
func Open(path string, maxEntries int) *Store {
	s := New(path, maxEntries)
	if err := s.Load(); err != nil {
		log.Warn().Err(err).Str("path", path).Msg("retrieval store reset to empty")
	}
	return s
}

// Load replaces the in-memory contents with the on-disk image. A missing or
// empty file yields an empty store. A malformed file also yields an empty
// store and returns ErrStoreCorrupt.
func (s *Store) Load() error {
	if s.path == "" {
		return nil
	}

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		s.replace(nil)
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: read %s: %v", ErrStoreIO, s.path, err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		s.replace(nil)
		return nil
	}

	var loaded map[string]*Entry
	if err := json.Unmarshal(data, &loaded); err != nil {
		s.replace(nil)
		return fmt.Errorf("%w: %s: %v", ErrStoreCorrupt, s.path, err)
	}
	for k, e := range loaded {
		if e == nil {
			delete(loaded, k)
		}
	}
	s.replace(loaded)

	log.Debug().Str("path", s.path).Int("entries", len(loaded)).Msg("retrieval store loaded")
	return nil
}

func (s *Store) replace(entries map[string]*Entry) {
	if entries == nil {
		entries = make(map[string]*Entry)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = entries
	if len(s.entries) > s.maxEntries {
		s.evictLocked()
	}
}

// Save writes the store atomically. On failure the in-memory state is kept
// and ErrStoreIO is returned.
func (s *Store) Save() error {
	if s.path == "" {
		return nil
	}
	s.mu.Lock()
	data, gen := s.snapshotLocked()
	s.mu.Unlock()
	if data == nil {
		return fmt.Errorf("%w: marshal failed", ErrStoreIO)
	}
	return s.writeSnapshot(data, gen)
}

// Flush waits for any background saves to finish.
func (s *Store) Flush() {
	s.bg.Wait()
}

// snapshotLocked serializes the entries and tags the image with a
// generation number. Caller holds s.mu.
func (s *Store) snapshotLocked() ([]byte, uint64) {
	data, err := json.MarshalIndent(s.entries, "", "  ")
	if err != nil {
		log.Error().Err(err).Str("path", s.path).Msg("marshal retrieval store")
		return nil, 0
	}
	s.saveGen++
	return data, s.saveGen
}

// writeSnapshot persists data unless a newer image has already been
// written.
func (s *Store) writeSnapshot(data []byte, gen uint64) error {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()
	if gen <= s.wroteGen {
		return nil
	}
	if err := fsutil.WriteFileAtomic(s.path, data, 0o644); err != nil {
		log.Warn().Err(err).Str("path", s.path).Msg("save retrieval store")
		return fmt.Errorf("%w: %v", ErrStoreIO, err)
	}
	s.wroteGen = gen
	log.Debug().Str("path", s.path).Msg("retrieval store saved")
	return nil
}
