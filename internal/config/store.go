package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/goccy/go-json"
	"github.com/lazypower/parley/internal/fsutil"
	"github.com/rs/zerolog/log"
)

// ErrConfigInvalid marks a config file that could not be used as-is.
var ErrConfigInvalid = errors.New("config invalid")

// Store is the process-wide configuration handle. Reads return a snapshot;
// writers go through Update and persist with Save.
type Store struct {
	path string

	mu  sync.RWMutex
	cfg Config
}

// New returns an in-memory Store holding cfg. Save is a no-op until a path
// is attached, which keeps tests off the filesystem.
func New(cfg Config) *Store {
	return &Store{cfg: cfg}
}

// Load reads the config file at path. A missing, empty, or malformed file
// yields defaults, which are written back. The returned Store is always
// usable; the error only reports a failed write-back.
func Load(path string) (*Store, error) {
	s := &Store{path: path}

	cfg, err := readFile(path)
	if err == nil {
		s.cfg = cfg
		if reset := s.cfg.Validate(); len(reset) > 0 {
			log.Warn().Err(ErrConfigInvalid).Strs("keys", reset).Msg("config values out of range, using defaults")
		}
		return s, nil
	}

	if !errors.Is(err, os.ErrNotExist) {
		log.Warn().Err(err).Str("path", path).Msg("config unusable, writing defaults")
	}
	s.cfg = Default()
	if err := s.Save(); err != nil {
		return s, fmt.Errorf("write default config: %w", err)
	}
	return s, nil
}

func readFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return Config{}, fmt.Errorf("%w: empty file", ErrConfigInvalid)
	}
	cfg := Default()
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("%w: %v", ErrConfigInvalid, err)
	}
	return cfg, nil
}

// Path returns the backing file path, or "" for in-memory stores.
func (s *Store) Path() string {
	return s.path
}

// Get returns a snapshot of the current configuration.
func (s *Store) Get() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// Update applies fn to the configuration under the write lock.
func (s *Store) Update(fn func(*Config)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.cfg)
}

// Save persists the configuration atomically.
func (s *Store) Save() error {
	if s.path == "" {
		return nil
	}
	s.mu.RLock()
	data, err := json.MarshalIndent(s.cfg, "", "  ")
	s.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := fsutil.WriteFileAtomic(s.path, data, 0o600); err != nil {
		return fmt.Errorf("save config: %w", err)
	}
	return nil
}

// Reload re-reads the backing file. Unlike Load, a malformed file keeps the
// current values: the file may be mid-edit.
func (s *Store) Reload() error {
	if s.path == "" {
		return nil
	}
	cfg, err := readFile(s.path)
	if err != nil {
		return err
	}
	if reset := cfg.Validate(); len(reset) > 0 {
		log.Warn().Err(ErrConfigInvalid).Strs("keys", reset).Msg("reloaded config values out of range, using defaults")
	}
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
	return nil
}
