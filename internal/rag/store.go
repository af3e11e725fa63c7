// Package rag implements the per-server retrieval store: a persistent,
// lexically scored map from normalized chat text to its translation.
package rag

import (
	"errors"
	"sort"
	"sync"
	"time"
)

const (
	// DefaultMaxEntries matches the ragMaxEntries default.
	DefaultMaxEntries = 1000
	// saveEvery is the number of upserts between background saves.
	saveEvery = 100
	// evictTarget is the fraction of max entries kept after eviction.
	evictTarget = 0.8
)

var (
	// ErrStoreIO is returned when the backing file cannot be read or written.
	ErrStoreIO = errors.New("retrieval store io error")
	// ErrStoreCorrupt is returned when the backing file is not a valid store image.
	ErrStoreCorrupt = errors.New("retrieval store corrupt")
)

// Entry is one stored translation.
type Entry struct {
	Original   string    `json:"originalText"`
	Translated string    `json:"translatedText"`
	Context    string    `json:"context"`
	Timestamp  time.Time `json:"timestamp"`
	UseCount   uint32    `json:"useCount"`
}

// Match is a ranked search result.
type Match struct {
	Key   string  `json:"key"`
	Entry Entry   `json:"entry"`
	Score float64 `json:"score"`
}

// Store is a retrieval store backed by a JSON file. All methods are safe
// for concurrent use.
type Store struct {
	path string
	now  func() time.Time

	mu         sync.Mutex
	entries    map[string]*Entry
	maxEntries int
	upserts    int

	saveMu   sync.Mutex // serializes file writes
	saveGen  uint64     // guarded by mu
	wroteGen uint64     // guarded by saveMu
	bg       sync.WaitGroup
}

// New returns an empty store that persists to path. An empty path keeps the
// store in memory only.
func New(path string, maxEntries int) *Store {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &Store{
		path:       path,
		now:        func() time.Time { return time.Now().UTC() },
		entries:    make(map[string]*Entry),
		maxEntries: maxEntries,
	}
}

// Path returns the backing file path.
func (s *Store) Path() string {
	return s.path
}

// Size returns the number of entries.
func (s *Store) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// MaxEntries returns the current capacity.
func (s *Store) MaxEntries() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maxEntries
}

// SetMaxEntries changes the capacity, evicting immediately if the store is
// now over it.
func (s *Store) SetMaxEntries(n int) {
	if n <= 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.maxEntries = n
	if len(s.entries) > s.maxEntries {
		s.evictLocked()
	}
}

// Upsert inserts or refreshes the entry for original. The timestamp is reset
// and the use count incremented. Every saveEvery upserts a background save
// is scheduled.
func (s *Store) Upsert(original, translated, context string) {
	key := Normalize(original)

	s.mu.Lock()
	e, ok := s.entries[key]
	if !ok {
		e = &Entry{Original: original, Context: context}
		s.entries[key] = e
	}
	e.Translated = translated
	e.Timestamp = s.now()
	e.UseCount++

	if len(s.entries) > s.maxEntries {
		s.evictLocked()
	}

	s.upserts++
	var snapshot []byte
	var gen uint64
	if s.upserts%saveEvery == 0 && s.path != "" {
		snapshot, gen = s.snapshotLocked()
	}
	s.mu.Unlock()

	if snapshot != nil {
		s.bg.Add(1)
		go func() {
			defer s.bg.Done()
			s.writeSnapshot(snapshot, gen)
		}()
	}
}

// Exact returns a copy of the entry stored under Normalize(original) and
// increments its use count.
func (s *Store) Exact(original string) (Entry, bool) {
	key := Normalize(original)

	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		return Entry{}, false
	}
	e.UseCount++
	return *e, true
}

// Search ranks every entry against query and returns up to topK matches
// scoring above the cut-off, best first. Ties go to the newer entry, then
// the more used one. Returned entries have their use count incremented.
func (s *Store) Search(query string, topK int) []Match {
	if topK <= 0 {
		return nil
	}
	q := Tokenize(query)

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.entries) == 0 {
		return nil
	}

	keys := make([]string, 0, len(s.entries))
	for k := range s.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var matches []Match
	for _, k := range keys {
		e := s.entries[k]
		score := Jaccard(q, Tokenize(e.Original)) + Popularity(e.UseCount)
		if score > minScore {
			matches = append(matches, Match{Key: k, Entry: *e, Score: score})
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		a, b := matches[i], matches[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if !a.Entry.Timestamp.Equal(b.Entry.Timestamp) {
			return a.Entry.Timestamp.After(b.Entry.Timestamp)
		}
		return a.Entry.UseCount > b.Entry.UseCount
	})

	if len(matches) > topK {
		matches = matches[:topK]
	}
	for i := range matches {
		e := s.entries[matches[i].Key]
		e.UseCount++
		matches[i].Entry.UseCount = e.UseCount
	}
	return matches
}

// Entries returns a copy of every entry keyed by normalized text.
func (s *Store) Entries() map[string]Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]Entry, len(s.entries))
	for k, e := range s.entries {
		out[k] = *e
	}
	return out
}

// Clear empties the store and saves the empty image.
func (s *Store) Clear() error {
	s.mu.Lock()
	s.entries = make(map[string]*Entry)
	s.upserts = 0
	s.mu.Unlock()
	return s.Save()
}

// evictLocked drops the lowest-ranked entries until the store holds
// floor(maxEntries*0.8). Caller holds s.mu.
func (s *Store) evictLocked() {
	target := int(float64(s.maxEntries) * evictTarget)
	remove := len(s.entries) - target
	if remove <= 0 {
		return
	}

	keys := make([]string, 0, len(s.entries))
	for k := range s.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	sort.SliceStable(keys, func(i, j int) bool {
		return evictionRank(s.entries[keys[i]]) < evictionRank(s.entries[keys[j]])
	})

	for _, k := range keys[:remove] {
		delete(s.entries, k)
	}
}
