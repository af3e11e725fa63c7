package rag

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fixedClock returns a clock that advances one second per call.
func fixedClock(start time.Time) func() time.Time {
	var mu sync.Mutex
	t := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		t = t.Add(time.Second)
		return t
	}
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"Hello", "hello"},
		{"  HELLO  ", "hello"},
		{"good\t\tmorning\n everyone", "good morning everyone"},
		{"", ""},
		{"   ", ""},
		{"こんにちは 世界", "こんにちは 世界"},
	}
	for _, tt := range tests {
		got := Normalize(tt.in)
		assert.Equal(t, tt.want, got, "Normalize(%q)", tt.in)
		assert.Equal(t, got, Normalize(got), "Normalize must be idempotent for %q", tt.in)
	}
}

func TestTokenizeDropsShortTokens(t *testing.T) {
	got := Tokenize("I am a Big big CAT")
	assert.Equal(t, map[string]struct{}{"am": {}, "big": {}, "cat": {}}, got)

	// rune length, not byte length
	assert.Empty(t, Tokenize("あ い"))
	assert.Len(t, Tokenize("ああ"), 1)

	// a lone emoji is one rune, so it is dropped like any single character
	assert.Equal(t, map[string]struct{}{"gg": {}}, Tokenize("😀 gg"))
	assert.Len(t, Tokenize("😀😀"), 1)
}

func TestJaccardBounds(t *testing.T) {
	inputs := []string{"", "hello", "hello world", "hello there world", "completely different", "x y z"}
	for _, a := range inputs {
		for _, b := range inputs {
			j := Jaccard(Tokenize(a), Tokenize(b))
			assert.GreaterOrEqual(t, j, 0.0)
			assert.LessOrEqual(t, j, 1.0)
			assert.GreaterOrEqual(t, Score(a, b, 0), 0.0)
		}
	}
	assert.Equal(t, 1.0, Jaccard(Tokenize("hello world"), Tokenize("WORLD hello")))
	assert.InDelta(t, 2.0/3.0, Jaccard(Tokenize("hello world"), Tokenize("hello there world")), 1e-9)
}

func TestScoreAddsPopularity(t *testing.T) {
	base := Score("hello world", "hello world", 0)
	assert.Equal(t, 1.0, base)
	assert.InDelta(t, 1.0+0.1*1.0986122886681098, Score("hello world", "hello world", 2), 1e-9)
}

func TestUpsertAndExact(t *testing.T) {
	s := New("", 10)
	s.Upsert("Hello", "こんにちは", "alice")

	e, ok := s.Exact("  HELLO  ")
	require.True(t, ok)
	assert.Equal(t, "こんにちは", e.Translated)
	assert.Equal(t, "Hello", e.Original)
	assert.Equal(t, "alice", e.Context)
	assert.Equal(t, uint32(2), e.UseCount, "one for upsert, one for the exact hit")

	_, ok = s.Exact("goodbye")
	assert.False(t, ok)
}

func TestUpsertUpdatesTranslation(t *testing.T) {
	s := New("", 10)
	s.now = fixedClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))

	s.Upsert("hi", "やあ", "alice")
	first := s.Entries()["hi"].Timestamp
	s.Upsert("HI", "こんにちは", "bob")

	e := s.Entries()["hi"]
	assert.Equal(t, "こんにちは", e.Translated)
	assert.Equal(t, "alice", e.Context, "context stays with the first writer")
	assert.Equal(t, uint32(2), e.UseCount)
	assert.True(t, e.Timestamp.After(first))
	assert.Equal(t, 1, s.Size())
}

func TestEvictionToEightyPercent(t *testing.T) {
	s := New("", 10)
	s.now = fixedClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))

	for i := 0; i < 11; i++ {
		s.Upsert(fmt.Sprintf("phrase %d", i), fmt.Sprintf("t%d", i), "x")
	}
	assert.Equal(t, 8, s.Size())

	// the oldest entries went first
	entries := s.Entries()
	for i := 0; i < 3; i++ {
		assert.NotContains(t, entries, fmt.Sprintf("phrase %d", i))
	}
	assert.Contains(t, entries, "phrase 10")
}

func TestEvictionKeepsPopular(t *testing.T) {
	s := New("", 5)
	s.now = fixedClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))

	s.Upsert("popular", "p", "x")
	for i := 0; i < 5; i++ {
		s.Exact("popular")
	}
	for i := 0; i < 5; i++ {
		s.Upsert(fmt.Sprintf("filler %d", i), "f", "x")
	}

	assert.Equal(t, 4, s.Size())
	assert.Contains(t, s.Entries(), "popular")
}

func TestSizeNeverExceedsMax(t *testing.T) {
	for _, max := range []int{1, 2, 3, 7, 10, 50} {
		s := New("", max)
		for i := 0; i < 500; i++ {
			s.Upsert(fmt.Sprintf("key %d", i%173), "v", "")
			require.LessOrEqual(t, s.Size(), max, "max=%d after %d upserts", max, i+1)
		}
	}
}

func TestSetMaxEntriesEvicts(t *testing.T) {
	s := New("", 100)
	for i := 0; i < 20; i++ {
		s.Upsert(fmt.Sprintf("k%d", i), "v", "")
	}
	s.SetMaxEntries(10)
	assert.Equal(t, 8, s.Size())
	assert.Equal(t, 10, s.MaxEntries())
}

func TestConcurrentUpsertsSameKey(t *testing.T) {
	s := New("", 10)
	const n = 200

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Upsert("same phrase", "同じ", "x")
		}()
	}
	wg.Wait()

	assert.Equal(t, uint32(n), s.Entries()["same phrase"].UseCount)
}

func TestSearchRanking(t *testing.T) {
	s := New("", 100)
	s.now = fixedClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))

	s.Upsert("good morning everyone", "a", "")
	s.Upsert("good morning", "b", "")
	s.Upsert("see you later", "c", "")

	got := s.Search("good morning", 5)
	require.Len(t, got, 2)
	assert.Equal(t, "good morning", got[0].Key)
	assert.Equal(t, "good morning everyone", got[1].Key)
	assert.Greater(t, got[0].Score, got[1].Score)

	// ranked hits count as uses
	assert.Equal(t, uint32(2), got[0].Entry.UseCount)
	assert.Equal(t, uint32(2), s.Entries()["good morning"].UseCount)
	assert.Equal(t, uint32(1), s.Entries()["see you later"].UseCount)
}

func TestSearchTieBreaksOnRecency(t *testing.T) {
	s := New("", 100)
	s.now = fixedClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))

	s.Upsert("alpha beta", "older", "")
	s.Upsert("beta alpha", "newer", "")

	got := s.Search("alpha beta", 2)
	require.Len(t, got, 2)
	assert.Equal(t, "newer", got[0].Entry.Translated)
}

func TestSearchCutoffAndLimit(t *testing.T) {
	s := New("", 100)
	assert.Nil(t, s.Search("anything", 3))

	for i := 0; i < 5; i++ {
		s.Upsert(fmt.Sprintf("shared word%d", i), "v", "")
	}
	assert.Len(t, s.Search("shared", 3), 3)
	assert.Nil(t, s.Search("shared", 0))
	assert.Empty(t, s.Search("nothing in common", 3))
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "servers", "example_com", "rag.json")

	s := New(path, 100)
	for i := 0; i < 25; i++ {
		s.Upsert(fmt.Sprintf("Phrase Number %d", i), fmt.Sprintf("翻訳 %d", i), "speaker")
	}
	s.Exact("phrase number 3")
	require.NoError(t, s.Save())

	loaded := Open(path, 100)
	want, got := s.Entries(), loaded.Entries()
	require.Len(t, got, len(want))
	for k, w := range want {
		g, ok := got[k]
		require.True(t, ok, "missing %q", k)
		assert.Equal(t, w.Original, g.Original)
		assert.Equal(t, w.Translated, g.Translated)
		assert.Equal(t, w.Context, g.Context)
		assert.Equal(t, w.UseCount, g.UseCount)
		assert.True(t, w.Timestamp.Equal(g.Timestamp), "timestamp for %q", k)
	}
}

func TestLoadEdgeCases(t *testing.T) {
	tests := []struct {
		name    string
		content *string
		wantErr error
	}{
		{name: "missing file"},
		{name: "empty file", content: ptr("")},
		{name: "whitespace", content: ptr(" \n ")},
		{name: "malformed", content: ptr(`{"hello": {`), wantErr: ErrStoreCorrupt},
		{name: "wrong shape", content: ptr(`["not", "a", "map"]`), wantErr: ErrStoreCorrupt},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "rag.json")
			if tt.content != nil {
				require.NoError(t, os.WriteFile(path, []byte(*tt.content), 0o644))
			}

			s := New(path, 10)
			s.Upsert("stale", "x", "")
			err := s.Load()
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, 0, s.Size())

			// Open swallows the error
			assert.Equal(t, 0, Open(path, 10).Size())
		})
	}
}

func TestLoadReadsLegacyImage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rag.json")
	legacy := `{
  "hello": {
    "originalText": "Hello",
    "translatedText": "こんにちは",
    "context": "alice",
    "timestamp": "2025-06-01T12:00:00Z",
    "useCount": 4
  }
}`
	require.NoError(t, os.WriteFile(path, []byte(legacy), 0o644))

	s := Open(path, 10)
	e, ok := s.Exact("hello")
	require.True(t, ok)
	assert.Equal(t, "こんにちは", e.Translated)
	assert.Equal(t, uint32(5), e.UseCount)
	assert.Equal(t, 2025, e.Timestamp.Year())
}

func TestBackgroundSaveEveryHundredUpserts(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rag.json")
	s := New(path, 1000)

	for i := 0; i < 99; i++ {
		s.Upsert(fmt.Sprintf("k%d", i), "v", "")
	}
	s.Flush()
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err), "no save before the 100th upsert")

	s.Upsert("k99", "v", "")
	s.Flush()
	assert.Equal(t, 100, Open(path, 1000).Size())
}

func TestClearSavesEmptyImage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rag.json")
	s := New(path, 10)
	s.Upsert("a phrase", "x", "")
	require.NoError(t, s.Save())

	require.NoError(t, s.Clear())
	assert.Equal(t, 0, s.Size())
	assert.Equal(t, 0, Open(path, 10).Size())
}

func TestSaveFailureKeepsMemory(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0o644))

	s := New(filepath.Join(blocker, "rag.json"), 10)
	s.Upsert("kept", "x", "")
	err := s.Save()
	assert.ErrorIs(t, err, ErrStoreIO)
	assert.Equal(t, 1, s.Size())
}

func ptr(s string) *string { return &s }
