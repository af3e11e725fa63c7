package rag

import (
	"math"
	"strings"
	"unicode/utf8"
)

// minScore is the cut-off below which ranked candidates are dropped.
const minScore = 0.1

// Normalize lowercases s, trims it, and collapses internal whitespace runs
// to a single space. It is the key function for the store.
func Normalize(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

// Tokenize splits s on whitespace and returns the set of lowercased tokens
// longer than one character.
func Tokenize(s string) map[string]struct{} {
	fields := strings.Fields(strings.ToLower(s))
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		if utf8.RuneCountInString(f) <= 1 {
			continue
		}
		set[f] = struct{}{}
	}
	return set
}

// Jaccard returns |a∩b| / |a∪b|, or 0 when either set is empty.
func Jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	small, large := a, b
	if len(small) > len(large) {
		small, large = large, small
	}
	inter := 0
	for tok := range small {
		if _, ok := large[tok]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}

// Popularity is the use-count bonus added to lexical similarity.
func Popularity(useCount uint32) float64 {
	return math.Log(float64(useCount)+1) / 10
}

// Score = Jaccard(query, text) + Popularity(useCount).
func Score(query, text string, useCount uint32) float64 {
	return Jaccard(Tokenize(query), Tokenize(text)) + Popularity(useCount)
}

// evictionRank orders entries for eviction; lowest goes first.
func evictionRank(e *Entry) float64 {
	return float64(e.UseCount) + float64(e.Timestamp.Unix())/1_000_000
}
