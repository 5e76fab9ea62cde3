// Package phonetic detects misheard interruption words by combining Double
// Metaphone phonetic codes with Jaro-Winkler string similarity.
//
// Matching proceeds in two stages:
//
//  1. Phonetic candidates: when any Double Metaphone code of the token
//     overlaps a code of a vocabulary word, the pair is scored with
//     Jaro-Winkler directly. Shared codes are strong evidence the recogniser
//     garbled the word, so no further length constraint applies.
//
//  2. Fallback: tokens with no code overlap must additionally be within one
//     character of the vocabulary word's length, keeping inflected forms
//     like "waiting" or "canceled" inert.
package phonetic

import (
	"strings"

	"github.com/antzucaro/matchr"
)

// Matcher ranks a spoken token against a fixed vocabulary. It is read-only
// after construction and safe for concurrent use.
type Matcher struct {
	threshold float64
	words     []word
}

type word struct {
	text  string
	codes map[string]struct{}
}

// New builds a matcher over vocabulary. threshold is the minimum Jaro-Winkler
// similarity required in either stage. Blank vocabulary entries are skipped.
func New(vocabulary []string, threshold float64) *Matcher {
	m := &Matcher{threshold: threshold}
	for _, v := range vocabulary {
		v = strings.ToLower(strings.TrimSpace(v))
		if v == "" {
			continue
		}
		m.words = append(m.words, word{text: v, codes: codesFor(v)})
	}
	return m
}

// Match returns the vocabulary word most similar to token along with its
// score. When matched is false, best is empty and score is 0.
func (m *Matcher) Match(token string) (best string, score float64, matched bool) {
	token = strings.ToLower(strings.TrimSpace(token))
	if token == "" {
		return "", 0, false
	}
	codes := codesFor(token)

	for _, w := range m.words {
		if !codesOverlap(codes, w.codes) {
			if diff := len(token) - len(w.text); diff < -1 || diff > 1 {
				continue
			}
		}
		if s := matchr.JaroWinkler(token, w.text, false); s >= m.threshold && s > score {
			best, score, matched = w.text, s, true
		}
	}
	return best, score, matched
}

// codesFor returns the set of Double Metaphone codes for s. Empty codes,
// produced when the word has no consonants, are excluded.
func codesFor(s string) map[string]struct{} {
	codes := make(map[string]struct{}, 2)
	p, sec := matchr.DoubleMetaphone(s)
	if p != "" {
		codes[p] = struct{}{}
	}
	if sec != "" {
		codes[sec] = struct{}{}
	}
	return codes
}

// codesOverlap returns true if the two code sets share at least one code.
func codesOverlap(a, b map[string]struct{}) bool {
	// Iterate over the smaller set for efficiency.
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}
