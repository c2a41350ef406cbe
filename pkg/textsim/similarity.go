// Package textsim implements normalised edit-distance similarity for short
// utterances.
//
// Both the transcript reconciler (duplicate and echo suppression) and the
// script matcher compare text through [Normalize] so that casing, punctuation,
// invisible formatting characters and whitespace runs never affect a match.
// Distances are computed with the Levenshtein implementation from
// github.com/antzucaro/matchr, which operates on runes.
//
// All functions are pure and safe for concurrent use. Cost is O(|a|·|b|), which
// is fine for utterances but should not be used on whole transcripts.
package textsim

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/antzucaro/matchr"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

// Normalize lowercases s, removes formatting/invisible characters,
// punctuation and symbols, collapses whitespace runs to a single space and
// trims the result.
//
// Compatibility forms are folded first (NFKC) so that full-width letters and
// ligatures compare equal to their plain counterparts.
func Normalize(s string) string {
	if s == "" {
		return ""
	}
	// cases.Caser is stateful; a fresh one per call keeps Normalize
	// goroutine-safe.
	s = cases.Lower(language.Und).String(norm.NFKC.String(s))

	var b strings.Builder
	b.Grow(len(s))
	pendingSpace := false
	for _, r := range s {
		switch {
		case unicode.IsSpace(r):
			pendingSpace = b.Len() > 0
		case unicode.In(r, unicode.Cf, unicode.Cc, unicode.Co):
			// invisible
		case unicode.IsPunct(r), unicode.IsSymbol(r):
		default:
			if pendingSpace {
				b.WriteByte(' ')
				pendingSpace = false
			}
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Words returns the whitespace-separated tokens of the normalised form of s.
func Words(s string) []string {
	return strings.Fields(Normalize(s))
}

// Similarity returns a score in [0, 1] describing how close a and b are after
// normalisation: 1 means identical, 0 means nothing in common. Two empty
// strings are identical. The score is symmetric.
func Similarity(a, b string) float64 {
	return NormalizedSimilarity(Normalize(a), Normalize(b))
}

// NormalizedSimilarity is [Similarity] for inputs that have already been
// passed through [Normalize]. Callers that compare one text against several
// others use it to avoid normalising repeatedly.
func NormalizedSimilarity(a, b string) float64 {
	la, lb := utf8.RuneCountInString(a), utf8.RuneCountInString(b)
	longest := max(la, lb)
	if longest == 0 {
		return 1
	}
	if a == b {
		return 1
	}
	dist := matchr.Levenshtein(a, b)
	if dist >= longest {
		return 0
	}
	return float64(longest-dist) / float64(longest)
}
