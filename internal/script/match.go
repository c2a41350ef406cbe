// Package script guides the user through an ordered list of expected lines.
//
// [ShouldAdvance] decides whether a spoken utterance is close enough to the
// expected line. The match tolerates paraphrase.
// [Progress] owns the current position and only moves it forward.
package script

import "github.com/MrWong99/dialcoach/pkg/textsim"

// MatchConfig holds the thresholds used by [ShouldAdvanceWith].
type MatchConfig struct {
	// MinWords is the lower bound on the expected line's word count used as
	// the ratio denominator, so very short lines are not matched by a single
	// word.
	MinWords int `yaml:"min_words"`

	// BaseRatio is the required overlap ratio when the user said very little.
	BaseRatio float64 `yaml:"base_ratio"`

	// LengthRatio is added to BaseRatio in proportion to how much the user
	// said relative to the expected line.
	LengthRatio float64 `yaml:"length_ratio"`

	// KeywordFloor is the raw overlap count that always qualifies.
	KeywordFloor int `yaml:"keyword_floor"`
}

// DefaultMatchConfig returns the empirically chosen thresholds.
func DefaultMatchConfig() MatchConfig {
	return MatchConfig{MinWords: 4, BaseRatio: 0.15, LengthRatio: 0.25, KeywordFloor: 3}
}

// ShouldAdvance reports whether spoken matches expected under the default
// thresholds.
func ShouldAdvance(expected, spoken string) bool {
	return ShouldAdvanceWith(DefaultMatchConfig(), expected, spoken)
}

// ShouldAdvanceWith reports whether spoken matches expected.
//
// Overlap counts the expected words, repeats included, that occur in
// spoken. With
// n = max(MinWords, len(expected words)):
//
//	ratio    = overlap / n
//	fraction = min(1, len(spoken words) / n)
//	required = BaseRatio + LengthRatio*fraction
//
// The line matches when ratio >= required or overlap >= KeywordFloor.
func ShouldAdvanceWith(cfg MatchConfig, expected, spoken string) bool {
	want := textsim.Words(expected)
	said := textsim.Words(spoken)
	if len(want) == 0 || len(said) == 0 {
		return false
	}

	saidSet := make(map[string]struct{}, len(said))
	for _, w := range said {
		saidSet[w] = struct{}{}
	}
	overlap := 0
	for _, w := range want {
		if _, ok := saidSet[w]; ok {
			overlap++
		}
	}

	n := float64(max(cfg.MinWords, len(want), 1))
	ratio := float64(overlap) / n
	fraction := min(1, float64(len(said))/n)
	required := cfg.BaseRatio + cfg.LengthRatio*fraction
	return ratio >= required || (cfg.KeywordFloor > 0 && overlap >= cfg.KeywordFloor)
}
