// Package ending detects counterpart utterances that end the call and runs the
// hang-up sequence.
package ending

import (
	"strings"
	"unicode/utf8"

	"github.com/MrWong99/dialcoach/pkg/textsim"
)

// Phrase sets. All entries are in normalised form (see textsim.Normalize) and
// match on whole words.
var (
	// hangUpMarkers match anywhere.
	hangUpMarkers = []string{
		"hangs up", "hanging up", "end call", "call ended", "ends the call",
		"dial tone",
	}

	// disinterestPhrases match anywhere.
	disinterestPhrases = []string{
		"not interested", "no thank you", "no thanks", "stop calling",
		"take me off your list", "remove me from your list", "do not call",
		"dont call me", "dont call again", "im going to hang up",
		"waste of my time", "wasting my time",
	}

	// farewellPhrases weigh more within the tail window.
	farewellPhrases = []string{
		"goodbye", "good bye", "bye", "bye bye", "have a nice day",
		"have a good day", "have a good one", "take care", "talk to you later",
		"thanks for calling", "thank you for calling", "good night",
		"i have to go", "i need to go",
	}

	// dismissalTokens match anywhere in short messages.
	dismissalTokens = []string{
		"bye", "nope", "busy", "whatever", "goodbye", "later", "pass",
	}
)

// Option configures a [Classifier].
type Option func(*Classifier)

// WithPhrases adds phrases that match anywhere in the message.
func WithPhrases(phrases ...string) Option {
	return func(c *Classifier) { c.anywhere = appendNormalized(c.anywhere, phrases) }
}

// WithFarewells adds farewell phrases, weighted towards the tail window.
func WithFarewells(phrases ...string) Option {
	return func(c *Classifier) { c.farewells = appendNormalized(c.farewells, phrases) }
}

// WithTailWindow sets how many trailing characters give farewells full weight.
func WithTailWindow(n int) Option {
	return func(c *Classifier) {
		if n > 0 {
			c.tail = n
		}
	}
}

// WithShortLimit sets the length below which dismissal tokens end the call.
func WithShortLimit(n int) Option {
	return func(c *Classifier) {
		if n >= 0 {
			c.short = n
		}
	}
}

// Classifier decides whether a counterpart message ends the call. It is
// immutable after construction and safe for concurrent use.
type Classifier struct {
	anywhere  []string
	farewells []string
	dismissal []string
	tail      int
	short     int
}

// NewClassifier returns a Classifier with the built-in phrase sets, a
// 150-character tail window and a 30-character short-message limit.
func NewClassifier(opts ...Option) *Classifier {
	c := &Classifier{tail: 150, short: 30}
	c.anywhere = append(append(c.anywhere, hangUpMarkers...), disinterestPhrases...)
	c.farewells = append(c.farewells, farewellPhrases...)
	c.dismissal = append(c.dismissal, dismissalTokens...)
	for _, o := range opts {
		o(c)
	}
	return c
}

var defaultClassifier = NewClassifier()

// IsEndingMessage reports whether text ends the call under the default
// classifier.
func IsEndingMessage(text string) bool {
	return defaultClassifier.IsEnding(text)
}

// IsEnding reports whether text ends the call.
func (c *Classifier) IsEnding(text string) bool {
	norm := textsim.Normalize(text)
	if norm == "" {
		return false
	}
	padded := " " + norm + " "

	if containsAny(padded, c.anywhere) {
		return true
	}
	if c.farewellScore(norm) >= farewellThreshold {
		return true
	}
	if utf8.RuneCountInString(strings.TrimSpace(text)) < c.short && containsAny(padded, c.dismissal) {
		return true
	}
	return false
}

// farewellThreshold is the score at which farewells end the call. One phrase
// in the tail window reaches it; phrases earlier in the message need company.
const farewellThreshold = 2

// farewellScore weighs each distinct farewell phrase in norm: 2 inside the
// tail window, 1 elsewhere.
func (c *Classifier) farewellScore(norm string) int {
	padded := " " + norm + " "
	tail := " " + tailOf(norm, c.tail) + " "
	score := 0
	for _, p := range c.farewells {
		switch {
		case strings.Contains(tail, " "+p+" "):
			score += 2
		case strings.Contains(padded, " "+p+" "):
			score++
		}
	}
	return score
}

// tailOf returns the last n runes of s, starting at a word boundary.
func tailOf(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	t := string(r[len(r)-n:])
	if i := strings.IndexByte(t, ' '); i >= 0 && r[len(r)-n-1] != ' ' {
		t = t[i+1:]
	}
	return t
}

// containsAny reports whether padded contains any phrase as whole words.
// padded must start and end with a space.
func containsAny(padded string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(padded, " "+p+" ") {
			return true
		}
	}
	return false
}

func appendNormalized(dst, phrases []string) []string {
	for _, p := range phrases {
		if n := textsim.Normalize(p); n != "" {
			dst = append(dst, n)
		}
	}
	return dst
}
