package textsim_test

import (
	"math"
	"testing"

	"github.com/MrWong99/dialcoach/pkg/textsim"
)

func TestNormalize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"empty", "", ""},
		{"lowercase", "Hello There", "hello there"},
		{"punctuation", "Hello, there!", "hello there"},
		{"apostrophe", "Let's go", "lets go"},
		{"whitespace runs", "  a \t b\n\nc  ", "a b c"},
		{"zero width", "hel\u200blo", "hello"},
		{"symbols", "100% sure $5", "100 sure 5"},
		{"full width", "ＨＥＬＬＯ", "hello"},
		{"only punctuation", "?!...", ""},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := textsim.Normalize(tc.in); got != tc.want {
				t.Errorf("Normalize(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestSimilarity_Identity(t *testing.T) {
	t.Parallel()

	for _, s := range []string{"", "a", "Hello there", "I'm interested in the listing.", "über straße"} {
		if got := textsim.Similarity(s, s); got != 1 {
			t.Errorf("Similarity(%q, %q) = %v, want 1", s, s, got)
		}
	}
}

func TestSimilarity_BothEmpty(t *testing.T) {
	t.Parallel()

	if got := textsim.Similarity("", ""); got != 1 {
		t.Errorf("Similarity(\"\", \"\") = %v, want 1", got)
	}
	// Strings that normalise to empty are empty too.
	if got := textsim.Similarity("...", "  "); got != 1 {
		t.Errorf("Similarity of punctuation-only strings = %v, want 1", got)
	}
}

func TestSimilarity_Symmetric(t *testing.T) {
	t.Parallel()

	pairs := [][2]string{
		{"kitten", "sitting"},
		{"hello there", "hello"},
		{"", "abc"},
		{"schedule a consultation", "schedule the consultation"},
	}
	for _, p := range pairs {
		ab := textsim.Similarity(p[0], p[1])
		ba := textsim.Similarity(p[1], p[0])
		if ab != ba {
			t.Errorf("Similarity(%q, %q) = %v but reversed = %v", p[0], p[1], ab, ba)
		}
	}
}

func TestSimilarity_Values(t *testing.T) {
	t.Parallel()

	tests := []struct {
		a, b string
		want float64
	}{
		{"kitten", "sitting", 4.0 / 7.0},
		{"abc", "", 0},
		{"abc", "xyz", 0},
		{"Hello there", "hello there!", 1},
		{"abcd", "abce", 0.75},
	}
	for _, tc := range tests {
		got := textsim.Similarity(tc.a, tc.b)
		if math.Abs(got-tc.want) > 1e-9 {
			t.Errorf("Similarity(%q, %q) = %v, want %v", tc.a, tc.b, got, tc.want)
		}
	}
}

func TestWords(t *testing.T) {
	t.Parallel()

	got := textsim.Words("Yeah, let's do the consultation this week!")
	want := []string{"yeah", "lets", "do", "the", "consultation", "this", "week"}
	if len(got) != len(want) {
		t.Fatalf("Words() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Words()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
