package transcript_test

import (
	"testing"
	"time"

	"github.com/MrWong99/dialcoach/internal/transcript"
	"github.com/MrWong99/dialcoach/pkg/clock/fake"
	"github.com/MrWong99/dialcoach/pkg/types"
)

var epoch = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

func newReconciler(t *testing.T) (*transcript.Reconciler, *fake.Clock) {
	t.Helper()
	clk := fake.New(epoch)
	return transcript.New(clk, transcript.DefaultConfig()), clk
}

func TestAppendIfNovel_SameRoleDuplicate(t *testing.T) {
	t.Parallel()

	r, clk := newReconciler(t)

	if _, v := r.AppendIfNovel(types.RoleUser, "Hello there"); v != transcript.Accepted {
		t.Fatalf("first append: got %v, want accepted", v)
	}
	clk.Advance(time.Second)
	if _, v := r.AppendIfNovel(types.RoleUser, "hello there"); v != transcript.DroppedDuplicate {
		t.Errorf("second append: got %v, want duplicate", v)
	}
	if r.Len() != 1 {
		t.Errorf("Len() = %d, want 1", r.Len())
	}
}

func TestAppendIfNovel_DuplicateOutsideWindow(t *testing.T) {
	t.Parallel()

	r, clk := newReconciler(t)

	r.AppendIfNovel(types.RoleUser, "Yes")
	clk.Advance(6 * time.Second)
	if _, v := r.AppendIfNovel(types.RoleUser, "yes"); v != transcript.Accepted {
		t.Errorf("got %v, want accepted after the window elapsed", v)
	}
}

func TestAppendIfNovel_CrossRoleEcho(t *testing.T) {
	t.Parallel()

	r, clk := newReconciler(t)

	if _, v := r.AppendIfNovel(types.RoleCounterpart, "I'm interested"); v != transcript.Accepted {
		t.Fatalf("counterpart append: got %v, want accepted", v)
	}
	clk.Advance(2 * time.Second)
	if _, v := r.AppendIfNovel(types.RoleUser, "I'm interested"); v != transcript.DroppedEcho {
		t.Errorf("user append: got %v, want echo", v)
	}

	entries := r.Entries()
	if len(entries) != 1 || entries[0].Speaker != types.RoleCounterpart {
		t.Errorf("Entries() = %+v, want only the counterpart entry", entries)
	}
}

func TestAppendIfNovel_DistinctTextAccepted(t *testing.T) {
	t.Parallel()

	r, _ := newReconciler(t)

	r.AppendIfNovel(types.RoleCounterpart, "How large is the property?")
	if _, v := r.AppendIfNovel(types.RoleUser, "About two thousand square feet."); v != transcript.Accepted {
		t.Errorf("got %v, want accepted", v)
	}
}

func TestAppendIfNovel_Empty(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		text string
	}{
		{name: "empty", text: ""},
		{name: "whitespace", text: "   \t\n"},
		{name: "punctuation only", text: "...?!"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r, _ := newReconciler(t)
			if _, v := r.AppendIfNovel(types.RoleUser, tt.text); v != transcript.DroppedEmpty {
				t.Errorf("got %v, want empty", v)
			}
			if r.Len() != 0 {
				t.Errorf("Len() = %d, want 0", r.Len())
			}
		})
	}
}

func TestAppendIfNovel_TimestampsNonDecreasing(t *testing.T) {
	t.Parallel()

	r, clk := newReconciler(t)

	texts := []string{"one", "two", "three", "four", "five"}
	steps := []time.Duration{0, 300 * time.Millisecond, 1500 * time.Millisecond, 0, 4 * time.Second}
	for i, text := range texts {
		clk.Advance(steps[i])
		role := types.RoleUser
		if i%2 == 1 {
			role = types.RoleCounterpart
		}
		if _, v := r.AppendIfNovel(role, text); v != transcript.Accepted {
			t.Fatalf("append %q: got %v", text, v)
		}
	}

	entries := r.Entries()
	want := []int{0, 0, 1, 1, 5}
	for i, e := range entries {
		if e.TimestampSeconds != want[i] {
			t.Errorf("entry %d timestamp = %d, want %d", i, e.TimestampSeconds, want[i])
		}
		if i > 0 && e.TimestampSeconds < entries[i-1].TimestampSeconds {
			t.Errorf("entry %d timestamp decreased", i)
		}
	}
}

func TestAppendIfNovel_ActiveTurnGuard(t *testing.T) {
	t.Parallel()

	r, clk := newReconciler(t)

	r.MarkTurnStart(types.RoleCounterpart)
	if _, v := r.AppendIfNovel(types.RoleUser, "stray words"); v != transcript.DroppedActiveTurn {
		t.Errorf("user during counterpart turn: got %v, want active_turn", v)
	}
	if _, v := r.AppendIfNovel(types.RoleCounterpart, "Let me tell you about the house."); v != transcript.Accepted {
		t.Errorf("counterpart during own turn: got %v, want accepted", v)
	}

	r.MarkTurnStop(types.RoleCounterpart)
	clk.Advance(time.Second)
	if _, v := r.AppendIfNovel(types.RoleUser, "stray words"); v != transcript.Accepted {
		t.Errorf("user after turn stopped: got %v, want accepted", v)
	}
}

func TestAppendIfNovel_UserTurnGrace(t *testing.T) {
	t.Parallel()

	r, clk := newReconciler(t)

	// The user starts speaking, then a counterpart turn boundary arrives
	// before the user's transcript.
	r.MarkTurnStart(types.RoleUser)
	r.MarkTurnStart(types.RoleCounterpart)
	clk.Advance(500 * time.Millisecond)
	if _, v := r.AppendIfNovel(types.RoleUser, "I'd like to list my home"); v != transcript.Accepted {
		t.Errorf("within grace: got %v, want accepted", v)
	}

	clk.Advance(time.Second)
	if _, v := r.AppendIfNovel(types.RoleUser, "something else entirely"); v != transcript.DroppedActiveTurn {
		t.Errorf("after grace: got %v, want active_turn", v)
	}
}

func TestMarkTurnStop_OtherRoleIgnored(t *testing.T) {
	t.Parallel()

	r, _ := newReconciler(t)

	r.MarkTurnStart(types.RoleCounterpart)
	r.MarkTurnStop(types.RoleUser)
	if role, ok := r.ActiveSpeaker(); !ok || role != types.RoleCounterpart {
		t.Errorf("ActiveSpeaker() = %v, %v; want counterpart, true", role, ok)
	}
}

func TestEntries_ReturnsCopy(t *testing.T) {
	t.Parallel()

	r, _ := newReconciler(t)
	r.AppendIfNovel(types.RoleUser, "original")

	got := r.Entries()
	got[0].Message = "mutated"
	if r.Entries()[0].Message != "original" {
		t.Error("mutating the returned slice changed the transcript")
	}
}

func TestReset(t *testing.T) {
	t.Parallel()

	r, clk := newReconciler(t)
	r.AppendIfNovel(types.RoleUser, "hello")
	r.MarkTurnStart(types.RoleCounterpart)
	clk.Advance(10 * time.Second)

	r.Reset()
	if r.Len() != 0 {
		t.Fatalf("Len() after Reset = %d, want 0", r.Len())
	}
	if _, ok := r.ActiveSpeaker(); ok {
		t.Error("active speaker survived Reset")
	}
	e, v := r.AppendIfNovel(types.RoleUser, "hello")
	if v != transcript.Accepted {
		t.Fatalf("append after Reset: got %v, want accepted", v)
	}
	if e.TimestampSeconds != 0 {
		t.Errorf("timestamp after Reset = %d, want 0", e.TimestampSeconds)
	}
}

func TestVerdict_String(t *testing.T) {
	t.Parallel()

	tests := []struct {
		v    transcript.Verdict
		want string
	}{
		{transcript.Accepted, "accepted"},
		{transcript.DroppedEmpty, "empty"},
		{transcript.DroppedActiveTurn, "active_turn"},
		{transcript.DroppedDuplicate, "duplicate"},
		{transcript.DroppedEcho, "echo"},
		{transcript.Verdict(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.v.String(); got != tt.want {
			t.Errorf("Verdict(%d).String() = %q, want %q", tt.v, got, tt.want)
		}
	}
}
