package types_test

import (
	"encoding/json"
	"testing"

	"github.com/MrWong99/dialcoach/pkg/types"
)

func TestRole_Names(t *testing.T) {
	t.Parallel()

	tests := []struct {
		role types.Role
		want string
	}{
		{types.RoleUser, "user"},
		{types.RoleCounterpart, "counterpart"},
		{types.Role(7), "unknown"},
	}
	for _, tc := range tests {
		if got := tc.role.String(); got != tc.want {
			t.Errorf("Role(%d).String() = %q, want %q", tc.role, got, tc.want)
		}
	}
	if types.RoleUser.Other() != types.RoleCounterpart || types.RoleCounterpart.Other() != types.RoleUser {
		t.Error("Other() does not swap roles")
	}
}

func TestTranscriptEntry_JSON(t *testing.T) {
	t.Parallel()

	in := types.TranscriptEntry{Speaker: types.RoleCounterpart, Message: "Hello?", TimestampSeconds: 3}
	data, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if want := `{"speaker":"counterpart","message":"Hello?","timestamp_seconds":3}`; string(data) != want {
		t.Errorf("Marshal = %s, want %s", data, want)
	}

	var out types.TranscriptEntry
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if out != in {
		t.Errorf("Unmarshal = %+v, want %+v", out, in)
	}
}

func TestParseRole_DefaultsToUser(t *testing.T) {
	t.Parallel()

	if got := types.ParseRole("assistant"); got != types.RoleUser {
		t.Errorf("ParseRole(assistant) = %v, want user", got)
	}
}
