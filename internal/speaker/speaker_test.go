package speaker_test

import (
	"testing"

	"github.com/MrWong99/dialcoach/internal/speaker"
	"github.com/MrWong99/dialcoach/pkg/provider/realtime"
	"github.com/MrWong99/dialcoach/pkg/types"
)

func boolPtr(b bool) *bool { return &b }

func TestClassifier_Precedence(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		attr     realtime.Attribution
		wantRole types.Role
		wantRule speaker.Rule
	}{
		{
			name:     "explicit user flag beats counterpart fields",
			attr:     realtime.Attribution{UserFlag: boolPtr(true), Fields: map[string]string{"role": "assistant"}},
			wantRole: types.RoleUser,
			wantRule: speaker.RuleUserFlag,
		},
		{
			name:     "false flag falls through to user field",
			attr:     realtime.Attribution{UserFlag: boolPtr(false), Fields: map[string]string{"role": "caller"}},
			wantRole: types.RoleUser,
			wantRule: speaker.RuleUserField,
		},
		{
			name:     "false flag falls through to event type",
			attr:     realtime.Attribution{UserFlag: boolPtr(false), EventType: "response.audio_transcript.done"},
			wantRole: types.RoleCounterpart,
			wantRule: speaker.RuleEventType,
		},
		{
			name:     "false flag alone takes the user fallback",
			attr:     realtime.Attribution{UserFlag: boolPtr(false)},
			wantRole: types.RoleUser,
			wantRule: speaker.RuleFallback,
		},
		{
			name:     "counterpart field beats user field",
			attr:     realtime.Attribution{Fields: map[string]string{"role": "assistant", "channel": "user-mic"}},
			wantRole: types.RoleCounterpart,
			wantRule: speaker.RuleCounterpartField,
		},
		{
			name:     "user field",
			attr:     realtime.Attribution{Fields: map[string]string{"source": "caller"}},
			wantRole: types.RoleUser,
			wantRule: speaker.RuleUserField,
		},
		{
			name:     "field beats event type",
			attr:     realtime.Attribution{EventType: "conversation.item.input_audio_transcription.completed", Fields: map[string]string{"speaker": "AI Voice"}},
			wantRole: types.RoleCounterpart,
			wantRule: speaker.RuleCounterpartField,
		},
		{
			name:     "token must be a whole word",
			attr:     realtime.Attribution{Fields: map[string]string{"speaker": "chair"}, EventType: "response.text.done"},
			wantRole: types.RoleCounterpart,
			wantRule: speaker.RuleEventType,
		},
		{
			name:     "input transcription event is user",
			attr:     realtime.Attribution{EventType: "conversation.item.input_audio_transcription.completed"},
			wantRole: types.RoleUser,
			wantRule: speaker.RuleEventType,
		},
		{
			name:     "output item done is counterpart",
			attr:     realtime.Attribution{EventType: "response.output_item.done"},
			wantRole: types.RoleCounterpart,
			wantRule: speaker.RuleEventType,
		},
		{
			name:     "agent response is counterpart",
			attr:     realtime.Attribution{EventType: "agent_response"},
			wantRole: types.RoleCounterpart,
			wantRule: speaker.RuleEventType,
		},
		{
			name:     "unknown falls back to user",
			attr:     realtime.Attribution{EventType: "mystery", Fields: map[string]string{"speaker": "someone"}},
			wantRole: types.RoleUser,
			wantRule: speaker.RuleFallback,
		},
		{
			name:     "empty record falls back to user",
			attr:     realtime.Attribution{},
			wantRole: types.RoleUser,
			wantRule: speaker.RuleFallback,
		},
	}

	c := speaker.New()
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			role, rule := c.Classify(tc.attr)
			if role != tc.wantRole {
				t.Errorf("role = %v, want %v", role, tc.wantRole)
			}
			if rule != tc.wantRule {
				t.Errorf("rule = %v, want %v", rule, tc.wantRule)
			}
		})
	}
}

func TestClassifier_Options(t *testing.T) {
	t.Parallel()

	c := speaker.New(
		speaker.WithCounterpartTokens("Homeowner"),
		speaker.WithUserTokens("agent007"),
		speaker.WithEventHints([]string{"mic_caption"}, []string{"voice_caption"}),
	)

	if role, _ := c.Classify(realtime.Attribution{Fields: map[string]string{"speaker": "homeowner"}}); role != types.RoleCounterpart {
		t.Errorf("custom counterpart token: role = %v", role)
	}
	if role, _ := c.Classify(realtime.Attribution{Fields: map[string]string{"speaker": "agent007"}}); role != types.RoleUser {
		t.Errorf("custom user token: role = %v", role)
	}
	if role, rule := c.Classify(realtime.Attribution{EventType: "voice_caption.final"}); role != types.RoleCounterpart || rule != speaker.RuleEventType {
		t.Errorf("custom counterpart event: role = %v, rule = %v", role, rule)
	}
}

func TestClassify_EndToEndFromDecode(t *testing.T) {
	t.Parallel()

	tests := []struct {
		raw  string
		want types.Role
	}{
		{`{"type":"conversation.item.input_audio_transcription.completed","transcript":"hi"}`, types.RoleUser},
		{`{"type":"response.text.done","text":"hello"}`, types.RoleCounterpart},
		{`{"type":"response.output_item.done","item":{"role":"assistant","content":[{"text":"x"}]}}`, types.RoleCounterpart},
		{`{"text":"hello","from_user":true}`, types.RoleUser},
		{`{"text":"hello","sender":"bot"}`, types.RoleCounterpart},
		{`{"text":"hello"}`, types.RoleUser},
	}
	for _, tc := range tests {
		ev := realtime.Decode([]byte(tc.raw))
		if got := speaker.Classify(ev.Attribution); got != tc.want {
			t.Errorf("Classify(%s) = %v, want %v", tc.raw, got, tc.want)
		}
	}
}

func TestRule_String(t *testing.T) {
	t.Parallel()
	if got := speaker.RuleFallback.String(); got != "fallback" {
		t.Errorf("String() = %q", got)
	}
}
