package realtime

import (
	"strings"

	"github.com/tidwall/gjson"
)

// Kind is the closed set of event shapes the engine reacts to.
type Kind int

const (
	// KindUnknown is any payload that matched no known shape.
	KindUnknown Kind = iota

	// KindSpeechStarted marks the beginning of detected user speech.
	KindSpeechStarted

	// KindSpeechStopped marks the end of detected user speech.
	KindSpeechStopped

	// KindTranscript carries recognised or generated text.
	KindTranscript

	// KindResponseDone marks the end of a generated counterpart response.
	KindResponseDone

	// KindError carries a provider-side error message in Text.
	KindError
)

// String returns the lower-case kind name.
func (k Kind) String() string {
	switch k {
	case KindSpeechStarted:
		return "speech_started"
	case KindSpeechStopped:
		return "speech_stopped"
	case KindTranscript:
		return "transcript"
	case KindResponseDone:
		return "response_done"
	case KindError:
		return "error"
	default:
		return "unknown"
	}
}

// Attribution is the minimal, language-neutral record of speaker hints found
// in an inbound payload.
type Attribution struct {
	// EventType is the payload's type discriminator, if any.
	EventType string

	// UserFlag is non-nil when the payload carried an explicit boolean saying
	// whether the speaker is the user.
	UserFlag *bool

	// Fields maps hint field names (role, source, speaker, ...) to their
	// lower-cased string values.
	Fields map[string]string
}

// Event is a decoded inbound realtime event.
type Event struct {
	Kind Kind

	// Text is the transcript text for KindTranscript and the message for
	// KindError.
	Text string

	// Final is false for partial (delta) transcripts.
	Final bool

	// ItemID is the provider's conversation item id, if present.
	ItemID string

	// Attribution carries speaker hints for the classifier.
	Attribution Attribution

	// Raw is the undecoded payload, kept for debug logging.
	Raw []byte
}

// flagFields are boolean fields that state explicitly whether the speaker is
// the user.
var flagFields = []string{"is_user", "isUser", "from_user", "fromUser", "user"}

// hintFields are free-form fields whose values hint at the speaker.
var hintFields = []string{"role", "source", "sender", "channel", "speaker", "author", "participant", "from"}

// hintScopes are the objects searched for flag and hint fields, in order.
var hintScopes = []string{"", "item.", "message.", "data.", "event."}

// typeFields hold the payload's type discriminator.
var typeFields = []string{"type", "event", "kind", "event_type"}

// Decode parses an inbound payload into an [Event]. It never fails: malformed
// or unrecognised payloads decode as [KindUnknown].
func Decode(raw []byte) Event {
	ev := Event{Raw: raw}
	if !gjson.ValidBytes(raw) {
		return ev
	}
	root := gjson.ParseBytes(raw)
	if !root.IsObject() {
		return ev
	}

	typ := firstString(root, typeFields...)
	ev.Attribution = attribution(root, typ)
	ev.ItemID = firstString(root, "item_id", "item.id", "response_id")

	switch typ {
	case "input_audio_buffer.speech_started", "user_started_speaking", "speech_started":
		ev.Kind = KindSpeechStarted

	case "input_audio_buffer.speech_stopped", "user_stopped_speaking", "speech_stopped":
		ev.Kind = KindSpeechStopped

	case "conversation.item.input_audio_transcription.completed":
		ev.Kind, ev.Text, ev.Final = KindTranscript, root.Get("transcript").String(), true

	case "conversation.item.input_audio_transcription.delta",
		"response.text.delta", "response.audio_transcript.delta":
		ev.Kind, ev.Text = KindTranscript, root.Get("delta").String()

	case "response.text.done":
		ev.Kind, ev.Text, ev.Final = KindTranscript, root.Get("text").String(), true

	case "response.audio_transcript.done":
		ev.Kind, ev.Text, ev.Final = KindTranscript, root.Get("transcript").String(), true

	case "response.output_item.done":
		ev.Kind, ev.Text, ev.Final = KindTranscript, itemText(root.Get("item")), true

	case "user_transcript":
		ev.Kind, ev.Text, ev.Final = KindTranscript, root.Get("user_transcription_event.user_transcript").String(), true

	case "agent_response":
		ev.Kind, ev.Text, ev.Final = KindTranscript, root.Get("agent_response_event.agent_response").String(), true

	case "response.done":
		ev.Kind = KindResponseDone

	case "error":
		ev.Kind = KindError
		ev.Text = firstString(root, "error.message", "message", "error")

	default:
		if text := firstString(root, "transcript", "text", "message"); text != "" {
			ev.Kind, ev.Text = KindTranscript, text
			ev.Final = !strings.Contains(typ, "delta") && !strings.Contains(typ, "partial")
			if f := firstValue(root, "is_final", "final", "isFinal"); f.Exists() {
				ev.Final = f.Bool()
			}
		}
	}
	return ev
}

// attribution collects the speaker hints from root.
func attribution(root gjson.Result, typ string) Attribution {
	a := Attribution{EventType: typ}
	for _, scope := range hintScopes {
		for _, f := range flagFields {
			v := root.Get(scope + f)
			if a.UserFlag == nil && (v.Type == gjson.True || v.Type == gjson.False) {
				b := v.Bool()
				a.UserFlag = &b
			}
		}
		for _, f := range hintFields {
			v := root.Get(scope + f)
			if v.Type != gjson.String || v.Str == "" {
				continue
			}
			if a.Fields == nil {
				a.Fields = make(map[string]string)
			}
			if _, seen := a.Fields[f]; !seen {
				a.Fields[f] = strings.ToLower(v.Str)
			}
		}
	}
	return a
}

// itemText extracts the text of a conversation item, preferring text parts
// over audio transcripts.
func itemText(item gjson.Result) string {
	var sb strings.Builder
	for _, part := range item.Get("content").Array() {
		text := part.Get("text").String()
		if text == "" {
			text = part.Get("transcript").String()
		}
		if text == "" {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(text)
	}
	return sb.String()
}

func firstValue(root gjson.Result, paths ...string) gjson.Result {
	for _, p := range paths {
		if v := root.Get(p); v.Exists() {
			return v
		}
	}
	return gjson.Result{}
}

func firstString(root gjson.Result, paths ...string) string {
	for _, p := range paths {
		if v := root.Get(p); v.Type == gjson.String && v.Str != "" {
			return v.Str
		}
	}
	return ""
}
