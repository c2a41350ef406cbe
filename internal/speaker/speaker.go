// Package speaker attributes inbound realtime events to a conversation role.
//
// Providers disagree about how they say who spoke, so attribution is a
// heuristic precedence chain over the hints the boundary decoder extracted.
// The first rule that matches wins:
//
//  1. a boolean flag stating the speaker is the user;
//  2. a hint field naming the assistant side (assistant, agent, ai, bot, ...);
//  3. a hint field naming the human side (user, client, human, caller, ...);
//  4. an event type known to carry one side's text;
//  5. otherwise the user.
//
// The fallback leans towards the user because misattributing counterpart
// speech to the user damages script progress more than the reverse. The
// transcript reconciler's echo guard catches what attribution gets wrong.
package speaker

import (
	"strings"

	"github.com/MrWong99/dialcoach/pkg/provider/realtime"
	"github.com/MrWong99/dialcoach/pkg/types"
)

// Rule identifies which precedence rule produced a classification.
type Rule int

// Rules in precedence order.
const (
	RuleUserFlag Rule = iota + 1
	RuleCounterpartField
	RuleUserField
	RuleEventType
	RuleFallback
)

// String returns the rule name, used in debug logs.
func (r Rule) String() string {
	switch r {
	case RuleUserFlag:
		return "user_flag"
	case RuleCounterpartField:
		return "counterpart_field"
	case RuleUserField:
		return "user_field"
	case RuleEventType:
		return "event_type"
	case RuleFallback:
		return "fallback"
	default:
		return "unknown"
	}
}

var (
	defaultCounterpartTokens = []string{"assistant", "agent", "ai", "bot", "model", "npc", "system", "tts", "counterpart"}
	defaultUserTokens        = []string{"user", "client", "human", "caller", "customer", "trainee", "mic", "microphone"}

	defaultUserEvents = []string{
		"input_audio_transcription",
		"input_audio_buffer",
		"user_transcript",
		"input_transcription",
	}
	defaultCounterpartEvents = []string{
		"response.output_item.done",
		"response.text",
		"response.audio_transcript",
		"agent_response",
		"output_transcription",
	}
)

// Option configures a [Classifier].
type Option func(*Classifier)

// WithCounterpartTokens adds tokens that mark a hint field as the counterpart.
func WithCounterpartTokens(tokens ...string) Option {
	return func(c *Classifier) {
		c.counterpartTokens = append(c.counterpartTokens, lower(tokens)...)
	}
}

// WithUserTokens adds tokens that mark a hint field as the user.
func WithUserTokens(tokens ...string) Option {
	return func(c *Classifier) {
		c.userTokens = append(c.userTokens, lower(tokens)...)
	}
}

// WithEventHints adds event-type substrings for each side.
func WithEventHints(user, counterpart []string) Option {
	return func(c *Classifier) {
		c.userEvents = append(c.userEvents, user...)
		c.counterpartEvents = append(c.counterpartEvents, counterpart...)
	}
}

// Classifier maps [realtime.Attribution] records to roles. A Classifier is
// immutable after construction and safe for concurrent use.
type Classifier struct {
	counterpartTokens []string
	userTokens        []string
	userEvents        []string
	counterpartEvents []string
}

// New returns a Classifier with the default vocabulary plus opts.
func New(opts ...Option) *Classifier {
	c := &Classifier{
		counterpartTokens: append([]string(nil), defaultCounterpartTokens...),
		userTokens:        append([]string(nil), defaultUserTokens...),
		userEvents:        append([]string(nil), defaultUserEvents...),
		counterpartEvents: append([]string(nil), defaultCounterpartEvents...),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

var defaultClassifier = New()

// Classify attributes a using the default vocabulary.
func Classify(a realtime.Attribution) types.Role {
	role, _ := defaultClassifier.Classify(a)
	return role
}

// Classify returns the role for a and the rule that decided it. It never
// fails.
func (c *Classifier) Classify(a realtime.Attribution) (types.Role, Rule) {
	// A false flag only says "not known to be the user"; the rest of the
	// chain decides.
	if a.UserFlag != nil && *a.UserFlag {
		return types.RoleUser, RuleUserFlag
	}

	// Field hints are checked counterpart-first across all fields, so a
	// payload with role=assistant and channel=user-mic is the counterpart.
	for _, v := range a.Fields {
		if containsToken(v, c.counterpartTokens) {
			return types.RoleCounterpart, RuleCounterpartField
		}
	}
	for _, v := range a.Fields {
		if containsToken(v, c.userTokens) {
			return types.RoleUser, RuleUserField
		}
	}

	if a.EventType != "" {
		for _, h := range c.userEvents {
			if strings.Contains(a.EventType, h) {
				return types.RoleUser, RuleEventType
			}
		}
		for _, h := range c.counterpartEvents {
			if strings.Contains(a.EventType, h) {
				return types.RoleCounterpart, RuleEventType
			}
		}
	}

	return types.RoleUser, RuleFallback
}

// containsToken reports whether value contains any token as a whole word.
// Words are split on anything that is not a letter or digit, so "ai" matches
// "ai" and "ai-voice" but not "chair".
func containsToken(value string, tokens []string) bool {
	words := strings.FieldsFunc(strings.ToLower(value), func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9')
	})
	for _, w := range words {
		for _, t := range tokens {
			if w == t {
				return true
			}
		}
	}
	return false
}

func lower(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.ToLower(s)
	}
	return out
}
