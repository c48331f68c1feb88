package domain

import "strings"

// Inbound is the closed set of shapes the normalizer accepts: a decoded
// transport event or an already structured Message.
type Inbound interface {
	inbound()
}

// RawEvent is a decoded chat event payload (Slack's inner "event" object).
type RawEvent map[string]any

func (RawEvent) inbound() {}

// String returns the field as a string, or "" when absent or not a string.
func (e RawEvent) String(key string) string {
	v, ok := e[key]
	if !ok || v == nil {
		return ""
	}
	s, _ := v.(string)
	return s
}

// Has reports whether key is present with a non-empty value.
func (e RawEvent) Has(key string) bool {
	v, ok := e[key]
	if !ok || v == nil {
		return false
	}
	if s, isStr := v.(string); isStr {
		return s != ""
	}
	return true
}

func (e RawEvent) Type() string        { return e.String("type") }
func (e RawEvent) Channel() string     { return e.String("channel") }
func (e RawEvent) User() string        { return e.String("user") }
func (e RawEvent) Text() string        { return e.String("text") }
func (e RawEvent) ChannelType() string { return e.String("channel_type") }
func (e RawEvent) SubType() string     { return e.String("subtype") }

// Timestamp prefers ts and falls back to event_ts.
func (e RawEvent) Timestamp() string {
	if ts := e.String("ts"); ts != "" {
		return ts
	}
	return e.String("event_ts")
}

// FromBot reports whether the event was authored by a bot integration.
func (e RawEvent) FromBot() bool {
	return e.Has("bot_id") || e.SubType() == "bot_message"
}

// IsDirect reports whether the event arrived in a direct-message conversation.
func (e RawEvent) IsDirect() bool { return e.ChannelType() == "im" }

// IsMention reports whether the event is an explicit mention of the app.
func (e RawEvent) IsMention() bool { return strings.Contains(e.Type(), "app_mention") }

// Message is the canonical inbound unit. It is passed by value and never
// modified after construction.
type Message struct {
	Content   string
	Author    string
	Channel   string
	Timestamp string
}

// Both Message and *Message satisfy Inbound.
func (Message) inbound() {}

// Outcome classifies how a pipeline run ended.
type Outcome string

const (
	OutcomeReplied  Outcome = "replied"
	OutcomeFallback Outcome = "fallback"
	OutcomeInvalid  Outcome = "invalid"
	OutcomeIgnored  Outcome = "ignored"
	OutcomeErrored  Outcome = "errored"
)

// Response is the canonical outbound unit. Content is always display text,
// never raw error detail.
type Response struct {
	Content  string
	Outcome  Outcome
	Category Category // set when Outcome is OutcomeFallback
}

// Deliverable reports whether the adapter should post this response.
func (r Response) Deliverable() bool {
	return r.Outcome != OutcomeIgnored && strings.TrimSpace(r.Content) != ""
}
