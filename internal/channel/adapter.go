package channel

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"regexp"

	"rebeca/internal/bus"
	"rebeca/internal/domain"
)

// Drop reasons reported on bus.EventDropped.
const (
	DropBot          = "bot_origin"
	DropSubtype      = "subtype"
	DropNotAddressed = "not_addressed"
)

// ignoredSubtypes are message subtypes that carry no new user-authored
// text: edits, deletions, thread bookkeeping and membership notices.
// User subtypes such as file_share, thread_broadcast and me_message pass.
var ignoredSubtypes = map[string]bool{
	"message_changed":   true,
	"message_deleted":   true,
	"message_replied":   true,
	"channel_join":      true,
	"channel_leave":     true,
	"group_join":        true,
	"group_leave":       true,
	"channel_topic":     true,
	"channel_purpose":   true,
	"channel_name":      true,
	"channel_archive":   true,
	"channel_unarchive": true,
	"pinned_item":       true,
	"unpinned_item":     true,
	"ekm_access_denied": true,
	"bot_message":       true,
}

// leadingMention matches the "<@U123>" or "<@U123|name>" token Slack puts
// in front of app_mention text.
var leadingMention = regexp.MustCompile(`^\s*<@[A-Z0-9]+(?:\|[^>]*)?>\s*`)

// Adapter decides which chat events reach the pipeline and delivers the
// resulting reply back to the conversation.
type Adapter struct {
	processor     domain.Processor
	poster        domain.Poster
	replyInThread bool
	apology       string
	events        *bus.EventBus
	logger        *slog.Logger
}

type AdapterConfig struct {
	Processor     domain.Processor
	Poster        domain.Poster
	ReplyInThread bool
	Apology       string // sent once when posting the reply fails
	Events        *bus.EventBus
	Logger        *slog.Logger
}

func NewAdapter(cfg AdapterConfig) *Adapter {
	if cfg.Apology == "" {
		cfg.Apology = domain.EnglishFallbacks().Apology
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Adapter{
		processor:     cfg.Processor,
		poster:        cfg.Poster,
		replyInThread: cfg.ReplyInThread,
		apology:       cfg.Apology,
		events:        cfg.Events,
		logger:        cfg.Logger,
	}
}

// HandleEvent processes one decoded event end to end. It runs on the
// caller's goroutine and never panics.
func (a *Adapter) HandleEvent(ctx context.Context, ev domain.RawEvent) {
	channel, ts := ev.Channel(), ev.Timestamp()
	a.events.Emit(bus.Event{Type: bus.EventReceived, Channel: channel, MessageTS: ts, Author: ev.User()})

	if reason := dropReason(ev); reason != "" {
		a.logger.Debug("event dropped", "reason", reason, "type", ev.Type(), "channel", channel)
		a.events.Emit(bus.Event{Type: bus.EventDropped, Channel: channel, MessageTS: ts, Reason: reason})
		return
	}

	if ev.IsMention() {
		ev = withText(ev, leadingMention.ReplaceAllString(ev.Text(), ""))
	}

	a.logger.Info("slack message received",
		"type", ev.Type(),
		"user", ev.User(),
		"channel", channel,
		"content_len", len(ev.Text()),
	)

	resp := a.processor.Process(ctx, ev)
	if !resp.Deliverable() {
		return
	}

	threadTS := ""
	if a.replyInThread {
		threadTS = ev.String("thread_ts")
		if threadTS == "" {
			threadTS = ts
		}
	}

	if err := a.post(ctx, channel, threadTS, resp.Content); err != nil {
		a.logger.Error("reply failed", "channel", channel, "ts", ts, "err", err)
		a.events.Emit(bus.Event{Type: bus.EventReplyFailed, Channel: channel, MessageTS: ts, Reason: "reply"})
		if err := a.post(ctx, channel, threadTS, a.apology); err != nil {
			a.logger.Error("apology failed", "channel", channel, "ts", ts, "err", err)
			a.events.Emit(bus.Event{Type: bus.EventReplyFailed, Channel: channel, MessageTS: ts, Reason: "apology"})
		}
		return
	}
	a.events.Emit(bus.Event{Type: bus.EventReplySent, Channel: channel, MessageTS: ts, Outcome: resp.Outcome})
}

// post sends text and converts a poster panic into an error.
func (a *Adapter) post(ctx context.Context, channel, threadTS, text string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &domain.TransportError{Op: "chat.postMessage", Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	return a.poster.PostText(ctx, channel, threadTS, text)
}

// dropReason returns why ev must not be processed, or "" to accept it.
func dropReason(ev domain.RawEvent) string {
	switch {
	case ev.FromBot():
		return DropBot
	case ignoredSubtypes[ev.SubType()]:
		return DropSubtype
	case !ev.IsDirect() && !ev.IsMention():
		return DropNotAddressed
	}
	return ""
}

func withText(ev domain.RawEvent, text string) domain.RawEvent {
	out := maps.Clone(ev)
	out["text"] = text
	return out
}
