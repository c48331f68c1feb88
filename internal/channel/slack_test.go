package channel

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"rebeca/internal/domain"

	"github.com/slack-go/slack/socketmode"
)

// slackAPI is a minimal Web API stand-in keyed by method name.
type slackAPI struct {
	mu       sync.Mutex
	requests []url.Values
	methods  []string
	replies  map[string]string
}

func newSlackAPI(t *testing.T, replies map[string]string) (*slackAPI, *Slack) {
	t.Helper()
	api := &slackAPI{replies: replies}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		method := strings.TrimPrefix(r.URL.Path, "/")
		api.mu.Lock()
		api.methods = append(api.methods, method)
		api.requests = append(api.requests, r.PostForm)
		api.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		if body, ok := api.replies[method]; ok {
			w.Write([]byte(body))
			return
		}
		w.Write([]byte(`{"ok":true}`))
	}))
	t.Cleanup(srv.Close)

	s := NewSlack(SlackConfig{
		BotToken: "xoxb-test",
		AppToken: "xapp-test",
		APIURL:   srv.URL,
		Logger:   testLogger(),
	})
	return api, s
}

func TestSlack_AddReaction(t *testing.T) {
	api, s := newSlackAPI(t, nil)

	if err := s.AddReaction(context.Background(), "eyes", "C1", "100.1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if api.methods[0] != "reactions.add" {
		t.Fatalf("unexpected method %s", api.methods[0])
	}
	form := api.requests[0]
	if form.Get("name") != "eyes" || form.Get("channel") != "C1" || form.Get("timestamp") != "100.1" {
		t.Fatalf("unexpected form %v", form)
	}
}

func TestSlack_ReactionIdempotent(t *testing.T) {
	_, s := newSlackAPI(t, map[string]string{
		"reactions.add":    `{"ok":false,"error":"already_reacted"}`,
		"reactions.remove": `{"ok":false,"error":"no_reaction"}`,
	})

	if err := s.AddReaction(context.Background(), "eyes", "C1", "1"); err != nil {
		t.Fatalf("already_reacted should be success, got %v", err)
	}
	if err := s.RemoveReaction(context.Background(), "eyes", "C1", "1"); err != nil {
		t.Fatalf("no_reaction should be success, got %v", err)
	}
}

func TestSlack_ReactionFailureIsTransportError(t *testing.T) {
	_, s := newSlackAPI(t, map[string]string{
		"reactions.add": `{"ok":false,"error":"channel_not_found"}`,
	})

	err := s.AddReaction(context.Background(), "eyes", "C1", "1")
	var te *domain.TransportError
	if !errors.As(err, &te) || te.Op != "reactions.add" {
		t.Fatalf("expected TransportError, got %v", err)
	}
	if !strings.Contains(err.Error(), "channel_not_found") {
		t.Fatalf("error should carry the Slack code, got %v", err)
	}
}

func TestSlack_PostText(t *testing.T) {
	api, s := newSlackAPI(t, map[string]string{
		"chat.postMessage": `{"ok":true,"channel":"C1","ts":"200.1"}`,
	})

	if err := s.PostText(context.Background(), "C1", "100.1", "hi there"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	form := api.requests[0]
	if form.Get("channel") != "C1" || form.Get("text") != "hi there" || form.Get("thread_ts") != "100.1" {
		t.Fatalf("unexpected form %v", form)
	}
}

func TestSlack_PostTextSplitsLongReplies(t *testing.T) {
	api, s := newSlackAPI(t, map[string]string{
		"chat.postMessage": `{"ok":true,"channel":"C1","ts":"200.1"}`,
	})

	long := strings.Repeat("a", slackMaxMsgLen+10)
	if err := s.PostText(context.Background(), "C1", "", long); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(api.requests) != 2 {
		t.Fatalf("expected 2 posts, got %d", len(api.requests))
	}
	if api.requests[0].Has("thread_ts") {
		t.Fatal("top-level reply should not set thread_ts")
	}
}

func TestSlack_PostTextError(t *testing.T) {
	_, s := newSlackAPI(t, map[string]string{
		"chat.postMessage": `{"ok":false,"error":"not_in_channel"}`,
	})

	err := s.PostText(context.Background(), "C1", "", "hi")
	var te *domain.TransportError
	if !errors.As(err, &te) || te.Op != "chat.postMessage" {
		t.Fatalf("expected TransportError, got %v", err)
	}
}

func TestSlack_Identify(t *testing.T) {
	_, s := newSlackAPI(t, map[string]string{
		"auth.test": `{"ok":true,"user":"rebeca","user_id":"U0BOT","team":"T","team_id":"T1"}`,
	})

	user, id, err := s.Identify(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if user != "rebeca" || id != "U0BOT" {
		t.Fatalf("got %s/%s", user, id)
	}
}

func TestSlack_IdentifyInvalidAuth(t *testing.T) {
	_, s := newSlackAPI(t, map[string]string{
		"auth.test": `{"ok":false,"error":"invalid_auth"}`,
	})
	if _, _, err := s.Identify(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

func TestSlack_Decode(t *testing.T) {
	_, s := newSlackAPI(t, nil)

	tests := []struct {
		name    string
		payload string
		ok      bool
	}{
		{"message", `{"type":"event_callback","event":{"type":"message","channel":"D1","user":"U1","text":"hi","ts":"1","channel_type":"im"}}`, true},
		{"mention", `{"type":"event_callback","event":{"type":"app_mention","channel":"C1","user":"U1","text":"<@U0BOT> hi","ts":"1"}}`, true},
		{"reaction", `{"type":"event_callback","event":{"type":"reaction_added","user":"U1"}}`, false},
		{"not callback", `{"type":"app_rate_limited"}`, false},
		{"garbage", `{not json`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, ok := s.decode(json.RawMessage(tt.payload))
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if ok && ev.Channel() == "" {
				t.Fatal("decoded event lost its fields")
			}
		})
	}
}

// recordingHandler collects dispatched events. release, when set, blocks
// each HandleEvent until it is closed.
type recordingHandler struct {
	mu      sync.Mutex
	events  []domain.RawEvent
	release chan struct{}
}

func (h *recordingHandler) HandleEvent(ctx context.Context, ev domain.RawEvent) {
	if h.release != nil {
		<-h.release
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, ev)
}

func (h *recordingHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.events)
}

type ackRecorder struct {
	mu  sync.Mutex
	ids []string
}

func (a *ackRecorder) ack(req socketmode.Request) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.ids = append(a.ids, req.EnvelopeID)
}

func eventsAPI(id, payload string) socketmode.Event {
	return socketmode.Event{
		Type:    socketmode.EventTypeEventsAPI,
		Request: &socketmode.Request{EnvelopeID: id, Payload: json.RawMessage(payload)},
	}
}

func TestSlack_ServeAcksAndDispatches(t *testing.T) {
	s := NewSlack(SlackConfig{Logger: testLogger()})
	events := make(chan socketmode.Event)
	acks := &ackRecorder{}
	handler := &recordingHandler{}
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- s.serve(ctx, events, nil, acks.ack, handler) }()

	events <- socketmode.Event{Type: socketmode.EventTypeConnected}
	events <- eventsAPI("e1", `{"type":"event_callback","event":{"type":"message","channel":"D1","user":"U1","text":"hi","ts":"1","channel_type":"im"}}`)
	events <- eventsAPI("e2", `{"type":"event_callback","event":{"type":"reaction_added","user":"U1"}}`)
	events <- socketmode.Event{Type: socketmode.EventTypeInteractive, Request: &socketmode.Request{EnvelopeID: "e3"}}
	cancel()

	if err := <-done; err != nil {
		t.Fatalf("serve returned %v", err)
	}
	s.drain()

	if got := strings.Join(acks.ids, ","); got != "e1,e2,e3" {
		t.Fatalf("acks = %s, want e1,e2,e3", got)
	}
	if handler.count() != 1 || handler.events[0].Text() != "hi" {
		t.Fatalf("unexpected dispatched events %+v", handler.events)
	}
}

func TestSlack_ServeStopsDispatchingAfterCancel(t *testing.T) {
	s := NewSlack(SlackConfig{Logger: testLogger()})
	events := make(chan socketmode.Event, 2)
	handler := &recordingHandler{}
	acks := &ackRecorder{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := s.serve(ctx, events, nil, acks.ack, handler); err != nil {
		t.Fatalf("serve returned %v", err)
	}
	s.drain()

	// Nothing reads the events channel once serve has returned.
	events <- eventsAPI("after", `{"type":"event_callback","event":{"type":"message","channel":"D1","user":"U1","text":"hi","ts":"1","channel_type":"im"}}`)
	if len(acks.ids) != 0 || handler.count() != 0 {
		t.Fatalf("event handled after shutdown: acks=%v events=%d", acks.ids, handler.count())
	}
}

func TestSlack_ServeConnectionError(t *testing.T) {
	s := NewSlack(SlackConfig{Logger: testLogger()})
	errCh := make(chan error, 1)
	errCh <- errors.New("dial failed")

	err := s.serve(context.Background(), make(chan socketmode.Event), errCh, func(socketmode.Request) {}, &recordingHandler{})
	if err == nil || !strings.Contains(err.Error(), "dial failed") {
		t.Fatalf("expected connection error, got %v", err)
	}
}

func TestSlack_DrainWaitsForInflight(t *testing.T) {
	s := NewSlack(SlackConfig{Logger: testLogger(), DrainTimeout: 5 * time.Second})
	events := make(chan socketmode.Event)
	handler := &recordingHandler{release: make(chan struct{})}
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- s.serve(ctx, events, nil, func(socketmode.Request) {}, handler) }()
	events <- eventsAPI("e1", `{"type":"event_callback","event":{"type":"app_mention","channel":"C1","user":"U1","text":"<@U0BOT> hi","ts":"1"}}`)
	cancel()
	<-done

	go func() {
		time.Sleep(20 * time.Millisecond)
		close(handler.release)
	}()
	s.drain()
	if handler.count() != 1 {
		t.Fatal("drain returned before the in-flight event finished")
	}
}

func TestSlack_DrainTimeout(t *testing.T) {
	s := NewSlack(SlackConfig{Logger: testLogger(), DrainTimeout: 20 * time.Millisecond})
	block := make(chan struct{})
	defer close(block)
	s.inflight.Go(func() { <-block })

	start := time.Now()
	s.drain()
	if time.Since(start) > 2*time.Second {
		t.Fatal("drain ignored its timeout")
	}
}

func TestSplitSlackMessage(t *testing.T) {
	if chunks := splitSlackMessage("short", 100); len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}

	msg := strings.Repeat("x", 70) + "\n" + strings.Repeat("y", 70)
	chunks := splitSlackMessage(msg, 100)
	if len(chunks) != 2 || !strings.HasSuffix(chunks[0], "\n") {
		t.Fatalf("expected split at newline, got %q", chunks)
	}

	// "é" is two bytes; an odd limit would cut through it.
	chunks = splitSlackMessage(strings.Repeat("é", 60), 51)
	for _, c := range chunks {
		if !utf8.ValidString(c) {
			t.Fatalf("chunk is not valid UTF-8: %q", c)
		}
		if len(c) > 51 {
			t.Fatalf("chunk exceeds limit: %d", len(c))
		}
	}
	if strings.Join(chunks, "") != strings.Repeat("é", 60) {
		t.Fatal("chunks do not reassemble the message")
	}
}
