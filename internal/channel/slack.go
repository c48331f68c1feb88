package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"rebeca/internal/domain"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"
)

const (
	slackMaxMsgLen       = 4000
	defaultDrainTimeout  = 30 * time.Second
	slackAlreadyReacted  = "already_reacted"
	slackNoReaction      = "no_reaction"
	slackInnerMessage    = "message"
	slackInnerAppMention = "app_mention"
)

// EventHandler receives every message or app_mention event delivered over
// Socket Mode.
type EventHandler interface {
	HandleEvent(ctx context.Context, ev domain.RawEvent)
}

// Slack is the Socket Mode transport. It also implements domain.Reactor and
// domain.Poster against the Web API.
type Slack struct {
	client       *slack.Client
	debug        bool
	drainTimeout time.Duration
	logger       *slog.Logger
	inflight     sync.WaitGroup
}

// SlackConfig configures the Slack channel.
type SlackConfig struct {
	BotToken     string
	AppToken     string
	APIURL       string // Web API base URL override, used by tests
	Debug        bool
	HTTPClient   *http.Client
	DrainTimeout time.Duration // how long Start waits for in-flight events on shutdown
	Logger       *slog.Logger
}

// NewSlack creates the Web API client. No network calls are made until Start.
func NewSlack(cfg SlackConfig) *Slack {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = defaultDrainTimeout
	}

	opts := []slack.Option{slack.OptionAppLevelToken(cfg.AppToken)}
	if cfg.APIURL != "" {
		url := cfg.APIURL
		if !strings.HasSuffix(url, "/") {
			url += "/"
		}
		opts = append(opts, slack.OptionAPIURL(url))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, slack.OptionHTTPClient(cfg.HTTPClient))
	}
	if cfg.Debug {
		opts = append(opts, slack.OptionDebug(true))
	}

	return &Slack{
		client:       slack.New(cfg.BotToken, opts...),
		debug:        cfg.Debug,
		drainTimeout: cfg.DrainTimeout,
		logger:       cfg.Logger,
	}
}

func (s *Slack) Name() string { return "slack" }

// Identify calls auth.test and returns the bot's user name and ID.
func (s *Slack) Identify(ctx context.Context) (user, userID string, err error) {
	resp, err := s.client.AuthTestContext(ctx)
	if err != nil {
		return "", "", &domain.TransportError{Op: "auth.test", Err: err}
	}
	return resp.User, resp.UserID, nil
}

// Start connects via Socket Mode and dispatches events to handler, each on
// its own goroutine. It blocks until ctx is cancelled, then waits up to the
// drain timeout for in-flight events.
func (s *Slack) Start(ctx context.Context, handler EventHandler) error {
	user, userID, err := s.Identify(ctx)
	if err != nil {
		return fmt.Errorf("slack auth: %w", err)
	}
	s.logger.Info("slack bot connected", "user", user, "user_id", userID)

	socketClient := socketmode.New(s.client, socketmode.OptionDebug(s.debug))

	errCh := make(chan error, 1)
	go func() {
		errCh <- socketClient.RunContext(ctx)
	}()

	ack := func(req socketmode.Request) { socketClient.Ack(req) }
	err = s.serve(ctx, socketClient.Events, errCh, ack, handler)
	s.drain()
	return err
}

// serve reads Socket Mode events until ctx is cancelled or the connection
// fails. Dispatch happens only on this goroutine, so once serve returns no
// new runs are started and drain can wait safely.
func (s *Slack) serve(ctx context.Context, events <-chan socketmode.Event, errCh <-chan error, ack func(socketmode.Request), handler EventHandler) error {
	// In-flight runs keep going after ctx is cancelled so replies are not lost.
	runCtx := context.WithoutCancel(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("slack bot disconnecting")
			return nil
		case err := <-errCh:
			return fmt.Errorf("slack socket mode: %w", err)
		case evt, ok := <-events:
			if !ok {
				return nil
			}
			s.handleSocketEvent(runCtx, evt, ack, handler)
		}
	}
}

func (s *Slack) handleSocketEvent(ctx context.Context, evt socketmode.Event, ack func(socketmode.Request), handler EventHandler) {
	switch evt.Type {
	case socketmode.EventTypeConnecting:
		s.logger.Debug("slack socket connecting")
	case socketmode.EventTypeConnected:
		s.logger.Info("slack socket connected")
	case socketmode.EventTypeConnectionError:
		s.logger.Warn("slack socket connection error", "data", evt.Data)

	case socketmode.EventTypeEventsAPI:
		if evt.Request == nil {
			return
		}
		ack(*evt.Request)
		ev, ok := s.decode(evt.Request.Payload)
		if !ok {
			return
		}
		s.inflight.Go(func() { s.dispatch(ctx, handler, ev) })

	default:
		// Unknown requests still need an ack or Slack retries them.
		if evt.Request != nil {
			ack(*evt.Request)
		}
	}
}

// decode extracts the inner event of an events_api envelope. Only message
// and app_mention callbacks are returned.
func (s *Slack) decode(payload json.RawMessage) (domain.RawEvent, bool) {
	var envelope struct {
		Type  string          `json:"type"`
		Event domain.RawEvent `json:"event"`
	}
	if err := json.Unmarshal(payload, &envelope); err != nil {
		s.logger.Warn("slack payload decode failed", "err", err)
		return nil, false
	}
	if envelope.Type != string(slackevents.CallbackEvent) || envelope.Event == nil {
		return nil, false
	}
	switch envelope.Event.Type() {
	case slackInnerMessage, slackInnerAppMention:
		return envelope.Event, true
	}
	return nil, false
}

func (s *Slack) dispatch(ctx context.Context, handler EventHandler, ev domain.RawEvent) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("slack event handler panic", "panic", r, "channel", ev.Channel())
		}
	}()
	handler.HandleEvent(ctx, ev)
}

func (s *Slack) drain() {
	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(s.drainTimeout):
		s.logger.Warn("slack shutdown timed out waiting for in-flight events", "timeout", s.drainTimeout)
	}
}

// AddReaction implements domain.Reactor. An existing reaction counts as success.
func (s *Slack) AddReaction(ctx context.Context, name, channel, ts string) error {
	err := s.client.AddReactionContext(ctx, name, slack.NewRefToMessage(channel, ts))
	if err == nil || slackErrorCode(err) == slackAlreadyReacted {
		return nil
	}
	return &domain.TransportError{Op: "reactions.add", Err: err}
}

// RemoveReaction implements domain.Reactor. A missing reaction counts as success.
func (s *Slack) RemoveReaction(ctx context.Context, name, channel, ts string) error {
	err := s.client.RemoveReactionContext(ctx, name, slack.NewRefToMessage(channel, ts))
	if err == nil || slackErrorCode(err) == slackNoReaction {
		return nil
	}
	return &domain.TransportError{Op: "reactions.remove", Err: err}
}

// PostText implements domain.Poster, splitting long text into several messages.
func (s *Slack) PostText(ctx context.Context, channel, threadTS, text string) error {
	for _, chunk := range splitSlackMessage(text, slackMaxMsgLen) {
		opts := []slack.MsgOption{slack.MsgOptionText(chunk, false)}
		if threadTS != "" {
			opts = append(opts, slack.MsgOptionTS(threadTS))
		}
		if _, _, err := s.client.PostMessageContext(ctx, channel, opts...); err != nil {
			return &domain.TransportError{Op: "chat.postMessage", Err: err}
		}
	}
	return nil
}

func slackErrorCode(err error) string {
	var se slack.SlackErrorResponse
	if errors.As(err, &se) {
		return se.Err
	}
	return err.Error()
}

func splitSlackMessage(msg string, maxLen int) []string {
	if len(msg) <= maxLen {
		return []string{msg}
	}

	var chunks []string
	for len(msg) > 0 {
		if len(msg) <= maxLen {
			chunks = append(chunks, msg)
			break
		}
		cut := maxLen
		if idx := strings.LastIndex(msg[:maxLen], "\n"); idx > maxLen/2 {
			cut = idx + 1
		} else {
			// Never split inside a UTF-8 sequence.
			for cut > 0 && !utf8.RuneStart(msg[cut]) {
				cut--
			}
		}
		chunks = append(chunks, msg[:cut])
		msg = msg[cut:]
	}
	return chunks
}
