package agent

import (
	"context"
	"log/slog"

	"rebeca/internal/domain"
)

// Status marks a message with "processing" and "done" reactions. Every call
// is best effort: failures are logged and swallowed.
type Status struct {
	reactor    domain.Reactor
	processing string
	done       string
	logger     *slog.Logger
	onFailure  func(op string)
}

type StatusConfig struct {
	Reactor    domain.Reactor
	Processing string // default "eyes"
	Done       string // default "white_check_mark"
	Logger     *slog.Logger
	// OnFailure is called with the operation name after a failed reaction call.
	OnFailure func(op string)
}

func NewStatus(cfg StatusConfig) *Status {
	if cfg.Processing == "" {
		cfg.Processing = "eyes"
	}
	if cfg.Done == "" {
		cfg.Done = "white_check_mark"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Status{
		reactor:    cfg.Reactor,
		processing: cfg.Processing,
		done:       cfg.Done,
		logger:     cfg.Logger,
		onFailure:  cfg.OnFailure,
	}
}

// MarkProcessing adds the processing reaction.
func (s *Status) MarkProcessing(ctx context.Context, channel, ts string) {
	s.try("reactions.add", func() error {
		return s.reactor.AddReaction(ctx, s.processing, channel, ts)
	}, channel, ts)
}

// MarkDone removes the processing reaction, then adds the done reaction.
// The add is attempted even when the remove fails.
func (s *Status) MarkDone(ctx context.Context, channel, ts string) {
	s.try("reactions.remove", func() error {
		return s.reactor.RemoveReaction(ctx, s.processing, channel, ts)
	}, channel, ts)
	s.try("reactions.add", func() error {
		return s.reactor.AddReaction(ctx, s.done, channel, ts)
	}, channel, ts)
}

func (s *Status) try(op string, call func() error, channel, ts string) {
	if s.reactor == nil {
		return
	}
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = &domain.TransportError{Op: op, Err: panicError{r}}
			}
		}()
		return call()
	}()
	if err == nil {
		return
	}
	s.logger.Warn("status reaction failed", "op", op, "channel", channel, "ts", ts, "err", err)
	if s.onFailure != nil {
		s.onFailure(op)
	}
}
