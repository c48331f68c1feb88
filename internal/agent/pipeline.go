package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"rebeca/internal/bus"
	"rebeca/internal/domain"

	"github.com/google/uuid"
)

// Stage is a pipeline state. A run moves forward through the stages in
// order or ends in StageErrored.
type Stage string

const (
	StageReceived         Stage = "received"
	StageValidated        Stage = "validated"
	StageMarkedProcessing Stage = "marked_processing"
	StageInferred         Stage = "inferred"
	StageMarkedDone       Stage = "marked_done"
	StageDelivered        Stage = "delivered"
	StageErrored          Stage = "errored"
)

// Annotator signals run progress on the originating message.
type Annotator interface {
	MarkProcessing(ctx context.Context, channel, ts string)
	MarkDone(ctx context.Context, channel, ts string)
}

// Pipeline turns one inbound message into exactly one Response. It never
// returns an error and never panics: every failure is folded into the
// Response content as a fallback sentence.
type Pipeline struct {
	generator domain.Generator
	status    Annotator
	fallbacks domain.Fallbacks
	events    *bus.EventBus
	logger    *slog.Logger
	newID     func() string
}

type PipelineConfig struct {
	Generator domain.Generator
	Status    Annotator
	Fallbacks domain.Fallbacks // zero value uses the English catalog
	Events    *bus.EventBus    // optional
	Logger    *slog.Logger
}

func NewPipeline(cfg PipelineConfig) *Pipeline {
	if cfg.Fallbacks == (domain.Fallbacks{}) {
		cfg.Fallbacks = domain.EnglishFallbacks()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Status == nil {
		cfg.Status = noopAnnotator{}
	}
	return &Pipeline{
		generator: cfg.Generator,
		status:    cfg.Status,
		fallbacks: cfg.Fallbacks,
		events:    cfg.Events,
		logger:    cfg.Logger,
		newID:     uuid.NewString,
	}
}

// Process runs one message through validate → mark processing → infer →
// mark done and returns the reply to deliver.
func (p *Pipeline) Process(ctx context.Context, in domain.Inbound) (resp domain.Response) {
	runID := p.newID()
	log := p.logger.With("run_id", runID)
	start := time.Now()
	stage := StageReceived

	var (
		msg          domain.Message
		inferLatency time.Duration
	)

	defer func() {
		if r := recover(); r != nil {
			log.Error("pipeline panic",
				"stage", stage,
				"panic", r,
				"stack", string(debug.Stack()),
			)
			stage = StageErrored
			resp = domain.Response{Content: p.fallbacks.Unexpected, Outcome: domain.OutcomeErrored}
		}

		if resp.Outcome == domain.OutcomeIgnored {
			return
		}
		if stage == StageMarkedDone {
			stage = StageDelivered
		}
		log.Info("run finished",
			"stage", stage,
			"outcome", resp.Outcome,
			"category", resp.Category,
			"duration_ms", time.Since(start).Milliseconds(),
		)
		p.events.Emit(bus.Event{
			Type:             bus.EventRunCompleted,
			RunID:            runID,
			Channel:          msg.Channel,
			MessageTS:        msg.Timestamp,
			Author:           msg.Author,
			Outcome:          resp.Outcome,
			Category:         resp.Category,
			Duration:         time.Since(start),
			InferenceLatency: inferLatency,
		})
	}()

	msg, err := Normalize(in)
	if err != nil {
		if errors.Is(err, domain.ErrBotOrigin) {
			log.Debug("ignoring bot-authored message")
			return domain.Response{Outcome: domain.OutcomeIgnored}
		}
		stage = StageErrored
		var ve *domain.ValidationError
		if errors.As(err, &ve) {
			log.Warn("invalid message", "missing", ve.Fields)
		} else {
			log.Error("cannot normalize message", "err", err)
		}
		return domain.Response{Content: p.fallbacks.Malformed, Outcome: domain.OutcomeInvalid}
	}
	stage = StageValidated
	log = log.With("channel", msg.Channel, "ts", msg.Timestamp)
	log.Info("processing message", "author", msg.Author, "content_len", len(msg.Content))

	p.status.MarkProcessing(ctx, msg.Channel, msg.Timestamp)
	stage = StageMarkedProcessing

	inferStart := time.Now()
	text, err := p.generator.Generate(ctx, msg.Content)
	inferLatency = time.Since(inferStart)
	stage = StageInferred

	switch {
	case err != nil:
		category := domain.CategoryOf(err)
		log.Warn("inference failed", "category", category, "err", err)
		resp = domain.Response{Content: p.fallbacks.ForCategory(category), Outcome: domain.OutcomeFallback, Category: category}
	case strings.TrimSpace(text) == "":
		log.Warn("empty response from generator")
		resp = domain.Response{Content: p.fallbacks.InvalidResponse, Outcome: domain.OutcomeFallback, Category: domain.CategoryEmptyOutput}
	default:
		resp = domain.Response{Content: text, Outcome: domain.OutcomeReplied}
	}

	p.status.MarkDone(ctx, msg.Channel, msg.Timestamp)
	stage = StageMarkedDone
	return resp
}

type noopAnnotator struct{}

func (noopAnnotator) MarkProcessing(context.Context, string, string) {}
func (noopAnnotator) MarkDone(context.Context, string, string)       {}

// panicError carries a recovered panic value as an error.
type panicError struct{ value any }

func (e panicError) Error() string { return fmt.Sprintf("panic: %v", e.value) }
