package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"rebeca/internal/agent"
	"rebeca/internal/audit"
	"rebeca/internal/bus"
	"rebeca/internal/config"
	"rebeca/internal/domain"
	"rebeca/internal/metrics"
	"rebeca/internal/provider"
)

// app holds the long-lived pieces shared by every pipeline run.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	events  *bus.EventBus
	metrics *metrics.Collector
	audit   *audit.Store // nil when disabled
	gemini  *provider.Gemini
}

func newApp(cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{
		cfg:     cfg,
		logger:  logger,
		events:  bus.NewEventBus(logger),
		metrics: metrics.New(),
	}
	a.metrics.Observe(a.events)

	if cfg.Audit.Enabled {
		store, err := audit.Open(cfg.Audit.DBPath, logger)
		if err != nil {
			return nil, fmt.Errorf("audit store: %w", err)
		}
		store.Observe(a.events)
		a.audit = store
	}

	a.gemini = newGemini(cfg, logger)
	return a, nil
}

func newGemini(cfg *config.Config, logger *slog.Logger) *provider.Gemini {
	return provider.NewGemini(provider.GeminiConfig{
		KeyFunc: geminiKey(cfg),
		Model:   cfg.Gemini.Model,
		APIBase: cfg.Gemini.APIBase,
		Timeout: cfg.Gemini.Timeout,
		Logger:  logger,
	})
}

// geminiKey prefers the live environment so a key exported after startup is
// used by the next run.
func geminiKey(cfg *config.Config) func() string {
	return func() string {
		if v := strings.TrimSpace(os.Getenv("GEMINI_API_KEY")); v != "" {
			return v
		}
		return cfg.Gemini.APIKey
	}
}

// pipeline wires a Pipeline that annotates through reactor.
func (a *app) pipeline(reactor domain.Reactor) *agent.Pipeline {
	status := agent.NewStatus(agent.StatusConfig{
		Reactor:    reactor,
		Processing: a.cfg.Slack.ProcessingReaction,
		Done:       a.cfg.Slack.DoneReaction,
		Logger:     a.logger,
		OnFailure:  a.metrics.ReactionFailed,
	})
	return agent.NewPipeline(agent.PipelineConfig{
		Generator: a.gemini,
		Status:    status,
		Fallbacks: a.cfg.FallbackCatalog(),
		Events:    a.events,
		Logger:    a.logger,
	})
}

func (a *app) Close() {
	if a.audit != nil {
		if err := a.audit.Close(); err != nil {
			a.logger.Warn("audit close failed", "err", err)
		}
	}
}
