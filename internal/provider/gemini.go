package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"rebeca/internal/domain"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

const (
	defaultGeminiBase  = "https://generativelanguage.googleapis.com/v1beta/openai/"
	defaultGeminiModel = "gemini-2.0-flash"
	previewLen         = 100
)

// Gemini implements domain.Generator against Gemini's OpenAI-compatible
// endpoint. It makes exactly one request per call; retries are disabled.
type Gemini struct {
	client  openai.Client
	key     func() string
	model   string
	timeout time.Duration
	logger  *slog.Logger
}

type GeminiConfig struct {
	// APIKey is used when KeyFunc is nil.
	APIKey string
	// KeyFunc is consulted on every call so a key supplied after startup is
	// picked up.
	KeyFunc    func() string
	Model      string
	APIBase    string
	Timeout    time.Duration // per call; 0 disables
	HTTPClient *http.Client
	Logger     *slog.Logger
}

func NewGemini(cfg GeminiConfig) *Gemini {
	if cfg.APIBase == "" {
		cfg.APIBase = defaultGeminiBase
	}
	if !strings.HasSuffix(cfg.APIBase, "/") {
		cfg.APIBase += "/"
	}
	if cfg.Model == "" {
		cfg.Model = defaultGeminiModel
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = SharedHTTPClient(cfg.Timeout)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	key := cfg.KeyFunc
	if key == nil {
		static := cfg.APIKey
		key = func() string { return static }
	}

	client := openai.NewClient(
		option.WithBaseURL(cfg.APIBase),
		option.WithHTTPClient(cfg.HTTPClient),
		option.WithMaxRetries(0),
	)

	return &Gemini{
		client:  client,
		key:     key,
		model:   cfg.Model,
		timeout: cfg.Timeout,
		logger:  cfg.Logger,
	}
}

func (g *Gemini) Name() string { return "gemini" }

// Model returns the configured model name.
func (g *Gemini) Model() string { return g.model }

// Generate sends text as a single user turn and returns the reply text.
func (g *Gemini) Generate(ctx context.Context, text string) (string, error) {
	key := strings.TrimSpace(g.key())
	if key == "" {
		return "", domain.ErrMissingCredential
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", domain.ErrEmptyInput
	}

	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	g.logger.Debug("generating response", "model", g.model, "preview", preview(text))
	start := time.Now()

	resp, err := g.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(g.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(text),
		},
	}, option.WithAPIKey(key))
	if err != nil {
		category := classify(err)
		g.logger.Error("gemini request failed",
			"model", g.model,
			"category", category,
			"latency_ms", time.Since(start).Milliseconds(),
			"err", err,
		)
		return "", &domain.ProviderError{Provider: g.Name(), Category: category, Err: err}
	}

	if len(resp.Choices) == 0 {
		return "", domain.ErrEmptyOutput
	}
	choice := resp.Choices[0]
	if isBlockedFinish(string(choice.FinishReason)) || (choice.Message.Content == "" && choice.Message.Refusal != "") {
		return "", &domain.ProviderError{
			Provider: g.Name(),
			Category: domain.CategoryContentPolicy,
			Err:      fmt.Errorf("response blocked (finish_reason=%s)", choice.FinishReason),
		}
	}
	if strings.TrimSpace(choice.Message.Content) == "" {
		return "", domain.ErrEmptyOutput
	}

	g.logger.Info("response generated",
		"model", g.model,
		"latency_ms", time.Since(start).Milliseconds(),
		"tokens", resp.Usage.TotalTokens,
		"content_len", len(choice.Message.Content),
	)
	return choice.Message.Content, nil
}

// Healthy checks that the key is accepted and the configured model exists.
func (g *Gemini) Healthy(ctx context.Context) error {
	key := strings.TrimSpace(g.key())
	if key == "" {
		return domain.ErrMissingCredential
	}
	if _, err := g.client.Models.Get(ctx, g.model, option.WithAPIKey(key)); err != nil {
		return &domain.ProviderError{Provider: g.Name(), Category: classify(err), Err: err}
	}
	return nil
}

// classify maps a provider failure to a category. Unknown failures are generic.
func classify(err error) domain.Category {
	var apiErr *openai.Error
	if !errors.As(err, &apiErr) {
		return domain.CategoryGeneric
	}

	detail := strings.ToLower(apiErr.Code + " " + apiErr.Type + " " + apiErr.Message)
	for _, marker := range []string{"safety", "blocked", "prohibited_content", "content_filter", "content_policy"} {
		if strings.Contains(detail, marker) {
			return domain.CategoryContentPolicy
		}
	}

	switch apiErr.StatusCode {
	case http.StatusNotFound, http.StatusUnauthorized, http.StatusForbidden:
		return domain.CategoryConfiguration
	}
	if strings.Contains(detail, "api key not valid") || strings.Contains(detail, "model_not_found") {
		return domain.CategoryConfiguration
	}
	return domain.CategoryGeneric
}

func isBlockedFinish(reason string) bool {
	switch strings.ToLower(reason) {
	case "content_filter", "safety", "prohibited_content", "blocklist":
		return true
	}
	return false
}

func preview(s string) string {
	r := []rune(s)
	if len(r) <= previewLen {
		return s
	}
	return string(r[:previewLen]) + "..."
}
