package provider

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"rebeca/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func completionJSON(content, finish string) string {
	return `{"id":"chatcmpl-1","object":"chat.completion","created":1700000000,"model":"gemini-2.0-flash",` +
		`"choices":[{"index":0,"message":{"role":"assistant","content":` + quote(content) + `},"finish_reason":"` + finish + `"}],` +
		`"usage":{"prompt_tokens":3,"completion_tokens":2,"total_tokens":5}}`
}

func quote(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `\"`) + `"`
}

// newGeminiServer serves the OpenAI-compatible chat endpoint with a fixed answer.
func newGeminiServer(t *testing.T, status int, body string, calls *int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls != nil {
			atomic.AddInt32(calls, 1)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestGemini(baseURL, key string) *Gemini {
	return NewGemini(GeminiConfig{
		APIKey:  key,
		APIBase: baseURL,
		Model:   "gemini-2.0-flash",
		Timeout: 5 * time.Second,
		Logger:  testLogger(),
	})
}

// --- Logic đúng ---

func TestGemini_Generate_Success(t *testing.T) {
	var gotAuth, gotPath, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, completionJSON("hi there", "stop"))
	}))
	defer srv.Close()

	g := newTestGemini(srv.URL, "test-key")
	text, err := g.Generate(context.Background(), "hello")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "hi there" {
		t.Fatalf("expected 'hi there', got %q", text)
	}
	if gotAuth != "Bearer test-key" {
		t.Fatalf("expected bearer key, got %q", gotAuth)
	}
	if gotPath != "/chat/completions" {
		t.Fatalf("unexpected path %q", gotPath)
	}
	if !strings.Contains(gotBody, `"hello"`) || !strings.Contains(gotBody, "gemini-2.0-flash") {
		t.Fatalf("request body missing prompt or model: %s", gotBody)
	}
}

// --- Preconditions ---

func TestGemini_Generate_MissingKey_NoRequest(t *testing.T) {
	var calls int32
	srv := newGeminiServer(t, http.StatusOK, completionJSON("x", "stop"), &calls)

	g := newTestGemini(srv.URL, "")
	_, err := g.Generate(context.Background(), "hello")
	if !errors.Is(err, domain.ErrMissingCredential) {
		t.Fatalf("expected ErrMissingCredential, got %v", err)
	}
	if atomic.LoadInt32(&calls) != 0 {
		t.Fatal("no request should be sent without a key")
	}
}

func TestGemini_Generate_KeyCheckedEveryCall(t *testing.T) {
	srv := newGeminiServer(t, http.StatusOK, completionJSON("late key works", "stop"), nil)

	var key atomic.Value
	key.Store("")
	g := NewGemini(GeminiConfig{
		KeyFunc: func() string { return key.Load().(string) },
		APIBase: srv.URL,
		Logger:  testLogger(),
	})

	if _, err := g.Generate(context.Background(), "hello"); !errors.Is(err, domain.ErrMissingCredential) {
		t.Fatalf("expected missing credential first, got %v", err)
	}
	key.Store("supplied-later")
	text, err := g.Generate(context.Background(), "hello")
	if err != nil {
		t.Fatalf("expected success once key is supplied, got %v", err)
	}
	if text != "late key works" {
		t.Fatalf("unexpected text %q", text)
	}
}

func TestGemini_Generate_EmptyInput(t *testing.T) {
	var calls int32
	srv := newGeminiServer(t, http.StatusOK, completionJSON("x", "stop"), &calls)

	g := newTestGemini(srv.URL, "k")
	_, err := g.Generate(context.Background(), "   \n")
	if !errors.Is(err, domain.ErrEmptyInput) {
		t.Fatalf("expected ErrEmptyInput, got %v", err)
	}
	if atomic.LoadInt32(&calls) != 0 {
		t.Fatal("empty input must not reach the provider")
	}
}

// --- Output shape ---

func TestGemini_Generate_EmptyOutput(t *testing.T) {
	srv := newGeminiServer(t, http.StatusOK, completionJSON("", "stop"), nil)
	_, err := newTestGemini(srv.URL, "k").Generate(context.Background(), "hello")
	if !errors.Is(err, domain.ErrEmptyOutput) {
		t.Fatalf("expected ErrEmptyOutput, got %v", err)
	}
}

func TestGemini_Generate_NoChoices(t *testing.T) {
	body := `{"id":"x","object":"chat.completion","created":1,"model":"m","choices":[]}`
	srv := newGeminiServer(t, http.StatusOK, body, nil)
	_, err := newTestGemini(srv.URL, "k").Generate(context.Background(), "hello")
	if !errors.Is(err, domain.ErrEmptyOutput) {
		t.Fatalf("expected ErrEmptyOutput, got %v", err)
	}
}

func TestGemini_Generate_ShortReplyIsNotEmpty(t *testing.T) {
	srv := newGeminiServer(t, http.StatusOK, completionJSON("ok", "stop"), nil)
	text, err := newTestGemini(srv.URL, "k").Generate(context.Background(), "hello")
	if err != nil || text != "ok" {
		t.Fatalf("expected 'ok', got %q, %v", text, err)
	}
}

// --- Classification ---

func TestGemini_Generate_ContentFilterFinish(t *testing.T) {
	srv := newGeminiServer(t, http.StatusOK, completionJSON("", "content_filter"), nil)
	_, err := newTestGemini(srv.URL, "k").Generate(context.Background(), "something bad")
	if got := domain.CategoryOf(err); got != domain.CategoryContentPolicy {
		t.Fatalf("expected content policy, got %q (%v)", got, err)
	}
}

func TestGemini_Generate_ErrorCategories(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   domain.Category
	}{
		{
			name:   "model not found",
			status: http.StatusNotFound,
			body:   `{"error":{"message":"models/gemini-nope is not found","type":"invalid_request_error","code":"model_not_found"}}`,
			want:   domain.CategoryConfiguration,
		},
		{
			name:   "bad key",
			status: http.StatusUnauthorized,
			body:   `{"error":{"message":"API key not valid","type":"invalid_request_error","code":"invalid_api_key"}}`,
			want:   domain.CategoryConfiguration,
		},
		{
			name:   "safety block",
			status: http.StatusBadRequest,
			body:   `{"error":{"message":"The prompt was blocked due to SAFETY","type":"invalid_request_error","code":"content_policy_violation"}}`,
			want:   domain.CategoryContentPolicy,
		},
		{
			name:   "server error",
			status: http.StatusInternalServerError,
			body:   `{"error":{"message":"internal","type":"server_error","code":"internal"}}`,
			want:   domain.CategoryGeneric,
		},
		{
			name:   "rate limited",
			status: http.StatusTooManyRequests,
			body:   `{"error":{"message":"quota exceeded","type":"rate_limit","code":"resource_exhausted"}}`,
			want:   domain.CategoryGeneric,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls int32
			srv := newGeminiServer(t, tt.status, tt.body, &calls)
			_, err := newTestGemini(srv.URL, "k").Generate(context.Background(), "hello")
			var pe *domain.ProviderError
			if !errors.As(err, &pe) {
				t.Fatalf("expected ProviderError, got %T %v", err, err)
			}
			if pe.Category != tt.want {
				t.Fatalf("expected %q, got %q", tt.want, pe.Category)
			}
			if atomic.LoadInt32(&calls) != 1 {
				t.Fatalf("expected exactly one request (no retry), got %d", calls)
			}
		})
	}
}

func TestClassify_NonAPIErrorIsGeneric(t *testing.T) {
	if got := classify(errors.New("dial tcp: connection refused")); got != domain.CategoryGeneric {
		t.Fatalf("expected generic, got %q", got)
	}
	if got := classify(context.DeadlineExceeded); got != domain.CategoryGeneric {
		t.Fatalf("expected generic, got %q", got)
	}
}

func TestGemini_Generate_Timeout(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-block:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(block)

	g := NewGemini(GeminiConfig{APIKey: "k", APIBase: srv.URL, Timeout: 50 * time.Millisecond, Logger: testLogger()})
	_, err := g.Generate(context.Background(), "hello")
	if got := domain.CategoryOf(err); got != domain.CategoryGeneric {
		t.Fatalf("expected generic category on timeout, got %q (%v)", got, err)
	}
}

// --- Health ---

func TestGemini_Healthy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Path == "/models/gemini-2.0-flash" {
			io.WriteString(w, `{"id":"gemini-2.0-flash","object":"model","created":0,"owned_by":"google"}`)
			return
		}
		w.WriteHeader(http.StatusNotFound)
		io.WriteString(w, `{"error":{"message":"not found","type":"invalid_request_error","code":"model_not_found"}}`)
	}))
	defer srv.Close()

	if err := newTestGemini(srv.URL, "k").Healthy(context.Background()); err != nil {
		t.Fatalf("expected healthy, got %v", err)
	}

	g := NewGemini(GeminiConfig{APIKey: "k", APIBase: srv.URL, Model: "gemini-nope", Logger: testLogger()})
	err := g.Healthy(context.Background())
	if domain.CategoryOf(err) != domain.CategoryConfiguration {
		t.Fatalf("expected configuration failure, got %v", err)
	}
}

func TestPreview_Truncates(t *testing.T) {
	long := strings.Repeat("á", 150)
	p := preview(long)
	if !strings.HasSuffix(p, "...") || len([]rune(p)) != previewLen+3 {
		t.Fatalf("unexpected preview length %d", len([]rune(p)))
	}
	if preview("short") != "short" {
		t.Fatal("short text should be unchanged")
	}
}
