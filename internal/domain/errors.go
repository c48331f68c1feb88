package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrBotOrigin marks an event authored by a bot; callers ignore it silently.
	ErrBotOrigin = errors.New("event authored by a bot")

	// ErrMissingCredential is the configuration error raised when the model
	// API key is not available at call time.
	ErrMissingCredential = errors.New("model API credential is not configured")

	ErrEmptyInput  = errors.New("inference input is empty")
	ErrEmptyOutput = errors.New("model returned no text")
)

// ValidationError names the canonical message fields that are missing or empty.
type ValidationError struct {
	Fields []string
}

func (e *ValidationError) Error() string {
	return "invalid message: missing " + strings.Join(e.Fields, ", ")
}

// ProviderError is a classified failure reported by the model provider.
type ProviderError struct {
	Provider string
	Category Category
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("%s: %s: %v", e.Provider, e.Category, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// TransportError is a failed call against the chat platform.
type TransportError struct {
	Op  string // reactions.add | reactions.remove | chat.postMessage
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
