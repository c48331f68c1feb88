package domain

import (
	"context"
	"errors"
)

// Generator is the inference capability: one prompt in, generated text out.
// Implementations return ErrMissingCredential, ErrEmptyInput, ErrEmptyOutput
// or a *ProviderError; anything else is treated as CategoryGeneric.
type Generator interface {
	Generate(ctx context.Context, text string) (string, error)
	Name() string
}

// HealthChecker is implemented by generators that can check their backend.
type HealthChecker interface {
	Healthy(ctx context.Context) error
}

// Category is the closed set of inference failure classes.
type Category string

const (
	CategoryNone              Category = ""
	CategoryContentPolicy     Category = "content_policy"
	CategoryConfiguration     Category = "configuration"
	CategoryMissingCredential Category = "missing_credential"
	CategoryEmptyInput        Category = "empty_input"
	CategoryEmptyOutput       Category = "empty_output"
	CategoryGeneric           Category = "generic"
)

// Categories lists every failure category.
var Categories = []Category{
	CategoryContentPolicy,
	CategoryConfiguration,
	CategoryMissingCredential,
	CategoryEmptyInput,
	CategoryEmptyOutput,
	CategoryGeneric,
}

// CategoryOf classifies err. It is total: nil maps to CategoryNone and any
// unrecognised error maps to CategoryGeneric.
func CategoryOf(err error) Category {
	if err == nil {
		return CategoryNone
	}
	var pe *ProviderError
	switch {
	case errors.Is(err, ErrMissingCredential):
		return CategoryMissingCredential
	case errors.Is(err, ErrEmptyInput):
		return CategoryEmptyInput
	case errors.Is(err, ErrEmptyOutput):
		return CategoryEmptyOutput
	case errors.As(err, &pe):
		switch pe.Category {
		case CategoryContentPolicy, CategoryConfiguration:
			return pe.Category
		}
	}
	return CategoryGeneric
}
