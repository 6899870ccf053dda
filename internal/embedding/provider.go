// Package embedding turns biography text into fixed-length vectors.
package embedding

import (
	"context"
	"errors"
)

// Provider is the interface all embedding backends implement.
type Provider interface {
	// Embed returns the vector for text. Every successful call returns
	// exactly Dimensions() values.
	Embed(ctx context.Context, text string) ([]float32, error)
	// Dimensions is the fixed vector length the provider produces.
	Dimensions() int
	// Name returns the provider identifier (e.g. "openai").
	Name() string
}

var (
	// ErrEmbeddingUnavailable is returned when the backend could not produce a
	// vector, after any configured retries.
	ErrEmbeddingUnavailable = errors.New("embedding unavailable")

	// ErrDimensionMismatch is returned when a backend produced a vector of the
	// wrong length.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)
