package embedding

import (
	"context"
	"fmt"
)

// DimensionGuard rejects vectors whose length differs from the provider's
// declared dimensionality, so a mismatched vector never reaches a store.
type DimensionGuard struct {
	inner Provider
}

// NewDimensionGuard wraps inner.
func NewDimensionGuard(inner Provider) *DimensionGuard {
	return &DimensionGuard{inner: inner}
}

func (g *DimensionGuard) Name() string    { return g.inner.Name() }
func (g *DimensionGuard) Dimensions() int { return g.inner.Dimensions() }

func (g *DimensionGuard) Embed(ctx context.Context, text string) ([]float32, error) {
	vec, err := g.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	if want := g.inner.Dimensions(); len(vec) != want {
		return nil, fmt.Errorf("%w: %s returned %d values, want %d", ErrDimensionMismatch, g.inner.Name(), len(vec), want)
	}
	return vec, nil
}
