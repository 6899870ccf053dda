// Package fake provides a deterministic embedding.Provider for tests and
// offline runs.
package fake

import (
	"context"
	"hash/fnv"
	"math"
	"sync"

	"github.com/efebarandurmaz/kindred/internal/embedding"
)

// Embedder hashes text into a unit vector. The same text always yields the
// same vector. EmbedFunc, when set, replaces the default behavior.
type Embedder struct {
	Dims      int
	EmbedFunc func(ctx context.Context, text string) ([]float32, error)

	mu    sync.Mutex
	calls []string
}

// New creates an embedder producing dims-long vectors.
func New(dims int) *Embedder {
	return &Embedder{Dims: dims}
}

func (e *Embedder) Name() string    { return "fake" }
func (e *Embedder) Dimensions() int { return e.Dims }

func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	e.mu.Lock()
	e.calls = append(e.calls, text)
	e.mu.Unlock()

	if e.EmbedFunc != nil {
		return e.EmbedFunc(ctx, text)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return Vector(text, e.Dims), nil
}

// Calls returns the texts embedded so far, in call order.
func (e *Embedder) Calls() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.calls...)
}

// CallCount returns the number of Embed calls.
func (e *Embedder) CallCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.calls)
}

// Vector derives a deterministic unit vector from text.
func Vector(text string, dims int) []float32 {
	h := fnv.New32a()
	h.Write([]byte(text))
	seed := h.Sum32()

	vec := make([]float32, dims)
	var sumSquares float64
	for i := range vec {
		seed = seed*1664525 + 1013904223
		vec[i] = float32(seed%2000)/1000.0 - 1
		sumSquares += float64(vec[i]) * float64(vec[i])
	}
	if sumSquares > 0 {
		norm := float32(1 / math.Sqrt(sumSquares))
		for i := range vec {
			vec[i] *= norm
		}
	}
	return vec
}

var _ embedding.Provider = (*Embedder)(nil)
