// Package memory implements store.ProfileStore in process memory with
// brute-force similarity search.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/efebarandurmaz/kindred/internal/profile"
	"github.com/efebarandurmaz/kindred/internal/store"
)

// Store keeps profiles in a map keyed by user id.
type Store struct {
	mu       sync.RWMutex
	profiles map[int64]profile.Record
	unique   map[string]bool
	dims     int
}

// New creates an empty store.
func New() *Store {
	return &Store{
		profiles: make(map[int64]profile.Record),
		unique:   make(map[string]bool),
	}
}

func (s *Store) Ping(ctx context.Context) error { return ctx.Err() }

func (s *Store) EnsureUniqueConstraint(ctx context.Context, field string) error {
	if field != store.FieldUserID {
		return fmt.Errorf("memory store: unique constraint only supported on %s, got %q", store.FieldUserID, field)
	}
	s.mu.Lock()
	s.unique[field] = true
	s.mu.Unlock()
	return nil
}

func (s *Store) EnsureSimilarityIndex(ctx context.Context, field string, dims int, metric store.Metric) error {
	if field != store.FieldEmbedding {
		return fmt.Errorf("memory store: similarity index only supported on %s, got %q", store.FieldEmbedding, field)
	}
	if metric != store.MetricCosine {
		return fmt.Errorf("memory store: unsupported metric %q", metric)
	}
	if dims <= 0 {
		return fmt.Errorf("memory store: dimensions must be positive, got %d", dims)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dims != 0 && s.dims != dims {
		return fmt.Errorf("memory store: index exists with %d dimensions, requested %d", s.dims, dims)
	}
	s.dims = dims
	return nil
}

func (s *Store) Exists(ctx context.Context, userID int64) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.profiles[userID]
	return ok, nil
}

func (s *Store) Get(ctx context.Context, userID int64) (*profile.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.profiles[userID]
	if !ok {
		return nil, fmt.Errorf("user %d: %w", userID, store.ErrNotFound)
	}
	return clone(rec), nil
}

func (s *Store) UpsertIfAbsent(ctx context.Context, rec profile.Record) (store.UpsertResult, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.profiles[rec.UserID]; ok {
		return store.AlreadyExists, nil
	}
	if rec.HasEmbedding() && s.dims != 0 && len(rec.Embedding) != s.dims {
		return 0, fmt.Errorf("user %d: %w: got %d, want %d", rec.UserID, store.ErrInvalidVector, len(rec.Embedding), s.dims)
	}
	s.profiles[rec.UserID] = *clone(rec)
	return store.Created, nil
}

func (s *Store) QueryCandidates(ctx context.Context, q store.CandidateQuery) ([]store.Candidate, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	var out []store.Candidate
	for _, rec := range s.profiles {
		if !q.Admits(rec) || !rec.HasEmbedding() {
			continue
		}
		sim, ok := profile.CosineSimilarity(q.Vector, rec.Embedding)
		if !ok || sim <= q.MinSimilarity {
			continue
		}
		out = append(out, store.Candidate{Profile: *clone(rec), Similarity: sim})
	}
	s.mu.RUnlock()

	store.SortCandidates(out)
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

// Count returns the number of stored profiles.
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.profiles)
}

// Close is a no-op.
func (s *Store) Close(ctx context.Context) error { return nil }

func clone(rec profile.Record) *profile.Record {
	c := rec
	if rec.Country != nil {
		c.Country = profile.StringPtr(*rec.Country)
	}
	if rec.Embedding != nil {
		c.Embedding = append([]float32(nil), rec.Embedding...)
	}
	return &c
}

var _ store.ProfileStore = (*Store)(nil)
