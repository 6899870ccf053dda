// Package store defines the persistence contract for profiles: insert-once
// writes, schema setup and filtered similarity queries.
package store

import (
	"context"
	"errors"

	"github.com/efebarandurmaz/kindred/internal/profile"
)

// Persisted property names. Backends use them for columns, node properties or
// payload keys.
const (
	FieldUserID    = "user_id"
	FieldAge       = "age"
	FieldBio       = "bio"
	FieldCategory  = "sex"
	FieldCity      = "ville"
	FieldRegion    = "region"
	FieldCountry   = "pays"
	FieldEmbedding = "bio_embedding"
)

var (
	// ErrNotFound is returned by Get when no profile has the requested id.
	ErrNotFound = errors.New("profile not found")
	// ErrDuplicateKey is returned by backends that reject a second write of
	// the same user id. UpsertIfAbsent implementations translate it to
	// AlreadyExists.
	ErrDuplicateKey = errors.New("duplicate user id")
	// ErrStoreUnavailable wraps connectivity failures.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrInvalidVector is returned when a vector does not match the
	// similarity index dimensionality.
	ErrInvalidVector = errors.New("vector does not match index dimensions")
)

// UpsertResult is the outcome of UpsertIfAbsent.
type UpsertResult int

const (
	Created UpsertResult = iota + 1
	AlreadyExists
)

func (r UpsertResult) String() string {
	switch r {
	case Created:
		return "created"
	case AlreadyExists:
		return "already_exists"
	}
	return "unknown"
}

// Metric is a vector similarity function.
type Metric string

const MetricCosine Metric = "cosine"

// Candidate is a stored profile with its similarity to the query vector.
type Candidate struct {
	Profile    profile.Record
	Similarity float64
}

// ProfileStore persists profiles and answers candidate queries.
type ProfileStore interface {
	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error
	// EnsureUniqueConstraint makes field unique. Safe to repeat.
	EnsureUniqueConstraint(ctx context.Context, field string) error
	// EnsureSimilarityIndex creates a vector index over field. Safe to repeat.
	EnsureSimilarityIndex(ctx context.Context, field string, dims int, metric Metric) error
	// Exists reports whether a profile with userID is stored.
	Exists(ctx context.Context, userID int64) (bool, error)
	// Get returns the stored profile, or ErrNotFound.
	Get(ctx context.Context, userID int64) (*profile.Record, error)
	// UpsertIfAbsent writes rec, profile and embedding together, unless its
	// user id is already stored.
	UpsertIfAbsent(ctx context.Context, rec profile.Record) (UpsertResult, error)
	// QueryCandidates returns the profiles admitted by q together with their
	// cosine similarity to q.Vector, ordered by similarity descending then
	// user id ascending.
	QueryCandidates(ctx context.Context, q CandidateQuery) ([]Candidate, error)
	// Close releases resources.
	Close(ctx context.Context) error
}
