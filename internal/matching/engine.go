// Package matching ranks stored profiles against a subject profile: hard
// filters on location, age band and opposite category, then cosine
// similarity above a threshold.
package matching

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/efebarandurmaz/kindred/internal/observability"
	"github.com/efebarandurmaz/kindred/internal/profile"
	"github.com/efebarandurmaz/kindred/internal/store"
)

const (
	DefaultK         = 10
	DefaultThreshold = 0.5
	DefaultAgeBand   = 5
)

var (
	// ErrNotFound is returned when the subject profile is not stored.
	ErrNotFound = errors.New("subject profile not found")
	// ErrQueryFailed wraps any store failure while matching. No partial
	// result accompanies it.
	ErrQueryFailed = errors.New("match query failed")
	// ErrInvalidOptions is returned for a non-positive k, a negative age
	// band or a threshold outside [-1, 1].
	ErrInvalidOptions = errors.New("invalid match options")
)

// Options tunes a FindMatches call.
type Options struct {
	K         int
	Threshold float64
	AgeBand   int
}

// DefaultOptions returns k=10, threshold=0.5, age band=5.
func DefaultOptions() Options {
	return Options{K: DefaultK, Threshold: DefaultThreshold, AgeBand: DefaultAgeBand}
}

// Validate reports ErrInvalidOptions for unusable values.
func (o Options) Validate() error {
	if o.K <= 0 {
		return fmt.Errorf("%w: k must be positive, got %d", ErrInvalidOptions, o.K)
	}
	if o.AgeBand < 0 {
		return fmt.Errorf("%w: age band must not be negative, got %d", ErrInvalidOptions, o.AgeBand)
	}
	if o.Threshold < -1 || o.Threshold > 1 {
		return fmt.Errorf("%w: threshold must be within [-1, 1], got %g", ErrInvalidOptions, o.Threshold)
	}
	return nil
}

// Option overrides one field of the defaults.
type Option func(*Options)

// WithK caps the number of matches returned.
func WithK(k int) Option { return func(o *Options) { o.K = k } }

// WithThreshold sets the similarity a candidate must strictly exceed.
func WithThreshold(t float64) Option { return func(o *Options) { o.Threshold = t } }

// WithAgeBand sets the inclusive age difference allowed, in years.
func WithAgeBand(band int) Option { return func(o *Options) { o.AgeBand = band } }

// Engine answers match queries against a store. It holds no mutable state and
// is safe for concurrent use.
type Engine struct {
	store    store.ProfileStore
	defaults Options
	logger   *slog.Logger
	metrics  *observability.KindredMetrics
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithDefaults replaces the options applied before per-call overrides.
func WithDefaults(o Options) EngineOption {
	return func(e *Engine) { e.defaults = o }
}

// WithLogger sets the engine logger. A nil logger is ignored.
func WithLogger(logger *slog.Logger) EngineOption {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithMetrics records match latency and result counts on m. A nil m is ignored.
func WithMetrics(m *observability.KindredMetrics) EngineOption {
	return func(e *Engine) {
		if m != nil {
			e.metrics = m
		}
	}
}

// New creates an engine reading from st.
func New(st store.ProfileStore, opts ...EngineOption) *Engine {
	e := &Engine{
		store:    st,
		defaults: DefaultOptions(),
		logger:   slog.Default(),
		metrics:  observability.Metrics(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Defaults returns the options used when a call sets none.
func (e *Engine) Defaults() Options {
	return e.defaults
}

// FindMatches returns up to k profiles admitted by the subject's filters whose
// similarity to the subject is strictly above the threshold, ordered by
// similarity descending then user id ascending.
//
// A subject with unknown category, unknown age or no embedding has no
// matches.
func (e *Engine) FindMatches(ctx context.Context, userID int64, opts ...Option) ([]profile.Record, error) {
	o := e.defaults
	for _, opt := range opts {
		opt(&o)
	}
	if err := o.Validate(); err != nil {
		return nil, err
	}

	ctx, span := observability.StartMatchSpan(ctx, userID, o.K, o.Threshold)
	defer span.End()
	start := time.Now()

	matches, err := e.find(ctx, userID, o)
	e.metrics.RecordMatch(time.Since(start), len(matches), err)
	if err != nil {
		observability.RecordError(span, err)
		if !errors.Is(err, ErrNotFound) {
			e.logger.Error("match failed", "user_id", userID, "err", err)
		}
		return nil, err
	}
	observability.RecordMatchResult(span, len(matches))
	e.logger.Debug("matches found", "user_id", userID, "count", len(matches))
	return matches, nil
}

func (e *Engine) find(ctx context.Context, userID int64, o Options) ([]profile.Record, error) {
	subject, err := e.store.Get(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("user %d: %w", userID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: load subject %d: %w", ErrQueryFailed, userID, err)
	}

	q, ok := candidateQuery(*subject, o)
	if !ok {
		return []profile.Record{}, nil
	}

	cands, err := e.store.QueryCandidates(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("%w: candidates for %d: %w", ErrQueryFailed, userID, err)
	}
	return rank(cands, q), nil
}

// candidateQuery builds the store filter for subject, or reports false when
// the subject can match no one.
func candidateQuery(subject profile.Record, o Options) (store.CandidateQuery, bool) {
	target, ok := subject.Category.Opposite()
	if !ok || subject.Age == profile.AgeUnknown || !subject.HasEmbedding() {
		return store.CandidateQuery{}, false
	}

	minAge := subject.Age - o.AgeBand
	if minAge < 0 {
		minAge = 0
	}
	// Ages are stored as 32-bit integers; saturate instead of overflowing.
	maxAge := math.MaxInt32
	if o.AgeBand < math.MaxInt32-subject.Age {
		maxAge = subject.Age + o.AgeBand
	}
	return store.CandidateQuery{
		SubjectID:     subject.UserID,
		Vector:        subject.Embedding,
		Category:      target,
		City:          subject.City,
		Region:        subject.Region,
		Country:       subject.Country,
		MinAge:        minAge,
		MaxAge:        maxAge,
		MinSimilarity: o.Threshold,
		Limit:         o.K,
	}, true
}

// rank re-applies every predicate to the store's answer, then orders and
// truncates to q.Limit.
func rank(cands []store.Candidate, q store.CandidateQuery) []profile.Record {
	kept := make([]store.Candidate, 0, len(cands))
	for _, c := range cands {
		if q.Admits(c.Profile) && c.Similarity > q.MinSimilarity {
			kept = append(kept, c)
		}
	}
	store.SortCandidates(kept)
	if len(kept) > q.Limit {
		kept = kept[:q.Limit]
	}

	out := make([]profile.Record, len(kept))
	for i, c := range kept {
		out[i] = c.Profile
	}
	return out
}
