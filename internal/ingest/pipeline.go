// Package ingest writes profile batches into a store exactly once, embedding
// each biography on the way.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/efebarandurmaz/kindred/internal/embedding"
	"github.com/efebarandurmaz/kindred/internal/observability"
	"github.com/efebarandurmaz/kindred/internal/profile"
	"github.com/efebarandurmaz/kindred/internal/store"
	"github.com/panjf2000/ants/v2"
)

// Pipeline runs dedup check, embedding and insert-if-absent for each record
// on a bounded worker pool.
type Pipeline struct {
	store    store.ProfileStore
	embedder embedding.Provider
	pool     *ants.Pool
	locks    *store.KeyLock
	logger   *slog.Logger
	metrics  *observability.KindredMetrics
}

// Option configures a Pipeline.
type Option func(*Pipeline) error

// WithWorkers sets the number of records processed concurrently.
// Default is runtime.NumCPU() / 2, with a minimum of 1.
func WithWorkers(n int) Option {
	return func(p *Pipeline) error {
		if n < 1 {
			n = 1
		}
		pool, err := ants.NewPool(n)
		if err != nil {
			return err
		}
		if p.pool != nil {
			p.pool.Release()
		}
		p.pool = pool
		return nil
	}
}

// WithLogger sets a custom logger. Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pipeline) error {
		if logger == nil {
			logger = slog.Default()
		}
		p.logger = logger
		return nil
	}
}

// WithMetrics records batch outcomes on m. Default is observability.Metrics().
func WithMetrics(m *observability.KindredMetrics) Option {
	return func(p *Pipeline) error {
		if m == nil {
			m = observability.Metrics()
		}
		p.metrics = m
		return nil
	}
}

// New creates a pipeline writing to st and embedding with embedder.
func New(st store.ProfileStore, embedder embedding.Provider, opts ...Option) (*Pipeline, error) {
	if st == nil {
		return nil, ErrStoreRequired
	}
	if embedder == nil {
		return nil, ErrEmbedderRequired
	}

	size := runtime.NumCPU() / 2
	if size < 1 {
		size = 1
	}
	pool, err := ants.NewPool(size)
	if err != nil {
		return nil, err
	}

	p := &Pipeline{
		store:    st,
		embedder: embedder,
		pool:     pool,
		locks:    store.NewKeyLock(),
		logger:   slog.Default(),
		metrics:  observability.Metrics(),
	}
	for _, opt := range opts {
		if err := opt(p); err != nil {
			p.Release()
			return nil, err
		}
	}
	return p, nil
}

// Release stops the worker pool. The pipeline cannot be used afterwards.
func (p *Pipeline) Release() {
	if p.pool != nil {
		p.pool.Release()
	}
}

// EnsureSchema checks the store is reachable and creates the user id
// constraint and the biography similarity index. Every failure wraps
// ErrBatchAborted.
func (p *Pipeline) EnsureSchema(ctx context.Context) error {
	if err := p.store.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrBatchAborted, err)
	}
	if err := p.store.EnsureUniqueConstraint(ctx, store.FieldUserID); err != nil {
		return fmt.Errorf("%w: unique constraint: %w", ErrBatchAborted, err)
	}
	dims := p.embedder.Dimensions()
	if err := p.store.EnsureSimilarityIndex(ctx, store.FieldEmbedding, dims, store.MetricCosine); err != nil {
		return fmt.Errorf("%w: similarity index: %w", ErrBatchAborted, err)
	}
	return nil
}

type status int

const (
	statusNone status = iota
	statusCreated
	statusSkipped
	statusFailed
)

type outcome struct {
	status  status
	failure Failure
}

// Ingest writes every record whose user id is not stored yet. Per-record
// failures are collected in the report; the returned error is non-nil only
// when the batch is aborted before any record runs, or when ctx ends, in
// which case the partial report is returned too.
func (p *Pipeline) Ingest(ctx context.Context, records []profile.Record) (*Report, error) {
	report := &Report{}
	if len(records) == 0 {
		return report, nil
	}

	ctx, span := observability.StartIngestSpan(ctx, len(records))
	defer span.End()
	start := time.Now()

	if err := p.EnsureSchema(ctx); err != nil {
		observability.RecordError(span, err)
		p.logger.Error("ingest aborted", "records", len(records), "err", err)
		return nil, err
	}

	outcomes := make([]outcome, len(records))
	var wg sync.WaitGroup
	for i := range records {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		err := p.pool.Submit(func() {
			defer wg.Done()
			p.metrics.ActiveWorkers.Inc()
			defer p.metrics.ActiveWorkers.Dec()
			outcomes[i] = p.process(ctx, records[i])
		})
		if err != nil {
			wg.Done()
			p.logger.Error("submit failed", "user_id", records[i].UserID, "err", err)
			break
		}
	}
	wg.Wait()

	for i, o := range outcomes {
		switch o.status {
		case statusCreated:
			report.Created++
		case statusSkipped:
			report.Skipped++
		case statusFailed:
			report.Failed = append(report.Failed, o.failure)
		default:
			report.NotAttempted = append(report.NotAttempted, records[i].UserID)
		}
	}

	observability.RecordIngestResult(span, report.Created, report.Skipped, len(report.Failed), len(report.NotAttempted))
	p.metrics.RecordIngest(time.Since(start), report.Created, report.Skipped, len(report.Failed), len(report.NotAttempted))
	p.logger.Info("ingest finished",
		"created", report.Created,
		"skipped", report.Skipped,
		"failed", len(report.Failed),
		"not_attempted", len(report.NotAttempted),
		"duration", time.Since(start))

	if err := ctx.Err(); err != nil {
		observability.RecordError(span, err)
		return report, err
	}
	return report, nil
}

func (p *Pipeline) process(ctx context.Context, rec profile.Record) outcome {
	ctx, span := observability.StartRecordSpan(ctx, rec.UserID)
	defer span.End()

	fail := func(step Kind, err error) outcome {
		observability.RecordError(span, err)
		f := newFailure(rec.UserID, classify(step, err), err)
		p.logger.Warn("profile not ingested", "user_id", rec.UserID, "kind", f.Kind, "err", err)
		return outcome{status: statusFailed, failure: f}
	}
	skip := func() outcome {
		p.logger.Debug("profile already stored", "user_id", rec.UserID)
		return outcome{status: statusSkipped}
	}

	if err := rec.Validate(); err != nil {
		return fail(KindValidation, err)
	}

	// The store constraint is authoritative across processes; the lock keeps
	// same-id records in one batch from embedding twice.
	unlock := p.locks.Lock(rec.UserID)
	defer unlock()

	exists, err := p.store.Exists(ctx, rec.UserID)
	if err != nil {
		return fail(KindStore, err)
	}
	if exists {
		return skip()
	}

	rec.Embedding = nil
	if rec.HasBiography() {
		vec, err := p.embed(ctx, rec.Biography)
		if err != nil {
			return fail(KindEmbeddingUnavailable, err)
		}
		rec.Embedding = vec
	}

	res, err := p.store.UpsertIfAbsent(ctx, rec)
	if errors.Is(err, store.ErrDuplicateKey) {
		return skip()
	}
	if err != nil {
		return fail(KindStore, err)
	}
	if res == store.AlreadyExists {
		return skip()
	}
	p.logger.Debug("profile created", "user_id", rec.UserID, "embedded", rec.HasEmbedding())
	return outcome{status: statusCreated}
}

func (p *Pipeline) embed(ctx context.Context, text string) ([]float32, error) {
	ctx, span := observability.StartEmbedSpan(ctx, p.embedder.Name(), p.embedder.Dimensions())
	defer span.End()

	start := time.Now()
	vec, err := p.embedder.Embed(ctx, text)
	if err == nil && len(vec) != p.embedder.Dimensions() {
		err = fmt.Errorf("%w: got %d values, want %d", embedding.ErrDimensionMismatch, len(vec), p.embedder.Dimensions())
	}
	p.metrics.RecordEmbed(time.Since(start), err)
	if err != nil {
		observability.RecordError(span, err)
		return nil, err
	}
	return vec, nil
}
