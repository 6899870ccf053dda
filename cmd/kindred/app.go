package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/efebarandurmaz/kindred/internal/config"
	"github.com/efebarandurmaz/kindred/internal/embedding"
	"github.com/efebarandurmaz/kindred/internal/embedding/fake"
	"github.com/efebarandurmaz/kindred/internal/embedding/openai"
	"github.com/efebarandurmaz/kindred/internal/export"
	"github.com/efebarandurmaz/kindred/internal/ingest"
	"github.com/efebarandurmaz/kindred/internal/matching"
	"github.com/efebarandurmaz/kindred/internal/observability"
	"github.com/efebarandurmaz/kindred/internal/store"
	"github.com/efebarandurmaz/kindred/internal/store/memory"
	neo4jstore "github.com/efebarandurmaz/kindred/internal/store/neo4j"
	"github.com/efebarandurmaz/kindred/internal/store/postgres"
	"github.com/efebarandurmaz/kindred/internal/store/qdrant"
)

// app holds the wired components shared by every subcommand.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	metrics  *observability.KindredMetrics
	tracer   *observability.TracerProvider
	store    store.ProfileStore
	embedder embedding.Provider
	pipeline *ingest.Pipeline
	engine   *matching.Engine
}

func newApp(ctx context.Context, configPath, backend string) (*app, error) {
	cfg, err := loadConfig(configPath, backend)
	if err != nil {
		return nil, err
	}

	logger := observability.NewLogger(observability.LogConfig{Level: cfg.Log.Level, Format: cfg.Log.Format})
	slog.SetDefault(logger)

	tcfg := observability.DefaultTracingConfig()
	tcfg.ServiceVersion = version
	tcfg.OTLPEndpoint = cfg.Tracing.Endpoint
	tcfg.SampleRate = cfg.Tracing.SampleRate
	tracer, err := observability.InitTracing(ctx, tcfg)
	if err != nil {
		return nil, err
	}

	embedder, err := newEmbedder(cfg.Embedding)
	if err != nil {
		tracer.Shutdown(ctx)
		return nil, err
	}

	st, err := openStore(ctx, cfg, embedder.Dimensions())
	if err != nil {
		tracer.Shutdown(ctx)
		return nil, err
	}

	metrics := observability.Metrics()
	pipeline, err := ingest.New(st, embedder,
		ingest.WithWorkers(cfg.Ingest.Workers),
		ingest.WithLogger(logger),
		ingest.WithMetrics(metrics),
	)
	if err != nil {
		st.Close(ctx)
		tracer.Shutdown(ctx)
		return nil, err
	}

	engine := matching.New(st,
		matching.WithDefaults(matching.Options{
			K:         cfg.Matching.K,
			Threshold: cfg.Matching.Threshold,
			AgeBand:   cfg.Matching.AgeBand,
		}),
		matching.WithLogger(logger),
		matching.WithMetrics(metrics),
	)

	logger.Debug("kindred wired",
		"store", cfg.Store.Backend,
		"embedder", embedder.Name(),
		"dims", embedder.Dimensions(),
	)
	return &app{
		cfg:      cfg,
		logger:   logger,
		metrics:  metrics,
		tracer:   tracer,
		store:    st,
		embedder: embedder,
		pipeline: pipeline,
		engine:   engine,
	}, nil
}

// Close releases every component. Errors are logged.
func (a *app) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	a.pipeline.Release()
	if err := a.store.Close(ctx); err != nil {
		a.logger.Warn("closing store", "err", err)
	}
	if err := a.tracer.Shutdown(ctx); err != nil {
		a.logger.Warn("shutting down tracer", "err", err)
	}
}

// ingestFile reads an export and feeds its valid rows to the pipeline.
// A non-nil report may accompany a cancellation error.
func (a *app) ingestFile(ctx context.Context, path string) (*ingest.Report, []export.RowError, error) {
	recs, rejected, err := export.NewReader(export.WithLogger(a.logger)).ReadFile(path)
	if err != nil {
		return nil, nil, err
	}
	for i := range rejected {
		a.logger.Warn("export row rejected", "err", rejected[i].Error())
	}

	report, err := a.pipeline.Ingest(ctx, recs)
	return report, rejected, err
}

func newEmbedder(cfg config.EmbeddingConfig) (embedding.Provider, error) {
	factory := embedding.NewFactory()
	factory.Register("openai", func(pc embedding.ProviderConfig) (embedding.Provider, error) {
		return openai.New(openai.Config{
			APIKey:     pc.APIKey,
			BaseURL:    pc.BaseURL,
			Model:      pc.Model,
			Dimensions: pc.Dimensions,
		})
	})
	factory.Register("fake", func(pc embedding.ProviderConfig) (embedding.Provider, error) {
		return fake.New(pc.Dimensions), nil
	})

	return factory.Create(embedding.ProviderConfig{
		Provider:          cfg.Provider,
		APIKey:            cfg.APIKey,
		Model:             cfg.Model,
		BaseURL:           cfg.BaseURL,
		Dimensions:        cfg.Dimensions,
		Timeout:           cfg.Timeout,
		MaxRetries:        cfg.MaxRetries,
		RetryDelay:        cfg.RetryDelay,
		RequestsPerMinute: cfg.RequestsPerMinute,
		BurstSize:         cfg.BurstSize,
	})
}

func openStore(ctx context.Context, cfg *config.Config, dims int) (store.ProfileStore, error) {
	switch cfg.Store.Backend {
	case config.BackendNeo4j:
		return neo4jstore.New(ctx, cfg.Neo4j.URI, cfg.Neo4j.Username, cfg.Neo4j.Password, cfg.Neo4j.Database)
	case config.BackendPostgres:
		return postgres.New(ctx, cfg.Postgres.DSN, dims)
	case config.BackendQdrant:
		return qdrant.New(ctx, cfg.Qdrant.Host, cfg.Qdrant.Port, cfg.Qdrant.Collection, dims)
	case config.BackendMemory:
		return memory.New(), nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}
