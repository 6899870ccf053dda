// Package postgres implements store.ProfileStore on PostgreSQL with the
// pgvector extension.
package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/efebarandurmaz/kindred/internal/profile"
	"github.com/efebarandurmaz/kindred/internal/store"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"
)

const (
	table = "profiles"

	codeUniqueViolation = "23505"
)

// Store implements store.ProfileStore on a pgx connection pool.
type Store struct {
	pool *pgxpool.Pool
	dims int
}

// New connects to dsn and creates the profiles table if needed. dims fixes
// the embedding column type.
func New(ctx context.Context, dsn string, dims int) (*Store, error) {
	if dims <= 0 {
		return nil, fmt.Errorf("postgres: dimensions must be positive, got %d", dims)
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres config: %w", err)
	}
	// The vector type must exist before pooled connections register it.
	if err := createExtension(ctx, cfg.ConnConfig); err != nil {
		return nil, err
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: postgres ping: %w", store.ErrStoreUnavailable, err)
	}

	s := &Store{pool: pool, dims: dims}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func createExtension(ctx context.Context, cfg *pgx.ConnConfig) error {
	conn, err := pgx.ConnectConfig(ctx, cfg)
	if err != nil {
		return fmt.Errorf("%w: postgres connect: %w", store.ErrStoreUnavailable, err)
	}
	defer conn.Close(ctx)
	if _, err := conn.Exec(ctx, `CREATE EXTENSION IF NOT EXISTS vector`); err != nil {
		return fmt.Errorf("create vector extension: %w", classify(err))
	}
	return nil
}

func (s *Store) migrate(ctx context.Context) error {
	migrations := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			user_id BIGINT NOT NULL,
			age INTEGER NOT NULL,
			bio TEXT,
			sex TEXT NOT NULL,
			ville TEXT NOT NULL,
			region TEXT NOT NULL,
			pays TEXT,
			bio_embedding vector(%d)
		)`, table, s.dims),
	}
	for _, m := range migrations {
		if _, err := s.pool.Exec(ctx, m); err != nil {
			return classify(err)
		}
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %w", store.ErrStoreUnavailable, err)
	}
	return nil
}

func (s *Store) EnsureUniqueConstraint(ctx context.Context, field string) error {
	if err := store.ValidateIdentifier(field); err != nil {
		return err
	}
	stmt := fmt.Sprintf(`CREATE UNIQUE INDEX IF NOT EXISTS %s_%s_key ON %s (%s)`, table, field, table, field)
	_, err := s.pool.Exec(ctx, stmt)
	return classify(err)
}

func (s *Store) EnsureSimilarityIndex(ctx context.Context, field string, dims int, metric store.Metric) error {
	stmt, err := similarityIndexStatement(field, dims, s.dims, metric)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, stmt)
	return classify(err)
}

func similarityIndexStatement(field string, dims, columnDims int, metric store.Metric) (string, error) {
	if err := store.ValidateIdentifier(field); err != nil {
		return "", err
	}
	if dims != columnDims {
		return "", fmt.Errorf("%w: index requested with %d dimensions, column has %d", store.ErrInvalidVector, dims, columnDims)
	}
	if metric != store.MetricCosine {
		return "", fmt.Errorf("unsupported metric %q", metric)
	}
	return fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_%s_hnsw ON %s USING hnsw (%s vector_cosine_ops)`,
		table, field, table, field), nil
}

func (s *Store) Exists(ctx context.Context, userID int64) (bool, error) {
	var found bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM profiles WHERE user_id = $1)`, userID).Scan(&found)
	if err != nil {
		return false, classify(err)
	}
	return found, nil
}

const selectColumns = `user_id, age, bio, sex, ville, region, pays, bio_embedding`

func (s *Store) Get(ctx context.Context, userID int64) (*profile.Record, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+selectColumns+` FROM profiles WHERE user_id = $1 LIMIT 1`, userID)
	rec, err := scanRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("user %d: %w", userID, store.ErrNotFound)
	}
	if err != nil {
		return nil, classify(err)
	}
	return &rec, nil
}

func (s *Store) UpsertIfAbsent(ctx context.Context, rec profile.Record) (store.UpsertResult, error) {
	if rec.HasEmbedding() && len(rec.Embedding) != s.dims {
		return 0, fmt.Errorf("user %d: %w: got %d, want %d", rec.UserID, store.ErrInvalidVector, len(rec.Embedding), s.dims)
	}

	var (
		bio       *string
		embedding *pgvector.Vector
	)
	if rec.HasBiography() {
		bio = &rec.Biography
	}
	if rec.HasEmbedding() {
		v := pgvector.NewVector(rec.Embedding)
		embedding = &v
	}

	tag, err := s.pool.Exec(ctx, `
		INSERT INTO profiles (user_id, age, bio, sex, ville, region, pays, bio_embedding)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (user_id) DO NOTHING`,
		rec.UserID, rec.Age, bio, string(rec.Category), rec.City, rec.Region, rec.Country, embedding)
	if err != nil {
		err = classify(err)
		if errors.Is(err, store.ErrDuplicateKey) {
			return store.AlreadyExists, nil
		}
		return 0, fmt.Errorf("upsert user %d: %w", rec.UserID, err)
	}
	if tag.RowsAffected() == 0 {
		return store.AlreadyExists, nil
	}
	return store.Created, nil
}

func (s *Store) QueryCandidates(ctx context.Context, q store.CandidateQuery) ([]store.Candidate, error) {
	query, args := candidateQuery(q)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	var out []store.Candidate
	for rows.Next() {
		var (
			c   store.Candidate
			vec *pgvector.Vector
			bio *string
		)
		r := &c.Profile
		if err := rows.Scan(&r.UserID, &r.Age, &bio, &r.Category, &r.City, &r.Region, &r.Country, &vec, &c.Similarity); err != nil {
			return nil, fmt.Errorf("scan candidate: %w", err)
		}
		if bio != nil {
			r.Biography = *bio
		}
		if vec != nil {
			r.Embedding = vec.Slice()
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	return out, nil
}

func candidateQuery(q store.CandidateQuery) (string, []any) {
	query := `
		SELECT ` + selectColumns + `, 1 - (bio_embedding <=> $1) AS similarity
		FROM profiles
		WHERE user_id <> $2
		  AND sex = $3 AND sex <> 'U'
		  AND ville = $4 AND region = $5
		  AND pays IS NOT DISTINCT FROM $6
		  AND age BETWEEN $7 AND $8
		  AND bio_embedding IS NOT NULL
		  AND 1 - (bio_embedding <=> $1) > $9
		ORDER BY similarity DESC, user_id ASC`
	args := []any{
		pgvector.NewVector(q.Vector), q.SubjectID, string(q.Category),
		q.City, q.Region, q.Country, q.MinAge, q.MaxAge, q.MinSimilarity,
	}
	if q.Limit > 0 {
		query += "\n\t\tLIMIT $10"
		args = append(args, q.Limit)
	}
	return query, args
}

func (s *Store) Close(ctx context.Context) error {
	s.pool.Close()
	return nil
}

func scanRecord(row pgx.Row) (profile.Record, error) {
	var (
		rec profile.Record
		bio *string
		vec *pgvector.Vector
	)
	if err := row.Scan(&rec.UserID, &rec.Age, &bio, &rec.Category, &rec.City, &rec.Region, &rec.Country, &vec); err != nil {
		return rec, err
	}
	if bio != nil {
		rec.Biography = *bio
	}
	if vec != nil {
		rec.Embedding = vec.Slice()
	}
	return rec, nil
}

// classify maps pgx errors onto the store sentinels.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgErr.Code == codeUniqueViolation {
			return fmt.Errorf("%w: %w", store.ErrDuplicateKey, err)
		}
		return err
	}
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) || pgconn.Timeout(err) {
		return fmt.Errorf("%w: %w", store.ErrStoreUnavailable, err)
	}
	return err
}

var _ store.ProfileStore = (*Store)(nil)
