package postgres

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/efebarandurmaz/kindred/internal/profile"
	"github.com/efebarandurmaz/kindred/internal/store"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pgvector/pgvector-go"
)

func TestSimilarityIndexStatement(t *testing.T) {
	stmt, err := similarityIndexStatement(store.FieldEmbedding, 4, 4, store.MetricCosine)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(stmt, "USING hnsw (bio_embedding vector_cosine_ops)") {
		t.Errorf("unexpected statement: %s", stmt)
	}
	if !strings.Contains(stmt, "IF NOT EXISTS") {
		t.Errorf("statement must be idempotent: %s", stmt)
	}

	if _, err := similarityIndexStatement(store.FieldEmbedding, 8, 4, store.MetricCosine); !errors.Is(err, store.ErrInvalidVector) {
		t.Errorf("expected ErrInvalidVector for dimension mismatch, got %v", err)
	}
	if _, err := similarityIndexStatement("bad name", 4, 4, store.MetricCosine); err == nil {
		t.Error("expected error for invalid identifier")
	}
}

func TestCandidateQuery(t *testing.T) {
	q := store.CandidateQuery{
		SubjectID:     1,
		Vector:        []float32{1, 0},
		Category:      profile.CategoryB,
		City:          "Paris",
		Region:        "IDF",
		Country:       profile.StringPtr("FR"),
		MinAge:        25,
		MaxAge:        35,
		MinSimilarity: 0.5,
	}
	query, args := candidateQuery(q)
	if len(args) != 9 {
		t.Fatalf("expected 9 args, got %d", len(args))
	}
	if strings.Contains(query, "LIMIT") {
		t.Error("unbounded query should not have a LIMIT clause")
	}
	for _, part := range []string{
		"pays IS NOT DISTINCT FROM $6",
		"age BETWEEN $7 AND $8",
		"> $9",
		"ORDER BY similarity DESC, user_id ASC",
	} {
		if !strings.Contains(query, part) {
			t.Errorf("query missing %q", part)
		}
	}
	vec, ok := args[0].(pgvector.Vector)
	if !ok {
		t.Fatalf("vector arg has type %T", args[0])
	}
	if got := vec.Slice(); len(got) != 2 || got[0] != 1 || got[1] != 0 {
		t.Errorf("vector arg = %v", got)
	}
	if strings.Contains(query, "::vector") || strings.Contains(query, "::text") {
		t.Errorf("vectors bind through the registered type, no casts expected: %s", query)
	}

	q.Limit = 5
	query, args = candidateQuery(q)
	if !strings.Contains(query, "LIMIT $10") || len(args) != 10 || args[9] != 5 {
		t.Errorf("limit not bound: %v", args)
	}
}

func TestClassify(t *testing.T) {
	dup := &pgconn.PgError{Code: codeUniqueViolation}
	if err := classify(fmt.Errorf("exec: %w", dup)); !errors.Is(err, store.ErrDuplicateKey) {
		t.Errorf("expected ErrDuplicateKey, got %v", err)
	}
	syntax := &pgconn.PgError{Code: "42601"}
	if err := classify(syntax); errors.Is(err, store.ErrDuplicateKey) || errors.Is(err, store.ErrStoreUnavailable) {
		t.Errorf("syntax error should pass through, got %v", err)
	}
	if classify(nil) != nil {
		t.Error("classify(nil) should be nil")
	}
}
