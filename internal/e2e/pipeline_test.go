package e2e

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/efebarandurmaz/kindred/internal/embedding"
	"github.com/efebarandurmaz/kindred/internal/embedding/fake"
	"github.com/efebarandurmaz/kindred/internal/export"
	"github.com/efebarandurmaz/kindred/internal/ingest"
	"github.com/efebarandurmaz/kindred/internal/matching"
	"github.com/efebarandurmaz/kindred/internal/observability"
	"github.com/efebarandurmaz/kindred/internal/store"
	"github.com/efebarandurmaz/kindred/internal/store/memory"
)

const dims = 32

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

const usersExport = `[
  {"id_utilisateur": 10, "ville": "Paris", "region": "IDF", "pays": "FR", "id_genre": 1,
   "date_naissance": "1994-03-01T00:00:00.000Z", "accroche": "weekend hiking and board games"},
  {"id_utilisateur": 11, "ville": "Paris", "region": "IDF", "pays": "FR", "id_genre": 2,
   "date_naissance": "1995-05-01T00:00:00.000Z", "accroche": "weekend hiking and board games"},
  {"id_utilisateur": 12, "ville": "Paris", "region": "IDF", "pays": "FR", "id_genre": 2,
   "date_naissance": "1970-05-01T00:00:00.000Z", "accroche": "weekend hiking and board games"},
  {"id_utilisateur": 13, "ville": "Lyon", "region": "ARA", "pays": "FR", "id_genre": 2,
   "date_naissance": "1994-05-01T00:00:00.000Z", "accroche": "weekend hiking and board games"},
  {"id_utilisateur": 14, "ville": "Paris", "region": "IDF", "pays": "FR", "id_genre": 1,
   "date_naissance": "1994-05-01T00:00:00.000Z", "accroche": "weekend hiking and board games"},
  {"id_utilisateur": 15, "ville": "Paris", "region": "IDF", "pays": "FR", "id_genre": 2,
   "date_naissance": "1994-05-01T00:00:00.000Z"},
  {"ville": "Paris", "region": "IDF"}
]`

func TestE2E_ExportIngestMatch(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC)

	// 1. Setup: write the export to a temp dir
	path := filepath.Join(t.TempDir(), "users.json")
	if err := os.WriteFile(path, []byte(usersExport), 0o644); err != nil {
		t.Fatal(err)
	}

	// 2. Read the export
	reader := export.NewReader(export.WithClock(func() time.Time { return now }), export.WithLogger(quiet))
	recs, rejected, err := reader.ReadFile(path)
	if err != nil {
		t.Fatalf("reading export: %v", err)
	}
	if len(recs) != 6 || len(rejected) != 1 {
		t.Fatalf("expected 6 records and 1 rejected row, got %d and %d", len(recs), len(rejected))
	}

	// 3. Ingest through the pipeline
	st := memory.New()
	emb := fake.New(dims)
	metrics := observability.NewKindredMetrics()
	pipeline, err := ingest.New(st, emb,
		ingest.WithWorkers(3),
		ingest.WithLogger(quiet),
		ingest.WithMetrics(metrics),
	)
	if err != nil {
		t.Fatal(err)
	}
	defer pipeline.Release()

	report, err := pipeline.Ingest(ctx, recs)
	if err != nil {
		t.Fatalf("ingest failed: %v", err)
	}
	if report.Created != 6 || report.Skipped != 0 || len(report.Failed) != 0 {
		t.Fatalf("unexpected report: %+v", report)
	}
	if emb.CallCount() != 5 {
		t.Fatalf("expected 5 embeddings (one bio is empty), got %d", emb.CallCount())
	}

	// 4. Match
	engine := matching.New(st, matching.WithLogger(quiet), matching.WithMetrics(metrics))
	matches, err := engine.FindMatches(ctx, 10)
	if err != nil {
		t.Fatalf("match failed: %v", err)
	}
	// 11 shares city, category opposite, age within band and bio.
	// 12 is too old, 13 is in Lyon, 14 has the same category, 15 has no bio.
	if len(matches) != 1 || matches[0].UserID != 11 {
		t.Fatalf("expected only profile 11, got %+v", matches)
	}

	// 5. Re-ingest is a no-op
	again, err := pipeline.Ingest(ctx, recs)
	if err != nil {
		t.Fatal(err)
	}
	if again.Created != 0 || again.Skipped != 6 {
		t.Fatalf("expected every record skipped, got %+v", again)
	}
	if emb.CallCount() != 5 {
		t.Fatalf("re-ingest must not embed again, got %d calls", emb.CallCount())
	}

	// 6. Metrics reflect both batches
	w := httptest.NewRecorder()
	metrics.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(w.Body.String(), `kindred_ingest_records_total{outcome="skipped"} 6`) {
		t.Fatalf("expected skipped counter in metrics output:\n%s", w.Body.String())
	}
}

func TestE2E_EmbeddingOutageIsReported(t *testing.T) {
	ctx := context.Background()
	recs, _, err := export.NewReader(export.WithLogger(quiet)).Read(strings.NewReader(usersExport))
	if err != nil {
		t.Fatal(err)
	}

	emb := fake.New(dims)
	emb.EmbedFunc = func(ctx context.Context, text string) ([]float32, error) {
		return nil, embedding.ErrEmbeddingUnavailable
	}
	st := memory.New()
	pipeline, err := ingest.New(st, emb, ingest.WithLogger(quiet), ingest.WithMetrics(observability.NewKindredMetrics()))
	if err != nil {
		t.Fatal(err)
	}
	defer pipeline.Release()

	report, err := pipeline.Ingest(ctx, recs)
	if err != nil {
		t.Fatal(err)
	}
	if report.Created != 1 {
		t.Fatalf("only the record without a bio should be created, got %+v", report)
	}

	raw, err := json.Marshal(report)
	if err != nil {
		t.Fatal(err)
	}
	var decoded struct {
		Failed []struct {
			UserID int64  `json:"user_id"`
			Error  string `json:"error"`
		} `json:"failed"`
	}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatal(err)
	}
	if len(decoded.Failed) != 5 {
		t.Fatalf("expected 5 failures, got %d", len(decoded.Failed))
	}
	for i, f := range decoded.Failed {
		if f.Error != string(ingest.KindEmbeddingUnavailable) {
			t.Errorf("failure %d: expected EmbeddingUnavailable, got %s", i, f.Error)
		}
		if f.UserID != recs[i].UserID {
			t.Errorf("failure %d: expected input order, got user %d", i, f.UserID)
		}
	}
	if _, err := st.Get(ctx, 10); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("failed record must not be stored, got %v", err)
	}
}
