package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/efebarandurmaz/kindred/internal/matching"
	"github.com/efebarandurmaz/kindred/internal/observability"
	"github.com/efebarandurmaz/kindred/internal/profile"
	"github.com/efebarandurmaz/kindred/internal/store/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

type matcherFunc func(ctx context.Context, userID int64, opts ...matching.Option) ([]profile.Record, error)

func (f matcherFunc) FindMatches(ctx context.Context, userID int64, opts ...matching.Option) ([]profile.Record, error) {
	return f(ctx, userID, opts...)
}

func seededEngine(t *testing.T) *matching.Engine {
	t.Helper()
	st := memory.New()
	recs := []profile.Record{
		{UserID: 1, Age: 30, Category: profile.CategoryA, City: "Paris", Region: "IDF",
			Biography: "hiking", Embedding: []float32{1, 0}},
		{UserID: 2, Age: 31, Category: profile.CategoryB, City: "Paris", Region: "IDF",
			Biography: "hiking trips", Embedding: []float32{0.8, 0.6}},
		{UserID: 3, Age: 29, Category: profile.CategoryB, City: "Paris", Region: "IDF",
			Biography: "mountains", Embedding: []float32{0.6, 0.8}},
		{UserID: 4, Age: 30, Category: profile.CategoryB, City: "Lyon", Region: "ARA",
			Biography: "hiking", Embedding: []float32{1, 0}},
	}
	for _, r := range recs {
		_, err := st.UpsertIfAbsent(context.Background(), r)
		require.NoError(t, err)
	}
	return matching.New(st, matching.WithLogger(quiet), matching.WithMetrics(observability.NewKindredMetrics()))
}

func serve(t *testing.T, m Matcher, target string) (*httptest.ResponseRecorder, map[string]json.RawMessage) {
	t.Helper()
	mux := http.NewServeMux()
	NewAPI(m, quiet).Register(mux)
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodGet, target, nil))
	var body map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return w, body
}

func TestAPI_Root(t *testing.T) {
	w, body := serve(t, seededEngine(t), "/")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, string(body["message"]), "Welcome")
}

func TestAPI_Matches(t *testing.T) {
	w, _ := serve(t, seededEngine(t), "/profiles/1/matches")
	require.Equal(t, http.StatusOK, w.Code)

	var resp MatchResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, int64(1), resp.UserID)
	require.Len(t, resp.Matches, 2, "Lyon candidate is filtered by location")
	assert.Equal(t, int64(2), resp.Matches[0].UserID)
	assert.Equal(t, int64(3), resp.Matches[1].UserID)
}

func TestAPI_MatchesQueryParameters(t *testing.T) {
	w, _ := serve(t, seededEngine(t), "/profiles/1/matches?k=1&threshold=0.7&age_band=2")
	require.Equal(t, http.StatusOK, w.Code)

	var resp MatchResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Len(t, resp.Matches, 1)
	assert.Equal(t, int64(2), resp.Matches[0].UserID)
}

func TestAPI_MatchesEmptyIsArray(t *testing.T) {
	w, body := serve(t, seededEngine(t), "/profiles/1/matches?threshold=0.99")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, string(body["matches"]))
}

func TestAPI_MatchesNotFound(t *testing.T) {
	w, body := serve(t, seededEngine(t), "/profiles/99/matches")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, string(body["error"]), "99")
}

func TestAPI_MatchesBadRequest(t *testing.T) {
	for _, target := range []string{
		"/profiles/abc/matches",
		"/profiles/0/matches",
		"/profiles/1/matches?k=x",
		"/profiles/1/matches?threshold=high",
		"/profiles/1/matches?age_band=1.5",
		"/profiles/1/matches?k=0",
		"/profiles/1/matches?threshold=2",
	} {
		t.Run(target, func(t *testing.T) {
			w, body := serve(t, seededEngine(t), target)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.NotEmpty(t, body["error"])
		})
	}
}

func TestAPI_MatchesQueryFailed(t *testing.T) {
	failing := matcherFunc(func(ctx context.Context, userID int64, opts ...matching.Option) ([]profile.Record, error) {
		return nil, errors.Join(matching.ErrQueryFailed, errors.New("connection reset"))
	})
	w, body := serve(t, failing, "/profiles/1/matches")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, string(body["error"]), "connection reset")
}

func TestServer_RoutesAndShutdown(t *testing.T) {
	metrics := observability.NewKindredMetrics()
	srv := New(seededEngine(t), Config{
		Version:         "test",
		ShutdownTimeout: time.Second,
		Logger:          quiet,
		Metrics:         metrics.Handler(),
	})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.ServeListener(ctx, ln) }()

	base := "http://" + ln.Addr().String()
	require.Eventually(t, func() bool {
		resp, err := http.Get(base + "/ready")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	resp, err := http.Get(base + "/profiles/1/matches")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(base + "/metrics")
	require.NoError(t, err)
	raw, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(raw), "kindred_match_requests_total"))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("server did not shut down")
	}
}
