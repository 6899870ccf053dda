package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

// embeddingServer answers /embeddings with a fixed vector and keeps the last
// request body.
func embeddingServer(t *testing.T, vec []float32) (*httptest.Server, func() map[string]any) {
	t.Helper()
	var (
		mu   sync.Mutex
		last map[string]any
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embeddings" {
			http.NotFound(w, r)
			return
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		mu.Lock()
		last = body
		mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"object": "list",
			"data": []map[string]any{
				{"object": "embedding", "embedding": vec, "index": 0},
			},
			"model": body["model"],
		})
	}))
	t.Cleanup(srv.Close)
	return srv, func() map[string]any {
		mu.Lock()
		defer mu.Unlock()
		return last
	}
}

func TestEmbed_SendsDimensions(t *testing.T) {
	srv, lastBody := embeddingServer(t, []float32{0.1, 0.2, 0.3})

	c, err := New(Config{BaseURL: srv.URL, Model: "text-embedding-3-small", Dimensions: 3})
	if err != nil {
		t.Fatal(err)
	}
	vec, err := c.Embed(context.Background(), "likes hiking")
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if len(vec) != 3 {
		t.Fatalf("expected 3 components, got %d", len(vec))
	}

	body := lastBody()
	if body == nil {
		t.Fatal("server saw no request")
	}
	if got, ok := body["dimensions"].(float64); !ok || got != 3 {
		t.Errorf("dimensions = %v, want 3", body["dimensions"])
	}
	if got := body["model"]; got != "text-embedding-3-small" {
		t.Errorf("model = %v", got)
	}
}

func TestNew_Defaults(t *testing.T) {
	c, err := New(Config{Dimensions: 1536})
	if err != nil {
		t.Fatal(err)
	}
	if c.Model() != defaultModel {
		t.Errorf("model = %q, want %q", c.Model(), defaultModel)
	}
	if c.Name() != "openai" || c.Dimensions() != 1536 {
		t.Errorf("unexpected client %s/%d", c.Name(), c.Dimensions())
	}

	if _, err := New(Config{}); err == nil {
		t.Error("expected an error for zero dimensions")
	}
}
