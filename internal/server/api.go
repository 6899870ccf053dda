package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/efebarandurmaz/kindred/internal/matching"
	"github.com/efebarandurmaz/kindred/internal/profile"
)

// Matcher is the read path served by the API.
type Matcher interface {
	FindMatches(ctx context.Context, userID int64, opts ...matching.Option) ([]profile.Record, error)
}

// MatchResponse is the body of a successful match query.
type MatchResponse struct {
	UserID  int64            `json:"user_id"`
	Matches []profile.Record `json:"matches"`
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
}

// API serves the profile endpoints.
type API struct {
	matcher Matcher
	logger  *slog.Logger
}

// NewAPI creates the API over matcher. A nil logger uses slog.Default().
func NewAPI(matcher Matcher, logger *slog.Logger) *API {
	if logger == nil {
		logger = slog.Default()
	}
	return &API{matcher: matcher, logger: logger}
}

// Register mounts the API routes on mux.
func (a *API) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /{$}", a.handleRoot)
	mux.HandleFunc("GET /profiles/{id}/matches", a.handleMatches)
}

func (a *API) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "Welcome to kindred"})
}

// handleMatches answers GET /profiles/{id}/matches?k=&threshold=&age_band=.
func (a *API) handleMatches(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || userID <= 0 {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "profile id must be a positive integer"})
		return
	}
	opts, err := matchOptions(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	matches, err := a.matcher.FindMatches(r.Context(), userID, opts...)
	switch {
	case errors.Is(err, matching.ErrNotFound):
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: fmt.Sprintf("profile %d not found", userID)})
		return
	case errors.Is(err, matching.ErrInvalidOptions):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	case err != nil:
		a.logger.Error("match request failed", "user_id", userID, "err", err)
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "match query failed"})
		return
	}

	if matches == nil {
		matches = []profile.Record{}
	}
	writeJSON(w, http.StatusOK, MatchResponse{UserID: userID, Matches: matches})
}

func matchOptions(r *http.Request) ([]matching.Option, error) {
	q := r.URL.Query()
	var opts []matching.Option

	if v := q.Get("k"); v != "" {
		k, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("k: %q is not an integer", v)
		}
		opts = append(opts, matching.WithK(k))
	}
	if v := q.Get("threshold"); v != "" {
		t, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("threshold: %q is not a number", v)
		}
		opts = append(opts, matching.WithThreshold(t))
	}
	if v := q.Get("age_band"); v != "" {
		band, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("age_band: %q is not an integer", v)
		}
		opts = append(opts, matching.WithAgeBand(band))
	}
	return opts, nil
}
