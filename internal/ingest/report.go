package ingest

import (
	"context"
	"errors"

	"github.com/efebarandurmaz/kindred/internal/embedding"
	"github.com/efebarandurmaz/kindred/internal/profile"
)

// Kind classifies a per-record failure.
type Kind string

const (
	KindValidation           Kind = "ValidationError"
	KindEmbeddingUnavailable Kind = "EmbeddingUnavailable"
	KindStore                Kind = "StoreError"
	KindCanceled             Kind = "Canceled"
)

// Failure describes one record that was not written.
type Failure struct {
	UserID int64  `json:"user_id"`
	Kind   Kind   `json:"error"`
	Detail string `json:"detail"`
	Err    error  `json:"-"`
}

// Report summarizes one Ingest call. Failed is ordered like the input.
type Report struct {
	Created int       `json:"created"`
	Skipped int       `json:"skipped"`
	Failed  []Failure `json:"failed"`
	// NotAttempted lists ids never started because the context was done.
	NotAttempted []int64 `json:"not_attempted,omitempty"`
}

// FailedIDs returns the ids of failed records, suitable for a retry batch.
func (r *Report) FailedIDs() []int64 {
	ids := make([]int64, len(r.Failed))
	for i, f := range r.Failed {
		ids[i] = f.UserID
	}
	return ids
}

// Processed is the number of records that reached a final outcome.
func (r *Report) Processed() int {
	return r.Created + r.Skipped + len(r.Failed)
}

func newFailure(userID int64, kind Kind, err error) Failure {
	return Failure{UserID: userID, Kind: kind, Detail: err.Error(), Err: err}
}

// classify picks the failure kind for err raised at a given step; context
// errors always report as cancellation.
func classify(step Kind, err error) Kind {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCanceled
	case errors.Is(err, profile.ErrInvalidRecord):
		return KindValidation
	case errors.Is(err, embedding.ErrEmbeddingUnavailable), errors.Is(err, embedding.ErrDimensionMismatch):
		return KindEmbeddingUnavailable
	}
	return step
}
