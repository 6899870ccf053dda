package ingest

import "errors"

var (
	// ErrStoreRequired is returned when a profile store is not provided.
	ErrStoreRequired = errors.New("profile store required")

	// ErrEmbedderRequired is returned when an embedding provider is not provided.
	ErrEmbedderRequired = errors.New("embedding provider required")

	// ErrBatchAborted is returned when the store cannot be reached or
	// prepared before any record is processed.
	ErrBatchAborted = errors.New("ingestion batch aborted")
)
