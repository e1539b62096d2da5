// Package ragerr defines the error taxonomy shared by the ingestion and
// retrieval pipeline.
//
// Components wrap one of the sentinels below with operation detail:
//
//	return fmt.Errorf("%w: chunk size %d", ragerr.ErrInvalidParameter, size)
//
// and callers classify failures with errors.Is or Kind.
package ragerr

import (
	"context"
	"errors"
)

var (
	// ErrInvalidParameter is returned for bad chunking or configuration input.
	// It is always raised before any I/O happens.
	ErrInvalidParameter = errors.New("invalid parameter")

	// ErrEmbeddingService is returned when the external embedding capability
	// fails. The whole batch may be retried.
	ErrEmbeddingService = errors.New("embedding service error")

	// ErrDimensionMismatch signals a vector whose length disagrees with the
	// store's established dimension. Never retried.
	ErrDimensionMismatch = errors.New("dimension mismatch")

	// ErrStoreNotFound is returned for operations on a store name that does
	// not exist in the namespace.
	ErrStoreNotFound = errors.New("store not found")

	// ErrPersistence wraps I/O failures while reading or writing stores.
	ErrPersistence = errors.New("persistence error")

	// ErrNameCollision is returned when no unique store name could be
	// generated within the configured number of attempts.
	ErrNameCollision = errors.New("name collision")
)

// Kind labels.
const (
	KindInvalidParameter  = "invalid_parameter"
	KindEmbeddingService  = "embedding_service"
	KindDimensionMismatch = "dimension_mismatch"
	KindStoreNotFound     = "store_not_found"
	KindPersistence       = "persistence"
	KindNameCollision     = "name_collision"
	KindCanceled          = "canceled"
	KindInternal          = "internal"
)

var kinds = []struct {
	err  error
	kind string
}{
	{ErrInvalidParameter, KindInvalidParameter},
	{ErrEmbeddingService, KindEmbeddingService},
	{ErrDimensionMismatch, KindDimensionMismatch},
	{ErrStoreNotFound, KindStoreNotFound},
	{ErrPersistence, KindPersistence},
	{ErrNameCollision, KindNameCollision},
}

// Kind returns a stable label for err, suitable for metric labels and API
// error codes. A nil error yields the empty string.
func Kind(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindCanceled
	}
	return KindInternal
}

// Retryable reports whether the caller may retry the whole operation.
func Retryable(err error) bool {
	return errors.Is(err, ErrEmbeddingService) || errors.Is(err, ErrPersistence)
}
