package http

import (
	"github.com/fyrsmithlabs/ragstore/internal/retriever"
	"github.com/fyrsmithlabs/ragstore/internal/storemanager"
)

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// ErrorResponse is returned for every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
	// Kind is a stable error label (store_not_found, dimension_mismatch, ...).
	Kind string `json:"kind"`
}

// DocumentInput is extracted text submitted for ingestion.
type DocumentInput struct {
	Text   string `json:"text"`
	Source string `json:"source"`
}

// CreateStoreRequest is the body of POST /api/v1/stores.
type CreateStoreRequest struct {
	Documents []DocumentInput `json:"documents"`
	BaseName  string          `json:"base_name,omitempty"`
}

// AddDocumentsRequest is the body of POST /api/v1/stores/:name/documents.
type AddDocumentsRequest struct {
	Documents []DocumentInput `json:"documents"`
}

// MergeStoresRequest is the body of POST /api/v1/stores/:name/merge.
type MergeStoresRequest struct {
	Source string `json:"source"`
}

// IngestResponse reports a completed ingestion.
type IngestResponse struct {
	Store      string                     `json:"store"`
	Segments   int                        `json:"segments"`
	Redactions int                        `json:"redactions"`
	Metadata   storemanager.StoreMetadata `json:"metadata"`
}

// ListStoresResponse is the response body for GET /api/v1/stores.
type ListStoresResponse struct {
	Stores []storemanager.StoreMetadata `json:"stores"`
}

// QueryRequest is the body of POST /api/v1/stores/:name/query.
type QueryRequest struct {
	Query string `json:"query"`
	K     int    `json:"k,omitempty"`
	// Scores includes similarity scores in the response.
	Scores bool `json:"scores,omitempty"`
}

// QueryResponse holds passages best first. Score is zero unless requested.
type QueryResponse struct {
	Passages []retriever.ScoredPassage `json:"passages"`
}

// ContextRequest is the body of POST /api/v1/stores/:name/context.
type ContextRequest struct {
	Question string `json:"question"`
	K        int    `json:"k,omitempty"`
}

// ScrubRequest is the body of POST /api/v1/scrub.
type ScrubRequest struct {
	Content string `json:"content"`
	Source  string `json:"source,omitempty"`
}

// ScrubResponse is the response body for POST /api/v1/scrub.
type ScrubResponse struct {
	Content       string `json:"content"`
	FindingsCount int    `json:"findings_count"`
}
