package retriever

import (
	"context"
	"fmt"
	"strconv"

	"github.com/tmc/langchaingo/schema"
	"github.com/tmc/langchaingo/vectorstores"

	"github.com/fyrsmithlabs/ragstore/internal/ragerr"
	"github.com/fyrsmithlabs/ragstore/internal/storemanager"
	"github.com/fyrsmithlabs/ragstore/internal/vectorstore"
)

// MetadataSource is the schema.Document metadata key holding a passage's
// source attribution.
const MetadataSource = "source"

// DocumentEmbedder embeds document batches. *embeddings.Gateway satisfies it.
type DocumentEmbedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
}

// Merger appends records to a persisted store. *storemanager.Manager
// satisfies it.
type Merger interface {
	Merge(ctx context.Context, req storemanager.MergeRequest) (storemanager.StoreMetadata, error)
}

// VectorStore exposes one named store as a langchaingo vector store.
// Embedder and Merger are only needed for AddDocuments.
type VectorStore struct {
	Retriever *Retriever
	Store     string
	Embedder  DocumentEmbedder
	Merger    Merger
}

var _ vectorstores.VectorStore = (*VectorStore)(nil)

// SimilaritySearch returns the numDocuments best passages as documents.
// WithScoreThreshold drops passages scoring below the threshold.
func (v *VectorStore) SimilaritySearch(ctx context.Context, query string, numDocuments int, options ...vectorstores.Option) ([]schema.Document, error) {
	opts := vectorstores.Options{}
	for _, o := range options {
		o(&opts)
	}
	if opts.NameSpace != "" && opts.NameSpace != v.Store {
		return nil, fmt.Errorf("%w: namespace %q does not match store %q", ragerr.ErrInvalidParameter, opts.NameSpace, v.Store)
	}

	scored, err := v.Retriever.RetrieveScored(ctx, query, v.Store, numDocuments)
	if err != nil {
		return nil, err
	}
	docs := make([]schema.Document, 0, len(scored))
	for _, s := range scored {
		if float32(s.Score) < opts.ScoreThreshold {
			continue
		}
		docs = append(docs, schema.Document{
			PageContent: s.Text,
			Metadata:    map[string]any{MetadataSource: s.Source},
			Score:       float32(s.Score),
		})
	}
	return docs, nil
}

// AddDocuments embeds docs and merges them into the store. The returned
// ids are the records' positions in the store.
func (v *VectorStore) AddDocuments(ctx context.Context, docs []schema.Document, _ ...vectorstores.Option) ([]string, error) {
	if v.Embedder == nil || v.Merger == nil {
		return nil, fmt.Errorf("%w: vector store %q is read-only", ragerr.ErrInvalidParameter, v.Store)
	}
	if len(docs) == 0 {
		return []string{}, nil
	}

	texts := make([]string, len(docs))
	for i, d := range docs {
		texts[i] = d.PageContent
	}
	vectors, err := v.Embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, err
	}

	records := make([]vectorstore.Record, len(docs))
	for i, d := range docs {
		source, _ := d.Metadata[MetadataSource].(string)
		records[i] = vectorstore.Record{Text: d.PageContent, Vector: vectors[i], Source: source}
	}
	md, err := v.Merger.Merge(ctx, storemanager.MergeRequest{Target: v.Store, Records: records})
	if err != nil {
		return nil, err
	}

	first := md.RecordCount - len(records)
	ids := make([]string, len(records))
	for i := range ids {
		ids[i] = strconv.Itoa(first + i)
	}
	return ids, nil
}

// AsSchemaRetriever returns a langchaingo retriever over one store that
// returns k documents per query.
func (r *Retriever) AsSchemaRetriever(store string, k int) schema.Retriever {
	return vectorstores.ToRetriever(&VectorStore{Retriever: r, Store: store}, k)
}
