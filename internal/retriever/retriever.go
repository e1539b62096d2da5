// Package retriever answers top-k queries against named stores.
//
// Loaded stores are cached by name. A cached handle is reused only while
// its manifest revision matches the persisted one, so a merge or delete
// through any process is picked up on the next query.
package retriever

import (
	"context"
	"fmt"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragstore/internal/config"
	"github.com/fyrsmithlabs/ragstore/internal/logging"
	"github.com/fyrsmithlabs/ragstore/internal/ragerr"
	"github.com/fyrsmithlabs/ragstore/internal/storemanager"
	"github.com/fyrsmithlabs/ragstore/internal/vectorstore"
)

const (
	instrumentationName = "github.com/fyrsmithlabs/ragstore/internal/retriever"

	defaultTopK      = 4
	defaultCacheSize = 16
)

// QueryEmbedder embeds search queries. *embeddings.Gateway satisfies it.
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Stores reads persisted stores. *storemanager.Manager satisfies it.
type Stores interface {
	Stat(ctx context.Context, name string) (storemanager.StoreMetadata, error)
	Open(ctx context.Context, name string) (*vectorstore.Store, storemanager.StoreMetadata, error)
}

// Passage is one retrieved segment with its source attribution.
type Passage struct {
	Text   string `json:"text"`
	Source string `json:"source"`
}

// ScoredPassage is a Passage with its cosine similarity to the query.
type ScoredPassage struct {
	Passage
	Score float64 `json:"score"`
}

type handle struct {
	store    *vectorstore.Store
	revision string
}

// Retriever embeds a query and searches a named store.
type Retriever struct {
	embedder QueryEmbedder
	stores   Stores
	topK     int
	cache    *lru.Cache[string, handle]
	logger   *logging.Logger
	tracer   trace.Tracer
}

// Option configures a Retriever.
type Option func(*Retriever)

// WithLogger sets the retriever logger.
func WithLogger(l *logging.Logger) Option {
	return func(r *Retriever) { r.logger = l }
}

// WithTracerProvider sets the provider spans are created on.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(r *Retriever) { r.tracer = tp.Tracer(instrumentationName) }
}

// New returns a Retriever. cfg.TopK is used when a caller passes k <= 0;
// cfg.CacheSize bounds the number of loaded stores kept in memory.
func New(embedder QueryEmbedder, stores Stores, cfg config.RetrievalConfig, opts ...Option) (*Retriever, error) {
	if embedder == nil || stores == nil {
		return nil, fmt.Errorf("%w: retriever needs an embedder and a store source", ragerr.ErrInvalidParameter)
	}
	topK := cfg.TopK
	if topK <= 0 {
		topK = defaultTopK
	}
	size := cfg.CacheSize
	if size <= 0 {
		size = defaultCacheSize
	}
	cache, err := lru.New[string, handle](size)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ragerr.ErrInvalidParameter, err)
	}

	r := &Retriever{
		embedder: embedder,
		stores:   stores,
		topK:     topK,
		cache:    cache,
		logger:   logging.Nop(),
		tracer:   otel.Tracer(instrumentationName),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// TopK returns the default result count.
func (r *Retriever) TopK() int {
	return r.topK
}

// Retrieve returns the text and source of the k records most similar to
// query, best first. k <= 0 uses the configured default.
func (r *Retriever) Retrieve(ctx context.Context, query, store string, k int) ([]Passage, error) {
	scored, err := r.RetrieveScored(ctx, query, store, k)
	if err != nil {
		return nil, err
	}
	out := make([]Passage, len(scored))
	for i, s := range scored {
		out[i] = s.Passage
	}
	return out, nil
}

// RetrieveScored is Retrieve with similarity scores.
func (r *Retriever) RetrieveScored(ctx context.Context, query, store string, k int) (_ []ScoredPassage, err error) {
	if k <= 0 {
		k = r.topK
	}
	ctx = logging.WithStore(ctx, store)
	ctx, span := r.tracer.Start(ctx, "Retriever.Retrieve", trace.WithAttributes(
		attribute.String("store.name", store),
		attribute.Int("retrieval.k", k),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, ragerr.Kind(err))
		}
		span.End()
	}()

	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: empty query", ragerr.ErrInvalidParameter)
	}

	st, err := r.load(ctx, store)
	if err != nil {
		return nil, err
	}
	vec, err := r.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, err
	}
	results, err := st.Search(ctx, vec, k)
	if err != nil {
		return nil, err
	}

	span.SetAttributes(attribute.Int("retrieval.results", len(results)))
	r.logger.Debug(ctx, "retrieved passages", zap.Int("k", k), zap.Int("results", len(results)))

	out := make([]ScoredPassage, len(results))
	for i, res := range results {
		out[i] = ScoredPassage{
			Passage: Passage{Text: res.Record.Text, Source: res.Record.Source},
			Score:   res.Score,
		}
	}
	return out, nil
}

// Search runs a raw vector query against a store.
func (r *Retriever) Search(ctx context.Context, store string, query []float32, k int) ([]vectorstore.Result, error) {
	if k <= 0 {
		k = r.topK
	}
	st, err := r.load(ctx, store)
	if err != nil {
		return nil, err
	}
	return st.Search(ctx, query, k)
}

// Invalidate drops the cached handle for name.
func (r *Retriever) Invalidate(name string) {
	r.cache.Remove(name)
}

// load returns a handle whose revision matches the persisted manifest.
func (r *Retriever) load(ctx context.Context, name string) (*vectorstore.Store, error) {
	if h, ok := r.cache.Get(name); ok {
		md, err := r.stores.Stat(ctx, name)
		if err != nil {
			r.cache.Remove(name)
			return nil, err
		}
		if md.Revision == h.revision {
			return h.store, nil
		}
		r.logger.Debug(ctx, "cached store is stale, reloading",
			zap.String("cached_revision", h.revision),
			zap.String("revision", md.Revision))
	}

	st, md, err := r.stores.Open(ctx, name)
	if err != nil {
		r.cache.Remove(name)
		return nil, err
	}
	r.cache.Add(name, handle{store: st, revision: md.Revision})
	return st, nil
}
