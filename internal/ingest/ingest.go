// Package ingest turns documents into records and persists them.
//
// A run is: optional secret scrubbing, chunking, one embedding batch per
// run, then a single Create or Merge. Every failure before the store
// manager call leaves the namespace untouched.
package ingest

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragstore/internal/chunker"
	"github.com/fyrsmithlabs/ragstore/internal/logging"
	"github.com/fyrsmithlabs/ragstore/internal/ragerr"
	"github.com/fyrsmithlabs/ragstore/internal/secrets"
	"github.com/fyrsmithlabs/ragstore/internal/storemanager"
	"github.com/fyrsmithlabs/ragstore/internal/vectorstore"
)

const instrumentationName = "github.com/fyrsmithlabs/ragstore/internal/ingest"

// Embedder embeds segment batches. *embeddings.Gateway satisfies it.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Scrubber redacts secrets. *secrets.Scrubber satisfies it.
type Scrubber interface {
	Scrub(ctx context.Context, source, text string) (string, secrets.Report, error)
}

// Stores persists records. *storemanager.Manager satisfies it.
type Stores interface {
	Create(ctx context.Context, req storemanager.CreateStoreRequest) (string, error)
	Merge(ctx context.Context, req storemanager.MergeRequest) (storemanager.StoreMetadata, error)
	Stat(ctx context.Context, name string) (storemanager.StoreMetadata, error)
}

// Result describes a completed ingestion.
type Result struct {
	Store      string                     `json:"store"`
	Documents  int                        `json:"documents"`
	Segments   int                        `json:"segments"`
	Redactions int                        `json:"redactions"`
	Metadata   storemanager.StoreMetadata `json:"metadata"`
}

// Pipeline wires chunker, embedder and store manager together.
type Pipeline struct {
	chunker  chunker.Chunker
	embedder Embedder
	stores   Stores
	scrubber Scrubber
	logger   *logging.Logger
	tracer   trace.Tracer
	now      func() time.Time
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithScrubber redacts secrets before chunking.
func WithScrubber(s Scrubber) Option {
	return func(p *Pipeline) { p.scrubber = s }
}

// WithLogger sets the pipeline logger.
func WithLogger(l *logging.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// WithTracerProvider sets the provider spans are created on.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(p *Pipeline) { p.tracer = tp.Tracer(instrumentationName) }
}

// New returns a Pipeline.
func New(ch chunker.Chunker, emb Embedder, stores Stores, opts ...Option) (*Pipeline, error) {
	if ch == nil || emb == nil || stores == nil {
		return nil, fmt.Errorf("%w: pipeline needs a chunker, an embedder and a store manager", ragerr.ErrInvalidParameter)
	}
	p := &Pipeline{
		chunker:  ch,
		embedder: emb,
		stores:   stores,
		logger:   logging.Nop(),
		tracer:   otel.Tracer(instrumentationName),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Records scrubs, chunks and embeds docs. Segments keep document order and
// each record carries its document's source and ingestion time.
func (p *Pipeline) Records(ctx context.Context, docs []chunker.Document) ([]vectorstore.Record, Result, error) {
	var res Result
	res.Documents = len(docs)

	var (
		texts   []string
		records []vectorstore.Record
	)
	for _, doc := range docs {
		if err := ctx.Err(); err != nil {
			return nil, res, err
		}
		text := doc.Text
		if p.scrubber != nil {
			scrubbed, report, err := p.scrubber.Scrub(ctx, doc.Source, text)
			if err != nil {
				return nil, res, fmt.Errorf("scrub %s: %w", doc.Source, err)
			}
			text = scrubbed
			res.Redactions += report.Total()
		}

		segments, err := p.chunker.Chunk(text)
		if err != nil {
			return nil, res, err
		}
		created := doc.IngestedAt
		if created.IsZero() {
			created = p.now()
		}
		for _, seg := range segments {
			texts = append(texts, seg.Text)
			records = append(records, vectorstore.Record{
				Text:      seg.Text,
				Source:    doc.Source,
				CreatedAt: created,
			})
		}
	}
	res.Segments = len(records)
	if len(records) == 0 {
		return records, res, nil
	}

	vectors, err := p.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, res, err
	}
	if len(vectors) != len(records) {
		return nil, res, fmt.Errorf("%w: got %d vectors for %d segments",
			ragerr.ErrEmbeddingService, len(vectors), len(records))
	}
	for i := range records {
		records[i].Vector = vectors[i]
	}
	return records, res, nil
}

// IngestNew stores docs in a newly named store. baseName may be empty to
// use the configured base. A run that yields no segments fails with
// ErrInvalidParameter.
func (p *Pipeline) IngestNew(ctx context.Context, docs []chunker.Document, baseName string) (_ Result, err error) {
	ctx = logging.WithOperation(ctx, "ingest_new")
	ctx, span := p.tracer.Start(ctx, "Pipeline.IngestNew", trace.WithAttributes(
		attribute.Int("ingest.documents", len(docs)),
	))
	defer func() { endSpan(span, err) }()

	records, res, err := p.Records(ctx, docs)
	if err != nil {
		return res, err
	}
	if len(records) == 0 {
		return res, fmt.Errorf("%w: documents contain no text", ragerr.ErrInvalidParameter)
	}

	name, err := p.stores.Create(ctx, storemanager.CreateStoreRequest{Records: records, BaseName: baseName})
	if err != nil {
		return res, err
	}
	res.Store = name
	if md, err := p.stores.Stat(ctx, name); err == nil {
		res.Metadata = md
	} else {
		// The store is committed; a failed read-back only loses the metadata.
		p.logger.Warn(ctx, "failed to read metadata of new store", zap.String("store", name), zap.Error(err))
		res.Metadata = storemanager.StoreMetadata{Name: name, RecordCount: len(records), Dimension: len(records[0].Vector)}
	}

	span.SetAttributes(attribute.String("store.name", name), attribute.Int("ingest.segments", res.Segments))
	p.logger.Info(logging.WithStore(ctx, name), "ingested documents into new store",
		zap.Int("documents", res.Documents),
		zap.Int("segments", res.Segments),
		zap.Int("redactions", res.Redactions))
	return res, nil
}

// IngestInto merges docs into an existing store.
func (p *Pipeline) IngestInto(ctx context.Context, docs []chunker.Document, target string) (_ Result, err error) {
	ctx = logging.WithStore(logging.WithOperation(ctx, "ingest_merge"), target)
	ctx, span := p.tracer.Start(ctx, "Pipeline.IngestInto", trace.WithAttributes(
		attribute.String("store.name", target),
		attribute.Int("ingest.documents", len(docs)),
	))
	defer func() { endSpan(span, err) }()

	// Fail before spending embedding calls on a store that is not there.
	// Merge checks again under the store lock.
	if _, err := p.stores.Stat(ctx, target); err != nil {
		return Result{}, err
	}
	records, res, err := p.Records(ctx, docs)
	if err != nil {
		return res, err
	}
	md, err := p.stores.Merge(ctx, storemanager.MergeRequest{Target: target, Records: records})
	if err != nil {
		return res, err
	}
	res.Store = target
	res.Metadata = md

	span.SetAttributes(attribute.Int("ingest.segments", res.Segments))
	p.logger.Info(ctx, "ingested documents into existing store",
		zap.Int("documents", res.Documents),
		zap.Int("segments", res.Segments),
		zap.Int("redactions", res.Redactions),
		zap.Int("records", md.RecordCount))
	return res, nil
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, ragerr.Kind(err))
	}
	span.End()
}
