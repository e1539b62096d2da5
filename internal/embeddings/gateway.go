package embeddings

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/ragstore/internal/config"
	"github.com/fyrsmithlabs/ragstore/internal/logging"
	"github.com/fyrsmithlabs/ragstore/internal/ragerr"
)

const (
	defaultBatchSize   = 32
	defaultBaseBackoff = 200 * time.Millisecond
)

// Gateway is the embedding entry point for the rest of the system. A
// batch either yields exactly one vector per input, in input order and all
// of one dimension, or fails as a whole.
type Gateway struct {
	provider    Provider
	model       string
	batchSize   int
	dimension   int
	maxRetries  int
	baseBackoff time.Duration
	limiter     *rate.Limiter
	metrics     *Metrics
	logger      *logging.Logger
	tracer      trace.Tracer
}

// GatewayOption configures a Gateway.
type GatewayOption func(*Gateway)

// WithLogger sets the gateway logger.
func WithLogger(l *logging.Logger) GatewayOption {
	return func(g *Gateway) { g.logger = l }
}

// WithMetrics replaces the instruments created on the global meter.
func WithMetrics(m *Metrics) GatewayOption {
	return func(g *Gateway) { g.metrics = m }
}

// WithTracerProvider sets the provider spans are created on.
func WithTracerProvider(tp trace.TracerProvider) GatewayOption {
	return func(g *Gateway) { g.tracer = tp.Tracer(instrumentationName) }
}

// WithBackoff sets the delay before the first retry. Later retries double it.
func WithBackoff(d time.Duration) GatewayOption {
	return func(g *Gateway) { g.baseBackoff = d }
}

// NewGateway wraps p. cfg supplies the batch size, rate limit, retry count
// and the expected dimension; a zero cfg.Dimension means the provider's.
func NewGateway(p Provider, cfg config.EmbeddingsConfig, opts ...GatewayOption) (*Gateway, error) {
	if p == nil {
		return nil, fmt.Errorf("%w: nil embeddings provider", ragerr.ErrInvalidParameter)
	}
	if cfg.BatchSize < 0 || cfg.MaxRetries < 0 || cfg.RateLimit < 0 {
		return nil, fmt.Errorf("%w: negative gateway setting", ragerr.ErrInvalidParameter)
	}

	g := &Gateway{
		provider:    p,
		model:       cfg.Model,
		batchSize:   cfg.BatchSize,
		dimension:   cfg.Dimension,
		maxRetries:  cfg.MaxRetries,
		baseBackoff: defaultBaseBackoff,
		limiter:     rate.NewLimiter(rate.Inf, 0),
		logger:      logging.Nop(),
		tracer:      otel.Tracer(instrumentationName),
	}
	if g.batchSize == 0 {
		g.batchSize = defaultBatchSize
	}
	if g.dimension == 0 {
		g.dimension = p.Dimension()
	}
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.metrics == nil {
		g.metrics = NewMetrics(g.logger)
	}
	return g, nil
}

// Dimension returns the vector length every result is checked against, or
// 0 if it is taken from the first response.
func (g *Gateway) Dimension() int {
	return g.dimension
}

// Model returns the configured model name.
func (g *Gateway) Model() string {
	return g.model
}

// Close closes the provider.
func (g *Gateway) Close() error {
	return g.provider.Close()
}

// EmbedBatch embeds texts in provider calls of at most the configured batch
// size. An empty input yields an empty result without calling the provider.
func (g *Gateway) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	ctx, span := g.tracer.Start(ctx, "Gateway.EmbedBatch", trace.WithAttributes(
		attribute.String("embedding.model", g.model),
		attribute.Int("embedding.texts", len(texts)),
	))
	defer span.End()

	out := make([][]float32, 0, len(texts))
	dim := g.dimension
	for start := 0; start < len(texts); start += g.batchSize {
		end := min(start+g.batchSize, len(texts))
		batch := texts[start:end]

		vectors, err := g.call(ctx, "embed_documents", len(batch), func(ctx context.Context) ([][]float32, error) {
			return g.provider.EmbedDocuments(ctx, batch)
		})
		if err == nil {
			dim, err = checkVectors(vectors, len(batch), dim)
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, ragerr.Kind(err))
			g.logger.Warn(ctx, "embedding batch failed",
				zap.String("model", g.model),
				zap.Int("offset", start),
				zap.Int("size", len(batch)),
				zap.Error(err))
			return nil, err
		}
		out = append(out, vectors...)
	}

	span.SetAttributes(attribute.Int("embedding.dimension", dim))
	return out, nil
}

// EmbedDocuments is EmbedBatch. It lets the gateway stand in wherever a
// langchaingo embeddings.Embedder is expected.
func (g *Gateway) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	return g.EmbedBatch(ctx, texts)
}

// EmbedQuery embeds a single search query.
func (g *Gateway) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	ctx, span := g.tracer.Start(ctx, "Gateway.EmbedQuery", trace.WithAttributes(
		attribute.String("embedding.model", g.model),
	))
	defer span.End()

	vectors, err := g.call(ctx, "embed_query", 1, func(ctx context.Context) ([][]float32, error) {
		v, err := g.provider.EmbedQuery(ctx, text)
		if err != nil {
			return nil, err
		}
		return [][]float32{v}, nil
	})
	if err == nil {
		_, err = checkVectors(vectors, 1, g.dimension)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, ragerr.Kind(err))
		return nil, err
	}
	return vectors[0], nil
}

// call runs fn under the rate limiter, retrying transient failures with
// exponential backoff. Context errors are returned unwrapped; every other
// failure wraps ErrEmbeddingService.
func (g *Gateway) call(ctx context.Context, op string, n int, fn func(context.Context) ([][]float32, error)) ([][]float32, error) {
	var lastErr error
	for attempt := 0; attempt <= g.maxRetries; attempt++ {
		if attempt > 0 {
			g.metrics.RecordRetry(ctx, g.model, op)
			backoff := g.baseBackoff * time.Duration(1<<(attempt-1))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		if err := g.limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("%w: rate limiter: %v", ragerr.ErrEmbeddingService, err)
		}

		start := time.Now()
		vectors, err := fn(ctx)
		g.metrics.RecordGeneration(ctx, g.model, op, time.Since(start), n, err)
		if err == nil {
			return vectors, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, ragerr.ErrInvalidParameter) {
			return nil, err
		}

		lastErr = err
		if !isRetryableError(err) {
			break
		}
		g.logger.Debug(ctx, "retrying embedding call",
			zap.String("operation", op),
			zap.Int("attempt", attempt+1),
			zap.Error(err))
	}
	return nil, fmt.Errorf("%w: %v", ragerr.ErrEmbeddingService, lastErr)
}

// checkVectors verifies a provider response: one non-empty vector per
// input, all of length dim (or of the first vector's length when dim is 0).
// It returns the established dimension.
func checkVectors(vectors [][]float32, want, dim int) (int, error) {
	if len(vectors) != want {
		return dim, fmt.Errorf("%w: provider returned %d vectors for %d texts",
			ragerr.ErrEmbeddingService, len(vectors), want)
	}
	for i, v := range vectors {
		if len(v) == 0 {
			return dim, fmt.Errorf("%w: provider returned an empty vector at %d", ragerr.ErrEmbeddingService, i)
		}
		if dim == 0 {
			dim = len(v)
		}
		if len(v) != dim {
			return dim, fmt.Errorf("%w: provider returned dimension %d at %d, expected %d",
				ragerr.ErrDimensionMismatch, len(v), i, dim)
		}
	}
	return dim, nil
}
