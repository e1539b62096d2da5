package embeddings

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/fyrsmithlabs/ragstore/internal/logging"
	"github.com/fyrsmithlabs/ragstore/internal/ragerr"
)

func collect(t *testing.T, reader *metric.ManualReader) map[string]metricdata.Metrics {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	out := make(map[string]metricdata.Metrics)
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m
		}
	}
	return out
}

func TestMetrics_RecordGeneration(t *testing.T) {
	reader := metric.NewManualReader()
	mp := metric.NewMeterProvider(metric.WithReader(reader))
	m := newMetrics(mp.Meter(instrumentationName), logging.Nop())

	ctx := context.Background()
	m.RecordGeneration(ctx, "BAAI/bge-small-en-v1.5", "embed_documents", 100*time.Millisecond, 10, nil)
	m.RecordGeneration(ctx, "BAAI/bge-small-en-v1.5", "embed_query", 50*time.Millisecond, 1, nil)
	m.RecordGeneration(ctx, "BAAI/bge-small-en-v1.5", "embed_documents", 25*time.Millisecond, 5,
		fmt.Errorf("%w: quota", ragerr.ErrEmbeddingService))
	m.RecordRetry(ctx, "BAAI/bge-small-en-v1.5", "embed_documents")

	metrics := collect(t, reader)

	duration, ok := metrics["ragstore.embedding.duration_seconds"].Data.(metricdata.Histogram[float64])
	require.True(t, ok)
	var count uint64
	for _, dp := range duration.DataPoints {
		count += dp.Count
	}
	assert.Equal(t, uint64(3), count)
	assert.Len(t, duration.DataPoints, 2, "one point per model/operation pair")

	batch, ok := metrics["ragstore.embedding.batch_size"].Data.(metricdata.Histogram[int64])
	require.True(t, ok)
	count = 0
	for _, dp := range batch.DataPoints {
		count += dp.Count
	}
	assert.Equal(t, uint64(3), count)

	errs, ok := metrics["ragstore.embedding.errors_total"].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, errs.DataPoints, 1)
	assert.Equal(t, int64(1), errs.DataPoints[0].Value)
	kind, ok := errs.DataPoints[0].Attributes.Value(attribute.Key("kind"))
	require.True(t, ok)
	assert.Equal(t, ragerr.KindEmbeddingService, kind.AsString())

	retries, ok := metrics["ragstore.embedding.retries_total"].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	require.Len(t, retries.DataPoints, 1)
	assert.Equal(t, int64(1), retries.DataPoints[0].Value)
}

func TestMetrics_ErrorWithoutBatch(t *testing.T) {
	reader := metric.NewManualReader()
	mp := metric.NewMeterProvider(metric.WithReader(reader))
	m := newMetrics(mp.Meter(instrumentationName), logging.Nop())

	m.RecordGeneration(context.Background(), "m", "embed_query", time.Millisecond, 0, errors.New("x"))

	metrics := collect(t, reader)
	_, hasBatch := metrics["ragstore.embedding.batch_size"]
	assert.False(t, hasBatch)
	assert.Contains(t, metrics, "ragstore.embedding.errors_total")
}
