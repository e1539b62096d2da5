package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/ragstore/internal/config"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"bad format", func(c *Config) { c.Format = "xml" }, true},
		{"bad console", func(c *Config) { c.Output.Console = "file" }, true},
		{"no outputs", func(c *Config) { c.Output.Console = "none" }, true},
		{"otel only", func(c *Config) {
			c.Output.Console = "none"
			c.Output.OTEL = true
		}, false},
		{"zero tick", func(c *Config) { c.Sampling.Tick = 0 }, true},
		{"zero tick without sampling", func(c *Config) {
			c.Sampling.Enabled = false
			c.Sampling.Tick = 0
		}, false},
		{"bad pattern", func(c *Config) { c.Redaction.Patterns = []string{"("} }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			tt.mutate(cfg)
			if tt.wantErr {
				assert.Error(t, cfg.Validate())
			} else {
				assert.NoError(t, cfg.Validate())
			}
		})
	}
}

func TestNewLogger(t *testing.T) {
	l, err := NewLogger(NewDefaultConfig(), nil)
	require.NoError(t, err)
	assert.True(t, l.Enabled(zapcore.InfoLevel))
	assert.False(t, l.Enabled(zapcore.DebugLevel))

	_, err = NewLogger(&Config{Format: "yaml"}, nil)
	assert.Error(t, err)
}

func TestLogger_ContextFields(t *testing.T) {
	tl := NewTestLogger()

	ctx := WithRequestID(context.Background(), "req-1")
	ctx = WithStore(ctx, "vectorstore(2)")
	ctx = WithOperation(ctx, "merge")

	tl.Info(ctx, "store merged", zap.Int("records", 3))

	tl.AssertLogged(t, zapcore.InfoLevel, "store merged")
	tl.AssertField(t, "request.id", "req-1")
	tl.AssertField(t, "store.name", "vectorstore(2)")
	tl.AssertField(t, "operation", "merge")
	tl.AssertField(t, "records", int64(3))
}

func TestContextFields_Trace(t *testing.T) {
	tp := sdktrace.NewTracerProvider()
	defer func() { _ = tp.Shutdown(context.Background()) }()

	ctx, span := tp.Tracer("test").Start(context.Background(), "op")
	defer span.End()

	fields := ContextFields(ctx)
	keys := make([]string, 0, len(fields))
	for _, f := range fields {
		keys = append(keys, f.Key)
	}
	assert.Contains(t, keys, "trace_id")
	assert.Contains(t, keys, "span_id")

	assert.Empty(t, ContextFields(context.Background()))
}

func TestRedactingEncoder(t *testing.T) {
	enc, err := NewRedactingEncoder(newEncoder("json"), NewDefaultConfig().Redaction)
	require.NoError(t, err)

	var buf bytes.Buffer
	core := zapcore.NewCore(enc, zapcore.AddSync(&buf), zapcore.DebugLevel)
	l := &Logger{zap: zap.New(core).With(zap.String("token", "abc123"))}

	l.Info(context.Background(), "calling provider",
		zap.String("api_key", "sk-should-not-appear"),
		zap.String("header", "Authorization: Bearer eyJhbGciOi"),
		Secret("credential_len", config.Secret("hunter2")),
		zap.String("model", "bge-small"),
	)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))

	assert.Equal(t, "[REDACTED]", entry["token"])
	assert.Equal(t, "[REDACTED]", entry["api_key"])
	assert.NotContains(t, entry["header"], "eyJhbGciOi")
	assert.Equal(t, "[REDACTED:7]", entry["credential_len"])
	assert.Equal(t, "bge-small", entry["model"])
}

func TestRedactingEncoder_Disabled(t *testing.T) {
	enc, err := NewRedactingEncoder(newEncoder("json"), RedactionConfig{})
	require.NoError(t, err)

	var buf bytes.Buffer
	l := &Logger{zap: zap.New(zapcore.NewCore(enc, zapcore.AddSync(&buf), zapcore.InfoLevel))}
	l.Info(context.Background(), "x", zap.String("token", "visible"))
	assert.Contains(t, buf.String(), "visible")
}

func TestSampling_NeverDropsErrors(t *testing.T) {
	var buf bytes.Buffer
	base := zapcore.NewCore(newEncoder("json"), zapcore.AddSync(&buf), zapcore.DebugLevel)
	core := newSampledCore(base, SamplingConfig{
		Enabled:    true,
		Tick:       config.Duration(time.Minute),
		Initial:    1,
		Thereafter: 0,
	})
	l := &Logger{zap: zap.New(core)}

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		l.Info(ctx, "repeated")
		l.Error(ctx, "failure")
	}

	lines := bytes.Count(buf.Bytes(), []byte("\n"))
	assert.Equal(t, 1+5, lines, "one sampled info entry plus every error")
}
