package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/ragstore/internal/ragerr"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, "fastembed", cfg.Embeddings.Provider)
	assert.Equal(t, 32, cfg.Embeddings.BatchSize)
	assert.Equal(t, "window", cfg.Chunking.Strategy)
	assert.Equal(t, 1000, cfg.Chunking.Size)
	assert.Equal(t, 10, cfg.Chunking.Overlap)
	assert.Equal(t, "fs", cfg.Store.Backend)
	assert.Equal(t, "vectorstore", cfg.Store.BaseName)
	assert.Equal(t, 4, cfg.Retrieval.TopK)
	assert.Equal(t, 10*time.Second, cfg.Server.ShutdownTimeout.Duration())
	assert.True(t, cfg.Ingest.ScrubSecrets)
	require.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		substr string
	}{
		{"unknown provider", func(c *Config) { c.Embeddings.Provider = "cohere" }, "embeddings.provider"},
		{"zero chunk size", func(c *Config) { c.Chunking.Size = 0 }, "chunking.size"},
		{"overlap equals size", func(c *Config) { c.Chunking.Overlap = c.Chunking.Size }, "chunking.overlap"},
		{"negative overlap", func(c *Config) { c.Chunking.Overlap = -1 }, "chunking.overlap"},
		{"bad strategy", func(c *Config) { c.Chunking.Strategy = "sentence" }, "chunking.strategy"},
		{"bad backend", func(c *Config) { c.Store.Backend = "s3" }, "store.backend"},
		{"bad index", func(c *Config) { c.Store.Index = "hnsw" }, "store.index"},
		{"base name with parens", func(c *Config) { c.Store.BaseName = "a(b)" }, "store.base_name"},
		{"zero top k", func(c *Config) { c.Retrieval.TopK = 0 }, "retrieval.top_k"},
		{"negative dimension", func(c *Config) { c.Embeddings.Dimension = -3 }, "embeddings.dimension"},
		{"port out of range", func(c *Config) { c.Server.Port = 70000 }, "server.port"},
		{"tei without url", func(c *Config) {
			c.Embeddings.Provider = "tei"
			c.Embeddings.BaseURL = ""
		}, "embeddings.base_url"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, ragerr.ErrInvalidParameter)
			assert.Contains(t, err.Error(), tt.substr)
		})
	}
}

func TestLoadWithFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
embeddings:
  provider: tei
  model: BAAI/bge-base-en-v1.5
  base_url: http://tei:8080
  api_key: sk-test
chunking:
  size: 500
  overlap: 50
store:
  backend: bolt
  path: /tmp/stores.db
  qdrant:
    port: 7334
server:
  shutdown_timeout: 3s
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := LoadWithFile(path)
	require.NoError(t, err)

	assert.Equal(t, "tei", cfg.Embeddings.Provider)
	assert.Equal(t, "http://tei:8080", cfg.Embeddings.BaseURL)
	assert.Equal(t, "sk-test", cfg.Embeddings.APIKey.Value())
	assert.Equal(t, 500, cfg.Chunking.Size)
	assert.Equal(t, 50, cfg.Chunking.Overlap)
	assert.Equal(t, "bolt", cfg.Store.Backend)
	assert.Equal(t, 7334, cfg.Store.Qdrant.Port)
	assert.Equal(t, 3*time.Second, cfg.Server.ShutdownTimeout.Duration())
	// Defaults still apply to unset keys.
	assert.Equal(t, 4, cfg.Retrieval.TopK)
}

func TestLoadWithFile_EnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("chunking:\n  size: 500\n"), 0o600))

	t.Setenv("RAGSTORE_CHUNKING_SIZE", "800")
	t.Setenv("RAGSTORE_EMBEDDINGS_BATCH_SIZE", "7")
	t.Setenv("RAGSTORE_STORE_QDRANT_HOST", "qdrant.internal")
	t.Setenv("RAGSTORE_SERVER_SHUTDOWN_TIMEOUT", "1m")

	cfg, err := LoadWithFile(path)
	require.NoError(t, err)

	assert.Equal(t, 800, cfg.Chunking.Size)
	assert.Equal(t, 7, cfg.Embeddings.BatchSize)
	assert.Equal(t, "qdrant.internal", cfg.Store.Qdrant.Host)
	assert.Equal(t, time.Minute, cfg.Server.ShutdownTimeout.Duration())
}

func TestLoadWithFile_ScrubbingCanBeDisabled(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("ingest:\n  scrub_secrets: false\n"), 0o600))

	cfg, err := LoadWithFile(path)
	require.NoError(t, err)
	assert.False(t, cfg.Ingest.ScrubSecrets)
}

func TestLoadWithFile_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadWithFile(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadWithFile_Rejects(t *testing.T) {
	t.Run("world writable", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		require.NoError(t, os.WriteFile(path, []byte("chunking:\n  size: 10\n"), 0o600))
		require.NoError(t, os.Chmod(path, 0o666))

		_, err := LoadWithFile(path)
		assert.ErrorIs(t, err, ragerr.ErrInvalidParameter)
	})

	t.Run("too large", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		big := make([]byte, maxConfigFileSize+1)
		for i := range big {
			big[i] = '#'
		}
		require.NoError(t, os.WriteFile(path, big, 0o600))

		_, err := LoadWithFile(path)
		assert.ErrorIs(t, err, ragerr.ErrInvalidParameter)
	})

	t.Run("directory", func(t *testing.T) {
		_, err := LoadWithFile(t.TempDir())
		assert.ErrorIs(t, err, ragerr.ErrInvalidParameter)
	})

	t.Run("invalid values", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		require.NoError(t, os.WriteFile(path, []byte("chunking:\n  size: 10\n  overlap: 10\n"), 0o600))

		_, err := LoadWithFile(path)
		assert.ErrorIs(t, err, ragerr.ErrInvalidParameter)
	})
}

func TestLoader_UnmarshalSection(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("logging:\n  format: console\n"), 0o600))

	l, err := NewLoader(path)
	require.NoError(t, err)

	var section struct {
		Format string `koanf:"format"`
		Level  string `koanf:"level"`
	}
	section.Level = "info"
	require.NoError(t, l.Unmarshal("logging", &section))
	assert.Equal(t, "console", section.Format)
	assert.Equal(t, "info", section.Level)
}

func TestEnvKey(t *testing.T) {
	tests := map[string]string{
		"RAGSTORE_EMBEDDINGS_MODEL":         "embeddings.model",
		"RAGSTORE_EMBEDDINGS_API_KEY":       "embeddings.api_key",
		"RAGSTORE_STORE_QDRANT_USE_TLS":     "store.qdrant.use_tls",
		"RAGSTORE_TELEMETRY_SAMPLING_RATE":  "telemetry.sampling.rate",
		"RAGSTORE_RETRIEVAL_TOP_K":          "retrieval.top_k",
		"RAGSTORE_DEBUG":                    "debug",
	}
	for in, want := range tests {
		assert.Equal(t, want, envKey(in), in)
	}
}
