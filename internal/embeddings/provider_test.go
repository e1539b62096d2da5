package embeddings

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/ragstore/internal/config"
	"github.com/fyrsmithlabs/ragstore/internal/ragerr"
)

func TestNewProvider(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.EmbeddingsConfig
		wantDim int
		wantErr bool
	}{
		{
			name:    "tei provider with valid config",
			cfg:     config.EmbeddingsConfig{Provider: "tei", BaseURL: "http://localhost:8080", Model: "BAAI/bge-small-en-v1.5"},
			wantDim: 384,
		},
		{
			name:    "tei provider with explicit dimension",
			cfg:     config.EmbeddingsConfig{Provider: "tei", BaseURL: "http://localhost:8080", Model: "custom", Dimension: 1024},
			wantDim: 1024,
		},
		{
			name:    "tei provider with unknown model learns dimension later",
			cfg:     config.EmbeddingsConfig{Provider: "tei", BaseURL: "http://localhost:8080", Model: "custom"},
			wantDim: 0,
		},
		{
			name:    "tei provider without base URL",
			cfg:     config.EmbeddingsConfig{Provider: "tei", Model: "BAAI/bge-small-en-v1.5"},
			wantErr: true,
		},
		{
			name:    "openai provider",
			cfg:     config.EmbeddingsConfig{Provider: "openai", Model: "text-embedding-3-large", APIKey: config.Secret("sk-test")},
			wantDim: 3072,
		},
		{
			name:    "openai provider without key",
			cfg:     config.EmbeddingsConfig{Provider: "openai"},
			wantErr: true,
		},
		{
			name:    "unknown provider",
			cfg:     config.EmbeddingsConfig{Provider: "unknown"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NewProvider(tt.cfg)
			if tt.wantErr {
				require.ErrorIs(t, err, ragerr.ErrInvalidParameter)
				assert.Nil(t, p)
				return
			}
			require.NoError(t, err)
			defer p.Close()
			assert.Equal(t, tt.wantDim, p.Dimension())
		})
	}
}

func TestKnownDimension(t *testing.T) {
	assert.Equal(t, 384, knownDimension("BAAI/bge-small-en-v1.5"))
	assert.Equal(t, 768, knownDimension("fast-bge-base-en-v1.5"))
	assert.Equal(t, 1536, knownDimension("text-embedding-ada-002"))
	assert.Equal(t, 0, knownDimension("my-model"))
}
