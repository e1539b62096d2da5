package embeddings

import (
	"context"
	"errors"
	"fmt"

	"github.com/fyrsmithlabs/ragstore/internal/config"
	"github.com/fyrsmithlabs/ragstore/internal/ragerr"
)

// Provider is one embedding backend.
type Provider interface {
	// EmbedDocuments returns one vector per text, in input order.
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	// EmbedQuery embeds a search query. Some models embed queries and
	// passages differently.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	// Dimension returns the embedding dimension for the current model.
	Dimension() int
	// Close releases resources held by the provider.
	Close() error
}

// Provider names accepted by NewProvider.
const (
	ProviderFastEmbed = "fastembed"
	ProviderTEI       = "tei"
	ProviderOpenAI    = "openai"
)

// NewProvider creates the provider named by cfg.Provider.
func NewProvider(cfg config.EmbeddingsConfig) (Provider, error) {
	var (
		p   Provider
		err error
	)
	switch cfg.Provider {
	case ProviderFastEmbed, "":
		var fe *FastEmbedProvider
		fe, err = NewFastEmbedProvider(FastEmbedConfig{
			Model:    cfg.Model,
			CacheDir: cfg.CacheDir,
		})
		p = fe
	case ProviderTEI:
		var tei *TEIProvider
		tei, err = NewTEIProvider(TEIConfig{
			BaseURL:   cfg.BaseURL,
			Model:     cfg.Model,
			APIKey:    cfg.APIKey.Value(),
			Dimension: cfg.Dimension,
			Timeout:   cfg.Timeout.Duration(),
		})
		p = tei
	case ProviderOpenAI:
		var oa *OpenAIProvider
		oa, err = NewOpenAIProvider(OpenAIConfig{
			BaseURL:   cfg.BaseURL,
			Model:     cfg.Model,
			APIKey:    cfg.APIKey.Value(),
			Dimension: cfg.Dimension,
			BatchSize: cfg.BatchSize,
			Timeout:   cfg.Timeout.Duration(),
		})
		p = oa
	default:
		return nil, fmt.Errorf("%w: unknown embeddings provider %q", ragerr.ErrInvalidParameter, cfg.Provider)
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

// fastEmbedDimensions lists the models FastEmbed can load.
var fastEmbedDimensions = map[string]int{
	"BAAI/bge-small-en-v1.5":                 384,
	"BAAI/bge-small-en":                      384,
	"BAAI/bge-base-en-v1.5":                  768,
	"BAAI/bge-base-en":                       768,
	"BAAI/bge-small-zh-v1.5":                 512,
	"sentence-transformers/all-MiniLM-L6-v2": 384,
	"fast-bge-small-en-v1.5":                 384,
	"fast-bge-small-en":                      384,
	"fast-bge-base-en-v1.5":                  768,
	"fast-bge-base-en":                       768,
	"fast-bge-small-zh-v1.5":                 512,
	"fast-all-MiniLM-L6-v2":                  384,
}

// knownDimension returns the embedding dimension of well-known models and 0
// for anything else, in which case the dimension is learned from the first
// response.
func knownDimension(model string) int {
	if dim, ok := fastEmbedDimensions[model]; ok {
		return dim
	}
	switch model {
	case "text-embedding-3-small", "text-embedding-ada-002":
		return 1536
	case "text-embedding-3-large":
		return 3072
	case "BAAI/bge-large-en-v1.5", "intfloat/e5-large-v2":
		return 1024
	case "nomic-ai/nomic-embed-text-v1.5":
		return 768
	}
	return 0
}

// retryableError marks a provider failure worth retrying: transport
// errors, rate limiting and server errors.
type retryableError struct {
	err error
}

func (e *retryableError) Error() string {
	return e.err.Error()
}

func (e *retryableError) Unwrap() error {
	return e.err
}

func isRetryableError(err error) bool {
	var re *retryableError
	return errors.As(err, &re)
}
