package embeddings

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/ragstore/internal/ragerr"
)

type openaiEmbeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

func openaiServer(t *testing.T, requests *[]openaiEmbeddingRequest) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var req openaiEmbeddingRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		*requests = append(*requests, req)

		type item struct {
			Object    string    `json:"object"`
			Embedding []float32 `json:"embedding"`
			Index     int       `json:"index"`
		}
		data := make([]item, len(req.Input))
		for i, in := range req.Input {
			data[i] = item{Object: "embedding", Embedding: []float32{float32(len(in)), 0}, Index: i}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"object": "list",
			"data":   data,
			"model":  req.Model,
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestOpenAIProvider(t *testing.T) {
	var requests []openaiEmbeddingRequest
	srv := openaiServer(t, &requests)

	p, err := NewOpenAIProvider(OpenAIConfig{
		BaseURL:   srv.URL,
		Model:     "text-embedding-3-small",
		APIKey:    "sk-test",
		BatchSize: 2,
	})
	require.NoError(t, err)
	assert.Equal(t, 1536, p.Dimension())

	texts := []string{"one\ntwo", "three", "four"}
	vectors, err := p.EmbedDocuments(context.Background(), texts)
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{7, 0}, {5, 0}, {4, 0}}, vectors)

	require.Len(t, requests, 2)
	assert.Equal(t, "text-embedding-3-small", requests[0].Model)
	assert.Equal(t, []string{"one\ntwo", "three"}, requests[0].Input, "newlines are kept")
	assert.Equal(t, "one\ntwo", texts[0], "input is not modified")

	v, err := p.EmbedQuery(context.Background(), "hi")
	require.NoError(t, err)
	assert.Equal(t, []float32{2, 0}, v)
}

func TestOpenAIProvider_RequiresKey(t *testing.T) {
	_, err := NewOpenAIProvider(OpenAIConfig{Model: "text-embedding-3-small"})
	assert.ErrorIs(t, err, ragerr.ErrInvalidParameter)
}

func TestOpenAIProvider_ServerErrorIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	p, err := NewOpenAIProvider(OpenAIConfig{BaseURL: srv.URL, APIKey: "sk-test"})
	require.NoError(t, err)

	_, err = p.EmbedDocuments(context.Background(), []string{"a"})
	require.Error(t, err)
	assert.True(t, isRetryableError(err))
}
