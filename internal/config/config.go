// Package config provides configuration loading for ragstore.
//
// Configuration is explicit: the loaded Config is passed to constructors
// (embedding gateway, store manager, retriever). Nothing reads the process
// environment after startup.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/fyrsmithlabs/ragstore/internal/ragerr"
)

// Config is the root configuration.
type Config struct {
	Embeddings EmbeddingsConfig `koanf:"embeddings" yaml:"embeddings"`
	Chunking   ChunkingConfig   `koanf:"chunking" yaml:"chunking"`
	Store      StoreConfig      `koanf:"store" yaml:"store"`
	Retrieval  RetrievalConfig  `koanf:"retrieval" yaml:"retrieval"`
	Ingest     IngestConfig     `koanf:"ingest" yaml:"ingest"`
	Server     ServerConfig     `koanf:"server" yaml:"server"`
	Events     EventsConfig     `koanf:"events" yaml:"events"`
	MCP        MCPConfig        `koanf:"mcp" yaml:"mcp"`
}

// EmbeddingsConfig selects and tunes the embedding provider.
type EmbeddingsConfig struct {
	// Provider is one of "fastembed", "tei" or "openai".
	Provider string `koanf:"provider" yaml:"provider"`
	Model    string `koanf:"model" yaml:"model"`
	// Dimension is the expected vector length. Zero means "use the
	// provider's reported dimension".
	Dimension  int      `koanf:"dimension" yaml:"dimension"`
	BaseURL    string   `koanf:"base_url" yaml:"base_url"`
	APIKey     Secret   `koanf:"api_key" yaml:"api_key"`
	BatchSize  int      `koanf:"batch_size" yaml:"batch_size"`
	CacheDir   string   `koanf:"cache_dir" yaml:"cache_dir"`
	RateLimit  float64  `koanf:"rate_limit" yaml:"rate_limit"`
	Burst      int      `koanf:"burst" yaml:"burst"`
	MaxRetries int      `koanf:"max_retries" yaml:"max_retries"`
	Timeout    Duration `koanf:"timeout" yaml:"timeout"`
}

// ChunkingConfig controls segment boundaries.
type ChunkingConfig struct {
	// Strategy is "window" (fixed sliding window) or "recursive".
	Strategy string `koanf:"strategy" yaml:"strategy"`
	Size     int    `koanf:"size" yaml:"size"`
	Overlap  int    `koanf:"overlap" yaml:"overlap"`
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	// Backend is one of "fs", "bolt", "sqlite" or "qdrant".
	Backend string `koanf:"backend" yaml:"backend"`
	// Path is a directory for fs, or a database file for bolt and sqlite.
	Path string `koanf:"path" yaml:"path"`
	// Index is "flat" or "chromem".
	Index           string       `koanf:"index" yaml:"index"`
	BaseName        string       `koanf:"base_name" yaml:"base_name"`
	MaxNameAttempts int          `koanf:"max_name_attempts" yaml:"max_name_attempts"`
	Qdrant          QdrantConfig `koanf:"qdrant" yaml:"qdrant"`
}

// QdrantConfig configures the qdrant backend.
type QdrantConfig struct {
	Host   string `koanf:"host" yaml:"host"`
	Port   int    `koanf:"port" yaml:"port"`
	APIKey Secret `koanf:"api_key" yaml:"api_key"`
	UseTLS bool   `koanf:"use_tls" yaml:"use_tls"`
	// Prefix namespaces physical collections so several deployments can
	// share one qdrant instance.
	Prefix string `koanf:"prefix" yaml:"prefix"`
}

// RetrievalConfig holds retrieval defaults.
type RetrievalConfig struct {
	TopK      int `koanf:"top_k" yaml:"top_k"`
	CacheSize int `koanf:"cache_size" yaml:"cache_size"`
}

// IngestConfig controls the ingestion pipeline.
type IngestConfig struct {
	// ScrubSecrets redacts credentials before embedding. On by default.
	ScrubSecrets  bool   `koanf:"scrub_secrets" yaml:"scrub_secrets"`
	AllowlistPath string `koanf:"allowlist_path" yaml:"allowlist_path"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Host            string   `koanf:"host" yaml:"host"`
	Port            int      `koanf:"port" yaml:"port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// EventsConfig configures lifecycle event publishing. An empty URL disables it.
type EventsConfig struct {
	NATSURL       string `koanf:"nats_url" yaml:"nats_url"`
	SubjectPrefix string `koanf:"subject_prefix" yaml:"subject_prefix"`
}

// MCPConfig configures the MCP server identity.
type MCPConfig struct {
	Name    string `koanf:"name" yaml:"name"`
	Version string `koanf:"version" yaml:"version"`
}

// Default returns a Config populated with defaults.
func Default() *Config {
	cfg := &Config{Ingest: IngestConfig{ScrubSecrets: true}}
	applyDefaults(cfg)
	return cfg
}

// applyDefaults fills zero values. It never overrides values that were set.
func applyDefaults(cfg *Config) {
	e := &cfg.Embeddings
	if e.Provider == "" {
		e.Provider = "fastembed"
	}
	if e.Model == "" {
		e.Model = "BAAI/bge-small-en-v1.5"
	}
	if e.BatchSize == 0 {
		e.BatchSize = 32
	}
	if e.RateLimit == 0 {
		e.RateLimit = 10
	}
	if e.Burst == 0 {
		e.Burst = 5
	}
	if e.MaxRetries == 0 {
		e.MaxRetries = 3
	}
	if e.Timeout == 0 {
		e.Timeout = Duration(30 * time.Second)
	}
	if e.Provider == "tei" && e.BaseURL == "" {
		e.BaseURL = "http://localhost:8080"
	}

	c := &cfg.Chunking
	if c.Strategy == "" {
		c.Strategy = "window"
	}
	if c.Size == 0 {
		c.Size = 1000
		if c.Overlap == 0 {
			c.Overlap = 10
		}
	}

	s := &cfg.Store
	if s.Backend == "" {
		s.Backend = "fs"
	}
	if s.Path == "" {
		s.Path = "store"
	}
	if s.Index == "" {
		s.Index = "flat"
	}
	if s.BaseName == "" {
		s.BaseName = "vectorstore"
	}
	if s.MaxNameAttempts == 0 {
		s.MaxNameAttempts = 32
	}
	if s.Qdrant.Host == "" {
		s.Qdrant.Host = "localhost"
	}
	if s.Qdrant.Port == 0 {
		s.Qdrant.Port = 6334
	}
	if s.Qdrant.Prefix == "" {
		s.Qdrant.Prefix = "ragstore"
	}

	if cfg.Retrieval.TopK == 0 {
		cfg.Retrieval.TopK = 4
	}
	if cfg.Retrieval.CacheSize == 0 {
		cfg.Retrieval.CacheSize = 16
	}

	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 9191
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = Duration(10 * time.Second)
	}

	if cfg.Events.SubjectPrefix == "" {
		cfg.Events.SubjectPrefix = "ragstore.stores"
	}

	if cfg.MCP.Name == "" {
		cfg.MCP.Name = "ragstore"
	}
	if cfg.MCP.Version == "" {
		cfg.MCP.Version = "0.1.0"
	}
}

var (
	validProviders  = []string{"fastembed", "tei", "openai"}
	validStrategies = []string{"window", "recursive"}
	validBackends   = []string{"fs", "bolt", "sqlite", "qdrant"}
	validIndexes    = []string{"flat", "chromem"}
)

// Validate checks the configuration. All failures wrap ragerr.ErrInvalidParameter.
func (c *Config) Validate() error {
	var problems []string
	add := func(format string, args ...interface{}) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	e := c.Embeddings
	if !contains(validProviders, e.Provider) {
		add("embeddings.provider must be one of %v, got %q", validProviders, e.Provider)
	}
	if e.Model == "" {
		add("embeddings.model is required")
	}
	if e.Dimension < 0 {
		add("embeddings.dimension cannot be negative")
	}
	if e.BatchSize <= 0 {
		add("embeddings.batch_size must be positive")
	}
	if e.RateLimit < 0 {
		add("embeddings.rate_limit cannot be negative")
	}
	if e.Burst <= 0 {
		add("embeddings.burst must be positive")
	}
	if e.MaxRetries < 0 {
		add("embeddings.max_retries cannot be negative")
	}
	if e.Provider == "tei" && e.BaseURL == "" {
		add("embeddings.base_url is required for the tei provider")
	}

	ch := c.Chunking
	if !contains(validStrategies, ch.Strategy) {
		add("chunking.strategy must be one of %v, got %q", validStrategies, ch.Strategy)
	}
	if ch.Size <= 0 {
		add("chunking.size must be positive")
	}
	if ch.Overlap < 0 || ch.Overlap >= ch.Size {
		add("chunking.overlap must be in [0, size), got %d", ch.Overlap)
	}

	s := c.Store
	if !contains(validBackends, s.Backend) {
		add("store.backend must be one of %v, got %q", validBackends, s.Backend)
	}
	if s.Backend != "qdrant" && s.Path == "" {
		add("store.path is required for the %s backend", s.Backend)
	}
	if !contains(validIndexes, s.Index) {
		add("store.index must be one of %v, got %q", validIndexes, s.Index)
	}
	if s.BaseName == "" || strings.ContainsAny(s.BaseName, `/\()`) {
		add("store.base_name %q is invalid", s.BaseName)
	}
	if s.MaxNameAttempts <= 0 {
		add("store.max_name_attempts must be positive")
	}
	if s.Backend == "qdrant" && (s.Qdrant.Port < 1 || s.Qdrant.Port > 65535) {
		add("store.qdrant.port out of range: %d", s.Qdrant.Port)
	}

	if c.Retrieval.TopK <= 0 {
		add("retrieval.top_k must be positive")
	}
	if c.Retrieval.CacheSize < 0 {
		add("retrieval.cache_size cannot be negative")
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		add("server.port out of range: %d", c.Server.Port)
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ragerr.ErrInvalidParameter, strings.Join(problems, "; "))
	}
	return nil
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
