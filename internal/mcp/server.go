package mcp

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/fyrsmithlabs/ragstore/internal/logging"
	"github.com/fyrsmithlabs/ragstore/internal/prompt"
	"github.com/fyrsmithlabs/ragstore/internal/retriever"
	"github.com/fyrsmithlabs/ragstore/internal/secrets"
	"github.com/fyrsmithlabs/ragstore/internal/storemanager"
)

// Stores lists and describes persisted stores.
type Stores interface {
	List(ctx context.Context) ([]storemanager.StoreMetadata, error)
	Stat(ctx context.Context, name string) (storemanager.StoreMetadata, error)
}

// Retriever answers queries against a named store.
type Retriever interface {
	RetrieveScored(ctx context.Context, query, store string, k int) ([]retriever.ScoredPassage, error)
}

// Scrubber redacts secrets from text.
type Scrubber interface {
	Scrub(ctx context.Context, source, text string) (string, secrets.Report, error)
}

// Server registers retrieval tools on an MCP server.
type Server struct {
	mcp          *mcp.Server
	stores       Stores
	retriever    Retriever
	prompt       *prompt.Builder
	scrubber     Scrubber
	toolRegistry *ToolRegistry
	metrics      *Metrics
	logger       *logging.Logger
}

// Config configures the MCP server.
type Config struct {
	// Name is the server implementation name (default: "ragstore")
	Name string

	// Version is the server version (default: "dev")
	Version string

	Logger  *logging.Logger
	Metrics *Metrics
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Name:    "ragstore",
		Version: "dev",
		Logger:  logging.Nop(),
	}
}

// NewServer creates an MCP server exposing stores through r. The prompt
// builder and scrubber are required; retrieved text is always scrubbed.
func NewServer(cfg *Config, stores Stores, r Retriever, builder *prompt.Builder, scrubber Scrubber) (*Server, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Nop()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = NewMetrics(cfg.Logger)
	}
	if stores == nil {
		return nil, fmt.Errorf("store manager is required")
	}
	if r == nil {
		return nil, fmt.Errorf("retriever is required")
	}
	if builder == nil {
		return nil, fmt.Errorf("prompt builder is required")
	}
	if scrubber == nil {
		return nil, fmt.Errorf("scrubber is required")
	}

	s := &Server{
		mcp:          mcp.NewServer(&mcp.Implementation{Name: cfg.Name, Version: cfg.Version}, nil),
		stores:       stores,
		retriever:    r,
		prompt:       builder,
		scrubber:     scrubber,
		toolRegistry: NewToolRegistry(),
		metrics:      cfg.Metrics,
		logger:       cfg.Logger.Named("mcp"),
	}
	if err := s.registerTools(); err != nil {
		return nil, fmt.Errorf("failed to register tools: %w", err)
	}
	return s, nil
}

// Run serves MCP on the stdio transport until ctx is cancelled or the
// client disconnects.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info(ctx, "starting MCP server on stdio transport")
	if err := s.mcp.Run(ctx, &mcp.StdioTransport{}); err != nil {
		return fmt.Errorf("server run failed: %w", err)
	}
	return nil
}

// Tools returns the registry of tools this server exposes.
func (s *Server) Tools() *ToolRegistry {
	return s.toolRegistry
}
