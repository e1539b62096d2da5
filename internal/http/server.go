// Package http serves the store lifecycle and retrieval API.
package http

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragstore/internal/chunker"
	"github.com/fyrsmithlabs/ragstore/internal/config"
	"github.com/fyrsmithlabs/ragstore/internal/ingest"
	"github.com/fyrsmithlabs/ragstore/internal/logging"
	"github.com/fyrsmithlabs/ragstore/internal/prompt"
	"github.com/fyrsmithlabs/ragstore/internal/ragerr"
	"github.com/fyrsmithlabs/ragstore/internal/retriever"
	"github.com/fyrsmithlabs/ragstore/internal/secrets"
	"github.com/fyrsmithlabs/ragstore/internal/storemanager"
)

// maxBodyBytes bounds request bodies; documents arrive as extracted text.
const maxBodyBytes = "32M"

// Deps are the components the API drives. Scrubber may be nil, which
// disables POST /api/v1/scrub.
type Deps struct {
	Manager   *storemanager.Manager
	Retriever *retriever.Retriever
	Pipeline  *ingest.Pipeline
	Prompt    *prompt.Builder
	Scrubber  *secrets.Scrubber
}

// Server provides the HTTP API.
type Server struct {
	echo   *echo.Echo
	deps   Deps
	logger *logging.Logger
	config config.ServerConfig
}

// NewServer wires routes and middleware.
func NewServer(deps Deps, logger *logging.Logger, cfg config.ServerConfig) (*Server, error) {
	if deps.Manager == nil || deps.Retriever == nil || deps.Pipeline == nil || deps.Prompt == nil {
		return nil, fmt.Errorf("%w: http server needs manager, retriever, pipeline and prompt builder", ragerr.ErrInvalidParameter)
	}
	if logger == nil {
		return nil, fmt.Errorf("%w: logger is required for request tracking", ragerr.ErrInvalidParameter)
	}
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 9090
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = config.Duration(10 * time.Second)
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{echo: e, deps: deps, logger: logger.Named("http"), config: cfg}
	e.HTTPErrorHandler = s.errorHandler

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.BodyLimit(maxBodyBytes))
	e.Use(NewHTTPMetrics(logger).MetricsMiddleware())
	e.Use(s.requestLogger)

	s.registerRoutes()
	return s, nil
}

func (s *Server) requestLogger(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		id := c.Response().Header().Get(echo.HeaderXRequestID)
		ctx := logging.WithRequestID(c.Request().Context(), id)
		c.SetRequest(c.Request().WithContext(ctx))

		err := next(c)
		if err != nil {
			c.Error(err)
		}
		s.logger.Info(ctx, "http request",
			zap.String("method", c.Request().Method),
			zap.String("uri", c.Request().RequestURI),
			zap.Int("status", c.Response().Status),
			zap.Duration("duration", time.Since(start)))
		return nil
	}
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")
	v1.GET("/stores", s.handleListStores)
	v1.POST("/stores", s.handleCreateStore)
	v1.GET("/stores/:name", s.handleGetStore)
	v1.DELETE("/stores/:name", s.handleDeleteStore)
	v1.POST("/stores/:name/documents", s.handleAddDocuments)
	v1.POST("/stores/:name/merge", s.handleMergeStores)
	v1.POST("/stores/:name/query", s.handleQuery)
	v1.POST("/stores/:name/context", s.handleContext)
	if s.deps.Scrubber != nil {
		v1.POST("/scrub", s.handleScrub)
	}
}

// Handler exposes the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start serves until ctx is cancelled, then shuts down gracefully and
// returns http.ErrServerClosed.
func (s *Server) Start(ctx context.Context) error {
	addr := net.JoinHostPort(s.config.Host, strconv.Itoa(s.config.Port))
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info(ctx, "starting http server", zap.String("addr", addr))
		if err := s.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("server start: %w", err)
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.config.ShutdownTimeout.Duration())
		defer cancel()
		s.logger.Info(ctx, "shutting down http server")
		if err := s.echo.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown: %w", err)
		}
		return http.ErrServerClosed
	}
}

// storeName returns the unescaped :name parameter.
func storeName(c echo.Context) string {
	raw := c.Param("name")
	if name, err := url.PathUnescape(raw); err == nil {
		return name
	}
	return raw
}

func bind(c echo.Context, v interface{}) error {
	if err := c.Bind(v); err != nil {
		return fmt.Errorf("%w: invalid request body", ragerr.ErrInvalidParameter)
	}
	return nil
}

func toDocuments(in []DocumentInput) ([]chunker.Document, error) {
	if len(in) == 0 {
		return nil, fmt.Errorf("%w: documents are required", ragerr.ErrInvalidParameter)
	}
	docs := make([]chunker.Document, len(in))
	now := time.Now().UTC()
	for i, d := range in {
		source := strings.TrimSpace(d.Source)
		if source == "" {
			source = fmt.Sprintf("document-%d", i+1)
		}
		docs[i] = chunker.Document{Text: d.Text, Source: source, IngestedAt: now}
	}
	return docs, nil
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

func (s *Server) handleListStores(c echo.Context) error {
	list, err := s.deps.Manager.List(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, ListStoresResponse{Stores: list})
}

func (s *Server) handleGetStore(c echo.Context) error {
	md, err := s.deps.Manager.Stat(c.Request().Context(), storeName(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, md)
}

func (s *Server) handleCreateStore(c echo.Context) error {
	var req CreateStoreRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	docs, err := toDocuments(req.Documents)
	if err != nil {
		return err
	}
	res, err := s.deps.Pipeline.IngestNew(c.Request().Context(), docs, req.BaseName)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, ingestResponse(res))
}

func (s *Server) handleAddDocuments(c echo.Context) error {
	var req AddDocumentsRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	docs, err := toDocuments(req.Documents)
	if err != nil {
		return err
	}
	name := storeName(c)
	res, err := s.deps.Pipeline.IngestInto(c.Request().Context(), docs, name)
	if err != nil {
		return err
	}
	s.deps.Retriever.Invalidate(name)
	return c.JSON(http.StatusOK, ingestResponse(res))
}

func (s *Server) handleMergeStores(c echo.Context) error {
	var req MergeStoresRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	name := storeName(c)
	md, err := s.deps.Manager.MergeStores(c.Request().Context(), storemanager.MergeStoresRequest{
		Source: req.Source,
		Target: name,
	})
	if err != nil {
		return err
	}
	s.deps.Retriever.Invalidate(name)
	return c.JSON(http.StatusOK, md)
}

func (s *Server) handleDeleteStore(c echo.Context) error {
	name := storeName(c)
	if err := s.deps.Manager.Delete(c.Request().Context(), storemanager.DeleteRequest{Name: name}); err != nil {
		return err
	}
	s.deps.Retriever.Invalidate(name)
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleQuery(c echo.Context) error {
	var req QueryRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	if req.K < 0 {
		return fmt.Errorf("%w: k must not be negative", ragerr.ErrInvalidParameter)
	}
	scored, err := s.deps.Retriever.RetrieveScored(c.Request().Context(), req.Query, storeName(c), req.K)
	if err != nil {
		return err
	}
	if !req.Scores {
		for i := range scored {
			scored[i].Score = 0
		}
	}
	return c.JSON(http.StatusOK, QueryResponse{Passages: scored})
}

func (s *Server) handleContext(c echo.Context) error {
	var req ContextRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	if req.K < 0 {
		return fmt.Errorf("%w: k must not be negative", ragerr.ErrInvalidParameter)
	}
	out, err := s.deps.Prompt.Assemble(c.Request().Context(), s.deps.Retriever, storeName(c), req.Question, req.K)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) handleScrub(c echo.Context) error {
	var req ScrubRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	if req.Content == "" {
		return fmt.Errorf("%w: content field is required", ragerr.ErrInvalidParameter)
	}
	scrubbed, report, err := s.deps.Scrubber.Scrub(c.Request().Context(), req.Source, req.Content)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, ScrubResponse{Content: scrubbed, FindingsCount: report.Total()})
}

func ingestResponse(res ingest.Result) IngestResponse {
	return IngestResponse{
		Store:      res.Store,
		Segments:   res.Segments,
		Redactions: res.Redactions,
		Metadata:   res.Metadata,
	}
}
