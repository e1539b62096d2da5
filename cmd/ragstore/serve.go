package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	ragshttp "github.com/fyrsmithlabs/ragstore/internal/http"
	"github.com/fyrsmithlabs/ragstore/internal/mcp"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	var host string
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		Long: `Serve the store lifecycle and retrieval API.

Examples:
  ragstore serve
  ragstore serve --port 8080
  RAGSTORE_STORE_BACKEND=bolt RAGSTORE_STORE_PATH=stores.db ragstore serve`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, opts, true)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close(context.WithoutCancel(ctx)) }()

			cfg := a.cfg.Server
			if cmd.Flags().Changed("host") {
				cfg.Host = host
			}
			if cmd.Flags().Changed("port") {
				cfg.Port = port
			}

			srv, err := ragshttp.NewServer(ragshttp.Deps{
				Manager:   a.manager,
				Retriever: a.retriever,
				Pipeline:  a.pipeline,
				Prompt:    a.prompt,
				Scrubber:  a.scrubber,
			}, a.logger, cfg)
			if err != nil {
				return err
			}

			a.logger.Info(ctx, "starting ragstore",
				zap.String("version", version),
				zap.String("host", cfg.Host),
				zap.Int("port", cfg.Port))
			err = srv.Start(ctx)
			if errors.Is(err, http.ErrServerClosed) {
				a.logger.Info(ctx, "server shutdown complete")
				return nil
			}
			return err
		},
	}
	cmd.Flags().StringVar(&host, "host", "", "listen host (overrides server.host)")
	cmd.Flags().IntVar(&port, "port", 0, "listen port (overrides server.port)")
	return cmd
}

func newMCPCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve MCP tools on stdio",
		Long: `Serve list_stores, retrieve and build_context as MCP tools over stdio.

Logs go to stderr; stdout carries the MCP protocol.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, opts, true)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close(context.WithoutCancel(ctx)) }()

			srv, err := mcp.NewServer(&mcp.Config{
				Name:    a.cfg.MCP.Name,
				Version: a.cfg.MCP.Version,
				Logger:  a.logger,
			}, a.manager, a.retriever, a.prompt, a.scrubber)
			if err != nil {
				return err
			}
			return srv.Run(ctx)
		},
	}
}
