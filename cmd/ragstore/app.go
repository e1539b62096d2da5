package main

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragstore/internal/backend"
	"github.com/fyrsmithlabs/ragstore/internal/chunker"
	"github.com/fyrsmithlabs/ragstore/internal/config"
	"github.com/fyrsmithlabs/ragstore/internal/embeddings"
	"github.com/fyrsmithlabs/ragstore/internal/events"
	"github.com/fyrsmithlabs/ragstore/internal/ingest"
	"github.com/fyrsmithlabs/ragstore/internal/logging"
	"github.com/fyrsmithlabs/ragstore/internal/prompt"
	"github.com/fyrsmithlabs/ragstore/internal/retriever"
	"github.com/fyrsmithlabs/ragstore/internal/secrets"
	"github.com/fyrsmithlabs/ragstore/internal/storemanager"
	"github.com/fyrsmithlabs/ragstore/internal/telemetry"
)

// app holds the wired components for one command invocation.
type app struct {
	cfg     *config.Config
	logger  *logging.Logger
	tel     *telemetry.Telemetry
	manager *storemanager.Manager

	// Set only when embeddings were requested.
	gateway   *embeddings.Gateway
	retriever *retriever.Retriever
	pipeline  *ingest.Pipeline
	prompt    *prompt.Builder
	scrubber  *secrets.Scrubber
}

// settings is the decoded configuration of every section.
type settings struct {
	cfg       *config.Config
	logging   *logging.Config
	telemetry *telemetry.Config
}

func loadSettings(path string) (*settings, error) {
	loader, err := config.NewLoader(path)
	if err != nil {
		return nil, err
	}
	cfg, err := loader.Config()
	if err != nil {
		return nil, err
	}

	lcfg := logging.NewDefaultConfig()
	if err := loader.Unmarshal("logging", lcfg); err != nil {
		return nil, err
	}
	tcfg := telemetry.NewDefaultConfig()
	if err := loader.Unmarshal("telemetry", tcfg); err != nil {
		return nil, err
	}
	return &settings{cfg: cfg, logging: lcfg, telemetry: tcfg}, nil
}

// newApp wires configuration, logging, telemetry and the store manager.
// withEmbeddings additionally builds the embedding gateway and everything
// that depends on it (retriever, ingestion, prompt assembly).
func newApp(ctx context.Context, opts *rootOptions, withEmbeddings bool) (_ *app, err error) {
	s, err := loadSettings(opts.configPath)
	if err != nil {
		return nil, err
	}

	tel, err := telemetry.New(ctx, s.telemetry)
	if err != nil {
		return nil, err
	}
	logger, err := logging.NewLogger(s.logging, tel.LoggerProvider())
	if err != nil {
		_ = tel.Shutdown(ctx)
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	a := &app{cfg: s.cfg, logger: logger, tel: tel}
	defer func() {
		if err != nil {
			_ = a.Close(ctx)
		}
	}()

	b, err := backend.Open(ctx, s.cfg.Store, logger)
	if err != nil {
		return nil, err
	}
	publisher, err := events.Connect(s.cfg.Events, logger)
	if err != nil {
		_ = b.Close()
		return nil, err
	}

	managerOpts := []storemanager.Option{
		storemanager.WithLogger(logger),
		storemanager.WithTracerProvider(tel.TracerProvider()),
		storemanager.WithPublisher(publisher),
	}

	if withEmbeddings {
		provider, err := embeddings.NewProvider(s.cfg.Embeddings)
		if err != nil {
			_ = publisher.Close()
			_ = b.Close()
			return nil, err
		}
		a.gateway, err = embeddings.NewGateway(provider, s.cfg.Embeddings,
			embeddings.WithLogger(logger),
			embeddings.WithTracerProvider(tel.TracerProvider()),
		)
		if err != nil {
			_ = provider.Close()
			_ = publisher.Close()
			_ = b.Close()
			return nil, err
		}
		if d := a.gateway.Dimension(); d > 0 {
			managerOpts = append(managerOpts, storemanager.WithDimension(d))
		}
	}

	a.manager, err = storemanager.New(b, s.cfg.Store, managerOpts...)
	if err != nil {
		_ = publisher.Close()
		_ = b.Close()
		return nil, err
	}

	if withEmbeddings {
		if err := a.wireRetrieval(); err != nil {
			return nil, err
		}
	}

	logger.Debug(ctx, "components initialized",
		zap.String("backend", s.cfg.Store.Backend),
		zap.String("index", s.cfg.Store.Index),
		zap.Bool("embeddings", withEmbeddings),
		zap.Bool("telemetry", tel.IsEnabled()))
	return a, nil
}

func (a *app) wireRetrieval() error {
	var err error
	a.retriever, err = retriever.New(a.gateway, a.manager, a.cfg.Retrieval,
		retriever.WithLogger(a.logger),
		retriever.WithTracerProvider(a.tel.TracerProvider()),
	)
	if err != nil {
		return err
	}

	allow, err := secrets.LoadAllowlist(a.cfg.Ingest.AllowlistPath)
	if err != nil {
		return err
	}
	a.scrubber, err = secrets.New(secrets.WithAllowlist(allow), secrets.WithLogger(a.logger))
	if err != nil {
		return err
	}

	ch, err := chunker.New(a.cfg.Chunking)
	if err != nil {
		return err
	}
	pipelineOpts := []ingest.Option{
		ingest.WithLogger(a.logger),
		ingest.WithTracerProvider(a.tel.TracerProvider()),
	}
	if a.cfg.Ingest.ScrubSecrets {
		pipelineOpts = append(pipelineOpts, ingest.WithScrubber(a.scrubber))
	}
	a.pipeline, err = ingest.New(ch, a.gateway, a.manager, pipelineOpts...)
	if err != nil {
		return err
	}

	a.prompt, err = prompt.New(prompt.DefaultTemplate)
	return err
}

// Close releases every component in reverse order of construction.
func (a *app) Close(ctx context.Context) error {
	var errs []error
	if a.manager != nil {
		errs = append(errs, a.manager.Close())
	}
	if a.gateway != nil {
		errs = append(errs, a.gateway.Close())
	}
	if a.logger != nil {
		_ = a.logger.Sync()
	}
	errs = append(errs, a.tel.Shutdown(ctx))
	return errors.Join(errs...)
}
