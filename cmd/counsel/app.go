package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/mohammad-safakhou/counsel/config"
	"github.com/mohammad-safakhou/counsel/internal/agent"
	"github.com/mohammad-safakhou/counsel/internal/apperr"
	"github.com/mohammad-safakhou/counsel/internal/docstore"
	"github.com/mohammad-safakhou/counsel/internal/models"
	"github.com/mohammad-safakhou/counsel/internal/search"
	"github.com/mohammad-safakhou/counsel/internal/session"
	"github.com/mohammad-safakhou/counsel/internal/telemetry"
	"github.com/mohammad-safakhou/counsel/internal/vault"
	"github.com/rs/zerolog"
)

func newLogger(cfg config.GeneralConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil || cfg.LogLevel == "" {
		level = zerolog.InfoLevel
	}
	if cfg.Debug {
		level = zerolog.DebugLevel
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stderr).Level(level).With().Timestamp().Logger()
}

// pipeline is the wired orchestrator plus everything that must be released.
type pipeline struct {
	orch    *agent.Orchestrator
	closers []func() error
}

func (p *pipeline) Close() error {
	var errs []error
	for i := len(p.closers) - 1; i >= 0; i-- {
		if err := p.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type pipelineOptions struct {
	policy      string
	withHistory bool
	metrics     *telemetry.Metrics
}

func sessionDSN(cfg *config.Config) string {
	if cfg.Storage.Sessions.Driver == "sqlite" {
		return cfg.Storage.Sessions.SQLitePath
	}
	return cfg.Storage.Postgres.DSN()
}

func buildPipeline(ctx context.Context, cfg *config.Config, log zerolog.Logger, opts pipelineOptions) (*pipeline, error) {
	p := &pipeline{}
	creds := cfg.Credentials()

	sp, err := search.NewProvider(cfg.Sources.WebSearch, creds, log)
	if err != nil {
		if apperr.KindOf(err) != apperr.KindConfig {
			return nil, err
		}
		log.Warn().Err(err).Msg("web search disabled")
		sp = nil
	}

	execOpts := []agent.ExecutorOption{
		agent.WithPolicy(opts.policy),
		agent.WithStepMetrics(opts.metrics),
		agent.WithRetrievalTopK(cfg.Agent.RetrievalTopK),
	}
	orchOpts := []agent.Option{
		agent.WithPlanner(agent.FixedPlanner{Retrieval: cfg.Agent.Retrieval}),
		agent.WithMetrics(opts.metrics),
	}

	if cfg.Storage.Sessions.Docstore {
		idx, err := docstore.New(
			docstore.WithTTL(cfg.Storage.Sessions.DocstoreTTL),
			docstore.WithMaxDocuments(cfg.Storage.Sessions.DocstoreMaxDocuments),
		)
		if err != nil {
			return nil, err
		}
		p.closers = append(p.closers, idx.Close)
		execOpts = append(execOpts, agent.WithRetriever(idx))
		orchOpts = append(orchOpts, agent.WithDocIndex(idx))
	}

	if opts.withHistory {
		keys, err := vault.ParseKeyring(cfg.Security.EncryptionKey, cfg.Security.RetiredKeys)
		if err != nil {
			_ = p.Close()
			return nil, fmt.Errorf("session encryption: %w", err)
		}
		store, err := session.Open(ctx, cfg.Storage.Sessions.Driver, sessionDSN(cfg), keys, log)
		if err != nil {
			_ = p.Close()
			return nil, fmt.Errorf("open session store: %w", err)
		}
		p.closers = append(p.closers, store.Close)
		orchOpts = append(orchOpts, agent.WithStore(store))
	}

	router := models.NewConfiguredRouter(cfg.LLM, creds, log)
	exec := agent.NewExecutor(sp, router, log, execOpts...)
	p.orch = agent.NewOrchestrator(exec, log, orchOpts...)
	return p, nil
}
