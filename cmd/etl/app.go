package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/couchcryptid/climate-layers-etl/internal/adapter/filestore"
	kafkaadapter "github.com/couchcryptid/climate-layers-etl/internal/adapter/kafka"
	"github.com/couchcryptid/climate-layers-etl/internal/adapter/lake"
	"github.com/couchcryptid/climate-layers-etl/internal/adapter/postgres"
	"github.com/couchcryptid/climate-layers-etl/internal/config"
	"github.com/couchcryptid/climate-layers-etl/internal/domain"
	"github.com/couchcryptid/climate-layers-etl/internal/integrity"
	"github.com/couchcryptid/climate-layers-etl/internal/observability"
	"github.com/couchcryptid/climate-layers-etl/internal/pipeline"
)

// app holds the wired collaborators shared by every subcommand.
type app struct {
	cfg      *config.Config
	params   *config.Pipeline
	logger   *slog.Logger
	store    *filestore.Store
	bronze   pipeline.BronzeStore
	pipeline *pipeline.Pipeline

	closers []func() error
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	logger := observability.NewLogger(cfg)

	params, err := config.LoadPipeline(cfg.PipelineConfig)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:    cfg,
		params: params,
		logger: logger,
		store:  filestore.New(cfg.DataDir),
	}
	a.bronze = a.store

	if cfg.BronzeBackend == config.BackendPostgres {
		pg, err := postgres.Open(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, pg.Close)
		if err := pg.Migrate(ctx); err != nil {
			a.close()
			return nil, err
		}
		a.bronze = pg
		logger.Info("bronze stored in postgres")
	}

	var opts []pipeline.Option
	if cfg.EventsEnabled() {
		pub := kafkaadapter.NewPublisher(cfg, logger)
		a.closers = append(a.closers, pub.Close)
		opts = append(opts, pipeline.WithNotifier(pub))
		logger.Info("layer events enabled", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
	}
	if cfg.ParquetExport {
		exp, err := lake.NewExporter(a.store, logger)
		if err != nil {
			a.close()
			return nil, err
		}
		a.closers = append(a.closers, exp.Close)
		opts = append(opts, pipeline.WithExporter(exp))
	}

	a.pipeline = pipeline.New(
		filestore.NewBatchSource(cfg.RawBatchDir),
		a.bronze,
		a.store,
		pipeline.Params{
			ValueRanges: params.ValueRanges,
			Features:    params.Features,
			Target:      params.Target,
		},
		logger,
		observability.NewMetrics(),
		opts...,
	)
	return a, nil
}

// close releases collaborators in reverse order of creation.
func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Error("close error", "error", err)
		}
	}
	a.closers = nil
}

// layers loads every persisted layer for the integrity check. Layers that
// were never built are left nil.
func (a *app) layers(ctx context.Context) (integrity.Layers, error) {
	var l integrity.Layers
	var err error
	if l.Bronze, err = a.bronze.LoadBronze(ctx); err != nil {
		return l, fmt.Errorf("load bronze: %w", err)
	}

	silver, err := a.store.ReadSilver(ctx)
	switch {
	case err == nil:
		l.Silver = &silver
	case !errors.Is(err, fs.ErrNotExist):
		return l, fmt.Errorf("read silver: %w", err)
	}

	gold, err := a.store.ReadGold(ctx)
	switch {
	case err == nil:
		l.Gold = &gold
	case !errors.Is(err, fs.ErrNotExist):
		return l, fmt.Errorf("read gold: %w", err)
	}
	return l, nil
}

// strictErr returns err when strict mode is on.
func (a *app) strictErr(strict bool, err error) error {
	if !strict || err == nil {
		return nil
	}
	var qf *domain.QualityFailure
	if errors.As(err, &qf) {
		a.logger.Warn("quality gate failed", "layer", qf.Layer)
	}
	return err
}
