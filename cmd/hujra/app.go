package main

import (
	"context"

	"hujra/internal/analysis"
	"hujra/internal/backup"
	"hujra/internal/blob"
	"hujra/internal/config"
	"hujra/internal/core"
	"hujra/internal/logging"
	"hujra/pkg/domain"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
)

// app holds everything a command needs.
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	store    domain.PersistentStore
	svc      *core.Service
	registry *prometheus.Registry
}

func bootstrap(ctx context.Context, cfg *config.Config) (*app, error) {
	logger, err := logging.New(cfg.Log)
	if err != nil {
		return nil, errors.Wrap(err, "logger")
	}
	a := &app{cfg: cfg, logger: logger, registry: prometheus.NewRegistry()}
	if err := a.init(ctx); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func (a *app) init(ctx context.Context) error {
	cfg := a.cfg
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics, err := core.NewPrometheusMetricsRecorder(a.registry)
	if err != nil {
		return errors.Wrap(err, "metrics")
	}

	store, err := core.OpenPersistentStore(ctx, cfg.Storage, core.NewDefaultRulesEngine())
	if err != nil {
		return err
	}
	a.store = store

	opts := []core.Option{
		core.WithLogger(a.logger),
		core.WithMetrics(metrics),
		core.WithSummarizer(analysis.New(cfg.Analysis, a.logger)),
		core.WithStrictNumbers(cfg.Progress.StrictNumbers),
		core.WithReportOptions(core.ReportOptions{
			HealthyMarker:   cfg.Reports.HealthyMarker,
			AlertStatuses:   cfg.Reports.AlertStatuses,
			RecentVisitDays: cfg.Reports.RecentVisitDays,
		}),
	}
	// archives are optional; a broken blob config only disables them
	if archives, err := blob.Open(ctx, cfg.Blob); err != nil {
		a.logger.Warn("backup archive disabled", zap.String("driver", cfg.Blob.Driver), zap.Error(err))
	} else {
		opts = append(opts, core.WithArchiver(backup.NewArchiver(archives, backup.WithPrefix(cfg.Blob.Prefix))))
	}

	svc, err := core.NewService(ctx, store, opts...)
	if err != nil {
		return err
	}
	a.svc = svc
	a.logger.Debug("service ready",
		zap.String("env", cfg.Env),
		zap.String("storage", cfg.Storage.Driver),
		zap.Int("students", len(svc.Students())))
	return nil
}

func (a *app) close() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("close store", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}
