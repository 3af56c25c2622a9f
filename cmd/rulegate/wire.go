package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"mercator-hq/rulegate/pkg/adaptation"
	"mercator-hq/rulegate/pkg/audit"
	"mercator-hq/rulegate/pkg/audit/recorder"
	"mercator-hq/rulegate/pkg/audit/retention"
	"mercator-hq/rulegate/pkg/audit/storage"
	"mercator-hq/rulegate/pkg/config"
	"mercator-hq/rulegate/pkg/engine"
	"mercator-hq/rulegate/pkg/rules/registry"
	"mercator-hq/rulegate/pkg/rules/source"
	"mercator-hq/rulegate/pkg/telemetry/logging"
	"mercator-hq/rulegate/pkg/telemetry/metrics"
	"mercator-hq/rulegate/pkg/telemetry/tracing"
)

// loadConfig loads the file named by --config with RULEGATE_* overrides and
// installs it as the process configuration. A missing file is only an error
// when the flag was set explicitly; otherwise the defaults are used.
func loadConfig(path string, explicit bool) (*config.Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) && !explicit {
		config.SetConfig(config.Default())
		return config.GetConfig(), nil
	}
	if err := config.ReloadConfig(path); err != nil {
		return nil, err
	}
	return config.GetConfig(), nil
}

// newLogger builds the process logger. verbose forces debug level.
func newLogger(cfg *config.Config, verbose bool, w io.Writer) (*slog.Logger, error) {
	opts := logging.OptionsFromConfig(cfg.Telemetry.Logging)
	if verbose {
		opts.Level = "debug"
	}
	opts.Writer = w
	return logging.New(opts)
}

func engineConfig(cfg config.EngineConfig) *engine.Config {
	return engine.DefaultConfig().
		WithDefaultStrategy(engine.Strategy(cfg.DefaultStrategy)).
		WithClassifierTimeout(cfg.ClassifierTimeout).
		WithSemanticThreshold(cfg.SemanticThreshold).
		WithBatchConcurrency(cfg.BatchConcurrency).
		WithMaxContentBytes(cfg.MaxContentBytes).
		WithRedaction(engine.RedactionStrategy(cfg.Redaction.Strategy), cfg.Redaction.Replacement)
}

func adaptationConfig(cfg config.AdaptationConfig) adaptation.Config {
	c := adaptation.DefaultConfig().
		WithWindow(cfg.Window).
		WithCooldown(cfg.Cooldown).
		WithMinSamples(cfg.MinSamples)
	c.ConflictRateThreshold = cfg.ConflictRateThreshold
	c.OverrideRateThreshold = cfg.OverrideRateThreshold
	c.MissRateThreshold = cfg.MissRateThreshold
	c.RecomputeSchedule = cfg.RecomputeSchedule
	c.BufferSize = cfg.BufferSize
	c.LogCapacity = cfg.LogCapacity
	return c
}

func recorderConfig(cfg config.AuditConfig) *recorder.Config {
	c := recorder.DefaultConfig()
	c.BufferSize = cfg.BufferSize
	c.WriteTimeout = cfg.WriteTimeout
	return c
}

func sqliteConfig(cfg config.AuditConfig) *storage.SQLiteConfig {
	c := storage.DefaultSQLiteConfig()
	c.Path = cfg.SQLitePath
	c.BusyTimeout = cfg.BusyTimeout
	return c
}

func retentionConfig(cfg config.AuditConfig) *retention.Config {
	c := retention.DefaultConfig()
	c.RetentionDays = cfg.RetentionDays
	c.PruneSchedule = cfg.RetentionSchedule
	return c
}

// ruleSource layers the configured system, organization and user rule paths.
// override replaces the whole stack with a single path.
func ruleSource(cfg config.RulesConfig, override string, logger *slog.Logger) source.Source {
	if override != "" {
		return source.NewFileSource(override, logger).Strict(cfg.Strict)
	}

	layers := []source.Layer{{
		Name:   "system",
		Source: source.NewFileSource(cfg.SystemPath, logger).Strict(cfg.Strict),
	}}
	if cfg.OrganizationPath != "" {
		layers = append(layers, source.Layer{
			Name:   "organization",
			Source: source.NewFileSource(cfg.OrganizationPath, logger).Strict(cfg.Strict),
		})
	}
	if cfg.UserPath != "" {
		layers = append(layers, source.Layer{
			Name:   "user",
			Source: source.NewFileSource(cfg.UserPath, logger).Strict(cfg.Strict),
		})
	}
	return source.NewLayered(logger, layers...)
}

// openAuditStorage opens the configured SQLite database, or an in-memory
// store when no path is configured.
func openAuditStorage(cfg config.AuditConfig) (audit.Storage, error) {
	if cfg.SQLitePath == "" {
		return storage.NewMemoryStorage(), nil
	}
	return storage.NewSQLiteStorage(sqliteConfig(cfg))
}

// stack is a fully wired evaluation stack.
type stack struct {
	logger    *slog.Logger
	metrics   *metrics.Collector
	tracer    *tracing.Tracer
	registry  *registry.Registry
	engine    *engine.Engine
	store     *adaptation.Store
	persister *adaptation.SQLitePersister
	auditDB   audit.Storage
	recorder  *recorder.Recorder
}

// newStack loads rules and wires the engine with the components enabled in
// cfg. rulesPath, when set, replaces the configured rule layers.
func newStack(ctx context.Context, cfg *config.Config, rulesPath string, logger *slog.Logger) (rt *stack, err error) {
	if logger == nil {
		logger = slog.Default()
	}
	rt = &stack{logger: logger}
	defer func() {
		if err != nil {
			rt.Close(context.Background())
		}
	}()

	rt.metrics = metrics.NewCollector(cfg.Telemetry.Metrics, nil)

	rt.tracer, err = tracing.New(ctx, cfg.Telemetry.Tracing, Version)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}

	rt.registry = registry.New(ruleSource(cfg.Rules, rulesPath, logger),
		registry.WithLogger(logger),
		registry.WithHistoryLimit(cfg.Rules.HistoryLimit),
	)
	if _, err := rt.registry.Reload(ctx); err != nil {
		return nil, fmt.Errorf("failed to load rules: %w", err)
	}

	opts := []engine.Option{
		engine.WithLogger(logger),
		engine.WithMetrics(rt.metrics),
		engine.WithTracer(rt.tracer),
	}

	if cfg.Adaptation.Enabled {
		storeOpts := []adaptation.Option{
			adaptation.WithLogger(logger),
			adaptation.WithObserver(rt.metrics),
		}
		if cfg.Adaptation.SQLitePath != "" {
			rt.persister, err = adaptation.OpenSQLite(cfg.Adaptation.SQLitePath, cfg.Audit.BusyTimeout)
			if err != nil {
				return nil, fmt.Errorf("failed to open adaptation database: %w", err)
			}
			storeOpts = append(storeOpts, adaptation.WithPersister(rt.persister))
		}
		rt.store, err = adaptation.New(ctx, adaptationConfig(cfg.Adaptation), storeOpts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create adaptation store: %w", err)
		}
		opts = append(opts, engine.WithAdaptation(rt.store))
	}

	rt.engine, err = engine.New(engineConfig(cfg.Engine), rt.registry, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create engine: %w", err)
	}

	if cfg.Audit.Enabled {
		rt.auditDB, err = openAuditStorage(cfg.Audit)
		if err != nil {
			return nil, fmt.Errorf("failed to open audit storage: %w", err)
		}
		rt.recorder, err = recorder.New(rt.auditDB, recorderConfig(cfg.Audit),
			recorder.WithLogger(logger),
			recorder.WithMetrics(rt.metrics),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create audit recorder: %w", err)
		}
		rt.recorder.Attach(rt.engine)
	}

	return rt, nil
}

// Close drains the recorder and the adaptation store, then releases their
// databases. It is safe to call on a partially built stack.
func (rt *stack) Close(ctx context.Context) error {
	var errs []error
	if rt.engine != nil {
		rt.engine.WaitDispatched()
	}
	if rt.recorder != nil {
		errs = append(errs, rt.recorder.Close())
	}
	if rt.auditDB != nil {
		errs = append(errs, rt.auditDB.Close())
	}
	if rt.store != nil {
		errs = append(errs, rt.store.Close(ctx))
	}
	if rt.persister != nil {
		errs = append(errs, rt.persister.Close())
	}
	if rt.tracer != nil {
		errs = append(errs, rt.tracer.Shutdown(ctx))
	}
	return errors.Join(errs...)
}
