// Package telemetry groups the observability packages used by rulegate.
//
// # Components
//
//   - logging: slog loggers with context fields and PII redaction
//   - metrics: Prometheus collector for evaluations, conflicts, adaptation
//     and the audit stream
//   - tracing: OpenTelemetry spans around evaluation stages
//   - health: component checks behind the doctor command
//
// # Usage
//
//	cfg := config.MustGetConfig()
//
//	logger, err := logging.New(logging.OptionsFromConfig(cfg.Telemetry.Logging))
//	collector := metrics.NewCollector(cfg.Telemetry.Metrics, nil)
//	tracer, err := tracing.New(ctx, cfg.Telemetry.Tracing, version)
//	defer tracer.Shutdown(ctx)
//
//	eng, err := engine.New(engineCfg, reg,
//	    engine.WithLogger(logger),
//	    engine.WithMetrics(collector),
//	    engine.WithTracer(tracer),
//	)
//
// Every component accepts nil telemetry: a nil collector records nothing and
// a nil tracer produces no-op spans.
package telemetry
