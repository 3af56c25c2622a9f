package config

import "time"

// Default values for configuration fields.
const (
	// Engine defaults
	DefaultStrategy             = "priority"
	DefaultClassifierTimeout    = 50 * time.Millisecond
	DefaultSemanticThreshold    = 0.15
	DefaultBatchConcurrency     = 10
	DefaultMaxContentBytes      = 1048576 // 1MB
	DefaultRedactionStrategy    = "mask"
	DefaultRedactionReplacement = "[REDACTED]"

	// Rules defaults
	DefaultRulesSystemPath       = "./rules"
	DefaultRulesDebounceInterval = 200 * time.Millisecond
	DefaultRulesHistoryLimit     = 10

	// Adaptation defaults
	DefaultAdaptationWindow                = 24 * time.Hour
	DefaultAdaptationMinSamples            = 5
	DefaultAdaptationConflictRateThreshold = 0.3
	DefaultAdaptationOverrideRateThreshold = 0.2
	DefaultAdaptationMissRateThreshold     = 0.1
	DefaultAdaptationCooldown              = time.Hour
	DefaultAdaptationRecomputeSchedule     = "@every 1m"
	DefaultAdaptationBufferSize            = 4096
	DefaultAdaptationLogCapacity           = 10000

	// Audit defaults
	DefaultAuditSQLitePath        = "data/audit.db"
	DefaultAuditBusyTimeout       = 5 * time.Second
	DefaultAuditBufferSize        = 1000
	DefaultAuditWriteTimeout      = 5 * time.Second
	DefaultAuditRetentionDays     = 90
	DefaultAuditRetentionSchedule = "0 3 * * *"

	// Telemetry defaults
	DefaultLoggingLevel       = "info"
	DefaultLoggingFormat      = "json"
	DefaultMetricsNamespace   = "rulegate"
	DefaultTracingSampler     = "ratio"
	DefaultTracingSampleRatio = 0.1
	DefaultTracingEndpoint    = "localhost:4317"
	DefaultTracingServiceName = "rulegate"
	DefaultTracingOTLPTimeout = 10 * time.Second
)

// ApplyDefaults sets defaults for every zero-valued field. It is idempotent.
func ApplyDefaults(cfg *Config) {
	// Engine defaults
	if cfg.Engine.DefaultStrategy == "" {
		cfg.Engine.DefaultStrategy = DefaultStrategy
	}
	if cfg.Engine.ClassifierTimeout == 0 {
		cfg.Engine.ClassifierTimeout = DefaultClassifierTimeout
	}
	if cfg.Engine.SemanticThreshold == 0 {
		cfg.Engine.SemanticThreshold = DefaultSemanticThreshold
	}
	if cfg.Engine.BatchConcurrency == 0 {
		cfg.Engine.BatchConcurrency = DefaultBatchConcurrency
	}
	if cfg.Engine.MaxContentBytes == 0 {
		cfg.Engine.MaxContentBytes = DefaultMaxContentBytes
	}
	if cfg.Engine.Redaction.Strategy == "" {
		cfg.Engine.Redaction.Strategy = DefaultRedactionStrategy
	}
	if cfg.Engine.Redaction.Replacement == "" {
		cfg.Engine.Redaction.Replacement = DefaultRedactionReplacement
	}

	// Rules defaults
	if cfg.Rules.SystemPath == "" {
		cfg.Rules.SystemPath = DefaultRulesSystemPath
	}
	if cfg.Rules.DebounceInterval == 0 {
		cfg.Rules.DebounceInterval = DefaultRulesDebounceInterval
	}
	if cfg.Rules.HistoryLimit == 0 {
		cfg.Rules.HistoryLimit = DefaultRulesHistoryLimit
	}

	// Adaptation defaults
	a := &cfg.Adaptation
	if a.Window == 0 {
		a.Window = DefaultAdaptationWindow
	}
	if a.MinSamples == 0 {
		a.MinSamples = DefaultAdaptationMinSamples
	}
	if a.ConflictRateThreshold == 0 {
		a.ConflictRateThreshold = DefaultAdaptationConflictRateThreshold
	}
	if a.OverrideRateThreshold == 0 {
		a.OverrideRateThreshold = DefaultAdaptationOverrideRateThreshold
	}
	if a.MissRateThreshold == 0 {
		a.MissRateThreshold = DefaultAdaptationMissRateThreshold
	}
	if a.Cooldown == 0 {
		a.Cooldown = DefaultAdaptationCooldown
	}
	if a.RecomputeSchedule == "" {
		a.RecomputeSchedule = DefaultAdaptationRecomputeSchedule
	}
	if a.BufferSize == 0 {
		a.BufferSize = DefaultAdaptationBufferSize
	}
	if a.LogCapacity == 0 {
		a.LogCapacity = DefaultAdaptationLogCapacity
	}

	// Audit defaults
	if cfg.Audit.SQLitePath == "" {
		cfg.Audit.SQLitePath = DefaultAuditSQLitePath
	}
	if cfg.Audit.BusyTimeout == 0 {
		cfg.Audit.BusyTimeout = DefaultAuditBusyTimeout
	}
	if cfg.Audit.BufferSize == 0 {
		cfg.Audit.BufferSize = DefaultAuditBufferSize
	}
	if cfg.Audit.WriteTimeout == 0 {
		cfg.Audit.WriteTimeout = DefaultAuditWriteTimeout
	}
	if cfg.Audit.RetentionDays == 0 {
		cfg.Audit.RetentionDays = DefaultAuditRetentionDays
	}
	if cfg.Audit.RetentionSchedule == "" {
		cfg.Audit.RetentionSchedule = DefaultAuditRetentionSchedule
	}

	// Telemetry defaults
	if cfg.Telemetry.Logging.Level == "" {
		cfg.Telemetry.Logging.Level = DefaultLoggingLevel
	}
	if cfg.Telemetry.Logging.Format == "" {
		cfg.Telemetry.Logging.Format = DefaultLoggingFormat
	}
	if cfg.Telemetry.Metrics.Namespace == "" {
		cfg.Telemetry.Metrics.Namespace = DefaultMetricsNamespace
	}
	tr := &cfg.Telemetry.Tracing
	if tr.Sampler == "" {
		tr.Sampler = DefaultTracingSampler
	}
	if tr.SampleRatio == 0 && tr.Sampler == "ratio" {
		tr.SampleRatio = DefaultTracingSampleRatio
	}
	if tr.Endpoint == "" {
		tr.Endpoint = DefaultTracingEndpoint
	}
	if tr.ServiceName == "" {
		tr.ServiceName = DefaultTracingServiceName
	}
	if tr.OTLP.Timeout == 0 {
		tr.OTLP.Timeout = DefaultTracingOTLPTimeout
	}
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}
