package config

import "time"

// Config is the root configuration of a rulegate deployment.
type Config struct {
	// Engine configures evaluation, conflict detection, and resolution.
	Engine EngineConfig `yaml:"engine"`

	// Rules configures where rules are loaded from.
	Rules RulesConfig `yaml:"rules"`

	// Adaptation configures the feedback and adaptation store.
	Adaptation AdaptationConfig `yaml:"adaptation"`

	// Audit configures the dispatch event audit trail.
	Audit AuditConfig `yaml:"audit"`

	// Telemetry configures logging, metrics, and tracing.
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// EngineConfig configures the evaluation engine.
type EngineConfig struct {
	// DefaultStrategy is the conflict resolution strategy used by Evaluate.
	// Options: "priority", "context_aware", "user_preference", "fallback"
	// Default: "priority"
	DefaultStrategy string `yaml:"default_strategy"`

	// ClassifierTimeout bounds every classifier call.
	// Default: 50ms
	ClassifierTimeout time.Duration `yaml:"classifier_timeout"`

	// SemanticThreshold is the confidence difference below which two
	// same-category rules are considered ambiguous.
	// Default: 0.15
	SemanticThreshold float64 `yaml:"semantic_threshold"`

	// BatchConcurrency limits concurrent evaluations in a batch.
	// Default: 10
	BatchConcurrency int `yaml:"batch_concurrency"`

	// MaxContentBytes rejects larger content with a fail-closed result.
	// Zero disables the limit.
	// Default: 1048576 (1MB)
	MaxContentBytes int `yaml:"max_content_bytes"`

	// Redaction configures the transformation applied by adapt actions.
	Redaction RedactionConfig `yaml:"redaction"`
}

// RedactionConfig configures span redaction.
type RedactionConfig struct {
	// Strategy is how matched spans are rewritten.
	// Options: "mask", "remove", "replace"
	// Default: "mask"
	Strategy string `yaml:"strategy"`

	// Replacement is the text used by the "replace" strategy.
	// Default: "[REDACTED]"
	Replacement string `yaml:"replacement"`
}

// RulesConfig configures the layered rule sources.
type RulesConfig struct {
	// SystemPath is the file or directory holding system default rules.
	// Default: "./rules"
	SystemPath string `yaml:"system_path"`

	// OrganizationPath optionally layers organization rules over system rules.
	OrganizationPath string `yaml:"organization_path"`

	// UserPath optionally layers user rules over organization rules.
	UserPath string `yaml:"user_path"`

	// Watch reloads rules when files change.
	// Default: false
	Watch bool `yaml:"watch"`

	// DebounceInterval is the quiet period before a watched change reloads.
	// Default: 200ms
	DebounceInterval time.Duration `yaml:"debounce_interval"`

	// Strict fails loading on the first invalid rule file instead of
	// skipping it.
	// Default: false
	Strict bool `yaml:"strict"`

	// HistoryLimit bounds how many replaced versions of each rule the
	// registry keeps.
	// Default: 10
	HistoryLimit int `yaml:"history_limit"`
}

// AdaptationConfig configures the adaptation store.
type AdaptationConfig struct {
	// Enabled turns on feedback-driven adaptation.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// Window is the rolling window for rate computation.
	// Default: 24h
	Window time.Duration `yaml:"window"`

	// MinSamples is the minimum number of dispatches before rates count.
	// Default: 5
	MinSamples int `yaml:"min_samples"`

	// ConflictRateThreshold default: 0.3
	ConflictRateThreshold float64 `yaml:"conflict_rate_threshold"`

	// OverrideRateThreshold default: 0.2
	OverrideRateThreshold float64 `yaml:"override_rate_threshold"`

	// MissRateThreshold default: 0.1
	MissRateThreshold float64 `yaml:"miss_rate_threshold"`

	// Cooldown before an adjusted rule returns to stable.
	// Default: 1h
	Cooldown time.Duration `yaml:"cooldown"`

	// RecomputeSchedule is a cron expression.
	// Default: "@every 1m"
	RecomputeSchedule string `yaml:"recompute_schedule"`

	// BufferSize is the signal queue capacity.
	// Default: 4096
	BufferSize int `yaml:"buffer_size"`

	// LogCapacity is the in-memory resolution log size.
	// Default: 10000
	LogCapacity int `yaml:"log_capacity"`

	// SQLitePath persists snapshots and the resolution log. Empty keeps
	// adaptation state in memory only.
	SQLitePath string `yaml:"sqlite_path"`
}

// AuditConfig configures the audit trail of dispatched actions.
type AuditConfig struct {
	// Enabled turns on audit recording.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// SQLitePath is the audit database path.
	// Default: "data/audit.db"
	SQLitePath string `yaml:"sqlite_path"`

	// BusyTimeout is the SQLite busy timeout.
	// Default: 5s
	BusyTimeout time.Duration `yaml:"busy_timeout"`

	// BufferSize is the async recorder queue capacity.
	// Default: 1000
	BufferSize int `yaml:"buffer_size"`

	// WriteTimeout bounds a single storage write.
	// Default: 5s
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// RetentionDays deletes events older than this many days. Zero keeps
	// events forever.
	// Default: 90
	RetentionDays int `yaml:"retention_days"`

	// RetentionSchedule is the cron expression for pruning.
	// Default: "0 3 * * *"
	RetentionSchedule string `yaml:"retention_schedule"`
}

// TelemetryConfig groups the observability settings.
type TelemetryConfig struct {
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
	Tracing TracingConfig `yaml:"tracing"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	// Level is the minimum log level.
	// Options: "debug", "info", "warn", "error"
	// Default: "info"
	Level string `yaml:"level"`

	// Format is the log output format.
	// Options: "json", "text"
	// Default: "json"
	Format string `yaml:"format"`

	// AddSource includes file and line in log entries.
	// Default: false
	AddSource bool `yaml:"add_source"`

	// RedactPII masks emails, keys, and similar values in log attributes.
	// Default: true when loaded from a file without an explicit value.
	RedactPII *bool `yaml:"redact_pii"`
}

// RedactionEnabled reports whether PII redaction is on.
func (c LoggingConfig) RedactionEnabled() bool {
	return c.RedactPII == nil || *c.RedactPII
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	// Enabled registers engine metrics.
	// Default: true when loaded from a file without an explicit value.
	Enabled *bool `yaml:"enabled"`

	// Namespace prefixes every metric name.
	// Default: "rulegate"
	Namespace string `yaml:"namespace"`
}

// IsEnabled reports whether metrics are on.
func (c MetricsConfig) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// TracingConfig configures OpenTelemetry tracing.
type TracingConfig struct {
	// Enabled controls whether tracing is active.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// Sampler is the sampling strategy.
	// Options: "always", "never", "ratio"
	// Default: "ratio"
	Sampler string `yaml:"sampler"`

	// SampleRatio is the fraction of traces sampled with the ratio sampler.
	// Default: 0.1
	SampleRatio float64 `yaml:"sample_ratio"`

	// Endpoint is the OTLP gRPC collector endpoint.
	// Default: "localhost:4317"
	Endpoint string `yaml:"endpoint"`

	// ServiceName is reported with every span.
	// Default: "rulegate"
	ServiceName string `yaml:"service_name"`

	// OTLP holds exporter settings.
	OTLP OTLPConfig `yaml:"otlp"`
}

// OTLPConfig configures the OTLP exporter.
type OTLPConfig struct {
	// Insecure disables TLS.
	// Default: false
	Insecure bool `yaml:"insecure"`

	// Timeout bounds exports.
	// Default: 10s
	Timeout time.Duration `yaml:"timeout"`
}
