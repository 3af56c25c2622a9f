package config

import (
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"
)

// FieldError represents a validation error for a specific configuration field.
type FieldError struct {
	// Field is the dotted path to the configuration field (e.g., "engine.batch_concurrency").
	Field string

	// Message is a human-readable error message.
	Message string
}

// Error returns the error message for this field error.
func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationError represents one or more validation errors in a configuration.
type ValidationError struct {
	// Errors contains all validation errors found in the configuration.
	Errors []FieldError
}

// Error returns a formatted string containing all validation errors.
func (e ValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "configuration validation failed"
	}
	if len(e.Errors) == 1 {
		return fmt.Sprintf("configuration validation failed: %s", e.Errors[0].Error())
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("configuration validation failed with %d errors:\n", len(e.Errors)))
	for _, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  - %s\n", err.Error()))
	}
	return sb.String()
}

// Validate validates the entire configuration. All validation errors are
// collected and returned together.
func Validate(cfg *Config) error {
	var errs []FieldError

	errs = append(errs, validateEngine(&cfg.Engine)...)
	errs = append(errs, validateRules(&cfg.Rules)...)
	errs = append(errs, validateAdaptation(&cfg.Adaptation)...)
	errs = append(errs, validateAudit(&cfg.Audit)...)
	errs = append(errs, validateTelemetry(&cfg.Telemetry)...)

	if len(errs) > 0 {
		return ValidationError{Errors: errs}
	}
	return nil
}

var validStrategies = map[string]bool{
	"priority":        true,
	"context_aware":   true,
	"user_preference": true,
	"fallback":        true,
}

func validateEngine(cfg *EngineConfig) []FieldError {
	var errs []FieldError

	if !validStrategies[cfg.DefaultStrategy] {
		errs = append(errs, FieldError{
			Field:   "engine.default_strategy",
			Message: fmt.Sprintf("invalid strategy %q: must be 'priority', 'context_aware', 'user_preference', or 'fallback'", cfg.DefaultStrategy),
		})
	}
	if cfg.ClassifierTimeout <= 0 {
		errs = append(errs, FieldError{Field: "engine.classifier_timeout", Message: "must be positive"})
	}
	if cfg.SemanticThreshold <= 0 || cfg.SemanticThreshold >= 1 {
		errs = append(errs, FieldError{
			Field:   "engine.semantic_threshold",
			Message: fmt.Sprintf("must be between 0 and 1 (exclusive), got %v", cfg.SemanticThreshold),
		})
	}
	if cfg.BatchConcurrency < 1 {
		errs = append(errs, FieldError{Field: "engine.batch_concurrency", Message: "must be at least 1"})
	}
	if cfg.MaxContentBytes < 0 {
		errs = append(errs, FieldError{Field: "engine.max_content_bytes", Message: "cannot be negative"})
	}
	switch cfg.Redaction.Strategy {
	case "mask", "remove", "replace":
	default:
		errs = append(errs, FieldError{
			Field:   "engine.redaction.strategy",
			Message: fmt.Sprintf("invalid strategy %q: must be 'mask', 'remove', or 'replace'", cfg.Redaction.Strategy),
		})
	}

	return errs
}

func validateRules(cfg *RulesConfig) []FieldError {
	var errs []FieldError
	if cfg.SystemPath == "" {
		errs = append(errs, FieldError{Field: "rules.system_path", Message: "system rule path is required"})
	}
	if cfg.Watch && cfg.DebounceInterval <= 0 {
		errs = append(errs, FieldError{Field: "rules.debounce_interval", Message: "must be positive when watching"})
	}
	if cfg.HistoryLimit < 1 {
		errs = append(errs, FieldError{Field: "rules.history_limit", Message: "must be at least 1"})
	}
	return errs
}

func validateAdaptation(cfg *AdaptationConfig) []FieldError {
	if !cfg.Enabled {
		return nil
	}
	var errs []FieldError

	if cfg.Window <= 0 {
		errs = append(errs, FieldError{Field: "adaptation.window", Message: "must be positive"})
	}
	if cfg.MinSamples < 1 {
		errs = append(errs, FieldError{Field: "adaptation.min_samples", Message: "must be at least 1"})
	}
	rates := []struct {
		field string
		value float64
	}{
		{"adaptation.conflict_rate_threshold", cfg.ConflictRateThreshold},
		{"adaptation.override_rate_threshold", cfg.OverrideRateThreshold},
		{"adaptation.miss_rate_threshold", cfg.MissRateThreshold},
	}
	for _, r := range rates {
		if r.value <= 0 || r.value > 1 {
			errs = append(errs, FieldError{Field: r.field, Message: fmt.Sprintf("must be in (0, 1], got %v", r.value)})
		}
	}
	if cfg.Cooldown < 0 {
		errs = append(errs, FieldError{Field: "adaptation.cooldown", Message: "cannot be negative"})
	}
	if err := validateSchedule(cfg.RecomputeSchedule); err != nil {
		errs = append(errs, FieldError{Field: "adaptation.recompute_schedule", Message: err.Error()})
	}
	if cfg.BufferSize < 1 {
		errs = append(errs, FieldError{Field: "adaptation.buffer_size", Message: "must be at least 1"})
	}
	if cfg.LogCapacity < 1 {
		errs = append(errs, FieldError{Field: "adaptation.log_capacity", Message: "must be at least 1"})
	}

	return errs
}

func validateAudit(cfg *AuditConfig) []FieldError {
	if !cfg.Enabled {
		return nil
	}
	var errs []FieldError

	if cfg.SQLitePath == "" {
		errs = append(errs, FieldError{Field: "audit.sqlite_path", Message: "audit database path is required"})
	}
	if cfg.BufferSize < 1 {
		errs = append(errs, FieldError{Field: "audit.buffer_size", Message: "must be at least 1"})
	}
	if cfg.WriteTimeout <= 0 {
		errs = append(errs, FieldError{Field: "audit.write_timeout", Message: "must be positive"})
	}
	if cfg.RetentionDays < 0 {
		errs = append(errs, FieldError{Field: "audit.retention_days", Message: "cannot be negative"})
	}
	if err := validateSchedule(cfg.RetentionSchedule); err != nil {
		errs = append(errs, FieldError{Field: "audit.retention_schedule", Message: err.Error()})
	}

	return errs
}

func validateTelemetry(cfg *TelemetryConfig) []FieldError {
	var errs []FieldError

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Logging.Level] {
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.level",
			Message: fmt.Sprintf("invalid logging level %q: must be 'debug', 'info', 'warn', or 'error'", cfg.Logging.Level),
		})
	}
	if cfg.Logging.Format != "json" && cfg.Logging.Format != "text" {
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.format",
			Message: fmt.Sprintf("invalid logging format %q: must be 'json' or 'text'", cfg.Logging.Format),
		})
	}

	if cfg.Tracing.Enabled {
		switch cfg.Tracing.Sampler {
		case "always", "never":
		case "ratio":
			if cfg.Tracing.SampleRatio < 0 || cfg.Tracing.SampleRatio > 1 {
				errs = append(errs, FieldError{
					Field:   "telemetry.tracing.sample_ratio",
					Message: fmt.Sprintf("must be between 0.0 and 1.0, got %v", cfg.Tracing.SampleRatio),
				})
			}
		default:
			errs = append(errs, FieldError{
				Field:   "telemetry.tracing.sampler",
				Message: fmt.Sprintf("invalid sampler %q: must be 'always', 'never', or 'ratio'", cfg.Tracing.Sampler),
			})
		}
		if cfg.Tracing.Endpoint == "" {
			errs = append(errs, FieldError{Field: "telemetry.tracing.endpoint", Message: "endpoint is required when tracing is enabled"})
		}
	}

	return errs
}

func validateSchedule(expr string) error {
	if expr == "" {
		return nil
	}
	if _, err := cron.ParseStandard(expr); err != nil {
		return fmt.Errorf("invalid cron schedule %q: %v", expr, err)
	}
	return nil
}
