package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// LoadConfig loads configuration from a YAML file at the specified path,
// applies default values, and validates the result. Environment variables are
// not consulted; use LoadConfigWithEnvOverrides for that.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration file %q: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML configuration, applies defaults, and validates it.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadConfigWithEnvOverrides loads configuration from a YAML file and applies
// environment variable overrides. Variables follow the naming convention
// RULEGATE_SECTION_FIELD (e.g., RULEGATE_ENGINE_DEFAULT_STRATEGY) and always
// take precedence over the file.
//
// The loading sequence is:
// 1. Load YAML from file
// 2. Apply default values
// 3. Apply environment variable overrides
// 4. Validate final configuration
func LoadConfigWithEnvOverrides(path string) (*Config, error) {
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed after environment overrides: %w", err)
	}
	return cfg, nil
}

// applyEnvOverrides applies RULEGATE_* environment variables. Unparseable
// values are ignored.
func applyEnvOverrides(cfg *Config) {
	// Engine overrides
	envString("RULEGATE_ENGINE_DEFAULT_STRATEGY", &cfg.Engine.DefaultStrategy)
	envDuration("RULEGATE_ENGINE_CLASSIFIER_TIMEOUT", &cfg.Engine.ClassifierTimeout)
	envFloat("RULEGATE_ENGINE_SEMANTIC_THRESHOLD", &cfg.Engine.SemanticThreshold)
	envInt("RULEGATE_ENGINE_BATCH_CONCURRENCY", &cfg.Engine.BatchConcurrency)
	envInt("RULEGATE_ENGINE_MAX_CONTENT_BYTES", &cfg.Engine.MaxContentBytes)

	// Rules overrides
	envString("RULEGATE_RULES_SYSTEM_PATH", &cfg.Rules.SystemPath)
	envString("RULEGATE_RULES_ORGANIZATION_PATH", &cfg.Rules.OrganizationPath)
	envString("RULEGATE_RULES_USER_PATH", &cfg.Rules.UserPath)
	envBool("RULEGATE_RULES_WATCH", &cfg.Rules.Watch)

	// Adaptation overrides
	envBool("RULEGATE_ADAPTATION_ENABLED", &cfg.Adaptation.Enabled)
	envDuration("RULEGATE_ADAPTATION_WINDOW", &cfg.Adaptation.Window)
	envDuration("RULEGATE_ADAPTATION_COOLDOWN", &cfg.Adaptation.Cooldown)
	envString("RULEGATE_ADAPTATION_RECOMPUTE_SCHEDULE", &cfg.Adaptation.RecomputeSchedule)
	envString("RULEGATE_ADAPTATION_SQLITE_PATH", &cfg.Adaptation.SQLitePath)

	// Audit overrides
	envBool("RULEGATE_AUDIT_ENABLED", &cfg.Audit.Enabled)
	envString("RULEGATE_AUDIT_SQLITE_PATH", &cfg.Audit.SQLitePath)
	envInt("RULEGATE_AUDIT_RETENTION_DAYS", &cfg.Audit.RetentionDays)

	// Telemetry overrides
	envString("RULEGATE_TELEMETRY_LOGGING_LEVEL", &cfg.Telemetry.Logging.Level)
	envString("RULEGATE_TELEMETRY_LOGGING_FORMAT", &cfg.Telemetry.Logging.Format)
	envBool("RULEGATE_TELEMETRY_TRACING_ENABLED", &cfg.Telemetry.Tracing.Enabled)
	envString("RULEGATE_TELEMETRY_TRACING_ENDPOINT", &cfg.Telemetry.Tracing.Endpoint)
}

func envString(name string, dst *string) {
	if val := os.Getenv(name); val != "" {
		*dst = val
	}
}

func envBool(name string, dst *bool) {
	if val := os.Getenv(name); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			*dst = b
		}
	}
}

func envInt(name string, dst *int) {
	if val := os.Getenv(name); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			*dst = i
		}
	}
}

func envFloat(name string, dst *float64) {
	if val := os.Getenv(name); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			*dst = f
		}
	}
}

func envDuration(name string, dst *time.Duration) {
	if val := os.Getenv(name); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			*dst = d
		}
	}
}
