package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rulegate.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	return path
}

func TestLoadConfig_ValidFile(t *testing.T) {
	path := writeConfig(t, `
engine:
  default_strategy: "context_aware"
  classifier_timeout: "100ms"
  batch_concurrency: 4
  redaction:
    strategy: "replace"
    replacement: "[removed]"

rules:
  system_path: "./rules/system"
  organization_path: "./rules/org"
  watch: true

adaptation:
  enabled: true
  window: "12h"
  min_samples: 10

telemetry:
  logging:
    level: "debug"
    format: "text"
    redact_pii: false
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Engine.DefaultStrategy != "context_aware" {
		t.Errorf("expected strategy %q, got %q", "context_aware", cfg.Engine.DefaultStrategy)
	}
	if cfg.Engine.ClassifierTimeout != 100*time.Millisecond {
		t.Errorf("expected classifier timeout %v, got %v", 100*time.Millisecond, cfg.Engine.ClassifierTimeout)
	}
	if cfg.Engine.BatchConcurrency != 4 {
		t.Errorf("expected batch concurrency 4, got %d", cfg.Engine.BatchConcurrency)
	}
	if cfg.Engine.Redaction.Replacement != "[removed]" {
		t.Errorf("expected replacement %q, got %q", "[removed]", cfg.Engine.Redaction.Replacement)
	}
	if cfg.Rules.OrganizationPath != "./rules/org" {
		t.Errorf("expected organization path %q, got %q", "./rules/org", cfg.Rules.OrganizationPath)
	}
	if cfg.Adaptation.Window != 12*time.Hour {
		t.Errorf("expected window %v, got %v", 12*time.Hour, cfg.Adaptation.Window)
	}
	if cfg.Adaptation.MinSamples != 10 {
		t.Errorf("expected min samples 10, got %d", cfg.Adaptation.MinSamples)
	}
	if cfg.Telemetry.Logging.RedactionEnabled() {
		t.Error("expected PII redaction to be disabled")
	}

	// Omitted fields fall back to defaults.
	if cfg.Engine.SemanticThreshold != DefaultSemanticThreshold {
		t.Errorf("expected semantic threshold %v, got %v", DefaultSemanticThreshold, cfg.Engine.SemanticThreshold)
	}
	if cfg.Adaptation.Cooldown != DefaultAdaptationCooldown {
		t.Errorf("expected cooldown %v, got %v", DefaultAdaptationCooldown, cfg.Adaptation.Cooldown)
	}
	if !cfg.Telemetry.Metrics.IsEnabled() {
		t.Error("expected metrics to default to enabled")
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected os.ErrNotExist, got %v", err)
	}
}

func TestLoadConfig_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "engine: [unclosed")
	if _, err := LoadConfig(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	if err := Validate(cfg); err != nil {
		t.Fatalf("default configuration should be valid: %v", err)
	}
	if cfg.Engine.DefaultStrategy != DefaultStrategy {
		t.Errorf("expected default strategy %q, got %q", DefaultStrategy, cfg.Engine.DefaultStrategy)
	}
	if cfg.Adaptation.Enabled || cfg.Audit.Enabled {
		t.Error("adaptation and audit should be disabled by default")
	}
}

func TestApplyDefaults_Idempotent(t *testing.T) {
	cfg := &Config{}
	ApplyDefaults(cfg)
	first := *cfg
	ApplyDefaults(cfg)
	if first.Engine != cfg.Engine || first.Adaptation != cfg.Adaptation || first.Audit != cfg.Audit {
		t.Error("ApplyDefaults changed an already-defaulted configuration")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		wantField string
	}{
		{
			name:      "unknown strategy",
			mutate:    func(c *Config) { c.Engine.DefaultStrategy = "coin_flip" },
			wantField: "engine.default_strategy",
		},
		{
			name:      "zero classifier timeout",
			mutate:    func(c *Config) { c.Engine.ClassifierTimeout = -time.Millisecond },
			wantField: "engine.classifier_timeout",
		},
		{
			name:      "semantic threshold out of range",
			mutate:    func(c *Config) { c.Engine.SemanticThreshold = 1.5 },
			wantField: "engine.semantic_threshold",
		},
		{
			name:      "unknown redaction strategy",
			mutate:    func(c *Config) { c.Engine.Redaction.Strategy = "shred" },
			wantField: "engine.redaction.strategy",
		},
		{
			name:      "empty system path",
			mutate:    func(c *Config) { c.Rules.SystemPath = "" },
			wantField: "rules.system_path",
		},
		{
			name:      "negative history limit",
			mutate:    func(c *Config) { c.Rules.HistoryLimit = -1 },
			wantField: "rules.history_limit",
		},
		{
			name: "bad recompute schedule",
			mutate: func(c *Config) {
				c.Adaptation.Enabled = true
				c.Adaptation.RecomputeSchedule = "every tuesday"
			},
			wantField: "adaptation.recompute_schedule",
		},
		{
			name: "override rate above one",
			mutate: func(c *Config) {
				c.Adaptation.Enabled = true
				c.Adaptation.OverrideRateThreshold = 1.2
			},
			wantField: "adaptation.override_rate_threshold",
		},
		{
			name: "audit without path",
			mutate: func(c *Config) {
				c.Audit.Enabled = true
				c.Audit.SQLitePath = ""
			},
			wantField: "audit.sqlite_path",
		},
		{
			name:      "bad log level",
			mutate:    func(c *Config) { c.Telemetry.Logging.Level = "verbose" },
			wantField: "telemetry.logging.level",
		},
		{
			name: "bad sample ratio",
			mutate: func(c *Config) {
				c.Telemetry.Tracing.Enabled = true
				c.Telemetry.Tracing.SampleRatio = 2
			},
			wantField: "telemetry.tracing.sample_ratio",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)

			err := Validate(cfg)
			if err == nil {
				t.Fatal("expected validation error")
			}
			var verr ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected ValidationError, got %T", err)
			}
			found := false
			for _, fe := range verr.Errors {
				if fe.Field == tt.wantField {
					found = true
				}
			}
			if !found {
				t.Errorf("expected error for field %q, got %v", tt.wantField, verr)
			}
		})
	}
}

func TestValidate_DisabledSectionsSkipped(t *testing.T) {
	cfg := Default()
	cfg.Adaptation.RecomputeSchedule = "not a schedule"
	cfg.Audit.SQLitePath = ""
	if err := Validate(cfg); err != nil {
		t.Errorf("disabled sections should not be validated: %v", err)
	}
}

func TestValidationError_MultipleErrors(t *testing.T) {
	err := ValidationError{Errors: []FieldError{
		{Field: "a", Message: "bad"},
		{Field: "b", Message: "worse"},
	}}
	msg := err.Error()
	if !strings.Contains(msg, "2 errors") || !strings.Contains(msg, "a: bad") || !strings.Contains(msg, "b: worse") {
		t.Errorf("unexpected message: %s", msg)
	}
}

func TestLoadConfigWithEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
engine:
  default_strategy: "priority"
`)

	t.Setenv("RULEGATE_ENGINE_DEFAULT_STRATEGY", "fallback")
	t.Setenv("RULEGATE_ENGINE_BATCH_CONCURRENCY", "3")
	t.Setenv("RULEGATE_ADAPTATION_WINDOW", "2h")
	t.Setenv("RULEGATE_RULES_WATCH", "true")
	t.Setenv("RULEGATE_ENGINE_SEMANTIC_THRESHOLD", "not-a-number")

	cfg, err := LoadConfigWithEnvOverrides(path)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Engine.DefaultStrategy != "fallback" {
		t.Errorf("expected env override %q, got %q", "fallback", cfg.Engine.DefaultStrategy)
	}
	if cfg.Engine.BatchConcurrency != 3 {
		t.Errorf("expected batch concurrency 3, got %d", cfg.Engine.BatchConcurrency)
	}
	if cfg.Adaptation.Window != 2*time.Hour {
		t.Errorf("expected window %v, got %v", 2*time.Hour, cfg.Adaptation.Window)
	}
	if !cfg.Rules.Watch {
		t.Error("expected watch to be enabled")
	}
	if cfg.Engine.SemanticThreshold != DefaultSemanticThreshold {
		t.Errorf("unparseable override should be ignored, got %v", cfg.Engine.SemanticThreshold)
	}
}

func TestLoadConfigWithEnvOverrides_InvalidOverride(t *testing.T) {
	path := writeConfig(t, "{}")
	t.Setenv("RULEGATE_ENGINE_DEFAULT_STRATEGY", "coin_flip")

	if _, err := LoadConfigWithEnvOverrides(path); err == nil {
		t.Fatal("expected validation error after env override")
	}
}

func TestSingleton_SetAndReload(t *testing.T) {
	prev := GetConfig()
	t.Cleanup(func() { SetConfig(prev) })

	cfg := Default()
	SetConfig(cfg)
	if GetConfig() != cfg {
		t.Fatal("GetConfig should return the configuration passed to SetConfig")
	}
	if MustGetConfig() != cfg {
		t.Fatal("MustGetConfig should return the configuration passed to SetConfig")
	}

	bad := writeConfig(t, "engine:\n  default_strategy: coin_flip\n")
	if err := ReloadConfig(bad); err == nil {
		t.Fatal("expected reload error")
	}
	if GetConfig() != cfg {
		t.Error("failed reload should keep the current configuration")
	}

	good := writeConfig(t, "engine:\n  default_strategy: fallback\n")
	if err := ReloadConfig(good); err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if GetConfig().Engine.DefaultStrategy != "fallback" {
		t.Errorf("expected reloaded strategy, got %q", GetConfig().Engine.DefaultStrategy)
	}
}

func TestMustGetConfig_PanicsWhenUnset(t *testing.T) {
	prev := GetConfig()
	t.Cleanup(func() { SetConfig(prev) })
	SetConfig(nil)

	defer func() {
		if recover() == nil {
			t.Error("expected panic")
		}
	}()
	MustGetConfig()
}
