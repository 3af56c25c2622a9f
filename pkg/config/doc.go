// Package config provides configuration management for rulegate.
//
// Configuration is loaded from YAML with environment variable overrides,
// defaults applied for every omitted field, and validated as a whole.
//
// # Configuration Loading
//
//  1. From a YAML file only:
//     cfg, err := config.LoadConfig("rulegate.yaml")
//
//  2. From a YAML file with environment variable overrides:
//     cfg, err := config.LoadConfigWithEnvOverrides("rulegate.yaml")
//
// # Environment Variable Overrides
//
// Environment variables follow the naming convention RULEGATE_SECTION_FIELD:
//
//   - RULEGATE_ENGINE_DEFAULT_STRATEGY overrides engine.default_strategy
//   - RULEGATE_RULES_SYSTEM_PATH overrides rules.system_path
//   - RULEGATE_TELEMETRY_LOGGING_LEVEL overrides telemetry.logging.level
//
// # Configuration Precedence
//
//  1. Default values (defined in defaults.go)
//  2. Values from YAML file
//  3. Environment variable overrides
//  4. Validation (fails fast if invalid)
//
// # Singleton
//
// The rulegate command installs a process-wide configuration with
// ReloadConfig and reads it with GetConfig. Library code takes explicit
// component configuration instead and never reads the singleton.
package config
