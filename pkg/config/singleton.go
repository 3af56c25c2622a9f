package config

import (
	"fmt"
	"sync"
)

var (
	globalMu     sync.RWMutex
	globalConfig *Config
)

// GetConfig returns the process-wide configuration, or nil before SetConfig
// or ReloadConfig.
func GetConfig() *Config {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalConfig
}

// SetConfig replaces the process-wide configuration.
func SetConfig(cfg *Config) {
	globalMu.Lock()
	globalConfig = cfg
	globalMu.Unlock()
}

// ReloadConfig reloads the configuration from path. The current configuration
// is kept when the new one fails to load or validate.
func ReloadConfig(path string) error {
	cfg, err := LoadConfigWithEnvOverrides(path)
	if err != nil {
		return fmt.Errorf("failed to reload configuration: %w", err)
	}
	SetConfig(cfg)
	return nil
}

// MustGetConfig returns the process-wide configuration and panics if it has
// not been initialized.
func MustGetConfig() *Config {
	cfg := GetConfig()
	if cfg == nil {
		panic("configuration not initialized: call ReloadConfig first")
	}
	return cfg
}
