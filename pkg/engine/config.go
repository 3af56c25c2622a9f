package engine

import (
	"fmt"
	"time"
)

// RedactionStrategy selects how the default transformer rewrites spans.
type RedactionStrategy string

const (
	// RedactMask replaces every character of the span with '*'.
	RedactMask RedactionStrategy = "mask"

	// RedactRemove deletes the span.
	RedactRemove RedactionStrategy = "remove"

	// RedactReplace substitutes the span with a fixed replacement.
	RedactReplace RedactionStrategy = "replace"
)

// RedactionConfig configures the default span transformer.
type RedactionConfig struct {
	// Strategy is the rewrite strategy.
	// Default: RedactMask.
	Strategy RedactionStrategy

	// Replacement is used by RedactReplace.
	// Default: "[REDACTED]".
	Replacement string
}

// Config contains configuration for the rule evaluation engine.
type Config struct {
	// DefaultStrategy resolves conflicts when Evaluate is called.
	// Default: StrategyPriority.
	DefaultStrategy Strategy

	// ClassifierTimeout bounds a single classifier call.
	// Default: 50ms.
	ClassifierTimeout time.Duration

	// SemanticThreshold is the maximum confidence difference between
	// neighbouring members of a semantic conflict run.
	// Default: 0.15.
	SemanticThreshold float64

	// BatchConcurrency bounds parallel items in EvaluateBatch.
	// Default: 10.
	BatchConcurrency int

	// MaxContentBytes rejects larger content. Zero disables the check.
	// Default: 1MB.
	MaxContentBytes int

	// Redaction configures the default transformer for Adapt actions.
	Redaction RedactionConfig
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() *Config {
	return &Config{
		DefaultStrategy:   StrategyPriority,
		ClassifierTimeout: 50 * time.Millisecond,
		SemanticThreshold: 0.15,
		BatchConcurrency:  10,
		MaxContentBytes:   1 << 20,
		Redaction: RedactionConfig{
			Strategy:    RedactMask,
			Replacement: "[REDACTED]",
		},
	}
}

// Validate validates the engine configuration.
func (c *Config) Validate() error {
	if !c.DefaultStrategy.Valid() {
		return fmt.Errorf("%w: invalid default strategy %q", ErrInvalidConfig, c.DefaultStrategy)
	}

	if c.ClassifierTimeout <= 0 {
		return fmt.Errorf("%w: classifier timeout must be positive", ErrInvalidConfig)
	}
	if c.SemanticThreshold <= 0 || c.SemanticThreshold >= 1 {
		return fmt.Errorf("%w: semantic threshold must be in (0, 1), got %v", ErrInvalidConfig, c.SemanticThreshold)
	}
	if c.BatchConcurrency <= 0 {
		return fmt.Errorf("%w: batch concurrency must be positive", ErrInvalidConfig)
	}
	if c.MaxContentBytes < 0 {
		return fmt.Errorf("%w: max content bytes cannot be negative", ErrInvalidConfig)
	}

	switch c.Redaction.Strategy {
	case RedactMask, RedactRemove, RedactReplace:
		// Valid
	default:
		return fmt.Errorf("%w: invalid redaction strategy %q", ErrInvalidConfig, c.Redaction.Strategy)
	}

	return nil
}

// WithDefaultStrategy sets the default resolution strategy.
func (c *Config) WithDefaultStrategy(s Strategy) *Config {
	c.DefaultStrategy = s
	return c
}

// WithClassifierTimeout sets the classifier timeout.
func (c *Config) WithClassifierTimeout(d time.Duration) *Config {
	c.ClassifierTimeout = d
	return c
}

// WithSemanticThreshold sets the semantic conflict threshold.
func (c *Config) WithSemanticThreshold(t float64) *Config {
	c.SemanticThreshold = t
	return c
}

// WithBatchConcurrency sets the batch concurrency limit.
func (c *Config) WithBatchConcurrency(n int) *Config {
	c.BatchConcurrency = n
	return c
}

// WithMaxContentBytes sets the content size limit. Zero disables it.
func (c *Config) WithMaxContentBytes(n int) *Config {
	c.MaxContentBytes = n
	return c
}

// WithRedaction sets the default transformer's redaction strategy.
func (c *Config) WithRedaction(strategy RedactionStrategy, replacement string) *Config {
	c.Redaction = RedactionConfig{Strategy: strategy, Replacement: replacement}
	return c
}
