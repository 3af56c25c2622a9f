package adaptation

import (
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// ErrInvalidConfig is returned when a Config fails validation.
var ErrInvalidConfig = errors.New("invalid adaptation configuration")

// Config controls when rules become candidates and how far adjustments go.
type Config struct {
	// Window is the rolling window over which rates are computed.
	// Default: 24 hours
	Window time.Duration

	// MinSamples is the number of dispatches inside the window required
	// before any rate is considered.
	// Default: 5
	MinSamples int

	// ConflictRateThreshold is the conflict rate above which a rule becomes
	// a candidate. Default: 0.3
	ConflictRateThreshold float64

	// OverrideRateThreshold is the override rate above which a rule becomes
	// a candidate. Default: 0.2
	OverrideRateThreshold float64

	// MissRateThreshold is the missed-detection rate above which a rule
	// becomes a candidate. Default: 0.1
	MissRateThreshold float64

	// Cooldown is how long an adjusted rule must go without triggering
	// signals before it returns to stable.
	// Default: 1 hour
	Cooldown time.Duration

	// ThresholdRaise is added to the threshold when overrides dominate.
	// Default: 0.05
	ThresholdRaise float64

	// ThresholdLower is subtracted from the threshold when misses dominate.
	// Default: 0.1
	ThresholdLower float64

	// ThresholdFloor and ThresholdCap bound adjusted thresholds.
	// Defaults: 0.5 and 0.95
	ThresholdFloor float64
	ThresholdCap   float64

	// WeightStep is subtracted from the tie-break weight on conflict or
	// override pressure. Default: 0.1
	WeightStep float64

	// WeightFloor bounds the tie-break weight. Default: 0.5
	WeightFloor float64

	// BufferSize is the capacity of the signal queue. Signals that do not
	// fit are dropped. Default: 4096
	BufferSize int

	// LogCapacity is the number of resolution records kept in memory after
	// compaction. Default: 10000
	LogCapacity int

	// RecomputeSchedule is the cron expression for periodic recompute.
	// Default: "@every 1m"
	RecomputeSchedule string
}

// DefaultConfig returns the default adaptation configuration.
func DefaultConfig() Config {
	return Config{
		Window:                24 * time.Hour,
		MinSamples:            5,
		ConflictRateThreshold: 0.3,
		OverrideRateThreshold: 0.2,
		MissRateThreshold:     0.1,
		Cooldown:              time.Hour,
		ThresholdRaise:        0.05,
		ThresholdLower:        0.1,
		ThresholdFloor:        0.5,
		ThresholdCap:          0.95,
		WeightStep:            0.1,
		WeightFloor:           0.5,
		BufferSize:            4096,
		LogCapacity:           10000,
		RecomputeSchedule:     "@every 1m",
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Window <= 0 {
		return fmt.Errorf("%w: window must be positive", ErrInvalidConfig)
	}
	if c.MinSamples < 1 {
		return fmt.Errorf("%w: min_samples must be at least 1", ErrInvalidConfig)
	}
	for name, v := range map[string]float64{
		"conflict_rate_threshold": c.ConflictRateThreshold,
		"override_rate_threshold": c.OverrideRateThreshold,
		"miss_rate_threshold":     c.MissRateThreshold,
	} {
		if v <= 0 || v > 1 {
			return fmt.Errorf("%w: %s must be in (0, 1], got %v", ErrInvalidConfig, name, v)
		}
	}
	if c.Cooldown < 0 {
		return fmt.Errorf("%w: cooldown cannot be negative", ErrInvalidConfig)
	}
	if c.ThresholdFloor < 0 || c.ThresholdCap > 1 || c.ThresholdFloor > c.ThresholdCap {
		return fmt.Errorf("%w: threshold bounds must satisfy 0 <= floor <= cap <= 1", ErrInvalidConfig)
	}
	if c.ThresholdRaise < 0 || c.ThresholdLower < 0 || c.WeightStep < 0 {
		return fmt.Errorf("%w: adjustment steps cannot be negative", ErrInvalidConfig)
	}
	if c.WeightFloor <= 0 || c.WeightFloor > 1 {
		return fmt.Errorf("%w: weight_floor must be in (0, 1]", ErrInvalidConfig)
	}
	if c.BufferSize < 1 {
		return fmt.Errorf("%w: buffer_size must be at least 1", ErrInvalidConfig)
	}
	if c.LogCapacity < 1 {
		return fmt.Errorf("%w: log_capacity must be at least 1", ErrInvalidConfig)
	}
	if c.RecomputeSchedule != "" {
		if _, err := cron.ParseStandard(c.RecomputeSchedule); err != nil {
			return fmt.Errorf("%w: invalid recompute schedule %q: %v", ErrInvalidConfig, c.RecomputeSchedule, err)
		}
	}
	return nil
}

// WithWindow returns a copy with the rolling window set.
func (c Config) WithWindow(d time.Duration) Config {
	c.Window = d
	return c
}

// WithCooldown returns a copy with the cooldown set.
func (c Config) WithCooldown(d time.Duration) Config {
	c.Cooldown = d
	return c
}

// WithMinSamples returns a copy with the minimum sample count set.
func (c Config) WithMinSamples(n int) Config {
	c.MinSamples = n
	return c
}
