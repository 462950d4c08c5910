// Package timeframe fuses strategy evaluations across several bar timeframes.
package timeframe

import (
	"fmt"
	"time"

	"github.com/newthinker/signalflow/internal/core"
)

// Config controls multi-timeframe fusion
type Config struct {
	Primary   string   `mapstructure:"primary"`
	Secondary []string `mapstructure:"secondary"`
	// MaxSkew is the timestamp difference at which two timeframes count as
	// fully misaligned.
	MaxSkew time.Duration `mapstructure:"max_skew"`
	// Window is how far around a primary signal secondary signals are collected.
	Window                time.Duration `mapstructure:"window"`
	DedupBucket           time.Duration `mapstructure:"dedup_bucket"`
	ContributionThreshold float64       `mapstructure:"contribution_threshold"`
	AgreementBoost        float64       `mapstructure:"agreement_boost"`
}

// DefaultConfig returns the fusion defaults for a single primary timeframe
func DefaultConfig() Config {
	return Config{
		Primary:               "1d",
		MaxSkew:               5 * time.Minute,
		Window:                time.Hour,
		DedupBucket:           5 * time.Minute,
		ContributionThreshold: 0.6,
		AgreementBoost:        1.2,
	}
}

// WithDefaults fills zero fields from DefaultConfig. Primary and Secondary
// are left alone.
func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if c.MaxSkew <= 0 {
		c.MaxSkew = d.MaxSkew
	}
	if c.Window <= 0 {
		c.Window = d.Window
	}
	if c.DedupBucket <= 0 {
		c.DedupBucket = d.DedupBucket
	}
	if c.ContributionThreshold <= 0 {
		c.ContributionThreshold = d.ContributionThreshold
	}
	if c.AgreementBoost <= 0 {
		c.AgreementBoost = d.AgreementBoost
	}
	return c
}

// Timeframes returns the primary followed by the secondaries
func (c Config) Timeframes() []string {
	return append([]string{c.Primary}, c.Secondary...)
}

// MultiTimeframe reports whether fusion has anything to fuse
func (c Config) MultiTimeframe() bool {
	return len(c.Secondary) > 0
}

// Validate checks the timeframe list
func (c Config) Validate() error {
	if c.Primary == "" {
		return core.WrapError(core.ErrConfigMissing, fmt.Errorf("timeframe: primary timeframe is required"))
	}
	seen := map[string]bool{c.Primary: true}
	for _, tf := range c.Secondary {
		if tf == "" || seen[tf] {
			return core.WrapError(core.ErrConfigInvalid, fmt.Errorf("timeframe: duplicate or empty secondary %q", tf))
		}
		seen[tf] = true
	}
	if c.ContributionThreshold > 1 {
		return core.WrapError(core.ErrConfigInvalid, fmt.Errorf("timeframe: contribution_threshold must be <= 1"))
	}
	return nil
}
