package stakerewards

import (
	"strings"
	"time"
)

// Config captures the runtime configuration for the staking rewards module.
type Config struct {
	StakeAsset            string `toml:"StakeAsset" yaml:"stake_asset"`
	RewardAsset           string `toml:"RewardAsset" yaml:"reward_asset"`
	PeriodDurationSeconds uint64 `toml:"PeriodDurationSeconds" yaml:"period_duration_seconds"`
	// CompoundEnabled permits folding rewards back into principal. Only valid
	// when the stake and reward assets are the same token.
	CompoundEnabled bool `toml:"CompoundEnabled" yaml:"compound_enabled"`
}

// DefaultConfig mirrors the 30 day distribution period used by the reference
// deployment.
func DefaultConfig() Config {
	return Config{
		StakeAsset:            "PNG",
		RewardAsset:           "PNG",
		PeriodDurationSeconds: uint64((30 * 24 * time.Hour).Seconds()),
		CompoundEnabled:       true,
	}
}

// Normalize trims and upper-cases the asset symbols.
func (c Config) Normalize() Config {
	c.StakeAsset = strings.ToUpper(strings.TrimSpace(c.StakeAsset))
	c.RewardAsset = strings.ToUpper(strings.TrimSpace(c.RewardAsset))
	return c
}

// Validate checks that compounding is only requested for a single-asset pool.
func (c Config) Validate() error {
	c = c.Normalize()
	if c.CompoundEnabled && c.StakeAsset != c.RewardAsset {
		return ErrCompoundAssetMismatch
	}
	return nil
}

// PeriodDuration returns the configured period as a time.Duration.
func (c Config) PeriodDuration() time.Duration {
	return time.Duration(c.PeriodDurationSeconds) * time.Second
}
