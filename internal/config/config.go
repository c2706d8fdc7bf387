// Package config loads the marketplace configuration consumed by the
// coordination engines. Values are validated once at load time and
// passed by value into the engines; nothing is looked up by name at
// call time.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v2"
)

type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Token        TokenConfig        `yaml:"token"`
	Marketplace  MarketplaceConfig  `yaml:"marketplace"`
	Staking      StakingConfig      `yaml:"staking"`
	Verification VerificationConfig `yaml:"verification"`
	Provenance   ProvenanceConfig   `yaml:"provenance"`
	Reputation   ReputationConfig   `yaml:"reputation"`
	Bidding      BiddingConfig      `yaml:"bidding"`
	Storage      StorageConfig      `yaml:"storage"`
}

type ServerConfig struct {
	Port string `yaml:"port"`
	Env  string `yaml:"env"`
}

type TokenConfig struct {
	Name string `yaml:"name"`
}

type MarketplaceConfig struct {
	// Treasury is the reserve entity credited with fees, slashes, and
	// expired provenance shares.
	// The marketplace fee is not a knob: it is whatever remainder the
	// agent's split policy leaves, plus rounding.
	Treasury string `yaml:"treasury"`
}

type StakingConfig struct {
	ValidatorStakeRequired float64 `yaml:"validator_stake_required"`
	SlashPercent           float64 `yaml:"slash_percent"`
	CooldownAfterSlashHrs  int     `yaml:"cooldown_after_slash_hours"`
}

type VerificationConfig struct {
	// BasePercent of the validator reward is paid immediately on
	// review, regardless of verdict. The rest is the alignment bonus.
	BasePercent           float64 `yaml:"base_percent"`
	AlignmentBonusPercent float64 `yaml:"alignment_bonus_percent"`
	QualityBonusThreshold float64 `yaml:"quality_bonus_threshold"`
	MinReputation         float64 `yaml:"min_reputation"`
	// PayUnratedBonus controls whether a timeout resolution ("unrated")
	// defaults the bonus to paid.
	PayUnratedBonus bool `yaml:"pay_unrated_bonus"`
}

type ProvenanceConfig struct {
	MaxDepth          int     `yaml:"max_depth"`
	RoyaltyDecay      float64 `yaml:"royalty_decay_per_level"`
	MaxRoyaltyAgeDays int     `yaml:"max_royalty_age_days"`
}

type ReputationConfig struct {
	Weights             ReputationWeights `yaml:"weights"`
	MaxRatingsPerFunder int               `yaml:"max_ratings_per_funder"`
	MinUniqueFunders    int               `yaml:"min_unique_funders"`
	NewAgentTaskWindow  int               `yaml:"new_agent_task_window"`
	NewAgentGrowthCap   float64           `yaml:"new_agent_growth_cap"`
	FreeTaskMultiplier  float64           `yaml:"free_task_multiplier"`
	DecayWindowDays     float64           `yaml:"decay_window_days"`
}

type ReputationWeights struct {
	Quality float64 `yaml:"quality"`
	Success float64 `yaml:"success"`
	Rating  float64 `yaml:"rating"`
	Volume  float64 `yaml:"volume"`
	Decay   float64 `yaml:"decay"`
}

type BiddingConfig struct {
	MinReputationForOpen float64        `yaml:"min_reputation_for_open"`
	MinQualityThreshold  float64        `yaml:"min_quality_threshold"`
	MinPaidTasks         int            `yaml:"min_paid_tasks"`
	DefaultWeights       BiddingWeights `yaml:"default_weights"`
	QualityFirstWeights  BiddingWeights `yaml:"quality_first_weights"`
	// QualityFirstCategories lists task categories ranked with the
	// quality-first weight vector.
	QualityFirstCategories []string `yaml:"quality_first_categories"`
}

type BiddingWeights struct {
	Reputation float64 `yaml:"reputation"`
	Quality    float64 `yaml:"quality"`
	Price      float64 `yaml:"price"`
	Rating     float64 `yaml:"rating"`
	Load       float64 `yaml:"load"`
}

type StorageConfig struct {
	// Backend is "file" or "postgres".
	Backend     string `yaml:"backend"`
	Dir         string `yaml:"dir"`
	PostgresDSN string `yaml:"postgres_dsn"`
}

// Default returns the literal marketplace defaults.
func Default() *Config {
	return &Config{
		Server:      ServerConfig{Port: "8080", Env: "development"},
		Token:       TokenConfig{Name: "AGN"},
		Marketplace: MarketplaceConfig{Treasury: "marketplace"},
		Staking: StakingConfig{
			ValidatorStakeRequired: 50,
			SlashPercent:           20,
			CooldownAfterSlashHrs:  24,
		},
		Verification: VerificationConfig{
			BasePercent:           70,
			AlignmentBonusPercent: 30,
			QualityBonusThreshold: 0.8,
			MinReputation:         30,
			PayUnratedBonus:       true,
		},
		Provenance: ProvenanceConfig{
			MaxDepth:          3,
			RoyaltyDecay:      0.5,
			MaxRoyaltyAgeDays: 365,
		},
		Reputation: ReputationConfig{
			Weights: ReputationWeights{
				Quality: 0.30,
				Success: 0.25,
				Rating:  0.25,
				Volume:  0.10,
				Decay:   0.10,
			},
			MaxRatingsPerFunder: 5,
			MinUniqueFunders:    3,
			NewAgentTaskWindow:  10,
			NewAgentGrowthCap:   2.0,
			FreeTaskMultiplier:  0.5,
			DecayWindowDays:     30,
		},
		Bidding: BiddingConfig{
			MinReputationForOpen: 30,
			MinQualityThreshold:  0.6,
			MinPaidTasks:         3,
			DefaultWeights: BiddingWeights{
				Reputation: 0.35, Quality: 0.25, Price: 0.20, Rating: 0.10, Load: 0.10,
			},
			QualityFirstWeights: BiddingWeights{
				Reputation: 0.25, Quality: 0.40, Price: 0.05, Rating: 0.20, Load: 0.10,
			},
		},
		Storage: StorageConfig{Backend: "file", Dir: "storage"},
	}
}

// Load reads a YAML config file over the defaults. A missing file is
// not an error: the defaults stand.
func Load(path string) (*Config, error) {
	cfg := Default()

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}
	defer f.Close()

	if err := yaml.NewDecoder(f).Decode(cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the engines cannot run with.
func (c *Config) Validate() error {
	if c.Marketplace.Treasury == "" {
		return fmt.Errorf("marketplace.treasury must be set")
	}
	if c.Staking.SlashPercent <= 0 || c.Staking.SlashPercent > 100 {
		return fmt.Errorf("staking.slash_percent out of range: %v", c.Staking.SlashPercent)
	}
	if c.Verification.BasePercent+c.Verification.AlignmentBonusPercent != 100 {
		return fmt.Errorf("verification base_percent + alignment_bonus_percent must equal 100")
	}
	if c.Provenance.MaxDepth < 0 {
		return fmt.Errorf("provenance.max_depth must be >= 0")
	}
	w := c.Reputation.Weights
	total := w.Quality + w.Success + w.Rating + w.Volume + w.Decay
	if total < 0.999 || total > 1.001 {
		return fmt.Errorf("reputation weights must sum to 1, got %v", total)
	}
	return nil
}

// QualityFirst reports whether a task category uses the quality-first
// bidding weight vector.
func (c *Config) QualityFirst(category string) bool {
	for _, cat := range c.Bidding.QualityFirstCategories {
		if cat == category {
			return true
		}
	}
	return false
}
