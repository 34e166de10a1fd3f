package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Config holds all configuration settings for the oracle node
type Config struct {
	Environment string         `mapstructure:"environment"`
	LogLevel    string         `mapstructure:"log_level"`
	Database    DatabaseConfig `mapstructure:"database"`
	Engine      EngineConfig   `mapstructure:"engine"`
	Registry    RegistryConfig `mapstructure:"registry"`
	Slashing    SlashingConfig `mapstructure:"slashing"`
	Feeds       []FeedConfig   `mapstructure:"feeds"`
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	URL      string        `mapstructure:"url"`
	Embedded bool          `mapstructure:"embedded"`
	Port     int           `mapstructure:"port"`
	MaxConns int           `mapstructure:"max_conns"`
	Timeout  time.Duration `mapstructure:"timeout"`
	SSLMode  string        `mapstructure:"ssl_mode"`
}

// EngineConfig holds consensus round engine settings. Thresholds live here,
// never hard-coded in engine logic.
type EngineConfig struct {
	DefaultQuorum        int           `mapstructure:"default_quorum"`
	DefaultMinAgreement  int           `mapstructure:"default_min_agreement"`
	DefaultRoundDuration time.Duration `mapstructure:"default_round_duration"`
	DefaultTolerance     float64       `mapstructure:"default_tolerance"` // multiple of the MAD
	MADFloorRelative     float64       `mapstructure:"mad_floor_relative"`
	MADFloorAbsolute     float64       `mapstructure:"mad_floor_absolute"`
	ClockSkew            time.Duration `mapstructure:"clock_skew"`
	TickInterval         time.Duration `mapstructure:"tick_interval"`
	ArchiveWorkers       int           `mapstructure:"archive_workers"`
}

// RegistryConfig holds reporter registry settings
type RegistryConfig struct {
	MinStake            uint64        `mapstructure:"min_stake"`
	InitialReputation   float64       `mapstructure:"initial_reputation"`
	SuspendBelow        float64       `mapstructure:"suspend_below"`
	InactivityAfter     time.Duration `mapstructure:"inactivity_after"`
	InactivityDecay     float64       `mapstructure:"inactivity_decay"`
	MaintenanceSchedule string        `mapstructure:"maintenance_schedule"`
}

// SlashingConfig holds anomaly and slashing settings
type SlashingConfig struct {
	ReputationPenalty float64 `mapstructure:"reputation_penalty"`
	ReputationReward  float64 `mapstructure:"reputation_reward"`
	WindowRounds      int     `mapstructure:"window_rounds"`
	OffenseThreshold  int     `mapstructure:"offense_threshold"`
	SlashFraction     float64 `mapstructure:"slash_fraction"`
}

// FeedConfig declares one feed tracked by the node. Zero values fall back
// to the engine defaults.
type FeedConfig struct {
	ID            string        `mapstructure:"id"`
	Quorum        int           `mapstructure:"quorum"`
	MinAgreement  int           `mapstructure:"min_agreement"`
	RoundDuration time.Duration `mapstructure:"round_duration"`
	Tolerance     float64       `mapstructure:"tolerance"`
}

// Load reads the configuration file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set default configuration values
	setDefaults(v)

	// Read the config file
	v.SetConfigFile(configPath)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found, will rely on defaults and env vars
	}

	// Override with environment variables
	v.SetEnvPrefix("ORACLE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Parse the configuration
	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	// Validate the configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// setDefaults sets default values for all configuration options
func setDefaults(v *viper.Viper) {
	// General defaults
	v.SetDefault("environment", "development")
	v.SetDefault("log_level", "info")

	// Engine defaults
	v.SetDefault("engine.default_quorum", 3)
	v.SetDefault("engine.default_min_agreement", 2)
	v.SetDefault("engine.default_round_duration", "30s")
	v.SetDefault("engine.default_tolerance", 3.0)
	v.SetDefault("engine.mad_floor_relative", 1e-9)
	v.SetDefault("engine.mad_floor_absolute", 1e-12)
	v.SetDefault("engine.clock_skew", "5s")
	v.SetDefault("engine.tick_interval", "1s")
	v.SetDefault("engine.archive_workers", 4)

	// Registry defaults
	v.SetDefault("registry.min_stake", 1000)
	v.SetDefault("registry.initial_reputation", 0.5)
	v.SetDefault("registry.suspend_below", 0.1)
	v.SetDefault("registry.inactivity_after", "24h")
	v.SetDefault("registry.inactivity_decay", 0.01)
	v.SetDefault("registry.maintenance_schedule", "@every 1h")

	// Slashing defaults
	v.SetDefault("slashing.reputation_penalty", 0.05)
	v.SetDefault("slashing.reputation_reward", 0.02)
	v.SetDefault("slashing.window_rounds", 10)
	v.SetDefault("slashing.offense_threshold", 3)
	v.SetDefault("slashing.slash_fraction", 0.25)

	// Database defaults
	v.SetDefault("database.embedded", false)
	v.SetDefault("database.port", 5433)
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.timeout", "30s")
	v.SetDefault("database.ssl_mode", "disable")
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if err := c.validateEngine(); err != nil {
		return fmt.Errorf("engine config: %w", err)
	}
	if err := c.validateRegistry(); err != nil {
		return fmt.Errorf("registry config: %w", err)
	}
	if err := c.validateSlashing(); err != nil {
		return fmt.Errorf("slashing config: %w", err)
	}
	if err := c.validateFeeds(); err != nil {
		return fmt.Errorf("feeds config: %w", err)
	}
	return nil
}

func (c *Config) validateEngine() error {
	if c.Engine.DefaultQuorum <= 0 {
		return fmt.Errorf("default_quorum must be positive")
	}
	if c.Engine.DefaultMinAgreement <= 0 || c.Engine.DefaultMinAgreement > c.Engine.DefaultQuorum {
		return fmt.Errorf("default_min_agreement must be between 1 and default_quorum")
	}
	if c.Engine.DefaultRoundDuration <= 0 {
		return fmt.Errorf("default_round_duration must be positive")
	}
	if c.Engine.DefaultTolerance <= 0 {
		return fmt.Errorf("default_tolerance must be positive")
	}
	if c.Engine.MADFloorAbsolute <= 0 || c.Engine.MADFloorRelative <= 0 {
		return fmt.Errorf("MAD floors must be positive")
	}
	if c.Engine.ClockSkew < 0 {
		return fmt.Errorf("clock_skew cannot be negative")
	}
	if c.Engine.ArchiveWorkers <= 0 {
		return fmt.Errorf("archive_workers must be positive")
	}
	return nil
}

func (c *Config) validateRegistry() error {
	if c.Registry.MinStake == 0 {
		return fmt.Errorf("min_stake must be positive")
	}
	if c.Registry.InitialReputation < 0 || c.Registry.InitialReputation > 1 {
		return fmt.Errorf("initial_reputation must be between 0 and 1")
	}
	if c.Registry.SuspendBelow < 0 || c.Registry.SuspendBelow >= 1 {
		return fmt.Errorf("suspend_below must be in [0, 1)")
	}
	return nil
}

func (c *Config) validateSlashing() error {
	if c.Slashing.ReputationPenalty <= 0 || c.Slashing.ReputationPenalty > 1 {
		return fmt.Errorf("reputation_penalty must be between 0 and 1")
	}
	if c.Slashing.ReputationReward < 0 || c.Slashing.ReputationReward > 1 {
		return fmt.Errorf("reputation_reward must be between 0 and 1")
	}
	if c.Slashing.WindowRounds <= 0 {
		return fmt.Errorf("window_rounds must be positive")
	}
	if c.Slashing.OffenseThreshold <= 0 {
		return fmt.Errorf("offense_threshold must be positive")
	}
	if c.Slashing.SlashFraction <= 0 || c.Slashing.SlashFraction > 1 {
		return fmt.Errorf("slash_fraction must be between 0 and 1")
	}
	return nil
}

func (c *Config) validateFeeds() error {
	seen := make(map[string]bool, len(c.Feeds))
	for _, feed := range c.Feeds {
		if feed.ID == "" {
			return fmt.Errorf("feed id cannot be empty")
		}
		if seen[feed.ID] {
			return fmt.Errorf("duplicate feed id: %s", feed.ID)
		}
		seen[feed.ID] = true
	}
	return nil
}

// GetLogLevel returns a zap log level based on the configured string
func (c *Config) GetLogLevel() zap.AtomicLevel {
	level := zap.NewAtomicLevel()
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		level.SetLevel(zap.DebugLevel)
	case "info":
		level.SetLevel(zap.InfoLevel)
	case "warn":
		level.SetLevel(zap.WarnLevel)
	case "error":
		level.SetLevel(zap.ErrorLevel)
	default:
		level.SetLevel(zap.InfoLevel)
	}
	return level
}

// IsDevelopment returns true if the environment is set to development
func (c *Config) IsDevelopment() bool {
	return strings.ToLower(c.Environment) == "development"
}
