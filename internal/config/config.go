// Package config provides Viper-based configuration loading for the arena
// server.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: "debug", "info", "warn", "error".
	Level string `mapstructure:"level"`
	// Format is the log output format: "json" or "console".
	Format string `mapstructure:"format"`
}

// RedisConfig holds snapshot store connection settings. Persistence is
// optional; with Enabled false the server runs purely in memory.
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// PlannerConfig selects and tunes the turn planner.
type PlannerConfig struct {
	// Provider is the planner backend: "anthropic", "scripted", or "none".
	Provider string `mapstructure:"provider"`
	// Model is the Anthropic model identifier.
	Model string `mapstructure:"model"`
	// MaxTokens bounds each model response.
	MaxTokens int `mapstructure:"max_tokens"`
	// Timeout bounds each planner and narrator call.
	Timeout time.Duration `mapstructure:"timeout"`
	// Narrate enables best-effort flavor text after executed actions.
	// Only effective with the "anthropic" provider.
	Narrate bool `mapstructure:"narrate"`
}

// ContentConfig points at the YAML and Lua content directories.
type ContentConfig struct {
	MapsDir    string `mapstructure:"maps_dir"`
	ActorsDir  string `mapstructure:"actors_dir"`
	ScriptsDir string `mapstructure:"scripts_dir"`
}

// GameConfig holds the turn-loop tuning knobs.
type GameConfig struct {
	// MaxPlansPerTurn bounds the plan/re-plan cycle within one turn.
	MaxPlansPerTurn int `mapstructure:"max_plans_per_turn"`
	// MaxRounds stops the automated encounter driver; 0 means unbounded.
	MaxRounds int `mapstructure:"max_rounds"`
	// LogTailLen is how many recent log entries each planner prompt carries.
	LogTailLen int `mapstructure:"log_tail_len"`
	// AutoApprove skips the interactive referee and approves every proposal.
	AutoApprove bool `mapstructure:"auto_approve"`
}

// Config is the top-level application configuration.
type Config struct {
	Logging LoggingConfig `mapstructure:"logging"`
	Redis   RedisConfig   `mapstructure:"redis"`
	Planner PlannerConfig `mapstructure:"planner"`
	Content ContentConfig `mapstructure:"content"`
	Game    GameConfig    `mapstructure:"game"`
}

// Validate checks all configuration invariants.
//
// Postcondition: Returns nil if configuration is valid, or an error
// describing all violations.
func (c Config) Validate() error {
	var errs []string

	if err := validateLogging(c.Logging); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateRedis(c.Redis); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validatePlanner(c.Planner); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateContent(c.Content); err != nil {
		errs = append(errs, err.Error())
	}
	if err := validateGame(c.Game); err != nil {
		errs = append(errs, err.Error())
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func validateLogging(l LoggingConfig) error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[l.Level] {
		return fmt.Errorf("logging.level must be one of [debug, info, warn, error], got %q", l.Level)
	}
	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("logging.format must be one of [json, console], got %q", l.Format)
	}
	return nil
}

func validateRedis(r RedisConfig) error {
	if !r.Enabled {
		return nil
	}
	var errs []string
	if r.Addr == "" {
		errs = append(errs, "redis.addr must not be empty when redis.enabled is true")
	}
	if r.DB < 0 {
		errs = append(errs, fmt.Sprintf("redis.db must be >= 0, got %d", r.DB))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validatePlanner(p PlannerConfig) error {
	var errs []string
	validProviders := map[string]bool{"anthropic": true, "scripted": true, "none": true}
	if !validProviders[p.Provider] {
		errs = append(errs, fmt.Sprintf("planner.provider must be one of [anthropic, scripted, none], got %q", p.Provider))
	}
	if p.Provider == "anthropic" && p.Model == "" {
		errs = append(errs, "planner.model must not be empty for the anthropic provider")
	}
	if p.MaxTokens < 1 {
		errs = append(errs, fmt.Sprintf("planner.max_tokens must be >= 1, got %d", p.MaxTokens))
	}
	if p.Timeout <= 0 {
		errs = append(errs, "planner.timeout must be positive")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateContent(c ContentConfig) error {
	var errs []string
	if c.MapsDir == "" {
		errs = append(errs, "content.maps_dir must not be empty")
	}
	if c.ActorsDir == "" {
		errs = append(errs, "content.actors_dir must not be empty")
	}
	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

func validateGame(g GameConfig) error {
	var errs []string
	if g.MaxPlansPerTurn < 1 {
		errs = append(errs, fmt.Sprintf("game.max_plans_per_turn must be >= 1, got %d", g.MaxPlansPerTurn))
	}
	if g.MaxRounds < 0 {
		errs = append(errs, fmt.Sprintf("game.max_rounds must be >= 0, got %d", g.MaxRounds))
	}
	if g.LogTailLen < 1 {
		errs = append(errs, fmt.Sprintf("game.log_tail_len must be >= 1, got %d", g.LogTailLen))
	}
	if len(errs) > 0 {
		return errors.New(strings.Join(errs, "; "))
	}
	return nil
}

// Load reads configuration from the given file path, applies environment
// variable overrides, and validates the result.
//
// Precondition: path must be a valid file path to a YAML configuration file.
// Postcondition: Returns a valid Config or a non-nil error.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	// Environment variable overrides with ARENA_ prefix
	v.SetEnvPrefix("ARENA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("reading config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshalling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// LoadFromViper builds a Config from an already-configured Viper instance.
//
// Precondition: v must be non-nil and have configuration values set.
// Postcondition: Returns a valid Config or a non-nil error.
func LoadFromViper(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshalling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("planner.provider", "scripted")
	v.SetDefault("planner.model", "claude-sonnet-4-5")
	v.SetDefault("planner.max_tokens", 1024)
	v.SetDefault("planner.timeout", "30s")
	v.SetDefault("planner.narrate", false)

	v.SetDefault("content.maps_dir", "content/maps")
	v.SetDefault("content.actors_dir", "content/actors")
	v.SetDefault("content.scripts_dir", "content/scripts")

	v.SetDefault("game.max_plans_per_turn", 8)
	v.SetDefault("game.max_rounds", 0)
	v.SetDefault("game.log_tail_len", 12)
	v.SetDefault("game.auto_approve", false)
}
