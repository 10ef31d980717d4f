// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/viper"

	cadenzaconfig "github.com/teradata-labs/cadenza/pkg/config"
)

// DefaultConfigFileName is the name of the config file (cadenza.yaml).
const DefaultConfigFileName = "cadenza"

// Config holds all configuration for the cadenza CLI.
// Priority: CLI flags > config file > env vars > defaults.
type Config struct {
	// DataDir is computed from CADENZA_DATA_DIR or ~/.cadenza; it is not
	// loaded from the config file.
	DataDir string `mapstructure:"-"`

	LLM       LLMConfig       `mapstructure:"llm"`
	Store     StoreConfig     `mapstructure:"store"`
	Audit     AuditConfig     `mapstructure:"audit"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// LLMConfig holds LLM provider configuration.
type LLMConfig struct {
	// Provider is "anthropic" or "none". With "none" the rule-based plan
	// compiler runs alone and llm_judge gates are unavailable.
	Provider string `mapstructure:"provider"`

	AnthropicAPIKey string `mapstructure:"anthropic_api_key"` // From CLI/env only
	AnthropicModel  string `mapstructure:"anthropic_model"`
	MaxTokens       int    `mapstructure:"max_tokens"`
}

// StoreConfig holds working-set store configuration.
type StoreConfig struct {
	// SnapshotPath is where the store persists its snapshot. Empty means
	// ephemeral.
	SnapshotPath string `mapstructure:"snapshot_path"`
}

// AuditConfig holds audit trail configuration.
type AuditConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// SchedulerConfig holds schedule directory configuration.
type SchedulerConfig struct {
	Dir string `mapstructure:"dir"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // text, json
}

// LoadConfig loads configuration from flags, config file, environment
// variables, and defaults, in that priority order.
func LoadConfig(cfgFile string) (*Config, error) {
	setDefaults()

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(cadenzaconfig.DataDir())
		viper.AddConfigPath(".")
		viper.AddConfigPath("/etc/cadenza/")
		viper.SetConfigName(DefaultConfigFileName)
		viper.SetConfigType("yaml")
	}

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file %s: %w", viper.ConfigFileUsed(), err)
		}
		// No config file; defaults + env vars + flags apply.
	}

	viper.SetEnvPrefix("CADENZA")
	viper.AutomaticEnv()

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	config.DataDir = cadenzaconfig.DataDir()
	return &config, nil
}

// setDefaults sets default configuration values.
func setDefaults() {
	dataDir := cadenzaconfig.DataDir()

	viper.SetDefault("llm.provider", "anthropic")
	viper.SetDefault("llm.anthropic_model", "claude-sonnet-4-5-20250929")
	viper.SetDefault("llm.max_tokens", 4096)

	viper.SetDefault("store.snapshot_path", filepath.Join(dataDir, "workingset.json"))

	viper.SetDefault("audit.enabled", true)
	viper.SetDefault("audit.path", filepath.Join(dataDir, "audit.db"))

	viper.SetDefault("scheduler.dir", filepath.Join(dataDir, "schedules"))

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "text")
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	switch c.LLM.Provider {
	case "anthropic":
		if c.LLM.AnthropicAPIKey == "" {
			return fmt.Errorf("anthropic API key is required (set --anthropic-key or CADENZA_LLM_ANTHROPIC_API_KEY, or use --llm-provider none)")
		}
	case "none", "":
	default:
		return fmt.Errorf("unsupported LLM provider: %s (must be anthropic or none)", c.LLM.Provider)
	}

	if c.Audit.Enabled && c.Audit.Path == "" {
		return fmt.Errorf("audit.path is required when audit is enabled")
	}
	return nil
}
