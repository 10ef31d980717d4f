// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/teradata-labs/cadenza/internal/log"
)

var (
	cfgFile string
	config  *Config
)

// rootCmd represents the base command.
var rootCmd = &cobra.Command{
	Use:   "cadenza",
	Short: "Cadenza - voice-driven multi-agent orchestration",
	Long:  `Cadenza compiles natural-language commands into multi-agent workflow DAGs and executes them with quality gates, webhooks, and a shared working set.`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $CADENZA_DATA_DIR/cadenza.yaml)")

	// LLM flags
	rootCmd.PersistentFlags().String("llm-provider", "anthropic", "LLM provider (anthropic, none)")
	rootCmd.PersistentFlags().String("anthropic-key", "", "Anthropic API key (or use env)")
	rootCmd.PersistentFlags().String("anthropic-model", "claude-sonnet-4-5-20250929", "Anthropic model")
	rootCmd.PersistentFlags().Int("max-tokens", 4096, "Maximum tokens per request")

	// Storage flags
	rootCmd.PersistentFlags().String("snapshot", "", "working-set snapshot path (empty: data dir default)")
	rootCmd.PersistentFlags().Bool("audit", true, "Enable the SQLite audit trail")
	rootCmd.PersistentFlags().String("audit-db", "", "audit database path (empty: data dir default)")

	// Logging flags
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "text", "Log format (text, json)")

	_ = viper.BindPFlag("llm.provider", rootCmd.PersistentFlags().Lookup("llm-provider"))
	_ = viper.BindPFlag("llm.anthropic_api_key", rootCmd.PersistentFlags().Lookup("anthropic-key"))
	_ = viper.BindPFlag("llm.anthropic_model", rootCmd.PersistentFlags().Lookup("anthropic-model"))
	_ = viper.BindPFlag("llm.max_tokens", rootCmd.PersistentFlags().Lookup("max-tokens"))

	_ = viper.BindPFlag("store.snapshot_path", rootCmd.PersistentFlags().Lookup("snapshot"))
	_ = viper.BindPFlag("audit.enabled", rootCmd.PersistentFlags().Lookup("audit"))
	_ = viper.BindPFlag("audit.path", rootCmd.PersistentFlags().Lookup("audit-db"))

	_ = viper.BindPFlag("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("logging.format", rootCmd.PersistentFlags().Lookup("log-format"))
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	var err error
	config, err = LoadConfig(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	log.SetLogger(log.Build(config.Logging.Level, config.Logging.Format))
}
