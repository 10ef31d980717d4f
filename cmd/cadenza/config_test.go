// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resetViper(t *testing.T) {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)
}

func TestLoadConfigDefaults(t *testing.T) {
	resetViper(t)
	dir := t.TempDir()
	t.Setenv("CADENZA_DATA_DIR", dir)

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, dir, cfg.DataDir)
	assert.Equal(t, "anthropic", cfg.LLM.Provider)
	assert.Equal(t, 4096, cfg.LLM.MaxTokens)
	assert.Equal(t, filepath.Join(dir, "workingset.json"), cfg.Store.SnapshotPath)
	assert.True(t, cfg.Audit.Enabled)
	assert.Equal(t, filepath.Join(dir, "audit.db"), cfg.Audit.Path)
	assert.Equal(t, filepath.Join(dir, "schedules"), cfg.Scheduler.Dir)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadConfigFromFile(t *testing.T) {
	resetViper(t)
	dir := t.TempDir()
	t.Setenv("CADENZA_DATA_DIR", dir)

	path := filepath.Join(dir, "cadenza.yaml")
	require.NoError(t, os.WriteFile(path, []byte(
		"llm:\n  provider: none\nlogging:\n  level: debug\n  format: json\n",
	), 0o600))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "none", cfg.LLM.Provider)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestValidate(t *testing.T) {
	cfg := &Config{LLM: LLMConfig{Provider: "anthropic"}}
	assert.Error(t, cfg.Validate(), "anthropic without key")

	cfg.LLM.AnthropicAPIKey = "sk-test"
	cfg.Audit = AuditConfig{Enabled: true, Path: "/tmp/audit.db"}
	assert.NoError(t, cfg.Validate())

	cfg.LLM.Provider = "none"
	cfg.LLM.AnthropicAPIKey = ""
	assert.NoError(t, cfg.Validate(), "rule-only mode needs no key")

	cfg.LLM.Provider = "carrier-pigeon"
	assert.Error(t, cfg.Validate())

	cfg.LLM.Provider = "none"
	cfg.Audit = AuditConfig{Enabled: true}
	assert.Error(t, cfg.Validate(), "audit enabled without path")
}
