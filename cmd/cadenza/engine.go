// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/teradata-labs/cadenza/internal/log"
	"github.com/teradata-labs/cadenza/pkg/audit"
	"github.com/teradata-labs/cadenza/pkg/engine"
	"github.com/teradata-labs/cadenza/pkg/llm"
	"github.com/teradata-labs/cadenza/pkg/llm/anthropic"
	"github.com/teradata-labs/cadenza/pkg/workingset"
)

// buildProvider constructs the configured LLM provider, or nil for the
// rule-only mode.
func buildProvider(cfg *Config) (llm.Provider, error) {
	switch cfg.LLM.Provider {
	case "anthropic":
		return anthropic.New(anthropic.Config{
			APIKey:    cfg.LLM.AnthropicAPIKey,
			Model:     cfg.LLM.AnthropicModel,
			MaxTokens: cfg.LLM.MaxTokens,
		})
	case "none", "":
		return nil, nil
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.LLM.Provider)
	}
}

// buildEngine wires a full engine from the loaded config.
func buildEngine(cfg *Config) (*engine.Engine, error) {
	provider, err := buildProvider(cfg)
	if err != nil {
		return nil, err
	}

	store, err := openStore(cfg)
	if err != nil {
		return nil, err
	}

	var sink audit.Sink = audit.NopSink{}
	if cfg.Audit.Enabled {
		if err := os.MkdirAll(filepath.Dir(cfg.Audit.Path), 0o755); err != nil {
			return nil, fmt.Errorf("create audit directory: %w", err)
		}
		sink, err = audit.NewSQLiteSink(cfg.Audit.Path)
		if err != nil {
			return nil, err
		}
	}

	return engine.New(engine.Config{
		Provider: provider,
		Store:    store,
		Audit:    sink,
		Logger:   log.Logger(),
	})
}

// openStore opens the working-set store at the configured snapshot path.
func openStore(cfg *Config) (*workingset.Store, error) {
	if cfg.Store.SnapshotPath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Store.SnapshotPath), 0o755); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
	}
	return workingset.Open(workingset.Config{
		SnapshotPath: cfg.Store.SnapshotPath,
		Logger:       log.Logger(),
	})
}
