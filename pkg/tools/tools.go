// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package tools names and registers the tool runtimes agents may request.
package tools

import (
	"context"
	"sync"

	"github.com/teradata-labs/cadenza/pkg/types"
)

// Tool is an invocable runtime capability.
type Tool interface {
	// Name is the identifier agents reference in their tool lists.
	Name() string

	// Invoke executes the tool with free-form arguments.
	Invoke(ctx context.Context, args map[string]any) (any, error)
}

// BuiltinNames lists every tool name the plan compiler accepts.
func BuiltinNames() []string {
	return []string{
		"filesystem",
		"browser",
		"terminal",
		"search",
		"database",
		"github",
		"slack",
		"test_runner",
		"git",
		"research",
	}
}

// Known reports whether name is an accepted tool name.
func Known(name string) bool {
	for _, n := range BuiltinNames() {
		if n == name {
			return true
		}
	}
	return false
}

// Registry maps tool names to implementations. Registration of an
// implementation is optional; plans may reference builtin names that the
// host has not bound yet.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register binds an implementation. Unknown names are rejected so typos
// surface at startup instead of mid-workflow.
func (r *Registry) Register(tool Tool) error {
	if !Known(tool.Name()) {
		return types.E(types.KindValidationError, "unknown tool name: %s", tool.Name())
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Name()] = tool
	return nil
}

// Get resolves a bound tool implementation.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Names lists the bound tool names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.tools))
	for name := range r.tools {
		out = append(out, name)
	}
	return out
}
