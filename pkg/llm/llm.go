// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package llm defines the provider contract the control plane consumes.
// Providers are safe for concurrent use; the scheduler caps concurrency
// with its own semaphore rather than by pooling clients.
package llm

import (
	"context"
)

// Request is a single completion request.
type Request struct {
	// System is the system prompt, optional.
	System string

	// Prompt is the user-turn content.
	Prompt string

	// Model overrides the provider's default model when non-empty.
	Model string

	// Temperature is the sampling temperature. Nil uses the provider default.
	Temperature *float64

	// MaxTokens caps the completion length. Zero uses the provider default.
	MaxTokens int

	// JSONMode asks the provider for content that parses as JSON.
	JSONMode bool
}

// Usage tracks token consumption for one request.
type Usage struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
}

// Response is the provider's reply.
type Response struct {
	// Content is the completion text.
	Content string

	// Usage is the provider-reported token usage. Providers that do not
	// report usage leave it zero; callers may backfill with EstimateTokens.
	Usage Usage
}

// Provider runs completion requests against an LLM runtime. Calls are
// abortable through ctx; in-flight requests must honor cancellation.
type Provider interface {
	// Run sends one request and returns the completion.
	Run(ctx context.Context, req Request) (*Response, error)

	// Name returns the provider name.
	Name() string
}

// Temp returns a pointer to t, for Request.Temperature literals.
func Temp(t float64) *float64 {
	return &t
}
