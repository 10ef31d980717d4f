// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package anthropic implements llm.Provider on the Anthropic Messages API
// via github.com/anthropics/anthropic-sdk-go.
package anthropic

import (
	"context"
	"fmt"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/teradata-labs/cadenza/pkg/llm"
)

const (
	// DefaultModel is the default Claude model.
	DefaultModel = "claude-sonnet-4-5-20250929"

	// DefaultMaxTokens is the default completion cap.
	DefaultMaxTokens = 4096
)

// MessagesClient is the subset of the SDK used by the provider. Satisfied by
// *sdk.MessageService; tests pass a mock.
type MessagesClient interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
}

// Client implements llm.Provider for Anthropic Claude.
type Client struct {
	messages  MessagesClient
	model     string
	maxTokens int
}

// Config holds configuration for the Anthropic provider.
type Config struct {
	APIKey    string
	Model     string // Default: claude-sonnet-4-5-20250929
	MaxTokens int    // Default: 4096
}

// New creates an Anthropic provider from an API key.
func New(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic api key is required")
	}
	ac := sdk.NewClient(option.WithAPIKey(cfg.APIKey))
	return NewWithMessages(&ac.Messages, cfg), nil
}

// NewWithMessages creates a provider over an existing messages client.
func NewWithMessages(messages MessagesClient, cfg Config) *Client {
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	return &Client{
		messages:  messages,
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
	}
}

// Name returns the provider name.
func (c *Client) Name() string {
	return "anthropic"
}

// Run sends one completion request. JSONMode is implemented with a steering
// system suffix; callers still strip fences before decoding.
func (c *Client) Run(ctx context.Context, req llm.Request) (*llm.Response, error) {
	model := req.Model
	if model == "" {
		model = c.model
	}
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = c.maxTokens
	}

	params := sdk.MessageNewParams{
		Model:     sdk.Model(model),
		MaxTokens: int64(maxTokens),
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock(req.Prompt)),
		},
	}
	system := req.System
	if req.JSONMode {
		if system != "" {
			system += "\n\n"
		}
		system += "Respond with a single JSON object and nothing else."
	}
	if system != "" {
		params.System = []sdk.TextBlockParam{{Text: system}}
	}
	if req.Temperature != nil {
		params.Temperature = sdk.Float(*req.Temperature)
	}

	msg, err := c.messages.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("anthropic messages.new: %w", err)
	}

	var sb strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}

	return &llm.Response{
		Content: sb.String(),
		Usage: llm.Usage{
			InputTokens:  int(msg.Usage.InputTokens),
			OutputTokens: int(msg.Usage.OutputTokens),
			TotalTokens:  int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
		},
	}, nil
}
