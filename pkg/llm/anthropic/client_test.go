// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package anthropic

import (
	"context"
	"testing"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teradata-labs/cadenza/pkg/llm"
)

type fakeMessages struct {
	lastParams sdk.MessageNewParams
	reply      *sdk.Message
	err        error
}

func (f *fakeMessages) New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error) {
	f.lastParams = body
	if f.err != nil {
		return nil, f.err
	}
	return f.reply, nil
}

func textReply(text string) *sdk.Message {
	return &sdk.Message{
		Content: []sdk.ContentBlockUnion{{Type: "text", Text: text}},
		Usage:   sdk.Usage{InputTokens: 12, OutputTokens: 7},
	}
}

func TestRunReturnsContentAndUsage(t *testing.T) {
	fake := &fakeMessages{reply: textReply("hello from claude")}
	c := NewWithMessages(fake, Config{})

	resp, err := c.Run(context.Background(), llm.Request{Prompt: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "hello from claude", resp.Content)
	assert.Equal(t, 12, resp.Usage.InputTokens)
	assert.Equal(t, 7, resp.Usage.OutputTokens)
	assert.Equal(t, 19, resp.Usage.TotalTokens)
	assert.Equal(t, sdk.Model(DefaultModel), fake.lastParams.Model)
	assert.Equal(t, int64(DefaultMaxTokens), fake.lastParams.MaxTokens)
}

func TestRunOverrides(t *testing.T) {
	fake := &fakeMessages{reply: textReply("{}")}
	c := NewWithMessages(fake, Config{Model: "claude-haiku-4-5", MaxTokens: 64})

	_, err := c.Run(context.Background(), llm.Request{
		Prompt:      "classify",
		Model:       "claude-opus-4-5",
		MaxTokens:   128,
		Temperature: llm.Temp(0),
		System:      "You judge outputs.",
		JSONMode:    true,
	})
	require.NoError(t, err)
	assert.Equal(t, sdk.Model("claude-opus-4-5"), fake.lastParams.Model)
	assert.Equal(t, int64(128), fake.lastParams.MaxTokens)
	require.Len(t, fake.lastParams.System, 1)
	assert.Contains(t, fake.lastParams.System[0].Text, "You judge outputs.")
	assert.Contains(t, fake.lastParams.System[0].Text, "single JSON object")
}

func TestNewRequiresAPIKey(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)
}
