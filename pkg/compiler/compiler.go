// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package compiler turns voice utterances into validated orchestration
// plans. The LLM path is preferred; a deterministic keyword rule path
// covers unreachable or low-confidence models.
package compiler

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/teradata-labs/cadenza/internal/log"
	"github.com/teradata-labs/cadenza/pkg/gates"
	"github.com/teradata-labs/cadenza/pkg/llm"
	"github.com/teradata-labs/cadenza/pkg/tools"
	"github.com/teradata-labs/cadenza/pkg/types"
)

// Plan defaults applied when the LLM omits them.
const (
	DefaultMaxParallel    = 5
	DefaultTimeoutSeconds = 300
)

// MinLLMConfidence is the floor under which an LLM classification is
// discarded in favor of the rule path.
const MinLLMConfidence = 0.5

// memoLimit bounds the compile memo cache.
const memoLimit = 256

// Compiler compiles utterances into plans.
type Compiler struct {
	provider llm.Provider
	gates    *gates.Engine
	logger   *zap.Logger

	mu   sync.Mutex
	memo map[string][]byte
}

// Config configures a Compiler.
type Config struct {
	// Provider backs the LLM path. Nil forces the rule path.
	Provider llm.Provider

	// Gates validates gate configs during plan validation.
	Gates *gates.Engine

	// Logger defaults to the package-level logger.
	Logger *zap.Logger
}

// New builds a Compiler.
func New(cfg Config) *Compiler {
	if cfg.Logger == nil {
		cfg.Logger = log.Logger()
	}
	return &Compiler{
		provider: cfg.Provider,
		gates:    cfg.Gates,
		logger:   cfg.Logger,
		memo:     make(map[string][]byte),
	}
}

// Compile turns an utterance into a validated Intent. Identical
// utterance+context pairs are served from a memo cache.
func (c *Compiler) Compile(ctx context.Context, utterance string, contextMeta map[string]any) (*types.Intent, error) {
	utterance = strings.TrimSpace(utterance)
	if utterance == "" {
		return nil, types.E(types.KindCompileError, "empty utterance")
	}

	key := memoKey(utterance, contextMeta)
	if cached := c.fromMemo(key); cached != nil {
		return cached, nil
	}

	intent := c.compileLLM(ctx, utterance, contextMeta)
	if intent == nil {
		intent = compileRules(utterance)
	}
	intent.Plan.Metadata = mergeMetadata(intent.Plan.Metadata, contextMeta)

	if err := validatePlan(intent.Plan, c.gates); err != nil {
		return nil, err
	}

	c.toMemo(key, intent)
	return intent, nil
}

// llmReply is the JSON shape the model is asked to produce.
type llmReply struct {
	Intent       string   `json:"intent"`
	Confidence   float64  `json:"confidence"`
	Alternatives []string `json:"alternatives"`
	Workflow     *struct {
		ParentRole     string              `json:"parent_role"`
		ParentPrompt   string              `json:"parent_prompt"`
		Children       []types.AgentConfig `json:"children"`
		MaxParallel    int                 `json:"max_parallel"`
		TimeoutSeconds int                 `json:"timeout_seconds"`
	} `json:"workflow"`
}

// compileLLM runs the LLM path. Any failure (unreachable provider,
// unparseable reply, low confidence) returns nil and lets the rule path
// take over.
func (c *Compiler) compileLLM(ctx context.Context, utterance string, contextMeta map[string]any) *types.Intent {
	if c.provider == nil {
		return nil
	}

	prompt := utterance
	if len(contextMeta) > 0 {
		if blob, err := json.Marshal(contextMeta); err == nil {
			prompt = fmt.Sprintf("%s\n\nContext: %s", utterance, blob)
		}
	}
	resp, err := c.provider.Run(ctx, llm.Request{
		System:   plannerSystem(),
		Prompt:   prompt,
		JSONMode: true,
	})
	if err != nil {
		c.logger.Warn("llm compile path unavailable, falling back to rules", zap.Error(err))
		return nil
	}

	var reply llmReply
	if err := json.Unmarshal([]byte(stripWrapper(resp.Content)), &reply); err != nil {
		c.logger.Warn("llm reply did not parse, falling back to rules", zap.Error(err))
		return nil
	}
	if reply.Confidence < MinLLMConfidence {
		c.logger.Info("llm classification below confidence floor, falling back to rules",
			zap.Float64("confidence", reply.Confidence),
			zap.String("intent", reply.Intent))
		return nil
	}
	if reply.Workflow == nil || len(reply.Workflow.Children) == 0 {
		c.logger.Warn("llm reply carried no workflow, falling back to rules")
		return nil
	}

	plan := &types.Plan{
		ParentRole:     reply.Workflow.ParentRole,
		ParentPrompt:   reply.Workflow.ParentPrompt,
		Children:       reply.Workflow.Children,
		MaxParallel:    reply.Workflow.MaxParallel,
		TimeoutSeconds: reply.Workflow.TimeoutSeconds,
	}
	if plan.ParentRole == "" {
		plan.ParentRole = "orchestrator"
	}
	if plan.ParentPrompt == "" {
		plan.ParentPrompt = "Coordinate agents to fulfill: " + utterance
	}
	if plan.MaxParallel == 0 {
		plan.MaxParallel = DefaultMaxParallel
	}
	if plan.TimeoutSeconds == 0 {
		plan.TimeoutSeconds = DefaultTimeoutSeconds
	}

	return &types.Intent{
		OriginalCommand:    utterance,
		Intent:             reply.Intent,
		Plan:               plan,
		Confidence:         reply.Confidence,
		AlternativeIntents: reply.Alternatives,
	}
}

func plannerSystem() string {
	return fmt.Sprintf(`You compile voice commands into agent workflow plans.

Available tools: %s.

Reply with a single JSON object:
{
  "intent": "<label>",
  "confidence": <0..1>,
  "alternatives": ["<label>", ...],
  "workflow": {
    "parent_role": "orchestrator",
    "parent_prompt": "<coordination instructions>",
    "children": [
      {"role": "<unique>", "system_prompt": "<instructions>", "tools": ["<tool>"], "depends_on": ["<role>"]}
    ],
    "max_parallel": <1..20>,
    "timeout_seconds": <60..3600>
  }
}

Dependencies must form a DAG over sibling roles. Use only the listed tools.`,
		strings.Join(tools.BuiltinNames(), ", "))
}

// --- memo cache ---

func memoKey(utterance string, contextMeta map[string]any) string {
	h := sha256.New()
	h.Write([]byte(utterance))
	if len(contextMeta) > 0 {
		// encoding/json sorts map keys, so the key is stable.
		if blob, err := json.Marshal(contextMeta); err == nil {
			h.Write(blob)
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}

func (c *Compiler) fromMemo(key string) *types.Intent {
	c.mu.Lock()
	blob, ok := c.memo[key]
	c.mu.Unlock()
	if !ok {
		return nil
	}
	var intent types.Intent
	if err := json.Unmarshal(blob, &intent); err != nil {
		return nil
	}
	return &intent
}

func (c *Compiler) toMemo(key string, intent *types.Intent) {
	blob, err := json.Marshal(intent)
	if err != nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.memo) >= memoLimit {
		// Full reset keeps the cache simple; compiles are cheap to redo.
		c.memo = make(map[string][]byte)
	}
	c.memo[key] = blob
}

func mergeMetadata(base, extra map[string]any) map[string]any {
	if len(extra) == 0 {
		return base
	}
	if base == nil {
		base = make(map[string]any, len(extra))
	}
	for k, v := range extra {
		base[k] = v
	}
	return base
}
