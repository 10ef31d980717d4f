// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package gates validates agent outputs against attached quality gates:
// JSON-Schema, regex, LLM-as-judge, and registered custom functions.
package gates

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/xeipuuv/gojsonschema"
	"go.uber.org/zap"

	"github.com/teradata-labs/cadenza/internal/log"
	"github.com/teradata-labs/cadenza/pkg/llm"
	"github.com/teradata-labs/cadenza/pkg/types"
)

// CustomFn is a registered custom validator. A returned error is a
// validator error, distinct from a clean fail.
type CustomFn func(output any) (bool, error)

// RetryFn re-executes an agent and returns its fresh output.
type RetryFn func(ctx context.Context) (any, error)

// Engine runs quality gates.
type Engine struct {
	provider llm.Provider
	logger   *zap.Logger

	mu     sync.RWMutex
	custom map[string]CustomFn
}

// Config configures an Engine.
type Config struct {
	// Provider backs llm_judge gates. Nil makes llm_judge gates error.
	Provider llm.Provider

	// Logger defaults to the package-level logger.
	Logger *zap.Logger
}

// New builds an Engine.
func New(cfg Config) *Engine {
	if cfg.Logger == nil {
		cfg.Logger = log.Logger()
	}
	return &Engine{
		provider: cfg.Provider,
		logger:   cfg.Logger,
		custom:   make(map[string]CustomFn),
	}
}

// RegisterCustom makes fn resolvable from custom gate configs by name.
func (e *Engine) RegisterCustom(name string, fn CustomFn) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.custom[name] = fn
}

// CheckConfig verifies that a gate's config parses for its kind. Used by
// the compiler's fail-closed validation.
func (e *Engine) CheckConfig(gate types.QualityGate) error {
	switch gate.Kind {
	case types.GateJSONSchema:
		_, err := schemaLoader(gate.Config)
		return err
	case types.GateRegex:
		_, _, err := regexConfig(gate.Config)
		return err
	case types.GateLLMJudge:
		if s, _ := gate.Config["criteria"].(string); s == "" {
			return types.E(types.KindValidationError, "llm_judge gate %s: criteria is required", gate.GateID)
		}
		return nil
	case types.GateCustom:
		if s, _ := gate.Config["function"].(string); s == "" {
			return types.E(types.KindValidationError, "custom gate %s: function is required", gate.GateID)
		}
		return nil
	default:
		return types.E(types.KindValidationError, "unknown gate kind: %s", gate.Kind)
	}
}

// Validate runs one gate once against output.
func (e *Engine) Validate(ctx context.Context, gate types.QualityGate, agentID string, output any) types.GateResult {
	result := types.GateResult{
		GateID:    gate.GateID,
		AgentID:   agentID,
		Output:    output,
		Timestamp: time.Now(),
	}

	passed, err := e.run(ctx, gate, output)
	if err != nil {
		result.Error = err.Error()
		return result
	}
	result.Passed = passed
	return result
}

// ValidateWithRetry runs gate and, on failure with retry_on_fail set,
// re-executes the agent via retry up to gate.MaxRetries times, revalidating
// each fresh output. The final verdict carries the last output seen.
func (e *Engine) ValidateWithRetry(ctx context.Context, gate types.QualityGate, agentID string, output any, retry RetryFn) types.GateResult {
	result := e.Validate(ctx, gate, agentID, output)
	if result.Passed || result.Error != "" {
		return result
	}
	if !gate.RetryOnFail || retry == nil {
		return result
	}

	retries := gate.MaxRetries
	if retries > types.MaxGateRetries {
		retries = types.MaxGateRetries
	}
	for attempt := 1; attempt <= retries; attempt++ {
		if ctx.Err() != nil {
			break
		}
		e.logger.Debug("gate retry",
			zap.String("gate_id", gate.GateID),
			zap.String("agent_id", agentID),
			zap.Int("attempt", attempt))

		fresh, err := retry(ctx)
		if err != nil {
			result.Error = err.Error()
			result.RetryAttempted = true
			return result
		}
		result = e.Validate(ctx, gate, agentID, fresh)
		result.RetryAttempted = true
		if result.Passed || result.Error != "" {
			return result
		}
	}
	result.RetryAttempted = result.RetryAttempted || retries > 0
	return result
}

func (e *Engine) run(ctx context.Context, gate types.QualityGate, output any) (bool, error) {
	switch gate.Kind {
	case types.GateJSONSchema:
		return e.runJSONSchema(gate, output)
	case types.GateRegex:
		return runRegex(gate, output)
	case types.GateLLMJudge:
		return e.runLLMJudge(ctx, gate, output)
	case types.GateCustom:
		return e.runCustom(gate, output)
	default:
		return false, types.E(types.KindValidationError, "unknown gate kind: %s", gate.Kind)
	}
}

// --- json_schema ---

func schemaLoader(config map[string]any) (gojsonschema.JSONLoader, error) {
	schema, ok := config["schema"]
	if !ok {
		return nil, types.E(types.KindValidationError, "json_schema gate: schema is required")
	}
	switch s := schema.(type) {
	case string:
		var probe any
		if err := json.Unmarshal([]byte(s), &probe); err != nil {
			return nil, types.Wrap(types.KindValidationError, err, "json_schema gate: schema does not parse")
		}
		return gojsonschema.NewStringLoader(s), nil
	default:
		return gojsonschema.NewGoLoader(schema), nil
	}
}

func (e *Engine) runJSONSchema(gate types.QualityGate, output any) (bool, error) {
	loader, err := schemaLoader(gate.Config)
	if err != nil {
		return false, err
	}

	doc := output
	if s, ok := output.(string); ok {
		var parsed any
		if err := json.Unmarshal([]byte(s), &parsed); err != nil {
			// Unparseable output is a clean fail, not a validator error.
			return false, nil
		}
		doc = parsed
	}

	res, err := gojsonschema.Validate(loader, gojsonschema.NewGoLoader(doc))
	if err != nil {
		return false, types.Wrap(types.KindValidationError, err, "json_schema gate %s", gate.GateID)
	}
	return res.Valid(), nil
}

// --- regex ---

func regexConfig(config map[string]any) (*regexp.Regexp, string, error) {
	pattern, _ := config["pattern"].(string)
	if pattern == "" {
		return nil, "", types.E(types.KindValidationError, "regex gate: pattern is required")
	}
	matchType, _ := config["match_type"].(string)
	if matchType == "" {
		matchType = "search"
	}
	switch matchType {
	case "search":
	case "match":
		pattern = "^(?:" + pattern + ")"
	case "fullmatch":
		pattern = "^(?:" + pattern + ")$"
	default:
		return nil, "", types.E(types.KindValidationError, "regex gate: unknown match_type %q", matchType)
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, "", types.Wrap(types.KindValidationError, err, "regex gate: pattern does not compile")
	}
	return re, matchType, nil
}

func runRegex(gate types.QualityGate, output any) (bool, error) {
	re, _, err := regexConfig(gate.Config)
	if err != nil {
		return false, err
	}
	return re.MatchString(stringify(output)), nil
}

// --- llm_judge ---

const judgeSystem = "You are a strict quality judge. Answer with exactly one word, yes or no."

func (e *Engine) runLLMJudge(ctx context.Context, gate types.QualityGate, output any) (bool, error) {
	if e.provider == nil {
		return false, types.E(types.KindValidationError, "llm_judge gate %s: no provider configured", gate.GateID)
	}
	criteria, _ := gate.Config["criteria"].(string)
	if criteria == "" {
		return false, types.E(types.KindValidationError, "llm_judge gate %s: criteria is required", gate.GateID)
	}
	model, _ := gate.Config["model"].(string)

	prompt := fmt.Sprintf("Criteria: %s\n\nOutput:\n%s\n\nDoes the output meet the criteria? Answer yes or no.",
		criteria, stringify(output))
	resp, err := e.provider.Run(ctx, llm.Request{
		System:      judgeSystem,
		Prompt:      prompt,
		Model:       model,
		Temperature: llm.Temp(0),
	})
	if err != nil {
		return false, err
	}

	verdict := strings.ToLower(strings.TrimSpace(resp.Content))
	return strings.HasPrefix(verdict, "yes"), nil
}

// --- custom ---

func (e *Engine) runCustom(gate types.QualityGate, output any) (bool, error) {
	name, _ := gate.Config["function"].(string)
	if name == "" {
		return false, types.E(types.KindValidationError, "custom gate %s: function is required", gate.GateID)
	}
	e.mu.RLock()
	fn, ok := e.custom[name]
	e.mu.RUnlock()
	if !ok {
		return false, types.E(types.KindValidationError, "custom gate %s: function %q is not registered", gate.GateID, name)
	}
	return fn(output)
}

func stringify(output any) string {
	switch v := output.(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	}
}
