// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package compiler

import (
	"strings"

	"github.com/teradata-labs/cadenza/pkg/types"
)

// RuleConfidence is reported by every rule-path classification.
const RuleConfidence = 0.5

// intentStems maps intent labels to their keyword stems, checked in a
// stable order so the first matching intent wins and the rest become
// alternatives.
var intentOrder = []string{"deploy", "code", "research", "test", "analyze", "automate"}

var intentStems = map[string][]string{
	"deploy":   {"deploy", "release", "publish", "launch"},
	"code":     {"write", "create", "generate", "code", "implement", "build"},
	"research": {"research", "find", "search", "investigate"},
	"test":     {"test", "verify", "validate"},
	"analyze":  {"analyze", "examine", "review", "inspect"},
	"automate": {"automate", "schedule", "run"},
}

// classify returns the winning intent and any other intents whose stems
// also matched the utterance.
func classify(utterance string) (string, []string) {
	lowered := strings.ToLower(utterance)

	var matched []string
	for _, intent := range intentOrder {
		for _, stem := range intentStems[intent] {
			if strings.Contains(lowered, stem) {
				matched = append(matched, intent)
				break
			}
		}
	}
	if len(matched) == 0 {
		return "unknown", nil
	}
	return matched[0], matched[1:]
}

// template instantiates the fixed DAG for an intent.
func template(intent, utterance string) types.Plan {
	prompt := func(role, task string) string {
		return "You are the " + role + " agent. " + task + "\n\nTask: " + utterance
	}

	var children []types.AgentConfig
	switch intent {
	case "code":
		children = []types.AgentConfig{
			{Role: "code", SystemPrompt: prompt("code", "Write the requested code."), Tools: []string{"filesystem", "git"}},
			{Role: "test", SystemPrompt: prompt("test", "Test the generated code."), Tools: []string{"test_runner"}, DependsOn: []string{"code"}},
		}
	case "research":
		children = []types.AgentConfig{
			{Role: "research", SystemPrompt: prompt("research", "Research the topic and report findings."), Tools: []string{"search", "research"}},
		}
	case "test":
		children = []types.AgentConfig{
			{Role: "test", SystemPrompt: prompt("test", "Run the requested verification."), Tools: []string{"test_runner"}},
		}
	case "deploy":
		children = []types.AgentConfig{
			{Role: "test", SystemPrompt: prompt("test", "Verify the build before deployment."), Tools: []string{"test_runner"}},
			{Role: "shell", SystemPrompt: prompt("shell", "Perform the deployment steps."), Tools: []string{"terminal"}, DependsOn: []string{"test"}},
			{Role: "test2", SystemPrompt: prompt("test2", "Verify the deployment succeeded."), Tools: []string{"test_runner"}, DependsOn: []string{"shell"}},
		}
	case "analyze":
		children = []types.AgentConfig{
			{Role: "research", SystemPrompt: prompt("research", "Collect the material to analyze."), Tools: []string{"search"}},
			{Role: "analysis", SystemPrompt: prompt("analysis", "Analyze the collected material."), DependsOn: []string{"research"}},
		}
	case "automate":
		children = []types.AgentConfig{
			{Role: "browser", SystemPrompt: prompt("browser", "Automate the browser-side steps."), Tools: []string{"browser"}},
			{Role: "shell", SystemPrompt: prompt("shell", "Automate the command-line steps."), Tools: []string{"terminal"}},
		}
	default:
		children = []types.AgentConfig{
			{Role: "generic", SystemPrompt: prompt("generic", "Handle the request as best you can.")},
		}
	}

	return types.Plan{
		ParentRole:     "orchestrator",
		ParentPrompt:   "Coordinate agents to fulfill: " + utterance,
		Children:       children,
		MaxParallel:    DefaultMaxParallel,
		TimeoutSeconds: DefaultTimeoutSeconds,
	}
}

// compileRules is the deterministic fallback path.
func compileRules(utterance string) *types.Intent {
	intent, alternatives := classify(utterance)
	plan := template(intent, utterance)
	return &types.Intent{
		OriginalCommand:    utterance,
		Intent:             intent,
		Plan:               &plan,
		Confidence:         RuleConfidence,
		AlternativeIntents: alternatives,
	}
}
