// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package types contains shared types used across the cadenza control plane.
// This package breaks import cycles by providing the data model that the
// compiler, scheduler, event bus, and store packages all depend on.
package types

import (
	"time"
)

// Trigger identifies an event kind published on the bus and deliverable
// over webhooks.
type Trigger string

const (
	TriggerWorkflowStarted   Trigger = "workflow.started"
	TriggerWorkflowCompleted Trigger = "workflow.completed"
	TriggerWorkflowFailed    Trigger = "workflow.failed"
	TriggerAgentStarted      Trigger = "agent.started"
	TriggerAgentCompleted    Trigger = "agent.completed"
	TriggerAgentFailed       Trigger = "agent.failed"
	TriggerGatePassed        Trigger = "quality_gate.passed"
	TriggerGateFailed        Trigger = "quality_gate.failed"
	TriggerMetricThreshold   Trigger = "metric.threshold"
	TriggerUserRegistered    Trigger = "user.registered"
	TriggerErrorOccurred     Trigger = "error.occurred"
)

// Triggers lists every known trigger, in a stable order.
func Triggers() []Trigger {
	return []Trigger{
		TriggerWorkflowStarted,
		TriggerWorkflowCompleted,
		TriggerWorkflowFailed,
		TriggerAgentStarted,
		TriggerAgentCompleted,
		TriggerAgentFailed,
		TriggerGatePassed,
		TriggerGateFailed,
		TriggerMetricThreshold,
		TriggerUserRegistered,
		TriggerErrorOccurred,
	}
}

// Valid reports whether t is a known trigger.
func (t Trigger) Valid() bool {
	for _, known := range Triggers() {
		if t == known {
			return true
		}
	}
	return false
}

// Event is a fully-formed orchestration event as observed by bus handlers
// and webhook consumers.
type Event struct {
	// EventID uniquely identifies this event.
	EventID string `json:"event_id"`

	// Trigger is the event kind.
	Trigger Trigger `json:"trigger"`

	// WorkflowID scopes the event to a workflow. Per-workflow delivery
	// is FIFO; no cross-workflow ordering is guaranteed.
	WorkflowID string `json:"workflow_id"`

	// AgentID is set for agent-scoped events.
	AgentID string `json:"agent_id,omitempty"`

	// Payload carries trigger-specific data.
	Payload map[string]any `json:"payload"`

	// Timestamp is the publication time in UTC.
	Timestamp time.Time `json:"timestamp"`
}

// GateKind selects the validation strategy for a quality gate.
type GateKind string

const (
	GateJSONSchema GateKind = "json_schema"
	GateRegex      GateKind = "regex"
	GateLLMJudge   GateKind = "llm_judge"
	GateCustom     GateKind = "custom"
)

// Valid reports whether k is a known gate kind.
func (k GateKind) Valid() bool {
	switch k {
	case GateJSONSchema, GateRegex, GateLLMJudge, GateCustom:
		return true
	}
	return false
}

// MaxGateRetries bounds QualityGate.MaxRetries.
const MaxGateRetries = 5

// QualityGate validates an agent's output. Dispatch is by Kind over the
// Config blob; see pkg/gates for the validator table.
type QualityGate struct {
	// GateID uniquely identifies the gate within its agent config.
	GateID string `json:"gate_id"`

	// Kind selects the validator.
	Kind GateKind `json:"kind"`

	// Config is the kind-specific configuration blob.
	Config map[string]any `json:"config"`

	// RetryOnFail re-executes the agent on gate failure.
	RetryOnFail bool `json:"retry_on_fail"`

	// MaxRetries bounds re-executions (0–5).
	MaxRetries int `json:"max_retries"`

	// EscalateOnFail hands the output to EscalationTarget after retries
	// are exhausted.
	EscalateOnFail bool `json:"escalate_on_fail"`

	// EscalationTarget names the sibling role invoked as a recovery task.
	EscalationTarget string `json:"escalation_target,omitempty"`
}

// GateResult is the outcome of running one gate against one output.
type GateResult struct {
	GateID string `json:"gate_id"`
	Passed bool   `json:"passed"`

	// AgentID identifies the agent whose output was validated.
	AgentID string `json:"agent_id"`

	// Output is the (possibly retried) output the verdict applies to.
	Output any `json:"output"`

	// Error is set when the validator itself errored, which is distinct
	// from a clean fail.
	Error string `json:"error,omitempty"`

	// RetryAttempted reports whether any agent re-execution happened.
	RetryAttempted bool `json:"retry_attempted"`

	Timestamp time.Time `json:"timestamp"`
}

// WebhookSubscription registers an external URL for a set of triggers.
type WebhookSubscription struct {
	ID  string `json:"id"`
	URL string `json:"url"`

	// Events lists the triggers this subscription receives.
	Events []Trigger `json:"events"`

	// Secret, when non-empty, enables HMAC-SHA256 body signing via the
	// X-Webhook-Signature header.
	Secret string `json:"-"`

	// Active subscriptions receive deliveries; inactive ones are skipped
	// without history records.
	Active bool `json:"active"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Subscribed reports whether the subscription listens for t.
func (s *WebhookSubscription) Subscribed(t Trigger) bool {
	for _, e := range s.Events {
		if e == t {
			return true
		}
	}
	return false
}

// AgentConfig describes one node of the workflow DAG.
type AgentConfig struct {
	// Role uniquely identifies the agent within its workflow.
	Role string `json:"role"`

	// SystemPrompt is the agent's system instructions.
	SystemPrompt string `json:"system_prompt"`

	// Model is the LLM model identifier.
	Model string `json:"model,omitempty"`

	// Tools lists the named tool runtimes available to the agent.
	Tools []string `json:"tools,omitempty"`

	// DependsOn names sibling roles whose outputs feed this agent.
	DependsOn []string `json:"depends_on,omitempty"`

	// Webhooks are agent-scoped subscriptions registered at workflow creation.
	Webhooks []WebhookSubscription `json:"webhooks,omitempty"`

	// QualityGates run against the agent's output in declaration order.
	QualityGates []QualityGate `json:"quality_gates,omitempty"`

	// Metadata is free-form configuration carried through to execution.
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Plan bounds.
const (
	MinParallel    = 1
	MaxParallel    = 20
	MinTimeoutSecs = 60
	MaxTimeoutSecs = 3600
	MaxAgentTools  = 32
)

// Plan is the compiler output fully describing how to run a workflow.
type Plan struct {
	WorkflowID   string `json:"workflow_id"`
	ParentRole   string `json:"parent_role"`
	ParentPrompt string `json:"parent_prompt"`

	// Children are the DAG nodes.
	Children []AgentConfig `json:"children"`

	// Webhooks are plan-level subscriptions registered at workflow creation.
	Webhooks []WebhookSubscription `json:"webhooks,omitempty"`

	// MaxParallel caps simultaneously running agents (1–20).
	MaxParallel int `json:"max_parallel"`

	// TimeoutSeconds bounds total workflow execution (60–3600).
	TimeoutSeconds int `json:"timeout_seconds"`

	Metadata map[string]any `json:"metadata,omitempty"`
}

// Child returns the config for role, or nil.
func (p *Plan) Child(role string) *AgentConfig {
	for i := range p.Children {
		if p.Children[i].Role == role {
			return &p.Children[i]
		}
	}
	return nil
}

// Intent is a compiled voice command: classification plus the plan.
type Intent struct {
	// OriginalCommand is the raw utterance.
	OriginalCommand string `json:"original_command"`

	// Intent is the classified intent label.
	Intent string `json:"intent"`

	// Plan is the generated orchestration plan.
	Plan *Plan `json:"plan"`

	// Confidence is the classifier confidence in [0,1]. The rule path
	// always reports 0.5.
	Confidence float64 `json:"confidence"`

	// AlternativeIntents lists other plausible classifications.
	AlternativeIntents []string `json:"alternative_intents,omitempty"`
}

// Message is one entry in a thread's conversation history.
type Message struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}
