// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package agent

import (
	"sync"
	"time"

	"github.com/teradata-labs/cadenza/pkg/llm"
	"github.com/teradata-labs/cadenza/pkg/types"
)

// Instance is one agent within a workflow. Its mutable fields (state,
// output, error, retry count, timestamps) are written only by the Factory;
// everything else is immutable after creation.
type Instance struct {
	id         string
	workflowID string
	config     types.AgentConfig

	mu          sync.RWMutex
	state       types.AgentState
	output      any
	errDetail   string
	retryCount  int
	usage       llm.Usage
	createdAt   time.Time
	startedAt   time.Time
	completedAt time.Time
}

// ID returns the agent id.
func (a *Instance) ID() string { return a.id }

// WorkflowID returns the owning workflow id.
func (a *Instance) WorkflowID() string { return a.workflowID }

// Role returns the agent's role within the workflow.
func (a *Instance) Role() string { return a.config.Role }

// Config returns the agent's configuration.
func (a *Instance) Config() types.AgentConfig { return a.config }

// State returns the current FSM state.
func (a *Instance) State() types.AgentState {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.state
}

// Output returns the agent's output, nil until completion.
func (a *Instance) Output() any {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.output
}

// Err returns the failure detail, empty unless the agent failed.
func (a *Instance) Err() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.errDetail
}

// Usage returns the accumulated token usage across all provider calls
// made for this agent, including gate retries.
func (a *Instance) Usage() llm.Usage {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.usage
}

// RetryCount returns how many gate-driven re-executions have run.
func (a *Instance) RetryCount() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.retryCount
}

// CreatedAt returns the creation time.
func (a *Instance) CreatedAt() time.Time { return a.createdAt }

// StartedAt returns when the agent entered running, zero until then.
func (a *Instance) StartedAt() time.Time {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.startedAt
}

// CompletedAt returns when the agent reached a terminal state.
func (a *Instance) CompletedAt() time.Time {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.completedAt
}

// Snapshot is a point-in-time serializable view of an agent.
type Snapshot struct {
	ID          string           `json:"id"`
	WorkflowID  string           `json:"workflow_id"`
	Role        string           `json:"role"`
	State       types.AgentState `json:"state"`
	Output      any              `json:"output,omitempty"`
	Error       string           `json:"error,omitempty"`
	RetryCount  int              `json:"retry_count"`
	CreatedAt   time.Time        `json:"created_at"`
	StartedAt   time.Time        `json:"started_at,omitzero"`
	CompletedAt time.Time        `json:"completed_at,omitzero"`
}

// Snapshot captures the agent's current state under one lock acquisition.
func (a *Instance) Snapshot() Snapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return Snapshot{
		ID:          a.id,
		WorkflowID:  a.workflowID,
		Role:        a.config.Role,
		State:       a.state,
		Output:      a.output,
		Error:       a.errDetail,
		RetryCount:  a.retryCount,
		CreatedAt:   a.createdAt,
		StartedAt:   a.startedAt,
		CompletedAt: a.completedAt,
	}
}
