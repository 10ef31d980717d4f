// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package types

// AgentState is the lifecycle state of a scheduled DAG node.
type AgentState string

const (
	AgentCreating  AgentState = "creating"
	AgentRunning   AgentState = "running"
	AgentWaiting   AgentState = "waiting"
	AgentCompleted AgentState = "completed"
	AgentFailed    AgentState = "failed"
	AgentCancelled AgentState = "cancelled"
)

// agentTransitions is the agent FSM. Terminal states are absorbing.
var agentTransitions = map[AgentState][]AgentState{
	AgentCreating: {AgentRunning, AgentWaiting, AgentFailed, AgentCancelled},
	AgentRunning:  {AgentWaiting, AgentCompleted, AgentFailed, AgentCancelled},
	AgentWaiting:  {AgentRunning, AgentCancelled},
}

// Terminal reports whether s is absorbing.
func (s AgentState) Terminal() bool {
	return s == AgentCompleted || s == AgentFailed || s == AgentCancelled
}

// CanTransition reports whether s → to is a legal FSM edge.
func (s AgentState) CanTransition(to AgentState) bool {
	for _, next := range agentTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// WorkflowState is the lifecycle state of a live DAG execution.
type WorkflowState string

const (
	WorkflowCreating  WorkflowState = "creating"
	WorkflowRunning   WorkflowState = "running"
	WorkflowPaused    WorkflowState = "paused"
	WorkflowCompleted WorkflowState = "completed"
	WorkflowFailed    WorkflowState = "failed"
	WorkflowCancelled WorkflowState = "cancelled"
)

// workflowTransitions is the workflow FSM. A workflow that never passes
// plan validation goes creating → failed without entering running.
var workflowTransitions = map[WorkflowState][]WorkflowState{
	WorkflowCreating: {WorkflowRunning, WorkflowFailed, WorkflowCancelled},
	WorkflowRunning:  {WorkflowPaused, WorkflowCompleted, WorkflowFailed, WorkflowCancelled},
	WorkflowPaused:   {WorkflowRunning, WorkflowCancelled},
}

// Terminal reports whether s is absorbing.
func (s WorkflowState) Terminal() bool {
	return s == WorkflowCompleted || s == WorkflowFailed || s == WorkflowCancelled
}

// CanTransition reports whether s → to is a legal FSM edge.
func (s WorkflowState) CanTransition(to WorkflowState) bool {
	for _, next := range workflowTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}
