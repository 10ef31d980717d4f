// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package agent

import (
	"sync"
	"time"

	"github.com/teradata-labs/cadenza/pkg/types"
)

// Workflow groups a parent agent and its children under one plan. State is
// written only by the Factory.
type Workflow struct {
	id     string
	plan   types.Plan
	parent *Instance

	mu          sync.RWMutex
	state       types.WorkflowState
	errDetail   string
	threadID    string
	createdAt   time.Time
	startedAt   time.Time
	completedAt time.Time
}

// ID returns the workflow id.
func (w *Workflow) ID() string { return w.id }

// Plan returns the plan this workflow executes.
func (w *Workflow) Plan() types.Plan { return w.plan }

// Parent returns the parent agent.
func (w *Workflow) Parent() *Instance { return w.parent }

// State returns the current FSM state.
func (w *Workflow) State() types.WorkflowState {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.state
}

// Err returns the failure detail, empty unless the workflow failed.
func (w *Workflow) Err() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.errDetail
}

// ThreadID returns the working-set thread attached to this workflow, if any.
func (w *Workflow) ThreadID() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.threadID
}

// CreatedAt returns the creation time.
func (w *Workflow) CreatedAt() time.Time { return w.createdAt }

// StartedAt returns when the workflow entered running, zero until then.
func (w *Workflow) StartedAt() time.Time {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.startedAt
}

// CompletedAt returns when the workflow reached a terminal state.
func (w *Workflow) CompletedAt() time.Time {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.completedAt
}
