// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package agent owns workflow and agent instances. The Factory is the sole
// writer of agent and workflow mutable state; every other component goes
// through its setters so transitions stay serialized and FSM-checked.
package agent

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teradata-labs/cadenza/internal/ids"
	"github.com/teradata-labs/cadenza/internal/log"
	"github.com/teradata-labs/cadenza/pkg/llm"
	"github.com/teradata-labs/cadenza/pkg/types"
)

// Factory creates workflows and agents and serializes every state write.
type Factory struct {
	mu        sync.RWMutex
	workflows map[string]*Workflow
	agents    map[string]*Instance

	// byRole maps workflowID → role → agentID.
	byRole map[string]map[string]string

	logger *zap.Logger
}

// NewFactory builds an empty Factory.
func NewFactory(logger *zap.Logger) *Factory {
	if logger == nil {
		logger = log.Logger()
	}
	return &Factory{
		workflows: make(map[string]*Workflow),
		agents:    make(map[string]*Instance),
		byRole:    make(map[string]map[string]string),
		logger:    logger,
	}
}

// CreateWorkflow materializes a workflow and its parent agent from plan.
// An empty plan.WorkflowID is filled in.
func (f *Factory) CreateWorkflow(plan types.Plan) (*Workflow, error) {
	if plan.WorkflowID == "" {
		plan.WorkflowID = ids.New("wf")
	}
	if plan.ParentRole == "" {
		return nil, types.E(types.KindValidationError, "plan has no parent role")
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.workflows[plan.WorkflowID]; exists {
		return nil, types.E(types.KindValidationError, "workflow already exists: %s", plan.WorkflowID)
	}

	now := time.Now()
	parent := &Instance{
		id:         ids.New("agent"),
		workflowID: plan.WorkflowID,
		config: types.AgentConfig{
			Role:         plan.ParentRole,
			SystemPrompt: plan.ParentPrompt,
			Metadata:     plan.Metadata,
		},
		state:     types.AgentCreating,
		createdAt: now,
	}
	w := &Workflow{
		id:        plan.WorkflowID,
		plan:      plan,
		parent:    parent,
		state:     types.WorkflowCreating,
		createdAt: now,
	}

	f.workflows[w.id] = w
	f.agents[parent.id] = parent
	f.byRole[w.id] = map[string]string{parent.Role(): parent.id}

	f.logger.Info("workflow created",
		zap.String("workflow_id", w.id),
		zap.String("parent_role", plan.ParentRole),
		zap.Int("children", len(plan.Children)))
	return w, nil
}

// SpawnChild creates one child agent in the workflow. Spawning a role twice
// returns the existing instance.
func (f *Factory) SpawnChild(workflowID string, cfg types.AgentConfig) (*Instance, error) {
	if cfg.Role == "" {
		return nil, types.E(types.KindValidationError, "agent role is required")
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.workflows[workflowID]; !ok {
		return nil, types.E(types.KindValidationError, "workflow not found: %s", workflowID)
	}
	if existingID, ok := f.byRole[workflowID][cfg.Role]; ok {
		return f.agents[existingID], nil
	}

	a := &Instance{
		id:         ids.New("agent"),
		workflowID: workflowID,
		config:     cfg,
		state:      types.AgentCreating,
		createdAt:  time.Now(),
	}
	f.agents[a.id] = a
	f.byRole[workflowID][cfg.Role] = a.id

	f.logger.Debug("agent spawned",
		zap.String("workflow_id", workflowID),
		zap.String("agent_id", a.id),
		zap.String("role", cfg.Role))
	return a, nil
}

// SpawnChildren pre-materializes every child of the workflow's plan.
func (f *Factory) SpawnChildren(workflowID string) ([]*Instance, error) {
	w, err := f.Workflow(workflowID)
	if err != nil {
		return nil, err
	}
	out := make([]*Instance, 0, len(w.plan.Children))
	for _, cfg := range w.plan.Children {
		a, err := f.SpawnChild(workflowID, cfg)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

// Workflow resolves a workflow by id.
func (f *Factory) Workflow(id string) (*Workflow, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	w, ok := f.workflows[id]
	if !ok {
		return nil, types.E(types.KindValidationError, "workflow not found: %s", id)
	}
	return w, nil
}

// Workflows lists every known workflow.
func (f *Factory) Workflows() []*Workflow {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]*Workflow, 0, len(f.workflows))
	for _, w := range f.workflows {
		out = append(out, w)
	}
	return out
}

// Agent resolves an agent by id.
func (f *Factory) Agent(id string) (*Instance, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	a, ok := f.agents[id]
	if !ok {
		return nil, types.E(types.KindValidationError, "agent not found: %s", id)
	}
	return a, nil
}

// AgentByRole resolves an agent by workflow and role.
func (f *Factory) AgentByRole(workflowID, role string) (*Instance, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	id, ok := f.byRole[workflowID][role]
	if !ok {
		return nil, types.E(types.KindValidationError, "agent not found: workflow %s role %s", workflowID, role)
	}
	return f.agents[id], nil
}

// WorkflowAgents lists every spawned agent of the workflow, parent included.
func (f *Factory) WorkflowAgents(workflowID string) []*Instance {
	f.mu.RLock()
	defer f.mu.RUnlock()
	roles := f.byRole[workflowID]
	out := make([]*Instance, 0, len(roles))
	for _, id := range roles {
		out = append(out, f.agents[id])
	}
	return out
}

// TransitionAgent moves an agent through its FSM, maintaining started_at
// and completed_at. Illegal transitions fail with validation_error.
func (f *Factory) TransitionAgent(agentID string, to types.AgentState) error {
	a, err := f.Agent(agentID)
	if err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.state.CanTransition(to) {
		return types.E(types.KindValidationError, "agent %s: illegal transition %s -> %s", agentID, a.state, to)
	}
	from := a.state
	a.state = to
	now := time.Now()
	if to == types.AgentRunning && a.startedAt.IsZero() {
		a.startedAt = now
	}
	if to.Terminal() {
		a.completedAt = now
	}

	f.logger.Debug("agent transition",
		zap.String("agent_id", agentID),
		zap.String("from", string(from)),
		zap.String("to", string(to)))
	return nil
}

// TransitionWorkflow moves a workflow through its FSM, maintaining
// started_at and completed_at.
func (f *Factory) TransitionWorkflow(workflowID string, to types.WorkflowState) error {
	w, err := f.Workflow(workflowID)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.state.CanTransition(to) {
		return types.E(types.KindValidationError, "workflow %s: illegal transition %s -> %s", workflowID, w.state, to)
	}
	from := w.state
	w.state = to
	now := time.Now()
	if to == types.WorkflowRunning && w.startedAt.IsZero() {
		w.startedAt = now
	}
	if to.Terminal() {
		w.completedAt = now
	}

	f.logger.Info("workflow transition",
		zap.String("workflow_id", workflowID),
		zap.String("from", string(from)),
		zap.String("to", string(to)))
	return nil
}

// SetAgentOutput records an agent's output.
func (f *Factory) SetAgentOutput(agentID string, output any) error {
	a, err := f.Agent(agentID)
	if err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.output = output
	return nil
}

// SetAgentError records an agent's failure detail.
func (f *Factory) SetAgentError(agentID, detail string) error {
	a, err := f.Agent(agentID)
	if err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.errDetail = detail
	return nil
}

// AddAgentUsage accumulates token usage onto an agent. Each provider call
// contributes its own usage; retries and escalations add up.
func (f *Factory) AddAgentUsage(agentID string, u llm.Usage) error {
	a, err := f.Agent(agentID)
	if err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.usage.InputTokens += u.InputTokens
	a.usage.OutputTokens += u.OutputTokens
	a.usage.TotalTokens += u.TotalTokens
	return nil
}

// IncrementRetry bumps an agent's retry counter and returns the new value.
func (f *Factory) IncrementRetry(agentID string) (int, error) {
	a, err := f.Agent(agentID)
	if err != nil {
		return 0, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.retryCount++
	return a.retryCount, nil
}

// SetWorkflowError records a workflow's failure detail.
func (f *Factory) SetWorkflowError(workflowID, detail string) error {
	w, err := f.Workflow(workflowID)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.errDetail = detail
	return nil
}

// SetWorkflowThread attaches a working-set thread to the workflow.
func (f *Factory) SetWorkflowThread(workflowID, threadID string) error {
	w, err := f.Workflow(workflowID)
	if err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.threadID = threadID
	return nil
}
