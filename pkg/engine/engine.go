// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package engine composes the control plane: compiler, agent factory,
// coordinator, event bus, webhook delivery, working-set store, and audit.
package engine

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/teradata-labs/cadenza/internal/log"
	"github.com/teradata-labs/cadenza/pkg/agent"
	"github.com/teradata-labs/cadenza/pkg/audit"
	"github.com/teradata-labs/cadenza/pkg/compiler"
	"github.com/teradata-labs/cadenza/pkg/coordinator"
	"github.com/teradata-labs/cadenza/pkg/eventbus"
	"github.com/teradata-labs/cadenza/pkg/gates"
	"github.com/teradata-labs/cadenza/pkg/llm"
	"github.com/teradata-labs/cadenza/pkg/types"
	"github.com/teradata-labs/cadenza/pkg/webhook"
	"github.com/teradata-labs/cadenza/pkg/workingset"
)

// Engine is the public orchestration surface.
type Engine struct {
	compiler    *compiler.Compiler
	factory     *agent.Factory
	coordinator *coordinator.Coordinator
	bus         *eventbus.Bus
	webhooks    *webhook.Manager
	store       *workingset.Store
	audit       audit.Sink
	logger      *zap.Logger

	// settled guards terminal workflow event emission: exactly one
	// workflow.completed or workflow.failed per workflow.
	mu      sync.Mutex
	settled map[string]bool
}

// Config configures an Engine. Zero-value fields get working defaults;
// only Provider is required for LLM-backed execution.
type Config struct {
	// Provider backs plan compilation, agent execution, and llm_judge gates.
	Provider llm.Provider

	// Store is the shared working set. Nil opens an ephemeral store.
	Store *workingset.Store

	// Audit defaults to audit.NopSink.
	Audit audit.Sink

	// Bus defaults to a fresh bus with default bounds.
	Bus *eventbus.Bus

	// Webhooks defaults to a fresh manager.
	Webhooks *webhook.Manager

	// Logger defaults to the package-level logger.
	Logger *zap.Logger
}

// New wires up an Engine and subscribes its internal bus handlers.
func New(cfg Config) (*Engine, error) {
	if cfg.Logger == nil {
		cfg.Logger = log.Logger()
	}
	if cfg.Store == nil {
		store, err := workingset.Open(workingset.Config{Logger: cfg.Logger})
		if err != nil {
			return nil, err
		}
		cfg.Store = store
	}
	if cfg.Audit == nil {
		cfg.Audit = audit.NopSink{}
	}
	if cfg.Bus == nil {
		cfg.Bus = eventbus.New(eventbus.Config{Logger: cfg.Logger})
	}
	if cfg.Webhooks == nil {
		cfg.Webhooks = webhook.New(webhook.Config{Logger: cfg.Logger})
	}

	gateEngine := gates.New(gates.Config{Provider: cfg.Provider, Logger: cfg.Logger})
	factory := agent.NewFactory(cfg.Logger)

	e := &Engine{
		compiler: compiler.New(compiler.Config{
			Provider: cfg.Provider,
			Gates:    gateEngine,
			Logger:   cfg.Logger,
		}),
		factory: factory,
		coordinator: coordinator.New(coordinator.Config{
			Factory:  factory,
			Provider: cfg.Provider,
			Gates:    gateEngine,
			Bus:      cfg.Bus,
			Logger:   cfg.Logger,
		}),
		bus:      cfg.Bus,
		webhooks: cfg.Webhooks,
		store:    cfg.Store,
		audit:    cfg.Audit,
		logger:   cfg.Logger,
		settled:  make(map[string]bool),
	}
	e.subscribeHandlers()
	return e, nil
}

// subscribeHandlers wires webhook fan-out, audit rows, and working-set
// side effects onto the bus.
func (e *Engine) subscribeHandlers() {
	for _, trigger := range types.Triggers() {
		_ = e.bus.Subscribe(trigger, e.webhooks.HandleEvent)
		_ = e.bus.Subscribe(trigger, func(event types.Event) {
			if err := e.audit.Record(event); err != nil {
				e.logger.Warn("audit record failed",
					zap.String("event_id", event.EventID),
					zap.Error(err))
			}
		})
	}
	_ = e.bus.Subscribe(types.TriggerAgentCompleted, e.onAgentCompleted)
	_ = e.bus.Subscribe(types.TriggerWorkflowCompleted, e.onWorkflowSettled)
	_ = e.bus.Subscribe(types.TriggerWorkflowFailed, e.onWorkflowSettled)
}

// ProcessVoiceCommand compiles the utterance, materializes a workflow with
// a working-set thread, registers plan webhooks, and emits
// workflow.started. Execution is not awaited.
func (e *Engine) ProcessVoiceCommand(ctx context.Context, utterance string, metadata map[string]any) (*agent.Workflow, error) {
	intent, err := e.compiler.Compile(ctx, utterance, metadata)
	if err != nil {
		return nil, err
	}

	w, err := e.factory.CreateWorkflow(*intent.Plan)
	if err != nil {
		return nil, err
	}

	e.registerWebhooks(w)
	e.attachThread(w, utterance, intent)

	e.emit(types.TriggerWorkflowStarted, w.ID(), "", map[string]any{
		"intent":     intent.Intent,
		"confidence": intent.Confidence,
		"utterance":  utterance,
	})
	return w, nil
}

// registerWebhooks installs plan-level and agent-level subscriptions.
func (e *Engine) registerWebhooks(w *agent.Workflow) {
	plan := w.Plan()
	subs := plan.Webhooks
	for _, child := range plan.Children {
		subs = append(subs, child.Webhooks...)
	}
	for _, sub := range subs {
		if _, err := e.webhooks.Register(sub); err != nil {
			e.logger.Warn("webhook registration failed",
				zap.String("workflow_id", w.ID()),
				zap.String("url", sub.URL),
				zap.Error(err))
		}
	}
}

// attachThread creates the workflow's working-set thread and records the
// originating utterance.
func (e *Engine) attachThread(w *agent.Workflow, utterance string, intent *types.Intent) {
	thread, err := e.store.CreateThread(map[string]any{
		"workflow_id": w.ID(),
		"intent":      intent.Intent,
	})
	if err != nil {
		e.logger.Warn("workflow thread creation failed",
			zap.String("workflow_id", w.ID()), zap.Error(err))
		return
	}
	if _, err := e.store.AddMessage(thread.ID, types.Message{Role: "user", Content: utterance}); err != nil {
		e.logger.Warn("utterance message failed",
			zap.String("workflow_id", w.ID()), zap.Error(err))
	}
	_ = e.factory.SetWorkflowThread(w.ID(), thread.ID)
}

// ExecuteWorkflow drives the workflow to a terminal state and translates
// the outcome into exactly one workflow.completed or workflow.failed.
func (e *Engine) ExecuteWorkflow(ctx context.Context, w *agent.Workflow) error {
	err := e.coordinator.Execute(ctx, w)

	switch w.State() {
	case types.WorkflowCompleted:
		e.settle(w.ID(), types.TriggerWorkflowCompleted, map[string]any{
			"status": string(types.WorkflowCompleted),
		})
	case types.WorkflowFailed:
		e.settle(w.ID(), types.TriggerWorkflowFailed, map[string]any{
			"reason": w.Err(),
		})
	case types.WorkflowCancelled:
		e.settle(w.ID(), types.TriggerWorkflowFailed, map[string]any{
			"reason": "cancelled",
		})
	}
	return err
}

// Submit compiles and executes an utterance end to end. It is the
// entrypoint used by scheduled commands.
func (e *Engine) Submit(ctx context.Context, utterance string, metadata map[string]any) error {
	w, err := e.ProcessVoiceCommand(ctx, utterance, metadata)
	if err != nil {
		return err
	}
	return e.ExecuteWorkflow(ctx, w)
}

// ExecuteAgent runs one agent inside an existing workflow.
func (e *Engine) ExecuteAgent(ctx context.Context, workflowID string, cfg types.AgentConfig) (any, error) {
	w, err := e.factory.Workflow(workflowID)
	if err != nil {
		return nil, err
	}
	return e.coordinator.ExecuteAgent(ctx, w, cfg)
}

// SpawnChildren pre-materializes every child agent of the workflow.
func (e *Engine) SpawnChildren(workflowID string) ([]*agent.Instance, error) {
	return e.factory.SpawnChildren(workflowID)
}

// CancelWorkflow cancels execution cooperatively. If the workflow was not
// executing, the terminal event is emitted here.
func (e *Engine) CancelWorkflow(workflowID string) error {
	if err := e.coordinator.Cancel(workflowID); err != nil {
		return err
	}
	e.settle(workflowID, types.TriggerWorkflowFailed, map[string]any{"reason": "cancelled"})
	return nil
}

// PauseWorkflow stops scheduling of further levels.
func (e *Engine) PauseWorkflow(workflowID string) error {
	return e.coordinator.Pause(workflowID)
}

// ResumeWorkflow resumes a paused workflow and drives it to a terminal
// state.
func (e *Engine) ResumeWorkflow(ctx context.Context, workflowID string) error {
	w, err := e.factory.Workflow(workflowID)
	if err != nil {
		return err
	}
	resumeErr := e.coordinator.Resume(ctx, w.ID())
	_ = e.ExecuteWorkflowOutcome(w)
	return resumeErr
}

// ExecuteWorkflowOutcome emits the terminal event for an already-settled
// workflow. Exposed for resume, which bypasses ExecuteWorkflow.
func (e *Engine) ExecuteWorkflowOutcome(w *agent.Workflow) error {
	switch w.State() {
	case types.WorkflowCompleted:
		e.settle(w.ID(), types.TriggerWorkflowCompleted, map[string]any{
			"status": string(types.WorkflowCompleted),
		})
	case types.WorkflowFailed:
		e.settle(w.ID(), types.TriggerWorkflowFailed, map[string]any{"reason": w.Err()})
	case types.WorkflowCancelled:
		e.settle(w.ID(), types.TriggerWorkflowFailed, map[string]any{"reason": "cancelled"})
	}
	return nil
}

// Workflow resolves a workflow by id.
func (e *Engine) Workflow(id string) (*agent.Workflow, error) {
	return e.factory.Workflow(id)
}

// Agent resolves an agent by id.
func (e *Engine) Agent(id string) (*agent.Instance, error) {
	return e.factory.Agent(id)
}

// Agents returns every agent of a workflow.
func (e *Engine) Agents(workflowID string) []*agent.Instance {
	return e.factory.WorkflowAgents(workflowID)
}

// Store exposes the working set.
func (e *Engine) Store() *workingset.Store { return e.store }

// Webhooks exposes the webhook manager.
func (e *Engine) Webhooks() *webhook.Manager { return e.webhooks }

// Bus exposes the event bus.
func (e *Engine) Bus() *eventbus.Bus { return e.bus }

// Close drains the bus and closes the store and audit sink.
func (e *Engine) Close() error {
	err := e.bus.Close()
	if cerr := e.store.Close(); err == nil {
		err = cerr
	}
	if aerr := e.audit.Close(); err == nil {
		err = aerr
	}
	return err
}

// settle emits the workflow's terminal event exactly once.
func (e *Engine) settle(workflowID string, trigger types.Trigger, payload map[string]any) {
	e.mu.Lock()
	if e.settled[workflowID] {
		e.mu.Unlock()
		return
	}
	e.settled[workflowID] = true
	e.mu.Unlock()
	e.emit(trigger, workflowID, "", payload)
}

func (e *Engine) emit(trigger types.Trigger, workflowID, agentID string, payload map[string]any) {
	if err := e.bus.Emit(trigger, workflowID, agentID, payload); err != nil {
		// Overflow is non-fatal; the workflow outcome stands.
		e.logger.Warn("event publish failed",
			zap.String("trigger", string(trigger)),
			zap.String("workflow_id", workflowID),
			zap.Error(err))
	}
}

// onAgentCompleted mirrors agent outputs into the working set: an
// agent_output item tagged with the role, linked to the workflow thread,
// plus a conversation message.
func (e *Engine) onAgentCompleted(event types.Event) {
	w, err := e.factory.Workflow(event.WorkflowID)
	if err != nil || w.ThreadID() == "" {
		return
	}
	role, _ := event.Payload["role"].(string)

	item, err := e.store.CreateItem(workingset.ItemSpec{
		Type:    "agent_output",
		Content: event.Payload["output"],
		Tags:    []string{role},
		Metadata: map[string]any{
			"workflow_id": event.WorkflowID,
			"agent_id":    event.AgentID,
		},
	})
	if err != nil {
		e.logger.Warn("agent output item failed",
			zap.String("workflow_id", event.WorkflowID), zap.Error(err))
		return
	}
	_ = e.store.LinkItemToThread(item.ID, w.ThreadID())

	content, _ := event.Payload["output"].(string)
	if content != "" {
		_, _ = e.store.AddMessage(w.ThreadID(), types.Message{Role: role, Content: content})
	}
}

// onWorkflowSettled moves the workflow thread to its terminal status.
func (e *Engine) onWorkflowSettled(event types.Event) {
	w, err := e.factory.Workflow(event.WorkflowID)
	if err != nil || w.ThreadID() == "" {
		return
	}
	status := workingset.ThreadCompleted
	if event.Trigger == types.TriggerWorkflowFailed {
		status = workingset.ThreadFailed
		if reason, _ := event.Payload["reason"].(string); reason == "cancelled" {
			status = workingset.ThreadCancelled
		}
	}
	if _, err := e.store.UpdateThread(w.ThreadID(), workingset.ThreadUpdate{Status: &status}); err != nil {
		e.logger.Warn("thread status update failed",
			zap.String("workflow_id", event.WorkflowID), zap.Error(err))
	}
}
