// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package coordinator schedules workflow DAGs: Kahn levels run in order,
// agents within a level run concurrently under the plan's parallelism
// bound, and failures, timeouts, and cancellation propagate cooperatively.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teradata-labs/cadenza/internal/log"
	"github.com/teradata-labs/cadenza/pkg/agent"
	"github.com/teradata-labs/cadenza/pkg/eventbus"
	"github.com/teradata-labs/cadenza/pkg/gates"
	"github.com/teradata-labs/cadenza/pkg/llm"
	"github.com/teradata-labs/cadenza/pkg/types"
)

// errSiblingFailed cancels in-flight level tasks when one agent fails.
var errSiblingFailed = errors.New("sibling agent failed")

// Coordinator drives workflow execution.
type Coordinator struct {
	factory  *agent.Factory
	provider llm.Provider
	gates    *gates.Engine
	bus      *eventbus.Bus
	logger   *zap.Logger

	mu     sync.Mutex
	active map[string]*execution
}

// execution tracks one in-flight workflow run.
type execution struct {
	cancel context.CancelCauseFunc
	paused bool
}

// Config configures a Coordinator.
type Config struct {
	Factory  *agent.Factory
	Provider llm.Provider
	Gates    *gates.Engine

	// Bus receives agent.* and quality_gate.* events. Nil disables emission.
	Bus *eventbus.Bus

	// Logger defaults to the package-level logger.
	Logger *zap.Logger
}

// New builds a Coordinator.
func New(cfg Config) *Coordinator {
	if cfg.Logger == nil {
		cfg.Logger = log.Logger()
	}
	return &Coordinator{
		factory:  cfg.Factory,
		provider: cfg.Provider,
		gates:    cfg.Gates,
		bus:      cfg.Bus,
		logger:   cfg.Logger,
		active:   make(map[string]*execution),
	}
}

// Execute runs the workflow's DAG to completion. It blocks until the
// workflow reaches a terminal state or pauses. Completed agents are
// skipped, so Resume re-enters here safely.
func (c *Coordinator) Execute(ctx context.Context, w *agent.Workflow) error {
	plan := w.Plan()
	levels, err := plan.ExecutionLevels()
	if err != nil {
		c.failWorkflow(w, err)
		return err
	}

	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	var timeoutCancel context.CancelFunc
	if plan.TimeoutSeconds > 0 {
		runCtx, timeoutCancel = context.WithTimeout(runCtx, time.Duration(plan.TimeoutSeconds)*time.Second)
		defer timeoutCancel()
	}

	exec := &execution{cancel: cancel}
	c.mu.Lock()
	c.active[w.ID()] = exec
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.active, w.ID())
		c.mu.Unlock()
	}()

	if w.State() == types.WorkflowCreating {
		if err := c.factory.TransitionWorkflow(w.ID(), types.WorkflowRunning); err != nil {
			return err
		}
	}

	sem := make(chan struct{}, plan.MaxParallel)

	for levelIdx, level := range levels {
		if c.isPaused(w.ID()) {
			c.logger.Info("workflow paused, halting before level",
				zap.String("workflow_id", w.ID()),
				zap.Int("level", levelIdx))
			return nil
		}
		if runCtx.Err() != nil {
			return c.settleCancelled(w, runCtx)
		}

		c.logger.Debug("launching level",
			zap.String("workflow_id", w.ID()),
			zap.Int("level", levelIdx),
			zap.Strings("roles", level))

		var wg sync.WaitGroup
		errs := make([]error, len(level))
		for i, role := range level {
			cfg := plan.Child(role)
			if cfg == nil {
				return types.E(types.KindInvalidPlan, "level references unknown role %s", role)
			}
			wg.Add(1)
			go func(i int, cfg types.AgentConfig) {
				defer wg.Done()
				if err := c.runAgent(runCtx, w, cfg, sem); err != nil {
					errs[i] = err
					cancel(errSiblingFailed)
				}
			}(i, *cfg)
		}
		wg.Wait()

		if err := firstRealFailure(errs); err != nil {
			if types.IsKind(err, types.KindCancelled) && context.Cause(runCtx) != errSiblingFailed {
				return c.settleCancelled(w, runCtx)
			}
			c.failWorkflow(w, err)
			return err
		}
		if runCtx.Err() != nil {
			return c.settleCancelled(w, runCtx)
		}
	}

	if w.State() == types.WorkflowRunning {
		if err := c.factory.TransitionWorkflow(w.ID(), types.WorkflowCompleted); err != nil {
			return err
		}
	}
	return nil
}

// firstRealFailure prefers a concrete agent failure over cancellation noise
// from siblings that were torn down after the first failure.
func firstRealFailure(errs []error) error {
	var cancelled error
	for _, err := range errs {
		if err == nil {
			continue
		}
		if types.IsKind(err, types.KindCancelled) {
			if cancelled == nil {
				cancelled = err
			}
			continue
		}
		return err
	}
	return cancelled
}

// ExecuteAgent runs a single agent with gate application, outside of any
// level structure. Used for one-off and synthetic tasks.
func (c *Coordinator) ExecuteAgent(ctx context.Context, w *agent.Workflow, cfg types.AgentConfig) (any, error) {
	sem := make(chan struct{}, 1)
	if err := c.runAgent(ctx, w, cfg, sem); err != nil {
		return nil, err
	}
	a, err := c.factory.AgentByRole(w.ID(), cfg.Role)
	if err != nil {
		return nil, err
	}
	return a.Output(), nil
}

// runAgent drives one agent task through its lifecycle. The semaphore
// bounds simultaneously running agents; a task that cannot get a slot
// parks in waiting until one frees or the workflow is torn down.
func (c *Coordinator) runAgent(ctx context.Context, w *agent.Workflow, cfg types.AgentConfig, sem chan struct{}) error {
	a, err := c.factory.SpawnChild(w.ID(), cfg)
	if err != nil {
		return err
	}
	if a.State() == types.AgentCompleted {
		// Already ran in a previous pass (resume).
		return nil
	}

	// Acquire a parallelism slot, parking in waiting if none is free.
	select {
	case sem <- struct{}{}:
	default:
		if err := c.factory.TransitionAgent(a.ID(), types.AgentWaiting); err != nil {
			return err
		}
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			_ = c.factory.TransitionAgent(a.ID(), types.AgentCancelled)
			return types.Wrap(types.KindCancelled, context.Cause(ctx), "agent %s cancelled while waiting", cfg.Role)
		}
	}
	defer func() { <-sem }()

	if err := c.factory.TransitionAgent(a.ID(), types.AgentRunning); err != nil {
		return err
	}
	c.emit(types.TriggerAgentStarted, w.ID(), a.ID(), map[string]any{"role": cfg.Role})

	output, err := c.invoke(ctx, w, a, cfg)
	if err == nil {
		output, err = c.applyGates(ctx, w, a, cfg, output)
	}
	if err != nil {
		if types.IsKind(err, types.KindCancelled) {
			_ = c.factory.TransitionAgent(a.ID(), types.AgentCancelled)
			return err
		}
		_ = c.factory.SetAgentError(a.ID(), err.Error())
		_ = c.factory.TransitionAgent(a.ID(), types.AgentFailed)
		c.emit(types.TriggerAgentFailed, w.ID(), a.ID(), map[string]any{
			"role":  cfg.Role,
			"error": err.Error(),
		})
		return err
	}

	if err := c.factory.SetAgentOutput(a.ID(), output); err != nil {
		return err
	}
	if err := c.factory.TransitionAgent(a.ID(), types.AgentCompleted); err != nil {
		return err
	}
	c.emit(types.TriggerAgentCompleted, w.ID(), a.ID(), map[string]any{
		"role":   cfg.Role,
		"output": output,
	})
	return nil
}

// invoke performs the LLM call for one agent.
func (c *Coordinator) invoke(ctx context.Context, w *agent.Workflow, a *agent.Instance, cfg types.AgentConfig) (any, error) {
	prompt, err := c.buildPrompt(w, cfg)
	if err != nil {
		return nil, err
	}

	req := llm.Request{
		System: cfg.SystemPrompt,
		Prompt: prompt,
		Model:  cfg.Model,
	}
	resp, err := c.provider.Run(ctx, req)
	if ctx.Err() != nil {
		return nil, types.Wrap(types.KindCancelled, context.Cause(ctx), "agent %s aborted", cfg.Role)
	}
	if err != nil {
		return nil, types.Wrap(types.KindAgentError, err, "agent %s", cfg.Role)
	}
	if strings.TrimSpace(resp.Content) == "" {
		return nil, types.E(types.KindAgentError, "agent %s produced no output", cfg.Role)
	}
	llm.BackfillUsage(req, resp)
	_ = c.factory.AddAgentUsage(a.ID(), resp.Usage)
	return resp.Content, nil
}

// buildPrompt assembles the task prompt: dependency outputs in declaration
// order, then workflow metadata. Dependency outputs are read once, here,
// from the factory-owned instances; leveling guarantees they are terminal.
func (c *Coordinator) buildPrompt(w *agent.Workflow, cfg types.AgentConfig) (string, error) {
	var b strings.Builder
	b.WriteString("Execute your task.")

	for _, dep := range cfg.DependsOn {
		depAgent, err := c.factory.AgentByRole(w.ID(), dep)
		if err != nil {
			return "", types.E(types.KindInvalidPlan, "agent %s depends on unscheduled role %s", cfg.Role, dep)
		}
		fmt.Fprintf(&b, "\n\nOutput from %s:\n%s", dep, stringifyOutput(depAgent.Output()))
	}

	if meta := w.Plan().Metadata; len(meta) > 0 {
		b.WriteString("\n\nWorkflow context:")
		for _, k := range sortedKeys(meta) {
			fmt.Fprintf(&b, "\n- %s: %v", k, meta[k])
		}
	}
	return b.String(), nil
}

// applyGates runs the agent's quality gates in declaration order. A gate
// failure after retries either escalates or fails the agent.
func (c *Coordinator) applyGates(ctx context.Context, w *agent.Workflow, a *agent.Instance, cfg types.AgentConfig, output any) (any, error) {
	if c.gates == nil {
		return output, nil
	}

	for _, gate := range cfg.QualityGates {
		retry := c.retryFn(ctx, w, a, cfg)
		result := c.gates.ValidateWithRetry(ctx, gate, a.ID(), output, retry)

		trigger := types.TriggerGatePassed
		if !result.Passed {
			trigger = types.TriggerGateFailed
		}
		c.emit(trigger, w.ID(), a.ID(), map[string]any{
			"gate_id":         result.GateID,
			"passed":          result.Passed,
			"retry_attempted": result.RetryAttempted,
			"error":           result.Error,
		})

		if result.Passed {
			output = result.Output
			continue
		}
		if ctx.Err() != nil {
			return nil, types.Wrap(types.KindCancelled, context.Cause(ctx), "agent %s aborted during gates", cfg.Role)
		}

		if gate.EscalateOnFail && gate.EscalationTarget != "" {
			// The failing agent parks in waiting while the recovery task
			// runs, keeping the running set within the plan's parallel bound.
			parked := c.factory.TransitionAgent(a.ID(), types.AgentWaiting) == nil
			escalated, err := c.escalate(ctx, w, gate, cfg, result)
			if parked {
				_ = c.factory.TransitionAgent(a.ID(), types.AgentRunning)
			}
			if err != nil {
				return nil, err
			}
			output = escalated
			continue
		}
		if result.Error != "" {
			return nil, types.E(types.KindGateFailed, "gate %s errored for agent %s: %s", gate.GateID, cfg.Role, result.Error)
		}
		return nil, types.E(types.KindGateFailed, "gate %s rejected output of agent %s", gate.GateID, cfg.Role)
	}
	return output, nil
}

// retryFn re-executes the agent for gate retries, parking it in waiting
// between attempts and counting each re-execution.
func (c *Coordinator) retryFn(ctx context.Context, w *agent.Workflow, a *agent.Instance, cfg types.AgentConfig) gates.RetryFn {
	return func(ctx context.Context) (any, error) {
		if _, err := c.factory.IncrementRetry(a.ID()); err != nil {
			return nil, err
		}
		if err := c.factory.TransitionAgent(a.ID(), types.AgentWaiting); err == nil {
			_ = c.factory.TransitionAgent(a.ID(), types.AgentRunning)
		}
		return c.invoke(ctx, w, a, cfg)
	}
}

// escalate runs the gate's escalation target as a synthetic recovery task
// in the same workflow, handing it the rejected output.
func (c *Coordinator) escalate(ctx context.Context, w *agent.Workflow, gate types.QualityGate, failed types.AgentConfig, result types.GateResult) (any, error) {
	plan := w.Plan()
	target := plan.Child(gate.EscalationTarget)
	if target == nil {
		return nil, types.E(types.KindEscalationFailed,
			"gate %s: escalation target %s is not a workflow role", gate.GateID, gate.EscalationTarget)
	}

	synthetic := *target
	synthetic.Role = fmt.Sprintf("%s_escalation_%s", target.Role, failed.Role)
	synthetic.DependsOn = nil
	synthetic.QualityGates = nil

	c.logger.Warn("escalating gate failure",
		zap.String("workflow_id", w.ID()),
		zap.String("gate_id", gate.GateID),
		zap.String("failed_role", failed.Role),
		zap.String("target_role", target.Role))

	escAgent, err := c.factory.SpawnChild(w.ID(), synthetic)
	if err != nil {
		return nil, types.Wrap(types.KindEscalationFailed, err, "gate %s escalation", gate.GateID)
	}
	if err := c.factory.TransitionAgent(escAgent.ID(), types.AgentRunning); err != nil {
		return nil, types.Wrap(types.KindEscalationFailed, err, "gate %s escalation", gate.GateID)
	}

	prompt := fmt.Sprintf(
		"A quality gate rejected the output of agent %q. Repair or redo the work.\n\nRejected output:\n%s",
		failed.Role, stringifyOutput(result.Output))
	req := llm.Request{
		System: synthetic.SystemPrompt,
		Prompt: prompt,
		Model:  synthetic.Model,
	}
	resp, err := c.provider.Run(ctx, req)
	if err != nil || strings.TrimSpace(respContent(resp)) == "" {
		_ = c.factory.TransitionAgent(escAgent.ID(), types.AgentFailed)
		if err == nil {
			err = errors.New("empty escalation output")
		}
		_ = c.factory.SetAgentError(escAgent.ID(), err.Error())
		return nil, types.Wrap(types.KindEscalationFailed, err, "gate %s escalation to %s", gate.GateID, target.Role)
	}

	llm.BackfillUsage(req, resp)
	_ = c.factory.AddAgentUsage(escAgent.ID(), resp.Usage)
	_ = c.factory.SetAgentOutput(escAgent.ID(), resp.Content)
	_ = c.factory.TransitionAgent(escAgent.ID(), types.AgentCompleted)
	return resp.Content, nil
}

// Cancel cancels a workflow cooperatively: the run context is torn down and
// the workflow transitions to cancelled.
func (c *Coordinator) Cancel(workflowID string) error {
	c.mu.Lock()
	exec := c.active[workflowID]
	c.mu.Unlock()
	if exec != nil {
		exec.cancel(types.E(types.KindCancelled, "workflow %s cancelled", workflowID))
	}

	w, err := c.factory.Workflow(workflowID)
	if err != nil {
		return err
	}
	if w.State().Terminal() {
		return nil
	}
	return c.factory.TransitionWorkflow(workflowID, types.WorkflowCancelled)
}

// Pause stops scheduling of further levels. Already-running tasks finish.
func (c *Coordinator) Pause(workflowID string) error {
	if err := c.factory.TransitionWorkflow(workflowID, types.WorkflowPaused); err != nil {
		return err
	}
	c.mu.Lock()
	if exec := c.active[workflowID]; exec != nil {
		exec.paused = true
	}
	c.mu.Unlock()
	return nil
}

// Resume re-enters execution from the current level. Completed agents are
// not re-run.
func (c *Coordinator) Resume(ctx context.Context, workflowID string) error {
	if err := c.factory.TransitionWorkflow(workflowID, types.WorkflowRunning); err != nil {
		return err
	}
	w, err := c.factory.Workflow(workflowID)
	if err != nil {
		return err
	}
	return c.Execute(ctx, w)
}

func (c *Coordinator) isPaused(workflowID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if exec := c.active[workflowID]; exec != nil {
		return exec.paused
	}
	return false
}

// settleCancelled marks the workflow cancelled after its run context died,
// cancelling agents still parked in waiting.
func (c *Coordinator) settleCancelled(w *agent.Workflow, ctx context.Context) error {
	cause := context.Cause(ctx)
	for _, a := range c.factory.WorkflowAgents(w.ID()) {
		if a.State() == types.AgentWaiting {
			_ = c.factory.TransitionAgent(a.ID(), types.AgentCancelled)
		}
	}
	if !w.State().Terminal() {
		_ = c.factory.SetWorkflowError(w.ID(), "cancelled")
		_ = c.factory.TransitionWorkflow(w.ID(), types.WorkflowCancelled)
	}
	if types.IsKind(cause, types.KindCancelled) {
		return cause
	}
	return types.Wrap(types.KindCancelled, cause, "workflow %s cancelled", w.ID())
}

// failWorkflow records a failure and moves the workflow to failed.
func (c *Coordinator) failWorkflow(w *agent.Workflow, cause error) {
	_ = c.factory.SetWorkflowError(w.ID(), cause.Error())
	if !w.State().Terminal() {
		_ = c.factory.TransitionWorkflow(w.ID(), types.WorkflowFailed)
	}
	c.logger.Error("workflow failed",
		zap.String("workflow_id", w.ID()),
		zap.Error(cause))
}

func (c *Coordinator) emit(trigger types.Trigger, workflowID, agentID string, payload map[string]any) {
	if c.bus == nil {
		return
	}
	if err := c.bus.Emit(trigger, workflowID, agentID, payload); err != nil {
		c.logger.Warn("event publish failed",
			zap.String("trigger", string(trigger)),
			zap.String("workflow_id", workflowID),
			zap.Error(err))
	}
}

func stringifyOutput(output any) string {
	if output == nil {
		return "(none)"
	}
	if s, ok := output.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", output)
}

func respContent(resp *llm.Response) string {
	if resp == nil {
		return ""
	}
	return resp.Content
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
