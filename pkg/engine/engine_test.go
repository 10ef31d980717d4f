// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package engine

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teradata-labs/cadenza/pkg/llm"
	"github.com/teradata-labs/cadenza/pkg/types"
	"github.com/teradata-labs/cadenza/pkg/workingset"
)

// scriptedProvider fails compilation requests and answers agent requests
// from a per-system script, so the rule path compiles and agents run.
type scriptedProvider struct {
	mu      sync.Mutex
	replies map[string][]string // system prompt -> successive replies
	calls   map[string]int
	delay   time.Duration
}

func newScriptedProvider() *scriptedProvider {
	return &scriptedProvider{replies: make(map[string][]string), calls: make(map[string]int)}
}

func (p *scriptedProvider) Run(ctx context.Context, req llm.Request) (*llm.Response, error) {
	if req.JSONMode {
		// Compiler path: simulate an unreachable model.
		return nil, errors.New("model unreachable")
	}

	p.mu.Lock()
	n := p.calls[req.System]
	p.calls[req.System] = n + 1
	delay := p.delay
	p.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if script, ok := p.replies[req.System]; ok {
		if n >= len(script) {
			n = len(script) - 1
		}
		return &llm.Response{Content: script[n]}, nil
	}
	return &llm.Response{Content: "done"}, nil
}

func (p *scriptedProvider) Name() string { return "scripted" }

// eventRecorder captures bus events in observation order.
type eventRecorder struct {
	mu     sync.Mutex
	events []types.Event
}

func (r *eventRecorder) handle(e types.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *eventRecorder) byTrigger(trigger types.Trigger) []types.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []types.Event
	for _, e := range r.events {
		if e.Trigger == trigger {
			out = append(out, e)
		}
	}
	return out
}

func newTestEngine(t *testing.T, p llm.Provider) (*Engine, *eventRecorder) {
	t.Helper()
	e, err := New(Config{Provider: p})
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })

	rec := &eventRecorder{}
	for _, trigger := range types.Triggers() {
		require.NoError(t, e.Bus().Subscribe(trigger, rec.handle))
	}
	return e, rec
}

// drain closes nothing but waits for the bus worker to catch up.
func drain(e *Engine) {
	done := make(chan struct{})
	_ = e.Bus().Subscribe(types.TriggerMetricThreshold, func(ev types.Event) {
		if ev.WorkflowID == "drain" {
			select {
			case done <- struct{}{}:
			default:
			}
		}
	})
	_ = e.Bus().Emit(types.TriggerMetricThreshold, "drain", "", nil)
	select {
	case <-done:
	case <-time.After(3 * time.Second):
	}
}

func TestTrivialCodeIntentEndToEnd(t *testing.T) {
	p := newScriptedProvider()
	e, rec := newTestEngine(t, p)

	w, err := e.ProcessVoiceCommand(context.Background(), "write a function to add two numbers", nil)
	require.NoError(t, err)

	// Rule path compiled the two-node code -> test DAG.
	plan := w.Plan()
	require.Len(t, plan.Children, 2)
	assert.Equal(t, "code", plan.Children[0].Role)
	assert.Equal(t, "test", plan.Children[1].Role)
	assert.Equal(t, []string{"code"}, plan.Children[1].DependsOn)

	require.NoError(t, e.ExecuteWorkflow(context.Background(), w))
	assert.Equal(t, types.WorkflowCompleted, w.State())
	drain(e)

	assert.Len(t, rec.byTrigger(types.TriggerAgentCompleted), 2)
	assert.Len(t, rec.byTrigger(types.TriggerWorkflowCompleted), 1)
	assert.Empty(t, rec.byTrigger(types.TriggerWorkflowFailed))
}

func TestCyclicPlanInjected(t *testing.T) {
	p := newScriptedProvider()
	e, rec := newTestEngine(t, p)

	w, err := e.factory.CreateWorkflow(types.Plan{
		ParentRole: "orchestrator",
		Children: []types.AgentConfig{
			{Role: "a", DependsOn: []string{"b"}},
			{Role: "b", DependsOn: []string{"a"}},
		},
		MaxParallel:    2,
		TimeoutSeconds: 300,
	})
	require.NoError(t, err)

	err = e.ExecuteWorkflow(context.Background(), w)
	assert.True(t, types.IsKind(err, types.KindInvalidPlan))
	assert.Equal(t, types.WorkflowFailed, w.State())
	drain(e)

	assert.Empty(t, rec.byTrigger(types.TriggerAgentStarted))
	assert.Empty(t, rec.byTrigger(types.TriggerAgentCompleted))
	assert.Len(t, rec.byTrigger(types.TriggerWorkflowFailed), 1)
}

func TestGateRetrySuccess(t *testing.T) {
	p := newScriptedProvider()
	p.replies["answer"] = []string{"maybe", "yes"}
	e, rec := newTestEngine(t, p)

	w, err := e.factory.CreateWorkflow(types.Plan{
		ParentRole: "orchestrator",
		Children: []types.AgentConfig{{
			Role:         "answer",
			SystemPrompt: "answer",
			QualityGates: []types.QualityGate{{
				GateID:      "g1",
				Kind:        types.GateRegex,
				Config:      map[string]any{"pattern": "yes", "match_type": "fullmatch"},
				RetryOnFail: true,
				MaxRetries:  2,
			}},
		}},
		MaxParallel:    1,
		TimeoutSeconds: 300,
	})
	require.NoError(t, err)

	require.NoError(t, e.ExecuteWorkflow(context.Background(), w))
	assert.Equal(t, types.WorkflowCompleted, w.State())
	drain(e)

	assert.Equal(t, 2, p.calls["answer"])

	passed := rec.byTrigger(types.TriggerGatePassed)
	require.Len(t, passed, 1)
	assert.Equal(t, true, passed[0].Payload["retry_attempted"])
}

func TestWebhookSignatureEndToEnd(t *testing.T) {
	type captured struct {
		body []byte
		sig  string
	}
	got := make(chan captured, 8)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		got <- captured{body: body, sig: r.Header.Get("X-Webhook-Signature")}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := newScriptedProvider()
	e, _ := newTestEngine(t, p)
	_, err := e.Webhooks().Register(types.WebhookSubscription{
		URL:    srv.URL,
		Events: []types.Trigger{types.TriggerAgentCompleted},
		Secret: "k",
		Active: true,
	})
	require.NoError(t, err)

	w, err := e.factory.CreateWorkflow(types.Plan{
		ParentRole:     "orchestrator",
		Children:       []types.AgentConfig{{Role: "solo", SystemPrompt: "solo"}},
		MaxParallel:    1,
		TimeoutSeconds: 300,
	})
	require.NoError(t, err)
	require.NoError(t, e.ExecuteWorkflow(context.Background(), w))

	select {
	case c := <-got:
		mac := hmac.New(sha256.New, []byte("k"))
		mac.Write(c.body)
		assert.Equal(t, "sha256="+hex.EncodeToString(mac.Sum(nil)), c.sig)

		var doc map[string]any
		require.NoError(t, json.Unmarshal(c.body, &doc))
		assert.Equal(t, "agent.completed", doc["event"])
		assert.NotEmpty(t, doc["timestamp"])
		data, ok := doc["data"].(map[string]any)
		require.True(t, ok)
		assert.Equal(t, "solo", data["role"])
	case <-time.After(3 * time.Second):
		t.Fatal("webhook never delivered")
	}
}

func TestStoreSearchScenario(t *testing.T) {
	p := newScriptedProvider()
	e, _ := newTestEngine(t, p)

	t1, err := e.Store().CreateThread(map[string]any{"env": "prod"})
	require.NoError(t, err)
	_, err = e.Store().CreateThread(map[string]any{"env": "dev"})
	require.NoError(t, err)

	got := e.Store().SearchThreads(workingset.ThreadQuery{
		Status:   workingset.ThreadActive,
		Metadata: map[string]any{"env": "prod"},
	})
	require.Len(t, got, 1)
	assert.Equal(t, t1.ID, got[0].ID)
}

func TestCancelDuringLevel(t *testing.T) {
	p := newScriptedProvider()
	p.delay = 5 * time.Second
	e, rec := newTestEngine(t, p)

	w, err := e.factory.CreateWorkflow(types.Plan{
		ParentRole: "orchestrator",
		Children: []types.AgentConfig{
			{Role: "n1", SystemPrompt: "n1"},
			{Role: "n2", SystemPrompt: "n2"},
			{Role: "n3", SystemPrompt: "n3"},
		},
		MaxParallel:    3,
		TimeoutSeconds: 300,
	})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- e.ExecuteWorkflow(context.Background(), w) }()

	require.Eventually(t, func() bool {
		p.mu.Lock()
		defer p.mu.Unlock()
		return len(p.calls) == 3
	}, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, e.CancelWorkflow(w.ID()))

	select {
	case err := <-done:
		assert.True(t, types.IsKind(err, types.KindCancelled))
	case <-time.After(4 * time.Second):
		t.Fatal("execution did not stop after cancel")
	}
	assert.Equal(t, types.WorkflowCancelled, w.State())

	// No agent may be left running.
	for _, a := range e.factory.WorkflowAgents(w.ID()) {
		assert.NotEqual(t, types.AgentRunning, a.State(), a.Role())
	}
	drain(e)

	// Exactly one terminal workflow event, reason cancelled.
	failed := rec.byTrigger(types.TriggerWorkflowFailed)
	require.Len(t, failed, 1)
	assert.Equal(t, "cancelled", failed[0].Payload["reason"])
	assert.Empty(t, rec.byTrigger(types.TriggerWorkflowCompleted))
}

func TestWorkflowThreadSideEffects(t *testing.T) {
	p := newScriptedProvider()
	e, _ := newTestEngine(t, p)

	w, err := e.ProcessVoiceCommand(context.Background(), "research competitor pricing", nil)
	require.NoError(t, err)
	require.NotEmpty(t, w.ThreadID())

	require.NoError(t, e.ExecuteWorkflow(context.Background(), w))
	drain(e)

	thread, err := e.Store().GetThread(w.ThreadID())
	require.NoError(t, err)
	assert.Equal(t, workingset.ThreadCompleted, thread.Status)
	assert.Equal(t, w.ID(), thread.Metadata["workflow_id"])

	// The utterance plus one message per completed agent.
	require.NotEmpty(t, thread.Messages)
	assert.Equal(t, "research competitor pricing", thread.Messages[0].Content)

	// Agent output mirrored as a linked item.
	items := e.Store().SearchItems(workingset.ItemQuery{Type: "agent_output"})
	require.NotEmpty(t, items)
	assert.Contains(t, thread.Items, items[0].ID)
}

func TestSpawnChildrenAndExecuteAgent(t *testing.T) {
	p := newScriptedProvider()
	p.replies["solo"] = []string{"solo output"}
	e, _ := newTestEngine(t, p)

	w, err := e.factory.CreateWorkflow(types.Plan{
		ParentRole: "orchestrator",
		Children: []types.AgentConfig{
			{Role: "a", SystemPrompt: "a"},
			{Role: "b", SystemPrompt: "b"},
		},
		MaxParallel:    2,
		TimeoutSeconds: 300,
	})
	require.NoError(t, err)

	children, err := e.SpawnChildren(w.ID())
	require.NoError(t, err)
	assert.Len(t, children, 2)

	require.NoError(t, e.factory.TransitionWorkflow(w.ID(), types.WorkflowRunning))
	out, err := e.ExecuteAgent(context.Background(), w.ID(), types.AgentConfig{Role: "solo", SystemPrompt: "solo"})
	require.NoError(t, err)
	assert.Equal(t, "solo output", out)
}

func TestPauseResumeThroughEngine(t *testing.T) {
	p := newScriptedProvider()
	e, rec := newTestEngine(t, p)

	w, err := e.factory.CreateWorkflow(types.Plan{
		ParentRole: "orchestrator",
		Children: []types.AgentConfig{
			{Role: "first", SystemPrompt: "first"},
			{Role: "second", SystemPrompt: "second", DependsOn: []string{"first"}},
		},
		MaxParallel:    1,
		TimeoutSeconds: 300,
	})
	require.NoError(t, err)

	p.delay = 100 * time.Millisecond
	done := make(chan error, 1)
	go func() { done <- e.ExecuteWorkflow(context.Background(), w) }()

	require.Eventually(t, func() bool {
		p.mu.Lock()
		defer p.mu.Unlock()
		return p.calls["first"] > 0
	}, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, e.PauseWorkflow(w.ID()))
	require.NoError(t, <-done)
	assert.Equal(t, types.WorkflowPaused, w.State())

	p.delay = 0
	require.NoError(t, e.ResumeWorkflow(context.Background(), w.ID()))
	assert.Equal(t, types.WorkflowCompleted, w.State())
	drain(e)
	assert.Len(t, rec.byTrigger(types.TriggerWorkflowCompleted), 1)
}
