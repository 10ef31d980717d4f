// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package eventbus

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teradata-labs/cadenza/pkg/types"
)

func TestPublishDelivers(t *testing.T) {
	b := New(Config{})
	defer b.Close()

	got := make(chan types.Event, 1)
	require.NoError(t, b.Subscribe(types.TriggerWorkflowStarted, func(e types.Event) {
		got <- e
	}))

	require.NoError(t, b.Emit(types.TriggerWorkflowStarted, "wf_1", "", map[string]any{"k": "v"}))

	select {
	case e := <-got:
		assert.Equal(t, types.TriggerWorkflowStarted, e.Trigger)
		assert.Equal(t, "wf_1", e.WorkflowID)
		assert.NotEmpty(t, e.EventID)
		assert.False(t, e.Timestamp.IsZero())
	case <-time.After(2 * time.Second):
		t.Fatal("event not delivered")
	}
}

func TestFIFOPerHandler(t *testing.T) {
	b := New(Config{})

	var mu sync.Mutex
	var order []string
	require.NoError(t, b.Subscribe(types.TriggerAgentCompleted, func(e types.Event) {
		mu.Lock()
		order = append(order, e.AgentID)
		mu.Unlock()
	}))

	for _, id := range []string{"a1", "a2", "a3", "a4", "a5"} {
		require.NoError(t, b.Emit(types.TriggerAgentCompleted, "wf_1", id, nil))
	}
	require.NoError(t, b.Close())

	assert.Equal(t, []string{"a1", "a2", "a3", "a4", "a5"}, order)
}

func TestHandlersFanOutPerEvent(t *testing.T) {
	b := New(Config{})

	// Two handlers that each block until the other has started prove
	// sibling handlers run concurrently, not sequentially.
	barrier := make(chan struct{}, 2)
	proceed := make(chan struct{})
	handler := func(types.Event) {
		barrier <- struct{}{}
		<-proceed
	}
	require.NoError(t, b.Subscribe(types.TriggerWorkflowCompleted, handler))
	require.NoError(t, b.Subscribe(types.TriggerWorkflowCompleted, handler))

	require.NoError(t, b.Emit(types.TriggerWorkflowCompleted, "wf_1", "", nil))

	for i := 0; i < 2; i++ {
		select {
		case <-barrier:
		case <-time.After(2 * time.Second):
			t.Fatal("handlers did not run concurrently")
		}
	}
	close(proceed)
	require.NoError(t, b.Close())
}

func TestPublishOverflow(t *testing.T) {
	b := New(Config{QueueSize: 1})
	// No subscribers and a blocked worker are not needed: with the worker
	// racing, fill until a publish reports overflow.
	var overflowed bool
	block := make(chan struct{})
	require.NoError(t, b.Subscribe(types.TriggerErrorOccurred, func(types.Event) { <-block }))

	for i := 0; i < 64; i++ {
		if err := b.Emit(types.TriggerErrorOccurred, "wf_1", "", nil); err != nil {
			assert.True(t, types.IsKind(err, types.KindBusOverflow))
			overflowed = true
			break
		}
	}
	assert.True(t, overflowed)

	close(block)
	require.NoError(t, b.Close())
}

func TestHandlerPanicIsolated(t *testing.T) {
	b := New(Config{})

	require.NoError(t, b.Subscribe(types.TriggerAgentFailed, func(types.Event) {
		panic("boom")
	}))
	got := make(chan struct{}, 2)
	require.NoError(t, b.Subscribe(types.TriggerAgentFailed, func(types.Event) {
		got <- struct{}{}
	}))

	require.NoError(t, b.Emit(types.TriggerAgentFailed, "wf_1", "a1", nil))
	require.NoError(t, b.Emit(types.TriggerAgentFailed, "wf_1", "a2", nil))

	// The sibling handler sees both events despite the panicking one.
	for i := 0; i < 2; i++ {
		select {
		case <-got:
		case <-time.After(2 * time.Second):
			t.Fatal("worker stopped after handler panic")
		}
	}
	require.NoError(t, b.Close())
}

func TestSubscribeUnknownTrigger(t *testing.T) {
	b := New(Config{})
	defer b.Close()

	err := b.Subscribe(types.Trigger("no.such.trigger"), func(types.Event) {})
	assert.True(t, types.IsKind(err, types.KindValidationError))

	err = b.Publish(types.Event{Trigger: "no.such.trigger"})
	assert.True(t, types.IsKind(err, types.KindValidationError))
}

func TestPublishAfterClose(t *testing.T) {
	b := New(Config{})
	require.NoError(t, b.Close())
	err := b.Emit(types.TriggerWorkflowStarted, "wf_1", "", nil)
	assert.True(t, types.IsKind(err, types.KindBusOverflow))
}
