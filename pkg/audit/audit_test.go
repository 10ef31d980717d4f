// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package audit

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teradata-labs/cadenza/pkg/types"
)

func TestSQLiteSinkRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.db")
	sink, err := NewSQLiteSink(path)
	require.NoError(t, err)
	defer sink.Close()

	now := time.Now().UTC().Truncate(time.Second)
	events := []types.Event{
		{EventID: "evt_1", Trigger: types.TriggerWorkflowStarted, WorkflowID: "wf_1", Timestamp: now},
		{EventID: "evt_2", Trigger: types.TriggerAgentCompleted, WorkflowID: "wf_1", AgentID: "agent_1",
			Payload: map[string]any{"role": "code"}, Timestamp: now.Add(time.Second)},
		{EventID: "evt_3", Trigger: types.TriggerWorkflowStarted, WorkflowID: "wf_2", Timestamp: now},
	}
	for _, e := range events {
		require.NoError(t, sink.Record(e))
	}

	trail, err := sink.Workflow("wf_1")
	require.NoError(t, err)
	require.Len(t, trail, 2)
	assert.Equal(t, "evt_1", trail[0].EventID)
	assert.Equal(t, types.TriggerWorkflowStarted, trail[0].Trigger)
	assert.Equal(t, "evt_2", trail[1].EventID)
	assert.Equal(t, "agent_1", trail[1].AgentID)
	assert.Contains(t, trail[1].Payload, `"role":"code"`)

	empty, err := sink.Workflow("wf_missing")
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestNopSink(t *testing.T) {
	var s Sink = NopSink{}
	assert.NoError(t, s.Record(types.Event{}))
	assert.NoError(t, s.Close())
}
