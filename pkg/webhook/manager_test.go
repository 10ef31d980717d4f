// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teradata-labs/cadenza/pkg/types"
)

func newTestManager() *Manager {
	return New(Config{Sleep: func(context.Context, time.Duration) {}})
}

func testEvent() types.Event {
	return types.Event{
		EventID:    "evt_1",
		Trigger:    types.TriggerWorkflowCompleted,
		WorkflowID: "wf_1",
		Payload:    map[string]any{"status": "completed"},
		Timestamp:  time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC),
	}
}

func TestRegisterValidation(t *testing.T) {
	m := newTestManager()

	_, err := m.Register(types.WebhookSubscription{})
	assert.True(t, types.IsKind(err, types.KindValidationError))

	_, err = m.Register(types.WebhookSubscription{URL: "http://x", Events: []types.Trigger{"bogus"}})
	assert.True(t, types.IsKind(err, types.KindValidationError))

	sub, err := m.Register(types.WebhookSubscription{URL: "http://x", Events: []types.Trigger{types.TriggerWorkflowCompleted}, Active: true})
	require.NoError(t, err)
	assert.NotEmpty(t, sub.ID)

	got, err := m.Get(sub.ID)
	require.NoError(t, err)
	assert.Equal(t, sub.URL, got.URL)

	require.NoError(t, m.Unregister(sub.ID))
	_, err = m.Get(sub.ID)
	assert.Error(t, err)
}

func TestDeliverSignsBody(t *testing.T) {
	var gotSig string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSig = r.Header.Get(SignatureHeader)
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	m := newTestManager()
	sub := types.WebhookSubscription{ID: "wh_1", URL: srv.URL, Secret: "s3cret", Active: true}

	rec := m.Deliver(context.Background(), sub, testEvent())
	assert.Equal(t, DeliverySuccess, rec.Status)
	assert.Equal(t, 1, rec.Attempts)

	// Signature verifies against the exact body bytes.
	mac := hmac.New(sha256.New, []byte("s3cret"))
	mac.Write(gotBody)
	assert.Equal(t, "sha256="+hex.EncodeToString(mac.Sum(nil)), gotSig)

	// Canonical payload shape.
	var doc map[string]any
	require.NoError(t, json.Unmarshal(gotBody, &doc))
	assert.Equal(t, "workflow.completed", doc["event"])
	assert.Equal(t, "2026-08-24T12:00:00Z", doc["timestamp"])
	data, ok := doc["data"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "completed", data["status"])
}

func TestDeliverNoSecretNoHeader(t *testing.T) {
	var hasSig bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, hasSig = r.Header[SignatureHeader]
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	m := newTestManager()
	rec := m.Deliver(context.Background(), types.WebhookSubscription{ID: "wh_1", URL: srv.URL, Active: true}, testEvent())
	assert.Equal(t, DeliverySuccess, rec.Status)
	assert.False(t, hasSig)
}

func TestDeliverRetriesThenSucceeds(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	var slept []time.Duration
	m := New(Config{Sleep: func(_ context.Context, d time.Duration) { slept = append(slept, d) }})

	rec := m.Deliver(context.Background(), types.WebhookSubscription{ID: "wh_1", URL: srv.URL, Active: true}, testEvent())
	assert.Equal(t, DeliverySuccess, rec.Status)
	assert.Equal(t, 3, rec.Attempts)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, slept)
}

func TestDeliverExhaustsRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	m := newTestManager()
	rec := m.Deliver(context.Background(), types.WebhookSubscription{ID: "wh_1", URL: srv.URL, Active: true}, testEvent())
	assert.Equal(t, DeliveryFailed, rec.Status)
	assert.Equal(t, MaxAttempts, rec.Attempts)
	assert.Equal(t, http.StatusInternalServerError, rec.ResponseCode)

	st := m.StatsFor("wh_1")
	assert.Equal(t, 1, st.Total)
	assert.Equal(t, 1, st.Failed)
	assert.Zero(t, st.SuccessRate)
}

func TestHandleEventSkipsInactiveAndUnsubscribed(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		calls++
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	m := newTestManager()
	_, err := m.Register(types.WebhookSubscription{ID: "active", URL: srv.URL, Events: []types.Trigger{types.TriggerWorkflowCompleted}, Active: true})
	require.NoError(t, err)
	_, err = m.Register(types.WebhookSubscription{ID: "inactive", URL: srv.URL, Events: []types.Trigger{types.TriggerWorkflowCompleted}, Active: false})
	require.NoError(t, err)
	_, err = m.Register(types.WebhookSubscription{ID: "other", URL: srv.URL, Events: []types.Trigger{types.TriggerAgentFailed}, Active: true})
	require.NoError(t, err)

	m.HandleEvent(testEvent())

	assert.Equal(t, 1, calls)
	// Inactive subscriptions leave no history.
	assert.Empty(t, m.History("inactive"))
	assert.Len(t, m.History("active"), 1)
}

func TestHistoryRingBound(t *testing.T) {
	m := newTestManager()
	for i := 0; i < HistorySize+25; i++ {
		m.record(DeliveryRecord{ID: "dlv", SubscriptionID: "wh_1", Status: DeliverySuccess})
	}
	assert.Len(t, m.History("wh_1"), HistorySize)
}

func TestStatsSuccessRate(t *testing.T) {
	m := newTestManager()
	for i := 0; i < 3; i++ {
		m.record(DeliveryRecord{SubscriptionID: "wh_1", Status: DeliverySuccess})
	}
	m.record(DeliveryRecord{SubscriptionID: "wh_1", Status: DeliveryFailed})

	st := m.StatsFor("wh_1")
	assert.Equal(t, 4, st.Total)
	assert.Equal(t, 3, st.Succeeded)
	assert.Equal(t, 1, st.Failed)
	assert.InDelta(t, 75.0, st.SuccessRate, 0.001)
}

func TestSetActive(t *testing.T) {
	m := newTestManager()
	sub, err := m.Register(types.WebhookSubscription{URL: "http://x", Active: true})
	require.NoError(t, err)

	require.NoError(t, m.SetActive(sub.ID, false))
	got, err := m.Get(sub.ID)
	require.NoError(t, err)
	assert.False(t, got.Active)
}
