// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package webhook delivers bus events to subscribed external URLs with
// HMAC signing, bounded retries, and a bounded delivery history.
package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teradata-labs/cadenza/internal/ids"
	"github.com/teradata-labs/cadenza/internal/log"
	"github.com/teradata-labs/cadenza/pkg/types"
)

const (
	// DefaultTimeout bounds one delivery attempt end to end.
	DefaultTimeout = 10 * time.Second

	// MaxAttempts is the total number of delivery attempts per event.
	MaxAttempts = 3

	// HistorySize bounds the delivery-history ring.
	HistorySize = 1000

	// SignatureHeader carries the HMAC-SHA256 signature of the body.
	SignatureHeader = "X-Webhook-Signature"
)

// Delivery statuses.
const (
	DeliveryPending  = "pending"
	DeliveryRetrying = "retrying"
	DeliverySuccess  = "success"
	DeliveryFailed   = "failed"
)

// DeliveryRecord is one webhook delivery outcome.
type DeliveryRecord struct {
	ID             string        `json:"id"`
	SubscriptionID string        `json:"subscription_id"`
	EventID        string        `json:"event_id"`
	Trigger        types.Trigger `json:"trigger"`
	URL            string        `json:"url"`
	Status         string        `json:"status"`
	Attempts       int           `json:"attempts"`
	ResponseCode   int           `json:"response_code,omitempty"`
	Error          string        `json:"error,omitempty"`
	DeliveredAt    time.Time     `json:"delivered_at"`
}

// Stats summarizes deliveries for one subscription.
type Stats struct {
	SubscriptionID string  `json:"subscription_id"`
	Total          int     `json:"total"`
	Succeeded      int     `json:"succeeded"`
	Failed         int     `json:"failed"`
	SuccessRate    float64 `json:"success_rate"`
}

// Config configures a Manager.
type Config struct {
	// Client defaults to an http.Client with DefaultTimeout.
	Client *http.Client

	// Sleep is the backoff sleep between attempts. Swappable in tests;
	// defaults to a context-aware time.Sleep.
	Sleep func(context.Context, time.Duration)

	// Logger defaults to the package-level logger.
	Logger *zap.Logger
}

// Manager owns webhook subscriptions and their delivery history.
type Manager struct {
	mu      sync.RWMutex
	subs    map[string]*types.WebhookSubscription
	history []DeliveryRecord

	client *http.Client
	sleep  func(context.Context, time.Duration)
	logger *zap.Logger
}

// New builds a Manager.
func New(cfg Config) *Manager {
	if cfg.Client == nil {
		cfg.Client = &http.Client{Timeout: DefaultTimeout}
	}
	if cfg.Sleep == nil {
		cfg.Sleep = func(ctx context.Context, d time.Duration) {
			select {
			case <-time.After(d):
			case <-ctx.Done():
			}
		}
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Logger()
	}
	return &Manager{
		subs:   make(map[string]*types.WebhookSubscription),
		client: cfg.Client,
		sleep:  cfg.Sleep,
		logger: cfg.Logger,
	}
}

// Register adds a subscription. A missing id is generated; unknown event
// triggers are rejected.
func (m *Manager) Register(sub types.WebhookSubscription) (*types.WebhookSubscription, error) {
	if sub.URL == "" {
		return nil, types.E(types.KindValidationError, "webhook url is required")
	}
	for _, ev := range sub.Events {
		if !ev.Valid() {
			return nil, types.E(types.KindValidationError, "unknown webhook event: %s", ev)
		}
	}
	if sub.ID == "" {
		sub.ID = ids.New("wh")
	}
	now := time.Now()
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = now
	}
	sub.UpdatedAt = now

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.subs[sub.ID]; exists {
		return nil, types.E(types.KindValidationError, "webhook already registered: %s", sub.ID)
	}
	m.subs[sub.ID] = &sub
	copied := sub
	return &copied, nil
}

// Unregister removes a subscription. Its history records remain.
func (m *Manager) Unregister(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.subs[id]; !ok {
		return types.E(types.KindValidationError, "webhook not found: %s", id)
	}
	delete(m.subs, id)
	return nil
}

// Get returns a copy of the subscription.
func (m *Manager) Get(id string) (*types.WebhookSubscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sub, ok := m.subs[id]
	if !ok {
		return nil, types.E(types.KindValidationError, "webhook not found: %s", id)
	}
	copied := *sub
	return &copied, nil
}

// List returns copies of all subscriptions.
func (m *Manager) List() []*types.WebhookSubscription {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*types.WebhookSubscription, 0, len(m.subs))
	for _, sub := range m.subs {
		copied := *sub
		out = append(out, &copied)
	}
	return out
}

// SetActive toggles a subscription. Inactive subscriptions are skipped
// without history records.
func (m *Manager) SetActive(id string, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub, ok := m.subs[id]
	if !ok {
		return types.E(types.KindValidationError, "webhook not found: %s", id)
	}
	sub.Active = active
	sub.UpdatedAt = time.Now()
	return nil
}

// HandleEvent is the bus handler: it delivers event to every active
// subscription covering event.Trigger. Deliveries to distinct
// subscriptions run concurrently.
func (m *Manager) HandleEvent(event types.Event) {
	m.mu.RLock()
	var targets []types.WebhookSubscription
	for _, sub := range m.subs {
		if sub.Active && sub.Subscribed(event.Trigger) {
			targets = append(targets, *sub)
		}
	}
	m.mu.RUnlock()

	var wg sync.WaitGroup
	for _, sub := range targets {
		wg.Add(1)
		go func(sub types.WebhookSubscription) {
			defer wg.Done()
			m.Deliver(context.Background(), sub, event)
		}(sub)
	}
	wg.Wait()
}

// Deliver posts event to sub with retries and records the outcome. The
// returned record's Status is success or failed.
func (m *Manager) Deliver(ctx context.Context, sub types.WebhookSubscription, event types.Event) DeliveryRecord {
	rec := DeliveryRecord{
		ID:             ids.New("dlv"),
		SubscriptionID: sub.ID,
		EventID:        event.EventID,
		Trigger:        event.Trigger,
		URL:            sub.URL,
		Status:         DeliveryPending,
	}

	body, err := Payload(event)
	if err != nil {
		rec.Status = DeliveryFailed
		rec.Error = err.Error()
		rec.DeliveredAt = time.Now()
		m.record(rec)
		return rec
	}

	for attempt := 1; attempt <= MaxAttempts; attempt++ {
		rec.Attempts = attempt
		code, err := m.post(ctx, sub, body)
		rec.ResponseCode = code
		if err == nil && code < 400 {
			rec.Status = DeliverySuccess
			rec.Error = ""
			break
		}
		if err != nil {
			rec.Error = err.Error()
		} else {
			rec.Error = fmt.Sprintf("http status %d", code)
		}
		if attempt == MaxAttempts {
			rec.Status = DeliveryFailed
			m.logger.Warn("webhook delivery failed",
				zap.String("subscription_id", sub.ID),
				zap.String("url", sub.URL),
				zap.String("trigger", string(event.Trigger)),
				zap.Int("attempts", attempt),
				zap.String("error", rec.Error))
			break
		}
		rec.Status = DeliveryRetrying
		m.sleep(ctx, time.Duration(1<<(attempt-1))*time.Second)
		if ctx.Err() != nil {
			rec.Status = DeliveryFailed
			rec.Error = ctx.Err().Error()
			break
		}
	}

	rec.DeliveredAt = time.Now()
	m.record(rec)
	return rec
}

func (m *Manager) post(ctx context.Context, sub types.WebhookSubscription, body []byte) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, sub.URL, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if sub.Secret != "" {
		req.Header.Set(SignatureHeader, Sign(sub.Secret, body))
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	return resp.StatusCode, nil
}

// record appends rec to the bounded FIFO ring.
func (m *Manager) record(rec DeliveryRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history = append(m.history, rec)
	if len(m.history) > HistorySize {
		m.history = m.history[len(m.history)-HistorySize:]
	}
}

// History returns delivery records for a subscription, newest last. An
// empty id returns everything.
func (m *Manager) History(subscriptionID string) []DeliveryRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]DeliveryRecord, 0, len(m.history))
	for _, rec := range m.history {
		if subscriptionID == "" || rec.SubscriptionID == subscriptionID {
			out = append(out, rec)
		}
	}
	return out
}

// StatsFor summarizes delivery outcomes for a subscription.
func (m *Manager) StatsFor(subscriptionID string) Stats {
	st := Stats{SubscriptionID: subscriptionID}
	for _, rec := range m.History(subscriptionID) {
		st.Total++
		switch rec.Status {
		case DeliverySuccess:
			st.Succeeded++
		case DeliveryFailed:
			st.Failed++
		}
	}
	if st.Total > 0 {
		st.SuccessRate = float64(st.Succeeded) / float64(st.Total) * 100
	}
	return st
}

// Payload renders the canonical webhook body. encoding/json writes map
// keys in sorted order, which keeps the bytes stable for signing.
func Payload(event types.Event) ([]byte, error) {
	doc := map[string]any{
		"event":     string(event.Trigger),
		"data":      event.Payload,
		"timestamp": event.Timestamp.UTC().Format(time.RFC3339),
	}
	if event.Payload == nil {
		doc["data"] = map[string]any{}
	}
	return json.Marshal(doc)
}

// Sign computes the signature header value for body under secret.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}
