// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package eventbus implements the in-process publish/subscribe bus the
// control plane runs on. One worker drains a bounded queue in publication
// order; handlers for a single event fan out in parallel.
package eventbus

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teradata-labs/cadenza/internal/ids"
	"github.com/teradata-labs/cadenza/internal/log"
	"github.com/teradata-labs/cadenza/pkg/types"
)

const (
	// DefaultQueueSize bounds the publish queue.
	DefaultQueueSize = 1024

	// DefaultDrainTimeout bounds how long Close waits for the worker to
	// drain before dropping what remains.
	DefaultDrainTimeout = 5 * time.Second
)

// Handler consumes a single event. Handlers run concurrently with sibling
// handlers of the same event; panics are recovered and logged.
type Handler func(types.Event)

// Config configures a Bus.
type Config struct {
	// QueueSize defaults to DefaultQueueSize.
	QueueSize int

	// DrainTimeout defaults to DefaultDrainTimeout.
	DrainTimeout time.Duration

	// Logger defaults to the package-level logger.
	Logger *zap.Logger
}

// Bus is the process-wide event bus.
type Bus struct {
	mu       sync.RWMutex
	handlers map[types.Trigger][]Handler
	closed   bool

	queue        chan types.Event
	drainTimeout time.Duration
	logger       *zap.Logger
	done         chan struct{}
}

// New starts a bus and its worker goroutine.
func New(cfg Config) *Bus {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = DefaultDrainTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Logger()
	}
	b := &Bus{
		handlers:     make(map[types.Trigger][]Handler),
		queue:        make(chan types.Event, cfg.QueueSize),
		drainTimeout: cfg.DrainTimeout,
		logger:       cfg.Logger,
		done:         make(chan struct{}),
	}
	go b.work()
	return b
}

// Subscribe registers handler for trigger. Registration order is delivery
// registration order only; handlers of one event run concurrently.
func (b *Bus) Subscribe(trigger types.Trigger, handler Handler) error {
	if !trigger.Valid() {
		return types.E(types.KindValidationError, "unknown trigger: %s", trigger)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[trigger] = append(b.handlers[trigger], handler)
	return nil
}

// Publish enqueues an event without blocking. A full queue fails with
// bus_overflow and the event is dropped; the caller decides what that means.
func (b *Bus) Publish(event types.Event) error {
	if !event.Trigger.Valid() {
		return types.E(types.KindValidationError, "unknown trigger: %s", event.Trigger)
	}
	if event.EventID == "" {
		event.EventID = ids.New("evt")
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	// The read lock excludes Close, so the send below can never race the
	// channel close.
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return types.E(types.KindBusOverflow, "bus is closed")
	}

	select {
	case b.queue <- event:
		return nil
	default:
		return types.E(types.KindBusOverflow, "event queue full, dropped %s for workflow %s", event.Trigger, event.WorkflowID)
	}
}

// Emit builds and publishes an event in one call.
func (b *Bus) Emit(trigger types.Trigger, workflowID, agentID string, payload map[string]any) error {
	return b.Publish(types.Event{
		Trigger:    trigger,
		WorkflowID: workflowID,
		AgentID:    agentID,
		Payload:    payload,
	})
}

// work drains the queue strictly in order. All handlers of an event finish
// before the next event is dispatched, which gives per-workflow FIFO
// observation to every handler.
func (b *Bus) work() {
	defer close(b.done)
	for event := range b.queue {
		b.dispatch(event)
	}
}

func (b *Bus) dispatch(event types.Event) {
	b.mu.RLock()
	handlers := b.handlers[event.Trigger]
	b.mu.RUnlock()

	var wg sync.WaitGroup
	for _, h := range handlers {
		wg.Add(1)
		go func(h Handler) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					b.logger.Error("event handler panicked",
						zap.String("trigger", string(event.Trigger)),
						zap.String("workflow_id", event.WorkflowID),
						zap.Any("panic", r))
				}
			}()
			h(event)
		}(h)
	}
	wg.Wait()
}

// Close stops accepting events and waits for the worker to drain, up to the
// drain deadline. Whatever remains after the deadline is dropped.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	close(b.queue)
	b.mu.Unlock()
	select {
	case <-b.done:
		return nil
	case <-time.After(b.drainTimeout):
		b.logger.Warn("event bus drain deadline exceeded, dropping undelivered events",
			zap.Duration("deadline", b.drainTimeout))
		return nil
	}
}
