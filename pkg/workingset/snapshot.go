// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package workingset

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
)

// snapshotDoc is the persisted form of the store: three maps keyed by id.
type snapshotDoc struct {
	Threads     map[string]*Thread     `json:"threads"`
	Items       map[string]*Item       `json:"items"`
	Attachments map[string]*Attachment `json:"attachments"`
}

// snapshotter writes snapshots off the store's critical path. Writes are
// coalesced: at most one in flight, and mutations arriving during a write
// collapse into a single follow-up write.
type snapshotter struct {
	store  *Store
	path   string
	logger *zap.Logger

	// dirty has capacity 1. markDirty never blocks; a pending signal
	// already covers any number of further mutations.
	dirty chan struct{}
	done  chan struct{}

	// mu guards closed so markDirty after stop is a no-op rather than a
	// send on a closed channel.
	mu     sync.Mutex
	closed bool
}

func newSnapshotter(store *Store, path string, logger *zap.Logger) *snapshotter {
	sn := &snapshotter{
		store:  store,
		path:   path,
		logger: logger,
		dirty:  make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	go sn.run()
	return sn
}

func (sn *snapshotter) markDirty() {
	sn.mu.Lock()
	defer sn.mu.Unlock()
	if sn.closed {
		return
	}
	select {
	case sn.dirty <- struct{}{}:
	default:
	}
}

// stop drains any pending write and shuts the worker down. Safe to call
// more than once.
func (sn *snapshotter) stop() {
	sn.mu.Lock()
	if sn.closed {
		sn.mu.Unlock()
		<-sn.done
		return
	}
	sn.closed = true
	close(sn.dirty)
	sn.mu.Unlock()
	<-sn.done
}

func (sn *snapshotter) run() {
	defer close(sn.done)
	for range sn.dirty {
		if err := sn.write(); err != nil {
			sn.logger.Warn("snapshot write failed", zap.String("path", sn.path), zap.Error(err))
		}
	}
	// Final flush so Close persists the latest state.
	if err := sn.write(); err != nil {
		sn.logger.Warn("final snapshot write failed", zap.String("path", sn.path), zap.Error(err))
	}
}

// write marshals under the read lock and writes via temp-file rename so a
// crash mid-write never corrupts the previous snapshot.
func (sn *snapshotter) write() error {
	sn.store.mu.RLock()
	doc := snapshotDoc{
		Threads:     sn.store.threads,
		Items:       sn.store.items,
		Attachments: sn.store.attachments,
	}
	data, err := json.Marshal(doc)
	sn.store.mu.RUnlock()
	if err != nil {
		return err
	}

	tmp := sn.path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(sn.path), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, sn.path)
}

// loadSnapshot populates the entity maps from the snapshot file. A missing
// file is a fresh store; a corrupt file is logged and treated as empty.
func (s *Store) loadSnapshot(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("snapshot unreadable, starting empty", zap.String("path", path), zap.Error(err))
		}
		return
	}
	var doc snapshotDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		s.logger.Warn("snapshot corrupt, starting empty", zap.String("path", path), zap.Error(err))
		return
	}
	if doc.Threads != nil {
		s.threads = doc.Threads
	}
	if doc.Items != nil {
		s.items = doc.Items
	}
	if doc.Attachments != nil {
		s.attachments = doc.Attachments
	}
}
