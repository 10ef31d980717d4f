// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package workingset implements the shared working-set store: threads,
// items, and attachments with secondary indexes, search, and best-effort
// JSON snapshot persistence.
package workingset

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"maps"
	"os"
	"slices"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teradata-labs/cadenza/internal/ids"
	"github.com/teradata-labs/cadenza/internal/log"
	"github.com/teradata-labs/cadenza/pkg/types"
)

// DefaultSearchLimit caps search results when the caller does not set one.
const DefaultSearchLimit = 100

// Config configures a Store.
type Config struct {
	// SnapshotPath is where the store persists itself. Empty disables
	// persistence entirely.
	SnapshotPath string

	// Logger defaults to the package-level logger.
	Logger *zap.Logger
}

// Store is a process-local single-writer store. Mutations serialize on one
// lock, readers share it, and every mutation schedules an asynchronous
// snapshot write.
type Store struct {
	mu          sync.RWMutex
	threads     map[string]*Thread
	items       map[string]*Item
	attachments map[string]*Attachment
	indexes     *indexSet

	snap   *snapshotter
	logger *zap.Logger

	// now is swappable in tests.
	now func() time.Time
}

// Open loads the snapshot at cfg.SnapshotPath (a missing or corrupt file
// yields an empty store) and starts the background snapshot worker.
func Open(cfg Config) (*Store, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = log.Logger()
	}
	s := &Store{
		threads:     make(map[string]*Thread),
		items:       make(map[string]*Item),
		attachments: make(map[string]*Attachment),
		indexes:     newIndexSet(),
		logger:      logger,
		now:         time.Now,
	}
	if cfg.SnapshotPath != "" {
		s.loadSnapshot(cfg.SnapshotPath)
		s.snap = newSnapshotter(s, cfg.SnapshotPath, logger)
	}
	s.reindex()
	return s, nil
}

// Close flushes a final snapshot and stops the background worker.
func (s *Store) Close() error {
	if s.snap != nil {
		s.snap.stop()
	}
	return nil
}

// reindex rebuilds every index from the entity maps. Caller holds no lock
// (only used during Open).
func (s *Store) reindex() {
	s.indexes = newIndexSet()
	for _, t := range s.threads {
		s.indexes.indexThread(t)
	}
	for _, i := range s.items {
		s.indexes.indexItem(i)
	}
	for _, a := range s.attachments {
		s.indexes.indexAttachment(a)
	}
}

// markDirty schedules a snapshot. Callers hold the write lock; the actual
// write happens off the critical path.
func (s *Store) markDirty() {
	if s.snap != nil {
		s.snap.markDirty()
	}
}

// --- threads ---

// CreateThread creates an active thread with the given metadata.
func (s *Store) CreateThread(metadata map[string]any) (*Thread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	t := &Thread{
		ID:        ids.New("thread"),
		Status:    ThreadActive,
		Metadata:  maps.Clone(metadata),
		Context:   make(map[string]any),
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.threads[t.ID] = t
	s.indexes.indexThread(t)
	s.markDirty()
	return t.clone(), nil
}

// GetThread returns a copy of the thread.
func (s *Store) GetThread(id string) (*Thread, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.threads[id]
	if !ok {
		return nil, types.E(types.KindValidationError, "thread not found: %s", id)
	}
	return t.clone(), nil
}

// ThreadUpdate describes a partial thread update. Nil fields are left
// unchanged; Metadata and Context entries are merged key by key.
type ThreadUpdate struct {
	Status   *string
	Metadata map[string]any
	Context  map[string]any
}

// UpdateThread applies upd and returns the updated thread.
func (s *Store) UpdateThread(id string, upd ThreadUpdate) (*Thread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.threads[id]
	if !ok {
		return nil, types.E(types.KindValidationError, "thread not found: %s", id)
	}
	if upd.Status != nil && !validThreadStatus(*upd.Status) {
		return nil, types.E(types.KindValidationError, "invalid thread status: %s", *upd.Status)
	}

	s.indexes.unindexThread(t)
	if upd.Status != nil {
		t.Status = *upd.Status
	}
	for k, v := range upd.Metadata {
		if t.Metadata == nil {
			t.Metadata = make(map[string]any)
		}
		t.Metadata[k] = v
	}
	for k, v := range upd.Context {
		if t.Context == nil {
			t.Context = make(map[string]any)
		}
		t.Context[k] = v
	}
	t.UpdatedAt = s.now()
	s.indexes.indexThread(t)
	s.markDirty()
	return t.clone(), nil
}

// DeleteThread removes the thread. Items and attachments it references
// survive; only the thread and its index entries go.
func (s *Store) DeleteThread(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.threads[id]
	if !ok {
		return types.E(types.KindValidationError, "thread not found: %s", id)
	}
	s.indexes.unindexThread(t)
	delete(s.threads, id)
	s.markDirty()
	return nil
}

// AddMessage appends msg to the thread. Message timestamps are strictly
// monotone within a thread; an unset timestamp is filled in. Threads in a
// terminal status reject new messages.
func (s *Store) AddMessage(threadID string, msg types.Message) (*Thread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.threads[threadID]
	if !ok {
		return nil, types.E(types.KindValidationError, "thread not found: %s", threadID)
	}
	if terminalThreadStatus(t.Status) {
		return nil, types.E(types.KindValidationError, "thread %s is %s, no further messages", threadID, t.Status)
	}

	if msg.Timestamp.IsZero() {
		msg.Timestamp = s.now()
	}
	if n := len(t.Messages); n > 0 {
		if last := t.Messages[n-1].Timestamp; !msg.Timestamp.After(last) {
			msg.Timestamp = last.Add(time.Nanosecond)
		}
	}

	s.indexes.unindexThread(t)
	t.Messages = append(t.Messages, msg)
	t.UpdatedAt = s.now()
	s.indexes.indexThread(t)
	s.markDirty()
	return t.clone(), nil
}

// --- items ---

// ItemSpec describes a new item.
type ItemSpec struct {
	Type     string
	Content  any
	Tags     []string
	Metadata map[string]any
}

// CreateItem creates an item from spec.
func (s *Store) CreateItem(spec ItemSpec) (*Item, error) {
	if spec.Type == "" {
		return nil, types.E(types.KindValidationError, "item type is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	i := &Item{
		ID:        ids.New("item"),
		Type:      spec.Type,
		Content:   spec.Content,
		Tags:      slices.Clone(spec.Tags),
		Metadata:  maps.Clone(spec.Metadata),
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.items[i.ID] = i
	s.indexes.indexItem(i)
	s.markDirty()
	return i.clone(), nil
}

// GetItem returns a copy of the item.
func (s *Store) GetItem(id string) (*Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i, ok := s.items[id]
	if !ok {
		return nil, types.E(types.KindValidationError, "item not found: %s", id)
	}
	return i.clone(), nil
}

// ItemUpdate describes a partial item update. Content replaces only when
// SetContent is true, so callers can set it to nil explicitly. Tags replace
// wholesale when non-nil; Metadata entries merge key by key.
type ItemUpdate struct {
	Content    any
	SetContent bool
	Tags       []string
	Metadata   map[string]any
}

// UpdateItem applies upd and returns the updated item.
func (s *Store) UpdateItem(id string, upd ItemUpdate) (*Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i, ok := s.items[id]
	if !ok {
		return nil, types.E(types.KindValidationError, "item not found: %s", id)
	}

	s.indexes.unindexItem(i)
	if upd.SetContent {
		i.Content = upd.Content
	}
	if upd.Tags != nil {
		i.Tags = slices.Clone(upd.Tags)
	}
	for k, v := range upd.Metadata {
		if i.Metadata == nil {
			i.Metadata = make(map[string]any)
		}
		i.Metadata[k] = v
	}
	i.UpdatedAt = s.now()
	s.indexes.indexItem(i)
	s.markDirty()
	return i.clone(), nil
}

// DeleteItem removes the item and scrubs references to it from threads and
// from other items' relations.
func (s *Store) DeleteItem(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i, ok := s.items[id]
	if !ok {
		return types.E(types.KindValidationError, "item not found: %s", id)
	}
	s.indexes.unindexItem(i)
	delete(s.items, id)

	for _, t := range s.threads {
		if idx := slices.Index(t.Items, id); idx >= 0 {
			t.Items = slices.Delete(t.Items, idx, idx+1)
		}
	}
	for _, other := range s.items {
		if idx := slices.Index(other.Relations, id); idx >= 0 {
			other.Relations = slices.Delete(other.Relations, idx, idx+1)
		}
	}
	s.markDirty()
	return nil
}

// --- attachments ---

// CreateAttachment records a file reference. The file is read exactly once
// to compute its size and SHA-256 checksum; a missing or unreadable file
// fails with io_error and records nothing.
func (s *Store) CreateAttachment(filePath, mimeType string, metadata map[string]any) (*Attachment, error) {
	size, checksum, err := hashFile(filePath)
	if err != nil {
		return nil, types.Wrap(types.KindIOError, err, "read attachment %s", filePath)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	a := &Attachment{
		ID:        ids.New("att"),
		FilePath:  filePath,
		MimeType:  mimeType,
		Size:      size,
		Checksum:  checksum,
		Metadata:  maps.Clone(metadata),
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.attachments[a.ID] = a
	s.indexes.indexAttachment(a)
	s.markDirty()
	return a.clone(), nil
}

func hashFile(path string) (int64, string, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, "", err
	}
	defer f.Close()

	h := sha256.New()
	size, err := io.Copy(h, f)
	if err != nil {
		return 0, "", err
	}
	return size, hex.EncodeToString(h.Sum(nil)), nil
}

// GetAttachment returns a copy of the attachment.
func (s *Store) GetAttachment(id string) (*Attachment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.attachments[id]
	if !ok {
		return nil, types.E(types.KindValidationError, "attachment not found: %s", id)
	}
	return a.clone(), nil
}

// UpdateAttachment merges metadata entries. Size and checksum are immutable.
func (s *Store) UpdateAttachment(id string, metadata map[string]any) (*Attachment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.attachments[id]
	if !ok {
		return nil, types.E(types.KindValidationError, "attachment not found: %s", id)
	}
	for k, v := range metadata {
		if a.Metadata == nil {
			a.Metadata = make(map[string]any)
		}
		a.Metadata[k] = v
	}
	a.UpdatedAt = s.now()
	s.markDirty()
	return a.clone(), nil
}

// DeleteAttachment removes the attachment and scrubs thread references.
func (s *Store) DeleteAttachment(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.attachments[id]
	if !ok {
		return types.E(types.KindValidationError, "attachment not found: %s", id)
	}
	s.indexes.unindexAttachment(a)
	delete(s.attachments, id)

	for _, t := range s.threads {
		if idx := slices.Index(t.Attachments, id); idx >= 0 {
			t.Attachments = slices.Delete(t.Attachments, idx, idx+1)
		}
	}
	s.markDirty()
	return nil
}

// --- links ---

// LinkItemToThread attaches the item to the thread. Linking twice is a no-op.
func (s *Store) LinkItemToThread(itemID, threadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.threads[threadID]
	if !ok {
		return types.E(types.KindValidationError, "thread not found: %s", threadID)
	}
	if _, ok := s.items[itemID]; !ok {
		return types.E(types.KindValidationError, "item not found: %s", itemID)
	}
	if slices.Contains(t.Items, itemID) {
		return nil
	}
	t.Items = append(t.Items, itemID)
	t.UpdatedAt = s.now()
	s.markDirty()
	return nil
}

// LinkAttachmentToThread attaches the attachment to the thread. Linking
// twice is a no-op.
func (s *Store) LinkAttachmentToThread(attachmentID, threadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.threads[threadID]
	if !ok {
		return types.E(types.KindValidationError, "thread not found: %s", threadID)
	}
	if _, ok := s.attachments[attachmentID]; !ok {
		return types.E(types.KindValidationError, "attachment not found: %s", attachmentID)
	}
	if slices.Contains(t.Attachments, attachmentID) {
		return nil
	}
	t.Attachments = append(t.Attachments, attachmentID)
	t.UpdatedAt = s.now()
	s.markDirty()
	return nil
}

// LinkItems relates two items symmetrically.
func (s *Store) LinkItems(aID, bID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.items[aID]
	if !ok {
		return types.E(types.KindValidationError, "item not found: %s", aID)
	}
	b, ok := s.items[bID]
	if !ok {
		return types.E(types.KindValidationError, "item not found: %s", bID)
	}
	if aID == bID {
		return types.E(types.KindValidationError, "cannot link item to itself")
	}
	now := s.now()
	if !slices.Contains(a.Relations, bID) {
		a.Relations = append(a.Relations, bID)
		a.UpdatedAt = now
	}
	if !slices.Contains(b.Relations, aID) {
		b.Relations = append(b.Relations, aID)
		b.UpdatedAt = now
	}
	s.markDirty()
	return nil
}

// --- search ---

// ThreadQuery is a thread search. Zero-valued dimensions are wildcards; a
// query with no dimension at all matches nothing.
type ThreadQuery struct {
	Query    string
	Status   string
	Metadata map[string]any
	Limit    int
}

// SearchThreads runs q and returns matches sorted by updated_at descending.
func (s *Store) SearchThreads(q ThreadQuery) []*Thread {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := s.indexes.searchThreads(q.Query, q.Status, q.Metadata)
	out := make([]*Thread, 0, len(matched))
	for id := range matched {
		out = append(out, s.threads[id].clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return truncate(out, q.Limit)
}

// ItemQuery is an item search. Zero-valued dimensions are wildcards; a
// query with no dimension at all matches nothing.
type ItemQuery struct {
	Query string
	Type  string
	Tags  []string
	Limit int
}

// SearchItems runs q and returns matches sorted by updated_at descending.
func (s *Store) SearchItems(q ItemQuery) []*Item {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := s.indexes.searchItems(q.Query, q.Type, q.Tags)
	out := make([]*Item, 0, len(matched))
	for id := range matched {
		out = append(out, s.items[id].clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return truncate(out, q.Limit)
}

func truncate[T any](list []T, limit int) []T {
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	if len(list) > limit {
		return list[:limit]
	}
	return list
}

// --- statistics ---

// Statistics summarizes the store's contents.
type Statistics struct {
	Threads           int            `json:"threads"`
	Items             int            `json:"items"`
	Attachments       int            `json:"attachments"`
	Messages          int            `json:"messages"`
	ThreadsByStatus   map[string]int `json:"threads_by_status"`
	ItemsByType       map[string]int `json:"items_by_type"`
	AttachmentsByMime map[string]int `json:"attachments_by_mime"`
	AttachmentBytes   int64          `json:"attachment_bytes"`
}

// Stats computes current statistics.
func (s *Store) Stats() Statistics {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Statistics{
		Threads:           len(s.threads),
		Items:             len(s.items),
		Attachments:       len(s.attachments),
		ThreadsByStatus:   make(map[string]int),
		ItemsByType:       make(map[string]int),
		AttachmentsByMime: make(map[string]int),
	}
	for _, t := range s.threads {
		st.ThreadsByStatus[t.Status]++
		st.Messages += len(t.Messages)
	}
	for _, i := range s.items {
		st.ItemsByType[i.Type]++
	}
	for _, a := range s.attachments {
		st.AttachmentsByMime[a.MimeType]++
		st.AttachmentBytes += a.Size
	}
	return st
}
