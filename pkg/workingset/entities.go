// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package workingset

import (
	"maps"
	"slices"
	"time"

	"github.com/teradata-labs/cadenza/pkg/types"
)

// Thread statuses.
const (
	ThreadActive    = "active"
	ThreadPaused    = "paused"
	ThreadCompleted = "completed"
	ThreadFailed    = "failed"
	ThreadCancelled = "cancelled"
)

// threadStatuses lists the legal thread statuses.
var threadStatuses = []string{ThreadActive, ThreadPaused, ThreadCompleted, ThreadFailed, ThreadCancelled}

func validThreadStatus(s string) bool {
	return slices.Contains(threadStatuses, s)
}

func terminalThreadStatus(s string) bool {
	return s == ThreadCompleted || s == ThreadFailed || s == ThreadCancelled
}

// Thread is a conversational/execution context shared between agents.
type Thread struct {
	ID     string `json:"id"`
	Status string `json:"status"`

	// Metadata is a free-form key → scalar map, indexed per pair.
	Metadata map[string]any `json:"metadata,omitempty"`

	// Messages are ordered strictly monotone by timestamp.
	Messages []types.Message `json:"messages,omitempty"`

	// Items and Attachments hold attached entity ids in attach order.
	Items       []string `json:"items,omitempty"`
	Attachments []string `json:"attachments,omitempty"`

	// Context is a scratch map agents read and write during execution.
	Context map[string]any `json:"context,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (t *Thread) clone() *Thread {
	c := *t
	c.Metadata = maps.Clone(t.Metadata)
	c.Messages = slices.Clone(t.Messages)
	c.Items = slices.Clone(t.Items)
	c.Attachments = slices.Clone(t.Attachments)
	c.Context = maps.Clone(t.Context)
	return &c
}

// Item is a typed artifact produced or consumed by an agent.
type Item struct {
	ID   string `json:"id"`
	Type string `json:"type"`

	// Content is an arbitrary structured value.
	Content any `json:"content"`

	Tags []string `json:"tags,omitempty"`

	// Relations holds related item ids; links made through LinkItems are
	// symmetric.
	Relations []string `json:"relations,omitempty"`

	Metadata map[string]any `json:"metadata,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (i *Item) clone() *Item {
	c := *i
	c.Tags = slices.Clone(i.Tags)
	c.Relations = slices.Clone(i.Relations)
	c.Metadata = maps.Clone(i.Metadata)
	return &c
}

// Attachment is a file reference. Size and Checksum are recorded once at
// creation; subsequent reads do not recompute them.
type Attachment struct {
	ID       string `json:"id"`
	FilePath string `json:"file_path"`
	MimeType string `json:"mime_type"`

	// Size is the file size in bytes at creation time.
	Size int64 `json:"size"`

	// Checksum is the SHA-256 hex digest of the file bytes at creation time.
	Checksum string `json:"checksum"`

	Metadata map[string]any `json:"metadata,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (a *Attachment) clone() *Attachment {
	c := *a
	c.Metadata = maps.Clone(a.Metadata)
	return &c
}
