// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package workingset

import (
	"encoding/json"
	"fmt"
	"strings"
)

// minWordLen is the shortest word the inverted indexes record. Matching is
// case-folded ASCII.
const minWordLen = 3

type idSet map[string]struct{}

func (s idSet) add(id string)    { s[id] = struct{}{} }
func (s idSet) remove(id string) { delete(s, id) }

// intersect returns the intersection of a and b. A nil receiver means
// "unconstrained" and yields b unchanged.
func intersect(a, b idSet) idSet {
	if a == nil {
		return b
	}
	out := make(idSet)
	for id := range a {
		if _, ok := b[id]; ok {
			out.add(id)
		}
	}
	return out
}

// indexSet maintains every secondary index over the store's entities.
// All access is guarded by the owning store's lock.
type indexSet struct {
	threadByStatus map[string]idSet
	threadByMeta   map[string]idSet
	threadText     map[string]idSet

	itemByType map[string]idSet
	itemByTag  map[string]idSet
	itemText   map[string]idSet

	attachmentByMime map[string]idSet
}

func newIndexSet() *indexSet {
	return &indexSet{
		threadByStatus:   make(map[string]idSet),
		threadByMeta:     make(map[string]idSet),
		threadText:       make(map[string]idSet),
		itemByType:       make(map[string]idSet),
		itemByTag:        make(map[string]idSet),
		itemText:         make(map[string]idSet),
		attachmentByMime: make(map[string]idSet),
	}
}

func addTo(m map[string]idSet, key, id string) {
	set, ok := m[key]
	if !ok {
		set = make(idSet)
		m[key] = set
	}
	set.add(id)
}

func removeFrom(m map[string]idSet, key, id string) {
	set, ok := m[key]
	if !ok {
		return
	}
	set.remove(id)
	if len(set) == 0 {
		delete(m, key)
	}
}

// metaKey builds the composite key for the metadata index.
func metaKey(key string, value any) string {
	return fmt.Sprintf("%s:%v", key, value)
}

// tokenize splits text into indexable words: whitespace-separated,
// case-folded, length >= minWordLen.
func tokenize(text string) []string {
	fields := strings.Fields(strings.ToLower(text))
	words := fields[:0]
	for _, w := range fields {
		if len(w) >= minWordLen {
			words = append(words, w)
		}
	}
	return words
}

// contentText stringifies arbitrary item content for the text index.
func contentText(content any) string {
	switch v := content.(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	}
}

func (x *indexSet) indexThread(t *Thread) {
	addTo(x.threadByStatus, t.Status, t.ID)
	for k, v := range t.Metadata {
		addTo(x.threadByMeta, metaKey(k, v), t.ID)
	}
	for _, msg := range t.Messages {
		for _, w := range tokenize(msg.Content) {
			addTo(x.threadText, w, t.ID)
		}
	}
}

func (x *indexSet) unindexThread(t *Thread) {
	removeFrom(x.threadByStatus, t.Status, t.ID)
	for k, v := range t.Metadata {
		removeFrom(x.threadByMeta, metaKey(k, v), t.ID)
	}
	for _, msg := range t.Messages {
		for _, w := range tokenize(msg.Content) {
			removeFrom(x.threadText, w, t.ID)
		}
	}
}

func (x *indexSet) indexItem(i *Item) {
	addTo(x.itemByType, i.Type, i.ID)
	for _, tag := range i.Tags {
		addTo(x.itemByTag, tag, i.ID)
	}
	for _, w := range tokenize(contentText(i.Content)) {
		addTo(x.itemText, w, i.ID)
	}
}

func (x *indexSet) unindexItem(i *Item) {
	removeFrom(x.itemByType, i.Type, i.ID)
	for _, tag := range i.Tags {
		removeFrom(x.itemByTag, tag, i.ID)
	}
	for _, w := range tokenize(contentText(i.Content)) {
		removeFrom(x.itemText, w, i.ID)
	}
}

func (x *indexSet) indexAttachment(a *Attachment) {
	addTo(x.attachmentByMime, a.MimeType, a.ID)
}

func (x *indexSet) unindexAttachment(a *Attachment) {
	removeFrom(x.attachmentByMime, a.MimeType, a.ID)
}

// searchText intersects the posting sets for every usable word of query.
// Returns (nil, false) when the query contributes no constraint (empty or
// only sub-minimum words).
func searchText(index map[string]idSet, query string) (idSet, bool) {
	words := tokenize(query)
	if len(words) == 0 {
		return nil, false
	}
	var results idSet
	for _, w := range words {
		set, ok := index[w]
		if !ok {
			return make(idSet), true
		}
		results = intersect(results, set)
	}
	return results, true
}

// searchThreads applies text, status, and metadata constraints and returns
// the matching id set. No constraint at all yields the empty set.
func (x *indexSet) searchThreads(query, status string, metadata map[string]any) idSet {
	var results idSet
	constrained := false

	if set, ok := searchText(x.threadText, query); ok {
		results = intersect(results, set)
		constrained = true
	}
	if status != "" {
		set := x.threadByStatus[status]
		if set == nil {
			set = make(idSet)
		}
		results = intersect(results, set)
		constrained = true
	}
	for k, v := range metadata {
		set := x.threadByMeta[metaKey(k, v)]
		if set == nil {
			set = make(idSet)
		}
		results = intersect(results, set)
		constrained = true
	}

	if !constrained {
		return make(idSet)
	}
	return results
}

// searchItems applies text, type, and tag constraints and returns the
// matching id set. No constraint at all yields the empty set.
func (x *indexSet) searchItems(query, itemType string, tags []string) idSet {
	var results idSet
	constrained := false

	if set, ok := searchText(x.itemText, query); ok {
		results = intersect(results, set)
		constrained = true
	}
	if itemType != "" {
		set := x.itemByType[itemType]
		if set == nil {
			set = make(idSet)
		}
		results = intersect(results, set)
		constrained = true
	}
	for _, tag := range tags {
		set := x.itemByTag[tag]
		if set == nil {
			set = make(idSet)
		}
		results = intersect(results, set)
		constrained = true
	}

	if !constrained {
		return make(idSet)
	}
	return results
}
