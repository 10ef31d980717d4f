// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package scheduler

import (
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/teradata-labs/cadenza/pkg/types"
)

// loader loads schedule YAML files from a directory and hot-reloads on
// filesystem changes.
type loader struct {
	dir       string
	scheduler *Scheduler
	logger    *zap.Logger
	watcher   *fsnotify.Watcher

	mu     sync.Mutex
	hashes map[string]string // path -> sha256, for change detection

	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
}

func newLoader(dir string, s *Scheduler, logger *zap.Logger) *loader {
	return &loader{
		dir:       dir,
		scheduler: s,
		logger:    logger,
		hashes:    make(map[string]string),
		stopCh:    make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// start performs the initial scan and begins watching the directory.
func (l *loader) start(ctx context.Context) error {
	if err := l.scan(ctx); err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return types.Wrap(types.KindIOError, err, "create schedule watcher")
	}
	if err := watcher.Add(l.dir); err != nil {
		watcher.Close()
		return types.Wrap(types.KindIOError, err, "watch schedule directory %s", l.dir)
	}
	l.watcher = watcher

	go l.watch(ctx)
	return nil
}

func (l *loader) stop() {
	l.stopOnce.Do(func() {
		close(l.stopCh)
		if l.watcher != nil {
			l.watcher.Close()
			<-l.done
		}
	})
}

// watch reacts to filesystem events by rescanning. A full rescan per
// event keeps rename and editor tmp-file sequences simple; the hash map
// makes it cheap.
func (l *loader) watch(ctx context.Context) {
	defer close(l.done)
	for {
		select {
		case event, ok := <-l.watcher.Events:
			if !ok {
				return
			}
			if !isYAML(event.Name) {
				continue
			}
			if err := l.scan(ctx); err != nil {
				l.logger.Error("schedule rescan failed", zap.Error(err))
			}
		case err, ok := <-l.watcher.Errors:
			if !ok {
				return
			}
			l.logger.Error("schedule watcher error", zap.Error(err))
		case <-l.stopCh:
			return
		}
	}
}

// scan loads new and changed YAML files and drops schedules whose files
// were deleted.
func (l *loader) scan(ctx context.Context) error {
	if _, err := os.Stat(l.dir); os.IsNotExist(err) {
		return nil
	}

	files, err := filepath.Glob(filepath.Join(l.dir, "*.yaml"))
	if err != nil {
		return types.Wrap(types.KindIOError, err, "glob schedule files")
	}
	more, err := filepath.Glob(filepath.Join(l.dir, "*.yml"))
	if err != nil {
		return types.Wrap(types.KindIOError, err, "glob schedule files")
	}
	files = append(files, more...)

	l.mu.Lock()
	defer l.mu.Unlock()

	seen := make(map[string]bool, len(files))
	for _, path := range files {
		seen[path] = true

		hash, err := fileHash(path)
		if err != nil {
			l.logger.Error("schedule file hash failed", zap.String("path", path), zap.Error(err))
			continue
		}
		if l.hashes[path] == hash {
			continue
		}
		if err := l.loadFile(path); err != nil {
			l.logger.Error("schedule file load failed", zap.String("path", path), zap.Error(err))
			continue
		}
		l.hashes[path] = hash
	}

	for path := range l.hashes {
		if seen[path] {
			continue
		}
		delete(l.hashes, path)
		if id, ok := l.scheduler.bySource(path); ok {
			l.logger.Info("schedule file deleted, removing schedule",
				zap.String("path", path), zap.String("schedule_id", id))
			if err := l.scheduler.Remove(id); err != nil {
				l.logger.Error("schedule removal failed", zap.String("schedule_id", id), zap.Error(err))
			}
		}
	}
	return nil
}

// loadFile parses one YAML file and creates or updates its schedule.
func (l *loader) loadFile(path string) error {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return types.Wrap(types.KindIOError, err, "read schedule file %s", path)
	}

	var spec Spec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return types.Wrap(types.KindValidationError, err, "parse schedule file %s", path)
	}
	if spec.Name == "" {
		base := filepath.Base(path)
		spec.Name = strings.TrimSuffix(base, filepath.Ext(base))
	}

	if id, ok := l.scheduler.bySource(path); ok {
		if err := l.scheduler.Update(id, spec); err != nil {
			return err
		}
		l.logger.Info("schedule reloaded", zap.String("path", path), zap.String("schedule_id", id))
		return nil
	}

	sched, err := l.scheduler.Add(spec, path)
	if err != nil {
		return err
	}
	l.logger.Info("schedule loaded", zap.String("path", path), zap.String("schedule_id", sched.ID))
	return nil
}

func isYAML(path string) bool {
	ext := filepath.Ext(path)
	return ext == ".yaml" || ext == ".yml"
}

func fileHash(path string) (string, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return fmt.Sprintf("%x", h.Sum(nil)), nil
}
