// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package scheduler runs voice commands on cron schedules loaded from
// YAML files, with hot reload of the schedule directory.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/teradata-labs/cadenza/internal/ids"
	"github.com/teradata-labs/cadenza/internal/log"
	"github.com/teradata-labs/cadenza/pkg/types"
)

// DefaultMaxExecution bounds a scheduled run when the spec does not.
const DefaultMaxExecution = time.Hour

// Runner executes one scheduled command. The engine satisfies this via
// its Submit method.
type Runner interface {
	Submit(ctx context.Context, command string, metadata map[string]any) error
}

// Spec is the YAML shape of one scheduled command.
type Spec struct {
	Name                string         `yaml:"name"`
	Command             string         `yaml:"command"`
	Cron                string         `yaml:"cron"`
	Timezone            string         `yaml:"timezone"`
	Enabled             *bool          `yaml:"enabled"`
	SkipIfRunning       bool           `yaml:"skip_if_running"`
	MaxExecutionSeconds int            `yaml:"max_execution_seconds"`
	Metadata            map[string]any `yaml:"metadata"`
}

// Stats tracks run outcomes for one schedule.
type Stats struct {
	Runs      int64     `json:"runs"`
	Failures  int64     `json:"failures"`
	Skipped   int64     `json:"skipped"`
	LastRunAt time.Time `json:"last_run_at,omitzero"`
	LastError string    `json:"last_error,omitempty"`
}

// Schedule is one registered command with its runtime state.
type Schedule struct {
	ID        string    `json:"id"`
	Spec      Spec      `json:"spec"`
	Source    string    `json:"source,omitempty"`
	NextRunAt time.Time `json:"next_run_at,omitzero"`
	Stats     Stats     `json:"stats"`
}

// Config configures a Scheduler.
type Config struct {
	// Runner is required.
	Runner Runner

	// Dir is the schedule directory watched for YAML files. Empty
	// disables hot reload; schedules can still be added directly.
	Dir string

	Logger *zap.Logger
}

// Scheduler manages cron-driven command execution.
type Scheduler struct {
	runner Runner
	engine *cron.Cron
	logger *zap.Logger
	loader *loader

	mu        sync.RWMutex
	schedules map[string]*Schedule
	entries   map[string]cron.EntryID
	running   map[string]string // schedule id -> execution id
	started   bool
}

// New creates a Scheduler. Call Start to begin firing schedules.
func New(cfg Config) (*Scheduler, error) {
	if cfg.Runner == nil {
		return nil, types.E(types.KindValidationError, "scheduler runner is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Logger()
	}

	s := &Scheduler{
		runner:    cfg.Runner,
		engine:    cron.New(),
		logger:    cfg.Logger,
		schedules: make(map[string]*Schedule),
		entries:   make(map[string]cron.EntryID),
		running:   make(map[string]string),
	}
	if cfg.Dir != "" {
		s.loader = newLoader(cfg.Dir, s, cfg.Logger)
	}
	return s, nil
}

// Start loads the schedule directory and starts the cron engine.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return types.E(types.KindValidationError, "scheduler already started")
	}
	s.started = true
	s.mu.Unlock()

	if s.loader != nil {
		if err := s.loader.start(ctx); err != nil {
			return err
		}
	}
	s.engine.Start()
	s.logger.Info("scheduler started", zap.Int("schedules", s.Count()))
	return nil
}

// Stop halts schedule firing and waits for in-flight runs, bounded by
// the context deadline.
func (s *Scheduler) Stop(ctx context.Context) error {
	if s.loader != nil {
		s.loader.stop()
	}
	done := s.engine.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		s.logger.Warn("scheduler stop timed out with runs in flight")
	}
	s.logger.Info("scheduler stopped")
	return nil
}

// Add registers a schedule and, when enabled, arms its cron entry.
func (s *Scheduler) Add(spec Spec, source string) (*Schedule, error) {
	if err := validateSpec(&spec); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sched := &Schedule{
		ID:     ids.New("sched"),
		Spec:   spec,
		Source: source,
	}
	if err := s.armLocked(sched); err != nil {
		return nil, err
	}
	s.schedules[sched.ID] = sched
	s.logger.Info("schedule added",
		zap.String("schedule_id", sched.ID),
		zap.String("name", spec.Name),
		zap.String("cron", spec.Cron))
	return sched, nil
}

// Update replaces the spec of an existing schedule, preserving stats.
func (s *Scheduler) Update(id string, spec Spec) error {
	if err := validateSpec(&spec); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sched, ok := s.schedules[id]
	if !ok {
		return types.E(types.KindValidationError, "schedule not found: %s", id)
	}
	s.disarmLocked(id)
	sched.Spec = spec
	if err := s.armLocked(sched); err != nil {
		return err
	}
	s.logger.Info("schedule updated", zap.String("schedule_id", id), zap.String("name", spec.Name))
	return nil
}

// Remove deletes a schedule.
func (s *Scheduler) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.schedules[id]; !ok {
		return types.E(types.KindValidationError, "schedule not found: %s", id)
	}
	s.disarmLocked(id)
	delete(s.schedules, id)
	s.logger.Info("schedule removed", zap.String("schedule_id", id))
	return nil
}

// Pause disarms a schedule without removing it.
func (s *Scheduler) Pause(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sched, ok := s.schedules[id]
	if !ok {
		return types.E(types.KindValidationError, "schedule not found: %s", id)
	}
	s.disarmLocked(id)
	disabled := false
	sched.Spec.Enabled = &disabled
	sched.NextRunAt = time.Time{}
	return nil
}

// Resume re-arms a paused schedule.
func (s *Scheduler) Resume(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sched, ok := s.schedules[id]
	if !ok {
		return types.E(types.KindValidationError, "schedule not found: %s", id)
	}
	enabled := true
	sched.Spec.Enabled = &enabled
	return s.armLocked(sched)
}

// TriggerNow fires a schedule immediately, off cron, and returns the
// execution id.
func (s *Scheduler) TriggerNow(id string) (string, error) {
	s.mu.RLock()
	sched, ok := s.schedules[id]
	s.mu.RUnlock()
	if !ok {
		return "", types.E(types.KindValidationError, "schedule not found: %s", id)
	}

	execID := ids.New("run")
	go s.execute(sched, execID)
	return execID, nil
}

// Get returns a schedule by id.
func (s *Scheduler) Get(id string) (*Schedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sched, ok := s.schedules[id]
	if !ok {
		return nil, types.E(types.KindValidationError, "schedule not found: %s", id)
	}
	cp := *sched
	return &cp, nil
}

// List returns all schedules.
func (s *Scheduler) List() []*Schedule {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Schedule, 0, len(s.schedules))
	for _, sched := range s.schedules {
		cp := *sched
		out = append(out, &cp)
	}
	return out
}

// Count returns the number of registered schedules.
func (s *Scheduler) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.schedules)
}

// bySource finds the schedule loaded from a given file path.
func (s *Scheduler) bySource(source string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for id, sched := range s.schedules {
		if sched.Source == source {
			return id, true
		}
	}
	return "", false
}

// armLocked registers the cron entry for an enabled schedule. The
// caller holds s.mu.
func (s *Scheduler) armLocked(sched *Schedule) error {
	if !enabled(sched.Spec) {
		return nil
	}

	parsed, err := cron.ParseStandard(sched.Spec.Cron)
	if err != nil {
		return types.Wrap(types.KindValidationError, err, "parse cron %q", sched.Spec.Cron)
	}

	id := sched.ID
	entryID, err := s.engine.AddFunc(sched.Spec.Cron, func() {
		s.execute(sched, ids.New("run"))
	})
	if err != nil {
		return types.Wrap(types.KindValidationError, err, "arm schedule %s", id)
	}
	s.entries[id] = entryID
	sched.NextRunAt = parsed.Next(time.Now().In(location(sched.Spec)))
	return nil
}

// disarmLocked removes the cron entry, if armed. The caller holds s.mu.
func (s *Scheduler) disarmLocked(id string) {
	if entryID, ok := s.entries[id]; ok {
		s.engine.Remove(entryID)
		delete(s.entries, id)
	}
}

// execute runs one schedule firing. The spec is copied under s.mu once at
// the top; an Update landing mid-run takes effect on the next firing.
func (s *Scheduler) execute(sched *Schedule, execID string) {
	s.mu.Lock()
	spec := sched.Spec
	if spec.SkipIfRunning {
		if current := s.running[sched.ID]; current != "" {
			sched.Stats.Skipped++
			s.mu.Unlock()
			s.logger.Info("schedule skipped, previous run in flight",
				zap.String("schedule_id", sched.ID),
				zap.String("current_execution", current))
			return
		}
	}
	s.running[sched.ID] = execID
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		if s.running[sched.ID] == execID {
			delete(s.running, sched.ID)
		}
		s.mu.Unlock()
	}()

	timeout := DefaultMaxExecution
	if spec.MaxExecutionSeconds > 0 {
		timeout = time.Duration(spec.MaxExecutionSeconds) * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	start := time.Now()
	s.logger.Info("schedule firing",
		zap.String("schedule_id", sched.ID),
		zap.String("execution_id", execID),
		zap.String("name", spec.Name))

	metadata := map[string]any{
		"schedule_id":   sched.ID,
		"schedule_name": spec.Name,
		"execution_id":  execID,
	}
	for k, v := range spec.Metadata {
		metadata[k] = v
	}
	err := s.runner.Submit(ctx, spec.Command, metadata)

	s.mu.Lock()
	sched.Stats.Runs++
	sched.Stats.LastRunAt = start
	if err != nil {
		sched.Stats.Failures++
		sched.Stats.LastError = err.Error()
	} else {
		sched.Stats.LastError = ""
	}
	if parsed, perr := cron.ParseStandard(sched.Spec.Cron); perr == nil {
		sched.NextRunAt = parsed.Next(time.Now().In(location(sched.Spec)))
	}
	s.mu.Unlock()

	if err != nil {
		s.logger.Error("scheduled command failed",
			zap.String("schedule_id", sched.ID),
			zap.String("execution_id", execID),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err))
		return
	}
	s.logger.Info("scheduled command succeeded",
		zap.String("schedule_id", sched.ID),
		zap.String("execution_id", execID),
		zap.Duration("duration", time.Since(start)))
}

// validateSpec checks a spec and fills defaults.
func validateSpec(spec *Spec) error {
	if spec.Name == "" {
		return types.E(types.KindValidationError, "schedule name is required")
	}
	if spec.Command == "" {
		return types.E(types.KindValidationError, "schedule command is required")
	}
	if spec.Cron == "" {
		return types.E(types.KindValidationError, "cron expression is required")
	}
	if _, err := cron.ParseStandard(spec.Cron); err != nil {
		return types.Wrap(types.KindValidationError, err, "invalid cron expression %q", spec.Cron)
	}
	if spec.Timezone == "" {
		spec.Timezone = "UTC"
	}
	if _, err := time.LoadLocation(spec.Timezone); err != nil {
		return types.Wrap(types.KindValidationError, err, "invalid timezone %q", spec.Timezone)
	}
	return nil
}

func enabled(spec Spec) bool {
	return spec.Enabled == nil || *spec.Enabled
}

func location(spec Spec) *time.Location {
	loc, err := time.LoadLocation(spec.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
