// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package scheduler

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teradata-labs/cadenza/pkg/types"
)

// fakeRunner records submitted commands and can block or fail.
type fakeRunner struct {
	mu       sync.Mutex
	commands []string
	metadata []map[string]any
	block    chan struct{}
	err      error
}

func (r *fakeRunner) Submit(ctx context.Context, command string, metadata map[string]any) error {
	r.mu.Lock()
	r.commands = append(r.commands, command)
	r.metadata = append(r.metadata, metadata)
	block := r.block
	err := r.err
	r.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}

func (r *fakeRunner) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.commands)
}

func newScheduler(t *testing.T, r Runner) *Scheduler {
	t.Helper()
	s, err := New(Config{Runner: r})
	require.NoError(t, err)
	return s
}

func TestNewRequiresRunner(t *testing.T) {
	_, err := New(Config{})
	assert.True(t, types.IsKind(err, types.KindValidationError))
}

func TestAddValidation(t *testing.T) {
	s := newScheduler(t, &fakeRunner{})

	cases := []Spec{
		{Command: "deploy", Cron: "* * * * *"},                                      // no name
		{Name: "n", Cron: "* * * * *"},                                              // no command
		{Name: "n", Command: "deploy"},                                              // no cron
		{Name: "n", Command: "deploy", Cron: "not a cron"},                          // bad cron
		{Name: "n", Command: "deploy", Cron: "* * * * *", Timezone: "Mars/Olympus"}, // bad tz
	}
	for _, spec := range cases {
		_, err := s.Add(spec, "")
		assert.True(t, types.IsKind(err, types.KindValidationError), "%+v", spec)
	}
}

func TestAddGetListRemove(t *testing.T) {
	s := newScheduler(t, &fakeRunner{})

	sched, err := s.Add(Spec{Name: "nightly", Command: "run the nightly sync", Cron: "0 2 * * *"}, "")
	require.NoError(t, err)
	assert.Equal(t, "UTC", sched.Spec.Timezone)
	assert.False(t, sched.NextRunAt.IsZero())

	got, err := s.Get(sched.ID)
	require.NoError(t, err)
	assert.Equal(t, "nightly", got.Spec.Name)

	assert.Len(t, s.List(), 1)
	require.NoError(t, s.Remove(sched.ID))
	assert.Zero(t, s.Count())

	_, err = s.Get(sched.ID)
	assert.Error(t, err)
}

func TestTriggerNowRunsCommand(t *testing.T) {
	r := &fakeRunner{}
	s := newScheduler(t, r)

	sched, err := s.Add(Spec{
		Name:     "report",
		Command:  "research competitor pricing",
		Cron:     "0 2 * * *",
		Metadata: map[string]any{"tenant": "acme"},
	}, "")
	require.NoError(t, err)

	execID, err := s.TriggerNow(sched.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, execID)

	require.Eventually(t, func() bool { return r.count() == 1 }, 2*time.Second, 5*time.Millisecond)

	r.mu.Lock()
	defer r.mu.Unlock()
	assert.Equal(t, "research competitor pricing", r.commands[0])
	assert.Equal(t, sched.ID, r.metadata[0]["schedule_id"])
	assert.Equal(t, "report", r.metadata[0]["schedule_name"])
	assert.Equal(t, "acme", r.metadata[0]["tenant"])
}

func TestStatsTrackOutcomes(t *testing.T) {
	r := &fakeRunner{err: errors.New("model unreachable")}
	s := newScheduler(t, r)

	sched, err := s.Add(Spec{Name: "n", Command: "deploy", Cron: "0 2 * * *"}, "")
	require.NoError(t, err)

	_, err = s.TriggerNow(sched.ID)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		got, _ := s.Get(sched.ID)
		return got.Stats.Runs == 1
	}, 2*time.Second, 5*time.Millisecond)

	got, err := s.Get(sched.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, got.Stats.Failures)
	assert.Contains(t, got.Stats.LastError, "model unreachable")
}

func TestSkipIfRunning(t *testing.T) {
	r := &fakeRunner{block: make(chan struct{})}
	s := newScheduler(t, r)

	sched, err := s.Add(Spec{
		Name: "n", Command: "deploy", Cron: "0 2 * * *", SkipIfRunning: true,
	}, "")
	require.NoError(t, err)

	_, err = s.TriggerNow(sched.ID)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return r.count() == 1 }, 2*time.Second, 5*time.Millisecond)

	// Second firing while the first is blocked gets skipped.
	_, err = s.TriggerNow(sched.ID)
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		got, _ := s.Get(sched.ID)
		return got.Stats.Skipped == 1
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, r.count())

	close(r.block)
}

func TestUpdateDuringRunKeepsFiringSpec(t *testing.T) {
	r := &fakeRunner{block: make(chan struct{})}
	s := newScheduler(t, r)

	sched, err := s.Add(Spec{Name: "sync", Command: "run the original sync", Cron: "0 2 * * *"}, "")
	require.NoError(t, err)

	_, err = s.TriggerNow(sched.ID)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return r.count() == 1 }, 2*time.Second, 5*time.Millisecond)

	// The in-flight run copied its spec at firing time; an update landing
	// mid-run takes effect on the next firing only.
	require.NoError(t, s.Update(sched.ID, Spec{
		Name: "sync", Command: "run the replacement sync", Cron: "0 3 * * *",
	}))
	close(r.block)

	require.Eventually(t, func() bool {
		got, gerr := s.Get(sched.ID)
		return gerr == nil && got.Stats.Runs == 1
	}, 2*time.Second, 5*time.Millisecond)

	r.mu.Lock()
	defer r.mu.Unlock()
	require.Equal(t, []string{"run the original sync"}, r.commands)
	assert.Equal(t, "sync", r.metadata[0]["schedule_name"])
}

func TestPauseResume(t *testing.T) {
	s := newScheduler(t, &fakeRunner{})

	sched, err := s.Add(Spec{Name: "n", Command: "deploy", Cron: "0 2 * * *"}, "")
	require.NoError(t, err)

	require.NoError(t, s.Pause(sched.ID))
	got, err := s.Get(sched.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Spec.Enabled)
	assert.False(t, *got.Spec.Enabled)
	assert.True(t, got.NextRunAt.IsZero())

	require.NoError(t, s.Resume(sched.ID))
	got, err = s.Get(sched.ID)
	require.NoError(t, err)
	assert.True(t, *got.Spec.Enabled)
	assert.False(t, got.NextRunAt.IsZero())
}

func TestLoaderScanAddsUpdatesRemoves(t *testing.T) {
	dir := t.TempDir()
	s := newScheduler(t, &fakeRunner{})
	l := newLoader(dir, s, s.logger)

	path := filepath.Join(dir, "nightly.yaml")
	require.NoError(t, os.WriteFile(path, []byte(
		"name: nightly\ncommand: run the nightly sync\ncron: \"0 2 * * *\"\n",
	), 0o600))

	require.NoError(t, l.scan(context.Background()))
	require.Equal(t, 1, s.Count())
	id, ok := s.bySource(path)
	require.True(t, ok)

	// Unchanged file is not reloaded.
	require.NoError(t, l.scan(context.Background()))
	assert.Equal(t, 1, s.Count())

	// Changed file updates in place, keeping the schedule id.
	require.NoError(t, os.WriteFile(path, []byte(
		"name: nightly\ncommand: run the nightly sync\ncron: \"0 3 * * *\"\n",
	), 0o600))
	require.NoError(t, l.scan(context.Background()))
	require.Equal(t, 1, s.Count())
	got, err := s.Get(id)
	require.NoError(t, err)
	assert.Equal(t, "0 3 * * *", got.Spec.Cron)

	// Deleted file removes the schedule.
	require.NoError(t, os.Remove(path))
	require.NoError(t, l.scan(context.Background()))
	assert.Zero(t, s.Count())
}

func TestLoaderDefaultsNameFromFile(t *testing.T) {
	dir := t.TempDir()
	s := newScheduler(t, &fakeRunner{})
	l := newLoader(dir, s, s.logger)

	path := filepath.Join(dir, "weekly-report.yml")
	require.NoError(t, os.WriteFile(path, []byte(
		"command: compile the weekly report\ncron: \"0 9 * * 1\"\n",
	), 0o600))
	require.NoError(t, l.scan(context.Background()))

	id, ok := s.bySource(path)
	require.True(t, ok)
	got, err := s.Get(id)
	require.NoError(t, err)
	assert.Equal(t, "weekly-report", got.Spec.Name)
}

func TestLoaderSkipsBadFiles(t *testing.T) {
	dir := t.TempDir()
	s := newScheduler(t, &fakeRunner{})
	l := newLoader(dir, s, s.logger)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.yaml"), []byte("cron: [\n"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "good.yaml"), []byte(
		"name: good\ncommand: deploy\ncron: \"* * * * *\"\n",
	), 0o600))

	require.NoError(t, l.scan(context.Background()))
	assert.Equal(t, 1, s.Count())
}

func TestStartStopWithHotReload(t *testing.T) {
	dir := t.TempDir()
	s, err := New(Config{Runner: &fakeRunner{}, Dir: dir})
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.yaml"), []byte(
		"name: a\ncommand: deploy\ncron: \"0 2 * * *\"\n",
	), 0o600))

	require.NoError(t, s.Start(context.Background()))
	assert.Equal(t, 1, s.Count())

	// A file dropped in after start is picked up by the watcher.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.yaml"), []byte(
		"name: b\ncommand: deploy again\ncron: \"0 4 * * *\"\n",
	), 0o600))
	require.Eventually(t, func() bool { return s.Count() == 2 }, 3*time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
}
