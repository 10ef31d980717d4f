// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/teradata-labs/cadenza/internal/log"
	"github.com/teradata-labs/cadenza/pkg/scheduler"
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Run scheduled commands from the schedule directory",
	Long:  `Watches the schedule directory for YAML files describing cron-scheduled voice commands and executes them until interrupted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.Validate(); err != nil {
			return err
		}

		eng, err := buildEngine(config)
		if err != nil {
			return err
		}
		defer eng.Close()

		if err := os.MkdirAll(config.Scheduler.Dir, 0o755); err != nil {
			return fmt.Errorf("create schedule directory: %w", err)
		}

		sched, err := scheduler.New(scheduler.Config{
			Runner: eng,
			Dir:    config.Scheduler.Dir,
			Logger: log.Logger(),
		})
		if err != nil {
			return err
		}
		if err := sched.Start(cmd.Context()); err != nil {
			return err
		}
		fmt.Printf("Scheduler running, watching %s (%d schedules)\n", config.Scheduler.Dir, sched.Count())

		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return sched.Stop(ctx)
	},
}

func init() {
	rootCmd.AddCommand(scheduleCmd)
}
