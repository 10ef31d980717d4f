// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run \"<command>\"",
	Short: "Compile a voice command and execute the resulting workflow",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.Validate(); err != nil {
			return err
		}

		eng, err := buildEngine(config)
		if err != nil {
			return err
		}
		defer eng.Close()

		utterance := strings.Join(args, " ")
		ctx := cmd.Context()

		w, err := eng.ProcessVoiceCommand(ctx, utterance, nil)
		if err != nil {
			return err
		}
		fmt.Printf("Workflow %s (%d agents)\n", w.ID(), len(w.Plan().Children))

		execErr := eng.ExecuteWorkflow(ctx, w)

		fmt.Printf("State: %s\n", w.State())
		for _, a := range eng.Agents(w.ID()) {
			line := fmt.Sprintf("  %-12s %s", a.Role(), a.State())
			if msg := a.Err(); msg != "" {
				line += "  " + msg
			}
			fmt.Println(line)
			if out, ok := a.Output().(string); ok && out != "" {
				fmt.Println(indent(out, "    "))
			}
		}
		return execErr
	},
}

func indent(s, prefix string) string {
	lines := strings.Split(strings.TrimRight(s, "\n"), "\n")
	for i, line := range lines {
		lines[i] = prefix + line
	}
	return strings.Join(lines, "\n")
}

func init() {
	rootCmd.AddCommand(runCmd)
}
