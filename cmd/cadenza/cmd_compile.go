// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/teradata-labs/cadenza/internal/log"
	"github.com/teradata-labs/cadenza/pkg/compiler"
	"github.com/teradata-labs/cadenza/pkg/gates"
)

var compileCmd = &cobra.Command{
	Use:   "compile \"<command>\"",
	Short: "Compile a voice command into a workflow plan without executing it",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		provider, err := buildProvider(config)
		if err != nil {
			return err
		}

		c := compiler.New(compiler.Config{
			Provider: provider,
			Gates:    gates.New(gates.Config{Provider: provider, Logger: log.Logger()}),
			Logger:   log.Logger(),
		})
		intent, err := c.Compile(cmd.Context(), strings.Join(args, " "), nil)
		if err != nil {
			return err
		}

		blob, err := json.MarshalIndent(intent, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(blob))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(compileCmd)
}
