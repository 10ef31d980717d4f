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

	"github.com/teradata-labs/cadenza/pkg/workingset"
)

var storeCmd = &cobra.Command{
	Use:   "store",
	Short: "Inspect the working-set store",
}

var storeThreadsCmd = &cobra.Command{
	Use:   "threads [query]",
	Short: "Search threads by text, status, and metadata",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(config)
		if err != nil {
			return err
		}
		defer store.Close()

		status, _ := cmd.Flags().GetString("status")
		limit, _ := cmd.Flags().GetInt("limit")
		threads := store.SearchThreads(workingset.ThreadQuery{
			Query:  strings.Join(args, " "),
			Status: status,
			Limit:  limit,
		})
		for _, t := range threads {
			fmt.Printf("%s  %-10s  %d messages  %s\n",
				t.ID, t.Status, len(t.Messages), t.UpdatedAt.Format("2006-01-02 15:04:05"))
		}
		fmt.Printf("%d thread(s)\n", len(threads))
		return nil
	},
}

var storeItemsCmd = &cobra.Command{
	Use:   "items [query]",
	Short: "Search items by text, type, and tags",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(config)
		if err != nil {
			return err
		}
		defer store.Close()

		itemType, _ := cmd.Flags().GetString("type")
		tags, _ := cmd.Flags().GetStringSlice("tag")
		limit, _ := cmd.Flags().GetInt("limit")
		items := store.SearchItems(workingset.ItemQuery{
			Query: strings.Join(args, " "),
			Type:  itemType,
			Tags:  tags,
			Limit: limit,
		})
		for _, item := range items {
			fmt.Printf("%s  %-14s  tags=%s  %s\n",
				item.ID, item.Type, strings.Join(item.Tags, ","),
				item.UpdatedAt.Format("2006-01-02 15:04:05"))
		}
		fmt.Printf("%d item(s)\n", len(items))
		return nil
	},
}

var storeStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show working-set statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore(config)
		if err != nil {
			return err
		}
		defer store.Close()

		blob, err := json.MarshalIndent(store.Stats(), "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(blob))
		return nil
	},
}

func init() {
	storeThreadsCmd.Flags().String("status", "", "filter by thread status")
	storeThreadsCmd.Flags().Int("limit", 0, "maximum results (0: default)")

	storeItemsCmd.Flags().String("type", "", "filter by item type")
	storeItemsCmd.Flags().StringSlice("tag", nil, "filter by tag (repeatable)")
	storeItemsCmd.Flags().Int("limit", 0, "maximum results (0: default)")

	storeCmd.AddCommand(storeThreadsCmd, storeItemsCmd, storeStatsCmd)
	rootCmd.AddCommand(storeCmd)
}
