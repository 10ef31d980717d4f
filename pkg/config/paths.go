// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package config locates the cadenza data directory and its
// subdirectories.
package config

import (
	"os"
	"path/filepath"
	"strings"
)

// DataDir returns the cadenza data directory.
//
// Priority:
// 1. CADENZA_DATA_DIR environment variable (if set and non-empty)
// 2. ~/.cadenza (default)
//
// The returned path is always absolute. Tilde (~) in CADENZA_DATA_DIR is
// expanded to the user's home directory; relative paths are made
// absolute. This reads os.Getenv directly, not viper, because it is
// needed to locate the config file before config is loaded.
func DataDir() string {
	if dir := os.Getenv("CADENZA_DATA_DIR"); dir != "" {
		return expandPath(dir)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".cadenza"
	}
	return filepath.Join(home, ".cadenza")
}

// SubDir returns a subdirectory within the data directory.
// Example: SubDir("schedules") returns ~/.cadenza/schedules.
func SubDir(subdir string) string {
	return filepath.Join(DataDir(), subdir)
}

// expandPath expands ~ and resolves to an absolute path.
func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	return abs
}
