// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

// Package ids generates prefixed opaque identifiers.
package ids

import (
	"strings"

	"github.com/google/uuid"
)

// New returns an identifier of the form "<prefix>_<8 hex chars>".
func New(prefix string) string {
	return prefix + "_" + strings.ReplaceAll(uuid.New().String(), "-", "")[:8]
}
