// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package compiler

import "strings"

// sentinelPairs are token wrappers some models emit around JSON replies.
var sentinelPairs = [][2]string{
	{"<json>", "</json>"},
	{"<output>", "</output>"},
	{"<answer>", "</answer>"},
}

// stripWrapper removes the outermost reply wrapper, if any: a triple
// backtick fence (with optional language tag) or a known sentinel pair.
// Only one wrapper is stripped; nested wrappers are left for the JSON
// decoder to reject.
func stripWrapper(reply string) string {
	s := strings.TrimSpace(reply)

	if strings.HasPrefix(s, "```") && strings.HasSuffix(s, "```") && len(s) > 6 {
		inner := strings.TrimPrefix(s, "```")
		// Drop a language tag like "json" on the fence line.
		if idx := strings.IndexByte(inner, '\n'); idx >= 0 {
			firstLine := strings.TrimSpace(inner[:idx])
			if firstLine != "" && !strings.ContainsAny(firstLine, "{[") {
				inner = inner[idx+1:]
			}
		}
		inner = strings.TrimSuffix(inner, "```")
		return strings.TrimSpace(inner)
	}

	for _, pair := range sentinelPairs {
		if strings.HasPrefix(s, pair[0]) && strings.HasSuffix(s, pair[1]) {
			inner := strings.TrimPrefix(s, pair[0])
			inner = strings.TrimSuffix(inner, pair[1])
			return strings.TrimSpace(inner)
		}
	}
	return s
}
