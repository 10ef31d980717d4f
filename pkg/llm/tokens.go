// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package llm

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// tokenEncoding is cl100k_base, a close approximation for the Claude family.
const tokenEncoding = "cl100k_base"

var (
	tokenEncoder     *tiktoken.Tiktoken
	tokenEncoderMu   sync.Mutex
	tokenEncoderOnce sync.Once
)

// EstimateTokens returns the token count of text under cl100k_base. Falls
// back to a chars/4 estimate when the encoding data is unavailable.
func EstimateTokens(text string) int {
	tokenEncoderOnce.Do(func() {
		enc, err := tiktoken.GetEncoding(tokenEncoding)
		if err == nil {
			tokenEncoder = enc
		}
	})
	if tokenEncoder == nil {
		return len(text) / 4
	}
	tokenEncoderMu.Lock()
	defer tokenEncoderMu.Unlock()
	return len(tokenEncoder.Encode(text, nil, nil))
}

// BackfillUsage fills zero usage fields from the request and response text.
// Providers that report usage are left untouched.
func BackfillUsage(req Request, resp *Response) {
	if resp == nil {
		return
	}
	if resp.Usage.InputTokens == 0 {
		resp.Usage.InputTokens = EstimateTokens(req.System) + EstimateTokens(req.Prompt)
	}
	if resp.Usage.OutputTokens == 0 {
		resp.Usage.OutputTokens = EstimateTokens(resp.Content)
	}
	if resp.Usage.TotalTokens == 0 {
		resp.Usage.TotalTokens = resp.Usage.InputTokens + resp.Usage.OutputTokens
	}
}
