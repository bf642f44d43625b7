// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package session

import (
	"log/slog"
	"strings"
)

// SanitizeError maps an internal error message to a client-safe one.
// Provider credentials, hostnames, and stack detail never reach the wire;
// the full error is logged by the caller.
func SanitizeError(errMsg string) string {
	slog.Debug("sanitizing error for client", "original_error", errMsg)

	switch {
	case strings.Contains(errMsg, "context deadline exceeded"),
		strings.Contains(errMsg, "timeout"):
		return "The model took too long to respond"
	case strings.Contains(errMsg, "rate limit"),
		strings.Contains(errMsg, "429"):
		return "The model is receiving too many requests, try again shortly"
	default:
		return "An error occurred while processing your request"
	}
}

// EstimateTokens gives a deterministic token estimate for a piece of text.
// Word count scaled by 4/3 tracks typical English tokenizer output closely
// enough for display and budgeting. Stable across repeated calls on the
// same input; not a tokenizer.
func EstimateTokens(text string) int {
	words := len(strings.Fields(text))
	return (words*4 + 2) / 3
}
