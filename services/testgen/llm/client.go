// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package llm is the transport to the text-generation service. The
// pipeline treats a generation as one opaque call per attempt, with
// provider failures surfaced as tagged error kinds.
package llm

import (
	"context"
	"errors"

	"github.com/AleutianAI/testweaver/services/testgen/prompt"
)

// ErrEmptyMessages indicates a request with no messages.
var ErrEmptyMessages = errors.New("messages must not be empty")

// Usage carries provider-reported token counters for one call.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// GenerationResult is the outcome of one generation call. TestCode is
// the raw model output before parsing and validation.
type GenerationResult struct {
	TestCode string `json:"test_code"`
	Usage    Usage  `json:"usage"`
}

// Client abstracts the text-generation service.
//
// Implementations must honor context cancellation, apply their own
// rate limiting, and classify provider failures into ProviderError
// kinds.
//
// Thread Safety: Implementations must be safe for concurrent use.
type Client interface {
	// GenerateTest sends the ordered message list and returns the raw
	// generated test code with usage counters.
	//
	// Errors are *ProviderError tagged with kind; KindRateLimit is
	// retryable, KindQuota terminates the batch for this provider.
	GenerateTest(ctx context.Context, messages []prompt.Message) (*GenerationResult, error)

	// GenerateTestScaffold is GenerateTest for scaffold-mode message
	// lists. Kept as a separate operation so implementations can
	// apply different generation parameters to skeleton output.
	GenerateTestScaffold(ctx context.Context, messages []prompt.Message) (*GenerationResult, error)
}
