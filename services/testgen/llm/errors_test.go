// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

func TestProviderError_Retryable(t *testing.T) {
	tests := []struct {
		kind ErrorKind
		want bool
	}{
		{KindRateLimit, true},
		{KindQuota, false},
		{KindNonRetryable, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			e := &ProviderError{Kind: tt.kind}
			if got := e.Retryable(); got != tt.want {
				t.Errorf("Retryable() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestProviderError_ErrorAndUnwrap(t *testing.T) {
	inner := errors.New("connection reset")
	e := &ProviderError{Kind: KindRateLimit, Message: "too many requests", Err: inner}

	if !strings.Contains(e.Error(), "rate_limit") || !strings.Contains(e.Error(), "too many requests") {
		t.Errorf("Error() = %q, want kind and message", e.Error())
	}
	if !errors.Is(e, inner) {
		t.Error("errors.Is should reach the wrapped error")
	}
}

func TestAsProviderError_Wrapped(t *testing.T) {
	pe := &ProviderError{Kind: KindQuota, Message: "quota"}
	wrapped := fmt.Errorf("generating target: %w", pe)

	got, ok := AsProviderError(wrapped)
	if !ok || got.Kind != KindQuota {
		t.Errorf("AsProviderError() = %v, %v; want the quota error", got, ok)
	}
	if !IsQuota(wrapped) {
		t.Error("IsQuota should see through wrapping")
	}
	if IsRetryable(wrapped) {
		t.Error("quota errors are not retryable")
	}
}

func TestIsProviderNonRetryable(t *testing.T) {
	pe := &ProviderError{Kind: KindNonRetryable, Message: "invalid api key", StatusCode: 401}
	wrapped := fmt.Errorf("generating target: %w", pe)

	if !IsProviderNonRetryable(wrapped) {
		t.Error("IsProviderNonRetryable should see through wrapping")
	}
	if IsProviderNonRetryable(&ProviderError{Kind: KindQuota}) {
		t.Error("quota is not the non-retryable kind")
	}
	if IsProviderNonRetryable(errors.New("plain")) {
		t.Error("plain errors should not match")
	}
}

func TestAsProviderError_PlainError(t *testing.T) {
	if _, ok := AsProviderError(errors.New("plain")); ok {
		t.Error("plain errors should not match")
	}
	if IsRetryable(errors.New("plain")) {
		t.Error("plain errors are not retryable")
	}
}

func TestClassifyProviderError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantKind ErrorKind
	}{
		{
			"quota 429",
			&openai.APIError{HTTPStatusCode: http.StatusTooManyRequests, Code: "insufficient_quota", Message: "quota exceeded"},
			KindQuota,
		},
		{
			"throttle 429",
			&openai.APIError{HTTPStatusCode: http.StatusTooManyRequests, Code: "rate_limit_exceeded", Message: "slow down"},
			KindRateLimit,
		},
		{
			"server error",
			&openai.APIError{HTTPStatusCode: http.StatusBadGateway, Message: "upstream"},
			KindRateLimit,
		},
		{
			"bad request",
			&openai.APIError{HTTPStatusCode: http.StatusBadRequest, Message: "invalid model"},
			KindNonRetryable,
		},
		{
			"unauthorized",
			&openai.APIError{HTTPStatusCode: http.StatusUnauthorized, Message: "bad key"},
			KindNonRetryable,
		},
		{
			"transport failure",
			errors.New("dial tcp: connection refused"),
			KindRateLimit,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := classifyProviderError(tt.err)
			if got.Kind != tt.wantKind {
				t.Errorf("kind = %v, want %v", got.Kind, tt.wantKind)
			}
			if !errors.Is(got, tt.err) {
				t.Error("classified error must wrap the original")
			}
		})
	}
}

func TestRetryAfterHint(t *testing.T) {
	tests := []struct {
		name string
		err  *openai.APIError
		want time.Duration
	}{
		{"numeric code", &openai.APIError{Code: "20"}, 20 * time.Second},
		{"non-numeric code", &openai.APIError{Code: "rate_limit_exceeded"}, 0},
		{"nil", nil, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := retryAfterHint(tt.err); got != tt.want {
				t.Errorf("retryAfterHint() = %v, want %v", got, tt.want)
			}
		})
	}
}
