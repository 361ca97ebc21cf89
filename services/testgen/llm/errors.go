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
	"time"
)

// ErrorKind is the closed set of provider failure categories. Callers
// dispatch on kind with an exhaustive switch rather than type
// assertions on an error hierarchy.
type ErrorKind string

const (
	// KindRateLimit marks rate-limit responses. Always retryable;
	// carries a retry-after hint when the provider supplied one.
	KindRateLimit ErrorKind = "rate_limit"

	// KindQuota marks exhausted quota or billing failures. Not
	// retryable; further calls to the provider are guaranteed to fail
	// identically, so the caller aborts the remaining batch.
	KindQuota ErrorKind = "quota"

	// KindNonRetryable marks configuration or request errors such as
	// an invalid API key. Like quota, identical calls will keep
	// failing, so the caller aborts the remaining batch.
	KindNonRetryable ErrorKind = "non_retryable"
)

// ProviderError is a provider failure tagged with its kind.
type ProviderError struct {
	// Kind selects the failure category.
	Kind ErrorKind

	// Message is the provider-reported description.
	Message string

	// StatusCode is the HTTP status when known.
	StatusCode int

	// RetryAfter is the provider's retry hint for rate limits, zero
	// when absent.
	RetryAfter time.Duration

	// Err is the underlying transport error.
	Err error
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("provider %s: %s", e.Kind, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("provider %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("provider %s", e.Kind)
}

// Unwrap returns the underlying error.
func (e *ProviderError) Unwrap() error {
	return e.Err
}

// Retryable reports whether the caller may retry the call.
func (e *ProviderError) Retryable() bool {
	return e.Kind == KindRateLimit
}

// AsProviderError extracts a ProviderError from an error chain.
func AsProviderError(err error) (*ProviderError, bool) {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// IsQuota reports whether the error chain carries a quota failure.
func IsQuota(err error) bool {
	pe, ok := AsProviderError(err)
	return ok && pe.Kind == KindQuota
}

// IsProviderNonRetryable reports whether the error chain carries a
// non-retryable provider failure.
func IsProviderNonRetryable(err error) bool {
	pe, ok := AsProviderError(err)
	return ok && pe.Kind == KindNonRetryable
}

// IsRetryable reports whether the error chain carries a retryable
// provider failure.
func IsRetryable(err error) bool {
	pe, ok := AsProviderError(err)
	return ok && pe.Retryable()
}
