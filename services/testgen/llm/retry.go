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
	"context"
	"errors"
	"math/rand"
	"time"
)

// ErrInvalidRetryConfig indicates an unusable retry configuration.
var ErrInvalidRetryConfig = errors.New("invalid retry config")

// Sleeper waits for a duration or until the context is done. Injected
// so tests run without real delays.
type Sleeper func(ctx context.Context, d time.Duration) error

// defaultSleeper waits on a timer.
func defaultSleeper(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// RetryConfig configures bounded exponential backoff. The retry is an
// explicit loop with an attempt counter; stack depth stays constant
// regardless of attempt count.
type RetryConfig struct {
	// MaxAttempts is the total number of attempts including the first.
	MaxAttempts int

	// InitialBackoff is the wait before the first retry.
	InitialBackoff time.Duration

	// MaxBackoff caps the wait between retries.
	MaxBackoff time.Duration

	// BackoffFactor multiplies the wait after each retry.
	BackoffFactor float64

	// JitterFactor is the maximum jitter as a fraction of the wait
	// (0-1), spreading out synchronized retries.
	JitterFactor float64
}

// DefaultRetryConfig returns the default backoff policy.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: 1 * time.Second,
		MaxBackoff:     30 * time.Second,
		BackoffFactor:  2.0,
		JitterFactor:   0.2,
	}
}

// Validate checks the configuration.
func (c RetryConfig) Validate() error {
	if c.MaxAttempts < 1 {
		return ErrInvalidRetryConfig
	}
	if c.InitialBackoff <= 0 || c.MaxBackoff < c.InitialBackoff {
		return ErrInvalidRetryConfig
	}
	if c.BackoffFactor < 1.0 {
		return ErrInvalidRetryConfig
	}
	return nil
}

// RetryableFunc is one attempt of the operation under retry.
type RetryableFunc func(ctx context.Context, attempt int) error

// Retry runs fn with bounded exponential backoff.
//
// Only retryable provider errors (KindRateLimit) trigger another
// attempt; all other errors return immediately. A rate-limit error
// carrying a RetryAfter hint overrides the computed wait for that
// retry.
func Retry(ctx context.Context, cfg RetryConfig, sleep Sleeper, fn RetryableFunc) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if sleep == nil {
		sleep = defaultSleeper
	}

	backoff := cfg.InitialBackoff
	var lastErr error

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := fn(ctx, attempt)
		if err == nil {
			return nil
		}
		lastErr = err

		if !IsRetryable(err) {
			return err
		}
		if attempt == cfg.MaxAttempts {
			break
		}

		wait := withJitter(backoff, cfg.JitterFactor)
		if pe, ok := AsProviderError(err); ok && pe.RetryAfter > 0 {
			wait = pe.RetryAfter
		}
		if err := sleep(ctx, wait); err != nil {
			return err
		}

		backoff = time.Duration(float64(backoff) * cfg.BackoffFactor)
		if backoff > cfg.MaxBackoff {
			backoff = cfg.MaxBackoff
		}
	}
	return lastErr
}

// withJitter spreads the wait into [base*(1-j), base*(1+j)].
func withJitter(base time.Duration, jitterFactor float64) time.Duration {
	if jitterFactor <= 0 {
		return base
	}
	jitter := (rand.Float64()*2 - 1) * jitterFactor
	return time.Duration(float64(base) * (1.0 + jitter))
}
