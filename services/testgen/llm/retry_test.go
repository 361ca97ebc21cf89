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
	"testing"
	"time"
)

// fakeSleeper records requested waits without sleeping.
type fakeSleeper struct {
	waits []time.Duration
}

func (s *fakeSleeper) sleep(_ context.Context, d time.Duration) error {
	s.waits = append(s.waits, d)
	return nil
}

func noJitterConfig(maxAttempts int) RetryConfig {
	return RetryConfig{
		MaxAttempts:    maxAttempts,
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     1 * time.Second,
		BackoffFactor:  2.0,
		JitterFactor:   0,
	}
}

func TestRetry_SucceedsFirstAttempt(t *testing.T) {
	sleeper := &fakeSleeper{}
	attempts := 0

	err := Retry(context.Background(), noJitterConfig(3), sleeper.sleep, func(_ context.Context, _ int) error {
		attempts++
		return nil
	})

	if err != nil {
		t.Fatalf("Retry() error = %v", err)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
	if len(sleeper.waits) != 0 {
		t.Errorf("slept %d times, want 0", len(sleeper.waits))
	}
}

func TestRetry_RetriesRateLimitThenSucceeds(t *testing.T) {
	sleeper := &fakeSleeper{}
	attempts := 0

	err := Retry(context.Background(), noJitterConfig(3), sleeper.sleep, func(_ context.Context, _ int) error {
		attempts++
		if attempts < 3 {
			return &ProviderError{Kind: KindRateLimit, Message: "throttled"}
		}
		return nil
	})

	if err != nil {
		t.Fatalf("Retry() error = %v", err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
	// Exponential with no jitter: 100ms then 200ms.
	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}
	if len(sleeper.waits) != len(want) {
		t.Fatalf("slept %d times, want %d", len(sleeper.waits), len(want))
	}
	for i := range want {
		if sleeper.waits[i] != want[i] {
			t.Errorf("wait %d = %v, want %v", i, sleeper.waits[i], want[i])
		}
	}
}

func TestRetry_BoundedAttempts(t *testing.T) {
	sleeper := &fakeSleeper{}
	attempts := 0
	rateLimited := &ProviderError{Kind: KindRateLimit, Message: "throttled"}

	err := Retry(context.Background(), noJitterConfig(3), sleeper.sleep, func(_ context.Context, _ int) error {
		attempts++
		return rateLimited
	})

	if attempts != 3 {
		t.Errorf("attempts = %d, want exactly MaxAttempts", attempts)
	}
	pe, ok := AsProviderError(err)
	if !ok || pe.Kind != KindRateLimit {
		t.Errorf("final error = %v, want the last rate-limit error", err)
	}
}

func TestRetry_NoRetryOnQuota(t *testing.T) {
	sleeper := &fakeSleeper{}
	attempts := 0

	err := Retry(context.Background(), noJitterConfig(3), sleeper.sleep, func(_ context.Context, _ int) error {
		attempts++
		return &ProviderError{Kind: KindQuota, Message: "insufficient_quota"}
	})

	if attempts != 1 {
		t.Errorf("attempts = %d, want 1 for quota errors", attempts)
	}
	if !IsQuota(err) {
		t.Errorf("error = %v, want quota", err)
	}
}

func TestRetry_NoRetryOnNonRetryable(t *testing.T) {
	attempts := 0

	err := Retry(context.Background(), noJitterConfig(3), (&fakeSleeper{}).sleep, func(_ context.Context, _ int) error {
		attempts++
		return &ProviderError{Kind: KindNonRetryable, Message: "bad request"}
	})

	if attempts != 1 {
		t.Errorf("attempts = %d, want 1 for non-retryable errors", attempts)
	}
	if IsRetryable(err) {
		t.Error("returned error must not be retryable")
	}
}

func TestRetry_RetryAfterOverridesBackoff(t *testing.T) {
	sleeper := &fakeSleeper{}
	attempts := 0

	err := Retry(context.Background(), noJitterConfig(2), sleeper.sleep, func(_ context.Context, _ int) error {
		attempts++
		if attempts == 1 {
			return &ProviderError{Kind: KindRateLimit, RetryAfter: 5 * time.Second}
		}
		return nil
	})

	if err != nil {
		t.Fatalf("Retry() error = %v", err)
	}
	if len(sleeper.waits) != 1 || sleeper.waits[0] != 5*time.Second {
		t.Errorf("waits = %v, want the provider hint of 5s", sleeper.waits)
	}
}

func TestRetry_ContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Retry(ctx, noJitterConfig(3), (&fakeSleeper{}).sleep, func(_ context.Context, _ int) error {
		t.Fatal("fn should not run with a canceled context")
		return nil
	})

	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
}

func TestRetry_InvalidConfig(t *testing.T) {
	tests := []struct {
		name string
		cfg  RetryConfig
	}{
		{"zero attempts", RetryConfig{MaxAttempts: 0, InitialBackoff: time.Second, MaxBackoff: time.Minute, BackoffFactor: 2}},
		{"zero initial backoff", RetryConfig{MaxAttempts: 3, InitialBackoff: 0, MaxBackoff: time.Minute, BackoffFactor: 2}},
		{"max below initial", RetryConfig{MaxAttempts: 3, InitialBackoff: time.Minute, MaxBackoff: time.Second, BackoffFactor: 2}},
		{"shrinking factor", RetryConfig{MaxAttempts: 3, InitialBackoff: time.Second, MaxBackoff: time.Minute, BackoffFactor: 0.5}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Retry(context.Background(), tt.cfg, nil, func(_ context.Context, _ int) error {
				return nil
			})
			if !errors.Is(err, ErrInvalidRetryConfig) {
				t.Errorf("error = %v, want ErrInvalidRetryConfig", err)
			}
		})
	}
}

func TestRetry_BackoffCapped(t *testing.T) {
	sleeper := &fakeSleeper{}
	cfg := RetryConfig{
		MaxAttempts:    5,
		InitialBackoff: 400 * time.Millisecond,
		MaxBackoff:     1 * time.Second,
		BackoffFactor:  2.0,
		JitterFactor:   0,
	}

	_ = Retry(context.Background(), cfg, sleeper.sleep, func(_ context.Context, _ int) error {
		return &ProviderError{Kind: KindRateLimit}
	})

	// 400ms, 800ms, then capped at 1s.
	want := []time.Duration{400 * time.Millisecond, 800 * time.Millisecond, 1 * time.Second, 1 * time.Second}
	if len(sleeper.waits) != len(want) {
		t.Fatalf("slept %d times, want %d", len(sleeper.waits), len(want))
	}
	for i := range want {
		if sleeper.waits[i] != want[i] {
			t.Errorf("wait %d = %v, want %v", i, sleeper.waits[i], want[i])
		}
	}
}
