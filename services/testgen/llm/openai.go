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
	"fmt"
	"log/slog"
	"strconv"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/testweaver/services/testgen/prompt"
)

// OpenAIClient is a Client backed by an OpenAI-compatible chat
// completion endpoint.
//
// Rate limiting and provider-level retry on rate-limit responses
// happen inside the client; callers see at most one tagged error per
// logical call.
//
// Thread Safety: OpenAIClient is safe for concurrent use.
type OpenAIClient struct {
	client      *openai.Client
	model       string
	maxTokens   int
	temperature float32
	limiter     *rate.Limiter
	retry       RetryConfig
	sleep       Sleeper
	logger      *slog.Logger
}

// OpenAIOption configures an OpenAIClient.
type OpenAIOption func(*OpenAIClient)

// WithMaxTokens bounds completion size.
func WithMaxTokens(n int) OpenAIOption {
	return func(c *OpenAIClient) {
		if n > 0 {
			c.maxTokens = n
		}
	}
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float32) OpenAIOption {
	return func(c *OpenAIClient) {
		if t >= 0 {
			c.temperature = t
		}
	}
}

// WithRequestsPerMinute enables client-side rate limiting. Zero
// disables it.
func WithRequestsPerMinute(rpm int) OpenAIOption {
	return func(c *OpenAIClient) {
		if rpm > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(float64(rpm)/60.0), 1)
		}
	}
}

// WithRetryConfig overrides the provider-level retry policy.
func WithRetryConfig(cfg RetryConfig) OpenAIOption {
	return func(c *OpenAIClient) {
		c.retry = cfg
	}
}

// WithSleeper injects the wait function used between retries.
func WithSleeper(sleep Sleeper) OpenAIOption {
	return func(c *OpenAIClient) {
		if sleep != nil {
			c.sleep = sleep
		}
	}
}

// WithClientLogger sets the structured logger.
func WithClientLogger(logger *slog.Logger) OpenAIOption {
	return func(c *OpenAIClient) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewOpenAIClient creates a client for the given API key and model.
// baseURL may be empty for the provider default.
func NewOpenAIClient(apiKey, baseURL, model string, opts ...OpenAIOption) *OpenAIClient {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}

	c := &OpenAIClient{
		client:      openai.NewClientWithConfig(cfg),
		model:       model,
		maxTokens:   4096,
		temperature: 0.2,
		retry:       DefaultRetryConfig(),
		sleep:       defaultSleeper,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GenerateTest sends the message list and returns the raw generated
// test code with usage counters.
func (c *OpenAIClient) GenerateTest(ctx context.Context, messages []prompt.Message) (*GenerationResult, error) {
	return c.complete(ctx, messages)
}

// GenerateTestScaffold generates skeleton output. Scaffolds use
// temperature zero so repeated runs produce the same case names.
func (c *OpenAIClient) GenerateTestScaffold(ctx context.Context, messages []prompt.Message) (*GenerationResult, error) {
	return c.completeWithTemperature(ctx, messages, 0)
}

func (c *OpenAIClient) complete(ctx context.Context, messages []prompt.Message) (*GenerationResult, error) {
	return c.completeWithTemperature(ctx, messages, c.temperature)
}

func (c *OpenAIClient) completeWithTemperature(ctx context.Context, messages []prompt.Message, temperature float32) (*GenerationResult, error) {
	if len(messages) == 0 {
		return nil, ErrEmptyMessages
	}

	chatMessages := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		role := openai.ChatMessageRoleUser
		if m.Role == prompt.RoleSystem {
			role = openai.ChatMessageRoleSystem
		}
		chatMessages = append(chatMessages, openai.ChatCompletionMessage{
			Role:    role,
			Content: m.Content,
		})
	}

	var result *GenerationResult
	err := Retry(ctx, c.retry, c.sleep, func(ctx context.Context, attempt int) error {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return &ProviderError{Kind: KindNonRetryable, Message: "rate limiter wait canceled", Err: err}
			}
		}

		start := time.Now()
		resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model:       c.model,
			Messages:    chatMessages,
			MaxTokens:   c.maxTokens,
			Temperature: temperature,
		})
		if err != nil {
			classified := classifyProviderError(err)
			c.logger.Warn("generation call failed",
				slog.Int("attempt", attempt),
				slog.String("kind", string(classified.Kind)),
				slog.String("error", classified.Message),
			)
			return classified
		}

		if len(resp.Choices) == 0 {
			return &ProviderError{Kind: KindNonRetryable, Message: "provider returned no choices"}
		}

		result = &GenerationResult{
			TestCode: resp.Choices[0].Message.Content,
			Usage: Usage{
				PromptTokens:     resp.Usage.PromptTokens,
				CompletionTokens: resp.Usage.CompletionTokens,
				TotalTokens:      resp.Usage.TotalTokens,
			},
		}
		c.logger.Debug("generation call succeeded",
			slog.Int("attempt", attempt),
			slog.Int("total_tokens", resp.Usage.TotalTokens),
			slog.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// classifyProviderError maps transport errors onto the closed kind
// set. 429 quota codes are terminal; other 429s and 5xx responses are
// retryable; 4xx request errors are not.
func classifyProviderError(err error) *ProviderError {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.HTTPStatusCode == 429 && isQuotaCode(apiErr.Code):
			return &ProviderError{
				Kind:       KindQuota,
				Message:    apiErr.Message,
				StatusCode: apiErr.HTTPStatusCode,
				Err:        err,
			}
		case apiErr.HTTPStatusCode == 429:
			return &ProviderError{
				Kind:       KindRateLimit,
				Message:    apiErr.Message,
				StatusCode: apiErr.HTTPStatusCode,
				RetryAfter: retryAfterHint(apiErr),
				Err:        err,
			}
		case apiErr.HTTPStatusCode >= 500:
			return &ProviderError{
				Kind:       KindRateLimit,
				Message:    fmt.Sprintf("server error: %s", apiErr.Message),
				StatusCode: apiErr.HTTPStatusCode,
				Err:        err,
			}
		default:
			return &ProviderError{
				Kind:       KindNonRetryable,
				Message:    apiErr.Message,
				StatusCode: apiErr.HTTPStatusCode,
				Err:        err,
			}
		}
	}

	// Connection-level failures are worth one more attempt.
	return &ProviderError{Kind: KindRateLimit, Message: err.Error(), Err: err}
}

// isQuotaCode reports whether a 429 code means exhausted quota rather
// than throttling.
func isQuotaCode(code any) bool {
	s, ok := code.(string)
	if !ok {
		return false
	}
	return s == "insufficient_quota" || s == "billing_hard_limit_reached"
}

// retryAfterHint extracts a retry-after duration from an API error
// when present.
func retryAfterHint(apiErr *openai.APIError) time.Duration {
	if apiErr == nil {
		return 0
	}
	if s, ok := apiErr.Code.(string); ok {
		if secs, err := strconv.Atoi(s); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return 0
}

var _ Client = (*OpenAIClient)(nil)
