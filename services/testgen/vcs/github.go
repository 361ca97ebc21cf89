// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package vcs

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	defaultBaseURL    = "https://api.github.com"
	defaultMaxRetries = 3
	defaultRetryDelay = 500 * time.Millisecond
	maxFetchWorkers   = 4
)

// GitHubClient is a minimal GitHub REST v3 client scoped to one
// repository.
//
// Thread Safety: Safe for concurrent use.
type GitHubClient struct {
	baseURL    string
	token      string
	owner      string
	repo       string
	httpClient *http.Client
	maxRetries int
	retryDelay time.Duration
	sleep      func(ctx context.Context, d time.Duration) error
	logger     *slog.Logger
}

// GitHubOption configures a GitHubClient.
type GitHubOption func(*GitHubClient)

// WithBaseURL points the client at a GitHub Enterprise or test
// endpoint.
func WithBaseURL(base string) GitHubOption {
	return func(c *GitHubClient) {
		if base != "" {
			c.baseURL = strings.TrimRight(base, "/")
		}
	}
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) GitHubOption {
	return func(c *GitHubClient) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithMaxRetries sets the retry count for throttled or failing
// requests.
func WithMaxRetries(n int) GitHubOption {
	return func(c *GitHubClient) {
		if n >= 0 {
			c.maxRetries = n
		}
	}
}

// WithRetryDelay sets the initial delay between retries. The delay
// doubles on each attempt.
func WithRetryDelay(d time.Duration) GitHubOption {
	return func(c *GitHubClient) {
		if d > 0 {
			c.retryDelay = d
		}
	}
}

// WithSleep injects the wait function used between retries.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) GitHubOption {
	return func(c *GitHubClient) {
		if sleep != nil {
			c.sleep = sleep
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) GitHubOption {
	return func(c *GitHubClient) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewGitHubClient creates a client for owner/repo.
func NewGitHubClient(token, owner, repo string, opts ...GitHubOption) (*GitHubClient, error) {
	if token == "" {
		return nil, ErrMissingToken
	}
	if owner == "" || repo == "" {
		return nil, fmt.Errorf("owner and repo are required")
	}

	c := &GitHubClient{
		baseURL:    defaultBaseURL,
		token:      token,
		owner:      owner,
		repo:       repo,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		maxRetries: defaultMaxRetries,
		retryDelay: defaultRetryDelay,
		sleep: func(ctx context.Context, d time.Duration) error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(d):
				return nil
			}
		},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// =============================================================================
// PULL REQUESTS
// =============================================================================

// GetPullRequest fetches PR metadata.
func (c *GitHubClient) GetPullRequest(ctx context.Context, number int) (*PullRequest, error) {
	var raw struct {
		Number int    `json:"number"`
		Title  string `json:"title"`
		State  string `json:"state"`
		Head   struct {
			Ref string `json:"ref"`
			SHA string `json:"sha"`
		} `json:"head"`
		Base struct {
			Ref string `json:"ref"`
		} `json:"base"`
	}
	path := fmt.Sprintf("/repos/%s/%s/pulls/%d", c.owner, c.repo, number)
	if err := c.doJSON(ctx, http.MethodGet, path, nil, &raw); err != nil {
		return nil, err
	}
	return &PullRequest{
		Number:  raw.Number,
		Title:   raw.Title,
		State:   raw.State,
		HeadRef: raw.Head.Ref,
		HeadSHA: raw.Head.SHA,
		BaseRef: raw.Base.Ref,
	}, nil
}

// ListPullRequestFiles fetches the changed files with their patches,
// following pagination.
func (c *GitHubClient) ListPullRequestFiles(ctx context.Context, number int) ([]PullRequestFile, error) {
	var files []PullRequestFile
	for page := 1; ; page++ {
		var batch []PullRequestFile
		path := fmt.Sprintf("/repos/%s/%s/pulls/%d/files?per_page=100&page=%d", c.owner, c.repo, number, page)
		if err := c.doJSON(ctx, http.MethodGet, path, nil, &batch); err != nil {
			return nil, err
		}
		files = append(files, batch...)
		if len(batch) < 100 {
			return files, nil
		}
	}
}

// CommentPR posts a comment on the PR's conversation thread.
func (c *GitHubClient) CommentPR(ctx context.Context, number int, body string) error {
	payload := map[string]string{"body": body}
	path := fmt.Sprintf("/repos/%s/%s/issues/%d/comments", c.owner, c.repo, number)
	return c.doJSON(ctx, http.MethodPost, path, payload, nil)
}

// =============================================================================
// FILE CONTENTS
// =============================================================================

// contentsResponse is the contents API shape for a single file.
type contentsResponse struct {
	SHA      string `json:"sha"`
	Encoding string `json:"encoding"`
	Content  string `json:"content"`
}

// GetFileContents fetches one file at a ref and decodes it.
func (c *GitHubClient) GetFileContents(ctx context.Context, path, ref string) ([]byte, error) {
	var resp contentsResponse
	if err := c.doJSON(ctx, http.MethodGet, c.contentsPath(path, ref), nil, &resp); err != nil {
		return nil, err
	}
	if resp.Encoding != "base64" {
		return []byte(resp.Content), nil
	}
	decoded, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(resp.Content, "\n", ""))
	if err != nil {
		return nil, fmt.Errorf("decoding contents of %s: %w", path, err)
	}
	return decoded, nil
}

// FetchFiles fetches several files at a ref concurrently. Missing
// files are omitted from the result rather than failing the batch.
func (c *GitHubClient) FetchFiles(ctx context.Context, paths []string, ref string) (map[string][]byte, error) {
	results := make(map[string][]byte, len(paths))
	var mu sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxFetchWorkers)

	for _, p := range paths {
		p := p
		g.Go(func() error {
			content, err := c.GetFileContents(ctx, p, ref)
			if err != nil {
				if errors.Is(err, ErrNotFound) {
					return nil
				}
				return err
			}
			mu.Lock()
			results[p] = content
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// CommitFile creates or updates a file on a branch. The blob SHA of
// any existing file is looked up first; the contents API requires it
// for updates.
func (c *GitHubClient) CommitFile(ctx context.Context, path, branch, message string, content []byte) error {
	payload := map[string]string{
		"message": message,
		"content": base64.StdEncoding.EncodeToString(content),
		"branch":  branch,
	}

	var existing contentsResponse
	err := c.doJSON(ctx, http.MethodGet, c.contentsPath(path, branch), nil, &existing)
	switch {
	case err == nil:
		payload["sha"] = existing.SHA
	case errors.Is(err, ErrNotFound):
		// New file, no SHA needed.
	default:
		return err
	}

	c.logger.Info("Committing file",
		slog.String("path", path),
		slog.String("branch", branch),
		slog.Bool("update", payload["sha"] != ""),
	)
	return c.doJSON(ctx, http.MethodPut, c.contentsPath(path, ""), payload, nil)
}

func (c *GitHubClient) contentsPath(path, ref string) string {
	p := fmt.Sprintf("/repos/%s/%s/contents/%s", c.owner, c.repo, strings.TrimPrefix(path, "/"))
	if ref != "" {
		p += "?ref=" + url.QueryEscape(ref)
	}
	return p
}

// =============================================================================
// TRANSPORT
// =============================================================================

// doJSON performs one API call with bounded retry. Requests are
// rebuilt per attempt so the body can be resent.
func (c *GitHubClient) doJSON(ctx context.Context, method, path string, payload, out any) error {
	var body []byte
	if payload != nil {
		var err error
		body, err = json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
	}

	delay := c.retryDelay
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			if err := c.sleep(ctx, delay); err != nil {
				return err
			}
			delay *= 2
		}

		lastErr = c.doOnce(ctx, method, path, body, out)
		if lastErr == nil {
			return nil
		}

		var apiErr *APIError
		if !errors.As(lastErr, &apiErr) || !apiErr.retryable() {
			return lastErr
		}
		c.logger.Warn("Retrying API call",
			slog.String("method", method),
			slog.String("path", path),
			slog.Int("status", apiErr.StatusCode),
			slog.Int("attempt", attempt+1),
		)
	}
	return lastErr
}

func (c *GitHubClient) doOnce(ctx context.Context, method, path string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("calling %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(msg))}
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}
