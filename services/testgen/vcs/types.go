// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package vcs talks to the GitHub REST API for pull-request inputs
// and committed test output.
package vcs

import (
	"errors"
	"fmt"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrNotFound indicates the requested resource does not exist.
	ErrNotFound = errors.New("resource not found")

	// ErrMissingToken indicates no API token was configured.
	ErrMissingToken = errors.New("vcs token not configured")
)

// APIError is a non-2xx response from the API.
type APIError struct {
	StatusCode int
	Message    string
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("github api: status %d: %s", e.StatusCode, e.Message)
}

// retryable reports whether the response status is worth another
// attempt. Only throttling and server errors qualify.
func (e *APIError) retryable() bool {
	return e.StatusCode == 429 || e.StatusCode >= 500
}

// =============================================================================
// TYPES
// =============================================================================

// PullRequest holds the PR fields the pipeline consumes.
type PullRequest struct {
	Number  int    `json:"number"`
	Title   string `json:"title"`
	State   string `json:"state"`
	HeadRef string `json:"head_ref"`
	HeadSHA string `json:"head_sha"`
	BaseRef string `json:"base_ref"`
}

// PullRequestFile is one changed file in a PR, with its patch.
type PullRequestFile struct {
	Filename  string `json:"filename"`
	Status    string `json:"status"`
	Additions int    `json:"additions"`
	Deletions int    `json:"deletions"`
	Patch     string `json:"patch"`
}

// IsRemoved reports whether the file was deleted in the PR.
func (f PullRequestFile) IsRemoved() bool {
	return f.Status == "removed"
}
