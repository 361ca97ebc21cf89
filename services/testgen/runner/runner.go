// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package runner executes generated test files through the project's
// JavaScript test framework and parses the results.
package runner

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"time"

	"github.com/AleutianAI/testweaver/services/testgen/config"
)

// =============================================================================
// ERRORS
// =============================================================================

var (
	// ErrNilContext indicates a nil context was passed.
	ErrNilContext = errors.New("context must not be nil")

	// ErrNoTestFiles indicates a run request with no test files.
	ErrNoTestFiles = errors.New("no test files to run")

	// ErrTestTimeout indicates test execution exceeded the timeout.
	ErrTestTimeout = errors.New("test execution timed out")
)

// =============================================================================
// TYPES
// =============================================================================

// DefaultMaxOutputBytes caps captured runner output per stream.
const DefaultMaxOutputBytes = 2 * 1024 * 1024

// RunRequest describes one batch execution of test files.
type RunRequest struct {
	// Framework selects the test runner invocation and output parser.
	Framework config.Framework

	// TestFiles are the paths passed to the runner, relative to the
	// project root.
	TestFiles []string

	// Coverage enables coverage collection for this run.
	Coverage bool
}

// TestFailure is one failed test case.
type TestFailure struct {
	// TestName is the full case name including its group.
	TestName string `json:"test_name"`

	// Message is the assertion or error message.
	Message string `json:"message"`

	// Stack is the captured stack trace when present.
	Stack string `json:"stack,omitempty"`

	// Line and Column locate the failure in the test file when the
	// runner reported a location.
	Line   int `json:"line,omitempty"`
	Column int `json:"column,omitempty"`
}

// FileResult is the outcome for one test file.
type FileResult struct {
	TestFile string        `json:"test_file"`
	Success  bool          `json:"success"`
	Total    int           `json:"total"`
	Passed   int           `json:"passed"`
	Failed   int           `json:"failed"`
	Failures []TestFailure `json:"failures,omitempty"`
}

// RunResult is the outcome of one batch execution.
type RunResult struct {
	// Success is true when every executed test passed.
	Success bool `json:"success"`

	// Files holds per-file results in runner report order.
	Files []FileResult `json:"files"`

	// Output is the combined captured stdout and stderr, bounded by
	// the runner's output limit.
	Output string `json:"output"`

	// Truncated is true when output capture hit the size limit.
	Truncated bool `json:"truncated"`

	// TimedOut is true when the run was killed by the timeout.
	TimedOut bool `json:"timed_out"`

	// ExitCode is the runner process exit code, -1 when unknown.
	ExitCode int `json:"exit_code"`

	// Duration is wall-clock execution time.
	Duration time.Duration `json:"duration"`
}

// FileResult returns the result for a test file, or nil when the
// runner did not report it.
func (r *RunResult) FileResult(testFile string) *FileResult {
	for i := range r.Files {
		if r.Files[i].TestFile == testFile {
			return &r.Files[i]
		}
	}
	return nil
}

// =============================================================================
// TEST RUNNER
// =============================================================================

// TestRunner executes test files through npx and captures results.
//
// Thread Safety: Safe for concurrent use. Each run creates its own
// process.
type TestRunner struct {
	projectRoot    string
	packageManager string
	timeout        time.Duration
	maxOutput      int
	logger         *slog.Logger
}

// RunnerOption configures a TestRunner.
type RunnerOption func(*TestRunner)

// WithTimeout bounds one batch execution.
func WithTimeout(d time.Duration) RunnerOption {
	return func(r *TestRunner) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithMaxOutputBytes caps captured output per stream.
func WithMaxOutputBytes(n int) RunnerOption {
	return func(r *TestRunner) {
		if n > 0 {
			r.maxOutput = n
		}
	}
}

// WithPackageManager selects the package manager used to invoke the
// framework binary.
func WithPackageManager(pm string) RunnerOption {
	return func(r *TestRunner) {
		if pm != "" {
			r.packageManager = pm
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) RunnerOption {
	return func(r *TestRunner) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewTestRunner creates a runner rooted at the project directory.
func NewTestRunner(projectRoot string, opts ...RunnerOption) *TestRunner {
	r := &TestRunner{
		projectRoot:    projectRoot,
		packageManager: "npm",
		timeout:        5 * time.Minute,
		maxOutput:      DefaultMaxOutputBytes,
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RunTests executes the requested test files once and parses the
// framework's JSON report.
//
// Description:
//
//	Invokes jest or vitest through npx with a machine-readable
//	reporter, captures bounded output, and parses per-file results.
//	A non-zero exit with parseable results is a test failure, not an
//	execution error.
//
// Inputs:
//
//	ctx - Context for cancellation
//	req - The batch to execute
//
// Outputs:
//
//	*RunResult - Parsed execution result
//	error - Non-nil when the runner could not execute at all
//
// Thread Safety: Safe for concurrent use.
func (r *TestRunner) RunTests(ctx context.Context, req RunRequest) (*RunResult, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}
	if len(req.TestFiles) == 0 {
		return nil, ErrNoTestFiles
	}

	command, args := r.buildCommand(req)

	start := time.Now()
	r.logger.Debug("Running test batch",
		slog.String("framework", string(req.Framework)),
		slog.Int("test_files", len(req.TestFiles)),
		slog.Bool("coverage", req.Coverage),
	)

	result, err := r.execute(ctx, command, args)
	result.Duration = time.Since(start)
	if err != nil {
		return result, err
	}

	parser := GetOutputParser(req.Framework)
	files, parsed := parser([]byte(result.Output))
	if parsed {
		result.Files = files
		result.Success = true
		for _, f := range files {
			if !f.Success {
				result.Success = false
			}
		}
	} else {
		// Report was unparseable, fall back to the exit code.
		result.Success = result.ExitCode == 0
	}

	r.logger.Info("Test batch completed",
		slog.String("framework", string(req.Framework)),
		slog.Bool("success", result.Success),
		slog.Int("file_results", len(result.Files)),
		slog.Int("exit_code", result.ExitCode),
		slog.Duration("duration", result.Duration),
	)

	return result, nil
}

// buildCommand assembles the runner invocation for the framework.
func (r *TestRunner) buildCommand(req RunRequest) (string, []string) {
	var args []string
	switch req.Framework {
	case config.FrameworkVitest:
		args = []string{"vitest", "run", "--reporter=json"}
		if req.Coverage {
			args = append(args, "--coverage", "--coverage.reporter=json-summary")
		}
	default:
		args = []string{"jest", "--json"}
		if req.Coverage {
			args = append(args, "--coverage", "--coverageReporters=json-summary")
		}
	}
	args = append(args, req.TestFiles...)

	// pnpm, yarn, and bun all understand exec-style invocation through
	// npx semantics; npx itself covers the npm default.
	switch r.packageManager {
	case "pnpm":
		return "pnpm", append([]string{"exec"}, args...)
	case "yarn":
		return "yarn", args
	case "bun":
		return "bunx", args
	default:
		return "npx", args
	}
}

// execute runs the command with timeout and bounded output capture.
func (r *TestRunner) execute(ctx context.Context, command string, args []string) (*RunResult, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, command, args...)
	if r.projectRoot != "" {
		cmd.Dir = r.projectRoot
	}

	var stdout, stderr bytes.Buffer
	stdoutLimited := &limitedWriter{w: &stdout, limit: r.maxOutput}
	stderrLimited := &limitedWriter{w: &stderr, limit: r.maxOutput}
	cmd.Stdout = stdoutLimited
	cmd.Stderr = stderrLimited

	err := cmd.Run()

	result := &RunResult{
		Output:    stdout.String() + stderr.String(),
		Truncated: stdoutLimited.truncated || stderrLimited.truncated,
	}

	if ctx.Err() == context.DeadlineExceeded {
		result.TimedOut = true
		result.ExitCode = -1
		r.logger.Warn("Test execution timed out",
			slog.Duration("timeout", r.timeout),
		)
		return result, ErrTestTimeout
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			// Failing tests exit non-zero; the report still parses.
			result.ExitCode = exitErr.ExitCode()
		} else {
			result.ExitCode = -1
			return result, fmt.Errorf("test runner execution failed: %w", err)
		}
	}

	return result, nil
}

// =============================================================================
// LIMITED WRITER
// =============================================================================

// limitedWriter wraps a writer with a size limit.
type limitedWriter struct {
	w         io.Writer
	limit     int
	written   int
	truncated bool
}

func (lw *limitedWriter) Write(p []byte) (n int, err error) {
	if lw.written >= lw.limit {
		lw.truncated = true
		return len(p), nil // Silently discard
	}

	remaining := lw.limit - lw.written
	if len(p) > remaining {
		p = p[:remaining]
		lw.truncated = true
	}

	n, err = lw.w.Write(p)
	lw.written += n
	return len(p), err // Return original length to avoid breaking callers
}
