// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package style normalizes generated test code with the project's own
// formatter and linter. Both steps are best effort; a failing tool
// never blocks the pipeline, the unformatted code is kept instead.
package style

import (
	"bytes"
	"context"
	"log/slog"
	"os/exec"
	"strings"
	"time"
)

const toolTimeout = 30 * time.Second

// Formatter runs prettier and eslint against generated code.
//
// Thread Safety: Safe for concurrent use. Each call creates its own
// process.
type Formatter struct {
	projectRoot string
	usePrettier bool
	useESLint   bool
	logger      *slog.Logger
}

// FormatterOption configures a Formatter.
type FormatterOption func(*Formatter)

// WithPrettier toggles the prettier pass.
func WithPrettier(enabled bool) FormatterOption {
	return func(f *Formatter) { f.usePrettier = enabled }
}

// WithESLint toggles the eslint --fix pass.
func WithESLint(enabled bool) FormatterOption {
	return func(f *Formatter) { f.useESLint = enabled }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) FormatterOption {
	return func(f *Formatter) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// NewFormatter creates a formatter rooted at the project directory so
// the project's own tool configuration applies.
func NewFormatter(projectRoot string, opts ...FormatterOption) *Formatter {
	f := &Formatter{
		projectRoot: projectRoot,
		usePrettier: true,
		useESLint:   false,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Format runs the enabled tools over the code. filePath is the
// intended destination, used so the tools resolve per-path overrides;
// the file does not need to exist yet.
//
// Outputs:
//
//	string - Formatted code, or the input unchanged when every
//	enabled tool failed
func (f *Formatter) Format(ctx context.Context, filePath, code string) string {
	out := code

	if f.usePrettier {
		formatted, err := f.runPrettier(ctx, filePath, out)
		if err != nil {
			f.logger.Warn("prettier failed, keeping unformatted code",
				slog.String("file", filePath),
				slog.String("error", err.Error()),
			)
		} else {
			out = formatted
		}
	}

	if f.useESLint {
		fixed, err := f.runESLint(ctx, filePath, out)
		if err != nil {
			f.logger.Warn("eslint failed, keeping code as is",
				slog.String("file", filePath),
				slog.String("error", err.Error()),
			)
		} else {
			out = fixed
		}
	}

	return out
}

// runPrettier formats code on stdin with --stdin-filepath so the
// project config and parser selection apply.
func (f *Formatter) runPrettier(ctx context.Context, filePath, code string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, toolTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "npx", "prettier", "--stdin-filepath", filePath)
	cmd.Dir = f.projectRoot
	cmd.Stdin = strings.NewReader(code)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", commandError(err, &stderr)
	}
	return stdout.String(), nil
}

// runESLint applies autofixes via --fix-dry-run --stdin, which prints
// a JSON report containing the fixed source.
func (f *Formatter) runESLint(ctx context.Context, filePath, code string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, toolTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "npx", "eslint",
		"--stdin", "--stdin-filename", filePath,
		"--fix-dry-run", "--format", "json",
	)
	cmd.Dir = f.projectRoot
	cmd.Stdin = strings.NewReader(code)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	// eslint exits 1 when unfixable problems remain; the report is
	// still usable.
	err := cmd.Run()
	if err != nil {
		var exitErr *exec.ExitError
		if !asExitError(err, &exitErr) || exitErr.ExitCode() > 1 {
			return "", commandError(err, &stderr)
		}
	}

	fixed, ok := extractESLintOutput(stdout.Bytes())
	if !ok {
		// No fixes applied, keep the input.
		return code, nil
	}
	return fixed, nil
}
