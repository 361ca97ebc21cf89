// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package runner

import (
	"encoding/json"
	"strings"
	"sync"

	"github.com/AleutianAI/testweaver/services/testgen/config"
)

// =============================================================================
// OUTPUT PARSERS
// =============================================================================

// OutputParser parses raw runner output into per-file results.
//
// Inputs:
//
//	output - Raw stdout/stderr from test execution
//
// Outputs:
//
//	files - Per-file results in report order
//	ok - True when a machine-readable report was found
type OutputParser func(output []byte) (files []FileResult, ok bool)

// parserRegistry maps frameworks to their output parsers.
// Protected by parserMu for concurrent access.
var (
	parserRegistry = map[config.Framework]OutputParser{
		config.FrameworkJest:   parseJestJSON,
		config.FrameworkVitest: parseJestJSON,
	}
	parserMu sync.RWMutex
)

// GetOutputParser returns the parser for a framework. Unknown
// frameworks get the jest parser; both supported frameworks emit a
// jest-compatible JSON report.
//
// Thread Safety: Safe for concurrent use.
func GetOutputParser(framework config.Framework) OutputParser {
	parserMu.RLock()
	defer parserMu.RUnlock()
	if p, ok := parserRegistry[framework]; ok {
		return p
	}
	return parseJestJSON
}

// RegisterOutputParser registers a custom parser for a framework.
//
// Thread Safety: Safe for concurrent use.
func RegisterOutputParser(framework config.Framework, parser OutputParser) {
	parserMu.Lock()
	defer parserMu.Unlock()
	parserRegistry[framework] = parser
}

// =============================================================================
// JEST-COMPATIBLE JSON REPORT
// =============================================================================

// jestReport is the jest --json report shape. The vitest json
// reporter emits the same structure.
type jestReport struct {
	Success     bool             `json:"success"`
	TestResults []jestFileResult `json:"testResults"`
}

type jestFileResult struct {
	Name             string          `json:"name"`
	Status           string          `json:"status"`
	Message          string          `json:"message"`
	AssertionResults []jestAssertion `json:"assertionResults"`
}

type jestAssertion struct {
	FullName        string        `json:"fullName"`
	Title           string        `json:"title"`
	Status          string        `json:"status"`
	FailureMessages []string      `json:"failureMessages"`
	Location        *jestLocation `json:"location"`
}

type jestLocation struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

// parseJestJSON parses a jest-compatible JSON report embedded in the
// captured output.
func parseJestJSON(output []byte) ([]FileResult, bool) {
	report, ok := extractReport(output)
	if !ok {
		return nil, false
	}

	files := make([]FileResult, 0, len(report.TestResults))
	for _, tr := range report.TestResults {
		fr := FileResult{
			TestFile: tr.Name,
			Success:  tr.Status != "failed",
		}
		for _, a := range tr.AssertionResults {
			switch a.Status {
			case "passed":
				fr.Total++
				fr.Passed++
			case "failed":
				fr.Total++
				fr.Failed++
				fr.Success = false
				fr.Failures = append(fr.Failures, failureFromAssertion(a))
			case "todo", "pending", "skipped":
				// Scaffold placeholders and skips do not count.
			default:
				fr.Total++
			}
		}
		// A file can fail before any assertion runs, for example on a
		// syntax error. Surface the file-level message.
		if !fr.Success && len(fr.Failures) == 0 && tr.Message != "" {
			fr.Failures = append(fr.Failures, TestFailure{
				TestName: tr.Name,
				Message:  tr.Message,
			})
		}
		files = append(files, fr)
	}
	return files, true
}

// failureFromAssertion converts one failed assertion, splitting the
// stack trace off the failure message.
func failureFromAssertion(a jestAssertion) TestFailure {
	name := a.FullName
	if name == "" {
		name = a.Title
	}
	f := TestFailure{TestName: name}
	if len(a.FailureMessages) > 0 {
		f.Message, f.Stack = splitStack(a.FailureMessages[0])
	}
	if a.Location != nil {
		f.Line = a.Location.Line
		f.Column = a.Location.Column
	}
	return f
}

// splitStack separates the assertion message from the trailing stack
// trace frames.
func splitStack(msg string) (message, stack string) {
	lines := strings.Split(msg, "\n")
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "at ") {
			return strings.TrimRight(strings.Join(lines[:i], "\n"), "\n"),
				strings.Join(lines[i:], "\n")
		}
	}
	return msg, ""
}

// extractReport finds and decodes the JSON report in mixed output.
// Runners interleave progress lines with the report, so each brace
// that starts a line is tried until one decodes as a report.
func extractReport(output []byte) (*jestReport, bool) {
	s := string(output)
	for offset := 0; offset < len(s); {
		idx := strings.Index(s[offset:], "{")
		if idx < 0 {
			return nil, false
		}
		idx += offset
		if idx > 0 && s[idx-1] != '\n' {
			offset = idx + 1
			continue
		}

		var report jestReport
		dec := json.NewDecoder(strings.NewReader(s[idx:]))
		if err := dec.Decode(&report); err == nil && report.TestResults != nil {
			return &report, true
		}
		offset = idx + 1
	}
	return nil, false
}
