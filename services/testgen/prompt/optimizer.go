// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package prompt

import (
	"regexp"
	"strings"
)

// TruncationMarker is appended wherever content was cut so the model
// knows information was dropped.
const TruncationMarker = "// ...truncated..."

// stackFramePattern matches call-frame lines in error output, e.g.
// "    at Object.<anonymous> (src/calc.test.ts:5:3)". Frame paths are
// the least informative and most space-consuming part of a failure.
var stackFramePattern = regexp.MustCompile(`^\s*at\s+.*:\d+:\d+\)?\s*$`)

// FixContext is the bundle handed to the fix-prompt builder after a
// test failure.
type FixContext struct {
	// OriginalCode is the source under test.
	OriginalCode string

	// TestCode is the failing test file. It is the ground truth the
	// model must repair and is never truncated.
	TestCode string

	// ErrorMessage is the primary failure message.
	ErrorMessage string

	// TestOutput is the raw runner output, when distinct from
	// ErrorMessage.
	TestOutput string

	// FailingTests names the failing test cases.
	FailingTests []string
}

// Limits bounds the optimized fix-context fields in bytes. Defaults
// are generous enough that typical single-function sources are never
// truncated.
type Limits struct {
	MaxOriginalCode int
	MaxErrorMessage int
	MaxTestOutput   int
}

// DefaultLimits returns the default byte budgets.
func DefaultLimits() Limits {
	return Limits{
		MaxOriginalCode: 16 * 1024,
		MaxErrorMessage: 8 * 1024,
		MaxTestOutput:   8 * 1024,
	}
}

// Optimizer compresses fix context to fit the configured budgets
// without losing test code.
//
// Thread Safety: Optimizer is stateless after construction and safe
// for concurrent use.
type Optimizer struct {
	limits Limits
}

// OptimizerOption configures an Optimizer.
type OptimizerOption func(*Optimizer)

// WithLimits overrides the byte budgets. Non-positive fields keep
// their defaults.
func WithLimits(limits Limits) OptimizerOption {
	return func(o *Optimizer) {
		if limits.MaxOriginalCode > 0 {
			o.limits.MaxOriginalCode = limits.MaxOriginalCode
		}
		if limits.MaxErrorMessage > 0 {
			o.limits.MaxErrorMessage = limits.MaxErrorMessage
		}
		if limits.MaxTestOutput > 0 {
			o.limits.MaxTestOutput = limits.MaxTestOutput
		}
	}
}

// NewOptimizer creates an Optimizer with default limits.
func NewOptimizer(opts ...OptimizerOption) *Optimizer {
	o := &Optimizer{limits: DefaultLimits()}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Optimize returns a bounded copy of the fix context. Rules, in
// priority order:
//
//  1. TestCode passes through untouched.
//  2. ErrorMessage and TestOutput are stripped of stack-frame lines
//     before any length cut.
//  3. TestOutput identical to ErrorMessage is omitted entirely.
//  4. OriginalCode beyond budget is reduced to the named functions
//     relevant to the failure when they can be located, otherwise cut
//     at the budget with a truncation marker.
func (o *Optimizer) Optimize(fc FixContext) FixContext {
	out := FixContext{
		TestCode:     fc.TestCode,
		FailingTests: fc.FailingTests,
	}

	out.ErrorMessage = truncate(stripStackFrames(fc.ErrorMessage), o.limits.MaxErrorMessage)

	if strings.TrimSpace(fc.TestOutput) != "" &&
		strings.TrimSpace(fc.TestOutput) != strings.TrimSpace(fc.ErrorMessage) {
		out.TestOutput = truncate(stripStackFrames(fc.TestOutput), o.limits.MaxTestOutput)
	}

	out.OriginalCode = o.reduceOriginalCode(fc.OriginalCode, fc.FailingTests)

	return out
}

// reduceOriginalCode bounds the source under test. Within budget it
// passes through unchanged.
func (o *Optimizer) reduceOriginalCode(code string, failingTests []string) string {
	if len(code) <= o.limits.MaxOriginalCode {
		return code
	}

	if sliced := sliceNamedFunctions(code, identifiersIn(failingTests)); sliced != "" && len(sliced) <= o.limits.MaxOriginalCode {
		return sliced + "\n" + TruncationMarker
	}

	return truncate(code, o.limits.MaxOriginalCode)
}

// stripStackFrames removes call-frame lines from error text.
func stripStackFrames(text string) string {
	if text == "" {
		return ""
	}
	lines := strings.Split(text, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if stackFramePattern.MatchString(line) {
			continue
		}
		kept = append(kept, line)
	}
	return strings.TrimRight(strings.Join(kept, "\n"), "\n")
}

// truncate cuts text at the byte budget and marks the cut.
func truncate(text string, max int) string {
	if max <= 0 || len(text) <= max {
		return text
	}
	cut := text[:max]
	// Cut on a line boundary when one is close.
	if idx := strings.LastIndexByte(cut, '\n'); idx > max/2 {
		cut = cut[:idx]
	}
	return cut + "\n" + TruncationMarker
}

// identifiersIn tokenizes failing test names into candidate function
// identifiers.
func identifiersIn(names []string) []string {
	var ids []string
	seen := map[string]bool{}
	pattern := regexp.MustCompile(`[A-Za-z_$][A-Za-z0-9_$]*`)
	for _, name := range names {
		for _, id := range pattern.FindAllString(name, -1) {
			if len(id) < 3 || seen[id] {
				continue
			}
			seen[id] = true
			ids = append(ids, id)
		}
	}
	return ids
}

// sliceNamedFunctions extracts the declarations in code whose names
// appear among the given identifiers, using brace balancing to find
// block ends. Returns "" when nothing matches.
func sliceNamedFunctions(code string, ids []string) string {
	if len(ids) == 0 {
		return ""
	}

	lines := strings.Split(code, "\n")
	var blocks []string

	for _, id := range ids {
		for i, line := range lines {
			if !strings.Contains(line, id) || !looksLikeDeclaration(line, id) {
				continue
			}
			end := blockEnd(lines, i)
			blocks = append(blocks, strings.Join(lines[i:end+1], "\n"))
			break
		}
	}
	return strings.Join(blocks, "\n\n")
}

// looksLikeDeclaration reports whether a line declares the identifier
// as a function, arrow-function assignment, or method.
func looksLikeDeclaration(line, id string) bool {
	trimmed := strings.TrimSpace(line)
	switch {
	case strings.Contains(trimmed, "function "+id):
		return true
	case strings.HasPrefix(trimmed, "const "+id) ||
		strings.HasPrefix(trimmed, "let "+id) ||
		strings.HasPrefix(trimmed, "var "+id) ||
		strings.HasPrefix(trimmed, "export const "+id) ||
		strings.HasPrefix(trimmed, "export let "+id):
		return strings.Contains(trimmed, "=>") || strings.Contains(trimmed, "function")
	case strings.HasPrefix(trimmed, id+"(") || strings.HasPrefix(trimmed, "async "+id+"("):
		return strings.Contains(trimmed, "{")
	default:
		return false
	}
}

// blockEnd finds the line index closing the brace block opened at or
// after start. Falls back to start when no block opens.
func blockEnd(lines []string, start int) int {
	depth := 0
	opened := false
	for i := start; i < len(lines); i++ {
		for _, c := range lines[i] {
			switch c {
			case '{':
				depth++
				opened = true
			case '}':
				depth--
			}
		}
		if opened && depth <= 0 {
			return i
		}
	}
	if !opened {
		return start
	}
	return len(lines) - 1
}
