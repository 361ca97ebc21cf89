// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package pipeline orchestrates test generation from extracted
// targets through generation, validation, merge, execution, and
// repair.
package pipeline

import (
	"time"

	"github.com/AleutianAI/testweaver/services/testgen/extract"
	"github.com/AleutianAI/testweaver/services/testgen/runner"
)

// =============================================================================
// TARGET STATES
// =============================================================================

// TargetState tracks one target through the pipeline.
type TargetState string

const (
	// StateExtracted is the initial state for every target.
	StateExtracted TargetState = "extracted"

	// StateGenerating means a generation call is in flight.
	StateGenerating TargetState = "generating"

	// StateGenerationFailed is terminal: the provider call failed or
	// the response did not validate.
	StateGenerationFailed TargetState = "generation_failed"

	// StateValidated means the response parsed and passed structural
	// checks.
	StateValidated TargetState = "validated"

	// StateMerged means the test code was merged into its file buffer.
	StateMerged TargetState = "merged"

	// StateWritten means the merged file is on disk.
	StateWritten TargetState = "written"

	// StateExecuted means the target's file was part of a batch run.
	StateExecuted TargetState = "executed"

	// StatePassed is terminal: the target's tests pass.
	StatePassed TargetState = "passed"

	// StateFailed means the target's tests failed and repair has not
	// given up yet.
	StateFailed TargetState = "failed"

	// StateRepairing means a fix attempt is in flight.
	StateRepairing TargetState = "repairing"

	// StateGaveUp is terminal: repair attempts are exhausted.
	StateGaveUp TargetState = "gave_up"
)

// IsTerminal reports whether no further transitions happen from this
// state.
func (s TargetState) IsTerminal() bool {
	switch s {
	case StateGenerationFailed, StatePassed, StateGaveUp:
		return true
	}
	return false
}

// AllStates lists every state, in pipeline order.
func AllStates() []TargetState {
	return []TargetState{
		StateExtracted,
		StateGenerating,
		StateGenerationFailed,
		StateValidated,
		StateMerged,
		StateWritten,
		StateExecuted,
		StatePassed,
		StateFailed,
		StateRepairing,
		StateGaveUp,
	}
}

// =============================================================================
// RESULTS
// =============================================================================

// TargetResult is the final disposition of one target.
type TargetResult struct {
	// Target is the extracted target this result describes.
	Target extract.TestTarget `json:"target"`

	// State is the target's final state.
	State TargetState `json:"state"`

	// TestFilePath is where the target's tests were written.
	TestFilePath string `json:"test_file_path,omitempty"`

	// FixAttempts counts repair rounds consumed by this target's file.
	FixAttempts int `json:"fix_attempts,omitempty"`

	// Error describes the failure for non-passing terminal states.
	Error string `json:"error,omitempty"`
}

// MergedTestFile is one output file with the targets that produced
// it.
type MergedTestFile struct {
	// Path is the test file path relative to the project root.
	Path string `json:"path"`

	// Content is the merged, formatted test code.
	Content string `json:"content"`

	// TargetIDs lists the targets merged into this file.
	TargetIDs []string `json:"target_ids"`

	// Created is true when the file did not exist before this run.
	Created bool `json:"created"`
}

// TestGenerationSummary is the outcome of one pipeline run.
type TestGenerationSummary struct {
	// RunID identifies the run in logs and VCS comments.
	RunID string `json:"run_id"`

	// TargetsProcessed counts targets the pipeline attempted, after
	// the per-run cap.
	TargetsProcessed int `json:"targets_processed"`

	// TestsGenerated counts targets whose tests ended up written and
	// passing (or written, in modes without execution).
	TestsGenerated int `json:"tests_generated"`

	// TestsFailed counts targets in a failing terminal state.
	TestsFailed int `json:"tests_failed"`

	// TestFiles holds the written output files.
	TestFiles []MergedTestFile `json:"test_files"`

	// Results holds the per-target dispositions in input order.
	Results []TargetResult `json:"results"`

	// Errors collects per-target failure descriptions.
	Errors []string `json:"errors,omitempty"`

	// CoverageDelta is the measured change against the baseline, nil
	// when either end was not measured.
	CoverageDelta *runner.CoverageDelta `json:"coverage_delta,omitempty"`

	// Duration is wall-clock pipeline time.
	Duration time.Duration `json:"duration"`
}

// =============================================================================
// CAPABILITIES
// =============================================================================

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

// systemClock is the production clock.
type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }
