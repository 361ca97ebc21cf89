// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package extract walks TypeScript/JavaScript declaration structure
// and selects the functions and methods whose spans overlap changed
// line ranges. The selected targets feed test generation.
package extract

import (
	"errors"
	"fmt"

	"github.com/AleutianAI/testweaver/services/testgen/diffrange"
)

// FunctionType classifies the declaration kind of a target.
type FunctionType string

const (
	// FunctionDeclaration is a top-level `function name() {}`.
	FunctionDeclaration FunctionType = "function"

	// ArrowFunction is a const/let/var assignment of an arrow function.
	ArrowFunction FunctionType = "arrow-function"

	// ClassMethod is a method inside a class body.
	ClassMethod FunctionType = "class-method"
)

// TestTarget is one candidate unit to test. A target exists only if at
// least one changed range overlaps its line span.
//
// Targets are created by the Extractor and read-only afterward. A
// failed fix attempt re-reads the same target, it never mutates it.
type TestTarget struct {
	// FilePath is the source file path relative to the project root.
	FilePath string `json:"file_path"`

	// FunctionName is the declared name.
	FunctionName string `json:"function_name"`

	// FunctionType is the declaration kind.
	FunctionType FunctionType `json:"function_type"`

	// ClassName is the enclosing class for class methods, empty
	// otherwise.
	ClassName string `json:"class_name,omitempty"`

	// IsPrivate marks private/protected methods, or methods following
	// the _ / # naming convention.
	IsPrivate bool `json:"is_private,omitempty"`

	// ClassPrivateProperties lists the private property names declared
	// on the enclosing class, in declaration order. Included as
	// generation context, never as separate targets.
	ClassPrivateProperties []string `json:"class_private_properties,omitempty"`

	// Code is the exact source slice of the declaration.
	Code string `json:"code"`

	// Context is a surrounding snippet of the source around the
	// declaration.
	Context string `json:"context,omitempty"`

	// StartLine and EndLine are the 1-based inclusive line span.
	StartLine int `json:"start_line"`
	EndLine   int `json:"end_line"`

	// ChangedRanges is the subset of the file's ranges overlapping
	// [StartLine, EndLine], clipped to this target, never the full
	// file's ranges.
	ChangedRanges []diffrange.ChangedRange `json:"changed_ranges"`

	// ExistingTestFile is the content of the conventional test file
	// when one already exists, empty otherwise.
	ExistingTestFile string `json:"existing_test_file,omitempty"`

	// TestFilePath is the derived path where this target's tests
	// belong.
	TestFilePath string `json:"test_file_path"`
}

// ID returns a stable identity for the target within one run.
func (t *TestTarget) ID() string {
	if t.ClassName != "" {
		return fmt.Sprintf("%s:%s.%s", t.FilePath, t.ClassName, t.FunctionName)
	}
	return fmt.Sprintf("%s:%s", t.FilePath, t.FunctionName)
}

// Validate checks required fields.
func (t *TestTarget) Validate() error {
	if t.FilePath == "" {
		return errors.New("target file path is required")
	}
	if t.FunctionName == "" {
		return errors.New("target function name is required")
	}
	switch t.FunctionType {
	case FunctionDeclaration, ArrowFunction, ClassMethod:
	default:
		return fmt.Errorf("unknown function type: %q", t.FunctionType)
	}
	if t.FunctionType == ClassMethod && t.ClassName == "" {
		return errors.New("class method target requires a class name")
	}
	if t.Code == "" {
		return errors.New("target code is required")
	}
	if t.StartLine <= 0 || t.EndLine < t.StartLine {
		return fmt.Errorf("invalid line span [%d,%d]", t.StartLine, t.EndLine)
	}
	if len(t.ChangedRanges) == 0 {
		return errors.New("target must overlap at least one changed range")
	}
	return nil
}
