// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package respparse

import (
	"fmt"
	"strings"

	"github.com/AleutianAI/testweaver/services/testgen/config"
)

// MinTestCodeLength is the minimum plausible size of generated test
// code in bytes. Anything shorter cannot hold a describe block with a
// test case.
const MinTestCodeLength = 20

// ValidationResult classifies generated code. Validation never
// mutates code.
type ValidationResult struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors,omitempty"`
}

// ValidateTestCodeStructure checks that code is structurally usable as
// a test file for the given framework: long enough, grouped in a
// describe block, containing at least one test case, and carrying the
// framework import when the framework requires one.
//
// The caller treats an invalid result as a failed generation attempt
// for retry-counting purposes.
func ValidateTestCodeStructure(code string, framework config.Framework) ValidationResult {
	var errs []string

	trimmed := strings.TrimSpace(code)
	if len(trimmed) < MinTestCodeLength {
		errs = append(errs, fmt.Sprintf("test code too short: %d bytes, need at least %d", len(trimmed), MinTestCodeLength))
		return ValidationResult{Valid: false, Errors: errs}
	}

	if !strings.Contains(trimmed, "describe(") {
		errs = append(errs, "missing describe block")
	}
	if !hasTestCase(trimmed) {
		errs = append(errs, "missing test cases: no it() or test() call")
	}
	if framework.RequiresImport() && !hasFrameworkImport(trimmed, framework) {
		errs = append(errs, fmt.Sprintf("missing %s import", framework))
	}

	return ValidationResult{Valid: len(errs) == 0, Errors: errs}
}

// hasTestCase reports whether the code contains at least one test-case
// call, including todo skeleton variants.
func hasTestCase(code string) bool {
	for _, marker := range []string{"it(", "test(", "it.todo(", "test.todo(", "it.each(", "test.each("} {
		if strings.Contains(code, marker) {
			return true
		}
	}
	return false
}

// hasFrameworkImport reports whether the code imports the framework
// module.
func hasFrameworkImport(code string, framework config.Framework) bool {
	module := string(framework)
	return strings.Contains(code, fmt.Sprintf("from '%s'", module)) ||
		strings.Contains(code, fmt.Sprintf("from %q", module)) ||
		strings.Contains(code, fmt.Sprintf("require('%s')", module)) ||
		strings.Contains(code, fmt.Sprintf("require(%q)", module))
}
