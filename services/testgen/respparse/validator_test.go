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
	"strings"
	"testing"

	"github.com/AleutianAI/testweaver/services/testgen/config"
)

const validJestCode = `describe('add', () => {
	it('returns the sum', () => {
		expect(add(1, 2)).toBe(3);
	});
});`

const validVitestCode = `import { describe, it, expect } from 'vitest';
import { add } from '../src/calc';

describe('add', () => {
	it('returns the sum', () => {
		expect(add(1, 2)).toBe(3);
	});
});`

func TestValidateTestCodeStructure(t *testing.T) {
	tests := []struct {
		name      string
		code      string
		framework config.Framework
		wantValid bool
		wantErr   string
	}{
		{
			name:      "valid jest",
			code:      validJestCode,
			framework: config.FrameworkJest,
			wantValid: true,
		},
		{
			name:      "valid vitest",
			code:      validVitestCode,
			framework: config.FrameworkVitest,
			wantValid: true,
		},
		{
			name:      "empty is too short",
			code:      "",
			framework: config.FrameworkJest,
			wantValid: false,
			wantErr:   "too short",
		},
		{
			name:      "tiny is too short",
			code:      "it('x');",
			framework: config.FrameworkJest,
			wantValid: false,
			wantErr:   "too short",
		},
		{
			name:      "missing describe",
			code:      "it('returns the sum', () => { expect(add(1, 2)).toBe(3); });",
			framework: config.FrameworkJest,
			wantValid: false,
			wantErr:   "missing describe",
		},
		{
			name:      "missing test cases",
			code:      "describe('add', () => {\n\tconst helper = () => 42;\n});",
			framework: config.FrameworkJest,
			wantValid: false,
			wantErr:   "missing test cases",
		},
		{
			name:      "vitest without import",
			code:      validJestCode,
			framework: config.FrameworkVitest,
			wantValid: false,
			wantErr:   "missing vitest import",
		},
		{
			name:      "jest needs no import",
			code:      validJestCode,
			framework: config.FrameworkJest,
			wantValid: true,
		},
		{
			name:      "scaffold with it.todo is valid",
			code:      "describe('add', () => {\n\tit.todo('returns the sum');\n\tit.todo('handles negatives');\n});",
			framework: config.FrameworkJest,
			wantValid: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ValidateTestCodeStructure(tt.code, tt.framework)
			if result.Valid != tt.wantValid {
				t.Errorf("Valid = %v, want %v (errors: %v)", result.Valid, tt.wantValid, result.Errors)
			}
			if tt.wantErr != "" {
				found := false
				for _, e := range result.Errors {
					if strings.Contains(e, tt.wantErr) {
						found = true
					}
				}
				if !found {
					t.Errorf("errors %v missing %q", result.Errors, tt.wantErr)
				}
			}
		})
	}
}

func TestValidateTestCodeStructure_NeverMutates(t *testing.T) {
	code := validJestCode
	_ = ValidateTestCodeStructure(code, config.FrameworkJest)
	if code != validJestCode {
		t.Error("validation must not mutate code")
	}
}

func TestValidateTestCodeStructure_EmptyParsedResponse(t *testing.T) {
	// An empty generation response parses to "" and validates false
	// with a too-short error.
	parsed := ParseTestCode("")
	if parsed != "" {
		t.Fatalf("ParseTestCode(\"\") = %q, want \"\"", parsed)
	}
	result := ValidateTestCodeStructure(parsed, config.FrameworkJest)
	if result.Valid {
		t.Error("empty code must be invalid")
	}
	if len(result.Errors) == 0 || !strings.Contains(result.Errors[0], "too short") {
		t.Errorf("want a too-short error, got %v", result.Errors)
	}
}
