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
	"strings"
	"testing"
)

func TestOptimize_NeverShortensTestCode(t *testing.T) {
	testCode := strings.Repeat("it('case', () => { expect(1).toBe(1); });\n", 2000)

	o := NewOptimizer(WithLimits(Limits{
		MaxOriginalCode: 100,
		MaxErrorMessage: 100,
		MaxTestOutput:   100,
	}))

	out := o.Optimize(FixContext{
		OriginalCode: strings.Repeat("x", 5000),
		TestCode:     testCode,
		ErrorMessage: strings.Repeat("e", 5000),
		TestOutput:   strings.Repeat("o", 5000),
	})

	if out.TestCode != testCode {
		t.Error("testCode must pass through byte-identical regardless of budgets")
	}
}

func TestOptimize_StripsStackFrames(t *testing.T) {
	errMsg := "Error: expected 3, received 2\n" +
		"    at Object.<anonymous> (src/calc.test.ts:5:3)\n" +
		"    at Promise.then.completed (node_modules/jest-circus/build/utils.js:391:28)\n" +
		"expect(received).toBe(expected)"

	o := NewOptimizer()
	out := o.Optimize(FixContext{TestCode: "x", ErrorMessage: errMsg})

	if strings.Contains(out.ErrorMessage, "at Object.<anonymous>") {
		t.Error("stack frames should be stripped from error message")
	}
	if !strings.Contains(out.ErrorMessage, "expected 3, received 2") {
		t.Error("non-frame lines must survive")
	}
	if !strings.Contains(out.ErrorMessage, "expect(received).toBe(expected)") {
		t.Error("non-frame lines after frames must survive")
	}
}

func TestOptimize_OmitsDuplicateTestOutput(t *testing.T) {
	msg := "Error: boom"
	o := NewOptimizer()

	out := o.Optimize(FixContext{TestCode: "x", ErrorMessage: msg, TestOutput: msg})
	if out.TestOutput != "" {
		t.Errorf("duplicate testOutput should be omitted, got %q", out.TestOutput)
	}

	out = o.Optimize(FixContext{TestCode: "x", ErrorMessage: msg, TestOutput: "different output"})
	if out.TestOutput != "different output" {
		t.Errorf("distinct testOutput should survive, got %q", out.TestOutput)
	}
}

func TestOptimize_OriginalCodeWithinBudgetUntouched(t *testing.T) {
	code := "export function add(a, b) { return a + b; }"
	o := NewOptimizer()

	out := o.Optimize(FixContext{TestCode: "x", OriginalCode: code})
	if out.OriginalCode != code {
		t.Error("code within budget must pass through unchanged")
	}
}

func TestOptimize_SlicesNamedFunctionOverBudget(t *testing.T) {
	var b strings.Builder
	b.WriteString("export function add(a, b) {\n\treturn a + b;\n}\n\n")
	for i := 0; i < 200; i++ {
		b.WriteString("export function filler" + string(rune('a'+i%26)) + "(x) {\n\treturn x;\n}\n\n")
	}
	code := b.String()

	o := NewOptimizer(WithLimits(Limits{MaxOriginalCode: 200}))
	out := o.Optimize(FixContext{
		TestCode:     "x",
		OriginalCode: code,
		FailingTests: []string{"add returns the sum"},
	})

	if !strings.Contains(out.OriginalCode, "function add") {
		t.Errorf("sliced code should contain the failing function, got %q", out.OriginalCode)
	}
	if !strings.Contains(out.OriginalCode, TruncationMarker) {
		t.Error("reduced code must carry the truncation marker")
	}
	if len(out.OriginalCode) >= len(code) {
		t.Error("over-budget code must shrink")
	}
}

func TestOptimize_FallbackTruncationMarked(t *testing.T) {
	code := strings.Repeat("const x = 1;\n", 1000)

	o := NewOptimizer(WithLimits(Limits{MaxOriginalCode: 300}))
	out := o.Optimize(FixContext{TestCode: "x", OriginalCode: code})

	if !strings.HasSuffix(out.OriginalCode, TruncationMarker) {
		t.Error("truncated code must end with the marker")
	}
	if len(out.OriginalCode) > 300+len(TruncationMarker)+1 {
		t.Errorf("truncated length %d exceeds budget", len(out.OriginalCode))
	}
}

func TestOptimize_EmptyInput(t *testing.T) {
	o := NewOptimizer()
	out := o.Optimize(FixContext{})
	if out.OriginalCode != "" || out.TestCode != "" || out.ErrorMessage != "" || out.TestOutput != "" {
		t.Errorf("empty input should optimize to empty, got %+v", out)
	}
}

func TestStripStackFrames_Shapes(t *testing.T) {
	tests := []struct {
		name  string
		line  string
		strip bool
	}{
		{"paren frame", "    at foo (src/a.ts:1:2)", true},
		{"bare frame", "    at src/a.ts:10:20", true},
		{"message line", "Error: at the start of parsing", false},
		{"assertion", "expect(received).toBe(expected)", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := stripStackFrames(tt.line)
			stripped := got == ""
			if stripped != tt.strip {
				t.Errorf("stripStackFrames(%q) = %q, stripped=%v want %v", tt.line, got, stripped, tt.strip)
			}
		})
	}
}
