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
	"strings"
	"testing"

	"github.com/AleutianAI/testweaver/services/testgen/config"
)

const passingReport = `{
	"success": true,
	"testResults": [
		{
			"name": "/repo/__tests__/calc.test.ts",
			"status": "passed",
			"assertionResults": [
				{"fullName": "add returns the sum", "title": "returns the sum", "status": "passed"},
				{"fullName": "add handles negatives", "title": "handles negatives", "status": "passed"}
			]
		}
	]
}`

const failingReport = `{
	"success": false,
	"testResults": [
		{
			"name": "/repo/__tests__/calc.test.ts",
			"status": "failed",
			"assertionResults": [
				{"fullName": "add returns the sum", "title": "returns the sum", "status": "passed"},
				{
					"fullName": "add handles negatives",
					"title": "handles negatives",
					"status": "failed",
					"failureMessages": ["expect(received).toBe(expected)\n\nExpected: -3\nReceived: 3\n    at Object.<anonymous> (/repo/__tests__/calc.test.ts:8:25)"],
					"location": {"line": 8, "column": 25}
				}
			]
		}
	]
}`

func TestParseJestJSON_Passing(t *testing.T) {
	files, ok := parseJestJSON([]byte(passingReport))
	if !ok {
		t.Fatal("report should parse")
	}
	if len(files) != 1 {
		t.Fatalf("got %d files, want 1", len(files))
	}

	f := files[0]
	if !f.Success {
		t.Error("file should be successful")
	}
	if f.Total != 2 || f.Passed != 2 || f.Failed != 0 {
		t.Errorf("counts = %d/%d/%d, want 2/2/0", f.Total, f.Passed, f.Failed)
	}
}

func TestParseJestJSON_Failing(t *testing.T) {
	files, ok := parseJestJSON([]byte(failingReport))
	if !ok {
		t.Fatal("report should parse")
	}

	f := files[0]
	if f.Success {
		t.Error("file with a failed assertion must not be successful")
	}
	if len(f.Failures) != 1 {
		t.Fatalf("got %d failures, want 1", len(f.Failures))
	}

	failure := f.Failures[0]
	if failure.TestName != "add handles negatives" {
		t.Errorf("TestName = %q", failure.TestName)
	}
	if !strings.Contains(failure.Message, "Expected: -3") {
		t.Errorf("Message = %q, want assertion detail", failure.Message)
	}
	if strings.Contains(failure.Message, "at Object.<anonymous>") {
		t.Error("stack frames must be split off the message")
	}
	if !strings.HasPrefix(strings.TrimSpace(failure.Stack), "at ") {
		t.Errorf("Stack = %q, want stack frames", failure.Stack)
	}
	if failure.Line != 8 || failure.Column != 25 {
		t.Errorf("location = %d:%d, want 8:25", failure.Line, failure.Column)
	}
}

func TestParseJestJSON_TodoCasesDoNotCount(t *testing.T) {
	report := `{"success": true, "testResults": [{
		"name": "/repo/__tests__/calc.test.ts",
		"status": "passed",
		"assertionResults": [
			{"fullName": "add sums", "status": "passed"},
			{"fullName": "add overflow", "status": "todo"}
		]
	}]}`

	files, ok := parseJestJSON([]byte(report))
	if !ok {
		t.Fatal("report should parse")
	}
	if files[0].Total != 1 || files[0].Passed != 1 {
		t.Errorf("todo cases must not count: total=%d passed=%d", files[0].Total, files[0].Passed)
	}
	if !files[0].Success {
		t.Error("todo cases must not fail the file")
	}
}

func TestParseJestJSON_FileLevelFailure(t *testing.T) {
	report := `{"success": false, "testResults": [{
		"name": "/repo/__tests__/broken.test.ts",
		"status": "failed",
		"message": "SyntaxError: Unexpected token",
		"assertionResults": []
	}]}`

	files, ok := parseJestJSON([]byte(report))
	if !ok {
		t.Fatal("report should parse")
	}
	f := files[0]
	if f.Success {
		t.Error("file must fail")
	}
	if len(f.Failures) != 1 || !strings.Contains(f.Failures[0].Message, "SyntaxError") {
		t.Errorf("failures = %+v, want the file-level message", f.Failures)
	}
}

func TestParseJestJSON_ReportEmbeddedInNoise(t *testing.T) {
	output := "Determining test suites to run...\n" +
		"{not json}\n" +
		passingReport + "\n" +
		"Done in 1.2s\n"

	files, ok := parseJestJSON([]byte(output))
	if !ok {
		t.Fatal("embedded report should parse")
	}
	if len(files) != 1 {
		t.Errorf("got %d files, want 1", len(files))
	}
}

func TestParseJestJSON_NoReport(t *testing.T) {
	if _, ok := parseJestJSON([]byte("command not found: jest\n")); ok {
		t.Error("plain text must not parse as a report")
	}
	if _, ok := parseJestJSON(nil); ok {
		t.Error("empty output must not parse as a report")
	}
}

func TestGetOutputParser(t *testing.T) {
	if GetOutputParser(config.FrameworkJest) == nil {
		t.Error("jest parser missing")
	}
	if GetOutputParser(config.FrameworkVitest) == nil {
		t.Error("vitest parser missing")
	}
	if GetOutputParser(config.Framework("mocha")) == nil {
		t.Error("unknown frameworks fall back to the jest parser")
	}
}

func TestSplitStack(t *testing.T) {
	tests := []struct {
		name        string
		in          string
		wantMessage string
		wantStack   bool
	}{
		{
			"message with frames",
			"Expected: 1\n    at foo (/a.ts:1:1)\n    at bar (/b.ts:2:2)",
			"Expected: 1",
			true,
		},
		{"no frames", "Expected: 1", "Expected: 1", false},
		{"empty", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, stack := splitStack(tt.in)
			if msg != tt.wantMessage {
				t.Errorf("message = %q, want %q", msg, tt.wantMessage)
			}
			if (stack != "") != tt.wantStack {
				t.Errorf("stack = %q, want present=%v", stack, tt.wantStack)
			}
		})
	}
}
