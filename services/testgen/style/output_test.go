// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package style

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestExtractESLintOutput(t *testing.T) {
	tests := []struct {
		name   string
		report string
		want   string
		wantOK bool
	}{
		{
			"fix applied",
			`[{"filePath": "a.test.ts", "output": "const a = 1;\n"}]`,
			"const a = 1;\n",
			true,
		},
		{"no fixes", `[{"filePath": "a.test.ts"}]`, "", false},
		{"empty report", `[]`, "", false},
		{"not json", "eslint crashed", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := extractESLintOutput([]byte(tt.report))
			if ok != tt.wantOK || got != tt.want {
				t.Errorf("extractESLintOutput() = %q, %v; want %q, %v", got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestCommandError(t *testing.T) {
	base := errors.New("exit status 2")

	var empty bytes.Buffer
	if got := commandError(base, &empty); got != base {
		t.Errorf("empty stderr should return the original error, got %v", got)
	}

	stderr := bytes.NewBufferString("SyntaxError: unexpected token\nmore detail\n")
	got := commandError(base, stderr)
	if !errors.Is(got, base) {
		t.Error("wrapped error must keep the original in the chain")
	}
	if !strings.Contains(got.Error(), "SyntaxError") || strings.Contains(got.Error(), "more detail") {
		t.Errorf("error = %q, want first stderr line only", got.Error())
	}
}

func TestFirstLine(t *testing.T) {
	if got := firstLine("one\ntwo"); got != "one" {
		t.Errorf("firstLine = %q", got)
	}
	if got := firstLine("single"); got != "single" {
		t.Errorf("firstLine = %q", got)
	}
}
