// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package diffrange

import (
	"errors"
	"testing"
)

const additionDiff = `--- a/src/math.ts
+++ b/src/math.ts
@@ -10,3 +10,6 @@ export function add(a: number, b: number): number {
 	return a + b;
 }
+
+export function sub(a: number, b: number): number {
+	return a - b;
+}
`

const modificationDiff = `--- a/src/math.ts
+++ b/src/math.ts
@@ -1,5 +1,5 @@
 export function add(a: number, b: number): number {
-	return a + b;
+	return b + a;
 }

 // helper
`

const deletionOnlyDiff = `--- a/src/old.ts
+++ b/src/old.ts
@@ -1,4 +1,1 @@
 export const keep = 1;
-export function gone(): void {
-	// removed
-}
`

func TestAnalyzeDiff_Addition(t *testing.T) {
	a := NewAnalyzer()

	changes, err := a.AnalyzeDiff(additionDiff)
	if err != nil {
		t.Fatalf("AnalyzeDiff() error = %v", err)
	}
	if len(changes) != 1 {
		t.Fatalf("got %d files, want 1", len(changes))
	}
	if changes[0].Path != "src/math.ts" {
		t.Errorf("path = %q, want src/math.ts", changes[0].Path)
	}
	if len(changes[0].Ranges) != 1 {
		t.Fatalf("got %d ranges, want 1", len(changes[0].Ranges))
	}

	r := changes[0].Ranges[0]
	if r.Type != RangeAddition {
		t.Errorf("type = %v, want addition", r.Type)
	}
	// Hunk new span starts at 10; two context lines precede the four
	// added lines, so the addition covers 12-15.
	if r.Start != 12 || r.End != 15 {
		t.Errorf("range = [%d,%d], want [12,15]", r.Start, r.End)
	}
}

func TestAnalyzeDiff_Modification(t *testing.T) {
	a := NewAnalyzer()

	changes, err := a.AnalyzeDiff(modificationDiff)
	if err != nil {
		t.Fatalf("AnalyzeDiff() error = %v", err)
	}
	ranges := changes[0].Ranges
	if len(ranges) != 1 {
		t.Fatalf("got %d ranges, want 1", len(ranges))
	}
	if ranges[0].Type != RangeModification {
		t.Errorf("type = %v, want modification", ranges[0].Type)
	}
	if ranges[0].Start != 2 || ranges[0].End != 2 {
		t.Errorf("range = [%d,%d], want [2,2]", ranges[0].Start, ranges[0].End)
	}
}

func TestAnalyzeDiff_DeletionOnlyYieldsNoRanges(t *testing.T) {
	a := NewAnalyzer()

	changes, err := a.AnalyzeDiff(deletionOnlyDiff)
	if err != nil {
		t.Fatalf("AnalyzeDiff() error = %v", err)
	}
	if len(changes) != 1 {
		t.Fatalf("got %d files, want 1", len(changes))
	}
	if len(changes[0].Ranges) != 0 {
		t.Errorf("deletion-only file should yield no ranges, got %v", changes[0].Ranges)
	}
}

func TestAnalyzeDiff_Malformed(t *testing.T) {
	a := NewAnalyzer()

	tests := []struct {
		name string
		in   string
	}{
		{"empty", ""},
		{"whitespace", "   \n  "},
		{"garbage hunk header", "--- a/f.ts\n+++ b/f.ts\n@@ not a header @@\n+x\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := a.AnalyzeDiff(tt.in)
			if !errors.Is(err, ErrMalformedDiff) {
				t.Errorf("AnalyzeDiff() error = %v, want ErrMalformedDiff", err)
			}
		})
	}
}

func TestAnalyzeFilePatch_BareHunk(t *testing.T) {
	a := NewAnalyzer()

	patch := "@@ -1,2 +1,3 @@\n const x = 1;\n+const y = 2;\n const z = 3;\n"
	ranges, err := a.AnalyzeFilePatch("src/vals.ts", patch)
	if err != nil {
		t.Fatalf("AnalyzeFilePatch() error = %v", err)
	}
	if len(ranges) != 1 {
		t.Fatalf("got %d ranges, want 1", len(ranges))
	}
	if ranges[0].Start != 2 || ranges[0].End != 2 || ranges[0].Type != RangeAddition {
		t.Errorf("range = %+v, want addition [2,2]", ranges[0])
	}
}

func TestAnalyzeFilePatch_Empty(t *testing.T) {
	a := NewAnalyzer()

	ranges, err := a.AnalyzeFilePatch("renamed.ts", "")
	if err != nil {
		t.Fatalf("AnalyzeFilePatch() error = %v", err)
	}
	if ranges != nil {
		t.Errorf("empty patch should yield nil ranges, got %v", ranges)
	}
}

func TestChangedRange_Overlaps(t *testing.T) {
	r := ChangedRange{Start: 10, End: 20, Type: RangeAddition}

	tests := []struct {
		name       string
		start, end int
		want       bool
	}{
		{"inside", 12, 15, true},
		{"spanning", 5, 25, true},
		{"touching start", 1, 10, true},
		{"touching end", 20, 30, true},
		{"before", 1, 9, false},
		{"after", 21, 30, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := r.Overlaps(tt.start, tt.end); got != tt.want {
				t.Errorf("Overlaps(%d,%d) = %v, want %v", tt.start, tt.end, got, tt.want)
			}
		})
	}
}
