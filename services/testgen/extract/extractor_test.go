// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package extract

import (
	"context"
	"errors"
	"testing"

	"github.com/AleutianAI/testweaver/services/testgen/config"
	"github.com/AleutianAI/testweaver/services/testgen/diffrange"
)

const sampleSource = `import { round } from './round';

export function add(a: number, b: number): number {
	return a + b;
}

export const multiply = (a: number, b: number): number => {
	return a * b;
};

export class Calculator {
	private memory: number = 0;
	private _history: number[] = [];

	constructor(initial: number) {
		this.memory = initial;
	}

	public store(value: number): void {
		this.memory = value;
		this._history.push(value);
	}

	private reset(): void {
		this.memory = 0;
	}
}
`

// Line map for sampleSource:
//   3-5   add
//   7-9   multiply
//   11-27 Calculator (store 19-22, reset 24-26)

type fakeStore struct {
	files map[string]string
}

func (s *fakeStore) Exists(path string) bool {
	_, ok := s.files[path]
	return ok
}

func (s *fakeStore) ReadFile(path string) (string, error) {
	content, ok := s.files[path]
	if !ok {
		return "", errors.New("not found")
	}
	return content, nil
}

func rangesAt(lines ...int) []diffrange.ChangedRange {
	var out []diffrange.ChangedRange
	for _, l := range lines {
		out = append(out, diffrange.ChangedRange{Start: l, End: l, Type: diffrange.RangeModification})
	}
	return out
}

func TestExtractTargets_FunctionOverlap(t *testing.T) {
	e := NewExtractor(WithFileStore(&fakeStore{}))

	targets, err := e.ExtractTargets(context.Background(), "src/calc.ts", sampleSource, rangesAt(4))
	if err != nil {
		t.Fatalf("ExtractTargets() error = %v", err)
	}
	if len(targets) != 1 {
		t.Fatalf("got %d targets, want 1", len(targets))
	}

	tgt := targets[0]
	if tgt.FunctionName != "add" {
		t.Errorf("name = %q, want add", tgt.FunctionName)
	}
	if tgt.FunctionType != FunctionDeclaration {
		t.Errorf("type = %v, want function", tgt.FunctionType)
	}
	if len(tgt.ChangedRanges) != 1 {
		t.Errorf("changed ranges = %d, want clipped subset of 1", len(tgt.ChangedRanges))
	}
	if err := tgt.Validate(); err != nil {
		t.Errorf("target should validate: %v", err)
	}
}

func TestExtractTargets_ArrowFunction(t *testing.T) {
	e := NewExtractor(WithFileStore(&fakeStore{}))

	targets, err := e.ExtractTargets(context.Background(), "src/calc.ts", sampleSource, rangesAt(8))
	if err != nil {
		t.Fatalf("ExtractTargets() error = %v", err)
	}
	if len(targets) != 1 {
		t.Fatalf("got %d targets, want 1", len(targets))
	}
	if targets[0].FunctionName != "multiply" {
		t.Errorf("name = %q, want multiply", targets[0].FunctionName)
	}
	if targets[0].FunctionType != ArrowFunction {
		t.Errorf("type = %v, want arrow-function", targets[0].FunctionType)
	}
}

func TestExtractTargets_ClassMethod(t *testing.T) {
	e := NewExtractor(WithFileStore(&fakeStore{}))

	targets, err := e.ExtractTargets(context.Background(), "src/calc.ts", sampleSource, rangesAt(20))
	if err != nil {
		t.Fatalf("ExtractTargets() error = %v", err)
	}
	if len(targets) != 1 {
		t.Fatalf("got %d targets, want 1: %+v", len(targets), targets)
	}

	tgt := targets[0]
	if tgt.FunctionName != "store" {
		t.Errorf("name = %q, want store", tgt.FunctionName)
	}
	if tgt.FunctionType != ClassMethod {
		t.Errorf("type = %v, want class-method", tgt.FunctionType)
	}
	if tgt.ClassName != "Calculator" {
		t.Errorf("class = %q, want Calculator", tgt.ClassName)
	}
	if tgt.IsPrivate {
		t.Error("store is public")
	}
	if len(tgt.ClassPrivateProperties) != 2 {
		t.Fatalf("private props = %v, want [memory _history]", tgt.ClassPrivateProperties)
	}
	if tgt.ClassPrivateProperties[0] != "memory" || tgt.ClassPrivateProperties[1] != "_history" {
		t.Errorf("private props = %v, want [memory _history] in order", tgt.ClassPrivateProperties)
	}
}

func TestExtractTargets_PrivateMethod(t *testing.T) {
	e := NewExtractor(WithFileStore(&fakeStore{}))

	targets, err := e.ExtractTargets(context.Background(), "src/calc.ts", sampleSource, rangesAt(25))
	if err != nil {
		t.Fatalf("ExtractTargets() error = %v", err)
	}
	if len(targets) != 1 {
		t.Fatalf("got %d targets, want 1", len(targets))
	}
	if targets[0].FunctionName != "reset" || !targets[0].IsPrivate {
		t.Errorf("got %q private=%v, want reset private=true", targets[0].FunctionName, targets[0].IsPrivate)
	}
}

func TestExtractTargets_NoOverlapNoTargets(t *testing.T) {
	e := NewExtractor(WithFileStore(&fakeStore{}))

	// Line 1 is the import statement, no declaration there.
	targets, err := e.ExtractTargets(context.Background(), "src/calc.ts", sampleSource, rangesAt(1))
	if err != nil {
		t.Fatalf("ExtractTargets() error = %v", err)
	}
	if len(targets) != 0 {
		t.Errorf("got %d targets, want 0", len(targets))
	}
}

func TestExtractTargets_EveryTargetOverlaps(t *testing.T) {
	e := NewExtractor(WithFileStore(&fakeStore{}))

	// Range spanning the whole file: each declaration appears exactly
	// once, no duplicates, and each carries an overlapping range.
	targets, err := e.ExtractTargets(context.Background(), "src/calc.ts", sampleSource,
		[]diffrange.ChangedRange{{Start: 1, End: 100, Type: diffrange.RangeAddition}})
	if err != nil {
		t.Fatalf("ExtractTargets() error = %v", err)
	}

	seen := map[string]int{}
	for _, tgt := range targets {
		seen[tgt.ID()]++
		overlaps := false
		for _, r := range tgt.ChangedRanges {
			if r.Overlaps(tgt.StartLine, tgt.EndLine) {
				overlaps = true
			}
		}
		if !overlaps {
			t.Errorf("target %s has no overlapping range", tgt.ID())
		}
	}
	for id, n := range seen {
		if n != 1 {
			t.Errorf("target %s emitted %d times, want once", id, n)
		}
	}

	// add, multiply, store, reset. Constructor is never a target.
	if len(targets) != 4 {
		names := make([]string, 0, len(targets))
		for _, tgt := range targets {
			names = append(names, tgt.FunctionName)
		}
		t.Errorf("got targets %v, want 4 (add multiply store reset)", names)
	}
}

func TestExtractTargets_SourceOrderStable(t *testing.T) {
	e := NewExtractor(WithFileStore(&fakeStore{}))
	full := []diffrange.ChangedRange{{Start: 1, End: 100, Type: diffrange.RangeAddition}}

	first, err := e.ExtractTargets(context.Background(), "src/calc.ts", sampleSource, full)
	if err != nil {
		t.Fatal(err)
	}
	second, err := e.ExtractTargets(context.Background(), "src/calc.ts", sampleSource, full)
	if err != nil {
		t.Fatal(err)
	}

	if len(first) != len(second) {
		t.Fatalf("runs disagree on count: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i].FunctionName != second[i].FunctionName {
			t.Errorf("order differs at %d: %q vs %q", i, first[i].FunctionName, second[i].FunctionName)
		}
	}
	for i := 1; i < len(first); i++ {
		if first[i].StartLine < first[i-1].StartLine {
			t.Errorf("targets not in source order at %d", i)
		}
	}
}

func TestExtractTargets_AttachesExistingTestFile(t *testing.T) {
	existing := "describe('add', () => { it('adds', () => {}); });"
	store := &fakeStore{files: map[string]string{
		"__tests__/calc.test.ts": existing,
	}}
	e := NewExtractor(WithFileStore(store))

	targets, err := e.ExtractTargets(context.Background(), "src/calc.ts", sampleSource, rangesAt(4))
	if err != nil {
		t.Fatalf("ExtractTargets() error = %v", err)
	}
	if len(targets) != 1 {
		t.Fatalf("got %d targets, want 1", len(targets))
	}
	if targets[0].ExistingTestFile != existing {
		t.Errorf("existing test file not attached")
	}
	if targets[0].TestFilePath != "__tests__/calc.test.ts" {
		t.Errorf("test file path = %q", targets[0].TestFilePath)
	}
}

func TestExtractTargets_EmptyRanges(t *testing.T) {
	e := NewExtractor(WithFileStore(&fakeStore{}))

	targets, err := e.ExtractTargets(context.Background(), "src/calc.ts", sampleSource, nil)
	if err != nil {
		t.Fatalf("ExtractTargets() error = %v", err)
	}
	if targets != nil {
		t.Errorf("no ranges should yield no targets")
	}
}

func TestExtractTargets_UnsupportedFile(t *testing.T) {
	e := NewExtractor(WithFileStore(&fakeStore{}))

	_, err := e.ExtractTargets(context.Background(), "src/main.rs", "fn main() {}", rangesAt(1))
	if !errors.Is(err, ErrUnsupportedFile) {
		t.Errorf("error = %v, want ErrUnsupportedFile", err)
	}
}

func TestDeriveTestFilePath(t *testing.T) {
	tests := []struct {
		name     string
		location config.TestLocation
		dir      string
		source   string
		want     string
	}{
		{"separate", config.LocationSeparate, "__tests__", "src/calc.ts", "__tests__/calc.test.ts"},
		{"co-located", config.LocationCoLocated, "__tests__", "src/calc.ts", "src/calc.test.ts"},
		{"tsx", config.LocationSeparate, "tests", "src/ui/Button.tsx", "tests/Button.test.tsx"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewExtractor(WithTestLayout(tt.dir, "{name}.test.{ext}", tt.location))
			if got := e.DeriveTestFilePath(tt.source); got != tt.want {
				t.Errorf("DeriveTestFilePath(%q) = %q, want %q", tt.source, got, tt.want)
			}
		})
	}
}
