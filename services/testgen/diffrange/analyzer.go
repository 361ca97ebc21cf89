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
	"fmt"
	"log/slog"
	"strings"

	"github.com/sourcegraph/go-diff/diff"
)

// ErrMalformedDiff indicates the diff text could not be parsed. A
// malformed hunk header fails the whole file's parse; partial results
// are never returned for that file.
var ErrMalformedDiff = errors.New("malformed diff")

// Analyzer converts unified diff text into per-file changed ranges.
//
// Thread Safety: Analyzer is stateless after construction and safe for
// concurrent use.
type Analyzer struct {
	logger *slog.Logger
}

// AnalyzerOption configures an Analyzer.
type AnalyzerOption func(*Analyzer)

// WithLogger sets the structured logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) AnalyzerOption {
	return func(a *Analyzer) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// NewAnalyzer creates an Analyzer.
func NewAnalyzer(opts ...AnalyzerOption) *Analyzer {
	a := &Analyzer{logger: slog.Default()}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// AnalyzeDiff parses a multi-file unified diff and returns changed
// ranges per file, in diff order.
//
// Inputs:
//   - diffText: Raw unified diff text. Must not be empty.
//
// Outputs:
//   - []FileChanges: One entry per changed file. Files with only
//     deletions appear with an empty Ranges slice.
//   - error: ErrMalformedDiff wrapped with parser detail on failure.
func (a *Analyzer) AnalyzeDiff(diffText string) ([]FileChanges, error) {
	if strings.TrimSpace(diffText) == "" {
		return nil, fmt.Errorf("%w: empty diff text", ErrMalformedDiff)
	}

	fileDiffs, err := diff.NewMultiFileDiffReader(strings.NewReader(diffText)).ReadAllFiles()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedDiff, err)
	}

	changes := make([]FileChanges, 0, len(fileDiffs))
	for _, fd := range fileDiffs {
		changes = append(changes, FileChanges{
			Path:   stripDiffPrefix(fd.NewName),
			Ranges: rangesFromHunks(fd.Hunks),
		})
	}

	a.logger.Debug("analyzed diff",
		slog.Int("files", len(changes)),
	)
	return changes, nil
}

// AnalyzeFilePatch parses the patch text of a single file, as returned
// by pull-request file listings. Patches that begin at the hunk header
// get synthetic ---/+++ lines prepended so the parser accepts them.
func (a *Analyzer) AnalyzeFilePatch(path, patch string) ([]ChangedRange, error) {
	if strings.TrimSpace(patch) == "" {
		return nil, nil
	}
	if strings.HasPrefix(patch, "@@") {
		patch = fmt.Sprintf("--- a/%s\n+++ b/%s\n%s", path, path, patch)
	}

	fd, err := diff.ParseFileDiff([]byte(patch))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrMalformedDiff, path, err)
	}
	return rangesFromHunks(fd.Hunks), nil
}

// rangesFromHunks walks hunk bodies and classifies contiguous changed
// lines. Within a hunk, removals immediately followed by additions are
// a modification covering the added lines; additions alone are an
// addition; removals alone are a deletion and contribute no range.
func rangesFromHunks(hunks []*diff.Hunk) []ChangedRange {
	var ranges []ChangedRange

	for _, hunk := range hunks {
		newLine := int(hunk.NewStartLine)
		lines := strings.Split(string(hunk.Body), "\n")

		i := 0
		for i < len(lines) {
			line := lines[i]
			switch {
			case strings.HasPrefix(line, "-"):
				// Count the removal run, then check for a paired
				// addition run.
				for i < len(lines) && strings.HasPrefix(lines[i], "-") {
					i++
				}
				if i < len(lines) && strings.HasPrefix(lines[i], "+") {
					start := newLine
					for i < len(lines) && strings.HasPrefix(lines[i], "+") {
						newLine++
						i++
					}
					ranges = append(ranges, ChangedRange{
						Start: start,
						End:   newLine - 1,
						Type:  RangeModification,
					})
				}
				// Pure removals occupy no new-file lines.
			case strings.HasPrefix(line, "+"):
				start := newLine
				for i < len(lines) && strings.HasPrefix(lines[i], "+") {
					newLine++
					i++
				}
				ranges = append(ranges, ChangedRange{
					Start: start,
					End:   newLine - 1,
					Type:  RangeAddition,
				})
			case line == "" && i == len(lines)-1:
				// Trailing split artifact
				i++
			default:
				newLine++
				i++
			}
		}
	}
	return ranges
}

// stripDiffPrefix removes the conventional a/ or b/ prefix from a diff
// file name.
func stripDiffPrefix(name string) string {
	if strings.HasPrefix(name, "a/") || strings.HasPrefix(name, "b/") {
		return name[2:]
	}
	return name
}
