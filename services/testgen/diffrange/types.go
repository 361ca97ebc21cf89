// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package diffrange turns unified diffs into per-file changed line
// ranges. Ranges are the sole input for deciding which declarations
// become test targets downstream.
package diffrange

// RangeType classifies a changed range within one file.
type RangeType string

const (
	// RangeAddition marks lines that exist only in the new file.
	RangeAddition RangeType = "addition"

	// RangeDeletion marks lines removed from the original file.
	// Deletions carry no new-file line span and never match targets.
	RangeDeletion RangeType = "deletion"

	// RangeModification marks removed-then-added line pairs.
	RangeModification RangeType = "modification"
)

// ChangedRange is one contiguous changed span in the new version of a
// file. Start and End are 1-based line numbers, both inclusive, so
// overlap against a declaration span [declStart, declEnd] is
// declStart <= End && declEnd >= Start.
//
// Ranges within one file are non-overlapping and ordered by Start.
// They are produced once per file per run and never mutated.
type ChangedRange struct {
	Start int       `json:"start"`
	End   int       `json:"end"`
	Type  RangeType `json:"type"`
}

// Overlaps reports whether the range intersects the inclusive line
// span [start, end].
func (r ChangedRange) Overlaps(start, end int) bool {
	return start <= r.End && end >= r.Start
}

// FileChanges groups the changed ranges of a single file.
type FileChanges struct {
	// Path is the new-file path with any "a/"/"b/" diff prefix
	// stripped.
	Path string `json:"path"`

	// Ranges are the changed spans ordered by start line. A file with
	// only deletions has no ranges.
	Ranges []ChangedRange `json:"ranges"`
}
