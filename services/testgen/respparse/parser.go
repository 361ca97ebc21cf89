// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package respparse extracts test code from free-form model responses
// and validates its structure before merging.
package respparse

import "strings"

// ParseTestCode extracts code from a model response.
//
// When the response contains fenced code blocks, the largest block by
// character count wins, with or without a language tag. Without any
// fence the trimmed raw response is returned unchanged, since the
// model may have obeyed the no-markdown instruction. Empty input
// yields empty output.
//
// ParseTestCode is idempotent: parsing an already-parsed result
// returns it unchanged.
func ParseTestCode(raw string) string {
	blocks := fencedBlocks(raw)
	if len(blocks) == 0 {
		return strings.TrimSpace(raw)
	}

	largest := blocks[0]
	for _, b := range blocks[1:] {
		if len(b) > len(largest) {
			largest = b
		}
	}
	return strings.TrimSpace(largest)
}

// fencedBlocks returns the contents of all fenced code blocks. Fence
// markers are recognized only at the start of a line; the optional
// language tag on the opening fence is dropped.
func fencedBlocks(raw string) []string {
	lines := strings.Split(raw, "\n")
	var blocks []string
	var current []string
	inBlock := false

	for _, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			if inBlock {
				blocks = append(blocks, strings.Join(current, "\n"))
				current = nil
				inBlock = false
			} else {
				inBlock = true
			}
			continue
		}
		if inBlock {
			current = append(current, line)
		}
	}
	// An unclosed fence is treated as running to the end of input.
	if inBlock && len(current) > 0 {
		blocks = append(blocks, strings.Join(current, "\n"))
	}
	return blocks
}
