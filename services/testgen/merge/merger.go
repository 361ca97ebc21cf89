// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package merge combines newly generated test code into existing test
// files. Merging is idempotent: content already fully represented in
// the target produces no duplicate imports, groups, or test cases.
package merge

import (
	"regexp"
	"strings"
)

// segmentKind classifies a top-level piece of a test file.
type segmentKind int

const (
	segImport segmentKind = iota
	segDescribe
	segOther
)

// segment is one top-level piece of a test file in source order.
type segment struct {
	kind segmentKind
	text string
	// name is the group name for describe segments.
	name string
}

// MergeTestFiles merges newCode into existingContent and returns the
// combined file.
//
// Imports that are textually exact duplicates collapse to one; groups
// sharing a literal name merge their test cases (existing cases first,
// new cases after, each side in source order); groups only in the new
// content append after existing content. Non-import, non-group
// statements in the existing file are preserved verbatim and never
// reordered relative to each other.
func MergeTestFiles(existingContent, newCode string) string {
	if strings.TrimSpace(existingContent) == "" {
		return normalize(newCode)
	}
	if strings.TrimSpace(newCode) == "" {
		return normalize(existingContent)
	}

	existing := parseSegments(existingContent)
	incoming := parseSegments(newCode)

	var out []string

	// Imports: existing order first, then new imports not already
	// present as exact textual matches.
	seenImports := map[string]bool{}
	for _, s := range existing {
		if s.kind != segImport {
			continue
		}
		key := strings.TrimSpace(s.text)
		if seenImports[key] {
			continue
		}
		seenImports[key] = true
		out = append(out, s.text)
	}
	for _, s := range incoming {
		if s.kind != segImport {
			continue
		}
		key := strings.TrimSpace(s.text)
		if seenImports[key] {
			continue
		}
		seenImports[key] = true
		out = append(out, s.text)
	}

	newGroups := map[string]segment{}
	var newGroupOrder []string
	for _, s := range incoming {
		if s.kind == segDescribe {
			if _, ok := newGroups[s.name]; !ok {
				newGroups[s.name] = s
				newGroupOrder = append(newGroupOrder, s.name)
			}
		}
	}

	// Existing body in original order; groups present in both merge in
	// place.
	mergedNames := map[string]bool{}
	for _, s := range existing {
		switch s.kind {
		case segImport:
			// already emitted
		case segDescribe:
			if incomingGroup, ok := newGroups[s.name]; ok {
				out = append(out, mergeDescribeBlocks(s.text, incomingGroup.text))
				mergedNames[s.name] = true
			} else {
				out = append(out, s.text)
			}
		case segOther:
			out = append(out, s.text)
		}
	}

	// Non-import helper statements from the new content that are not
	// already present verbatim.
	existingText := existingContent
	for _, s := range incoming {
		if s.kind != segOther {
			continue
		}
		if !strings.Contains(existingText, strings.TrimSpace(s.text)) {
			out = append(out, s.text)
		}
	}

	// Groups only in the new content append after existing content.
	for _, name := range newGroupOrder {
		if !mergedNames[name] {
			if _, inExisting := findGroup(existing, name); !inExisting {
				out = append(out, newGroups[name].text)
			}
		}
	}

	return normalize(strings.Join(out, "\n\n"))
}

// HasExistingTests reports whether content already has a test group
// covering the function or class, used upstream to request an
// extension-style prompt.
func HasExistingTests(content, functionName, className string) bool {
	for _, s := range parseSegments(content) {
		if s.kind != segDescribe {
			continue
		}
		if functionName != "" && strings.Contains(s.name, functionName) {
			return true
		}
		if className != "" && strings.Contains(s.name, className) {
			return true
		}
	}
	return false
}

// findGroup looks up a describe segment by name.
func findGroup(segs []segment, name string) (segment, bool) {
	for _, s := range segs {
		if s.kind == segDescribe && s.name == name {
			return s, true
		}
	}
	return segment{}, false
}

// =============================================================================
// SEGMENT PARSING
// =============================================================================

var describeStart = regexp.MustCompile(`^\s*describe(\.\w+)?\s*\(`)

// parseSegments splits a test file into top-level import, describe,
// and other segments in source order. Blank separator lines between
// segments are dropped; blank lines inside a segment survive.
func parseSegments(content string) []segment {
	lines := strings.Split(content, "\n")
	var segs []segment

	i := 0
	for i < len(lines) {
		line := lines[i]
		trimmed := strings.TrimSpace(line)

		switch {
		case trimmed == "":
			i++
		case strings.HasPrefix(trimmed, "import ") || strings.HasPrefix(trimmed, "import{") || strings.HasPrefix(trimmed, "import'") || strings.HasPrefix(trimmed, `import"`):
			end := importEnd(lines, i)
			segs = append(segs, segment{
				kind: segImport,
				text: strings.Join(lines[i:end+1], "\n"),
			})
			i = end + 1
		case describeStart.MatchString(line):
			end := statementEnd(lines, i)
			text := strings.Join(lines[i:end+1], "\n")
			segs = append(segs, segment{
				kind: segDescribe,
				text: text,
				name: firstStringLiteral(text),
			})
			i = end + 1
		default:
			end := statementEnd(lines, i)
			segs = append(segs, segment{
				kind: segOther,
				text: strings.Join(lines[i:end+1], "\n"),
			})
			i = end + 1
		}
	}
	return segs
}

// importEnd finds the last line of an import statement starting at
// start. Single-line imports end immediately; multi-line named
// imports end on the line carrying the module specifier.
func importEnd(lines []string, start int) int {
	for i := start; i < len(lines); i++ {
		if strings.ContainsAny(lines[i], `'"`) && (i > start || strings.Contains(lines[i], "from") || !strings.Contains(lines[i], "{")) {
			return i
		}
		if strings.HasSuffix(strings.TrimSpace(lines[i]), ";") {
			return i
		}
	}
	return start
}

// statementEnd finds the last line of a brace/paren-balanced statement
// starting at start. A statement with no opening delimiter on its
// first line ends there.
func statementEnd(lines []string, start int) int {
	depth := 0
	opened := false
	for i := start; i < len(lines); i++ {
		depth += delimiterDelta(lines[i])
		if depth > 0 {
			opened = true
		}
		if opened && depth <= 0 {
			return i
		}
		if !opened && i == start && depth == 0 {
			return i
		}
	}
	return len(lines) - 1
}

// delimiterDelta counts net paren/brace/bracket depth on a line,
// ignoring delimiters inside string literals and line comments.
func delimiterDelta(line string) int {
	depth := 0
	var quote rune
	escaped := false
	for idx, c := range line {
		if escaped {
			escaped = false
			continue
		}
		if quote != 0 {
			switch c {
			case '\\':
				escaped = true
			case quote:
				quote = 0
			}
			continue
		}
		switch c {
		case '\'', '"', '`':
			quote = c
		case '/':
			if idx+1 < len(line) && line[idx+1] == '/' {
				return depth
			}
		case '(', '{', '[':
			depth++
		case ')', '}', ']':
			depth--
		}
	}
	return depth
}

// firstStringLiteral extracts the first quoted string in text, used
// for group and case names.
func firstStringLiteral(text string) string {
	for i := 0; i < len(text); i++ {
		c := text[i]
		if c == '\'' || c == '"' || c == '`' {
			for j := i + 1; j < len(text); j++ {
				if text[j] == '\\' {
					j++
					continue
				}
				if text[j] == c {
					return text[i+1 : j]
				}
			}
			return ""
		}
	}
	return ""
}

// =============================================================================
// GROUP MERGING
// =============================================================================

var caseStart = regexp.MustCompile(`^\s*(it|test)(\.\w+)?\s*\(`)

// testCase is one test case inside a describe block.
type testCase struct {
	name string
	text string
}

// mergeDescribeBlocks merges the cases of the incoming block into the
// existing block. Existing cases come first, then incoming cases not
// already present by name, preserving source order within each side.
func mergeDescribeBlocks(existingBlock, incomingBlock string) string {
	existingCases := extractCases(existingBlock)
	present := map[string]bool{}
	for _, c := range existingCases {
		present[c.name] = true
	}

	var added []testCase
	for _, c := range extractCases(incomingBlock) {
		if c.name != "" && present[c.name] {
			continue
		}
		if strings.Contains(existingBlock, strings.TrimSpace(c.text)) {
			continue
		}
		present[c.name] = true
		added = append(added, c)
	}
	if len(added) == 0 {
		return existingBlock
	}

	// Insert before the block's closing line.
	closeIdx := strings.LastIndex(existingBlock, "});")
	if closeIdx < 0 {
		closeIdx = strings.LastIndex(existingBlock, "})")
	}
	if closeIdx < 0 {
		// Malformed block; append cases at the end rather than lose
		// them.
		var b strings.Builder
		b.WriteString(existingBlock)
		for _, c := range added {
			b.WriteString("\n")
			b.WriteString(c.text)
		}
		return b.String()
	}

	var b strings.Builder
	b.WriteString(strings.TrimRight(existingBlock[:closeIdx], "\n"))
	b.WriteString("\n")
	for _, c := range added {
		b.WriteString("\n")
		b.WriteString(indentCase(c.text))
		b.WriteString("\n")
	}
	b.WriteString(existingBlock[closeIdx:])
	return b.String()
}

// extractCases finds the test cases of a describe block in source
// order.
func extractCases(block string) []testCase {
	lines := strings.Split(block, "\n")
	var cases []testCase

	i := 0
	for i < len(lines) {
		if !caseStart.MatchString(lines[i]) {
			i++
			continue
		}
		end := statementEnd(lines, i)
		text := strings.Join(lines[i:end+1], "\n")
		cases = append(cases, testCase{
			name: firstStringLiteral(text),
			text: text,
		})
		i = end + 1
	}
	return cases
}

// indentCase gives an un-indented case one tab of block indentation.
func indentCase(text string) string {
	lines := strings.Split(text, "\n")
	if len(lines) > 0 && strings.HasPrefix(lines[0], "\t") || strings.HasPrefix(text, "  ") {
		return text
	}
	for i, line := range lines {
		if line != "" {
			lines[i] = "\t" + line
		}
	}
	return strings.Join(lines, "\n")
}

// normalize trims outer whitespace and guarantees one trailing
// newline.
func normalize(content string) string {
	return strings.TrimSpace(content) + "\n"
}
