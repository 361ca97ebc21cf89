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
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	"github.com/smacker/go-tree-sitter/typescript/typescript"

	"github.com/AleutianAI/testweaver/services/testgen/config"
	"github.com/AleutianAI/testweaver/services/testgen/diffrange"
)

const (
	// DefaultMaxFileSize bounds source files accepted for extraction.
	DefaultMaxFileSize = 10 * 1024 * 1024

	// contextLines is the number of surrounding source lines attached
	// to each target as context.
	contextLines = 5
)

var (
	// ErrFileTooLarge indicates the source exceeds the size limit.
	ErrFileTooLarge = errors.New("source file too large")

	// ErrInvalidContent indicates the source is not valid UTF-8.
	ErrInvalidContent = errors.New("invalid source content")

	// ErrUnsupportedFile indicates the file extension has no grammar.
	ErrUnsupportedFile = errors.New("unsupported file type")
)

// FileStore abstracts test-file existence checks and reads so the
// extractor can be driven from the working tree or from a remote ref.
//
// Thread Safety: Implementations must be safe for concurrent use.
type FileStore interface {
	// Exists reports whether a file exists at path.
	Exists(path string) bool

	// ReadFile returns the content of the file at path.
	ReadFile(path string) (string, error)
}

// OSFileStore is a FileStore over the local filesystem.
type OSFileStore struct{}

// Exists reports whether path names an existing regular file.
func (OSFileStore) Exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// ReadFile reads the file at path.
func (OSFileStore) ReadFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Extractor turns source text plus changed ranges into ordered test
// targets.
//
// Description:
//
//	The extractor parses the source with tree-sitter, enumerates
//	top-level function declarations, arrow-function assignments, and
//	class methods, and keeps those whose line span intersects at least
//	one changed range. Targets are emitted in source declaration
//	order, stable across repeated runs on identical input.
//
// Thread Safety:
//
//	Extractor is safe for concurrent use. Each ExtractTargets call
//	creates its own tree-sitter parser instance.
type Extractor struct {
	store           FileStore
	logger          *slog.Logger
	maxFileSize     int64
	testDirectory   string
	testFilePattern string
	testLocation    config.TestLocation
}

// ExtractorOption configures an Extractor.
type ExtractorOption func(*Extractor)

// WithFileStore sets the test-file lookup capability.
func WithFileStore(store FileStore) ExtractorOption {
	return func(e *Extractor) {
		if store != nil {
			e.store = store
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) ExtractorOption {
	return func(e *Extractor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithMaxFileSize sets the maximum accepted source size in bytes.
func WithMaxFileSize(bytes int64) ExtractorOption {
	return func(e *Extractor) {
		if bytes > 0 {
			e.maxFileSize = bytes
		}
	}
}

// WithTestLayout sets the test placement convention used to derive
// test-file paths.
func WithTestLayout(dir, pattern string, location config.TestLocation) ExtractorOption {
	return func(e *Extractor) {
		if dir != "" {
			e.testDirectory = dir
		}
		if pattern != "" {
			e.testFilePattern = pattern
		}
		if location != "" {
			e.testLocation = location
		}
	}
}

// NewExtractor creates an Extractor with defaults: local filesystem
// store, separate test placement under __tests__.
func NewExtractor(opts ...ExtractorOption) *Extractor {
	e := &Extractor{
		store:           OSFileStore{},
		logger:          slog.Default(),
		maxFileSize:     DefaultMaxFileSize,
		testDirectory:   "__tests__",
		testFilePattern: "{name}.test.{ext}",
		testLocation:    config.LocationSeparate,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ExtractTargets returns the test targets of one file.
//
// Inputs:
//   - ctx: Context for cancellation.
//   - filePath: Source path relative to the project root.
//   - source: Full current source text.
//   - ranges: The file's changed ranges from diff analysis.
//
// Outputs:
//   - []*TestTarget: Targets in source declaration order. Empty when
//     no declaration overlaps a range.
//   - error: Non-nil on size, encoding, or parse failures.
func (e *Extractor) ExtractTargets(ctx context.Context, filePath, source string, ranges []diffrange.ChangedRange) ([]*TestTarget, error) {
	if len(ranges) == 0 {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("extraction canceled: %w", err)
	}
	if int64(len(source)) > e.maxFileSize {
		return nil, fmt.Errorf("%w: %s is %d bytes", ErrFileTooLarge, filePath, len(source))
	}
	if !utf8.ValidString(source) {
		return nil, fmt.Errorf("%w: %s is not valid UTF-8", ErrInvalidContent, filePath)
	}

	language, err := languageForFile(filePath)
	if err != nil {
		return nil, err
	}

	// New parser instance per call for thread safety.
	parser := sitter.NewParser()
	parser.SetLanguage(language)

	content := []byte(source)
	tree, err := parser.ParseCtx(ctx, nil, content)
	if err != nil {
		return nil, fmt.Errorf("tree-sitter parse failed for %s: %w", filePath, err)
	}
	defer tree.Close()

	root := tree.RootNode()
	if root == nil {
		return nil, fmt.Errorf("tree-sitter returned nil root for %s", filePath)
	}

	decls := collectDeclarations(root, content)

	lines := strings.Split(source, "\n")
	var targets []*TestTarget
	for _, d := range decls {
		overlapping := clipRanges(ranges, d.startLine, d.endLine)
		if len(overlapping) == 0 {
			continue
		}
		target := &TestTarget{
			FilePath:               filePath,
			FunctionName:           d.name,
			FunctionType:           d.kind,
			ClassName:              d.className,
			IsPrivate:              d.isPrivate,
			ClassPrivateProperties: d.privateProps,
			Code:                   d.code,
			Context:                surroundingContext(lines, d.startLine, d.endLine),
			StartLine:              d.startLine,
			EndLine:                d.endLine,
			ChangedRanges:          overlapping,
		}
		e.attachExistingTests(target)
		targets = append(targets, target)
	}

	e.logger.Debug("extracted targets",
		slog.String("file", filePath),
		slog.Int("declarations", len(decls)),
		slog.Int("targets", len(targets)),
	)
	return targets, nil
}

// DeriveTestFilePath returns the conventional test-file path for a
// source file under the configured layout.
func (e *Extractor) DeriveTestFilePath(sourcePath string) string {
	ext := strings.TrimPrefix(filepath.Ext(sourcePath), ".")
	base := strings.TrimSuffix(filepath.Base(sourcePath), filepath.Ext(sourcePath))

	name := strings.NewReplacer("{name}", base, "{ext}", ext).Replace(e.testFilePattern)

	if e.testLocation == config.LocationCoLocated {
		return filepath.Join(filepath.Dir(sourcePath), name)
	}
	return filepath.Join(e.testDirectory, name)
}

// attachExistingTests resolves the derived test path and reads the
// existing test file when present.
func (e *Extractor) attachExistingTests(target *TestTarget) {
	path := e.DeriveTestFilePath(target.FilePath)
	target.TestFilePath = path
	if !e.store.Exists(path) {
		return
	}
	content, err := e.store.ReadFile(path)
	if err != nil {
		e.logger.Warn("existing test file unreadable",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return
	}
	target.ExistingTestFile = content
}

// languageForFile maps a file extension to its tree-sitter grammar.
func languageForFile(path string) (*sitter.Language, error) {
	switch {
	case strings.HasSuffix(path, ".tsx"):
		return tsx.GetLanguage(), nil
	case strings.HasSuffix(path, ".ts"), strings.HasSuffix(path, ".mts"), strings.HasSuffix(path, ".cts"):
		return typescript.GetLanguage(), nil
	case strings.HasSuffix(path, ".js"), strings.HasSuffix(path, ".jsx"),
		strings.HasSuffix(path, ".mjs"), strings.HasSuffix(path, ".cjs"):
		return javascript.GetLanguage(), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFile, path)
	}
}

// clipRanges returns the subset of ranges overlapping the inclusive
// span [start, end].
func clipRanges(ranges []diffrange.ChangedRange, start, end int) []diffrange.ChangedRange {
	var out []diffrange.ChangedRange
	for _, r := range ranges {
		if r.Overlaps(start, end) {
			out = append(out, r)
		}
	}
	return out
}

// surroundingContext slices a few lines around the declaration span.
// Line numbers are 1-based inclusive.
func surroundingContext(lines []string, startLine, endLine int) string {
	from := startLine - 1 - contextLines
	if from < 0 {
		from = 0
	}
	to := endLine + contextLines
	if to > len(lines) {
		to = len(lines)
	}
	return strings.Join(lines[from:to], "\n")
}
