// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package testgen wires the generation pipeline end to end: diff
// analysis, target extraction, generation, and optional commit-back
// to the pull request.
package testgen

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/AleutianAI/testweaver/services/testgen/config"
	"github.com/AleutianAI/testweaver/services/testgen/diffrange"
	"github.com/AleutianAI/testweaver/services/testgen/extract"
	"github.com/AleutianAI/testweaver/services/testgen/llm"
	"github.com/AleutianAI/testweaver/services/testgen/pipeline"
	"github.com/AleutianAI/testweaver/services/testgen/runner"
	"github.com/AleutianAI/testweaver/services/testgen/style"
	"github.com/AleutianAI/testweaver/services/testgen/vcs"
)

// ErrNoTargets indicates the diff produced no testable targets.
var ErrNoTargets = errors.New("no testable targets in diff")

// SourceReader resolves a changed file's current content.
type SourceReader func(path string) (string, error)

// Service coordinates one generation flow from a diff to written
// test files.
//
// Thread Safety: Safe for concurrent use; each run builds its own
// orchestrator.
type Service struct {
	cfg       *config.Config
	client    llm.Client
	analyzer  *diffrange.Analyzer
	extractor *extract.Extractor
	vcsClient *vcs.GitHubClient
	logger    *slog.Logger
}

// ServiceOption configures a Service.
type ServiceOption func(*Service)

// WithVCSClient enables PR flows.
func WithVCSClient(client *vcs.GitHubClient) ServiceOption {
	return func(s *Service) { s.vcsClient = client }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewService creates a service from validated configuration.
func NewService(cfg *config.Config, client llm.Client, opts ...ServiceOption) *Service {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	s := &Service{
		cfg:    cfg,
		client: client,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.analyzer = diffrange.NewAnalyzer(diffrange.WithLogger(s.logger))
	s.extractor = extract.NewExtractor(
		extract.WithLogger(s.logger),
		extract.WithTestLayout(cfg.TestDirectory, cfg.TestFilePattern, cfg.TestLocation),
	)
	return s
}

// GenerateFromDiff runs the pipeline for a unified diff, resolving
// source content through readSource.
//
// Description:
//
//	Analyzes the diff into per-file changed ranges, extracts targets
//	from each supported changed file, and hands the ordered targets
//	to the orchestrator. Unsupported or unreadable files are skipped
//	with a warning; they never fail the run.
//
// Outputs:
//
//	*pipeline.TestGenerationSummary - Always non-nil on success,
//	partial on batch abort
//	error - ErrNoTargets when nothing was extractable, analyzer or
//	orchestrator errors otherwise
func (s *Service) GenerateFromDiff(ctx context.Context, diffText string, readSource SourceReader) (*pipeline.TestGenerationSummary, error) {
	changes, err := s.analyzer.AnalyzeDiff(diffText)
	if err != nil {
		return nil, fmt.Errorf("analyzing diff: %w", err)
	}
	targets, err := s.extractAll(ctx, changes, readSource)
	if err != nil {
		return nil, err
	}
	return s.run(ctx, targets)
}

// GenerateFromPR runs the pipeline for a pull request, committing
// generated files back to the PR branch and posting a summary
// comment.
func (s *Service) GenerateFromPR(ctx context.Context, prNumber int) (*pipeline.TestGenerationSummary, error) {
	if s.vcsClient == nil {
		return nil, fmt.Errorf("vcs client not configured")
	}

	pr, err := s.vcsClient.GetPullRequest(ctx, prNumber)
	if err != nil {
		return nil, fmt.Errorf("fetching pull request %d: %w", prNumber, err)
	}
	files, err := s.vcsClient.ListPullRequestFiles(ctx, prNumber)
	if err != nil {
		return nil, fmt.Errorf("listing PR files: %w", err)
	}

	var (
		changes []diffrange.FileChanges
		paths   []string
	)
	for _, f := range files {
		if f.IsRemoved() || f.Patch == "" {
			continue
		}
		ranges, err := s.analyzer.AnalyzeFilePatch(f.Filename, f.Patch)
		if err != nil {
			s.logger.Warn("Skipping unanalyzable patch",
				slog.String("file", f.Filename),
				slog.String("error", err.Error()),
			)
			continue
		}
		if len(ranges) == 0 {
			continue
		}
		changes = append(changes, diffrange.FileChanges{Path: f.Filename, Ranges: ranges})
		paths = append(paths, f.Filename)
	}

	sources, err := s.vcsClient.FetchFiles(ctx, paths, pr.HeadSHA)
	if err != nil {
		return nil, fmt.Errorf("fetching PR sources: %w", err)
	}

	targets, err := s.extractAll(ctx, changes, func(path string) (string, error) {
		content, ok := sources[path]
		if !ok {
			return "", fmt.Errorf("file %s not present at %s", path, pr.HeadSHA)
		}
		return string(content), nil
	})
	if err != nil {
		return nil, err
	}

	summary, runErr := s.run(ctx, targets)
	if summary != nil && len(summary.TestFiles) > 0 {
		s.publishToPR(ctx, pr, summary)
	}
	return summary, runErr
}

// extractAll extracts targets from every supported changed file, in
// diff order.
func (s *Service) extractAll(ctx context.Context, changes []diffrange.FileChanges, readSource SourceReader) ([]*extract.TestTarget, error) {
	if readSource == nil {
		readSource = ReadSourceFromDir(s.cfg.ProjectRoot)
	}

	var targets []*extract.TestTarget
	for _, fc := range changes {
		if len(fc.Ranges) == 0 || isTestFile(fc.Path) {
			continue
		}

		source, err := readSource(fc.Path)
		if err != nil {
			s.logger.Warn("Skipping unreadable file",
				slog.String("file", fc.Path),
				slog.String("error", err.Error()),
			)
			continue
		}

		fileTargets, err := s.extractor.ExtractTargets(ctx, fc.Path, source, fc.Ranges)
		if err != nil {
			if errors.Is(err, extract.ErrUnsupportedFile) {
				continue
			}
			s.logger.Warn("Skipping unextractable file",
				slog.String("file", fc.Path),
				slog.String("error", err.Error()),
			)
			continue
		}
		targets = append(targets, fileTargets...)
	}

	if len(targets) == 0 {
		return nil, ErrNoTargets
	}
	return targets, nil
}

// run builds an orchestrator wired for the configured mode and
// executes it.
func (s *Service) run(ctx context.Context, targets []*extract.TestTarget) (*pipeline.TestGenerationSummary, error) {
	opts := []pipeline.Option{
		pipeline.WithLogger(s.logger),
	}
	if s.cfg.CodeStyle.FormatGeneratedCode || s.cfg.CodeStyle.LintGeneratedCode {
		opts = append(opts, pipeline.WithFormatter(style.NewFormatter(s.cfg.ProjectRoot,
			style.WithPrettier(s.cfg.CodeStyle.FormatGeneratedCode),
			style.WithESLint(s.cfg.CodeStyle.LintGeneratedCode),
			style.WithLogger(s.logger),
		)))
	}
	if s.cfg.Mode == config.ModeFull {
		opts = append(opts, pipeline.WithExecutor(runner.NewTestRunner(s.cfg.ProjectRoot,
			runner.WithPackageManager(s.cfg.PackageManager),
			runner.WithLogger(s.logger),
		)))
	}

	orch, err := pipeline.NewOrchestrator(s.cfg, s.client, opts...)
	if err != nil {
		return nil, err
	}
	return orch.GenerateTestsFromTargets(ctx, targets)
}

// publishToPR commits the generated files to the PR branch and posts
// a summary comment. Failures here are logged, not returned; the
// generated files already exist locally.
func (s *Service) publishToPR(ctx context.Context, pr *vcs.PullRequest, summary *pipeline.TestGenerationSummary) {
	for _, f := range summary.TestFiles {
		message := fmt.Sprintf("test: add generated tests for %s", filepath.Base(f.Path))
		if !f.Created {
			message = fmt.Sprintf("test: extend tests in %s", filepath.Base(f.Path))
		}
		if err := s.vcsClient.CommitFile(ctx, f.Path, pr.HeadRef, message, []byte(f.Content)); err != nil {
			s.logger.Error("Failed to commit test file",
				slog.String("path", f.Path),
				slog.String("error", err.Error()),
			)
		}
	}

	if err := s.vcsClient.CommentPR(ctx, pr.Number, FormatSummaryComment(summary)); err != nil {
		s.logger.Error("Failed to post PR comment",
			slog.Int("pr", pr.Number),
			slog.String("error", err.Error()),
		)
	}
}

// FormatSummaryComment renders a run summary as a PR comment body.
func FormatSummaryComment(summary *pipeline.TestGenerationSummary) string {
	var b strings.Builder
	b.WriteString("## testweaver\n\n")
	fmt.Fprintf(&b, "Processed %d targets: %d generated, %d failed.\n\n",
		summary.TargetsProcessed, summary.TestsGenerated, summary.TestsFailed)

	if len(summary.TestFiles) > 0 {
		b.WriteString("| Test file | Targets |\n|---|---|\n")
		for _, f := range summary.TestFiles {
			fmt.Fprintf(&b, "| `%s` | %d |\n", f.Path, len(f.TargetIDs))
		}
		b.WriteString("\n")
	}
	if summary.CoverageDelta != nil {
		fmt.Fprintf(&b, "Coverage delta: lines %+.1f%%, branches %+.1f%%\n\n",
			summary.CoverageDelta.Lines, summary.CoverageDelta.Branches)
	}
	if len(summary.Errors) > 0 {
		b.WriteString("<details><summary>Errors</summary>\n\n")
		for _, e := range summary.Errors {
			fmt.Fprintf(&b, "- %s\n", e)
		}
		b.WriteString("\n</details>\n")
	}
	fmt.Fprintf(&b, "\n_run `%s`_\n", summary.RunID)
	return b.String()
}

// ReadSourceFromDir returns a SourceReader rooted at dir.
func ReadSourceFromDir(dir string) SourceReader {
	return func(path string) (string, error) {
		content, err := os.ReadFile(filepath.Join(dir, path))
		if err != nil {
			return "", err
		}
		return string(content), nil
	}
}

// isTestFile filters already-test files out of target extraction.
func isTestFile(path string) bool {
	base := filepath.Base(path)
	return strings.Contains(base, ".test.") ||
		strings.Contains(base, ".spec.") ||
		strings.Contains(filepath.ToSlash(path), "__tests__/")
}
