// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/AleutianAI/testweaver/services/testgen/config"
	"github.com/AleutianAI/testweaver/services/testgen/extract"
	"github.com/AleutianAI/testweaver/services/testgen/llm"
	"github.com/AleutianAI/testweaver/services/testgen/merge"
	"github.com/AleutianAI/testweaver/services/testgen/prompt"
	"github.com/AleutianAI/testweaver/services/testgen/respparse"
	"github.com/AleutianAI/testweaver/services/testgen/runner"
)

// =============================================================================
// CAPABILITIES
// =============================================================================

// TestExecutor runs written test files. Satisfied by
// runner.TestRunner.
type TestExecutor interface {
	RunTests(ctx context.Context, req runner.RunRequest) (*runner.RunResult, error)
}

// CodeFormatter normalizes generated code. Satisfied by
// style.Formatter.
type CodeFormatter interface {
	Format(ctx context.Context, filePath, code string) string
}

// noopFormatter keeps code as is when formatting is disabled.
type noopFormatter struct{}

func (noopFormatter) Format(_ context.Context, _ string, code string) string { return code }

// =============================================================================
// ORCHESTRATOR
// =============================================================================

// Orchestrator drives targets through generation, validation, merge,
// write, execution, and repair.
//
// Thread Safety: NOT safe for concurrent runs on the same instance.
// Create one Orchestrator per run.
type Orchestrator struct {
	cfg       *config.Config
	client    llm.Client
	executor  TestExecutor
	formatter CodeFormatter
	files     FileWriter
	optimizer *prompt.Optimizer
	clock     Clock
	logger    *slog.Logger
	newRunID  func() string
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithExecutor injects the test executor. Required for full mode.
func WithExecutor(executor TestExecutor) Option {
	return func(o *Orchestrator) { o.executor = executor }
}

// WithFormatter injects the code formatter.
func WithFormatter(formatter CodeFormatter) Option {
	return func(o *Orchestrator) {
		if formatter != nil {
			o.formatter = formatter
		}
	}
}

// WithFileWriter injects the file writer.
func WithFileWriter(files FileWriter) Option {
	return func(o *Orchestrator) {
		if files != nil {
			o.files = files
		}
	}
}

// WithClock injects the clock.
func WithClock(clock Clock) Option {
	return func(o *Orchestrator) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithRunIDFunc injects the run ID generator.
func WithRunIDFunc(fn func() string) Option {
	return func(o *Orchestrator) {
		if fn != nil {
			o.newRunID = fn
		}
	}
}

// NewOrchestrator creates an orchestrator for one pipeline run.
func NewOrchestrator(cfg *config.Config, client llm.Client, opts ...Option) (*Orchestrator, error) {
	if client == nil {
		return nil, ErrNilClient
	}
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	o := &Orchestrator{
		cfg:       cfg,
		client:    client,
		formatter: noopFormatter{},
		optimizer: prompt.NewOptimizer(),
		clock:     systemClock{},
		logger:    slog.Default(),
		newRunID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.files == nil {
		o.files = NewFileManager(cfg.ProjectRoot, o.logger)
	}
	return o, nil
}

// fileBuffer accumulates merged test code for one output file.
type fileBuffer struct {
	path      string
	content   string
	targetIDs []string
	targets   []*extract.TestTarget
	created   bool
}

// GenerateTestsFromTargets runs the pipeline over the given targets.
//
// Description:
//
//	Targets beyond the per-run cap are excluded in input order.
//	Each remaining target is generated, parsed, validated, and merged
//	into its test file buffer; buffers are formatted and written
//	once. In full mode the written files are executed as one batch
//	and failing files enter a bounded repair loop.
//
//	A provider quota or non-retryable failure aborts the remaining
//	batch and returns the partial summary alongside the error, since
//	further calls would fail identically. Target-level failures such
//	as an unparseable response are recorded and the run continues.
//
// Inputs:
//
//	ctx - Context for cancellation
//	targets - Extracted targets in deterministic source order
//
// Outputs:
//
//	*TestGenerationSummary - Always non-nil, partial on abort
//	error - Non-nil only when the whole batch aborted
func (o *Orchestrator) GenerateTestsFromTargets(ctx context.Context, targets []*extract.TestTarget) (*TestGenerationSummary, error) {
	if ctx == nil {
		return nil, ErrNilContext
	}

	start := o.clock.Now()
	summary := &TestGenerationSummary{RunID: o.newRunID()}
	if len(targets) == 0 {
		return summary, nil
	}

	if len(targets) > o.cfg.MaxTestsPerPR {
		o.logger.Debug("Capping targets for this run",
			slog.Int("extracted", len(targets)),
			slog.Int("cap", o.cfg.MaxTestsPerPR),
		)
		targets = targets[:o.cfg.MaxTestsPerPR]
	}

	ctx, span := startRunSpan(ctx, summary.RunID, string(o.cfg.Mode), len(targets))
	defer span.End()

	o.logger.Info("Starting generation run",
		slog.String("run_id", summary.RunID),
		slog.String("mode", string(o.cfg.Mode)),
		slog.Int("targets", len(targets)),
	)

	var (
		buffers     = make(map[string]*fileBuffer)
		bufferOrder []string
		abortErr    error
	)

	// Phase 1: generate and merge per target.
	for _, target := range targets {
		result, err := o.generateTarget(ctx, target, buffers, &bufferOrder)
		summary.Results = append(summary.Results, result)
		summary.TargetsProcessed++

		if result.State == StateGenerationFailed {
			summary.Errors = append(summary.Errors, result.Error)
		}
		if err != nil {
			// Quota and non-retryable provider failures make every
			// further call pointless.
			abortErr = err
			break
		}
	}

	// Phase 2: format and write the merged buffers.
	o.writeBuffers(ctx, summary, buffers, bufferOrder)

	// Phase 3: execute and repair, full mode only.
	if abortErr == nil && o.cfg.Mode == config.ModeFull && o.executor != nil {
		o.executeAndRepair(ctx, summary, buffers, bufferOrder)
	}

	o.finalize(ctx, summary)
	summary.Duration = o.clock.Now().Sub(start)
	recordRunMetrics(ctx, string(o.cfg.Mode), summary.Duration, summary.TestsFailed == 0)

	o.logger.Info("Generation run finished",
		slog.String("run_id", summary.RunID),
		slog.Int("targets_processed", summary.TargetsProcessed),
		slog.Int("tests_generated", summary.TestsGenerated),
		slog.Int("tests_failed", summary.TestsFailed),
		slog.Duration("duration", summary.Duration),
	)

	if abortErr != nil {
		if llm.IsQuota(abortErr) {
			return summary, fmt.Errorf("%w: %v", ErrQuotaExhausted, abortErr)
		}
		return summary, fmt.Errorf("%w: %v", ErrProviderRejected, abortErr)
	}
	return summary, nil
}

// generateTarget runs one target through generation, parsing,
// validation, and merge into its file buffer. The returned error is
// non-nil only for quota and non-retryable provider failures, which
// abort the batch.
func (o *Orchestrator) generateTarget(ctx context.Context, target *extract.TestTarget, buffers map[string]*fileBuffer, bufferOrder *[]string) (TargetResult, error) {
	result := TargetResult{Target: *target, State: StateExtracted}

	if err := target.Validate(); err != nil {
		result.State = StateGenerationFailed
		result.Error = fmt.Sprintf("%s: %v", target.ID(), err)
		return result, nil
	}

	result.State = StateGenerating
	o.logger.Debug("Generating tests for target",
		slog.String("target", target.ID()),
		slog.String("type", string(target.FunctionType)),
	)

	gen, err := o.callProvider(ctx, target)
	if err != nil {
		result.State = StateGenerationFailed
		result.Error = fmt.Sprintf("%s: %v", target.ID(), err)
		if llm.IsQuota(err) || llm.IsProviderNonRetryable(err) {
			return result, err
		}
		return result, nil
	}

	code := respparse.ParseTestCode(gen.TestCode)
	validation := respparse.ValidateTestCodeStructure(code, o.cfg.Framework)
	if !validation.Valid {
		result.State = StateGenerationFailed
		result.Error = fmt.Sprintf("%s: invalid response: %s", target.ID(), strings.Join(validation.Errors, "; "))
		return result, nil
	}
	result.State = StateValidated

	path := target.TestFilePath
	buf, ok := buffers[path]
	if !ok {
		existing, found := o.files.ReadTestFile(path)
		buf = &fileBuffer{path: path, content: existing, created: !found}
		buffers[path] = buf
		*bufferOrder = append(*bufferOrder, path)
	}
	buf.content = merge.MergeTestFiles(buf.content, code)
	buf.targetIDs = append(buf.targetIDs, target.ID())
	buf.targets = append(buf.targets, target)

	result.State = StateMerged
	result.TestFilePath = path
	return result, nil
}

// callProvider makes one generation call with the configured timeout.
func (o *Orchestrator) callProvider(ctx context.Context, target *extract.TestTarget) (*llm.GenerationResult, error) {
	if o.cfg.LLM.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.LLM.Timeout)
		defer cancel()
	}

	if o.cfg.Mode == config.ModeScaffold {
		messages := prompt.BuildScaffoldMessages(target, o.cfg.Framework)
		return o.client.GenerateTestScaffold(ctx, messages)
	}
	messages := prompt.BuildGenerationMessages(target, o.cfg.Framework, nil)
	return o.client.GenerateTest(ctx, messages)
}

// writeBuffers formats and writes every merged buffer, advancing its
// targets to written.
func (o *Orchestrator) writeBuffers(ctx context.Context, summary *TestGenerationSummary, buffers map[string]*fileBuffer, bufferOrder []string) {
	for _, path := range bufferOrder {
		buf := buffers[path]
		buf.content = o.formatter.Format(ctx, path, buf.content)

		if err := o.files.WriteTestFile(path, buf.content); err != nil {
			o.logger.Error("Failed to write test file",
				slog.String("path", path),
				slog.String("error", err.Error()),
			)
			msg := fmt.Sprintf("%s: %v", path, err)
			summary.Errors = append(summary.Errors, msg)
			o.setStates(summary, buf.targetIDs, StateGenerationFailed, msg)
			continue
		}

		o.setStates(summary, buf.targetIDs, StateWritten, "")
		summary.TestFiles = append(summary.TestFiles, MergedTestFile{
			Path:      path,
			Content:   buf.content,
			TargetIDs: buf.targetIDs,
			Created:   buf.created,
		})
	}
}

// executeAndRepair runs the written files once as a batch, then
// drives the bounded repair loop for failing files.
func (o *Orchestrator) executeAndRepair(ctx context.Context, summary *TestGenerationSummary, buffers map[string]*fileBuffer, bufferOrder []string) {
	written := o.writtenPaths(summary, bufferOrder, buffers)
	if len(written) == 0 {
		return
	}

	var baseline *runner.CoverageReport
	coverageDir := filepath.Join(o.cfg.ProjectRoot, "coverage")
	if o.cfg.EnableCoverage {
		baseline, _ = runner.ReadCoverageSummary(coverageDir)
	}

	batch, err := o.executor.RunTests(ctx, runner.RunRequest{
		Framework: o.cfg.Framework,
		TestFiles: written,
		Coverage:  o.cfg.EnableCoverage,
	})
	if err != nil {
		msg := fmt.Sprintf("test execution failed: %v", err)
		o.logger.Error("Batch execution failed", slog.String("error", err.Error()))
		summary.Errors = append(summary.Errors, msg)
		for _, path := range written {
			o.setStates(summary, buffers[path].targetIDs, StateGaveUp, msg)
		}
		return
	}

	for _, path := range written {
		buf := buffers[path]
		o.setStates(summary, buf.targetIDs, StateExecuted, "")

		fileResult := batch.FileResult(resolveReportPath(batch, path))
		if passed(fileResult, batch) {
			o.setStates(summary, buf.targetIDs, StatePassed, "")
			continue
		}
		o.setStates(summary, buf.targetIDs, StateFailed, "")
		o.repairFile(ctx, summary, buf, fileResult, batch)
	}

	if o.cfg.EnableCoverage {
		current, _ := runner.ReadCoverageSummary(coverageDir)
		summary.CoverageDelta = runner.ComputeCoverageDelta(baseline, current)
	}
}

// repairFile runs the bounded repair loop for one failing test file.
func (o *Orchestrator) repairFile(ctx context.Context, summary *TestGenerationSummary, buf *fileBuffer, fileResult *runner.FileResult, batch *runner.RunResult) {
	attempts := 0
	for attempts < o.cfg.MaxFixAttempts {
		attempts++
		o.setStates(summary, buf.targetIDs, StateRepairing, "")
		o.logger.Info("Attempting test repair",
			slog.String("path", buf.path),
			slog.Int("attempt", attempts),
			slog.Int("max_attempts", o.cfg.MaxFixAttempts),
		)

		fc := o.optimizer.Optimize(o.buildFixContext(buf, fileResult, batch))
		messages := prompt.BuildFixMessages(fc, o.cfg.Framework)

		gen, err := o.client.GenerateTest(ctx, messages)
		if err != nil {
			o.giveUp(summary, buf, attempts, fmt.Sprintf("repair generation failed: %v", err))
			return
		}

		code := respparse.ParseTestCode(gen.TestCode)
		validation := respparse.ValidateTestCodeStructure(code, o.cfg.Framework)
		if !validation.Valid {
			// An invalid fix consumes the attempt; the previous file
			// content stays in place for the next round.
			continue
		}

		buf.content = o.formatter.Format(ctx, buf.path, code)
		if err := o.files.WriteTestFile(buf.path, buf.content); err != nil {
			o.giveUp(summary, buf, attempts, fmt.Sprintf("writing repaired file: %v", err))
			return
		}
		o.updateTestFile(summary, buf)

		rerun, err := o.executor.RunTests(ctx, runner.RunRequest{
			Framework: o.cfg.Framework,
			TestFiles: []string{buf.path},
		})
		if err != nil {
			o.giveUp(summary, buf, attempts, fmt.Sprintf("repair execution failed: %v", err))
			return
		}

		fileResult = rerun.FileResult(resolveReportPath(rerun, buf.path))
		batch = rerun
		if passed(fileResult, rerun) {
			o.setStates(summary, buf.targetIDs, StatePassed, "")
			o.setFixAttempts(summary, buf.targetIDs, attempts)
			recordFixAttempts(ctx, attempts, true)
			o.logger.Info("Repair succeeded",
				slog.String("path", buf.path),
				slog.Int("attempts", attempts),
			)
			return
		}
	}

	o.giveUp(summary, buf, attempts, "repair attempts exhausted")
	recordFixAttempts(ctx, attempts, false)
}

// buildFixContext assembles the repair prompt inputs for one file.
func (o *Orchestrator) buildFixContext(buf *fileBuffer, fileResult *runner.FileResult, batch *runner.RunResult) prompt.FixContext {
	var original strings.Builder
	for _, t := range buf.targets {
		original.WriteString(t.Code)
		original.WriteString("\n\n")
	}

	fc := prompt.FixContext{
		OriginalCode: strings.TrimRight(original.String(), "\n"),
		TestCode:     buf.content,
		TestOutput:   batch.Output,
	}
	if fileResult != nil {
		for _, f := range fileResult.Failures {
			fc.FailingTests = append(fc.FailingTests, f.TestName)
			if fc.ErrorMessage == "" {
				fc.ErrorMessage = f.Message
			}
		}
	}
	if fc.ErrorMessage == "" {
		fc.ErrorMessage = "tests failed"
	}
	return fc
}

// finalize assigns the summary counters from terminal states.
func (o *Orchestrator) finalize(ctx context.Context, summary *TestGenerationSummary) {
	executing := o.cfg.Mode == config.ModeFull && o.executor != nil
	for i := range summary.Results {
		r := &summary.Results[i]
		switch r.State {
		case StatePassed:
			summary.TestsGenerated++
		case StateGenerationFailed, StateGaveUp:
			summary.TestsFailed++
		case StateWritten, StateExecuted, StateFailed:
			if executing {
				// Executing runs require a pass; anything short of
				// that is a failure.
				summary.TestsFailed++
			} else {
				// Non-executing modes end at written.
				summary.TestsGenerated++
			}
		}
		recordTargetOutcome(ctx, r.State)
	}
}

// =============================================================================
// HELPERS
// =============================================================================

func (o *Orchestrator) setStates(summary *TestGenerationSummary, targetIDs []string, state TargetState, errMsg string) {
	ids := make(map[string]struct{}, len(targetIDs))
	for _, id := range targetIDs {
		ids[id] = struct{}{}
	}
	for i := range summary.Results {
		r := &summary.Results[i]
		if _, ok := ids[r.Target.ID()]; !ok {
			continue
		}
		if r.State.IsTerminal() {
			continue
		}
		r.State = state
		if errMsg != "" {
			r.Error = errMsg
		}
	}
}

func (o *Orchestrator) setFixAttempts(summary *TestGenerationSummary, targetIDs []string, attempts int) {
	ids := make(map[string]struct{}, len(targetIDs))
	for _, id := range targetIDs {
		ids[id] = struct{}{}
	}
	for i := range summary.Results {
		if _, ok := ids[summary.Results[i].Target.ID()]; ok {
			summary.Results[i].FixAttempts = attempts
		}
	}
}

func (o *Orchestrator) giveUp(summary *TestGenerationSummary, buf *fileBuffer, attempts int, reason string) {
	msg := fmt.Sprintf("%s: %s", buf.path, reason)
	summary.Errors = append(summary.Errors, msg)
	o.setStates(summary, buf.targetIDs, StateGaveUp, msg)
	o.setFixAttempts(summary, buf.targetIDs, attempts)
	o.logger.Warn("Giving up on test file",
		slog.String("path", buf.path),
		slog.Int("attempts", attempts),
		slog.String("reason", reason),
	)
}

// updateTestFile refreshes the summary entry for a rewritten file.
func (o *Orchestrator) updateTestFile(summary *TestGenerationSummary, buf *fileBuffer) {
	for i := range summary.TestFiles {
		if summary.TestFiles[i].Path == buf.path {
			summary.TestFiles[i].Content = buf.content
			return
		}
	}
}

// writtenPaths returns the buffer paths that were actually written.
func (o *Orchestrator) writtenPaths(summary *TestGenerationSummary, bufferOrder []string, buffers map[string]*fileBuffer) []string {
	writtenSet := make(map[string]struct{}, len(summary.TestFiles))
	for _, f := range summary.TestFiles {
		writtenSet[f.Path] = struct{}{}
	}
	var written []string
	for _, path := range bufferOrder {
		if _, ok := writtenSet[path]; ok {
			written = append(written, path)
		}
	}
	return written
}

// passed decides whether a file's tests pass, falling back to the
// batch result when the runner did not report the file.
func passed(fileResult *runner.FileResult, batch *runner.RunResult) bool {
	if fileResult != nil {
		return fileResult.Success
	}
	return batch.Success
}

// resolveReportPath maps a written path to the runner's reported
// path. Runners report absolute paths; written paths are project
// relative.
func resolveReportPath(batch *runner.RunResult, path string) string {
	for _, f := range batch.Files {
		if f.TestFile == path || strings.HasSuffix(f.TestFile, "/"+path) {
			return f.TestFile
		}
	}
	return path
}
