// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/AleutianAI/testweaver/services/testgen"
	"github.com/AleutianAI/testweaver/services/testgen/llm"
	"github.com/AleutianAI/testweaver/services/testgen/pipeline"
	"github.com/AleutianAI/testweaver/services/testgen/vcs"
)

func runGenerate(cmd *cobra.Command, args []string) {
	diffText, err := readDiff()
	if err != nil {
		log.Fatalf("Error reading diff: %v", err)
	}

	svc, err := buildService(false)
	if err != nil {
		log.Fatalf("Error: %v", err)
	}

	ctx, cancel := signalContext()
	defer cancel()

	summary, err := svc.GenerateFromDiff(ctx, diffText, nil)
	if err != nil && !batchAborted(err) {
		log.Fatalf("Generation failed: %v", err)
	}
	if batchAborted(err) {
		fmt.Printf("Batch aborted (%v); results below are partial.\n", err)
	}
	printSummary(summary)
}

func runPR(cmd *cobra.Command, args []string) {
	prNumber, err := strconv.Atoi(args[0])
	if err != nil || prNumber <= 0 {
		log.Fatalf("Invalid PR number %q", args[0])
	}

	svc, err := buildService(true)
	if err != nil {
		log.Fatalf("Error: %v", err)
	}

	ctx, cancel := signalContext()
	defer cancel()

	fmt.Printf("Generating tests for PR #%d (%s/%s)\n", prNumber, cfg.VCS.Owner, cfg.VCS.Repo)
	summary, err := svc.GenerateFromPR(ctx, prNumber)
	if err != nil && !batchAborted(err) {
		log.Fatalf("Generation failed: %v", err)
	}
	if batchAborted(err) {
		fmt.Printf("Batch aborted (%v); results below are partial.\n", err)
	}
	printSummary(summary)
}

// batchAborted reports whether the pipeline stopped midway but still
// produced a partial summary worth printing.
func batchAborted(err error) bool {
	return errors.Is(err, pipeline.ErrQuotaExhausted) ||
		errors.Is(err, pipeline.ErrProviderRejected)
}

// readDiff returns the diff from --diff, or from stdin when it is
// piped. An interactive terminal with no --diff is an error rather
// than a silent hang.
func readDiff() (string, error) {
	if diffPath != "" {
		content, err := os.ReadFile(diffPath)
		if err != nil {
			return "", err
		}
		return string(content), nil
	}

	if isatty.IsTerminal(os.Stdin.Fd()) || isatty.IsCygwinTerminal(os.Stdin.Fd()) {
		return "", errors.New("no diff given: pipe one on stdin or pass --diff")
	}
	content, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", err
	}
	return string(content), nil
}

// buildService wires the LLM provider and, when needed, the VCS
// client from the loaded configuration.
func buildService(requireVCS bool) (*testgen.Service, error) {
	if cfg.LLM.APIKey == "" {
		return nil, errors.New("no LLM API key: set llm.apiKey or TESTWEAVER_LLM_API_KEY")
	}

	client := llm.NewOpenAIClient(cfg.LLM.APIKey, cfg.LLM.BaseURL, cfg.LLM.Model,
		llm.WithMaxTokens(cfg.LLM.MaxTokens),
		llm.WithTemperature(cfg.LLM.Temperature),
		llm.WithRequestsPerMinute(cfg.LLM.RequestsPerMinute),
		llm.WithClientLogger(logger.Slog()),
	)

	opts := []testgen.ServiceOption{testgen.WithLogger(logger.Slog())}
	if cfg.VCS.Token != "" && cfg.VCS.Owner != "" && cfg.VCS.Repo != "" {
		vcsClient, err := vcs.NewGitHubClient(cfg.VCS.Token, cfg.VCS.Owner, cfg.VCS.Repo,
			vcs.WithBaseURL(cfg.VCS.BaseURL),
			vcs.WithLogger(logger.Slog()),
		)
		if err != nil {
			return nil, fmt.Errorf("configuring VCS client: %w", err)
		}
		opts = append(opts, testgen.WithVCSClient(vcsClient))
	} else if requireVCS {
		return nil, errors.New("PR mode needs vcs.owner, vcs.repo, and TESTWEAVER_VCS_TOKEN")
	}

	return testgen.NewService(cfg, client, opts...), nil
}

// signalContext returns a context canceled by SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()
	return ctx, cancel
}

// printSummary renders a run summary for the terminal.
func printSummary(summary *pipeline.TestGenerationSummary) {
	if summary == nil {
		return
	}
	fmt.Println("---")
	fmt.Printf("Processed %d targets: %d generated, %d failed (%.1fs)\n",
		summary.TargetsProcessed, summary.TestsGenerated, summary.TestsFailed,
		summary.Duration.Seconds())

	for _, f := range summary.TestFiles {
		action := "updated"
		if f.Created {
			action = "created"
		}
		fmt.Printf("  %s %s (%d targets)\n", action, f.Path, len(f.TargetIDs))
	}
	if summary.CoverageDelta != nil {
		fmt.Printf("Coverage delta: lines %+.1f%%, branches %+.1f%%\n",
			summary.CoverageDelta.Lines, summary.CoverageDelta.Branches)
	}
	if len(summary.Errors) > 0 {
		fmt.Println("Errors:")
		for _, e := range summary.Errors {
			fmt.Printf("  - %s\n", e)
		}
	}
	fmt.Printf("Run ID: %s\n", summary.RunID)
}
