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
	"bytes"
	"context"
	"fmt"
	"log"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/testweaver/services/testgen"
	"github.com/AleutianAI/testweaver/services/testgen/watch"
)

const gitDiffTimeout = 30 * time.Second

func runWatch(cmd *cobra.Command, args []string) {
	svc, err := buildService(false)
	if err != nil {
		log.Fatalf("Error: %v", err)
	}

	ctx, cancel := signalContext()
	defer cancel()

	roots := watchDirs
	if len(roots) == 0 {
		roots = []string{cfg.ProjectRoot}
	}

	handler := func(paths []string) {
		runOnChanges(ctx, svc, paths)
	}

	var watchers []*watch.SourceWatcher
	for _, root := range roots {
		w, err := watch.NewSourceWatcher(root, handler, &watch.Options{
			DebounceWindow: 2 * time.Second,
			Logger:         logger.Slog(),
		})
		if err != nil {
			log.Fatalf("Error watching %s: %v", root, err)
		}
		if err := w.Start(ctx); err != nil {
			log.Fatalf("Error watching %s: %v", root, err)
		}
		watchers = append(watchers, w)
		fmt.Printf("Watching %s\n", root)
	}
	defer func() {
		for _, w := range watchers {
			w.Stop()
		}
	}()

	fmt.Println("Waiting for source changes. Ctrl-C to stop.")
	<-ctx.Done()
	fmt.Println("\nStopping.")
}

// runOnChanges diffs the changed files against the configured
// revision and feeds the result through the pipeline. Failures are
// logged and the watch continues.
func runOnChanges(ctx context.Context, svc *testgen.Service, paths []string) {
	diffText, err := gitDiff(ctx, paths)
	if err != nil {
		logger.Warn("Skipping change batch", slog.String("error", err.Error()))
		return
	}
	if strings.TrimSpace(diffText) == "" {
		logger.Debug("No diff against revision", slog.String("against", watchAgainst))
		return
	}

	fmt.Printf("Change detected in %d file(s), generating...\n", len(paths))
	summary, err := svc.GenerateFromDiff(ctx, diffText, nil)
	if err != nil && !batchAborted(err) {
		logger.Error("Generation failed", slog.String("error", err.Error()))
		return
	}
	if batchAborted(err) {
		fmt.Printf("Batch aborted (%v); results below are partial.\n", err)
	}
	printSummary(summary)
}

// gitDiff returns the unified diff of the given files against the
// --against revision, relative to the project root.
func gitDiff(ctx context.Context, paths []string) (string, error) {
	diffCtx, cancel := context.WithTimeout(ctx, gitDiffTimeout)
	defer cancel()

	gitArgs := append([]string{"diff", watchAgainst, "--"}, paths...)
	gitCmd := exec.CommandContext(diffCtx, "git", gitArgs...)
	gitCmd.Dir = cfg.ProjectRoot

	var stdout, stderr bytes.Buffer
	gitCmd.Stdout = &stdout
	gitCmd.Stderr = &stderr

	if err := gitCmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return "", fmt.Errorf("git diff: %s", msg)
	}
	return stdout.String(), nil
}
