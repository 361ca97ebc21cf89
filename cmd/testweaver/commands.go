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
	"github.com/spf13/cobra"
)

// --- Global Command Variables ---
var (
	configPath   string
	modeOverride string
	projectRoot  string
	verbose      bool
	jsonLogs     bool
	logDir       string

	diffPath     string
	servePort    int
	serveDebug   bool
	watchDirs    []string
	watchAgainst string

	rootCmd = &cobra.Command{
		Use:   "testweaver",
		Short: "Generate and repair unit tests for changed code",
		Long: `Testweaver analyzes a diff, extracts the changed functions, and
				generates unit tests for them with an LLM. In full mode it also
				executes the generated tests and repairs failures.`,
	}

	// --- Generation ---
	generateCmd = &cobra.Command{
		Use:   "generate",
		Short: "Generate tests for a unified diff (from --diff or stdin)",
		Run:   runGenerate, // Defined in cmd_generate.go
	}

	prCmd = &cobra.Command{
		Use:   "pr [number]",
		Short: "Generate tests for a pull request and commit them to its branch",
		Args:  cobra.ExactArgs(1),
		Run:   runPR, // Defined in cmd_generate.go
	}

	// --- Watch ---
	watchCmd = &cobra.Command{
		Use:   "watch",
		Short: "Watch the project for source changes and regenerate tests",
		Run:   runWatch, // Defined in cmd_watch.go
	}

	// --- Server ---
	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Run the testweaver HTTP API",
		Run:   runServe, // Defined in cmd_serve.go
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", ".testweaver.yml",
		"Path to the configuration file")
	rootCmd.PersistentFlags().StringVar(&modeOverride, "mode", "",
		"Override the pipeline mode: scaffold, pr, or full")
	rootCmd.PersistentFlags().StringVar(&projectRoot, "project-root", "",
		"Override the project root directory")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false,
		"Enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&jsonLogs, "json-logs", false,
		"Write stderr logs as JSON")
	rootCmd.PersistentFlags().StringVar(&logDir, "log-dir", "",
		"Also write JSON logs to this directory")

	rootCmd.AddCommand(generateCmd)
	generateCmd.Flags().StringVar(&diffPath, "diff", "",
		"Read the unified diff from this file instead of stdin")

	rootCmd.AddCommand(prCmd)

	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().StringSliceVar(&watchDirs, "dir", nil,
		"Directories to watch (default: the project root)")
	watchCmd.Flags().StringVar(&watchAgainst, "against", "HEAD",
		"Git revision to diff changed files against")

	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 8080, "Port to listen on")
	serveCmd.Flags().BoolVar(&serveDebug, "debug", false, "Enable Gin debug mode")
}
