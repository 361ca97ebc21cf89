// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command testweaver generates unit tests for changed code.
//
// Usage:
//
//	# Generate tests for a local diff
//	git diff | testweaver generate
//	testweaver generate --diff changes.patch
//
//	# Generate tests for a pull request and commit them back
//	testweaver pr 128
//
//	# Regenerate tests on every source save
//	testweaver watch
//
//	# Run the HTTP API
//	testweaver serve --port 8080
package main

import (
	"errors"
	"log"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/testweaver/pkg/logging"
	"github.com/AleutianAI/testweaver/services/testgen/config"
)

var (
	cfg    *config.Config
	logger *logging.Logger
)

func main() {
	defer func() {
		if logger != nil {
			logger.Close()
		}
	}()
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("Error executing command: %v", err)
	}
}

func init() {
	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		level := logging.LevelInfo
		if verbose {
			level = logging.LevelDebug
		}
		logger = logging.New(logging.Config{
			Level:   level,
			Service: "testweaver",
			LogDir:  logDir,
			JSON:    jsonLogs,
		})
		slog.SetDefault(logger.Slog())

		loaded, err := config.Load(configPath)
		if err != nil {
			if errors.Is(err, config.ErrConfigNotFound) {
				logger.Debug("No config file, using defaults",
					slog.String("path", configPath))
				loaded = config.DefaultConfig()
			} else {
				logger.Error("Invalid configuration", slog.String("error", err.Error()))
				os.Exit(1)
			}
		}
		cfg = loaded

		if modeOverride != "" {
			cfg.Mode = config.Mode(modeOverride)
		}
		if projectRoot != "" {
			cfg.ProjectRoot = projectRoot
		}
		if err := cfg.Validate(); err != nil {
			logger.Error("Invalid configuration", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}
}
