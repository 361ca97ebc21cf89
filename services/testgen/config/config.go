// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config defines the testweaver configuration surface.
//
// Configuration is loaded from a YAML file (.testweaver.yml by
// default), overridden by TESTWEAVER_* environment variables, and
// validated with struct tags before any pipeline runs.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// =============================================================================
// ENUMS
// =============================================================================

// Framework selects the test framework dialect used for generation,
// validation, and execution.
type Framework string

const (
	// FrameworkJest targets jest. Test globals (describe, it, expect)
	// are ambient and need no import.
	FrameworkJest Framework = "jest"

	// FrameworkVitest targets vitest. Test functions must be imported
	// explicitly from the vitest module.
	FrameworkVitest Framework = "vitest"
)

// RequiresImport reports whether the framework needs an explicit
// import of the test functions in every test file.
func (f Framework) RequiresImport() bool {
	return f == FrameworkVitest
}

// Mode selects the pipeline behavior for one run.
type Mode string

const (
	// ModeScaffold generates structurally valid but intentionally
	// incomplete test skeletons and never executes them.
	ModeScaffold Mode = "scaffold"

	// ModePR generates complete tests for a pull request without
	// executing them.
	ModePR Mode = "pr"

	// ModeFull generates complete tests, executes them, drives the
	// repair loop, and computes a coverage delta when enabled.
	ModeFull Mode = "full"
)

// TestLocation selects where generated test files are placed.
type TestLocation string

const (
	// LocationSeparate places tests under the configured test
	// directory, mirroring nothing of the source tree.
	LocationSeparate TestLocation = "separate"

	// LocationCoLocated places tests next to the source file.
	LocationCoLocated TestLocation = "co-located"
)

// =============================================================================
// CONFIG
// =============================================================================

// CodeStyleConfig controls best-effort post-processing of generated
// code. Failures here are warnings, never errors.
type CodeStyleConfig struct {
	FormatGeneratedCode bool `yaml:"formatGeneratedCode"`
	LintGeneratedCode   bool `yaml:"lintGeneratedCode"`
}

// LLMConfig configures the text-generation provider.
type LLMConfig struct {
	// Model is the provider model identifier.
	Model string `yaml:"model" validate:"required"`

	// BaseURL overrides the provider endpoint. Empty uses the
	// provider default.
	BaseURL string `yaml:"baseUrl"`

	// APIKey authenticates with the provider. Usually supplied via
	// TESTWEAVER_LLM_API_KEY rather than the config file.
	APIKey string `yaml:"apiKey"`

	// MaxTokens bounds the completion size per request.
	MaxTokens int `yaml:"maxTokens" validate:"gt=0"`

	// Temperature is the sampling temperature.
	Temperature float32 `yaml:"temperature" validate:"gte=0,lte=2"`

	// RequestsPerMinute rate-limits generation calls. Zero disables
	// client-side limiting.
	RequestsPerMinute int `yaml:"requestsPerMinute" validate:"gte=0"`

	// Timeout bounds a single generation call.
	Timeout time.Duration `yaml:"timeout"`
}

// VCSConfig configures the hosted version-control client.
type VCSConfig struct {
	// BaseURL is the API endpoint. Defaults to the public GitHub API.
	BaseURL string `yaml:"baseUrl"`

	// Owner and Repo identify the repository.
	Owner string `yaml:"owner"`
	Repo  string `yaml:"repo"`

	// Token authenticates API calls. Usually supplied via
	// TESTWEAVER_VCS_TOKEN.
	Token string `yaml:"token"`
}

// Config is the full recognized configuration surface.
type Config struct {
	// Framework selects the test framework dialect.
	Framework Framework `yaml:"framework" validate:"oneof=jest vitest"`

	// Mode selects scaffold, pr, or full behavior.
	Mode Mode `yaml:"mode" validate:"oneof=scaffold pr full"`

	// MaxTestsPerPR caps targets processed in one run. Targets beyond
	// the cap are silently excluded in extraction order.
	MaxTestsPerPR int `yaml:"maxTestsPerPR" validate:"gt=0"`

	// MaxFixAttempts bounds the repair loop per run.
	MaxFixAttempts int `yaml:"maxFixAttempts" validate:"gte=0"`

	// TestDirectory is the root for separate test placement.
	TestDirectory string `yaml:"testDirectory"`

	// TestFilePattern names generated test files. {name} and {ext}
	// placeholders are substituted.
	TestFilePattern string `yaml:"testFilePattern"`

	// TestLocation selects separate or co-located placement.
	TestLocation TestLocation `yaml:"testLocation" validate:"oneof=separate co-located"`

	// EnableCoverage turns on coverage collection and delta
	// computation in full mode.
	EnableCoverage bool `yaml:"enableCoverage"`

	// PackageManager invokes the test framework (npm, pnpm, yarn).
	PackageManager string `yaml:"packageManager" validate:"oneof=npm pnpm yarn bun"`

	// ProjectRoot is the working directory for test execution and
	// style tooling.
	ProjectRoot string `yaml:"projectRoot"`

	CodeStyle CodeStyleConfig `yaml:"codeStyle"`
	LLM       LLMConfig       `yaml:"llm"`
	VCS       VCSConfig       `yaml:"vcs"`
}

// DefaultConfig returns the baseline configuration. All fields pass
// validation.
func DefaultConfig() *Config {
	return &Config{
		Framework:       FrameworkJest,
		Mode:            ModePR,
		MaxTestsPerPR:   50,
		MaxFixAttempts:  2,
		TestDirectory:   "__tests__",
		TestFilePattern: "{name}.test.{ext}",
		TestLocation:    LocationSeparate,
		EnableCoverage:  false,
		PackageManager:  "npm",
		ProjectRoot:     ".",
		CodeStyle: CodeStyleConfig{
			FormatGeneratedCode: true,
			LintGeneratedCode:   false,
		},
		LLM: LLMConfig{
			Model:             "gpt-4o-mini",
			MaxTokens:         4096,
			Temperature:       0.2,
			RequestsPerMinute: 30,
			Timeout:           120 * time.Second,
		},
		VCS: VCSConfig{
			BaseURL: "https://api.github.com",
		},
	}
}

// ErrConfigNotFound is returned by Load when the config file does not
// exist. Callers may fall back to DefaultConfig.
var ErrConfigNotFound = errors.New("config file not found")

// Load reads a YAML config file, applies environment overrides, and
// validates the result.
//
// Inputs:
//   - path: Config file path. Must not be empty.
//
// Outputs:
//   - *Config: Validated configuration layered over DefaultConfig.
//   - error: ErrConfigNotFound if the file is missing, parse or
//     validation errors otherwise.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return nil, fmt.Errorf("reading config: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration against its struct tags.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// applyEnv overlays TESTWEAVER_* environment variables onto the
// config. Secrets are expected to arrive this way.
func (c *Config) applyEnv() {
	if v := os.Getenv("TESTWEAVER_LLM_API_KEY"); v != "" {
		c.LLM.APIKey = v
	}
	if v := os.Getenv("TESTWEAVER_LLM_MODEL"); v != "" {
		c.LLM.Model = v
	}
	if v := os.Getenv("TESTWEAVER_LLM_BASE_URL"); v != "" {
		c.LLM.BaseURL = v
	}
	if v := os.Getenv("TESTWEAVER_VCS_TOKEN"); v != "" {
		c.VCS.Token = v
	}
	if v := os.Getenv("TESTWEAVER_VCS_BASE_URL"); v != "" {
		c.VCS.BaseURL = v
	}
	if v := os.Getenv("TESTWEAVER_MAX_FIX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			c.MaxFixAttempts = n
		}
	}
	if v := os.Getenv("TESTWEAVER_MAX_TESTS_PER_PR"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.MaxTestsPerPR = n
		}
	}
}
