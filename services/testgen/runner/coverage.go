// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package runner

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrNoCoverageReport indicates the coverage summary file was not
// produced by the run.
var ErrNoCoverageReport = errors.New("coverage summary not found")

// CoverageSummaryFile is the json-summary reporter output path
// relative to the coverage directory.
const CoverageSummaryFile = "coverage-summary.json"

// CoverageMetric is one istanbul counter with its percentage.
type CoverageMetric struct {
	Total      int     `json:"total"`
	Covered    int     `json:"covered"`
	Percentage float64 `json:"pct"`
}

// CoverageReport holds the project totals from a coverage summary.
type CoverageReport struct {
	Lines      CoverageMetric `json:"lines"`
	Statements CoverageMetric `json:"statements"`
	Functions  CoverageMetric `json:"functions"`
	Branches   CoverageMetric `json:"branches"`
}

// CoverageDelta is the percentage-point change per metric between a
// baseline and a current report.
type CoverageDelta struct {
	Lines      float64 `json:"lines"`
	Statements float64 `json:"statements"`
	Functions  float64 `json:"functions"`
	Branches   float64 `json:"branches"`
}

// ReadCoverageSummary reads the project totals from an istanbul
// json-summary file.
//
// Inputs:
//
//	coverageDir - Directory containing coverage-summary.json
//
// Outputs:
//
//	*CoverageReport - The "total" entry of the summary
//	error - ErrNoCoverageReport when the file is missing
func ReadCoverageSummary(coverageDir string) (*CoverageReport, error) {
	path := filepath.Join(coverageDir, CoverageSummaryFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNoCoverageReport, path)
		}
		return nil, fmt.Errorf("reading coverage summary: %w", err)
	}
	return ParseCoverageSummary(data)
}

// ParseCoverageSummary decodes a json-summary document and returns
// the project totals.
func ParseCoverageSummary(data []byte) (*CoverageReport, error) {
	var summary struct {
		Total CoverageReport `json:"total"`
	}
	if err := json.Unmarshal(data, &summary); err != nil {
		return nil, fmt.Errorf("parsing coverage summary: %w", err)
	}
	return &summary.Total, nil
}

// ComputeCoverageDelta returns the percentage-point change from
// baseline to current. Either report being nil yields nil; a delta is
// only meaningful with both ends measured.
func ComputeCoverageDelta(baseline, current *CoverageReport) *CoverageDelta {
	if baseline == nil || current == nil {
		return nil
	}
	return &CoverageDelta{
		Lines:      current.Lines.Percentage - baseline.Lines.Percentage,
		Statements: current.Statements.Percentage - baseline.Statements.Percentage,
		Functions:  current.Functions.Percentage - baseline.Functions.Percentage,
		Branches:   current.Branches.Percentage - baseline.Branches.Percentage,
	}
}
