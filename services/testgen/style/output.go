// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package style

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// extractESLintOutput pulls the fixed source out of an eslint JSON
// report. Returns false when no fix output is present.
func extractESLintOutput(report []byte) (string, bool) {
	var results []struct {
		Output *string `json:"output"`
	}
	if err := json.Unmarshal(report, &results); err != nil || len(results) == 0 {
		return "", false
	}
	if results[0].Output == nil {
		return "", false
	}
	return *results[0].Output, true
}

// commandError folds captured stderr into the process error.
func commandError(err error, stderr *bytes.Buffer) error {
	msg := strings.TrimSpace(stderr.String())
	if msg == "" {
		return err
	}
	return fmt.Errorf("%w: %s", err, firstLine(msg))
}

// firstLine keeps error logs to one line per tool failure.
func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		return s[:idx]
	}
	return s
}

// asExitError is errors.As narrowed to exec.ExitError.
func asExitError(err error, target **exec.ExitError) bool {
	return errors.As(err, target)
}
