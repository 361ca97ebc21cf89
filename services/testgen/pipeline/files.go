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
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

// =============================================================================
// FILE MANAGER
// =============================================================================

// FileWriter is the filesystem surface the orchestrator needs.
type FileWriter interface {
	// ReadTestFile returns the current content of a test file, or
	// ("", false) when it does not exist.
	ReadTestFile(path string) (string, bool)

	// WriteTestFile writes a test file, creating parent directories.
	WriteTestFile(path, content string) error

	// Rollback restores every file written this session to its
	// pre-session state.
	Rollback() error
}

// FileManager is the production FileWriter. It backs up overwritten
// files and tracks created ones so a failed run can be undone.
//
// Thread Safety: Uses internal locking. Each pipeline run should have
// its own FileManager.
type FileManager struct {
	projectRoot  string
	backups      map[string][]byte
	createdFiles map[string]struct{}
	mu           sync.Mutex
	logger       *slog.Logger
}

// NewFileManager creates a file manager rooted at the project
// directory.
func NewFileManager(projectRoot string, logger *slog.Logger) *FileManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileManager{
		projectRoot:  projectRoot,
		backups:      make(map[string][]byte),
		createdFiles: make(map[string]struct{}),
		logger:       logger,
	}
}

// ReadTestFile reads a test file relative to the project root.
func (m *FileManager) ReadTestFile(path string) (string, bool) {
	content, err := os.ReadFile(m.absolute(path))
	if err != nil {
		return "", false
	}
	return string(content), true
}

// WriteTestFile writes a test file atomically via temp file and
// rename. The first write to a path backs up any existing content.
//
// Thread Safety: Uses internal locking.
func (m *FileManager) WriteTestFile(path, content string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	filePath := m.absolute(path)

	dir := filepath.Dir(filePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("%w: create directory: %v", ErrTestWriteFailed, err)
	}

	if _, tracked := m.backups[filePath]; !tracked {
		if _, created := m.createdFiles[filePath]; !created {
			if existing, err := os.ReadFile(filePath); err == nil {
				m.backups[filePath] = existing
			} else {
				m.createdFiles[filePath] = struct{}{}
			}
		}
	}

	tempPath := filePath + ".testweaver.tmp"
	if err := os.WriteFile(tempPath, []byte(content), 0644); err != nil {
		return fmt.Errorf("%w: write temp: %v", ErrTestWriteFailed, err)
	}
	if err := os.Rename(tempPath, filePath); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("%w: rename: %v", ErrTestWriteFailed, err)
	}

	m.logger.Debug("Wrote test file",
		slog.String("path", filePath),
		slog.Int("size", len(content)),
	)
	return nil
}

// Rollback restores backed-up files and removes created ones.
//
// Thread Safety: Uses internal locking.
func (m *FileManager) Rollback() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.logger.Info("Rolling back written test files",
		slog.Int("backups", len(m.backups)),
		slog.Int("created", len(m.createdFiles)),
	)

	var lastErr error
	for filePath, content := range m.backups {
		if err := os.WriteFile(filePath, content, 0644); err != nil {
			m.logger.Error("Failed to restore file",
				slog.String("path", filePath),
				slog.String("error", err.Error()),
			)
			lastErr = fmt.Errorf("%w: restore %s: %v", ErrRollbackFailed, filePath, err)
		}
	}
	for filePath := range m.createdFiles {
		if err := os.Remove(filePath); err != nil && !os.IsNotExist(err) {
			m.logger.Error("Failed to remove created file",
				slog.String("path", filePath),
				slog.String("error", err.Error()),
			)
			lastErr = fmt.Errorf("%w: remove %s: %v", ErrRollbackFailed, filePath, err)
		}
	}

	m.backups = make(map[string][]byte)
	m.createdFiles = make(map[string]struct{})
	return lastErr
}

// WrittenCount returns how many distinct files this session touched.
//
// Thread Safety: Safe for concurrent use.
func (m *FileManager) WrittenCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.backups) + len(m.createdFiles)
}

func (m *FileManager) absolute(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(m.projectRoot, path)
}
