// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package logging constructs the shared zap logger for kbchat.
//
// Terminal output belongs to the TUI, so the logger always writes to a file
// under the config directory. Packages receive a *zap.Logger and never log
// to stdout/stderr themselves.
package logging

import (
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a file-backed logger at the given path. Level accepts the
// usual zap names ("debug", "info", "warn", "error"); anything else falls
// back to info.
func New(path string, level string) (*zap.Logger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}

	lvl := zapcore.InfoLevel
	if parsed, err := zapcore.ParseLevel(level); err == nil {
		lvl = parsed
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.OutputPaths = []string{path}
	cfg.ErrorOutputPaths = []string{path}
	cfg.Encoding = "json"

	return cfg.Build()
}

// NewNop returns a no-op logger for tests and for callers that have not
// set up logging yet.
func NewNop() *zap.Logger {
	return zap.NewNop()
}
