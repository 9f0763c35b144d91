// Copyright 2026 The Onionhost Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"log/slog"
	"os"

	"golang.org/x/term"
)

// NewLogger creates the command logger. On a terminal it is a text
// handler; piped or redirected output gets JSON so scripts and CI can
// parse it. forceJSON (the --log-json flag) overrides the detection,
// verbose lowers the level to Debug.
func NewLogger(forceJSON, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	options := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if !forceJSON && term.IsTerminal(int(os.Stderr.Fd())) {
		handler = slog.NewTextHandler(os.Stderr, options)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, options)
	}
	return slog.New(handler)
}
