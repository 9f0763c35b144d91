// Copyright 2026 The Onionhost Authors
// SPDX-License-Identifier: Apache-2.0

package commands

import (
	"log/slog"
	"os"

	"github.com/onionhost-foundation/onionhost/cmd/onionhost/cli"
	"github.com/onionhost-foundation/onionhost/lib/config"
	"github.com/onionhost-foundation/onionhost/lib/platform"
	"github.com/onionhost-foundation/onionhost/lib/service"
)

// newEngine resolves the config path and platform profile and builds
// the orchestrator. ONIONHOST_ROOT relocates every system path under a
// scratch directory for unprivileged development runs.
func newEngine(opts *globalOptions) (*service.Engine, *slog.Logger, error) {
	logger := cli.NewLogger(opts.logJSON, opts.verbose)

	configPath, err := config.ResolvePath(opts.configPath)
	if err != nil {
		return nil, nil, err
	}

	profile := platform.Detect()
	if root := os.Getenv("ONIONHOST_ROOT"); root != "" {
		profile = profile.Relocate(root)
	}
	if profile.Warning != "" {
		logger.Warn("platform detection", "warning", profile.Warning)
	}

	engine, err := service.New(service.Options{
		ConfigPath: configPath,
		Profile:    profile,
		Logger:     logger,
	})
	if err != nil {
		return nil, nil, err
	}
	return engine, logger, nil
}
