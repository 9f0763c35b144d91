// Copyright 2026 The Onionhost Authors
// SPDX-License-Identifier: Apache-2.0

// Package config persists the hidden-service configuration between runs.
//
// Configuration lives in a single YAML file. The path is resolved from:
//   - ONIONHOST_CONFIG environment variable, or
//   - --config flag passed to the command, or
//   - the default under the user's config directory
//
// The file is the single source of truth for the published service:
// which hosting method is active, which directory or port is exposed,
// and the onion address obtained on the last successful start. Saves
// are atomic so a crash mid-write never leaves a truncated file.
package config
