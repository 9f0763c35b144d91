// Copyright 2026 The Onionhost Authors
// SPDX-License-Identifier: Apache-2.0

// Package sqlitepool opens SQLite connection pools with the pragmas
// the engine expects everywhere: WAL journaling, NORMAL synchronous,
// and a busy timeout so concurrent commands queue instead of failing.
//
// The event log in lib/history is the only current consumer, but the
// pool is deliberately schema-agnostic: callers provide an OnConnect
// hook that creates whatever tables they need.
package sqlitepool
