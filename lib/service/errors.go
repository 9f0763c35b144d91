// Copyright 2026 The Onionhost Authors
// SPDX-License-Identifier: Apache-2.0

package service

import "fmt"

// ValidationError means a pre-start check failed before any side
// effect: bad configuration, missing site directory, rejected port, or
// an absent tor/nginx binary. Nothing was launched or written.
type ValidationError struct {
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("validation failed: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("validation failed: %s", e.Reason)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// PermissionError means the hidden-service directory could not be
// brought to the required ownership or mode.
type PermissionError struct {
	Path string
	Err  error
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("permissions on %s: %v", e.Path, e.Err)
}

func (e *PermissionError) Unwrap() error { return e.Err }

// ConfigWriteError means writing the torrc stanza or the web server
// fragment failed. The affected file is named so the operator knows
// which one to inspect.
type ConfigWriteError struct {
	Path string
	Err  error
}

func (e *ConfigWriteError) Error() string {
	return fmt.Sprintf("writing %s: %v", e.Path, e.Err)
}

func (e *ConfigWriteError) Unwrap() error { return e.Err }

// ProcessStartError means a managed process failed to launch or did
// not become ready.
type ProcessStartError struct {
	Role string
	Err  error
}

func (e *ProcessStartError) Error() string {
	return fmt.Sprintf("starting %s: %v", e.Role, e.Err)
}

func (e *ProcessStartError) Unwrap() error { return e.Err }
