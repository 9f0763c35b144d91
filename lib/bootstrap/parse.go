// Copyright 2026 The Onionhost Authors
// SPDX-License-Identifier: Apache-2.0

package bootstrap

import (
	"regexp"
	"strconv"
	"strings"
)

// Event is one parsed bootstrap progress report from the relay's
// diagnostic output.
type Event struct {
	// Percent is the reported bootstrap percentage, 0-100.
	Percent int

	// Summary is the human-readable phase description from the log
	// line, e.g. "Connecting to a relay" or "Done".
	Summary string
}

// bootstrapPattern matches tor's bootstrap notices, e.g.:
//
//	May 01 12:00:01.000 [notice] Bootstrapped 45% (requesting_descriptors): Asking for relay descriptors
//	May 01 12:00:09.000 [notice] Bootstrapped 100% (done): Done
//
// The parenthesized tag and the trailing summary are both optional;
// older tor versions emit only "Bootstrapped 85%: Finishing handshake".
var bootstrapPattern = regexp.MustCompile(`Bootstrapped (\d+)%(?:\s*\(([^)]*)\))?(?::\s*(.*))?`)

// ParseLine extracts a bootstrap event from one line of relay output.
// Returns false for lines that are not bootstrap notices. Parsing is
// separated from the watch loop so the progress grammar can be tested
// as a pure function.
func ParseLine(line string) (Event, bool) {
	match := bootstrapPattern.FindStringSubmatch(line)
	if match == nil {
		return Event{}, false
	}

	percent, err := strconv.Atoi(match[1])
	if err != nil || percent < 0 || percent > 100 {
		return Event{}, false
	}

	summary := strings.TrimSpace(match[3])
	if summary == "" {
		summary = strings.TrimSpace(match[2])
	}
	if summary == "" {
		summary = "Connecting"
	}
	return Event{Percent: percent, Summary: summary}, true
}

// Phase is a coarse stage of the relay's bootstrap sequence, derived
// from the reported percentage.
type Phase string

const (
	// Idle is the state before any progress has been observed.
	Idle Phase = "idle"

	// Connecting covers initial connection to the network (0-10%).
	Connecting Phase = "connecting"

	// DirectoryLookup covers fetching directory information (10-50%).
	DirectoryLookup Phase = "directory-lookup"

	// DescriptorLoad covers loading relay descriptors (50-75%).
	DescriptorLoad Phase = "descriptor-load"

	// NetworkStatus covers consensus establishment (75-90%).
	NetworkStatus Phase = "network-status"

	// CircuitBuild covers building the first circuits (90-99%).
	CircuitBuild Phase = "circuit-build"

	// Live means bootstrap reached 100% and the service is published.
	Live Phase = "live"
)

// PhaseFor maps a bootstrap percentage to its phase.
func PhaseFor(percent int) Phase {
	switch {
	case percent >= 100:
		return Live
	case percent >= 90:
		return CircuitBuild
	case percent >= 75:
		return NetworkStatus
	case percent >= 50:
		return DescriptorLoad
	case percent >= 10:
		return DirectoryLookup
	default:
		return Connecting
	}
}
