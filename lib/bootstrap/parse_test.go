// Copyright 2026 The Onionhost Authors
// SPDX-License-Identifier: Apache-2.0

package bootstrap

import "testing"

func TestParseLine(t *testing.T) {
	tests := []struct {
		name string
		line string
		want Event
		ok   bool
	}{
		{
			name: "modern notice with tag and summary",
			line: "May 01 12:00:01.000 [notice] Bootstrapped 45% (requesting_descriptors): Asking for relay descriptors",
			want: Event{Percent: 45, Summary: "Asking for relay descriptors"},
			ok:   true,
		},
		{
			name: "legacy notice without tag",
			line: "[notice] Bootstrapped 85%: Finishing handshake with first hop",
			want: Event{Percent: 85, Summary: "Finishing handshake with first hop"},
			ok:   true,
		},
		{
			name: "done",
			line: "May 01 12:00:09.000 [notice] Bootstrapped 100% (done): Done",
			want: Event{Percent: 100, Summary: "Done"},
			ok:   true,
		},
		{
			name: "zero percent",
			line: "[notice] Bootstrapped 0% (starting): Starting",
			want: Event{Percent: 0, Summary: "Starting"},
			ok:   true,
		},
		{
			name: "tag only falls back to tag text",
			line: "[notice] Bootstrapped 10% (conn_done)",
			want: Event{Percent: 10, Summary: "conn_done"},
			ok:   true,
		},
		{
			name: "unrelated notice",
			line: "[notice] Opening Socks listener on 127.0.0.1:9050",
			ok:   false,
		},
		{
			name: "warning line",
			line: "[warn] Failed to find node for hop #1 of our path.",
			ok:   false,
		},
		{
			name: "empty",
			line: "",
			ok:   false,
		},
		{
			name: "over 100 rejected",
			line: "[notice] Bootstrapped 150% (bogus): Bogus",
			ok:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseLine(tt.line)
			if ok != tt.ok {
				t.Fatalf("ParseLine(%q) ok = %v, want %v", tt.line, ok, tt.ok)
			}
			if ok && got != tt.want {
				t.Errorf("ParseLine(%q) = %+v, want %+v", tt.line, got, tt.want)
			}
		})
	}
}

func TestPhaseFor(t *testing.T) {
	tests := []struct {
		percent int
		want    Phase
	}{
		{0, Connecting},
		{5, Connecting},
		{9, Connecting},
		{10, DirectoryLookup},
		{45, DirectoryLookup},
		{50, DescriptorLoad},
		{74, DescriptorLoad},
		{75, NetworkStatus},
		{89, NetworkStatus},
		{90, CircuitBuild},
		{99, CircuitBuild},
		{100, Live},
	}
	for _, tt := range tests {
		if got := PhaseFor(tt.percent); got != tt.want {
			t.Errorf("PhaseFor(%d) = %q, want %q", tt.percent, got, tt.want)
		}
	}
}
