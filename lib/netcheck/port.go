// Copyright 2026 The Onionhost Authors
// SPDX-License-Identifier: Apache-2.0

// Package netcheck enforces port policy and probes loopback
// reachability. Policy checks are pure; nothing here touches the
// network except WaitReachable, which the orchestrator uses to confirm
// the local web server is accepting connections before tor is pointed
// at it.
package netcheck

import (
	"fmt"
	"net"
	"time"

	"github.com/onionhost-foundation/onionhost/lib/clock"
)

// Verdict is the outcome of a port validation.
type Verdict int

const (
	// Ok means the port is acceptable without caveats.
	Ok Verdict = iota

	// Warning means the port is allowed but flagged; currently only
	// privileged ports below 1024, which require elevated privileges
	// to bind.
	Warning

	// Rejected means the port must not be used.
	Rejected
)

func (v Verdict) String() string {
	switch v {
	case Ok:
		return "ok"
	case Warning:
		return "warning"
	case Rejected:
		return "rejected"
	default:
		return fmt.Sprintf("Verdict(%d)", int(v))
	}
}

// torReservedPorts are tor's own SOCKS and control ports (9050/9051)
// and the Tor Browser bundle's equivalents (9150/9151). Forwarding a
// hidden service to any of these would collide with the relay's own
// channels, so they are rejected unconditionally.
var torReservedPorts = map[int]bool{
	9050: true,
	9051: true,
	9150: true,
	9151: true,
}

// Result carries a verdict and, for Warning and Rejected, the reason.
type Result struct {
	Verdict Verdict
	Reason  string
}

// ValidatePort applies the engine's port policy, in order: range
// check, tor reserved-port check, privileged-port check. It performs
// no in-use probing: whether something is already listening is a
// launch-time concern, not a policy one.
func ValidatePort(port int) Result {
	if port < 1 || port > 65535 {
		return Result{
			Verdict: Rejected,
			Reason:  fmt.Sprintf("port %d is outside the valid range 1-65535", port),
		}
	}
	if torReservedPorts[port] {
		return Result{
			Verdict: Rejected,
			Reason:  fmt.Sprintf("port %d is reserved by tor for its own SOCKS/control channels", port),
		}
	}
	if port <= 1023 {
		return Result{
			Verdict: Warning,
			Reason:  fmt.Sprintf("port %d is privileged; binding it requires elevated privileges", port),
		}
	}
	return Result{Verdict: Ok}
}

// WaitReachable dials the loopback TCP port repeatedly until a
// connection succeeds or the timeout elapses. Used to confirm the
// local web server came up before the relay is launched against it.
func WaitReachable(clk clock.Clock, port int, timeout time.Duration) error {
	address := net.JoinHostPort("127.0.0.1", fmt.Sprint(port))
	deadline := clk.Now().Add(timeout)

	var lastErr error
	for {
		conn, err := net.DialTimeout("tcp", address, time.Second)
		if err == nil {
			conn.Close()
			return nil
		}
		lastErr = err
		if !clk.Now().Before(deadline) {
			return fmt.Errorf("%s not reachable within %s: %w", address, timeout, lastErr)
		}
		clk.Sleep(100 * time.Millisecond)
	}
}
