// Copyright 2026 The Onionhost Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time abstraction for testability.
//
// Production code accepts a Clock parameter instead of calling time.Now,
// time.After, or time.Sleep directly. In production, Real() provides the
// standard library behavior. In tests, Fake() provides a deterministic
// clock that advances only when Advance is called, so the bootstrap
// timeout and the supervisor's termination grace period can be tested
// without wall-clock waits.
package clock

import "time"

// Clock abstracts the time operations the engine uses: the bootstrap
// wait deadline, the termination grace period, and readiness-probe
// pacing. Every production function that would call time.Now,
// time.After, or time.Sleep takes a Clock instead.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// After returns a channel that receives the current time after
	// duration d elapses. Equivalent to time.After. If d <= 0, the
	// channel receives immediately.
	After(d time.Duration) <-chan time.Time

	// Sleep pauses the current goroutine for at least duration d.
	// Equivalent to time.Sleep.
	Sleep(d time.Duration)
}
