// Copyright 2026 The Onionhost Authors
// SPDX-License-Identifier: Apache-2.0

// Package bootstrap turns the relay's free-text diagnostic output into
// a bounded progress state machine.
//
// The relay reports bootstrap progress as notice lines containing a
// percentage and a phase description. Rather than scanning strings ad
// hoc wherever progress matters, parsing is a pure function
// (ParseLine) returning a typed Event, and a Monitor applies events to
// state with a monotonic guard: progress never moves backwards within
// one watch, duplicate or reordered log lines are ignored, and the
// caller's progress callback fires at most once per distinct
// percentage, in non-decreasing order.
//
// A watch ends in exactly one of three ways: Live (100% observed),
// TimeoutError (the configurable wall-clock bound elapsed), or
// FailedError (the relay's output ended before 100%). Live and
// FailedError are final for the Monitor; a timeout abandons only the
// watch, not the attempt. The relay process is deliberately left
// running because it may still converge, and a later Watch call on the
// same Monitor resumes where the timed-out one left off.
package bootstrap

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/onionhost-foundation/onionhost/lib/clock"
)

// DefaultTimeout bounds a watch when the caller does not say
// otherwise.
const DefaultTimeout = 120 * time.Second

// ProgressFunc receives each new bootstrap percentage together with
// its phase description. Called from the watch loop, in non-decreasing
// percentage order, at most once per distinct percentage.
type ProgressFunc func(percent int, summary string)

// TimeoutError reports that the watch's wall-clock bound elapsed
// before the relay reached 100%. The relay is still running; the
// caller can re-watch or stop it.
type TimeoutError struct {
	// LastPercent is the highest percentage observed before the
	// timeout.
	LastPercent int

	// Timeout is the bound that elapsed.
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("bootstrap timed out after %s at %d%%", e.Timeout, e.LastPercent)
}

// FailedError reports that the relay's output ended (the process
// exited or closed its pipes) before reaching 100%.
type FailedError struct {
	// LastPercent is the highest percentage observed.
	LastPercent int

	// LastLine is the final diagnostic line captured before the
	// output ended, surfaced so the caller can render the actual
	// failure reason.
	LastLine string
}

func (e *FailedError) Error() string {
	if e.LastLine == "" {
		return fmt.Sprintf("relay exited at %d%% before completing bootstrap", e.LastPercent)
	}
	return fmt.Sprintf("relay exited at %d%% before completing bootstrap: %s", e.LastPercent, e.LastLine)
}

// State is the bootstrap progress of one launch attempt. Percent is
// monotonic across every watch of the attempt; Terminal is set once the
// attempt has concluded, either Live or with the output gone. A timed
// out watch leaves Terminal false.
type State struct {
	Percent  int
	Summary  string
	Phase    Phase
	Terminal bool
}

// Monitor tracks bootstrap progress for one launch attempt. The state
// is readable concurrently with a watch via Snapshot, which is how a
// status query reports live progress, and Watch may be called again
// after a timeout to keep waiting on the same attempt.
type Monitor struct {
	clk     clock.Clock
	logger  *slog.Logger
	timeout time.Duration

	scanOnce sync.Once
	lines    chan string

	mu       sync.Mutex
	state    State
	lastLine string
}

// New returns a Monitor with the given wall-clock bound. A timeout of
// zero means DefaultTimeout.
func New(clk clock.Clock, logger *slog.Logger, timeout time.Duration) *Monitor {
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	return &Monitor{
		clk:     clk,
		logger:  logger,
		timeout: timeout,
		state:   State{Phase: Idle},
	}
}

// Snapshot returns the current progress. Safe to call from any
// goroutine while a watch runs.
func (m *Monitor) Snapshot() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Watch consumes the relay's output until bootstrap completes, fails,
// times out, or ctx is canceled. The returned state is the final
// progress; the error is nil only when the relay reached Live.
//
// The first Watch takes ownership of output for the Monitor's
// lifetime; later calls resume the same stream and ignore their output
// argument, each with a fresh timeout. Lines arriving between watches
// are buffered, not lost.
//
// Cancellation is cooperative: it stops consuming output and returns
// ctx.Err() immediately without touching the relay process.
func (m *Monitor) Watch(ctx context.Context, output io.Reader, progress ProgressFunc) (State, error) {
	if state := m.Snapshot(); state.Terminal {
		if state.Percent >= 100 {
			return state, nil
		}
		return state, &FailedError{LastPercent: state.Percent, LastLine: m.lastDiagnostic()}
	}

	m.scanOnce.Do(func() {
		m.lines = make(chan string, 16)
		go func(lines chan<- string) {
			defer close(lines)
			scanner := bufio.NewScanner(output)
			for scanner.Scan() {
				if m.Snapshot().Terminal {
					return
				}
				lines <- scanner.Text()
			}
		}(m.lines)
	})

	timeout := m.clk.After(m.timeout)

	for {
		select {
		case <-ctx.Done():
			return m.Snapshot(), ctx.Err()

		case <-timeout:
			state := m.Snapshot()
			return state, &TimeoutError{LastPercent: state.Percent, Timeout: m.timeout}

		case line, ok := <-m.lines:
			if !ok {
				state := m.finish()
				return state, &FailedError{LastPercent: state.Percent, LastLine: m.lastDiagnostic()}
			}
			if trimmed := strings.TrimSpace(line); trimmed != "" {
				m.mu.Lock()
				m.lastLine = trimmed
				m.mu.Unlock()
			}

			event, ok := ParseLine(line)
			if !ok {
				continue
			}
			if done := m.apply(event, progress); done {
				return m.Snapshot(), nil
			}
		}
	}
}

// apply advances the state machine with one event. Events that do not
// strictly increase the percentage are dropped; duplicate and
// reordered log delivery must not move progress backwards or repeat a
// callback. Returns true when the watch is complete.
func (m *Monitor) apply(event Event, progress ProgressFunc) bool {
	m.mu.Lock()
	if event.Percent <= m.state.Percent && !(event.Percent == 0 && m.state.Phase == Idle) {
		m.mu.Unlock()
		return false
	}
	if m.state.Terminal {
		m.mu.Unlock()
		return false
	}
	m.state.Percent = event.Percent
	m.state.Summary = event.Summary
	m.state.Phase = PhaseFor(event.Percent)
	live := event.Percent >= 100
	if live {
		m.state.Terminal = true
	}
	m.mu.Unlock()

	m.logger.Info("bootstrap progress", "percent", event.Percent, "summary", event.Summary)
	if progress != nil {
		progress(event.Percent, event.Summary)
	}
	return live
}

// finish marks the state terminal under the lock and returns it.
func (m *Monitor) finish() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.Terminal = true
	return m.state
}

// lastDiagnostic returns the most recent non-blank output line.
func (m *Monitor) lastDiagnostic() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastLine
}
