// Copyright 2026 The Onionhost Authors
// SPDX-License-Identifier: Apache-2.0

package bootstrap

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/onionhost-foundation/onionhost/lib/clock"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestWatchCompletesAtHundred(t *testing.T) {
	output := strings.NewReader(strings.Join([]string{
		"[notice] Tor 0.4.8.10 opening log file.",
		"[notice] Bootstrapped 10% (conn_done): Connected to a relay",
		"[notice] Bootstrapped 50% (loading_descriptors): Loading relay descriptors",
		"[notice] Bootstrapped 75% (enough_dirinfo): Loaded enough directory info",
		"[notice] Bootstrapped 90% (ap_handshake_done): Handshake finished",
		"[notice] Bootstrapped 100% (done): Done",
		"[notice] Bootstrapped 100% (done): Done",
	}, "\n"))

	m := New(clock.Real(), testLogger(), time.Minute)
	var calls []int
	state, err := m.Watch(context.Background(), output, func(percent int, summary string) {
		calls = append(calls, percent)
	})
	if err != nil {
		t.Fatalf("Watch: %v", err)
	}
	if state.Phase != Live || state.Percent != 100 || !state.Terminal {
		t.Errorf("final state = %+v, want Live/100/terminal", state)
	}

	want := []int{10, 50, 75, 90, 100}
	if len(calls) != len(want) {
		t.Fatalf("callback percents = %v, want %v", calls, want)
	}
	for i := range want {
		if calls[i] != want[i] {
			t.Fatalf("callback percents = %v, want %v", calls, want)
		}
	}
}

func TestWatchIgnoresRegressionsAndDuplicates(t *testing.T) {
	output := strings.NewReader(strings.Join([]string{
		"[notice] Bootstrapped 30% (x): Thirty",
		"[notice] Bootstrapped 30% (x): Thirty again",
		"[notice] Bootstrapped 20% (x): Backwards",
		"[notice] Bootstrapped 45% (x): Forty-five",
		"[notice] Bootstrapped 100% (done): Done",
	}, "\n"))

	m := New(clock.Real(), testLogger(), time.Minute)
	var calls []int
	if _, err := m.Watch(context.Background(), output, func(percent int, _ string) {
		calls = append(calls, percent)
	}); err != nil {
		t.Fatalf("Watch: %v", err)
	}

	last := -1
	for _, p := range calls {
		if p <= last {
			t.Fatalf("callback order %v violates strict monotonicity", calls)
		}
		last = p
	}
	if len(calls) != 3 {
		t.Errorf("callbacks = %v, want exactly 30, 45, 100", calls)
	}
}

func TestWatchFailsOnOutputEnd(t *testing.T) {
	output := strings.NewReader(strings.Join([]string{
		"[notice] Bootstrapped 10% (conn_done): Connected",
		"[err] Reading config failed--see warnings above.",
	}, "\n"))

	m := New(clock.Real(), testLogger(), time.Minute)
	state, err := m.Watch(context.Background(), output, nil)

	var failed *FailedError
	if !errors.As(err, &failed) {
		t.Fatalf("Watch error = %v, want FailedError", err)
	}
	if failed.LastPercent != 10 {
		t.Errorf("LastPercent = %d, want 10", failed.LastPercent)
	}
	if !strings.Contains(failed.LastLine, "Reading config failed") {
		t.Errorf("LastLine = %q, want the final diagnostic", failed.LastLine)
	}
	if !state.Terminal {
		t.Error("state not terminal after failure")
	}
}

func TestWatchTimesOut(t *testing.T) {
	// A pipe that never closes and never delivers 100%.
	reader, writer := io.Pipe()
	defer writer.Close()

	fakeClock := clock.Fake(time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC))
	m := New(fakeClock, testLogger(), DefaultTimeout)

	type result struct {
		state State
		err   error
	}
	results := make(chan result, 1)
	go func() {
		state, err := m.Watch(context.Background(), reader, nil)
		results <- result{state, err}
	}()

	writer.Write([]byte("[notice] Bootstrapped 40% (x): Stuck here\n"))

	// Wait for the watch to register its timeout, then expire it.
	fakeClock.WaitForTimers(1)
	fakeClock.Advance(DefaultTimeout)

	select {
	case r := <-results:
		var timeout *TimeoutError
		if !errors.As(r.err, &timeout) {
			t.Fatalf("Watch error = %v, want TimeoutError", r.err)
		}
		if timeout.LastPercent != 40 {
			t.Errorf("LastPercent = %d, want 40", timeout.LastPercent)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Watch did not return after the timeout fired")
	}
}

func TestWatchResumesAfterTimeout(t *testing.T) {
	reader, writer := io.Pipe()
	defer writer.Close()

	fakeClock := clock.Fake(time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC))
	m := New(fakeClock, testLogger(), DefaultTimeout)

	type result struct {
		state State
		err   error
	}
	results := make(chan result, 1)
	go func() {
		state, err := m.Watch(context.Background(), reader, nil)
		results <- result{state, err}
	}()

	writer.Write([]byte("[notice] Bootstrapped 40% (x): Stuck here\n"))
	fakeClock.WaitForTimers(1)
	fakeClock.Advance(DefaultTimeout)

	var first result
	select {
	case first = <-results:
	case <-time.After(5 * time.Second):
		t.Fatal("first watch did not return after the timeout fired")
	}
	var timeout *TimeoutError
	if !errors.As(first.err, &timeout) {
		t.Fatalf("first watch error = %v, want TimeoutError", first.err)
	}
	if first.state.Terminal {
		t.Error("timeout marked the state terminal; a later watch could never complete")
	}

	// A line arriving while no watch is attached must not be lost.
	writer.Write([]byte("[notice] Bootstrapped 90% (ap_handshake_done): Handshake finished\n"))

	var calls []int
	go func() {
		state, err := m.Watch(context.Background(), reader, func(percent int, _ string) {
			calls = append(calls, percent)
		})
		results <- result{state, err}
	}()

	writer.Write([]byte("[notice] Bootstrapped 100% (done): Done\n"))

	select {
	case second := <-results:
		if second.err != nil {
			t.Fatalf("resumed watch: %v", second.err)
		}
		if second.state.Phase != Live || second.state.Percent != 100 || !second.state.Terminal {
			t.Errorf("final state = %+v, want Live/100/terminal", second.state)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("resumed watch did not reach Live")
	}

	if len(calls) != 2 || calls[0] != 90 || calls[1] != 100 {
		t.Errorf("resumed callbacks = %v, want [90 100]", calls)
	}
}

func TestWatchCancellation(t *testing.T) {
	reader, writer := io.Pipe()
	defer writer.Close()

	ctx, cancel := context.WithCancel(context.Background())
	m := New(clock.Real(), testLogger(), time.Minute)

	errs := make(chan error, 1)
	go func() {
		_, err := m.Watch(ctx, reader, nil)
		errs <- err
	}()

	writer.Write([]byte("[notice] Bootstrapped 25% (x): Partway\n"))
	cancel()

	select {
	case err := <-errs:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Watch error = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Watch did not return after cancellation")
	}
}

func TestSnapshotDuringWatch(t *testing.T) {
	reader, writer := io.Pipe()
	defer writer.Close()

	m := New(clock.Real(), testLogger(), time.Minute)
	go m.Watch(context.Background(), reader, nil)

	writer.Write([]byte("[notice] Bootstrapped 50% (loading_descriptors): Loading\n"))

	deadline := time.Now().Add(5 * time.Second)
	for {
		snapshot := m.Snapshot()
		if snapshot.Percent == 50 {
			if snapshot.Phase != DescriptorLoad {
				t.Errorf("Phase = %q, want %q", snapshot.Phase, DescriptorLoad)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("snapshot never reached 50%%, got %+v", snapshot)
		}
		time.Sleep(10 * time.Millisecond)
	}
}
