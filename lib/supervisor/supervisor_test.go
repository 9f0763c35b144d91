// Copyright 2026 The Onionhost Authors
// SPDX-License-Identifier: Apache-2.0

package supervisor

import (
	"bufio"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/onionhost-foundation/onionhost/lib/clock"
)

func newTestSupervisor(t *testing.T) *Supervisor {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(t.TempDir(), clock.Real(), logger)
}

func terminateOpts() TerminateOptions {
	return TerminateOptions{Grace: 2 * time.Second}
}

func TestLaunchTerminateLifecycle(t *testing.T) {
	s := newTestSupervisor(t)

	handle, already, err := s.Launch(RoleRelay, []string{"sleep", "60"}, LaunchOptions{})
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}
	t.Cleanup(func() { s.Terminate(RoleRelay, terminateOpts()) })
	if already {
		t.Fatal("fresh launch reported already running")
	}
	if handle.PID <= 0 {
		t.Fatalf("bad pid %d", handle.PID)
	}
	if handle.Adopted() {
		t.Error("spawned handle reports adopted")
	}

	if running, pid := s.Status(RoleRelay); !running || pid != handle.PID {
		t.Errorf("Status = (%v, %d), want (true, %d)", running, pid, handle.PID)
	}

	record, ok, err := readRecord(s.stateDir, RoleRelay)
	if err != nil || !ok {
		t.Fatalf("readRecord: ok=%v err=%v", ok, err)
	}
	if record.PID != handle.PID || record.Signature != "sleep 60" {
		t.Errorf("record = %+v", record)
	}

	if err := s.Terminate(RoleRelay, terminateOpts()); err != nil {
		t.Fatalf("Terminate: %v", err)
	}
	if running, _ := s.Status(RoleRelay); running {
		t.Error("process still reported running after Terminate")
	}
	if _, ok, _ := readRecord(s.stateDir, RoleRelay); ok {
		t.Error("pid record not cleared after Terminate")
	}
}

func TestLaunchIsNoOpWhenAlreadyRunning(t *testing.T) {
	s := newTestSupervisor(t)

	first, _, err := s.Launch(RoleRelay, []string{"sleep", "60"}, LaunchOptions{})
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}
	t.Cleanup(func() { s.Terminate(RoleRelay, terminateOpts()) })

	second, already, err := s.Launch(RoleRelay, []string{"sleep", "60"}, LaunchOptions{})
	if err != nil {
		t.Fatalf("second Launch: %v", err)
	}
	if !already {
		t.Fatal("second launch did not report already running")
	}
	if second.PID != first.PID {
		t.Errorf("second launch spawned a new process: pid %d != %d", second.PID, first.PID)
	}
}

func TestStaleRecordDiscardedBeforeLaunch(t *testing.T) {
	s := newTestSupervisor(t)

	// Produce a PID that is certainly not alive: a child we have
	// already reaped.
	probe := exec.Command("true")
	if err := probe.Run(); err != nil {
		t.Fatalf("running probe process: %v", err)
	}
	deadPID := probe.Process.Pid

	stale := Record{Role: RoleRelay, PID: deadPID, Signature: "sleep 60", StartedAt: time.Now()}
	if err := writeRecord(s.stateDir, stale); err != nil {
		t.Fatalf("writeRecord: %v", err)
	}

	handle, already, err := s.Launch(RoleRelay, []string{"sleep", "60"}, LaunchOptions{})
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}
	t.Cleanup(func() { s.Terminate(RoleRelay, terminateOpts()) })
	if already {
		t.Fatal("stale record was treated as a running process")
	}
	if handle.PID == deadPID {
		t.Error("new process reported the stale pid")
	}
}

func TestTerminateAbsentIsSuccess(t *testing.T) {
	s := newTestSupervisor(t)
	if err := s.Terminate(RoleWebserver, terminateOpts()); err != nil {
		t.Errorf("Terminate with no record: %v", err)
	}
	// Twice, for idempotence.
	if err := s.Terminate(RoleWebserver, terminateOpts()); err != nil {
		t.Errorf("repeated Terminate: %v", err)
	}
}

func TestDedupeByCmdline(t *testing.T) {
	if _, err := os.Stat("/proc"); err != nil {
		t.Skip("no /proc on this platform")
	}
	stateDir := t.TempDir()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := New(stateDir, clock.Real(), logger)

	// A sleep duration unlikely to appear in any other process's
	// command line.
	marker := "31622399"
	first, _, err := s.Launch(RoleRelay, []string{"sleep", marker}, LaunchOptions{})
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}
	t.Cleanup(func() { s.Terminate(RoleRelay, terminateOpts()) })

	// Simulate an engine restart that lost the PID record; the dedupe
	// scan must still find the running process instead of starting a
	// second one.
	if err := clearRecord(stateDir, RoleRelay); err != nil {
		t.Fatal(err)
	}
	restarted := New(stateDir, clock.Real(), logger)

	second, already, err := restarted.Launch(RoleRelay, []string{"sleep", marker},
		LaunchOptions{DedupeCmdline: marker})
	if err != nil {
		t.Fatalf("Launch with dedupe: %v", err)
	}
	if !already {
		t.Fatal("dedupe scan did not adopt the running process")
	}
	if second.PID != first.PID {
		t.Errorf("adopted pid %d, want %d", second.PID, first.PID)
	}
	if !second.Adopted() {
		t.Error("handle found by scan should report adopted")
	}
}

func TestOutputCapture(t *testing.T) {
	s := newTestSupervisor(t)

	handle, _, err := s.Launch(RoleRelay,
		[]string{"sh", "-c", "echo out-line; echo err-line 1>&2; sleep 30"},
		LaunchOptions{})
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}
	t.Cleanup(func() { s.Terminate(RoleRelay, terminateOpts()) })

	scanner := bufio.NewScanner(handle.Output)
	lines := map[string]bool{}
	for len(lines) < 2 && scanner.Scan() {
		lines[scanner.Text()] = true
	}
	if !lines["out-line"] || !lines["err-line"] {
		t.Errorf("captured lines = %v, want both stdout and stderr", lines)
	}
}

func TestLaunchMissingExecutable(t *testing.T) {
	s := newTestSupervisor(t)
	_, _, err := s.Launch(RoleRelay, []string{"/no/such/binary-anywhere"}, LaunchOptions{})
	if err == nil {
		t.Fatal("want error for missing executable")
	}
	if _, ok, _ := readRecord(s.stateDir, RoleRelay); ok {
		t.Error("pid record written for a process that never started")
	}
}

func TestProcessExitClosesDone(t *testing.T) {
	s := newTestSupervisor(t)
	handle, _, err := s.Launch(RoleRelay, []string{"true"}, LaunchOptions{})
	if err != nil {
		t.Fatalf("Launch: %v", err)
	}
	select {
	case <-handle.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("Done not closed after process exit")
	}
	if handle.Err() != nil {
		t.Errorf("Err = %v for a clean exit", handle.Err())
	}
}

func TestRecordRoundTrip(t *testing.T) {
	dir := t.TempDir()
	want := Record{
		Role:      RoleWebserver,
		PID:       4242,
		Signature: "nginx -g daemon off;",
		StartedAt: time.Date(2026, 4, 2, 9, 0, 0, 0, time.UTC),
	}
	if err := writeRecord(dir, want); err != nil {
		t.Fatalf("writeRecord: %v", err)
	}
	got, ok, err := readRecord(dir, RoleWebserver)
	if err != nil || !ok {
		t.Fatalf("readRecord: ok=%v err=%v", ok, err)
	}
	if got.PID != want.PID || got.Signature != want.Signature || !got.StartedAt.Equal(want.StartedAt) {
		t.Errorf("record = %+v, want %+v", got, want)
	}

	path := filepath.Join(dir, "webserver.pid.json")
	if _, err := os.Stat(path); err != nil {
		t.Errorf("record not at expected path %s: %v", path, err)
	}
}
