// Copyright 2026 The Onionhost Authors
// SPDX-License-Identifier: Apache-2.0

// Package supervisor starts, tracks, and terminates the engine's two
// managed external processes, the tor relay and the local web server,
// without relying on a system service manager.
//
// Each role's process is tracked through an on-disk PID record. Before
// every launch the record is reconciled against the live process
// table: a recorded process that is alive and matches its recorded
// invocation signature is adopted as already running; a stale record
// (process gone, or PID recycled by an unrelated process) is
// discarded. The supervisor never launches a second relay against the
// same configuration file.
//
// Termination is graceful: SIGTERM, a bounded grace period, then
// SIGKILL. Terminating a role with no live process is success, not an
// error. As an explicitly opt-in recovery measure, terminating the
// relay with no PID record can fall back to scanning the process table
// for command lines containing the exact torrc path this engine
// manages, and nothing else.
package supervisor

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/onionhost-foundation/onionhost/lib/clock"
)

// Role identifies a managed process.
type Role string

const (
	// RoleRelay is the tor process.
	RoleRelay Role = "relay"

	// RoleWebserver is the local nginx process (file-serving method
	// only).
	RoleWebserver Role = "webserver"
)

// DefaultGracePeriod is how long Terminate waits after SIGTERM before
// escalating to SIGKILL.
const DefaultGracePeriod = 10 * time.Second

// Handle is the supervisor's view of one launched process. It is
// ephemeral: created by Launch, discarded once the process is
// confirmed gone. Output is non-nil only for processes this supervisor
// instance spawned itself; an adopted process's output went wherever
// its original parent pointed it.
type Handle struct {
	// Role is the managed role this process fills.
	Role Role

	// PID is the process identifier.
	PID int

	// Signature is the space-joined argv used to recognize the
	// process later.
	Signature string

	// Output streams the process's combined stdout and stderr. Nil
	// for adopted processes.
	Output io.ReadCloser

	cmd  *exec.Cmd
	done chan struct{}
	mu   sync.Mutex
	err  error
}

// Adopted reports whether this handle refers to a process that was
// already running when Launch reconciled the PID record, rather than
// one this supervisor spawned.
func (h *Handle) Adopted() bool { return h.cmd == nil }

// Done returns a channel closed when the process exits. For adopted
// processes the channel never closes: the supervisor is not the
// parent and cannot wait on them.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Err returns the wait error after Done is closed.
func (h *Handle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// Supervisor manages the relay and webserver processes for one engine
// instance. It is the sole writer of PID records.
type Supervisor struct {
	stateDir string
	clk      clock.Clock
	logger   *slog.Logger

	mu      sync.Mutex
	handles map[Role]*Handle
}

// New returns a Supervisor persisting PID records under stateDir.
func New(stateDir string, clk clock.Clock, logger *slog.Logger) *Supervisor {
	return &Supervisor{
		stateDir: stateDir,
		clk:      clk,
		logger:   logger,
		handles:  make(map[Role]*Handle),
	}
}

// LaunchOptions tunes a Launch call.
type LaunchOptions struct {
	// DedupeCmdline, when non-empty, prevents launching if any live
	// process's command line contains it. The orchestrator passes the
	// torrc path for the relay role so a second relay can never be
	// started against the same configuration, even when the PID
	// record is gone.
	DedupeCmdline string
}

// Launch starts the process for a role, reconciling any previous PID
// record first. Returns the handle and whether the process was already
// running (in which case no new process was spawned).
func (s *Supervisor) Launch(role Role, argv []string, opts LaunchOptions) (*Handle, bool, error) {
	if len(argv) == 0 {
		return nil, false, fmt.Errorf("launch %s: empty invocation", role)
	}
	signature := strings.Join(argv, " ")

	s.mu.Lock()
	defer s.mu.Unlock()

	if handle, ok := s.reconcile(role, signature, opts.DedupeCmdline); ok {
		return handle, true, nil
	}

	handle, err := s.spawn(role, argv, signature)
	if err != nil {
		return nil, false, err
	}
	s.handles[role] = handle
	return handle, false, nil
}

// reconcile checks the PID record (and, for deduped launches, the
// process table) for an already-running instance. Returns a handle and
// true when one exists; discards stale records as a side effect.
// Caller holds s.mu.
func (s *Supervisor) reconcile(role Role, signature, dedupeCmdline string) (*Handle, bool) {
	record, ok, err := readRecord(s.stateDir, role)
	if err != nil {
		// An unreadable record is treated as stale: log and replace.
		s.logger.Warn("discarding unreadable pid record", "role", role, "error", err)
		ok = false
	}

	if ok {
		switch {
		case !processAlive(record.PID):
			s.logger.Info("discarding stale pid record", "role", role, "pid", record.PID)
			_ = clearRecord(s.stateDir, role)
		case processCmdline(record.PID) == record.Signature:
			// Alive and recognizably ours: already running.
			handle := s.adopt(role, record)
			return handle, true
		default:
			// Alive but the command line does not match: the PID was
			// recycled by an unrelated process. Leave it untouched
			// and fall through to the dedupe check.
			s.logger.Warn("pid record points at an unrelated process, ignoring",
				"role", role, "pid", record.PID)
			_ = clearRecord(s.stateDir, role)
		}
	}

	if dedupeCmdline != "" {
		if pids := scanCmdline(dedupeCmdline); len(pids) > 0 {
			// A relay for our config is already running even though
			// the record was missing or stale. Re-record and adopt
			// rather than starting a duplicate.
			s.logger.Info("found running process for managed config",
				"role", role, "pid", pids[0])
			record := Record{
				Role:      role,
				PID:       pids[0],
				Signature: processCmdline(pids[0]),
				StartedAt: s.clk.Now(),
			}
			if err := writeRecord(s.stateDir, record); err != nil {
				s.logger.Warn("re-recording adopted process failed", "error", err)
			}
			return s.adopt(role, record), true
		}
	}
	return nil, false
}

// adopt builds a handle for an already-running process. Caller holds
// s.mu.
func (s *Supervisor) adopt(role Role, record Record) *Handle {
	if existing, ok := s.handles[role]; ok && existing.PID == record.PID {
		return existing
	}
	handle := &Handle{
		Role:      role,
		PID:       record.PID,
		Signature: record.Signature,
		done:      make(chan struct{}),
	}
	s.handles[role] = handle
	return handle
}

// spawn starts a new process with combined stdout/stderr captured on a
// pipe, records its PID, and begins waiting on it. Caller holds s.mu.
func (s *Supervisor) spawn(role Role, argv []string, signature string) (*Handle, error) {
	readEnd, writeEnd, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("launch %s: creating output pipe: %w", role, err)
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.Stdout = writeEnd
	cmd.Stderr = writeEnd
	// Own process group, so a later group signal cannot reach the
	// engine itself.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		readEnd.Close()
		writeEnd.Close()
		return nil, fmt.Errorf("launch %s (%s): %w", role, argv[0], err)
	}
	// The child holds its own copy of the write end.
	writeEnd.Close()

	handle := &Handle{
		Role:      role,
		PID:       cmd.Process.Pid,
		Signature: signature,
		Output:    readEnd,
		cmd:       cmd,
		done:      make(chan struct{}),
	}

	record := Record{
		Role:      role,
		PID:       handle.PID,
		Signature: signature,
		StartedAt: s.clk.Now(),
	}
	if err := writeRecord(s.stateDir, record); err != nil {
		// The process is running; killing it over a bookkeeping
		// failure would be worse than a missing record. Report loudly.
		s.logger.Error("writing pid record failed", "role", role, "pid", handle.PID, "error", err)
	}

	s.logger.Info("launched process", "role", role, "pid", handle.PID, "command", argv[0])

	go func() {
		err := cmd.Wait()
		handle.mu.Lock()
		handle.err = err
		handle.mu.Unlock()
		close(handle.done)
	}()

	return handle, nil
}

// TerminateOptions tunes a Terminate call.
type TerminateOptions struct {
	// Grace is how long to wait after SIGTERM before SIGKILL.
	// Zero means DefaultGracePeriod.
	Grace time.Duration

	// AllowScan enables the best-effort fallback for the relay role:
	// when no PID record exists, scan the process table for command
	// lines containing ScanCmdline and signal those. Off by default;
	// front ends opt in explicitly.
	AllowScan bool

	// ScanCmdline is the exact torrc path to match in the fallback
	// scan. Ignored unless AllowScan is set.
	ScanCmdline string
}

// Terminate gracefully stops the process for a role. It is idempotent:
// an absent process is success. The PID record is cleared once the
// process is confirmed gone.
func (s *Supervisor) Terminate(role Role, opts TerminateOptions) error {
	grace := opts.Grace
	if grace == 0 {
		grace = DefaultGracePeriod
	}

	s.mu.Lock()
	delete(s.handles, role)
	record, ok, err := readRecord(s.stateDir, role)
	s.mu.Unlock()
	if err != nil {
		return err
	}

	if !ok {
		if opts.AllowScan && opts.ScanCmdline != "" {
			return s.terminateByScan(role, opts.ScanCmdline, grace)
		}
		return nil
	}

	if !processAlive(record.PID) {
		return clearRecord(s.stateDir, role)
	}

	s.logger.Info("terminating process", "role", role, "pid", record.PID)
	if err := s.stopPID(record.PID, grace); err != nil {
		return fmt.Errorf("terminating %s (pid %d): %w", role, record.PID, err)
	}
	return clearRecord(s.stateDir, role)
}

// terminateByScan is the opt-in recovery path: signal every live
// process whose command line contains the managed torrc path. Each
// match is logged before it is signaled.
func (s *Supervisor) terminateByScan(role Role, cmdline string, grace time.Duration) error {
	pids := scanCmdline(cmdline)
	if len(pids) == 0 {
		return nil
	}
	var firstErr error
	for _, pid := range pids {
		s.logger.Warn("terminating process found by config-path scan",
			"role", role, "pid", pid, "cmdline", processCmdline(pid))
		if err := s.stopPID(pid, grace); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("terminating scanned pid %d: %w", pid, err)
		}
	}
	return firstErr
}

// stopPID sends SIGTERM, waits up to grace for the process to exit,
// then SIGKILLs whatever is left.
func (s *Supervisor) stopPID(pid int, grace time.Duration) error {
	if err := unix.Kill(pid, unix.SIGTERM); err != nil {
		if err == unix.ESRCH {
			return nil
		}
		return fmt.Errorf("SIGTERM: %w", err)
	}

	deadline := s.clk.Now().Add(grace)
	for processAlive(pid) {
		if !s.clk.Now().Before(deadline) {
			s.logger.Warn("process ignored SIGTERM, escalating", "pid", pid)
			if err := unix.Kill(pid, unix.SIGKILL); err != nil && err != unix.ESRCH {
				return fmt.Errorf("SIGKILL: %w", err)
			}
			break
		}
		s.clk.Sleep(50 * time.Millisecond)
	}

	// One short settle wait after SIGKILL.
	for i := 0; i < 20 && processAlive(pid); i++ {
		s.clk.Sleep(50 * time.Millisecond)
	}
	return nil
}

// Status reports whether the role's process is currently running, and
// its PID when it is. The check goes through the PID record plus a
// liveness probe, so it works across engine restarts.
func (s *Supervisor) Status(role Role) (running bool, pid int) {
	record, ok, err := readRecord(s.stateDir, role)
	if err != nil || !ok {
		return false, 0
	}
	if !processAlive(record.PID) {
		return false, 0
	}
	return true, record.PID
}

// Handle returns the live handle for a role, if this supervisor
// instance has one.
func (s *Supervisor) Handle(role Role) (*Handle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	handle, ok := s.handles[role]
	return handle, ok
}
