// Copyright 2026 The Onionhost Authors
// SPDX-License-Identifier: Apache-2.0

package supervisor

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

// processAlive reports whether a process with the given identifier
// exists. Signal 0 performs the existence check without delivering
// anything; EPERM means the process exists but is owned by another
// account (tor running as its service account is exactly this case).
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	return err == nil || err == unix.EPERM
}

// processCmdline returns the space-joined command line of a live
// process, or "" when it cannot be read (process gone, or a platform
// without /proc). Callers treat an unreadable command line as
// "cannot verify", never as a match.
func processCmdline(pid int) string {
	data, err := os.ReadFile(filepath.Join("/proc", strconv.Itoa(pid), "cmdline"))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(strings.ReplaceAll(string(data), "\x00", " "))
}

// scanCmdline walks the process table and returns the identifiers of
// live processes whose command line contains substr. Used only by the
// opt-in terminate fallback and the duplicate-relay guard; substr is
// always the exact torrc path this engine manages, so unrelated
// processes can never match.
func scanCmdline(substr string) []int {
	entries, err := os.ReadDir("/proc")
	if err != nil {
		return nil
	}

	var pids []int
	self := os.Getpid()
	for _, entry := range entries {
		pid, err := strconv.Atoi(entry.Name())
		if err != nil || pid == self {
			continue
		}
		if strings.Contains(processCmdline(pid), substr) {
			pids = append(pids, pid)
		}
	}
	return pids
}
