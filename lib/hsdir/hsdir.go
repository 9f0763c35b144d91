// Copyright 2026 The Onionhost Authors
// SPDX-License-Identifier: Apache-2.0

// Package hsdir normalizes the hidden-service directory's mode and
// ownership before every relay launch.
//
// Tor refuses to start against a hidden-service directory with any
// mode looser than 0700, so this is not a best-effort cleanup: it is a
// launch precondition the engine must guarantee. Failures are reported,
// never swallowed: a chmod or chown that cannot be applied reliably
// predicts a relay startup failure, and the caller needs the path to
// render a useful message.
//
// The engine treats the hostname file inside this directory as
// read-only relay output. Nothing here (or anywhere else in the
// engine) writes into the directory; only the directory itself is
// managed.
package hsdir

import (
	"fmt"
	"os"
	"os/user"
	"strconv"
)

// RequiredMode is the only mode tor accepts for a hidden-service
// directory: owner-only full access.
const RequiredMode os.FileMode = 0o700

// Enforce creates the hidden-service directory if absent, forces its
// mode to 0700, and, when owner and group are non-empty, transfers
// ownership to that account. Platforms without a privilege-separated
// tor account pass empty owner/group and keep the invoking account.
func Enforce(dir, owner, group string) error {
	if err := os.MkdirAll(dir, RequiredMode); err != nil {
		return fmt.Errorf("creating hidden-service directory %s: %w", dir, err)
	}

	// MkdirAll applies the umask and leaves pre-existing directories
	// untouched, so chmod unconditionally.
	if err := os.Chmod(dir, RequiredMode); err != nil {
		return fmt.Errorf("setting mode %o on %s: %w", RequiredMode, dir, err)
	}

	if owner == "" {
		return nil
	}

	uid, gid, err := lookupAccount(owner, group)
	if err != nil {
		return err
	}
	if err := os.Chown(dir, uid, gid); err != nil {
		return fmt.Errorf("transferring %s to %s:%s: %w", dir, owner, group, err)
	}
	return nil
}

// lookupAccount resolves an account and group name to numeric IDs.
func lookupAccount(owner, group string) (uid, gid int, err error) {
	account, err := user.Lookup(owner)
	if err != nil {
		return 0, 0, fmt.Errorf("resolving account %q: %w", owner, err)
	}
	uid, err = strconv.Atoi(account.Uid)
	if err != nil {
		return 0, 0, fmt.Errorf("non-numeric uid %q for account %q", account.Uid, owner)
	}

	if group == "" {
		gid, err = strconv.Atoi(account.Gid)
		if err != nil {
			return 0, 0, fmt.Errorf("non-numeric gid %q for account %q", account.Gid, owner)
		}
		return uid, gid, nil
	}

	grp, err := user.LookupGroup(group)
	if err != nil {
		return 0, 0, fmt.Errorf("resolving group %q: %w", group, err)
	}
	gid, err = strconv.Atoi(grp.Gid)
	if err != nil {
		return 0, 0, fmt.Errorf("non-numeric gid %q for group %q", grp.Gid, group)
	}
	return uid, gid, nil
}
