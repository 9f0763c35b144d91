// Copyright 2026 The Onionhost Authors
// SPDX-License-Identifier: Apache-2.0

package hsdir

import (
	"os"
	"os/user"
	"path/filepath"
	"testing"
)

func TestEnforceCreatesWithRequiredMode(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "hidden_service")

	if err := Enforce(dir, "", ""); err != nil {
		t.Fatalf("Enforce: %v", err)
	}

	info, err := os.Stat(dir)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if !info.IsDir() {
		t.Fatal("not a directory")
	}
	if mode := info.Mode().Perm(); mode != RequiredMode {
		t.Errorf("mode = %o, want %o", mode, RequiredMode)
	}
}

func TestEnforceRepairsLooseMode(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "hidden_service")
	if err := os.Mkdir(dir, 0o755); err != nil {
		t.Fatal(err)
	}

	if err := Enforce(dir, "", ""); err != nil {
		t.Fatalf("Enforce: %v", err)
	}

	info, err := os.Stat(dir)
	if err != nil {
		t.Fatal(err)
	}
	if mode := info.Mode().Perm(); mode != RequiredMode {
		t.Errorf("mode = %o, want %o", mode, RequiredMode)
	}
}

func TestEnforceChownToCurrentAccount(t *testing.T) {
	// Chowning to the invoking account is a no-op the kernel permits
	// without privileges, so this exercises the lookup path.
	current, err := user.Current()
	if err != nil {
		t.Fatalf("user.Current: %v", err)
	}

	dir := filepath.Join(t.TempDir(), "hidden_service")
	if err := Enforce(dir, current.Username, ""); err != nil {
		t.Fatalf("Enforce with owner %q: %v", current.Username, err)
	}
}

func TestEnforceUnknownAccount(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "hidden_service")
	err := Enforce(dir, "no-such-account-exists", "")
	if err == nil {
		t.Fatal("want error for unknown account")
	}
}
