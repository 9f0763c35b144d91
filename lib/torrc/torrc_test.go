// Copyright 2026 The Onionhost Authors
// SPDX-License-Identifier: Apache-2.0

package torrc

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading %s: %v", path, err)
	}
	return string(data)
}

func TestEnsureCreatesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tor", "torrc")
	stanza := Stanza{HiddenServiceDir: "/var/lib/tor/onionhost", TargetPort: 8080}

	if err := Ensure(path, stanza); err != nil {
		t.Fatalf("Ensure: %v", err)
	}

	content := readFile(t, path)
	if !strings.Contains(content, "HiddenServiceDir /var/lib/tor/onionhost\n") {
		t.Errorf("missing HiddenServiceDir line:\n%s", content)
	}
	if !strings.Contains(content, "HiddenServicePort 80 127.0.0.1:8080\n") {
		t.Errorf("missing HiddenServicePort line:\n%s", content)
	}
	if !strings.HasSuffix(content, "\n") {
		t.Error("file does not end with a newline")
	}
}

func TestEnsureIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "torrc")
	stanza := Stanza{HiddenServiceDir: "/var/lib/tor/onionhost", TargetPort: 8080}

	if err := Ensure(path, stanza); err != nil {
		t.Fatalf("first Ensure: %v", err)
	}
	first := readFile(t, path)

	if err := Ensure(path, stanza); err != nil {
		t.Fatalf("second Ensure: %v", err)
	}
	second := readFile(t, path)

	if first != second {
		t.Errorf("Ensure is not idempotent:\nfirst:\n%s\nsecond:\n%s", first, second)
	}
}

func TestEnsurePortUpdateRewritesInPlace(t *testing.T) {
	path := filepath.Join(t.TempDir(), "torrc")
	if err := os.WriteFile(path, []byte("SocksPort 9050\nLog notice stdout\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	dir := "/var/lib/tor/onionhost"
	if err := Ensure(path, Stanza{HiddenServiceDir: dir, TargetPort: 8080}); err != nil {
		t.Fatalf("Ensure port A: %v", err)
	}
	if err := Ensure(path, Stanza{HiddenServiceDir: dir, TargetPort: 9000}); err != nil {
		t.Fatalf("Ensure port B: %v", err)
	}

	content := readFile(t, path)
	if count := strings.Count(content, "HiddenServiceDir "); count != 1 {
		t.Errorf("got %d HiddenServiceDir lines, want exactly 1:\n%s", count, content)
	}
	if !strings.Contains(content, "127.0.0.1:9000") {
		t.Errorf("port not updated to 9000:\n%s", content)
	}
	if strings.Contains(content, "127.0.0.1:8080") {
		t.Errorf("old port 8080 still present:\n%s", content)
	}
	if !strings.Contains(content, "SocksPort 9050") {
		t.Errorf("unrelated content lost:\n%s", content)
	}
}

func TestEnsurePreservesUnrelatedContent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "torrc")
	original := "# my torrc\nSocksPort 9050\nControlPort 9051\n"
	if err := os.WriteFile(path, []byte(original), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := Ensure(path, Stanza{HiddenServiceDir: "/hs", TargetPort: 8080}); err != nil {
		t.Fatalf("Ensure: %v", err)
	}

	content := readFile(t, path)
	for _, line := range []string{"# my torrc", "SocksPort 9050", "ControlPort 9051"} {
		if !strings.Contains(content, line) {
			t.Errorf("line %q lost:\n%s", line, content)
		}
	}
}

func TestEnsureStripsStrayExamples(t *testing.T) {
	path := filepath.Join(t.TempDir(), "torrc")
	original := strings.Join([]string{
		"SocksPort 9050",
		"#HiddenServiceDir /var/lib/tor/hidden_service/",
		"#HiddenServicePort 80 127.0.0.1:80",
		"# HiddenServiceDir example from the stock torrc",
		"# This comment mentions nothing relevant",
		"",
	}, "\n")
	if err := os.WriteFile(path, []byte(original), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := Ensure(path, Stanza{HiddenServiceDir: "/hs", TargetPort: 8080}); err != nil {
		t.Fatalf("Ensure: %v", err)
	}

	content := readFile(t, path)
	if strings.Contains(content, "hidden_service/") {
		t.Errorf("stray commented example survived:\n%s", content)
	}
	if !strings.Contains(content, "# This comment mentions nothing relevant") {
		t.Errorf("unrelated comment lost:\n%s", content)
	}
	// The live stanza must still be there.
	if !strings.Contains(content, "HiddenServiceDir /hs\n") {
		t.Errorf("live stanza missing:\n%s", content)
	}
}

func TestEnsureBackupTakenOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "torrc")
	original := "SocksPort 9050\n"
	if err := os.WriteFile(path, []byte(original), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := Ensure(path, Stanza{HiddenServiceDir: "/hs", TargetPort: 8080}); err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	backup := readFile(t, path+BackupSuffix)
	if backup != original {
		t.Errorf("backup = %q, want original %q", backup, original)
	}

	// A second change must not clobber the backup.
	if err := Ensure(path, Stanza{HiddenServiceDir: "/hs", TargetPort: 9000}); err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if got := readFile(t, path+BackupSuffix); got != original {
		t.Errorf("backup overwritten: %q, want %q", got, original)
	}
}

func TestEnsureNoBackupForNewFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "torrc")
	if err := Ensure(path, Stanza{HiddenServiceDir: "/hs", TargetPort: 8080}); err != nil {
		t.Fatalf("Ensure: %v", err)
	}
	if _, err := os.Stat(path + BackupSuffix); !os.IsNotExist(err) {
		t.Errorf("backup created for a file the engine itself created (err=%v)", err)
	}
}

func TestCurrentStanza(t *testing.T) {
	path := filepath.Join(t.TempDir(), "torrc")

	if _, ok, err := CurrentStanza(path); err != nil || ok {
		t.Fatalf("CurrentStanza on missing file = ok=%v err=%v, want absent", ok, err)
	}

	want := Stanza{HiddenServiceDir: "/var/lib/tor/onionhost", TargetPort: 8080}
	if err := Ensure(path, want); err != nil {
		t.Fatalf("Ensure: %v", err)
	}

	got, ok, err := CurrentStanza(path)
	if err != nil {
		t.Fatalf("CurrentStanza: %v", err)
	}
	if !ok {
		t.Fatal("CurrentStanza did not find the stanza")
	}
	if got != want {
		t.Errorf("CurrentStanza = %+v, want %+v", got, want)
	}
}
