// Copyright 2026 The Onionhost Authors
// SPDX-License-Identifier: Apache-2.0

// Package torrc maintains the engine-owned hidden-service stanza in
// the tor configuration file.
//
// The engine only ever touches a clearly delimited section bounded by
// begin/end marker comments. Everything outside the section is
// preserved byte for byte, with one exception: commented-out
// HiddenServiceDir/HiddenServicePort example lines (the ones tor ships
// in its default torrc) are stripped, because a user uncommenting half
// of one later would point tor at a directory this engine does not
// manage.
//
// All writes go through a temporary file, fsync, and rename, so a
// failed write never leaves a partial stanza behind. A one-time backup
// of the original file is taken before the first modification.
package torrc

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/onionhost-foundation/onionhost/lib/atomicfile"
)

const (
	beginMarker = "# BEGIN onionhost - managed section, do not edit"
	endMarker   = "# END onionhost"

	// BackupSuffix is appended to the torrc path for the one-time
	// backup of the pre-onionhost file.
	BackupSuffix = ".onionhost.bak"
)

// Stanza describes the single hidden-service forwarding the engine
// manages: requests to the onion address's port 80 are forwarded to
// the local target port.
type Stanza struct {
	// HiddenServiceDir is the directory tor uses for this service's
	// key material and hostname file.
	HiddenServiceDir string

	// TargetPort is the loopback port tor forwards virtual port 80 to.
	TargetPort int
}

func (s Stanza) lines() []string {
	return []string{
		beginMarker,
		fmt.Sprintf("HiddenServiceDir %s", s.HiddenServiceDir),
		fmt.Sprintf("HiddenServicePort 80 127.0.0.1:%d", s.TargetPort),
		endMarker,
	}
}

// Ensure makes the torrc at path contain exactly one engine-owned
// stanza for the given hidden-service directory and target port. If
// the section already exists it is rewritten in place; otherwise it is
// appended. The operation is idempotent: ensuring the same stanza
// twice leaves the file unchanged after the first write.
func Ensure(path string, stanza Stanza) error {
	original, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	updated := rewrite(string(original), stanza)
	if updated == string(original) {
		return nil
	}

	if len(original) > 0 {
		if err := backupOnce(path, original); err != nil {
			return err
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating parent directory for %s: %w", path, err)
	}
	if err := atomicfile.WriteFile(path, []byte(updated), 0o644); err != nil {
		return err
	}
	return nil
}

// CurrentStanza parses the engine-owned section out of the torrc at
// path. Returns false when the file or the section is absent.
func CurrentStanza(path string) (Stanza, bool, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Stanza{}, false, nil
		}
		return Stanza{}, false, fmt.Errorf("reading %s: %w", path, err)
	}

	var stanza Stanza
	inSection := false
	for _, line := range strings.Split(string(content), "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case trimmed == beginMarker:
			inSection = true
		case trimmed == endMarker:
			if stanza.HiddenServiceDir != "" {
				return stanza, true, nil
			}
			inSection = false
		case inSection:
			if dir, ok := strings.CutPrefix(trimmed, "HiddenServiceDir "); ok {
				stanza.HiddenServiceDir = strings.TrimSpace(dir)
			}
			if rest, ok := strings.CutPrefix(trimmed, "HiddenServicePort 80 127.0.0.1:"); ok {
				fmt.Sscanf(rest, "%d", &stanza.TargetPort)
			}
		}
	}
	return Stanza{}, false, nil
}

// rewrite produces the new torrc content: unrelated lines preserved,
// stray commented hidden-service examples dropped, and the engine
// section replaced in place (or appended when absent).
func rewrite(content string, stanza Stanza) string {
	lines := strings.Split(content, "\n")

	var out []string
	sectionWritten := false
	inSection := false
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		switch {
		case trimmed == beginMarker:
			inSection = true
		case inSection:
			if trimmed == endMarker {
				inSection = false
				if !sectionWritten {
					out = append(out, stanza.lines()...)
					sectionWritten = true
				}
			}
			// Old section content is dropped; the fresh stanza
			// replaces it at the same position.
		case isStrayExample(trimmed):
			// Dropped.
		default:
			out = append(out, line)
		}
	}

	if !sectionWritten {
		// Append, separated from existing content by a blank line.
		for len(out) > 0 && strings.TrimSpace(out[len(out)-1]) == "" {
			out = out[:len(out)-1]
		}
		if len(out) > 0 {
			out = append(out, "")
		}
		out = append(out, stanza.lines()...)
	}

	result := strings.Join(out, "\n")
	if !strings.HasSuffix(result, "\n") {
		result += "\n"
	}
	return result
}

// isStrayExample reports whether a line is a commented-out
// hidden-service directive outside the engine's section.
func isStrayExample(trimmed string) bool {
	if !strings.HasPrefix(trimmed, "#") {
		return false
	}
	rest := strings.TrimSpace(strings.TrimLeft(trimmed, "# "))
	return strings.HasPrefix(rest, "HiddenServiceDir") ||
		strings.HasPrefix(rest, "HiddenServicePort")
}

// backupOnce copies the original file to path+BackupSuffix if no
// backup exists yet. Later modifications never overwrite it: the
// backup always reflects the file as it was before onionhost first
// touched it.
func backupOnce(path string, original []byte) error {
	backupPath := path + BackupSuffix
	if _, err := os.Stat(backupPath); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("checking backup %s: %w", backupPath, err)
	}
	if err := os.WriteFile(backupPath, original, 0o644); err != nil {
		return fmt.Errorf("writing backup %s: %w", backupPath, err)
	}
	return nil
}
