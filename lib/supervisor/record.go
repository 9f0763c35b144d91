// Copyright 2026 The Onionhost Authors
// SPDX-License-Identifier: Apache-2.0

package supervisor

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/onionhost-foundation/onionhost/lib/atomicfile"
)

// Record is the on-disk PID record for one managed process role. It
// carries enough to recognize the process again after the engine
// restarts: the identifier and the invocation signature it was
// launched with. A record whose process is gone is stale and is
// discarded during reconciliation before the next launch.
type Record struct {
	// Role identifies which managed process this record tracks.
	Role Role `json:"role"`

	// PID is the process identifier at launch time.
	PID int `json:"pid"`

	// Signature is the space-joined argv the process was launched
	// with, compared against the live process's command line during
	// reconciliation to avoid adopting an unrelated process that
	// happens to have recycled the PID.
	Signature string `json:"signature"`

	// StartedAt is when the process was launched.
	StartedAt time.Time `json:"started_at"`
}

// recordPath returns the record file for a role inside the state
// directory.
func recordPath(stateDir string, role Role) string {
	return filepath.Join(stateDir, string(role)+".pid.json")
}

// writeRecord atomically persists a record. The supervisor is the only
// writer of PID records, which keeps the file single-writer by
// construction.
func writeRecord(stateDir string, record Record) error {
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling pid record: %w", err)
	}
	data = append(data, '\n')

	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return fmt.Errorf("creating state directory %s: %w", stateDir, err)
	}
	return atomicfile.WriteFile(recordPath(stateDir, record.Role), data, 0o600)
}

// readRecord loads the record for a role. Returns false when no record
// exists.
func readRecord(stateDir string, role Role) (Record, bool, error) {
	data, err := os.ReadFile(recordPath(stateDir, role))
	if err != nil {
		if os.IsNotExist(err) {
			return Record{}, false, nil
		}
		return Record{}, false, fmt.Errorf("reading pid record for %s: %w", role, err)
	}

	var record Record
	if err := json.Unmarshal(data, &record); err != nil {
		return Record{}, false, fmt.Errorf("parsing pid record %s: %w", recordPath(stateDir, role), err)
	}
	return record, true, nil
}

// clearRecord removes the record for a role. Removing an absent record
// is not an error.
func clearRecord(stateDir string, role Role) error {
	err := os.Remove(recordPath(stateDir, role))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing pid record for %s: %w", role, err)
	}
	return nil
}
