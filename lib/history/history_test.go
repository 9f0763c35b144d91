// Copyright 2026 The Onionhost Authors
// SPDX-License-Identifier: Apache-2.0

package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func openTestLog(t *testing.T) *Log {
	t.Helper()
	log, err := Open(filepath.Join(t.TempDir(), "events.db"), nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { log.Close() })
	return log
}

func TestAppendAndRecent(t *testing.T) {
	ctx := context.Background()
	log := openTestLog(t)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	events := []Event{
		{Time: base, Kind: Started, Method: "file-serving", TargetPort: 8080,
			OnionAddress: "abcdefabcdefabcdefabcdefabcdefabcdefabcdefabcdefabcd.onion"},
		{Time: base.Add(time.Hour), Kind: Stopped, Method: "file-serving", TargetPort: 8080},
		{Time: base.Add(2 * time.Hour), Kind: Failed, Detail: "nginx refused to start"},
	}
	for _, event := range events {
		if err := log.Append(ctx, event); err != nil {
			t.Fatalf("Append(%s): %v", event.Kind, err)
		}
	}

	recent, err := log.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(recent) != 3 {
		t.Fatalf("len(recent) = %d, want 3", len(recent))
	}

	// Newest first.
	if recent[0].Kind != Failed || recent[2].Kind != Started {
		t.Errorf("order = %s, %s, %s; want failed, stopped, started",
			recent[0].Kind, recent[1].Kind, recent[2].Kind)
	}
	if recent[0].Detail != "nginx refused to start" {
		t.Errorf("Detail = %q", recent[0].Detail)
	}
	if !recent[2].Time.Equal(base) {
		t.Errorf("Time = %v, want %v", recent[2].Time, base)
	}
	if recent[2].OnionAddress == "" {
		t.Error("OnionAddress not persisted")
	}
}

func TestRecentHonorsLimit(t *testing.T) {
	ctx := context.Background()
	log := openTestLog(t)

	for i := 0; i < 5; i++ {
		if err := log.Append(ctx, Event{Kind: Started}); err != nil {
			t.Fatal(err)
		}
	}

	recent, err := log.Recent(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(recent) != 2 {
		t.Errorf("len(recent) = %d, want 2", len(recent))
	}
}

func TestRecentEmptyLog(t *testing.T) {
	log := openTestLog(t)

	recent, err := log.Recent(context.Background(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(recent) != 0 {
		t.Errorf("len(recent) = %d, want 0", len(recent))
	}
}

func TestAppendFillsZeroTime(t *testing.T) {
	ctx := context.Background()
	log := openTestLog(t)

	before := time.Now().Add(-time.Second)
	if err := log.Append(ctx, Event{Kind: Stopped}); err != nil {
		t.Fatal(err)
	}

	recent, err := log.Recent(ctx, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(recent) != 1 {
		t.Fatal("event not recorded")
	}
	if recent[0].Time.Before(before) {
		t.Errorf("Time = %v, want roughly now", recent[0].Time)
	}
}
