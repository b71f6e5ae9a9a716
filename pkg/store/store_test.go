package store

import (
	"bytes"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cstatelab/wakebench/pkg/engine"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "wakebench.db"))
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestSessionLifecycle(t *testing.T) {
	db := testDB(t)

	s, err := db.CreateSession("hrt", 2, 50_000, 5_000_000)
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	if s.ID == "" {
		t.Fatal("CreateSession returned empty ID")
	}

	got, err := db.GetSession(s.ID)
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if got.Device != "hrt" || got.CPU != 2 {
		t.Errorf("Loaded session mismatch: %+v", got)
	}
	if got.EndTime != nil {
		t.Error("Unfinished session has an end time")
	}

	if err := db.FinishSession(s.ID, 10, 12, 1, errors.New("boom")); err != nil {
		t.Fatalf("FinishSession failed: %v", err)
	}

	got, err = db.GetSession(s.ID)
	if err != nil {
		t.Fatalf("GetSession after finish failed: %v", err)
	}
	if got.EndTime == nil {
		t.Error("Finished session has no end time")
	}
	if got.KeptCount != 10 || got.TotalCount != 12 || got.DiscardCount != 1 {
		t.Errorf("Counters not recorded: %+v", got)
	}
	if got.Error != "boom" {
		t.Errorf("Error = %q, want boom", got.Error)
	}

	if _, err := db.GetSession("no-such-id"); err == nil {
		t.Error("Expected error for unknown session")
	}
}

func writeDatapoints(t *testing.T, db *DB, sessionID string) {
	t.Helper()
	sink := db.Sink(sessionID)
	for i := 0; i < 6; i++ {
		dp := engine.Processed{
			Index:       uint64(i),
			WakeLatency: uint64(1000 + i),
			SilentTime:  uint64(90_000 + i),
			LDist:       100_000,
			Aux:         map[string]uint64{"RTD": uint64(i * 10)},
		}
		// Every third datapoint was filtered but written anyway.
		if err := sink.Write(dp, i%3 != 0); err != nil {
			t.Fatalf("Write %d failed: %v", i, err)
		}
	}
}

func TestSinkAndKeptCount(t *testing.T) {
	db := testDB(t)
	s, err := db.CreateSession("hrt", 0, 100_000, 100_000)
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	writeDatapoints(t, db, s.ID)

	dps, err := db.Datapoints(s.ID)
	if err != nil {
		t.Fatalf("Datapoints failed: %v", err)
	}
	if len(dps) != 6 {
		t.Fatalf("Got %d datapoints, want 6", len(dps))
	}
	for i, dp := range dps {
		if dp.Seq != uint64(i) {
			t.Errorf("Datapoint %d has seq %d; order broken", i, dp.Seq)
		}
		if dp.Aux["RTD"] != uint64(i*10) {
			t.Errorf("Datapoint %d: RTD = %d, want %d", i, dp.Aux["RTD"], i*10)
		}
	}

	// Extending this result must count only rows that passed the
	// predicate, not rows emitted under keep-filtered.
	kept, err := db.KeptCount(s.ID)
	if err != nil {
		t.Fatalf("KeptCount failed: %v", err)
	}
	if kept != 4 {
		t.Errorf("KeptCount = %d, want 4", kept)
	}
}

func TestExportCSV(t *testing.T) {
	db := testDB(t)
	s, err := db.CreateSession("ndl", 1, 100_000, 100_000)
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	writeDatapoints(t, db, s.ID)

	var buf bytes.Buffer
	if err := db.ExportCSV(&buf, s.ID); err != nil {
		t.Fatalf("ExportCSV failed: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 7 {
		t.Fatalf("Got %d CSV lines, want 7 (header + 6 rows)", len(lines))
	}
	if !strings.Contains(lines[0], "WakeLatency") {
		t.Errorf("Header missing WakeLatency: %s", lines[0])
	}
	if !strings.Contains(lines[1], "1000") {
		t.Errorf("First row missing wake latency: %s", lines[1])
	}
}

func TestExportJSON(t *testing.T) {
	db := testDB(t)
	s, err := db.CreateSession("hrt", 0, 100_000, 100_000)
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	writeDatapoints(t, db, s.ID)

	var buf bytes.Buffer
	if err := db.ExportJSON(&buf, s.ID); err != nil {
		t.Fatalf("ExportJSON failed: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, s.ID) {
		t.Error("JSON export missing session ID")
	}
	if !strings.Contains(out, "\"wake_latency\"") {
		t.Error("JSON export missing wake_latency field")
	}
}

func TestStatsSamples(t *testing.T) {
	db := testDB(t)
	s, err := db.CreateSession("hrt", 0, 100_000, 100_000)
	if err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	if err := db.InsertStatsSample(s.ID, s.StartTime, 42.5, 3200.0); err != nil {
		t.Fatalf("InsertStatsSample failed: %v", err)
	}
}
