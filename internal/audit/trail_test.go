package audit

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"retrosim/internal/model"
)

func tempTrail(t *testing.T) (*Trail, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mutations.jsonl")
	trail, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { trail.Close() })
	return trail, path
}

func TestAppendAndReadBack(t *testing.T) {
	trail, path := tempTrail(t)
	now := time.Now().UTC().Truncate(time.Second)

	for i, action := range []string{"mutate", "deprecate", "promote"} {
		entry := model.AuditEntry{
			Timestamp: now.Add(time.Duration(i) * time.Second),
			Action:    action,
			RuleID:    "r1",
			Accepted:  action != "deprecate",
		}
		if err := trail.Append(entry); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	entries, err := ReadAuditEntries(path, 0)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	if entries[0].Action != "mutate" || entries[2].Action != "promote" {
		t.Fatalf("order lost: %+v", entries)
	}
}

func TestOpenSyncAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mutations.jsonl")
	trail, err := OpenSync(path)
	if err != nil {
		t.Fatalf("open sync: %v", err)
	}
	t.Cleanup(func() { trail.Close() })

	if err := trail.Append(model.AuditEntry{Action: "mutate", RuleID: "r1"}); err != nil {
		t.Fatalf("append: %v", err)
	}
	entries, err := ReadAuditEntries(path, 0)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(entries) != 1 || entries[0].RuleID != "r1" {
		t.Fatalf("unexpected entries: %+v", entries)
	}
}

func TestReadLastN(t *testing.T) {
	trail, path := tempTrail(t)
	for i := 0; i < 10; i++ {
		if err := trail.Append(model.AuditEntry{Action: "mutate", RuleID: "r1", DryRun: i%2 == 0}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	entries, err := ReadAuditEntries(path, 3)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected last 3, got %d", len(entries))
	}
}

func TestReadMissingFileIsEmpty(t *testing.T) {
	entries, err := ReadAuditEntries(filepath.Join(t.TempDir(), "absent.jsonl"), 5)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected no entries, got %d", len(entries))
	}
}

func TestAppendSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trail.jsonl")
	first, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := first.Append(model.AuditEntry{Action: "mutate", RuleID: "a"}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	second, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer second.Close()
	if err := second.Append(model.AuditEntry{Action: "deprecate", RuleID: "a"}); err != nil {
		t.Fatalf("append: %v", err)
	}

	entries, err := ReadAuditEntries(path, 0)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("append must not truncate, got %d entries", len(entries))
	}
}

func TestClosedTrailRejectsAppends(t *testing.T) {
	trail, _ := tempTrail(t)
	if err := trail.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := trail.Append(model.AuditEntry{Action: "mutate"}); err == nil {
		t.Fatal("expected error after close")
	}
}

func TestTrustEntriesRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trust.jsonl")
	trail, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer trail.Close()

	entry := model.TrustEntry{
		ID:    "r1",
		Score: 0.42,
		Signals: map[string]float64{
			"confidence":    0.6,
			"drift_penalty": 0.18,
		},
	}
	if err := trail.Append(entry); err != nil {
		t.Fatalf("append: %v", err)
	}

	entries, err := ReadTrustEntries(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(entries) != 1 || entries[0].Score != 0.42 || entries[0].Signals["confidence"] != 0.6 {
		t.Fatalf("unexpected round trip: %+v", entries)
	}

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("trail file missing: %v", err)
	}
}
