package journal

import (
	"context"
	"path/filepath"
	"testing"
	"time"
)

func testJournal(t *testing.T) *Journal {
	t.Helper()
	path := filepath.Join(t.TempDir(), "journal.db")
	j, err := Open(path)
	if err != nil {
		t.Fatalf("open test journal: %v", err)
	}
	t.Cleanup(func() { j.Close() })
	return j
}

func TestRecordAndRecent(t *testing.T) {
	j := testJournal(t)
	ctx := context.Background()
	base := time.Now().UTC().Truncate(time.Millisecond)

	for i, dir := range []string{"/spool/a", "/spool/b", "/spool/a"} {
		id, err := j.Record(ctx, Entry{
			Dir:             dir,
			StartedAt:       base.Add(time.Duration(i) * time.Second),
			Duration:        25 * time.Millisecond,
			Scanned:         10 + i,
			TempRemoved:     1,
			ExpiredRemoved:  2,
			LeasesReclaimed: 3,
			BytesFreed:      4096,
		})
		if err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
		if id == 0 {
			t.Fatal("expected non-zero id")
		}
	}

	all, err := j.Recent(ctx, "", 0)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(all))
	}
	if all[0].Scanned != 12 || all[2].Scanned != 10 {
		t.Fatalf("expected newest first, got %#v", all)
	}

	onlyA, err := j.Recent(ctx, "/spool/a", 1)
	if err != nil {
		t.Fatalf("recent for dir: %v", err)
	}
	if len(onlyA) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(onlyA))
	}
	got := onlyA[0]
	if got.Dir != "/spool/a" || !got.StartedAt.Equal(base.Add(2*time.Second)) {
		t.Fatalf("unexpected entry: %#v", got)
	}
	if got.Duration != 25*time.Millisecond || got.BytesFreed != 4096 || got.LeasesReclaimed != 3 {
		t.Fatalf("unexpected counters: %#v", got)
	}
}

func TestPrune(t *testing.T) {
	j := testJournal(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for _, started := range []time.Time{now.Add(-48 * time.Hour), now.Add(-time.Hour), now} {
		if _, err := j.Record(ctx, Entry{Dir: "/spool", StartedAt: started}); err != nil {
			t.Fatalf("record: %v", err)
		}
	}

	removed, err := j.Prune(ctx, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 pruned entry, got %d", removed)
	}
	entries, err := j.Recent(ctx, "", 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries left, got %d", len(entries))
	}
}

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	for i := 0; i < 2; i++ {
		j, err := Open(path)
		if err != nil {
			t.Fatalf("open %d: %v", i, err)
		}
		version, err := currentVersion(j.db)
		if err != nil {
			t.Fatalf("current version: %v", err)
		}
		if version != len(migrations) {
			t.Fatalf("expected version %d, got %d", len(migrations), version)
		}
		j.Close()
	}
}

func TestOpenRequiresPath(t *testing.T) {
	if _, err := Open(""); err == nil {
		t.Fatal("expected error for empty path")
	}
}
