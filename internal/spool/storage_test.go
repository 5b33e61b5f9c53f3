package spool

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func testStorage(t *testing.T, opts Options) *Storage {
	t.Helper()
	opts.DisableMaintenance = true
	s, err := New(t.TempDir(), opts)
	if err != nil {
		t.Fatalf("new storage: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// fakeClock replaces the storage clock. Only safe with maintenance disabled.
func fakeClock(s *Storage, start time.Time) *time.Time {
	now := start
	s.now = func() time.Time { return now }
	return &now
}

func TestNewValidatesArguments(t *testing.T) {
	tests := []struct {
		name string
		dir  string
		opts Options
	}{
		{name: "empty dir", dir: ""},
		{name: "blank dir", dir: "   "},
		{name: "negative max size", dir: t.TempDir(), opts: Options{MaxSizeBytes: -1}},
		{name: "negative maintenance period", dir: t.TempDir(), opts: Options{MaintenancePeriod: -time.Second}},
		{name: "negative retention", dir: t.TempDir(), opts: Options{RetentionPeriod: -time.Second}},
		{name: "negative write timeout", dir: t.TempDir(), opts: Options{WriteTimeout: -time.Second}},
		{name: "negative lease period", dir: t.TempDir(), opts: Options{LeasePeriod: -time.Second}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := New(tt.dir, tt.opts)
			if !errors.Is(err, ErrInvalidArgument) {
				t.Fatalf("expected ErrInvalidArgument, got %v", err)
			}
			if s != nil {
				t.Fatal("expected nil storage")
			}
		})
	}
}

func TestNewAppliesDefaults(t *testing.T) {
	s := testStorage(t, Options{})
	if s.opts.MaxSizeBytes != DefaultMaxSizeBytes {
		t.Fatalf("expected default max size, got %d", s.opts.MaxSizeBytes)
	}
	if s.opts.MaintenancePeriod != DefaultMaintenancePeriod ||
		s.opts.RetentionPeriod != DefaultRetentionPeriod ||
		s.opts.WriteTimeout != DefaultWriteTimeout ||
		s.opts.LeasePeriod != DefaultLeasePeriod {
		t.Fatalf("unexpected defaults: %#v", s.opts)
	}
	if !filepath.IsAbs(s.Dir()) {
		t.Fatalf("expected absolute dir, got %s", s.Dir())
	}
}

func TestNewCreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "spool")
	s, err := New(dir, Options{DisableMaintenance: true})
	if err != nil {
		t.Fatalf("new storage: %v", err)
	}
	defer s.Close()
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		t.Fatalf("expected spool directory, stat err=%v", err)
	}
}

func TestCreateBlobRoundTrip(t *testing.T) {
	payloads := [][]byte{
		[]byte("Hello, World!"),
		{},
		{0x00, 0xff, 0x10, 0x80},
		bytes.Repeat([]byte("x"), 64*1024),
	}

	for _, payload := range payloads {
		s := testStorage(t, Options{})
		if _, err := s.CreateBlob(payload); err != nil {
			t.Fatalf("create blob: %v", err)
		}
		blob := s.GetBlob()
		if blob == nil {
			t.Fatal("expected a blob")
		}
		data, err := blob.TryRead()
		if err != nil {
			t.Fatalf("read blob: %v", err)
		}
		if !bytes.Equal(data, payload) {
			t.Fatalf("expected %d bytes back, got %d", len(payload), len(data))
		}
	}
}

func TestCreateBlobLeavesNoTempFile(t *testing.T) {
	s := testStorage(t, Options{})
	blob, err := s.CreateBlob([]byte("payload"))
	if err != nil {
		t.Fatalf("create blob: %v", err)
	}
	if blob.State() != StatePersisted {
		t.Fatalf("expected persisted blob, got %s", blob.State())
	}

	entries, err := os.ReadDir(s.Dir())
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 1 || filepath.Ext(entries[0].Name()) != ".blob" {
		t.Fatalf("expected exactly one .blob file, got %v", entries)
	}
	if filepath.Base(blob.Path()) != entries[0].Name() {
		t.Fatalf("expected handle path %s, got %s", blob.Path(), entries[0].Name())
	}
}

func TestCreateBlobQuota(t *testing.T) {
	s := testStorage(t, Options{MaxSizeBytes: 10000})

	full, err := s.CreateBlob(bytes.Repeat([]byte("a"), 10000))
	if err != nil {
		t.Fatalf("create blob at limit: %v", err)
	}
	if s.UsedBytes() != 10000 {
		t.Fatalf("expected 10000 used bytes, got %d", s.UsedBytes())
	}

	blob, err := s.CreateBlob([]byte("Hello, World!"))
	if !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("expected ErrQuotaExceeded, got %v", err)
	}
	if blob != nil {
		t.Fatal("expected nil blob when over quota")
	}
	if s.UsedBytes() != 10000 {
		t.Fatalf("rejected write must not change used bytes, got %d", s.UsedBytes())
	}

	if err := full.Delete(); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.CreateBlob([]byte("Hello, World!")); err != nil {
		t.Fatalf("create after delete: %v", err)
	}
}

func TestCreateBlobQuotaUnderConcurrency(t *testing.T) {
	s := testStorage(t, Options{MaxSizeBytes: 1000})
	payload := bytes.Repeat([]byte("z"), 100)

	var wg sync.WaitGroup
	var mu sync.Mutex
	created, rejected := 0, 0
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.CreateBlob(payload)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				created++
			case errors.Is(err, ErrQuotaExceeded):
				rejected++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if created != 10 || rejected != 15 {
		t.Fatalf("expected 10 created and 15 rejected, got %d and %d", created, rejected)
	}
	if got := len(s.GetBlobs()); got != 10 {
		t.Fatalf("expected 10 blobs on disk, got %d", got)
	}
}

func TestNewCountsExistingFiles(t *testing.T) {
	dir := t.TempDir()
	first, err := New(dir, Options{DisableMaintenance: true})
	if err != nil {
		t.Fatalf("new storage: %v", err)
	}
	if _, err := first.CreateBlob(make([]byte, 300)); err != nil {
		t.Fatalf("create blob: %v", err)
	}
	first.Close()

	second, err := New(dir, Options{DisableMaintenance: true, MaxSizeBytes: 500})
	if err != nil {
		t.Fatalf("reopen storage: %v", err)
	}
	defer second.Close()
	if second.UsedBytes() != 300 {
		t.Fatalf("expected 300 used bytes after reopen, got %d", second.UsedBytes())
	}
	if _, err := second.CreateBlob(make([]byte, 201)); !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("expected ErrQuotaExceeded, got %v", err)
	}
}

func TestCreateBlobAfterClose(t *testing.T) {
	s := testStorage(t, Options{})
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if _, err := s.CreateBlob([]byte("late")); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

func TestGetBlobOrdering(t *testing.T) {
	s := testStorage(t, Options{})
	now := fakeClock(s, time.Now())

	var names []string
	for _, payload := range []string{"first", "second", "third"} {
		blob, err := s.CreateBlob([]byte(payload))
		if err != nil {
			t.Fatalf("create %s: %v", payload, err)
		}
		names = append(names, blob.Name())
		*now = now.Add(time.Millisecond)
	}

	oldest := s.GetBlob()
	if oldest == nil || oldest.Name() != names[0] {
		t.Fatalf("expected oldest blob %s, got %v", names[0], oldest)
	}

	blobs := s.GetBlobs()
	if len(blobs) != 3 {
		t.Fatalf("expected 3 blobs, got %d", len(blobs))
	}
	for i, blob := range blobs {
		if blob.Name() != names[i] {
			t.Fatalf("expected blob %d to be %s, got %s", i, names[i], blob.Name())
		}
	}
}

func TestGetBlobEmpty(t *testing.T) {
	s := testStorage(t, Options{})
	if blob := s.GetBlob(); blob != nil {
		t.Fatalf("expected nil blob, got %s", blob.Name())
	}
	if blobs := s.GetBlobs(); len(blobs) != 0 {
		t.Fatalf("expected no blobs, got %d", len(blobs))
	}
}

func TestGetBlobSkipsTempLeasedAndForeignFiles(t *testing.T) {
	s := testStorage(t, Options{})
	now := fakeClock(s, time.Now())

	tmp := newFileName(*now)
	if err := os.WriteFile(s.path(tmp), []byte("partial"), 0o600); err != nil {
		t.Fatalf("write temp: %v", err)
	}
	if err := os.WriteFile(filepath.Join(s.Dir(), "README.txt"), []byte("hi"), 0o600); err != nil {
		t.Fatalf("write foreign file: %v", err)
	}
	if err := os.Mkdir(filepath.Join(s.Dir(), "sub.blob"), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	*now = now.Add(time.Millisecond)
	leased, err := s.CreateBlob([]byte("leased"))
	if err != nil {
		t.Fatalf("create blob: %v", err)
	}
	if _, err := leased.TryLease(time.Minute); err != nil {
		t.Fatalf("lease: %v", err)
	}

	if blob := s.GetBlob(); blob != nil {
		t.Fatalf("expected no retrievable blob, got %s (%s)", blob.Name(), blob.State())
	}

	*now = now.Add(time.Millisecond)
	fresh, err := s.CreateBlob([]byte("fresh"))
	if err != nil {
		t.Fatalf("create blob: %v", err)
	}
	if blob := s.GetBlob(); blob == nil || blob.Name() != fresh.Name() {
		t.Fatalf("expected %s, got %v", fresh.Name(), blob)
	}

	// Once the lease expires the older leased blob is eligible again.
	*now = now.Add(2 * time.Minute)
	blob := s.GetBlob()
	if blob == nil || blob.Name() != leased.Name() || blob.State() != StateLeased {
		t.Fatalf("expected expired lease %s, got %v", leased.Name(), blob)
	}
}

func TestGetBlobsIsSnapshot(t *testing.T) {
	s := testStorage(t, Options{})
	if _, err := s.CreateBlob([]byte("one")); err != nil {
		t.Fatalf("create blob: %v", err)
	}
	snapshot := s.GetBlobs()
	if _, err := s.CreateBlob([]byte("two")); err != nil {
		t.Fatalf("create blob: %v", err)
	}
	if len(snapshot) != 1 {
		t.Fatalf("expected snapshot to keep 1 blob, got %d", len(snapshot))
	}
	if len(s.GetBlobs()) != 2 {
		t.Fatal("expected a fresh listing to see both blobs")
	}
}

func TestLookup(t *testing.T) {
	s := testStorage(t, Options{})
	blob, err := s.CreateBlob([]byte("find me"))
	if err != nil {
		t.Fatalf("create blob: %v", err)
	}

	found := s.Lookup(blob.Name())
	if found == nil || found.State() != StatePersisted {
		t.Fatalf("expected persisted blob, got %v", found)
	}

	leased, err := blob.TryLease(time.Minute)
	if err != nil {
		t.Fatalf("lease: %v", err)
	}
	found = s.Lookup(blob.Name())
	if found == nil || found.State() != StateLeased || found.Path() != leased.Path() {
		t.Fatalf("expected leased blob at %s, got %v", leased.Path(), found)
	}

	if s.Lookup("missing") != nil {
		t.Fatal("expected nil for invalid name")
	}
	if err := leased.Delete(); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if s.Lookup(blob.Name()) != nil {
		t.Fatal("expected nil after delete")
	}
}

func TestStats(t *testing.T) {
	s := testStorage(t, Options{MaxSizeBytes: 4096})
	now := fakeClock(s, time.Now())

	first, err := s.CreateBlob([]byte("12345"))
	if err != nil {
		t.Fatalf("create blob: %v", err)
	}
	if _, err := s.CreateBlob([]byte("123")); err != nil {
		t.Fatalf("create blob: %v", err)
	}
	if _, err := first.TryLease(time.Second); err != nil {
		t.Fatalf("lease: %v", err)
	}
	if err := os.WriteFile(s.path(newFileName(*now)), []byte("ab"), 0o600); err != nil {
		t.Fatalf("write temp: %v", err)
	}
	*now = now.Add(time.Minute)

	st := s.Stats()
	if st.Persisted != 1 || st.Leased != 1 || st.Temp != 1 || st.ExpiredLeases != 1 {
		t.Fatalf("unexpected counts: %#v", st)
	}
	if st.PersistedBytes != 3 || st.LeasedBytes != 5 || st.TempBytes != 2 {
		t.Fatalf("unexpected byte counts: %#v", st)
	}
	if st.UsedBytes != 8 || st.MaxSizeBytes != 4096 {
		t.Fatalf("unexpected totals: %#v", st)
	}
	if !st.Oldest.Equal(first.CreatedAt()) {
		t.Fatalf("expected oldest %v, got %v", first.CreatedAt(), st.Oldest)
	}
}
