// Package spool buffers opaque payloads as files in a local directory so a
// producer can outlive outages of its destination. Readers and writers in
// different processes share one directory and coordinate only through atomic
// renames and the state encoded in file names.
package spool

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultMaxSizeBytes      int64 = 50 * 1024 * 1024
	DefaultMaintenancePeriod       = time.Minute
	DefaultRetentionPeriod         = 48 * time.Hour
	DefaultWriteTimeout            = time.Minute
	DefaultLeasePeriod             = time.Minute

	closeWaitTimeout = 5 * time.Second
	dirPerm          = 0o755
	filePerm         = 0o600
)

// Options configures a Storage. Zero values select the defaults.
type Options struct {
	MaxSizeBytes      int64
	MaintenancePeriod time.Duration
	RetentionPeriod   time.Duration
	WriteTimeout      time.Duration
	LeasePeriod       time.Duration

	// DisableMaintenance skips the background sweeper. Sweep can still be
	// called directly.
	DisableMaintenance bool

	Logger *slog.Logger
	// Registerer receives the storage metrics when set.
	Registerer prometheus.Registerer
	// OnSweep is called after every maintenance sweep.
	OnSweep func(SweepResult)
}

func (o Options) withDefaults() (Options, error) {
	if o.MaxSizeBytes < 0 {
		return o, fmt.Errorf("%w: max size must not be negative", ErrInvalidArgument)
	}
	durations := []struct {
		name  string
		value *time.Duration
		def   time.Duration
	}{
		{"maintenance period", &o.MaintenancePeriod, DefaultMaintenancePeriod},
		{"retention period", &o.RetentionPeriod, DefaultRetentionPeriod},
		{"write timeout", &o.WriteTimeout, DefaultWriteTimeout},
		{"lease period", &o.LeasePeriod, DefaultLeasePeriod},
	}
	for _, d := range durations {
		if *d.value < 0 {
			return o, fmt.Errorf("%w: %s must be positive", ErrInvalidArgument, d.name)
		}
		if *d.value == 0 {
			*d.value = d.def
		}
	}
	if o.MaxSizeBytes == 0 {
		o.MaxSizeBytes = DefaultMaxSizeBytes
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o, nil
}

// Storage is a spool directory. The used byte count is tracked per instance
// and is only an estimate: other processes writing to the same directory are
// not seen until the next Storage is opened.
type Storage struct {
	dir     string
	opts    Options
	logger  *slog.Logger
	metrics *metrics
	now     func() time.Time

	mu        sync.Mutex
	usedBytes int64
	closed    bool

	sweeps    singleflight.Group
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

// New opens the spool directory dir, creating it when missing, and starts
// the maintenance worker.
func New(dir string, opts Options) (*Storage, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, fmt.Errorf("%w: spool directory is required", ErrInvalidArgument)
	}
	opts, err := opts.withDefaults()
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, dirPerm); err != nil {
		return nil, fmt.Errorf("create spool directory: %w", err)
	}

	s := &Storage{
		dir:    abs,
		opts:   opts,
		logger: opts.Logger.With("component", "spool", "dir", abs),
		now:    time.Now,
	}
	s.metrics = newMetrics(opts.Registerer, s.UsedBytes)
	s.usedBytes = s.directorySize()

	if !opts.DisableMaintenance {
		s.startMaintenance()
	}
	return s, nil
}

// Dir returns the absolute spool directory.
func (s *Storage) Dir() string { return s.dir }

// UsedBytes returns the tracked size of the spool.
func (s *Storage) UsedBytes() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.usedBytes
}

// CreateBlob durably stores data as a new blob. The payload is written to a
// temp file, synced and renamed into place, so readers never observe a
// partial blob. It returns ErrQuotaExceeded when data does not fit.
func (s *Storage) CreateBlob(data []byte) (*Blob, error) {
	size := int64(len(data))
	if err := s.reserve(size); err != nil {
		if errors.Is(err, ErrQuotaExceeded) {
			s.metrics.rejected()
		}
		return nil, err
	}

	f := newFileName(s.now())
	tmpPath := s.path(f)
	if err := writeSynced(tmpPath, data); err != nil {
		s.release(size)
		s.log().Warn("write blob failed", "blob", f.Name, "err", err)
		return nil, fmt.Errorf("write blob: %w", err)
	}

	f = f.withState(StatePersisted)
	if err := os.Rename(tmpPath, s.path(f)); err != nil {
		_ = os.Remove(tmpPath)
		s.release(size)
		s.log().Warn("commit blob failed", "blob", f.Name, "err", err)
		return nil, fmt.Errorf("commit blob: %w", err)
	}

	s.metrics.created(size)
	return &Blob{storage: s, file: f, size: size}, nil
}

// GetBlob returns the oldest retrievable blob, or nil when there is none.
// Temp files and blobs under an unexpired lease are skipped. Ordering is
// best effort when several writers share the directory.
func (s *Storage) GetBlob() *Blob {
	now := s.now()
	var oldest *entry
	for _, e := range s.scan() {
		if !e.retrievable(now) {
			continue
		}
		if oldest == nil || e.before(oldest) {
			oldest = &e
		}
	}
	if oldest == nil {
		return nil
	}
	return s.blobFor(*oldest)
}

// GetBlobs returns a snapshot of all retrievable blobs, oldest first.
func (s *Storage) GetBlobs() []*Blob {
	now := s.now()
	entries := s.scan()
	eligible := entries[:0]
	for _, e := range entries {
		if e.retrievable(now) {
			eligible = append(eligible, e)
		}
	}
	sort.Slice(eligible, func(i, j int) bool { return eligible[i].before(&eligible[j]) })

	blobs := make([]*Blob, 0, len(eligible))
	for _, e := range eligible {
		blobs = append(blobs, s.blobFor(e))
	}
	return blobs
}

// Lookup returns a handle for the named blob in its current persisted or
// leased state, or nil when it does not exist. The handle does not hold a
// lease: while somebody else's lease is live it can only be inspected.
func (s *Storage) Lookup(name string) *Blob {
	name = strings.TrimSpace(name)
	if _, ok := parseBlobName(name); !ok {
		return nil
	}
	for _, e := range s.scan() {
		if e.file.Name != name {
			continue
		}
		if e.file.State == StatePersisted || e.file.State == StateLeased {
			return s.blobFor(e)
		}
	}
	return nil
}

// Resume returns a held handle for the lease identified by token, as
// returned by Blob.LeaseToken, or nil when that lease no longer exists.
// Knowing the token is what proves ownership between processes: a renewal or
// another consumer's lease renames the file and invalidates the old token.
func (s *Storage) Resume(token string) *Blob {
	f, ok := parseFileName(strings.TrimSpace(token) + leaseSuffix)
	if !ok || f.State != StateLeased {
		return nil
	}
	info, err := os.Stat(s.path(f))
	if err != nil {
		return nil
	}
	return &Blob{storage: s, file: f, size: info.Size(), held: true}
}

// Stats summarizes the directory contents.
type Stats struct {
	Dir            string    `json:"dir" yaml:"dir"`
	UsedBytes      int64     `json:"used_bytes" yaml:"used_bytes"`
	MaxSizeBytes   int64     `json:"max_size_bytes" yaml:"max_size_bytes"`
	Temp           int       `json:"temp" yaml:"temp"`
	Persisted      int       `json:"persisted" yaml:"persisted"`
	Leased         int       `json:"leased" yaml:"leased"`
	ExpiredLeases  int       `json:"expired_leases" yaml:"expired_leases"`
	TempBytes      int64     `json:"temp_bytes" yaml:"temp_bytes"`
	PersistedBytes int64     `json:"persisted_bytes" yaml:"persisted_bytes"`
	LeasedBytes    int64     `json:"leased_bytes" yaml:"leased_bytes"`
	Oldest         time.Time `json:"oldest,omitempty" yaml:"oldest,omitempty"`
}

// Stats scans the directory and counts files per state.
func (s *Storage) Stats() Stats {
	now := s.now()
	st := Stats{
		Dir:          s.dir,
		UsedBytes:    s.UsedBytes(),
		MaxSizeBytes: s.opts.MaxSizeBytes,
	}
	for _, e := range s.scan() {
		switch e.file.State {
		case StateTemp:
			st.Temp++
			st.TempBytes += e.size
			continue
		case StatePersisted:
			st.Persisted++
			st.PersistedBytes += e.size
		case StateLeased:
			st.Leased++
			st.LeasedBytes += e.size
			if !now.Before(e.file.LeaseExpiry) {
				st.ExpiredLeases++
			}
		}
		if st.Oldest.IsZero() || e.file.CreatedAt.Before(st.Oldest) {
			st.Oldest = e.file.CreatedAt
		}
	}
	return st
}

// Close stops the maintenance worker. An in-flight sweep is waited for a
// bounded time and then abandoned. CreateBlob fails with ErrClosed after
// Close; existing handles keep working.
func (s *Storage) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()

		if s.cancel == nil {
			return
		}
		s.cancel()
		select {
		case <-s.done:
		case <-time.After(closeWaitTimeout):
			s.log().Warn("maintenance sweep did not stop in time; abandoning it")
		}
	})
	return nil
}

func (s *Storage) reserve(size int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.usedBytes+size > s.opts.MaxSizeBytes {
		return fmt.Errorf("%w: %d bytes used, %d requested, limit %d",
			ErrQuotaExceeded, s.usedBytes, size, s.opts.MaxSizeBytes)
	}
	s.usedBytes += size
	return nil
}

func (s *Storage) release(size int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.usedBytes -= size
	if s.usedBytes < 0 {
		s.usedBytes = 0
	}
}

func (s *Storage) path(f fileName) string {
	return filepath.Join(s.dir, encodeFileName(f))
}

func (s *Storage) blobFor(e entry) *Blob {
	return &Blob{storage: s, file: e.file, size: e.size}
}

// unlease renames a lease file back to its persisted name without replacing
// an existing file. When the persisted name is already taken the lease file
// is a stale duplicate and is removed instead. reclaimed reports which of the
// two happened.
func (s *Storage) unlease(f fileName, size int64) (persisted fileName, reclaimed bool, err error) {
	persisted = f.withState(StatePersisted)
	src, dst := s.path(f), s.path(persisted)

	err = renameNoReplace(src, dst)
	switch {
	case err == nil:
		return persisted, true, nil
	case errors.Is(err, fs.ErrNotExist):
		return fileName{}, false, ErrBlobNotFound
	case errors.Is(err, fs.ErrExist):
		if rmErr := os.Remove(src); rmErr != nil {
			if errors.Is(rmErr, fs.ErrNotExist) {
				return persisted, false, nil
			}
			s.log().Warn("remove stale lease failed", "blob", f.Name, "err", rmErr)
			return fileName{}, false, fmt.Errorf("remove stale lease %s: %w", f.Name, rmErr)
		}
		s.release(size)
		return persisted, false, nil
	default:
		s.log().Warn("release lease failed", "blob", f.Name, "err", err)
		return fileName{}, false, fmt.Errorf("release lease %s: %w", f.Name, err)
	}
}

func (s *Storage) log() *slog.Logger {
	if s != nil && s.logger != nil {
		return s.logger
	}
	return slog.Default()
}

// entry is one spool file seen during a directory scan.
type entry struct {
	file    fileName
	size    int64
	modTime time.Time
}

func (e *entry) retrievable(now time.Time) bool {
	switch e.file.State {
	case StatePersisted:
		return true
	case StateLeased:
		return !now.Before(e.file.LeaseExpiry)
	default:
		return false
	}
}

func (e *entry) before(other *entry) bool {
	if !e.file.CreatedAt.Equal(other.file.CreatedAt) {
		return e.file.CreatedAt.Before(other.file.CreatedAt)
	}
	return e.file.Name < other.file.Name
}

// scan lists the spool files in the directory. Entries that disappear while
// being listed are skipped; a directory that cannot be read is logged and
// treated as empty.
func (s *Storage) scan() []entry {
	dirEntries, err := os.ReadDir(s.dir)
	if err != nil {
		s.log().Warn("list spool directory failed", "err", err)
		return nil
	}
	entries := make([]entry, 0, len(dirEntries))
	for _, de := range dirEntries {
		if de.IsDir() {
			continue
		}
		f, ok := parseFileName(de.Name())
		if !ok {
			continue
		}
		info, err := de.Info()
		if err != nil {
			continue
		}
		entries = append(entries, entry{file: f, size: info.Size(), modTime: info.ModTime()})
	}
	return entries
}

// directorySize sums committed and leased blobs. Temp files are left out;
// they belong to writes of other instances or are swept as abandoned.
func (s *Storage) directorySize() int64 {
	var total int64
	for _, e := range s.scan() {
		if e.file.State == StateTemp {
			continue
		}
		total += e.size
	}
	return total
}

// writeSynced writes data to a new file at path and syncs it to disk. The
// file is removed again when any step fails.
func writeSynced(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, filePerm)
	if err != nil {
		return err
	}
	cleanup := func() {
		_ = f.Close()
		_ = os.Remove(path)
	}

	if _, err := f.Write(data); err != nil {
		cleanup()
		return err
	}
	if err := f.Sync(); err != nil {
		cleanup()
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return err
	}
	return nil
}
