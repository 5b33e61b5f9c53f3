package spool

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Blob is a handle on one spool file. It holds no open file descriptor: the
// directory entry is the resource and the handle only remembers which name
// it expects the entry to have. Handles are immutable; TryLease and Release
// return a new handle for the renamed file.
type Blob struct {
	storage *Storage
	file    fileName
	size    int64
	// held marks a handle returned by TryLease or Resume. Only a held handle
	// may use a lease that has not expired.
	held bool
}

// Name returns the state-independent blob name.
func (b *Blob) Name() string { return b.file.Name }

// State returns the state the handle was observed in.
func (b *Blob) State() State { return b.file.State }

// CreatedAt returns the creation time encoded in the blob name.
func (b *Blob) CreatedAt() time.Time { return b.file.CreatedAt }

// LeaseExpiry returns the lease expiry, or the zero time when not leased.
func (b *Blob) LeaseExpiry() time.Time { return b.file.LeaseExpiry }

// Size returns the payload size observed when the handle was created.
func (b *Blob) Size() int64 { return b.size }

// Held reports whether the handle holds the lease on its blob.
func (b *Blob) Held() bool { return b.held && b.file.State == StateLeased }

// LeaseToken identifies a held lease across processes. It is empty for
// handles that are not leased. Resume turns a token back into a held handle.
func (b *Blob) LeaseToken() string {
	if b.file.State != StateLeased {
		return ""
	}
	return strings.TrimSuffix(encodeFileName(b.file), leaseSuffix)
}

// lockedByOther reports whether the blob is under an unexpired lease this
// handle does not hold.
func (b *Blob) lockedByOther() bool {
	return b.file.State == StateLeased && !b.held && b.storage.now().Before(b.file.LeaseExpiry)
}

// Path returns the file path the handle expects the blob at.
func (b *Blob) Path() string {
	return filepath.Join(b.storage.dir, encodeFileName(b.file))
}

// TryRead reads the payload. It returns ErrBlobNotFound when the file was
// moved or removed by another actor.
func (b *Blob) TryRead() ([]byte, error) {
	if b.lockedByOther() {
		return nil, ErrBlobNotFound
	}
	data, err := os.ReadFile(b.Path())
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrBlobNotFound
		}
		b.storage.log().Warn("read blob failed", "blob", b.file.Name, "err", err)
		return nil, fmt.Errorf("read blob %s: %w", b.file.Name, err)
	}
	return data, nil
}

// TryLease claims the blob for period by renaming it to a lease file name.
// The rename from the handle's known path is the whole exclusion mechanism:
// whoever renamed the file first wins and every other holder of the old name
// gets ErrBlobNotFound. Leasing a held handle renews its lease; a handle on
// somebody else's unexpired lease gets ErrBlobNotFound. A non-positive period
// selects the storage default.
func (b *Blob) TryLease(period time.Duration) (*Blob, error) {
	if period <= 0 {
		period = b.storage.opts.LeasePeriod
	}
	if b.file.State != StatePersisted && b.file.State != StateLeased {
		return nil, ErrBlobNotFound
	}
	if b.lockedByOther() {
		b.storage.metrics.leased(false)
		return nil, ErrBlobNotFound
	}

	leased := b.file.withLease(b.storage.now().Add(period))
	dst := b.storage.path(leased)
	if err := os.Rename(b.Path(), dst); err != nil {
		b.storage.metrics.leased(false)
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrBlobNotFound
		}
		b.storage.log().Warn("lease blob failed", "blob", b.file.Name, "err", err)
		return nil, fmt.Errorf("lease blob %s: %w", b.file.Name, err)
	}
	b.storage.metrics.leased(true)
	return &Blob{storage: b.storage, file: leased, size: b.size, held: true}, nil
}

// Release gives up a held lease and makes the blob retrievable again. An
// expired lease may be released through any handle.
func (b *Blob) Release() (*Blob, error) {
	if b.file.State != StateLeased || b.lockedByOther() {
		return nil, ErrNotLeased
	}
	persisted, _, err := b.storage.unlease(b.file, b.size)
	if err != nil {
		return nil, err
	}
	return &Blob{storage: b.storage, file: persisted, size: b.size}, nil
}

// Delete removes the blob file. A file that is already gone counts as
// deleted. A blob under somebody else's unexpired lease is not removed.
func (b *Blob) Delete() error {
	if b.lockedByOther() {
		return ErrBlobNotFound
	}
	err := os.Remove(b.Path())
	switch {
	case err == nil:
		b.storage.release(b.size)
		b.storage.metrics.deleted()
		return nil
	case errors.Is(err, fs.ErrNotExist):
		return nil
	default:
		b.storage.log().Warn("delete blob failed", "blob", b.file.Name, "err", err)
		return fmt.Errorf("delete blob %s: %w", b.file.Name, err)
	}
}
