package spool

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	tempSuffix      = ".tmp"
	persistedSuffix = ".blob"
	leaseSuffix     = ".lock"

	createdWidth = 19
	idWidth      = 32
)

// State is the on-disk state of a blob, derived from its file name.
type State int

const (
	StateUnknown State = iota
	StateTemp
	StatePersisted
	StateLeased
)

func (s State) String() string {
	switch s {
	case StateTemp:
		return "temp"
	case StatePersisted:
		return "persisted"
	case StateLeased:
		return "leased"
	default:
		return "unknown"
	}
}

// fileName is the decoded form of a spool file name:
//
//	<created>-<id>.tmp
//	<created>-<id>.blob
//	<created>-<id>.<expiryEpochMillis>.lock
//
// created is the creation time in unix nanoseconds, zero padded so that
// names sort lexicographically in creation order.
type fileName struct {
	Name        string
	State       State
	CreatedAt   time.Time
	LeaseExpiry time.Time
}

func newFileName(now time.Time) fileName {
	id := uuid.New()
	nanos := now.UnixNano()
	return fileName{
		Name:      fmt.Sprintf("%0*d-%s", createdWidth, nanos, hex.EncodeToString(id[:])),
		State:     StateTemp,
		CreatedAt: time.Unix(0, nanos),
	}
}

func (f fileName) withState(state State) fileName {
	f.State = state
	if state != StateLeased {
		f.LeaseExpiry = time.Time{}
	}
	return f
}

func (f fileName) withLease(expiry time.Time) fileName {
	f.State = StateLeased
	f.LeaseExpiry = time.UnixMilli(expiry.UnixMilli())
	return f
}

func encodeFileName(f fileName) string {
	switch f.State {
	case StateTemp:
		return f.Name + tempSuffix
	case StatePersisted:
		return f.Name + persistedSuffix
	case StateLeased:
		return f.Name + "." + strconv.FormatInt(f.LeaseExpiry.UnixMilli(), 10) + leaseSuffix
	default:
		return ""
	}
}

// parseFileName decodes a directory entry name. Files that were not written
// by a spool report ok=false and are left alone.
func parseFileName(base string) (fileName, bool) {
	var f fileName
	var stem string
	switch {
	case strings.HasSuffix(base, tempSuffix):
		f.State = StateTemp
		stem = strings.TrimSuffix(base, tempSuffix)
	case strings.HasSuffix(base, persistedSuffix):
		f.State = StatePersisted
		stem = strings.TrimSuffix(base, persistedSuffix)
	case strings.HasSuffix(base, leaseSuffix):
		rest := strings.TrimSuffix(base, leaseSuffix)
		i := strings.LastIndexByte(rest, '.')
		if i < 0 {
			return fileName{}, false
		}
		millis, err := strconv.ParseInt(rest[i+1:], 10, 64)
		if err != nil || millis < 0 {
			return fileName{}, false
		}
		f.State = StateLeased
		f.LeaseExpiry = time.UnixMilli(millis)
		stem = rest[:i]
	default:
		return fileName{}, false
	}

	created, ok := parseBlobName(stem)
	if !ok {
		return fileName{}, false
	}
	f.Name = stem
	f.CreatedAt = created
	return f, true
}

func parseBlobName(name string) (time.Time, bool) {
	created, id, ok := strings.Cut(name, "-")
	if !ok || len(created) != createdWidth || len(id) != idWidth {
		return time.Time{}, false
	}
	nanos, err := strconv.ParseInt(created, 10, 64)
	if err != nil || nanos < 0 {
		return time.Time{}, false
	}
	if _, err := hex.DecodeString(id); err != nil {
		return time.Time{}, false
	}
	return time.Unix(0, nanos), true
}
