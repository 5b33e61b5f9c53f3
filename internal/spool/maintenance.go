package spool

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"time"
)

const sweepKey = "sweep"

// SweepResult describes one maintenance sweep.
type SweepResult struct {
	StartedAt         time.Time     `json:"started_at" yaml:"started_at"`
	Duration          time.Duration `json:"duration" yaml:"duration"`
	Scanned           int           `json:"scanned" yaml:"scanned"`
	TempRemoved       int           `json:"temp_removed" yaml:"temp_removed"`
	ExpiredRemoved    int           `json:"expired_removed" yaml:"expired_removed"`
	LeasesReclaimed   int           `json:"leases_reclaimed" yaml:"leases_reclaimed"`
	StaleLocksRemoved int           `json:"stale_locks_removed" yaml:"stale_locks_removed"`
	BytesFreed        int64         `json:"bytes_freed" yaml:"bytes_freed"`
	Errors            int           `json:"errors" yaml:"errors"`
}

func (s *Storage) startMaintenance() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.maintenanceLoop(ctx)
}

func (s *Storage) maintenanceLoop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.opts.MaintenancePeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep runs one maintenance pass over the directory: abandoned temp files
// older than the write timeout and blobs older than the retention period are
// deleted, and expired leases are returned to the spool. Concurrent callers,
// including the background worker, share a single in-flight sweep.
func (s *Storage) Sweep(ctx context.Context) SweepResult {
	v, _, _ := s.sweeps.Do(sweepKey, func() (any, error) {
		return s.sweep(ctx), nil
	})
	return v.(SweepResult)
}

func (s *Storage) sweep(ctx context.Context) SweepResult {
	start := s.now()
	res := SweepResult{StartedAt: start}

	for _, e := range s.scan() {
		if ctx.Err() != nil {
			break
		}
		res.Scanned++

		switch e.file.State {
		case StateTemp:
			if start.Sub(e.modTime) <= s.opts.WriteTimeout {
				continue
			}
			if s.sweepRemove(e, &res) {
				res.TempRemoved++
			}
		case StatePersisted:
			if start.Sub(e.file.CreatedAt) <= s.opts.RetentionPeriod {
				continue
			}
			if s.sweepRemove(e, &res) {
				res.ExpiredRemoved++
			}
		case StateLeased:
			if start.Before(e.file.LeaseExpiry) {
				continue
			}
			_, reclaimed, err := s.unlease(e.file, e.size)
			switch {
			case errors.Is(err, ErrBlobNotFound):
			case err != nil:
				res.Errors++
			case reclaimed:
				res.LeasesReclaimed++
			default:
				res.StaleLocksRemoved++
				res.BytesFreed += e.size
			}
		}
	}

	res.Duration = s.now().Sub(start)
	s.metrics.observeSweep(res)
	s.log().Debug("maintenance sweep finished",
		"scanned", res.Scanned,
		"temp_removed", res.TempRemoved,
		"expired_removed", res.ExpiredRemoved,
		"leases_reclaimed", res.LeasesReclaimed,
		"stale_locks_removed", res.StaleLocksRemoved,
		"bytes_freed", res.BytesFreed,
		"errors", res.Errors,
		"duration_ms", res.Duration.Milliseconds(),
	)
	if s.opts.OnSweep != nil {
		s.opts.OnSweep(res)
	}
	return res
}

// sweepRemove deletes a file found during a sweep. It reports false when the
// file was already gone or could not be removed. Temp files are not part of
// the tracked total: an in-process write still owns its reservation and
// returns it itself when the commit fails.
func (s *Storage) sweepRemove(e entry, res *SweepResult) bool {
	err := os.Remove(s.path(e.file))
	switch {
	case err == nil:
		if e.file.State != StateTemp {
			s.release(e.size)
		}
		res.BytesFreed += e.size
		return true
	case errors.Is(err, fs.ErrNotExist):
		return false
	default:
		s.log().Warn("maintenance remove failed", "file", encodeFileName(e.file), "err", err)
		res.Errors++
		return false
	}
}
