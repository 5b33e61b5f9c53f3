package main

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"telspool/internal/config"
	"telspool/internal/journal"
	"telspool/internal/spool"
)

func spoolOptions(cfg *config.Config) spool.Options {
	return spool.Options{
		MaxSizeBytes:      cfg.MaxSizeBytes,
		MaintenancePeriod: cfg.Maintenance.Period.Std(),
		RetentionPeriod:   cfg.Maintenance.Retention.Std(),
		WriteTimeout:      cfg.Maintenance.WriteTimeout.Std(),
		LeasePeriod:       cfg.LeasePeriod.Std(),
		Logger:            slog.Default(),
	}
}

// withStorage opens the spool for a short-lived command. Background
// maintenance stays off; commands that need a sweep call Sweep directly.
func withStorage(cfg *config.Config, fn func(*spool.Storage) error) error {
	if cfg == nil {
		return fmt.Errorf("config not initialized")
	}
	opts := spoolOptions(cfg)
	opts.DisableMaintenance = true

	st, err := spool.New(cfg.Dir, opts)
	if err != nil {
		return err
	}
	defer st.Close()
	return fn(st)
}

// openJournal returns nil when no journal is configured.
func openJournal(cfg *config.Config) (*journal.Journal, error) {
	if cfg.JournalPath == "" {
		return nil, nil
	}
	return journal.Open(cfg.JournalPath)
}

func journalRecorder(j *journal.Journal, dir string) func(spool.SweepResult) {
	if abs, err := filepath.Abs(dir); err == nil {
		dir = abs
	}
	logger := slog.Default().With("component", "journal")
	return func(res spool.SweepResult) {
		entry := journal.Entry{
			Dir:               dir,
			StartedAt:         res.StartedAt,
			Duration:          res.Duration,
			Scanned:           res.Scanned,
			TempRemoved:       res.TempRemoved,
			ExpiredRemoved:    res.ExpiredRemoved,
			LeasesReclaimed:   res.LeasesReclaimed,
			StaleLocksRemoved: res.StaleLocksRemoved,
			BytesFreed:        res.BytesFreed,
			Errors:            res.Errors,
		}
		if _, err := j.Record(context.Background(), entry); err != nil {
			logger.Warn("record sweep failed", "err", err)
		}
	}
}
