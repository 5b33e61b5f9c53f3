package main

import (
	"errors"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"telspool/internal/config"
)

var errNoJournal = errors.New("no sweep journal configured")

func newJournalCmd(cfg *config.Config, out *outputOptions) *cobra.Command {
	var (
		limit     int
		allDirs   bool
		olderThan time.Duration
	)

	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Show recorded maintenance sweeps",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			j, err := openJournal(cfg)
			if err != nil {
				return err
			}
			if j == nil {
				return errNoJournal
			}
			defer j.Close()

			if olderThan > 0 {
				n, err := j.Prune(cmd.Context(), time.Now().Add(-olderThan))
				if err != nil {
					return err
				}
				return writePlain("pruned %d entries\n", n)
			}

			dir := ""
			if !allDirs {
				if dir, err = filepath.Abs(cfg.Dir); err != nil {
					return err
				}
			}
			entries, err := j.Recent(cmd.Context(), dir, limit)
			if err != nil {
				return err
			}
			if out.structured() {
				return writeStructured(entries)
			}
			for _, e := range entries {
				_ = writePlain("%s  %-10s  scanned=%d tmp=%d expired=%d reclaimed=%d stale=%d freed=%d errors=%d\n",
					formatTime(e.StartedAt), e.Duration.Round(time.Microsecond), e.Scanned, e.TempRemoved,
					e.ExpiredRemoved, e.LeasesReclaimed, e.StaleLocksRemoved, e.BytesFreed, e.Errors)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "number of entries to show")
	cmd.Flags().BoolVar(&allDirs, "all-dirs", false, "include sweeps of other spool directories")
	cmd.Flags().DurationVar(&olderThan, "prune-older-than", 0, "delete entries older than this instead of listing")
	return cmd
}
