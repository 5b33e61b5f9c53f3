package main

import (
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"telspool/internal/config"
	"telspool/internal/spool"
)

func newSweepCmd(cfg *config.Config, out *outputOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run one maintenance sweep now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			j, err := openJournal(cfg)
			if err != nil {
				return err
			}
			if j != nil {
				defer j.Close()
			}

			opts := spoolOptions(cfg)
			opts.DisableMaintenance = true
			if j != nil {
				opts.OnSweep = journalRecorder(j, cfg.Dir)
			}
			st, err := spool.New(cfg.Dir, opts)
			if err != nil {
				return err
			}
			defer st.Close()

			res := st.Sweep(cmd.Context())
			if out.structured() {
				return writeStructured(res)
			}
			_ = writePlain("scanned: %d\n", res.Scanned)
			_ = writePlain("abandoned_writes_removed: %d\n", res.TempRemoved)
			_ = writePlain("expired_removed: %d\n", res.ExpiredRemoved)
			_ = writePlain("leases_reclaimed: %d\n", res.LeasesReclaimed)
			_ = writePlain("stale_locks_removed: %d\n", res.StaleLocksRemoved)
			_ = writePlain("bytes_freed: %s\n", humanize.IBytes(uint64(res.BytesFreed)))
			if res.Errors > 0 {
				_ = writePlain("errors: %d\n", res.Errors)
			}
			return nil
		},
	}
}

func newInfoCmd(cfg *config.Config, out *outputOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "info",
		Short: "Show spool directory usage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStorage(cfg, func(st *spool.Storage) error {
				stats := st.Stats()
				if out.structured() {
					return writeStructured(stats)
				}

				_ = writePlain("dir: %s\n", stats.Dir)
				_ = writePlain("used: %s of %s\n", humanize.IBytes(uint64(stats.UsedBytes)), humanize.IBytes(uint64(stats.MaxSizeBytes)))
				_ = writePlain("persisted: %d (%s)\n", stats.Persisted, humanize.IBytes(uint64(stats.PersistedBytes)))
				_ = writePlain("leased: %d (%s, %d expired)\n", stats.Leased, humanize.IBytes(uint64(stats.LeasedBytes)), stats.ExpiredLeases)
				_ = writePlain("temp: %d (%s)\n", stats.Temp, humanize.IBytes(uint64(stats.TempBytes)))
				if !stats.Oldest.IsZero() {
					_ = writePlain("oldest: %s (%s)\n", formatTime(stats.Oldest), humanize.Time(stats.Oldest))
				}
				return nil
			})
		},
	}
}
