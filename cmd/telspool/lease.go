package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"telspool/internal/config"
	"telspool/internal/spool"
)

func newLeaseCmd(cfg *config.Config, out *outputOptions) *cobra.Command {
	var period time.Duration

	cmd := &cobra.Command{
		Use:   "lease [name|token]",
		Short: "Lease a blob for exclusive processing",
		Long: "Lease a blob for exclusive processing. Without an argument the oldest retrievable blob is leased. " +
			"The printed lease token proves ownership: pass it to lease to renew, or to release and delete.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStorage(cfg, func(st *spool.Storage) error {
				blob, err := resolveBlob(st, args)
				if err != nil {
					return err
				}
				leased, err := blob.TryLease(period)
				if err != nil {
					return err
				}
				if out.structured() {
					return writeStructured(viewBlob(leased))
				}
				return writePlain("%s leased until %s\n", leased.LeaseToken(), formatTime(leased.LeaseExpiry()))
			})
		},
	}

	cmd.Flags().DurationVar(&period, "period", 0, "lease period (default from lease_period config)")
	return cmd
}

func newReleaseCmd(cfg *config.Config, out *outputOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "release <token>",
		Short: "Return a leased blob to the spool",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStorage(cfg, func(st *spool.Storage) error {
				blob := st.Resume(args[0])
				if blob == nil {
					return fmt.Errorf("lease %s: %w", args[0], spool.ErrNotLeased)
				}
				released, err := blob.Release()
				if err != nil {
					return err
				}
				if out.structured() {
					return writeStructured(viewBlob(released))
				}
				return writePlain("%s released\n", released.Name())
			})
		},
	}
}

func newDeleteCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <name|token>...",
		Short: "Delete blobs by name, or leased blobs by lease token",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStorage(cfg, func(st *spool.Storage) error {
				for _, name := range args {
					blob := lookupOrResume(st, name)
					if blob == nil {
						continue
					}
					if err := blob.Delete(); err != nil {
						return fmt.Errorf("delete %s: %w", name, err)
					}
				}
				return nil
			})
		},
	}
}
