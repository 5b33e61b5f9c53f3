package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/spf13/cobra"

	"telspool/internal/config"
	"telspool/internal/spool"
)

const (
	drainInitialWait  = 50 * time.Millisecond
	drainLeaseRetries = 3
)

type drainOptions struct {
	leasePeriod time.Duration
	maxWait     time.Duration
	limit       int
	once        bool
	follow      bool
}

// deliverFunc hands one payload to its destination.
type deliverFunc func(name string, data []byte) error

type drainResult struct {
	Delivered int `json:"delivered" yaml:"delivered"`
}

func newDrainCmd(cfg *config.Config, out *outputOptions) *cobra.Command {
	var (
		opts   drainOptions
		outDir string
	)

	cmd := &cobra.Command{
		Use:   "drain",
		Short: "Consume blobs oldest first: lease, deliver, delete",
		Long: "Consume blobs oldest first. Each blob is leased, written to --out (one file per blob) or stdout, " +
			"then deleted. A failed delivery releases the lease. When idle, drain waits with exponential backoff; " +
			"--follow wakes it as soon as a new blob is persisted.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			deliver := deliverStdout
			if outDir != "" {
				if err := os.MkdirAll(outDir, 0o755); err != nil {
					return err
				}
				deliver = deliverToDir(outDir)
			}

			return withStorage(cfg, func(st *spool.Storage) error {
				n, err := drain(ctx, st, deliver, opts)
				if err != nil {
					return err
				}
				if out.structured() {
					return writeStructured(drainResult{Delivered: n})
				}
				if outDir != "" {
					return writePlain("delivered %d blobs\n", n)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&outDir, "out", "", "write each payload to a file in this directory instead of stdout")
	cmd.Flags().DurationVar(&opts.leasePeriod, "lease-period", 0, "lease period while delivering (default from lease_period config)")
	cmd.Flags().DurationVar(&opts.maxWait, "max-wait", 5*time.Second, "longest idle wait between polls")
	cmd.Flags().IntVar(&opts.limit, "limit", 0, "stop after this many blobs (0 is unlimited)")
	cmd.Flags().BoolVar(&opts.once, "once", false, "stop when the spool is empty")
	cmd.Flags().BoolVar(&opts.follow, "follow", false, "watch the directory for new blobs")
	return cmd
}

// drain delivers blobs until ctx is done, the limit is reached, or the spool
// is empty with opts.once set. It returns the number of delivered blobs.
func drain(ctx context.Context, st *spool.Storage, deliver deliverFunc, opts drainOptions) (int, error) {
	logger := slog.Default().With("component", "drain")

	var wake <-chan struct{}
	if opts.follow {
		ch, err := st.Watch(ctx)
		if err != nil {
			logger.Warn("directory watch unavailable, polling", "err", err)
		} else {
			wake = ch
		}
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = drainInitialWait
	if opts.maxWait > 0 {
		b.MaxInterval = opts.maxWait
	}
	b.MaxElapsedTime = 0
	b.Reset()

	delivered := 0
	for ctx.Err() == nil {
		outcome, err := drainOne(st, deliver, opts.leasePeriod)
		if err != nil {
			return delivered, err
		}
		switch outcome {
		case drainDelivered:
			delivered++
			b.Reset()
			if opts.limit > 0 && delivered >= opts.limit {
				return delivered, nil
			}
			continue
		case drainContended:
			// Other consumers keep winning; blobs remain, so --once keeps going.
		case drainEmpty:
			if opts.once {
				return delivered, nil
			}
		}

		next := b.NextBackOff()
		logger.Debug("spool idle", "next", next)
		timer := time.NewTimer(next)
		select {
		case <-ctx.Done():
		case <-timer.C:
		case _, open := <-wake:
			if !open {
				wake = nil
			}
			b.Reset()
		}
		timer.Stop()
	}
	return delivered, nil
}

type drainOutcome int

const (
	drainEmpty drainOutcome = iota
	drainDelivered
	drainContended
)

// drainOne moves the oldest retrievable blob through lease, deliver and
// delete. It reports drainEmpty only when GetBlob found nothing, and
// drainContended when every attempt lost its lease race.
func drainOne(st *spool.Storage, deliver deliverFunc, period time.Duration) (drainOutcome, error) {
	for range drainLeaseRetries {
		blob := st.GetBlob()
		if blob == nil {
			return drainEmpty, nil
		}
		leased, err := blob.TryLease(period)
		if errors.Is(err, spool.ErrBlobNotFound) {
			continue
		}
		if err != nil {
			return drainEmpty, err
		}

		data, err := leased.TryRead()
		if errors.Is(err, spool.ErrBlobNotFound) {
			continue
		}
		if err != nil {
			return drainEmpty, err
		}

		if err := deliver(leased.Name(), data); err != nil {
			if _, relErr := leased.Release(); relErr != nil {
				slog.Default().Warn("release after failed delivery", "blob", leased.Name(), "err", relErr)
			}
			return drainEmpty, fmt.Errorf("deliver %s: %w", leased.Name(), err)
		}
		if err := leased.Delete(); err != nil {
			return drainEmpty, err
		}
		return drainDelivered, nil
	}
	return drainContended, nil
}

func deliverStdout(_ string, data []byte) error {
	_, err := stdout.Write(data)
	return err
}

func deliverToDir(dir string) deliverFunc {
	return func(name string, data []byte) error {
		path := filepath.Join(dir, name+".bin")
		tmp := path + ".part"
		if err := os.WriteFile(tmp, data, 0o644); err != nil {
			return err
		}
		return os.Rename(tmp, path)
	}
}
