package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"telspool/internal/config"
	"telspool/internal/server"
	"telspool/internal/spool"
)

func newMaintainCmd(cfg *config.Config) *cobra.Command {
	var metricsAddr string

	cmd := &cobra.Command{
		Use:   "maintain",
		Short: "Run periodic maintenance until interrupted",
		Long: "Run periodic maintenance until interrupted. Abandoned writes and expired blobs are removed " +
			"and expired leases are returned to the spool. With --metrics-addr, Prometheus metrics are served on /metrics.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runMaintain(ctx, cfg, metricsAddr)
		},
	}

	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", cfg.MetricsAddr, "serve metrics on this address (empty disables)")
	return cmd
}

func runMaintain(ctx context.Context, cfg *config.Config, metricsAddr string) error {
	logger := slog.Default().With("component", "maintain")

	j, err := openJournal(cfg)
	if err != nil {
		return err
	}
	if j != nil {
		defer j.Close()
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	opts := spoolOptions(cfg)
	opts.Registerer = reg
	if j != nil {
		opts.OnSweep = journalRecorder(j, cfg.Dir)
	}
	st, err := spool.New(cfg.Dir, opts)
	if err != nil {
		return err
	}
	defer st.Close()

	errc := make(chan error, 1)
	if metricsAddr != "" {
		addr, err := server.ListenAddr(metricsAddr)
		if err != nil {
			return err
		}
		srv := server.New(addr, st, reg, slog.Default())
		go func() { errc <- srv.Serve(ctx) }()
	}

	logger.Info("maintaining spool",
		"dir", st.Dir(),
		"period", cfg.Maintenance.Period.String(),
		"retention", cfg.Maintenance.Retention.String(),
	)
	st.Sweep(ctx)

	var serveErr error
	served := metricsAddr == ""
	select {
	case <-ctx.Done():
	case serveErr = <-errc:
		served = true
	}
	logger.Info("stopping")
	if !served {
		serveErr = <-errc
	}
	return serveErr
}
