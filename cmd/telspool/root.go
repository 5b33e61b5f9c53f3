package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"telspool/internal/config"
)

// outputOptions holds the global output flags.
type outputOptions struct {
	json bool
	yaml bool
}

func (o *outputOptions) structured() bool {
	return o != nil && (o.json || o.yaml)
}

func newRootCmd(cfg *config.Config) *cobra.Command {
	out := &outputOptions{}
	var logLevel string

	cmd := &cobra.Command{
		Use:           "telspool",
		Short:         "Telspool is a crash-safe local disk spool for telemetry payloads",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if out.json && out.yaml {
				return fmt.Errorf("--json and --yaml are mutually exclusive")
			}
			useFormatter(out)
			warning, err := configureLoggerForCLI(logLevel, cfg.LogLevel)
			if err != nil {
				return err
			}
			if warning != "" {
				fmt.Fprintln(os.Stderr, warning)
			}
			return nil
		},
	}

	cmd.Version = version
	cmd.PersistentFlags().StringVar(&cfg.Dir, "dir", cfg.Dir, "spool directory")
	cmd.PersistentFlags().BoolVar(&out.json, "json", false, "output JSON")
	cmd.PersistentFlags().BoolVar(&out.yaml, "yaml", false, "output YAML")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")

	cmd.AddCommand(
		newPutCmd(cfg, out),
		newPeekCmd(cfg),
		newListCmd(cfg, out),
		newLeaseCmd(cfg, out),
		newReleaseCmd(cfg, out),
		newDeleteCmd(cfg),
		newSweepCmd(cfg, out),
		newInfoCmd(cfg, out),
		newDrainCmd(cfg, out),
		newMaintainCmd(cfg),
		newJournalCmd(cfg, out),
		newConfigCmd(cfg),
	)

	return cmd
}
