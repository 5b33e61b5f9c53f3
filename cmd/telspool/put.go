package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"telspool/internal/config"
	"telspool/internal/spool"
)

func newPutCmd(cfg *config.Config, out *outputOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "put [file]",
		Short: "Store a payload read from a file or stdin",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readPayload(cmd.InOrStdin(), args)
			if err != nil {
				return err
			}
			return withStorage(cfg, func(st *spool.Storage) error {
				blob, err := st.CreateBlob(data)
				if err != nil {
					return err
				}
				if out.structured() {
					return writeStructured(viewBlob(blob))
				}
				return writePlain("%s\n", blob.Name())
			})
		},
	}
}

func readPayload(stdin io.Reader, args []string) ([]byte, error) {
	if len(args) == 0 || args[0] == "-" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("read stdin: %w", err)
		}
		return data, nil
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		return nil, fmt.Errorf("read payload: %w", err)
	}
	return data, nil
}
