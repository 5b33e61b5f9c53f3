package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"telspool/internal/config"
	"telspool/internal/spool"
)

var errSpoolEmpty = errors.New("no retrievable blobs")

func newListCmd(cfg *config.Config, out *outputOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List retrievable blobs, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStorage(cfg, func(st *spool.Storage) error {
				blobs := st.GetBlobs()
				if out.structured() {
					views := make([]blobView, 0, len(blobs))
					for _, b := range blobs {
						views = append(views, viewBlob(b))
					}
					return writeStructured(views)
				}
				for _, b := range blobs {
					_ = writePlain("%s\n", formatBlobLine(b))
				}
				return nil
			})
		},
	}
}

func newPeekCmd(cfg *config.Config) *cobra.Command {
	return &cobra.Command{
		Use:   "peek [name]",
		Short: "Write a blob's payload to stdout without leasing it",
		Long:  "Write a blob's payload to stdout without leasing it. Without a name the oldest retrievable blob is used.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStorage(cfg, func(st *spool.Storage) error {
				blob, err := resolveBlob(st, args)
				if err != nil {
					return err
				}
				data, err := blob.TryRead()
				if err != nil {
					return err
				}
				_, err = stdout.Write(data)
				return err
			})
		},
	}
}

// resolveBlob looks up the named blob, or picks the oldest retrievable one
// when no name is given.
func resolveBlob(st *spool.Storage, args []string) (*spool.Blob, error) {
	if len(args) == 0 {
		blob := st.GetBlob()
		if blob == nil {
			return nil, errSpoolEmpty
		}
		return blob, nil
	}
	blob := lookupOrResume(st, args[0])
	if blob == nil {
		return nil, fmt.Errorf("blob %s: %w", args[0], spool.ErrBlobNotFound)
	}
	return blob, nil
}

// lookupOrResume accepts a blob name or a lease token. A token yields a held
// handle; a name yields a handle that cannot touch a live lease.
func lookupOrResume(st *spool.Storage, arg string) *spool.Blob {
	if blob := st.Resume(arg); blob != nil {
		return blob
	}
	return st.Lookup(arg)
}
