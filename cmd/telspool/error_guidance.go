package main

import (
	"errors"
	"io/fs"

	"telspool/internal/spool"
)

func formatCLIError(err error) []string {
	if err == nil {
		return nil
	}

	lines := []string{err.Error()}

	switch {
	case errors.Is(err, spool.ErrQuotaExceeded):
		lines = append(lines,
			"hint: raise the quota with: telspool config set max_size_bytes <bytes>",
			"hint: free space with: telspool sweep, or consume blobs with: telspool drain",
		)
	case errors.Is(err, spool.ErrInvalidArgument):
		lines = append(lines, "hint: check dir, max_size_bytes and maintenance settings with: telspool config get")
	case errors.Is(err, spool.ErrBlobNotFound):
		lines = append(lines, "hint: another consumer leased or removed the blob; list current blobs with: telspool list")
	case errors.Is(err, spool.ErrNotLeased):
		lines = append(lines, "hint: release needs the lease token printed by: telspool lease")
	case errors.Is(err, errSpoolEmpty):
		lines = append(lines, "hint: leased blobs become retrievable again once their lease expires.")
	case errors.Is(err, errNoJournal):
		lines = append(lines, "hint: enable the journal with: telspool config set journal_path <file>")
	case errors.Is(err, fs.ErrPermission):
		lines = append(lines, "hint: verify the spool directory is writable by the current user.")
	}

	return uniqueLines(lines)
}

func uniqueLines(lines []string) []string {
	seen := make(map[string]struct{}, len(lines))
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		if line == "" {
			continue
		}
		if _, ok := seen[line]; ok {
			continue
		}
		seen[line] = struct{}{}
		out = append(out, line)
	}
	return out
}
