package spool

import (
	"errors"
	"io/fs"
	"os"
)

// renameIfAbsent renames oldpath to newpath unless newpath exists. The check
// and the rename are two steps; renameNoReplace uses it only where the
// platform has no atomic variant.
func renameIfAbsent(oldpath, newpath string) error {
	if _, err := os.Lstat(oldpath); err != nil {
		return &os.LinkError{Op: "rename", Old: oldpath, New: newpath, Err: err}
	}
	if _, err := os.Lstat(newpath); err == nil {
		return &os.LinkError{Op: "rename", Old: oldpath, New: newpath, Err: fs.ErrExist}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return os.Rename(oldpath, newpath)
}
