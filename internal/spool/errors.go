package spool

import "errors"

var (
	// ErrInvalidArgument reports a bad Storage configuration.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrQuotaExceeded is returned when a new blob would exceed the size limit.
	ErrQuotaExceeded = errors.New("spool quota exceeded")
	// ErrBlobNotFound is returned when the blob file was moved or removed by another actor.
	ErrBlobNotFound = errors.New("blob not found")
	// ErrNotLeased is returned when releasing a blob that is not held under a lease.
	ErrNotLeased = errors.New("blob is not leased")
	// ErrClosed is returned by operations on a closed Storage.
	ErrClosed = errors.New("storage is closed")
)
