package domain

import (
	"errors"
	"fmt"

	"github.com/juji-io/dtlv-usearch-domain/kv"
)

// Sentinel errors, one per kind named in spec.md §7 "Error Handling
// Design". Every error this package returns satisfies errors.Is against
// exactly one of these, the way internal/store classifies its own errors
// (ErrWALCorrupt, ErrWALReplay, ...) against a small sentinel set.
var (
	// ErrArgument reports a caller-supplied argument that is null,
	// inconsistent, or out of range.
	ErrArgument = errors.New("domain: argument error")

	// ErrNotFound reports an optional record that is absent.
	ErrNotFound = errors.New("domain: not found")

	// ErrBusy reports an operation that conflicts with an in-flight
	// checkpoint.
	ErrBusy = errors.New("domain: busy")

	// ErrMapFull re-exports kv.ErrMapFull: the KV engine is out of space
	// and the caller must grow the map and retry.
	ErrMapFull = kv.ErrMapFull

	// ErrIO reports a filesystem or OS call failure.
	ErrIO = errors.New("domain: I/O error")

	// ErrCorrupt reports a CRC mismatch, bad version, truncated record,
	// ordinal gap, or token mismatch.
	ErrCorrupt = errors.New("domain: corruption")

	// ErrOutOfMemory reports an allocation failure from a collaborator
	// (typically the ANN index).
	ErrOutOfMemory = errors.New("domain: out of memory")

	// ErrClosed reports use of a domain, handle, or transaction context
	// after it has been deactivated or closed.
	ErrClosed = errors.New("domain: closed")
)

func argErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrArgument}, args...)...)
}

func notFoundErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrNotFound}, args...)...)
}

func corruptErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrCorrupt}, args...)...)
}

func ioErrorf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrIO}, args...)...)
}
