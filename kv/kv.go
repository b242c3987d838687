// Package kv defines the narrow key/value contract that the vector-index
// persistence domain is built against.
//
// The domain never talks to a specific embedded store directly. It talks to
// this package's interfaces, which describe exactly the subset of an
// embedded, memory-mapped, copy-on-write B+tree store (transactions, typed
// named sub-databases, point get/put/delete, forward cursors, MAP_FULL
// signaling) that the persistence design in spec.md depends on.
//
// [github.com/juji-io/dtlv-usearch-domain/kv/mdbxkv] adapts
// github.com/erigontech/mdbx-go to this contract for production use.
// [github.com/juji-io/dtlv-usearch-domain/kv/memkv] adapts an in-memory map
// to the same contract for tests.
package kv

import (
	"context"
	"errors"
)

// ErrMapFull reports that the backing store's memory map is exhausted.
// Callers must grow the map out-of-band and retry the failed transaction.
// See spec.md §7 "Map-full error".
var ErrMapFull = errors.New("kv: map full")

// ErrNotFound reports that a requested sub-database or table does not exist.
var ErrNotFound = errors.New("kv: not found")

// ErrTxClosed reports use of a transaction handle after Commit or Rollback.
var ErrTxClosed = errors.New("kv: transaction closed")

// Getter is the read-only subset of operations available inside any
// transaction, read-write or read-only.
type Getter interface {
	// Get returns the value stored at key in table, or (nil, false, nil) if
	// absent.
	Get(table string, key []byte) (value []byte, found bool, err error)

	// Cursor opens a forward cursor over table positioned before the first
	// key. The cursor is valid only for the lifetime of the transaction that
	// created it.
	Cursor(table string) (Cursor, error)
}

// Putter is the mutating subset of operations available inside a read-write
// transaction.
type Putter interface {
	// Put writes value at key in table, overwriting any existing value.
	Put(table string, key, value []byte) error

	// Delete removes key from table. Deleting an absent key is not an error.
	Delete(table string, key []byte) error

	// DeleteRange removes every key in table within [start, end). A nil end
	// means "to the end of the table". Used by the delta log's Prune and the
	// snapshot catalog's Delete-from / Delete-before.
	DeleteRange(table string, start, end []byte) error
}

// Tx is a read-only transaction.
type Tx interface {
	Getter

	// Rollback ends the transaction without applying any changes. Rollback
	// on an already-closed transaction is a no-op.
	Rollback() error
}

// RwTx is a read-write transaction. At most one RwTx may be open at a time
// per [RwDB] — the standard "one writer, many readers" discipline of a
// copy-on-write B+tree store (spec.md §5).
type RwTx interface {
	Getter
	Putter

	// Commit durably applies every change made through this transaction.
	// On failure the transaction is left rolled back; the caller must not
	// reuse it.
	Commit() error

	// Rollback discards every change made through this transaction.
	Rollback() error
}

// Cursor iterates a table's keys in ascending lexicographic byte order —
// the ordering guarantee spec.md §4.4 relies on for big-endian-packed numeric
// keys.
type Cursor interface {
	// Seek positions the cursor at the first key >= seek, or past the end if
	// none exists.
	Seek(seek []byte) (key, value []byte, err error)

	// Next advances the cursor and returns the key/value it lands on, or
	// (nil, nil, nil) once the table is exhausted.
	Next() (key, value []byte, err error)

	// Close releases cursor resources. Safe to call multiple times.
	Close()
}

// RoDB is a read-only handle to an opened environment.
type RoDB interface {
	// View runs f inside a new read-only transaction, rolling it back when f
	// returns (readers never need to Commit).
	View(ctx context.Context, f func(tx Tx) error) error
}

// RwDB is a read-write handle to an opened environment, exposing both the
// transaction-per-call convenience API and explicit Begin for callers (like
// the domain's transaction context, C9) that must hold one RwTx open across
// several staged operations before committing.
type RwDB interface {
	RoDB

	// Update runs f inside a new read-write transaction, committing on a nil
	// return and rolling back otherwise.
	Update(ctx context.Context, f func(tx RwTx) error) error

	// BeginRw opens a read-write transaction explicitly. The caller owns
	// Commit/Rollback. Used by C9 (transaction context), which must append
	// to the delta log over several Stage calls before the host commits.
	BeginRw(ctx context.Context) (RwTx, error)

	// CreateTable ensures a named sub-database exists, creating it if
	// necessary. Idempotent.
	CreateTable(ctx context.Context, table string) error

	// Close releases the environment's resources (unmaps the data file,
	// closes file descriptors).
	Close() error
}
