// Package mdbxkv adapts github.com/erigontech/mdbx-go to the [kv] contract.
// It is the production backing for the vector-index persistence domain: an
// embedded, memory-mapped, copy-on-write B+tree store, opened once per
// domain and shared by every transaction context (spec.md §1, §5).
package mdbxkv

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/erigontech/mdbx-go/mdbx"

	"github.com/juji-io/dtlv-usearch-domain/kv"
)

// Options configures [Open].
type Options struct {
	// Path is the directory mdbx stores its data and lock files under. It
	// is created if absent.
	Path string

	// MaxTables bounds the number of named sub-databases the environment
	// can hold. Must cover every table name the domain registers via
	// CreateTable (meta, delta log, snapshot catalog).
	MaxTables uint64

	// MapSize is the initial memory map size in bytes. Growing it later
	// (after an [kv.ErrMapFull]) requires closing and reopening the
	// environment with a larger value, the standard mdbx back-pressure
	// protocol (spec.md §7 "Map-full error").
	MapSize uint64

	// ReadOnly opens the environment without taking the writer slot,
	// for pure-reader processes.
	ReadOnly bool
}

// DB adapts an mdbx environment to [kv.RwDB].
type DB struct {
	env *mdbx.Env

	mu     sync.Mutex
	tables map[string]mdbx.DBI
}

// Open creates or opens an mdbx environment at opts.Path.
func Open(opts Options) (*DB, error) {
	if opts.Path == "" {
		return nil, fmt.Errorf("mdbxkv: Path is required")
	}

	if err := os.MkdirAll(opts.Path, 0o755); err != nil {
		return nil, fmt.Errorf("mdbxkv: create data dir: %w", err)
	}

	env, err := mdbx.NewEnv()
	if err != nil {
		return nil, fmt.Errorf("mdbxkv: new env: %w", err)
	}

	maxTables := opts.MaxTables
	if maxTables == 0 {
		maxTables = 16
	}

	if err := env.SetMaxDBs(int(maxTables)); err != nil {
		return nil, fmt.Errorf("mdbxkv: set max dbs: %w", err)
	}

	if opts.MapSize != 0 {
		if err := env.SetGeometry(-1, -1, int(opts.MapSize), -1, -1, -1); err != nil {
			return nil, fmt.Errorf("mdbxkv: set geometry: %w", err)
		}
	}

	var flags uint // opts.Path is a directory holding the data and lock files
	if opts.ReadOnly {
		flags |= mdbx.Readonly
	}

	if err := env.Open(opts.Path, flags, 0o644); err != nil {
		return nil, fmt.Errorf("mdbxkv: open env at %s: %w", opts.Path, err)
	}

	return &DB{env: env, tables: make(map[string]mdbx.DBI)}, nil
}

// CreateTable implements [kv.RwDB].
func (d *DB) CreateTable(_ context.Context, table string) error {
	return d.env.Update(func(txn *mdbx.Txn) error {
		dbi, err := txn.OpenDBI(table, mdbx.Create, nil, nil)
		if err != nil {
			return fmt.Errorf("mdbxkv: open dbi %q: %w", table, err)
		}

		d.mu.Lock()
		d.tables[table] = dbi
		d.mu.Unlock()

		return nil
	})
}

func (d *DB) dbiFor(table string) (mdbx.DBI, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	dbi, ok := d.tables[table]

	return dbi, ok
}

// View implements [kv.RoDB].
func (d *DB) View(_ context.Context, f func(tx kv.Tx) error) error {
	return d.env.View(func(txn *mdbx.Txn) error {
		return f(&mdbxTx{db: d, txn: txn})
	})
}

// Update implements [kv.RwDB].
func (d *DB) Update(_ context.Context, f func(tx kv.RwTx) error) error {
	return d.env.Update(func(txn *mdbx.Txn) error {
		return f(&mdbxRwTx{mdbxTx: mdbxTx{db: d, txn: txn}})
	})
}

// BeginRw implements [kv.RwDB].
func (d *DB) BeginRw(_ context.Context) (kv.RwTx, error) {
	txn, err := d.env.BeginTxn(nil, 0)
	if err != nil {
		return nil, translateErr(err)
	}

	return &mdbxRwTx{mdbxTx: mdbxTx{db: d, txn: txn}}, nil
}

// Close implements [kv.RwDB].
func (d *DB) Close() error {
	d.env.Close()

	return nil
}

// translateErr maps mdbx error codes to the [kv] sentinel set. mdbx signals
// a full memory map with MDBX_MAP_FULL / -30792.
func translateErr(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, mdbx.ErrMapFull) {
		return fmt.Errorf("%w: %w", kv.ErrMapFull, err)
	}

	if errors.Is(err, mdbx.ErrNotFound) {
		return fmt.Errorf("%w: %w", kv.ErrNotFound, err)
	}

	return err
}

type mdbxTx struct {
	db  *DB
	txn *mdbx.Txn
}

func (t *mdbxTx) Get(table string, key []byte) ([]byte, bool, error) {
	dbi, ok := t.db.dbiFor(table)
	if !ok {
		return nil, false, fmt.Errorf("%w: table %q", kv.ErrNotFound, table)
	}

	v, err := t.txn.Get(dbi, key)
	if err != nil {
		if mdbx.IsNotFound(err) {
			return nil, false, nil
		}

		return nil, false, translateErr(err)
	}

	return append([]byte(nil), v...), true, nil
}

func (t *mdbxTx) Cursor(table string) (kv.Cursor, error) {
	dbi, ok := t.db.dbiFor(table)
	if !ok {
		return nil, fmt.Errorf("%w: table %q", kv.ErrNotFound, table)
	}

	c, err := t.txn.OpenCursor(dbi)
	if err != nil {
		return nil, translateErr(err)
	}

	return &mdbxCursor{c: c}, nil
}

func (t *mdbxTx) Rollback() error {
	t.txn.Abort()

	return nil
}

type mdbxRwTx struct {
	mdbxTx
}

func (t *mdbxRwTx) Put(table string, key, value []byte) error {
	dbi, ok := t.db.dbiFor(table)
	if !ok {
		return fmt.Errorf("%w: table %q", kv.ErrNotFound, table)
	}

	if err := t.txn.Put(dbi, key, value, 0); err != nil {
		return translateErr(err)
	}

	return nil
}

func (t *mdbxRwTx) Delete(table string, key []byte) error {
	dbi, ok := t.db.dbiFor(table)
	if !ok {
		return fmt.Errorf("%w: table %q", kv.ErrNotFound, table)
	}

	if err := t.txn.Del(dbi, key, nil); err != nil {
		if mdbx.IsNotFound(err) {
			return nil
		}

		return translateErr(err)
	}

	return nil
}

func (t *mdbxRwTx) DeleteRange(table string, start, end []byte) error {
	dbi, ok := t.db.dbiFor(table)
	if !ok {
		return fmt.Errorf("%w: table %q", kv.ErrNotFound, table)
	}

	c, err := t.txn.OpenCursor(dbi)
	if err != nil {
		return translateErr(err)
	}
	defer c.Close()

	k, _, err := c.Get(start, nil, mdbx.SetRange)

	for err == nil {
		if end != nil && bytesGTE(k, end) {
			break
		}

		if err := c.Del(0); err != nil {
			return translateErr(err)
		}

		k, _, err = c.Get(nil, nil, mdbx.Next)
	}

	if err != nil && !mdbx.IsNotFound(err) {
		return translateErr(err)
	}

	return nil
}

func (t *mdbxRwTx) Commit() error {
	_, err := t.txn.Commit()

	return translateErr(err)
}

func bytesGTE(a, b []byte) bool {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			return a[i] > b[i]
		}
	}

	return len(a) >= len(b)
}

type mdbxCursor struct {
	c *mdbx.Cursor
}

func (c *mdbxCursor) Seek(seek []byte) ([]byte, []byte, error) {
	k, v, err := c.c.Get(seek, nil, mdbx.SetRange)
	if err != nil {
		if mdbx.IsNotFound(err) {
			return nil, nil, nil
		}

		return nil, nil, translateErr(err)
	}

	return k, v, nil
}

func (c *mdbxCursor) Next() ([]byte, []byte, error) {
	k, v, err := c.c.Get(nil, nil, mdbx.Next)
	if err != nil {
		if mdbx.IsNotFound(err) {
			return nil, nil, nil
		}

		return nil, nil, translateErr(err)
	}

	return k, v, nil
}

func (c *mdbxCursor) Close() {
	c.c.Close()
}

var (
	_ kv.RwDB = (*DB)(nil)
	_ kv.Tx   = (*mdbxTx)(nil)
	_ kv.RwTx = (*mdbxRwTx)(nil)
)
