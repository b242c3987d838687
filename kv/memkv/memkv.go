// Package memkv is an in-memory implementation of the [kv] contract used by
// the domain package's own test suite. It lets WAL, checkpoint, and handle
// tests exercise the narrow KV contract — including MAP_FULL back-pressure —
// without a real mdbx environment.
//
// memkv is not a production store: it holds every table in memory and has no
// durability of its own. Tests that need the contract, not the durability
// (the KV engine's own durability is explicitly out of scope per spec.md
// §1), should use it instead of standing up mdbxkv.
package memkv

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/juji-io/dtlv-usearch-domain/kv"
)

// DB is an in-memory [kv.RwDB]. The zero value is not usable; use [New].
type DB struct {
	mu sync.Mutex

	tables map[string]map[string][]byte

	// writerHeld enforces "one writer at a time", mirroring the copy-on-write
	// B+tree discipline assumed by spec.md §5.
	writerHeld bool

	// mapFullAfter, when non-negative, makes the Nth-and-later Put/Delete
	// call across all open read-write transactions fail with
	// [kv.ErrMapFull]. Used to simulate checkpoint mid-stream exhaustion
	// (spec.md §8 scenario 4). -1 disables injection.
	mapFullAfter int
	writeCalls   int
}

// New returns an empty in-memory database.
func New() *DB {
	return &DB{
		tables:       make(map[string]map[string][]byte),
		mapFullAfter: -1,
	}
}

// SetMapFullAfter arms MAP_FULL injection: the nth write operation (1-based)
// across every transaction from this point on fails with [kv.ErrMapFull].
// Pass a negative n to disarm.
func (d *DB) SetMapFullAfter(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.mapFullAfter = n
	d.writeCalls = 0
}

// GrowMap disarms MAP_FULL injection, modeling the caller enlarging the
// backing map and retrying (spec.md §7 "Map-full error").
func (d *DB) GrowMap() {
	d.SetMapFullAfter(-1)
}

// CreateTable implements [kv.RwDB].
func (d *DB) CreateTable(_ context.Context, table string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.tables[table]; !ok {
		d.tables[table] = make(map[string][]byte)
	}

	return nil
}

// View implements [kv.RoDB].
func (d *DB) View(_ context.Context, f func(tx kv.Tx) error) error {
	tx := &roTx{db: d}

	err := f(tx)
	_ = tx.Rollback()

	return err
}

// Update implements [kv.RwDB].
func (d *DB) Update(ctx context.Context, f func(tx kv.RwTx) error) error {
	tx, err := d.BeginRw(ctx)
	if err != nil {
		return err
	}

	err = f(tx)
	if err != nil {
		_ = tx.Rollback()

		return err
	}

	return tx.Commit()
}

// BeginRw implements [kv.RwDB].
func (d *DB) BeginRw(_ context.Context) (kv.RwTx, error) {
	d.mu.Lock()

	if d.writerHeld {
		d.mu.Unlock()

		return nil, fmt.Errorf("memkv: a write transaction is already open")
	}

	d.writerHeld = true

	// Snapshot-isolate the writer's view: copy each table's key set so
	// concurrent readers (View) are unaffected until Commit.
	snap := make(map[string]map[string][]byte, len(d.tables))
	for name, tbl := range d.tables {
		cp := make(map[string][]byte, len(tbl))
		for k, v := range tbl {
			cp[k] = v
		}

		snap[name] = cp
	}

	d.mu.Unlock()

	return &rwTx{db: d, staged: snap}, nil
}

// Close implements [kv.RwDB]. memkv holds no OS resources.
func (d *DB) Close() error { return nil }

type roTx struct {
	db     *DB
	closed bool
}

func (t *roTx) Get(table string, key []byte) ([]byte, bool, error) {
	if t.closed {
		return nil, false, kv.ErrTxClosed
	}

	t.db.mu.Lock()
	defer t.db.mu.Unlock()

	tbl, ok := t.db.tables[table]
	if !ok {
		return nil, false, fmt.Errorf("%w: table %q", kv.ErrNotFound, table)
	}

	v, ok := tbl[string(key)]
	if !ok {
		return nil, false, nil
	}

	return append([]byte(nil), v...), true, nil
}

func (t *roTx) Cursor(table string) (kv.Cursor, error) {
	if t.closed {
		return nil, kv.ErrTxClosed
	}

	t.db.mu.Lock()
	defer t.db.mu.Unlock()

	tbl, ok := t.db.tables[table]
	if !ok {
		return nil, fmt.Errorf("%w: table %q", kv.ErrNotFound, table)
	}

	return newMemCursor(tbl), nil
}

func (t *roTx) Rollback() error {
	t.closed = true

	return nil
}

// rwTx stages mutations against a private copy of the database's tables and
// publishes them atomically on Commit, the way a copy-on-write B+tree
// transaction would.
type rwTx struct {
	db      *DB
	staged  map[string]map[string][]byte
	deleted map[string]map[string]bool
	closed  bool
}

func (t *rwTx) ensureDeletedSet(table string) map[string]bool {
	if t.deleted == nil {
		t.deleted = make(map[string]map[string]bool)
	}

	if t.deleted[table] == nil {
		t.deleted[table] = make(map[string]bool)
	}

	return t.deleted[table]
}

func (t *rwTx) Get(table string, key []byte) ([]byte, bool, error) {
	if t.closed {
		return nil, false, kv.ErrTxClosed
	}

	tbl, ok := t.staged[table]
	if !ok {
		return nil, false, fmt.Errorf("%w: table %q", kv.ErrNotFound, table)
	}

	v, ok := tbl[string(key)]
	if !ok {
		return nil, false, nil
	}

	return append([]byte(nil), v...), true, nil
}

func (t *rwTx) Cursor(table string) (kv.Cursor, error) {
	if t.closed {
		return nil, kv.ErrTxClosed
	}

	tbl, ok := t.staged[table]
	if !ok {
		return nil, fmt.Errorf("%w: table %q", kv.ErrNotFound, table)
	}

	return newMemCursor(tbl), nil
}

func (t *rwTx) countWrite() error {
	t.db.mu.Lock()
	defer t.db.mu.Unlock()

	if t.db.mapFullAfter >= 0 {
		t.db.writeCalls++
		if t.db.writeCalls >= t.db.mapFullAfter {
			return kv.ErrMapFull
		}
	}

	return nil
}

func (t *rwTx) Put(table string, key, value []byte) error {
	if t.closed {
		return kv.ErrTxClosed
	}

	if err := t.countWrite(); err != nil {
		return err
	}

	tbl, ok := t.staged[table]
	if !ok {
		tbl = make(map[string][]byte)
		t.staged[table] = tbl
	}

	tbl[string(key)] = append([]byte(nil), value...)
	delete(t.ensureDeletedSet(table), string(key))

	return nil
}

func (t *rwTx) Delete(table string, key []byte) error {
	if t.closed {
		return kv.ErrTxClosed
	}

	if err := t.countWrite(); err != nil {
		return err
	}

	if tbl, ok := t.staged[table]; ok {
		delete(tbl, string(key))
	}

	t.ensureDeletedSet(table)[string(key)] = true

	return nil
}

func (t *rwTx) DeleteRange(table string, start, end []byte) error {
	if t.closed {
		return kv.ErrTxClosed
	}

	if err := t.countWrite(); err != nil {
		return err
	}

	tbl, ok := t.staged[table]
	if !ok {
		return nil
	}

	for k := range tbl {
		kb := []byte(k)
		if bytes.Compare(kb, start) < 0 {
			continue
		}

		if end != nil && bytes.Compare(kb, end) >= 0 {
			continue
		}

		delete(tbl, k)
		t.ensureDeletedSet(table)[k] = true
	}

	return nil
}

func (t *rwTx) Commit() error {
	if t.closed {
		return kv.ErrTxClosed
	}

	t.db.mu.Lock()
	defer t.db.mu.Unlock()

	t.db.tables = t.staged
	t.db.writerHeld = false
	t.closed = true

	return nil
}

func (t *rwTx) Rollback() error {
	if t.closed {
		return nil
	}

	t.db.mu.Lock()
	t.db.writerHeld = false
	t.db.mu.Unlock()

	t.closed = true

	return nil
}

// memCursor walks a sorted snapshot of a table's keys taken at Cursor-open
// time, matching the isolation a real MVCC cursor would offer within one
// transaction.
type memCursor struct {
	keys []string
	vals map[string][]byte
	pos  int
}

func newMemCursor(tbl map[string][]byte) *memCursor {
	keys := make([]string, 0, len(tbl))
	vals := make(map[string][]byte, len(tbl))

	for k, v := range tbl {
		keys = append(keys, k)
		vals[k] = v
	}

	sort.Strings(keys)

	return &memCursor{keys: keys, vals: vals, pos: -1}
}

func (c *memCursor) Seek(seek []byte) ([]byte, []byte, error) {
	idx := sort.Search(len(c.keys), func(i int) bool {
		return c.keys[i] >= string(seek)
	})

	c.pos = idx

	return c.currentKV()
}

func (c *memCursor) Next() ([]byte, []byte, error) {
	if c.pos < 0 {
		c.pos = 0
	} else {
		c.pos++
	}

	return c.currentKV()
}

func (c *memCursor) currentKV() ([]byte, []byte, error) {
	if c.pos < 0 || c.pos >= len(c.keys) {
		return nil, nil, nil
	}

	k := c.keys[c.pos]

	return []byte(k), append([]byte(nil), c.vals[k]...), nil
}

func (c *memCursor) Close() {}

var _ kv.RwDB = (*DB)(nil)
