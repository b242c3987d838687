package domain

import (
	"context"
	"fmt"

	"github.com/juji-io/dtlv-usearch-domain/annindex"
	"github.com/juji-io/dtlv-usearch-domain/internal/fsys"
	"github.com/juji-io/dtlv-usearch-domain/kv"
)

// Domain is C8: the root entity, one per (host KV environment, domain
// name, filesystem root) triple (spec.md §3 "Domain").
type Domain struct {
	name   string
	fsRoot string

	kvdb kv.RwDB
	fs   fsys.FS

	meta             metaStore
	deltaLog         deltaLog
	snapshotCatalog  snapshotCatalog

	indexFactory annindex.Factory

	pins *PinMap

	handles *Handle // head of the doubly-linked handle list

	closed bool
}

// Options configures [Open].
type Options struct {
	// Name is the domain name, used to derive sub-database names
	// (spec.md §6.3).
	Name string

	// FSRoot is the filesystem root owning the pending WAL directory and
	// reader-pin file (spec.md §6.2).
	FSRoot string

	// KV is the opened KV environment this domain's sub-databases live
	// in. The caller owns its lifetime beyond Close.
	KV kv.RwDB

	// FS is the filesystem abstraction backing the WAL writer and pin
	// map. Defaults to [fsys.Real] if nil.
	FS fsys.FS

	// IndexFactory constructs ANN indexes from init options. Required.
	IndexFactory annindex.Factory
}

// Open implements spec.md §4.8 Open.
func Open(ctx context.Context, opts Options) (*Domain, error) {
	if opts.Name == "" {
		return nil, argErrorf("Options.Name is required")
	}

	if opts.FSRoot == "" {
		return nil, argErrorf("Options.FSRoot is required")
	}

	if opts.KV == nil {
		return nil, argErrorf("Options.KV is required")
	}

	if opts.IndexFactory == nil {
		return nil, argErrorf("Options.IndexFactory is required")
	}

	fs := opts.FS
	if fs == nil {
		fs = fsys.Real{}
	}

	d := &Domain{
		name:            opts.Name,
		fsRoot:          opts.FSRoot,
		kvdb:            opts.KV,
		fs:              fs,
		meta:            newMetaStore(opts.Name),
		deltaLog:        newDeltaLog(opts.Name),
		snapshotCatalog: newSnapshotCatalog(opts.Name),
		indexFactory:    opts.IndexFactory,
	}

	// Step 1: sub-database names and filesystem paths are derived above
	// via newMetaStore/newDeltaLog/newSnapshotCatalog and
	// pendingDir/pinFilePath.

	// Step 2: open the pin file.
	pins, err := OpenPinMap(fs, pinFilePath(opts.FSRoot))
	if err != nil {
		return nil, fmt.Errorf("open domain %q: %w", opts.Name, err)
	}

	d.pins = pins

	// Step 3: ensure sub-databases and defaults.
	if err := d.ensureSchema(ctx); err != nil {
		d.pins.Close()

		return nil, fmt.Errorf("open domain %q: %w", opts.Name, err)
	}

	// Step 4: checkpoint recovery.
	if err := d.recoverCheckpoint(ctx); err != nil {
		d.pins.Close()

		return nil, fmt.Errorf("open domain %q: checkpoint recovery: %w", opts.Name, err)
	}

	// Step 5: WAL recovery.
	if err := d.recoverWALOnOpen(ctx); err != nil {
		d.pins.Close()

		return nil, fmt.Errorf("open domain %q: wal recovery: %w", opts.Name, err)
	}

	return d, nil
}

func (d *Domain) ensureSchema(ctx context.Context) error {
	for _, table := range []string{metaTable(d.name), deltaTable(d.name), snapshotTable(d.name)} {
		if err := d.kvdb.CreateTable(ctx, table); err != nil {
			return err
		}
	}

	return d.kvdb.Update(ctx, func(tx kv.RwTx) error {
		if _, err := ensureDefaultU64(tx, d.meta, d.meta.logSeq, d.meta.putLogSeq); err != nil {
			return err
		}

		if _, err := ensureDefaultU64(tx, d.meta, d.meta.snapshotSeq, d.meta.putSnapshotSeq); err != nil {
			return err
		}

		if _, err := ensureDefaultU64(tx, d.meta, d.meta.snapshotRetainedFloor, d.meta.putSnapshotRetainedFloor); err != nil {
			return err
		}

		if _, err := ensureDefaultU32(tx, d.meta.chunkBytes, d.meta.putChunkBytes); err != nil {
			return err
		}

		if _, err := ensureDefaultU32(tx, d.meta.checkpointChunkBatch, d.meta.putCheckpointChunkBatch); err != nil {
			return err
		}

		if _, err := ensureDefaultU32(tx, d.meta.snapshotRetentionCount, d.meta.putSnapshotRetentionCount); err != nil {
			return err
		}

		return d.meta.putSchemaVersion(tx, schemaVersion)
	})
}

// ensureDefaultU64/ensureDefaultU32 read a meta key (falling back to its
// default) and write the result back, so ensureSchema's repeated "apply
// defaults" pattern (spec.md §4.8 step 3) reads as one line per key.
func ensureDefaultU64(tx kv.RwTx, _ metaStore, get func(kv.Getter) (uint64, error), put func(kv.Putter, uint64) error) (uint64, error) {
	v, err := get(tx)
	if err != nil {
		return 0, err
	}

	if err := put(tx, v); err != nil {
		return 0, err
	}

	return v, nil
}

func ensureDefaultU32(tx kv.RwTx, get func(kv.Getter) (uint32, error), put func(kv.Putter, uint32) error) (uint32, error) {
	v, err := get(tx)
	if err != nil {
		return 0, err
	}

	if err := put(tx, v); err != nil {
		return 0, err
	}

	return v, nil
}

// viewPublishedLogTail reads published_log_tail in its own read-only
// transaction.
func (d *Domain) viewPublishedLogTail() (publishedLogTailRecord, bool, error) {
	var (
		rec   publishedLogTailRecord
		found bool
	)

	err := d.kvdb.View(context.Background(), func(tx kv.Tx) error {
		var err error

		rec, found, err = d.meta.publishedLogTail(tx)

		return err
	})

	return rec, found, err
}

// applyAndRecordPublish applies one replayed delta to every live handle
// then durably records published_log_tail in its own KV transaction, so
// replay is idempotent under crash (spec.md §4.10 step 3).
func (d *Domain) applyAndRecordPublish(tok token, ordinal uint32, e deltaEntry) error {
	for h := d.handles; h != nil; h = h.next {
		if err := applyDeltaToIndex(h.idx, e); err != nil {
			return err
		}
	}

	return d.kvdb.Update(context.Background(), func(tx kv.RwTx) error {
		return d.meta.putPublishedLogTail(tx, publishedLogTailRecord{tok: tok, ordinal: uint64(ordinal)})
	})
}

// recoverWALOnOpen implements spec.md §4.9.
func (d *Domain) recoverWALOnOpen(_ context.Context) error {
	var (
		sealed    sealedLogSeqRecord
		hasSealed bool
	)

	err := d.kvdb.View(context.Background(), func(tx kv.Tx) error {
		var err error

		sealed, hasSealed, err = d.meta.sealedLogSeq(tx)

		return err
	})
	if err != nil {
		return err
	}

	if !hasSealed {
		return nil
	}

	published, hasPublished, err := d.viewPublishedLogTail()
	if err != nil {
		return err
	}

	return recoverWAL(d.fs, d.fsRoot, sealed, published, hasPublished, func(ordinal uint32, _ uint64, e deltaEntry) error {
		return d.applyAndRecordPublish(sealed.tok, ordinal, e)
	})
}

// BeginTxn opens a fresh [Txn] bound to tx, the caller's host KV
// transaction (spec.md §3 "Transaction context").
func (d *Domain) BeginTxn(tx kv.RwTx) *Txn {
	return newTxn(d, tx)
}

func (d *Domain) linkHandle(h *Handle) {
	h.next = d.handles

	if d.handles != nil {
		d.handles.prev = h
	}

	d.handles = h
}

func (d *Domain) unlinkHandle(h *Handle) {
	if h.prev != nil {
		h.prev.next = h.next
	} else {
		d.handles = h.next
	}

	if h.next != nil {
		h.next.prev = h.prev
	}

	h.prev, h.next = nil, nil
}

// Close implements spec.md §4.8 Close: walk the handle list and deactivate
// each, then unmap and close the pin file. The KV environment is left open
// for its owner (see [Options.KV]).
func (d *Domain) Close() error {
	if d.closed {
		return nil
	}

	d.closed = true

	for h := d.handles; h != nil; {
		next := h.next
		h.Deactivate()
		h = next
	}

	return d.pins.Close()
}

// SetInitOptions writes the index construction parameters. Must be called
// once before the first Activate (spec.md §4.12 Activate: "fail not-found
// if absent").
func (d *Domain) SetInitOptions(ctx context.Context, opts annindex.InitOptions) error {
	if opts.Dimensions == 0 {
		return argErrorf("init options: dimensions must be nonzero")
	}

	return d.kvdb.Update(ctx, func(tx kv.RwTx) error {
		return d.meta.putInitOptions(tx, opts)
	})
}
