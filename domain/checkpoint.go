package domain

import (
	"bytes"
	"context"
	"errors"

	"github.com/juji-io/dtlv-usearch-domain/annindex"
	"github.com/juji-io/dtlv-usearch-domain/kv"
)

// Checkpoint implements spec.md §4.7, the protocol that durably replaces
// the on-disk snapshot for a snapshot_seq with the serialization of a live
// index, then prunes delta history and trims old snapshots.
//
// WriteSnapshot runs steps 1-6 ("Write-snapshot protocol"); Finalize runs
// the remaining steps ("Finalize protocol"). They are split because the
// caller picks pruneLogSeq only after the full byte stream has been
// written (it is typically the handle's own current log_seq).
type Checkpoint struct {
	dom *Domain
}

// NewCheckpoint binds a checkpoint session to dom.
func NewCheckpoint(dom *Domain) *Checkpoint { return &Checkpoint{dom: dom} }

// WriteSnapshot serializes idx and writes it into the snapshot catalog as
// chunked records, advancing the checkpoint_pending record after each
// sub-transaction batch (spec.md §4.7 "Write-snapshot protocol", step 2
// "Serialize the index into a contiguous byte buffer").
func (c *Checkpoint) WriteSnapshot(ctx context.Context, idx annindex.Index, snapshotSeq uint64) error {
	var buf bytes.Buffer

	if err := idx.Serialize(&buf); err != nil {
		return err
	}

	return c.writeSnapshotBytes(ctx, buf.Bytes(), snapshotSeq)
}

func (c *Checkpoint) writeSnapshotBytes(ctx context.Context, serialized []byte, snapshotSeq uint64) error {
	d := c.dom

	var compress bool

	if err := d.kvdb.View(ctx, func(tx kv.Tx) error {
		var err error
		compress, err = d.meta.chunkCompression(tx)

		return err
	}); err != nil {
		return err
	}

	if compress {
		compressed, err := compressSnapshot(serialized)
		if err != nil {
			return err
		}

		serialized = compressed
	}

	// 1. Pre-check: fail busy if pending present and not NONE.
	var existing checkpointPendingRecord

	var hasExisting bool

	err := d.kvdb.View(ctx, func(tx kv.Tx) error {
		var err error
		existing, hasExisting, err = d.meta.checkpointPending(tx)

		return err
	})
	if err != nil {
		return err
	}

	if hasExisting && existing.stage != stageNone {
		return ErrBusy
	}

	writerTok := newToken()

	// 3. pending = {INIT, chunk_cursor=0, snapshot_seq, writer_uuid}; commit.
	if err := d.kvdb.Update(ctx, func(tx kv.RwTx) error {
		return d.meta.putCheckpointPending(tx, checkpointPendingRecord{
			version: 1, stage: stageInit, chunkCursor: 0, snapshotSeq: snapshotSeq, writer: writerTok,
		})
	}); err != nil {
		return err
	}

	chunkBytes, chunkBatch, err := c.readKnobs(ctx)
	if err != nil {
		return err
	}

	writer := newChunkWriter(serialized, int(chunkBytes))
	totalWritten := uint32(0)

	// 4. while bytes remain: write up to chunkBatch chunks per sub-tx.
	for writer.remainingChunks() > 0 {
		n := 0

		updErr := d.kvdb.Update(ctx, func(tx kv.RwTx) error {
			for i := uint32(0); i < chunkBatch; i++ {
				chunk, ok := writer.next()
				if !ok {
					break
				}

				if err := d.snapshotCatalog.storeChunk(tx, snapshotSeq, totalWritten+uint32(n), chunk); err != nil {
					return err
				}

				n++
			}

			return d.meta.putCheckpointPending(tx, checkpointPendingRecord{
				version: 1, stage: stageWriting, chunkCursor: totalWritten + uint32(n),
				snapshotSeq: snapshotSeq, writer: writerTok,
			})
		})
		if updErr != nil {
			if errors.Is(updErr, ErrMapFull) {
				// 5. MAP_FULL mid-stream: leave pending in place for
				// recovery/retry; do not delete it.
				return updErr
			}

			// 6. Any other error: opportunistically delete pending
			// (best-effort).
			_ = d.kvdb.Update(ctx, func(tx kv.RwTx) error {
				return d.meta.deleteCheckpointPending(tx)
			})

			return updErr
		}

		totalWritten += uint32(n)
	}

	return nil
}

func (c *Checkpoint) readKnobs(ctx context.Context) (chunkBytes, chunkBatch uint32, err error) {
	err = c.dom.kvdb.View(ctx, func(tx kv.Tx) error {
		var e error

		chunkBytes, e = c.dom.meta.chunkBytes(tx)
		if e != nil {
			return e
		}

		chunkBatch, e = c.dom.meta.checkpointChunkBatch(tx)

		return e
	})

	return chunkBytes, chunkBatch, err
}

// Finalize implements spec.md §4.7 "Finalize protocol". pruneLogSeq must be
// >= snapshotSeq.
func (c *Checkpoint) Finalize(ctx context.Context, snapshotSeq, pruneLogSeq uint64) error {
	if pruneLogSeq < snapshotSeq {
		return argErrorf("finalize: prune_log_seq (%d) must be >= snapshot_seq (%d)", pruneLogSeq, snapshotSeq)
	}

	d := c.dom

	return d.kvdb.Update(ctx, func(tx kv.RwTx) error {
		pending, found, err := d.meta.checkpointPending(tx)
		if err != nil {
			return err
		}

		if !found || pending.snapshotSeq != snapshotSeq || pending.stage < stageWriting {
			return argErrorf("finalize: no matching pending checkpoint for snapshot_seq %d", snapshotSeq)
		}

		pending.stage = stageFinalizing
		if err := d.meta.putCheckpointPending(tx, pending); err != nil {
			return err
		}

		if err := d.meta.putSnapshotSeq(tx, snapshotSeq); err != nil {
			return err
		}

		if err := d.meta.putLogSeq(tx, snapshotSeq); err != nil {
			return err
		}

		if err := d.deltaLog.prune(tx, pruneLogSeq); err != nil {
			return err
		}

		if err := d.meta.putLogTailSeq(tx, pruneLogSeq); err != nil {
			return err
		}

		retentionCount, err := d.meta.snapshotRetentionCount(tx)
		if err != nil {
			return err
		}

		floor := uint64(0)
		if retentionCount > 0 && snapshotSeq+1 > uint64(retentionCount) {
			floor = snapshotSeq + 1 - uint64(retentionCount)
		}

		if err := d.snapshotCatalog.deleteBefore(tx, floor); err != nil {
			return err
		}

		if err := d.meta.putSnapshotRetainedFloor(tx, floor); err != nil {
			return err
		}

		return d.meta.deleteCheckpointPending(tx)
	})
}

// recoverCheckpoint implements spec.md §4.7 "Recover protocol", run on
// every domain open before any handle activation.
func (d *Domain) recoverCheckpoint(ctx context.Context) error {
	var (
		pending checkpointPendingRecord
		found   bool
	)

	err := d.kvdb.View(ctx, func(tx kv.Tx) error {
		var err error

		pending, found, err = d.meta.checkpointPending(tx)

		return err
	})
	if err != nil {
		return err
	}

	if !found {
		return nil
	}

	switch pending.stage {
	case stageInit, stageWriting:
		return d.kvdb.Update(ctx, func(tx kv.RwTx) error {
			if err := d.snapshotCatalog.deleteFrom(tx, pending.snapshotSeq, 0); err != nil {
				return err
			}

			return d.meta.deleteCheckpointPending(tx)
		})

	case stageFinalizing:
		cp := NewCheckpoint(d)

		return cp.Finalize(ctx, pending.snapshotSeq, pending.snapshotSeq)

	default:
		return d.kvdb.Update(ctx, func(tx kv.RwTx) error {
			return d.meta.deleteCheckpointPending(tx)
		})
	}
}
