package domain

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/juji-io/dtlv-usearch-domain/annindex"
	"github.com/juji-io/dtlv-usearch-domain/kv"
)

func Test_Checkpoint_WriteSnapshot_Then_Finalize_Round_Trips_Through_Activate(t *testing.T) {
	t.Parallel()

	dom, _ := newTestDomain(t)
	ctx := context.Background()

	h, err := dom.Activate(ctx)
	require.NoError(t, err)

	require.NoError(t, dom.kvdb.Update(ctx, func(tx kv.RwTx) error {
		txn := dom.BeginTxn(tx)

		if err := txn.Stage(tx, NewAdd([]byte{0, 0, 0, 0, 0, 0, 0, 1}, EncodeVector([]float32{1, 2, 3}))); err != nil {
			return err
		}

		return txn.ApplyPending(tx)
	}))

	// Catch the handle up to the staged ADD so the snapshot contains key 1.
	require.NoError(t, h.Refresh(ctx))

	cp := NewCheckpoint(dom)

	require.NoError(t, cp.WriteSnapshot(ctx, h.Index(), 1))
	require.NoError(t, cp.Finalize(ctx, 1, 1))

	h2, err := dom.Activate(ctx)
	require.NoError(t, err)

	contains, err := h2.Contains(1)
	require.NoError(t, err)
	require.True(t, contains, "a fresh Activate must see the checkpointed snapshot")

	snapshotSeq, logSeq := h2.Baseline()
	require.Equal(t, uint64(1), snapshotSeq)
	require.Equal(t, uint64(1), logSeq)
}

func Test_Checkpoint_WriteSnapshot_Rejects_Concurrent_Pending(t *testing.T) {
	t.Parallel()

	dom, _ := newTestDomain(t)
	ctx := context.Background()

	h, err := dom.Activate(ctx)
	require.NoError(t, err)

	require.NoError(t, dom.kvdb.Update(ctx, func(tx kv.RwTx) error {
		return dom.meta.putCheckpointPending(tx, checkpointPendingRecord{version: 1, stage: stageWriting, snapshotSeq: 1})
	}))

	cp := NewCheckpoint(dom)
	err = cp.WriteSnapshot(ctx, h.Index(), 1)
	require.ErrorIs(t, err, ErrBusy)
}

func Test_Checkpoint_Finalize_Rejects_PruneLogSeq_Below_SnapshotSeq(t *testing.T) {
	t.Parallel()

	dom, _ := newTestDomain(t)
	ctx := context.Background()

	cp := NewCheckpoint(dom)
	err := cp.Finalize(ctx, 5, 4)
	require.ErrorIs(t, err, ErrArgument)
}

func Test_Checkpoint_Finalize_Prunes_Snapshots_Below_Retention_Floor(t *testing.T) {
	t.Parallel()

	dom, _ := newTestDomain(t)
	ctx := context.Background()

	require.NoError(t, dom.kvdb.Update(ctx, func(tx kv.RwTx) error {
		return dom.meta.putSnapshotRetentionCount(tx, 1)
	}))

	h, err := dom.Activate(ctx)
	require.NoError(t, err)

	cp := NewCheckpoint(dom)

	require.NoError(t, cp.WriteSnapshot(ctx, h.Index(), 1))
	require.NoError(t, cp.Finalize(ctx, 1, 1))

	require.NoError(t, cp.WriteSnapshot(ctx, h.Index(), 2))
	require.NoError(t, cp.Finalize(ctx, 2, 2))

	require.NoError(t, dom.kvdb.View(ctx, func(tx kv.Tx) error {
		_, err := dom.snapshotCatalog.load(tx, 1)
		require.ErrorIs(t, err, ErrCorrupt, "snapshot 1 must have been pruned below the retention floor")

		payload, err := dom.snapshotCatalog.load(tx, 2)
		require.NoError(t, err)
		require.NotEmpty(t, payload)

		floor, err := dom.meta.snapshotRetainedFloor(tx)
		require.NoError(t, err)
		require.Equal(t, uint64(2), floor)

		return nil
	}))
}

func Test_Checkpoint_WriteSnapshot_Leaves_Pending_In_Place_On_MapFull(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	opts := openTestOptions(t, "test")
	dom, err := Open(ctx, opts)
	require.NoError(t, err)

	require.NoError(t, dom.SetInitOptions(ctx, annindex.InitOptions{Dimensions: 3}))

	h, err := dom.Activate(ctx)
	require.NoError(t, err)

	require.NoError(t, dom.kvdb.Update(ctx, func(tx kv.RwTx) error {
		return dom.meta.putChunkBytes(tx, 1)
	}))

	mdb := opts.KV
	type mapFuller interface{ SetMapFullAfter(int) }

	mf, ok := mdb.(mapFuller)
	require.True(t, ok)
	// Write #1 is writeSnapshotBytes' own "pending = INIT" commit; arm
	// MAP_FULL for write #2 so it lands on the first chunk Put inside the
	// write loop instead.
	mf.SetMapFullAfter(2)

	cp := NewCheckpoint(dom)
	err = cp.WriteSnapshot(ctx, h.Index(), 1)
	require.ErrorIs(t, err, ErrMapFull)

	require.NoError(t, dom.kvdb.View(ctx, func(tx kv.Tx) error {
		pending, found, err := dom.meta.checkpointPending(tx)
		require.NoError(t, err)
		require.True(t, found, "MAP_FULL must leave checkpoint_pending for recovery/retry")
		require.Equal(t, uint64(1), pending.snapshotSeq)

		return nil
	}))
}

func Test_RecoverCheckpoint_Discards_Pending_Left_In_Init_Or_Writing(t *testing.T) {
	t.Parallel()

	dom, _ := newTestDomain(t)
	ctx := context.Background()

	h, err := dom.Activate(ctx)
	require.NoError(t, err)

	cp := NewCheckpoint(dom)
	require.NoError(t, cp.WriteSnapshot(ctx, h.Index(), 1))

	// Simulate a crash before Finalize: stage left at stageWriting.
	require.NoError(t, dom.Close())

	reopened, err := Open(ctx, Options{
		Name: dom.name, FSRoot: dom.fsRoot, KV: dom.kvdb, FS: dom.fs, IndexFactory: dom.indexFactory,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = reopened.Close() })

	require.NoError(t, reopened.kvdb.View(ctx, func(tx kv.Tx) error {
		_, found, err := reopened.meta.checkpointPending(tx)
		require.NoError(t, err)
		require.False(t, found, "recovery must discard an incomplete pending checkpoint")

		return nil
	}))
}

func Test_RecoverCheckpoint_Completes_Finalize_Left_In_Finalizing_Stage(t *testing.T) {
	t.Parallel()

	dom, _ := newTestDomain(t)
	ctx := context.Background()

	require.NoError(t, dom.kvdb.Update(ctx, func(tx kv.RwTx) error {
		return dom.meta.putCheckpointPending(tx, checkpointPendingRecord{version: 1, stage: stageFinalizing, snapshotSeq: 0})
	}))

	require.NoError(t, dom.recoverCheckpoint(ctx))

	require.NoError(t, dom.kvdb.View(ctx, func(tx kv.Tx) error {
		_, found, err := dom.meta.checkpointPending(tx)
		require.NoError(t, err)
		require.False(t, found, "a finalizing checkpoint must be completed, not discarded, on recovery")

		return nil
	}))
}
