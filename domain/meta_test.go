package domain

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/juji-io/dtlv-usearch-domain/annindex"
	"github.com/juji-io/dtlv-usearch-domain/kv"
	"github.com/juji-io/dtlv-usearch-domain/kv/memkv"
)

func newTestMeta(t *testing.T) (*memkv.DB, metaStore) {
	t.Helper()

	db := memkv.New()
	ctx := context.Background()

	m := newMetaStore("test")
	require.NoError(t, db.CreateTable(ctx, m.table))

	return db, m
}

func Test_MetaStore_Missing_Key_Returns_Default(t *testing.T) {
	t.Parallel()

	db, m := newTestMeta(t)

	err := db.View(context.Background(), func(tx kv.Tx) error {
		v, err := m.chunkBytes(tx)
		require.NoError(t, err)
		require.Equal(t, defaultChunkBytes, v)

		batch, err := m.checkpointChunkBatch(tx)
		require.NoError(t, err)
		require.Equal(t, defaultCheckpointChunkBatch, batch)

		return nil
	})
	require.NoError(t, err)
}

func Test_MetaStore_Put_Then_Get_Round_Trips(t *testing.T) {
	t.Parallel()

	db, m := newTestMeta(t)
	ctx := context.Background()

	require.NoError(t, db.Update(ctx, func(tx kv.RwTx) error {
		return m.putChunkBytes(tx, 4096)
	}))

	require.NoError(t, db.View(ctx, func(tx kv.Tx) error {
		v, err := m.chunkBytes(tx)
		require.NoError(t, err)
		require.Equal(t, uint32(4096), v)

		return nil
	}))
}

func Test_MetaStore_Corrupt_Length_Is_Classified_Corrupt(t *testing.T) {
	t.Parallel()

	db, m := newTestMeta(t)
	ctx := context.Background()

	require.NoError(t, db.Update(ctx, func(tx kv.RwTx) error {
		return tx.Put(m.table, []byte(keyChunkBytes), []byte{1, 2, 3})
	}))

	err := db.View(ctx, func(tx kv.Tx) error {
		_, err := m.chunkBytes(tx)
		return err
	})
	require.ErrorIs(t, err, ErrCorrupt)
}

func Test_MetaStore_CheckpointPending_Round_Trips(t *testing.T) {
	t.Parallel()

	db, m := newTestMeta(t)
	ctx := context.Background()

	rec := checkpointPendingRecord{
		version: 1, stage: stageWriting, chunkCursor: 7, snapshotSeq: 42, writer: newToken(),
	}

	require.NoError(t, db.Update(ctx, func(tx kv.RwTx) error {
		return m.putCheckpointPending(tx, rec)
	}))

	require.NoError(t, db.View(ctx, func(tx kv.Tx) error {
		got, found, err := m.checkpointPending(tx)
		require.NoError(t, err)
		require.True(t, found)
		require.Equal(t, rec, got)

		return nil
	}))

	require.NoError(t, db.Update(ctx, func(tx kv.RwTx) error {
		return m.deleteCheckpointPending(tx)
	}))

	require.NoError(t, db.View(ctx, func(tx kv.Tx) error {
		_, found, err := m.checkpointPending(tx)
		require.NoError(t, err)
		require.False(t, found)

		return nil
	}))
}

func Test_MetaStore_InitOptions_Round_Trips(t *testing.T) {
	t.Parallel()

	db, m := newTestMeta(t)
	ctx := context.Background()

	opts := annindex.InitOptions{
		Multi: true, Metric: annindex.MetricL2sq, Quantization: annindex.ScalarF32,
		Dimensions: 128, Connectivity: 16, ExpansionAdd: 128, ExpansionSearch: 64,
	}

	require.NoError(t, db.Update(ctx, func(tx kv.RwTx) error {
		return m.putInitOptions(tx, opts)
	}))

	require.NoError(t, db.View(ctx, func(tx kv.Tx) error {
		got, found, err := m.initOptions(tx)
		require.NoError(t, err)
		require.True(t, found)
		require.Equal(t, opts, got)

		return nil
	}))
}

func Test_MetaStore_ChunkCompression_Defaults_Off(t *testing.T) {
	t.Parallel()

	db, m := newTestMeta(t)

	err := db.View(context.Background(), func(tx kv.Tx) error {
		enabled, err := m.chunkCompression(tx)
		require.NoError(t, err)
		require.False(t, enabled)

		return nil
	})
	require.NoError(t, err)
}
