package domain

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/juji-io/dtlv-usearch-domain/kv"
	"github.com/juji-io/dtlv-usearch-domain/kv/memkv"
)

func Test_SnapshotKey_Round_Trips(t *testing.T) {
	t.Parallel()

	k := snapshotKey(7, 3)

	seq, ordinal, ok := decodeSnapshotKey(k)
	require.True(t, ok)
	require.Equal(t, uint64(7), seq)
	require.Equal(t, uint32(3), ordinal)
}

func Test_SnapshotChunk_Round_Trips(t *testing.T) {
	t.Parallel()

	payload := []byte("some serialized index bytes")

	encoded := encodeSnapshotChunk(payload)

	decoded, err := decodeSnapshotChunk(encoded)
	require.NoError(t, err)
	require.Equal(t, payload, decoded)
}

func Test_DecodeSnapshotChunk_Rejects_Tampered_CRC(t *testing.T) {
	t.Parallel()

	encoded := encodeSnapshotChunk([]byte("payload"))
	encoded[len(encoded)-1] ^= 0xFF

	_, err := decodeSnapshotChunk(encoded)
	require.ErrorIs(t, err, ErrCorrupt)
}

func Test_SnapshotCatalog_Load_Concatenates_Chunks_In_Order(t *testing.T) {
	t.Parallel()

	db := memkv.New()
	ctx := context.Background()

	sc := newSnapshotCatalog("test")
	require.NoError(t, db.CreateTable(ctx, sc.table))

	chunks := [][]byte{[]byte("abc"), []byte("def"), []byte("ghi")}

	require.NoError(t, db.Update(ctx, func(tx kv.RwTx) error {
		for i, c := range chunks {
			if err := sc.storeChunk(tx, 5, uint32(i), c); err != nil {
				return err
			}
		}

		return nil
	}))

	var got []byte

	require.NoError(t, db.View(ctx, func(tx kv.Tx) error {
		var err error
		got, err = sc.load(tx, 5)

		return err
	}))

	require.Equal(t, "abcdefghi", string(got))
}

func Test_SnapshotCatalog_Load_Detects_Ordinal_Gap(t *testing.T) {
	t.Parallel()

	db := memkv.New()
	ctx := context.Background()

	sc := newSnapshotCatalog("test")
	require.NoError(t, db.CreateTable(ctx, sc.table))

	require.NoError(t, db.Update(ctx, func(tx kv.RwTx) error {
		if err := sc.storeChunk(tx, 1, 0, []byte("a")); err != nil {
			return err
		}

		return sc.storeChunk(tx, 1, 2, []byte("c")) // skips ordinal 1
	}))

	err := db.View(ctx, func(tx kv.Tx) error {
		_, err := sc.load(tx, 1)
		return err
	})
	require.ErrorIs(t, err, ErrCorrupt)
}

func Test_SnapshotCatalog_DeleteFrom_Keeps_Earlier_Chunks(t *testing.T) {
	t.Parallel()

	db := memkv.New()
	ctx := context.Background()

	sc := newSnapshotCatalog("test")
	require.NoError(t, db.CreateTable(ctx, sc.table))

	require.NoError(t, db.Update(ctx, func(tx kv.RwTx) error {
		for i := uint32(0); i < 3; i++ {
			if err := sc.storeChunk(tx, 9, i, []byte{byte(i)}); err != nil {
				return err
			}
		}

		return sc.deleteFrom(tx, 9, 1)
	}))

	var got []byte

	require.NoError(t, db.View(ctx, func(tx kv.Tx) error {
		var err error
		got, err = sc.load(tx, 9)

		return err
	}))

	require.Equal(t, []byte{0}, got)
}

func Test_SnapshotCatalog_DeleteBefore_Floor_Zero_Is_NoOp(t *testing.T) {
	t.Parallel()

	db := memkv.New()
	ctx := context.Background()

	sc := newSnapshotCatalog("test")
	require.NoError(t, db.CreateTable(ctx, sc.table))

	require.NoError(t, db.Update(ctx, func(tx kv.RwTx) error {
		if err := sc.storeChunk(tx, 0, 0, []byte("a")); err != nil {
			return err
		}

		return sc.deleteBefore(tx, 0)
	}))

	var got []byte

	require.NoError(t, db.View(ctx, func(tx kv.Tx) error {
		var err error
		got, err = sc.load(tx, 0)

		return err
	}))

	require.Equal(t, "a", string(got))
}

func Test_ChunkWriter_Splits_Data_Into_Bounded_Chunks(t *testing.T) {
	t.Parallel()

	data := make([]byte, 10)
	for i := range data {
		data[i] = byte(i)
	}

	w := newChunkWriter(data, 3)

	require.Equal(t, 4, w.remainingChunks())

	var reassembled []byte

	for {
		chunk, ok := w.next()
		if !ok {
			break
		}

		require.LessOrEqual(t, len(chunk), 3)
		reassembled = append(reassembled, chunk...)
	}

	require.Equal(t, data, reassembled)
	require.Equal(t, 0, w.remainingChunks())
}

func Test_CompressSnapshot_Round_Trips(t *testing.T) {
	t.Parallel()

	original := []byte("repeated repeated repeated repeated repeated data")

	compressed, err := compressSnapshot(original)
	require.NoError(t, err)

	decompressed, err := decompressSnapshot(compressed)
	require.NoError(t, err)

	require.Equal(t, original, decompressed)
}
