package domain

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/juji-io/dtlv-usearch-domain/kv"
	"github.com/juji-io/dtlv-usearch-domain/kv/memkv"
)

func Test_EncodeDecodeDelta_Round_Trips_Add(t *testing.T) {
	t.Parallel()

	in := deltaEntry{version: 1, op: deltaAdd, ordinal: 3, tok: newToken(), key: []byte{0, 0, 0, 0, 0, 0, 0, 1}, payload: EncodeVector([]float32{1, 2, 3})}

	encoded, err := encodeDelta(in)
	require.NoError(t, err)

	out, err := decodeDelta(encoded)
	require.NoError(t, err)
	require.Equal(t, in, out)
}

func Test_EncodeDelta_Rejects_Empty_Key(t *testing.T) {
	t.Parallel()

	_, err := encodeDelta(deltaEntry{op: deltaAdd, key: nil, payload: []byte{1}})
	require.ErrorIs(t, err, ErrArgument)
}

func Test_EncodeDelta_Delete_Must_Have_No_Payload(t *testing.T) {
	t.Parallel()

	_, err := encodeDelta(deltaEntry{op: deltaDelete, key: []byte{1}, payload: []byte{2}})
	require.ErrorIs(t, err, ErrArgument)
}

func Test_EncodeDelta_NonDelete_Requires_Payload(t *testing.T) {
	t.Parallel()

	_, err := encodeDelta(deltaEntry{op: deltaReplace, key: []byte{1}, payload: nil})
	require.ErrorIs(t, err, ErrArgument)
}

func Test_DecodeDelta_Rejects_Tampered_CRC(t *testing.T) {
	t.Parallel()

	encoded, err := encodeDelta(deltaEntry{op: deltaAdd, key: []byte{1}, payload: []byte{2, 3, 4, 5}})
	require.NoError(t, err)

	encoded[len(encoded)-1] ^= 0xFF

	_, err = decodeDelta(encoded)
	require.ErrorIs(t, err, ErrCorrupt)
}

func Test_DecodeDelta_Rejects_Truncated_Record(t *testing.T) {
	t.Parallel()

	_, err := decodeDelta([]byte{1, 2, 3})
	require.ErrorIs(t, err, ErrCorrupt)
}

func Test_DeltaLog_Append_Then_Replay_Visits_In_Order(t *testing.T) {
	t.Parallel()

	db := memkv.New()
	ctx := context.Background()

	dl := newDeltaLog("test")
	require.NoError(t, db.CreateTable(ctx, dl.table))

	entries := []deltaEntry{
		{op: deltaAdd, key: []byte{0, 0, 0, 0, 0, 0, 0, 1}, payload: EncodeVector([]float32{1})},
		{op: deltaReplace, key: []byte{0, 0, 0, 0, 0, 0, 0, 1}, payload: EncodeVector([]float32{2})},
		{op: deltaDelete, key: []byte{0, 0, 0, 0, 0, 0, 0, 1}},
	}

	require.NoError(t, db.Update(ctx, func(tx kv.RwTx) error {
		for i, e := range entries {
			encoded, err := encodeDelta(e)
			if err != nil {
				return err
			}

			if err := dl.append(tx, uint64(i+1), encoded); err != nil {
				return err
			}
		}

		return nil
	}))

	var seen []uint64

	require.NoError(t, db.View(ctx, func(tx kv.Tx) error {
		return dl.replay(tx, 1, 3, func(logSeq uint64, e deltaEntry) error {
			seen = append(seen, logSeq)
			require.Equal(t, entries[logSeq-1].op, e.op)

			return nil
		})
	}))

	require.Equal(t, []uint64{1, 2, 3}, seen)
}

func Test_DeltaLog_Replay_Empty_Range_Is_NoOp(t *testing.T) {
	t.Parallel()

	db := memkv.New()
	ctx := context.Background()

	dl := newDeltaLog("test")
	require.NoError(t, db.CreateTable(ctx, dl.table))

	called := false

	require.NoError(t, db.View(ctx, func(tx kv.Tx) error {
		return dl.replay(tx, 5, 1, func(uint64, deltaEntry) error {
			called = true
			return nil
		})
	}))

	require.False(t, called)
}

func Test_DeltaLog_Prune_Removes_Up_To_And_Including_Seq(t *testing.T) {
	t.Parallel()

	db := memkv.New()
	ctx := context.Background()

	dl := newDeltaLog("test")
	require.NoError(t, db.CreateTable(ctx, dl.table))

	require.NoError(t, db.Update(ctx, func(tx kv.RwTx) error {
		for i := uint64(1); i <= 5; i++ {
			encoded, err := encodeDelta(deltaEntry{op: deltaAdd, key: []byte{byte(i)}, payload: []byte{9}})
			if err != nil {
				return err
			}

			if err := dl.append(tx, i, encoded); err != nil {
				return err
			}
		}

		return dl.prune(tx, 3)
	}))

	var seen []uint64

	require.NoError(t, db.View(ctx, func(tx kv.Tx) error {
		return dl.replay(tx, 0, 10, func(logSeq uint64, _ deltaEntry) error {
			seen = append(seen, logSeq)
			return nil
		})
	}))

	require.Equal(t, []uint64{4, 5}, seen)
}
