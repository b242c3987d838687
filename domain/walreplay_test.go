package domain

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/juji-io/dtlv-usearch-domain/internal/fsys"
)

func writeReadyWAL(t *testing.T, fs fsys.FS, fsRoot string, payloads [][]byte) *WALWriter {
	t.Helper()

	w, err := openWAL(fs, fsRoot, 0, 100)
	require.NoError(t, err)

	for _, p := range payloads {
		_, err := w.Append(p)
		require.NoError(t, err)
	}

	require.NoError(t, w.Seal())
	require.NoError(t, w.MarkReady())

	return w
}

func Test_ReplayWAL_Applies_Every_Frame_From_Start(t *testing.T) {
	t.Parallel()

	fs := fsys.NewFake()

	e1, err := encodeDelta(deltaEntry{op: deltaAdd, key: []byte{1}, payload: []byte{9}})
	require.NoError(t, err)

	e2, err := encodeDelta(deltaEntry{op: deltaAdd, key: []byte{2}, payload: []byte{9}})
	require.NoError(t, err)

	w := writeReadyWAL(t, fs, "/root", [][]byte{e1, e2})

	hi, lo := w.Token()
	tok := token{hi: hi, lo: lo}

	var applied []uint32

	result, err := replayWAL(fs, w.Path(), tok, 1, false, func(ordinal uint32, _ uint64, _ deltaEntry) error {
		applied = append(applied, ordinal)
		return nil
	})
	require.NoError(t, err)

	require.Equal(t, []uint32{1, 2}, applied)
	require.True(t, result.allReplayed)
	require.Equal(t, uint32(2), result.lastOrdinal)
}

func Test_ReplayWAL_Skips_Frames_Before_StartOrdinal(t *testing.T) {
	t.Parallel()

	fs := fsys.NewFake()

	e1, err := encodeDelta(deltaEntry{op: deltaAdd, key: []byte{1}, payload: []byte{9}})
	require.NoError(t, err)

	e2, err := encodeDelta(deltaEntry{op: deltaAdd, key: []byte{2}, payload: []byte{9}})
	require.NoError(t, err)

	w := writeReadyWAL(t, fs, "/root", [][]byte{e1, e2})

	hi, lo := w.Token()
	tok := token{hi: hi, lo: lo}

	var applied []uint32

	_, err = replayWAL(fs, w.Path(), tok, 2, false, func(ordinal uint32, _ uint64, _ deltaEntry) error {
		applied = append(applied, ordinal)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, []uint32{2}, applied)
}

func Test_ReplayWAL_Rejects_Token_Mismatch(t *testing.T) {
	t.Parallel()

	fs := fsys.NewFake()

	e1, err := encodeDelta(deltaEntry{op: deltaAdd, key: []byte{1}, payload: []byte{9}})
	require.NoError(t, err)

	w := writeReadyWAL(t, fs, "/root", [][]byte{e1})

	_, err = replayWAL(fs, w.Path(), newToken(), 1, false, func(uint32, uint64, deltaEntry) error { return nil })
	require.ErrorIs(t, err, ErrCorrupt)
}

func Test_ReplayWAL_UnlinkAfter_Removes_File_Only_When_Fully_Replayed(t *testing.T) {
	t.Parallel()

	fs := fsys.NewFake()

	e1, err := encodeDelta(deltaEntry{op: deltaAdd, key: []byte{1}, payload: []byte{9}})
	require.NoError(t, err)

	w := writeReadyWAL(t, fs, "/root", [][]byte{e1})

	hi, lo := w.Token()
	tok := token{hi: hi, lo: lo}

	path := w.Path()

	_, err = replayWAL(fs, path, tok, 1, true, func(uint32, uint64, deltaEntry) error { return nil })
	require.NoError(t, err)

	exists, err := fs.Exists(path)
	require.NoError(t, err)
	require.False(t, exists)
}

func Test_ClassifyPendingEntry_Recognizes_Every_Suffix(t *testing.T) {
	t.Parallel()

	tok := newToken()

	for _, tc := range []struct {
		name  string
		state walState
	}{
		{tok.hex() + walOpenSuffix, walWriting},
		{tok.hex() + walSealedSuffix, walSealed},
		{tok.hex() + walReadySuffix, walReady},
	} {
		gotTok, gotState, ok := classifyPendingEntry(tc.name)
		require.True(t, ok, tc.name)
		require.Equal(t, tc.state, gotState, tc.name)
		require.True(t, gotTok.equal(tok), tc.name)
	}
}

func Test_ClassifyPendingEntry_Rejects_Unrecognized_Name(t *testing.T) {
	t.Parallel()

	_, _, ok := classifyPendingEntry("garbage.txt")
	require.False(t, ok)
}

func Test_RecoverWAL_Replays_Sealed_File_Past_Published_Tail(t *testing.T) {
	t.Parallel()

	fs := fsys.NewFake()

	e1, err := encodeDelta(deltaEntry{op: deltaAdd, key: []byte{1}, payload: []byte{9}})
	require.NoError(t, err)

	e2, err := encodeDelta(deltaEntry{op: deltaAdd, key: []byte{2}, payload: []byte{9}})
	require.NoError(t, err)

	w, err := openWAL(fs, "/root", 0, 0)
	require.NoError(t, err)

	_, err = w.Append(e1)
	require.NoError(t, err)

	_, err = w.Append(e2)
	require.NoError(t, err)

	require.NoError(t, w.Seal())

	hi, lo := w.Token()
	tok := token{hi: hi, lo: lo}

	sealed := sealedLogSeqRecord{tok: tok, logSeq: 2}
	published := publishedLogTailRecord{tok: tok, ordinal: 1}

	var applied []uint32

	err = recoverWAL(fs, "/root", sealed, published, true, func(ordinal uint32, _ uint64, _ deltaEntry) error {
		applied = append(applied, ordinal)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, []uint32{2}, applied, "only the frame after published.ordinal should replay")

	exists, err := fs.Exists(walReadyPath("/root", tok))
	require.NoError(t, err)
	require.False(t, exists, "fully replayed ready file is unlinked")
}

func Test_RecoverWAL_No_Pending_Directory_Is_NoOp(t *testing.T) {
	t.Parallel()

	fs := fsys.NewFake()

	err := recoverWAL(fs, "/root", sealedLogSeqRecord{}, publishedLogTailRecord{}, false,
		func(uint32, uint64, deltaEntry) error { return nil })
	require.NoError(t, err)
}
