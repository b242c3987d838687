package domain

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/juji-io/dtlv-usearch-domain/internal/fsys"
)

func Test_WALHeader_Round_Trips(t *testing.T) {
	t.Parallel()

	h := walHeader{
		version: 1, state: walSealed, headerLen: walHeaderLen,
		snapshotSeqBase: 10, logSeqHint: 20, tok: newToken(), frameCount: 5,
	}

	encoded := encodeWALHeader(h)
	require.Len(t, encoded, walHeaderLen)

	got, err := decodeWALHeader(encoded)
	require.NoError(t, err)
	require.Equal(t, h, got)
}

func Test_DecodeWALHeader_Rejects_Bad_Magic(t *testing.T) {
	t.Parallel()

	b := encodeWALHeader(walHeader{version: 1, headerLen: walHeaderLen})
	copy(b[0:8], "XXXXXXXX")

	_, err := decodeWALHeader(b)
	require.ErrorIs(t, err, ErrCorrupt)
}

func Test_DecodeWALHeader_Rejects_Tampered_CRC(t *testing.T) {
	t.Parallel()

	b := encodeWALHeader(walHeader{version: 1, headerLen: walHeaderLen, tok: newToken()})
	b[20] ^= 0xFF

	_, err := decodeWALHeader(b)
	require.ErrorIs(t, err, ErrCorrupt)
}

func Test_OpenWAL_Creates_Open_File_In_Writing_State(t *testing.T) {
	t.Parallel()

	fs := fsys.NewFake()

	w, err := openWAL(fs, "/root", 1, 2)
	require.NoError(t, err)

	require.Equal(t, walWriting, w.state)
	require.Contains(t, w.Path(), ".ulog.open")
	require.Equal(t, uint32(0), w.FrameCount())

	exists, err := fs.Exists(w.Path())
	require.NoError(t, err)
	require.True(t, exists)
}

func Test_WALWriter_Append_Increments_FrameCount_And_Ordinal(t *testing.T) {
	t.Parallel()

	fs := fsys.NewFake()

	w, err := openWAL(fs, "/root", 0, 0)
	require.NoError(t, err)

	ord1, err := w.Append([]byte("frame one"))
	require.NoError(t, err)
	require.Equal(t, uint32(1), ord1)

	ord2, err := w.Append([]byte("frame two"))
	require.NoError(t, err)
	require.Equal(t, uint32(2), ord2)

	require.Equal(t, uint32(2), w.FrameCount())
}

func Test_WALWriter_Append_Rejected_After_Seal(t *testing.T) {
	t.Parallel()

	fs := fsys.NewFake()

	w, err := openWAL(fs, "/root", 0, 0)
	require.NoError(t, err)

	_, err = w.Append([]byte("a"))
	require.NoError(t, err)

	require.NoError(t, w.Seal())

	_, err = w.Append([]byte("b"))
	require.ErrorIs(t, err, ErrArgument)
}

func Test_WALWriter_Seal_Renames_Open_To_Sealed(t *testing.T) {
	t.Parallel()

	fs := fsys.NewFake()

	w, err := openWAL(fs, "/root", 0, 0)
	require.NoError(t, err)

	openPath := w.Path()

	require.NoError(t, w.Seal())
	require.Contains(t, w.Path(), ".ulog")
	require.NotContains(t, w.Path(), ".ulog.open")

	exists, err := fs.Exists(openPath)
	require.NoError(t, err)
	require.False(t, exists)

	exists, err = fs.Exists(w.Path())
	require.NoError(t, err)
	require.True(t, exists)
}

func Test_WALWriter_MarkReady_Requires_Sealed_First(t *testing.T) {
	t.Parallel()

	fs := fsys.NewFake()

	w, err := openWAL(fs, "/root", 0, 0)
	require.NoError(t, err)

	err = w.MarkReady()
	require.ErrorIs(t, err, ErrArgument)
}

func Test_WALWriter_Full_Lifecycle_Writing_Sealed_Ready(t *testing.T) {
	t.Parallel()

	fs := fsys.NewFake()

	w, err := openWAL(fs, "/root", 0, 0)
	require.NoError(t, err)

	_, err = w.Append([]byte("payload"))
	require.NoError(t, err)

	require.NoError(t, w.Seal())
	require.NoError(t, w.MarkReady())
	require.Contains(t, w.Path(), ".ulog.sealed")

	w.Close(false)

	exists, err := fs.Exists(w.Path())
	require.NoError(t, err)
	require.True(t, exists, "Close without bestEffortDelete must not remove the file")
}

func Test_WALWriter_Close_With_BestEffortDelete_Removes_File(t *testing.T) {
	t.Parallel()

	fs := fsys.NewFake()

	w, err := openWAL(fs, "/root", 0, 0)
	require.NoError(t, err)

	path := w.Path()
	w.Close(true)

	exists, err := fs.Exists(path)
	require.NoError(t, err)
	require.False(t, exists)
}
