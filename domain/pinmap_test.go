package domain

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/juji-io/dtlv-usearch-domain/internal/fsys"
)

func openTestPinMap(t *testing.T) *PinMap {
	t.Helper()

	path := filepath.Join(t.TempDir(), "reader-pins.lock")

	pm, err := OpenPinMap(fsys.Real{}, path)
	require.NoError(t, err)

	t.Cleanup(func() { _ = pm.Close() })

	return pm
}

func Test_OpenPinMap_Rejects_Fake_Filesystem(t *testing.T) {
	t.Parallel()

	_, err := OpenPinMap(fsys.NewFake(), "/root/reader-pins.lock")
	require.ErrorIs(t, err, ErrIO)
}

func Test_PinMap_Pin_Then_Touch_Then_Release(t *testing.T) {
	t.Parallel()

	pm := openTestPinMap(t)

	reader := newToken()

	require.NoError(t, pm.Pin(reader, 10, 20, 9_999_999_999_999))

	snapshotFloor, logFloor, ok, err := pm.RetentionFloor()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(10), snapshotFloor)
	require.Equal(t, uint64(20), logFloor)

	require.NoError(t, pm.Touch(reader, 5000))

	require.NoError(t, pm.Release(reader))

	_, _, ok, err = pm.RetentionFloor()
	require.NoError(t, err)
	require.False(t, ok, "a released pin must no longer contribute to the retention floor")
}

func Test_PinMap_Pin_Same_Reader_Twice_Reuses_Its_Slot(t *testing.T) {
	t.Parallel()

	pm := openTestPinMap(t)

	reader := newToken()

	require.NoError(t, pm.Pin(reader, 1, 1, 9_999_999_999_999))
	require.NoError(t, pm.Pin(reader, 2, 2, 9_999_999_999_999))

	snapshotFloor, logFloor, ok, err := pm.RetentionFloor()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(2), snapshotFloor)
	require.Equal(t, uint64(2), logFloor)
}

func Test_PinMap_Touch_Unknown_Reader_Is_NotFound(t *testing.T) {
	t.Parallel()

	pm := openTestPinMap(t)

	err := pm.Touch(newToken(), 1000)
	require.ErrorIs(t, err, ErrNotFound)
}

func Test_PinMap_Release_Unknown_Reader_Is_NoOp(t *testing.T) {
	t.Parallel()

	pm := openTestPinMap(t)

	require.NoError(t, pm.Release(newToken()))
}

func Test_PinMap_RetentionFloor_Ignores_Expired_Pins(t *testing.T) {
	t.Parallel()

	pm := openTestPinMap(t)

	require.NoError(t, pm.Pin(newToken(), 50, 50, 1)) // already expired

	_, _, ok, err := pm.RetentionFloor()
	require.NoError(t, err)
	require.False(t, ok)
}

func Test_PinMap_Pin_Reuses_Expired_Slot_When_Full(t *testing.T) {
	t.Parallel()

	pm := openTestPinMap(t)

	for i := 0; i < pinSlotCount; i++ {
		require.NoError(t, pm.Pin(newToken(), uint64(i), uint64(i), 1)) // expired immediately
	}

	// Every slot is occupied but expired; a new reader must still get in by
	// reclaiming an expired slot rather than failing ErrBusy.
	require.NoError(t, pm.Pin(newToken(), 99, 99, 9_999_999_999_999))
}

func Test_PinMap_Pin_Returns_Busy_When_Every_Slot_Is_Live(t *testing.T) {
	t.Parallel()

	pm := openTestPinMap(t)

	for i := 0; i < pinSlotCount; i++ {
		require.NoError(t, pm.Pin(newToken(), 1, 1, 9_999_999_999_999))
	}

	err := pm.Pin(newToken(), 1, 1, 9_999_999_999_999)
	require.ErrorIs(t, err, ErrBusy)
}
