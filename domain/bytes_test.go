package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func Test_U64_RoundTrips(t *testing.T) {
	t.Parallel()

	var b [8]byte

	putU64(b[:], 0x0102030405060708)
	assert.Equal(t, uint64(0x0102030405060708), getU64(b[:]))
	assert.Equal(t, []byte{1, 2, 3, 4, 5, 6, 7, 8}, b[:], "wire format is big-endian")
}

func Test_U32_RoundTrips(t *testing.T) {
	t.Parallel()

	var b [4]byte

	putU32(b[:], 0xAABBCCDD)
	assert.Equal(t, uint32(0xAABBCCDD), getU32(b[:]))
	assert.Equal(t, []byte{0xAA, 0xBB, 0xCC, 0xDD}, b[:])
}

func Test_U16_RoundTrips(t *testing.T) {
	t.Parallel()

	var b [2]byte

	putU16(b[:], 0xBEEF)
	assert.Equal(t, uint16(0xBEEF), getU16(b[:]))
}

func Test_AppendU64_AppendU32_Grow_Slice(t *testing.T) {
	t.Parallel()

	var b []byte

	b = appendU64(b, 1)
	b = appendU32(b, 2)

	assert.Len(t, b, 12)
	assert.Equal(t, uint64(1), getU64(b[0:8]))
	assert.Equal(t, uint32(2), getU32(b[8:12]))
}

func Test_Float32_RoundTrips_Including_Negative_And_Fractional(t *testing.T) {
	t.Parallel()

	for _, f := range []float32{0, 1, -1, 3.14159, -0.5, 1e10, -1e-10} {
		var b [4]byte

		encodeFloat32(b[:], f)
		assert.Equal(t, f, decodeFloat32(b[:]))
	}
}
