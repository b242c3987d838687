package domain

import (
	"encoding/binary"
	"math"
)

// Big-endian pack/unpack helpers for the fixed-width wire formats of
// spec.md §6.1. encoding/binary.BigEndian already does the heavy lifting;
// these wrappers exist so call sites read as "put/get a field" rather than
// spelling out BigEndian everywhere, matching the narrow-facade style of
// the rest of C1.

func putU32(b []byte, v uint32) { binary.BigEndian.PutUint32(b, v) }
func getU32(b []byte) uint32    { return binary.BigEndian.Uint32(b) }

func putU64(b []byte, v uint64) { binary.BigEndian.PutUint64(b, v) }
func getU64(b []byte) uint64    { return binary.BigEndian.Uint64(b) }

func putU16(b []byte, v uint16) { binary.BigEndian.PutUint16(b, v) }
func getU16(b []byte) uint16    { return binary.BigEndian.Uint16(b) }

// appendU64/appendU32 append a big-endian encoded value to dst, growing it
// as needed, for building up variable-length records like delta entries.

func appendU64(dst []byte, v uint64) []byte {
	var b [8]byte

	putU64(b[:], v)

	return append(dst, b[:]...)
}

func appendU32(dst []byte, v uint32) []byte {
	var b [4]byte

	putU32(b[:], v)

	return append(dst, b[:]...)
}

// encodeFloat32/decodeFloat32 pack a float32 vector component in big-endian
// form, matching the big-endian-everywhere rule of spec.md §4.1.

func encodeFloat32(dst []byte, f float32) {
	putU32(dst, math.Float32bits(f))
}

func decodeFloat32(b []byte) float32 {
	return math.Float32frombits(getU32(b))
}
