package domain

import (
	"github.com/google/uuid"
)

// token is the 128-bit opaque value minted per WAL file (spec.md §3
// "Transaction token"). It is stored and compared as big-endian hi/lo
// halves, matching the wire layout of every record that embeds a token.
type token struct {
	hi, lo uint64
}

// newToken mints a fresh token from a random UUIDv4, split into halves for
// big-endian on-disk storage (SPEC_FULL.md §2 "Tokens and reader UUIDs").
func newToken() token {
	id := uuid.New()

	return tokenFromUUID(id)
}

func tokenFromUUID(id uuid.UUID) token {
	return token{
		hi: getU64(id[0:8]),
		lo: getU64(id[8:16]),
	}
}

func (t token) uuid() uuid.UUID {
	var id uuid.UUID

	putU64(id[0:8], t.hi)
	putU64(id[8:16], t.lo)

	return id
}

// hex returns the lowercase 32-character hex encoding used for WAL
// filenames (spec.md §6.2: "token_hex is lowercase hex of 16 bytes").
func (t token) hex() string {
	id := t.uuid()

	return fmtHex(id[:])
}

func (t token) equal(other token) bool {
	return t.hi == other.hi && t.lo == other.lo
}

func (t token) isZero() bool {
	return t.hi == 0 && t.lo == 0
}

const hexDigits = "0123456789abcdef"

func fmtHex(b []byte) string {
	out := make([]byte, len(b)*2)

	for i, by := range b {
		out[i*2] = hexDigits[by>>4]
		out[i*2+1] = hexDigits[by&0x0f]
	}

	return string(out)
}

// readerUUID identifies a reader pinning snapshots/log entries (spec.md §3
// "Reader UUID"). Readers mint their own via [newReaderUUID]; the domain
// never mints one on a reader's behalf.
type readerUUID = token

func newReaderUUID() readerUUID {
	return newToken()
}
