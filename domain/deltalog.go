package domain

import (
	"github.com/juji-io/dtlv-usearch-domain/kv"
)

// deltaOp is the operation code of a delta entry (spec.md §3 "Delta
// entry").
type deltaOp uint8

const (
	deltaAdd     deltaOp = 0
	deltaReplace deltaOp = 1
	deltaDelete  deltaOp = 2
)

// deltaEntry is the decoded form of a delta log value: 32-byte header plus
// key plus payload (spec.md §3, §6.1 "Delta record").
type deltaEntry struct {
	version    uint8
	op         deltaOp
	ordinal    uint32
	tok        token
	key        []byte
	payload    []byte
}

// encodeDelta packs e into its 32-byte-header wire form. The CRC covers
// key∥payload (spec.md §6.1). The header version byte is always written as
// 1, the only version decodeDelta accepts; e.version is not consulted.
func encodeDelta(e deltaEntry) ([]byte, error) {
	if len(e.key) == 0 || len(e.key) > 255 {
		return nil, argErrorf("delta key_len must be in [1,255], got %d", len(e.key))
	}

	if e.op == deltaDelete && len(e.payload) != 0 {
		return nil, argErrorf("DELETE entries must carry no payload")
	}

	if e.op != deltaDelete && len(e.payload) == 0 {
		return nil, argErrorf("%s entries require a nonempty payload", deltaOpName(e.op))
	}

	crc := crc32cMulti(e.key, e.payload)

	b := make([]byte, 0, 32+len(e.key)+len(e.payload))
	b = append(b, 1, byte(e.op), uint8(len(e.key)), 0)
	b = appendU32(b, e.ordinal)
	b = appendU64(b, e.tok.hi)
	b = appendU64(b, e.tok.lo)
	b = appendU32(b, uint32(len(e.payload)))
	b = appendU32(b, crc)
	b = append(b, e.key...)
	b = append(b, e.payload...)

	return b, nil
}

// decodeDelta unpacks a delta log value, validating the header shape and
// CRC. Any failure is classified as corruption (spec.md §7, P3).
func decodeDelta(v []byte) (deltaEntry, error) {
	if len(v) < 32 {
		return deltaEntry{}, corruptErrorf("delta record too short: %d bytes", len(v))
	}

	version := v[0]
	op := deltaOp(v[1])
	keyLen := int(v[2])
	ordinal := getU32(v[4:8])
	tok := token{hi: getU64(v[8:16]), lo: getU64(v[16:24])}
	payloadLen := int(getU32(v[24:28]))
	wantCRC := getU32(v[28:32])

	if version != 1 {
		return deltaEntry{}, corruptErrorf("delta record: unsupported version %d", version)
	}

	if op != deltaAdd && op != deltaReplace && op != deltaDelete {
		return deltaEntry{}, corruptErrorf("delta record: unknown op %d", op)
	}

	if len(v) != 32+keyLen+payloadLen {
		return deltaEntry{}, corruptErrorf(
			"delta record: length mismatch: header says key=%d payload=%d, total=%d",
			keyLen, payloadLen, len(v))
	}

	key := v[32 : 32+keyLen]
	payload := v[32+keyLen : 32+keyLen+payloadLen]

	if gotCRC := crc32cMulti(key, payload); gotCRC != wantCRC {
		return deltaEntry{}, corruptErrorf("delta record: CRC mismatch: want %#x, got %#x", wantCRC, gotCRC)
	}

	return deltaEntry{
		version: version,
		op:      op,
		ordinal: ordinal,
		tok:     tok,
		key:     append([]byte(nil), key...),
		payload: append([]byte(nil), payload...),
	}, nil
}

func deltaOpName(op deltaOp) string {
	switch op {
	case deltaAdd:
		return "ADD"
	case deltaReplace:
		return "REPLACE"
	case deltaDelete:
		return "DELETE"
	default:
		return "UNKNOWN"
	}
}

// deltaLog is the append-only KV sub-database of encoded update records
// (C5, spec.md §4.5).
type deltaLog struct {
	table string
}

func newDeltaLog(domainName string) deltaLog {
	return deltaLog{table: deltaTable(domainName)}
}

func deltaLogKey(logSeq uint64) []byte {
	var b [8]byte

	putU64(b[:], logSeq)

	return b[:]
}

// Append puts logSeq -> encoded, unconditional (log_seq is strictly
// increasing, so keys are unique by construction).
func (d deltaLog) append(p kv.Putter, logSeq uint64, encoded []byte) error {
	return p.Put(d.table, deltaLogKey(logSeq), encoded)
}

// replaySink receives decoded delta entries in ascending log_seq order.
type replaySink func(logSeq uint64, e deltaEntry) error

// Replay range-scans [startSeq, endSeq] inclusive, decoding and applying
// each entry to sink. Decode errors stop replay and surface immediately
// (spec.md §4.5, §7 "Decode errors... never silently skip frames").
func (d deltaLog) replay(g kv.Getter, startSeq, endSeq uint64, sink replaySink) error {
	if startSeq > endSeq {
		return nil
	}

	c, err := g.Cursor(d.table)
	if err != nil {
		return err
	}
	defer c.Close()

	k, v, err := c.Seek(deltaLogKey(startSeq))
	for err == nil && k != nil {
		logSeq := getU64(k)
		if logSeq > endSeq {
			break
		}

		e, decodeErr := decodeDelta(v)
		if decodeErr != nil {
			return decodeErr
		}

		if sinkErr := sink(logSeq, e); sinkErr != nil {
			return sinkErr
		}

		k, v, err = c.Next()
	}

	return err
}

// Prune range-deletes keys with log_seq <= uptoSeq. Called only as part of
// checkpoint finalization (spec.md §4.5).
func (d deltaLog) prune(p kv.Putter, uptoSeq uint64) error {
	if uptoSeq == 0 {
		return nil
	}

	end := deltaLogKey(uptoSeq + 1)

	return p.DeleteRange(d.table, nil, end)
}
