package domain

import (
	"bytes"
	"io"

	"github.com/klauspost/compress/zstd"

	"github.com/juji-io/dtlv-usearch-domain/kv"
)

// compressSnapshot zstd-compresses a serialized index before chunking, when
// chunk_compression is enabled (SPEC_FULL.md §2). A chunk's CRC (P3) covers
// the stored (post-compression) bytes, so enabling compression never
// affects CRC totality.
func compressSnapshot(data []byte) ([]byte, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, ioErrorf("snapshot: new zstd encoder: %w", err)
	}
	defer enc.Close()

	return enc.EncodeAll(data, nil), nil
}

// decompressSnapshot reverses compressSnapshot. The load sites call it when
// the chunk_compression meta flag is currently set; the flag is not recorded
// per snapshot.
func decompressSnapshot(data []byte) ([]byte, error) {
	dec, err := zstd.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, corruptErrorf("snapshot: new zstd decoder: %w", err)
	}
	defer dec.Close()

	out, err := io.ReadAll(dec)
	if err != nil {
		return nil, corruptErrorf("snapshot: zstd decompress: %w", err)
	}

	return out, nil
}

// snapshotCatalog is the chunked storage of serialized indexes, keyed by
// (snapshot_seq, chunk_ordinal) (C4, spec.md §4.4).
type snapshotCatalog struct {
	table string
}

func newSnapshotCatalog(domainName string) snapshotCatalog {
	return snapshotCatalog{table: snapshotTable(domainName)}
}

// snapshotKey packs the 12-byte big-endian (snapshot_seq, chunk_ordinal)
// key (spec.md §6.1 "Snapshot key").
func snapshotKey(snapshotSeq uint64, chunkOrdinal uint32) []byte {
	b := make([]byte, 12)
	putU64(b[0:8], snapshotSeq)
	putU32(b[8:12], chunkOrdinal)

	return b
}

func decodeSnapshotKey(k []byte) (snapshotSeq uint64, chunkOrdinal uint32, ok bool) {
	if len(k) != 12 {
		return 0, 0, false
	}

	return getU64(k[0:8]), getU32(k[8:12]), true
}

// encodeSnapshotChunk packs a chunk value: 12-byte header + payload
// (spec.md §6.1 "Snapshot chunk value").
func encodeSnapshotChunk(chunk []byte) []byte {
	b := make([]byte, 0, 12+len(chunk))
	b = append(b, 1, 0)
	b = append(b, 0, 0) // header_len (u16 BE) = 12, filled below
	putU16(b[2:4], 12)
	b = appendU32(b, uint32(len(chunk)))
	b = appendU32(b, crc32c(chunk))
	b = append(b, chunk...)

	return b
}

func decodeSnapshotChunk(v []byte) ([]byte, error) {
	if len(v) < 12 {
		return nil, corruptErrorf("snapshot chunk too short: %d bytes", len(v))
	}

	version := v[0]
	headerLen := getU16(v[2:4])
	chunkLen := getU32(v[4:8])
	wantCRC := getU32(v[8:12])

	if version != 1 {
		return nil, corruptErrorf("snapshot chunk: unsupported version %d", version)
	}

	if headerLen != 12 {
		return nil, corruptErrorf("snapshot chunk: header_len must be 12, got %d", headerLen)
	}

	if uint32(len(v)-12) != chunkLen {
		return nil, corruptErrorf("snapshot chunk: length mismatch: header says %d, got %d", chunkLen, len(v)-12)
	}

	payload := v[12:]

	if gotCRC := crc32c(payload); gotCRC != wantCRC {
		return nil, corruptErrorf("snapshot chunk: CRC mismatch: want %#x, got %#x", wantCRC, gotCRC)
	}

	return append([]byte(nil), payload...), nil
}

// storeChunk writes one chunk at (snapshotSeq, chunkOrdinal).
func (s snapshotCatalog) storeChunk(p kv.Putter, snapshotSeq uint64, chunkOrdinal uint32, chunk []byte) error {
	return p.Put(s.table, snapshotKey(snapshotSeq, chunkOrdinal), encodeSnapshotChunk(chunk))
}

// load reads every chunk for snapshotSeq in order, validating contiguity
// (P2) and CRCs (P3), and returns the concatenated payload.
func (s snapshotCatalog) load(g kv.Getter, snapshotSeq uint64) ([]byte, error) {
	c, err := g.Cursor(s.table)
	if err != nil {
		return nil, err
	}
	defer c.Close()

	k, v, err := c.Seek(snapshotKey(snapshotSeq, 0))
	if err != nil {
		return nil, err
	}

	var out []byte

	wantOrdinal := uint32(0)

	for k != nil {
		seq, ordinal, ok := decodeSnapshotKey(k)
		if !ok {
			return nil, corruptErrorf("snapshot catalog: malformed key length %d", len(k))
		}

		if seq != snapshotSeq {
			break
		}

		if ordinal != wantOrdinal {
			return nil, corruptErrorf(
				"snapshot %d: chunk ordinal gap: want %d, got %d", snapshotSeq, wantOrdinal, ordinal)
		}

		chunk, err := decodeSnapshotChunk(v)
		if err != nil {
			return nil, err
		}

		out = append(out, chunk...)
		wantOrdinal++

		k, v, err = c.Next()
		if err != nil {
			return nil, err
		}
	}

	return out, nil
}

// deleteFrom range-deletes every chunk with the given snapshotSeq and
// chunkOrdinal >= chunkStart, used during checkpoint recovery to discard
// partial snapshots (spec.md §4.4, §4.7 Recover).
func (s snapshotCatalog) deleteFrom(p kv.Putter, snapshotSeq uint64, chunkStart uint32) error {
	start := snapshotKey(snapshotSeq, chunkStart)
	end := snapshotKey(snapshotSeq+1, 0)

	return p.DeleteRange(s.table, start, end)
}

// deleteBefore range-deletes every chunk whose snapshot_seq < floorSeq,
// used during retention trim (spec.md §4.4, §4.7 step 6).
func (s snapshotCatalog) deleteBefore(p kv.Putter, floorSeq uint64) error {
	if floorSeq == 0 {
		return nil
	}

	return p.DeleteRange(s.table, nil, snapshotKey(floorSeq, 0))
}

// chunkWriter splits a serialized-index byte stream into <= chunkBytes
// pieces, matching the store-chunk protocol of spec.md §4.4: "write value
// using the... reserve-space API (preferred) or a buffered write".
type chunkWriter struct {
	data      []byte
	chunkSize int
	pos       int
}

func newChunkWriter(data []byte, chunkSize int) *chunkWriter {
	if chunkSize <= 0 {
		chunkSize = int(defaultChunkBytes)
	}

	return &chunkWriter{data: data, chunkSize: chunkSize}
}

// next returns the next chunk, or (nil, false) once exhausted.
func (w *chunkWriter) next() ([]byte, bool) {
	if w.pos >= len(w.data) {
		return nil, false
	}

	end := w.pos + w.chunkSize
	if end > len(w.data) {
		end = len(w.data)
	}

	chunk := w.data[w.pos:end]
	w.pos = end

	return chunk, true
}

// remainingChunks reports how many more calls to next() will return data,
// used to decide batch sizing without consuming the writer.
func (w *chunkWriter) remainingChunks() int {
	remaining := len(w.data) - w.pos
	if remaining <= 0 {
		return 0
	}

	return (remaining + w.chunkSize - 1) / w.chunkSize
}
