package domain

import (
	"github.com/juji-io/dtlv-usearch-domain/annindex"
	"github.com/juji-io/dtlv-usearch-domain/kv"
)

// metaStore is a typed façade over point get/put on the usearch-meta
// sub-database (C3, spec.md §4.3). Keys are NUL-terminated ASCII; values
// are fixed-width big-endian records. Reads of missing keys return a
// caller-supplied default; writes are always full-record overwrites.
type metaStore struct {
	table string
}

func newMetaStore(domainName string) metaStore {
	return metaStore{table: metaTable(domainName)}
}

// Recognized keys (spec.md §3 "Metadata record").
const (
	keySchemaVersion           = "schema_version\x00"
	keyInit                    = "init\x00"
	keyChunkBytes              = "chunk_bytes\x00"
	keyCheckpointChunkBatch    = "checkpoint_chunk_batch\x00"
	keySnapshotRetentionCount  = "snapshot_retention_count\x00"
	keySnapshotRetainedFloor   = "snapshot_retained_floor\x00"
	keySnapshotSeq             = "snapshot_seq\x00"
	keyLogSeq                  = "log_seq\x00"
	keyLogTailSeq              = "log_tail_seq\x00"
	keySealedLogSeq            = "sealed_log_seq\x00"
	keyPublishedLogTail        = "published_log_tail\x00"
	keyCheckpointPending       = "checkpoint_pending\x00"
	keyChunkCompression        = "chunk_compression\x00"
)

// Defaults (spec.md §6.4).
const (
	defaultChunkBytes             uint32 = 1 << 20
	defaultCheckpointChunkBatch   uint32 = 8
	defaultSnapshotRetentionCount uint32 = 2
	schemaVersion                uint64 = 1
)

func (m metaStore) getU64(g kv.Getter, key string, def uint64) (uint64, error) {
	v, found, err := g.Get(m.table, []byte(key))
	if err != nil {
		return 0, err
	}

	if !found {
		return def, nil
	}

	if len(v) != 8 {
		return 0, corruptErrorf("meta key %q: want 8 bytes, got %d", key, len(v))
	}

	return getU64(v), nil
}

func (m metaStore) putU64(p kv.Putter, key string, val uint64) error {
	var b [8]byte

	putU64(b[:], val)

	return p.Put(m.table, []byte(key), b[:])
}

func (m metaStore) getU32(g kv.Getter, key string, def uint32) (uint32, error) {
	v, found, err := g.Get(m.table, []byte(key))
	if err != nil {
		return 0, err
	}

	if !found {
		return def, nil
	}

	if len(v) != 4 {
		return 0, corruptErrorf("meta key %q: want 4 bytes, got %d", key, len(v))
	}

	return getU32(v), nil
}

func (m metaStore) putU32(p kv.Putter, key string, val uint32) error {
	var b [4]byte

	putU32(b[:], val)

	return p.Put(m.table, []byte(key), b[:])
}

func (m metaStore) schemaVersion(g kv.Getter) (uint64, error) {
	return m.getU64(g, keySchemaVersion, 0)
}

func (m metaStore) putSchemaVersion(p kv.Putter, v uint64) error {
	return m.putU64(p, keySchemaVersion, v)
}

func (m metaStore) snapshotSeq(g kv.Getter) (uint64, error) { return m.getU64(g, keySnapshotSeq, 0) }
func (m metaStore) putSnapshotSeq(p kv.Putter, v uint64) error {
	return m.putU64(p, keySnapshotSeq, v)
}

func (m metaStore) logSeq(g kv.Getter) (uint64, error) { return m.getU64(g, keyLogSeq, 0) }
func (m metaStore) putLogSeq(p kv.Putter, v uint64) error { return m.putU64(p, keyLogSeq, v) }

func (m metaStore) logTailSeq(g kv.Getter) (uint64, error) { return m.getU64(g, keyLogTailSeq, 0) }
func (m metaStore) putLogTailSeq(p kv.Putter, v uint64) error {
	return m.putU64(p, keyLogTailSeq, v)
}

func (m metaStore) snapshotRetainedFloor(g kv.Getter) (uint64, error) {
	return m.getU64(g, keySnapshotRetainedFloor, 0)
}

func (m metaStore) putSnapshotRetainedFloor(p kv.Putter, v uint64) error {
	return m.putU64(p, keySnapshotRetainedFloor, v)
}

func (m metaStore) chunkBytes(g kv.Getter) (uint32, error) {
	return m.getU32(g, keyChunkBytes, defaultChunkBytes)
}

func (m metaStore) putChunkBytes(p kv.Putter, v uint32) error {
	return m.putU32(p, keyChunkBytes, v)
}

func (m metaStore) checkpointChunkBatch(g kv.Getter) (uint32, error) {
	return m.getU32(g, keyCheckpointChunkBatch, defaultCheckpointChunkBatch)
}

func (m metaStore) putCheckpointChunkBatch(p kv.Putter, v uint32) error {
	return m.putU32(p, keyCheckpointChunkBatch, v)
}

func (m metaStore) snapshotRetentionCount(g kv.Getter) (uint32, error) {
	return m.getU32(g, keySnapshotRetentionCount, defaultSnapshotRetentionCount)
}

func (m metaStore) putSnapshotRetentionCount(p kv.Putter, v uint32) error {
	return m.putU32(p, keySnapshotRetentionCount, v)
}

// chunkCompression reports whether snapshot payloads are zstd-compressed
// before chunking (SPEC_FULL.md §2 "Snapshot chunk compression"). Off by
// default so R2's snapshot round-trip law holds trivially at the default.
func (m metaStore) chunkCompression(g kv.Getter) (bool, error) {
	v, err := m.getU32(g, keyChunkCompression, 0)

	return v != 0, err
}

func (m metaStore) putChunkCompression(p kv.Putter, enabled bool) error {
	var v uint32
	if enabled {
		v = 1
	}

	return m.putU32(p, keyChunkCompression, v)
}

// sealedLogSeq is the 24-byte record (token hi, token lo, log_seq).
type sealedLogSeqRecord struct {
	tok    token
	logSeq uint64
}

func (m metaStore) sealedLogSeq(g kv.Getter) (sealedLogSeqRecord, bool, error) {
	v, found, err := g.Get(m.table, []byte(keySealedLogSeq))
	if err != nil || !found {
		return sealedLogSeqRecord{}, found, err
	}

	if len(v) != 24 {
		return sealedLogSeqRecord{}, false, corruptErrorf("sealed_log_seq: want 24 bytes, got %d", len(v))
	}

	return sealedLogSeqRecord{
		tok:    token{hi: getU64(v[0:8]), lo: getU64(v[8:16])},
		logSeq: getU64(v[16:24]),
	}, true, nil
}

func (m metaStore) putSealedLogSeq(p kv.Putter, rec sealedLogSeqRecord) error {
	b := make([]byte, 0, 24)
	b = appendU64(b, rec.tok.hi)
	b = appendU64(b, rec.tok.lo)
	b = appendU64(b, rec.logSeq)

	return p.Put(m.table, []byte(keySealedLogSeq), b)
}

// publishedLogTail is the 24-byte record (token hi, token lo, ordinal).
type publishedLogTailRecord struct {
	tok     token
	ordinal uint64
}

func (m metaStore) publishedLogTail(g kv.Getter) (publishedLogTailRecord, bool, error) {
	v, found, err := g.Get(m.table, []byte(keyPublishedLogTail))
	if err != nil || !found {
		return publishedLogTailRecord{}, found, err
	}

	if len(v) != 24 {
		return publishedLogTailRecord{}, false, corruptErrorf("published_log_tail: want 24 bytes, got %d", len(v))
	}

	return publishedLogTailRecord{
		tok:     token{hi: getU64(v[0:8]), lo: getU64(v[8:16])},
		ordinal: getU64(v[16:24]),
	}, true, nil
}

func (m metaStore) putPublishedLogTail(p kv.Putter, rec publishedLogTailRecord) error {
	b := make([]byte, 0, 24)
	b = appendU64(b, rec.tok.hi)
	b = appendU64(b, rec.tok.lo)
	b = appendU64(b, rec.ordinal)

	return p.Put(m.table, []byte(keyPublishedLogTail), b)
}

// checkpointStage enumerates the checkpoint state machine's stages
// (spec.md §4.7).
type checkpointStage uint8

const (
	stageNone checkpointStage = iota
	stageInit
	stageWriting
	stageFinalizing
)

// checkpointPendingRecord is the 32-byte resumable checkpoint record
// (spec.md §3 "Checkpoint pending record", §6.1).
type checkpointPendingRecord struct {
	version     uint8
	stage       checkpointStage
	chunkCursor uint32
	snapshotSeq uint64
	writer      token
}

func (m metaStore) checkpointPending(g kv.Getter) (checkpointPendingRecord, bool, error) {
	v, found, err := g.Get(m.table, []byte(keyCheckpointPending))
	if err != nil || !found {
		return checkpointPendingRecord{}, found, err
	}

	if len(v) != 32 {
		return checkpointPendingRecord{}, false, corruptErrorf("checkpoint_pending: want 32 bytes, got %d", len(v))
	}

	return checkpointPendingRecord{
		version:     v[0],
		stage:       checkpointStage(v[1]),
		chunkCursor: getU32(v[4:8]),
		snapshotSeq: getU64(v[8:16]),
		writer:      token{hi: getU64(v[16:24]), lo: getU64(v[24:32])},
	}, true, nil
}

func (m metaStore) putCheckpointPending(p kv.Putter, rec checkpointPendingRecord) error {
	b := make([]byte, 32)
	b[0] = rec.version
	b[1] = byte(rec.stage)
	putU32(b[4:8], rec.chunkCursor)
	putU64(b[8:16], rec.snapshotSeq)
	putU64(b[16:24], rec.writer.hi)
	putU64(b[24:32], rec.writer.lo)

	return p.Put(m.table, []byte(keyCheckpointPending), b)
}

func (m metaStore) deleteCheckpointPending(p kv.Putter) error {
	return p.Delete(m.table, []byte(keyCheckpointPending))
}

// initOptions is the 44-byte packed index construction record (spec.md §3,
// §6.1 "Init options record").
func (m metaStore) initOptions(g kv.Getter) (annindex.InitOptions, bool, error) {
	v, found, err := g.Get(m.table, []byte(keyInit))
	if err != nil || !found {
		return annindex.InitOptions{}, found, err
	}

	if len(v) != 44 {
		return annindex.InitOptions{}, false, corruptErrorf("init: want 44 bytes, got %d", len(v))
	}

	return annindex.InitOptions{
		Multi:           v[1] != 0,
		Metric:          annindex.MetricKind(getU32(v[4:8])),
		Quantization:    annindex.ScalarKind(getU32(v[8:12])),
		Dimensions:      getU64(v[12:20]),
		Connectivity:    getU64(v[20:28]),
		ExpansionAdd:    getU64(v[28:36]),
		ExpansionSearch: getU64(v[36:44]),
	}, true, nil
}

func (m metaStore) putInitOptions(p kv.Putter, opts annindex.InitOptions) error {
	b := make([]byte, 44)
	b[0] = 1

	if opts.Multi {
		b[1] = 1
	}

	putU32(b[4:8], uint32(opts.Metric))
	putU32(b[8:12], uint32(opts.Quantization))
	putU64(b[12:20], opts.Dimensions)
	putU64(b[20:28], opts.Connectivity)
	putU64(b[28:36], opts.ExpansionAdd)
	putU64(b[36:44], opts.ExpansionSearch)

	return p.Put(m.table, []byte(keyInit), b)
}
