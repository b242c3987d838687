package domain

import (
	"github.com/juji-io/dtlv-usearch-domain/kv"
)

// Update is a caller-supplied staged change (spec.md §4.11 "Stage").
type Update struct {
	Op      deltaOp
	Key     []byte
	Payload []byte
}

// NewAdd, NewReplace, and NewDelete build well-formed [Update] values.
func NewAdd(key, payload []byte) Update     { return Update{Op: deltaAdd, Key: key, Payload: payload} }
func NewReplace(key, payload []byte) Update { return Update{Op: deltaReplace, Key: key, Payload: payload} }
func NewDelete(key []byte) Update           { return Update{Op: deltaDelete, Key: key} }

// Txn is C9: a per-host-transaction staging context. It exists for at most
// one host KV transaction at a time and exclusively owns its WAL writer
// until Publish or Abort (spec.md §3 "Transaction context").
type Txn struct {
	dom *Domain
	tx  kv.RwTx

	wal         *WALWriter
	logSeqHead  uint64
	snapshotSeq uint64
	frames      uint32
	tok         token

	closed bool
}

// newTxn constructs the context lazily: the WAL writer and log_seq
// baseline are established on the first Stage call (spec.md §4.11: "First
// call in this transaction...").
func newTxn(dom *Domain, tx kv.RwTx) *Txn {
	return &Txn{dom: dom, tx: tx}
}

// Stage implements spec.md §4.11 Stage.
func (t *Txn) Stage(tx kv.RwTx, u Update) error {
	if t.closed {
		return ErrClosed
	}

	if tx != t.tx {
		return argErrorf("stage: host transaction handle does not match the one this context was opened with")
	}

	if t.wal == nil {
		if err := t.ensureOpened(); err != nil {
			return err
		}
	}

	if len(u.Key) == 0 {
		return argErrorf("stage: key must be nonempty")
	}

	if u.Op == deltaDelete && len(u.Payload) != 0 {
		return argErrorf("stage: DELETE must not carry a payload")
	}

	if u.Op != deltaDelete && len(u.Payload) == 0 {
		return argErrorf("stage: %s requires a nonempty payload", deltaOpName(u.Op))
	}

	if len(u.Payload) > (1<<32)-1 {
		return argErrorf("stage: payload_len exceeds 2^32-1")
	}

	ordinal := t.frames + 1

	entry := deltaEntry{
		version: 1,
		op:      u.Op,
		ordinal: ordinal,
		tok:     t.tok,
		key:     u.Key,
		payload: u.Payload,
	}

	encoded, err := encodeDelta(entry)
	if err != nil {
		return err
	}

	nextLogSeq := t.logSeqHead + 1

	if err := t.dom.deltaLog.append(tx, nextLogSeq, encoded); err != nil {
		return err
	}

	if err := t.dom.meta.putLogSeq(tx, nextLogSeq); err != nil {
		return err
	}

	if _, err := t.wal.Append(encoded); err != nil {
		return err
	}

	t.logSeqHead = nextLogSeq
	t.frames = ordinal

	return nil
}

func (t *Txn) ensureOpened() error {
	logSeq, err := t.dom.meta.logSeq(t.tx)
	if err != nil {
		return err
	}

	snapshotSeq, err := t.dom.meta.snapshotSeq(t.tx)
	if err != nil {
		return err
	}

	wal, err := openWAL(t.dom.fs, t.dom.fsRoot, snapshotSeq, logSeq)
	if err != nil {
		return err
	}

	hi, lo := wal.Token()

	t.wal = wal
	t.logSeqHead = logSeq
	t.snapshotSeq = snapshotSeq
	t.frames = 0
	t.tok = token{hi: hi, lo: lo}

	return nil
}

// ApplyPending implements spec.md §4.11 "Apply-pending": called by the
// caller before commit, when at least one frame has been appended. Seals
// the WAL and records sealed_log_seq in the same host transaction.
func (t *Txn) ApplyPending(tx kv.RwTx) error {
	if t.closed {
		return ErrClosed
	}

	if t.wal == nil || t.frames == 0 {
		return nil
	}

	if tx != t.tx {
		return argErrorf("apply-pending: host transaction handle mismatch")
	}

	if err := t.wal.Seal(); err != nil {
		return err
	}

	return t.dom.meta.putSealedLogSeq(tx, sealedLogSeqRecord{tok: t.tok, logSeq: t.logSeqHead})
}

// Publish implements spec.md §4.11 Publish: called by the caller after the
// host KV transaction commits. Marks the WAL ready, then replays it into
// every live handle, advancing published_log_tail.
func (t *Txn) Publish(unlinkAfter bool) error {
	if t.closed {
		return ErrClosed
	}

	defer func() { t.closed = true }()

	if t.wal == nil || t.frames == 0 {
		return nil
	}

	if err := t.wal.MarkReady(); err != nil {
		return err
	}

	published, hasPublished, err := t.dom.viewPublishedLogTail()
	if err != nil {
		return err
	}

	startOrdinal := uint32(1)
	if hasPublished && published.tok.equal(t.tok) {
		startOrdinal = uint32(published.ordinal) + 1
	}

	_, err = replayWAL(t.dom.fs, t.wal.Path(), t.tok, startOrdinal, unlinkAfter, func(ordinal uint32, logSeq uint64, e deltaEntry) error {
		return t.dom.applyAndRecordPublish(t.tok, ordinal, e)
	})
	if err != nil {
		return err
	}

	t.wal.Close(false)

	return nil
}

// Abort implements spec.md §4.11 Abort: closes the WAL with
// best_effort_delete=true and drops the context.
func (t *Txn) Abort() {
	if t.closed {
		return
	}

	t.closed = true

	if t.wal != nil {
		t.wal.Close(true)
	}
}
