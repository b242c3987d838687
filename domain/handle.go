package domain

import (
	"bytes"
	"context"
	"errors"

	"github.com/juji-io/dtlv-usearch-domain/annindex"
	"github.com/juji-io/dtlv-usearch-domain/kv"
)

// Handle is C10: an in-process value representing one opened ANN index for
// one domain (spec.md §3 "Handle").
type Handle struct {
	dom *Domain

	idx         annindex.Index
	scalarKind  annindex.ScalarKind
	snapshotSeq uint64
	logSeq      uint64

	prev, next *Handle

	deactivated bool
}

// reserveHint chooses max(snapshotSeq, logSeq, 16): a monotone function of
// both values that is never zero (spec.md §9 "Reserve hint").
func reserveHint(snapshotSeq, logSeq uint64) uint64 {
	h := uint64(16)
	if snapshotSeq > h {
		h = snapshotSeq
	}

	if logSeq > h {
		h = logSeq
	}

	return h
}

// Activate implements spec.md §4.12 Activate.
func (d *Domain) Activate(ctx context.Context) (*Handle, error) {
	if d.closed {
		return nil, ErrClosed
	}

	var (
		h           *Handle
		snapshotSeq uint64
		logSeq      uint64
	)

	err := d.kvdb.View(ctx, func(tx kv.Tx) error {
		version, err := d.meta.schemaVersion(tx)
		if err != nil {
			return err
		}

		if version != schemaVersion {
			return corruptErrorf("schema_version mismatch: want %d, got %d", schemaVersion, version)
		}

		opts, found, err := d.meta.initOptions(tx)
		if err != nil {
			return err
		}

		if !found {
			return notFoundErrorf("init options not set")
		}

		snapshotSeq, err = d.meta.snapshotSeq(tx)
		if err != nil {
			return err
		}

		logSeq, err = d.meta.logSeq(tx)
		if err != nil {
			return err
		}

		idx, err := d.indexFactory(opts)
		if err != nil {
			return err
		}

		snapshotBytes, err := d.snapshotCatalog.load(tx, snapshotSeq)
		if err != nil {
			idx.Free()

			return err
		}

		if len(snapshotBytes) > 0 {
			compress, err := d.meta.chunkCompression(tx)
			if err != nil {
				idx.Free()

				return err
			}

			if compress {
				snapshotBytes, err = decompressSnapshot(snapshotBytes)
				if err != nil {
					idx.Free()

					return err
				}
			}

			if err := idx.Deserialize(bytes.NewReader(snapshotBytes)); err != nil {
				idx.Free()

				return err
			}
		}

		if err := idx.Reserve(reserveHint(snapshotSeq, logSeq)); err != nil {
			idx.Free()

			return err
		}

		if err := d.deltaLog.replay(tx, snapshotSeq, logSeq, func(_ uint64, e deltaEntry) error {
			return applyDeltaToIndex(idx, e)
		}); err != nil {
			idx.Free()

			return err
		}

		h = &Handle{dom: d, idx: idx, scalarKind: opts.Quantization, snapshotSeq: snapshotSeq, logSeq: logSeq}

		return nil
	})
	if err != nil {
		return nil, err
	}

	d.linkHandle(h)

	return h, nil
}

// Refresh implements spec.md §4.12 Refresh.
func (h *Handle) Refresh(ctx context.Context) error {
	if h.deactivated {
		return ErrClosed
	}

	return h.dom.kvdb.View(ctx, func(tx kv.Tx) error {
		sPrime, err := h.dom.meta.snapshotSeq(tx)
		if err != nil {
			return err
		}

		lPrime, err := h.dom.meta.logSeq(tx)
		if err != nil {
			return err
		}

		if sPrime > h.snapshotSeq || lPrime < h.logSeq {
			return h.rebuild(tx, sPrime, lPrime)
		}

		if lPrime > h.logSeq {
			if err := h.dom.deltaLog.replay(tx, h.logSeq+1, lPrime, func(_ uint64, e deltaEntry) error {
				return applyDeltaToIndex(h.idx, e)
			}); err != nil {
				return err
			}

			h.logSeq = lPrime
		}

		return nil
	})
}

func (h *Handle) rebuild(tx kv.Tx, snapshotSeq, logSeq uint64) error {
	opts, found, err := h.dom.meta.initOptions(tx)
	if err != nil {
		return err
	}

	if !found {
		return notFoundErrorf("init options not set")
	}

	idx, err := h.dom.indexFactory(opts)
	if err != nil {
		return err
	}

	snapshotBytes, err := h.dom.snapshotCatalog.load(tx, snapshotSeq)
	if err != nil {
		idx.Free()

		return err
	}

	if len(snapshotBytes) > 0 {
		compress, err := h.dom.meta.chunkCompression(tx)
		if err != nil {
			idx.Free()

			return err
		}

		if compress {
			snapshotBytes, err = decompressSnapshot(snapshotBytes)
			if err != nil {
				idx.Free()

				return err
			}
		}

		if err := idx.Deserialize(bytes.NewReader(snapshotBytes)); err != nil {
			idx.Free()

			return err
		}
	}

	if err := idx.Reserve(reserveHint(snapshotSeq, logSeq)); err != nil {
		idx.Free()

		return err
	}

	if err := h.dom.deltaLog.replay(tx, snapshotSeq, logSeq, func(_ uint64, e deltaEntry) error {
		return applyDeltaToIndex(idx, e)
	}); err != nil {
		idx.Free()

		return err
	}

	old := h.idx
	h.idx = idx
	h.scalarKind = opts.Quantization
	h.snapshotSeq = snapshotSeq
	h.logSeq = logSeq
	old.Free()

	return nil
}

// applyDeltaToIndex implements spec.md §4.12 "Apply-delta semantics".
func applyDeltaToIndex(idx annindex.Index, e deltaEntry) error {
	key, err := deltaKeyAsUint64(e.key)
	if err != nil {
		return err
	}

	switch e.op {
	case deltaAdd:
		vec, err := decodeVector(e.payload)
		if err != nil {
			return err
		}

		if err := idx.Add(key, vec); err != nil {
			if errors.Is(err, ErrArgument) {
				return err
			}
			// Pre-existing key: fall back to remove-then-add, idempotent
			// on republish (spec.md §4.12 "ADD").
			if rmErr := idx.Remove(key); rmErr != nil {
				return rmErr
			}

			return idx.Add(key, vec)
		}

		return nil

	case deltaReplace:
		vec, err := decodeVector(e.payload)
		if err != nil {
			return err
		}

		if err := idx.Remove(key); err != nil {
			return err
		}

		return idx.Add(key, vec)

	case deltaDelete:
		return idx.Remove(key)

	default:
		return corruptErrorf("apply delta: unknown op %d", e.op)
	}
}

// deltaKeyAsUint64 decodes the canonical 8-byte big-endian vector key
// (spec.md §3 "Delta entry": "key_len == 8 for the canonical 64-bit vector
// key").
func deltaKeyAsUint64(key []byte) (uint64, error) {
	if len(key) != 8 {
		return 0, argErrorf("delta key must be 8 bytes, got %d", len(key))
	}

	return getU64(key), nil
}

// EncodeVector packs a dense vector into the big-endian float32 payload
// format ADD and REPLACE updates carry.
func EncodeVector(vector []float32) []byte {
	out := make([]byte, len(vector)*4)

	for i, f := range vector {
		encodeFloat32(out[i*4:i*4+4], f)
	}

	return out
}

// decodeVector interprets a delta payload as a dense vector: big-endian
// float32 components, packed with no padding.
func decodeVector(payload []byte) ([]float32, error) {
	if len(payload)%4 != 0 {
		return nil, corruptErrorf("delta payload length %d is not a multiple of 4", len(payload))
	}

	out := make([]float32, len(payload)/4)

	for i := range out {
		out[i] = decodeFloat32(payload[i*4 : i*4+4])
	}

	return out, nil
}

// Deactivate implements spec.md §4.12 Deactivate.
func (h *Handle) Deactivate() {
	if h.deactivated {
		return
	}

	h.deactivated = true
	h.dom.unlinkHandle(h)
	h.idx.Free()
}

// Contains, Search expose the underlying index for read access; the domain
// never requires callers to reach past the handle to touch the index
// directly.
func (h *Handle) Contains(key uint64) (bool, error) { return h.idx.Contains(key) }

func (h *Handle) Search(query []float32, k int) ([]annindex.SearchResult, error) {
	return h.idx.Search(query, k)
}

func (h *Handle) Baseline() (snapshotSeq, logSeq uint64) { return h.snapshotSeq, h.logSeq }

// Index exposes the underlying ANN index so a [Checkpoint] can serialize it.
// Callers must not call Free on the returned value; the handle still owns
// it.
func (h *Handle) Index() annindex.Index { return h.idx }
