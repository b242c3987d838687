// Package usearch adapts github.com/unum-cloud/usearch/golang to the
// [annindex.Index] contract.
package usearch

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	usearch "github.com/unum-cloud/usearch/golang"

	"github.com/juji-io/dtlv-usearch-domain/annindex"
)

// ErrKeyExists reports that Add was called with a key already present in
// the index. The handle layer treats this as non-fatal (spec.md §4.12).
var ErrKeyExists = errors.New("usearch: key exists")

// New builds a [Factory]-compatible constructor over usearch.Index.
func New(opts annindex.InitOptions) (annindex.Index, error) {
	cfg := usearch.DefaultConfig(uint(opts.Dimensions))
	cfg.Metric = toUsearchMetric(opts.Metric)
	cfg.Quantization = toUsearchQuantization(opts.Quantization)
	cfg.Multi = opts.Multi

	if opts.Connectivity != 0 {
		cfg.Connectivity = uint(opts.Connectivity)
	}

	if opts.ExpansionAdd != 0 {
		cfg.ExpansionAdd = uint(opts.ExpansionAdd)
	}

	if opts.ExpansionSearch != 0 {
		cfg.ExpansionSearch = uint(opts.ExpansionSearch)
	}

	idx, err := usearch.NewIndex(cfg)
	if err != nil {
		return nil, fmt.Errorf("usearch: new index: %w", err)
	}

	return &Index{idx: idx, dims: uint(opts.Dimensions)}, nil
}

// Index wraps a *usearch.Index to satisfy [annindex.Index].
type Index struct {
	idx  *usearch.Index
	dims uint
}

func (x *Index) Add(key uint64, vector []float32) error {
	if err := x.idx.Add(usearch.Key(key), vector); err != nil {
		if isDuplicateKey(err) {
			return fmt.Errorf("%w: key %d: %w", ErrKeyExists, key, err)
		}

		return fmt.Errorf("usearch: add %d: %w", key, err)
	}

	return nil
}

func (x *Index) Remove(key uint64) error {
	if err := x.idx.Remove(usearch.Key(key)); err != nil {
		if isNotFoundKey(err) {
			return nil
		}

		return fmt.Errorf("usearch: remove %d: %w", key, err)
	}

	return nil
}

func (x *Index) Contains(key uint64) (bool, error) {
	ok, err := x.idx.Contains(usearch.Key(key))
	if err != nil {
		return false, fmt.Errorf("usearch: contains %d: %w", key, err)
	}

	return ok, nil
}

func (x *Index) Search(query []float32, k int) ([]annindex.SearchResult, error) {
	keys, distances, err := x.idx.Search(query, uint(k))
	if err != nil {
		return nil, fmt.Errorf("usearch: search: %w", err)
	}

	out := make([]annindex.SearchResult, len(keys))
	for i := range keys {
		out[i] = annindex.SearchResult{Key: uint64(keys[i]), Distance: distances[i]}
	}

	return out, nil
}

func (x *Index) Reserve(n uint64) error {
	if n == 0 {
		n = 1
	}

	if err := x.idx.Reserve(uint(n)); err != nil {
		return fmt.Errorf("usearch: reserve %d: %w", n, err)
	}

	return nil
}

func (x *Index) Len() (uint64, error) {
	n, err := x.idx.Len()
	if err != nil {
		return 0, fmt.Errorf("usearch: len: %w", err)
	}

	return uint64(n), nil
}

func (x *Index) Serialize(w io.Writer) error {
	buf, err := x.idx.SaveToBuffer()
	if err != nil {
		return fmt.Errorf("usearch: serialize: %w", err)
	}

	_, err = w.Write(buf)
	if err != nil {
		return fmt.Errorf("usearch: write serialized buffer: %w", err)
	}

	return nil
}

func (x *Index) Deserialize(r io.Reader) error {
	var buf bytes.Buffer

	if _, err := io.Copy(&buf, r); err != nil {
		return fmt.Errorf("usearch: read serialized buffer: %w", err)
	}

	if buf.Len() == 0 {
		return nil
	}

	if err := x.idx.LoadFromBuffer(buf.Bytes()); err != nil {
		return fmt.Errorf("usearch: deserialize: %w", err)
	}

	return nil
}

func (x *Index) Free() {
	_ = x.idx.Destroy()
}

func toUsearchMetric(m annindex.MetricKind) usearch.Metric {
	switch m {
	case annindex.MetricIP:
		return usearch.InnerProduct
	case annindex.MetricL2sq:
		return usearch.L2sq
	case annindex.MetricHaversine:
		return usearch.Haversine
	case annindex.MetricPearson:
		return usearch.Pearson
	case annindex.MetricJaccard:
		return usearch.Jaccard
	case annindex.MetricHamming:
		return usearch.Hamming
	case annindex.MetricTanimoto:
		return usearch.Tanimoto
	case annindex.MetricSorensen:
		return usearch.Sorensen
	case annindex.MetricCos, annindex.MetricDivergence:
		fallthrough
	default:
		return usearch.Cos
	}
}

func toUsearchQuantization(s annindex.ScalarKind) usearch.Quantization {
	switch s {
	case annindex.ScalarF64:
		return usearch.F64
	case annindex.ScalarF16:
		return usearch.F16
	case annindex.ScalarI8:
		return usearch.I8
	case annindex.ScalarB1:
		return usearch.B1
	case annindex.ScalarF32:
		fallthrough
	default:
		return usearch.F32
	}
}

// isDuplicateKey and isNotFoundKey classify usearch's C-level error strings.
// The Go bindings surface libusearch errors as plain fmt.Errorf-wrapped
// strings rather than sentinels, so substring matching is the only
// available signal — mirrored from the same pattern the bindings' own
// tests use to assert on error kinds.
func isDuplicateKey(err error) bool {
	return containsAny(err.Error(), "duplicate", "already contains", "exists")
}

func isNotFoundKey(err error) bool {
	return containsAny(err.Error(), "not found", "missing", "absent")
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if len(s) >= len(sub) && indexOf(s, sub) >= 0 {
			return true
		}
	}

	return false
}

func indexOf(s, sub string) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return i
		}
	}

	return -1
}

var _ annindex.Index = (*Index)(nil)
