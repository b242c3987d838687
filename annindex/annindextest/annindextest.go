// Package annindextest is an in-memory fake of [annindex.Index] for the
// domain package's own test suite. It has no relationship to
// github.com/unum-cloud/usearch and performs no real nearest-neighbor
// search — Search returns matches ordered by squared Euclidean distance,
// which is enough to exercise handle convergence (spec.md P6) without a
// real ANN library.
package annindextest

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"sort"

	"github.com/juji-io/dtlv-usearch-domain/annindex"
)

// Index is a fake ANN index backed by a plain map.
type Index struct {
	opts     annindex.InitOptions
	vectors  map[uint64][]float32
	reserved uint64
	freed    bool

	// AddCalls, RemoveCalls, and KeyExistsHits count operations so domain
	// tests can assert on the remove-then-add fallback path (spec.md
	// §4.12) without inspecting internal state.
	AddCalls      int
	RemoveCalls   int
	KeyExistsHits int
}

// New implements [annindex.Factory].
func New(opts annindex.InitOptions) (annindex.Index, error) {
	return &Index{opts: opts, vectors: make(map[uint64][]float32)}, nil
}

func (x *Index) Add(key uint64, vector []float32) error {
	x.AddCalls++

	if _, exists := x.vectors[key]; exists {
		x.KeyExistsHits++

		return fmt.Errorf("annindextest: key %d already exists", key)
	}

	x.vectors[key] = append([]float32(nil), vector...)

	return nil
}

func (x *Index) Remove(key uint64) error {
	x.RemoveCalls++
	delete(x.vectors, key)

	return nil
}

func (x *Index) Contains(key uint64) (bool, error) {
	_, ok := x.vectors[key]

	return ok, nil
}

func (x *Index) Search(query []float32, k int) ([]annindex.SearchResult, error) {
	results := make([]annindex.SearchResult, 0, len(x.vectors))

	for key, v := range x.vectors {
		results = append(results, annindex.SearchResult{Key: key, Distance: sqDist(query, v)})
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].Distance != results[j].Distance {
			return results[i].Distance < results[j].Distance
		}

		return results[i].Key < results[j].Key
	})

	if k < len(results) {
		results = results[:k]
	}

	return results, nil
}

func (x *Index) Reserve(n uint64) error {
	if n == 0 {
		return fmt.Errorf("annindextest: reserve hint must not be zero")
	}

	x.reserved = n

	return nil
}

func (x *Index) Len() (uint64, error) {
	return uint64(len(x.vectors)), nil
}

// Serialize writes a trivial length-prefixed record-per-key format: a
// fake index has no real binary layout to match, so the wire format only
// needs to be stable enough for Deserialize to round-trip (R2).
func (x *Index) Serialize(w io.Writer) error {
	bw := bufio.NewWriter(w)

	keys := make([]uint64, 0, len(x.vectors))
	for k := range x.vectors {
		keys = append(keys, k)
	}

	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	var hdr [8]byte
	binary.BigEndian.PutUint64(hdr[:], uint64(len(keys)))

	if _, err := bw.Write(hdr[:]); err != nil {
		return err
	}

	for _, k := range keys {
		v := x.vectors[k]

		var rec [16]byte
		binary.BigEndian.PutUint64(rec[0:8], k)
		binary.BigEndian.PutUint32(rec[8:12], uint32(len(v)))

		if _, err := bw.Write(rec[:12]); err != nil {
			return err
		}

		for _, f := range v {
			binary.BigEndian.PutUint32(rec[:4], math.Float32bits(f))

			if _, err := bw.Write(rec[:4]); err != nil {
				return err
			}
		}
	}

	return bw.Flush()
}

func (x *Index) Deserialize(r io.Reader) error {
	br := bufio.NewReader(r)

	var hdr [8]byte

	_, err := io.ReadFull(br, hdr[:])
	if err == io.EOF {
		return nil
	}

	if err != nil {
		return fmt.Errorf("annindextest: read header: %w", err)
	}

	count := binary.BigEndian.Uint64(hdr[:])
	vectors := make(map[uint64][]float32, count)

	for i := uint64(0); i < count; i++ {
		var rec [12]byte

		if _, err := io.ReadFull(br, rec[:]); err != nil {
			return fmt.Errorf("annindextest: read record %d: %w", i, err)
		}

		key := binary.BigEndian.Uint64(rec[0:8])
		n := binary.BigEndian.Uint32(rec[8:12])
		vec := make([]float32, n)

		for j := uint32(0); j < n; j++ {
			var fb [4]byte

			if _, err := io.ReadFull(br, fb[:]); err != nil {
				return fmt.Errorf("annindextest: read component %d of record %d: %w", j, i, err)
			}

			vec[j] = math.Float32frombits(binary.BigEndian.Uint32(fb[:]))
		}

		vectors[key] = vec
	}

	x.vectors = vectors

	return nil
}

func (x *Index) Free() {
	x.freed = true
	x.vectors = nil
}

func sqDist(a, b []float32) float32 {
	var sum float32

	n := len(a)
	if len(b) < n {
		n = len(b)
	}

	for i := 0; i < n; i++ {
		d := a[i] - b[i]
		sum += d * d
	}

	return sum
}

var _ annindex.Index = (*Index)(nil)
