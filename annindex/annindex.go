// Package annindex defines the narrow capability set the persistence domain
// needs from an Approximate-Nearest-Neighbor index: add, remove, contains,
// search, reserve, serialize, deserialize, free (spec.md §9 "Polymorphism").
//
// The domain package never imports a concrete ANN library. It depends on
// [Index], which [github.com/juji-io/dtlv-usearch-domain/annindex/usearch]
// implements over github.com/unum-cloud/usearch/golang, and which
// [github.com/juji-io/dtlv-usearch-domain/annindex/annindextest] implements
// as an in-memory fake for unit tests.
package annindex

import "io"

// MetricKind tags the distance function an index was built with (spec.md
// §6.1 "Init options record").
type MetricKind uint32

// Metric kinds supported by usearch. Values match usearch's own
// metric_kind_t ordinals so InitOptions.Metric round-trips unchanged
// through the 44-byte on-disk record.
const (
	MetricCos MetricKind = iota
	MetricIP
	MetricL2sq
	MetricHaversine
	MetricDivergence
	MetricPearson
	MetricJaccard
	MetricHamming
	MetricTanimoto
	MetricSorensen
)

// ScalarKind tags the quantization of stored vector components.
type ScalarKind uint32

// Scalar kinds supported by usearch.
const (
	ScalarF32 ScalarKind = iota
	ScalarF64
	ScalarF16
	ScalarI8
	ScalarB1
)

// InitOptions are the index construction parameters persisted in meta under
// the `init` key (spec.md §3 "Metadata record", §6.1 "Init options record").
// The 44-byte wire layout is: version(1) multi(1) reserved(2 BE) metric(4 BE)
// quantization(4 BE) dimensions(8 BE) connectivity(8 BE) expansion_add(8 BE)
// expansion_search(8 BE).
type InitOptions struct {
	Multi            bool
	Metric           MetricKind
	Quantization     ScalarKind
	Dimensions       uint64
	Connectivity     uint64
	ExpansionAdd     uint64
	ExpansionSearch  uint64
}

// SearchResult is one match returned by [Index.Search].
type SearchResult struct {
	Key      uint64
	Distance float32
}

// Index is the capability set the domain drives an ANN index through. A
// concrete index is always constructed from [InitOptions] via a Factory; the
// domain never calls a library constructor directly.
type Index interface {
	// Add inserts key with the given vector. Adding a key that is already
	// present returns an error; the handle layer (C10) falls back to
	// remove-then-add on any Add error that is not an argument error
	// (spec.md §4.12 "Apply-delta semantics").
	Add(key uint64, vector []float32) error

	// Remove deletes key. Removing an absent key is not an error.
	Remove(key uint64) error

	// Contains reports whether key is present.
	Contains(key uint64) (bool, error)

	// Search returns up to k nearest neighbors of query.
	Search(query []float32, k int) ([]SearchResult, error)

	// Reserve ensures the index can hold at least n keys without
	// reallocating, the "reserve hint" of spec.md §9.
	Reserve(n uint64) error

	// Len reports the number of keys currently present.
	Len() (uint64, error)

	// Serialize writes the index's full byte representation to w, for
	// chunking into the snapshot catalog (C4).
	Serialize(w io.Writer) error

	// Deserialize replaces the index's contents by reading a byte
	// representation previously produced by Serialize.
	Deserialize(r io.Reader) error

	// Free releases the index's underlying resources. Safe to call once;
	// further use of the index after Free is undefined.
	Free()
}

// Factory constructs a fresh, empty [Index] from init options. Handle
// activation (C10) calls Factory once per build or rebuild.
type Factory func(opts InitOptions) (Index, error)
