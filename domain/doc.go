// Package domain is the crash-safe vector-index persistence layer: a
// metadata schema, delta log, chunked snapshot storage, checkpoint state
// machine, and reader-pin map sitting on top of an external KV engine
// ([github.com/juji-io/dtlv-usearch-domain/kv]) and ANN index
// ([github.com/juji-io/dtlv-usearch-domain/annindex]).
//
// The lifecycle is: [Open] a [Domain] once per (KV environment, domain
// name, filesystem root); [Domain.Activate] one or more [Handle]s; stage
// updates through a [Txn] opened with [Domain.BeginTxn] inside a host KV
// read-write transaction; [Txn.ApplyPending] before the host commits,
// [Txn.Publish] after; periodically run a [Checkpoint] to compact the
// delta log into a new snapshot; [Domain.Close] to deactivate every handle
// and release resources.
package domain
