package domain

import (
	"context"

	"github.com/juji-io/dtlv-usearch-domain/kv"
)

// RetentionConfig surfaces the configurable knobs of spec.md §6.4 as a
// typed struct for callers (e.g. the CLI) that want to read or adjust them
// without poking at meta keys directly.
type RetentionConfig struct {
	ChunkBytes             uint32
	CheckpointChunkBatch   uint32
	SnapshotRetentionCount uint32
}

// GetRetentionConfig reads the current configuration knobs.
func (d *Domain) GetRetentionConfig(ctx context.Context) (RetentionConfig, error) {
	var cfg RetentionConfig

	err := d.kvdb.View(ctx, func(tx kv.Tx) error {
		var err error

		cfg.ChunkBytes, err = d.meta.chunkBytes(tx)
		if err != nil {
			return err
		}

		cfg.CheckpointChunkBatch, err = d.meta.checkpointChunkBatch(tx)
		if err != nil {
			return err
		}

		cfg.SnapshotRetentionCount, err = d.meta.snapshotRetentionCount(tx)

		return err
	})

	return cfg, err
}

// SetRetentionConfig overwrites the configuration knobs in one
// transaction. Zero fields are treated as "leave unchanged" by the caller
// passing the current value back (meta writes are always full-record
// overwrites, per §4.3).
func (d *Domain) SetRetentionConfig(ctx context.Context, cfg RetentionConfig) error {
	return d.kvdb.Update(ctx, func(tx kv.RwTx) error {
		if err := d.meta.putChunkBytes(tx, cfg.ChunkBytes); err != nil {
			return err
		}

		if err := d.meta.putCheckpointChunkBatch(tx, cfg.CheckpointChunkBatch); err != nil {
			return err
		}

		return d.meta.putSnapshotRetentionCount(tx, cfg.SnapshotRetentionCount)
	})
}

// Default reader-pin TTL and heartbeat (spec.md §6.4, process-local
// defaults, not persisted).
const (
	DefaultPinTTLMillis       = 60_000
	DefaultPinHeartbeatMillis = 5_000
)
