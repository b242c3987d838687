package main

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/natefinch/atomic"
)

const checkpointStateFile = "last-checkpoint.txt"

// writeCheckpointState records the most recent checkpoint's coordinates in
// a small local state file, written atomically so a crash mid-write never
// leaves a truncated file behind for the next invocation to trip over.
func writeCheckpointState(cfg Config, snapshotSeq, logTailSeq uint64) error {
	path := filepath.Join(cfg.FSRoot, checkpointStateFile)
	content := fmt.Sprintf("snapshot_seq=%d\nlog_tail_seq=%d\n", snapshotSeq, logTailSeq)

	return atomic.WriteFile(path, strings.NewReader(content))
}
