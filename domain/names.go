package domain

import (
	"fmt"
	"path/filepath"
)

// Sub-database names (spec.md §6.3). The "/" delimiter is literal and must
// not be reinterpreted by the KV engine as a path separator — mdbx treats
// DBI names as opaque strings, so this is safe.
const (
	metaTableSuffix     = "usearch-meta"
	deltaTableSuffix    = "usearch-delta"
	snapshotTableSuffix = "usearch-snapshot"
)

func metaTable(domainName string) string     { return fmt.Sprintf("%s/%s", domainName, metaTableSuffix) }
func deltaTable(domainName string) string    { return fmt.Sprintf("%s/%s", domainName, deltaTableSuffix) }
func snapshotTable(domainName string) string { return fmt.Sprintf("%s/%s", domainName, snapshotTableSuffix) }

// Filesystem layout (spec.md §6.2).
const (
	pendingDirName = "pending"
	pinFileName    = "reader-pins.lock"

	walOpenSuffix   = ".ulog.open"
	walSealedSuffix = ".ulog"
	walReadySuffix  = ".ulog.sealed"
)

func pendingDir(fsRoot string) string { return filepath.Join(fsRoot, pendingDirName) }
func pinFilePath(fsRoot string) string { return filepath.Join(fsRoot, pinFileName) }

func walOpenPath(fsRoot string, t token) string {
	return filepath.Join(pendingDir(fsRoot), t.hex()+walOpenSuffix)
}

func walSealedPath(fsRoot string, t token) string {
	return filepath.Join(pendingDir(fsRoot), t.hex()+walSealedSuffix)
}

func walReadyPath(fsRoot string, t token) string {
	return filepath.Join(pendingDir(fsRoot), t.hex()+walReadySuffix)
}
