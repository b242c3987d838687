// dtlvusearchctl is an operator CLI for a vector-index persistence domain:
// opening it, inspecting its checkpoint/retention state, driving a
// checkpoint by hand, and an interactive REPL for poking at a live handle.
//
// Usage:
//
//	dtlvusearchctl [-c <config>] status
//	dtlvusearchctl [-c <config>] set-retention [flags]
//	dtlvusearchctl [-c <config>] checkpoint
//	dtlvusearchctl [-c <config>] inspect
package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	flag "github.com/spf13/pflag"

	"github.com/juji-io/dtlv-usearch-domain/annindex"
	usearchadapter "github.com/juji-io/dtlv-usearch-domain/annindex/usearch"
	"github.com/juji-io/dtlv-usearch-domain/domain"
	"github.com/juji-io/dtlv-usearch-domain/kv"
	"github.com/juji-io/dtlv-usearch-domain/kv/mdbxkv"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	globalFlags := flag.NewFlagSet("dtlvusearchctl", flag.ContinueOnError)
	globalFlags.SetOutput(&strings.Builder{})
	// Stop at the command name so its own flags reach the command's FlagSet.
	globalFlags.SetInterspersed(false)
	configPath := globalFlags.StringP("config", "c", "", "path to config file (hujson)")

	if err := globalFlags.Parse(args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}

	rest := globalFlags.Args()
	if len(rest) == 0 {
		printUsage()
		return 1
	}

	cfg, err := LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}

	cmdName, cmdArgs := rest[0], rest[1:]

	ctx := context.Background()

	switch cmdName {
	case "status":
		return cmdStatus(ctx, cfg, cmdArgs)
	case "set-retention":
		return cmdSetRetention(ctx, cfg, cmdArgs)
	case "checkpoint":
		return cmdCheckpoint(ctx, cfg, cmdArgs)
	case "inspect":
		return cmdInspect(ctx, cfg, cmdArgs)
	case "help", "-h", "--help":
		printUsage()
		return 0
	default:
		fmt.Fprintf(os.Stderr, "error: unknown command %q\n\n", cmdName)
		printUsage()

		return 1
	}
}

func printUsage() {
	fmt.Println("Usage: dtlvusearchctl [-c <config>] <command> [flags]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  status          Show schema, retention, and checkpoint state")
	fmt.Println("  set-retention   Update chunk-bytes / chunk-batch / retention-count")
	fmt.Println("  checkpoint      Run a full write-snapshot + finalize cycle")
	fmt.Println("  inspect         Interactive REPL over an activated handle")
}

// openDomain wires the mdbx KV adapter and the usearch ANN adapter to a
// domain.Domain per cfg, the concrete assembly spec.md leaves to the host
// process (spec.md §1 "external collaborators").
func openDomain(ctx context.Context, cfg Config) (*domain.Domain, kv.RwDB, error) {
	kvdb, err := mdbxkv.Open(mdbxkv.Options{
		Path:      cfg.DataDir,
		MaxTables: 8,
		MapSize:   cfg.MapSizeMB << 20,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("open kv environment: %w", err)
	}

	dom, err := domain.Open(ctx, domain.Options{
		Name:         cfg.Domain,
		FSRoot:       cfg.FSRoot,
		KV:           kvdb,
		IndexFactory: annindex.Factory(usearchadapter.New),
	})
	if err != nil {
		_ = kvdb.Close()

		return nil, nil, fmt.Errorf("open domain %q: %w", cfg.Domain, err)
	}

	return dom, kvdb, nil
}

func cmdStatus(ctx context.Context, cfg Config, _ []string) int {
	dom, kvdb, err := openDomain(ctx, cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}

	defer func() { _ = kvdb.Close() }()
	defer func() { _ = dom.Close() }()

	retention, err := dom.GetRetentionConfig(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}

	fmt.Printf("domain:            %s\n", cfg.Domain)
	fmt.Printf("data dir:          %s\n", cfg.DataDir)
	fmt.Printf("fs root:           %s\n", cfg.FSRoot)
	fmt.Printf("chunk bytes:       %d\n", retention.ChunkBytes)
	fmt.Printf("checkpoint batch:  %d\n", retention.CheckpointChunkBatch)
	fmt.Printf("retention count:   %d\n", retention.SnapshotRetentionCount)

	return 0
}

func cmdSetRetention(ctx context.Context, cfg Config, args []string) int {
	flags := flag.NewFlagSet("set-retention", flag.ContinueOnError)
	flags.SetOutput(&strings.Builder{})

	chunkBytes := flags.Uint32("chunk-bytes", 0, "snapshot chunk size in bytes (0 = leave unchanged)")
	chunkBatch := flags.Uint32("chunk-batch", 0, "sub-transaction chunk batch size (0 = leave unchanged)")
	retentionCount := flags.Uint32("retention-count", 0, "number of snapshots to retain (0 = leave unchanged)")

	if err := flags.Parse(args); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}

	dom, kvdb, err := openDomain(ctx, cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}

	defer func() { _ = kvdb.Close() }()
	defer func() { _ = dom.Close() }()

	current, err := dom.GetRetentionConfig(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}

	if *chunkBytes != 0 {
		current.ChunkBytes = *chunkBytes
	}

	if *chunkBatch != 0 {
		current.CheckpointChunkBatch = *chunkBatch
	}

	if *retentionCount != 0 {
		current.SnapshotRetentionCount = *retentionCount
	}

	if err := dom.SetRetentionConfig(ctx, current); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}

	fmt.Println("retention config updated")

	return 0
}

func cmdCheckpoint(ctx context.Context, cfg Config, _ []string) int {
	dom, kvdb, err := openDomain(ctx, cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}

	defer func() { _ = kvdb.Close() }()
	defer func() { _ = dom.Close() }()

	handle, err := dom.Activate(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error: activate:", err)
		return 1
	}

	defer handle.Deactivate()

	// A checkpoint assigns a fresh snapshot_seq: the handle's current
	// log_seq, the WAL position the in-memory index actually reflects
	// (spec.md §8's own worked example checkpoints at snapshot_seq == the
	// log_seq reached so far).
	_, logSeq := handle.Baseline()
	newSnapshotSeq := logSeq

	cp := domain.NewCheckpoint(dom)

	if err := cp.WriteSnapshot(ctx, handle.Index(), newSnapshotSeq); err != nil {
		fmt.Fprintln(os.Stderr, "error: write snapshot:", err)
		return 1
	}

	if err := cp.Finalize(ctx, newSnapshotSeq, logSeq); err != nil {
		fmt.Fprintln(os.Stderr, "error: finalize:", err)
		return 1
	}

	if err := writeCheckpointState(cfg, newSnapshotSeq, logSeq); err != nil {
		fmt.Fprintln(os.Stderr, "warning: could not record checkpoint state:", err)
	}

	fmt.Printf("checkpoint complete: snapshot_seq=%d log_tail_seq=%d\n", newSnapshotSeq, logSeq)

	return 0
}

func cmdInspect(ctx context.Context, cfg Config, _ []string) int {
	dom, kvdb, err := openDomain(ctx, cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}

	defer func() { _ = kvdb.Close() }()
	defer func() { _ = dom.Close() }()

	handle, err := dom.Activate(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error: activate:", err)
		return 1
	}

	defer handle.Deactivate()

	repl := newREPL(handle)

	return repl.run()
}
