package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/peterh/liner"

	"github.com/juji-io/dtlv-usearch-domain/domain"
)

// replCommands lists the REPL's verbs, used both for dispatch and for the
// liner word completer.
var replCommands = []string{"contains", "search", "refresh", "baseline", "help", "exit", "quit"}

// inspectREPL is a small interactive shell over an activated handle,
// mirroring the teacher's own liner-backed REPL (cmd/sloty) but scoped to
// read-only index queries: mutation goes through Stage/ApplyPending/Publish
// inside a host transaction, which this standalone CLI does not own.
type inspectREPL struct {
	handle *domain.Handle
	line   *liner.State
}

func newREPL(h *domain.Handle) *inspectREPL {
	return &inspectREPL{handle: h}
}

func (r *inspectREPL) run() int {
	r.line = liner.NewLiner()
	defer r.line.Close()

	r.line.SetCtrlCAborts(true)
	r.line.SetCompleter(r.completer)

	fmt.Println("dtlvusearchctl inspect — type 'help' for commands, 'exit' to quit")

	for {
		input, err := r.line.Prompt("inspect> ")
		if err != nil {
			if err == liner.ErrPromptAborted || err == io.EOF {
				return 0
			}

			fmt.Fprintln(os.Stderr, "error:", err)

			return 1
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}

		r.line.AppendHistory(input)

		if r.dispatch(input) {
			return 0
		}
	}
}

func (r *inspectREPL) completer(line string) []string {
	var out []string

	for _, c := range replCommands {
		if strings.HasPrefix(c, line) {
			out = append(out, c)
		}
	}

	return out
}

// dispatch runs one REPL line and reports whether the REPL should exit.
func (r *inspectREPL) dispatch(line string) bool {
	fields := strings.Fields(line)
	cmd, args := fields[0], fields[1:]

	switch cmd {
	case "exit", "quit":
		return true

	case "help":
		r.printHelp()

	case "baseline":
		snapshotSeq, logSeq := r.handle.Baseline()
		fmt.Printf("snapshot_seq=%d log_seq=%d\n", snapshotSeq, logSeq)

	case "refresh":
		fmt.Println("refresh requires a host read transaction; not available standalone")

	case "contains":
		r.cmdContains(args)

	case "search":
		r.cmdSearch(args)

	default:
		fmt.Printf("unknown command %q, type 'help'\n", cmd)
	}

	return false
}

func (r *inspectREPL) printHelp() {
	fmt.Println("commands:")
	fmt.Println("  contains <key>              report whether key is present")
	fmt.Println("  search <k> <f32...>         k nearest neighbors of a query vector")
	fmt.Println("  baseline                    show the handle's (snapshot_seq, log_seq)")
	fmt.Println("  help                        show this help")
	fmt.Println("  exit / quit                 leave the REPL")
}

func (r *inspectREPL) cmdContains(args []string) {
	if len(args) != 1 {
		fmt.Println("usage: contains <key>")
		return
	}

	key, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		fmt.Println("error: invalid key:", err)
		return
	}

	found, err := r.handle.Contains(key)
	if err != nil {
		fmt.Println("error:", err)
		return
	}

	fmt.Println(found)
}

func (r *inspectREPL) cmdSearch(args []string) {
	if len(args) < 2 {
		fmt.Println("usage: search <k> <f32...>")
		return
	}

	k, err := strconv.Atoi(args[0])
	if err != nil {
		fmt.Println("error: invalid k:", err)
		return
	}

	query := make([]float32, 0, len(args)-1)

	for _, a := range args[1:] {
		f, err := strconv.ParseFloat(a, 32)
		if err != nil {
			fmt.Println("error: invalid vector component:", err)
			return
		}

		query = append(query, float32(f))
	}

	results, err := r.handle.Search(query, k)
	if err != nil {
		fmt.Println("error:", err)
		return
	}

	for _, res := range results {
		fmt.Printf("key=%d distance=%f\n", res.Key, res.Distance)
	}
}
