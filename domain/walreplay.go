package domain

import (
	"io"
	"os"

	"github.com/juji-io/dtlv-usearch-domain/internal/fsys"
)

// walReplayResult reports how many frames were actually replayed, so
// callers (publish, recovery) can decide whether to unlink the file.
type walReplayResult struct {
	lastOrdinal uint32
	allReplayed bool
}

// applyFrame receives a decoded delta entry at a given WAL ordinal and is
// expected to apply it to every live handle and durably record
// published_log_tail in its own KV transaction (spec.md §4.10 step 3).
type applyFrame func(ordinal uint32, logSeq uint64, e deltaEntry) error

// replayWAL implements §4.10 WAL replay.
//
//  1. Open file read-only.
//  2. Read header; verify magic, version, header-length, header CRC;
//     require token == expectedTok; read frame_count.
//  3. For ordinal = 1..frame_count: read prefix (require ordinal matches,
//     delta_bytes > 0), read payload, verify CRC; if ordinal >= startOrdinal,
//     decode as a delta entry and invoke apply.
//  4. If unlinkAfter is set and every frame was processed, remove the file.
//
// Errors abort replay immediately; the file remains on disk for the next
// open to retry (spec.md §4.10 "Errors").
func replayWAL(fs fsys.FS, path string, expectedTok token, startOrdinal uint32, unlinkAfter bool, apply applyFrame) (walReplayResult, error) {
	f, err := fs.Open(path)
	if err != nil {
		return walReplayResult{}, ioErrorf("open wal %s for replay: %w", path, err)
	}
	defer f.Close()

	hdrBuf := make([]byte, walHeaderLen)
	if _, err := io.ReadFull(f, hdrBuf); err != nil {
		return walReplayResult{}, corruptErrorf("read wal header %s: %w", path, err)
	}

	hdr, err := decodeWALHeader(hdrBuf)
	if err != nil {
		return walReplayResult{}, err
	}

	if !hdr.tok.equal(expectedTok) {
		return walReplayResult{}, corruptErrorf("wal %s: token mismatch", path)
	}

	result := walReplayResult{}

	for ordinal := uint32(1); ordinal <= hdr.frameCount; ordinal++ {
		prefix := make([]byte, 12)
		if _, err := io.ReadFull(f, prefix); err != nil {
			return result, corruptErrorf("read wal frame %d prefix: %w", ordinal, err)
		}

		gotOrdinal := getU32(prefix[0:4])
		deltaBytes := getU32(prefix[4:8])
		wantCRC := getU32(prefix[8:12])

		if gotOrdinal != ordinal {
			return result, corruptErrorf("wal %s: frame ordinal gap: want %d, got %d", path, ordinal, gotOrdinal)
		}

		if deltaBytes == 0 {
			return result, corruptErrorf("wal %s: frame %d has zero-length payload", path, ordinal)
		}

		payload := make([]byte, deltaBytes)
		if _, err := io.ReadFull(f, payload); err != nil {
			return result, corruptErrorf("read wal frame %d payload: %w", ordinal, err)
		}

		if gotCRC := crc32c(payload); gotCRC != wantCRC {
			return result, corruptErrorf("wal %s: frame %d CRC mismatch: want %#x, got %#x", path, ordinal, wantCRC, gotCRC)
		}

		result.lastOrdinal = ordinal

		if ordinal < startOrdinal {
			continue
		}

		e, err := decodeDelta(payload)
		if err != nil {
			return result, err
		}

		logSeq := hdr.logSeqHint + uint64(ordinal)

		if err := apply(ordinal, logSeq, e); err != nil {
			return result, err
		}
	}

	result.allReplayed = true

	if unlinkAfter && result.allReplayed {
		_ = fs.Remove(path)
	}

	return result, nil
}

// classifyPendingEntry maps a pending-directory filename to a WAL state
// per spec.md §4.9 step 2, or reports that the name should be discarded.
func classifyPendingEntry(name string) (tok token, state walState, ok bool) {
	var suffix string

	switch {
	case hasSuffix(name, walOpenSuffix):
		suffix, state = walOpenSuffix, walWriting
	case hasSuffix(name, walReadySuffix):
		suffix, state = walReadySuffix, walReady
	case hasSuffix(name, walSealedSuffix):
		suffix, state = walSealedSuffix, walSealed
	default:
		return token{}, 0, false
	}

	hexPart := name[:len(name)-len(suffix)]
	if len(hexPart) != 32 {
		return token{}, 0, false
	}

	b, ok := decodeHex(hexPart)
	if !ok || len(b) != 16 {
		return token{}, 0, false
	}

	return token{hi: getU64(b[0:8]), lo: getU64(b[8:16])}, state, true
}

func hasSuffix(s, suffix string) bool {
	return len(s) >= len(suffix) && s[len(s)-len(suffix):] == suffix
}

func decodeHex(s string) ([]byte, bool) {
	if len(s)%2 != 0 {
		return nil, false
	}

	out := make([]byte, len(s)/2)

	for i := 0; i < len(out); i++ {
		hi, ok1 := hexVal(s[i*2])
		lo, ok2 := hexVal(s[i*2+1])

		if !ok1 || !ok2 {
			return nil, false
		}

		out[i] = hi<<4 | lo
	}

	return out, true
}

func hexVal(c byte) (byte, bool) {
	switch {
	case c >= '0' && c <= '9':
		return c - '0', true
	case c >= 'a' && c <= 'f':
		return c - 'a' + 10, true
	case c >= 'A' && c <= 'F':
		return c - 'A' + 10, true
	default:
		return 0, false
	}
}

// recoverWAL implements §4.9 WAL recovery: scans the pending directory,
// classifies entries by suffix against the sealed token, renames/deletes as
// needed, then replays the surviving ready file past published_log_tail.
func recoverWAL(fs fsys.FS, fsRoot string, sealed sealedLogSeqRecord, published publishedLogTailRecord, hasPublished bool, apply applyFrame) error {
	dir := pendingDir(fsRoot)

	entries, err := fs.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}

		return ioErrorf("read pending dir %s: %w", dir, err)
	}

	var readyPath string

	for _, entry := range entries {
		name := entry.Name()
		full := dir + "/" + name

		tok, state, ok := classifyPendingEntry(name)
		if !ok {
			_ = fs.Remove(full)

			continue
		}

		switch state {
		case walWriting:
			_ = fs.Remove(full)
		case walSealed:
			if tok.equal(sealed.tok) {
				_ = fs.Rename(full, walReadyPath(fsRoot, tok))
				readyPath = walReadyPath(fsRoot, tok)
			} else {
				_ = fs.Remove(full)
			}
		case walReady:
			if tok.equal(sealed.tok) {
				readyPath = full
			} else {
				_ = fs.Remove(full)
			}
		}
	}

	if readyPath == "" {
		return nil
	}

	startOrdinal := uint32(1)
	if hasPublished && published.tok.equal(sealed.tok) {
		startOrdinal = uint32(published.ordinal) + 1
	}

	_, err = replayWAL(fs, readyPath, sealed.tok, startOrdinal, true, apply)

	return err
}
