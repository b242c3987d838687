package domain

import (
	"os"

	"github.com/juji-io/dtlv-usearch-domain/internal/fsys"
)

// walState is the WAL file's three-state lifecycle (spec.md §3 "WAL file",
// §4.2).
type walState uint8

const (
	walWriting walState = iota
	walSealed
	walReady
)

const (
	walMagic     = "DTLVULOG"
	walHeaderLen = 56
)

// walHeader is the fixed 56-byte WAL header (spec.md §6.1 "WAL header").
type walHeader struct {
	version          uint8
	state            walState
	headerLen        uint16
	snapshotSeqBase  uint64
	logSeqHint       uint64
	tok              token
	frameCount       uint32
}

func encodeWALHeader(h walHeader) []byte {
	b := make([]byte, walHeaderLen)
	copy(b[0:8], walMagic)
	b[8] = h.version
	b[9] = byte(h.state)
	putU16(b[10:12], h.headerLen)
	putU64(b[12:20], h.snapshotSeqBase)
	putU64(b[20:28], h.logSeqHint)
	putU64(b[28:36], h.tok.hi)
	putU64(b[36:44], h.tok.lo)
	putU32(b[44:48], h.frameCount)
	// CRC covers all preceding bytes from the header-length field onward
	// (spec.md §6.1), i.e. b[10:48].
	putU32(b[48:52], crc32c(b[10:48]))

	return b
}

func decodeWALHeader(b []byte) (walHeader, error) {
	if len(b) < walHeaderLen {
		return walHeader{}, corruptErrorf("wal header: truncated: %d bytes", len(b))
	}

	if string(b[0:8]) != walMagic {
		return walHeader{}, corruptErrorf("wal header: bad magic %q", b[0:8])
	}

	h := walHeader{
		version:         b[8],
		state:           walState(b[9]),
		headerLen:       getU16(b[10:12]),
		snapshotSeqBase: getU64(b[12:20]),
		logSeqHint:      getU64(b[20:28]),
		tok:             token{hi: getU64(b[28:36]), lo: getU64(b[36:44])},
		frameCount:      getU32(b[44:48]),
	}

	if h.version != 1 {
		return walHeader{}, corruptErrorf("wal header: unsupported version %d", h.version)
	}

	if h.headerLen != walHeaderLen {
		return walHeader{}, corruptErrorf("wal header: header length must be %d, got %d", walHeaderLen, h.headerLen)
	}

	wantCRC := getU32(b[48:52])
	if gotCRC := crc32c(b[10:48]); gotCRC != wantCRC {
		return walHeader{}, corruptErrorf("wal header: CRC mismatch: want %#x, got %#x", wantCRC, gotCRC)
	}

	return h, nil
}

// walFrame is one update record inside a WAL file: 12-byte prefix + payload
// (spec.md §6.1 "WAL frame").
func encodeWALFrame(ordinal uint32, payload []byte) []byte {
	b := make([]byte, 0, 12+len(payload))
	b = appendU32(b, ordinal)
	b = appendU32(b, uint32(len(payload)))
	b = appendU32(b, crc32c(payload))
	b = append(b, payload...)

	return b
}

// WALWriter implements C2: create, append to, seal, and publish
// per-transaction log files.
//
// Accessor methods Path and FrameCount are not named explicitly in
// spec.md's prose but are exposed by the original implementation's
// dtlv_usearch_wal_open_path/_sealed_path/_ready_path and
// dtlv_usearch_wal_frame_count (SPEC_FULL.md §4).
type WALWriter struct {
	fs      fsys.FS
	fsRoot  string
	tok     token
	state   walState
	header  walHeader
	file    fsys.File
	closed  bool
}

// openWAL mints a fresh token and creates a `{token_hex}.ulog.open` file
// with an initial header written at offset 0 (spec.md §4.2 "open").
func openWAL(fs fsys.FS, fsRoot string, snapshotSeqBase, logSeqHint uint64) (*WALWriter, error) {
	if err := fs.MkdirAll(pendingDir(fsRoot), 0o755); err != nil {
		return nil, ioErrorf("create pending dir: %w", err)
	}

	tok := newToken()
	path := walOpenPath(fsRoot, tok)

	f, err := fs.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, ioErrorf("create wal file %s: %w", path, err)
	}

	hdr := walHeader{
		version:         1,
		state:           walWriting,
		headerLen:       walHeaderLen,
		snapshotSeqBase: snapshotSeqBase,
		logSeqHint:      logSeqHint,
		tok:             tok,
	}

	if _, err := f.Write(encodeWALHeader(hdr)); err != nil {
		_ = f.Close()

		return nil, ioErrorf("write wal header: %w", err)
	}

	if err := f.Sync(); err != nil {
		_ = f.Close()

		return nil, ioErrorf("sync wal header: %w", err)
	}

	return &WALWriter{fs: fs, fsRoot: fsRoot, tok: tok, state: walWriting, header: hdr, file: f}, nil
}

// Token returns the 128-bit token minted for this writer.
func (w *WALWriter) Token() (hi, lo uint64) { return w.tok.hi, w.tok.lo }

// FrameCount returns the number of frames appended so far.
func (w *WALWriter) FrameCount() uint32 { return w.header.frameCount }

// Path returns the writer's current on-disk path, reflecting its current
// lifecycle state.
func (w *WALWriter) Path() string {
	switch w.state {
	case walSealed:
		return walSealedPath(w.fsRoot, w.tok)
	case walReady:
		return walReadyPath(w.fsRoot, w.tok)
	default:
		return walOpenPath(w.fsRoot, w.tok)
	}
}

// Append writes a frame (spec.md §4.2 "Frame append"): reject unless state
// is writing; compute payload CRC; write prefix then payload sequentially;
// increment ordinal and frame count.
func (w *WALWriter) Append(payload []byte) (ordinal uint32, err error) {
	if w.state != walWriting {
		return 0, argErrorf("wal append: writer is not in writing state")
	}

	ordinal = w.header.frameCount + 1
	frame := encodeWALFrame(ordinal, payload)

	if _, err := w.file.Write(frame); err != nil {
		return 0, ioErrorf("append wal frame %d: %w", ordinal, err)
	}

	w.header.frameCount = ordinal

	return ordinal, nil
}

// rewriteHeader seeks to offset 0, writes the current header, and flushes
// — shared by Seal and MarkReady.
func (w *WALWriter) rewriteHeader() error {
	if _, err := w.file.Seek(0, 0); err != nil {
		return ioErrorf("seek wal header: %w", err)
	}

	if _, err := w.file.Write(encodeWALHeader(w.header)); err != nil {
		return ioErrorf("rewrite wal header: %w", err)
	}

	if err := w.file.Sync(); err != nil {
		return ioErrorf("sync wal header: %w", err)
	}

	if _, err := w.file.Seek(0, 2); err != nil {
		return ioErrorf("seek wal end: %w", err)
	}

	return nil
}

// Seal transitions writing -> sealed (spec.md §4.2 "Seal"): flush, rewrite
// header with state=sealed, flush, rename .ulog.open -> .ulog.
func (w *WALWriter) Seal() error {
	if w.state != walWriting {
		return argErrorf("wal seal: writer is not in writing state")
	}

	if err := w.file.Sync(); err != nil {
		return ioErrorf("flush wal before seal: %w", err)
	}

	w.header.state = walSealed

	if err := w.rewriteHeader(); err != nil {
		return err
	}

	oldPath := walOpenPath(w.fsRoot, w.tok)
	newPath := walSealedPath(w.fsRoot, w.tok)

	if err := w.fs.Rename(oldPath, newPath); err != nil {
		return ioErrorf("rename %s -> %s: %w", oldPath, newPath, err)
	}

	w.state = walSealed

	return nil
}

// MarkReady transitions sealed -> ready-for-publish (spec.md §4.2
// "Mark-ready"): rewrite header with new state, flush, rename .ulog ->
// .ulog.sealed.
func (w *WALWriter) MarkReady() error {
	if w.state != walSealed {
		return argErrorf("wal mark-ready: writer is not in sealed state")
	}

	w.header.state = walReady

	if err := w.rewriteHeader(); err != nil {
		return err
	}

	oldPath := walSealedPath(w.fsRoot, w.tok)
	newPath := walReadyPath(w.fsRoot, w.tok)

	if err := w.fs.Rename(oldPath, newPath); err != nil {
		return ioErrorf("rename %s -> %s: %w", oldPath, newPath, err)
	}

	w.state = walReady

	return nil
}

// Close closes the file handle; if bestEffortDelete is set, removes the
// file at the writer's current state path (used by Abort). Close never
// fails the caller (spec.md §4.2 "Close").
func (w *WALWriter) Close(bestEffortDelete bool) {
	if w.closed {
		return
	}

	w.closed = true
	path := w.Path()

	_ = w.file.Close()

	if bestEffortDelete {
		_ = w.fs.Remove(path)
	}
}
