package domain

import (
	"os"
	"time"

	"github.com/edsrzf/mmap-go"
	"github.com/gofrs/flock"

	"github.com/juji-io/dtlv-usearch-domain/internal/fsys"
)

// Pin slot layout (spec.md §3 "Reader pin slot", §6.1 "Pin slot"):
// 48 bytes, 64 slots, 3072 bytes total.
const (
	pinSlotSize  = 48
	pinSlotCount = 64
	pinFileSize  = pinSlotSize * pinSlotCount
)

// PinMap is C6: a fixed-size mmap'd file of pin slots protected by a file
// lock (spec.md §4.6).
//
// The teacher repo's own internal/fs.Locker hand-rolls flock with
// inode-match verification; this adapter uses github.com/gofrs/flock
// instead (already a dependency of the pack's erigon-lib for the same
// purpose — see DESIGN.md) to maximize third-party coverage rather than
// reimplement flock from syscalls.
type PinMap struct {
	path string
	fs   fsys.FS
	file fsys.File
	mm   mmap.MMap
	lock *flock.Flock
}

// OpenPinMap creates the pin file if absent (sized to 64*48 bytes) and
// mmaps it read-write (spec.md §4.8 Open step 2).
func OpenPinMap(fs fsys.FS, path string) (*PinMap, error) {
	f, err := fs.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, ioErrorf("open pin file %s: %w", path, err)
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()

		return nil, ioErrorf("stat pin file %s: %w", path, err)
	}

	if info.Size() < pinFileSize {
		if err := f.Truncate(pinFileSize); err != nil {
			_ = f.Close()

			return nil, ioErrorf("size pin file %s: %w", path, err)
		}
	}

	osFile, ok := f.(*os.File)
	if !ok {
		// Fakes (tests) don't back a real mmap, so a PinMap can only be
		// opened over a real file.
		_ = f.Close()

		return nil, ioErrorf("pin file %s: mmap requires a real *os.File", path)
	}

	m, err := mmap.Map(osFile, mmap.RDWR, 0)
	if err != nil {
		_ = f.Close()

		return nil, ioErrorf("mmap pin file %s: %w", path, err)
	}

	return &PinMap{path: path, fs: fs, file: f, mm: m, lock: flock.New(path)}, nil
}

// withLock runs fn while holding the process-wide exclusive file lock for
// the whole file range (spec.md §4.6).
func (p *PinMap) withLock(fn func() error) error {
	if err := p.lock.Lock(); err != nil {
		return ioErrorf("lock pin file %s: %w", p.path, err)
	}

	defer func() { _ = p.lock.Unlock() }()

	return fn()
}

func slotOffset(i int) int { return i * pinSlotSize }

func (p *PinMap) readSlot(i int) (version uint8, uuid token, snapshotSeq, logSeq uint64, expiresAtMs int64) {
	off := slotOffset(i)
	s := p.mm[off : off+pinSlotSize]

	version = s[0]
	uuid = token{hi: getU64(s[8:16]), lo: getU64(s[16:24])}
	snapshotSeq = getU64(s[24:32])
	logSeq = getU64(s[32:40])
	expiresAtMs = int64(getU64(s[40:48]))

	return
}

// writeSlot packs the slot with the two-step discipline spec.md §4.6
// requires: zero the version byte, copy bytes 1..47, then write the
// version byte last, so a concurrent reader never observes a torn record.
func (p *PinMap) writeSlot(i int, version uint8, uuid token, snapshotSeq, logSeq uint64, expiresAtMs int64) {
	off := slotOffset(i)
	s := p.mm[off : off+pinSlotSize]

	s[0] = 0

	for j := 1; j < 8; j++ {
		s[j] = 0
	}

	putU64(s[8:16], uuid.hi)
	putU64(s[16:24], uuid.lo)
	putU64(s[24:32], snapshotSeq)
	putU64(s[32:40], logSeq)
	putU64(s[40:48], uint64(expiresAtMs))

	s[0] = version
}

// Pin implements spec.md §4.6 Pin.
func (p *PinMap) Pin(reader token, snapshotSeq, logSeq uint64, expiresAtMs int64) error {
	return p.withLock(func() error {
		nowMs := time.Now().UnixMilli()

		emptySlot := -1
		expiredSlot := -1

		for i := 0; i < pinSlotCount; i++ {
			version, uuid, _, _, expires := p.readSlot(i)

			if version != 0 && uuid.equal(reader) {
				p.writeSlot(i, 1, reader, snapshotSeq, logSeq, expiresAtMs)

				return nil
			}

			if version == 0 && emptySlot == -1 {
				emptySlot = i
			}

			if version != 0 && expires <= nowMs && expiredSlot == -1 {
				expiredSlot = i
			}
		}

		slot := emptySlot
		if slot == -1 {
			slot = expiredSlot
		}

		if slot == -1 {
			return ErrBusy
		}

		p.writeSlot(slot, 1, reader, snapshotSeq, logSeq, expiresAtMs)

		return nil
	})
}

// Touch implements spec.md §4.6 Touch.
func (p *PinMap) Touch(reader token, expiresAtMs int64) error {
	return p.withLock(func() error {
		for i := 0; i < pinSlotCount; i++ {
			version, uuid, snapshotSeq, logSeq, _ := p.readSlot(i)
			if version != 0 && uuid.equal(reader) {
				p.writeSlot(i, version, reader, snapshotSeq, logSeq, expiresAtMs)

				return nil
			}
		}

		return ErrNotFound
	})
}

// Release implements spec.md §4.6 Release. Missing is not an error.
func (p *PinMap) Release(reader token) error {
	return p.withLock(func() error {
		for i := 0; i < pinSlotCount; i++ {
			version, uuid, _, _, _ := p.readSlot(i)
			if version != 0 && uuid.equal(reader) {
				p.writeSlot(i, 0, token{}, 0, 0, 0)

				return nil
			}
		}

		return nil
	})
}

// RetentionFloor scans every valid (unexpired) pin and returns the lowest
// pinned snapshot_seq and log_seq, the floor below which a checkpoint must
// not delete data (spec.md P7 "reader-pin safety"). Returns
// (ok=false) if there are no valid pins.
func (p *PinMap) RetentionFloor() (snapshotFloor, logFloor uint64, ok bool, err error) {
	nowMs := time.Now().UnixMilli()

	err = p.withLock(func() error {
		for i := 0; i < pinSlotCount; i++ {
			version, _, snapshotSeq, logSeq, expires := p.readSlot(i)
			if version == 0 || expires <= nowMs {
				continue
			}

			if !ok || snapshotSeq < snapshotFloor {
				snapshotFloor = snapshotSeq
			}

			if !ok || logSeq < logFloor {
				logFloor = logSeq
			}

			ok = true
		}

		return nil
	})

	return snapshotFloor, logFloor, ok, err
}

// Close unmaps the pin file and closes its file handle.
func (p *PinMap) Close() error {
	if p.mm != nil {
		_ = p.mm.Unmap()
	}

	return p.file.Close()
}
