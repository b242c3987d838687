// Package fsys is a narrow filesystem abstraction used by the WAL writer
// (C2) and the reader-pin map (C6), trimmed from the teacher pattern of a
// small File/FS interface pair so the WAL writer can be exercised under an
// in-memory fake in tests without touching disk. The pin map mmaps its file
// and opens only over a real *os.File, so it cannot run on the fake.
package fsys

import (
	"io"
	"os"
)

// File is the subset of *os.File the domain needs: read/write/seek plus the
// durability primitives (Sync, Fd for flock, Truncate) the WAL writer and
// pin map rely on.
type File interface {
	io.ReadWriteCloser
	io.Seeker

	// Fd returns the underlying file descriptor, for flock and mmap.
	Fd() uintptr

	// Sync flushes the file's in-core data to stable storage.
	Sync() error

	// Truncate changes the file's size.
	Truncate(size int64) error

	// Stat returns the FileInfo for the file.
	Stat() (os.FileInfo, error)
}

// FS abstracts the filesystem calls used to manage the pending WAL
// directory and the pin file.
type FS interface {
	// Open opens an existing file for reading.
	Open(name string) (File, error)

	// OpenFile is the general open, mirroring os.OpenFile's flag/perm
	// semantics. The WAL writer uses O_CREATE|O_EXCL for fresh `.ulog.open`
	// files and O_RDWR for header rewrites.
	OpenFile(name string, flag int, perm os.FileMode) (File, error)

	// MkdirAll creates a directory and any missing parents.
	MkdirAll(path string, perm os.FileMode) error

	// Rename atomically renames a file, the mechanism the WAL's
	// writing→sealed→ready-for-publish transitions depend on.
	Rename(oldpath, newpath string) error

	// Remove deletes a file. Removing an absent file is not an error.
	Remove(name string) error

	// ReadDir lists directory entries, used by WAL recovery's pending-dir
	// scan (spec.md §4.9).
	ReadDir(name string) ([]os.DirEntry, error)

	// Stat returns file metadata without opening the file.
	Stat(name string) (os.FileInfo, error)

	// Exists reports whether a path exists, swallowing "not exist" errors.
	Exists(name string) (bool, error)
}

// Real is the production [FS], a pass-through to the os package.
type Real struct{}

var _ FS = Real{}

func (Real) Open(name string) (File, error) { return os.Open(name) }

func (Real) OpenFile(name string, flag int, perm os.FileMode) (File, error) {
	return os.OpenFile(name, flag, perm)
}

func (Real) MkdirAll(path string, perm os.FileMode) error { return os.MkdirAll(path, perm) }

func (Real) Rename(oldpath, newpath string) error { return os.Rename(oldpath, newpath) }

func (Real) Remove(name string) error {
	err := os.Remove(name)
	if os.IsNotExist(err) {
		return nil
	}

	return err
}

func (Real) ReadDir(name string) ([]os.DirEntry, error) { return os.ReadDir(name) }

func (Real) Stat(name string) (os.FileInfo, error) { return os.Stat(name) }

func (Real) Exists(name string) (bool, error) {
	_, err := os.Stat(name)
	if err == nil {
		return true, nil
	}

	if os.IsNotExist(err) {
		return false, nil
	}

	return false, err
}
