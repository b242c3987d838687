package fsys

import (
	"io"
	"os"
	"path"
	"sort"
	"sync"
	"time"
)

// Fake is an in-memory [FS] for tests. It does not model partial writes or
// crashes; its purpose is to let WAL code run without disk I/O, not to
// fault-inject. Its files cannot be mmapped, so OpenPinMap rejects them.
type Fake struct {
	mu    sync.Mutex
	files map[string]*fakeInode
	dirs  map[string]bool
	nextFd uintptr
}

type fakeInode struct {
	data []byte
	mode os.FileMode
}

// NewFake returns an empty in-memory filesystem rooted at "/".
func NewFake() *Fake {
	return &Fake{
		files: make(map[string]*fakeInode),
		dirs:  map[string]bool{"/": true},
	}
}

func clean(name string) string { return path.Clean("/" + name) }

func (f *Fake) MkdirAll(dir string, _ os.FileMode) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	d := clean(dir)
	for d != "/" {
		f.dirs[d] = true
		d = path.Dir(d)
	}

	f.dirs["/"] = true

	return nil
}

func (f *Fake) Open(name string) (File, error) {
	return f.OpenFile(name, os.O_RDONLY, 0)
}

func (f *Fake) OpenFile(name string, flag int, perm os.FileMode) (File, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	n := clean(name)

	inode, ok := f.files[n]
	if !ok {
		if flag&os.O_CREATE == 0 {
			return nil, &os.PathError{Op: "open", Path: name, Err: os.ErrNotExist}
		}

		inode = &fakeInode{mode: perm}
		f.files[n] = inode
	} else if flag&os.O_EXCL != 0 && flag&os.O_CREATE != 0 {
		return nil, &os.PathError{Op: "open", Path: name, Err: os.ErrExist}
	}

	if flag&os.O_TRUNC != 0 {
		inode.data = nil
	}

	f.nextFd++

	h := &fakeFile{fs: f, name: n, inode: inode, fd: f.nextFd}
	if flag&os.O_APPEND != 0 {
		h.pos = int64(len(inode.data))
	}

	return h, nil
}

func (f *Fake) Rename(oldpath, newpath string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	o, n := clean(oldpath), clean(newpath)

	inode, ok := f.files[o]
	if !ok {
		return &os.PathError{Op: "rename", Path: oldpath, Err: os.ErrNotExist}
	}

	delete(f.files, o)
	f.files[n] = inode

	return nil
}

func (f *Fake) Remove(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	delete(f.files, clean(name))

	return nil
}

func (f *Fake) ReadDir(dir string) ([]os.DirEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	d := clean(dir)
	prefix := d
	if prefix != "/" {
		prefix += "/"
	}

	seen := make(map[string]bool)

	var entries []os.DirEntry

	for name := range f.files {
		if name == d || !isDirectChild(prefix, name) {
			continue
		}

		base := path.Base(name)
		if seen[base] {
			continue
		}

		seen[base] = true
		entries = append(entries, fakeDirEntry{name: base, size: int64(len(f.files[name].data))})
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	return entries, nil
}

func isDirectChild(prefix, name string) bool {
	if len(name) <= len(prefix) || name[:len(prefix)] != prefix {
		return false
	}

	return path.Dir(name) == path.Clean(prefix)
}

func (f *Fake) Stat(name string) (os.FileInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	n := clean(name)

	inode, ok := f.files[n]
	if !ok {
		return nil, &os.PathError{Op: "stat", Path: name, Err: os.ErrNotExist}
	}

	return fakeFileInfo{name: path.Base(n), size: int64(len(inode.data))}, nil
}

func (f *Fake) Exists(name string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	_, ok := f.files[clean(name)]

	return ok, nil
}

type fakeFile struct {
	fs    *Fake
	name  string
	inode *fakeInode
	pos   int64
	fd    uintptr
}

func (h *fakeFile) Read(p []byte) (int, error) {
	h.fs.mu.Lock()
	defer h.fs.mu.Unlock()

	if h.pos >= int64(len(h.inode.data)) {
		return 0, io.EOF
	}

	n := copy(p, h.inode.data[h.pos:])
	h.pos += int64(n)

	return n, nil
}

func (h *fakeFile) Write(p []byte) (int, error) {
	h.fs.mu.Lock()
	defer h.fs.mu.Unlock()

	end := h.pos + int64(len(p))
	if end > int64(len(h.inode.data)) {
		grown := make([]byte, end)
		copy(grown, h.inode.data)
		h.inode.data = grown
	}

	copy(h.inode.data[h.pos:end], p)
	h.pos = end

	return len(p), nil
}

func (h *fakeFile) Seek(offset int64, whence int) (int64, error) {
	h.fs.mu.Lock()
	defer h.fs.mu.Unlock()

	switch whence {
	case 0:
		h.pos = offset
	case 1:
		h.pos += offset
	case 2:
		h.pos = int64(len(h.inode.data)) + offset
	}

	return h.pos, nil
}

func (h *fakeFile) Close() error { return nil }

func (h *fakeFile) Fd() uintptr { return h.fd }

func (h *fakeFile) Sync() error { return nil }

func (h *fakeFile) Truncate(size int64) error {
	h.fs.mu.Lock()
	defer h.fs.mu.Unlock()

	if size <= int64(len(h.inode.data)) {
		h.inode.data = h.inode.data[:size]

		return nil
	}

	grown := make([]byte, size)
	copy(grown, h.inode.data)
	h.inode.data = grown

	return nil
}

func (h *fakeFile) Stat() (os.FileInfo, error) {
	h.fs.mu.Lock()
	defer h.fs.mu.Unlock()

	return fakeFileInfo{name: path.Base(h.name), size: int64(len(h.inode.data))}, nil
}

type fakeFileInfo struct {
	name string
	size int64
}

func (i fakeFileInfo) Name() string       { return i.name }
func (i fakeFileInfo) Size() int64        { return i.size }
func (i fakeFileInfo) Mode() os.FileMode  { return 0o644 }
func (i fakeFileInfo) ModTime() time.Time { return time.Time{} }
func (i fakeFileInfo) IsDir() bool        { return false }
func (i fakeFileInfo) Sys() any           { return nil }

type fakeDirEntry struct {
	name string
	size int64
}

func (e fakeDirEntry) Name() string               { return e.name }
func (e fakeDirEntry) IsDir() bool                { return false }
func (e fakeDirEntry) Type() os.FileMode          { return 0 }
func (e fakeDirEntry) Info() (os.FileInfo, error) { return fakeFileInfo{name: e.name, size: e.size}, nil }

var _ FS = (*Fake)(nil)
