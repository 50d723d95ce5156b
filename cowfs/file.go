package cowfs

import (
	"io"
	"io/fs"
	"syscall"

	"github.com/hupe1980/flashsim/vfs"
)

// file is an open handle. Reads and writes go to a private copy of the
// contents; Close commits the copy if it was modified.
type file struct {
	fs     *FS
	name   string
	flag   int
	data   []byte
	off    int
	dirty  bool
	closed bool
}

func (h *file) readable() bool {
	return h.flag&(vfs.O_WRONLY|vfs.O_RDWR) != vfs.O_WRONLY
}

func (h *file) writable() bool {
	return h.flag&(vfs.O_WRONLY|vfs.O_RDWR) != 0
}

func (h *file) Read(p []byte) (int, error) {
	if h.closed {
		return 0, &fs.PathError{Op: "read", Path: h.name, Err: fs.ErrClosed}
	}
	if !h.readable() {
		return 0, &fs.PathError{Op: "read", Path: h.name, Err: syscall.EBADF}
	}
	if h.off >= len(h.data) {
		return 0, io.EOF
	}
	n := copy(p, h.data[h.off:])
	h.off += n
	return n, nil
}

func (h *file) Write(p []byte) (int, error) {
	if h.closed {
		return 0, &fs.PathError{Op: "write", Path: h.name, Err: fs.ErrClosed}
	}
	if !h.writable() {
		return 0, &fs.PathError{Op: "write", Path: h.name, Err: syscall.EBADF}
	}
	if h.flag&vfs.O_APPEND != 0 {
		h.off = len(h.data)
	}
	if end := h.off + len(p); end > len(h.data) {
		h.data = append(h.data, make([]byte, end-len(h.data))...)
	}
	copy(h.data[h.off:], p)
	h.off += len(p)
	if len(p) > 0 {
		h.dirty = true
	}
	return len(p), nil
}

// Close commits the written contents under the handle's name, recreating the
// file if it was removed while open. The handle is closed even when the
// commit fails.
func (h *file) Close() error {
	if h.closed {
		return &fs.PathError{Op: "close", Path: h.name, Err: fs.ErrClosed}
	}
	h.closed = true
	if !h.dirty {
		return nil
	}
	if !h.fs.mounted {
		return &fs.PathError{Op: "close", Path: h.name, Err: ErrNotMounted}
	}

	next := h.fs.cloneFiles()
	next[h.name] = h.data
	if err := h.fs.commit(next); err != nil {
		return &fs.PathError{Op: "close", Path: h.name, Err: err}
	}
	return nil
}
