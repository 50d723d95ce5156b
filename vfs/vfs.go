package vfs

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"syscall"

	"github.com/hupe1980/flashsim/blockdevice"
)

// ErrNoSpace is returned when the medium cannot take any more data.
var ErrNoSpace error = syscall.ENOSPC

// IsNoSpace reports whether err signals capacity exhaustion.
func IsNoSpace(err error) bool {
	return errors.Is(err, ErrNoSpace)
}

// Open flags, identical to the os package values.
const (
	O_RDONLY int = os.O_RDONLY
	O_WRONLY int = os.O_WRONLY
	O_RDWR   int = os.O_RDWR
	O_APPEND int = os.O_APPEND
	O_CREATE int = os.O_CREATE
	O_EXCL   int = os.O_EXCL
	O_TRUNC  int = os.O_TRUNC
)

// File represents an open file.
type File interface {
	io.Reader
	io.Writer
	io.Closer
}

// FileSystem is a flat filesystem living on a block device.
type FileSystem interface {
	// Mount attaches to the filesystem stored on dev.
	Mount(dev blockdevice.Device) error
	// Format writes an empty filesystem to dev. The filesystem is left
	// unmounted.
	Format(dev blockdevice.Device) error
	// Unmount detaches from the device.
	Unmount() error

	Stat(name string) (fs.FileInfo, error)
	Rename(oldname, newname string) error
	Remove(name string) error
	OpenFile(name string, flag int) (File, error)
}

// ReadFile reads the whole named file.
func ReadFile(fsys FileSystem, name string) ([]byte, error) {
	f, err := fsys.OpenFile(name, O_RDONLY)
	if err != nil {
		return nil, err
	}
	data, err := io.ReadAll(f)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return data, err
}

// WriteFile creates or truncates name and writes data to it. The error of
// Close is returned, since filesystems may commit on close.
func WriteFile(fsys FileSystem, name string, data []byte) error {
	f, err := fsys.OpenFile(name, O_WRONLY|O_CREATE|O_TRUNC)
	if err != nil {
		return err
	}
	_, err = f.Write(data)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	return err
}

// Exists reports whether name can be stat'ed. Errors other than
// fs.ErrNotExist are returned.
func Exists(fsys FileSystem, name string) (bool, error) {
	_, err := fsys.Stat(name)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	default:
		return false, err
	}
}
