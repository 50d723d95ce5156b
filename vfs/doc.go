// Package vfs defines the filesystem capability the atomicity harness drives.
//
// The package defines two key interfaces:
//
//   - [FileSystem]: mount, format and the namespace operations on a block device
//   - [File]: an open file handle (read, write, close)
//
// Capacity exhaustion is reported as [ErrNoSpace]; missing files satisfy
// errors.Is(err, fs.ErrNotExist).
//
// # Fault injection
//
// [FaultyFS] wraps any FileSystem and turns writes, closes or renames into
// [ErrNoSpace] on demand, so exhaustion paths can be tested without wearing a
// device down:
//
//	ffs := vfs.NewFaultyFS(fsys)
//	ffs.SetLimit(1024) // Fail after 1KB written
package vfs
