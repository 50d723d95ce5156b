package vfs

import (
	"io/fs"
	"strings"
	"sync"

	"github.com/hupe1980/flashsim/blockdevice"
)

// Fault defines specific failure behavior.
type Fault struct {
	FailAfterBytes int64 // Fail writes after this many bytes written TO THIS FILE. -1 to disable.
	FailOnClose    bool
	FailOnRename   bool // Fail renames whose source or target matches.
	Err            error
}

// FaultyFS is a FileSystem wrapper that can inject errors. Unless a rule says
// otherwise, injected errors are ErrNoSpace.
type FaultyFS struct {
	FS      FileSystem
	mu      sync.Mutex
	rules   map[string]Fault // Filename pattern -> Fault
	Default Fault            // Fallback

	written     int64
	globalLimit int64
	injected    int64
}

// NewFaultyFS creates a new FaultyFS wrapping fsys.
func NewFaultyFS(fsys FileSystem) *FaultyFS {
	return &FaultyFS{
		FS:    fsys,
		rules: make(map[string]Fault),
		Default: Fault{
			FailAfterBytes: -1, // No limit
		},
		globalLimit: -1,
	}
}

// Written returns the total bytes written so far through all handles.
func (f *FaultyFS) Written() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.written
}

// Injected returns how many faults have been injected.
func (f *FaultyFS) Injected() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.injected
}

// SetLimit sets a byte budget shared by all handles. -1 removes it.
func (f *FaultyFS) SetLimit(limit int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.globalLimit = limit
}

// AddRule adds a fault injection rule for every name containing pattern.
func (f *FaultyFS) AddRule(pattern string, fault Fault) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rules[pattern] = fault
}

// ClearRules removes all rules and the global limit.
func (f *FaultyFS) ClearRules() {
	f.mu.Lock()
	defer f.mu.Unlock()
	clear(f.rules)
	f.globalLimit = -1
}

// match must be called with f.mu held.
func (f *FaultyFS) match(name string) (Fault, bool) {
	// Longest matching pattern wins so the result does not depend on map order.
	var (
		best    string
		fault   = f.Default
		matched bool
	)
	for pattern, rule := range f.rules {
		if strings.Contains(name, pattern) && (!matched || len(pattern) > len(best)) {
			best, fault, matched = pattern, rule, true
		}
	}
	return fault, matched
}

func (f *FaultyFS) inject(fault Fault) error {
	f.mu.Lock()
	f.injected++
	f.mu.Unlock()
	if fault.Err != nil {
		return fault.Err
	}
	return ErrNoSpace
}

func (f *FaultyFS) Mount(dev blockdevice.Device) error  { return f.FS.Mount(dev) }
func (f *FaultyFS) Format(dev blockdevice.Device) error { return f.FS.Format(dev) }
func (f *FaultyFS) Unmount() error                      { return f.FS.Unmount() }
func (f *FaultyFS) Stat(name string) (fs.FileInfo, error) {
	return f.FS.Stat(name)
}
func (f *FaultyFS) Remove(name string) error { return f.FS.Remove(name) }

func (f *FaultyFS) Rename(oldname, newname string) error {
	f.mu.Lock()
	fault, _ := f.match(oldname)
	if !fault.FailOnRename {
		fault, _ = f.match(newname)
	}
	f.mu.Unlock()

	if fault.FailOnRename {
		return &fs.PathError{Op: "rename", Path: oldname, Err: f.inject(fault)}
	}
	return f.FS.Rename(oldname, newname)
}

func (f *FaultyFS) OpenFile(name string, flag int) (File, error) {
	file, err := f.FS.OpenFile(name, flag)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	fault, _ := f.match(name)
	f.mu.Unlock()

	return &faultyFile{File: file, fs: f, fault: fault}, nil
}

type faultyFile struct {
	File
	fs      *FaultyFS
	fault   Fault
	written int64
}

func (ff *faultyFile) Write(p []byte) (n int, err error) {
	// Check per-file limit FIRST before updating global counter
	if ff.fault.FailAfterBytes >= 0 && ff.written+int64(len(p)) > ff.fault.FailAfterBytes {
		return 0, ff.fs.inject(ff.fault)
	}

	ff.fs.mu.Lock()
	globalExceeded := ff.fs.globalLimit >= 0 && ff.fs.written+int64(len(p)) > ff.fs.globalLimit
	if !globalExceeded {
		ff.fs.written += int64(len(p))
	}
	ff.fs.mu.Unlock()

	if globalExceeded {
		return 0, ff.fs.inject(Fault{})
	}

	n, err = ff.File.Write(p)
	ff.written += int64(n)
	return n, err
}

func (ff *faultyFile) Close() error {
	if ff.fault.FailOnClose {
		// The handle is dropped without closing the inner file, which means
		// its buffered contents are never committed.
		return ff.fs.inject(ff.fault)
	}
	return ff.File.Close()
}
