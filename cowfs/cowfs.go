package cowfs

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/hupe1980/flashsim/blockdevice"
	"github.com/hupe1980/flashsim/vfs"
)

var (
	// ErrCorrupt is returned by Mount when the device holds no complete
	// snapshot.
	ErrCorrupt = errors.New("cowfs: no valid snapshot")
	// ErrNotMounted is returned by namespace operations on an unmounted FS.
	ErrNotMounted = errors.New("cowfs: not mounted")
	// ErrMounted is returned by Mount and Format on a mounted FS.
	ErrMounted = errors.New("cowfs: already mounted")
	// ErrDeviceTooSmall is returned when the device cannot hold two snapshots.
	ErrDeviceTooSmall = errors.New("cowfs: device too small")
)

const maxNameLen = 255

type options struct {
	logger *slog.Logger
}

// Option configures an FS.
type Option func(*options)

// WithLogger sets the logger for bad-block and commit events.
// If nil is passed, logging is disabled.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// Stats counts the work an FS has done over all its mounts and formats.
type Stats struct {
	Commits       uint64
	FailedCommits uint64
	BlockWrites   uint64
	// BadBlocks counts failed verifications. Bad blocks are forgotten on
	// unmount, so a block may be counted again by a later mount.
	BadBlocks uint64
	// Seq is the sequence number of the current snapshot.
	Seq uint64
}

// FS is a copy-on-write filesystem. It implements vfs.FileSystem.
//
// An FS is not safe for concurrent use.
type FS struct {
	opts options

	dev     blockdevice.Device
	mounted bool

	blockSize uint64
	blocks    uint32

	files   map[string][]byte
	live    *roaring.Bitmap
	bad     *roaring.Bitmap
	nextSeq uint64
	cursor  uint32
	stats   Stats
}

// New creates an unmounted FS.
func New(optFns ...Option) *FS {
	var o options
	for _, fn := range optFns {
		fn(&o)
	}
	if o.logger == nil {
		o.logger = slog.New(slog.DiscardHandler)
	}
	return &FS{opts: o}
}

// Mount implements vfs.FileSystem. It initializes dev and loads the newest
// complete snapshot. Mount never writes to the device.
func (f *FS) Mount(dev blockdevice.Device) error {
	if f.mounted {
		return ErrMounted
	}
	if err := dev.Init(); err != nil {
		return fmt.Errorf("cowfs: init: %w", err)
	}

	s, err := scan(dev)
	if err == nil && s.files == nil {
		err = ErrCorrupt
	}
	if err != nil {
		_ = dev.Deinit()
		return err
	}

	f.dev = dev
	f.mounted = true
	f.blockSize = dev.EraseSize()
	f.blocks = uint32(dev.Size() / dev.EraseSize())
	f.files = s.files
	f.live = s.live
	f.bad = roaring.New()
	f.nextSeq = s.maxSeq + 1
	// Continue where the previous mount left off.
	f.cursor = (s.liveLast + 1) % f.blocks
	f.stats.Seq = s.seq

	f.opts.logger.Debug("cowfs mounted", "seq", s.seq, "files", len(f.files), "blocks", f.blocks)
	return nil
}

// Unmount implements vfs.FileSystem. Open handles must not be used after it.
func (f *FS) Unmount() error {
	if !f.mounted {
		return ErrNotMounted
	}
	err := f.dev.Deinit()
	f.mounted = false
	f.dev = nil
	f.files = nil
	return err
}

// Format implements vfs.FileSystem. The new, empty snapshot gets a sequence
// number above every record found on the device.
func (f *FS) Format(dev blockdevice.Device) error {
	if f.mounted {
		return ErrMounted
	}
	if dev.Size()/dev.EraseSize() < 2 {
		return ErrDeviceTooSmall
	}
	if err := dev.Init(); err != nil {
		return fmt.Errorf("cowfs: init: %w", err)
	}

	s, err := scan(dev)
	if err != nil {
		_ = dev.Deinit()
		return err
	}

	f.dev = dev
	f.blockSize = dev.EraseSize()
	f.blocks = uint32(dev.Size() / dev.EraseSize())
	f.files = map[string][]byte{}
	f.live = roaring.New()
	f.bad = roaring.New()
	f.nextSeq = s.maxSeq + 1
	f.cursor = 0

	err = f.commit(map[string][]byte{})
	f.dev = nil
	f.files = nil
	if derr := dev.Deinit(); err == nil {
		err = derr
	}
	return err
}

// Stats returns the accumulated counters.
func (f *FS) Stats() Stats { return f.stats }

// BadBlocks returns the blocks found unusable during the current mount.
func (f *FS) BadBlocks() *roaring.Bitmap {
	if f.bad == nil {
		return roaring.New()
	}
	return f.bad.Clone()
}

// LiveBlocks returns the blocks holding the live snapshot.
func (f *FS) LiveBlocks() *roaring.Bitmap {
	if f.live == nil {
		return roaring.New()
	}
	return f.live.Clone()
}

// Names returns the names of all files in lexical order.
func (f *FS) Names() ([]string, error) {
	if !f.mounted {
		return nil, ErrNotMounted
	}
	names := make([]string, 0, len(f.files))
	for name := range f.files {
		names = append(names, name)
	}
	slices.Sort(names)
	return names, nil
}

// Stat implements vfs.FileSystem.
func (f *FS) Stat(name string) (fs.FileInfo, error) {
	if err := f.check("stat", name); err != nil {
		return nil, err
	}
	data, ok := f.files[name]
	if !ok {
		return nil, &fs.PathError{Op: "stat", Path: name, Err: fs.ErrNotExist}
	}
	return fileInfo{name: name, size: int64(len(data))}, nil
}

// Remove implements vfs.FileSystem.
func (f *FS) Remove(name string) error {
	if err := f.check("remove", name); err != nil {
		return err
	}
	if _, ok := f.files[name]; !ok {
		return &fs.PathError{Op: "remove", Path: name, Err: fs.ErrNotExist}
	}

	next := f.cloneFiles()
	delete(next, name)
	if err := f.commit(next); err != nil {
		return &fs.PathError{Op: "remove", Path: name, Err: err}
	}
	return nil
}

// Rename implements vfs.FileSystem. An existing newname is replaced
// atomically.
func (f *FS) Rename(oldname, newname string) error {
	if err := f.check("rename", oldname); err != nil {
		return err
	}
	if err := validName("rename", newname); err != nil {
		return err
	}
	data, ok := f.files[oldname]
	if !ok {
		return &fs.PathError{Op: "rename", Path: oldname, Err: fs.ErrNotExist}
	}
	if oldname == newname {
		return nil
	}

	next := f.cloneFiles()
	delete(next, oldname)
	next[newname] = data
	if err := f.commit(next); err != nil {
		return &fs.PathError{Op: "rename", Path: oldname, Err: err}
	}
	return nil
}

// OpenFile implements vfs.FileSystem. Creating a file commits immediately;
// written contents are committed when the handle is closed.
func (f *FS) OpenFile(name string, flag int) (vfs.File, error) {
	if err := f.check("open", name); err != nil {
		return nil, err
	}

	data, exists := f.files[name]
	switch {
	case exists && flag&vfs.O_CREATE != 0 && flag&vfs.O_EXCL != 0:
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrExist}
	case !exists && flag&vfs.O_CREATE == 0:
		return nil, &fs.PathError{Op: "open", Path: name, Err: fs.ErrNotExist}
	case !exists:
		next := f.cloneFiles()
		next[name] = nil
		if err := f.commit(next); err != nil {
			return nil, &fs.PathError{Op: "open", Path: name, Err: err}
		}
	}

	h := &file{
		fs:   f,
		name: name,
		flag: flag,
		data: bytes.Clone(data),
	}
	if exists && flag&vfs.O_TRUNC != 0 && h.writable() {
		h.data = nil
		h.dirty = len(data) > 0
	}
	return h, nil
}

func (f *FS) check(op, name string) error {
	if !f.mounted {
		return &fs.PathError{Op: op, Path: name, Err: ErrNotMounted}
	}
	return validName(op, name)
}

func validName(op, name string) error {
	if name == "" || len(name) > maxNameLen || strings.ContainsRune(name, '/') {
		return &fs.PathError{Op: op, Path: name, Err: fs.ErrInvalid}
	}
	return nil
}

func (f *FS) cloneFiles() map[string][]byte {
	next := make(map[string][]byte, len(f.files)+1)
	for k, v := range f.files {
		next[k] = v
	}
	return next
}

// commit writes files as a new snapshot and makes it the in-memory state.
// On failure the in-memory state is unchanged.
func (f *FS) commit(files map[string][]byte) error {
	seq := f.nextSeq
	// Burn the sequence number even if the commit fails, since some of its
	// parts may already be on the device.
	f.nextSeq++

	placed, err := f.writeSnapshot(seq, encodeNamespace(files))
	if err != nil {
		f.stats.FailedCommits++
		f.opts.logger.Warn("cowfs commit failed", "seq", seq, "error", err, "bad_blocks", f.bad.GetCardinality())
		return err
	}

	f.files = files
	f.live = placed
	f.stats.Commits++
	f.stats.Seq = seq
	return nil
}

func (f *FS) writeSnapshot(seq uint64, payload []byte) (*roaring.Bitmap, error) {
	capacity := f.blockSize - recordHeaderSize
	parts := max(1, (uint64(len(payload))+capacity-1)/capacity)
	if parts > 0xFFFF || uint64(len(payload)) > 0xFFFFFFFF {
		return nil, vfs.ErrNoSpace
	}

	placed := roaring.New()
	tried := uint32(0)
	for part := uint64(0); part < parts; part++ {
		lo := part * capacity
		hi := min(lo+capacity, uint64(len(payload)))
		rec := encodeRecord(recordHeader{
			seq:    seq,
			part:   uint16(part),
			parts:  uint16(parts),
			length: uint32(hi - lo),
			total:  uint32(len(payload)),
		}, payload[lo:hi], f.dev.ProgramSize())

		for {
			if tried == f.blocks {
				return nil, vfs.ErrNoSpace
			}
			block := f.cursor
			f.cursor = (f.cursor + 1) % f.blocks
			tried++

			if f.live.Contains(block) || f.bad.Contains(block) || placed.Contains(block) {
				continue
			}
			ok, err := f.writeBlock(block, rec)
			if err != nil {
				return nil, err
			}
			if ok {
				placed.Add(block)
				break
			}
			f.bad.Add(block)
			f.stats.BadBlocks++
			f.opts.logger.Debug("cowfs bad block", "block", block, "seq", seq)
		}
	}
	return placed, nil
}

// writeBlock erases a block, programs rec and reports whether the block reads
// back as programmed.
func (f *FS) writeBlock(block uint32, rec []byte) (bool, error) {
	addr := uint64(block) * f.blockSize
	if err := f.dev.Erase(addr, f.blockSize); err != nil {
		return false, err
	}
	if err := f.dev.Program(rec, addr); err != nil {
		return false, err
	}
	f.stats.BlockWrites++

	back := make([]byte, readLen(uint64(len(rec)), f.dev.ReadSize()))
	if err := f.dev.Read(back, addr); err != nil {
		return false, err
	}
	return bytes.Equal(back[:len(rec)], rec), nil
}

func readLen(n, unit uint64) uint64 {
	return (n + unit - 1) / unit * unit
}

type scanResult struct {
	files    map[string][]byte // nil when no complete snapshot was found
	live     *roaring.Bitmap
	seq      uint64
	maxSeq   uint64
	liveLast uint32
}

type partial struct {
	parts  uint16
	total  uint32
	blocks map[uint16]uint32
	data   map[uint16][]byte
}

// scan reads every block of an initialized device.
func scan(dev blockdevice.Device) (scanResult, error) {
	blockSize := dev.EraseSize()
	blocks := uint32(dev.Size() / blockSize)

	res := scanResult{live: roaring.New()}
	seen := make(map[uint64]*partial)

	buf := make([]byte, blockSize)
	for b := uint32(0); b < blocks; b++ {
		if err := dev.Read(buf, uint64(b)*blockSize); err != nil {
			return res, fmt.Errorf("cowfs: scan block %d: %w", b, err)
		}
		h, payload, err := decodeRecord(buf)
		if err != nil {
			continue
		}
		res.maxSeq = max(res.maxSeq, h.seq)

		p := seen[h.seq]
		if p == nil {
			p = &partial{parts: h.parts, total: h.total, blocks: map[uint16]uint32{}, data: map[uint16][]byte{}}
			seen[h.seq] = p
		}
		if p.parts != h.parts || p.total != h.total {
			continue
		}
		if _, dup := p.blocks[h.part]; dup {
			continue
		}
		p.blocks[h.part] = b
		p.data[h.part] = bytes.Clone(payload)
	}

	seqs := make([]uint64, 0, len(seen))
	for seq := range seen {
		seqs = append(seqs, seq)
	}
	slices.Sort(seqs)
	slices.Reverse(seqs)

	for _, seq := range seqs {
		p := seen[seq]
		if len(p.blocks) != int(p.parts) {
			continue
		}
		payload := make([]byte, 0, p.total)
		for i := uint16(0); i < p.parts; i++ {
			payload = append(payload, p.data[i]...)
		}
		if uint64(len(payload)) != uint64(p.total) {
			continue
		}
		files, err := decodeNamespace(payload)
		if err != nil {
			continue
		}

		res.files = files
		res.seq = seq
		for _, b := range p.blocks {
			res.live.Add(b)
			res.liveLast = max(res.liveLast, b)
		}
		break
	}
	return res, nil
}

type fileInfo struct {
	name string
	size int64
}

func (fi fileInfo) Name() string       { return fi.name }
func (fi fileInfo) Size() int64        { return fi.size }
func (fi fileInfo) Mode() fs.FileMode  { return 0o644 }
func (fi fileInfo) ModTime() time.Time { return time.Time{} }
func (fi fileInfo) IsDir() bool        { return false }
func (fi fileInfo) Sys() any           { return nil }
