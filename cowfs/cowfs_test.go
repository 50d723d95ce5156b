package cowfs

import (
	"bytes"
	"fmt"
	"io"
	"io/fs"
	"testing"

	"github.com/hupe1980/flashsim/blockdevice"
	"github.com/hupe1980/flashsim/testutil"
	"github.com/hupe1980/flashsim/vfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var _ vfs.FileSystem = (*FS)(nil)

func newMounted(t *testing.T, dev blockdevice.Device) *FS {
	t.Helper()
	f := New()
	require.NoError(t, f.Format(dev))
	require.NoError(t, f.Mount(dev))
	return f
}

func contents(t *testing.T, f *FS) map[string]string {
	t.Helper()
	names, err := f.Names()
	require.NoError(t, err)

	out := make(map[string]string, len(names))
	for _, name := range names {
		data, err := vfs.ReadFile(f, name)
		require.NoError(t, err)
		out[name] = string(data)
	}
	return out
}

func TestFS_Basic(t *testing.T) {
	dev := blockdevice.NewExhaustible(blockdevice.DefaultGeometry(16384))
	f := newMounted(t, dev)

	names, err := f.Names()
	require.NoError(t, err)
	assert.Empty(t, names)

	require.NoError(t, vfs.WriteFile(f, "a.txt", []byte("hello")))
	info, err := f.Stat("a.txt")
	require.NoError(t, err)
	assert.Equal(t, "a.txt", info.Name())
	assert.Equal(t, int64(5), info.Size())
	assert.False(t, info.IsDir())

	data, err := vfs.ReadFile(f, "a.txt")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	require.NoError(t, vfs.WriteFile(f, "b.txt", []byte("world")))
	require.NoError(t, f.Rename("b.txt", "a.txt"))
	assert.Equal(t, map[string]string{"a.txt": "world"}, contents(t, f))

	require.NoError(t, f.Remove("a.txt"))
	_, err = f.Stat("a.txt")
	assert.ErrorIs(t, err, fs.ErrNotExist)

	ok, err := vfs.Exists(f, "a.txt")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, f.Unmount())
	assert.ErrorIs(t, f.Unmount(), ErrNotMounted)
}

func TestFS_Errors(t *testing.T) {
	dev := blockdevice.NewExhaustible(blockdevice.DefaultGeometry(16384))
	f := newMounted(t, dev)
	require.NoError(t, vfs.WriteFile(f, "x", []byte("1")))

	_, err := f.OpenFile("missing", vfs.O_RDONLY)
	assert.ErrorIs(t, err, fs.ErrNotExist)

	_, err = f.OpenFile("x", vfs.O_WRONLY|vfs.O_CREATE|vfs.O_EXCL)
	assert.ErrorIs(t, err, fs.ErrExist)

	assert.ErrorIs(t, f.Remove("missing"), fs.ErrNotExist)
	assert.ErrorIs(t, f.Rename("missing", "y"), fs.ErrNotExist)
	assert.ErrorIs(t, f.Rename("x", "a/b"), fs.ErrInvalid)
	_, err = f.Stat("")
	assert.ErrorIs(t, err, fs.ErrInvalid)

	var pathErr *fs.PathError
	require.ErrorAs(t, f.Remove("missing"), &pathErr)
	assert.Equal(t, "remove", pathErr.Op)
	assert.Equal(t, "missing", pathErr.Path)

	assert.ErrorIs(t, f.Mount(dev), ErrMounted)
	assert.ErrorIs(t, f.Format(dev), ErrMounted)

	require.NoError(t, f.Unmount())
	_, err = f.Stat("x")
	assert.ErrorIs(t, err, ErrNotMounted)
}

func TestFS_Handles(t *testing.T) {
	dev := blockdevice.NewExhaustible(blockdevice.DefaultGeometry(16384))
	f := newMounted(t, dev)

	// Creating commits an empty file right away.
	h, err := f.OpenFile("log", vfs.O_WRONLY|vfs.O_CREATE)
	require.NoError(t, err)
	info, err := f.Stat("log")
	require.NoError(t, err)
	assert.Zero(t, info.Size())

	_, err = h.Write([]byte("abc"))
	require.NoError(t, err)
	_, err = h.Read(make([]byte, 1))
	assert.Error(t, err, "write-only handle")

	// Unclosed writes are invisible.
	info, err = f.Stat("log")
	require.NoError(t, err)
	assert.Zero(t, info.Size())

	require.NoError(t, h.Close())
	assert.ErrorIs(t, h.Close(), fs.ErrClosed)

	h, err = f.OpenFile("log", vfs.O_WRONLY|vfs.O_APPEND)
	require.NoError(t, err)
	_, err = h.Write([]byte("def"))
	require.NoError(t, err)
	require.NoError(t, h.Close())

	data, err := vfs.ReadFile(f, "log")
	require.NoError(t, err)
	assert.Equal(t, "abcdef", string(data))

	// Overwrite in place without truncation.
	h, err = f.OpenFile("log", vfs.O_RDWR)
	require.NoError(t, err)
	_, err = h.Write([]byte("XY"))
	require.NoError(t, err)
	rest, err := io.ReadAll(h)
	require.NoError(t, err)
	assert.Equal(t, "cdef", string(rest))
	require.NoError(t, h.Close())

	data, err = vfs.ReadFile(f, "log")
	require.NoError(t, err)
	assert.Equal(t, "XYcdef", string(data))

	// Truncation alone is a modification.
	h, err = f.OpenFile("log", vfs.O_WRONLY|vfs.O_TRUNC)
	require.NoError(t, err)
	require.NoError(t, h.Close())
	info, err = f.Stat("log")
	require.NoError(t, err)
	assert.Zero(t, info.Size())

	ro, err := f.OpenFile("log", vfs.O_RDONLY)
	require.NoError(t, err)
	_, err = ro.Write([]byte("x"))
	assert.Error(t, err, "read-only handle")
	require.NoError(t, ro.Close())
}

func TestFS_ReadOnlyHandleDoesNotCommit(t *testing.T) {
	dev := blockdevice.NewExhaustible(blockdevice.DefaultGeometry(16384))
	f := newMounted(t, dev)
	require.NoError(t, vfs.WriteFile(f, "a", []byte("x")))

	commits := f.Stats().Commits
	_, err := vfs.ReadFile(f, "a")
	require.NoError(t, err)
	_, err = f.Stat("a")
	require.NoError(t, err)
	assert.Equal(t, commits, f.Stats().Commits)
}

func TestFS_Remount(t *testing.T) {
	dev := blockdevice.NewExhaustible(blockdevice.DefaultGeometry(16384))
	f := newMounted(t, dev)

	require.NoError(t, vfs.WriteFile(f, "one", []byte("1")))
	require.NoError(t, vfs.WriteFile(f, "two", []byte("22")))
	seq := f.Stats().Seq
	want := contents(t, f)
	require.NoError(t, f.Unmount())

	g := New()
	require.NoError(t, g.Mount(dev))
	assert.Equal(t, want, contents(t, g))
	assert.Equal(t, seq, g.Stats().Seq)

	require.NoError(t, g.Remove("one"))
	assert.Greater(t, g.Stats().Seq, seq)
	require.NoError(t, g.Unmount())
}

func TestFS_MountThroughReadOnlyGuard(t *testing.T) {
	dev := blockdevice.NewExhaustible(blockdevice.DefaultGeometry(16384))
	f := newMounted(t, dev)
	require.NoError(t, vfs.WriteFile(f, "a", []byte("x")))
	require.NoError(t, f.Unmount())

	g := New()
	require.NoError(t, g.Mount(blockdevice.NewReadOnly(dev)))
	assert.Equal(t, map[string]string{"a": "x"}, contents(t, g))
	require.NoError(t, g.Unmount())
}

func TestFS_MountBlankDevice(t *testing.T) {
	dev := blockdevice.NewExhaustible(blockdevice.DefaultGeometry(16384))
	f := New()
	assert.ErrorIs(t, f.Mount(dev), ErrCorrupt)

	// The failed mount left the device powered down.
	assert.Panics(t, func() { _ = dev.Read(make([]byte, 1), 0) })

	tiny := blockdevice.NewExhaustible(blockdevice.DefaultGeometry(512))
	assert.ErrorIs(t, f.Format(tiny), ErrDeviceTooSmall)
}

func TestFS_FormatKeepsSequenceMonotonic(t *testing.T) {
	dev := blockdevice.NewExhaustible(blockdevice.DefaultGeometry(16384))
	f := newMounted(t, dev)
	for i := 0; i < 5; i++ {
		require.NoError(t, vfs.WriteFile(f, "a", []byte{byte(i)}))
	}
	seq := f.Stats().Seq
	require.NoError(t, f.Unmount())

	require.NoError(t, f.Format(dev))
	require.NoError(t, f.Mount(dev))
	assert.Greater(t, f.Stats().Seq, seq)
	assert.Empty(t, contents(t, f))
}

func TestFS_MultiBlockSnapshot(t *testing.T) {
	dev := blockdevice.NewExhaustible(blockdevice.DefaultGeometry(32768))
	f := newMounted(t, dev)

	rng := testutil.NewRNG(3)
	big := rng.Bytes(3000)
	require.NoError(t, vfs.WriteFile(f, "big", big))
	assert.Greater(t, f.LiveBlocks().GetCardinality(), uint64(1))
	require.NoError(t, f.Unmount())

	require.NoError(t, f.Mount(dev))
	data, err := vfs.ReadFile(f, "big")
	require.NoError(t, err)
	assert.Equal(t, big, data)
}

func TestFS_WearLevelsAcrossBlocks(t *testing.T) {
	dev := blockdevice.NewExhaustible(blockdevice.DefaultGeometry(8192))
	f := newMounted(t, dev)

	for i := 0; i < 64; i++ {
		require.NoError(t, vfs.WriteFile(f, "a", []byte(fmt.Sprint(i))))
	}

	// 16 blocks, 65 commits: the round-robin cursor spreads them evenly.
	for b := uint64(0); b < 16; b++ {
		assert.InDelta(t, 4, dev.EraseCycles(b), 1, "block %d", b)
	}
}

func TestFS_ExhaustionLeavesStateIntact(t *testing.T) {
	dev := blockdevice.NewExhaustible(blockdevice.DefaultGeometry(4096), blockdevice.WithEraseCycles(3))
	f := newMounted(t, dev)

	var (
		last    string
		commits int
		err     error
	)
	for i := 0; i < 1000; i++ {
		payload := fmt.Sprintf("value %d", i)
		if err = vfs.WriteFile(f, "v", []byte(payload)); err != nil {
			break
		}
		last = payload
		commits++
	}
	require.Error(t, err)
	assert.True(t, vfs.IsNoSpace(err), "got %v", err)
	assert.Greater(t, commits, 8)

	// Every block but the live one was found bad.
	assert.Equal(t, uint64(7), f.BadBlocks().GetCardinality())
	assert.Equal(t, uint64(1), f.LiveBlocks().GetCardinality())
	assert.Positive(t, f.Stats().FailedCommits)

	data, rerr := vfs.ReadFile(f, "v")
	require.NoError(t, rerr)
	assert.Equal(t, last, string(data))

	require.NoError(t, f.Unmount())
	require.NoError(t, f.Mount(dev))
	data, rerr = vfs.ReadFile(f, "v")
	require.NoError(t, rerr)
	assert.Equal(t, last, string(data))

	// Worn blocks swallowed the programs aimed at them.
	assert.Positive(t, dev.Stats().DroppedPrograms)
}

// Power is cut after every program and erase: a second mount of a copy of
// the medium must see either the namespace before or after the operation in
// flight.
func TestFS_PowerCutAtEveryDeviceWrite(t *testing.T) {
	dev := blockdevice.NewExhaustible(blockdevice.DefaultGeometry(32768))
	require.NoError(t, New().Format(dev))

	var before, after map[string]string
	cuts := 0
	obs := blockdevice.NewObserving(dev, func(op blockdevice.Op, addr, size uint64) {
		cuts++
		clone, err := blockdevice.Restore(dev.Export())
		if !assert.NoError(t, err) {
			return
		}
		g := New()
		if !assert.NoError(t, g.Mount(clone), "cut %d after %v at %d", cuts, op, addr) {
			return
		}
		got := contents(t, g)
		if !assert.True(t, equalNS(got, before) || equalNS(got, after), "cut %d after %v at %d: %v", cuts, op, addr, got) {
			return
		}
		assert.NoError(t, g.Unmount())
	})

	f := New()
	require.NoError(t, f.Mount(obs))

	rng := testutil.NewRNG(11)
	state := map[string]string{}
	step := func(mutate func(next map[string]string), run func() error) {
		before = clone(state)
		mutate(state)
		after = clone(state)
		require.NoError(t, run())
	}

	for i := 0; i < 40; i++ {
		name := fmt.Sprintf("f%d", rng.Intn(4))
		switch rng.Intn(3) {
		case 0, 1:
			data := string(rng.Bytes(rng.Intn(600)))
			_, exists := state[name]
			if !exists {
				// Create and write are two commits; the create goes first.
				step(func(m map[string]string) { m[name] = "" }, func() error {
					h, err := f.OpenFile(name, vfs.O_WRONLY|vfs.O_CREATE)
					if err != nil {
						return err
					}
					step(func(m map[string]string) { m[name] = data }, func() error {
						_, err := h.Write([]byte(data))
						if err != nil {
							return err
						}
						return h.Close()
					})
					return nil
				})
				continue
			}
			step(func(m map[string]string) { m[name] = data }, func() error {
				return vfs.WriteFile(f, name, []byte(data))
			})
		case 2:
			other := fmt.Sprintf("f%d", rng.Intn(4))
			if _, ok := state[name]; !ok || other == name {
				continue
			}
			step(func(m map[string]string) {
				m[other] = m[name]
				delete(m, name)
			}, func() error { return f.Rename(name, other) })
		}
	}

	assert.Positive(t, cuts)
	assert.Equal(t, state, contents(t, f))
}

func clone(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func equalNS(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if w, ok := b[k]; !ok || w != v {
			return false
		}
	}
	return true
}

func TestRecord(t *testing.T) {
	payload := []byte("payload bytes")
	rec := encodeRecord(recordHeader{seq: 9, part: 1, parts: 3, length: uint32(len(payload)), total: 40}, payload, 64)
	assert.Len(t, rec, 64)

	block := append(bytes.Clone(rec), bytes.Repeat([]byte{0xFF}, 448)...)
	h, got, err := decodeRecord(block)
	require.NoError(t, err)
	assert.Equal(t, uint64(9), h.seq)
	assert.Equal(t, uint16(1), h.part)
	assert.Equal(t, uint16(3), h.parts)
	assert.Equal(t, payload, got)

	for _, off := range []int{0, 5, 13, recordHeaderSize + 2} {
		bad := bytes.Clone(block)
		bad[off] ^= 0x01
		_, _, err := decodeRecord(bad)
		assert.ErrorIs(t, err, errBadRecord, "flip at %d", off)
	}

	_, _, err = decodeRecord(bytes.Repeat([]byte{0xFF}, 512))
	assert.ErrorIs(t, err, errBadRecord)
	_, _, err = decodeRecord(make([]byte, 512))
	assert.ErrorIs(t, err, errBadRecord)
}

func TestNamespaceEncoding(t *testing.T) {
	files := map[string][]byte{
		"b":     []byte("two"),
		"a":     nil,
		"zzzzz": bytes.Repeat([]byte{7}, 300),
	}
	got, err := decodeNamespace(encodeNamespace(files))
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Empty(t, got["a"])
	assert.Equal(t, files["b"], got["b"])
	assert.Equal(t, files["zzzzz"], got["zzzzz"])

	enc := encodeNamespace(files)
	_, err = decodeNamespace(enc[:len(enc)-1])
	assert.Error(t, err)
	_, err = decodeNamespace(append(enc, 0))
	assert.Error(t, err)
	_, err = decodeNamespace(nil)
	assert.Error(t, err)
}
