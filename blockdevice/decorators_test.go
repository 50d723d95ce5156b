package blockdevice

import (
	"bytes"
	"testing"
	"time"

	"github.com/hupe1980/flashsim/internal/resource"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Compile-time interface checks.
var (
	_ Device = (*Exhaustible)(nil)
	_ Device = (*ReadOnly)(nil)
	_ Device = (*Slice)(nil)
	_ Device = (*Observing)(nil)
	_ Device = (*Throttled)(nil)
)

func TestReadOnly(t *testing.T) {
	dev := newTestDevice(t)
	data := bytes.Repeat([]byte{0x3C}, 64)
	require.NoError(t, dev.Erase(0, 512))
	require.NoError(t, dev.Program(data, 0))

	ro := NewReadOnly(dev)
	assert.Equal(t, GeometryOf(dev), GeometryOf(ro))

	got := make([]byte, 64)
	require.NoError(t, ro.Read(got, 0))
	assert.Equal(t, data, got)

	assert.PanicsWithValue(t, "blockdevice: program of read-only device not allowed", func() {
		_ = ro.Program(data, 0)
	})
	assert.PanicsWithValue(t, "blockdevice: erase of read-only device not allowed", func() {
		_ = ro.Erase(0, 512)
	})

	// Nothing reached the underlying device.
	assert.Equal(t, uint64(1), dev.Stats().Programs)
	assert.Equal(t, uint64(1), dev.Stats().Erases)
}

func TestReadOnly_ForwardsPowerCycle(t *testing.T) {
	dev := NewExhaustible(DefaultGeometry(4096))
	ro := NewReadOnly(dev)

	require.NoError(t, ro.Init())
	require.NoError(t, ro.Read(make([]byte, 16), 0))
	require.NoError(t, ro.Deinit())
	assert.Panics(t, func() { _ = dev.Read(make([]byte, 1), 0) })
}

func TestSlice(t *testing.T) {
	dev := newTestDevice(t)
	s := NewSlice(dev, 1024, 3072)

	assert.Equal(t, uint64(2048), s.Size())
	assert.Equal(t, dev.EraseSize(), s.EraseSize())

	data := bytes.Repeat([]byte{0x99}, 64)
	require.NoError(t, s.Erase(0, 512))
	require.NoError(t, s.Program(data, 0))

	got := make([]byte, 64)
	require.NoError(t, dev.Read(got, 1024))
	assert.Equal(t, data, got, "slice offset is rebased onto the parent")
	assert.Equal(t, uint32(1), dev.EraseCycles(2))
	assert.Zero(t, dev.EraseCycles(0))

	assert.Panics(t, func() { _ = s.Erase(2048, 512) }, "slice bounds are enforced")
	assert.Panics(t, func() { NewSlice(dev, 100, 612) })
	assert.Panics(t, func() { NewSlice(dev, 512, 512) })
}

func TestObserving(t *testing.T) {
	dev := newTestDevice(t)

	type change struct {
		op         Op
		addr, size uint64
	}
	var changes []change
	obs := NewObserving(dev, func(op Op, addr, size uint64) {
		changes = append(changes, change{op, addr, size})
	})

	require.NoError(t, obs.Erase(512, 1024))
	require.NoError(t, obs.Program(make([]byte, 128), 512))
	require.NoError(t, obs.Read(make([]byte, 8), 0))

	assert.Equal(t, []change{
		{OpErase, 512, 1024},
		{OpProgram, 512, 128},
	}, changes)
	assert.Equal(t, "erase", OpErase.String())
	assert.Equal(t, "program", OpProgram.String())
}

func TestObserving_NilCallback(t *testing.T) {
	dev := newTestDevice(t)
	obs := NewObserving(dev, nil)

	assert.NotPanics(t, func() {
		_ = obs.Erase(0, 512)
		_ = obs.Program(make([]byte, 64), 0)
	})
}

func TestThrottled(t *testing.T) {
	dev := newTestDevice(t)
	rc := resource.NewController(resource.Config{IOLimitBytesPerSec: 1 << 20})
	th := NewThrottled(dev, rc)

	data := bytes.Repeat([]byte{0x10}, 64)
	start := time.Now()
	require.NoError(t, th.Erase(0, 512))
	require.NoError(t, th.Program(data, 0))
	assert.Less(t, time.Since(start), time.Second)

	got := make([]byte, 64)
	require.NoError(t, th.Read(got, 0))
	assert.Equal(t, data, got)

	unthrottled := NewThrottled(dev, nil)
	require.NoError(t, unthrottled.Erase(0, 512))
}
