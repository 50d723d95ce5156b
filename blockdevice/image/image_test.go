package image

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"runtime"
	"testing"

	"github.com/hupe1980/flashsim/blockdevice"
	"github.com/hupe1980/flashsim/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func wornDevice(t *testing.T) *blockdevice.Exhaustible {
	t.Helper()

	dev := blockdevice.NewExhaustible(blockdevice.DefaultGeometry(8192),
		blockdevice.WithProgramCycles(5), blockdevice.WithEraseCycles(2))
	require.NoError(t, dev.Init())

	rng := testutil.NewRNG(7)
	require.NoError(t, dev.Erase(0, 1024))
	require.NoError(t, dev.Erase(0, 512))
	require.NoError(t, dev.Program(rng.Bytes(128), 0))
	require.NoError(t, dev.Program(rng.Bytes(64), 512))
	// Unit 3 is programmed without an erase; unit 4.. never touched.
	require.NoError(t, dev.Program(bytes.Repeat([]byte{0x42}, 64), 1536))
	require.NoError(t, dev.Deinit())
	return dev
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	for _, c := range []Compression{CompressionNone, CompressionLZ4, CompressionZSTD} {
		t.Run(c.String(), func(t *testing.T) {
			dev := wornDevice(t)

			var buf bytes.Buffer
			require.NoError(t, Save(&buf, dev, c))

			got, err := Load(&buf)
			require.NoError(t, err)
			assert.Equal(t, dev.Export(), got.Export())
			assert.Equal(t, dev.WornUnits().ToArray(), got.WornUnits().ToArray())

			// Zero-fill and erase-fill stay distinguishable.
			require.NoError(t, got.Init())
			p := make([]byte, 4)
			require.NoError(t, got.Read(p, 4096))
			assert.Equal(t, []byte{0, 0, 0, 0}, p)
			require.NoError(t, got.Read(p, 1024-4))
			assert.Equal(t, []byte{0xFF, 0xFF, 0xFF, 0xFF}, p)
			assert.False(t, got.Allocated(5))
		})
	}
}

func TestSave_CompressesSparseDevice(t *testing.T) {
	dev := blockdevice.NewExhaustible(blockdevice.DefaultGeometry(1 << 16))
	require.NoError(t, dev.Init())
	for addr := uint64(0); addr < dev.Size(); addr += dev.EraseSize() {
		require.NoError(t, dev.Erase(addr, dev.EraseSize()))
	}

	var plain, packed bytes.Buffer
	require.NoError(t, Save(&plain, dev, CompressionNone))
	require.NoError(t, Save(&packed, dev, CompressionZSTD))
	assert.Less(t, packed.Len(), plain.Len()/4)

	h, err := ReadHeader(bytes.NewReader(packed.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, CompressionZSTD, h.Compression)
	assert.Equal(t, uint64(packed.Len()-headerSize), h.StoredLen)
}

func TestLoad_Rejects(t *testing.T) {
	dev := wornDevice(t)
	var buf bytes.Buffer
	require.NoError(t, Save(&buf, dev, CompressionNone))
	good := buf.Bytes()

	tests := []struct {
		name   string
		mutate func([]byte) []byte
		target error
	}{
		{"magic", func(b []byte) []byte { b[0] = 'X'; return b }, ErrInvalidMagic},
		{"version", func(b []byte) []byte { b[4] = 99; return b }, ErrInvalidVersion},
		{"checksum", func(b []byte) []byte { b[len(b)-1] ^= 0xFF; return b }, ErrChecksum},
		{"compression", func(b []byte) []byte { b[5] = 9; return b }, ErrCorrupt},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := tt.mutate(append([]byte(nil), good...))
			_, err := Load(bytes.NewReader(b))
			assert.ErrorIs(t, err, tt.target)
		})
	}

	t.Run("truncated", func(t *testing.T) {
		_, err := Load(bytes.NewReader(good[:len(good)-10]))
		assert.Error(t, err)
	})
	t.Run("empty", func(t *testing.T) {
		_, err := Load(bytes.NewReader(nil))
		assert.Error(t, err)
	})
}

// sealed frames raw as an uncompressed image with a valid checksum.
func sealed(raw []byte) []byte {
	h := Header{
		Version:   Version,
		RawLen:    uint64(len(raw)),
		StoredLen: uint64(len(raw)),
		Checksum:  crc32.ChecksumIEEE(raw),
	}
	return append(h.marshal(), raw...)
}

func geometryBody(size, read, program, erase uint64, rest ...byte) []byte {
	var b []byte
	for _, v := range []uint64{size, read, program, erase} {
		b = binary.LittleEndian.AppendUint64(b, v)
	}
	b = binary.LittleEndian.AppendUint32(b, 0)
	b = binary.LittleEndian.AppendUint32(b, 0)
	return append(b, rest...)
}

func TestLoad_RejectsHostileGeometry(t *testing.T) {
	tests := []struct {
		name string
		raw  []byte
	}{
		// 1<<62 program units; the counter size would wrap.
		{"program units", geometryBody(1<<62, 1, 1, 1<<62)},
		{"erase units", geometryBody(1<<62, 1, 1, 1)},
		// One unit, counters present, unit data claimed but missing.
		{"unit larger than body", geometryBody(1<<40, 1, 1<<40, 1<<40, 0, 0, 0, 0, 0, 0, 0, 0, 1)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var err error
			require.NotPanics(t, func() {
				_, err = Load(bytes.NewReader(sealed(tt.raw)))
			})
			assert.ErrorIs(t, err, ErrCorrupt)
		})
	}
}

func TestLoad_DeclaredSizeDoesNotDriveAllocation(t *testing.T) {
	tests := []struct {
		name   string
		header Header
		body   []byte
	}{
		{"missing body", Header{Version: Version, Compression: CompressionZSTD, RawLen: 64, StoredLen: maxImageSize}, nil},
		{"uncompressed length mismatch", Header{Version: Version, RawLen: maxImageSize, StoredLen: 16}, make([]byte, 16)},
		{"lz4 expansion", Header{Version: Version, Compression: CompressionLZ4, RawLen: maxImageSize, StoredLen: 16}, make([]byte, 16)},
		{"zstd garbage", Header{Version: Version, Compression: CompressionZSTD, RawLen: maxImageSize, StoredLen: 16}, make([]byte, 16)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := append(tt.header.marshal(), tt.body...)

			var before, after runtime.MemStats
			runtime.ReadMemStats(&before)
			_, err := Load(bytes.NewReader(data))
			runtime.ReadMemStats(&after)

			assert.ErrorIs(t, err, ErrCorrupt)
			assert.Less(t, after.TotalAlloc-before.TotalAlloc, uint64(64<<20))
		})
	}

	t.Run("trailing bytes", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, Save(&buf, wornDevice(t), CompressionLZ4))
		buf.WriteString("extra")
		_, err := Load(&buf)
		assert.ErrorIs(t, err, ErrCorrupt)
	})
}

func TestParseCompression(t *testing.T) {
	for _, c := range []Compression{CompressionNone, CompressionLZ4, CompressionZSTD} {
		got, err := ParseCompression(c.String())
		require.NoError(t, err)
		assert.Equal(t, c, got)
	}
	_, err := ParseCompression("brotli")
	assert.Error(t, err)
	assert.Equal(t, "compression(7)", Compression(7).String())
}
