package image

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"

	"github.com/hupe1980/flashsim/blockdevice"
)

const (
	// Magic identifies flashsim device images (ASCII: "FSIM").
	Magic = "FSIM"
	// Version is the current image format version.
	Version uint8 = 1

	headerSize = 32

	// maxImageSize bounds allocations driven by untrusted headers.
	maxImageSize = 1 << 32
)

var (
	ErrInvalidMagic   = errors.New("image: invalid magic")
	ErrInvalidVersion = errors.New("image: unsupported version")
	ErrChecksum       = errors.New("image: checksum mismatch")
	ErrCorrupt        = errors.New("image: corrupt body")
	errImageTooLarge  = errors.New("image: declared size too large")
)

// Header is the fixed 32-byte prefix of every image.
//
//	magic [4] | version u8 | compression u8 | reserved u16 |
//	rawLen u64 | storedLen u64 | crc32(raw body) u32 | reserved u32
type Header struct {
	Version     uint8
	Compression Compression
	RawLen      uint64
	StoredLen   uint64
	Checksum    uint32
}

func (h Header) marshal() []byte {
	buf := make([]byte, headerSize)
	copy(buf[0:4], Magic)
	buf[4] = h.Version
	buf[5] = uint8(h.Compression)
	binary.LittleEndian.PutUint64(buf[8:16], h.RawLen)
	binary.LittleEndian.PutUint64(buf[16:24], h.StoredLen)
	binary.LittleEndian.PutUint32(buf[24:28], h.Checksum)
	return buf
}

func parseHeader(buf []byte) (Header, error) {
	if string(buf[0:4]) != Magic {
		return Header{}, ErrInvalidMagic
	}
	h := Header{
		Version:     buf[4],
		Compression: Compression(buf[5]),
		RawLen:      binary.LittleEndian.Uint64(buf[8:16]),
		StoredLen:   binary.LittleEndian.Uint64(buf[16:24]),
		Checksum:    binary.LittleEndian.Uint32(buf[24:28]),
	}
	if h.Version != Version {
		return Header{}, fmt.Errorf("%w: %d", ErrInvalidVersion, h.Version)
	}
	if h.RawLen > maxImageSize || h.StoredLen > maxImageSize {
		return Header{}, errImageTooLarge
	}
	return h, nil
}

// Save writes the full state of dev to w.
func Save(w io.Writer, dev *blockdevice.Exhaustible, c Compression) error {
	raw := encodeState(dev.Export())

	stored, err := compress(raw, c)
	if errors.Is(err, errIncompressible) {
		c, stored, err = CompressionNone, raw, nil
	}
	if err != nil {
		return fmt.Errorf("image: compress %v: %w", c, err)
	}

	h := Header{
		Version:     Version,
		Compression: c,
		RawLen:      uint64(len(raw)),
		StoredLen:   uint64(len(stored)),
		Checksum:    crc32.ChecksumIEEE(raw),
	}
	if _, err := w.Write(h.marshal()); err != nil {
		return err
	}
	_, err = w.Write(stored)
	return err
}

// Load reads an image written by Save and rebuilds an uninitialized device.
func Load(r io.Reader) (*blockdevice.Exhaustible, error) {
	_, raw, err := readBody(r)
	if err != nil {
		return nil, err
	}

	state, err := decodeState(raw)
	if err != nil {
		return nil, err
	}
	dev, err := blockdevice.Restore(state)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return dev, nil
}

// ReadHeader returns the header of the image in r without decoding the body.
func ReadHeader(r io.Reader) (Header, error) {
	buf := make([]byte, headerSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return Header{}, fmt.Errorf("image: read header: %w", err)
	}
	return parseHeader(buf)
}

func readBody(r io.Reader) (Header, []byte, error) {
	h, err := ReadHeader(r)
	if err != nil {
		return Header{}, nil, err
	}

	if h.Compression == CompressionNone && h.RawLen != h.StoredLen {
		return Header{}, nil, fmt.Errorf("%w: uncompressed body of %d bytes, header says %d", ErrCorrupt, h.StoredLen, h.RawLen)
	}

	// Grows with the bytes actually present, not with the declared length.
	stored, err := io.ReadAll(io.LimitReader(r, int64(h.StoredLen)+1))
	if err != nil {
		return Header{}, nil, fmt.Errorf("image: read body: %w", err)
	}
	if uint64(len(stored)) != h.StoredLen {
		return Header{}, nil, fmt.Errorf("%w: stored body is %d bytes, header says %d", ErrCorrupt, len(stored), h.StoredLen)
	}

	raw, err := decompress(stored, h.Compression, h.RawLen)
	if err != nil {
		return Header{}, nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	if uint64(len(raw)) != h.RawLen {
		return Header{}, nil, fmt.Errorf("%w: body is %d bytes, header says %d", ErrCorrupt, len(raw), h.RawLen)
	}
	if crc32.ChecksumIEEE(raw) != h.Checksum {
		return Header{}, nil, ErrChecksum
	}
	return h, raw, nil
}

// Body layout (little endian):
//
//	size u64 | readSize u64 | programSize u64 | eraseSize u64 |
//	programLimit u32 | eraseLimit u32 |
//	programCycles [programUnits]u32 | eraseCycles [eraseUnits]u32 |
//	per erase unit: present u8 [+ eraseSize bytes]
func encodeState(s blockdevice.State) []byte {
	g := s.Geometry
	n := 4*8 + 2*4 + 4*len(s.ProgramCycles) + 4*len(s.EraseCycles) + len(s.Units)
	for _, u := range s.Units {
		n += len(u)
	}

	buf := make([]byte, 0, n)
	buf = binary.LittleEndian.AppendUint64(buf, g.Size)
	buf = binary.LittleEndian.AppendUint64(buf, g.ReadSize)
	buf = binary.LittleEndian.AppendUint64(buf, g.ProgramSize)
	buf = binary.LittleEndian.AppendUint64(buf, g.EraseSize)
	buf = binary.LittleEndian.AppendUint32(buf, s.ProgramLimit)
	buf = binary.LittleEndian.AppendUint32(buf, s.EraseLimit)
	for _, c := range s.ProgramCycles {
		buf = binary.LittleEndian.AppendUint32(buf, c)
	}
	for _, c := range s.EraseCycles {
		buf = binary.LittleEndian.AppendUint32(buf, c)
	}
	for _, u := range s.Units {
		if u == nil {
			buf = append(buf, 0)
			continue
		}
		buf = append(buf, 1)
		buf = append(buf, u...)
	}
	return buf
}

func decodeState(raw []byte) (blockdevice.State, error) {
	r := bytes.NewReader(raw)
	var s blockdevice.State

	var fixed struct {
		Size, ReadSize, ProgramSize, EraseSize uint64
		ProgramLimit, EraseLimit               uint32
	}
	if err := binary.Read(r, binary.LittleEndian, &fixed); err != nil {
		return s, fmt.Errorf("%w: geometry: %v", ErrCorrupt, err)
	}
	s.Geometry = blockdevice.Geometry{
		Size:        fixed.Size,
		ReadSize:    fixed.ReadSize,
		ProgramSize: fixed.ProgramSize,
		EraseSize:   fixed.EraseSize,
	}
	if err := s.Geometry.Validate(); err != nil {
		return s, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	s.ProgramLimit = fixed.ProgramLimit
	s.EraseLimit = fixed.EraseLimit

	g := s.Geometry
	// Counters and presence flags must fit in what is left. Each count is
	// bounded on its own first so the sum cannot wrap.
	pu, eu, left := g.ProgramUnits(), g.EraseUnits(), uint64(r.Len())
	if pu > left/4 || eu > left/4 || 4*(pu+eu)+eu > left {
		return s, fmt.Errorf("%w: body too short for geometry", ErrCorrupt)
	}

	s.ProgramCycles = make([]uint32, g.ProgramUnits())
	if err := binary.Read(r, binary.LittleEndian, s.ProgramCycles); err != nil {
		return s, fmt.Errorf("%w: program counters: %v", ErrCorrupt, err)
	}
	s.EraseCycles = make([]uint32, g.EraseUnits())
	if err := binary.Read(r, binary.LittleEndian, s.EraseCycles); err != nil {
		return s, fmt.Errorf("%w: erase counters: %v", ErrCorrupt, err)
	}

	s.Units = make([][]byte, g.EraseUnits())
	for i := range s.Units {
		present, err := r.ReadByte()
		if err != nil {
			return s, fmt.Errorf("%w: unit %d: %v", ErrCorrupt, i, err)
		}
		switch present {
		case 0:
		case 1:
			if g.EraseSize > uint64(r.Len()) {
				return s, fmt.Errorf("%w: unit %d: truncated", ErrCorrupt, i)
			}
			u := make([]byte, g.EraseSize)
			if _, err := io.ReadFull(r, u); err != nil {
				return s, fmt.Errorf("%w: unit %d: %v", ErrCorrupt, i, err)
			}
			s.Units[i] = u
		default:
			return s, fmt.Errorf("%w: unit %d: bad presence flag %d", ErrCorrupt, i, present)
		}
	}

	if r.Len() != 0 {
		return s, fmt.Errorf("%w: %d trailing bytes", ErrCorrupt, r.Len())
	}
	return s, nil
}
