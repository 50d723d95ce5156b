package cowfs

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"slices"
)

const (
	recordMagic      uint32 = 0x53465743 // "CWFS"
	recordHeaderSize        = 32
)

var errBadRecord = errors.New("bad record")

type recordHeader struct {
	seq    uint64
	part   uint16
	parts  uint16
	length uint32
	total  uint32
}

// encodeRecord lays out one block record, padded to a multiple of unit.
func encodeRecord(h recordHeader, payload []byte, unit uint64) []byte {
	n := uint64(recordHeaderSize + len(payload))
	n = (n + unit - 1) / unit * unit

	buf := make([]byte, n)
	binary.LittleEndian.PutUint32(buf[0:4], recordMagic)
	binary.LittleEndian.PutUint64(buf[4:12], h.seq)
	binary.LittleEndian.PutUint16(buf[12:14], h.part)
	binary.LittleEndian.PutUint16(buf[14:16], h.parts)
	binary.LittleEndian.PutUint32(buf[16:20], h.length)
	binary.LittleEndian.PutUint32(buf[20:24], h.total)
	copy(buf[recordHeaderSize:], payload)

	crc := crc32.NewIEEE()
	crc.Write(buf[0:24])
	crc.Write(payload)
	binary.LittleEndian.PutUint32(buf[24:28], crc.Sum32())
	return buf
}

// decodeRecord parses the record at the start of block. The returned payload
// aliases block.
func decodeRecord(block []byte) (recordHeader, []byte, error) {
	if len(block) < recordHeaderSize || binary.LittleEndian.Uint32(block[0:4]) != recordMagic {
		return recordHeader{}, nil, errBadRecord
	}
	h := recordHeader{
		seq:    binary.LittleEndian.Uint64(block[4:12]),
		part:   binary.LittleEndian.Uint16(block[12:14]),
		parts:  binary.LittleEndian.Uint16(block[14:16]),
		length: binary.LittleEndian.Uint32(block[16:20]),
		total:  binary.LittleEndian.Uint32(block[20:24]),
	}
	if h.parts == 0 || h.part >= h.parts || uint64(h.length) > uint64(len(block)-recordHeaderSize) {
		return recordHeader{}, nil, errBadRecord
	}
	payload := block[recordHeaderSize : recordHeaderSize+int(h.length)]

	crc := crc32.NewIEEE()
	crc.Write(block[0:24])
	crc.Write(payload)
	if crc.Sum32() != binary.LittleEndian.Uint32(block[24:28]) {
		return recordHeader{}, nil, errBadRecord
	}
	return h, payload, nil
}

// Namespace encoding (little endian):
//
//	count u32 | count × (nameLen u16 | name | size u32 | data)
//
// Entries are sorted by name.
func encodeNamespace(files map[string][]byte) []byte {
	names := make([]string, 0, len(files))
	n := 4
	for name, data := range files {
		names = append(names, name)
		n += 2 + len(name) + 4 + len(data)
	}
	slices.Sort(names)

	buf := make([]byte, 0, n)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(names)))
	for _, name := range names {
		data := files[name]
		buf = binary.LittleEndian.AppendUint16(buf, uint16(len(name)))
		buf = append(buf, name...)
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(data)))
		buf = append(buf, data...)
	}
	return buf
}

func decodeNamespace(buf []byte) (map[string][]byte, error) {
	if len(buf) < 4 {
		return nil, fmt.Errorf("namespace: short header")
	}
	count := binary.LittleEndian.Uint32(buf)
	buf = buf[4:]

	files := make(map[string][]byte, min(count, 1024))
	for i := uint32(0); i < count; i++ {
		if len(buf) < 2 {
			return nil, fmt.Errorf("namespace: entry %d: short name length", i)
		}
		nl := int(binary.LittleEndian.Uint16(buf))
		buf = buf[2:]
		if len(buf) < nl+4 {
			return nil, fmt.Errorf("namespace: entry %d: short name", i)
		}
		name := string(buf[:nl])
		size := binary.LittleEndian.Uint32(buf[nl:])
		buf = buf[nl+4:]
		if uint64(len(buf)) < uint64(size) {
			return nil, fmt.Errorf("namespace: entry %d: short data", i)
		}
		if _, dup := files[name]; dup {
			return nil, fmt.Errorf("namespace: duplicate entry %q", name)
		}
		files[name] = append([]byte(nil), buf[:size]...)
		buf = buf[size:]
	}
	if len(buf) != 0 {
		return nil, fmt.Errorf("namespace: %d trailing bytes", len(buf))
	}
	return files, nil
}
