package blockdevice

import (
	"errors"
	"fmt"
)

// ErrNotInitialized is the panic value cause used when a device is used
// outside of an Init/Deinit pair.
var ErrNotInitialized = errors.New("device not initialized")

// Device is a block-addressed storage medium.
//
// Read, Program and Erase take byte addresses. The size of a read or program
// is len(p). Every address and size must be a multiple of the matching unit
// size and lie inside the device, otherwise the call panics.
type Device interface {
	// Init brings the device up. It must be called before any I/O.
	Init() error

	// Deinit shuts the device down. Stored contents are kept.
	Deinit() error

	// Read copies len(p) bytes starting at addr into p.
	Read(p []byte, addr uint64) error

	// Program writes p starting at addr. The target region should have been
	// erased first.
	Program(p []byte, addr uint64) error

	// Erase resets size bytes starting at addr. The content of an erased
	// region is undefined until it is programmed.
	Erase(addr, size uint64) error

	// ReadSize returns the read unit in bytes.
	ReadSize() uint64

	// ProgramSize returns the program unit in bytes.
	ProgramSize() uint64

	// EraseSize returns the erase unit in bytes.
	EraseSize() uint64

	// Size returns the total size of the device in bytes.
	Size() uint64
}

// Geometry describes the layout of a device.
type Geometry struct {
	Size        uint64
	ReadSize    uint64
	ProgramSize uint64
	EraseSize   uint64
}

// Default unit sizes of the reference flash part.
const (
	DefaultReadSize    = 1
	DefaultProgramSize = 64
	DefaultEraseSize   = 512
)

// DefaultGeometry returns a geometry of the given total size with the default
// unit sizes.
func DefaultGeometry(size uint64) Geometry {
	return Geometry{
		Size:        size,
		ReadSize:    DefaultReadSize,
		ProgramSize: DefaultProgramSize,
		EraseSize:   DefaultEraseSize,
	}
}

// Validate reports whether the geometry can describe a device.
func (g Geometry) Validate() error {
	if g.Size == 0 || g.ReadSize == 0 || g.ProgramSize == 0 || g.EraseSize == 0 {
		return &GeometryError{Geometry: g, Reason: "sizes must be positive"}
	}
	if g.Size%g.ProgramSize != 0 {
		return &GeometryError{Geometry: g, Reason: "size is not a multiple of the program unit"}
	}
	if g.Size%g.EraseSize != 0 {
		return &GeometryError{Geometry: g, Reason: "size is not a multiple of the erase unit"}
	}
	if g.EraseSize%g.ProgramSize != 0 {
		return &GeometryError{Geometry: g, Reason: "erase unit is not a multiple of the program unit"}
	}
	if g.EraseSize%g.ReadSize != 0 {
		return &GeometryError{Geometry: g, Reason: "erase unit is not a multiple of the read unit"}
	}
	return nil
}

// ProgramUnits returns the number of program units on the device.
func (g Geometry) ProgramUnits() uint64 { return g.Size / g.ProgramSize }

// EraseUnits returns the number of erase units on the device.
func (g Geometry) EraseUnits() uint64 { return g.Size / g.EraseSize }

// GeometryOf reads the geometry of dev.
func GeometryOf(dev Device) Geometry {
	return Geometry{
		Size:        dev.Size(),
		ReadSize:    dev.ReadSize(),
		ProgramSize: dev.ProgramSize(),
		EraseSize:   dev.EraseSize(),
	}
}

// GeometryError describes a geometry that does not evenly divide.
type GeometryError struct {
	Geometry Geometry
	Reason   string
}

func (e *GeometryError) Error() string {
	return fmt.Sprintf("invalid geometry (size=%d read=%d program=%d erase=%d): %s",
		e.Geometry.Size, e.Geometry.ReadSize, e.Geometry.ProgramSize, e.Geometry.EraseSize, e.Reason)
}

// IsValidRead reports whether a read of size bytes at addr is aligned and in range.
func IsValidRead(dev Device, addr, size uint64) bool {
	return isValid(addr, size, dev.ReadSize(), dev.Size())
}

// IsValidProgram reports whether a program of size bytes at addr is aligned and in range.
func IsValidProgram(dev Device, addr, size uint64) bool {
	return isValid(addr, size, dev.ProgramSize(), dev.Size())
}

// IsValidErase reports whether an erase of size bytes at addr is aligned and in range.
func IsValidErase(dev Device, addr, size uint64) bool {
	return isValid(addr, size, dev.EraseSize(), dev.Size())
}

func isValid(addr, size, unit, total uint64) bool {
	return addr%unit == 0 &&
		size%unit == 0 &&
		addr <= total &&
		size <= total-addr
}

// assertf panics with a diagnostic when cond is false. It guards
// preconditions whose violation is a programming error.
func assertf(cond bool, format string, args ...any) {
	if !cond {
		panic("blockdevice: " + fmt.Sprintf(format, args...))
	}
}

func assertRead(dev Device, addr, size uint64) {
	assertf(IsValidRead(dev, addr, size), "invalid read of %d bytes at %#x", size, addr)
}

func assertProgram(dev Device, addr, size uint64) {
	assertf(IsValidProgram(dev, addr, size), "invalid program of %d bytes at %#x", size, addr)
}

func assertErase(dev Device, addr, size uint64) {
	assertf(IsValidErase(dev, addr, size), "invalid erase of %d bytes at %#x", size, addr)
}
