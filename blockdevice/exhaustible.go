package blockdevice

import (
	"fmt"

	"github.com/RoaringBitmap/roaring/v2"
)

// EraseValue is the byte value an erase leaves behind.
//
// Never-written units read as zero instead. The two patterns are modelled
// independently and are deliberately not unified.
const EraseValue byte = 0xFF

// Stats counts the work an Exhaustible has seen since construction.
type Stats struct {
	Reads    uint64
	Programs uint64
	Erases   uint64

	// ProgramBytes and EraseBytes count bytes that actually changed state.
	ProgramBytes uint64
	EraseBytes   uint64

	// DroppedPrograms counts program-unit chunks silently skipped because the
	// unit was worn out. DroppedErases counts skipped erase units.
	DroppedPrograms uint64
	DroppedErases   uint64

	// AllocatedUnits is the number of erase units with a backing buffer.
	AllocatedUnits uint64
}

type options struct {
	programCycles uint32
	eraseCycles   uint32
}

// Option configures an Exhaustible at construction.
type Option func(*options)

// WithProgramCycles sets the number of program cycles a program unit survives.
// Zero means unlimited.
func WithProgramCycles(cycles uint32) Option {
	return func(o *options) {
		o.programCycles = cycles
	}
}

// WithEraseCycles sets the number of erase cycles an erase unit survives.
// Zero means unlimited.
func WithEraseCycles(cycles uint32) Option {
	return func(o *options) {
		o.eraseCycles = cycles
	}
}

// Exhaustible is a heap-backed flash simulator whose units wear out.
//
// Every program unit and every erase unit carries a cycle counter. A unit
// with a limit of n accepts exactly n operations; any later operation on it is
// silently dropped: stored bytes and counters stay as they are and no error is
// returned. Backing memory for an erase unit is allocated on first program or
// erase and lives as long as the Exhaustible, so data survives Deinit/Init
// pairs the way non-volatile memory survives a power cycle.
//
// An Exhaustible is not safe for concurrent use.
type Exhaustible struct {
	geo Geometry

	// units holds one backing buffer per erase unit; nil means never written.
	units [][]byte

	programCycles []uint32
	eraseCycles   []uint32
	programLimit  uint32
	eraseLimit    uint32

	initialized bool
	// configured is set by the first Init and freezes the wear limits.
	configured bool

	stats Stats
}

// NewExhaustible creates a wear-tracked device. It panics if geo does not
// evenly divide.
func NewExhaustible(geo Geometry, optFns ...Option) *Exhaustible {
	err := geo.Validate()
	assertf(err == nil, "%v", err)

	var o options
	for _, fn := range optFns {
		fn(&o)
	}

	return &Exhaustible{
		geo:           geo,
		units:         make([][]byte, geo.EraseUnits()),
		programCycles: make([]uint32, geo.ProgramUnits()),
		eraseCycles:   make([]uint32, geo.EraseUnits()),
		programLimit:  o.programCycles,
		eraseLimit:    o.eraseCycles,
	}
}

// SetProgramCycles sets the program-cycle limit. Zero means unlimited.
// It panics once the device has been initialized.
func (d *Exhaustible) SetProgramCycles(cycles uint32) {
	assertf(!d.configured, "program cycles can only be set before init")
	d.programLimit = cycles
}

// SetEraseCycles sets the erase-cycle limit. Zero means unlimited.
// It panics once the device has been initialized.
func (d *Exhaustible) SetEraseCycles(cycles uint32) {
	assertf(!d.configured, "erase cycles can only be set before init")
	d.eraseLimit = cycles
}

// Init implements Device.
func (d *Exhaustible) Init() error {
	d.initialized = true
	d.configured = true
	return nil
}

// Deinit implements Device. Backing memory and counters are kept.
func (d *Exhaustible) Deinit() error {
	assertf(d.configured, "deinit: %v", ErrNotInitialized)
	d.initialized = false
	return nil
}

// ReadSize implements Device.
func (d *Exhaustible) ReadSize() uint64 { return d.geo.ReadSize }

// ProgramSize implements Device.
func (d *Exhaustible) ProgramSize() uint64 { return d.geo.ProgramSize }

// EraseSize implements Device.
func (d *Exhaustible) EraseSize() uint64 { return d.geo.EraseSize }

// Size implements Device.
func (d *Exhaustible) Size() uint64 { return d.geo.Size }

// Geometry returns the construction geometry.
func (d *Exhaustible) Geometry() Geometry { return d.geo }

// ProgramLimit returns the program-cycle limit (0 = unlimited).
func (d *Exhaustible) ProgramLimit() uint32 { return d.programLimit }

// EraseLimit returns the erase-cycle limit (0 = unlimited).
func (d *Exhaustible) EraseLimit() uint32 { return d.eraseLimit }

// Read implements Device. Never-written units read as zero.
func (d *Exhaustible) Read(p []byte, addr uint64) error {
	d.assertInitialized()
	size := uint64(len(p))
	assertRead(d, addr, size)
	d.stats.Reads++

	for size > 0 {
		hi := addr / d.geo.EraseSize
		lo := addr % d.geo.EraseSize
		n := min(size, d.geo.EraseSize-lo)

		if unit := d.units[hi]; unit != nil {
			copy(p[:n], unit[lo:lo+n])
		} else {
			clear(p[:n])
		}

		p = p[n:]
		addr += n
		size -= n
	}
	return nil
}

// Program implements Device. Chunks landing on worn units are silently dropped.
func (d *Exhaustible) Program(p []byte, addr uint64) error {
	d.assertInitialized()
	size := uint64(len(p))
	assertProgram(d, addr, size)
	d.allocate(addr, size)
	d.stats.Programs++

	unit := d.geo.ProgramSize
	for off := uint64(0); off < size; off += unit {
		a := addr + off
		pi := a / unit
		ei := a / d.geo.EraseSize

		if d.programWorn(pi) || d.eraseWorn(ei) {
			d.stats.DroppedPrograms++
			continue
		}

		lo := a % d.geo.EraseSize
		copy(d.units[ei][lo:lo+unit], p[off:off+unit])
		d.programCycles[pi]++
		d.stats.ProgramBytes += unit
	}
	return nil
}

// Erase implements Device. Worn erase units keep their content.
func (d *Exhaustible) Erase(addr, size uint64) error {
	d.assertInitialized()
	assertErase(d, addr, size)
	d.allocate(addr, size)
	d.stats.Erases++

	for off := uint64(0); off < size; off += d.geo.EraseSize {
		ei := (addr + off) / d.geo.EraseSize

		if d.eraseWorn(ei) {
			d.stats.DroppedErases++
			continue
		}

		fill(d.units[ei], EraseValue)
		d.eraseCycles[ei]++
		d.stats.EraseBytes += d.geo.EraseSize
	}
	return nil
}

// ProgramCycles returns the cycle counter of program unit i.
func (d *Exhaustible) ProgramCycles(i uint64) uint32 { return d.programCycles[i] }

// EraseCycles returns the cycle counter of erase unit i.
func (d *Exhaustible) EraseCycles(i uint64) uint32 { return d.eraseCycles[i] }

// Allocated reports whether erase unit i has ever been programmed or erased.
func (d *Exhaustible) Allocated(i uint64) bool { return d.units[i] != nil }

// Stats returns a snapshot of the device counters.
func (d *Exhaustible) Stats() Stats { return d.stats }

// WornUnits returns the erase units that no longer accept every write: the
// unit's erase counter or one of its program counters has reached its limit.
func (d *Exhaustible) WornUnits() *roaring.Bitmap {
	worn := roaring.New()
	perErase := d.geo.EraseSize / d.geo.ProgramSize

	for ei := range d.eraseCycles {
		if d.eraseWorn(uint64(ei)) {
			worn.Add(uint32(ei))
			continue
		}
		first := uint64(ei) * perErase
		for pi := first; pi < first+perErase; pi++ {
			if d.programWorn(pi) {
				worn.Add(uint32(ei))
				break
			}
		}
	}
	return worn
}

func (d *Exhaustible) programWorn(i uint64) bool {
	return d.programLimit != 0 && d.programCycles[i] >= d.programLimit
}

func (d *Exhaustible) eraseWorn(i uint64) bool {
	return d.eraseLimit != 0 && d.eraseCycles[i] >= d.eraseLimit
}

func (d *Exhaustible) assertInitialized() {
	assertf(d.initialized, "%v", ErrNotInitialized)
}

// allocate gives every erase unit overlapping [addr, addr+size) a zeroed
// backing buffer.
func (d *Exhaustible) allocate(addr, size uint64) {
	if size == 0 {
		return
	}
	first := addr / d.geo.EraseSize
	last := (addr + size - 1) / d.geo.EraseSize
	for i := first; i <= last; i++ {
		if d.units[i] == nil {
			d.units[i] = make([]byte, d.geo.EraseSize)
			d.stats.AllocatedUnits++
		}
	}
}

func fill(b []byte, v byte) {
	for i := range b {
		b[i] = v
	}
}

// State is a deep copy of everything an Exhaustible persists.
type State struct {
	Geometry      Geometry
	ProgramLimit  uint32
	EraseLimit    uint32
	ProgramCycles []uint32
	EraseCycles   []uint32

	// Units has one entry per erase unit; nil entries were never written.
	Units [][]byte
}

// Export returns a deep copy of the device state.
func (d *Exhaustible) Export() State {
	s := State{
		Geometry:      d.geo,
		ProgramLimit:  d.programLimit,
		EraseLimit:    d.eraseLimit,
		ProgramCycles: append([]uint32(nil), d.programCycles...),
		EraseCycles:   append([]uint32(nil), d.eraseCycles...),
		Units:         make([][]byte, len(d.units)),
	}
	for i, u := range d.units {
		if u != nil {
			s.Units[i] = append([]byte(nil), u...)
		}
	}
	return s
}

// Restore rebuilds an uninitialized Exhaustible from s. Unlike
// NewExhaustible it returns an error, since s usually comes from outside the
// process.
func Restore(s State) (*Exhaustible, error) {
	if err := s.Geometry.Validate(); err != nil {
		return nil, err
	}
	g := s.Geometry
	if uint64(len(s.ProgramCycles)) != g.ProgramUnits() {
		return nil, fmt.Errorf("restore: %d program counters, want %d", len(s.ProgramCycles), g.ProgramUnits())
	}
	if uint64(len(s.EraseCycles)) != g.EraseUnits() {
		return nil, fmt.Errorf("restore: %d erase counters, want %d", len(s.EraseCycles), g.EraseUnits())
	}
	if uint64(len(s.Units)) != g.EraseUnits() {
		return nil, fmt.Errorf("restore: %d erase units, want %d", len(s.Units), g.EraseUnits())
	}

	d := NewExhaustible(g, WithProgramCycles(s.ProgramLimit), WithEraseCycles(s.EraseLimit))
	copy(d.programCycles, s.ProgramCycles)
	copy(d.eraseCycles, s.EraseCycles)
	for i, u := range s.Units {
		if u == nil {
			continue
		}
		if uint64(len(u)) != g.EraseSize {
			return nil, fmt.Errorf("restore: unit %d has %d bytes, want %d", i, len(u), g.EraseSize)
		}
		d.units[i] = append([]byte(nil), u...)
		d.stats.AllocatedUnits++
	}
	return d, nil
}
