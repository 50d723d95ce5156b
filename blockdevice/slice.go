package blockdevice

// Slice exposes the byte range [start, stop) of another device as a device of
// its own. Addresses are rebased to start at zero.
type Slice struct {
	dev   Device
	start uint64
	stop  uint64
}

// NewSlice creates a slice of dev. start and stop must be aligned to the
// erase unit of dev and stop must not exceed its size.
func NewSlice(dev Device, start, stop uint64) *Slice {
	assertf(start < stop, "slice [%#x, %#x) is empty", start, stop)
	assertf(IsValidErase(dev, start, stop-start), "slice [%#x, %#x) is not erase aligned", start, stop)
	return &Slice{dev: dev, start: start, stop: stop}
}

// Init implements Device.
func (s *Slice) Init() error { return s.dev.Init() }

// Deinit implements Device.
func (s *Slice) Deinit() error { return s.dev.Deinit() }

// Read implements Device.
func (s *Slice) Read(p []byte, addr uint64) error {
	assertRead(s, addr, uint64(len(p)))
	return s.dev.Read(p, s.start+addr)
}

// Program implements Device.
func (s *Slice) Program(p []byte, addr uint64) error {
	assertProgram(s, addr, uint64(len(p)))
	return s.dev.Program(p, s.start+addr)
}

// Erase implements Device.
func (s *Slice) Erase(addr, size uint64) error {
	assertErase(s, addr, size)
	return s.dev.Erase(s.start+addr, size)
}

func (s *Slice) ReadSize() uint64    { return s.dev.ReadSize() }
func (s *Slice) ProgramSize() uint64 { return s.dev.ProgramSize() }
func (s *Slice) EraseSize() uint64   { return s.dev.EraseSize() }
func (s *Slice) Size() uint64        { return s.stop - s.start }
