package blockdevice

// ReadOnly wraps a device and rejects every write.
//
// Reads, Init, Deinit and geometry are forwarded. Program and Erase panic:
// code that writes through a ReadOnly device wrongly assumes write access, and
// that is a bug to be surfaced, not a condition to handle.
type ReadOnly struct {
	dev Device
}

// NewReadOnly wraps dev.
func NewReadOnly(dev Device) *ReadOnly {
	return &ReadOnly{dev: dev}
}

// Init implements Device.
func (r *ReadOnly) Init() error { return r.dev.Init() }

// Deinit implements Device.
func (r *ReadOnly) Deinit() error { return r.dev.Deinit() }

// Read implements Device.
func (r *ReadOnly) Read(p []byte, addr uint64) error {
	return r.dev.Read(p, addr)
}

// Program always panics.
func (r *ReadOnly) Program(p []byte, addr uint64) error {
	panic("blockdevice: program of read-only device not allowed")
}

// Erase always panics.
func (r *ReadOnly) Erase(addr, size uint64) error {
	panic("blockdevice: erase of read-only device not allowed")
}

func (r *ReadOnly) ReadSize() uint64    { return r.dev.ReadSize() }
func (r *ReadOnly) ProgramSize() uint64 { return r.dev.ProgramSize() }
func (r *ReadOnly) EraseSize() uint64   { return r.dev.EraseSize() }
func (r *ReadOnly) Size() uint64        { return r.dev.Size() }
