package blockdevice

// Op identifies a state-changing device operation.
type Op uint8

const (
	OpProgram Op = iota + 1
	OpErase
)

func (o Op) String() string {
	switch o {
	case OpProgram:
		return "program"
	case OpErase:
		return "erase"
	default:
		return "unknown"
	}
}

// ChangeFunc is called after a program or erase completed. addr and size
// describe the touched region.
type ChangeFunc func(op Op, addr, size uint64)

// Observing forwards every call to another device and reports each completed
// program and erase to a callback. Tests use it to inspect the medium after
// every single mutation, which is equivalent to cutting power at that point.
type Observing struct {
	dev      Device
	onChange ChangeFunc
}

// NewObserving wraps dev. A nil onChange disables the callback.
func NewObserving(dev Device, onChange ChangeFunc) *Observing {
	return &Observing{dev: dev, onChange: onChange}
}

// Init implements Device.
func (o *Observing) Init() error { return o.dev.Init() }

// Deinit implements Device.
func (o *Observing) Deinit() error { return o.dev.Deinit() }

// Read implements Device.
func (o *Observing) Read(p []byte, addr uint64) error {
	return o.dev.Read(p, addr)
}

// Program implements Device.
func (o *Observing) Program(p []byte, addr uint64) error {
	if err := o.dev.Program(p, addr); err != nil {
		return err
	}
	o.notify(OpProgram, addr, uint64(len(p)))
	return nil
}

// Erase implements Device.
func (o *Observing) Erase(addr, size uint64) error {
	if err := o.dev.Erase(addr, size); err != nil {
		return err
	}
	o.notify(OpErase, addr, size)
	return nil
}

func (o *Observing) notify(op Op, addr, size uint64) {
	if o.onChange != nil {
		o.onChange(op, addr, size)
	}
}

func (o *Observing) ReadSize() uint64    { return o.dev.ReadSize() }
func (o *Observing) ProgramSize() uint64 { return o.dev.ProgramSize() }
func (o *Observing) EraseSize() uint64   { return o.dev.EraseSize() }
func (o *Observing) Size() uint64        { return o.dev.Size() }
