package blockdevice

import (
	"context"

	"github.com/hupe1980/flashsim/internal/resource"
)

// Throttled forwards every call to another device and paces programs and
// erases through the IO budget of a resource controller. Reads are not paced.
type Throttled struct {
	dev Device
	rc  *resource.Controller
}

// NewThrottled wraps dev. A nil controller disables pacing.
func NewThrottled(dev Device, rc *resource.Controller) *Throttled {
	return &Throttled{dev: dev, rc: rc}
}

// Init implements Device.
func (t *Throttled) Init() error { return t.dev.Init() }

// Deinit implements Device.
func (t *Throttled) Deinit() error { return t.dev.Deinit() }

// Read implements Device.
func (t *Throttled) Read(p []byte, addr uint64) error {
	return t.dev.Read(p, addr)
}

// Program implements Device.
func (t *Throttled) Program(p []byte, addr uint64) error {
	if err := t.rc.AcquireIO(context.Background(), len(p)); err != nil {
		return err
	}
	return t.dev.Program(p, addr)
}

// Erase implements Device.
func (t *Throttled) Erase(addr, size uint64) error {
	if err := t.rc.AcquireIO(context.Background(), int(size)); err != nil {
		return err
	}
	return t.dev.Erase(addr, size)
}

func (t *Throttled) ReadSize() uint64    { return t.dev.ReadSize() }
func (t *Throttled) ProgramSize() uint64 { return t.dev.ProgramSize() }
func (t *Throttled) EraseSize() uint64   { return t.dev.EraseSize() }
func (t *Throttled) Size() uint64        { return t.dev.Size() }
