package flashsim

import (
	"errors"
	"fmt"

	"github.com/hupe1980/flashsim/blockdevice"
	"github.com/hupe1980/flashsim/harness"
)

// ErrInvariantViolation matches every error that reports a failed scenario
// check. Use errors.Is(err, flashsim.ErrInvariantViolation).
var ErrInvariantViolation = errors.New("invariant violation")

// ErrGeometryMismatch indicates a resumed image whose geometry differs from
// the configured device.
//
// The concrete geometries can be accessed via errors.As.
type ErrGeometryMismatch struct {
	Image  blockdevice.Geometry
	Config blockdevice.Geometry
}

func (e *ErrGeometryMismatch) Error() string {
	return fmt.Sprintf("image geometry %+v does not match configured geometry %+v", e.Image, e.Config)
}

func translateError(err error) error {
	if err == nil {
		return nil
	}
	if harness.IsInvariantViolation(err) {
		return fmt.Errorf("%w: %w", ErrInvariantViolation, err)
	}
	return err
}
