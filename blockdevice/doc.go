// Package blockdevice defines the capability interface for block-addressed
// storage media and a set of implementations built on it.
//
// A [Device] has three granularities: reads must be aligned to
// [Device.ReadSize], programs to [Device.ProgramSize] and erases to
// [Device.EraseSize]. Passing a misaligned or out-of-range address is a bug in
// the caller, not a device condition, so implementations panic instead of
// returning an error.
//
// # Implementations
//
//   - [Exhaustible]: heap-backed flash simulator whose program and erase units
//     wear out after a configurable number of cycles
//   - [ReadOnly]: guard that forwards reads and panics on any write
//   - [Slice]: a sub-range of another device
//   - [Observing]: invokes a callback after every program and erase
//   - [Throttled]: paces writes through an IO budget
//
// # Wear-out
//
// Wear-out is never reported as an error. Once a unit is past its limit,
// programs and erases touching it silently do nothing and later reads return
// whatever was stored last:
//
//	dev := blockdevice.NewExhaustible(blockdevice.DefaultGeometry(128*1024),
//	    blockdevice.WithEraseCycles(100))
//	_ = dev.Init()
//	defer dev.Deinit()
//
// Never-written erase units read as zeroes, while erased units read as
// [EraseValue]. The two patterns are independent.
package blockdevice
