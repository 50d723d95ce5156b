// Package cowfs is a small copy-on-write filesystem for simulated flash.
//
// The whole namespace is one snapshot. Every mutation (create, close of a
// written handle, rename, remove) encodes the new namespace and writes it to
// erase blocks that do not hold the live snapshot. A snapshot becomes live
// once its last block is programmed and verified, so a power cut at any
// device operation leaves either the old or the new namespace on the medium.
//
// # On-device layout
//
// Each erase block holds at most one record:
//
//	magic u32 | seq u64 | part u16 | parts u16 | length u32 | total u32 |
//	crc32 u32 | reserved u32 | payload [length] | padding to program unit
//
// Mount picks the highest sequence number whose parts are all present and
// valid. Sequence numbers are never reused, so parts of an interrupted commit
// can never complete a later one.
//
// # Wear
//
// Blocks are handed out round-robin. Every written block is read back; a
// block that does not hold what was programmed is marked bad for the rest of
// the mount and the next block is tried. When no usable block is left the
// mutation fails with vfs.ErrNoSpace and the namespace is unchanged.
package cowfs
