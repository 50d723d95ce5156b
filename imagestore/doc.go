// Package imagestore keeps device images between simulator runs.
//
// A Store holds named, immutable byte blobs. Images are written whole and
// replaced atomically, so a crash during Put leaves either the old or the new
// image behind, never a torn one.
//
// # Built-in Implementations
//
//   - MemoryStore: in-process map, for tests
//   - LocalStore: one file per image in a directory
//
// Object storage backends live in the s3 and minio subpackages.
package imagestore
