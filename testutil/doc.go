// Package testutil provides testing utilities for flashsim.
//
// This package is intended for use in tests only. It provides a seeded,
// thread-safe random source for generating device payloads and aligned
// addresses:
//
//	rng := testutil.NewRNG(seed)
//	buf := rng.Bytes(64)
//	addr := rng.AlignedOffset(dev.Size()-64, 64)
package testutil
