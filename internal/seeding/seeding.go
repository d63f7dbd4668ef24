// Package seeding derives the deterministic per-cell and per-permutation
// seeds the kernel uses for all randomness, and provides the fixed PRNG
// stream those seeds drive.
package seeding

import (
	"crypto/sha256"
	"encoding/binary"
)

// SeedStride is the default modulus folded into the cell hash before it is
// added to the global seed, decorrelating adjacent cells without letting the
// base seed run away to arbitrarily large values.
const SeedStride = 1_000_000

// permStep is the prime multiplied against perm_index to spread
// per-permutation seeds so adjacent indices draw uncorrelated streams.
const permStep = 1_000_003

// BaseSeed derives the per-cell base seed from the global seed and the
// cell's canonical string id:
//
//	base_seed = (global_seed + (first 32 bits of SHA-256(cell_id)) mod seed_stride) mod 2^32
//
// Hashing is SHA-256 of the UTF-8 bytes of cell_id; the first 4 bytes are
// read as a big-endian unsigned 32-bit number.
func BaseSeed(globalSeed uint32, cellID string) uint32 {
	sum := sha256.Sum256([]byte(cellID))
	h := binary.BigEndian.Uint32(sum[:4])
	return globalSeed + (h % SeedStride)
}

// SimSeed derives the per-permutation seed from a cell's base seed and the
// permutation index: sim_seed = (base_seed + perm_index * 1_000_003) mod 2^32.
// All arithmetic is explicit modular 32-bit, so the result is identical
// across platforms regardless of host integer width.
func SimSeed(baseSeed uint32, permIndex uint32) uint32 {
	return baseSeed + permIndex*permStep
}
