package cmap

import "hash/fnv"

// fnv1a64 hashes key with FNV-1a 64-bit, the algorithm the format's
// hashAlg field identifies (hashAlgFNV1a64), matching the teacher's own
// reservation of a HashAlg header field in format.go for the same
// algorithm.
func fnv1a64(key []byte) uint64 {
	h := fnv.New64a()
	h.Write(key) //nolint:errcheck // hash.Hash64.Write never errors
	return h.Sum64()
}

// segmentSelector picks the segment for a key: the high bits of the hash,
// shifted down to an index less than segments (spec §4.3). segments is
// always a power of two, so segmentShift = 64 - log2(segments).
func segmentSelector(hash uint64, segments uint32, segmentShift uint) uint32 {
	return uint32(hash >> segmentShift)
}

// segmentShiftFor returns the number of high bits to keep as the segment
// index for a given (power-of-two) segment count.
func segmentShiftFor(segments uint32) uint {
	bits := uint(0)
	for (uint32(1) << bits) < segments {
		bits++
	}
	return 64 - bits
}

// slotIndex reduces the low bits of the hash to an index into a
// power-of-two slot array.
func slotIndex(hash uint64, slotCapacity uint64) uint64 {
	return hash & (slotCapacity - 1)
}

// fingerprint derives the hash reduction stored in a slot to reject
// non-matching keys without touching key bytes (spec §4.3). It is a
// multiplicative (Fibonacci) re-mix of the whole 64-bit hash, not a
// separate bit range of it, forced odd so it is never zero; keys with equal
// hashes always have equal fingerprints.
func fingerprint(hash uint64) uint64 {
	return hash*0x9E3779B97F4A7C15 | 1 // odd, never zero: zero means "unset"
}
