package cmap

// Hardcoded implementation limits.
//
// These exist to keep arithmetic safely away from overflow boundaries, bound
// resource usage for configurations the project does not test, and avoid
// unsafe int64/int conversions (mmap length is an int on 64-bit Go). All
// limit violations are treated as configuration errors and return
// ErrInvalidInput.
const (
	// minSegments is the smallest segment count accepted. Segments must be
	// a power of two so segment selection can use a shift instead of a mod.
	minSegments = 1

	// maxSegments bounds the concurrency ceiling at something the fixed-width
	// segment header array can address without absurd header sizes.
	maxSegments = 1 << 20

	// maxEntriesPerSegment bounds the primary tier's slot array size.
	maxEntriesPerSegment = 1 << 28

	// maxKeyOrValueSize bounds average/constant key and value size hints.
	maxKeyOrValueSize = 1 << 24 // 16 MiB

	// minBloatFactor / maxBloatFactor bound MaxBloatFactor. Per spec.md
	// §4.1, values "above ~10" are a contract violation.
	minBloatFactor = 1.0
	maxBloatFactor = 10.0

	// maxRegionSizeBytes is a safety guardrail, not a RAM limit: mmap does
	// not load the whole file into memory, but mappings past this are
	// outside what this implementation claims to support.
	maxRegionSizeBytes = uint64(1) << 40 // 1 TiB

	// entryChecksumSize is the width in bytes of the optional per-entry
	// checksum trailer (§4.6: "32-bit avalanche-quality hash").
	entryChecksumSize = 4

	// maxVarintLen bounds a single varint-encoded length field, matching
	// the stdlib encoding/binary.MaxVarintLen64.
	maxVarintLen = 10
)
