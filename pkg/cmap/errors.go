package cmap

import "errors"

// Error classification sentinels.
//
// Callers MUST classify errors using errors.Is; implementations may wrap
// these with additional context via fmt.Errorf("...: %w", ...).
var (
	// ErrCorrupt indicates the backing region failed a structural sanity
	// check on open (rebuild-class, see CorruptFormat in spec.md §7).
	ErrCorrupt = errors.New("cmap: corrupt")

	// ErrIncompatible indicates the region's format version or configuration
	// does not match what this build/caller expects (rebuild-class).
	ErrIncompatible = errors.New("cmap: incompatible")

	// ErrCapacityExhausted indicates an insert would exceed MaxBloatFactor
	// for the target segment. The segment is left unchanged.
	ErrCapacityExhausted = errors.New("cmap: capacity exhausted")

	// ErrChecksumMismatch names an entry checksum failure, but no operation
	// returns it: recovery silently discards entries whose checksum does not
	// match, EntryView.CheckSum reports a mismatch as false, and the normal
	// read path does not verify checksums.
	ErrChecksumMismatch = errors.New("cmap: checksum mismatch")

	// ErrPoisoned indicates the segment was flagged MAYBE_INCONSISTENT by
	// dead-holder reclamation. The caller must run Recover before trusting
	// its contents; Query refuses a poisoned segment until then.
	ErrPoisoned = errors.New("cmap: segment poisoned")

	// ErrDeadlock indicates an illegal re-entrant lock upgrade was detected
	// statically in the QueryContext state machine.
	ErrDeadlock = errors.New("cmap: deadlock")

	// ErrRecoveryFailed indicates self-describing recovery could not trust
	// the header and therefore refused to scan.
	ErrRecoveryFailed = errors.New("cmap: recovery failed")

	// ErrBusy indicates transient lock contention; the caller may retry.
	ErrBusy = errors.New("cmap: busy")

	// ErrInvalidInput indicates a caller-supplied argument or Options value
	// is out of range.
	ErrInvalidInput = errors.New("cmap: invalid input")

	// ErrClosed indicates an operation was attempted on a closed Store.
	// QueryContext methods do not check whether their context was closed.
	ErrClosed = errors.New("cmap: closed")

	// ErrIO wraps an underlying mmap, flush, or file-extension failure.
	// Transient Io errors during flush do not mark the region corrupt.
	ErrIO = errors.New("cmap: io")
)
