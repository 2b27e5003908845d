package cmap

import (
	"fmt"

	internalfs "github.com/concurrentmap/cmap/internal/fs"
)

// WritebackMode selects a durability mode. It is validated and kept in the
// resolved options; mutating QueryContext operations do not consult it.
// Mirrors the teacher's own Writeback knob for Writer.Commit.
type WritebackMode int

const (
	// WritebackNone provides no durability guarantee. Changes are visible
	// to other processes immediately (MAP_SHARED) but may be lost on power
	// failure. Default and fastest mode.
	WritebackNone WritebackMode = iota

	// WritebackSync is accepted and recorded, but no mutating QueryContext
	// operation msyncs on its account: as with WritebackNone, mapped pages
	// reach the backing file through kernel writeback or at Store.Close.
	WritebackSync
)

// ChecksumTristate controls the checksum_entries option: Auto defers to the
// teacher's own default (true for file-backed regions, false for anonymous
// in-memory regions), per spec.md §4.1.
type ChecksumTristate int

const (
	ChecksumAuto ChecksumTristate = iota
	ChecksumOn
	ChecksumOff
)

// Options configures Create, Open, and Recover.
type Options struct {
	// Path is the filesystem path to the backing file. Empty means an
	// anonymous, purely in-memory region (process-local; see doc.go).
	Path string

	// Segments is the number of segments. Must be a power of two >= 1.
	// N segments admit up to N disjoint concurrent writers.
	Segments uint32

	// EntriesPerSegment is the primary tier capacity, per segment.
	EntriesPerSegment uint32

	// AverageKeySize / AverageValueSize are byte hints used to size a
	// tier when ConstantKeySize/ConstantValueSize are not set.
	AverageKeySize   uint32
	AverageValueSize uint32

	// ConstantKeySize / ConstantValueSize, if non-zero, override the
	// averages and enable the fixed-stride entry layout (§4.4 fast path).
	ConstantKeySize   uint32
	ConstantValueSize uint32

	// ChecksumEntries controls whether each entry carries a 32-bit
	// checksum over its key and value bytes (§4.6).
	ChecksumEntries ChecksumTristate

	// MaxBloatFactor is the maximum multiplier of EntriesPerSegment a
	// segment may reach by chaining extra tiers. Default 1.0 (no bloat).
	MaxBloatFactor float64

	// Writeback selects a WritebackMode; see WritebackSync for its effect.
	Writeback WritebackMode

	// fs backs region file management (create/open/truncate/rename/remove)
	// for Create and Open. Unexported: production callers always get
	// [internalfs.Real]; only this package's own tests construct an
	// Options with a fault-injecting or assertion-wrapped FS to exercise
	// region creation against a failing filesystem.
	fs internalfs.FS
}

// fsys returns o.fs, defaulting to a real, unwrapped filesystem.
func (o Options) fsys() internalfs.FS {
	if o.fs == nil {
		return internalfs.NewReal()
	}
	return o.fs
}

// resolved is the validated, defaulted form of Options used once a region
// is open; config fields mirror the on-disk header so recovery and
// compatibility checks can compare byte-for-byte.
type resolved struct {
	segments          uint32
	entriesPerSegment uint32
	averageKeySize    uint32
	averageValueSize  uint32
	constantKeySize   uint32
	constantValueSize uint32
	checksumEntries   bool
	maxBloatFactor    float64
	writeback         WritebackMode
	fileBacked        bool
}

func (o Options) validateAndResolve() (resolved, error) {
	var r resolved

	if o.Segments < minSegments || o.Segments > maxSegments {
		return r, fmt.Errorf("segments %d out of range [%d, %d]: %w", o.Segments, minSegments, maxSegments, ErrInvalidInput)
	}

	if o.Segments&(o.Segments-1) != 0 {
		return r, fmt.Errorf("segments %d is not a power of two: %w", o.Segments, ErrInvalidInput)
	}

	if o.EntriesPerSegment < 1 || o.EntriesPerSegment > maxEntriesPerSegment {
		return r, fmt.Errorf("entries_per_segment %d out of range [1, %d]: %w", o.EntriesPerSegment, maxEntriesPerSegment, ErrInvalidInput)
	}

	for name, v := range map[string]uint32{
		"average_key_size":    o.AverageKeySize,
		"average_value_size":  o.AverageValueSize,
		"constant_key_size":   o.ConstantKeySize,
		"constant_value_size": o.ConstantValueSize,
	} {
		if v > maxKeyOrValueSize {
			return r, fmt.Errorf("%s %d exceeds max %d: %w", name, v, maxKeyOrValueSize, ErrInvalidInput)
		}
	}

	bloat := o.MaxBloatFactor
	if bloat == 0 {
		bloat = minBloatFactor
	}

	if bloat < minBloatFactor || bloat > maxBloatFactor {
		return r, fmt.Errorf("max_bloat_factor %v out of range [%v, %v]: %w", bloat, minBloatFactor, maxBloatFactor, ErrInvalidInput)
	}

	fileBacked := o.Path != ""

	checksum := fileBacked
	switch o.ChecksumEntries {
	case ChecksumOn:
		checksum = true
	case ChecksumOff:
		checksum = false
	case ChecksumAuto:
		// keep fileBacked default
	}

	keySize := o.ConstantKeySize
	if keySize == 0 {
		keySize = o.AverageKeySize
	}

	valSize := o.ConstantValueSize
	if valSize == 0 {
		valSize = o.AverageValueSize
	}

	r = resolved{
		segments:          o.Segments,
		entriesPerSegment: o.EntriesPerSegment,
		averageKeySize:    orDefault(o.AverageKeySize, keySize, 16),
		averageValueSize:  orDefault(o.AverageValueSize, valSize, 16),
		constantKeySize:   o.ConstantKeySize,
		constantValueSize: o.ConstantValueSize,
		checksumEntries:   checksum,
		maxBloatFactor:    bloat,
		writeback:         o.Writeback,
		fileBacked:        fileBacked,
	}

	return r, nil
}

func orDefault(primary, fallback, def uint32) uint32 {
	if primary != 0 {
		return primary
	}

	if fallback != 0 {
		return fallback
	}

	return def
}

// LockLevel identifies the level a QueryContext holds or is asked to
// acquire its segment lock at (spec.md §4.2).
type LockLevel int

const (
	// LockRead is shared: any number of holders, excludes Write.
	LockRead LockLevel = iota
	// LockUpdate is upgradeable-exclusive: at most one holder, compatible
	// with readers, excludes other Update and Write holders.
	LockUpdate
	// LockWrite is fully exclusive.
	LockWrite
)

func (l LockLevel) String() string {
	switch l {
	case LockRead:
		return "read"
	case LockUpdate:
		return "update"
	case LockWrite:
		return "write"
	default:
		return "unknown"
	}
}
