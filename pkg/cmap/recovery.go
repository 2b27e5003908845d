package cmap

import (
	"fmt"

	internalfs "github.com/concurrentmap/cmap/internal/fs"
)

// RecoverOptions configures a Recover call (spec §4.7).
type RecoverOptions struct {
	// Options is the caller's view of the region's configuration. It is
	// always validated; whether it must also match the on-disk header
	// depends on SameConfig.
	Options Options

	// SameConfig asserts the caller's Options matches the configuration
	// the region was created with (same-configuration recovery). When
	// false, the on-disk header is trusted as authoritative instead
	// (self-describing recovery) and recovery refuses to proceed if the
	// header fails its sanity check.
	SameConfig bool
}

// Recover opens opts.Options.Path exclusively and rebuilds every segment's
// slot array from its tier chains, discarding any entry that fails its
// checksum or whose key no longer hashes to the segment holding it (spec
// §4.7). It returns a ready-to-use Store on success.
//
// Exclusive access is enforced via an advisory file lock (see
// internal/fs.Real.Lock); concurrent Recover calls against the same path
// while recovery is in progress block or fail rather than racing the
// rescan. Open does not take this lock.
func Recover(opts RecoverOptions) (*Store, error) {
	if opts.Options.Path == "" {
		return nil, fmt.Errorf("recover requires a file path: %w", ErrInvalidInput)
	}

	resolved, err := opts.Options.validateAndResolve()
	if err != nil {
		return nil, err
	}

	realfs := internalfs.NewReal()
	guard, err := realfs.Lock(opts.Options.Path)
	if err != nil {
		return nil, fmt.Errorf("recover: acquiring exclusive guard: %w", ErrIO)
	}
	defer guard.Close()

	r, err := openRegion(realfs, opts.Options.Path)
	if err != nil {
		return nil, err
	}

	h := newHeaderView(r.data)

	var cfg configBlob
	switch {
	case opts.SameConfig:
		cfg = resolved.toConfigBlob()
		if h.magic() != formatMagic || !h.sane() {
			writeHeader(r.data[:headerSize], cfg, libraryStamp, nowEpochMs())
			h = newHeaderView(r.data)
		}
	default:
		if h.magic() != formatMagic || !h.sane() {
			r.close()
			return nil, fmt.Errorf("self-describing recovery: header failed sanity check: %w", ErrRecoveryFailed)
		}
		cfg = h.config()
	}

	g := computeGeometry(cfg)
	if uint64(len(r.data)) < g.totalSize {
		r.close()
		return nil, fmt.Errorf("region file too small for its own header geometry: %w", ErrRecoveryFailed)
	}

	st := &Store{region: r, g: g, resolved: resolved, hdr: h}
	st.bindSegments()

	for _, seg := range st.segments {
		if err := recoverSegment(seg); err != nil {
			st.region.close()
			return nil, fmt.Errorf("recovering segment %d: %w", seg.index, err)
		}
	}

	return st, nil
}

// recoverSegment rebuilds one segment's slot array from scratch by walking
// its tier chain (spec §4.7 Scan). The segment's write lock is taken even
// though Recover already holds the whole-region exclusive guard, so the
// segment is left in a normal, unpoisoned, unlocked state afterward.
func recoverSegment(seg *segment) error {
	seg.lock.acquireWrite()
	defer seg.lock.releaseWrite()

	for i := uint64(0); i < seg.slots.capacity; i++ {
		seg.slots.reset(i)
	}

	var live uint32
	chainPos := uint32(0)
	t := seg.primaryTier()

	for {
		live += recoverTier(seg, t, chainPos)

		idx, ok := t.nextTierPoolIndex()
		if !ok {
			break
		}
		t = seg.store.extraTier(idx)
		chainPos++
	}

	seg.setEntryCount(live)
	seg.lock.clearPoisoned()
	return nil
}

// recoverTier walks one tier's bump-allocated regions linearly by their
// capacity headers, re-publishing every region whose entry decodes,
// passes its checksum (if enabled), and whose key still hashes to seg.
// Anything else — a torn write, a region still threaded onto the free
// list at crash time, an entry misrouted by a configuration change — is
// silently skipped; its bytes become reclaimable the next time this
// tier is reinitialized.
//
// This is a best-effort walk, not a free-list-aware one: the free list
// threaded through previously-removed regions is not trusted, since it
// is exactly the kind of pointer structure a crash could have torn.
// Recovery rebuilds occupancy from what it can decode and leaves the
// tier's free list head as it was — initTier is not called here, so
// already-freed regions are simply walked as decodable-or-not like any
// other region.
func recoverTier(seg *segment, t *tier, chainPos uint32) uint32 {
	cur := t.cursor()
	var live uint32

	for off := uint64(tierHeaderSize); off < cur; {
		if off+regionHeaderSize > cur {
			break
		}

		total := atomicLoadUint64(t.buf[off:])
		if total < minAllocSize || off+total > cur {
			break // torn region header; nothing past this point is trustworthy
		}

		entryOffset := off + regionHeaderSize
		e, derr := decodeEntry(t.buf[entryOffset:off+total], seg.store.g.checksumEntries)
		// Query never accepts an empty key, so an empty decoded key is not a
		// live entry: a freed region whose free-list link is zero decodes
		// that way, with a checksum that matches.
		if derr == nil && len(e.key) > 0 && entryBelongsHere(seg, e) {
			hash := fnv1a64(e.key)
			if idx, ok := seg.slots.firstFree(hash); ok {
				seg.slots.publish(idx, fingerprint(hash), chainPos, entryOffset)
				live++
			}
		}

		off += total
	}

	return live
}

// entryBelongsHere verifies both the checksum (if the region was configured
// to carry one) and that the key's hash still selects this segment — a
// config change between the crash and recovery could otherwise resurrect an
// entry into the wrong segment.
func entryBelongsHere(seg *segment, e decodedEntry) bool {
	if seg.store.g.checksumEntries && !e.verifyChecksum() {
		return false
	}

	hash := fnv1a64(e.key)
	segments := seg.store.g.segments
	shift := segmentShiftFor(segments)
	return segmentSelector(hash, segments, shift) == seg.index
}
