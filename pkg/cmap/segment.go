package cmap

import "fmt"

// segment binds one segment's lock, slot array, and tier chain together
// (spec §3 Segment). All mutating methods assume the caller already holds
// at least the update lock; read-only lookups assume at least the read
// lock.
type segment struct {
	index uint32
	store *Store

	hdr   []byte // segHdrSize bytes, inside the segment headers array
	lock  *segmentLock
	slots *slotArray
}

func (s *segment) entryCount() uint32    { return atomicLoadUint32(s.hdr[segHdrEntryCount:]) }
func (s *segment) tierCount() uint32     { return atomicLoadUint32(s.hdr[segHdrTierCount:]) }
func (s *segment) setEntryCount(v uint32) { atomicStoreUint32(s.hdr[segHdrEntryCount:], v) }

func (s *segment) addEntryCount(delta int32) {
	for {
		cur := s.entryCount()
		next := uint32(int64(cur) + int64(delta))
		if atomicCASUint32(s.hdr[segHdrEntryCount:], cur, next) {
			return
		}
	}
}

// primaryTier returns the tier view for chain position 0.
func (s *segment) primaryTier() *tier {
	off := s.store.g.primaryTierOffset + uint64(s.index)*s.store.g.primaryTierStride
	buf := s.store.region.data[off : off+s.store.g.primaryTierStride]
	return newTier(buf)
}

// tailPoolIndex reads this segment's current tail tier's pool index from
// segHdrHeadTierIx (repurposed, per DESIGN.md, as a tail pointer so
// appends are O(1) instead of a full chain walk). 0 means the tail is
// still the primary tier.
func (s *segment) tailPoolIndex() (uint32, bool) {
	v := atomicLoadUint32(s.hdr[segHdrHeadTierIx:])
	if v == 0 {
		return 0, false
	}
	return v - 1, true
}

func (s *segment) setTailPoolIndex(poolIndex uint32) {
	atomicStoreUint32(s.hdr[segHdrHeadTierIx:], poolIndex+1)
}

func (s *segment) tailTier() *tier {
	if idx, ok := s.tailPoolIndex(); ok {
		return s.store.extraTier(idx)
	}
	return s.primaryTier()
}

// tierAt walks the chain from the primary tier chainPos hops, following
// persisted nextTier links. chainPos 0 is always the primary tier.
func (s *segment) tierAt(chainPos uint32) (*tier, error) {
	t := s.primaryTier()
	for i := uint32(0); i < chainPos; i++ {
		idx, ok := t.nextTierPoolIndex()
		if !ok {
			return nil, fmt.Errorf("tier chain position %d not linked: %w", chainPos, ErrCorrupt)
		}
		t = s.store.extraTier(idx)
	}
	return t, nil
}

// chainLength returns 1 + number of extra tiers attached.
func (s *segment) chainLength() uint32 {
	n := uint32(1)
	t := s.primaryTier()
	for {
		idx, ok := t.nextTierPoolIndex()
		if !ok {
			return n
		}
		t = s.store.extraTier(idx)
		n++
	}
}

// maxChainLength is the bloat-factor ceiling (spec §4.4): "total tiers
// attached to the segment is less than ceil(max_bloat_factor *
// primary_tier_equivalents)". primary_tier_equivalents is 1 (one primary
// tier per segment), so the ceiling is simply ceil(max_bloat_factor).
func (s *segment) maxChainLength() uint32 {
	bloat := s.store.resolved.maxBloatFactor
	n := uint32(bloat)
	if float64(n) < bloat {
		n++
	}
	if n < 1 {
		n = 1
	}
	return n
}

// allocEntry finds room for an entry of the given size somewhere along
// the chain, attaching a new tier from the extra pool if every existing
// tier is full and the bloat ceiling allows it.
func (s *segment) allocEntry(size uint32) (chainPos uint32, offset uint64, capacity uint32, err error) {
	pos := uint32(0)
	t := s.primaryTier()
	for {
		if off, cap, ok := t.alloc(size); ok {
			return pos, off, cap, nil
		}

		if idx, ok := t.nextTierPoolIndex(); ok {
			t = s.store.extraTier(idx)
			pos++
			continue
		}

		if s.chainLength() >= s.maxChainLength() {
			return 0, 0, 0, fmt.Errorf("segment %d at bloat ceiling: %w", s.index, ErrCapacityExhausted)
		}

		newIdx, err := s.store.claimExtraTier()
		if err != nil {
			return 0, 0, 0, err
		}

		tail := s.tailTier()
		tail.setNextTierPoolIndex(newIdx)
		s.setTailPoolIndex(newIdx)
		atomicStoreUint32(s.hdr[segHdrTierCount:], s.tierCount()+1)

		t = s.store.extraTier(newIdx)
		pos++
	}
}

// lookupResult identifies where a matched entry lives: the slot index
// that references it and the tier-chain coordinates of its bytes.
type lookupResult struct {
	slotIdx  uint64
	chainPos uint32
	offset   uint64
	entry    decodedEntry
	found    bool
}

// lookup runs the probe sequence for key, reading entries from whichever
// tier each candidate slot references, and returns the slot and decoded
// entry on a match.
func (s *segment) lookup(key []byte, hash uint64) (lookupResult, error) {
	fp := fingerprint(hash)

	var (
		result  lookupResult
		matchErr error
	)

	s.slots.probe(hash, func(i uint64, status uint8, candidateFP uint64) bool {
		if status == slotStatusEmpty {
			return true
		}
		if status == slotStatusTombstone {
			return false
		}
		if candidateFP != fp {
			return false
		}

		meta := s.slots.loadMeta(i)
		chainPos, off, _ := unpackMeta(meta)

		t, terr := s.tierAt(chainPos)
		if terr != nil {
			matchErr = terr
			return true
		}

		e, derr := decodeEntry(t.buf[off:], s.store.g.checksumEntries)
		if derr != nil {
			matchErr = derr
			return true
		}

		if string(e.key) != string(key) {
			return false
		}

		result = lookupResult{slotIdx: i, chainPos: chainPos, offset: off, entry: e, found: true}
		return true
	})

	if matchErr != nil {
		return lookupResult{}, matchErr
	}

	return result, nil
}

// insert publishes a brand-new entry for key/value at a free slot along
// key's probe sequence. Caller must already know the key is absent.
func (s *segment) insert(key, value []byte, hash uint64) error {
	size := uint32(encodedEntrySize(len(key), len(value), s.store.g.checksumEntries))

	chainPos, offset, capacity, err := s.allocEntry(size)
	if err != nil {
		return err
	}

	t, err := s.tierAt(chainPos)
	if err != nil {
		return err
	}

	_ = capacity // already recorded in the region's own header by alloc, for free() to read back later
	encodeEntry(t.buf[offset:], key, value, s.store.g.checksumEntries)

	idx, ok := s.slots.firstFree(hash)
	if !ok {
		return fmt.Errorf("segment %d slot array full: %w", s.index, ErrCapacityExhausted)
	}

	s.slots.publish(idx, fingerprint(hash), chainPos, offset)
	s.addEntryCount(1)
	return nil
}

// removeAt tombstones slotIdx and frees the entry bytes it referenced
// (spec §4.5 remove()) so the tier's free list can reuse the region on a
// later insert instead of the bump cursor growing without bound.
func (s *segment) removeAt(slotIdx uint64) error {
	meta := s.slots.loadMeta(slotIdx)
	chainPos, offset, _ := unpackMeta(meta)

	t, err := s.tierAt(chainPos)
	if err != nil {
		return err
	}

	t.free(offset)
	s.slots.tombstone(slotIdx)
	s.addEntryCount(-1)
	return nil
}
