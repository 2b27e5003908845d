package cmap

// Tier layout (spec §4.4): a bump allocator cursor at the head, a free
// list of reclaimed entry regions, a link to the next tier in this
// segment's chain, and packed entry regions growing toward the cursor.
//
//	offset 0:  bump cursor      uint64 (atomic)
//	offset 8:  free list head   uint64 (0 = none, else region_offset+1)
//	offset 16: next tier        uint64 (0 = end, else pool_index+1)
//	offset 24: regions...
//
// Each region alloc hands out is itself prefixed with its own small
// header so a region can be reclaimed, or rescanned by recovery, using
// only the offset already recorded elsewhere (a slot's meta word, or a
// linear walk of the tier):
//
//	region+0: capacity uint64 (total region size, this header included)
//	region+8: entry bytes, or (while on the free list) the next
//	          region's offset+1
//
// alloc returns the offset just past the capacity header (region+8), the
// same offset a slot publishes and recovery rediscovers; free and the
// free list walk derive the region's start by subtracting
// regionHeaderSize back off of it.
const (
	tierBumpCursor   = 0
	tierFreeListHead = 8
	tierNextTier     = 16
	tierHeaderSize   = 24

	regionHeaderSize = 8

	// minAllocSize guarantees a freed region is always large enough to
	// hold its capacity header plus a free-list next pointer, so
	// reclaimed space of any entry size can be threaded onto the list.
	minAllocSize = regionHeaderSize + 8
)

// tier is a view over one contiguous tier region within the mapped file.
type tier struct {
	buf []byte
}

func newTier(buf []byte) *tier {
	return &tier{buf: buf}
}

func initTier(buf []byte) {
	atomicStoreUint64(buf[tierBumpCursor:], tierHeaderSize)
	atomicStoreUint64(buf[tierFreeListHead:], 0)
}

func (t *tier) cursor() uint64 {
	return atomicLoadUint64(t.buf[tierBumpCursor:])
}

func (t *tier) capacity() uint64 {
	return uint64(len(t.buf))
}

// alloc reserves room for a size-byte entry somewhere in the tier, first
// checking the free list for a first-fit reclaimed region, then falling
// back to the bump cursor. The region (capacity header included) is
// rounded up to minAllocSize and 8-byte alignment. Returns the offset of
// the entry payload, i.e. just past the region's capacity header, or
// ok=false if the tier cannot fit the request.
func (t *tier) alloc(size uint32) (offset uint64, capacity uint32, ok bool) {
	need := uint64(regionHeaderSize) + uint64(size)
	if need < minAllocSize {
		need = minAllocSize
	}
	need = align8(need)

	if regionOff, cap, found := t.takeFromFreeList(uint32(need)); found {
		return regionOff + regionHeaderSize, cap, true
	}

	cursor := t.cursor()
	newCursor := cursor + need
	if newCursor > t.capacity() {
		return 0, 0, false
	}

	atomicStoreUint64(t.buf[cursor:], need)
	atomicStoreUint64(t.buf[tierBumpCursor:], newCursor)
	return cursor + regionHeaderSize, uint32(need), true
}

// free reclaims the region behind entryOffset — the same offset a slot's
// meta word or recovery's linear walk already knows — onto the tier's
// free list. The region's capacity was recorded in its header by alloc
// and never needs to be supplied again. Callers must hold at least the
// segment's update lock; the free list is not itself lock-free (spec
// §4.4 describes it as part of the tier the segment lock already
// protects).
func (t *tier) free(entryOffset uint64) {
	regionOff := entryOffset - regionHeaderSize
	head := atomicLoadUint64(t.buf[tierFreeListHead:])
	atomicStoreUint64(t.buf[regionOff+regionHeaderSize:], head)
	atomicStoreUint64(t.buf[tierFreeListHead:], regionOff+1)
}

func (t *tier) takeFromFreeList(need uint32) (regionOffset uint64, capacity uint32, ok bool) {
	var prevOffset uint64 // 0 means "head"

	cur := atomicLoadUint64(t.buf[tierFreeListHead:])
	for cur != 0 {
		nodeOffset := cur - 1
		cap := atomicLoadUint64(t.buf[nodeOffset:])
		next := atomicLoadUint64(t.buf[nodeOffset+regionHeaderSize:])

		if cap >= uint64(need) {
			if prevOffset == 0 {
				atomicStoreUint64(t.buf[tierFreeListHead:], next)
			} else {
				atomicStoreUint64(t.buf[prevOffset-1+regionHeaderSize:], next)
			}
			return nodeOffset, uint32(cap), true
		}

		prevOffset = cur
		cur = next
	}

	return 0, 0, false
}

func (t *tier) readAt(offset uint64, length uint32) []byte {
	return t.buf[offset : offset+uint64(length)]
}

// nextTierPoolIndex returns the pool index (0-based) of the next tier in
// this segment's chain, and whether one is linked.
func (t *tier) nextTierPoolIndex() (uint32, bool) {
	v := atomicLoadUint64(t.buf[tierNextTier:])
	if v == 0 {
		return 0, false
	}
	return uint32(v - 1), true
}

func (t *tier) setNextTierPoolIndex(poolIndex uint32) {
	atomicStoreUint64(t.buf[tierNextTier:], uint64(poolIndex)+1)
}
