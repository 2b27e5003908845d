package cmap

import (
	"fmt"
	"sync"
	"sync/atomic"

	internalfs "github.com/concurrentmap/cmap/internal/fs"
)

// Store is the top-level handle to an open region: it owns the mapped
// bytes, the resolved configuration, and the per-segment state. A Store
// may be shared by any number of goroutines in this process and by any
// number of other processes that have opened the same backing file.
type Store struct {
	region   *region
	g        geometry
	resolved resolved
	hdr      header

	segMu    sync.Mutex // guards segments slice creation, not segment state
	segments []*segment

	closed atomic.Bool
}

// Create creates a brand-new region at opts.Path (or an anonymous region
// if Path is empty) and initializes its header and segments. Fails with
// ErrInvalidInput if the file already exists and is non-empty.
func Create(opts Options) (*Store, error) {
	resolved, err := opts.validateAndResolve()
	if err != nil {
		return nil, err
	}

	cfg := resolved.toConfigBlob()
	g := computeGeometry(cfg)

	if opts.Path != "" {
		if fi, statErr := osStat(opts.Path); statErr == nil && fi > 0 {
			return nil, fmt.Errorf("region file %q already exists and is non-empty: %w", opts.Path, ErrInvalidInput)
		}
	}

	r, err := createRegion(opts.fsys(), opts.Path, g.totalSize)
	if err != nil {
		return nil, err
	}

	writeHeader(r.data[:headerSize], cfg, libraryStamp, nowEpochMs())

	initializeSegments(r.data, g)

	st := &Store{region: r, g: g, resolved: resolved, hdr: newHeaderView(r.data)}
	st.bindSegments()

	return st, nil
}

// Open opens an existing region at opts.Path and validates its header
// against opts. Fails with ErrCorrupt if the header's sanity checks fail,
// or ErrIncompatible if its configuration doesn't match opts.
func Open(opts Options) (*Store, error) {
	if opts.Path == "" {
		return nil, fmt.Errorf("open requires a file path; use Create for anonymous regions: %w", ErrInvalidInput)
	}

	resolved, err := opts.validateAndResolve()
	if err != nil {
		return nil, err
	}

	r, err := openRegion(opts.fsys(), opts.Path)
	if err != nil {
		return nil, err
	}

	h := newHeaderView(r.data)
	if h.magic() != formatMagic {
		r.close()
		return nil, fmt.Errorf("bad magic: %w", ErrCorrupt)
	}
	if h.version() > formatVersion {
		r.close()
		return nil, fmt.Errorf("format version %d newer than supported %d: %w", h.version(), formatVersion, ErrIncompatible)
	}
	if !h.sane() {
		r.close()
		return nil, fmt.Errorf("header failed sanity check: %w", ErrCorrupt)
	}

	cfg := h.config()
	if !configCompatible(cfg, resolved) {
		r.close()
		return nil, fmt.Errorf("on-disk configuration does not match requested options: %w", ErrIncompatible)
	}

	g := computeGeometry(cfg)
	if uint64(len(r.data)) < g.totalSize {
		r.close()
		return nil, fmt.Errorf("region file too small for its own header geometry: %w", ErrCorrupt)
	}

	st := &Store{region: r, g: g, resolved: resolved, hdr: h}
	st.bindSegments()

	for i := range st.segments {
		if st.segments[i].lock.isPoisoned() {
			return st, fmt.Errorf("segment %d poisoned by a dead holder: %w", i, ErrPoisoned)
		}
	}

	return st, nil
}

func configCompatible(c configBlob, r resolved) bool {
	return c.segments == r.segments &&
		c.entriesPerSegment == r.entriesPerSegment &&
		c.constantKeySize == r.constantKeySize &&
		c.constantValueSize == r.constantValueSize
}

func initializeSegments(data []byte, g geometry) {
	for i := uint32(0); i < g.segments; i++ {
		hdrOff := g.segHdrArrayOffset + uint64(i)*segHdrSize
		for j := uint64(0); j < segHdrSize; j++ {
			data[hdrOff+j] = 0
		}

		slotOff := g.slotArrayOffset + uint64(i)*g.slotArrayStride
		sa := newSlotArray(data[slotOff:], g.slotCapacity)
		for s := uint64(0); s < g.slotCapacity; s++ {
			sa.reset(s)
		}

		tierOff := g.primaryTierOffset + uint64(i)*g.primaryTierStride
		initTier(data[tierOff : tierOff+g.primaryTierStride])
	}

	atomicStoreUint64(data[g.extraClaimCursor:], 0)
}

func (st *Store) bindSegments() {
	st.segMu.Lock()
	defer st.segMu.Unlock()

	segs := make([]*segment, st.g.segments)
	for i := uint32(0); i < st.g.segments; i++ {
		hdrOff := st.g.segHdrArrayOffset + uint64(i)*segHdrSize
		hdr := st.region.data[hdrOff : hdrOff+segHdrSize]

		slotOff := st.g.slotArrayOffset + uint64(i)*st.g.slotArrayStride
		slots := newSlotArray(st.region.data[slotOff:], st.g.slotCapacity)

		segs[i] = &segment{
			index: i,
			store: st,
			hdr:   hdr,
			lock:  newSegmentLock(hdr),
			slots: slots,
		}
	}
	st.segments = segs
}

// extraTier returns the pool tier at poolIndex. Callers must have already
// confirmed poolIndex < extraTierCount (via claimExtraTier or a chain
// link written by a successful claim).
func (st *Store) extraTier(poolIndex uint32) *tier {
	off := st.g.extraTierOffset + uint64(poolIndex)*st.g.extraTierStride
	return newTier(st.region.data[off : off+st.g.extraTierStride])
}

// claimExtraTier atomically reserves the next unused slot in the shared
// extra-tier pool (spec's bloat-factor growth, resolved in SPEC_FULL §4 as
// a flat pre-sized pool with an atomic bump allocator), so two segments in
// two different processes can never be handed the same tier.
func (st *Store) claimExtraTier() (uint32, error) {
	next := atomicAddUint64(st.region.data[st.g.extraClaimCursor:], 1) - 1
	if next >= st.g.extraTierCount {
		return 0, fmt.Errorf("extra tier pool exhausted (%d tiers): %w", st.g.extraTierCount, ErrCapacityExhausted)
	}

	idx := uint32(next)
	initTier(st.region.data[st.g.extraTierOffset+uint64(idx)*st.g.extraTierStride : st.g.extraTierOffset+uint64(idx+1)*st.g.extraTierStride])
	return idx, nil
}

// Close flushes mapped pages (best-effort) and unmaps the region (spec §3
// Close). Underlying bytes persist for file-backed regions.
func (st *Store) Close() error {
	if !st.closed.CompareAndSwap(false, true) {
		return fmt.Errorf("store already closed: %w", ErrClosed)
	}

	flushErr := st.region.flush()
	closeErr := st.region.close()
	if closeErr != nil {
		return closeErr
	}
	return flushErr
}

// Query acquires the segment owning key at the requested level and
// returns a QueryContext scoped to it (spec §4.5).
func (st *Store) Query(key []byte, level LockLevel) (*QueryContext, error) {
	if st.closed.Load() {
		return nil, ErrClosed
	}
	if err := st.validateKeySize(len(key)); err != nil {
		return nil, err
	}

	hash := fnv1a64(key)
	segIdx := segmentSelector(hash, st.g.segments, segmentShiftFor(st.g.segments))
	seg := st.segments[segIdx]

	if err := acquireAtLevel(seg.lock, level); err != nil {
		return nil, err
	}

	if seg.lock.isPoisoned() {
		releaseAtLevel(seg.lock, level)
		return nil, fmt.Errorf("segment %d poisoned by a dead holder: %w", segIdx, ErrPoisoned)
	}

	return &QueryContext{
		store:   st,
		seg:     seg,
		key:     append([]byte(nil), key...),
		hash:    hash,
		level:   level,
	}, nil
}

func (st *Store) validateKeySize(n int) error {
	if st.resolved.constantKeySize != 0 && uint32(n) != st.resolved.constantKeySize {
		return fmt.Errorf("key size %d != constant_key_size %d: %w", n, st.resolved.constantKeySize, ErrInvalidInput)
	}
	if n == 0 || n > maxKeyOrValueSize {
		return fmt.Errorf("key size %d out of range: %w", n, ErrInvalidInput)
	}
	return nil
}

func acquireAtLevel(l *segmentLock, level LockLevel) error {
	switch level {
	case LockRead:
		l.acquireRead()
	case LockUpdate:
		l.acquireUpdate()
	case LockWrite:
		l.acquireWrite()
	default:
		return fmt.Errorf("unknown lock level %v: %w", level, ErrInvalidInput)
	}
	return nil
}

func releaseAtLevel(l *segmentLock, level LockLevel) {
	switch level {
	case LockRead:
		l.releaseRead()
	case LockUpdate:
		l.releaseUpdate()
	case LockWrite:
		l.releaseWrite()
	}
}

// SegmentStats reports point-in-time occupancy for one segment, resolving
// the source corpus's declared-but-unimplemented percentageFreeSpace /
// segmentStats (spec §9 Open Question (b), see SPEC_FULL §4).
type SegmentStats struct {
	EntryCount    uint32
	LiveSlotCount uint64
	TierCount     uint32
}

// SegmentStatsOf returns occupancy stats for segmentIndex. Safe to call
// without holding any lock; the counts are a best-effort snapshot.
func (st *Store) SegmentStatsOf(segmentIndex int) (SegmentStats, error) {
	if segmentIndex < 0 || segmentIndex >= len(st.segments) {
		return SegmentStats{}, fmt.Errorf("segment index %d out of range: %w", segmentIndex, ErrInvalidInput)
	}
	seg := st.segments[segmentIndex]

	var live uint64
	for i := uint64(0); i < seg.slots.capacity; i++ {
		_, _, status := unpackMeta(seg.slots.loadMeta(i))
		if status == slotStatusOccupied {
			live++
		}
	}

	return SegmentStats{
		EntryCount:    seg.entryCount(),
		LiveSlotCount: live,
		TierCount:     seg.tierCount() + 1,
	}, nil
}

// Segments returns the number of segments this store was configured with.
func (st *Store) Segments() uint32 { return st.g.segments }
