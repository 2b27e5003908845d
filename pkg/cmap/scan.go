package cmap

import "fmt"

// VisitedEntry is the view passed to a ForEachEntry visitor. It aliases
// mapped memory and is valid only for the duration of the visitor call
// that received it.
type VisitedEntry struct {
	Key   []byte
	Value []byte
}

// ForEachEntry iterates segments in index order (spec §4.8). For each
// segment it acquires the read lock, walks occupied slots, calls visit
// for each, then releases the lock before advancing. visit must not
// attempt to acquire a second lock on the same or a higher-indexed
// segment; doing so risks deadlock with a concurrent writer working
// through segments in ascending order.
func (st *Store) ForEachEntry(visit func(VisitedEntry)) error {
	return st.forEachEntryWhile(func(e VisitedEntry) bool {
		visit(e)
		return true
	})
}

// ForEachEntryWhile is ForEachEntry with early-exit: iteration stops as
// soon as visit returns false.
func (st *Store) ForEachEntryWhile(visit func(VisitedEntry) bool) error {
	return st.forEachEntryWhile(visit)
}

func (st *Store) forEachEntryWhile(visit func(VisitedEntry) bool) error {
	if st.closed.Load() {
		return ErrClosed
	}

	for _, seg := range st.segments {
		seg.lock.acquireRead()
		stop, err := scanSegment(seg, visit)
		seg.lock.releaseRead()

		if err != nil {
			return err
		}
		if stop {
			return nil
		}
	}

	return nil
}

func scanSegment(seg *segment, visit func(VisitedEntry) bool) (stopped bool, err error) {
	for i := uint64(0); i < seg.slots.capacity; i++ {
		meta := seg.slots.loadMeta(i)
		chainPos, off, status := unpackMeta(meta)
		if status != slotStatusOccupied {
			continue
		}

		t, terr := seg.tierAt(chainPos)
		if terr != nil {
			return false, terr
		}

		e, derr := decodeEntry(t.buf[off:], seg.store.g.checksumEntries)
		if derr != nil {
			return false, fmt.Errorf("segment %d slot %d: %w", seg.index, i, derr)
		}

		if !visit(VisitedEntry{Key: e.key, Value: e.value}) {
			return true, nil
		}
	}

	return false, nil
}

// Len returns the total live entry count across all segments.
func (st *Store) Len() uint64 {
	var total uint64
	for _, seg := range st.segments {
		total += uint64(seg.entryCount())
	}
	return total
}
