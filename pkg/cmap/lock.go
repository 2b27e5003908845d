package cmap

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"golang.org/x/sys/unix"
)

// SegHdr layout (spec §6): lock_word(8) + entry_count(4) + tier_count(4) +
// head_tier_ix(4) + last_holder_pid(4) + flags(4), padded to 32 bytes so
// segment headers stay 8-byte aligned for the atomics in lock_word.
const (
	segHdrLockWord      = 0
	segHdrEntryCount    = 8
	segHdrTierCount     = 12
	segHdrHeadTierIx    = 16
	segHdrLastHolderPid = 20
	segHdrFlags         = 24
	segHdrSize          = 32
)

const flagPoisoned uint32 = 1 << 0

// Lock word bit layout, adapted from the four-state intention-lock packing
// in the retrieval pack's ilock.Mutex down to the three states this store
// needs. Readers is a plain count; update and write are single-holder
// flags because at most one context may hold each at a time.
const (
	lockReadersMask uint64 = 0x00000000FFFFFFFF
	lockUpdateBit   uint64 = 1 << 32
	lockWriteBit    uint64 = 1 << 33
)

func lockReaders(state uint64) uint32 { return uint32(state & lockReadersMask) }
func lockUpdateHeld(state uint64) bool { return state&lockUpdateBit != 0 }
func lockWriteHeld(state uint64) bool  { return state&lockWriteBit != 0 }

const (
	lockSpinAttempts  = 64
	lockInitialBackoff = 50 * time.Microsecond
	lockMaxBackoff     = 5 * time.Millisecond
)

// segmentLock is the inter-process read/update/write lock colocated with a
// segment's header, backed by a single atomic word in shared memory
// (spec §4.2). It carries no in-process mutex or condition variable: other
// holders may be in a different process, so contention is resolved purely
// by spin-then-backoff polling of the shared word, the same texture as the
// teacher's seqlock retry loop in cache.go (readBackoff/readMaxRetries).
type segmentLock struct {
	lockWord  []byte // 8 bytes, shared
	holderPid []byte // 4 bytes, shared
	flags     []byte // 4 bytes, shared
}

func newSegmentLock(segHdr []byte) *segmentLock {
	return &segmentLock{
		lockWord:  segHdr[segHdrLockWord : segHdrLockWord+8],
		holderPid: segHdr[segHdrLastHolderPid : segHdrLastHolderPid+4],
		flags:     segHdr[segHdrFlags : segHdrFlags+4],
	}
}

func (l *segmentLock) load() uint64 { return atomicLoadUint64(l.lockWord) }

func (l *segmentLock) isPoisoned() bool {
	return atomicLoadUint32(l.flags)&flagPoisoned != 0
}

func (l *segmentLock) poison() {
	for {
		f := atomicLoadUint32(l.flags)
		if f&flagPoisoned != 0 {
			return
		}
		if atomicCASUint32(l.flags, f, f|flagPoisoned) {
			return
		}
	}
}

func (l *segmentLock) clearPoisoned() {
	for {
		f := atomicLoadUint32(l.flags)
		if f&flagPoisoned == 0 {
			return
		}
		if atomicCASUint32(l.flags, f, f&^flagPoisoned) {
			return
		}
	}
}

// reclaimIfDead checks the current exclusive holder's PID (set by whichever
// context last took update or write) and, if that process no longer
// exists, forcibly clears update/write bits and poisons the segment
// (spec §4.2 dead-holder detection). Called on every contended acquisition
// attempt, per spec.
func (l *segmentLock) reclaimIfDead() {
	state := l.load()
	if !lockUpdateHeld(state) && !lockWriteHeld(state) {
		return
	}

	pid := atomicLoadUint32(l.holderPid)
	if pid == 0 {
		return
	}

	if processAlive(int(pid)) {
		return
	}

	for {
		state = l.load()
		if !lockUpdateHeld(state) && !lockWriteHeld(state) {
			return
		}
		cleared := state &^ (lockUpdateBit | lockWriteBit)
		if atomicCASUint64(l.lockWord, state, cleared) {
			l.poison()
			return
		}
	}
}

func processAlive(pid int) bool {
	if pid == os.Getpid() {
		return true
	}
	err := unix.Kill(pid, 0)
	if err == nil {
		return true
	}
	return err != unix.ESRCH
}

func (l *segmentLock) setHolder() {
	atomicStoreUint32(l.holderPid, uint32(os.Getpid()))
}

// acquireRead blocks until no writer holds the segment, then registers a
// reader.
func (l *segmentLock) acquireRead() {
	backoff(func() bool {
		l.reclaimIfDead()
		state := l.load()
		if lockWriteHeld(state) {
			return false
		}
		return atomicCASUint64(l.lockWord, state, state+1)
	})
}

func (l *segmentLock) releaseRead() {
	for {
		state := l.load()
		if lockReaders(state) == 0 {
			panic("cmap: releaseRead on segment with zero readers")
		}
		if atomicCASUint64(l.lockWord, state, state-1) {
			return
		}
	}
}

// acquireUpdate blocks until no other update or write holder exists, then
// sets the update bit. Compatible with any number of concurrent readers.
func (l *segmentLock) acquireUpdate() {
	backoff(func() bool {
		l.reclaimIfDead()
		state := l.load()
		if lockUpdateHeld(state) || lockWriteHeld(state) {
			return false
		}
		if atomicCASUint64(l.lockWord, state, state|lockUpdateBit) {
			l.setHolder()
			return true
		}
		return false
	})
}

func (l *segmentLock) releaseUpdate() {
	for {
		state := l.load()
		if !lockUpdateHeld(state) {
			panic("cmap: releaseUpdate without update held")
		}
		if atomicCASUint64(l.lockWord, state, state&^lockUpdateBit) {
			return
		}
	}
}

// acquireWrite blocks until the segment is fully quiescent (no readers, no
// update holder, no other writer), then sets the write bit.
func (l *segmentLock) acquireWrite() {
	backoff(func() bool {
		l.reclaimIfDead()
		state := l.load()
		if lockReaders(state) != 0 || lockUpdateHeld(state) || lockWriteHeld(state) {
			return false
		}
		if atomicCASUint64(l.lockWord, state, state|lockWriteBit) {
			l.setHolder()
			return true
		}
		return false
	})
}

func (l *segmentLock) releaseWrite() {
	for {
		state := l.load()
		if !lockWriteHeld(state) {
			panic("cmap: releaseWrite without write held")
		}
		if atomicCASUint64(l.lockWord, state, state&^lockWriteBit) {
			return
		}
	}
}

// upgradeReadToUpdate releases the caller's own read slot and takes the
// update bit atomically with respect to other update/write attempts
// (spec §4.2 upgrade path). Returns ErrDeadlock if the caller already
// holds update (illegal re-entrant upgrade).
func (l *segmentLock) upgradeReadToUpdate(alreadyUpdate bool) error {
	if alreadyUpdate {
		return fmt.Errorf("context already holds update lock: %w", ErrDeadlock)
	}

	backoff(func() bool {
		l.reclaimIfDead()
		state := l.load()
		if lockUpdateHeld(state) || lockWriteHeld(state) {
			return false
		}
		next := (state - 1) | lockUpdateBit
		if atomicCASUint64(l.lockWord, state, next) {
			l.setHolder()
			return true
		}
		return false
	})
	return nil
}

// upgradeToWrite transitions from read or update to write, waiting for all
// other readers to drain. fromUpdate indicates the caller already holds
// the update bit (and thus does not also hold a counted reader slot);
// otherwise the caller holds exactly one reader slot that is released as
// part of the transition.
func (l *segmentLock) upgradeToWrite(fromUpdate bool) {
	backoff(func() bool {
		l.reclaimIfDead()
		state := l.load()
		if lockWriteHeld(state) {
			return false
		}

		if fromUpdate {
			if lockReaders(state) != 0 {
				return false
			}
			next := (state &^ lockUpdateBit) | lockWriteBit
			if atomicCASUint64(l.lockWord, state, next) {
				l.setHolder()
				return true
			}
			return false
		}

		if lockUpdateHeld(state) || lockReaders(state) != 1 {
			return false
		}
		next := (state - 1) | lockWriteBit
		if atomicCASUint64(l.lockWord, state, next) {
			l.setHolder()
			return true
		}
		return false
	})
}

// downgradeWriteToUpdate clears the write bit and sets the update bit in
// one step; no reader can observe the segment between the two states.
func (l *segmentLock) downgradeWriteToUpdate() {
	for {
		state := l.load()
		next := (state &^ lockWriteBit) | lockUpdateBit
		if atomicCASUint64(l.lockWord, state, next) {
			return
		}
	}
}

func (l *segmentLock) downgradeWriteToRead() {
	for {
		state := l.load()
		next := (state &^ lockWriteBit) + 1
		if atomicCASUint64(l.lockWord, state, next) {
			return
		}
	}
}

func (l *segmentLock) downgradeUpdateToRead() {
	for {
		state := l.load()
		next := (state &^ lockUpdateBit) + 1
		if atomicCASUint64(l.lockWord, state, next) {
			return
		}
	}
}

// backoff spins briefly, then retries attempt with exponentially growing
// sleeps until it reports success. Grounded on the teacher's
// readBackoff/readMaxRetries exponential retry in cache.go, generalized
// from a bounded read retry into an unbounded blocking acquisition, since
// spec §4.2 requires acquisitions to block rather than give up.
func backoff(attempt func() bool) {
	for i := 0; i < lockSpinAttempts; i++ {
		if attempt() {
			return
		}
		runtime.Gosched()
	}

	wait := lockInitialBackoff
	for {
		if attempt() {
			return
		}
		time.Sleep(wait)
		wait *= 2
		if wait > lockMaxBackoff {
			wait = lockMaxBackoff
		}
	}
}

// tryAcquireRead/tryAcquireWrite implement the bounded try-acquire escape
// hatch spec §5 calls out for callers layering their own timeout.
func (l *segmentLock) tryAcquireWrite() bool {
	l.reclaimIfDead()
	state := l.load()
	if lockReaders(state) != 0 || lockUpdateHeld(state) || lockWriteHeld(state) {
		return false
	}
	if atomicCASUint64(l.lockWord, state, state|lockWriteBit) {
		l.setHolder()
		return true
	}
	return false
}

func (l *segmentLock) tryAcquireRead() bool {
	l.reclaimIfDead()
	state := l.load()
	if lockWriteHeld(state) {
		return false
	}
	return atomicCASUint64(l.lockWord, state, state+1)
}
