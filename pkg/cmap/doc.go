// Package cmap implements a persistent, concurrent, inter-process
// key-value store whose entire data structure lives in a memory-mapped
// region that may be shared by multiple processes on a single host.
//
// The map is split into a fixed number of segments. Each segment owns an
// open-addressed slot array and a chain of entry tiers, and is guarded by
// its own inter-process read/update/write lock, so up to one writer per
// segment may proceed concurrently.
//
// # Basic usage
//
//	store, err := cmap.Create(cmap.Options{
//	    Path:              "/tmp/my.cmap",
//	    Segments:          16,
//	    EntriesPerSegment: 10_000,
//	    ConstantKeySize:   8,
//	    ConstantValueSize: 8,
//	})
//	if err != nil {
//	    // CorruptFormat/IncompatibleVersion: delete and recreate, or Recover.
//	}
//	defer store.Close()
//
//	ctx, err := store.Query(key, cmap.LockWrite)
//	if err != nil {
//	    // ...
//	}
//	defer ctx.Close()
//
//	if absent := ctx.AbsentEntry(); absent != nil {
//	    err = absent.Insert(valueWriter)
//	}
//
// # Concurrency
//
// Reads and writes on different segments never block each other. Within a
// segment, any number of readers may hold the read lock concurrently; at
// most one context may hold the update lock (compatible with readers); the
// write lock excludes everything else. Callers operating on more than one
// segment in a single logical operation must acquire segment locks in
// ascending segment-index order to avoid deadlock.
//
// # Error handling
//
// [ErrCorrupt] and [ErrIncompatible] are rebuild-class: close the store and
// either recreate it or reopen with [Recover]. [ErrBusy] and
// [ErrCapacityExhausted] are operational and do not indicate damage.
// [ErrPoisoned] means a segment was left inconsistent by a dead holder;
// run [Recover] before trusting that segment again.
package cmap
