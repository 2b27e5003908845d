package cmap

import "fmt"

// QueryContext is the externally visible handle that owns a segment's
// lock for the duration of its scope (spec §4.5). Treat it as a scoped
// acquisition: Close must run on every exit path, including error paths,
// or the segment's lock is held forever (spec §9 "Acquire context").
type QueryContext struct {
	store *Store
	seg   *segment
	key   []byte
	hash  uint64
	level LockLevel
	done  bool
}

// EntryView is a handle to a live entry, valid only while its owning
// QueryContext holds its lock.
type EntryView struct {
	ctx    *QueryContext
	result lookupResult
}

// AbsentEntryView describes a slot that does not yet hold key, the only
// operation against it being Insert.
type AbsentEntryView struct {
	ctx *QueryContext
}

// Entry returns a handle to the live entry for the context's key, or nil
// if absent (spec §4.5 entry(); never fails).
func (ctx *QueryContext) Entry() *EntryView {
	res, err := ctx.seg.lookup(ctx.key, ctx.hash)
	if err != nil || !res.found {
		return nil
	}
	return &EntryView{ctx: ctx, result: res}
}

// AbsentEntry returns a handle describing the absent slot for the
// context's key, or nil if the key is present (spec §4.5 absentEntry()).
func (ctx *QueryContext) AbsentEntry() *AbsentEntryView {
	res, err := ctx.seg.lookup(ctx.key, ctx.hash)
	if err != nil || res.found {
		return nil
	}
	return &AbsentEntryView{ctx: ctx}
}

// Key returns the entry's key bytes. Valid only while the owning
// QueryContext's lock is held.
func (e *EntryView) Key() []byte { return e.result.entry.key }

// Value returns the entry's value bytes, aliasing mapped memory directly.
// Valid only while the owning QueryContext's lock is held; callers that
// need the bytes afterward must copy.
func (e *EntryView) Value() []byte { return e.result.entry.value }

// ReadValue drains the entry's value through r, the capability-based
// alternative to taking Value() directly.
func (e *EntryView) ReadValue(r Reader) error {
	return r.ReadFrom(e.result.entry.value)
}

// CheckSum recomputes and compares the entry's checksum, never mutating
// (spec §4.6 checkSum()).
func (e *EntryView) CheckSum() bool {
	return e.result.entry.verifyChecksum()
}

// UpdateChecksum recomputes and rewrites the entry's checksum trailer.
// Required after a caller mutates Value() bytes directly under an update
// or write lock (spec §4.6); skipping this is a contract violation that
// recovery will later detect.
func (e *EntryView) UpdateChecksum() error {
	if e.ctx.level == LockRead {
		return fmt.Errorf("update checksum requires update or write lock: %w", ErrInvalidInput)
	}
	t, err := e.ctx.seg.tierAt(e.result.chainPos)
	if err != nil {
		return err
	}
	rewriteChecksum(t.buf[e.result.offset:], e.result.entry)
	return nil
}

// Insert publishes value as a new entry for the absent key (spec §4.5
// insert()). Requires a write or update lock.
func (a *AbsentEntryView) Insert(value Writer) error {
	ctx := a.ctx
	if ctx.level == LockRead {
		return fmt.Errorf("insert requires update or write lock: %w", ErrInvalidInput)
	}

	buf := make([]byte, value.Size())
	value.WriteTo(buf)

	return ctx.seg.insert(ctx.key, buf, ctx.hash)
}

// ReplaceValue overwrites the entry's value (spec §4.5 replace_value()).
// Same-size writes happen in place; a differently-sized value allocates a
// new entry, publishes it, then tombstones the old one. Requires a write
// or update lock.
func (ctx *QueryContext) ReplaceValue(value Writer) error {
	if ctx.level == LockRead {
		return fmt.Errorf("replace_value requires update or write lock: %w", ErrInvalidInput)
	}

	res, err := ctx.seg.lookup(ctx.key, ctx.hash)
	if err != nil {
		return err
	}
	if !res.found {
		return fmt.Errorf("key not present: %w", ErrInvalidInput)
	}

	newSize := value.Size()

	if newSize == len(res.entry.value) {
		value.WriteTo(res.entry.value)
		if ctx.store.g.checksumEntries {
			t, terr := ctx.seg.tierAt(res.chainPos)
			if terr != nil {
				return terr
			}
			rewriteChecksum(t.buf[res.offset:], res.entry)
		}
		return nil
	}

	buf := make([]byte, newSize)
	value.WriteTo(buf)

	if err := ctx.seg.insert(ctx.key, buf, ctx.hash); err != nil {
		return err
	}

	return ctx.seg.removeAt(res.slotIdx)
}

// Remove tombstones the entry's slot and frees its entry bytes (spec §4.5
// remove()). Requires a write or update lock. Idempotent: a second call
// after the key is gone is a silent no-op.
func (ctx *QueryContext) Remove() error {
	if ctx.level == LockRead {
		return fmt.Errorf("remove requires update or write lock: %w", ErrInvalidInput)
	}

	res, err := ctx.seg.lookup(ctx.key, ctx.hash)
	if err != nil {
		return err
	}
	if !res.found {
		return nil
	}

	return ctx.seg.removeAt(res.slotIdx)
}

// UpgradeToUpdate transitions from a held read lock to the update lock
// (spec §4.5 upgrade_to_update()). Blocks until no other update holder
// exists.
func (ctx *QueryContext) UpgradeToUpdate() error {
	if ctx.level != LockRead {
		return fmt.Errorf("upgrade_to_update requires holding read: %w", ErrDeadlock)
	}
	if err := ctx.seg.lock.upgradeReadToUpdate(false); err != nil {
		return err
	}
	ctx.level = LockUpdate
	return nil
}

// UpgradeToWrite transitions from a held read or update lock to the write
// lock (spec §4.5 upgrade_to_write()). Blocks for other readers to drain.
func (ctx *QueryContext) UpgradeToWrite() error {
	switch ctx.level {
	case LockWrite:
		return fmt.Errorf("context already holds write lock: %w", ErrDeadlock)
	case LockRead:
		ctx.seg.lock.upgradeToWrite(false)
	case LockUpdate:
		ctx.seg.lock.upgradeToWrite(true)
	default:
		return fmt.Errorf("unknown lock level: %w", ErrInvalidInput)
	}
	ctx.level = LockWrite
	return nil
}

// Close releases the context's segment lock. Always succeeds (spec §4.5
// close()); safe to call more than once.
func (ctx *QueryContext) Close() error {
	if ctx.done {
		return nil
	}
	ctx.done = true
	releaseAtLevel(ctx.seg.lock, ctx.level)
	return nil
}
