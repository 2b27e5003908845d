package cmap

import (
	"sync/atomic"
	"unsafe"
)

// Atomic load/store helpers over the mapped region's byte slice. The
// mapping is shared across processes, so every field that readers and
// writers touch without holding an exclusive lock (slot metadata, the
// segment lock word, header generation-style fields) must go through
// these instead of encoding/binary, which performs a plain, non-atomic
// read-modify-write.
//
// atomic.Uint64 etc. require 8-byte alignment; the header and geometry
// are computed so every field accessed here sits at an 8-byte-aligned
// offset (see align8 in format.go).

func atomicLoadUint64(b []byte) uint64 {
	p := (*uint64)(unsafe.Pointer(&b[0]))
	return atomic.LoadUint64(p)
}

func atomicStoreUint64(b []byte, v uint64) {
	p := (*uint64)(unsafe.Pointer(&b[0]))
	atomic.StoreUint64(p, v)
}

func atomicCASUint64(b []byte, old, new uint64) bool {
	p := (*uint64)(unsafe.Pointer(&b[0]))
	return atomic.CompareAndSwapUint64(p, old, new)
}

func atomicAddUint64(b []byte, delta uint64) uint64 {
	p := (*uint64)(unsafe.Pointer(&b[0]))
	return atomic.AddUint64(p, delta)
}

func atomicLoadUint32(b []byte) uint32 {
	p := (*uint32)(unsafe.Pointer(&b[0]))
	return atomic.LoadUint32(p)
}

func atomicStoreUint32(b []byte, v uint32) {
	p := (*uint32)(unsafe.Pointer(&b[0]))
	atomic.StoreUint32(p, v)
}

func atomicCASUint32(b []byte, old, new uint32) bool {
	p := (*uint32)(unsafe.Pointer(&b[0]))
	return atomic.CompareAndSwapUint32(p, old, new)
}
