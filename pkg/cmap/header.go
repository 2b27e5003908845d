package cmap

import (
	"encoding/binary"
	"fmt"
)

// header is a thin view over the first headerSize bytes of a mapped
// region. It is written once at creation and never mutated during normal
// operation (§4.1); it is only rewritten by same-configuration recovery or
// by a future bloat-resize.
type header struct {
	buf []byte // headerSize-byte slice into the region
}

func newHeaderView(data []byte) header {
	return header{buf: data[:headerSize]}
}

func (h header) magic() string          { return string(h.buf[offMagic : offMagic+4]) }
func (h header) version() uint32        { return binary.LittleEndian.Uint32(h.buf[offVersion:]) }
func (h header) libStamp() [16]byte     { var s [16]byte; copy(s[:], h.buf[offLibStamp:offLibStamp+16]); return s }
func (h header) creationEpochMs() int64 { return int64(binary.LittleEndian.Uint64(h.buf[offCreationEpoc:])) }
func (h header) configLen() uint32      { return binary.LittleEndian.Uint32(h.buf[offConfigLen:]) }

func (h header) config() configBlob {
	n := h.configLen()
	if int(n) > configBlobSize {
		n = configBlobSize
	}
	blob := make([]byte, configBlobSize)
	copy(blob, h.buf[offConfigBlob:offConfigBlob+uint64(n)])
	return decodeConfigBlob(blob)
}

func (h header) crc() uint32 {
	return binary.LittleEndian.Uint32(h.buf[crcFieldOffset:])
}

// sane performs the bounded-field-range check spec §4.7 calls for during
// same-configuration recovery, then validates the header CRC.
func (h header) sane() bool {
	if h.magic() != formatMagic {
		return false
	}
	if h.version() == 0 || h.version() > formatVersion {
		return false
	}
	c := h.config()
	if c.segments == 0 || c.segments > maxSegments {
		return false
	}
	if c.entriesPerSegment == 0 || c.entriesPerSegment > maxEntriesPerSegment {
		return false
	}
	return h.crc() == computeHeaderCRC(h.buf)
}

// writeHeader serializes a fresh header into buf (headerSize bytes),
// computing and storing the CRC last.
func writeHeader(buf []byte, cfg configBlob, libStamp [16]byte, creationEpochMs int64) {
	for i := range buf {
		buf[i] = 0
	}

	copy(buf[offMagic:], formatMagic)
	binary.LittleEndian.PutUint32(buf[offVersion:], formatVersion)
	copy(buf[offLibStamp:], libStamp[:])
	binary.LittleEndian.PutUint64(buf[offCreationEpoc:], uint64(creationEpochMs))

	blob := encodeConfigBlob(cfg)
	binary.LittleEndian.PutUint32(buf[offConfigLen:], uint32(len(blob)))
	copy(buf[offConfigBlob:], blob)

	crc := computeHeaderCRC(buf)
	binary.LittleEndian.PutUint32(buf[crcFieldOffset:], crc)
}

// libraryStamp identifies this implementation to recovery tooling, the way
// the teacher's slc1Header carries a version used to gate compatibility.
var libraryStamp = func() [16]byte {
	var s [16]byte
	copy(s[:], "cmap-go-1")
	return s
}()

func (g geometry) String() string {
	return fmt.Sprintf("segments=%d entries/seg=%d slotCap=%d primaryTierStride=%d extraTiers=%d totalSize=%d",
		g.segments, g.entriesPerSegment, g.slotCapacity, g.primaryTierStride, g.extraTierCount, g.totalSize)
}
