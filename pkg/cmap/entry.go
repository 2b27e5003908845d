package cmap

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
)

// Entry encoding (spec §6): key_size (varint) || key bytes || value_size
// (varint) || value bytes || optional 4-byte checksum.

// encodedEntrySize returns the number of bytes encodeEntry will write.
func encodedEntrySize(keyLen, valueLen int, checksum bool) int {
	n := varintLen(uint64(keyLen)) + uint32(keyLen) + varintLen(uint64(valueLen)) + uint32(valueLen)
	if checksum {
		n += entryChecksumSize
	}
	return int(n)
}

// encodeEntry writes key and value into buf, appending a checksum over
// (key || value) when checksum is true. buf must be at least
// encodedEntrySize(len(key), len(value), checksum) bytes. Returns the
// number of bytes written.
func encodeEntry(buf []byte, key, value []byte, checksum bool) int {
	n := binary.PutUvarint(buf, uint64(len(key)))
	n += copy(buf[n:], key)

	n += binary.PutUvarint(buf[n:], uint64(len(value)))
	n += copy(buf[n:], value)

	if checksum {
		sum := crc32Checksum(key, value)
		binary.LittleEndian.PutUint32(buf[n:], sum)
		n += entryChecksumSize
	}

	return n
}

// decodedEntry is a view over an entry already resident in a tier. key and
// value alias the tier's backing bytes; callers that need to retain them
// past the holding lock's scope must copy.
type decodedEntry struct {
	key      []byte
	value    []byte
	checksum uint32
	hasSum   bool
	byteLen  int
}

func decodeEntry(buf []byte, checksum bool) (decodedEntry, error) {
	keyLen, n1 := binary.Uvarint(buf)
	if n1 <= 0 {
		return decodedEntry{}, fmt.Errorf("decode key length: %w", ErrCorrupt)
	}
	off := n1
	if uint64(off)+keyLen > uint64(len(buf)) {
		return decodedEntry{}, fmt.Errorf("key length out of bounds: %w", ErrCorrupt)
	}
	key := buf[off : off+int(keyLen)]
	off += int(keyLen)

	valLen, n2 := binary.Uvarint(buf[off:])
	if n2 <= 0 {
		return decodedEntry{}, fmt.Errorf("decode value length: %w", ErrCorrupt)
	}
	off += n2
	if uint64(off)+valLen > uint64(len(buf)) {
		return decodedEntry{}, fmt.Errorf("value length out of bounds: %w", ErrCorrupt)
	}
	value := buf[off : off+int(valLen)]
	off += int(valLen)

	e := decodedEntry{key: key, value: value}

	if checksum {
		if off+entryChecksumSize > len(buf) {
			return decodedEntry{}, fmt.Errorf("missing checksum trailer: %w", ErrCorrupt)
		}
		e.checksum = binary.LittleEndian.Uint32(buf[off:])
		e.hasSum = true
		off += entryChecksumSize
	}

	e.byteLen = off
	return e, nil
}

// verifyChecksum implements checkSum() from spec §4.6: recomputes and
// compares, never mutates.
func (e decodedEntry) verifyChecksum() bool {
	if !e.hasSum {
		return true
	}
	return e.checksum == crc32Checksum(e.key, e.value)
}

// crc32Checksum computes the spec §4.6 "32-bit avalanche-quality hash"
// over (key_bytes || value_bytes) using the Castagnoli table, the same
// table the teacher uses for its own header CRC in format.go.
func crc32Checksum(key, value []byte) uint32 {
	h := crc32.New(castagnoli)
	h.Write(key)   //nolint:errcheck // hash.Hash.Write never errors
	h.Write(value) //nolint:errcheck
	return h.Sum32()
}

// rewriteChecksum overwrites the trailing checksum of an already-encoded
// entry in place, for updateChecksum() (spec §4.6) after a raw in-place
// value mutation.
func rewriteChecksum(buf []byte, e decodedEntry) {
	if !e.hasSum {
		return
	}
	sum := crc32Checksum(e.key, e.value)
	binary.LittleEndian.PutUint32(buf[e.byteLen-entryChecksumSize:], sum)
}
