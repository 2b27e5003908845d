package cmap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_WriteHeader_Then_NewHeaderView_Is_Sane(t *testing.T) {
	t.Parallel()

	cfg := configBlob{
		segments:          4,
		entriesPerSegment: 100,
		hashAlg:           hashAlgFNV1a64,
		maxBloatFactorE4:  10000,
	}

	buf := make([]byte, headerSize)
	writeHeader(buf, cfg, libraryStamp, 1234)

	h := newHeaderView(buf)
	require.True(t, h.sane())
	assert.Equal(t, formatMagic, h.magic())
	assert.EqualValues(t, formatVersion, h.version())
	assert.EqualValues(t, 1234, h.creationEpochMs())
	assert.Equal(t, cfg, h.config())
}

func Test_Header_Sane_Returns_False_When_Magic_Corrupted(t *testing.T) {
	t.Parallel()

	buf := make([]byte, headerSize)
	writeHeader(buf, configBlob{segments: 1, entriesPerSegment: 1}, libraryStamp, 0)

	buf[offMagic] = 'X'
	h := newHeaderView(buf)
	assert.False(t, h.sane())
}

func Test_Header_Sane_Returns_False_When_CRC_Does_Not_Match(t *testing.T) {
	t.Parallel()

	buf := make([]byte, headerSize)
	writeHeader(buf, configBlob{segments: 1, entriesPerSegment: 1}, libraryStamp, 0)

	buf[offLibStamp] ^= 0xFF
	h := newHeaderView(buf)
	assert.False(t, h.sane())
}

func Test_Header_Sane_Returns_False_When_Segments_Field_Out_Of_Range(t *testing.T) {
	t.Parallel()

	buf := make([]byte, headerSize)
	writeHeader(buf, configBlob{segments: 0, entriesPerSegment: 1}, libraryStamp, 0)

	h := newHeaderView(buf)
	assert.False(t, h.sane())
}
