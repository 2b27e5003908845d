package cmap

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_EncodeEntry_Then_DecodeEntry_RoundTrips(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name     string
		key, val []byte
		checksum bool
	}{
		{"NoChecksum", []byte("key"), []byte("value"), false},
		{"WithChecksum", []byte("key"), []byte("value"), true},
		{"EmptyValue", []byte("k"), []byte{}, true},
		{"LongValue", []byte("k"), make([]byte, 5000), true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			size := encodedEntrySize(len(tc.key), len(tc.val), tc.checksum)
			buf := make([]byte, size)
			n := encodeEntry(buf, tc.key, tc.val, tc.checksum)
			require.Equal(t, size, n)

			decoded, err := decodeEntry(buf, tc.checksum)
			require.NoError(t, err)
			assert.True(t, decoded.verifyChecksum())

			// Round-tripping through a second decode of the same buffer must
			// produce a byte-for-byte identical view, not just equal key/value.
			redecoded, err := decodeEntry(buf, tc.checksum)
			require.NoError(t, err)
			if diff := cmp.Diff(decoded, redecoded, cmp.AllowUnexported(decodedEntry{})); diff != "" {
				t.Fatalf("repeated decode of the same buffer diverged (-first +second):\n%s", diff)
			}
		})
	}
}

func Test_DecodeEntry_Returns_ErrCorrupt_When_Buffer_Truncated(t *testing.T) {
	t.Parallel()

	buf := make([]byte, encodedEntrySize(3, 5, true))
	encodeEntry(buf, []byte("abc"), []byte("defgh"), true)

	_, err := decodeEntry(buf[:len(buf)-2], true)
	require.ErrorIs(t, err, ErrCorrupt)
}

func Test_DecodeEntry_Returns_ErrCorrupt_When_Checksum_Trailer_Missing(t *testing.T) {
	t.Parallel()

	size := encodedEntrySize(3, 3, false)
	buf := make([]byte, size)
	encodeEntry(buf, []byte("abc"), []byte("xyz"), false)

	_, err := decodeEntry(buf, true)
	require.ErrorIs(t, err, ErrCorrupt)
}

func Test_VerifyChecksum_Detects_Tampered_Value_Bytes(t *testing.T) {
	t.Parallel()

	buf := make([]byte, encodedEntrySize(3, 3, true))
	encodeEntry(buf, []byte("abc"), []byte("xyz"), true)

	decoded, err := decodeEntry(buf, true)
	require.NoError(t, err)
	require.True(t, decoded.verifyChecksum())

	decoded.value[0] ^= 0xFF
	assert.False(t, decoded.verifyChecksum(), "a tampered value must fail its checksum")
}

func Test_RewriteChecksum_Restores_Validity_After_InPlace_Mutation(t *testing.T) {
	t.Parallel()

	buf := make([]byte, encodedEntrySize(3, 3, true))
	encodeEntry(buf, []byte("abc"), []byte("xyz"), true)

	decoded, err := decodeEntry(buf, true)
	require.NoError(t, err)

	decoded.value[0] = 'Z'
	require.False(t, decoded.verifyChecksum())

	rewriteChecksum(buf, decoded)

	redecoded, err := decodeEntry(buf, true)
	require.NoError(t, err)
	assert.True(t, redecoded.verifyChecksum())
}
