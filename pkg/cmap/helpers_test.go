package cmap_test

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

// corruptHeaderMagic flips a byte inside the region's magic field so a
// subsequent Open must fail its header sanity check.
func corruptHeaderMagic(t *testing.T, path string) {
	t.Helper()

	f, err := os.OpenFile(path, os.O_RDWR, 0)
	require.NoError(t, err)
	defer f.Close()

	_, err = f.WriteAt([]byte{'X'}, 0)
	require.NoError(t, err)
}
