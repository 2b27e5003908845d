package cmap

import (
	"os"
	"time"
)

// osStat returns the size of path, or an error if it doesn't exist. Small
// wrapper so Create's existence check has one obvious call site.
func osStat(path string) (int64, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	return fi.Size(), nil
}

// nowEpochMs is the one place a Create call reads the wall clock, so the
// header's creation timestamp is easy to audit and to stub in tests.
func nowEpochMs() int64 {
	return time.Now().UnixMilli()
}
