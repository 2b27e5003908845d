package cmap

import (
	"crypto/rand"
	"fmt"
	"math"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"

	internalfs "github.com/concurrentmap/cmap/internal/fs"
)

// region is the Memory Region Manager: it owns the mapped byte window and
// the backing file descriptor (if any) and provides the linear addressable
// byte slice every other component indexes into.
type region struct {
	data []byte
	fd   int             // -1 for anonymous regions
	file internalfs.File // kept alive so its finalizer never closes fd out from under the mapping
	path string
	size uint64
}

// createRegion creates a new backing file (or anonymous mapping) of the
// given size and maps it. For file-backed regions it writes to a temp file
// in the same directory and renames into place, so a crash mid-creation
// never leaves a half-written file at path (grounded on the teacher's
// createNewCache temp+rename dance in open.go). File management (create,
// truncate, rename, cleanup) goes through fsys so callers can exercise
// fault injection during region creation; the mmap itself always operates
// on the raw descriptor, outside fsys's scope.
func createRegion(fsys internalfs.FS, path string, size uint64) (*region, error) {
	if size > maxRegionSizeBytes {
		return nil, fmt.Errorf("region size %d exceeds limit %d: %w", size, maxRegionSizeBytes, ErrInvalidInput)
	}

	if path == "" {
		return createAnonymousRegion(size)
	}

	dir := filepath.Dir(path)

	var suffix [8]byte
	if _, err := rand.Read(suffix[:]); err != nil {
		return nil, fmt.Errorf("generate temp suffix: %w", ErrIO)
	}

	tmpPath := filepath.Join(dir, fmt.Sprintf(".%s.%x.tmp", filepath.Base(path), suffix))

	f, err := fsys.OpenFile(tmpPath, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return nil, fmt.Errorf("create temp region file: %w", ErrIO)
	}

	if err := f.Truncate(int64(size)); err != nil {
		f.Close()
		fsys.Remove(tmpPath)
		return nil, fmt.Errorf("truncate region file: %w", ErrIO)
	}

	if err := fsys.Rename(tmpPath, path); err != nil {
		f.Close()
		fsys.Remove(tmpPath)
		return nil, fmt.Errorf("rename region file into place: %w", ErrIO)
	}

	return mapFile(f, path, size)
}

// openRegion opens an existing backing file and maps it at its current
// size. The caller is responsible for validating the header afterward.
func openRegion(fsys internalfs.FS, path string) (*region, error) {
	f, err := fsys.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open region file: %w", ErrIO)
	}

	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat region file: %w", ErrIO)
	}

	size := st.Size()
	if size < headerSize {
		f.Close()
		return nil, fmt.Errorf("region file smaller than header: %w", ErrCorrupt)
	}

	return mapFile(f, path, uint64(size))
}

func mapFile(f internalfs.File, path string, size uint64) (*region, error) {
	if size > uint64(math.MaxInt) {
		f.Close()
		return nil, fmt.Errorf("region size %d not representable as a Go slice length: %w", size, ErrInvalidInput)
	}

	fd := int(f.Fd())

	data, err := unix.Mmap(fd, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("mmap: %w", err)
	}

	return &region{data: data, fd: fd, file: f, path: path, size: size}, nil
}

func createAnonymousRegion(size uint64) (*region, error) {
	if size > uint64(math.MaxInt) {
		return nil, fmt.Errorf("region size %d not representable as a Go slice length: %w", size, ErrInvalidInput)
	}

	data, err := unix.Mmap(-1, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_ANON)
	if err != nil {
		return nil, fmt.Errorf("anonymous mmap: %w", err)
	}

	return &region{data: data, fd: -1, path: "", size: size}, nil
}

// grow extends a file-backed region to newSize and remaps it. Used only
// when bloat-factor growth (§4.4) needs a larger extra-tier pool than the
// file currently provides; the region lock (store-level write lock on all
// segments) must be held by the caller.
func (r *region) grow(newSize uint64) error {
	if r.fd < 0 {
		return fmt.Errorf("cannot grow anonymous region: %w", ErrInvalidInput)
	}

	if newSize > maxRegionSizeBytes {
		return fmt.Errorf("grown region size %d exceeds limit: %w", newSize, ErrInvalidInput)
	}

	if err := unix.Ftruncate(r.fd, int64(newSize)); err != nil {
		return fmt.Errorf("truncate region file: %w", ErrIO)
	}

	if err := unix.Munmap(r.data); err != nil {
		return fmt.Errorf("munmap during grow: %w", ErrIO)
	}

	data, err := unix.Mmap(r.fd, 0, int(newSize), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return fmt.Errorf("remap during grow: %w", ErrIO)
	}

	r.data = data
	r.size = newSize
	return nil
}

// flush best-effort syncs the mapped pages to the backing file. No-op for
// anonymous regions.
func (r *region) flush() error {
	if r.fd < 0 {
		return nil
	}
	if err := unix.Msync(r.data, unix.MS_SYNC); err != nil {
		return fmt.Errorf("msync: %w", err)
	}
	return nil
}

// flushRange syncs only [offset, offset+length), rounded to page
// boundaries by the kernel, instead of the whole region. No code path in
// this package calls it.
func (r *region) flushRange(offset, length uint64) error {
	if r.fd < 0 {
		return nil
	}
	if offset+length > uint64(len(r.data)) {
		return fmt.Errorf("flush range out of bounds: %w", ErrInvalidInput)
	}
	if err := unix.Msync(r.data[offset:offset+length], unix.MS_SYNC); err != nil {
		return fmt.Errorf("msync range: %w", err)
	}
	return nil
}

// close unmaps the region and closes the file descriptor. Underlying bytes
// persist for file-backed regions (spec §3 Close).
func (r *region) close() error {
	if r.data == nil {
		return nil
	}

	err := unix.Munmap(r.data)
	r.data = nil

	if r.file != nil {
		if cerr := r.file.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}

	if err != nil {
		return fmt.Errorf("close region: %w", ErrIO)
	}
	return nil
}
