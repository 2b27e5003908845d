package fs

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"testing"
)

// =============================================================================
// Chaos FS Tests
//
// These tests verify the Chaos wrapper works correctly:
//   - Injects faults when enabled
//   - Passes through to underlying FS when disabled
//   - Stats are counted correctly
//   - chaosFile intercepts Read/Write/Truncate operations
//
// We're testing OUR code (Chaos), not the underlying FS.
// =============================================================================

// -----------------------------------------------------------------------------
// Fault Injection Tests - "Does Chaos inject faults when enabled?"
// -----------------------------------------------------------------------------

func TestChaos_InjectsWriteFault(t *testing.T) {
	realFS := NewReal()
	chaosFS := NewChaos(realFS, 12345, ChaosConfig{WriteFailRate: 1.0})

	dir := t.TempDir()
	path := filepath.Join(dir, "test.txt")

	err := chaosFS.WriteFileAtomic(path, []byte("hello"), 0644)

	var pathErr *os.PathError
	if got, want := errors.As(err, &pathErr), true; got != want {
		t.Fatalf("err should be *os.PathError, got %T (%v)", err, err)
	}
}

func TestChaos_InjectsReadFault(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.txt")
	realFS := NewReal()
	realFS.WriteFileAtomic(path, []byte("hello"), 0644)

	chaosFS := NewChaos(realFS, 12345, ChaosConfig{ReadFailRate: 1.0})

	_, err := chaosFS.ReadFile(path)

	var pathErr *os.PathError
	if got, want := errors.As(err, &pathErr), true; got != want {
		t.Fatalf("err should be *os.PathError, got %T (%v)", err, err)
	}
}

func TestChaos_InjectsOpenFault(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.txt")

	realFS := NewReal()
	realFS.WriteFileAtomic(path, []byte("hello"), 0644)

	chaosFS := NewChaos(realFS, 12345, ChaosConfig{OpenFailRate: 1.0})

	_, err := chaosFS.Open(path)

	var pathErr *os.PathError
	if got, want := errors.As(err, &pathErr), true; got != want {
		t.Fatalf("Open err should be *os.PathError, got %T", err)
	}

	_, err = chaosFS.Create(filepath.Join(dir, "new.txt"))
	if got, want := errors.As(err, &pathErr), true; got != want {
		t.Fatalf("Create err should be *os.PathError, got %T", err)
	}
}

// TestChaos_InjectsLockFault verifies that with 100% LockFailRate, Lock()
// fails with os.ErrDeadlineExceeded (the same error [Real.Lock] returns on a
// real acquisition timeout).
func TestChaos_InjectsLockFault(t *testing.T) {
	realFS := NewReal()
	chaosFS := NewChaos(realFS, 12345, ChaosConfig{LockFailRate: 1.0})

	dir := t.TempDir()
	path := filepath.Join(dir, "data.txt")

	_, err := chaosFS.Lock(path)

	if got, want := errors.Is(err, os.ErrDeadlineExceeded), true; got != want {
		t.Fatalf("err=%v, want os.ErrDeadlineExceeded", err)
	}

	if got, want := IsInjected(err), true; got != want {
		t.Errorf("IsInjected(err)=%v, want true", got)
	}
}

func TestChaos_InjectsTruncateFault(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.txt")
	realFS := NewReal()
	realFS.WriteFileAtomic(path, []byte("hello"), 0644)

	chaosFS := NewChaos(realFS, 12345, ChaosConfig{TruncateFailRate: 1.0})

	f, err := chaosFS.OpenFile(path, os.O_RDWR, 0644)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	defer f.Close()

	err = f.Truncate(1024)

	var pathErr *os.PathError
	if got, want := errors.As(err, &pathErr), true; got != want {
		t.Fatalf("Truncate err should be *os.PathError, got %T (%v)", err, err)
	}
}

// -----------------------------------------------------------------------------
// Error Compatibility Tests - "Do chaos errors work with errors.Is()?"
// -----------------------------------------------------------------------------

func TestChaos_ErrorsWorkWithErrorsIs(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.txt")
	realFS := NewReal()
	realFS.WriteFileAtomic(path, []byte("hello"), 0644)

	t.Run("WriteError", func(t *testing.T) {
		chaosFS := NewChaos(realFS, 0, ChaosConfig{WriteFailRate: 1.0})

		err := chaosFS.WriteFileAtomic(path, []byte("x"), 0644)

		var pathErr *os.PathError
		if got, want := errors.As(err, &pathErr), true; got != want {
			t.Fatalf("should be *os.PathError, got %T", err)
		}

		var errno syscall.Errno
		if got, want := errors.As(pathErr.Err, &errno), true; got != want {
			t.Fatalf("underlying error should be syscall.Errno, got %T", pathErr.Err)
		}
	})

	t.Run("ReadError", func(t *testing.T) {
		chaosFS := NewChaos(realFS, 0, ChaosConfig{ReadFailRate: 1.0})

		_, err := chaosFS.ReadFile(path)

		var pathErr *os.PathError
		if got, want := errors.As(err, &pathErr), true; got != want {
			t.Fatalf("should be *os.PathError, got %T", err)
		}

		var errno syscall.Errno
		if got, want := errors.As(pathErr.Err, &errno), true; got != want {
			t.Fatalf("underlying error should be syscall.Errno, got %T", pathErr.Err)
		}
	})

	t.Run("LockError", func(t *testing.T) {
		chaosFS := NewChaos(realFS, 0, ChaosConfig{LockFailRate: 1.0})

		_, err := chaosFS.Lock(path)

		if got, want := errors.Is(err, os.ErrDeadlineExceeded), true; got != want {
			t.Fatalf("should be os.ErrDeadlineExceeded, got %v", err)
		}
	})
}

// -----------------------------------------------------------------------------
// Pass-Through Tests - "Does Chaos behave like Real when disabled?"
// -----------------------------------------------------------------------------

func TestChaos_PassesThroughWhenDisabled(t *testing.T) {
	realFS := NewReal()
	chaosFS := NewChaos(realFS, 12345, ChaosConfig{
		ReadFailRate:  1.0,
		WriteFailRate: 1.0,
		OpenFailRate:  1.0,
		LockFailRate:  1.0,
	})
	chaosFS.SetMode(ChaosModeNoOp)

	dir := t.TempDir()
	path := filepath.Join(dir, "test.txt")

	if err := chaosFS.WriteFileAtomic(path, []byte("hello"), 0644); !errors.Is(err, nil) {
		t.Fatalf("WriteFileAtomic err=%v, want nil", err)
	}

	data, err := chaosFS.ReadFile(path)
	if !errors.Is(err, nil) {
		t.Fatalf("ReadFile err=%v, want nil", err)
	}

	if got, want := string(data), "hello"; got != want {
		t.Fatalf("content=%q, want=%q", got, want)
	}

	f, err := chaosFS.Open(path)
	if !errors.Is(err, nil) {
		t.Fatalf("Open err=%v, want nil", err)
	}
	f.Close()

	lk, err := chaosFS.Lock(path)
	if !errors.Is(err, nil) {
		t.Fatalf("Lock err=%v, want nil", err)
	}
	lk.Close()
}

func TestChaos_CanToggleModes(t *testing.T) {
	realFS := NewReal()
	chaosFS := NewChaos(realFS, 12345, ChaosConfig{WriteFailRate: 1.0})

	dir := t.TempDir()

	err := chaosFS.WriteFileAtomic(filepath.Join(dir, "1.txt"), []byte("a"), 0644)
	if got, want := err != nil, true; got != want {
		t.Fatalf("active by default: err=%v, want non-nil", err)
	}

	chaosFS.SetMode(ChaosModeNoOp)

	err = chaosFS.WriteFileAtomic(filepath.Join(dir, "2.txt"), []byte("b"), 0644)
	if !errors.Is(err, nil) {
		t.Fatalf("noop: err=%v, want nil", err)
	}

	chaosFS.SetMode(ChaosModeActive)

	err = chaosFS.WriteFileAtomic(filepath.Join(dir, "3.txt"), []byte("c"), 0644)
	if got, want := err != nil, true; got != want {
		t.Fatalf("re-activated: err=%v, want non-nil", err)
	}
}

// -----------------------------------------------------------------------------
// Stats Tests - "Are fault counts tracked correctly?"
// -----------------------------------------------------------------------------

func TestChaos_StatsCountFaults(t *testing.T) {
	realFS := NewReal()
	chaosFS := NewChaos(realFS, 12345, ChaosConfig{
		WriteFailRate: 1.0,
		ReadFailRate:  1.0,
	})

	dir := t.TempDir()
	path := filepath.Join(dir, "test.txt")
	realFS.WriteFileAtomic(path, []byte("hello"), 0644)

	chaosFS.WriteFileAtomic(path, []byte("x"), 0644)
	chaosFS.WriteFileAtomic(path, []byte("y"), 0644)
	chaosFS.ReadFile(path)

	stats := chaosFS.Stats()

	if got, want := stats.WriteFails, int64(2); got != want {
		t.Errorf("WriteFails=%d, want=%d", got, want)
	}

	if got, want := stats.ReadFails, int64(1); got != want {
		t.Errorf("ReadFails=%d, want=%d", got, want)
	}
}

func TestChaos_TotalFaults(t *testing.T) {
	realFS := NewReal()
	chaosFS := NewChaos(realFS, 12345, ChaosConfig{
		WriteFailRate:  1.0,
		RemoveFailRate: 1.0,
		LockFailRate:   1.0,
	})

	dir := t.TempDir()

	chaosFS.WriteFileAtomic(filepath.Join(dir, "a.txt"), []byte("x"), 0644)
	chaosFS.Remove(filepath.Join(dir, "b.txt"))
	chaosFS.Lock(filepath.Join(dir, "c.lock"))

	if got, want := chaosFS.TotalFaults(), int64(3); got != want {
		t.Errorf("TotalFaults=%d, want=%d", got, want)
	}
}

func TestChaos_StatsNotCountedWhenDisabled(t *testing.T) {
	realFS := NewReal()
	chaosFS := NewChaos(realFS, 12345, ChaosConfig{WriteFailRate: 1.0})
	chaosFS.SetMode(ChaosModeNoOp)

	dir := t.TempDir()
	chaosFS.WriteFileAtomic(filepath.Join(dir, "test.txt"), []byte("x"), 0644)

	if got, want := chaosFS.Stats().WriteFails, int64(0); got != want {
		t.Errorf("WriteFails=%d, want=%d (should not count when disabled)", got, want)
	}
}

// -----------------------------------------------------------------------------
// chaosFile Tests - "Does the File wrapper intercept Read/Write/Truncate?"
// -----------------------------------------------------------------------------

func TestChaosFile_InterceptsRead(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.txt")

	realFS := NewReal()
	realFS.WriteFileAtomic(path, []byte("hello world"), 0644)

	chaosFS := NewChaos(realFS, 12345, ChaosConfig{ReadFailRate: 1.0})

	f, err := chaosFS.Open(path)
	if !errors.Is(err, nil) {
		t.Fatalf("Open err=%v, want nil", err)
	}
	defer f.Close()

	buf := make([]byte, 100)
	_, err = f.Read(buf)

	var pathErr *os.PathError
	if got, want := errors.As(err, &pathErr), true; got != want {
		t.Fatalf("Read err should be *os.PathError, got %T", err)
	}
}

func TestChaosFile_InterceptsWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.txt")

	realFS := NewReal()
	chaosFS := NewChaos(realFS, 12345, ChaosConfig{WriteFailRate: 1.0})

	f, err := chaosFS.Create(path)
	if !errors.Is(err, nil) {
		t.Fatalf("Create err=%v, want nil", err)
	}
	defer f.Close()

	_, err = f.Write([]byte("hello"))

	var pathErr *os.PathError
	if got, want := errors.As(err, &pathErr), true; got != want {
		t.Fatalf("Write err should be *os.PathError, got %T", err)
	}
}

func TestChaosFile_InterceptsTruncate(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.txt")

	realFS := NewReal()
	chaosFS := NewChaos(realFS, 12345, ChaosConfig{TruncateFailRate: 1.0})

	f, err := chaosFS.Create(path)
	if !errors.Is(err, nil) {
		t.Fatalf("Create err=%v, want nil", err)
	}
	defer f.Close()

	err = f.Truncate(4096)

	var pathErr *os.PathError
	if got, want := errors.As(err, &pathErr), true; got != want {
		t.Fatalf("Truncate err should be *os.PathError, got %T", err)
	}
}

func TestChaosFile_PassesThroughFd(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.txt")

	realFS := NewReal()
	chaosFS := NewChaos(realFS, 12345, DefaultChaosConfig())
	chaosFS.SetMode(ChaosModeNoOp)

	realF, _ := realFS.Create(path)
	realFd := realF.Fd()
	realF.Close()

	chaosF, _ := chaosFS.Open(path)
	chaosFd := chaosF.Fd()
	chaosF.Close()

	if got, want := realFd != 0, true; got != want {
		t.Fatalf("realFd=%d, want non-zero", realFd)
	}

	if got, want := chaosFd != 0, true; got != want {
		t.Fatalf("chaosFd=%d, want non-zero", chaosFd)
	}
}

func TestChaosFile_PassesThroughSeek(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.txt")

	realFS := NewReal()
	realFS.WriteFileAtomic(path, []byte("hello world"), 0644)

	chaosFS := NewChaos(realFS, 12345, ChaosConfig{})

	f, _ := chaosFS.Open(path)
	defer f.Close()

	pos, err := f.Seek(6, io.SeekStart)
	if !errors.Is(err, nil) {
		t.Fatalf("Seek err=%v, want nil", err)
	}

	if got, want := pos, int64(6); got != want {
		t.Fatalf("Seek pos=%d, want=%d", got, want)
	}

	buf := make([]byte, 5)
	n, _ := f.Read(buf)

	if got, want := string(buf[:n]), "world"; got != want {
		t.Fatalf("Read after Seek=%q, want=%q", got, want)
	}
}

// -----------------------------------------------------------------------------
// ENOENT semantics - "Chaos never manufactures a missing-file result."
// -----------------------------------------------------------------------------

func TestChaos_OpenFault_NeverENOENT_ForExistingFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "exists.txt")

	realFS := NewReal()
	realFS.WriteFileAtomic(path, []byte("hello"), 0644)

	for seed := range int64(100) {
		chaosFS := NewChaos(realFS, seed, ChaosConfig{OpenFailRate: 1.0})

		_, err := chaosFS.Open(path)
		if errors.Is(err, syscall.ENOENT) {
			t.Fatalf("seed=%d: got ENOENT for existing file!", seed)
		}
	}
}

func TestChaos_ReadErrors_NoENOENT(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.txt")
	realFS := NewReal()
	realFS.WriteFileAtomic(path, []byte("hello"), 0644)

	for seed := range int64(100) {
		chaosFS := NewChaos(realFS, seed, ChaosConfig{ReadFailRate: 1.0})

		_, err := chaosFS.ReadFile(path)
		if errors.Is(err, syscall.ENOENT) {
			t.Fatalf("seed=%d: got ENOENT on read of existing file!", seed)
		}
	}
}

// -----------------------------------------------------------------------------
// Concurrency - "Is Chaos safe for concurrent use across goroutines?"
// -----------------------------------------------------------------------------

func TestChaos_ConcurrentUse(t *testing.T) {
	dir := t.TempDir()
	realFS := NewReal()
	chaosFS := NewChaos(realFS, 12345, ChaosConfig{WriteFailRate: 0.5, ReadFailRate: 0.5})

	for i := range 10 {
		path := filepath.Join(dir, "file"+string(rune('0'+i))+".txt")
		realFS.WriteFileAtomic(path, []byte("test"), 0644)
	}

	var wg sync.WaitGroup
	for i := range 10 {
		wg.Add(1)

		go func(id int) {
			defer wg.Done()

			path := filepath.Join(dir, "file"+string(rune('0'+id))+".txt")
			for range 100 {
				chaosFS.WriteFileAtomic(path, []byte("x"), 0644)
				chaosFS.ReadFile(path)
			}
		}(i)
	}

	wg.Wait()
	// Test passes if the race detector and panic recovery stay quiet.
}

// -----------------------------------------------------------------------------
// Partial I/O - "Do partial reads/writes behave like a flaky disk?"
// -----------------------------------------------------------------------------

func TestChaos_PartialReadReturnsSubset(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.txt")

	content := []byte("hello world this is a test")
	realFS := NewReal()
	realFS.WriteFileAtomic(path, content, 0644)

	chaosFS := NewChaos(realFS, 12345, ChaosConfig{PartialReadRate: 1.0})

	data, err := chaosFS.ReadFile(path)
	if !errors.Is(err, syscall.EIO) {
		t.Fatalf("err=%v, want injected EIO with the partial data", err)
	}

	if got, want := bytes.HasPrefix(content, data), true; got != want {
		t.Fatalf("partial read should be prefix\noriginal: %q\ngot: %q", content, data)
	}

	if got, want := len(data) < len(content), true; got != want {
		t.Fatalf("len(data)=%d, want less than %d", len(data), len(content))
	}
}

// TestChaos_WriteFileAtomic_LeavesDestinationUntouchedOnFailure verifies the
// temp-file-and-rename dance in [Chaos.WriteFileAtomic]: any fault injected
// along the way (open, write, sync, rename) must never leave a partial or
// corrupt file at the destination path, and never leaks the temp file.
func TestChaos_WriteFileAtomic_LeavesDestinationUntouchedOnFailure(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.txt")

	content := []byte("hello world this is a test")
	realFS := NewReal()
	realFS.WriteFileAtomic(path, content, 0644)

	chaosFS := NewChaos(realFS, 12345, ChaosConfig{PartialWriteRate: 1.0})

	err := chaosFS.WriteFileAtomic(path, []byte("replacement content"), 0644)

	var pathErr *os.PathError
	if got, want := errors.As(err, &pathErr), true; got != want {
		t.Fatalf("err should be *os.PathError, got %T (%v)", err, err)
	}

	data, rerr := realFS.ReadFile(path)
	if !errors.Is(rerr, nil) {
		t.Fatalf("ReadFile err=%v, want nil", rerr)
	}

	if got, want := string(data), string(content); got != want {
		t.Fatalf("destination content=%q, want untouched original %q", got, want)
	}

	entries, err := realFS.ReadDir(dir)
	if !errors.Is(err, nil) {
		t.Fatalf("ReadDir err=%v, want nil", err)
	}

	if got, want := len(entries), 1; got != want {
		t.Fatalf("dir entries=%d, want %d (temp file leaked)", got, want)
	}
}
