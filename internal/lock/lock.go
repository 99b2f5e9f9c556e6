// Package lock provides an advisory file lock so two scheduled runs never
// drive the same state store at once.
package lock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// ErrLocked means another process holds the lock.
var ErrLocked = errors.New("lock held by another process")

// FileLock is a non-blocking flock on a file that records the holder's PID.
type FileLock struct {
	path string
	file *os.File
}

// New returns an unacquired lock on path.
func New(path string) *FileLock {
	return &FileLock{path: path}
}

// Path returns the lock file path.
func (fl *FileLock) Path() string { return fl.path }

// TryLock acquires the lock or fails immediately. Contention wraps ErrLocked.
func (fl *FileLock) TryLock() error {
	if fl.file != nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(fl.path), 0o755); err != nil {
		return fmt.Errorf("create lock dir: %w", err)
	}
	f, err := os.OpenFile(fl.path, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return fmt.Errorf("open lock file: %w", err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		holder := readPID(f)
		_ = f.Close()
		if errors.Is(err, syscall.EWOULDBLOCK) {
			if holder > 0 {
				return fmt.Errorf("%w (pid %d, %s)", ErrLocked, holder, fl.path)
			}
			return fmt.Errorf("%w (%s)", ErrLocked, fl.path)
		}
		return fmt.Errorf("acquire lock: %w", err)
	}

	if err := writePID(f); err != nil {
		_ = syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
		_ = f.Close()
		return err
	}

	fl.file = f
	return nil
}

// Unlock releases the lock and removes the file. It is safe to call on an
// unacquired lock.
func (fl *FileLock) Unlock() error {
	if fl.file == nil {
		return nil
	}
	f := fl.file
	fl.file = nil

	// Remove before releasing so a waiter never locks an unlinked inode.
	_ = os.Remove(fl.path)
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_UN); err != nil {
		_ = f.Close()
		return fmt.Errorf("release lock: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close lock file: %w", err)
	}
	return nil
}

func writePID(f *os.File) error {
	if err := f.Truncate(0); err != nil {
		return fmt.Errorf("truncate lock file: %w", err)
	}
	if _, err := f.Seek(0, 0); err != nil {
		return fmt.Errorf("seek lock file: %w", err)
	}
	if _, err := fmt.Fprintf(f, "%d\n", os.Getpid()); err != nil {
		return fmt.Errorf("write PID to lock file: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("sync lock file: %w", err)
	}
	return nil
}

func readPID(f *os.File) int {
	buf := make([]byte, 32)
	n, _ := f.ReadAt(buf, 0)
	pid, err := strconv.Atoi(strings.TrimSpace(string(buf[:n])))
	if err != nil {
		return 0
	}
	return pid
}
