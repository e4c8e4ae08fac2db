// Package lock implements the single-instance PID lock file the
// scheduler daemon uses (C14): the file holds the current process's PID;
// a live PID already present denies a second start, per spec.md §4.14.
package lock

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
)

// ErrAlreadyRunning is returned when the lock file names a PID that is
// still alive.
var ErrAlreadyRunning = fmt.Errorf("lock: another instance is already running")

// File represents an acquired PID lock. Release removes it.
type File struct {
	path string
}

// Acquire reads path, if present: if it names a live PID, returns
// ErrAlreadyRunning; otherwise the lock is stale and is overwritten with
// the current process's PID.
func Acquire(path string) (*File, error) {
	if err := checkExisting(path); err != nil {
		return nil, err
	}

	pid := os.Getpid()
	if err := os.WriteFile(path, []byte(strconv.Itoa(pid)), 0o644); err != nil {
		return nil, fmt.Errorf("lock: write %s: %w", path, err)
	}
	return &File{path: path}, nil
}

func checkExisting(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("lock: read %s: %w", path, err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		// Unparseable content is treated as a stale lock, not an error.
		return nil
	}

	if processAlive(pid) {
		return fmt.Errorf("lock: instance with PID %d is already running: %w", pid, ErrAlreadyRunning)
	}
	return nil
}

// processAlive reports whether pid names a live process, by sending
// signal 0 (no-op existence probe) per spec.md §4.14.
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}

// Release removes the lock file.
func (f *File) Release() error {
	if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("lock: remove %s: %w", f.path, err)
	}
	return nil
}
