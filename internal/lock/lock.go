// Package lock guards a task database with a PID lock file so that only one
// foreman process writes it at a time.
package lock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// ErrLocked is returned when a live process holds the lock.
var ErrLocked = errors.New("lock: held by another process")

// Suffix is appended to the database path to name its lock file.
const Suffix = ".lock"

// writeWindow is how long an empty or unreadable lock file counts as held:
// its owner may have created it and not yet written its PID.
const writeWindow = 5 * time.Second

// RunLock is a PID lock file.
type RunLock struct {
	path string
}

// ForDatabase returns the lock guarding the database at dbPath.
func ForDatabase(dbPath string) *RunLock {
	return &RunLock{path: dbPath + Suffix}
}

// Path returns the lock file path.
func (l *RunLock) Path() string {
	return l.path
}

// Acquire takes the lock. A lock left by a dead process, or one holding
// garbage for longer than the write window, is reclaimed once.
func (l *RunLock) Acquire() error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("lock: create dir: %w", err)
	}
	err := l.create()
	if err == nil || !os.IsExist(err) {
		return err
	}

	pid, fresh, err := l.holder()
	if err != nil {
		return err
	}
	if pid > 0 && processExists(pid) {
		return fmt.Errorf("%w (pid %d)", ErrLocked, pid)
	}
	if pid <= 0 && fresh {
		return fmt.Errorf("%w (lock being written)", ErrLocked)
	}
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("lock: remove stale lock: %w", err)
	}

	// One retry only.
	if err := l.create(); err != nil {
		if os.IsExist(err) {
			return fmt.Errorf("%w (acquired during retry)", ErrLocked)
		}
		return err
	}
	return nil
}

func (l *RunLock) create() error {
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return err
		}
		return fmt.Errorf("lock: create: %w", err)
	}
	_, werr := fmt.Fprintf(f, "%d", os.Getpid())
	cerr := f.Close()
	if werr != nil || cerr != nil {
		os.Remove(l.path)
		return fmt.Errorf("lock: write pid: %w", errors.Join(werr, cerr))
	}
	return nil
}

// holder returns the PID in the lock file, or 0 when it is missing or
// unreadable as one. fresh reports an unreadable file modified within the
// write window.
func (l *RunLock) holder() (pid int, fresh bool, err error) {
	data, err := os.ReadFile(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("lock: read: %w", err)
	}
	pid, perr := strconv.Atoi(strings.TrimSpace(string(data)))
	if perr == nil && pid > 0 {
		return pid, false, nil
	}
	info, err := os.Stat(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("lock: stat: %w", err)
	}
	return 0, time.Since(info.ModTime()) < writeWindow, nil
}

// Release removes the lock file. Releasing twice is fine.
func (l *RunLock) Release() error {
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("lock: release: %w", err)
	}
	return nil
}

// Holder reports the PID of the live process holding the lock, if any.
func (l *RunLock) Holder() (int, bool) {
	pid, _, err := l.holder()
	if err != nil || pid <= 0 || !processExists(pid) {
		return 0, false
	}
	return pid, true
}

// processExists checks if a process with the given PID is alive.
func processExists(pid int) bool {
	if pid == os.Getpid() {
		return true
	}
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// On Unix, FindProcess always succeeds. Signal 0 checks existence.
	return proc.Signal(syscall.Signal(0)) == nil
}
