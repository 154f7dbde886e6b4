package lock

import (
	"fmt"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// pollInterval is how often a blocked acquirer re-tries the flock.
const pollInterval = 50 * time.Millisecond

// fileLock is an exclusive advisory lock on a filesystem path, taken with
// flock(2). flock locks belong to the open file description, so a fresh
// open per acquisition never self-contends with other handles held
// elsewhere in the same process.
//
// Advisory locks require local filesystem semantics. On network mounts
// flock may silently not enforce mutual exclusion.
type fileLock struct {
	path string
	file *os.File
}

func newFileLock(path string) *fileLock {
	return &fileLock{path: path}
}

// tryAcquire attempts a non-blocking acquisition. It returns false without
// error when the lock is held elsewhere.
func (l *fileLock) tryAcquire() (bool, error) {
	if l.file != nil {
		return false, fmt.Errorf("lock %s already held by this handle", l.path)
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return false, fmt.Errorf("open lock file %s: %w", l.path, err)
	}
	err = unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
	if err != nil {
		f.Close()
		if err == unix.EWOULDBLOCK || err == unix.EAGAIN {
			return false, nil
		}
		return false, fmt.Errorf("flock %s: %w", l.path, err)
	}
	l.file = f
	l.writeHolder()
	return true, nil
}

// acquire blocks up to timeout, polling every 50ms. It returns false when
// the deadline passes without acquisition.
func (l *fileLock) acquire(timeout time.Duration) (bool, error) {
	deadline := time.Now().Add(timeout)
	for {
		ok, err := l.tryAcquire()
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
		if time.Now().After(deadline) {
			return false, nil
		}
		time.Sleep(pollInterval)
	}
}

// release drops the lock and closes the underlying file. Safe to call when
// not held.
func (l *fileLock) release() error {
	if l.file == nil {
		return nil
	}
	f := l.file
	l.file = nil
	if err := unix.Flock(int(f.Fd()), unix.LOCK_UN); err != nil {
		f.Close()
		return fmt.Errorf("unlock %s: %w", l.path, err)
	}
	return f.Close()
}

func (l *fileLock) held() bool { return l.file != nil }

// writeHolder records the holder's pid and acquisition time for diagnostics.
// Correctness never depends on this content.
func (l *fileLock) writeHolder() {
	if l.file == nil {
		return
	}
	l.file.Truncate(0)
	l.file.Seek(0, 0)
	fmt.Fprintf(l.file, "pid=%d acquired=%s\n", os.Getpid(), time.Now().UTC().Format(time.RFC3339))
	l.file.Sync()
}
