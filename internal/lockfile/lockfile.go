// Package lockfile guards the CalorieCoach state directory with an flock so two
// processes never share the WhatsApp device store or debug log directory.
//
// The kernel drops the lock when the process exits, so a crash never leaves the
// directory locked; only the informational file contents can go stale.
package lockfile

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// LockFileName is the name of the lock file created in the state directory
const LockFileName = "caloriecoach.lock"

// Owner describes the process recorded in a lock file.
type Owner struct {
	PID       int
	StartedAt time.Time
}

// String renders the owner with its liveness.
func (o Owner) String() string {
	if o.PID <= 0 {
		return "unknown process"
	}
	state := "not running, stale lock"
	if isProcessRunning(o.PID) {
		state = "running"
	}
	if o.StartedAt.IsZero() {
		return fmt.Sprintf("PID %d (%s)", o.PID, state)
	}
	return fmt.Sprintf("PID %d started %s (%s)", o.PID, o.StartedAt.Format(time.RFC3339), state)
}

// Lock is a held state directory lock.
type Lock struct {
	file *os.File
	path string
}

// AcquireLock takes an exclusive, non-blocking lock on stateDir, creating the
// directory if needed. A held lock yields a *LockError naming the owner.
func AcquireLock(stateDir string) (*Lock, error) {
	lockPath := filepath.Join(stateDir, LockFileName)

	if err := os.MkdirAll(stateDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory %s: %w", stateDir, err)
	}

	// O_TRUNC is deferred until the lock is ours so a conflict can still read the owner.
	file, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file %s: %w", lockPath, err)
	}

	if err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		owner := readOwner(file)
		file.Close()
		slog.Error("lockfile.AcquireLock: state directory is locked", "lock_path", lockPath, "owner", owner.String(), "error", err)
		return nil, &LockError{LockPath: lockPath, Owner: owner, Cause: err}
	}

	if err := writeOwner(file, Owner{PID: os.Getpid(), StartedAt: time.Now().UTC()}); err != nil {
		_ = syscall.Flock(int(file.Fd()), syscall.LOCK_UN)
		file.Close()
		return nil, fmt.Errorf("failed to write lock information to %s: %w", lockPath, err)
	}

	slog.Info("lockfile.AcquireLock: state directory locked", "lock_path", lockPath, "pid", os.Getpid())
	return &Lock{file: file, path: lockPath}, nil
}

// Path returns the lock file path.
func (l *Lock) Path() string {
	return l.path
}

// Release unlocks and removes the lock file. Calling it again is a no-op.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	// Remove while still locked so a waiting process never sees our stale owner line.
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		slog.Warn("lockfile.Lock.Release: failed to remove lock file", "lock_path", l.path, "error", err)
	}
	unlockErr := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN)
	closeErr := l.file.Close()
	l.file = nil

	if unlockErr != nil {
		return fmt.Errorf("failed to unlock %s: %w", l.path, unlockErr)
	}
	if closeErr != nil {
		return fmt.Errorf("failed to close %s: %w", l.path, closeErr)
	}
	slog.Info("lockfile.Lock.Release: state directory unlocked", "lock_path", l.path)
	return nil
}

// LockError reports a state directory already locked by another process.
type LockError struct {
	LockPath string
	Owner    Owner
	Cause    error
}

func (e *LockError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "another CalorieCoach instance is using this state directory (lock file %s, owner %s)", e.LockPath, e.Owner)
	if e.Owner.PID > 0 && !isProcessRunning(e.Owner.PID) {
		fmt.Fprintf(&b, "; the owner is gone, remove %s if no other instance is starting", e.LockPath)
	}
	return b.String()
}

func (e *LockError) Unwrap() error {
	return e.Cause
}

func writeOwner(f *os.File, o Owner) error {
	if err := f.Truncate(0); err != nil {
		return err
	}
	if _, err := f.Seek(0, 0); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(f, "pid=%d\nstarted=%s\n", o.PID, o.StartedAt.Format(time.RFC3339)); err != nil {
		return err
	}
	if err := f.Sync(); err != nil {
		slog.Warn("lockfile.writeOwner: sync failed", "error", err)
	}
	return nil
}

// readOwner parses the key=value lines written by writeOwner. Unknown or
// malformed lines are skipped.
func readOwner(f *os.File) Owner {
	var o Owner
	if _, err := f.Seek(0, 0); err != nil {
		return o
	}
	return parseOwner(bufio.NewScanner(f))
}

func parseOwner(sc *bufio.Scanner) Owner {
	var o Owner
	for sc.Scan() {
		key, value, ok := strings.Cut(strings.TrimSpace(sc.Text()), "=")
		if !ok {
			continue
		}
		switch key {
		case "pid":
			if pid, err := strconv.Atoi(value); err == nil {
				o.PID = pid
			}
		case "started":
			if t, err := time.Parse(time.RFC3339, value); err == nil {
				o.StartedAt = t
			}
		}
	}
	return o
}

// isProcessRunning sends signal 0, which checks existence without delivering anything.
func isProcessRunning(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}
