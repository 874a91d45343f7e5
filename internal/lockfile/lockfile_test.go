package lockfile

import (
	"bufio"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLockAcquisition(t *testing.T) {
	tempDir := t.TempDir()

	lock, err := AcquireLock(tempDir)
	if err != nil {
		t.Fatalf("Failed to acquire lock: %v", err)
	}
	defer lock.Release()

	lockPath := filepath.Join(tempDir, LockFileName)
	if lock.Path() != lockPath {
		t.Errorf("expected lock path %s, got %s", lockPath, lock.Path())
	}

	f, err := os.Open(lockPath)
	if err != nil {
		t.Fatalf("Failed to open lock file: %v", err)
	}
	defer f.Close()
	owner := parseOwner(bufio.NewScanner(f))
	if owner.PID != os.Getpid() {
		t.Errorf("expected owner PID %d, got %d", os.Getpid(), owner.PID)
	}
	if time.Since(owner.StartedAt) > time.Minute {
		t.Errorf("unexpected start time %v", owner.StartedAt)
	}
}

func TestLockConflict(t *testing.T) {
	tempDir := t.TempDir()

	lock1, err := AcquireLock(tempDir)
	if err != nil {
		t.Fatalf("Failed to acquire first lock: %v", err)
	}
	defer lock1.Release()

	lock2, err := AcquireLock(tempDir)
	if err == nil {
		lock2.Release()
		t.Fatalf("Second lock acquisition should have failed")
	}

	var lockErr *LockError
	if !errors.As(err, &lockErr) {
		t.Fatalf("Expected LockError, got: %T", err)
	}
	if lockErr.Owner.PID != os.Getpid() {
		t.Errorf("conflict should report the holder's PID, got %d", lockErr.Owner.PID)
	}

	errMsg := err.Error()
	if !strings.Contains(errMsg, "another CalorieCoach instance") {
		t.Errorf("Error message should mention another instance: %s", errMsg)
	}
	if !strings.Contains(errMsg, tempDir) {
		t.Errorf("Error message should contain the lock path: %s", errMsg)
	}
	if !strings.Contains(errMsg, "(running)") {
		t.Errorf("Error message should report the owner as running: %s", errMsg)
	}
}

func TestLockRelease(t *testing.T) {
	tempDir := t.TempDir()

	lock, err := AcquireLock(tempDir)
	if err != nil {
		t.Fatalf("Failed to acquire lock: %v", err)
	}

	lockPath := filepath.Join(tempDir, LockFileName)
	if _, err := os.Stat(lockPath); os.IsNotExist(err) {
		t.Errorf("Lock file should exist before release: %s", lockPath)
	}

	if err := lock.Release(); err != nil {
		t.Errorf("Failed to release lock: %v", err)
	}
	if _, err := os.Stat(lockPath); !os.IsNotExist(err) {
		t.Errorf("Lock file should be removed after release: %s", lockPath)
	}

	if err := lock.Release(); err != nil {
		t.Errorf("Multiple releases should be safe: %v", err)
	}
}

func TestLockReacquisition(t *testing.T) {
	tempDir := t.TempDir()

	lock1, err := AcquireLock(tempDir)
	if err != nil {
		t.Fatalf("Failed to acquire first lock: %v", err)
	}
	lock1.Release()

	lock2, err := AcquireLock(tempDir)
	if err != nil {
		t.Fatalf("Failed to reacquire lock after release: %v", err)
	}
	defer lock2.Release()
}

func TestStaleLockFileIsReused(t *testing.T) {
	tempDir := t.TempDir()
	lockPath := filepath.Join(tempDir, LockFileName)
	if err := os.WriteFile(lockPath, []byte("pid=999999\nstarted=2020-01-01T00:00:00Z\n"), 0644); err != nil {
		t.Fatalf("write stale lock: %v", err)
	}

	lock, err := AcquireLock(tempDir)
	if err != nil {
		t.Fatalf("a leftover file without a held flock must not block: %v", err)
	}
	defer lock.Release()

	data, err := os.ReadFile(lockPath)
	if err != nil {
		t.Fatalf("read lock: %v", err)
	}
	if strings.Contains(string(data), "999999") {
		t.Errorf("stale owner should be overwritten, got %q", data)
	}
}

func TestParseOwner(t *testing.T) {
	tests := []struct {
		name    string
		content string
		pid     int
		started bool
	}{
		{"pid and start", "pid=12345\nstarted=2025-03-01T10:00:00Z\n", 12345, true},
		{"pid with extra content", "pid=67890\nother=info", 67890, false},
		{"no pid", "other=info", 0, false},
		{"empty content", "", 0, false},
		{"invalid pid", "pid=abc\nstarted=yesterday", 0, false},
		{"no equals", "pid12345", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := parseOwner(bufio.NewScanner(strings.NewReader(tt.content)))
			if o.PID != tt.pid {
				t.Errorf("PID = %d, want %d", o.PID, tt.pid)
			}
			if o.StartedAt.IsZero() == tt.started {
				t.Errorf("StartedAt = %v, want set=%v", o.StartedAt, tt.started)
			}
		})
	}
}

func TestOwnerString(t *testing.T) {
	if got := (Owner{}).String(); got != "unknown process" {
		t.Errorf("unexpected zero owner string %q", got)
	}
	self := Owner{PID: os.Getpid()}
	if got := self.String(); !strings.HasSuffix(got, "(running)") {
		t.Errorf("own process should be running: %q", got)
	}
}

func TestIsProcessRunning(t *testing.T) {
	if !isProcessRunning(os.Getpid()) {
		t.Errorf("Our own process should be detected as running")
	}
	if isProcessRunning(999999) {
		t.Logf("High PID detected as running (unexpected but not necessarily wrong)")
	}
}

func TestNonExistentDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "state", "nested")

	lock, err := AcquireLock(dir)
	if err != nil {
		t.Fatalf("Should be able to create directory and acquire lock: %v", err)
	}
	defer lock.Release()

	if _, err := os.Stat(dir); os.IsNotExist(err) {
		t.Errorf("Directory should have been created: %s", dir)
	}
}
