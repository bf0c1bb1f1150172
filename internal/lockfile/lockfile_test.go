package lockfile

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLockAcquisition(t *testing.T) {
	tempDir := t.TempDir()

	lock, err := AcquireLock(tempDir, RoleDaemon)
	if err != nil {
		t.Fatalf("Failed to acquire lock: %v", err)
	}
	defer lock.Release()

	lockPath := filepath.Join(tempDir, FileName(RoleDaemon))
	if lock.Path() != lockPath {
		t.Errorf("Path() = %s, want %s", lock.Path(), lockPath)
	}

	info, err := ReadInfo(lockPath)
	if err != nil {
		t.Fatalf("Failed to read lock info: %v", err)
	}
	if info.PID != os.Getpid() {
		t.Errorf("Lock PID = %d, want %d", info.PID, os.Getpid())
	}
	if info.Role != RoleDaemon {
		t.Errorf("Lock role = %q, want %q", info.Role, RoleDaemon)
	}
	if info.StartedAt.IsZero() {
		t.Error("Lock start time not recorded")
	}
}

func TestLockConflict(t *testing.T) {
	tempDir := t.TempDir()

	lock1, err := AcquireLock(tempDir, RoleSweep)
	if err != nil {
		t.Fatalf("Failed to acquire first lock: %v", err)
	}
	defer lock1.Release()

	lock2, err := AcquireLock(tempDir, RoleSweep)
	if err == nil {
		lock2.Release()
		t.Fatalf("Second lock acquisition should have failed")
	}
	if !IsLocked(err) {
		t.Errorf("Expected LockError, got: %T", err)
	}

	errMsg := err.Error()
	if !strings.Contains(errMsg, "another TrainTrack sweep process") {
		t.Errorf("Error message should name the role: %s", errMsg)
	}
	if !strings.Contains(errMsg, tempDir) {
		t.Errorf("Error message should contain the lock path: %s", errMsg)
	}
	if !strings.Contains(errMsg, "(running)") {
		t.Errorf("Error message should describe the running holder: %s", errMsg)
	}

	// the failed attempt must not clobber the holder's info
	info, err := ReadInfo(lock1.Path())
	if err != nil || info.PID != os.Getpid() {
		t.Errorf("Holder info lost after failed attempt: %+v, %v", info, err)
	}
}

func TestLocksArePerRole(t *testing.T) {
	tempDir := t.TempDir()

	daemon, err := AcquireLock(tempDir, RoleDaemon)
	if err != nil {
		t.Fatalf("Failed to acquire daemon lock: %v", err)
	}
	defer daemon.Release()

	audit, err := AcquireLock(tempDir, RoleAudit)
	if err != nil {
		t.Fatalf("Different roles should not conflict: %v", err)
	}
	defer audit.Release()
}

func TestLockRelease(t *testing.T) {
	tempDir := t.TempDir()

	lock, err := AcquireLock(tempDir, RoleDaemon)
	if err != nil {
		t.Fatalf("Failed to acquire lock: %v", err)
	}
	lockPath := lock.Path()

	if err := lock.Release(); err != nil {
		t.Errorf("Failed to release lock: %v", err)
	}
	if _, err := os.Stat(lockPath); !os.IsNotExist(err) {
		t.Errorf("Lock file should be removed after release: %s", lockPath)
	}
	if err := lock.Release(); err != nil {
		t.Errorf("Multiple releases should be safe: %v", err)
	}

	lock2, err := AcquireLock(tempDir, RoleDaemon)
	if err != nil {
		t.Fatalf("Failed to reacquire lock after release: %v", err)
	}
	defer lock2.Release()
}

func TestParseInfo(t *testing.T) {
	tests := []struct {
		name    string
		content string
		pid     int
		role    string
		wantErr bool
	}{
		{"full", "pid=12345\nrole=daemon\nstarted_at=2025-03-10T22:50:00Z\n", 12345, "daemon", false},
		{"pid only", "pid=67890\n", 67890, "", false},
		{"no pid", "role=sweep", 0, "", true},
		{"empty content", "", 0, "", true},
		{"invalid pid", "pid=abc", 0, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info, err := parseInfo(tt.content)
			if tt.wantErr {
				if err == nil {
					t.Errorf("parseInfo(%q) expected error", tt.content)
				}
				return
			}
			if err != nil {
				t.Fatalf("parseInfo(%q) unexpected error: %v", tt.content, err)
			}
			if info.PID != tt.pid || info.Role != tt.role {
				t.Errorf("parseInfo(%q) = %+v", tt.content, info)
			}
		})
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

	lock, err := AcquireLock(dir, RoleDaemon)
	if err != nil {
		t.Fatalf("Should be able to create directory and acquire lock: %v", err)
	}
	defer lock.Release()

	if _, err := os.Stat(dir); os.IsNotExist(err) {
		t.Errorf("Directory should have been created: %s", dir)
	}
}
