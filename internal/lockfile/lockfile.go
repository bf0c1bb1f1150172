// Package lockfile keeps two TrainTrack processes of the same role from
// running against one state directory at the same time.
//
// Each role (for example the sweeper daemon) holds an flock on its own file
// in the state directory. The kernel drops the lock when the process exits,
// so a crashed daemon never blocks its successor.
package lockfile

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// Roles holding a lock.
const (
	RoleDaemon = "daemon"
	RoleSweep  = "sweep"
	RoleAudit  = "audit"
)

// FileName returns the lock file name used for role.
func FileName(role string) string {
	return "traintrack-" + role + ".lock"
}

// Lock is a held state directory lock.
type Lock struct {
	file *os.File
	path string
	role string
}

// Info is the owner information recorded in a lock file.
type Info struct {
	PID       int
	Role      string
	StartedAt time.Time
}

// AcquireLock takes the exclusive lock for role in stateDir, creating the
// directory if needed. It fails fast with a *LockError when another process
// holds the lock.
func AcquireLock(stateDir, role string) (*Lock, error) {
	lockPath := filepath.Join(stateDir, FileName(role))
	slog.Debug("lockfile.AcquireLock", "lock_path", lockPath, "role", role)

	if err := os.MkdirAll(stateDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state directory %s: %w", stateDir, err)
	}

	// no O_TRUNC: the current holder's info must survive a failed attempt
	file, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open lock file %s: %w", lockPath, err)
	}

	if err := syscall.Flock(int(file.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		file.Close()
		holder, readErr := ReadInfo(lockPath)
		lockErr := &LockError{LockPath: lockPath, Role: role, Cause: err}
		if readErr == nil {
			lockErr.Holder = &holder
		}
		slog.Error("lockfile.AcquireLock: lock held by another process",
			"lock_path", lockPath, "role", role, "holder", lockErr.describeHolder())
		return nil, lockErr
	}

	info := Info{PID: os.Getpid(), Role: role, StartedAt: time.Now().UTC()}
	if err := writeInfo(file, info); err != nil {
		syscall.Flock(int(file.Fd()), syscall.LOCK_UN)
		file.Close()
		return nil, fmt.Errorf("failed to write lock information to %s: %w", lockPath, err)
	}

	slog.Info("lockfile.AcquireLock: lock acquired", "lock_path", lockPath, "role", role, "pid", info.PID)
	return &Lock{file: file, path: lockPath, role: role}, nil
}

// Path returns the lock file path.
func (l *Lock) Path() string {
	return l.path
}

// Release drops the lock and removes the lock file. Safe to call more than once.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	// remove before unlocking so a waiting process never sees our stale info
	if err := os.Remove(l.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("lockfile.Release: remove failed", "error", err, "lock_path", l.path)
	}
	if err := syscall.Flock(int(l.file.Fd()), syscall.LOCK_UN); err != nil {
		slog.Warn("lockfile.Release: unlock failed", "error", err, "lock_path", l.path)
	}
	err := l.file.Close()
	l.file = nil
	slog.Debug("lockfile.Release: lock released", "lock_path", l.path, "role", l.role)
	return err
}

// LockError reports a lock held by another process.
type LockError struct {
	LockPath string
	Role     string
	Holder   *Info
	Cause    error
}

func (e *LockError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "another TrainTrack %s process is using this state directory (lock file: %s", e.Role, e.LockPath)
	fmt.Fprintf(&b, ", holder: %s)", e.describeHolder())
	if e.Holder != nil && e.Holder.PID > 0 && !isProcessRunning(e.Holder.PID) {
		fmt.Fprintf(&b, "; the holder is gone, remove %s if the lock persists", e.LockPath)
	}
	return b.String()
}

func (e *LockError) Unwrap() error {
	return e.Cause
}

func (e *LockError) describeHolder() string {
	if e.Holder == nil {
		return "unknown"
	}
	state := "running"
	if !isProcessRunning(e.Holder.PID) {
		state = "not running"
	}
	s := fmt.Sprintf("PID %d (%s)", e.Holder.PID, state)
	if !e.Holder.StartedAt.IsZero() {
		s += " since " + e.Holder.StartedAt.Format(time.RFC3339)
	}
	return s
}

// IsLocked reports whether err comes from a lock held elsewhere.
func IsLocked(err error) bool {
	var lockErr *LockError
	return errors.As(err, &lockErr)
}

// ReadInfo parses the owner information of the lock file at path.
func ReadInfo(path string) (Info, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Info{}, err
	}
	return parseInfo(string(data))
}

func writeInfo(f *os.File, info Info) error {
	if err := f.Truncate(0); err != nil {
		return err
	}
	content := fmt.Sprintf("pid=%d\nrole=%s\nstarted_at=%s\n", info.PID, info.Role, info.StartedAt.Format(time.RFC3339))
	if _, err := f.WriteAt([]byte(content), 0); err != nil {
		return err
	}
	return f.Sync()
}

func parseInfo(content string) (Info, error) {
	var info Info
	for _, line := range strings.Split(content, "\n") {
		key, val, ok := strings.Cut(strings.TrimSpace(line), "=")
		if !ok {
			continue
		}
		switch key {
		case "pid":
			pid, err := strconv.Atoi(val)
			if err != nil {
				return Info{}, fmt.Errorf("invalid pid %q", val)
			}
			info.PID = pid
		case "role":
			info.Role = val
		case "started_at":
			if t, err := time.Parse(time.RFC3339, val); err == nil {
				info.StartedAt = t
			}
		}
	}
	if info.PID <= 0 {
		return Info{}, errors.New("lock file has no pid")
	}
	return info, nil
}

// isProcessRunning probes pid with signal 0.
func isProcessRunning(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}
