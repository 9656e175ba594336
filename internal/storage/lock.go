package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/steveyegge/forge/internal/types"
)

// PassLock is the lock file a process holds while it runs a curation pass.
// The cluster engine refuses overlapping passes within one process; the lock
// extends that to every process sharing the database.
type PassLock struct {
	Holder    string    `json:"holder"`
	PID       int       `json:"pid"`
	Hostname  string    `json:"hostname"`
	StartedAt time.Time `json:"started_at"`
	PassID    string    `json:"pass_id,omitempty"`
}

// PassLockPath returns the lock file path for a database
func PassLockPath(dbPath string) string {
	return dbPath + ".pass-lock"
}

// AcquirePassLock creates the lock file at lockPath. It fails with
// types.ErrPassInProgress while a live process holds the lock; a lock left
// behind by a dead process is taken over.
func AcquirePassLock(lockPath, passID string) error {
	hostname, err := os.Hostname()
	if err != nil {
		return fmt.Errorf("failed to get hostname: %w", err)
	}
	lock := PassLock{
		Holder:    "forge",
		PID:       os.Getpid(),
		Hostname:  hostname,
		StartedAt: time.Now(),
		PassID:    passID,
	}
	data, err := json.MarshalIndent(lock, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal lock: %w", err)
	}

	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(lockPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			_, werr := f.Write(data)
			if cerr := f.Close(); werr == nil {
				werr = cerr
			}
			if werr != nil {
				_ = os.Remove(lockPath)
				return fmt.Errorf("failed to write pass lock: %w", werr)
			}
			return nil
		}
		if !errors.Is(err, os.ErrExist) {
			return fmt.Errorf("failed to create pass lock: %w", err)
		}

		existing, err := os.ReadFile(lockPath)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to read pass lock: %w", err)
		}
		var held PassLock
		if err == nil && json.Unmarshal(existing, &held) == nil && isProcessAlive(held.PID, held.Hostname) {
			return fmt.Errorf("%w: pass %s held by PID %d on %s since %s", types.ErrPassInProgress,
				held.PassID, held.PID, held.Hostname, held.StartedAt.Format(time.RFC3339))
		}

		// Stale or unreadable lock
		if err := os.Remove(lockPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to remove stale pass lock: %w", err)
		}
	}
	return fmt.Errorf("%w: lost the race for %s", types.ErrPassInProgress, lockPath)
}

// ReleasePassLock removes the lock file
func ReleasePassLock(lockPath string) error {
	if lockPath == "" {
		return nil
	}
	if err := os.Remove(lockPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove pass lock: %w", err)
	}
	return nil
}

// isProcessAlive checks if a process with the given PID exists on the given
// hostname. Processes on other hosts are assumed alive.
func isProcessAlive(pid int, hostname string) bool {
	if pid <= 0 {
		return false
	}
	currentHost, err := os.Hostname()
	if err != nil {
		return true
	}
	if !strings.EqualFold(hostname, currentHost) {
		return true
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// Signal 0 only checks for existence; EPERM means it exists but is not ours
	err = process.Signal(syscall.Signal(0))
	return err == nil || errors.Is(err, syscall.EPERM)
}
