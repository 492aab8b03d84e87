package jobstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	stateLockDirName   = ".state.lock"
	stateLockOwnerFile = "owner.json"
)

// StateLock guards a job state directory against a second daemon
// instance. The lock is a directory, created atomically by mkdir, with
// an owner record inside for diagnostics.
type StateLock struct {
	lockDir string
}

type stateLockOwner struct {
	PID       int    `json:"pid"`
	CreatedAt string `json:"created_at"`
	Hostname  string `json:"hostname,omitempty"`
}

// AcquireStateLock takes the exclusive lock for stateDir, failing with
// the current owner's identity when another instance holds it.
func AcquireStateLock(stateDir string) (StateLock, error) {
	target := strings.TrimSpace(stateDir)
	if target == "" {
		return StateLock{}, fmt.Errorf("job state directory is required")
	}

	lockDir := filepath.Join(target, stateLockDirName)
	if err := os.Mkdir(lockDir, 0o755); err != nil {
		if os.IsExist(err) {
			ownerPath := filepath.Join(lockDir, stateLockOwnerFile)
			var owner stateLockOwner
			if data, readErr := os.ReadFile(ownerPath); readErr == nil {
				if json.Unmarshal(data, &owner) == nil && owner.PID > 0 && owner.CreatedAt != "" {
					return StateLock{}, fmt.Errorf(
						"job state directory is locked: %s (pid=%d created_at=%s host=%s)",
						target, owner.PID, owner.CreatedAt, owner.Hostname,
					)
				}
			}
			return StateLock{}, fmt.Errorf("job state directory is locked: %s", target)
		}
		return StateLock{}, fmt.Errorf("acquire state lock for %s: %w", target, err)
	}

	owner := stateLockOwner{
		PID:       os.Getpid(),
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
		Hostname:  hostnameOrUnknown(),
	}
	data, err := json.MarshalIndent(owner, "", "  ")
	if err != nil {
		_ = os.Remove(lockDir)
		return StateLock{}, fmt.Errorf("marshal state lock owner for %s: %w", target, err)
	}
	ownerPath := filepath.Join(lockDir, stateLockOwnerFile)
	if err := os.WriteFile(ownerPath, append(data, '\n'), 0o644); err != nil {
		_ = os.Remove(lockDir)
		return StateLock{}, fmt.Errorf("write state lock owner for %s: %w", target, err)
	}

	return StateLock{lockDir: lockDir}, nil
}

// Release removes the lock. Releasing a zero-value lock is a no-op.
func (l StateLock) Release() error {
	if strings.TrimSpace(l.lockDir) == "" {
		return nil
	}
	_ = os.Remove(filepath.Join(l.lockDir, stateLockOwnerFile))
	if err := os.Remove(l.lockDir); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("release state lock %s: %w", l.lockDir, err)
	}
	return nil
}

func hostnameOrUnknown() string {
	host, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	host = strings.TrimSpace(host)
	if host == "" {
		return "unknown"
	}
	return host
}
