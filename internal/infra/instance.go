package infra

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/eliteGoblin/focusd/govd/internal/domain"
)

const instanceEntryVersion = 1

// livenessChecker reports whether a PID is alive.
type livenessChecker interface {
	Exists(pid int) bool
}

// FileInstanceRegistry implements domain.InstanceRegistry using a JSON file
// guarded by an flock on a sibling lock file.
type FileInstanceRegistry struct {
	path  string
	procs livenessChecker
	now   func() time.Time
}

// NewFileInstanceRegistry creates a registry at path.
func NewFileInstanceRegistry(path string, procs livenessChecker) *FileInstanceRegistry {
	return &FileInstanceRegistry{
		path:  path,
		procs: procs,
		now:   time.Now,
	}
}

// Path returns the registry file path.
func (r *FileInstanceRegistry) Path() string {
	return r.path
}

// Register records inst as the running governor. A record left behind by a
// dead process is taken over.
func (r *FileInstanceRegistry) Register(inst domain.Instance) error {
	return r.withLock(func() error {
		existing, _ := r.Get() // unreadable records are replaced
		if existing != nil && existing.PID != inst.PID && r.procs.Exists(existing.PID) {
			return fmt.Errorf("pid %d registered in %s: %w", existing.PID, r.path, domain.ErrAlreadyRunning)
		}

		entry := &domain.InstanceEntry{
			Version:       instanceEntryVersion,
			PID:           inst.PID,
			StartedAt:     inst.StartedAt.Unix(),
			AppVersion:    inst.Version,
			ConfigPath:    inst.ConfigPath,
			Mode:          string(DetectExecMode().Mode),
			LastHeartbeat: r.now().Unix(),
		}
		return r.atomicWrite(entry)
	})
}

// Heartbeat updates the liveness timestamp.
func (r *FileInstanceRegistry) Heartbeat() error {
	return r.withLock(func() error {
		entry, err := r.Get()
		if err != nil {
			return err
		}
		if entry == nil {
			return fmt.Errorf("heartbeat: %s has no registered instance", r.path)
		}
		entry.LastHeartbeat = r.now().Unix()
		return r.atomicWrite(entry)
	})
}

// Get returns the registered instance, or nil when none is recorded.
func (r *FileInstanceRegistry) Get() (*domain.InstanceEntry, error) {
	data, err := os.ReadFile(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var entry domain.InstanceEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("parse %s: %w", r.path, err)
	}
	return &entry, nil
}

// Release removes the record if it still belongs to pid.
func (r *FileInstanceRegistry) Release(pid int) error {
	return r.withLock(func() error {
		entry, err := r.Get()
		if err != nil || entry == nil {
			return err
		}
		if entry.PID != pid {
			return nil
		}
		if err := os.Remove(r.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return err
		}
		return nil
	})
}

func (r *FileInstanceRegistry) withLock(fn func() error) error {
	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return fmt.Errorf("create registry dir: %w", err)
	}

	lockFile, err := os.OpenFile(r.path+".lock", os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return fmt.Errorf("failed to open lock file: %w", err)
	}
	defer lockFile.Close()

	if err := syscall.Flock(int(lockFile.Fd()), syscall.LOCK_EX); err != nil {
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	defer func() { _ = syscall.Flock(int(lockFile.Fd()), syscall.LOCK_UN) }()

	return fn()
}

func (r *FileInstanceRegistry) atomicWrite(entry *domain.InstanceEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	return writeFileAtomic(r.path, data, 0o600)
}

// writeFileAtomic writes data next to path and renames it into place.
// The temp name is unique per process.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	tmpPath := fmt.Sprintf("%s.%d.tmp", path, os.Getpid())
	if err := os.WriteFile(tmpPath, data, perm); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}

var _ domain.InstanceRegistry = (*FileInstanceRegistry)(nil)
