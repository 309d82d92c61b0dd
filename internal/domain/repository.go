package domain

import (
	"context"
	"time"
)

// ProcessTable reads process state from the OS.
// Implementation: gopsutil over /proc.
type ProcessTable interface {
	// List enumerates live processes.
	List(ctx context.Context) ([]ProcessInfo, error)

	// Stat reads cumulative CPU time and resident memory of one process.
	// Returns ErrProcessGone or ErrPermissionDenied (wrapped) when applicable.
	Stat(ctx context.Context, pid int) (ProcessStat, error)
}

// ProcessController delivers signals and priority changes.
// Implementation: direct syscalls, no shell.
type ProcessController interface {
	// Suspend sends SIGSTOP.
	Suspend(pid int) error

	// Resume sends SIGCONT.
	Resume(pid int) error

	// Terminate sends SIGTERM.
	Terminate(pid int) error

	// ForceKill sends SIGKILL.
	ForceKill(pid int) error

	// SetPriority changes the nice level of a process.
	SetPriority(pid int, nice int) error

	// Exists checks if a PID exists.
	Exists(pid int) bool

	// CreateTime returns the start time of the process holding pid, in
	// milliseconds since epoch. ErrProcessGone when nothing holds it.
	CreateTime(pid int) (int64, error)

	// Self returns the current process PID.
	Self() int
}

// ServiceManager talks to the host's service manager over IPC.
// Implementation: systemd over the system D-Bus.
type ServiceManager interface {
	// Restart asks the manager to restart a unit.
	Restart(ctx context.Context, unit string) error

	// Reload asks the manager to reload its unit files.
	Reload(ctx context.Context) error
}

// PressureReader reads system memory pressure.
type PressureReader interface {
	// Read returns the current sample, or ErrPressureUnavailable.
	Read() (PressureSample, error)
}

// Classifier maps a process to at most one family name.
type Classifier interface {
	// Classify returns the family name and true when the process belongs to one.
	Classify(p ProcessInfo) (string, bool)
}

// Sampler produces snapshots grouped by family.
type Sampler interface {
	// Sample enumerates processes and returns snapshots per family name.
	Sample(ctx context.Context, c Classifier) (map[string][]ProcessSnapshot, error)
}

// StatsSink receives results after each tick. Write-only from the core.
type StatsSink interface {
	// PublishTargets records the results of one target pass.
	PublishTargets(results []TargetResult)

	// PublishPressure records the result of one pressure check.
	PublishPressure(report PressureReport)

	// PublishHealth records a system health reading.
	PublishHealth(health SystemHealth)
}

// HealthProbe reads host-level load and memory figures.
type HealthProbe interface {
	// Health returns the current system health.
	Health(ctx context.Context) (SystemHealth, error)
}

// AuditStore persists the audit trail.
// Implementation: SQLCipher encrypted database.
type AuditStore interface {
	// Record appends one entry.
	Record(entry AuditEntry) error

	// Recent returns the newest entries first.
	Recent(limit int) ([]AuditEntry, error)

	// Prune deletes entries older than the cutoff.
	Prune(before time.Time) (int64, error)

	// Close releases resources (e.g., database connection).
	Close() error
}

// InstanceRegistry guards against two governors on one host.
// Implementation: JSON file under flock.
type InstanceRegistry interface {
	// Register records the current instance, failing with ErrAlreadyRunning
	// when another live instance is registered.
	Register(inst Instance) error

	// Heartbeat updates the liveness timestamp.
	Heartbeat() error

	// Get returns the registered instance, or nil.
	Get() (*InstanceEntry, error)

	// Release removes the record if it belongs to pid.
	Release(pid int) error

	// Path returns the registry file path.
	Path() string
}

// KeyProvider abstracts the source of encryption keys.
type KeyProvider interface {
	// GetKey returns the encryption key bytes.
	GetKey() ([]byte, error)

	// StoreKey persists a new encryption key.
	StoreKey(key []byte) error

	// KeyExists checks if a key has been generated.
	KeyExists() bool
}

// TargetChecker runs one pass over all monitoring targets.
type TargetChecker interface {
	// CheckTargets samples, decides and acts for every target.
	CheckTargets(ctx context.Context) ([]TargetResult, error)
}

// PressureChecker runs one memory-pressure check.
type PressureChecker interface {
	// CheckPressure reads PSI and runs the tier's mitigation.
	CheckPressure(ctx context.Context) (PressureReport, error)
}

// DeferredRunner executes follow-ups that outlive their tick.
type DeferredRunner interface {
	// RunDue executes every task whose due time has passed.
	RunDue(ctx context.Context) []ActionOutcome

	// Flush resumes every suspended process immediately and finishes
	// pending force-kills before ctx expires.
	Flush(ctx context.Context) []ActionOutcome

	// Pending returns the number of scheduled tasks.
	Pending() int
}
