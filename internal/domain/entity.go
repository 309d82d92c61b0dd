// Package domain contains core business entities and interfaces.
// This is the innermost layer in Clean Architecture - no external dependencies.
package domain

import (
	"fmt"
	"time"
)

// ProcessInfo identifies a live process before any detail read.
type ProcessInfo struct {
	PID        int
	Name       string // short name (comm)
	Command    string // full command line, may be empty for kernel threads
	CreateTime int64  // milliseconds since epoch, distinguishes reused PIDs
}

// ProcessStat holds the raw counters read for one process.
type ProcessStat struct {
	PID        int
	CPUSeconds float64 // cumulative user+system time
	RSSBytes   uint64
	CreateTime int64
}

// ProcessSnapshot is one process's measured state at a tick.
type ProcessSnapshot struct {
	PID        int       `json:"pid"`
	Name       string    `json:"name"`
	Command    string    `json:"command"`
	CPUPercent float64   `json:"cpu_percent"` // may exceed 100 on multi-core
	MemoryMB   uint64    `json:"memory_mb"`
	Baseline   bool      `json:"baseline"` // first observation, CPUPercent not yet meaningful
	CreateTime int64     `json:"create_time,omitempty"`
	SampledAt  time.Time `json:"sampled_at"`
}

// Thresholds are the per-target limits. A zero value means "not configured".
type Thresholds struct {
	CPUPercent float64
	MemoryMB   uint64
}

// Metric names a measured resource.
type Metric string

const (
	MetricCPU    Metric = "cpu"
	MetricMemory Metric = "memory"
)

// Breach records one threshold exceeded by one process.
type Breach struct {
	PID       int     `json:"pid"`
	Metric    Metric  `json:"metric"`
	Value     float64 `json:"value"`
	Threshold float64 `json:"threshold"`
}

// Ratio returns how far over its threshold the breach is.
func (b Breach) Ratio() float64 {
	if b.Threshold <= 0 {
		return 0
	}
	return b.Value / b.Threshold
}

// ActionKind is the tag of an ActionPolicy.
type ActionKind string

const (
	ActionKill           ActionKind = "kill"
	ActionDeprioritize   ActionKind = "deprioritize"
	ActionSuspend        ActionKind = "suspend"
	ActionRestartService ActionKind = "restart_service"
	ActionResume         ActionKind = "resume"
	ActionForceKill      ActionKind = "force_kill"
)

// ActionPolicy is the corrective action configured for a target.
// Only the field matching Kind is meaningful.
type ActionPolicy struct {
	Kind       ActionKind
	NiceLevel  int           // Deprioritize
	SuspendFor time.Duration // Suspend
	Service    string        // RestartService
}

// Counted reports whether the policy goes through violation counting.
func (p ActionPolicy) Counted() bool {
	return p.Kind != ActionKill
}

func (p ActionPolicy) String() string {
	switch p.Kind {
	case ActionDeprioritize:
		return fmt.Sprintf("deprioritize(%d)", p.NiceLevel)
	case ActionSuspend:
		return fmt.Sprintf("suspend(%s)", p.SuspendFor)
	case ActionRestartService:
		return fmt.Sprintf("restart_service(%s)", p.Service)
	default:
		return string(p.Kind)
	}
}

// MonitorTarget is a governed process family.
type MonitorTarget struct {
	Name          string
	Match         Matcher
	Exclude       []Matcher
	Thresholds    Thresholds
	Action        ActionPolicy
	MaxViolations int
	Cooldown      time.Duration // minimum interval between escalations
	KillTier      *KillTier     // optional, counted policies only
}

// KillTier is a second escalation tier for counted targets: sustained CPU
// above a higher threshold terminates the process instead of running the
// target's policy. It keeps its own counter and ignores the cooldown.
type KillTier struct {
	CPUPercent    float64
	MaxViolations int
}

// Critical reports whether a snapshot is above the kill-tier threshold.
func (k *KillTier) Critical(s ProcessSnapshot) bool {
	return k != nil && k.CPUPercent > 0 && !s.Baseline && s.CPUPercent > k.CPUPercent
}

// Accepts reports whether the process belongs to this target.
func (t MonitorTarget) Accepts(p ProcessInfo) bool {
	if !t.Match.Matches(p) {
		return false
	}
	for _, ex := range t.Exclude {
		if ex.Matches(p) {
			return false
		}
	}
	return true
}

// Check returns the breaches of one snapshot. CPU is ignored on a baseline
// sample. Comparisons are strict.
func (t MonitorTarget) Check(s ProcessSnapshot) []Breach {
	var breaches []Breach
	if t.Thresholds.CPUPercent > 0 && !s.Baseline && s.CPUPercent > t.Thresholds.CPUPercent {
		breaches = append(breaches, Breach{
			PID:       s.PID,
			Metric:    MetricCPU,
			Value:     s.CPUPercent,
			Threshold: t.Thresholds.CPUPercent,
		})
	}
	if t.Thresholds.MemoryMB > 0 && s.MemoryMB > t.Thresholds.MemoryMB {
		breaches = append(breaches, Breach{
			PID:       s.PID,
			Metric:    MetricMemory,
			Value:     float64(s.MemoryMB),
			Threshold: float64(t.Thresholds.MemoryMB),
		})
	}
	return breaches
}

// TargetPhase is the decision-engine state of a counted target.
type TargetPhase string

const (
	PhaseNormal   TargetPhase = "normal"
	PhaseCooldown TargetPhase = "cooldown"
)

// ViolationState is the mutable per-target state of a counted policy.
type ViolationState struct {
	Count           int
	KillCount       int // consecutive ticks above the kill tier
	LastEscalation  time.Time
	TotalViolations uint64
	TotalActions    uint64
	TotalFailures   uint64
}

// InCooldown reports whether an escalation happened less than cooldown ago.
func (s *ViolationState) InCooldown(now time.Time, cooldown time.Duration) bool {
	if s.LastEscalation.IsZero() {
		return false
	}
	return now.Sub(s.LastEscalation) < cooldown
}

// Phase derives the state-machine phase from timestamps.
func (s *ViolationState) Phase(now time.Time, cooldown time.Duration) TargetPhase {
	if s.InCooldown(now, cooldown) {
		return PhaseCooldown
	}
	return PhaseNormal
}

// OutcomeStatus classifies the result of one corrective action.
type OutcomeStatus string

const (
	OutcomeApplied OutcomeStatus = "applied"
	OutcomeGone    OutcomeStatus = "gone"    // process already exited, counts as success
	OutcomeSkipped OutcomeStatus = "skipped" // not attempted or not permitted
	OutcomeFailed  OutcomeStatus = "failed"
)

// ActionOutcome is the result of applying one action to one process or unit.
type ActionOutcome struct {
	Action  ActionKind    `json:"action"`
	PID     int           `json:"pid,omitempty"`
	Service string        `json:"service,omitempty"`
	Status  OutcomeStatus `json:"status"`
	Error   string        `json:"error,omitempty"`
	At      time.Time     `json:"at"`
}

// Succeeded reports whether the outcome counts as success.
func (o ActionOutcome) Succeeded() bool {
	return o.Status == OutcomeApplied || o.Status == OutcomeGone
}

// TargetResult captures what happened to one target during a tick.
type TargetResult struct {
	Target         string           `json:"target"`
	Policy         string           `json:"policy"`
	Matched        int              `json:"matched"`
	Violation      bool             `json:"violation"`
	Worst          *ProcessSnapshot `json:"worst,omitempty"`
	Breaches       []Breach         `json:"breaches,omitempty"`
	ViolationCount *int             `json:"violation_count,omitempty"` // nil for kill-policy targets
	KillCount      *int             `json:"kill_count,omitempty"`      // nil without a kill tier
	Phase          TargetPhase      `json:"phase,omitempty"`
	Held           bool             `json:"held,omitempty"` // threshold reached inside cooldown
	Action         ActionKind       `json:"action,omitempty"`
	Outcomes       []ActionOutcome  `json:"outcomes,omitempty"`
	EvaluatedAt    time.Time        `json:"evaluated_at"`
}

// TaskKind is the kind of a deferred follow-up.
type TaskKind string

const (
	TaskResume    TaskKind = "resume"
	TaskForceKill TaskKind = "force_kill"
)

// DeferredTask is a follow-up that outlives the tick that created it.
type DeferredTask struct {
	PID        int
	CreateTime int64 // identity of the process at scheduling, 0 if unknown
	Kind       TaskKind
	Due        time.Time
	Command    string
	Source     string
}

// AuditEntry is one row of the audit trail.
type AuditEntry struct {
	ID        int64         `json:"id,omitempty"`
	At        time.Time     `json:"at"`
	Source    string        `json:"source"` // target name or "pressure"
	Action    ActionKind    `json:"action"`
	PID       int           `json:"pid,omitempty"`
	Command   string        `json:"command,omitempty"`
	Service   string        `json:"service,omitempty"`
	Metric    string        `json:"metric,omitempty"`
	Value     float64       `json:"value,omitempty"`
	Threshold float64       `json:"threshold,omitempty"`
	Rank      int           `json:"rank,omitempty"`
	Status    OutcomeStatus `json:"status"`
	Detail    string        `json:"detail,omitempty"`
}

// Instance is a running governor daemon.
type Instance struct {
	PID        int
	StartedAt  time.Time
	Version    string
	ConfigPath string
}

// InstanceEntry is the persisted instance lock record.
type InstanceEntry struct {
	Version       int    `json:"version"`
	PID           int    `json:"pid"`
	StartedAt     int64  `json:"started_at"`
	AppVersion    string `json:"app_version,omitempty"`
	ConfigPath    string `json:"config_path,omitempty"`
	Mode          string `json:"mode,omitempty"` // "user" or "system"
	LastHeartbeat int64  `json:"last_heartbeat"`
}
