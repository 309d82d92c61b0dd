package domain

import "time"

// PressureLine is one line of a PSI file.
type PressureLine struct {
	Avg10  float64 `json:"avg10"`
	Avg60  float64 `json:"avg60"`
	Avg300 float64 `json:"avg300"`
	Total  uint64  `json:"total"` // microseconds stalled
}

// PressureSample is a system memory-pressure reading.
type PressureSample struct {
	Some      PressureLine `json:"some"`
	Full      PressureLine `json:"full"`
	SampledAt time.Time    `json:"sampled_at"`
}

// PressureTier is the overall severity of a sample.
type PressureTier int

const (
	TierNone PressureTier = iota
	TierWarning
	TierCritical
)

func (t PressureTier) String() string {
	switch t {
	case TierWarning:
		return "warning"
	case TierCritical:
		return "critical"
	default:
		return "normal"
	}
}

// TierThresholds is a pair of avg10 limits for one tier.
type TierThresholds struct {
	Some float64
	Full float64
}

// PressureThresholds holds both tiers.
type PressureThresholds struct {
	Warning  TierThresholds
	Critical TierThresholds
}

// Classify returns the worse of the two metrics' tiers.
// A critical reading on either metric makes the sample critical.
func (pt PressureThresholds) Classify(s PressureSample) PressureTier {
	return maxTier(
		pt.tierOf(s.Some.Avg10, pt.Warning.Some, pt.Critical.Some),
		pt.tierOf(s.Full.Avg10, pt.Warning.Full, pt.Critical.Full),
	)
}

func (pt PressureThresholds) tierOf(value, warning, critical float64) PressureTier {
	switch {
	case value >= critical:
		return TierCritical
	case value >= warning:
		return TierWarning
	default:
		return TierNone
	}
}

func maxTier(a, b PressureTier) PressureTier {
	if a > b {
		return a
	}
	return b
}

// WarningAction is the mitigation run on a warning-tier tick.
type WarningAction string

const (
	WarnLog          WarningAction = "log"
	WarnDeprioritize WarningAction = "deprioritize"
	WarnSuspend      WarningAction = "suspend"
)

// PressureState is the mutable state of the pressure monitor.
type PressureState struct {
	WarningCount  uint64
	CriticalCount uint64
	Disabled      bool
	LastTier      PressureTier
	Suspended     map[int]time.Time // pid -> scheduled resume
}

// SacrificeEntry is one ranked family eligible for reclaim.
type SacrificeEntry struct {
	Rank        int
	Name        string
	Match       Matcher
	MinMemoryMB uint64 // guard: eligible only above this RSS, 0 = no guard
}

// Eligible reports whether the guard allows killing the process.
func (e SacrificeEntry) Eligible(s ProcessSnapshot) bool {
	return e.MinMemoryMB == 0 || s.MemoryMB > e.MinMemoryMB
}

// ReclaimRecord is the audit record of one reclaim termination.
type ReclaimRecord struct {
	Rank       int           `json:"rank"`
	Family     string        `json:"family"`
	PID        int           `json:"pid"`
	Command    string        `json:"command"`
	MemoryMB   uint64        `json:"memory_mb"`
	CPUPercent float64       `json:"cpu_percent"`
	Baseline   bool          `json:"baseline,omitempty"` // CPUPercent was not measured
	Status     OutcomeStatus `json:"status"`
	At         time.Time     `json:"at"`
}

// ReclaimSkip records a candidate that was passed over.
type ReclaimSkip struct {
	Rank   int    `json:"rank"`
	Family string `json:"family"`
	PID    int    `json:"pid"`
	Reason string `json:"reason"`
}

// ReclaimReport summarizes one prioritized reclaim pass.
type ReclaimReport struct {
	Records   []ReclaimRecord `json:"records"`
	Skipped   []ReclaimSkip   `json:"skipped,omitempty"`
	FreedMB   uint64          `json:"freed_mb"`
	StartedAt time.Time       `json:"started_at"`
	Duration  time.Duration   `json:"duration"`
}

// PressureReport is published after every pressure check.
type PressureReport struct {
	Sample         PressureSample  `json:"sample"`
	Tier           PressureTier    `json:"tier"`
	WarningCount   uint64          `json:"warning_count"`
	CriticalCount  uint64          `json:"critical_count"`
	WarningActions []ActionOutcome `json:"warning_actions,omitempty"`
	Reclaim        *ReclaimReport  `json:"reclaim,omitempty"`
	Disabled       bool            `json:"disabled"`
}
