package domain

// MonitorStats is the aggregate published for external readers.
type MonitorStats struct {
	Timestamp           int64                   `json:"timestamp"`
	StartedAt           int64                   `json:"started_at"`
	RuntimeSecs         int64                   `json:"runtime_secs"`
	TotalChecks         uint64                  `json:"total_checks"`
	TotalPressureChecks uint64                  `json:"total_pressure_checks"`
	Version             string                  `json:"version,omitempty"`
	Targets             map[string]*TargetStats `json:"targets"`
	Pressure            PressureStats           `json:"memory_pressure"`
	Health              SystemHealth            `json:"system_health"`
}

// TargetStats are the per-target counters.
type TargetStats struct {
	Policy            string  `json:"policy"`
	Matched           int     `json:"matched"`
	PID               int     `json:"pid,omitempty"`
	CPUPercent        float64 `json:"cpu_percent"`
	MemoryMB          uint64  `json:"memory_mb"`
	CurrentViolations *int    `json:"current_violations,omitempty"`
	CurrentKillCount  *int    `json:"current_kill_count,omitempty"`
	Phase             string  `json:"phase,omitempty"`
	TotalViolations   uint64  `json:"total_violations"`
	TotalActions      uint64  `json:"total_actions"`
	TotalFailures     uint64  `json:"total_failures"`
	LastAction        string  `json:"last_action,omitempty"`
	LastActionAt      int64   `json:"last_action_at,omitempty"`
}

// PressureStats mirror the pressure monitor's state.
type PressureStats struct {
	Enabled       bool    `json:"enabled"`
	SomeAvg10     float64 `json:"some_avg10"`
	FullAvg10     float64 `json:"full_avg10"`
	Status        string  `json:"status"`
	WarningCount  uint64  `json:"warning_count"`
	CriticalCount uint64  `json:"critical_count"`
	ReclaimPasses uint64  `json:"reclaim_passes"`
	TotalKilled   uint64  `json:"total_killed"`
	TotalFreedMB  uint64  `json:"total_freed_mb"`
	LastFreedMB   uint64  `json:"last_freed_mb"`
	LastReclaimAt int64   `json:"last_reclaim_at,omitempty"`
}

// SystemHealth is a coarse view of host load and memory.
type SystemHealth struct {
	Load1          float64 `json:"load_1"`
	Load5          float64 `json:"load_5"`
	Load15         float64 `json:"load_15"`
	MemTotalMB     uint64  `json:"mem_total_mb"`
	MemUsedMB      uint64  `json:"mem_used_mb"`
	MemAvailableMB uint64  `json:"mem_available_mb"`
	MemUsedPercent float64 `json:"mem_used_percent"`
}
