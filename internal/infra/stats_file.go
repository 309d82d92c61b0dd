package infra

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/govd/internal/domain"
)

// StatsFile aggregates published results into MonitorStats and writes them
// to a JSON file after every publish. It is safe for concurrent readers.
type StatsFile struct {
	mu     sync.Mutex
	path   string
	logger *zap.Logger
	now    func() time.Time
	stats  domain.MonitorStats
}

// NewStatsFile creates a sink writing to path. An empty path keeps the
// aggregate in memory only.
func NewStatsFile(path, version string, logger *zap.Logger) *StatsFile {
	now := time.Now()
	return &StatsFile{
		path:   path,
		logger: logger,
		now:    time.Now,
		stats: domain.MonitorStats{
			Timestamp: now.Unix(),
			StartedAt: now.Unix(),
			Version:   version,
			Targets:   make(map[string]*domain.TargetStats),
		},
	}
}

// WithClock replaces the time source.
func (s *StatsFile) WithClock(now func() time.Time) *StatsFile {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
	s.stats.StartedAt = now().Unix()
	return s
}

// Path returns the stats file path.
func (s *StatsFile) Path() string {
	return s.path
}

// PublishTargets folds one target pass into the per-target counters.
func (s *StatsFile) PublishTargets(results []domain.TargetResult) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stats.TotalChecks++
	for _, r := range results {
		ts, ok := s.stats.Targets[r.Target]
		if !ok {
			ts = &domain.TargetStats{}
			s.stats.Targets[r.Target] = ts
		}
		ts.Policy = r.Policy
		ts.Matched = r.Matched
		ts.PID, ts.CPUPercent, ts.MemoryMB = 0, 0, 0
		if r.Worst != nil {
			ts.PID = r.Worst.PID
			ts.CPUPercent = r.Worst.CPUPercent
			ts.MemoryMB = r.Worst.MemoryMB
		}
		ts.CurrentViolations = r.ViolationCount
		ts.CurrentKillCount = r.KillCount
		ts.Phase = string(r.Phase)
		if r.Violation {
			ts.TotalViolations++
		}
		for _, o := range r.Outcomes {
			if o.Succeeded() {
				ts.TotalActions++
			} else if o.Status == domain.OutcomeFailed {
				ts.TotalFailures++
			}
			ts.LastAction = string(o.Action)
			ts.LastActionAt = o.At.Unix()
		}
	}
	s.flushLocked()
}

// PublishPressure records the latest pressure check.
func (s *StatsFile) PublishPressure(report domain.PressureReport) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stats.TotalPressureChecks++
	p := &s.stats.Pressure
	p.Enabled = !report.Disabled
	p.SomeAvg10 = report.Sample.Some.Avg10
	p.FullAvg10 = report.Sample.Full.Avg10
	p.Status = report.Tier.String()
	if report.Disabled {
		p.Status = "disabled"
	}
	p.WarningCount = report.WarningCount
	p.CriticalCount = report.CriticalCount
	if rc := report.Reclaim; rc != nil {
		p.ReclaimPasses++
		for _, rec := range rc.Records {
			if rec.Status == domain.OutcomeApplied {
				p.TotalKilled++
			}
		}
		p.TotalFreedMB += rc.FreedMB
		p.LastFreedMB = rc.FreedMB
		p.LastReclaimAt = rc.StartedAt.Unix()
	}
	s.flushLocked()
}

// PublishHealth records a system health reading.
func (s *StatsFile) PublishHealth(health domain.SystemHealth) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stats.Health = health
	s.flushLocked()
}

// Snapshot returns a deep copy of the current aggregate.
func (s *StatsFile) Snapshot() domain.MonitorStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.touchLocked()
	return copyStats(s.stats)
}

// MarshalJSON encodes the current aggregate.
func (s *StatsFile) MarshalJSON() ([]byte, error) {
	snap := s.Snapshot()
	return json.Marshal(&snap)
}

func (s *StatsFile) touchLocked() {
	now := s.now()
	s.stats.Timestamp = now.Unix()
	s.stats.RuntimeSecs = now.Unix() - s.stats.StartedAt
}

func (s *StatsFile) flushLocked() {
	s.touchLocked()
	if s.path == "" {
		return
	}
	if err := writeStats(s.path, &s.stats); err != nil {
		s.logger.Warn("failed to write stats file",
			zap.String("path", s.path),
			zap.Error(err))
	}
}

func writeStats(path string, stats *domain.MonitorStats) error {
	data, err := json.MarshalIndent(stats, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return writeFileAtomic(path, data, 0o644)
}

// ReadStatsFile loads a stats file written by a running daemon.
func ReadStatsFile(path string) (*domain.MonitorStats, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var stats domain.MonitorStats
	if err := json.Unmarshal(data, &stats); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return &stats, nil
}

func copyStats(in domain.MonitorStats) domain.MonitorStats {
	out := in
	out.Targets = make(map[string]*domain.TargetStats, len(in.Targets))
	for name, ts := range in.Targets {
		c := *ts
		if ts.CurrentViolations != nil {
			v := *ts.CurrentViolations
			c.CurrentViolations = &v
		}
		if ts.CurrentKillCount != nil {
			k := *ts.CurrentKillCount
			c.CurrentKillCount = &k
		}
		out.Targets[name] = &c
	}
	return out
}

var _ domain.StatsSink = (*StatsFile)(nil)
