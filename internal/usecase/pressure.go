package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/govd/internal/domain"
	"github.com/eliteGoblin/focusd/govd/internal/policy"
)

// pressureSource is the audit source of every pressure-driven action.
const pressureSource = "pressure"

// SacrificeSource is the ranked list of families reclaim may terminate.
type SacrificeSource interface {
	domain.Classifier
	Entries() []domain.SacrificeEntry
}

// PressureConfig holds pressure monitor settings.
type PressureConfig struct {
	Thresholds     domain.PressureThresholds
	WarningAction  domain.WarningAction
	WarningNice    int
	WarningSuspend time.Duration
	TopConsumers   int
}

// DefaultPressureConfig returns default pressure configuration.
func DefaultPressureConfig() PressureConfig {
	return PressureConfig{
		Thresholds:     policy.DefaultPressureThresholds(),
		WarningAction:  domain.WarnLog,
		WarningNice:    10,
		WarningSuspend: 5 * time.Second,
		TopConsumers:   10,
	}
}

// PressureMonitor classifies memory pressure and, under critical
// pressure, runs a prioritized reclaim over the sacrifice list.
type PressureMonitor struct {
	config    PressureConfig
	reader    domain.PressureReader
	sampler   domain.Sampler
	sacrifice SacrificeSource
	executor  *Executor
	sink      domain.StatsSink
	logger    *zap.Logger
	now       func() time.Time

	state      domain.PressureState
	reclaiming sync.Mutex
}

// NewPressureMonitor creates a pressure monitor. sink may be nil.
func NewPressureMonitor(
	config PressureConfig,
	reader domain.PressureReader,
	sampler domain.Sampler,
	sacrifice SacrificeSource,
	executor *Executor,
	sink domain.StatsSink,
	logger *zap.Logger,
) *PressureMonitor {
	return &PressureMonitor{
		config:    config,
		reader:    reader,
		sampler:   sampler,
		sacrifice: sacrifice,
		executor:  executor,
		sink:      sink,
		logger:    logger,
		now:       time.Now,
		state:     domain.PressureState{Suspended: make(map[int]time.Time)},
	}
}

// WithClock replaces the time source (for tests).
func (m *PressureMonitor) WithClock(now func() time.Time) *PressureMonitor {
	m.now = now
	return m
}

// State returns a copy of the monitor state.
func (m *PressureMonitor) State() domain.PressureState {
	s := m.state
	s.Suspended = make(map[int]time.Time, len(m.state.Suspended))
	for pid, at := range m.state.Suspended {
		s.Suspended[pid] = at
	}
	return s
}

// CheckPressure runs one pressure check. Unavailable PSI disables the
// monitor for the rest of the process lifetime.
func (m *PressureMonitor) CheckPressure(ctx context.Context) (domain.PressureReport, error) {
	if m.state.Disabled {
		return domain.PressureReport{Disabled: true}, nil
	}

	sample, err := m.reader.Read()
	if err != nil {
		if errors.Is(err, domain.ErrPressureUnavailable) {
			m.state.Disabled = true
			m.logger.Warn("memory pressure information unavailable, pressure monitoring disabled",
				zap.Error(err))
			report := domain.PressureReport{Disabled: true}
			m.publish(report)
			return report, nil
		}
		return domain.PressureReport{}, fmt.Errorf("read memory pressure: %w", err)
	}

	tier := m.config.Thresholds.Classify(sample)
	if tier != m.state.LastTier {
		m.logger.Info("memory pressure tier changed",
			zap.String("from", m.state.LastTier.String()),
			zap.String("to", tier.String()),
			zap.Float64("some_avg10", sample.Some.Avg10),
			zap.Float64("full_avg10", sample.Full.Avg10))
	}
	m.state.LastTier = tier
	m.pruneSuspended()

	report := domain.PressureReport{Sample: sample, Tier: tier}

	switch tier {
	case domain.TierWarning:
		m.state.WarningCount++
		report.WarningActions = m.warn(ctx)
	case domain.TierCritical:
		m.state.CriticalCount++
		m.logger.Warn("critical memory pressure",
			zap.Float64("some_avg10", sample.Some.Avg10),
			zap.Float64("full_avg10", sample.Full.Avg10),
			zap.Uint64("critical_count", m.state.CriticalCount))
		report.Reclaim = m.Reclaim(ctx)
	}

	report.WarningCount = m.state.WarningCount
	report.CriticalCount = m.state.CriticalCount
	m.publish(report)
	return report, nil
}

// warn runs the configured warning-tier mitigation.
func (m *PressureMonitor) warn(ctx context.Context) []domain.ActionOutcome {
	families, err := m.sampler.Sample(ctx, m.sacrifice)
	if err != nil {
		m.logger.Warn("failed to sample sacrifice families", zap.Error(err))
		return nil
	}

	switch m.config.WarningAction {
	case domain.WarnDeprioritize:
		var outcomes []domain.ActionOutcome
		for _, e := range m.sacrifice.Entries() {
			for _, p := range families[e.Name] {
				if m.executor.IsTerminating(p.PID) {
					continue
				}
				outcomes = append(outcomes, m.executor.Deprioritize(m.subject(e, p), m.config.WarningNice))
			}
		}
		return outcomes

	case domain.WarnSuspend:
		var outcomes []domain.ActionOutcome
		for _, e := range m.sacrifice.Entries() {
			for _, p := range families[e.Name] {
				if m.executor.IsSuspended(p.PID) || m.executor.IsTerminating(p.PID) {
					continue
				}
				o := m.executor.Suspend(m.subject(e, p), m.config.WarningSuspend)
				if o.Status == domain.OutcomeApplied {
					m.state.Suspended[p.PID] = m.now().Add(m.config.WarningSuspend)
				}
				outcomes = append(outcomes, o)
			}
		}
		return outcomes

	default:
		m.logTopConsumers(families)
		return nil
	}
}

// Reclaim performs one prioritized traversal of the sacrifice list. It
// returns nil when another pass is still in flight.
func (m *PressureMonitor) Reclaim(ctx context.Context) *domain.ReclaimReport {
	if !m.reclaiming.TryLock() {
		m.logger.Warn("reclaim already in progress, skipping")
		return nil
	}
	defer m.reclaiming.Unlock()

	report := &domain.ReclaimReport{StartedAt: m.now()}

	families, err := m.sampler.Sample(ctx, m.sacrifice)
	if err != nil {
		m.logger.Error("reclaim aborted, cannot sample sacrifice families", zap.Error(err))
		return report
	}
	m.logTopConsumers(families)

	for _, e := range m.sacrifice.Entries() {
		procs := append([]domain.ProcessSnapshot(nil), families[e.Name]...)
		sort.SliceStable(procs, func(i, j int) bool {
			if procs[i].MemoryMB != procs[j].MemoryMB {
				return procs[i].MemoryMB > procs[j].MemoryMB
			}
			return procs[i].PID < procs[j].PID
		})

		for _, p := range procs {
			skip := domain.ReclaimSkip{Rank: e.Rank, Family: e.Name, PID: p.PID}
			switch {
			case !e.Eligible(p):
				skip.Reason = fmt.Sprintf("rss %dMB within guard %dMB", p.MemoryMB, e.MinMemoryMB)
				report.Skipped = append(report.Skipped, skip)
				continue
			case m.executor.IsTerminating(p.PID):
				skip.Reason = "already terminating"
				report.Skipped = append(report.Skipped, skip)
				continue
			}

			o := m.executor.Kill(m.subject(e, p))
			report.Records = append(report.Records, domain.ReclaimRecord{
				Rank:       e.Rank,
				Family:     e.Name,
				PID:        p.PID,
				Command:    p.Command,
				MemoryMB:   p.MemoryMB,
				CPUPercent: p.CPUPercent,
				Baseline:   p.Baseline,
				Status:     o.Status,
				At:         o.At,
			})
			if o.Status == domain.OutcomeApplied {
				report.FreedMB += p.MemoryMB
				delete(m.state.Suspended, p.PID)
			}
		}
	}

	report.Duration = m.now().Sub(report.StartedAt)
	m.logger.Warn("reclaim pass finished",
		zap.Int("killed", len(report.Records)),
		zap.Int("skipped", len(report.Skipped)),
		zap.String("freed", humanize.IBytes(report.FreedMB*bytesPerMB)),
		zap.Duration("duration", report.Duration))
	return report
}

func (m *PressureMonitor) subject(e domain.SacrificeEntry, p domain.ProcessSnapshot) Subject {
	return Subject{Source: pressureSource, Process: p, Rank: e.Rank}
}

func (m *PressureMonitor) logTopConsumers(families map[string][]domain.ProcessSnapshot) {
	var all []domain.ProcessSnapshot
	for _, procs := range families {
		all = append(all, procs...)
	}
	if len(all) == 0 {
		return
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].MemoryMB != all[j].MemoryMB {
			return all[i].MemoryMB > all[j].MemoryMB
		}
		return all[i].PID < all[j].PID
	})

	limit := m.config.TopConsumers
	if limit <= 0 || limit > len(all) {
		limit = len(all)
	}
	for i, p := range all[:limit] {
		m.logger.Info("top memory consumer",
			zap.Int("position", i+1),
			zap.Int("pid", p.PID),
			zap.String("cmd", shortCommand(p.Command)),
			zap.String("rss", humanize.IBytes(p.MemoryMB*bytesPerMB)),
			cpuField(p))
	}
}

// cpuField omits the CPU of a first-seen process, which has no interval yet.
func cpuField(p domain.ProcessSnapshot) zap.Field {
	if p.Baseline {
		return zap.Skip()
	}
	return zap.Float64("cpu_percent", p.CPUPercent)
}

// pruneSuspended forgets pids whose resume already ran.
func (m *PressureMonitor) pruneSuspended() {
	for pid := range m.state.Suspended {
		if !m.executor.IsSuspended(pid) {
			delete(m.state.Suspended, pid)
		}
	}
}

func (m *PressureMonitor) publish(r domain.PressureReport) {
	if m.sink != nil {
		m.sink.PublishPressure(r)
	}
}

// Ensure PressureMonitor implements domain.PressureChecker.
var _ domain.PressureChecker = (*PressureMonitor)(nil)
