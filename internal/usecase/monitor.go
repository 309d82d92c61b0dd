// Package usecase contains the governor's business logic: sampling,
// decisions, actions and memory-pressure reclaim.
package usecase

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/govd/internal/domain"
)

// TargetSource is the ordered set of monitoring targets.
type TargetSource interface {
	domain.Classifier
	GetAll() []domain.MonitorTarget
}

// Monitor runs the per-tick target pipeline: sample, decide, act, report.
type Monitor struct {
	targets  TargetSource
	sampler  domain.Sampler
	engine   *Engine
	executor *Executor
	sink     domain.StatsSink
	logger   *zap.Logger
	now      func() time.Time
}

// NewMonitor creates a target monitor. sink may be nil.
func NewMonitor(
	targets TargetSource,
	sampler domain.Sampler,
	executor *Executor,
	sink domain.StatsSink,
	logger *zap.Logger,
) *Monitor {
	return &Monitor{
		targets:  targets,
		sampler:  sampler,
		engine:   NewEngine(targets.GetAll()),
		executor: executor,
		sink:     sink,
		logger:   logger,
		now:      time.Now,
	}
}

// WithClock replaces the time source (for tests).
func (m *Monitor) WithClock(now func() time.Time) *Monitor {
	m.now = now
	return m
}

// Engine exposes the decision engine (for status and tests).
func (m *Monitor) Engine() *Engine {
	return m.engine
}

// CheckTargets takes one snapshot and evaluates every target in registry
// order. Only a failed enumeration is returned as an error.
func (m *Monitor) CheckTargets(ctx context.Context) ([]domain.TargetResult, error) {
	families, err := m.sampler.Sample(ctx, m.targets)
	if err != nil {
		return nil, fmt.Errorf("sample processes: %w", err)
	}

	now := m.now()
	targets := m.targets.GetAll()
	results := make([]domain.TargetResult, 0, len(targets))
	for _, t := range targets {
		results = append(results, m.CheckTarget(ctx, t, families[t.Name], now))
	}

	if m.sink != nil {
		m.sink.PublishTargets(results)
	}
	return results, nil
}

// CheckTarget evaluates one target against its snapshots and dispatches
// the resulting action.
func (m *Monitor) CheckTarget(ctx context.Context, t domain.MonitorTarget, snaps []domain.ProcessSnapshot, now time.Time) domain.TargetResult {
	d := m.engine.Evaluate(t, snaps, now)

	result := domain.TargetResult{
		Target:      t.Name,
		Policy:      t.Action.String(),
		Matched:     len(snaps),
		Violation:   len(d.Offenders) > 0,
		Phase:       d.Phase,
		Held:        d.Verdict == VerdictHeld,
		EvaluatedAt: now,
	}
	if worst, ok := d.Worst(); ok {
		snap := worst.Snapshot
		result.Worst = &snap
		result.Breaches = worst.Breaches
	}

	switch {
	case d.Verdict == VerdictViolation && d.Critical:
		m.logger.Warn("kill tier violation",
			zap.String("target", t.Name),
			zap.Int("count", d.KillCount),
			zap.Int("max", t.KillTier.MaxViolations),
			zap.Int("pid", result.Worst.PID))
	case d.Verdict == VerdictViolation:
		m.logger.Info("threshold violation",
			zap.String("target", t.Name),
			zap.Int("count", d.Count),
			zap.Int("max", t.MaxViolations),
			zap.Int("pid", result.Worst.PID))
	case d.Verdict == VerdictHeld:
		m.logger.Info("escalation held by cooldown",
			zap.String("target", t.Name),
			zap.Duration("cooldown", t.Cooldown))
	}

	if d.Act() {
		subjects := make([]Subject, 0, len(d.Offenders))
		for _, o := range d.Offenders {
			b := o.Worst()
			subjects = append(subjects, Subject{Source: t.Name, Process: o.Snapshot, Breach: &b})
		}
		if d.Verdict == VerdictTerminate {
			result.Action = domain.ActionKill
			result.Outcomes = m.terminate(t, subjects)
		} else {
			result.Action = t.Action.Kind
			result.Outcomes = m.executor.Apply(ctx, t, subjects)
		}

		switch {
		case escalationSucceeded(result.Outcomes):
		case d.Verdict == VerdictTerminate:
			m.engine.KillTierFailed(t)
			m.logger.Warn("kill tier failed, will retry",
				zap.String("target", t.Name))
		case d.Counted:
			m.engine.EscalationFailed(t)
			m.logger.Warn("escalation failed, will retry after cooldown",
				zap.String("target", t.Name),
				zap.String("policy", result.Policy))
		}
	}

	if state, ok := m.engine.State(t.Name); ok {
		count := state.Count
		result.ViolationCount = &count
		result.Phase = state.Phase(now, t.Cooldown)
		if t.KillTier != nil {
			kills := state.KillCount
			result.KillCount = &kills
		}
	}
	return result
}

// terminate kills every process above a target's kill tier.
func (m *Monitor) terminate(t domain.MonitorTarget, subjects []Subject) []domain.ActionOutcome {
	m.logger.Warn("kill tier reached, terminating",
		zap.String("target", t.Name),
		zap.Int("processes", len(subjects)),
		zap.Float64("threshold", t.KillTier.CPUPercent))
	outcomes := make([]domain.ActionOutcome, 0, len(subjects))
	for _, s := range subjects {
		outcomes = append(outcomes, m.executor.Kill(s))
	}
	return outcomes
}

// escalationSucceeded reports whether at least one outcome took effect.
func escalationSucceeded(outcomes []domain.ActionOutcome) bool {
	for _, o := range outcomes {
		if o.Succeeded() {
			return true
		}
	}
	return false
}

// Ensure Monitor implements domain.TargetChecker.
var _ domain.TargetChecker = (*Monitor)(nil)
