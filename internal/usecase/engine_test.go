package usecase

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eliteGoblin/focusd/govd/internal/domain"
)

func svcTarget() domain.MonitorTarget {
	return domain.MonitorTarget{
		Name:          "svc",
		Match:         domain.ExactName("svc"),
		Thresholds:    domain.Thresholds{CPUPercent: 30},
		Action:        domain.ActionPolicy{Kind: domain.ActionRestartService, Service: "svc"},
		MaxViolations: 3,
		Cooldown:      100 * time.Second,
	}
}

func nodeTarget() domain.MonitorTarget {
	return domain.MonitorTarget{
		Name:       "node",
		Match:      domain.PathContains("node"),
		Thresholds: domain.Thresholds{CPUPercent: 80},
		Action:     domain.ActionPolicy{Kind: domain.ActionKill},
	}
}

func at(cpu float64) []domain.ProcessSnapshot {
	return []domain.ProcessSnapshot{snap(100, cpu, 50)}
}

func TestEngine_EscalatesOnThirdConsecutiveViolation(t *testing.T) {
	e := NewEngine([]domain.MonitorTarget{svcTarget()})
	clock := newFakeClock()
	target := svcTarget()

	verdicts := []Verdict{}
	for _, cpu := range []float64{35, 38, 40} {
		d := e.Evaluate(target, at(cpu), clock.Now())
		verdicts = append(verdicts, d.Verdict)
		clock.Advance(3 * time.Second)
	}

	assert.Equal(t, []Verdict{VerdictViolation, VerdictViolation, VerdictEscalate}, verdicts)

	state, ok := e.State("svc")
	require.True(t, ok)
	assert.Equal(t, 0, state.Count)
	assert.Equal(t, domain.PhaseCooldown, state.Phase(clock.Now(), target.Cooldown))
	assert.Equal(t, uint64(1), state.TotalActions)
	assert.Equal(t, uint64(3), state.TotalViolations)
}

func TestEngine_CleanSampleResetsCount(t *testing.T) {
	e := NewEngine([]domain.MonitorTarget{svcTarget()})
	now := newFakeClock().Now()
	target := svcTarget()

	e.Evaluate(target, at(40), now)
	e.Evaluate(target, at(40), now)
	d := e.Evaluate(target, at(20), now)
	assert.Equal(t, VerdictClean, d.Verdict)

	state, _ := e.State("svc")
	assert.Equal(t, 0, state.Count)

	d = e.Evaluate(target, at(40), now)
	assert.Equal(t, VerdictViolation, d.Verdict)
	assert.Equal(t, 1, d.Count)
}

func TestEngine_NoMatchedProcessesIsClean(t *testing.T) {
	e := NewEngine([]domain.MonitorTarget{svcTarget()})
	now := newFakeClock().Now()
	target := svcTarget()

	e.Evaluate(target, at(40), now)
	d := e.Evaluate(target, nil, now)
	assert.Equal(t, VerdictClean, d.Verdict)
	assert.Equal(t, 0, d.Count)
}

func TestEngine_ThresholdIsStrict(t *testing.T) {
	e := NewEngine([]domain.MonitorTarget{svcTarget()})
	d := e.Evaluate(svcTarget(), at(30), newFakeClock().Now())
	assert.Equal(t, VerdictClean, d.Verdict)
}

func TestEngine_BaselineSampleIgnoresCPU(t *testing.T) {
	e := NewEngine([]domain.MonitorTarget{svcTarget()})
	s := snap(100, 95, 50)
	s.Baseline = true
	d := e.Evaluate(svcTarget(), []domain.ProcessSnapshot{s}, newFakeClock().Now())
	assert.Equal(t, VerdictClean, d.Verdict)
}

// Scenario: after an escalation, a clean sample resets the count, the
// count climbs back to max within cooldown and escalation is held until
// the cooldown from the first escalation has elapsed.
func TestEngine_CooldownSuppressesSecondEscalation(t *testing.T) {
	e := NewEngine([]domain.MonitorTarget{svcTarget()})
	clock := newFakeClock()
	target := svcTarget()

	for i := 0; i < 3; i++ {
		e.Evaluate(target, at(40), clock.Now())
		clock.Advance(3 * time.Second)
	}
	escalatedAt := clock.Now().Add(-3 * time.Second)

	d := e.Evaluate(target, at(20), clock.Now())
	assert.Equal(t, VerdictClean, d.Verdict)
	assert.Equal(t, 0, d.Count)
	clock.Advance(3 * time.Second)

	var last Decision
	for i := 0; i < 3; i++ {
		last = e.Evaluate(target, at(40), clock.Now())
		clock.Advance(3 * time.Second)
	}
	assert.Equal(t, VerdictHeld, last.Verdict)
	assert.Equal(t, 3, last.Count)
	assert.Equal(t, domain.PhaseCooldown, last.Phase)

	// still inside cooldown: held, count stays at max
	d = e.Evaluate(target, at(40), clock.Now())
	assert.Equal(t, VerdictHeld, d.Verdict)
	assert.Equal(t, 3, d.Count)

	clock.Advance(escalatedAt.Add(target.Cooldown).Sub(clock.Now()))
	d = e.Evaluate(target, at(40), clock.Now())
	assert.Equal(t, VerdictEscalate, d.Verdict)
	assert.Equal(t, 0, d.Count)

	state, _ := e.State("svc")
	assert.Equal(t, uint64(2), state.TotalActions)
}

// Scenario: an immediate-kill target never gets a violation state.
func TestEngine_KillTargetHasNoState(t *testing.T) {
	target := nodeTarget()
	e := NewEngine([]domain.MonitorTarget{target})

	d := e.Evaluate(target, at(98), newFakeClock().Now())
	assert.Equal(t, VerdictKill, d.Verdict)
	assert.False(t, d.Counted)
	require.Len(t, d.Offenders, 1)

	_, ok := e.State("node")
	assert.False(t, ok)

	d = e.Evaluate(target, at(10), newFakeClock().Now())
	assert.Equal(t, VerdictClean, d.Verdict)
	assert.False(t, d.Act())
}

func TestEngine_EscalationFailedHoldsCountAtMax(t *testing.T) {
	e := NewEngine([]domain.MonitorTarget{svcTarget()})
	clock := newFakeClock()
	target := svcTarget()

	for i := 0; i < 3; i++ {
		e.Evaluate(target, at(40), clock.Now())
	}
	e.EscalationFailed(target)

	state, _ := e.State("svc")
	assert.Equal(t, 3, state.Count)
	assert.Equal(t, uint64(1), state.TotalFailures)
	assert.False(t, state.LastEscalation.IsZero())

	clock.Advance(target.Cooldown)
	d := e.Evaluate(target, at(40), clock.Now())
	assert.Equal(t, VerdictEscalate, d.Verdict, "first breach after cooldown retries")
}

func TestEngine_OffendersOrderedWorstFirst(t *testing.T) {
	target := domain.MonitorTarget{
		Name:       "multi",
		Thresholds: domain.Thresholds{CPUPercent: 50, MemoryMB: 100},
		Action:     domain.ActionPolicy{Kind: domain.ActionKill},
	}
	e := NewEngine([]domain.MonitorTarget{target})

	snaps := []domain.ProcessSnapshot{
		snap(30, 60, 10),  // cpu ratio 1.2
		snap(20, 90, 10),  // cpu ratio 1.8
		snap(10, 55, 180), // mem ratio 1.8, lower cpu
		snap(5, 10, 10),   // clean
	}
	d := e.Evaluate(target, snaps, newFakeClock().Now())

	require.Len(t, d.Offenders, 3)
	assert.Equal(t, 20, d.Offenders[0].Snapshot.PID)
	assert.Equal(t, 10, d.Offenders[1].Snapshot.PID)
	assert.Equal(t, 30, d.Offenders[2].Snapshot.PID)
	assert.Equal(t, domain.MetricMemory, d.Offenders[1].Worst().Metric)
}

func tieredTarget() domain.MonitorTarget {
	return domain.MonitorTarget{
		Name:          "browser",
		Match:         domain.PathContains("browser"),
		Thresholds:    domain.Thresholds{CPUPercent: 80},
		Action:        domain.ActionPolicy{Kind: domain.ActionSuspend, SuspendFor: 5 * time.Second},
		MaxViolations: 2,
		Cooldown:      30 * time.Second,
		KillTier:      &domain.KillTier{CPUPercent: 95, MaxViolations: 3},
	}
}

func TestEngine_KillTierFiresOnThirdCriticalTick(t *testing.T) {
	target := tieredTarget()
	e := NewEngine([]domain.MonitorTarget{target})
	clock := newFakeClock()

	var verdicts []Verdict
	var d Decision
	for i := 0; i < 3; i++ {
		d = e.Evaluate(target, at(97), clock.Now())
		verdicts = append(verdicts, d.Verdict)
		clock.Advance(3 * time.Second)
	}

	assert.Equal(t, []Verdict{VerdictViolation, VerdictViolation, VerdictTerminate}, verdicts)
	assert.True(t, d.Critical)
	assert.True(t, d.Act())
	require.Len(t, d.Offenders, 1)
	assert.Equal(t, 95.0, d.Offenders[0].Worst().Threshold)

	state, _ := e.State("browser")
	assert.Equal(t, 0, state.KillCount)
	assert.Equal(t, 0, state.Count)
	assert.True(t, state.LastEscalation.IsZero(), "kill tier does not start the cooldown")
}

func TestEngine_FirstTierTickResetsKillCount(t *testing.T) {
	target := tieredTarget()
	e := NewEngine([]domain.MonitorTarget{target})
	now := newFakeClock().Now()

	e.Evaluate(target, at(97), now)
	e.Evaluate(target, at(97), now)
	d := e.Evaluate(target, at(85), now)
	assert.Equal(t, VerdictViolation, d.Verdict)
	assert.False(t, d.Critical)

	state, _ := e.State("browser")
	assert.Equal(t, 0, state.KillCount)
	assert.Equal(t, 1, state.Count)

	d = e.Evaluate(target, at(97), now)
	assert.Equal(t, VerdictViolation, d.Verdict, "kill count restarted from zero")
	assert.Equal(t, 1, d.KillCount)
}

func TestEngine_CriticalTickKeepsFirstTierCount(t *testing.T) {
	target := tieredTarget()
	e := NewEngine([]domain.MonitorTarget{target})
	now := newFakeClock().Now()

	e.Evaluate(target, at(85), now)
	d := e.Evaluate(target, at(97), now)
	assert.Equal(t, 1, d.Count)

	d = e.Evaluate(target, at(85), now)
	assert.Equal(t, VerdictEscalate, d.Verdict)
}

func TestEngine_CleanTickResetsBothTiers(t *testing.T) {
	target := tieredTarget()
	e := NewEngine([]domain.MonitorTarget{target})
	now := newFakeClock().Now()

	e.Evaluate(target, at(85), now)
	e.Evaluate(target, at(97), now)
	e.Evaluate(target, at(20), now)

	state, _ := e.State("browser")
	assert.Equal(t, 0, state.Count)
	assert.Equal(t, 0, state.KillCount)
}

func TestEngine_KillTierIgnoresCooldown(t *testing.T) {
	target := tieredTarget()
	e := NewEngine([]domain.MonitorTarget{target})
	now := newFakeClock().Now()

	e.Evaluate(target, at(85), now)
	require.Equal(t, VerdictEscalate, e.Evaluate(target, at(85), now).Verdict)

	var d Decision
	for i := 0; i < 3; i++ {
		d = e.Evaluate(target, at(99), now)
	}
	assert.Equal(t, VerdictTerminate, d.Verdict)
	assert.Equal(t, domain.PhaseCooldown, d.Phase)
}

func TestEngine_KillTierSelectsOnlyCriticalProcesses(t *testing.T) {
	target := tieredTarget()
	e := NewEngine([]domain.MonitorTarget{target})

	snaps := []domain.ProcessSnapshot{snap(10, 85, 100), snap(20, 99, 100), snap(30, 96, 100)}
	d := e.Evaluate(target, snaps, newFakeClock().Now())

	require.Len(t, d.Offenders, 2)
	assert.Equal(t, 20, d.Offenders[0].Snapshot.PID)
	assert.Equal(t, 30, d.Offenders[1].Snapshot.PID)
}

func TestEngine_KillTierSkipsBaselineSample(t *testing.T) {
	target := tieredTarget()
	e := NewEngine([]domain.MonitorTarget{target})

	s := snap(10, 99, 100)
	s.Baseline = true
	d := e.Evaluate(target, []domain.ProcessSnapshot{s}, newFakeClock().Now())
	assert.Equal(t, VerdictClean, d.Verdict)
}

func TestEngine_KillTierFailedHoldsKillCount(t *testing.T) {
	target := tieredTarget()
	e := NewEngine([]domain.MonitorTarget{target})
	now := newFakeClock().Now()

	for i := 0; i < 3; i++ {
		e.Evaluate(target, at(97), now)
	}
	e.KillTierFailed(target)

	state, _ := e.State("browser")
	assert.Equal(t, 3, state.KillCount)
	assert.Equal(t, uint64(1), state.TotalFailures)
	assert.Equal(t, VerdictTerminate, e.Evaluate(target, at(97), now).Verdict)
}
