package usecase

import (
	"sort"
	"time"

	"github.com/eliteGoblin/focusd/govd/internal/domain"
)

// Verdict is the engine's decision for one target on one tick.
type Verdict int

const (
	// VerdictClean: nothing breached, count reset.
	VerdictClean Verdict = iota
	// VerdictViolation: breach recorded, below escalation.
	VerdictViolation
	// VerdictHeld: escalation due but suppressed by cooldown.
	VerdictHeld
	// VerdictEscalate: run the counted policy now.
	VerdictEscalate
	// VerdictKill: immediate-kill target with breaching processes.
	VerdictKill
	// VerdictTerminate: kill tier of a counted target fired.
	VerdictTerminate
)

func (v Verdict) String() string {
	switch v {
	case VerdictViolation:
		return "violation"
	case VerdictHeld:
		return "held"
	case VerdictEscalate:
		return "escalate"
	case VerdictKill:
		return "kill"
	case VerdictTerminate:
		return "terminate"
	default:
		return "clean"
	}
}

// Offender is a breaching process with its breaches.
type Offender struct {
	Snapshot domain.ProcessSnapshot
	Breaches []domain.Breach
}

// Worst returns the breach furthest over its threshold.
func (o Offender) Worst() domain.Breach {
	var worst domain.Breach
	for i, b := range o.Breaches {
		if i == 0 || b.Ratio() > worst.Ratio() {
			worst = b
		}
	}
	return worst
}

// Decision is the engine output for one target.
type Decision struct {
	Target    string
	Verdict   Verdict
	Offenders []Offender // worst first
	Count     int
	KillCount int
	Critical  bool // offenders are above the kill tier
	Counted   bool
	Phase     domain.TargetPhase
}

// Act reports whether the decision requires the executor.
func (d Decision) Act() bool {
	return d.Verdict == VerdictEscalate || d.Verdict == VerdictKill || d.Verdict == VerdictTerminate
}

// Worst returns the worst offender, if any.
func (d Decision) Worst() (Offender, bool) {
	if len(d.Offenders) == 0 {
		return Offender{}, false
	}
	return d.Offenders[0], true
}

// Engine is the per-target hysteresis and cooldown state machine.
// It owns every ViolationState; kill-policy targets never get one.
type Engine struct {
	states map[string]*domain.ViolationState
}

// NewEngine allocates state for every counted target.
func NewEngine(targets []domain.MonitorTarget) *Engine {
	e := &Engine{states: make(map[string]*domain.ViolationState)}
	for _, t := range targets {
		if t.Action.Counted() {
			e.states[t.Name] = &domain.ViolationState{}
		}
	}
	return e
}

// State returns a copy of a target's violation state. The second return
// is false for kill-policy or unknown targets.
func (e *Engine) State(name string) (domain.ViolationState, bool) {
	s, ok := e.states[name]
	if !ok {
		return domain.ViolationState{}, false
	}
	return *s, true
}

// Evaluate decides for one target given the tick's snapshots.
func (e *Engine) Evaluate(t domain.MonitorTarget, snaps []domain.ProcessSnapshot, now time.Time) Decision {
	d := Decision{
		Target:    t.Name,
		Offenders: offenders(t, snaps),
		Counted:   t.Action.Counted(),
	}

	if !d.Counted {
		if len(d.Offenders) > 0 {
			d.Verdict = VerdictKill
		}
		return d
	}

	state, ok := e.states[t.Name]
	if !ok {
		state = &domain.ViolationState{}
		e.states[t.Name] = state
	}

	if critical := criticals(t, snaps); len(critical) > 0 {
		return e.evaluateKillTier(t, state, d, critical, now)
	}
	state.KillCount = 0

	if len(d.Offenders) == 0 {
		state.Count = 0
		d.Verdict = VerdictClean
		d.Phase = state.Phase(now, t.Cooldown)
		return d
	}

	state.TotalViolations++
	state.Count++
	limit := maxOf(t.MaxViolations)

	switch {
	case state.Count < limit:
		d.Verdict = VerdictViolation
	case state.InCooldown(now, t.Cooldown):
		state.Count = limit
		d.Verdict = VerdictHeld
	default:
		state.Count = 0
		state.LastEscalation = now
		state.TotalActions++
		d.Verdict = VerdictEscalate
	}

	d.Count = state.Count
	d.Phase = state.Phase(now, t.Cooldown)
	return d
}

// EscalationFailed records that the escalation action did not succeed.
// The cooldown timestamp stays; the count is held at max so the first
// breach after cooldown retries.
func (e *Engine) EscalationFailed(t domain.MonitorTarget) {
	state, ok := e.states[t.Name]
	if !ok {
		return
	}
	state.TotalFailures++
	state.Count = maxOf(t.MaxViolations)
}

// evaluateKillTier counts a tick with processes above the kill tier. The
// first-tier count is left alone until the kill fires, which resets both.
// The cooldown does not apply.
func (e *Engine) evaluateKillTier(t domain.MonitorTarget, state *domain.ViolationState, d Decision, critical []Offender, now time.Time) Decision {
	d.Offenders = critical
	d.Critical = true
	state.TotalViolations++
	state.KillCount++

	if state.KillCount < maxOf(t.KillTier.MaxViolations) {
		d.Verdict = VerdictViolation
	} else {
		state.KillCount = 0
		state.Count = 0
		state.TotalActions++
		d.Verdict = VerdictTerminate
	}

	d.Count = state.Count
	d.KillCount = state.KillCount
	d.Phase = state.Phase(now, t.Cooldown)
	return d
}

// KillTierFailed records that no process of a fired kill tier was
// terminated. The kill count is held at max so the next critical tick
// retries.
func (e *Engine) KillTierFailed(t domain.MonitorTarget) {
	state, ok := e.states[t.Name]
	if !ok || t.KillTier == nil {
		return
	}
	state.TotalFailures++
	state.KillCount = maxOf(t.KillTier.MaxViolations)
}

func maxOf(n int) int {
	if n < 1 {
		return 1
	}
	return n
}

// criticals returns the snapshots above the kill tier, worst first.
func criticals(t domain.MonitorTarget, snaps []domain.ProcessSnapshot) []Offender {
	if t.KillTier == nil {
		return nil
	}
	var out []Offender
	for _, s := range snaps {
		if t.KillTier.Critical(s) {
			out = append(out, Offender{Snapshot: s, Breaches: []domain.Breach{{
				PID:       s.PID,
				Metric:    domain.MetricCPU,
				Value:     s.CPUPercent,
				Threshold: t.KillTier.CPUPercent,
			}}})
		}
	}
	sortOffenders(out)
	return out
}

// offenders returns breaching snapshots ordered worst first: highest
// value/threshold ratio, then higher CPU, then lower PID.
func offenders(t domain.MonitorTarget, snaps []domain.ProcessSnapshot) []Offender {
	var out []Offender
	for _, s := range snaps {
		if b := t.Check(s); len(b) > 0 {
			out = append(out, Offender{Snapshot: s, Breaches: b})
		}
	}
	sortOffenders(out)
	return out
}

func sortOffenders(out []Offender) {
	sort.SliceStable(out, func(i, j int) bool {
		ri, rj := out[i].Worst().Ratio(), out[j].Worst().Ratio()
		if ri != rj {
			return ri > rj
		}
		if out[i].Snapshot.CPUPercent != out[j].Snapshot.CPUPercent {
			return out[i].Snapshot.CPUPercent > out[j].Snapshot.CPUPercent
		}
		return out[i].Snapshot.PID < out[j].Snapshot.PID
	})
}
