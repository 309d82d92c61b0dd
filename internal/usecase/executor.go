package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/govd/internal/domain"
)

// ExecutorConfig holds action executor settings.
type ExecutorConfig struct {
	KillGrace      time.Duration // SIGTERM to SIGKILL (default 2s)
	ServiceTimeout time.Duration // bound on a service manager call
}

// DefaultExecutorConfig returns default executor configuration.
func DefaultExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		KillGrace:      2 * time.Second,
		ServiceTimeout: 10 * time.Second,
	}
}

// Subject is the process an action is applied to, and why.
type Subject struct {
	Source  string // target name or "pressure"
	Process domain.ProcessSnapshot
	Breach  *domain.Breach
	Rank    int // sacrifice rank, 0 outside reclaim
}

// Executor performs corrective actions. Signal actions return immediately;
// their follow-ups (resume, force kill) go through the scheduler.
type Executor struct {
	config    ExecutorConfig
	procs     domain.ProcessController
	services  domain.ServiceManager
	scheduler *Scheduler
	audit     *Auditor
	logger    *zap.Logger
	now       func() time.Time
}

// NewExecutor creates an action executor. services may be nil when no
// target restarts a unit.
func NewExecutor(
	config ExecutorConfig,
	procs domain.ProcessController,
	services domain.ServiceManager,
	scheduler *Scheduler,
	audit *Auditor,
	logger *zap.Logger,
) *Executor {
	return &Executor{
		config:    config,
		procs:     procs,
		services:  services,
		scheduler: scheduler,
		audit:     audit,
		logger:    logger,
		now:       time.Now,
	}
}

// WithClock replaces the time source (for tests).
func (x *Executor) WithClock(now func() time.Time) *Executor {
	x.now = now
	return x
}

// Apply runs a target's policy against its offenders.
// A service restart is issued once for the whole family.
func (x *Executor) Apply(ctx context.Context, target domain.MonitorTarget, offenders []Subject) []domain.ActionOutcome {
	if len(offenders) == 0 {
		return nil
	}

	switch target.Action.Kind {
	case domain.ActionRestartService:
		return []domain.ActionOutcome{x.RestartService(ctx, offenders[0], target.Action.Service)}
	case domain.ActionKill, domain.ActionDeprioritize, domain.ActionSuspend:
		outcomes := make([]domain.ActionOutcome, 0, len(offenders))
		for _, s := range offenders {
			switch target.Action.Kind {
			case domain.ActionKill:
				outcomes = append(outcomes, x.Kill(s))
			case domain.ActionDeprioritize:
				outcomes = append(outcomes, x.Deprioritize(s, target.Action.NiceLevel))
			case domain.ActionSuspend:
				outcomes = append(outcomes, x.Suspend(s, target.Action.SuspendFor))
			}
		}
		return outcomes
	default:
		x.logger.Error("unknown action policy",
			zap.String("target", target.Name),
			zap.String("action", string(target.Action.Kind)))
		return nil
	}
}

// Deprioritize changes the scheduling priority of one process.
func (x *Executor) Deprioritize(s Subject, nice int) domain.ActionOutcome {
	if o, blocked := x.guard(domain.ActionDeprioritize, s); blocked {
		return o
	}
	err := x.procs.SetPriority(s.Process.PID, nice)
	return x.finish(domain.ActionDeprioritize, s, classify(err), err, fmt.Sprintf("nice=%d", nice))
}

// Suspend stops one process and schedules its resume after d.
func (x *Executor) Suspend(s Subject, d time.Duration) domain.ActionOutcome {
	if o, blocked := x.guard(domain.ActionSuspend, s); blocked {
		return o
	}
	if t, ok := x.scheduler.Pending(s.Process.PID); ok {
		return x.finish(domain.ActionSuspend, s, domain.OutcomeSkipped, nil, "already "+pendingState(t.Kind))
	}

	err := x.procs.Suspend(s.Process.PID)
	status := classify(err)
	if status == domain.OutcomeApplied {
		x.scheduler.Schedule(domain.DeferredTask{
			PID:        s.Process.PID,
			CreateTime: s.Process.CreateTime,
			Kind:       domain.TaskResume,
			Due:        x.now().Add(d),
			Command:    s.Process.Command,
			Source:     s.Source,
		})
	}
	return x.finish(domain.ActionSuspend, s, status, err, "resume_in="+d.String())
}

// Kill sends SIGTERM and schedules the SIGKILL follow-up.
// A process that no longer exists counts as success.
func (x *Executor) Kill(s Subject) domain.ActionOutcome {
	if o, blocked := x.guard(domain.ActionKill, s); blocked {
		return o
	}
	pid := s.Process.PID
	if t, ok := x.scheduler.Pending(pid); ok && t.Kind == domain.TaskForceKill {
		return x.finish(domain.ActionKill, s, domain.OutcomeSkipped, nil, "already "+pendingState(t.Kind))
	}

	err := x.procs.Terminate(pid)
	status := classify(err)

	if status == domain.OutcomeApplied || status == domain.OutcomeGone {
		if t, ok := x.scheduler.Cancel(pid); ok && t.Kind == domain.TaskResume && status == domain.OutcomeApplied {
			// a stopped process cannot act on SIGTERM
			if err := x.procs.Resume(pid); err != nil && !errors.Is(err, domain.ErrProcessGone) {
				x.logger.Warn("failed to continue stopped process before kill",
					zap.Int("pid", pid),
					zap.Error(err))
			}
		}
	}
	if status == domain.OutcomeApplied {
		x.scheduler.Schedule(domain.DeferredTask{
			PID:        pid,
			CreateTime: s.Process.CreateTime,
			Kind:       domain.TaskForceKill,
			Due:        x.now().Add(x.config.KillGrace),
			Command:    s.Process.Command,
			Source:     s.Source,
		})
	}
	return x.finish(domain.ActionKill, s, status, err, "")
}

// RestartService asks the service manager to restart a unit, bounded by
// the configured timeout.
func (x *Executor) RestartService(ctx context.Context, s Subject, unit string) domain.ActionOutcome {
	entry := x.entry(domain.ActionRestartService, s)
	entry.Service = unit

	if x.services == nil {
		entry.Status = domain.OutcomeFailed
		entry.Detail = "no service manager configured"
		x.audit.Record(entry)
		return x.outcome(entry, errors.New(entry.Detail))
	}

	cctx, cancel := context.WithTimeout(ctx, x.config.ServiceTimeout)
	defer cancel()

	err := x.services.Restart(cctx, unit)
	switch {
	case err == nil:
		entry.Status = domain.OutcomeApplied
	case errors.Is(err, domain.ErrUnauthorized):
		entry.Status = domain.OutcomeFailed
		entry.Detail = "unauthorized: " + err.Error()
	case errors.Is(err, domain.ErrServiceTimeout), errors.Is(err, context.DeadlineExceeded):
		entry.Status = domain.OutcomeFailed
		entry.Detail = "timeout: " + err.Error()
	default:
		entry.Status = domain.OutcomeFailed
		entry.Detail = err.Error()
	}
	x.audit.Record(entry)
	return x.outcome(entry, err)
}

// Reload asks the service manager to reload unit files.
func (x *Executor) Reload(ctx context.Context) error {
	if x.services == nil {
		return nil
	}
	cctx, cancel := context.WithTimeout(ctx, x.config.ServiceTimeout)
	defer cancel()
	return x.services.Reload(cctx)
}

// IsSuspended reports whether pid has a pending resume.
func (x *Executor) IsSuspended(pid int) bool {
	t, ok := x.scheduler.Pending(pid)
	return ok && t.Kind == domain.TaskResume
}

// IsTerminating reports whether pid has a pending force kill.
func (x *Executor) IsTerminating(pid int) bool {
	t, ok := x.scheduler.Pending(pid)
	return ok && t.Kind == domain.TaskForceKill
}

// Pending returns the number of scheduled follow-ups.
func (x *Executor) Pending() int {
	return x.scheduler.Len()
}

// RunDue executes every follow-up whose due time has passed.
func (x *Executor) RunDue(ctx context.Context) []domain.ActionOutcome {
	tasks := x.scheduler.Due(x.now())
	outcomes := make([]domain.ActionOutcome, 0, len(tasks))
	for _, t := range tasks {
		outcomes = append(outcomes, x.runTask(t))
	}
	return outcomes
}

// Flush resumes every suspended process now, then performs pending force
// kills at their due time. Kills still pending when ctx ends are dropped.
func (x *Executor) Flush(ctx context.Context) []domain.ActionOutcome {
	tasks := x.scheduler.Drain()
	var outcomes []domain.ActionOutcome
	var kills []domain.DeferredTask

	for _, t := range tasks {
		if t.Kind == domain.TaskResume {
			outcomes = append(outcomes, x.runTask(t))
			continue
		}
		kills = append(kills, t)
	}
	if len(tasks) > 0 {
		x.logger.Info("flushed deferred resumes",
			zap.Int("resumed", len(outcomes)),
			zap.Int("pending_kills", len(kills)))
	}
	return append(outcomes, x.waitAndRun(ctx, kills)...)
}

// Drain waits out every pending follow-up at its due time, then flushes
// anything left when ctx ends. Used by one-shot runs.
func (x *Executor) Drain(ctx context.Context) []domain.ActionOutcome {
	outcomes := x.waitAndRun(ctx, x.scheduler.Drain())
	return append(outcomes, x.Flush(context.Background())...)
}

func (x *Executor) waitAndRun(ctx context.Context, tasks []domain.DeferredTask) []domain.ActionOutcome {
	var outcomes []domain.ActionOutcome
	for i, t := range tasks {
		if wait := t.Due.Sub(x.now()); wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				// put back what was not run so a later flush still sees it
				for _, rest := range tasks[i:] {
					x.scheduler.Schedule(rest)
				}
				x.logger.Warn("deferred tasks left unexecuted",
					zap.Int("count", len(tasks)-i),
					zap.Error(ctx.Err()))
				return outcomes
			case <-timer.C:
			}
		}
		outcomes = append(outcomes, x.runTask(t))
	}
	return outcomes
}

func (x *Executor) runTask(t domain.DeferredTask) domain.ActionOutcome {
	s := Subject{
		Source:  t.Source,
		Process: domain.ProcessSnapshot{PID: t.PID, Command: t.Command, CreateTime: t.CreateTime},
	}

	switch t.Kind {
	case domain.TaskResume:
		if !x.sameProcess(t) {
			return x.finish(domain.ActionResume, s, domain.OutcomeGone, nil, "pid no longer names the suspended process")
		}
		// unconditional: load is not rechecked
		err := x.procs.Resume(t.PID)
		return x.finish(domain.ActionResume, s, classify(err), err, "")

	case domain.TaskForceKill:
		if !x.sameProcess(t) {
			x.logger.Debug("process exited after SIGTERM",
				zap.Int("pid", t.PID),
				zap.String("source", t.Source))
			return domain.ActionOutcome{
				Action: domain.ActionForceKill,
				PID:    t.PID,
				Status: domain.OutcomeGone,
				At:     x.now(),
			}
		}
		err := x.procs.ForceKill(t.PID)
		return x.finish(domain.ActionForceKill, s, classify(err), err, "still alive after grace period")

	default:
		return domain.ActionOutcome{PID: t.PID, Status: domain.OutcomeSkipped, At: x.now()}
	}
}

// sameProcess reports whether the task's pid is still held by the process
// it was scheduled for. A reused pid has a different create time.
func (x *Executor) sameProcess(t domain.DeferredTask) bool {
	if t.CreateTime == 0 {
		return x.procs.Exists(t.PID)
	}
	ct, err := x.procs.CreateTime(t.PID)
	if err != nil {
		if !errors.Is(err, domain.ErrProcessGone) {
			x.logger.Warn("cannot verify process identity, skipping follow-up",
				zap.Int("pid", t.PID),
				zap.String("task", string(t.Kind)),
				zap.Error(err))
		}
		return false
	}
	if ct != t.CreateTime {
		x.logger.Info("pid reused before follow-up, skipping",
			zap.Int("pid", t.PID),
			zap.String("task", string(t.Kind)),
			zap.String("source", t.Source))
		return false
	}
	return true
}

// guard refuses to act on the daemon itself or on init.
func (x *Executor) guard(action domain.ActionKind, s Subject) (domain.ActionOutcome, bool) {
	pid := s.Process.PID
	if pid <= 1 || pid == x.procs.Self() {
		return x.finish(action, s, domain.OutcomeSkipped, nil, "protected pid"), true
	}
	return domain.ActionOutcome{}, false
}

func (x *Executor) finish(action domain.ActionKind, s Subject, status domain.OutcomeStatus, err error, detail string) domain.ActionOutcome {
	entry := x.entry(action, s)
	entry.Status = status
	entry.Detail = detail
	if err != nil && status != domain.OutcomeGone {
		if entry.Detail != "" {
			entry.Detail += ": "
		}
		entry.Detail += err.Error()
	}
	x.audit.Record(entry)
	return x.outcome(entry, err)
}

func (x *Executor) entry(action domain.ActionKind, s Subject) domain.AuditEntry {
	e := domain.AuditEntry{
		At:      x.now(),
		Source:  s.Source,
		Action:  action,
		PID:     s.Process.PID,
		Command: s.Process.Command,
		Rank:    s.Rank,
	}
	if s.Breach != nil {
		e.Metric = string(s.Breach.Metric)
		e.Value = s.Breach.Value
		e.Threshold = s.Breach.Threshold
	}
	return e
}

func (x *Executor) outcome(e domain.AuditEntry, err error) domain.ActionOutcome {
	o := domain.ActionOutcome{
		Action:  e.Action,
		PID:     e.PID,
		Service: e.Service,
		Status:  e.Status,
		At:      e.At,
	}
	if err != nil && e.Status != domain.OutcomeGone {
		o.Error = err.Error()
	}
	return o
}

// classify maps an OS error onto an outcome. A vanished process is a
// success-equivalent, a refused one is a skip.
func classify(err error) domain.OutcomeStatus {
	switch {
	case err == nil:
		return domain.OutcomeApplied
	case errors.Is(err, domain.ErrProcessGone):
		return domain.OutcomeGone
	case errors.Is(err, domain.ErrPermissionDenied):
		return domain.OutcomeSkipped
	default:
		return domain.OutcomeFailed
	}
}

func pendingState(k domain.TaskKind) string {
	if k == domain.TaskForceKill {
		return "terminating"
	}
	return "suspended"
}

// Ensure Executor implements domain.DeferredRunner.
var _ domain.DeferredRunner = (*Executor)(nil)
