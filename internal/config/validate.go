package config

import (
	"fmt"
	"strings"

	"github.com/eliteGoblin/focusd/govd/internal/domain"
)

func validateMonitoring(m MonitoringConfig) error {
	checks := []struct {
		name     string
		value    int
		min, max int
	}{
		{"monitoring.check_interval_secs", m.CheckIntervalSecs, minIntervalSeconds, maxIntervalSeconds},
		{"monitoring.pressure_interval_secs", m.PressureIntervalSecs, minIntervalSeconds, maxIntervalSeconds},
		{"monitoring.deferred_interval_ms", m.DeferredIntervalMs, minDeferredIntervalMs, maxDeferredIntervalMs},
		{"monitoring.heartbeat_interval_secs", m.HeartbeatIntervalSecs, minIntervalSeconds, maxIntervalSeconds},
		{"monitoring.shutdown_timeout_secs", m.ShutdownTimeoutSecs, minShutdownSeconds, maxShutdownSeconds},
		{"monitoring.kill_grace_ms", m.KillGraceMs, minKillGraceMs, maxKillGraceMs},
		{"monitoring.service_timeout_secs", m.ServiceTimeoutSecs, minShutdownSeconds, maxShutdownSeconds},
		{"monitoring.sample_concurrency", m.SampleConcurrency, minSampleConcurrency, maxSampleConcurrency},
	}
	for _, c := range checks {
		if err := validateRange(c.name, c.value, c.min, c.max); err != nil {
			return err
		}
	}
	return nil
}

func validatePressure(p PressureConfig) error {
	percents := []struct {
		name  string
		value float64
	}{
		{"pressure.warning_some", p.WarningSome},
		{"pressure.warning_full", p.WarningFull},
		{"pressure.critical_some", p.CriticalSome},
		{"pressure.critical_full", p.CriticalFull},
	}
	for _, c := range percents {
		if err := validatePercent(c.name, c.value); err != nil {
			return err
		}
	}
	if p.WarningSome > p.CriticalSome {
		return fmt.Errorf("pressure.warning_some (%g) must not exceed pressure.critical_some (%g)", p.WarningSome, p.CriticalSome)
	}
	if p.WarningFull > p.CriticalFull {
		return fmt.Errorf("pressure.warning_full (%g) must not exceed pressure.critical_full (%g)", p.WarningFull, p.CriticalFull)
	}

	switch domain.WarningAction(p.WarningAction) {
	case domain.WarnLog, domain.WarnDeprioritize, domain.WarnSuspend:
	default:
		return fmt.Errorf("pressure.warning_action must be one of log, deprioritize, suspend, got %q", p.WarningAction)
	}
	if err := validateRange("pressure.warning_nice", p.WarningNice, minNice, maxNice); err != nil {
		return err
	}
	if err := validateRange("pressure.warning_suspend_secs", p.WarningSuspendSecs, minIntervalSeconds, maxIntervalSeconds); err != nil {
		return err
	}
	if err := validateRange("pressure.top_consumers", p.TopConsumers, minTopConsumers, maxTopConsumers); err != nil {
		return err
	}

	seen := make(map[string]bool, len(p.Sacrifice))
	for i, s := range p.Sacrifice {
		name := fmt.Sprintf("pressure.sacrifice[%d]", i)
		if strings.TrimSpace(s.Name) == "" {
			return fmt.Errorf("%s.name must not be empty", name)
		}
		if seen[s.Name] {
			return fmt.Errorf("%s: duplicate name %q", name, s.Name)
		}
		seen[s.Name] = true
		if err := s.Match.validate(name + ".match"); err != nil {
			return err
		}
	}
	return nil
}

func validateTargets(targets []TargetConfig) error {
	seen := make(map[string]bool, len(targets))
	for i, t := range targets {
		name := fmt.Sprintf("targets[%d]", i)
		if strings.TrimSpace(t.Name) == "" {
			return fmt.Errorf("%s.name must not be empty", name)
		}
		name = fmt.Sprintf("targets[%s]", t.Name)
		if seen[t.Name] {
			return fmt.Errorf("%s: duplicate target name", name)
		}
		seen[t.Name] = true

		if err := t.Match.validate(name + ".match"); err != nil {
			return err
		}
		for j, ex := range t.Exclude {
			if err := ex.validate(fmt.Sprintf("%s.exclude[%d]", name, j)); err != nil {
				return err
			}
		}

		if t.CPUPercent < 0 {
			return fmt.Errorf("%s.cpu_percent must not be negative, got %g", name, t.CPUPercent)
		}
		if t.CPUPercent == 0 && t.MemoryMB == 0 {
			return fmt.Errorf("%s: at least one of cpu_percent or memory_mb must be set", name)
		}

		kind := domain.ActionKind(t.Action)
		switch kind {
		case domain.ActionKill:
		case domain.ActionRestartService:
			if strings.TrimSpace(t.Service) == "" {
				return fmt.Errorf("%s.service must be set for action restart_service", name)
			}
		case domain.ActionDeprioritize:
			if err := validateRange(name+".nice_level", t.NiceLevel, minNice, maxNice); err != nil {
				return err
			}
		case domain.ActionSuspend:
			if err := validateRange(name+".suspend_secs", t.SuspendSecs, minIntervalSeconds, maxIntervalSeconds); err != nil {
				return err
			}
		default:
			return fmt.Errorf("%s.action must be one of kill, deprioritize, suspend, restart_service, got %q", name, t.Action)
		}

		if kind != domain.ActionKill {
			if err := validateRange(name+".max_violations", t.MaxViolations, minMaxViolations, maxMaxViolations); err != nil {
				return err
			}
			if err := validateRange(name+".cooldown_secs", t.CooldownSecs, 0, maxCooldownSeconds); err != nil {
				return err
			}
		}
		if err := t.validateKillTier(name); err != nil {
			return err
		}
	}
	return nil
}

func (t TargetConfig) validateKillTier(name string) error {
	if t.KillCPUPercent == 0 {
		if t.KillMaxViolations != 0 {
			return fmt.Errorf("%s.kill_max_violations needs kill_cpu_percent", name)
		}
		return nil
	}
	if domain.ActionKind(t.Action) == domain.ActionKill {
		return fmt.Errorf("%s: kill tier is only valid for counted actions", name)
	}
	if t.KillCPUPercent < 0 {
		return fmt.Errorf("%s.kill_cpu_percent must not be negative, got %g", name, t.KillCPUPercent)
	}
	if t.CPUPercent > 0 && t.KillCPUPercent <= t.CPUPercent {
		return fmt.Errorf("%s.kill_cpu_percent (%g) must exceed cpu_percent (%g)", name, t.KillCPUPercent, t.CPUPercent)
	}
	return validateRange(name+".kill_max_violations", t.KillMaxViolations, minMaxViolations, maxMaxViolations)
}

func (m MatcherConfig) validate(name string) error {
	set := 0
	if m.ExactName != "" {
		set++
	}
	if m.PathContains != "" {
		set++
	}
	if len(m.AnyOf) > 0 {
		set++
	}
	if set != 1 {
		return fmt.Errorf("%s must set exactly one of exact_name, path_contains, any_of", name)
	}
	for i, inner := range m.AnyOf {
		if err := inner.validate(fmt.Sprintf("%s.any_of[%d]", name, i)); err != nil {
			return err
		}
	}
	return nil
}
