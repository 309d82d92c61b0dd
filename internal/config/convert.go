package config

import (
	"fmt"
	"time"

	"github.com/eliteGoblin/focusd/govd/internal/domain"
	"github.com/eliteGoblin/focusd/govd/internal/policy"
)

func defaultPressure() PressureConfig {
	t := policy.DefaultPressureThresholds()
	sacrifice := make([]SacrificeConfig, 0, 4)
	for _, e := range policy.DefaultSacrificeEntries() {
		sacrifice = append(sacrifice, SacrificeConfig{
			Name:        e.Name,
			Match:       MatcherFromDomain(e.Match),
			MinMemoryMB: e.MinMemoryMB,
		})
	}
	return PressureConfig{
		Enabled:            true,
		PSIPath:            "/proc/pressure/memory",
		WarningSome:        t.Warning.Some,
		WarningFull:        t.Warning.Full,
		CriticalSome:       t.Critical.Some,
		CriticalFull:       t.Critical.Full,
		WarningAction:      string(domain.WarnLog),
		WarningNice:        10,
		WarningSuspendSecs: 5,
		TopConsumers:       10,
		Sacrifice:          sacrifice,
	}
}

func defaultTargets() []TargetConfig {
	presets := policy.DefaultTargets()
	out := make([]TargetConfig, 0, len(presets))
	for _, t := range presets {
		out = append(out, TargetFromDomain(t))
	}
	return out
}

// TargetFromDomain converts a monitoring target to its serialized form.
func TargetFromDomain(t domain.MonitorTarget) TargetConfig {
	tc := TargetConfig{
		Name:          t.Name,
		Match:         MatcherFromDomain(t.Match),
		CPUPercent:    t.Thresholds.CPUPercent,
		MemoryMB:      t.Thresholds.MemoryMB,
		Action:        string(t.Action.Kind),
		Service:       t.Action.Service,
		NiceLevel:     t.Action.NiceLevel,
		SuspendSecs:   int(t.Action.SuspendFor / time.Second),
		MaxViolations: t.MaxViolations,
		CooldownSecs:  int(t.Cooldown / time.Second),
	}
	if t.KillTier != nil {
		tc.KillCPUPercent = t.KillTier.CPUPercent
		tc.KillMaxViolations = t.KillTier.MaxViolations
	}
	for _, ex := range t.Exclude {
		tc.Exclude = append(tc.Exclude, MatcherFromDomain(ex))
	}
	return tc
}

// MatcherFromDomain converts a matcher to its serialized form.
func MatcherFromDomain(m domain.Matcher) MatcherConfig {
	switch m.Kind {
	case domain.MatchExactName:
		return MatcherConfig{ExactName: m.Value}
	case domain.MatchPathContains:
		return MatcherConfig{PathContains: m.Value}
	default:
		mc := MatcherConfig{}
		for _, inner := range m.AnyOf {
			mc.AnyOf = append(mc.AnyOf, MatcherFromDomain(inner))
		}
		return mc
	}
}

// Matcher converts the serialized form back into a domain matcher.
func (m MatcherConfig) Matcher() domain.Matcher {
	switch {
	case m.ExactName != "":
		return domain.ExactName(m.ExactName)
	case m.PathContains != "":
		return domain.PathContains(m.PathContains)
	default:
		inner := make([]domain.Matcher, 0, len(m.AnyOf))
		for _, mc := range m.AnyOf {
			inner = append(inner, mc.Matcher())
		}
		return domain.AnyOf(inner...)
	}
}

// MonitorTarget converts one target config.
func (t TargetConfig) MonitorTarget() domain.MonitorTarget {
	mt := domain.MonitorTarget{
		Name:       t.Name,
		Match:      t.Match.Matcher(),
		Thresholds: domain.Thresholds{CPUPercent: t.CPUPercent, MemoryMB: t.MemoryMB},
		Action: domain.ActionPolicy{
			Kind:       domain.ActionKind(t.Action),
			NiceLevel:  t.NiceLevel,
			SuspendFor: time.Duration(t.SuspendSecs) * time.Second,
			Service:    t.Service,
		},
		MaxViolations: t.MaxViolations,
		Cooldown:      time.Duration(t.CooldownSecs) * time.Second,
	}
	if t.KillCPUPercent > 0 {
		mt.KillTier = &domain.KillTier{CPUPercent: t.KillCPUPercent, MaxViolations: t.KillMaxViolations}
	}
	for _, ex := range t.Exclude {
		mt.Exclude = append(mt.Exclude, ex.Matcher())
	}
	return mt
}

// Registry builds the ordered target registry from the enabled targets.
func (c *Config) Registry() (*policy.Registry, error) {
	var targets []domain.MonitorTarget
	for _, t := range c.Targets {
		if !t.IsEnabled() {
			continue
		}
		targets = append(targets, t.MonitorTarget())
	}
	r, err := policy.NewRegistryWithTargets(targets...)
	if err != nil {
		return nil, fmt.Errorf("build target registry: %w", err)
	}
	return r, nil
}

// SacrificeList builds the ranked reclaim list.
func (c *Config) SacrificeList() (*policy.SacrificeList, error) {
	entries := make([]domain.SacrificeEntry, 0, len(c.Pressure.Sacrifice))
	for _, s := range c.Pressure.Sacrifice {
		entries = append(entries, domain.SacrificeEntry{
			Name:        s.Name,
			Match:       s.Match.Matcher(),
			MinMemoryMB: s.MinMemoryMB,
		})
	}
	l, err := policy.NewSacrificeList(entries...)
	if err != nil {
		return nil, fmt.Errorf("build sacrifice list: %w", err)
	}
	return l, nil
}

// PressureThresholds returns the configured PSI tiers.
func (c *Config) PressureThresholds() domain.PressureThresholds {
	p := c.Pressure
	return domain.PressureThresholds{
		Warning:  domain.TierThresholds{Some: p.WarningSome, Full: p.WarningFull},
		Critical: domain.TierThresholds{Some: p.CriticalSome, Full: p.CriticalFull},
	}
}

func (c *Config) CheckInterval() time.Duration {
	return time.Duration(c.Monitoring.CheckIntervalSecs) * time.Second
}

func (c *Config) PressureInterval() time.Duration {
	return time.Duration(c.Monitoring.PressureIntervalSecs) * time.Second
}

func (c *Config) DeferredInterval() time.Duration {
	return time.Duration(c.Monitoring.DeferredIntervalMs) * time.Millisecond
}

func (c *Config) HeartbeatInterval() time.Duration {
	return time.Duration(c.Monitoring.HeartbeatIntervalSecs) * time.Second
}

func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Monitoring.ShutdownTimeoutSecs) * time.Second
}

func (c *Config) KillGrace() time.Duration {
	return time.Duration(c.Monitoring.KillGraceMs) * time.Millisecond
}

func (c *Config) ServiceTimeout() time.Duration {
	return time.Duration(c.Monitoring.ServiceTimeoutSecs) * time.Second
}

func (c *Config) WarningSuspend() time.Duration {
	return time.Duration(c.Pressure.WarningSuspendSecs) * time.Second
}

// AuditRetention is how long audit rows are kept.
func (c *Config) AuditRetention() time.Duration {
	return time.Duration(c.Storage.AuditRetentionDays) * 24 * time.Hour
}
