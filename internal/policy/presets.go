package policy

import (
	"time"

	"github.com/eliteGoblin/focusd/govd/internal/domain"
)

// KeslTarget governs the Kaspersky endpoint agent. It is restarted through
// systemd when it keeps spinning or bloating.
func KeslTarget() domain.MonitorTarget {
	return domain.MonitorTarget{
		Name:  "kesl",
		Match: domain.PathContains("/opt/kaspersky/kesl/libexec/kesl"),
		Exclude: []domain.Matcher{
			domain.PathContains("wdserver"),
			domain.PathContains("kesl-starter"),
		},
		Thresholds:    domain.Thresholds{CPUPercent: 30, MemoryMB: 600},
		Action:        domain.ActionPolicy{Kind: domain.ActionRestartService, Service: "kesl"},
		MaxViolations: 3,
		Cooldown:      DefaultRestartCooldown,
	}
}

// NodeTarget kills runaway node processes on sight.
func NodeTarget() domain.MonitorTarget {
	return domain.MonitorTarget{
		Name:       "node",
		Match:      domain.ExactName("node"),
		Thresholds: domain.Thresholds{CPUPercent: 80},
		Action:     domain.ActionPolicy{Kind: domain.ActionKill},
	}
}

// SnapTarget lowers the priority of snapd refresh storms.
func SnapTarget() domain.MonitorTarget {
	return domain.MonitorTarget{
		Name:          "snap",
		Match:         domain.AnyOf(domain.ExactName("snapd"), domain.PathContains("/snap/")),
		Thresholds:    domain.Thresholds{CPUPercent: 300},
		Action:        domain.ActionPolicy{Kind: domain.ActionDeprioritize, NiceLevel: 15},
		MaxViolations: 3,
		Cooldown:      60 * time.Second,
	}
}

// BrowserTarget pauses a desktop app for a few seconds when it pegs the CPU
// and kills the processes that stay near a full core.
func BrowserTarget(name string) domain.MonitorTarget {
	return domain.MonitorTarget{
		Name:          name,
		Match:         domain.PathContains(name),
		Thresholds:    domain.Thresholds{CPUPercent: 80},
		Action:        domain.ActionPolicy{Kind: domain.ActionSuspend, SuspendFor: 5 * time.Second},
		MaxViolations: 2,
		Cooldown:      30 * time.Second,
		KillTier:      &domain.KillTier{CPUPercent: 95, MaxViolations: 3},
	}
}

// DefaultTargets returns the presets in registry order.
func DefaultTargets() []domain.MonitorTarget {
	return []domain.MonitorTarget{
		KeslTarget(),
		NodeTarget(),
		SnapTarget(),
		BrowserTarget("firefox"),
		BrowserTarget("brave"),
		BrowserTarget("telegram"),
	}
}

// DefaultSacrificeEntries returns the reclaim order: browsers and
// messengers first, an editor only when it is very large.
func DefaultSacrificeEntries() []domain.SacrificeEntry {
	return []domain.SacrificeEntry{
		{Name: "brave", Match: domain.PathContains("brave")},
		{Name: "telegram", Match: domain.PathContains("telegram")},
		{Name: "nvim", Match: domain.ExactName("nvim"), MinMemoryMB: 1024},
		{Name: "firefox", Match: domain.PathContains("firefox")},
	}
}

// DefaultSacrificeList builds the default ranked list.
func DefaultSacrificeList() *SacrificeList {
	l, _ := NewSacrificeList(DefaultSacrificeEntries()...)
	return l
}
