// Package policy holds the governed process families: the ordered target
// registry, the sacrifice list used under memory pressure, and the presets
// shipped as defaults.
package policy

import (
	"time"

	"github.com/eliteGoblin/focusd/govd/internal/domain"
)

const (
	// DefaultCheckInterval is how often targets are sampled.
	DefaultCheckInterval = 3 * time.Second

	// DefaultPressureInterval is how often PSI is read.
	DefaultPressureInterval = 5 * time.Second

	// DefaultRestartCooldown is the minimum gap between two service restarts.
	DefaultRestartCooldown = 100 * time.Second
)

// DefaultPressureThresholds are the avg10 tiers used when none are configured.
func DefaultPressureThresholds() domain.PressureThresholds {
	return domain.PressureThresholds{
		Warning:  domain.TierThresholds{Some: 10, Full: 5},
		Critical: domain.TierThresholds{Some: 30, Full: 15},
	}
}
