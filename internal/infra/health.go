package infra

import (
	"context"
	"fmt"

	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/eliteGoblin/focusd/govd/internal/domain"
)

const bytesPerMB = 1024 * 1024

// HealthProbe implements domain.HealthProbe using gopsutil.
type HealthProbe struct{}

// NewHealthProbe creates a host health probe.
func NewHealthProbe() *HealthProbe {
	return &HealthProbe{}
}

// Health reads load averages and memory usage.
func (h *HealthProbe) Health(ctx context.Context) (domain.SystemHealth, error) {
	avg, err := load.AvgWithContext(ctx)
	if err != nil {
		return domain.SystemHealth{}, fmt.Errorf("read load average: %w", err)
	}
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return domain.SystemHealth{}, fmt.Errorf("read memory usage: %w", err)
	}

	return domain.SystemHealth{
		Load1:          avg.Load1,
		Load5:          avg.Load5,
		Load15:         avg.Load15,
		MemTotalMB:     vm.Total / bytesPerMB,
		MemUsedMB:      vm.Used / bytesPerMB,
		MemAvailableMB: vm.Available / bytesPerMB,
		MemUsedPercent: vm.UsedPercent,
	}, nil
}

var _ domain.HealthProbe = (*HealthProbe)(nil)
