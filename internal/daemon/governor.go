// Package daemon runs the governor loop and spawns detached instances.
package daemon

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/govd/internal/domain"
)

// GovernorConfig holds the loop cadences.
type GovernorConfig struct {
	CheckInterval     time.Duration // target pass (default 3s)
	PressureInterval  time.Duration // PSI check (default 5s)
	DeferredInterval  time.Duration // resume / force-kill follow-ups (default 250ms)
	HeartbeatInterval time.Duration // instance heartbeat, health, audit prune
	ShutdownTimeout   time.Duration // bound on the final flush
	AuditRetention    time.Duration // 0 keeps audit rows forever
}

// DefaultGovernorConfig returns default loop configuration.
func DefaultGovernorConfig() GovernorConfig {
	return GovernorConfig{
		CheckInterval:     3 * time.Second,
		PressureInterval:  5 * time.Second,
		DeferredInterval:  250 * time.Millisecond,
		HeartbeatInterval: 30 * time.Second,
		ShutdownTimeout:   5 * time.Second,
		AuditRetention:    30 * 24 * time.Hour,
	}
}

// Governor drives every pipeline from one goroutine, so ticks never overlap.
type Governor struct {
	config   GovernorConfig
	targets  domain.TargetChecker
	pressure domain.PressureChecker // nil when pressure monitoring is off
	deferred domain.DeferredRunner
	registry domain.InstanceRegistry
	health   domain.HealthProbe
	sink     domain.StatsSink
	audit    domain.AuditStore // nil when the audit store is off
	instance domain.Instance
	logger   *zap.Logger
	now      func() time.Time
}

// NewGovernor creates the daemon loop.
func NewGovernor(
	config GovernorConfig,
	targets domain.TargetChecker,
	pressure domain.PressureChecker,
	deferred domain.DeferredRunner,
	registry domain.InstanceRegistry,
	health domain.HealthProbe,
	sink domain.StatsSink,
	audit domain.AuditStore,
	instance domain.Instance,
	logger *zap.Logger,
) *Governor {
	return &Governor{
		config:   config,
		targets:  targets,
		pressure: pressure,
		deferred: deferred,
		registry: registry,
		health:   health,
		sink:     sink,
		audit:    audit,
		instance: instance,
		logger:   logger,
		now:      time.Now,
	}
}

// Run registers the instance and blocks until ctx is canceled. On the way
// out every suspended process is resumed and pending kills are finished
// within the shutdown timeout.
func (g *Governor) Run(ctx context.Context) error {
	if err := g.registry.Register(g.instance); err != nil {
		g.logger.Error("failed to register instance", zap.Error(err))
		return err
	}
	defer func() {
		if err := g.registry.Release(g.instance.PID); err != nil {
			g.logger.Warn("failed to release instance record", zap.Error(err))
		}
	}()

	g.logger.Info("governor started",
		zap.Int("pid", g.instance.PID),
		zap.String("version", g.instance.Version),
		zap.String("config", g.instance.ConfigPath),
		zap.Duration("check_interval", g.config.CheckInterval),
		zap.Bool("pressure", g.pressure != nil))

	g.publishHealth(ctx)
	g.runTargets(ctx)
	g.runPressure(ctx)

	checkTicker := time.NewTicker(g.config.CheckInterval)
	deferredTicker := time.NewTicker(g.config.DeferredInterval)
	heartbeatTicker := time.NewTicker(g.config.HeartbeatInterval)
	defer func() {
		checkTicker.Stop()
		deferredTicker.Stop()
		heartbeatTicker.Stop()
	}()

	var pressureC <-chan time.Time
	if g.pressure != nil {
		pressureTicker := time.NewTicker(g.config.PressureInterval)
		defer pressureTicker.Stop()
		pressureC = pressureTicker.C
	}

	for {
		select {
		case <-ctx.Done():
			g.shutdown()
			return ctx.Err()

		case <-checkTicker.C:
			g.runTargets(ctx)

		case <-pressureC:
			g.runPressure(ctx)

		case <-deferredTicker.C:
			g.deferred.RunDue(ctx)

		case <-heartbeatTicker.C:
			g.heartbeat(ctx)
		}
	}
}

// runTargets executes one target pass.
func (g *Governor) runTargets(ctx context.Context) {
	results, err := g.targets.CheckTargets(ctx)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			g.logger.Error("target check failed", zap.Error(err))
		}
		return
	}

	var violations, actions int
	for _, r := range results {
		if r.Violation {
			violations++
		}
		actions += len(r.Outcomes)
	}
	if actions > 0 {
		g.logger.Info("target check completed",
			zap.Int("targets", len(results)),
			zap.Int("violations", violations),
			zap.Int("actions", actions))
	}
}

func (g *Governor) runPressure(ctx context.Context) {
	if g.pressure == nil {
		return
	}
	if _, err := g.pressure.CheckPressure(ctx); err != nil && !errors.Is(err, context.Canceled) {
		g.logger.Warn("pressure check failed", zap.Error(err))
	}
}

func (g *Governor) heartbeat(ctx context.Context) {
	if err := g.registry.Heartbeat(); err != nil {
		g.logger.Warn("failed to update heartbeat", zap.Error(err))
	}
	g.publishHealth(ctx)
	g.pruneAudit()
}

func (g *Governor) publishHealth(ctx context.Context) {
	if g.health == nil {
		return
	}
	h, err := g.health.Health(ctx)
	if err != nil {
		g.logger.Debug("health probe failed", zap.Error(err))
		return
	}
	g.sink.PublishHealth(h)
}

func (g *Governor) pruneAudit() {
	if g.audit == nil || g.config.AuditRetention <= 0 {
		return
	}
	n, err := g.audit.Prune(g.now().Add(-g.config.AuditRetention))
	if err != nil {
		g.logger.Warn("failed to prune audit store", zap.Error(err))
		return
	}
	if n > 0 {
		g.logger.Info("pruned audit entries", zap.Int64("deleted", n))
	}
}

// shutdown flushes deferred work with a fresh deadline; the run context is
// already canceled.
func (g *Governor) shutdown() {
	g.logger.Info("governor stopping", zap.Int("pending", g.deferred.Pending()))

	ctx, cancel := context.WithTimeout(context.Background(), g.config.ShutdownTimeout)
	defer cancel()

	outcomes := g.deferred.Flush(ctx)
	if left := g.deferred.Pending(); left > 0 {
		g.logger.Warn("shutdown deadline reached with pending tasks", zap.Int("pending", left))
	}
	g.logger.Info("governor stopped", zap.Int("flushed", len(outcomes)))
}
