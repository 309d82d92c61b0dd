package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/govd/internal/config"
	"github.com/eliteGoblin/focusd/govd/internal/daemon"
	"github.com/eliteGoblin/focusd/govd/internal/domain"
	"github.com/eliteGoblin/focusd/govd/internal/infra"
	"github.com/eliteGoblin/focusd/govd/internal/policy"
	"github.com/eliteGoblin/focusd/govd/internal/usecase"
)

const replaceTimeout = 10 * time.Second

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the governor in the foreground",
	Long: `Runs the governor daemon in the foreground until SIGINT or SIGTERM.
This is the command a systemd unit should execute. On shutdown every
process suspended by govd is resumed.`,
	RunE: runDaemon,
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the governor detached from the terminal",
	RunE:  runStart,
}

// loadConfig resolves --config, falling back to the exec mode's default
// path. A missing default file means built-in defaults.
func loadConfig() (*config.Config, string, error) {
	mode := infra.DetectExecMode()
	base := config.DefaultConfigFor(pathsFor(mode))

	path := configPath
	if path == "" {
		path = mode.ConfigPath
	}
	cfg, err := config.LoadWithDefaults(path, base)
	if err == nil {
		return cfg, path, nil
	}
	if configPath == "" && errors.Is(err, fs.ErrNotExist) {
		cfg, err := config.NormalizeAndValidate(base)
		return cfg, "", err
	}
	return nil, path, fmt.Errorf("load config: %w", err)
}

func pathsFor(mode *infra.ExecModeConfig) config.Paths {
	return config.Paths{
		LogDir:    mode.LogDir,
		DataDir:   mode.DataDir,
		StatsPath: mode.StatsPath,
	}
}

// components is everything the target and pressure pipelines need.
type components struct {
	cfg       *config.Config
	logger    *zap.Logger
	table     *infra.ProcessTable
	procs     *infra.ProcessController
	targets   *policy.Registry
	sacrifice *policy.SacrificeList
	services  domain.ServiceManager // nil without a system bus
	audit     domain.AuditStore     // nil when disabled or unavailable
	stats     *infra.StatsFile
	sampler   *usecase.SnapshotReader
	executor  *usecase.Executor
	monitor   *usecase.Monitor
	pressure  *usecase.PressureMonitor // nil when disabled

	closers []func() error
}

// buildComponents wires the core. statsPath "" keeps stats in memory.
func buildComponents(cfg *config.Config, logger, actions *zap.Logger, statsPath string) (*components, error) {
	c := &components{
		cfg:    cfg,
		logger: logger,
		table:  infra.NewProcessTable(),
		procs:  infra.NewProcessController(),
	}

	var err error
	if c.targets, err = cfg.Registry(); err != nil {
		return nil, err
	}
	if c.sacrifice, err = cfg.SacrificeList(); err != nil {
		return nil, err
	}

	if needsServiceManager(cfg, c.targets) {
		sm, err := infra.NewSystemdManager()
		if err != nil {
			logger.Warn("service manager unavailable, restart_service actions will fail", zap.Error(err))
		} else {
			c.services = sm
			c.closers = append(c.closers, sm.Close)
		}
	}

	if cfg.Storage.AuditEnabled {
		store, err := openAuditStore(cfg)
		if err != nil {
			logger.Warn("audit store unavailable, actions are only logged",
				zap.String("path", cfg.AuditDBPath()),
				zap.Error(err))
		} else {
			c.audit = store
			c.closers = append(c.closers, store.Close)
		}
	}

	c.stats = infra.NewStatsFile(statsPath, Version, logger)

	auditor := usecase.NewAuditor(logger, actions, c.audit)
	c.executor = usecase.NewExecutor(
		usecase.ExecutorConfig{KillGrace: cfg.KillGrace(), ServiceTimeout: cfg.ServiceTimeout()},
		c.procs, c.services, usecase.NewScheduler(), auditor, logger)

	self := c.procs.Self()
	c.sampler = usecase.NewSnapshotReader(c.table, self, logger).
		WithConcurrency(cfg.Monitoring.SampleConcurrency)
	c.monitor = usecase.NewMonitor(c.targets, c.sampler, c.executor, c.stats, logger)

	if cfg.Pressure.Enabled {
		// separate reader: reclaim samples different families at a different cadence
		pressureSampler := usecase.NewSnapshotReader(c.table, self, logger).
			WithConcurrency(cfg.Monitoring.SampleConcurrency)
		c.pressure = usecase.NewPressureMonitor(
			usecase.PressureConfig{
				Thresholds:     cfg.PressureThresholds(),
				WarningAction:  domain.WarningAction(cfg.Pressure.WarningAction),
				WarningNice:    cfg.Pressure.WarningNice,
				WarningSuspend: cfg.WarningSuspend(),
				TopConsumers:   cfg.Pressure.TopConsumers,
			},
			infra.NewPSIReader(cfg.Pressure.PSIPath),
			pressureSampler, c.sacrifice, c.executor, c.stats, logger)
	}
	return c, nil
}

func (c *components) pressureChecker() domain.PressureChecker {
	if c.pressure == nil {
		return nil
	}
	return c.pressure
}

func (c *components) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			c.logger.Debug("close failed", zap.Error(err))
		}
	}
}

func needsServiceManager(cfg *config.Config, targets *policy.Registry) bool {
	if cfg.Monitoring.ReloadOnStart {
		return true
	}
	for _, t := range targets.GetAll() {
		if t.Action.Kind == domain.ActionRestartService {
			return true
		}
	}
	return false
}

func openAuditStore(cfg *config.Config) (*infra.AuditStore, error) {
	key, err := infra.EnsureKey(infra.KeyProviderFor(cfg.Storage.DataDir))
	if err != nil {
		return nil, fmt.Errorf("audit key: %w", err)
	}
	return infra.NewAuditStore(cfg.AuditDBPath(), key)
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, path, err := loadConfig()
	if err != nil {
		return err
	}

	logger := createLogger(cfg)
	defer func() { _ = logger.Sync() }()

	actions, err := createActionsLogger(cfg)
	if err != nil {
		logger.Warn("actions log disabled", zap.Error(err))
		actions = nil
	} else {
		defer func() { _ = actions.Sync() }()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c, err := buildComponents(cfg, logger, actions, cfg.Storage.StatsPath)
	if err != nil {
		logger.Error("invalid configuration", zap.Error(err))
		return err
	}
	defer c.Close()

	// refuse to start blind
	if _, err := c.table.List(ctx); err != nil {
		logger.Error("cannot enumerate processes", zap.Error(err))
		return fmt.Errorf("process table inaccessible: %w", err)
	}

	instances := infra.NewFileInstanceRegistry(cfg.InstancePath(), c.procs)
	if replaceFlag {
		sctx, cancel := context.WithTimeout(ctx, replaceTimeout)
		stopped, err := daemon.StopInstance(sctx, instances, c.procs, logger)
		cancel()
		if err != nil {
			return fmt.Errorf("replace running instance: %w", err)
		}
		if stopped != 0 {
			logger.Info("replaced running governor", zap.Int("old_pid", stopped))
		}
	}

	if cfg.DBus.StatusEnabled {
		exportStatus(c, logger)
	}

	if cfg.Monitoring.ReloadOnStart {
		if err := c.executor.Reload(ctx); err != nil {
			logger.Warn("service manager reload failed", zap.Error(err))
		}
	}

	harden(cfg, logger)

	logger.Info("configuration loaded",
		zap.String("path", path),
		zap.Strings("targets", c.targets.List()),
		zap.Int("sacrifice_families", c.sacrifice.Len()),
		zap.Bool("pressure", cfg.Pressure.Enabled),
		zap.Bool("audit", c.audit != nil))

	gov := daemon.NewGovernor(
		daemon.GovernorConfig{
			CheckInterval:     cfg.CheckInterval(),
			PressureInterval:  cfg.PressureInterval(),
			DeferredInterval:  cfg.DeferredInterval(),
			HeartbeatInterval: cfg.HeartbeatInterval(),
			ShutdownTimeout:   cfg.ShutdownTimeout(),
			AuditRetention:    cfg.AuditRetention(),
		},
		c.monitor,
		c.pressureChecker(),
		c.executor,
		instances,
		infra.NewHealthProbe(),
		c.stats,
		c.audit,
		domain.Instance{
			PID:        os.Getpid(),
			StartedAt:  time.Now(),
			Version:    Version,
			ConfigPath: path,
		},
		logger,
	)

	err = gov.Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	if errors.Is(err, domain.ErrAlreadyRunning) {
		return fmt.Errorf("%w (use --replace to take over)", err)
	}
	return err
}

func exportStatus(c *components, logger *zap.Logger) {
	svc := infra.NewStatusService(c.stats, c.audit)
	conn, err := svc.Export(c.cfg.DBus.UseSystemBus)
	if err != nil {
		logger.Warn("D-Bus status object not exported", zap.Error(err))
		return
	}
	c.closers = append(c.closers, conn.Close)
	logger.Info("D-Bus status object exported", zap.Bool("system_bus", c.cfg.DBus.UseSystemBus))
}

// harden applies the configured privilege restrictions and logs what is
// left. Failures only warn.
func harden(cfg *config.Config, logger *zap.Logger) {
	if cfg.Security.NoNewPrivs {
		if err := infra.SetNoNewPrivs(); err != nil {
			logger.Warn("no_new_privs not set", zap.Error(err))
		}
	}
	if cfg.Security.RestrictCapabilities && os.Geteuid() == 0 {
		if _, err := infra.RestrictCapabilities(); err != nil {
			logger.Warn("capabilities not restricted", zap.Error(err))
		}
	}

	report, err := infra.Capabilities()
	if err != nil {
		logger.Warn("cannot read capabilities", zap.Error(err))
		return
	}
	logger.Info("privileges", zap.Stringer("capabilities", report))
	if !report.Kill {
		logger.Warn("CAP_KILL missing, only processes of the current user can be signaled")
	}
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, path, err := loadConfig()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	procs := infra.NewProcessController()
	instances := infra.NewFileInstanceRegistry(cfg.InstancePath(), procs)
	if entry, _ := instances.Get(); entry != nil && procs.Exists(entry.PID) && !replaceFlag {
		fmt.Fprintf(out, "govd is already running (pid %d)\n", entry.PID)
		return nil
	}

	pid, err := daemon.Spawn("", daemon.RunArgs(path, replaceFlag))
	if err != nil {
		return fmt.Errorf("failed to start governor: %w", err)
	}

	// Wait a moment for the daemon to register
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if entry, _ := instances.Get(); entry != nil && entry.PID == pid {
			break
		}
		time.Sleep(100 * time.Millisecond)
	}

	fmt.Fprintln(out, "\n=== govd Started ===")
	fmt.Fprintf(out, "PID: %d\n", pid)
	if path != "" {
		fmt.Fprintf(out, "Config: %s\n", path)
	} else {
		fmt.Fprintln(out, "Config: built-in defaults")
	}
	fmt.Fprintf(out, "Log: %s\n", cfg.DaemonLogPath())
	fmt.Fprintf(out, "Stats: %s\n", cfg.Storage.StatsPath)
	if entry, _ := instances.Get(); entry == nil || entry.PID != pid {
		fmt.Fprintln(out, "Warning: daemon has not registered yet, check the log")
	}
	fmt.Fprintln(out, "====================")
	return nil
}
