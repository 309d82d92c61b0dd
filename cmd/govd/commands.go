package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/eliteGoblin/focusd/govd/internal/config"
	"github.com/eliteGoblin/focusd/govd/internal/domain"
	"github.com/eliteGoblin/focusd/govd/internal/infra"
)

const bytesPerMB = 1024 * 1024

var checkWarmup time.Duration

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Run one target pass and one pressure check now",
	Long: `Samples the process table twice (CPU usage needs a delta), runs one pass
over every target and one memory-pressure check, then waits for deferred
follow-ups such as resumes and force-kills before exiting.

Counted policies only escalate when max_violations is 1, since a single
pass records a single violation.`,
	RunE: runCheck,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon status and statistics",
	Long:  `Reads the instance record and the stats file written by the running daemon.`,
	RunE:  runStatus,
}

var targetsCmd = &cobra.Command{
	Use:   "targets",
	Short: "List monitoring targets and the sacrifice list",
	RunE:  runTargets,
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Show recent actions from the encrypted audit store",
	RunE:  runAudit,
}

var generateConfigCmd = &cobra.Command{
	Use:   "generate-config",
	Short: "Print or write the default configuration",
	RunE:  runGenerateConfig,
}

var restartServiceCmd = &cobra.Command{
	Use:   "restart-service <unit>",
	Short: "Restart a systemd unit through D-Bus",
	Args:  cobra.ExactArgs(1),
	RunE:  runRestartService,
}

var reloadCmd = &cobra.Command{
	Use:   "reload",
	Short: "Ask systemd to reload its unit files",
	Args:  cobra.NoArgs,
	RunE:  runReload,
}

func init() {
	checkCmd.Flags().DurationVar(&checkWarmup, "warmup", time.Second, "Interval between the baseline sample and the check")
}

func runCheck(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	logger := createCLILogger(!jsonOutput)
	defer func() { _ = logger.Sync() }()

	actions, err := createActionsLogger(cfg)
	if err != nil {
		logger.Debug("actions log disabled", zap.Error(err))
		actions = nil
	}

	c, err := buildComponents(cfg, logger, actions, "")
	if err != nil {
		return err
	}
	defer c.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if _, err := c.sampler.Sample(ctx, c.targets); err != nil {
		return fmt.Errorf("baseline sample: %w", err)
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(checkWarmup):
	}

	results, err := c.monitor.CheckTargets(ctx)
	if err != nil {
		return err
	}

	var pressure *domain.PressureReport
	if c.pressure != nil {
		report, err := c.pressure.CheckPressure(ctx)
		if err != nil {
			logger.Warn("pressure check failed", zap.Error(err))
		} else {
			pressure = &report
		}
	}

	dctx, cancel := context.WithTimeout(ctx, cfg.ShutdownTimeout())
	deferred := c.executor.Drain(dctx)
	cancel()

	out := cmd.OutOrStdout()
	if jsonOutput {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{
			"targets":  results,
			"pressure": pressure,
			"deferred": deferred,
		})
	}
	printCheck(out, results, pressure, deferred)
	return nil
}

func printCheck(out io.Writer, results []domain.TargetResult, pressure *domain.PressureReport, deferred []domain.ActionOutcome) {
	fmt.Fprintln(out, "\n=== govd Check ===")
	for _, r := range results {
		line := fmt.Sprintf("[%s] %s matched=%d", r.Target, r.Policy, r.Matched)
		if r.Worst != nil {
			line += fmt.Sprintf(" worst=pid %d cpu %.1f%% rss %s",
				r.Worst.PID, r.Worst.CPUPercent, humanize.IBytes(r.Worst.MemoryMB*bytesPerMB))
		}
		if r.ViolationCount != nil {
			line += fmt.Sprintf(" violations=%d", *r.ViolationCount)
		}
		if r.KillCount != nil {
			line += fmt.Sprintf(" kill_count=%d", *r.KillCount)
		}
		if r.Held {
			line += " (held in cooldown)"
		}
		fmt.Fprintln(out, line)
		for _, o := range r.Outcomes {
			fmt.Fprintf(out, "  %s\n", describeOutcome(o))
		}
	}

	if pressure != nil {
		if pressure.Disabled {
			fmt.Fprintln(out, "\nMemory pressure: unavailable")
		} else {
			fmt.Fprintf(out, "\nMemory pressure: %s (some %.2f, full %.2f)\n",
				pressure.Tier, pressure.Sample.Some.Avg10, pressure.Sample.Full.Avg10)
		}
		if rc := pressure.Reclaim; rc != nil {
			fmt.Fprintf(out, "Reclaim: %d terminated, %s freed\n",
				len(rc.Records), humanize.IBytes(rc.FreedMB*bytesPerMB))
		}
	}

	if len(deferred) > 0 {
		fmt.Fprintln(out, "\nFollow-ups:")
		for _, o := range deferred {
			fmt.Fprintf(out, "  %s\n", describeOutcome(o))
		}
	}
	fmt.Fprintln(out, "==================")
}

func describeOutcome(o domain.ActionOutcome) string {
	s := string(o.Action)
	if o.PID != 0 {
		s += fmt.Sprintf(" pid %d", o.PID)
	}
	if o.Service != "" {
		s += " " + o.Service
	}
	s += ": " + string(o.Status)
	if o.Error != "" {
		s += " (" + o.Error + ")"
	}
	return s
}

type statusView struct {
	Running  bool                  `json:"running"`
	Instance *domain.InstanceEntry `json:"instance,omitempty"`
	Stats    *domain.MonitorStats  `json:"stats,omitempty"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	procs := infra.NewProcessController()
	instances := infra.NewFileInstanceRegistry(cfg.InstancePath(), procs)

	var view statusView
	view.Instance, err = instances.Get()
	if err != nil {
		return err
	}
	view.Running = view.Instance != nil && procs.Exists(view.Instance.PID)
	if stats, err := infra.ReadStatsFile(cfg.Storage.StatsPath); err == nil {
		view.Stats = stats
	}

	if jsonOutput {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(view)
	}

	color := term.IsTerminal(int(os.Stdout.Fd()))
	fmt.Fprintln(out, "\n=== govd Status ===")
	if !view.Running {
		fmt.Fprintf(out, "Status: %s\n", paint(color, "31", "NOT RUNNING"))
		fmt.Fprintln(out, "\nRun 'govd start' or enable the systemd unit.")
		return nil
	}

	inst := view.Instance
	fmt.Fprintf(out, "Status: %s (pid %d)\n", paint(color, "32", "RUNNING"), inst.PID)
	fmt.Fprintf(out, "Mode: %s\n", inst.Mode)
	if inst.AppVersion != "" {
		fmt.Fprintf(out, "Version: %s\n", inst.AppVersion)
	}
	if inst.ConfigPath != "" {
		fmt.Fprintf(out, "Config: %s\n", inst.ConfigPath)
	}
	fmt.Fprintf(out, "Started: %s\n", humanize.Time(time.Unix(inst.StartedAt, 0)))
	if inst.LastHeartbeat > 0 {
		fmt.Fprintf(out, "Last heartbeat: %s\n", humanize.Time(time.Unix(inst.LastHeartbeat, 0)))
	}

	if s := view.Stats; s != nil {
		printStats(out, s)
	} else {
		fmt.Fprintf(out, "\nNo stats at %s yet\n", cfg.Storage.StatsPath)
	}
	fmt.Fprintln(out, "===================")
	return nil
}

func printStats(out io.Writer, s *domain.MonitorStats) {
	fmt.Fprintf(out, "\nChecks: %s targets, %s pressure\n",
		humanize.Comma(int64(s.TotalChecks)), humanize.Comma(int64(s.TotalPressureChecks)))

	p := s.Pressure
	if p.Enabled {
		fmt.Fprintf(out, "Memory pressure: %s (some %.2f, full %.2f), %d reclaim passes, %d killed, %s freed\n",
			p.Status, p.SomeAvg10, p.FullAvg10, p.ReclaimPasses, p.TotalKilled,
			humanize.IBytes(p.TotalFreedMB*bytesPerMB))
	} else {
		fmt.Fprintf(out, "Memory pressure: %s\n", p.Status)
	}

	h := s.Health
	if h.MemTotalMB > 0 {
		fmt.Fprintf(out, "Load: %.2f %.2f %.2f  Memory: %s / %s (%.0f%%)\n",
			h.Load1, h.Load5, h.Load15,
			humanize.IBytes(h.MemUsedMB*bytesPerMB), humanize.IBytes(h.MemTotalMB*bytesPerMB),
			h.MemUsedPercent)
	}

	if len(s.Targets) == 0 {
		return
	}
	fmt.Fprintln(out, "\nTargets:")
	for _, name := range sortedKeys(s.Targets) {
		t := s.Targets[name]
		line := fmt.Sprintf("  %-12s %-16s matched=%d violations=%d actions=%d failures=%d",
			name, t.Policy, t.Matched, t.TotalViolations, t.TotalActions, t.TotalFailures)
		if t.CurrentViolations != nil {
			line += fmt.Sprintf(" count=%d", *t.CurrentViolations)
		}
		if t.CurrentKillCount != nil && *t.CurrentKillCount > 0 {
			line += fmt.Sprintf(" kill_count=%d", *t.CurrentKillCount)
		}
		if t.Phase != "" && t.Phase != string(domain.PhaseNormal) {
			line += " " + t.Phase
		}
		if t.LastAction != "" {
			line += fmt.Sprintf(" last=%s %s", t.LastAction, humanize.Time(time.Unix(t.LastActionAt, 0)))
		}
		fmt.Fprintln(out, line)
	}
}

func paint(enabled bool, code, s string) string {
	if !enabled {
		return s
	}
	return "\x1b[" + code + "m" + s + "\x1b[0m"
}

func runTargets(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	fmt.Fprintln(out, "\n=== Monitoring Targets ===")
	for _, tc := range cfg.Targets {
		t := tc.MonitorTarget()
		state := ""
		if !tc.IsEnabled() {
			state = " (disabled)"
		}
		fmt.Fprintf(out, "\n[%s]%s\n", t.Name, state)
		fmt.Fprintf(out, "  Match: %s\n", t.Match)
		for _, ex := range t.Exclude {
			fmt.Fprintf(out, "  Exclude: %s\n", ex)
		}
		var limits []string
		if t.Thresholds.CPUPercent > 0 {
			limits = append(limits, fmt.Sprintf("cpu > %.0f%%", t.Thresholds.CPUPercent))
		}
		if t.Thresholds.MemoryMB > 0 {
			limits = append(limits, "rss > "+humanize.IBytes(t.Thresholds.MemoryMB*bytesPerMB))
		}
		fmt.Fprintf(out, "  Limits: %s\n", strings.Join(limits, ", "))
		fmt.Fprintf(out, "  Action: %s\n", t.Action)
		if t.Action.Counted() {
			fmt.Fprintf(out, "  Escalation: after %d violations, cooldown %s\n", t.MaxViolations, t.Cooldown)
		}
		if k := t.KillTier; k != nil {
			fmt.Fprintf(out, "  Kill tier: cpu > %.0f%% for %d checks\n", k.CPUPercent, k.MaxViolations)
		}
	}

	list, err := cfg.SacrificeList()
	if err != nil {
		return err
	}
	fmt.Fprintln(out, "\n=== Sacrifice List ===")
	if !cfg.Pressure.Enabled {
		fmt.Fprintln(out, "(pressure monitoring disabled)")
	}
	for _, e := range list.Entries() {
		guard := ""
		if e.MinMemoryMB > 0 {
			guard = " above " + humanize.IBytes(e.MinMemoryMB*bytesPerMB)
		}
		fmt.Fprintf(out, "  %d. %s %s%s\n", e.Rank, e.Name, e.Match, guard)
	}
	fmt.Fprintln(out, "\n==========================")
	return nil
}

func runAudit(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	if auditLimit <= 0 {
		return fmt.Errorf("--limit must be positive")
	}

	if _, err := os.Stat(cfg.AuditDBPath()); err != nil {
		return fmt.Errorf("no audit database at %s: %w", cfg.AuditDBPath(), err)
	}
	provider := infra.KeyProviderFor(cfg.Storage.DataDir)
	if !provider.KeyExists() {
		return errors.New("audit key not found; was the daemon started with this data_dir?")
	}
	key, err := provider.GetKey()
	if err != nil {
		return err
	}
	store, err := infra.NewAuditStore(cfg.AuditDBPath(), key)
	if err != nil {
		return err
	}
	defer store.Close()

	entries, err := store.Recent(auditLimit)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if jsonOutput {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if entries == nil {
			entries = []domain.AuditEntry{}
		}
		return enc.Encode(entries)
	}
	if len(entries) == 0 {
		fmt.Fprintln(out, "No actions recorded.")
		return nil
	}
	for _, e := range entries {
		line := fmt.Sprintf("%s  %-10s %-16s %-8s", e.At.Format(time.RFC3339), e.Source, e.Action, e.Status)
		if e.PID != 0 {
			line += fmt.Sprintf(" pid=%d", e.PID)
		}
		if e.Service != "" {
			line += " unit=" + e.Service
		}
		if e.Metric != "" {
			line += fmt.Sprintf(" %s=%.1f/%.1f", e.Metric, e.Value, e.Threshold)
		}
		if e.Detail != "" {
			line += " " + e.Detail
		}
		fmt.Fprintln(out, line)
	}
	return nil
}

func runGenerateConfig(cmd *cobra.Command, args []string) error {
	cfg := config.DefaultConfigFor(pathsFor(infra.DetectExecMode()))

	format := config.FormatTOML
	if outputPath != "" {
		format = config.FormatOf(outputPath)
	}
	if formatFlag != "" {
		f, err := config.ParseFormat(formatFlag)
		if err != nil {
			return err
		}
		if outputPath != "" && f != format {
			return fmt.Errorf("--format %s does not match the extension of %s", f, outputPath)
		}
		format = f
	}

	if outputPath == "" {
		return config.Encode(cmd.OutOrStdout(), cfg, format)
	}
	if err := config.Save(outputPath, cfg); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", outputPath)
	return nil
}

func runRestartService(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	sm, err := infra.NewSystemdManager()
	if err != nil {
		return err
	}
	defer sm.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), cfg.ServiceTimeout())
	defer cancel()
	if err := sm.Restart(ctx, args[0]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Restart of %s queued\n", args[0])
	return nil
}

func runReload(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	sm, err := infra.NewSystemdManager()
	if err != nil {
		return err
	}
	defer sm.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), cfg.ServiceTimeout())
	defer cancel()
	if err := sm.Reload(ctx); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Unit files reloaded")
	return nil
}
