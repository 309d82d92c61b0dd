package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/govd/internal/domain"
)

const stopPollInterval = 100 * time.Millisecond

// RunArgs builds the argument list of a detached "run" invocation.
func RunArgs(configPath string, replace bool) []string {
	args := []string{"run"}
	if configPath != "" {
		args = append(args, "--config", configPath)
	}
	if replace {
		args = append(args, "--replace")
	}
	return args
}

// Spawn starts executable with args in a new session, detached from the
// caller's terminal, and returns its PID.
func Spawn(executable string, args []string) (int, error) {
	if executable == "" {
		self, err := os.Executable()
		if err != nil {
			return 0, fmt.Errorf("resolve executable: %w", err)
		}
		executable = self
	}

	cmd := exec.Command(executable, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setsid: true,
	}
	// fully detached; the daemon logs to its own files
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("start %s: %w", executable, err)
	}
	pid := cmd.Process.Pid
	// the child outlives us; do not leave a zombie if it exits first
	go func() { _ = cmd.Wait() }()
	return pid, nil
}

// instanceSignaler is the part of the process controller StopInstance needs.
type instanceSignaler interface {
	Terminate(pid int) error
	Exists(pid int) bool
}

// StopInstance terminates the registered governor, if any, and waits for it
// to exit. It returns the PID that was stopped, or 0 when none was running.
func StopInstance(ctx context.Context, registry domain.InstanceRegistry, procs instanceSignaler, logger *zap.Logger) (int, error) {
	entry, err := registry.Get()
	if err != nil {
		return 0, fmt.Errorf("read instance record: %w", err)
	}
	if entry == nil || entry.PID <= 1 || entry.PID == os.Getpid() || !procs.Exists(entry.PID) {
		return 0, nil
	}

	logger.Info("stopping running governor", zap.Int("pid", entry.PID))
	if err := procs.Terminate(entry.PID); err != nil && !errors.Is(err, domain.ErrProcessGone) {
		return 0, fmt.Errorf("terminate pid %d: %w", entry.PID, err)
	}

	ticker := time.NewTicker(stopPollInterval)
	defer ticker.Stop()
	for procs.Exists(entry.PID) {
		select {
		case <-ctx.Done():
			return 0, fmt.Errorf("pid %d still running: %w", entry.PID, ctx.Err())
		case <-ticker.C:
		}
	}
	return entry.PID, nil
}
