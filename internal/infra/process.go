// Package infra implements the OS adapters: procfs sampling, signals,
// PSI, systemd over D-Bus, the encrypted audit store and the state files.
package infra

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/shirou/gopsutil/v3/process"
	"golang.org/x/sys/unix"

	"github.com/eliteGoblin/focusd/govd/internal/domain"
)

// ProcessTable implements domain.ProcessTable using gopsutil.
type ProcessTable struct{}

// NewProcessTable creates a procfs-backed process table.
func NewProcessTable() *ProcessTable {
	return &ProcessTable{}
}

// List enumerates live processes. Processes that exit mid-walk are skipped.
func (t *ProcessTable) List(ctx context.Context) ([]domain.ProcessInfo, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, err
	}

	infos := make([]domain.ProcessInfo, 0, len(procs))
	for _, p := range procs {
		name, err := p.NameWithContext(ctx)
		if err != nil {
			continue // Process may have exited
		}
		// kernel threads and hidden processes have no readable command line
		cmdline, _ := p.CmdlineWithContext(ctx)
		createTime, _ := p.CreateTimeWithContext(ctx)

		infos = append(infos, domain.ProcessInfo{
			PID:        int(p.Pid),
			Name:       name,
			Command:    cmdline,
			CreateTime: createTime,
		})
	}
	return infos, nil
}

// Stat reads cumulative CPU time and RSS of one process.
func (t *ProcessTable) Stat(ctx context.Context, pid int) (domain.ProcessStat, error) {
	p, err := process.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		return domain.ProcessStat{}, classifyProcErr(pid, err)
	}

	times, err := p.TimesWithContext(ctx)
	if err != nil {
		return domain.ProcessStat{}, classifyProcErr(pid, err)
	}
	mem, err := p.MemoryInfoWithContext(ctx)
	if err != nil {
		return domain.ProcessStat{}, classifyProcErr(pid, err)
	}
	createTime, err := p.CreateTimeWithContext(ctx)
	if err != nil {
		return domain.ProcessStat{}, classifyProcErr(pid, err)
	}

	return domain.ProcessStat{
		PID:        pid,
		CPUSeconds: times.User + times.System,
		RSSBytes:   mem.RSS,
		CreateTime: createTime,
	}, nil
}

func classifyProcErr(pid int, err error) error {
	switch {
	case errors.Is(err, process.ErrorProcessNotRunning),
		errors.Is(err, fs.ErrNotExist),
		errors.Is(err, unix.ESRCH):
		return fmt.Errorf("pid %d: %w", pid, domain.ErrProcessGone)
	case errors.Is(err, fs.ErrPermission):
		return fmt.Errorf("pid %d: %w", pid, domain.ErrPermissionDenied)
	default:
		return fmt.Errorf("pid %d: %w", pid, err)
	}
}

// ProcessController implements domain.ProcessController with direct
// syscalls. It never shells out.
type ProcessController struct {
	self int
}

// NewProcessController creates a controller for the current process.
func NewProcessController() *ProcessController {
	return &ProcessController{self: os.Getpid()}
}

// Suspend sends SIGSTOP.
func (c *ProcessController) Suspend(pid int) error {
	return signal(pid, unix.SIGSTOP)
}

// Resume sends SIGCONT.
func (c *ProcessController) Resume(pid int) error {
	return signal(pid, unix.SIGCONT)
}

// Terminate sends SIGTERM.
func (c *ProcessController) Terminate(pid int) error {
	return signal(pid, unix.SIGTERM)
}

// ForceKill sends SIGKILL.
func (c *ProcessController) ForceKill(pid int) error {
	return signal(pid, unix.SIGKILL)
}

// SetPriority changes the nice level. Lowering it below the current value
// needs CAP_SYS_NICE.
func (c *ProcessController) SetPriority(pid int, nice int) error {
	if err := unix.Setpriority(unix.PRIO_PROCESS, pid, nice); err != nil {
		return classifyErrno(fmt.Sprintf("setpriority(%d) pid %d", nice, pid), err)
	}
	return nil
}

// Exists checks if a PID exists by sending signal 0.
func (c *ProcessController) Exists(pid int) bool {
	err := unix.Kill(pid, 0)
	// EPERM means the process exists but belongs to someone else
	return err == nil || errors.Is(err, unix.EPERM)
}

// CreateTime reads the start time of the process holding pid.
func (c *ProcessController) CreateTime(pid int) (int64, error) {
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return 0, classifyProcErr(pid, err)
	}
	ct, err := p.CreateTime()
	if err != nil {
		return 0, classifyProcErr(pid, err)
	}
	return ct, nil
}

// Self returns the current process PID.
func (c *ProcessController) Self() int {
	return c.self
}

func signal(pid int, sig unix.Signal) error {
	if pid <= 0 {
		return fmt.Errorf("refusing to signal pid %d", pid)
	}
	if err := unix.Kill(pid, sig); err != nil {
		return classifyErrno(fmt.Sprintf("%s pid %d", unix.SignalName(sig), pid), err)
	}
	return nil
}

func classifyErrno(op string, err error) error {
	switch {
	case errors.Is(err, unix.ESRCH):
		return fmt.Errorf("%s: %w", op, domain.ErrProcessGone)
	case errors.Is(err, unix.EPERM), errors.Is(err, unix.EACCES):
		return fmt.Errorf("%s: %w", op, domain.ErrPermissionDenied)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}

// Ensure the adapters implement the domain interfaces.
var (
	_ domain.ProcessTable      = (*ProcessTable)(nil)
	_ domain.ProcessController = (*ProcessController)(nil)
)
