// Package fixtures provides test helpers for integration tests.
package fixtures

import (
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync/atomic"
	"syscall"
	"time"
)

var seq atomic.Int64

// Process is a disposable shell loop tagged with a unique marker so a
// PathContains matcher selects it and nothing else.
type Process struct {
	Marker string
	cmd    *exec.Cmd
	done   chan struct{}
}

// StartSpinner starts a loop that burns one CPU.
func StartSpinner() (*Process, error) {
	return start("while :; do :; done")
}

// StartSleeper starts a loop that stays idle.
func StartSleeper() (*Process, error) {
	return start("while :; do sleep 1; done")
}

func start(script string) (*Process, error) {
	marker := fmt.Sprintf("govd-fixture-%d-%d", os.Getpid(), seq.Add(1))
	cmd := exec.Command("/bin/sh", "-c", script+" # "+marker)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if err := cmd.Start(); err != nil {
		return nil, err
	}

	p := &Process{Marker: marker, cmd: cmd, done: make(chan struct{})}
	go func() {
		_ = cmd.Wait()
		close(p.done)
	}()
	return p, nil
}

// PID returns the shell's pid.
func (p *Process) PID() int {
	return p.cmd.Process.Pid
}

// Exited reports whether the process has been reaped.
func (p *Process) Exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// WaitExit waits up to timeout for the process to exit.
func (p *Process) WaitExit(timeout time.Duration) bool {
	select {
	case <-p.done:
		return true
	case <-time.After(timeout):
		return false
	}
}

// State returns the scheduler state letter from /proc/<pid>/stat
// ("R", "S", "T" ...), or "" once the process is gone.
func (p *Process) State() string {
	data, err := os.ReadFile(fmt.Sprintf("/proc/%d/stat", p.PID()))
	if err != nil {
		return ""
	}
	// the comm field is parenthesized and may contain spaces
	s := string(data)
	i := strings.LastIndexByte(s, ')')
	if i < 0 || i+2 >= len(s) {
		return ""
	}
	return string(s[i+2])
}

// Nice returns the current nice value.
func (p *Process) Nice() (int, error) {
	// getpriority returns 20 - nice for PRIO_PROCESS
	prio, err := syscall.Getpriority(syscall.PRIO_PROCESS, p.PID())
	if err != nil {
		return 0, err
	}
	return 20 - prio, nil
}

// Cleanup kills the whole process group and waits for the shell.
func (p *Process) Cleanup() {
	if p.Exited() {
		return
	}
	_ = syscall.Kill(-p.PID(), syscall.SIGCONT)
	_ = syscall.Kill(-p.PID(), syscall.SIGKILL)
	p.WaitExit(5 * time.Second)
}
