package infra

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
	"kernel.org/pub/linux/libs/security/libcap/cap"
)

// governorCaps is the only capability set the daemon needs.
var governorCaps = []cap.Value{cap.KILL, cap.SYS_NICE}

// CapabilityReport describes the privileges the daemon holds.
type CapabilityReport struct {
	EUID       int
	Kill       bool // CAP_KILL effective
	SysNice    bool // CAP_SYS_NICE effective
	Extra      bool // effective capabilities beyond the two above
	Restricted bool
}

func (r CapabilityReport) String() string {
	return fmt.Sprintf("euid=%d cap_kill=%t cap_sys_nice=%t extra=%t restricted=%t",
		r.EUID, r.Kill, r.SysNice, r.Extra, r.Restricted)
}

// Capabilities reads the current capability sets.
func Capabilities() (CapabilityReport, error) {
	return reportOf(cap.GetProc())
}

// RestrictCapabilities drops every capability except CAP_KILL and
// CAP_SYS_NICE from all threads. Capabilities not held are not gained.
// When CAP_SETPCAP is held the bounding set is trimmed first so a later
// exec cannot regain the rest.
func RestrictCapabilities() (CapabilityReport, error) {
	current := cap.GetProc()

	canBound, err := current.GetFlag(cap.Effective, cap.SETPCAP)
	if err != nil {
		return CapabilityReport{EUID: os.Geteuid()}, fmt.Errorf("read CAP_SETPCAP: %w", err)
	}
	if canBound {
		if err := cap.DropBound(unneededCaps()...); err != nil {
			return CapabilityReport{EUID: os.Geteuid()}, fmt.Errorf("drop bounding set: %w", err)
		}
	}

	next := cap.NewSet()
	for _, v := range governorCaps {
		held, err := current.GetFlag(cap.Permitted, v)
		if err != nil {
			return CapabilityReport{EUID: os.Geteuid()}, fmt.Errorf("read %s: %w", v, err)
		}
		if !held {
			continue
		}
		if err := next.SetFlag(cap.Permitted, true, v); err != nil {
			return CapabilityReport{EUID: os.Geteuid()}, err
		}
		if err := next.SetFlag(cap.Effective, true, v); err != nil {
			return CapabilityReport{EUID: os.Geteuid()}, err
		}
	}
	if err := next.SetProc(); err != nil {
		return CapabilityReport{EUID: os.Geteuid()}, fmt.Errorf("capset: %w", err)
	}

	report, err := Capabilities()
	if err != nil {
		return report, err
	}
	report.Restricted = true
	return report, nil
}

// SetNoNewPrivs sets PR_SET_NO_NEW_PRIVS on all threads.
func SetNoNewPrivs() error {
	if _, err := cap.Prctlw(unix.PR_SET_NO_NEW_PRIVS, 1, 0, 0, 0); err != nil {
		return fmt.Errorf("prctl(PR_SET_NO_NEW_PRIVS): %w", err)
	}
	return nil
}

func reportOf(c *cap.Set) (CapabilityReport, error) {
	r := CapabilityReport{EUID: os.Geteuid()}
	for v := cap.Value(0); v < cap.MaxBits(); v++ {
		on, err := c.GetFlag(cap.Effective, v)
		if err != nil {
			return r, fmt.Errorf("read %s: %w", v, err)
		}
		switch {
		case !on:
		case v == cap.KILL:
			r.Kill = true
		case v == cap.SYS_NICE:
			r.SysNice = true
		default:
			r.Extra = true
		}
	}
	return r, nil
}

func unneededCaps() []cap.Value {
	var out []cap.Value
	for v := cap.Value(0); v < cap.MaxBits(); v++ {
		if v != cap.KILL && v != cap.SYS_NICE {
			out = append(out, v)
		}
	}
	return out
}
