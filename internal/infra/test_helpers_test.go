package infra

// fakeLiveness is a test double for the PID liveness check.
type fakeLiveness struct {
	alive map[int]bool
}

func newFakeLiveness(pids ...int) *fakeLiveness {
	f := &fakeLiveness{alive: make(map[int]bool)}
	for _, pid := range pids {
		f.alive[pid] = true
	}
	return f
}

func (f *fakeLiveness) Exists(pid int) bool {
	return f.alive[pid]
}
