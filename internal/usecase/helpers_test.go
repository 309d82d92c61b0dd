package usecase

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/eliteGoblin/focusd/govd/internal/domain"
)

const testSelfPID = 4242

// fakeClock is a manually advanced time source.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// signalCall is one call recorded by mockProcessController.
type signalCall struct {
	op  string
	pid int
}

// mockProcessController implements domain.ProcessController for testing
type mockProcessController struct {
	mu      sync.Mutex
	calls   []signalCall
	errs    map[string]error // op -> error
	gone    map[int]bool
	nice    map[int]int
	created map[int]int64
}

func newMockProcessController() *mockProcessController {
	return &mockProcessController{
		errs:    make(map[string]error),
		gone:    make(map[int]bool),
		nice:    make(map[int]int),
		created: make(map[int]int64),
	}
}

func (m *mockProcessController) record(op string, pid int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, signalCall{op: op, pid: pid})
	if m.gone[pid] {
		return domain.ErrProcessGone
	}
	return m.errs[op]
}

func (m *mockProcessController) Suspend(pid int) error   { return m.record("stop", pid) }
func (m *mockProcessController) Resume(pid int) error    { return m.record("cont", pid) }
func (m *mockProcessController) Terminate(pid int) error { return m.record("term", pid) }
func (m *mockProcessController) ForceKill(pid int) error { return m.record("kill", pid) }

func (m *mockProcessController) SetPriority(pid int, nice int) error {
	if err := m.record("nice", pid); err != nil {
		return err
	}
	m.mu.Lock()
	m.nice[pid] = nice
	m.mu.Unlock()
	return nil
}

func (m *mockProcessController) Exists(pid int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.gone[pid]
}

func (m *mockProcessController) CreateTime(pid int) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gone[pid] {
		return 0, domain.ErrProcessGone
	}
	return m.created[pid], nil
}

func (m *mockProcessController) Self() int { return testSelfPID }

// respawn simulates pid being reused by a new process started at ct.
func (m *mockProcessController) respawn(pid int, ct int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.gone, pid)
	m.created[pid] = ct
}

func (m *mockProcessController) exit(pid int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gone[pid] = true
}

// ops returns the recorded operations for pid, in order.
func (m *mockProcessController) ops(pid int) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, c := range m.calls {
		if c.pid == pid {
			out = append(out, c.op)
		}
	}
	return out
}

// count returns how many times op was called for any pid.
func (m *mockProcessController) count(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, c := range m.calls {
		if c.op == op {
			n++
		}
	}
	return n
}

// killOrder returns the pids that received SIGTERM, in order.
func (m *mockProcessController) killOrder() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []int
	for _, c := range m.calls {
		if c.op == "term" {
			out = append(out, c.pid)
		}
	}
	return out
}

// mockServiceManager implements domain.ServiceManager for testing
type mockServiceManager struct {
	restartErr error
	restarted  []string
	reloads    int
}

func (m *mockServiceManager) Restart(ctx context.Context, unit string) error {
	m.restarted = append(m.restarted, unit)
	return m.restartErr
}

func (m *mockServiceManager) Reload(ctx context.Context) error {
	m.reloads++
	return nil
}

// mockSampler implements domain.Sampler for testing
type mockSampler struct {
	families map[string][]domain.ProcessSnapshot
	err      error
	calls    int
}

func (m *mockSampler) Sample(ctx context.Context, c domain.Classifier) (map[string][]domain.ProcessSnapshot, error) {
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	return m.families, nil
}

// mockPressureReader implements domain.PressureReader for testing
type mockPressureReader struct {
	sample domain.PressureSample
	err    error
	reads  int
}

func (m *mockPressureReader) Read() (domain.PressureSample, error) {
	m.reads++
	return m.sample, m.err
}

func (m *mockPressureReader) set(some, full float64) {
	m.sample = domain.PressureSample{
		Some: domain.PressureLine{Avg10: some},
		Full: domain.PressureLine{Avg10: full},
	}
}

// mockStatsSink implements domain.StatsSink for testing
type mockStatsSink struct {
	targets  [][]domain.TargetResult
	pressure []domain.PressureReport
	health   []domain.SystemHealth
}

func (m *mockStatsSink) PublishTargets(results []domain.TargetResult) {
	m.targets = append(m.targets, results)
}

func (m *mockStatsSink) PublishPressure(report domain.PressureReport) {
	m.pressure = append(m.pressure, report)
}

func (m *mockStatsSink) PublishHealth(health domain.SystemHealth) {
	m.health = append(m.health, health)
}

// mockAuditStore implements domain.AuditStore for testing
type mockAuditStore struct {
	mu      sync.Mutex
	entries []domain.AuditEntry
	err     error
}

func (m *mockAuditStore) Record(e domain.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.entries = append(m.entries, e)
	return nil
}

func (m *mockAuditStore) Recent(limit int) ([]domain.AuditEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.entries, nil
}

func (m *mockAuditStore) Prune(before time.Time) (int64, error) { return 0, nil }
func (m *mockAuditStore) Close() error                          { return nil }

func (m *mockAuditStore) statuses(action domain.ActionKind) []domain.OutcomeStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.OutcomeStatus
	for _, e := range m.entries {
		if e.Action == action {
			out = append(out, e.Status)
		}
	}
	return out
}

// testExecutor wires an executor to mocks and a fake clock.
type testExecutor struct {
	*Executor
	procs    *mockProcessController
	services *mockServiceManager
	store    *mockAuditStore
	clock    *fakeClock
}

func newTestExecutor() *testExecutor {
	procs := newMockProcessController()
	services := &mockServiceManager{}
	store := &mockAuditStore{}
	clock := newFakeClock()
	logger := zap.NewNop()
	x := NewExecutor(DefaultExecutorConfig(), procs, services, NewScheduler(),
		NewAuditor(logger, nil, store), logger).WithClock(clock.Now)
	return &testExecutor{Executor: x, procs: procs, services: services, store: store, clock: clock}
}

func snap(pid int, cpu float64, memMB uint64) domain.ProcessSnapshot {
	return domain.ProcessSnapshot{
		PID:        pid,
		Name:       "proc",
		Command:    "/usr/bin/proc",
		CPUPercent: cpu,
		MemoryMB:   memMB,
	}
}
