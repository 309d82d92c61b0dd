package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/eliteGoblin/focusd/govd/internal/domain"
)

// mockProcessTable implements domain.ProcessTable for testing
type mockProcessTable struct {
	mu      sync.Mutex
	infos   []domain.ProcessInfo
	stats   map[int]domain.ProcessStat
	errs    map[int]error
	listErr error
	reads   int
}

func newMockProcessTable() *mockProcessTable {
	return &mockProcessTable{
		stats: make(map[int]domain.ProcessStat),
		errs:  make(map[int]error),
	}
}

func (m *mockProcessTable) add(pid int, name string, createTime int64, cpuSeconds float64, rssMB uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.infos = append(m.infos, domain.ProcessInfo{PID: pid, Name: name, Command: "/usr/bin/" + name, CreateTime: createTime})
	m.stats[pid] = domain.ProcessStat{PID: pid, CPUSeconds: cpuSeconds, RSSBytes: rssMB * 1024 * 1024, CreateTime: createTime}
}

func (m *mockProcessTable) setCPU(pid int, cpuSeconds float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.stats[pid]
	s.CPUSeconds = cpuSeconds
	m.stats[pid] = s
}

func (m *mockProcessTable) remove(pid int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.infos[:0]
	for _, p := range m.infos {
		if p.PID != pid {
			kept = append(kept, p)
		}
	}
	m.infos = kept
	delete(m.stats, pid)
}

func (m *mockProcessTable) List(ctx context.Context) ([]domain.ProcessInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	return append([]domain.ProcessInfo(nil), m.infos...), nil
}

func (m *mockProcessTable) Stat(ctx context.Context, pid int) (domain.ProcessStat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reads++
	if err := m.errs[pid]; err != nil {
		return domain.ProcessStat{}, err
	}
	s, ok := m.stats[pid]
	if !ok {
		return domain.ProcessStat{}, domain.ErrProcessGone
	}
	return s, nil
}

// nameClassifier classifies by exact short name.
type nameClassifier map[string]string

func (c nameClassifier) Classify(p domain.ProcessInfo) (string, bool) {
	name, ok := c[p.Name]
	return name, ok
}

var browserOnly = nameClassifier{"firefox": "firefox", "node": "node"}

func TestSampler_FirstObservationIsBaseline(t *testing.T) {
	table := newMockProcessTable()
	table.add(100, "firefox", 1000, 50, 300)
	r := NewSnapshotReader(table, testSelfPID, zap.NewNop())

	out, err := r.Sample(context.Background(), browserOnly)
	require.NoError(t, err)
	require.Len(t, out["firefox"], 1)

	s := out["firefox"][0]
	assert.True(t, s.Baseline)
	assert.Zero(t, s.CPUPercent)
	assert.Equal(t, uint64(300), s.MemoryMB)
	assert.Equal(t, int64(1000), s.CreateTime)
}

func TestSampler_CPUPercentFromDelta(t *testing.T) {
	table := newMockProcessTable()
	table.add(100, "firefox", 1000, 50, 300)
	clock := newFakeClock()
	r := NewSnapshotReader(table, testSelfPID, zap.NewNop()).WithClock(clock.Now)

	_, err := r.Sample(context.Background(), browserOnly)
	require.NoError(t, err)

	// 6 CPU seconds over 3 wall seconds is 200%
	clock.Advance(3 * time.Second)
	table.setCPU(100, 56)
	out, err := r.Sample(context.Background(), browserOnly)
	require.NoError(t, err)

	s := out["firefox"][0]
	assert.False(t, s.Baseline)
	assert.InDelta(t, 200.0, s.CPUPercent, 0.001)
}

func TestSampler_PIDReuseResetsBaseline(t *testing.T) {
	table := newMockProcessTable()
	table.add(100, "firefox", 1000, 50, 300)
	clock := newFakeClock()
	r := NewSnapshotReader(table, testSelfPID, zap.NewNop()).WithClock(clock.Now)

	_, err := r.Sample(context.Background(), browserOnly)
	require.NoError(t, err)

	table.remove(100)
	table.add(100, "firefox", 2000, 1, 300)
	clock.Advance(3 * time.Second)

	out, err := r.Sample(context.Background(), browserOnly)
	require.NoError(t, err)
	assert.True(t, out["firefox"][0].Baseline)
	assert.Equal(t, int64(2000), out["firefox"][0].CreateTime)
}

func TestSampler_PrunesVanishedPIDs(t *testing.T) {
	table := newMockProcessTable()
	table.add(100, "firefox", 1000, 50, 300)
	table.add(101, "firefox", 1001, 50, 300)
	r := NewSnapshotReader(table, testSelfPID, zap.NewNop())

	_, err := r.Sample(context.Background(), browserOnly)
	require.NoError(t, err)
	assert.Equal(t, 2, r.Tracked())

	table.remove(101)
	_, err = r.Sample(context.Background(), browserOnly)
	require.NoError(t, err)
	assert.Equal(t, 1, r.Tracked())
}

func TestSampler_VanishedBetweenListAndStatIsDropped(t *testing.T) {
	table := newMockProcessTable()
	table.add(100, "firefox", 1000, 50, 300)
	table.add(101, "firefox", 1001, 50, 300)
	table.errs[101] = domain.ErrProcessGone
	r := NewSnapshotReader(table, testSelfPID, zap.NewNop())

	out, err := r.Sample(context.Background(), browserOnly)
	require.NoError(t, err)
	require.Len(t, out["firefox"], 1)
	assert.Equal(t, 100, out["firefox"][0].PID)
}

func TestSampler_PermissionDeniedLoggedOnce(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	table := newMockProcessTable()
	table.add(100, "firefox", 1000, 50, 300)
	table.errs[100] = domain.ErrPermissionDenied
	r := NewSnapshotReader(table, testSelfPID, zap.New(core))

	for i := 0; i < 3; i++ {
		out, err := r.Sample(context.Background(), browserOnly)
		require.NoError(t, err)
		assert.Empty(t, out["firefox"])
	}
	assert.Equal(t, 1, logs.Len())
}

func TestSampler_ExcludesSelfAndInit(t *testing.T) {
	table := newMockProcessTable()
	table.add(1, "node", 1, 50, 300)
	table.add(testSelfPID, "node", 2, 50, 300)
	table.add(300, "node", 3, 50, 300)
	r := NewSnapshotReader(table, testSelfPID, zap.NewNop())

	out, err := r.Sample(context.Background(), browserOnly)
	require.NoError(t, err)
	require.Len(t, out["node"], 1)
	assert.Equal(t, 300, out["node"][0].PID)
}

func TestSampler_OnlyReadsClassifiedProcesses(t *testing.T) {
	table := newMockProcessTable()
	table.add(100, "firefox", 1000, 50, 300)
	table.add(200, "bash", 1001, 50, 300)
	table.add(201, "sshd", 1002, 50, 300)
	r := NewSnapshotReader(table, testSelfPID, zap.NewNop()).WithConcurrency(2)

	out, err := r.Sample(context.Background(), browserOnly)
	require.NoError(t, err)
	assert.Len(t, out, 1)
	assert.Equal(t, 1, table.reads)
}

func TestSampler_ListFailureIsReturned(t *testing.T) {
	table := newMockProcessTable()
	table.listErr = errors.New("proc not mounted")
	r := NewSnapshotReader(table, testSelfPID, zap.NewNop())

	_, err := r.Sample(context.Background(), browserOnly)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "enumerate processes")
}

func TestSampler_CancelledContext(t *testing.T) {
	table := newMockProcessTable()
	table.add(100, "firefox", 1000, 50, 300)
	r := NewSnapshotReader(table, testSelfPID, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := r.Sample(ctx, browserOnly)
	assert.ErrorIs(t, err, context.Canceled)
}
