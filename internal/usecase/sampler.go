package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/eliteGoblin/focusd/govd/internal/domain"
)

const (
	defaultSampleConcurrency = 8
	bytesPerMB               = 1024 * 1024
)

// baseline is the previous CPU reading of one process.
type baseline struct {
	cpuSeconds float64
	createTime int64
	at         time.Time
}

// SnapshotReader turns the OS process table into snapshots. It owns the
// CPU baseline cache; it must be driven from a single goroutine.
type SnapshotReader struct {
	table       domain.ProcessTable
	logger      *zap.Logger
	selfPID     int
	concurrency int
	now         func() time.Time

	baselines map[int]baseline
	denied    map[int]int64 // pid -> create time already reported
}

// NewSnapshotReader creates a reader that never reports selfPID or init.
func NewSnapshotReader(table domain.ProcessTable, selfPID int, logger *zap.Logger) *SnapshotReader {
	return &SnapshotReader{
		table:       table,
		logger:      logger,
		selfPID:     selfPID,
		concurrency: defaultSampleConcurrency,
		now:         time.Now,
		baselines:   make(map[int]baseline),
		denied:      make(map[int]int64),
	}
}

// WithClock replaces the time source (for tests).
func (r *SnapshotReader) WithClock(now func() time.Time) *SnapshotReader {
	r.now = now
	return r
}

// WithConcurrency bounds the detail-read fan-out.
func (r *SnapshotReader) WithConcurrency(n int) *SnapshotReader {
	if n > 0 {
		r.concurrency = n
	}
	return r
}

type statResult struct {
	info domain.ProcessInfo
	name string
	stat domain.ProcessStat
	err  error
}

// Sample enumerates processes, keeps those the classifier accepts and
// returns their snapshots grouped by family name.
func (r *SnapshotReader) Sample(ctx context.Context, c domain.Classifier) (map[string][]domain.ProcessSnapshot, error) {
	infos, err := r.table.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("enumerate processes: %w", err)
	}

	r.prune(infos)

	var matched []statResult
	for _, p := range infos {
		if p.PID <= 1 || p.PID == r.selfPID {
			continue
		}
		if name, ok := c.Classify(p); ok {
			matched = append(matched, statResult{info: p, name: name})
		}
	}

	// Fan-out reads only; every result lands in its own slot.
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for i := range matched {
		g.Go(func() error {
			matched[i].stat, matched[i].err = r.table.Stat(gctx, matched[i].info.PID)
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	now := r.now()
	out := make(map[string][]domain.ProcessSnapshot)
	for _, res := range matched {
		snap, ok := r.merge(res, now)
		if !ok {
			continue
		}
		out[res.name] = append(out[res.name], snap)
	}
	return out, nil
}

// merge folds one read into the baseline cache and builds its snapshot.
func (r *SnapshotReader) merge(res statResult, now time.Time) (domain.ProcessSnapshot, bool) {
	pid := res.info.PID
	createTime := res.stat.CreateTime
	if createTime == 0 {
		createTime = res.info.CreateTime
	}

	if res.err != nil {
		switch {
		case errors.Is(res.err, domain.ErrProcessGone):
			delete(r.baselines, pid)
		case errors.Is(res.err, domain.ErrPermissionDenied):
			if logged, ok := r.denied[pid]; !ok || logged != res.info.CreateTime {
				r.denied[pid] = res.info.CreateTime
				r.logger.Warn("cannot read process details (permission denied), excluding",
					zap.Int("pid", pid),
					zap.String("name", res.info.Name))
			}
		default:
			r.logger.Debug("failed to read process details",
				zap.Int("pid", pid),
				zap.Error(res.err))
		}
		return domain.ProcessSnapshot{}, false
	}
	delete(r.denied, pid)

	snap := domain.ProcessSnapshot{
		PID:        pid,
		Name:       res.info.Name,
		Command:    res.info.Command,
		MemoryMB:   res.stat.RSSBytes / bytesPerMB,
		Baseline:   true,
		CreateTime: createTime,
		SampledAt:  now,
	}
	if snap.Command == "" {
		snap.Command = res.info.Name
	}

	prev, ok := r.baselines[pid]
	if ok && prev.createTime == createTime && now.After(prev.at) {
		delta := res.stat.CPUSeconds - prev.cpuSeconds
		if delta < 0 {
			delta = 0
		}
		snap.CPUPercent = delta / now.Sub(prev.at).Seconds() * 100
		snap.Baseline = false
	}

	r.baselines[pid] = baseline{
		cpuSeconds: res.stat.CPUSeconds,
		createTime: createTime,
		at:         now,
	}
	return snap, true
}

// prune drops cache entries for PIDs that vanished or were reused.
func (r *SnapshotReader) prune(infos []domain.ProcessInfo) {
	alive := make(map[int]int64, len(infos))
	for _, p := range infos {
		alive[p.PID] = p.CreateTime
	}
	for pid, b := range r.baselines {
		ct, ok := alive[pid]
		if !ok || (ct != 0 && b.createTime != 0 && ct != b.createTime) {
			delete(r.baselines, pid)
		}
	}
	for pid, ct := range r.denied {
		if now, ok := alive[pid]; !ok || now != ct {
			delete(r.denied, pid)
		}
	}
}

// Tracked returns the number of cached baselines.
func (r *SnapshotReader) Tracked() int {
	return len(r.baselines)
}

// Ensure SnapshotReader implements domain.Sampler.
var _ domain.Sampler = (*SnapshotReader)(nil)
