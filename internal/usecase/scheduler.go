package usecase

import (
	"sort"
	"sync"
	"time"

	"github.com/eliteGoblin/focusd/govd/internal/domain"
)

// Scheduler is the deferred-task registry. Each PID has at most one
// pending task. The monitor loop polls it; nothing here sleeps.
type Scheduler struct {
	mu    sync.Mutex
	tasks map[int]domain.DeferredTask
}

// NewScheduler creates an empty registry.
func NewScheduler() *Scheduler {
	return &Scheduler{tasks: make(map[int]domain.DeferredTask)}
}

// Schedule registers a task, replacing any task pending for the same PID.
func (s *Scheduler) Schedule(task domain.DeferredTask) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[task.PID] = task
}

// Pending returns the task registered for pid.
func (s *Scheduler) Pending(pid int) (domain.DeferredTask, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[pid]
	return t, ok
}

// Cancel removes and returns the task registered for pid.
func (s *Scheduler) Cancel(pid int) (domain.DeferredTask, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[pid]
	if ok {
		delete(s.tasks, pid)
	}
	return t, ok
}

// Due removes and returns every task due at or before now, oldest first.
func (s *Scheduler) Due(now time.Time) []domain.DeferredTask {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []domain.DeferredTask
	for pid, t := range s.tasks {
		if !t.Due.After(now) {
			due = append(due, t)
			delete(s.tasks, pid)
		}
	}
	sortTasks(due)
	return due
}

// Drain removes and returns every task, oldest first.
func (s *Scheduler) Drain() []domain.DeferredTask {
	s.mu.Lock()
	defer s.mu.Unlock()

	all := make([]domain.DeferredTask, 0, len(s.tasks))
	for _, t := range s.tasks {
		all = append(all, t)
	}
	s.tasks = make(map[int]domain.DeferredTask)
	sortTasks(all)
	return all
}

// Snapshot returns a copy of every pending task, oldest first.
func (s *Scheduler) Snapshot() []domain.DeferredTask {
	s.mu.Lock()
	defer s.mu.Unlock()

	all := make([]domain.DeferredTask, 0, len(s.tasks))
	for _, t := range s.tasks {
		all = append(all, t)
	}
	sortTasks(all)
	return all
}

// Len returns the number of pending tasks.
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

func sortTasks(tasks []domain.DeferredTask) {
	sort.Slice(tasks, func(i, j int) bool {
		if tasks[i].Due.Equal(tasks[j].Due) {
			return tasks[i].PID < tasks[j].PID
		}
		return tasks[i].Due.Before(tasks[j].Due)
	})
}
