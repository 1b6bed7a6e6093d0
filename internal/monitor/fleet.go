package monitor

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"

	"clipweave/internal/job"
)

// Fleet runs one watcher goroutine per registered job.
type Fleet struct {
	monitor *Monitor
	ctx     context.Context
	group   errgroup.Group

	mu   sync.Mutex
	jobs []*job.Job
}

// NewFleet starts an empty fleet whose watchers run under ctx. A watcher
// finishing, failing, or timing out never cancels its siblings.
func (m *Monitor) NewFleet(ctx context.Context) *Fleet {
	return &Fleet{monitor: m, ctx: ctx}
}

// Watch starts monitoring j. It is safe to call from several goroutines and
// has the signature the dispatcher expects for registration.
func (f *Fleet) Watch(j *job.Job) {
	f.mu.Lock()
	f.jobs = append(f.jobs, j)
	f.mu.Unlock()
	f.group.Go(func() error {
		return f.monitor.Watch(f.ctx, j)
	})
}

// Wait blocks until every watcher has returned. The error is the first
// context error seen by a watcher, if any.
func (f *Fleet) Wait() error {
	return f.group.Wait()
}

// Len reports how many jobs have been registered.
func (f *Fleet) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.jobs)
}
