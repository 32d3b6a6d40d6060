package scheduler

import (
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

// runHandle is the local view of one running job.
type runHandle struct {
	worker    string
	started   time.Time
	cancelled atomic.Bool
}

// registry maps running job ids to their handles so a delete can reach the
// worker without waiting for a heartbeat.
type registry struct {
	mu   sync.Mutex
	runs map[int64]*runHandle
}

func newRegistry() *registry {
	return &registry{runs: make(map[int64]*runHandle)}
}

func (r *registry) add(id int64, worker string, started time.Time) *runHandle {
	handle := &runHandle{worker: worker, started: started}
	r.mu.Lock()
	r.runs[id] = handle
	r.mu.Unlock()
	return handle
}

func (r *registry) remove(id int64) {
	r.mu.Lock()
	delete(r.runs, id)
	r.mu.Unlock()
}

func (r *registry) signal(id int64) bool {
	r.mu.Lock()
	handle, ok := r.runs[id]
	r.mu.Unlock()
	if ok {
		handle.cancelled.Store(true)
	}
	return ok
}

func (r *registry) list() []ActiveJob {
	r.mu.Lock()
	jobs := make([]ActiveJob, 0, len(r.runs))
	for id, handle := range r.runs {
		jobs = append(jobs, ActiveJob{JobID: id, Worker: handle.worker, Started: handle.started})
	}
	r.mu.Unlock()
	slices.SortFunc(jobs, func(a, b ActiveJob) int {
		return a.Started.Compare(b.Started)
	})
	return jobs
}
