package downloader

import (
	"sync"
	"sync/atomic"
)

// Job is the pull-based status of one download, keyed by model id. Callers
// poll Transferred/Total; the engine polls Cancelled between chunks.
type Job struct {
	ModelID     string
	total       atomic.Uint64
	transferred atomic.Uint64
	cancel      atomic.Bool
}

// RequestCancel sets the cooperative cancellation flag. It takes effect at
// the engine's next chunk boundary.
func (j *Job) RequestCancel() { j.cancel.Store(true) }

// Cancelled reports whether cancellation was requested.
func (j *Job) Cancelled() bool { return j.cancel.Load() }

// Total returns the expected byte count, 0 when unknown.
func (j *Job) Total() uint64 { return j.total.Load() }

// Transferred returns the bytes written so far.
func (j *Job) Transferred() uint64 { return j.transferred.Load() }

func (j *Job) setTotal(n uint64)    { j.total.Store(n) }
func (j *Job) addTransferred(n int) { j.transferred.Add(uint64(n)) }

// Registry tracks the in-flight job per model id. Only one download per
// model id is meaningful; beginning a job for an id that already has one
// resets its cancellation flag.
type Registry struct {
	mu   sync.Mutex
	jobs map[string]*Job
}

func NewRegistry() *Registry {
	return &Registry{jobs: make(map[string]*Job)}
}

// Begin creates (or resets) the job for a model id.
func (r *Registry) Begin(modelID string) *Job {
	r.mu.Lock()
	defer r.mu.Unlock()
	job := &Job{ModelID: modelID}
	r.jobs[modelID] = job
	return job
}

// Get returns the job for a model id, or nil.
func (r *Registry) Get(modelID string) *Job {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.jobs[modelID]
}

// Cancel requests cancellation of the job for a model id. Returns false when
// no job is registered under that id.
func (r *Registry) Cancel(modelID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[modelID]
	if !ok {
		return false
	}
	job.RequestCancel()
	return true
}

// End removes the job entry once it reaches a terminal state.
func (r *Registry) End(modelID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.jobs, modelID)
}
