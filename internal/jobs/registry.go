package jobs

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"simulate-now/internal/runner"
)

const (
	StatusRunning  = "running"
	StatusFinished = "finished"
)

var ErrAlreadyRunning = errors.New("a simulation for this file is already running")

// Job is the polling view of one background simulation, keyed by upload filename.
type Job struct {
	ID         string         `json:"id"`
	Filename   string         `json:"filename"`
	Status     string         `json:"status"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt *time.Time     `json:"finished_at,omitempty"`
	Result     *runner.Result `json:"result,omitempty"`
	Error      string         `json:"error,omitempty"`
}

// RunFunc performs the simulation for a job. It receives the registry's context,
// which is cancelled by Shutdown.
type RunFunc func(ctx context.Context) (*runner.Result, error)

// FinishFunc is called once per job after it finishes, before waiters are released.
type FinishFunc func(job Job, err error)

// Registry is the in-memory filename → status dictionary used for client polling.
// Running entries never expire; finished entries are dropped after the retention window.
type Registry struct {
	mu        sync.Mutex
	items     *cache.Cache
	retention time.Duration
	onFinish  FinishFunc
	closed    bool
	reserved  map[string]struct{}

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewRegistry(retention time.Duration, onFinish FinishFunc) *Registry {
	if retention <= 0 {
		retention = time.Hour
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Registry{
		items:     cache.New(retention, retention),
		retention: retention,
		onFinish:  onFinish,
		reserved:  map[string]struct{}{},
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Reserve claims filename for a caller that is about to write and simulate it. It fails
// with ErrAlreadyRunning while another reservation or a background job holds the name.
// The returned release func is safe to call more than once.
func (r *Registry) Reserve(filename string) (func(), error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.reserved[filename]; ok {
		return nil, ErrAlreadyRunning
	}
	if existing, ok := r.lookup(filename); ok && existing.Status == StatusRunning {
		return nil, ErrAlreadyRunning
	}
	r.reserved[filename] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.reserved, filename)
			r.mu.Unlock()
		})
	}, nil
}

// Start registers filename as running and executes fn in the background. A reservation
// the caller holds on filename does not block Start.
func (r *Registry) Start(id, filename string, fn RunFunc) (Job, error) {
	r.mu.Lock()
	if existing, ok := r.lookup(filename); ok && existing.Status == StatusRunning {
		r.mu.Unlock()
		return existing, ErrAlreadyRunning
	}
	if r.closed {
		r.mu.Unlock()
		return Job{}, errors.New("registry is shutting down")
	}
	job := Job{
		ID:        id,
		Filename:  filename,
		Status:    StatusRunning,
		StartedAt: time.Now().UTC(),
	}
	r.items.Set(filename, job, cache.NoExpiration)
	r.wg.Add(1)
	r.mu.Unlock()

	go r.run(job, fn)
	return job, nil
}

func (r *Registry) run(job Job, fn RunFunc) {
	defer r.wg.Done()

	res, err := fn(r.ctx)

	finished := time.Now().UTC()
	job.Status = StatusFinished
	job.FinishedAt = &finished
	job.Result = res
	if err != nil {
		job.Error = err.Error()
	}

	r.mu.Lock()
	r.items.Set(job.Filename, job, cache.DefaultExpiration)
	r.mu.Unlock()

	log.WithFields(log.Fields{
		"job_id":   job.ID,
		"filename": job.Filename,
		"failed":   err != nil,
	}).Info("background simulation finished")

	if r.onFinish != nil {
		r.onFinish(job, err)
	}
}

// Get returns the job last registered for filename.
func (r *Registry) Get(filename string) (Job, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lookup(filename)
}

// Running reports whether filename is reserved or has a background simulation in flight.
func (r *Registry) Running(filename string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.reserved[filename]; ok {
		return true
	}
	job, ok := r.lookup(filename)
	return ok && job.Status == StatusRunning
}

// List returns all known jobs, newest first.
func (r *Registry) List() []Job {
	r.mu.Lock()
	items := r.items.Items()
	r.mu.Unlock()

	out := make([]Job, 0, len(items))
	for _, it := range items {
		if job, ok := it.Object.(Job); ok {
			out = append(out, job)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out
}

// Counts returns how many known jobs are running and finished.
func (r *Registry) Counts() (running, finished int) {
	for _, job := range r.List() {
		if job.Status == StatusRunning {
			running++
		} else {
			finished++
		}
	}
	return running, finished
}

// Shutdown stops accepting work and waits for running jobs. When ctx expires first,
// in-flight simulations are cancelled and Shutdown keeps waiting for them to unwind.
func (r *Registry) Shutdown(ctx context.Context) error {
	defer r.cancel()

	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		r.cancel()
		<-done
		return errors.Wrap(ctx.Err(), "background simulations cancelled")
	}
}

func (r *Registry) lookup(filename string) (Job, bool) {
	v, ok := r.items.Get(filename)
	if !ok {
		return Job{}, false
	}
	job, ok := v.(Job)
	return job, ok
}
