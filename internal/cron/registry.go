package cron

import (
	"context"
	"fmt"
)

// Job is one unit of register housekeeping.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// Func adapts a plain function into a Job.
func Func(name string, run func(ctx context.Context) error) Job {
	return funcJob{name: name, run: run}
}

type funcJob struct {
	name string
	run  func(ctx context.Context) error
}

func (f funcJob) Name() string { return f.name }

func (f funcJob) Run(ctx context.Context) error {
	if f.run == nil {
		return nil
	}
	return f.run(ctx)
}

// Registry holds jobs in the order they run, keyed by name.
type Registry struct {
	order []string
	jobs  map[string]Job
}

func NewRegistry(jobs ...Job) *Registry {
	registry := &Registry{jobs: make(map[string]Job, len(jobs))}
	for _, job := range jobs {
		registry.Register(job)
	}
	return registry
}

// Register adds job, or swaps it in place of an earlier job with the same
// name. Nil jobs are ignored.
func (r *Registry) Register(job Job) {
	if job == nil {
		return
	}
	name := job.Name()
	if _, ok := r.jobs[name]; !ok {
		r.order = append(r.order, name)
	}
	r.jobs[name] = job
}

// MustRegister is Register for jobs built at startup; empty names panic.
func (r *Registry) MustRegister(job Job) {
	if job != nil && job.Name() == "" {
		panic(fmt.Sprintf("cron: job %T has no name", job))
	}
	r.Register(job)
}

// Jobs returns the jobs in run order. The slice is the caller's.
func (r *Registry) Jobs() []Job {
	out := make([]Job, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.jobs[name])
	}
	return out
}

func (r *Registry) Names() []string {
	return append([]string(nil), r.order...)
}
