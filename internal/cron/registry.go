// Package cron runs scheduled jobs on a fixed cadence behind a lock that keeps
// replicas from running the same cycle twice.
package cron

import "context"

// Job represents a scheduled task that runs inside the cron worker.
type Job interface {
	Name() string
	Run(ctx context.Context) error
}

// Registry tracks registered cron jobs by unique name.
type Registry struct {
	jobs []Job
}

// NewRegistry builds a registry preloaded with the provided jobs.
func NewRegistry(jobs ...Job) *Registry {
	registry := &Registry{}
	for _, job := range jobs {
		registry.Register(job)
	}
	return registry
}

// Register adds a job. Nil jobs and repeated names are ignored.
func (r *Registry) Register(job Job) bool {
	if job == nil {
		return false
	}
	for _, existing := range r.jobs {
		if existing.Name() == job.Name() {
			return false
		}
	}
	r.jobs = append(r.jobs, job)
	return true
}

// Jobs returns the registered jobs in the order they were added.
func (r *Registry) Jobs() []Job {
	jobs := make([]Job, len(r.jobs))
	copy(jobs, r.jobs)
	return jobs
}

// Names lists registered job names in order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.jobs))
	for _, job := range r.jobs {
		names = append(names, job.Name())
	}
	return names
}
