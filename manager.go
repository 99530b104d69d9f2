// Package godup - Multi-job copy management
//
// This file provides coordination for several copy jobs running side by side,
// for tools that drive more than one duplicator at a time.
//
// Features:
//   - Job lifecycle management (queued, running, completed, failed, cancelled)
//   - Thread-safe job state management
//   - Progress snapshots for any job
//   - Job cleanup once finished
package godup

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"
)

// Manager manages multiple copy jobs
type Manager struct {
	jobs map[string]*Job
	mu   sync.RWMutex
}

// Job represents a single copy job
type Job struct {
	ID           string
	Label        string
	Length       int64
	Destinations int
	Multiplexer  *Multiplexer
	Status       JobStatus
	Err          error
	CreatedAt    time.Time
	UpdatedAt    time.Time

	done chan struct{}
}

// NewManager creates a new manager for coordinating copy jobs.
//
// Example:
//
//	manager := godup.NewManager()
//	job, err := manager.AddJob("sdb -> sdc,sdd", src, dsts, length, config)
//	if err != nil {
//		log.Fatal(err)
//	}
//	err = manager.StartJob(job.ID)
func NewManager() *Manager {
	return &Manager{
		jobs: make(map[string]*Job),
	}
}

// AddJob registers a new copy job in "queued" status. The job ID is the
// multiplexer's operation ID.
func (jm *Manager) AddJob(label string, src io.ReadCloser, dsts []io.WriteCloser, length int64, cfg *Config) (*Job, error) {
	m, err := NewMultiplexer(src, dsts, length, cfg)
	if err != nil {
		return nil, err
	}

	jm.mu.Lock()
	defer jm.mu.Unlock()

	now := time.Now()
	job := &Job{
		ID:           m.ID(),
		Label:        label,
		Length:       length,
		Destinations: len(dsts),
		Multiplexer:  m,
		Status:       StatusQueued,
		CreatedAt:    now,
		UpdatedAt:    now,
		done:         make(chan struct{}),
	}
	jm.jobs[job.ID] = job
	snapshot := *job
	return &snapshot, nil
}

// StartJob starts a queued job in the background
func (jm *Manager) StartJob(id string) error {
	jm.mu.Lock()
	defer jm.mu.Unlock()

	job, exists := jm.jobs[id]
	if !exists {
		return fmt.Errorf("job %s not found", id)
	}

	if job.Status != StatusQueued {
		return fmt.Errorf("job %s cannot be started (current status: %s)", id, job.Status)
	}

	job.Status = StatusRunning
	job.UpdatedAt = time.Now()

	go func() {
		err := job.Multiplexer.Start(context.Background())
		jm.mu.Lock()
		switch {
		case err != nil:
			job.Status = StatusFailed
			job.Err = err
		case job.Multiplexer.IsCancelled():
			job.Status = StatusCancelled
		default:
			job.Status = StatusCompleted
		}
		job.UpdatedAt = time.Now()
		jm.mu.Unlock()
		close(job.done)
	}()

	return nil
}

// CancelJob cancels a queued or running job. A queued job is cancelled at once;
// a running job stops once its destinations drained what is already queued.
func (jm *Manager) CancelJob(id string) error {
	jm.mu.Lock()
	defer jm.mu.Unlock()

	job, exists := jm.jobs[id]
	if !exists {
		return fmt.Errorf("job %s not found", id)
	}

	switch job.Status {
	case StatusQueued:
		job.Multiplexer.Cancel()
		job.Err = job.Multiplexer.closeEndpoints()
		job.Status = StatusCancelled
		job.UpdatedAt = time.Now()
		close(job.done)
	case StatusRunning:
		job.Multiplexer.Cancel()
		job.UpdatedAt = time.Now()
	default:
		return fmt.Errorf("job %s is not active (current status: %s)", id, job.Status)
	}
	return nil
}

// Wait blocks until the job finished or ctx is done, and returns the job's error.
func (jm *Manager) Wait(ctx context.Context, id string) error {
	jm.mu.RLock()
	job, exists := jm.jobs[id]
	jm.mu.RUnlock()
	if !exists {
		return fmt.Errorf("job %s not found", id)
	}

	select {
	case <-job.done:
	case <-ctx.Done():
		return ctx.Err()
	}

	jm.mu.RLock()
	defer jm.mu.RUnlock()
	return job.Err
}

// Progress returns a progress snapshot of a job
func (jm *Manager) Progress(id string) (ProgressInfo, error) {
	jm.mu.RLock()
	job, exists := jm.jobs[id]
	jm.mu.RUnlock()
	if !exists {
		return ProgressInfo{}, fmt.Errorf("job %s not found", id)
	}

	read := job.Multiplexer.ReadBytes()
	info := ProgressInfo{
		ID:         id,
		ReadBytes:  read,
		Total:      job.Length,
		Percentage: 100.0,
	}
	if job.Length > 0 {
		info.Percentage = float64(read) / float64(job.Length) * 100.0
	}
	return info, nil
}

// Jobs returns all jobs
func (jm *Manager) Jobs() map[string]*Job {
	jm.mu.RLock()
	defer jm.mu.RUnlock()

	// Return copies to avoid race conditions
	jobs := make(map[string]*Job, len(jm.jobs))
	for id, job := range jm.jobs {
		jobCopy := *job
		jobs[id] = &jobCopy
	}
	return jobs
}

// GetJob returns a specific job
func (jm *Manager) GetJob(id string) (*Job, error) {
	jm.mu.RLock()
	defer jm.mu.RUnlock()

	job, exists := jm.jobs[id]
	if !exists {
		return nil, fmt.Errorf("job %s not found", id)
	}

	jobCopy := *job
	return &jobCopy, nil
}

// RemoveJob removes a job that is not running
func (jm *Manager) RemoveJob(id string) error {
	jm.mu.Lock()
	defer jm.mu.Unlock()

	job, exists := jm.jobs[id]
	if !exists {
		return fmt.Errorf("job %s not found", id)
	}

	if job.Status == StatusRunning {
		return fmt.Errorf("cannot remove running job %s", id)
	}

	delete(jm.jobs, id)
	return nil
}
