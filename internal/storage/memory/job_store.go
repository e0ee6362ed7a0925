package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/JakeFAU/leadstream/internal/lead"
)

const defaultMaxJobs = 500

// JobStore keeps job metadata and final batches for the lifetime of the process.
// Once more than maxJobs are tracked the oldest finished jobs are evicted.
type JobStore struct {
	mu      sync.RWMutex
	jobs    map[string]lead.Job
	results map[string][]lead.Annotated
	order   []string
	latest  string
	maxJobs int
	now     func() time.Time
}

// NewJobStore constructs a JobStore. maxJobs <= 0 selects a default bound.
func NewJobStore(maxJobs int) *JobStore {
	if maxJobs <= 0 {
		maxJobs = defaultMaxJobs
	}
	return &JobStore{
		jobs:    make(map[string]lead.Job),
		results: make(map[string][]lead.Annotated),
		maxJobs: maxJobs,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// CreateJob stores a new job.
func (s *JobStore) CreateJob(_ context.Context, job lead.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("job %s already exists", job.ID)
	}
	if job.Status == "" {
		job.Status = lead.JobStatusQueued
	}
	s.jobs[job.ID] = job
	s.order = append(s.order, job.ID)
	s.evictLocked()
	return nil
}

// UpdateJobStatus updates the status, counters, and timestamps of a job.
func (s *JobStore) UpdateJobStatus(
	_ context.Context,
	jobID string,
	status lead.JobStatus,
	errText string,
	counters lead.JobCounters,
) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return fmt.Errorf("job %s: %w", jobID, lead.ErrNotFound)
	}
	job.Status = status
	job.ErrorText = errText
	job.Counters = counters
	now := s.now()
	if status == lead.JobStatusRunning && job.Started == nil {
		job.Started = &now
	}
	if status.Terminal() {
		job.Finished = &now
		if status == lead.JobStatusSucceeded {
			if _, has := s.results[jobID]; has {
				s.latest = jobID
			}
		}
	}
	s.jobs[jobID] = job
	return nil
}

// RecordResults stores a copy of a job's final batch.
func (s *JobStore) RecordResults(_ context.Context, jobID string, results []lead.Annotated) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[jobID]; !ok {
		return fmt.Errorf("job %s: %w", jobID, lead.ErrNotFound)
	}
	s.results[jobID] = append([]lead.Annotated(nil), results...)
	return nil
}

// GetJob fetches a job by ID.
func (s *JobStore) GetJob(_ context.Context, jobID string) (lead.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return lead.Job{}, fmt.Errorf("job %s: %w", jobID, lead.ErrNotFound)
	}
	return job, nil
}

// LatestResults returns the most recently succeeded job that produced records.
func (s *JobStore) LatestResults(_ context.Context) (lead.Job, []lead.Annotated, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.latest == "" {
		return lead.Job{}, nil, fmt.Errorf("latest results: %w", lead.ErrNotFound)
	}
	results := s.results[s.latest]
	if len(results) == 0 {
		return lead.Job{}, nil, fmt.Errorf("latest results: %w", lead.ErrNotFound)
	}
	return s.jobs[s.latest], append([]lead.Annotated(nil), results...), nil
}

func (s *JobStore) evictLocked() {
	for len(s.order) > s.maxJobs {
		victim := -1
		for i, id := range s.order {
			if s.jobs[id].Status.Terminal() && id != s.latest {
				victim = i
				break
			}
		}
		if victim < 0 {
			return
		}
		id := s.order[victim]
		delete(s.jobs, id)
		delete(s.results, id)
		s.order = append(s.order[:victim], s.order[victim+1:]...)
	}
}
