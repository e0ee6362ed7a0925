// Package lead defines the records, job metadata, and collaborator contracts shared across the pipeline.
package lead

import (
	"errors"
	"strings"
	"time"
)

// ErrInvalidRequest is returned when a job request is missing regions or a category.
var ErrInvalidRequest = errors.New("regions and category are required")

// ErrNotFound signals that a job or result set does not exist.
var ErrNotFound = errors.New("not found")

// Candidate is one prospective contact discovered by a Source.
type Candidate struct {
	Name         string    `json:"name"`
	Firm         string    `json:"firm"`
	Email        string    `json:"email"`
	Website      string    `json:"website"`
	Source       string    `json:"source"`
	Region       string    `json:"state"`
	DiscoveredAt time.Time `json:"timestamp"`
}

// Annotated is a Candidate plus per-field validity flags and the derived confidence score.
type Annotated struct {
	Candidate
	NameVerified    bool    `json:"name_verified"`
	FirmVerified    bool    `json:"firm_verified"`
	EmailVerified   bool    `json:"email_verified"`
	WebsiteVerified bool    `json:"website_verified"`
	ConfidenceScore float64 `json:"confidence_score"`
}

// Flags returns the validity flag vector of the record.
func (a Annotated) Flags() Flags {
	return Flags{
		Name:    a.NameVerified,
		Firm:    a.FirmVerified,
		Email:   a.EmailVerified,
		Website: a.WebsiteVerified,
	}
}

// Query scopes a single Source lookup.
type Query struct {
	Region   string
	Category string
}

// Request is the job trigger accepted from the HTTP or CLI layer.
type Request struct {
	Regions  []string `json:"regions"`
	Category string   `json:"category"`
}

// Normalize trims whitespace from every field and returns a copy.
func (r Request) Normalize() Request {
	out := Request{Category: strings.TrimSpace(r.Category)}
	if len(r.Regions) > 0 {
		out.Regions = make([]string, 0, len(r.Regions))
		for _, region := range r.Regions {
			out.Regions = append(out.Regions, strings.TrimSpace(region))
		}
	}
	return out
}

// Validate rejects empty region lists, blank regions, and blank categories.
func (r Request) Validate() error {
	if strings.TrimSpace(r.Category) == "" || len(r.Regions) == 0 {
		return ErrInvalidRequest
	}
	for _, region := range r.Regions {
		if strings.TrimSpace(region) == "" {
			return ErrInvalidRequest
		}
	}
	return nil
}

// JobStatus represents the lifecycle state of a job.
type JobStatus string

// Job status values recorded in the job store.
const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
)

// Terminal reports whether the status is final.
func (s JobStatus) Terminal() bool {
	return s == JobStatusSucceeded || s == JobStatusFailed
}

// Job is the in-process metadata kept for each pipeline run.
type Job struct {
	ID        string      `json:"id"`
	Status    JobStatus   `json:"status"`
	Submitted time.Time   `json:"submitted_at"`
	Started   *time.Time  `json:"started_at,omitempty"`
	Finished  *time.Time  `json:"finished_at,omitempty"`
	ErrorText string      `json:"error_text,omitempty"`
	Request   Request     `json:"request"`
	Counters  JobCounters `json:"counters"`
}

// JobCounters tracks per-stage totals for a job.
type JobCounters struct {
	Fetched       int  `json:"fetched"`
	RegionsFailed int  `json:"regions_failed"`
	Verified      int  `json:"verified"`
	Persisted     bool `json:"persisted"`
}
