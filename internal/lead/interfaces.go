package lead

import (
	"context"
	"io"
	"time"
)

// Source returns the raw candidates published for one region and category.
// Implementations report upstream failures as errors; callers degrade them to an empty result.
type Source interface {
	Name() string
	Fetch(ctx context.Context, query Query) ([]Candidate, error)
}

// Verifier annotates a candidate. It must not mutate its input and must be safe for
// concurrent use on independent records.
type Verifier interface {
	Verify(ctx context.Context, candidate Candidate) (Annotated, error)
}

// SinkWriter persists an ordered batch. An empty batch is a successful no-op.
type SinkWriter interface {
	Persist(ctx context.Context, batch []Annotated) error
}

// JobStore tracks job metadata and the final batch of each job.
type JobStore interface {
	CreateJob(ctx context.Context, job Job) error
	UpdateJobStatus(ctx context.Context, jobID string, status JobStatus, errText string, counters JobCounters) error
	RecordResults(ctx context.Context, jobID string, results []Annotated) error
	GetJob(ctx context.Context, jobID string) (Job, error)
	LatestResults(ctx context.Context) (Job, []Annotated, error)
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// Publisher pushes job notifications to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job IDs.
type IDGenerator interface {
	NewID() (string, error)
}

type jobIDKey struct{}

// WithJobID attaches the running job ID to ctx so sinks can scope their output.
func WithJobID(ctx context.Context, jobID string) context.Context {
	return context.WithValue(ctx, jobIDKey{}, jobID)
}

// JobIDFromContext returns the job ID stored by WithJobID, if any.
func JobIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(jobIDKey{}).(string)
	return id, ok && id != ""
}
