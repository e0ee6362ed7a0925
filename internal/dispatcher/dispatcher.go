// Package dispatcher launches jobs on their own goroutines, detached from the
// request that triggered them.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/leadstream/internal/job"
	"github.com/JakeFAU/leadstream/internal/lead"
	"github.com/JakeFAU/leadstream/internal/progress"
)

// ErrShuttingDown is returned by Launch once Wait has been called.
var ErrShuttingDown = errors.New("dispatcher is shutting down")

// Config controls job launching.
type Config struct {
	Job         job.Config
	IdleTimeout time.Duration
}

// Dispatcher creates jobs and tracks the goroutines running them.
type Dispatcher struct {
	base   context.Context
	ids    lead.IDGenerator
	deps   job.Deps
	cfg    Config
	logger *zap.Logger

	mu      sync.Mutex
	closing bool
	wg      sync.WaitGroup
}

// New creates a Dispatcher. Jobs run on contexts derived from base, which should
// be canceled only on process shutdown.
func New(base context.Context, ids lead.IDGenerator, deps job.Deps, cfg Config) *Dispatcher {
	if base == nil {
		base = context.Background()
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = progress.DefaultIdleTimeout
	}
	return &Dispatcher{
		base:   base,
		ids:    ids,
		deps:   deps,
		cfg:    cfg,
		logger: deps.Logger.Named("dispatcher"),
	}
}

// Launch validates req, registers a job, and starts it. The returned channel is
// the job's only progress output. ctx scopes registration only; the job itself
// outlives it.
func (d *Dispatcher) Launch(ctx context.Context, req lead.Request) (string, *progress.Channel, error) {
	req = req.Normalize()
	if err := req.Validate(); err != nil {
		return "", nil, fmt.Errorf("launch job: %w", err)
	}
	if d.isClosing() {
		return "", nil, ErrShuttingDown
	}

	jobID, err := d.ids.NewID()
	if err != nil {
		return "", nil, fmt.Errorf("generate job id: %w", err)
	}
	if d.deps.Store != nil {
		record := lead.Job{
			ID:        jobID,
			Status:    lead.JobStatusQueued,
			Submitted: d.now(),
			Request:   req,
		}
		if err := d.deps.Store.CreateJob(ctx, record); err != nil {
			return "", nil, fmt.Errorf("create job: %w", err)
		}
	}

	ch := progress.NewChannel(d.cfg.IdleTimeout)
	orch := job.NewOrchestrator(jobID, req, ch, d.deps, d.cfg.Job)

	d.mu.Lock()
	if d.closing {
		d.mu.Unlock()
		return "", nil, ErrShuttingDown
	}
	d.wg.Add(1)
	d.mu.Unlock()

	go func() {
		defer d.wg.Done()
		if err := orch.Run(d.base); err != nil {
			d.logger.Warn("job ended with error", zap.String("job_id", jobID), zap.Error(err))
		}
	}()
	d.logger.Info("job launched",
		zap.String("job_id", jobID),
		zap.Strings("regions", req.Regions),
		zap.String("category", req.Category),
	)
	return jobID, ch, nil
}

// Wait stops accepting jobs and blocks until running jobs finish or ctx ends.
func (d *Dispatcher) Wait(ctx context.Context) error {
	d.mu.Lock()
	d.closing = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for jobs: %w", ctx.Err())
	}
}

func (d *Dispatcher) now() time.Time {
	if d.deps.Clock != nil {
		return d.deps.Clock.Now().UTC()
	}
	return time.Now().UTC()
}

func (d *Dispatcher) isClosing() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closing
}
