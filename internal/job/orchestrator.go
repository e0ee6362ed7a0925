package job

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/leadstream/internal/clock/system"
	"github.com/JakeFAU/leadstream/internal/lead"
	"github.com/JakeFAU/leadstream/internal/metrics"
	"github.com/JakeFAU/leadstream/internal/progress"
)

// Progress messages sent to the streaming client.
const (
	msgStarting  = "Starting lead generation..."
	msgFound     = "Found %d leads"
	msgNoLeads   = "No leads found"
	msgVerifying = "Verifying lead %d/%d: %s"
	msgWriting   = "Writing results..."
	msgComplete  = "Lead generation complete"
)

// Config controls pipeline behavior.
type Config struct {
	// MaxPerRegion caps records kept per region; <= 0 disables the cap.
	MaxPerRegion int
	// RequestDelay separates consecutive region fetches.
	RequestDelay time.Duration
	// RequestTimeout bounds each source call.
	RequestTimeout time.Duration
	// VerifyConcurrency bounds parallel verification. Emission order is unaffected.
	VerifyConcurrency int
	// NoticeTopic receives the completion notice. Empty disables publishing.
	NoticeTopic string
}

// Deps bundles the collaborators shared by every job.
type Deps struct {
	Source    lead.Source
	Verifier  lead.Verifier
	Sink      lead.SinkWriter
	Store     lead.JobStore
	Publisher lead.Publisher
	Emitter   progress.Emitter
	Clock     lead.Clock
	Logger    *zap.Logger
}

// Notice is published once a job reaches a terminal status.
type Notice struct {
	JobID      string         `json:"job_id"`
	Status     lead.JobStatus `json:"status"`
	Regions    []string       `json:"regions"`
	Category   string         `json:"category"`
	Leads      int            `json:"leads"`
	Persisted  bool           `json:"persisted"`
	Error      string         `json:"error,omitempty"`
	FinishedAt string         `json:"finished_at"`
}

// Orchestrator executes a single job and owns its completion semantics.
type Orchestrator struct {
	id       string
	req      lead.Request
	ch       *progress.Channel
	deps     Deps
	cfg      Config
	logger   *zap.Logger
	started  time.Time
	counters lead.JobCounters
}

// NewOrchestrator binds a job to its progress channel.
func NewOrchestrator(jobID string, req lead.Request, ch *progress.Channel, deps Deps, cfg Config) *Orchestrator {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Emitter == nil {
		deps.Emitter = progress.NopEmitter{}
	}
	if deps.Clock == nil {
		deps.Clock = system.New()
	}
	if cfg.VerifyConcurrency <= 0 {
		cfg.VerifyConcurrency = 1
	}
	return &Orchestrator{
		id:     jobID,
		req:    req,
		ch:     ch,
		deps:   deps,
		cfg:    cfg,
		logger: deps.Logger.Named("job").With(zap.String("job_id", jobID)),
	}
}

// Run drives the job to completion. The returned error is informational; the
// outcome is conveyed to the consumer through the channel.
func (o *Orchestrator) Run(ctx context.Context) (err error) {
	ctx = lead.WithJobID(ctx, o.id)
	ctx, span := startSpan(ctx, "job.run",
		attribute.String("job.id", o.id),
		attribute.String("job.category", o.req.Category),
		attribute.Int("job.regions", len(o.req.Regions)),
	)
	defer span.End()
	o.started = o.deps.Clock.Now()
	metrics.IncActiveJobs()
	defer metrics.DecActiveJobs()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panic: %v", r)
			o.fail(ctx, err)
		}
	}()

	o.updateStatus(ctx, lead.JobStatusRunning, "")
	o.milestone(progress.Milestone{Stage: progress.StageJobStart, Note: o.req.Category})
	o.logger.Info("job started",
		zap.Strings("regions", o.req.Regions),
		zap.String("category", o.req.Category),
	)
	o.send(progress.Status(0, msgStarting))

	records, err := o.fetch(ctx)
	if err != nil {
		o.fail(ctx, err)
		return err
	}
	o.counters.Fetched = len(records)
	o.send(progress.Status(30, fmt.Sprintf(msgFound, len(records))))

	if len(records) == 0 {
		o.send(progress.Status(100, msgNoLeads))
		o.succeed(ctx, nil)
		return nil
	}

	verified, err := o.verifyStage(ctx, records)
	if err != nil {
		o.fail(ctx, err)
		return err
	}

	o.send(progress.Status(80, msgWriting))
	persistErr := o.persist(ctx, verified)
	msg := msgComplete
	if persistErr != nil {
		o.logger.Error("persist results failed", zap.Int("count", len(verified)), zap.Error(persistErr))
		msg = fmt.Sprintf("%s; persistence failed: %v", msgComplete, persistErr)
	} else {
		o.counters.Persisted = true
	}
	o.send(progress.Status(100, msg))
	o.succeed(ctx, verified)
	return nil
}

// fetch walks the regions in order, degrading per-region source failures to
// zero records.
func (o *Orchestrator) fetch(ctx context.Context) ([]lead.Candidate, error) {
	var acc []lead.Candidate
	for i, region := range o.req.Regions {
		if i > 0 {
			if err := sleep(ctx, o.cfg.RequestDelay); err != nil {
				return nil, fmt.Errorf("fetch interrupted: %w", err)
			}
		}
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("fetch interrupted: %w", err)
		}

		begin := o.deps.Clock.Now()
		batch, fetchErr := o.fetchRegion(ctx, region)
		failed := fetchErr != nil
		if failed {
			o.counters.RegionsFailed++
			o.logger.Warn("region fetch failed", zap.String("region", region), zap.Error(fetchErr))
		}
		kept := lead.Retain(batch)
		acc = lead.Accumulate(acc, kept, region, o.cfg.MaxPerRegion)
		o.milestone(progress.Milestone{
			Stage:  progress.StageRegionDone,
			Region: region,
			Count:  len(kept),
			Failed: failed,
			Dur:    o.deps.Clock.Now().Sub(begin),
		})
		o.logger.Debug("region fetched", zap.String("region", region), zap.Int("count", len(kept)))
	}
	return acc, nil
}

func (o *Orchestrator) fetchRegion(ctx context.Context, region string) ([]lead.Candidate, error) {
	if o.deps.Source == nil {
		return nil, errors.New("no source configured")
	}
	reqCtx := ctx
	if o.cfg.RequestTimeout > 0 {
		var cancel context.CancelFunc
		reqCtx, cancel = context.WithTimeout(ctx, o.cfg.RequestTimeout)
		defer cancel()
	}
	reqCtx, span := startSpan(reqCtx, "job.fetch_region",
		attribute.String("lead.region", region),
		attribute.String("lead.source", o.deps.Source.Name()),
	)
	defer span.End()
	batch, err := o.deps.Source.Fetch(reqCtx, lead.Query{Region: region, Category: o.req.Category})
	if err != nil {
		err = fmt.Errorf("source %s: %w", o.deps.Source.Name(), err)
		recordSpanError(reqCtx, err)
		return nil, err
	}
	span.SetAttributes(attribute.Int("lead.count", len(batch)))
	// Records belong to the queried region; the per-region cap keys on it.
	out := make([]lead.Candidate, len(batch))
	for i, c := range batch {
		c.Region = region
		out[i] = c
	}
	return out, nil
}

func (o *Orchestrator) verifyStage(ctx context.Context, records []lead.Candidate) ([]lead.Annotated, error) {
	ctx, span := startSpan(ctx, "job.verify", attribute.Int("lead.count", len(records)))
	defer span.End()
	out, err := o.verify(ctx, records)
	recordSpanError(ctx, err)
	return out, err
}

// verify annotates records with up to VerifyConcurrency workers and emits the
// status/result pairs strictly in discovery order.
func (o *Orchestrator) verify(ctx context.Context, records []lead.Candidate) ([]lead.Annotated, error) {
	if o.deps.Verifier == nil {
		return nil, errors.New("no verifier configured")
	}
	total := len(records)
	results := make([]lead.Annotated, total)
	errs := make([]error, total)
	done := make([]chan struct{}, total)
	for i := range done {
		done[i] = make(chan struct{})
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.VerifyConcurrency)
	launched := make(chan struct{})
	go func() {
		defer close(launched)
		for i := range records {
			g.Go(func() error {
				defer close(done[i])
				results[i], errs[i] = o.verifyOne(gctx, records[i])
				return errs[i]
			})
		}
	}()

	out := make([]lead.Annotated, 0, total)
	failed := false
	for i := range records {
		<-done[i]
		if errs[i] != nil {
			failed = true
			break
		}
		rec := results[i]
		o.send(progress.Status(30+i*50/total, fmt.Sprintf(msgVerifying, i+1, total, rec.Name)))
		o.send(progress.Result(rec))
		o.milestone(progress.Milestone{Stage: progress.StageResult, Score: rec.ConfidenceScore})
		out = append(out, rec)
	}
	<-launched
	werr := g.Wait()
	o.counters.Verified = len(out)
	if failed {
		return nil, fmt.Errorf("verify leads: %w", werr)
	}
	return out, nil
}

func (o *Orchestrator) verifyOne(ctx context.Context, c lead.Candidate) (rec lead.Annotated, err error) {
	if err := ctx.Err(); err != nil {
		return lead.Annotated{}, err
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("verifier panic: %v", r)
		}
	}()
	return o.deps.Verifier.Verify(ctx, c)
}

func (o *Orchestrator) persist(ctx context.Context, batch []lead.Annotated) (err error) {
	ctx, span := startSpan(ctx, "job.persist", attribute.Int("lead.count", len(batch)))
	defer span.End()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sink panic: %v", r)
		}
		recordSpanError(ctx, err)
	}()
	if o.deps.Store != nil {
		if err := o.deps.Store.RecordResults(ctx, o.id, batch); err != nil {
			o.logger.Warn("record results failed", zap.Error(err))
		}
	}
	if o.deps.Sink == nil {
		return nil
	}
	return o.deps.Sink.Persist(ctx, batch)
}

func (o *Orchestrator) succeed(ctx context.Context, batch []lead.Annotated) {
	o.updateStatus(ctx, lead.JobStatusSucceeded, "")
	dur := o.deps.Clock.Now().Sub(o.started)
	o.milestone(progress.Milestone{Stage: progress.StageJobDone, Count: len(batch), Dur: dur})
	metrics.ObserveJob(string(lead.JobStatusSucceeded))
	leadCounter.Add(ctx, int64(len(batch)), metric.WithAttributes(attribute.Bool("persisted", o.counters.Persisted)))
	o.logger.Info("job completed",
		zap.Int("count", len(batch)),
		zap.Bool("persisted", o.counters.Persisted),
		zap.Duration("duration", dur),
	)
	o.notify(ctx, lead.JobStatusSucceeded, len(batch), "")
	o.send(progress.Terminal())
}

func (o *Orchestrator) fail(ctx context.Context, cause error) {
	o.logger.Error("job failed", zap.Error(cause))
	recordSpanError(ctx, cause)
	o.send(progress.Failure(cause))
	o.updateStatus(ctx, lead.JobStatusFailed, cause.Error())
	o.milestone(progress.Milestone{
		Stage: progress.StageJobError,
		Dur:   o.deps.Clock.Now().Sub(o.started),
		Note:  cause.Error(),
	})
	metrics.ObserveJob(string(lead.JobStatusFailed))
	o.notify(ctx, lead.JobStatusFailed, o.counters.Verified, cause.Error())
	o.send(progress.Terminal())
}

func (o *Orchestrator) send(evt progress.Event) {
	if err := o.ch.Send(evt); err != nil && !errors.Is(err, progress.ErrClosed) {
		o.logger.Warn("send progress event failed", zap.Error(err))
	}
}

func (o *Orchestrator) milestone(m progress.Milestone) {
	m.JobID = o.id
	m.TS = o.deps.Clock.Now().UTC()
	o.deps.Emitter.Emit(m)
}

// updateStatus uses a context detached from cancellation so a canceled job is
// still recorded as failed.
func (o *Orchestrator) updateStatus(ctx context.Context, status lead.JobStatus, errText string) {
	if o.deps.Store == nil {
		return
	}
	if err := o.deps.Store.UpdateJobStatus(context.WithoutCancel(ctx), o.id, status, errText, o.counters); err != nil {
		o.logger.Warn("update job status failed", zap.String("status", string(status)), zap.Error(err))
	}
}

func (o *Orchestrator) notify(ctx context.Context, status lead.JobStatus, leads int, errText string) {
	if o.deps.Publisher == nil || o.cfg.NoticeTopic == "" {
		return
	}
	notice := Notice{
		JobID:      o.id,
		Status:     status,
		Regions:    o.req.Regions,
		Category:   o.req.Category,
		Leads:      leads,
		Persisted:  o.counters.Persisted,
		Error:      errText,
		FinishedAt: o.deps.Clock.Now().UTC().Format(time.RFC3339),
	}
	if _, err := o.deps.Publisher.Publish(context.WithoutCancel(ctx), o.cfg.NoticeTopic, notice); err != nil {
		o.logger.Warn("publish completion notice failed", zap.Error(err))
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
