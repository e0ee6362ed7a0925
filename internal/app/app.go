// Package app builds the service's dependency graph from configuration and runs it.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/JakeFAU/leadstream/internal/api"
	"github.com/JakeFAU/leadstream/internal/clock/system"
	"github.com/JakeFAU/leadstream/internal/config"
	"github.com/JakeFAU/leadstream/internal/dispatcher"
	"github.com/JakeFAU/leadstream/internal/id/uuid"
	"github.com/JakeFAU/leadstream/internal/job"
	"github.com/JakeFAU/leadstream/internal/lead"
	"github.com/JakeFAU/leadstream/internal/logging"
	"github.com/JakeFAU/leadstream/internal/policy/ratelimit"
	"github.com/JakeFAU/leadstream/internal/policy/robots"
	"github.com/JakeFAU/leadstream/internal/progress"
	progresssinks "github.com/JakeFAU/leadstream/internal/progress/sinks"
	memorypublisher "github.com/JakeFAU/leadstream/internal/publisher/memory"
	gcppublisher "github.com/JakeFAU/leadstream/internal/publisher/pubsub"
	"github.com/JakeFAU/leadstream/internal/sink"
	csvsink "github.com/JakeFAU/leadstream/internal/sink/csv"
	"github.com/JakeFAU/leadstream/internal/sink/postgres"
	"github.com/JakeFAU/leadstream/internal/sink/sheets"
	"github.com/JakeFAU/leadstream/internal/source"
	collysource "github.com/JakeFAU/leadstream/internal/source/colly"
	headlesssource "github.com/JakeFAU/leadstream/internal/source/headless"
	gcsstorage "github.com/JakeFAU/leadstream/internal/storage/gcs"
	localstorage "github.com/JakeFAU/leadstream/internal/storage/local"
	memorystorage "github.com/JakeFAU/leadstream/internal/storage/memory"
	"github.com/JakeFAU/leadstream/internal/telemetry"
	"github.com/JakeFAU/leadstream/internal/verify"
)

// Options override pieces of the graph, mainly for tests.
type Options struct {
	// Logger replaces the logger built from configuration.
	Logger *zap.Logger
	// Registerer receives the progress and otel collectors. Defaults to the
	// global registry.
	Registerer prometheus.Registerer
	// Source replaces the configured scraper.
	Source lead.Source
}

// App contains the application's dependencies.
type App struct {
	cfg             config.Config
	logger          *zap.Logger
	clock           lead.Clock
	apiServer       *api.Server
	dispatch        *dispatcher.Dispatcher
	jobStore        *memorystorage.JobStore
	progressHub     *progress.Hub
	pubsubClient    *pubsub.Client
	pubsubPublisher *gcppublisher.Publisher
	storageClient   *storage.Client
	headless        *headlesssource.Source
	leadStore       *postgres.LeadStore
	telemetry       *telemetry.Provider
	baseCancel      context.CancelFunc
}

// Build creates the application's dependencies.
func Build(ctx context.Context, cfg config.Config, opts Options) (*App, error) {
	logger := opts.Logger
	if logger == nil {
		var err error
		logger, err = logging.New(logging.Options{Development: cfg.Logging.Development, Level: cfg.Logging.Level})
		if err != nil {
			return nil, fmt.Errorf("logger init failed: %w", err)
		}
		zap.ReplaceGlobals(logger)
	}

	app := &App{cfg: cfg, logger: logger, clock: system.New()}
	logger.Info("building application dependencies",
		zap.Int("server_port", cfg.Server.Port),
		zap.String("storage_backend", cfg.Storage.Backend),
	)

	// Jobs outlive requests and stop only when the app closes.
	base, cancel := context.WithCancel(context.WithoutCancel(ctx))
	app.baseCancel = cancel

	ok := false
	defer func() {
		if !ok {
			app.closeInfrastructure(context.Background())
		}
	}()

	if err := app.setupTelemetry(ctx, opts.Registerer); err != nil {
		return nil, err
	}
	app.jobStore = memorystorage.NewJobStore(cfg.Job.MaxTracked)

	blobStore, err := app.setupStorage(ctx)
	if err != nil {
		return nil, err
	}
	sinks, sheetWriter, err := app.setupSinks(ctx, blobStore)
	if err != nil {
		return nil, err
	}
	src := opts.Source
	if src == nil {
		if src, err = app.setupSource(); err != nil {
			return nil, err
		}
	}
	publisher, err := app.setupPublisher(ctx)
	if err != nil {
		return nil, err
	}
	emitter, err := app.setupProgress(base, opts.Registerer)
	if err != nil {
		return nil, err
	}

	deps := job.Deps{
		Source:    src,
		Verifier:  app.setupVerifier(),
		Sink:      sinks,
		Store:     app.jobStore,
		Publisher: publisher,
		Emitter:   emitter,
		Clock:     app.clock,
		Logger:    logger,
	}
	app.dispatch = dispatcher.New(base, uuid.New(""), deps, dispatcher.Config{
		IdleTimeout: cfg.Stream.IdleTimeout,
		Job: job.Config{
			MaxPerRegion:      cfg.Job.MaxPerRegion,
			RequestDelay:      cfg.Job.RequestDelay,
			RequestTimeout:    cfg.Job.RequestTimeout,
			VerifyConcurrency: cfg.Job.VerifyConcurrency,
			NoticeTopic:       cfg.PubSub.TopicName,
		},
	})

	var exporter api.SheetExporter
	if sheetWriter != nil {
		exporter = sheetWriter
	}
	app.apiServer = api.NewServer(app.dispatch, app.jobStore, exporter, app.clock, api.Config{
		CORSOrigins:    cfg.Server.CORSOrigins,
		RequestTimeout: cfg.Server.RequestTimeout,
		StreamInterval: cfg.Stream.MinInterval,
	}, logger)

	ok = true
	return app, nil
}

// Handler exposes the HTTP router.
func (a *App) Handler() http.Handler {
	return a.apiServer.Handler()
}

// Serve runs the HTTP server until ctx is canceled or a signal arrives.
func (a *App) Serve(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", a.cfg.Server.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	return a.serve(ctx, ln)
}

func (a *App) serve(ctx context.Context, ln net.Listener) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Handler:           a.apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.String("addr", ln.Addr().String()))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	// Open streams only end when their jobs do, so the HTTP drain and the job
	// drain share one budget and run side by side.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout())
	defer cancel()
	drained := make(chan error, 1)
	go func() { drained <- a.drainJobs(shutdownCtx) }()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	waitErr := <-drained
	a.release()

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	default:
		return waitErr
	}
}

// RunJob executes one job in-process and writes its event stream to w in the
// wire format.
func (a *App) RunJob(ctx context.Context, req lead.Request, w io.Writer) (progress.Outcome, error) {
	jobID, ch, err := a.dispatch.Launch(ctx, req)
	if err != nil {
		return progress.OutcomeError, fmt.Errorf("launch job: %w", err)
	}
	a.logger.Info("running job", zap.String("job_id", jobID))
	outcome, err := progress.Stream(ctx, w, ch, progress.StreamOptions{Logger: a.logger.Named("stream")})
	if err != nil {
		return outcome, fmt.Errorf("stream job %s: %w", jobID, err)
	}
	return outcome, nil
}

// Close drains running jobs and releases infrastructure.
func (a *App) Close(ctx context.Context) error {
	waitErr := a.drainJobs(ctx)
	a.release()
	return waitErr
}

// drainJobs stops intake and waits for running jobs until ctx expires.
func (a *App) drainJobs(ctx context.Context) error {
	if a.dispatch == nil {
		return nil
	}
	err := a.dispatch.Wait(ctx)
	if err != nil {
		a.logger.Warn("jobs still running at shutdown", zap.Error(err))
	}
	return err
}

// release tears down infrastructure on its own deadline, independent of how
// much of the drain budget the jobs used.
func (a *App) release() {
	ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()
	a.closeInfrastructure(ctx)
	if err := a.logger.Sync(); err != nil {
		a.logger.Debug("logger sync failed", zap.Error(err))
	}
	a.logger.Info("shutdown complete")
}

func (a *App) closeInfrastructure(ctx context.Context) {
	if a.baseCancel != nil {
		a.baseCancel()
	}
	if a.progressHub != nil {
		if err := a.progressHub.Close(ctx); err != nil {
			a.logger.Warn("progress hub close failed", zap.Error(err))
		}
	}
	if a.pubsubPublisher != nil {
		a.pubsubPublisher.Stop()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.storageClient != nil {
		if err := a.storageClient.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.headless != nil {
		a.headless.Close()
	}
	if a.leadStore != nil {
		a.leadStore.Close()
	}
	if a.telemetry != nil {
		if err := a.telemetry.Shutdown(ctx); err != nil {
			a.logger.Warn("telemetry shutdown failed", zap.Error(err))
		}
	}
}

// releaseTimeout bounds infrastructure teardown after jobs have drained.
const releaseTimeout = 10 * time.Second

func (a *App) shutdownTimeout() time.Duration {
	if a.cfg.Server.ShutdownTimeout > 0 {
		return a.cfg.Server.ShutdownTimeout
	}
	return 30 * time.Second
}

func (a *App) setupTelemetry(ctx context.Context, reg prometheus.Registerer) error {
	tc := a.cfg.Telemetry
	if !tc.Enabled {
		a.logger.Info("telemetry disabled")
		return nil
	}
	provider, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName: tc.ServiceName,
		Version:     tc.Version,
		ProjectID:   tc.ProjectID,
		Registerer:  reg,
	})
	if err != nil {
		return fmt.Errorf("telemetry init failed: %w", err)
	}
	a.telemetry = provider
	a.logger.Info("telemetry initialized",
		zap.String("service", tc.ServiceName),
		zap.Bool("cloud_trace", tc.ProjectID != ""),
	)
	return nil
}

func (a *App) setupStorage(ctx context.Context) (lead.BlobStore, error) {
	switch a.cfg.Storage.Backend {
	case config.StorageGCS:
		a.logger.Info("using GCS storage backend", zap.String("bucket", a.cfg.Storage.GCS.Bucket))
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client init failed: %w", err)
		}
		a.storageClient = client
		blobStore, err := gcsstorage.New(client, a.cfg.Storage.GCS)
		if err != nil {
			return nil, fmt.Errorf("gcs blob store init failed: %w", err)
		}
		return blobStore, nil
	case config.StorageLocal:
		a.logger.Info("using local storage backend", zap.String("path", a.cfg.Storage.Local.BaseDir))
		blobStore, err := localstorage.New(a.cfg.Storage.Local)
		if err != nil {
			return nil, fmt.Errorf("local blob store init failed: %w", err)
		}
		return blobStore, nil
	default:
		a.logger.Info("using in-memory storage backend")
		return memorystorage.NewBlobStore(), nil
	}
}

func (a *App) setupSinks(ctx context.Context, blobStore lead.BlobStore) (*sink.Fanout, *sheets.Writer, error) {
	var writers []sink.Named
	if a.cfg.Sinks.CSV.Enabled {
		w, err := csvsink.New(blobStore, a.clock, csvsink.Config{Prefix: a.cfg.Sinks.CSV.Prefix}, a.logger.Named("csv"))
		if err != nil {
			return nil, nil, fmt.Errorf("csv sink init failed: %w", err)
		}
		writers = append(writers, sink.Named{Name: "csv", Writer: w})
	}

	var sheetWriter *sheets.Writer
	if a.cfg.Sinks.Sheets.Enabled {
		var err error
		sheetWriter, err = sheets.New(ctx, a.cfg.Sinks.Sheets.Config, a.logger.Named("sheets"))
		if err != nil {
			return nil, nil, fmt.Errorf("sheets sink init failed: %w", err)
		}
		writers = append(writers, sink.Named{Name: "sheets", Writer: sheetWriter})
		a.logger.Info("sheets sink enabled", zap.String("url", sheetWriter.URL()))
	}

	if a.cfg.Sinks.Postgres.Enabled {
		store, err := postgres.New(ctx, a.cfg.Sinks.Postgres.Config, a.logger.Named("postgres"))
		if err != nil {
			return nil, nil, fmt.Errorf("postgres sink init failed: %w", err)
		}
		a.leadStore = store
		writers = append(writers, sink.Named{Name: "postgres", Writer: store})
	}

	fanout := sink.NewFanout(a.logger.Named("sinks"), writers...)
	if fanout.Len() == 0 {
		a.logger.Warn("no sinks enabled; results are only streamed")
	}
	return fanout, sheetWriter, nil
}

func (a *App) setupSource() (lead.Source, error) {
	sc := a.cfg.Source
	var policy source.RobotsPolicy
	if sc.RespectRobots {
		agent := ""
		if len(sc.UserAgents) > 0 {
			agent = sc.UserAgents[0]
		}
		policy = robots.New(agent, nil, a.logger.Named("robots"))
		a.logger.Info("robots.txt enforcement enabled")
	}
	primary, err := collysource.New(collysource.Config{
		Name:        sc.Name,
		URLTemplate: sc.URLTemplate,
		UserAgents:  sc.UserAgents,
		Timeout:     a.cfg.Job.RequestTimeout,
		Selectors:   sc.Selectors,
		MaxResults:  sc.MaxResults,
		Robots:      policy,
	}, a.clock, a.logger.Named("colly"))
	if err != nil {
		return nil, fmt.Errorf("colly source init failed: %w", err)
	}
	if !sc.Headless.Enabled {
		return primary, nil
	}

	a.headless, err = headlesssource.New(headlesssource.Config{
		Name:              sc.Name + "-headless",
		URLTemplate:       sc.URLTemplate,
		UserAgents:        sc.UserAgents,
		Selectors:         sc.Selectors,
		MaxParallel:       sc.Headless.MaxParallel,
		NavigationTimeout: sc.Headless.NavTimeout,
		MaxResults:        sc.MaxResults,
		ExecPath:          sc.Headless.ExecPath,
		Robots:            policy,
	}, a.clock, a.logger.Named("headless"))
	if err != nil {
		return nil, fmt.Errorf("headless source init failed: %w", err)
	}
	a.logger.Info("headless fallback enabled", zap.Int("max_parallel", sc.Headless.MaxParallel))
	return source.NewFallback(a.logger.Named("source"), primary, a.headless), nil
}

func (a *App) setupVerifier() *verify.Verifier {
	limiter := ratelimit.New(ratelimit.Config{RPS: a.cfg.Verify.PerHostRPS, Burst: a.cfg.Verify.Burst})
	checker := verify.NewHTTPChecker(verify.HTTPCheckerConfig{
		Timeout:   a.cfg.Verify.WebsiteTimeout,
		UserAgent: a.cfg.Verify.UserAgent,
	}, nil, limiter, a.logger.Named("verify"))
	return verify.New(checker)
}

func (a *App) setupPublisher(ctx context.Context) (lead.Publisher, error) {
	if a.cfg.PubSub.TopicName == "" || a.cfg.PubSub.ProjectID == "" {
		a.logger.Info("no Pub/Sub topic configured, using in-memory publisher")
		return memorypublisher.New(), nil
	}
	client, err := pubsub.NewClient(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("pubsub client init failed: %w", err)
	}
	a.pubsubClient = client
	a.pubsubPublisher = gcppublisher.New(client.Publisher(a.cfg.PubSub.TopicName), a.logger.Named("pubsub"))
	a.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.PubSub.TopicName),
	)
	return a.pubsubPublisher, nil
}

func (a *App) setupProgress(ctx context.Context, reg prometheus.Registerer) (progress.Emitter, error) {
	var sinkList []progress.Sink
	if a.cfg.Progress.LogSink {
		sinkList = append(sinkList, progresssinks.NewLogSink(a.logger.Named("progress_log")))
	}
	if a.cfg.Progress.PrometheusSink {
		promSink, err := progresssinks.NewPrometheusSink(reg)
		if err != nil {
			return nil, fmt.Errorf("progress prometheus sink init failed: %w", err)
		}
		sinkList = append(sinkList, promSink)
	}
	if len(sinkList) == 0 {
		a.logger.Info("progress telemetry disabled")
		return progress.NopEmitter{}, nil
	}
	hubCfg := progress.Config{
		BufferSize:   a.cfg.Progress.BufferSize,
		MaxBatch:     a.cfg.Progress.MaxBatch,
		MaxBatchWait: a.cfg.Progress.MaxBatchWait,
		SinkTimeout:  a.cfg.Progress.SinkTimeout,
		BaseContext:  ctx,
		Logger:       a.logger.Named("progress_hub"),
	}
	a.progressHub = progress.NewHub(hubCfg, sinkList...)
	a.logger.Info("progress hub initialized",
		zap.Int("buffer_size", hubCfg.BufferSize),
		zap.Int("max_batch", hubCfg.MaxBatch),
		zap.Duration("max_batch_wait", hubCfg.MaxBatchWait),
	)
	return a.progressHub, nil
}
