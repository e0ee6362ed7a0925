package app

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"net/url"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/leadstream/internal/config"
	"github.com/JakeFAU/leadstream/internal/lead"
	"github.com/JakeFAU/leadstream/internal/progress"
)

type staticSource struct {
	records []lead.Candidate
}

func (s staticSource) Name() string { return "static" }

func (s staticSource) Fetch(_ context.Context, q lead.Query) ([]lead.Candidate, error) {
	out := make([]lead.Candidate, len(s.records))
	for i, rec := range s.records {
		rec.Region = q.Region
		out[i] = rec
	}
	return out, nil
}

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg, err := config.Load("")
	require.NoError(t, err)
	cfg.Storage.Backend = config.StorageLocal
	cfg.Storage.Local.BaseDir = t.TempDir()
	cfg.Job.RequestDelay = 0
	cfg.Progress.LogSink = true
	cfg.Progress.PrometheusSink = true
	return cfg
}

func buildTestApp(t *testing.T, cfg config.Config) *App {
	t.Helper()
	a, err := Build(context.Background(), cfg, Options{
		Logger:     zap.NewNop(),
		Registerer: prometheus.NewRegistry(),
		Source: staticSource{records: []lead.Candidate{
			{Name: "Jane Roe", Firm: "Roe & Partners LLP", Email: "jane@roe.example"},
			{Name: "John Doe", Firm: "Doe Law"},
		}},
	})
	require.NoError(t, err)
	return a
}

func TestRunJobStreamsAndWritesCSV(t *testing.T) {
	cfg := testConfig(t)
	a := buildTestApp(t, cfg)

	var out bytes.Buffer
	outcome, err := a.RunJob(context.Background(), lead.Request{Regions: []string{"Ohio"}, Category: "Tax Law"}, &out)
	require.NoError(t, err)
	assert.Equal(t, progress.OutcomeComplete, outcome)
	assert.Contains(t, out.String(), "Found 2 leads")
	assert.Contains(t, out.String(), "Jane Roe")
	assert.Contains(t, out.String(), `{"status":"complete"}`)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, a.Close(ctx))

	var exports []string
	err = filepath.WalkDir(cfg.Storage.Local.BaseDir, func(path string, d os.DirEntry, err error) error {
		if err == nil && !d.IsDir() && filepath.Ext(path) == ".csv" {
			exports = append(exports, path)
		}
		return err
	})
	require.NoError(t, err)
	require.Len(t, exports, 1)
	data, err := os.ReadFile(exports[0])
	require.NoError(t, err)
	assert.Contains(t, string(data), "Jane Roe")
}

func TestRunJobRejectsInvalidRequest(t *testing.T) {
	a := buildTestApp(t, testConfig(t))
	defer func() { _ = a.Close(context.Background()) }()

	_, err := a.RunJob(context.Background(), lead.Request{Category: "Tax Law"}, &bytes.Buffer{})
	require.ErrorIs(t, err, lead.ErrInvalidRequest)
}

func TestHandlerServesHealthEndpoints(t *testing.T) {
	cfg := testConfig(t)
	cfg.Storage.Backend = config.StorageMemory
	a := buildTestApp(t, cfg)
	defer func() { _ = a.Close(context.Background()) }()

	for _, path := range []string{"/healthz", "/readyz"} {
		rec := httptest.NewRecorder()
		a.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}
}

func TestBuildFailsOnBadPostgresDSN(t *testing.T) {
	cfg := testConfig(t)
	cfg.Sinks.Postgres.Enabled = true
	cfg.Sinks.Postgres.DSN = "::not a dsn::"

	_, err := Build(context.Background(), cfg, Options{Logger: zap.NewNop(), Registerer: prometheus.NewRegistry()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "postgres sink init failed")
}

func TestCloseRejectsNewJobs(t *testing.T) {
	a := buildTestApp(t, testConfig(t))
	require.NoError(t, a.Close(context.Background()))

	_, err := a.RunJob(context.Background(), lead.Request{Regions: []string{"Ohio"}, Category: "Tax Law"}, &bytes.Buffer{})
	require.Error(t, err)
}

// slowSource reports when a fetch begins and then takes delay to answer.
type slowSource struct {
	delay   time.Duration
	started chan struct{}
	once    sync.Once
}

func (s *slowSource) Name() string { return "slow" }

func (s *slowSource) Fetch(ctx context.Context, q lead.Query) ([]lead.Candidate, error) {
	s.once.Do(func() { close(s.started) })
	select {
	case <-time.After(s.delay):
		return []lead.Candidate{{Name: "Jane Roe", Firm: "Roe & Partners LLP", Region: q.Region}}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestServeDrainsRunningJobOnShutdown(t *testing.T) {
	cfg := testConfig(t)
	cfg.Storage.Backend = config.StorageMemory
	cfg.Stream.MinInterval = 0
	cfg.Server.ShutdownTimeout = 5 * time.Second
	src := &slowSource{delay: 300 * time.Millisecond, started: make(chan struct{})}
	a, err := Build(context.Background(), cfg, Options{
		Logger:     zap.NewNop(),
		Registerer: prometheus.NewRegistry(),
		Source:     src,
	})
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	served := make(chan error, 1)
	go func() { served <- a.serve(ctx, ln) }()

	query := url.Values{"states": {`["Ohio"]`}, "practice_area": {"Tax Law"}}
	body := make(chan string, 1)
	go func() {
		resp, err := http.Get("http://" + ln.Addr().String() + "/api/search?" + query.Encode())
		if err != nil {
			body <- "request failed: " + err.Error()
			return
		}
		defer resp.Body.Close()
		data, _ := io.ReadAll(resp.Body)
		body <- string(data)
	}()

	select {
	case <-src.started:
	case <-time.After(5 * time.Second):
		t.Fatal("job never reached the source")
	}
	cancel()

	select {
	case err := <-served:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("serve did not return after shutdown")
	}
	out := <-body
	assert.Contains(t, out, "Jane Roe")
	assert.Contains(t, out, `{"status":"complete"}`)
	assert.NotContains(t, out, "Error:")
}
