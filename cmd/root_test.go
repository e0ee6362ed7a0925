package cmd

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/leadstream/internal/config"
	"github.com/JakeFAU/leadstream/internal/lead"
	"github.com/JakeFAU/leadstream/internal/progress"
)

type fakeApp struct {
	served  bool
	closed  bool
	req     lead.Request
	outcome progress.Outcome
	runErr  error
}

func (f *fakeApp) Serve(context.Context) error {
	f.served = true
	return nil
}

func (f *fakeApp) RunJob(_ context.Context, req lead.Request, w io.Writer) (progress.Outcome, error) {
	f.req = req
	_, _ = fmt.Fprint(w, "data: {\"status\":\"complete\"}\n\n")
	return f.outcome, f.runErr
}

func (f *fakeApp) Close(context.Context) error {
	f.closed = true
	return nil
}

func withFakes(t *testing.T, fake *fakeApp, buildErr error) {
	t.Helper()
	origApp, origLoad := newApp, loadConfig
	t.Cleanup(func() {
		newApp, loadConfig = origApp, origLoad
		cfgFile = ""
	})
	loadConfig = func(string) (config.Config, error) {
		cfg := config.Config{}
		cfg.Job.Regions = []string{"California"}
		cfg.Job.Category = "Personal Injury"
		return cfg, nil
	}
	newApp = func(context.Context, config.Config) (App, error) {
		if buildErr != nil {
			return nil, buildErr
		}
		return fake, nil
	}
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestRunUsesConfiguredDefaults(t *testing.T) {
	fake := &fakeApp{outcome: progress.OutcomeComplete}
	withFakes(t, fake, nil)

	out, err := execute(t, "run")
	require.NoError(t, err)
	assert.Equal(t, []string{"California"}, fake.req.Regions)
	assert.Equal(t, "Personal Injury", fake.req.Category)
	assert.Contains(t, out, "data: ")
	assert.True(t, fake.closed)
}

func TestRunFlagsOverrideDefaults(t *testing.T) {
	fake := &fakeApp{outcome: progress.OutcomeComplete}
	withFakes(t, fake, nil)

	_, err := execute(t, "run", "--regions", "Texas,Ohio", "--category", "Tax Law")
	require.NoError(t, err)
	assert.Equal(t, []string{"Texas", "Ohio"}, fake.req.Regions)
	assert.Equal(t, "Tax Law", fake.req.Category)
}

func TestRunReportsIncompleteOutcome(t *testing.T) {
	fake := &fakeApp{outcome: progress.OutcomeTimeout}
	withFakes(t, fake, nil)

	_, err := execute(t, "run")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timeout")
	assert.True(t, fake.closed)
}

func TestRunPropagatesJobError(t *testing.T) {
	fake := &fakeApp{runErr: errors.New("launch job: bad request")}
	withFakes(t, fake, nil)

	_, err := execute(t, "run")
	require.EqualError(t, err, "launch job: bad request")
}

func TestServeRunsApp(t *testing.T) {
	fake := &fakeApp{}
	withFakes(t, fake, nil)

	_, err := execute(t, "serve")
	require.NoError(t, err)
	assert.True(t, fake.served)
}

func TestBuildFailureStopsCommand(t *testing.T) {
	fake := &fakeApp{}
	withFakes(t, fake, errors.New("gcs down"))

	_, err := execute(t, "serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gcs down")
	assert.False(t, fake.served)
}
