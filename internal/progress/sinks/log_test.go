package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/leadstream/internal/progress"
)

func TestLogSinkWritesStructuredFields(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.InfoLevel)
	sink := NewLogSink(zap.New(core))
	err := sink.Consume(context.Background(), []progress.Milestone{
		{JobID: "job-1", TS: time.Now(), Stage: progress.StageRegionDone, Region: "Texas", Count: 4},
		{JobID: "job-1", TS: time.Now(), Stage: progress.StageJobError, Note: "boom"},
	})
	require.NoError(t, err)
	require.NoError(t, sink.Close(context.Background()))

	entries := logs.All()
	require.Len(t, entries, 2)
	fields := entries[0].ContextMap()
	require.Equal(t, "job-1", fields["job_id"])
	require.Equal(t, "Texas", fields["region"])
	require.EqualValues(t, 4, fields["count"])
	require.Equal(t, "boom", entries[1].ContextMap()["note"])
}
