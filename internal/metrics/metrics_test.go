package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestSanitizeSite(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"standard http", "http://example.com/path", "example.com"},
		{"standard https", "https://Example.com/path", "example.com"},
		{"no scheme", "example.com/path", "example.com"},
		{"host with port", "example.com:8080", "example.com"},
		{"invalid url", "http://%", "unknown"},
		{"empty string", "", "unknown"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, SanitizeSite(tc.input))
		})
	}
}

func TestCollectorsRecord(t *testing.T) {
	Init()
	Init()

	before := testutil.ToFloat64(jobsTotal.WithLabelValues("succeeded"))
	ObserveJob("succeeded")
	assert.Equal(t, before+1, testutil.ToFloat64(jobsTotal.WithLabelValues("succeeded")))

	gauge := testutil.ToFloat64(activeJobs)
	IncActiveJobs()
	assert.Equal(t, gauge+1, testutil.ToFloat64(activeJobs))
	DecActiveJobs()
	assert.Equal(t, gauge, testutil.ToFloat64(activeJobs))

	streams := testutil.ToFloat64(streamsTotal.WithLabelValues("timeout"))
	ObserveStream("timeout")
	assert.Equal(t, streams+1, testutil.ToFloat64(streamsTotal.WithLabelValues("timeout")))

	checks := testutil.ToFloat64(websiteChecksTotal.WithLabelValues("dead"))
	ObserveWebsiteCheck("dead")
	assert.Equal(t, checks+1, testutil.ToFloat64(websiteChecksTotal.WithLabelValues("dead")))

	ObserveRateLimitDelay("example.com", 150*time.Millisecond)
	assert.Equal(t, 1, testutil.CollectAndCount(rateLimitDelaysSeconds, "leadstream_rate_limit_delays_seconds"))
}
