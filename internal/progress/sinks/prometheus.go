package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/leadstream/internal/progress"
)

// PrometheusSink exports job lifecycle metrics. It owns the collectors for
// jobs started/completed/running, per-region fetch outcomes, and the
// confidence distribution of streamed results.
type PrometheusSink struct {
	jobsStarted   prometheus.Counter
	jobsCompleted *prometheus.CounterVec
	jobsRunning   prometheus.Gauge
	jobRuntime    *prometheus.HistogramVec

	regionFetches  *prometheus.CounterVec
	regionLatency  prometheus.Histogram
	resultsTotal   prometheus.Counter
	confidenceHist prometheus.Histogram

	tracker *jobTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		jobsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "leadstream_jobs_started_total",
			Help: "Total jobs that have started.",
		}),
		jobsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "leadstream_jobs_completed_total",
			Help: "Total jobs completed partitioned by result.",
		}, []string{"result"}),
		jobsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "leadstream_jobs_running",
			Help: "Current number of running jobs.",
		}),
		jobRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "leadstream_job_runtime_seconds",
			Help:    "Wall time per completed job.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"result"}),
		regionFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "leadstream_region_fetches_total",
			Help: "Source lookups per region partitioned by outcome.",
		}, []string{"outcome"}),
		regionLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "leadstream_region_fetch_seconds",
			Help:    "Source lookup latency per region.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}),
		resultsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "leadstream_results_streamed_total",
			Help: "Verified records emitted to clients.",
		}),
		confidenceHist: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "leadstream_result_confidence",
			Help:    "Confidence score distribution of verified records.",
			Buckets: []float64{0.2, 0.4, 0.5, 0.6, 0.7, 0.8, 1},
		}),
		tracker: newJobTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.jobsStarted,
		s.jobsCompleted,
		s.jobsRunning,
		s.jobRuntime,
		s.regionFetches,
		s.regionLatency,
		s.resultsTotal,
		s.confidenceHist,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register milestone collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from the batch. It is safe for concurrent use.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Milestone) error {
	for _, m := range batch {
		switch m.Stage {
		case progress.StageJobStart, progress.StageJobDone, progress.StageJobError:
			s.handleJob(m)
		case progress.StageRegionDone:
			outcome := "ok"
			if m.Failed {
				outcome = "error"
			} else if m.Count == 0 {
				outcome = "empty"
			}
			s.regionFetches.WithLabelValues(outcome).Inc()
			if m.Dur > 0 {
				s.regionLatency.Observe(m.Dur.Seconds())
			}
		case progress.StageResult:
			s.resultsTotal.Inc()
			s.confidenceHist.Observe(m.Score)
		}
	}
	return nil
}

func (s *PrometheusSink) handleJob(m progress.Milestone) {
	switch m.Stage {
	case progress.StageJobStart:
		s.jobsStarted.Inc()
		if s.tracker.start(m.JobID) {
			s.jobsRunning.Inc()
		}
		return
	case progress.StageJobDone:
		s.observeCompletion(m, "success")
	case progress.StageJobError:
		s.observeCompletion(m, "error")
	}
	if s.tracker.complete(m.JobID) {
		s.jobsRunning.Dec()
	}
}

func (s *PrometheusSink) observeCompletion(m progress.Milestone, label string) {
	s.jobsCompleted.WithLabelValues(label).Inc()
	if m.Dur > 0 {
		s.jobRuntime.WithLabelValues(label).Observe(m.Dur.Seconds())
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type jobTracker struct {
	mu      sync.Mutex
	running map[string]struct{}
}

func newJobTracker() *jobTracker {
	return &jobTracker{running: make(map[string]struct{})}
}

func (t *jobTracker) start(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *jobTracker) complete(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
