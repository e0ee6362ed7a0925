package progress

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestHubFlushesWhenBatchIsFull(t *testing.T) {
	t.Parallel()

	sink := newRecordingSink()
	hub := NewHub(Config{BufferSize: 8, MaxBatch: 2, MaxBatchWait: time.Minute}, sink)
	defer func() {
		require.NoError(t, hub.Close(context.Background()))
	}()

	hub.Emit(sampleMilestone(StageJobStart))
	hub.Emit(sampleMilestone(StageJobDone))
	require.Eventually(t, func() bool {
		batches := sink.Batches()
		return len(batches) == 1 && len(batches[0]) == 2
	}, time.Second, 10*time.Millisecond)
}

func TestHubFlushesOnTimer(t *testing.T) {
	t.Parallel()

	sink := newRecordingSink()
	hub := NewHub(Config{BufferSize: 4, MaxBatch: 10, MaxBatchWait: 25 * time.Millisecond}, sink)
	defer func() {
		require.NoError(t, hub.Close(context.Background()))
	}()

	hub.Emit(sampleMilestone(StageJobStart))
	require.Eventually(t, func() bool {
		return len(sink.Batches()) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestHubEmitDoesNotBlockWhenFull(t *testing.T) {
	t.Parallel()

	hub := &Hub{in: make(chan Milestone), log: zap.NewNop()}
	start := time.Now()
	hub.Emit(sampleMilestone(StageJobStart))
	require.Less(t, time.Since(start), 50*time.Millisecond)
	require.EqualValues(t, 1, hub.Dropped())
}

func TestHubDroppedCountsEveryLoss(t *testing.T) {
	t.Parallel()

	hub := &Hub{in: make(chan Milestone), log: zap.NewNop()}
	for range 3 {
		hub.Emit(sampleMilestone(StageResult))
	}
	require.EqualValues(t, 3, hub.Dropped())
}

func TestHubDiscardsInvalidMilestones(t *testing.T) {
	t.Parallel()

	sink := newRecordingSink()
	hub := NewHub(Config{MaxBatch: 1}, sink)
	hub.Emit(Milestone{Stage: StageJobStart})
	hub.Emit(Milestone{JobID: "job-1", TS: time.Now(), Stage: StageRegionDone})
	require.NoError(t, hub.Close(context.Background()))
	require.Empty(t, sink.Batches())
}

func TestHubFlushOnClose(t *testing.T) {
	t.Parallel()

	sink := newRecordingSink()
	hub := NewHub(Config{BufferSize: 4, MaxBatch: 100, MaxBatchWait: time.Minute}, sink)
	hub.Emit(sampleMilestone(StageJobStart))

	require.NoError(t, hub.Close(context.Background()))
	require.Len(t, sink.Batches(), 1)
	require.Len(t, sink.Batches()[0], 1)
	require.True(t, sink.Closed())

	// Emit after close is ignored.
	hub.Emit(sampleMilestone(StageJobDone))
	require.Len(t, sink.Batches(), 1)
}

func TestNilHubIsSafe(t *testing.T) {
	t.Parallel()

	var hub *Hub
	hub.Emit(sampleMilestone(StageJobStart))
	require.NoError(t, hub.Close(context.Background()))
}

type recordingSink struct {
	mu      sync.Mutex
	batches [][]Milestone
	closed  bool
}

func newRecordingSink() *recordingSink {
	return &recordingSink{}
}

func (s *recordingSink) Consume(_ context.Context, batch []Milestone) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches = append(s.batches, append([]Milestone(nil), batch...))
	return nil
}

func (s *recordingSink) Close(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *recordingSink) Batches() [][]Milestone {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]Milestone, len(s.batches))
	copy(out, s.batches)
	return out
}

func (s *recordingSink) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func sampleMilestone(stage Stage) Milestone {
	return Milestone{JobID: "job-1", TS: time.Now(), Stage: stage, Region: "California"}
}
