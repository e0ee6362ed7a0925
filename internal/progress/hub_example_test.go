package progress

import (
	"context"
	"fmt"
	"time"
)

type exampleCountingSink struct {
	results int
}

func (s *exampleCountingSink) Consume(_ context.Context, batch []Milestone) error {
	for _, m := range batch {
		if m.Stage == StageResult {
			s.results++
		}
	}
	return nil
}

func (s *exampleCountingSink) Close(context.Context) error {
	return nil
}

// ExampleHub_Emit demonstrates emitting milestones and flushing via Close.
func ExampleHub_Emit() {
	sink := &exampleCountingSink{}
	hub := NewHub(Config{BufferSize: 4, MaxBatch: 1, MaxBatchWait: time.Second}, sink)

	ts := time.Unix(0, 0)
	hub.Emit(Milestone{JobID: "job-1", TS: ts, Stage: StageJobStart})
	hub.Emit(Milestone{JobID: "job-1", TS: ts, Stage: StageResult, Score: 0.7})
	if err := hub.Close(context.Background()); err != nil {
		panic(err)
	}

	fmt.Printf("results observed: %d\n", sink.results)
	// Output:
	// results observed: 1
}
