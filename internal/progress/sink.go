package progress

import "context"

// Sink consumes batches of milestones. Implementations must be safe for
// repeated calls and honor ctx deadlines.
type Sink interface {
	Consume(ctx context.Context, batch []Milestone) error
	Close(ctx context.Context) error
}

// Emitter publishes individual milestones; Hub satisfies this interface so the
// orchestrator stays agnostic about how they are buffered or exported.
type Emitter interface {
	Emit(m Milestone)
}

// NopEmitter discards every milestone.
type NopEmitter struct{}

// Emit implements Emitter.
func (NopEmitter) Emit(Milestone) {}
