// Package sink fans a verified batch out to every configured writer.
package sink

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/leadstream/internal/lead"
)

// Named pairs a writer with the label used in logs and errors.
type Named struct {
	Name   string
	Writer lead.SinkWriter
}

// Fanout persists each batch to every writer in order. A failing writer does
// not stop the others; their errors are joined.
type Fanout struct {
	writers []Named
	logger  *zap.Logger
}

// NewFanout builds a Fanout, skipping nil writers.
func NewFanout(logger *zap.Logger, writers ...Named) *Fanout {
	if logger == nil {
		logger = zap.NewNop()
	}
	kept := make([]Named, 0, len(writers))
	for _, w := range writers {
		if w.Writer != nil {
			kept = append(kept, w)
		}
	}
	return &Fanout{writers: kept, logger: logger}
}

// Len reports the number of writers.
func (f *Fanout) Len() int {
	return len(f.writers)
}

// Persist implements lead.SinkWriter.
func (f *Fanout) Persist(ctx context.Context, batch []lead.Annotated) error {
	if len(batch) == 0 {
		return nil
	}
	var errs []error
	for _, w := range f.writers {
		if err := w.Writer.Persist(ctx, batch); err != nil {
			f.logger.Error("sink persist failed", zap.String("sink", w.Name), zap.Int("count", len(batch)), zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", w.Name, err))
			continue
		}
		f.logger.Info("sink persisted batch", zap.String("sink", w.Name), zap.Int("count", len(batch)))
	}
	return errors.Join(errs...)
}
