package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/leadstream/internal/progress"
)

// LogSink writes each milestone as a structured log line. It is useful during
// development or audits where no metrics backend is scraped.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each milestone in the batch.
func (s *LogSink) Consume(_ context.Context, batch []progress.Milestone) error {
	for _, m := range batch {
		fields := []zap.Field{
			zap.String("job_id", m.JobID),
			zap.String("stage", string(m.Stage)),
			zap.Time("ts", m.TS),
		}
		if m.Region != "" {
			fields = append(fields, zap.String("region", m.Region))
		}
		switch m.Stage {
		case progress.StageRegionDone:
			fields = append(fields, zap.Int("count", m.Count), zap.Bool("failed", m.Failed), zap.Duration("dur", m.Dur))
		case progress.StageResult:
			fields = append(fields, zap.Float64("score", m.Score))
		case progress.StageJobDone, progress.StageJobError:
			fields = append(fields, zap.Int("count", m.Count), zap.Duration("dur", m.Dur))
		}
		if m.Note != "" {
			fields = append(fields, zap.String("note", m.Note))
		}
		s.logger.Info("job milestone", fields...)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
