package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/pypi-harvester/internal/progress"
)

// LogSink emits structured logs for progress streams. Job completions are
// logged at debug level; run and bucket milestones at info.
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

// Consume logs each event in the batch using structured fields.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("run_id", evt.RunUUID().String()),
			zap.String("stage", string(evt.Stage)),
			zap.String("kind", evt.Kind),
		}
		if evt.Bucket != "" {
			fields = append(fields, zap.String("bucket", evt.Bucket))
		}
		if evt.Job != "" {
			fields = append(fields, zap.String("job", evt.Job), zap.String("state", evt.State), zap.Int("attempts", evt.Attempts))
		}
		if evt.Jobs > 0 {
			fields = append(fields, zap.Int64("jobs", evt.Jobs))
		}
		if evt.Bytes > 0 {
			fields = append(fields, zap.Int64("bytes", evt.Bytes))
		}
		if evt.Dur > 0 {
			fields = append(fields, zap.Duration("dur", evt.Dur))
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		switch evt.Stage {
		case progress.StageJobDone:
			s.logger.Debug("progress event", fields...)
		case progress.StageRunError:
			s.logger.Error("progress event", fields...)
		default:
			s.logger.Info("progress event", fields...)
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
