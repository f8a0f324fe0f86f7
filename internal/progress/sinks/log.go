package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/topicwatch/internal/progress"
)

// LogSink emits structured logs for debugging progress streams. It is useful
// during development or audits where a durable store is unavailable.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger.Named("events")}
}

// Consume logs each event in the batch using structured fields. Errors and
// run boundaries log at info, everything else at debug.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("topic_id", evt.TopicID),
			zap.String("run_id", evt.RunID),
			zap.String("event", string(evt.Name)),
			zap.Time("ts", evt.TS),
			zap.Any("data", evt.Data),
		}
		switch evt.Name {
		case progress.EventError, progress.EventRunStarted, progress.EventRunFinished:
			s.logger.Info("progress event", fields...)
		default:
			s.logger.Debug("progress event", fields...)
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
