package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/catalog-crawler/internal/progress"
)

// LogSink emits one structured log line per event.
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

// Consume logs each event in the batch. Window and flush events log at debug.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("run_id", evt.RunUUID().String()),
			zap.String("stage", string(evt.Stage)),
			zap.String("site", evt.Site),
		}
		switch evt.Stage {
		case progress.StageFetchDone:
			fields = append(fields,
				zap.String("target", evt.Target),
				zap.Int64("results", evt.Records),
				zap.Int64("failed", evt.Failed))
			s.logger.Debug("progress event", fields...)
		case progress.StageFlush:
			fields = append(fields, zap.String("target", evt.Target), zap.Int64("records", evt.Records))
			s.logger.Debug("progress event", fields...)
		case progress.StageRunError:
			fields = append(fields, zap.Duration("dur", evt.Dur), zap.String("note", evt.Note))
			s.logger.Warn("progress event", fields...)
		default:
			fields = append(fields, zap.Duration("dur", evt.Dur), zap.Int64("records", evt.Records))
			s.logger.Info("progress event", fields...)
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
