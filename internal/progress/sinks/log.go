package sinks

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/JakeFAU/session-harvester/internal/progress"
)

// LogSink writes every event as a structured log line. Record-level stages
// log at debug so long runs stay readable.
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

// Consume logs each event in the batch.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("run_id", evt.RunUUID().String()),
			zap.String("stage", string(evt.Stage)),
			zap.String("identity", evt.Identity),
		}
		if evt.RecordID != "" {
			fields = append(fields, zap.String("record_id", evt.RecordID))
		}
		if evt.Condition != "" {
			fields = append(fields, zap.String("condition", evt.Condition))
		}
		if evt.Outcome != "" {
			fields = append(fields, zap.String("outcome", string(evt.Outcome)), zap.Int("count", evt.Count))
		}
		if evt.Dur > 0 {
			fields = append(fields, zap.Duration("dur", evt.Dur))
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		s.logger.Log(levelFor(evt.Stage), "progress event", fields...)
	}
	return nil
}

func levelFor(stage progress.Stage) zapcore.Level {
	switch stage {
	case progress.StageRecordNew, progress.StageRecordSkipped, progress.StageDelivery:
		return zapcore.DebugLevel
	case progress.StagePaused, progress.StageSoftError:
		return zapcore.WarnLevel
	default:
		return zapcore.InfoLevel
	}
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
