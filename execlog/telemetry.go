package execlog

import (
	"context"

	"github.com/nervemind/nervemind/telemetry"
)

// TelemetrySink bridges bus entries onto a telemetry.Logger so domain events
// and operational logs share one pipeline. Full payloads are intentionally
// not forwarded; only the bounded preview travels to the operational log.
type TelemetrySink struct {
	logger telemetry.Logger
}

// NewTelemetrySink constructs a sink writing to the given logger.
func NewTelemetrySink(logger telemetry.Logger) *TelemetrySink {
	return &TelemetrySink{logger: logger}
}

// HandleEntry forwards the entry at its severity level.
func (s *TelemetrySink) HandleEntry(ctx context.Context, entry Entry) error {
	keyvals := []any{
		"category", string(entry.Category),
		"execution_id", entry.ExecutionID,
	}
	if entry.NodeID != "" {
		keyvals = append(keyvals, "node_id", entry.NodeID)
	}
	if entry.Context != nil {
		if preview, ok := entry.Context[KeyPreview]; ok {
			keyvals = append(keyvals, "preview", preview)
		}
		for k, v := range entry.Context {
			if k == KeyPreview || k == KeyFull {
				continue
			}
			keyvals = append(keyvals, k, v)
		}
	}
	switch entry.Level {
	case LevelDebug:
		s.logger.Debug(ctx, entry.Message, keyvals...)
	case LevelWarn:
		s.logger.Warn(ctx, entry.Message, keyvals...)
	case LevelError:
		s.logger.Error(ctx, entry.Message, keyvals...)
	default:
		s.logger.Info(ctx, entry.Message, keyvals...)
	}
	return nil
}
