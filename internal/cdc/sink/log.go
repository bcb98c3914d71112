package sink

import (
	"context"
	"log/slog"

	"github.com/janovincze/mnemosyne/internal/cdc"
)

// LogSink writes events to the structured log. Intended for dry runs.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a sink that logs every event.
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger.With("component", "log-sink")}
}

// WriteSchemaChange logs one structural-change event.
func (s *LogSink) WriteSchemaChange(_ context.Context, event *cdc.SchemaChangeEvent) error {
	s.logger.Info("schema change",
		"table", event.Table.ID.String(),
		"marker", event.Offset.Marker,
		"type", event.Type,
		"from_snapshot", event.FromSnapshot,
		"columns", len(event.Table.Columns),
	)
	return nil
}

// WriteEvents logs a batch of row events.
func (s *LogSink) WriteEvents(_ context.Context, events []cdc.Event) error {
	if len(events) == 0 {
		return nil
	}
	s.logger.Info("row events",
		"count", len(events),
		"table", events[0].FullyQualifiedTable(),
		"marker", events[0].Marker,
	)
	return nil
}

// Close is a no-op.
func (s *LogSink) Close() error {
	return nil
}

// Ensure LogSink implements Sink interface.
var _ Sink = (*LogSink)(nil)
